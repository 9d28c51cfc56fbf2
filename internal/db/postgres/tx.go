package postgres

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"

	"serotonyl.ru/cashier/internal/common"
	"serotonyl.ru/cashier/internal/features/actors"
	"serotonyl.ru/cashier/internal/features/ledger"
	"serotonyl.ru/cashier/internal/features/orders"
	"serotonyl.ru/cashier/internal/features/rules"
)

// Tx: store.Tx поверх pgx.Tx. Блокировки строк держатся до коммита/отката.
type Tx struct {
	tx pgx.Tx
}

// --- Счета ---

const accountColumns = `
	id, cash_balance::text, bonus_balance::text, play_credits::text,
	deposit_count, total_deposited::text, total_withdrawn::text,
	deposit_locked, withdraw_locked, manual_approval_only, no_bonus, is_suspicious,
	created_at, updated_at`

func getAccount(ctx context.Context, q querier, accountID string, forUpdate bool) (*ledger.Account, error) {
	query := "SELECT " + accountColumns + " FROM accounts WHERE id = $1"
	if forUpdate {
		query += " FOR UPDATE"
	}

	var (
		a                    ledger.Account
		cash, bonus, credits string
		deposited, withdrawn string
	)
	err := q.QueryRow(ctx, query, accountID).Scan(
		&a.ID, &cash, &bonus, &credits,
		&a.DepositCount, &deposited, &withdrawn,
		&a.Flags.DepositLocked, &a.Flags.WithdrawLocked, &a.Flags.ManualApprovalOnly,
		&a.Flags.NoBonus, &a.Flags.IsSuspicious,
		&a.CreatedAt, &a.UpdatedAt,
	)
	if err != nil {
		return nil, mapErr(err, "счёт "+accountID)
	}
	err = nums{
		{cash, &a.Cash}, {bonus, &a.Bonus}, {credits, &a.Credits},
		{deposited, &a.TotalDeposited}, {withdrawn, &a.TotalWithdrawn},
	}.parse()
	if err != nil {
		return nil, err
	}
	return &a, nil
}

// LockAccount блокирует строку счёта (SELECT ... FOR UPDATE).
func (t *Tx) LockAccount(ctx context.Context, accountID string) (*ledger.Account, error) {
	return getAccount(ctx, t.tx, accountID, true)
}

// SaveAccount перезаписывает корзины, счётчики и флаги счёта.
func (t *Tx) SaveAccount(ctx context.Context, a *ledger.Account) error {
	query := `
		UPDATE accounts SET
			cash_balance = $2::numeric, bonus_balance = $3::numeric, play_credits = $4::numeric,
			deposit_count = $5, total_deposited = $6::numeric, total_withdrawn = $7::numeric,
			deposit_locked = $8, withdraw_locked = $9, manual_approval_only = $10,
			no_bonus = $11, is_suspicious = $12,
			updated_at = NOW()
		WHERE id = $1
	`
	tag, err := t.tx.Exec(ctx, query, a.ID,
		numArg(a.Cash), numArg(a.Bonus), numArg(a.Credits),
		a.DepositCount, numArg(a.TotalDeposited), numArg(a.TotalWithdrawn),
		a.Flags.DepositLocked, a.Flags.WithdrawLocked, a.Flags.ManualApprovalOnly,
		a.Flags.NoBonus, a.Flags.IsSuspicious,
	)
	if err != nil {
		return mapErr(err, "счёт "+a.ID)
	}
	if tag.RowsAffected() == 0 {
		return mapErr(pgx.ErrNoRows, "счёт "+a.ID)
	}
	return nil
}

// AppendEntry добавляет проводку. Проводки не меняются и не удаляются.
func (t *Tx) AppendEntry(ctx context.Context, e *ledger.Entry) error {
	query := `
		INSERT INTO ledger_entries (id, account_id, delta_cash, delta_bonus, delta_credits, order_id, reason, created_at)
		VALUES ($1, $2, $3::numeric, $4::numeric, $5::numeric, $6, $7, $8)
	`
	_, err := t.tx.Exec(ctx, query, e.ID, e.AccountID,
		numArg(e.DeltaCash), numArg(e.DeltaBonus), numArg(e.DeltaCredits),
		e.OrderID, e.Reason, e.CreatedAt,
	)
	return mapErr(err, "проводка "+e.ID)
}

// --- Правила ---

func loadLayers(ctx context.Context, q querier, userID, gameID string) (rules.Layers, error) {
	var ok bool
	if err := q.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM accounts WHERE id = $1)`, userID).Scan(&ok); err != nil {
		return rules.Layers{}, mapErr(err, "клиент "+userID)
	}
	if !ok {
		return rules.Layers{}, mapErr(pgx.ErrNoRows, "клиент "+userID)
	}
	if gameID != "" {
		if err := q.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM games WHERE id = $1)`, gameID).Scan(&ok); err != nil {
			return rules.Layers{}, mapErr(err, "игра "+gameID)
		}
		if !ok {
			return rules.Layers{}, mapErr(pgx.ErrNoRows, "игра "+gameID)
		}
	}

	names := rules.FieldNames()
	cols := make([]string, len(names))
	for i, n := range names {
		cols[i] = n + "::text"
	}
	query := fmt.Sprintf(`
		SELECT scope, %s FROM rules
		WHERE (scope = 'global' AND scope_id = 'global')
		   OR (scope = 'game' AND scope_id = $2)
		   OR (scope = 'client' AND scope_id = $1)
	`, strings.Join(cols, ", "))

	rows, err := q.Query(ctx, query, userID, gameID)
	if err != nil {
		return rules.Layers{}, mapErr(err, "правила")
	}
	defer rows.Close()

	var l rules.Layers
	for rows.Next() {
		var scope string
		raw := make([]*string, len(names))
		dst := make([]any, 0, len(names)+1)
		dst = append(dst, &scope)
		for i := range raw {
			dst = append(dst, &raw[i])
		}
		if err := rows.Scan(dst...); err != nil {
			return rules.Layers{}, mapErr(err, "правила")
		}

		f := &rules.Fields{}
		for i, name := range names {
			v, err := parseNullNum(raw[i])
			if err != nil {
				return rules.Layers{}, err
			}
			f.Set(name, v)
		}
		switch rules.Scope(scope) {
		case rules.ScopeGlobal:
			l.Global = f
		case rules.ScopeGame:
			l.Game = f
		case rules.ScopeClient:
			l.Client = f
		}
	}
	return l, mapErr(rows.Err(), "правила")
}

func (t *Tx) LoadLayers(ctx context.Context, userID, gameID string) (rules.Layers, error) {
	return loadLayers(ctx, t.tx, userID, gameID)
}

// --- Заказы ---

const orderColumns = `
	id, user_id, kind, game_id, amount::text,
	bonus_amount::text, play_credits_added::text, payout_amount::text, void_amount::text, void_reason,
	cash_consumed::text, play_credits_consumed::text, bonus_consumed::text,
	status, origin, payment_proof_url, payment_method, proof_hash, rejection_reason, decided_by,
	created_at, updated_at, decided_at`

func scanOrder(row pgx.Row) (*orders.Order, error) {
	var (
		o                                orders.Order
		kind, status, origin             string
		amount, bonus, added             string
		payout, void                     string
		cashUsed, creditsUsed, bonusUsed string
	)
	err := row.Scan(
		&o.ID, &o.UserID, &kind, &o.GameID, &amount,
		&bonus, &added, &payout, &void, &o.VoidReason,
		&cashUsed, &creditsUsed, &bonusUsed,
		&status, &origin, &o.PaymentProofURL, &o.PaymentMethod, &o.ProofHash, &o.RejectionReason, &o.DecidedBy,
		&o.CreatedAt, &o.UpdatedAt, &o.DecidedAt,
	)
	if err != nil {
		return nil, err
	}
	o.Kind, o.Status, o.Origin = orders.Kind(kind), orders.Status(status), orders.Channel(origin)

	err = nums{
		{amount, &o.Amount}, {bonus, &o.BonusAmount}, {added, &o.PlayCreditsAdded},
		{payout, &o.PayoutAmount}, {void, &o.VoidAmount},
		{cashUsed, &o.CashConsumed}, {creditsUsed, &o.PlayCreditsConsumed}, {bonusUsed, &o.BonusConsumed},
	}.parse()
	if err != nil {
		return nil, err
	}
	return &o, nil
}

func getOrder(ctx context.Context, q querier, orderID string, forUpdate bool) (*orders.Order, error) {
	query := "SELECT " + orderColumns + " FROM orders WHERE id = $1"
	if forUpdate {
		query += " FOR UPDATE"
	}
	o, err := scanOrder(q.QueryRow(ctx, query, orderID))
	if err != nil {
		return nil, mapErr(err, "заказ "+orderID)
	}
	return o, nil
}

// LockOrder блокирует строку заказа. Конкурирующее решение ждёт здесь
// не дольше lock_timeout.
func (t *Tx) LockOrder(ctx context.Context, orderID string) (*orders.Order, error) {
	return getOrder(ctx, t.tx, orderID, true)
}

func (t *Tx) InsertOrder(ctx context.Context, o *orders.Order) error {
	query := `
		INSERT INTO orders (
			id, user_id, kind, game_id, amount, status, origin,
			payment_proof_url, payment_method, proof_hash, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5::numeric, $6, $7, $8, $9, $10, $11, $12)
	`
	_, err := t.tx.Exec(ctx, query,
		o.ID, o.UserID, string(o.Kind), o.GameID, numArg(o.Amount), string(o.Status), string(o.Origin),
		o.PaymentProofURL, o.PaymentMethod, o.ProofHash, o.CreatedAt, o.UpdatedAt,
	)
	return mapErr(err, "заказ "+o.ID)
}

// SaveOrder сохраняет изменяемые поля заказа.
func (t *Tx) SaveOrder(ctx context.Context, o *orders.Order) error {
	query := `
		UPDATE orders SET
			amount = $2::numeric, bonus_amount = $3::numeric, play_credits_added = $4::numeric,
			payout_amount = $5::numeric, void_amount = $6::numeric, void_reason = $7,
			cash_consumed = $8::numeric, play_credits_consumed = $9::numeric, bonus_consumed = $10::numeric,
			status = $11, payment_proof_url = $12, proof_hash = $13,
			rejection_reason = $14, decided_by = $15, updated_at = $16, decided_at = $17
		WHERE id = $1
	`
	tag, err := t.tx.Exec(ctx, query, o.ID,
		numArg(o.Amount), numArg(o.BonusAmount), numArg(o.PlayCreditsAdded),
		numArg(o.PayoutAmount), numArg(o.VoidAmount), o.VoidReason,
		numArg(o.CashConsumed), numArg(o.PlayCreditsConsumed), numArg(o.BonusConsumed),
		string(o.Status), o.PaymentProofURL, o.ProofHash,
		o.RejectionReason, o.DecidedBy, o.UpdatedAt, o.DecidedAt,
	)
	if err != nil {
		return mapErr(err, "заказ "+o.ID)
	}
	if tag.RowsAffected() == 0 {
		return mapErr(pgx.ErrNoRows, "заказ "+o.ID)
	}
	return nil
}

func (t *Tx) PendingWalletLoads(ctx context.Context, userID string) (int, error) {
	query := `
		SELECT COUNT(*) FROM orders
		WHERE user_id = $1 AND kind = 'wallet_load'
		  AND status NOT IN ('approved', 'rejected', 'cancelled')
	`
	var n int
	err := t.tx.QueryRow(ctx, query, userID).Scan(&n)
	return n, mapErr(err, "заказы")
}

func (t *Tx) ProofHashUsed(ctx context.Context, hash string) (bool, error) {
	if hash == "" {
		return false, nil
	}
	query := `SELECT EXISTS(SELECT 1 FROM orders WHERE proof_hash = $1 AND status <> 'rejected')`
	var used bool
	err := t.tx.QueryRow(ctx, query, hash).Scan(&used)
	return used, mapErr(err, "заказы")
}

// --- Решения ---

func (t *Tx) RecordAction(ctx context.Context, a *orders.ApprovalAction) error {
	query := `
		INSERT INTO approval_actions (
			order_id, action, actor_id, channel, operator, reason, final_amount,
			token, idempotency_key, processed_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7::numeric, $8, $9, $10)
	`
	_, err := t.tx.Exec(ctx, query,
		a.OrderID, string(a.Action), a.ActorID, string(a.Channel), a.Operator, a.Reason,
		nullNumArg(a.FinalAmount), a.Token, a.IdempotencyKey, a.ProcessedAt,
	)
	return mapErr(err, "решение "+a.IdempotencyKey)
}

func listActions(ctx context.Context, q querier, orderID string, limit int) ([]orders.ApprovalAction, error) {
	query := `
		SELECT order_id, action, actor_id, channel, operator, reason, final_amount::text,
		       token, idempotency_key, processed_at
		FROM approval_actions
		WHERE order_id = $1
	`
	args := []any{orderID}
	if limit > 0 {
		query += " ORDER BY token DESC LIMIT $2"
		args = append(args, limit)
	} else {
		query += " ORDER BY token"
	}

	rows, err := q.Query(ctx, query, args...)
	if err != nil {
		return nil, mapErr(err, "решения")
	}
	defer rows.Close()

	var out []orders.ApprovalAction
	for rows.Next() {
		var (
			a               orders.ApprovalAction
			action, channel string
			final           *string
		)
		if err := rows.Scan(&a.OrderID, &action, &a.ActorID, &channel, &a.Operator, &a.Reason,
			&final, &a.Token, &a.IdempotencyKey, &a.ProcessedAt); err != nil {
			return nil, mapErr(err, "решения")
		}
		a.Action, a.Channel = orders.Action(action), orders.Channel(channel)
		if a.FinalAmount, err = parseNullNum(final); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, mapErr(rows.Err(), "решения")
}

func (t *Tx) LastAction(ctx context.Context, orderID string) (*orders.ApprovalAction, error) {
	list, err := listActions(ctx, t.tx, orderID, 1)
	if err != nil {
		return nil, err
	}
	if len(list) == 0 {
		return nil, fmt.Errorf("%w: решений по заказу %s нет", common.ErrNotFound, orderID)
	}
	return &list[0], nil
}

// NextToken берёт следующее значение последовательности токенов.
func (t *Tx) NextToken(ctx context.Context) (int64, error) {
	var token int64
	err := t.tx.QueryRow(ctx, `SELECT nextval('approval_token_seq')`).Scan(&token)
	return token, mapErr(err, "approval_token_seq")
}

// --- Акторы ---

const actorColumns = `
	id, name, kind, is_active, can_approve_orders, can_approve_wallet_loads,
	can_approve_withdrawals, amount_ceiling::text, created_at, updated_at`

func scanActor(row pgx.Row) (*actors.Actor, error) {
	var (
		a       actors.Actor
		kind    string
		ceiling *string
	)
	err := row.Scan(&a.ID, &a.Name, &kind, &a.IsActive, &a.CanApproveOrders,
		&a.CanApproveWalletLoads, &a.CanApproveWithdrawals, &ceiling, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return nil, err
	}
	a.Kind = actors.Kind(kind)
	if a.AmountCeiling, err = parseNullNum(ceiling); err != nil {
		return nil, err
	}
	return &a, nil
}

func getActor(ctx context.Context, q querier, actorID string) (*actors.Actor, error) {
	a, err := scanActor(q.QueryRow(ctx, "SELECT "+actorColumns+" FROM actors WHERE id = $1", actorID))
	if err != nil {
		return nil, mapErr(err, "актор "+actorID)
	}
	return a, nil
}

func (t *Tx) Actor(ctx context.Context, actorID string) (*actors.Actor, error) {
	return getActor(ctx, t.tx, actorID)
}
