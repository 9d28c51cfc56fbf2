// store.go: хранилище кассы на PostgreSQL.
// Блокировки: SELECT ... FOR UPDATE, таймаут: SET LOCAL lock_timeout.
package postgres

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	log "github.com/sirupsen/logrus"

	"serotonyl.ru/cashier/internal/common"
	"serotonyl.ru/cashier/internal/features/actors"
	"serotonyl.ru/cashier/internal/features/ledger"
	"serotonyl.ru/cashier/internal/features/orders"
	"serotonyl.ru/cashier/internal/features/rules"
	"serotonyl.ru/cashier/internal/store"
)

// Store работает с таблицами accounts, ledger_entries, orders,
// approval_actions, rules, games и actors.
type Store struct {
	db          *pgxpool.Pool
	lockTimeout time.Duration
}

// NewStore создаёт хранилище поверх пула.
func NewStore(db *pgxpool.Pool, lockTimeout time.Duration) *Store {
	if lockTimeout <= 0 {
		lockTimeout = 5 * time.Second
	}
	return &Store{db: db, lockTimeout: lockTimeout}
}

var _ store.Store = (*Store)(nil)

// InTx выполняет fn в транзакции READ COMMITTED. Ошибка fn, откат.
// Коммит не прерывается отменой контекста вызывающего.
func (s *Store) InTx(ctx context.Context, fn func(tx store.Tx) error) error {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return mapErr(err, "транзакция")
	}
	defer tx.Rollback(context.WithoutCancel(ctx))

	// SET не принимает параметры, значение собираем сами
	ms := s.lockTimeout.Milliseconds()
	if _, err := tx.Exec(ctx, fmt.Sprintf("SET LOCAL lock_timeout = '%dms'", ms)); err != nil {
		return mapErr(err, "lock_timeout")
	}

	if err := fn(&Tx{tx: tx}); err != nil {
		return err
	}
	if err := tx.Commit(context.WithoutCancel(ctx)); err != nil {
		log.WithError(err).Error("Не удалось зафиксировать транзакцию")
		return mapErr(err, "коммит")
	}
	return nil
}

// Ping проверяет доступность БД.
func (s *Store) Ping(ctx context.Context) error {
	return mapErr(s.db.Ping(ctx), "ping")
}

// --- Счета и журнал ---

func (s *Store) Account(ctx context.Context, accountID string) (*ledger.Account, error) {
	return getAccount(ctx, s.db, accountID, false)
}

func (s *Store) Entries(ctx context.Context, accountID string) ([]ledger.Entry, error) {
	return listEntries(ctx, s.db, accountID)
}

// Statement читает счёт и проводки в одной REPEATABLE READ транзакции,
// чтобы оба чтения видели один снимок.
func (s *Store) Statement(ctx context.Context, accountID string) (*ledger.Account, []ledger.Entry, error) {
	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.RepeatableRead, AccessMode: pgx.ReadOnly})
	if err != nil {
		return nil, nil, mapErr(err, "транзакция")
	}
	defer tx.Rollback(context.WithoutCancel(ctx))

	acct, err := getAccount(ctx, tx, accountID, false)
	if err != nil {
		return nil, nil, err
	}
	entries, err := listEntries(ctx, tx, accountID)
	if err != nil {
		return nil, nil, err
	}
	return acct, entries, nil
}

func listEntries(ctx context.Context, q querier, accountID string) ([]ledger.Entry, error) {
	query := `
		SELECT id, account_id, delta_cash::text, delta_bonus::text, delta_credits::text,
		       order_id, reason, created_at
		FROM ledger_entries
		WHERE account_id = $1
		ORDER BY seq
	`
	rows, err := q.Query(ctx, query, accountID)
	if err != nil {
		return nil, mapErr(err, "проводки")
	}
	defer rows.Close()

	var out []ledger.Entry
	for rows.Next() {
		var (
			e                   ledger.Entry
			cash, bonus, credit string
		)
		if err := rows.Scan(&e.ID, &e.AccountID, &cash, &bonus, &credit, &e.OrderID, &e.Reason, &e.CreatedAt); err != nil {
			return nil, mapErr(err, "проводки")
		}
		if err := (nums{{cash, &e.DeltaCash}, {bonus, &e.DeltaBonus}, {credit, &e.DeltaCredits}}).parse(); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, mapErr(rows.Err(), "проводки")
}

func (s *Store) AccountIDs(ctx context.Context) ([]string, error) {
	rows, err := s.db.Query(ctx, `SELECT id FROM accounts ORDER BY id`)
	if err != nil {
		return nil, mapErr(err, "счета")
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[string])
	return ids, mapErr(err, "счета")
}

// CreateAccount создаёт счёт с нулевым балансом.
func (s *Store) CreateAccount(ctx context.Context, a *ledger.Account) error {
	if !a.Total().IsZero() {
		return fmt.Errorf("%w: счёт создаётся с нулевым балансом", common.ErrInvalidRequest)
	}
	query := `
		INSERT INTO accounts (id, deposit_locked, withdraw_locked, manual_approval_only, no_bonus, is_suspicious)
		VALUES ($1, $2, $3, $4, $5, $6)
	`
	_, err := s.db.Exec(ctx, query, a.ID,
		a.Flags.DepositLocked, a.Flags.WithdrawLocked, a.Flags.ManualApprovalOnly,
		a.Flags.NoBonus, a.Flags.IsSuspicious,
	)
	return mapErr(err, "счёт "+a.ID)
}

// --- Заказы ---

func (s *Store) Order(ctx context.Context, orderID string) (*orders.Order, error) {
	return getOrder(ctx, s.db, orderID, false)
}

func (s *Store) ListOrders(ctx context.Context, f store.OrderFilter) ([]*orders.Order, error) {
	var (
		where []string
		args  []any
	)
	add := func(cond string, v any) {
		args = append(args, v)
		where = append(where, fmt.Sprintf(cond, len(args)))
	}
	if f.UserID != "" {
		add("user_id = $%d", f.UserID)
	}
	if f.Kind != "" {
		add("kind = $%d", string(f.Kind))
	}
	if f.Status != "" {
		add("status = $%d", string(f.Status))
	}

	query := "SELECT " + orderColumns + " FROM orders"
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at DESC"
	if f.Limit > 0 {
		args = append(args, f.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, mapErr(err, "заказы")
	}
	defer rows.Close()

	var out []*orders.Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, mapErr(err, "заказы")
		}
		out = append(out, o)
	}
	return out, mapErr(rows.Err(), "заказы")
}

func (s *Store) Actions(ctx context.Context, orderID string) ([]orders.ApprovalAction, error) {
	return listActions(ctx, s.db, orderID, 0)
}

// --- Правила и игры ---

func (s *Store) LoadLayers(ctx context.Context, userID, gameID string) (rules.Layers, error) {
	return loadLayers(ctx, s.db, userID, gameID)
}

func (s *Store) UpsertRule(ctx context.Context, r rules.Rule) error {
	names := rules.FieldNames()
	cols := make([]string, 0, len(names))
	vals := make([]string, 0, len(names))
	sets := make([]string, 0, len(names))
	args := []any{string(r.Scope), r.ScopeID, r.UpdatedAt}
	for _, name := range names {
		args = append(args, nullNumArg(r.Fields.Get(name)))
		cols = append(cols, name)
		vals = append(vals, fmt.Sprintf("$%d::numeric", len(args)))
		sets = append(sets, fmt.Sprintf("%s = EXCLUDED.%s", name, name))
	}

	query := fmt.Sprintf(`
		INSERT INTO rules (scope, scope_id, updated_at, %s)
		VALUES ($1, $2, $3, %s)
		ON CONFLICT (scope, scope_id) DO UPDATE SET updated_at = EXCLUDED.updated_at, %s
	`, strings.Join(cols, ", "), strings.Join(vals, ", "), strings.Join(sets, ", "))

	_, err := s.db.Exec(ctx, query, args...)
	return mapErr(err, "правило")
}

func (s *Store) DeleteRule(ctx context.Context, scope rules.Scope, scopeID string) error {
	tag, err := s.db.Exec(ctx, `DELETE FROM rules WHERE scope = $1 AND scope_id = $2`, string(scope), scopeID)
	if err != nil {
		return mapErr(err, "правило")
	}
	if tag.RowsAffected() == 0 {
		return mapErr(pgx.ErrNoRows, fmt.Sprintf("правило %s/%s", scope, scopeID))
	}
	return nil
}

func (s *Store) UpsertGame(ctx context.Context, g rules.Game) error {
	query := `
		INSERT INTO games (id, name, active) VALUES ($1, $2, $3)
		ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name, active = EXCLUDED.active
	`
	_, err := s.db.Exec(ctx, query, g.ID, g.Name, g.Active)
	return mapErr(err, "игра "+g.ID)
}

// --- Акторы ---

func (s *Store) Actor(ctx context.Context, actorID string) (*actors.Actor, error) {
	return getActor(ctx, s.db, actorID)
}

func (s *Store) UpsertActor(ctx context.Context, a *actors.Actor) error {
	query := `
		INSERT INTO actors (id, name, kind, is_active, can_approve_orders, can_approve_wallet_loads,
		                    can_approve_withdrawals, amount_ceiling)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8::numeric)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			kind = EXCLUDED.kind,
			is_active = EXCLUDED.is_active,
			can_approve_orders = EXCLUDED.can_approve_orders,
			can_approve_wallet_loads = EXCLUDED.can_approve_wallet_loads,
			can_approve_withdrawals = EXCLUDED.can_approve_withdrawals,
			amount_ceiling = EXCLUDED.amount_ceiling,
			updated_at = NOW()
	`
	_, err := s.db.Exec(ctx, query, a.ID, a.Name, string(a.Kind), a.IsActive,
		a.CanApproveOrders, a.CanApproveWalletLoads, a.CanApproveWithdrawals,
		nullNumArg(a.AmountCeiling),
	)
	return mapErr(err, "актор "+a.ID)
}

func (s *Store) ListActors(ctx context.Context) ([]*actors.Actor, error) {
	rows, err := s.db.Query(ctx, "SELECT "+actorColumns+" FROM actors ORDER BY id")
	if err != nil {
		return nil, mapErr(err, "акторы")
	}
	defer rows.Close()

	var out []*actors.Actor
	for rows.Next() {
		a, err := scanActor(rows)
		if err != nil {
			return nil, mapErr(err, "акторы")
		}
		out = append(out, a)
	}
	return out, mapErr(rows.Err(), "акторы")
}
