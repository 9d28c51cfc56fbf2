// service.go: чтение балансов и сверка с журналом.
package ledger

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"serotonyl.ru/cashier/internal/common"
	"serotonyl.ru/cashier/internal/features/rules"
)

// Reader: зафиксированные счета и проводки.
type Reader interface {
	Account(ctx context.Context, accountID string) (*Account, error)
	Entries(ctx context.Context, accountID string) ([]Entry, error)
	AccountIDs(ctx context.Context) ([]string, error)
	// Statement: счёт и его проводки на один и тот же момент.
	Statement(ctx context.Context, accountID string) (*Account, []Entry, error)
}

// View: баланс для читателей (UI, отчёты). Withdrawable и Locked вычисляются.
type View struct {
	AccountID    string          `json:"account_id"`
	Cash         decimal.Decimal `json:"cash_balance"`
	Bonus        decimal.Decimal `json:"bonus_balance"`
	Credits      decimal.Decimal `json:"play_credits"`
	Total        decimal.Decimal `json:"total_balance"`
	Withdrawable decimal.Decimal `json:"withdrawable_amount"`
	Locked       decimal.Decimal `json:"locked_amount"`
}

// Service: чтение ledger'а вне транзакций одобрения.
type Service struct {
	reader Reader
	rules  rules.LayerLoader
	basis  Basis
}

// NewService создаёт сервис чтения балансов.
func NewService(reader Reader, rl rules.LayerLoader, basis Basis) *Service {
	return &Service{reader: reader, rules: rl, basis: basis}
}

// Basis возвращает настроенную базу потолка выплаты.
func (s *Service) Basis() Basis { return s.basis }

// Snapshot возвращает текущие корзины счёта (только зафиксированные данные).
func (s *Service) Snapshot(ctx context.Context, accountID string) (Balances, error) {
	acct, err := s.reader.Account(ctx, accountID)
	if err != nil {
		return Balances{}, err
	}
	return acct.Balances, nil
}

// View возвращает баланс с выводимой и заблокированной частью.
// gameID может быть пустым.
func (s *Service) View(ctx context.Context, accountID, gameID string) (View, error) {
	acct, err := s.reader.Account(ctx, accountID)
	if err != nil {
		return View{}, err
	}
	eff, err := rules.Resolve(ctx, s.rules, accountID, gameID)
	if err != nil {
		return View{}, err
	}
	return BuildView(*acct, s.basis.Of(*acct), eff)
}

// Preview считает вывод по текущим балансам, ничего не списывая.
func (s *Service) Preview(ctx context.Context, accountID, gameID string) (Cashout, error) {
	acct, err := s.reader.Account(ctx, accountID)
	if err != nil {
		return Cashout{}, err
	}
	eff, err := rules.Resolve(ctx, s.rules, accountID, gameID)
	if err != nil {
		return Cashout{}, err
	}
	return ComputeCashout(acct.Balances, s.basis.Of(*acct), eff)
}

// Entries возвращает журнал счёта.
func (s *Service) Entries(ctx context.Context, accountID string) ([]Entry, error) {
	if _, err := s.reader.Account(ctx, accountID); err != nil {
		return nil, err
	}
	return s.reader.Entries(ctx, accountID)
}

// BuildView: пока total ниже basis × min_cashout_multiplier, выводить нельзя
// ничего; иначе выводимо min(total, basis × max_cashout_multiplier).
func BuildView(a Account, basis decimal.Decimal, eff rules.Effective) (View, error) {
	v := View{
		AccountID: a.ID,
		Cash:      a.Cash,
		Bonus:     a.Bonus,
		Credits:   a.Credits,
		Total:     a.Total(),
	}

	minCashout := common.RoundMoney(basis.Mul(eff.MinCashoutMultiplier))
	if v.Total.LessThan(minCashout) {
		v.Withdrawable = decimal.Zero
		v.Locked = v.Total
		return v, nil
	}

	co, err := ComputeCashout(a.Balances, basis, eff)
	if err != nil {
		return View{}, err
	}
	v.Withdrawable = co.Payout
	v.Locked = v.Total.Sub(co.Payout)
	return v, nil
}

// Mismatch: расхождение журнала и сохранённого баланса.
type Mismatch struct {
	AccountID string
	Stored    Balances
	Replayed  Balances
}

func (m Mismatch) Error() string {
	return fmt.Sprintf("счёт %s: в журнале cash=%s bonus=%s credits=%s, сохранено cash=%s bonus=%s credits=%s",
		m.AccountID,
		m.Replayed.Cash, m.Replayed.Bonus, m.Replayed.Credits,
		m.Stored.Cash, m.Stored.Bonus, m.Stored.Credits)
}

// Replay суммирует дельты проводок по корзинам.
func Replay(entries []Entry) Balances {
	var b Balances
	for _, e := range entries {
		b.Cash = b.Cash.Add(e.DeltaCash)
		b.Bonus = b.Bonus.Add(e.DeltaBonus)
		b.Credits = b.Credits.Add(e.DeltaCredits)
	}
	return b
}

// Reconcile сверяет один счёт. Расхождение, *Mismatch.
func (s *Service) Reconcile(ctx context.Context, accountID string) error {
	// счёт и журнал читаем одним снимком, иначе коммит между двумя
	// чтениями даст ложное расхождение
	acct, entries, err := s.reader.Statement(ctx, accountID)
	if err != nil {
		return err
	}
	if replayed := Replay(entries); !replayed.Equal(acct.Balances) {
		return &Mismatch{AccountID: accountID, Stored: acct.Balances, Replayed: replayed}
	}
	return nil
}

// ReconcileAll сверяет все счета и возвращает найденные расхождения.
func (s *Service) ReconcileAll(ctx context.Context) ([]Mismatch, error) {
	ids, err := s.reader.AccountIDs(ctx)
	if err != nil {
		return nil, err
	}
	var out []Mismatch
	for _, id := range ids {
		err := s.Reconcile(ctx, id)
		if m, ok := err.(*Mismatch); ok {
			out = append(out, *m)
			continue
		}
		if err != nil {
			return out, fmt.Errorf("сверка %s: %w", id, err)
		}
	}
	return out, nil
}
