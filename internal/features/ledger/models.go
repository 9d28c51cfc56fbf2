// Package ledger реализует трёхкорзинный баланс счёта и журнал проводок.
// models.go описывает счета, корзины, проводки и планы списания.
package ledger

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"serotonyl.ru/cashier/internal/common"
)

// Bucket: одна из трёх корзин баланса.
type Bucket string

const (
	BucketCash    Bucket = "cash"
	BucketBonus   Bucket = "bonus"
	BucketCredits Bucket = "credits"
)

// Valid сообщает, известна ли корзина.
func (b Bucket) Valid() bool {
	switch b {
	case BucketCash, BucketBonus, BucketCredits:
		return true
	}
	return false
}

// Причины проводок
const (
	ReasonDeposit          = "deposit"
	ReasonDepositBonus     = "deposit_bonus"
	ReasonGameLoad         = "game_load"
	ReasonWalletLoad       = "wallet_load"
	ReasonWithdrawalPayout = "withdrawal_payout"
	ReasonWithdrawalVoid   = "withdrawal_void"
)

// Balances: содержимое трёх корзин. Ни одна не бывает отрицательной.
type Balances struct {
	Cash    decimal.Decimal `json:"cash_balance"`
	Bonus   decimal.Decimal `json:"bonus_balance"`
	Credits decimal.Decimal `json:"play_credits"`
}

// Total: сумма всех корзин.
func (b Balances) Total() decimal.Decimal {
	return b.Cash.Add(b.Bonus).Add(b.Credits)
}

// Get возвращает значение корзины.
func (b Balances) Get(bucket Bucket) decimal.Decimal {
	switch bucket {
	case BucketCash:
		return b.Cash
	case BucketBonus:
		return b.Bonus
	case BucketCredits:
		return b.Credits
	}
	return decimal.Zero
}

func (b *Balances) add(bucket Bucket, delta decimal.Decimal) {
	switch bucket {
	case BucketCash:
		b.Cash = b.Cash.Add(delta)
	case BucketBonus:
		b.Bonus = b.Bonus.Add(delta)
	case BucketCredits:
		b.Credits = b.Credits.Add(delta)
	}
}

// Equal сравнивает балансы по значению (без учёта масштаба).
func (b Balances) Equal(o Balances) bool {
	return b.Cash.Equal(o.Cash) && b.Bonus.Equal(o.Bonus) && b.Credits.Equal(o.Credits)
}

// Flags: флаги счёта, которые сверяются при приёме и одобрении заказов.
type Flags struct {
	DepositLocked      bool `json:"deposit_locked"`
	WithdrawLocked     bool `json:"withdraw_locked"`
	ManualApprovalOnly bool `json:"manual_approval_only"`
	NoBonus            bool `json:"no_bonus"`
	IsSuspicious       bool `json:"is_suspicious"`
}

// Account: счёт пользователя (ровно один на пользователя).
type Account struct {
	ID             string          `json:"account_id"`
	Balances                       // три корзины
	DepositCount   int             `json:"deposit_count"`
	TotalDeposited decimal.Decimal `json:"total_deposited"`
	TotalWithdrawn decimal.Decimal `json:"total_withdrawn"`
	Flags          Flags           `json:"flags"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

// Entry: неизменяемая проводка журнала.
type Entry struct {
	ID           string          `json:"entry_id"`
	AccountID    string          `json:"account_id"`
	DeltaCash    decimal.Decimal `json:"delta_cash"`
	DeltaBonus   decimal.Decimal `json:"delta_bonus"`
	DeltaCredits decimal.Decimal `json:"delta_credits"`
	OrderID      string          `json:"order_id,omitempty"` // пусто для проводок без заказа
	Reason       string          `json:"reason"`
	CreatedAt    time.Time       `json:"created_at"`
}

func (e *Entry) add(bucket Bucket, delta decimal.Decimal) {
	switch bucket {
	case BucketCash:
		e.DeltaCash = e.DeltaCash.Add(delta)
	case BucketBonus:
		e.DeltaBonus = e.DeltaBonus.Add(delta)
	case BucketCredits:
		e.DeltaCredits = e.DeltaCredits.Add(delta)
	}
}

// Step: списание одной суммы из одной корзины.
type Step struct {
	Bucket Bucket          `json:"bucket"`
	Amount decimal.Decimal `json:"amount"`
}

// Plan: упорядоченный план списания.
type Plan []Step

// Total: сумма плана.
func (p Plan) Total() decimal.Decimal {
	sum := decimal.Zero
	for _, s := range p {
		sum = sum.Add(s.Amount)
	}
	return sum
}

// Of возвращает сумму плана по корзине.
func (p Plan) Of(bucket Bucket) decimal.Decimal {
	sum := decimal.Zero
	for _, s := range p {
		if s.Bucket == bucket {
			sum = sum.Add(s.Amount)
		}
	}
	return sum
}

func (p Plan) validate() error {
	if len(p) == 0 {
		return fmt.Errorf("%w: пустой план списания", common.ErrInvalidAmount)
	}
	for _, s := range p {
		if !s.Bucket.Valid() {
			return fmt.Errorf("%w: неизвестная корзина %q", common.ErrInvalidRequest, s.Bucket)
		}
		if !s.Amount.IsPositive() {
			return fmt.Errorf("%w: %s %s", common.ErrInvalidAmount, s.Bucket, s.Amount)
		}
	}
	return nil
}
