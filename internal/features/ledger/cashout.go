package ledger

import (
	"fmt"

	"github.com/shopspring/decimal"

	"serotonyl.ru/cashier/internal/common"
	"serotonyl.ru/cashier/internal/features/rules"
)

// VoidReasonExceedsMaxCashout: часть баланса сгорает из-за потолка выплаты.
const VoidReasonExceedsMaxCashout = "EXCEEDS_MAX_CASHOUT"

// consumptionOrder: порядок, в котором выплата забирает корзины.
var consumptionOrder = []Bucket{BucketCash, BucketCredits, BucketBonus}

// Cashout: результат расчёта вывода.
type Cashout struct {
	Total      decimal.Decimal `json:"total_balance"`
	MaxCashout decimal.Decimal `json:"max_cashout"`
	Payout     decimal.Decimal `json:"payout_amount"`
	Void       decimal.Decimal `json:"void_amount"`
	VoidReason string          `json:"void_reason,omitempty"`
	// PayoutPlan: из каких корзин набрана выплата (cash → credits → bonus)
	PayoutPlan Plan `json:"payout_plan"`
	// VoidPlan: остаток корзин, который сгорает
	VoidPlan Plan `json:"void_plan"`
}

// ComputeCashout считает вывод без побочных эффектов: весь баланс выводится за один проход,
// выплата ограничена basis × max_cashout_multiplier, остальное сгорает.
// Бонус не увеличивает basis, но входит в total и выплачивается последним.
func ComputeCashout(b Balances, basis decimal.Decimal, rule rules.Effective) (Cashout, error) {
	if !rule.MaxCashoutMultiplier.IsPositive() {
		return Cashout{}, fmt.Errorf("%w: max_cashout_multiplier должен быть больше нуля", common.ErrConfiguration)
	}
	if basis.IsNegative() {
		basis = decimal.Zero
	}

	out := Cashout{
		Total:      b.Total(),
		MaxCashout: common.RoundMoney(basis.Mul(rule.MaxCashoutMultiplier)),
		Payout:     decimal.Zero,
		Void:       decimal.Zero,
	}
	if out.Total.IsZero() {
		return out, nil
	}

	out.Payout = decimal.Min(out.Total, out.MaxCashout)
	out.Void = out.Total.Sub(out.Payout)
	if out.Void.IsPositive() {
		out.VoidReason = VoidReasonExceedsMaxCashout
	}

	remaining := out.Payout
	left := b
	for _, bucket := range consumptionOrder {
		if !remaining.IsPositive() {
			break
		}
		take := decimal.Min(remaining, left.Get(bucket))
		if take.IsPositive() {
			out.PayoutPlan = append(out.PayoutPlan, Step{Bucket: bucket, Amount: take})
			left.add(bucket, take.Neg())
			remaining = remaining.Sub(take)
		}
	}
	for _, bucket := range consumptionOrder {
		if v := left.Get(bucket); v.IsPositive() {
			out.VoidPlan = append(out.VoidPlan, Step{Bucket: bucket, Amount: v})
		}
	}
	return out, nil
}

// Basis: какой показатель счёта служит базой потолка выплаты.
type Basis string

const (
	// BasisTotalDeposited: всё, что когда-либо внесено
	BasisTotalDeposited Basis = "total_deposited"
	// BasisNetDeposited: внесено минус уже выведено (не меньше нуля)
	BasisNetDeposited Basis = "net_deposited"
)

// ParseBasis разбирает значение из конфигурации.
func ParseBasis(s string) (Basis, error) {
	switch Basis(s) {
	case BasisTotalDeposited, BasisNetDeposited:
		return Basis(s), nil
	}
	return "", fmt.Errorf("неизвестная база вывода %q", s)
}

// Of вычисляет базу для счёта.
func (b Basis) Of(a Account) decimal.Decimal {
	if b == BasisNetDeposited {
		net := a.TotalDeposited.Sub(a.TotalWithdrawn)
		if net.IsNegative() {
			return decimal.Zero
		}
		return net
	}
	return a.TotalDeposited
}
