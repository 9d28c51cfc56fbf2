package rules

import (
	"fmt"

	"github.com/shopspring/decimal"

	"serotonyl.ru/cashier/internal/common"
)

// CheckDeposit проверяет сумму пополнения по лимитам правила.
// deposit_block_balance = 0 означает «без блокировки»; иначе пополнение
// запрещено, пока общий баланс его превышает.
func (e Effective) CheckDeposit(amount, totalBalance decimal.Decimal) error {
	if !amount.IsPositive() {
		return common.ErrInvalidAmount
	}
	if amount.LessThan(e.MinDeposit) {
		return fmt.Errorf("%w: минимальное пополнение %s", common.ErrInvalidAmount, common.FormatMoney(e.MinDeposit))
	}
	if amount.GreaterThan(e.MaxDeposit) {
		return fmt.Errorf("%w: максимальное пополнение %s", common.ErrInvalidAmount, common.FormatMoney(e.MaxDeposit))
	}
	if e.DepositBlockBalance.IsPositive() && totalBalance.GreaterThan(e.DepositBlockBalance) {
		return fmt.Errorf("%w: пополнение недоступно при балансе выше %s",
			common.ErrInvalidRequest, common.FormatMoney(e.DepositBlockBalance))
	}
	return nil
}

// CheckWithdrawal проверяет сумму вывода по лимитам правила.
func (e Effective) CheckWithdrawal(amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return common.ErrInvalidAmount
	}
	if amount.LessThan(e.MinWithdrawal) {
		return fmt.Errorf("%w: минимальный вывод %s", common.ErrInvalidAmount, common.FormatMoney(e.MinWithdrawal))
	}
	if amount.GreaterThan(e.MaxWithdrawal) {
		return fmt.Errorf("%w: максимальный вывод %s", common.ErrInvalidAmount, common.FormatMoney(e.MaxWithdrawal))
	}
	return nil
}

// Bonus считает бонус к пополнению: amount × pct / 100, до копеек.
func (e Effective) Bonus(amount decimal.Decimal) decimal.Decimal {
	if !e.DepositBonusPct.IsPositive() {
		return decimal.Zero
	}
	return common.RoundMoney(amount.Mul(e.DepositBonusPct).Div(decimal.NewFromInt(100)))
}
