package approval

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"serotonyl.ru/cashier/internal/common"
	"serotonyl.ru/cashier/internal/features/ledger"
	"serotonyl.ru/cashier/internal/features/orders"
	"serotonyl.ru/cashier/internal/features/rules"
	"serotonyl.ru/cashier/internal/store"
)

// effectEnv: всё, что нужно эффекту одобрения внутри транзакции.
type effectEnv struct {
	tx     store.Tx
	ledger *ledger.Ledger
	order  *orders.Order
	basis  ledger.Basis

	// authorize повторяет проверку прав актора для суммы, которая реально
	// двигается. Нужна, когда она известна только внутри эффекта.
	authorize func(moved decimal.Decimal) error
}

// effectFunc: побочные эффекты одобрения для одного вида заказа.
// Общий скелет (блокировка, идемпотентность, права, запись решения): в Decide.
type effectFunc func(ctx context.Context, e *effectEnv) error

var effects = map[orders.Kind]effectFunc{
	orders.KindDeposit:    approveDeposit,
	orders.KindGameLoad:   approveGameLoad,
	orders.KindWalletLoad: approveWalletLoad,
	orders.KindWithdrawal: approveWithdrawal,
}

// approveDeposit: cash += amount, bonus += amount × pct по правилу на момент одобрения.
func approveDeposit(ctx context.Context, e *effectEnv) error {
	o := e.order
	acct, err := e.tx.LockAccount(ctx, o.UserID)
	if err != nil {
		return err
	}
	if acct.Flags.DepositLocked {
		return fmt.Errorf("%w: пополнения счёта %s заблокированы", common.ErrPermissionDenied, acct.ID)
	}

	eff, err := rules.Resolve(ctx, e.tx, o.UserID, o.GameID)
	if err != nil {
		return err
	}
	bonus := eff.Bonus(o.Amount)
	if acct.Flags.NoBonus {
		bonus = decimal.Zero
	}

	if _, err := e.ledger.Credit(ctx, o.UserID, ledger.BucketCash, o.Amount, o.ID, ledger.ReasonDeposit); err != nil {
		return err
	}
	if bonus.IsPositive() {
		if _, err := e.ledger.Credit(ctx, o.UserID, ledger.BucketBonus, bonus, o.ID, ledger.ReasonDepositBonus); err != nil {
			return err
		}
	}
	o.BonusAmount = bonus

	return countDeposit(ctx, e, o)
}

// approveWalletLoad: прямое пополнение кошелька, без бонуса.
func approveWalletLoad(ctx context.Context, e *effectEnv) error {
	o := e.order
	acct, err := e.tx.LockAccount(ctx, o.UserID)
	if err != nil {
		return err
	}
	if acct.Flags.DepositLocked {
		return fmt.Errorf("%w: пополнения счёта %s заблокированы", common.ErrPermissionDenied, acct.ID)
	}

	if _, err := e.ledger.Credit(ctx, o.UserID, ledger.BucketCash, o.Amount, o.ID, ledger.ReasonWalletLoad); err != nil {
		return err
	}
	return countDeposit(ctx, e, o)
}

// approveGameLoad: перенос из кошелька в игру, cash → play credits.
func approveGameLoad(ctx context.Context, e *effectEnv) error {
	o := e.order
	acct, err := e.tx.LockAccount(ctx, o.UserID)
	if err != nil {
		return err
	}
	if acct.Flags.DepositLocked {
		return fmt.Errorf("%w: загрузки счёта %s заблокированы", common.ErrPermissionDenied, acct.ID)
	}
	// проверяем, что игра известна и правила собираются
	if _, err := rules.Resolve(ctx, e.tx, o.UserID, o.GameID); err != nil {
		return err
	}

	plan := ledger.Plan{{Bucket: ledger.BucketCash, Amount: o.Amount}}
	if _, err := e.ledger.Consume(ctx, o.UserID, plan, o.ID, ledger.ReasonGameLoad); err != nil {
		return err
	}
	if _, err := e.ledger.Credit(ctx, o.UserID, ledger.BucketCredits, o.Amount, o.ID, ledger.ReasonGameLoad); err != nil {
		return err
	}
	o.CashConsumed = o.Amount
	o.PlayCreditsAdded = o.Amount
	return nil
}

// approveWithdrawal: закон вывода по текущим балансам, весь баланс за раз,
// выплата по плану cash → credits → bonus, остаток сгорает.
func approveWithdrawal(ctx context.Context, e *effectEnv) error {
	o := e.order
	acct, err := e.tx.LockAccount(ctx, o.UserID)
	if err != nil {
		return err
	}
	if acct.Flags.WithdrawLocked {
		return fmt.Errorf("%w: выводы счёта %s заблокированы", common.ErrPermissionDenied, acct.ID)
	}

	eff, err := rules.Resolve(ctx, e.tx, o.UserID, o.GameID)
	if err != nil {
		return err
	}
	co, err := ledger.ComputeCashout(acct.Balances, e.basis.Of(*acct), eff)
	if err != nil {
		return err
	}
	// сумма заявки снята при приёме, баланс с тех пор мог вырасти:
	// лимит актора сверяем с выплатой по текущим балансам
	if e.authorize != nil {
		if err := e.authorize(co.Payout); err != nil {
			return err
		}
	}

	if len(co.PayoutPlan) > 0 {
		if _, err := e.ledger.Consume(ctx, o.UserID, co.PayoutPlan, o.ID, ledger.ReasonWithdrawalPayout); err != nil {
			return err
		}
	}
	if len(co.VoidPlan) > 0 {
		if _, err := e.ledger.Consume(ctx, o.UserID, co.VoidPlan, o.ID, ledger.ReasonWithdrawalVoid); err != nil {
			return err
		}
	}

	o.PayoutAmount = co.Payout
	o.VoidAmount = co.Void
	o.VoidReason = co.VoidReason
	o.CashConsumed = co.PayoutPlan.Of(ledger.BucketCash)
	o.PlayCreditsConsumed = co.PayoutPlan.Of(ledger.BucketCredits)
	o.BonusConsumed = co.PayoutPlan.Of(ledger.BucketBonus)

	// перечитываем: Consume уже сохранил новые корзины
	acct, err = e.tx.LockAccount(ctx, o.UserID)
	if err != nil {
		return err
	}
	acct.TotalWithdrawn = acct.TotalWithdrawn.Add(co.Payout)
	return e.tx.SaveAccount(ctx, acct)
}

func countDeposit(ctx context.Context, e *effectEnv, o *orders.Order) error {
	acct, err := e.tx.LockAccount(ctx, o.UserID)
	if err != nil {
		return err
	}
	acct.DepositCount++
	acct.TotalDeposited = acct.TotalDeposited.Add(o.Amount)
	return e.tx.SaveAccount(ctx, acct)
}
