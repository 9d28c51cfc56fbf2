package ledger_test

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"serotonyl.ru/cashier/internal/common"
	"serotonyl.ru/cashier/internal/features/ledger"
	"serotonyl.ru/cashier/internal/features/rules"
	"serotonyl.ru/cashier/internal/store"
)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func rule(minMult, maxMult string) rules.Effective {
	return rules.Effective{
		MinCashoutMultiplier: dec(minMult),
		MaxCashoutMultiplier: dec(maxMult),
	}
}

// ============================================================================
// CashoutCalculator
// ============================================================================

func TestComputeCashout_VoidAboveCeiling(t *testing.T) {
	b := ledger.Balances{Cash: dec("100"), Bonus: dec("20"), Credits: dec("10")}

	out, err := ledger.ComputeCashout(b, dec("55"), rule("1", "2"))
	require.NoError(t, err)

	assert.True(t, out.Total.Equal(dec("130")))
	assert.True(t, out.MaxCashout.Equal(dec("110")))
	assert.True(t, out.Payout.Equal(dec("110")), out.Payout.String())
	assert.True(t, out.Void.Equal(dec("20")), out.Void.String())
	assert.Equal(t, ledger.VoidReasonExceedsMaxCashout, out.VoidReason)

	// выплата: cash → credits → bonus; бонус сгорает
	require.Len(t, out.PayoutPlan, 2)
	assert.Equal(t, ledger.BucketCash, out.PayoutPlan[0].Bucket)
	assert.True(t, out.PayoutPlan[0].Amount.Equal(dec("100")))
	assert.Equal(t, ledger.BucketCredits, out.PayoutPlan[1].Bucket)
	assert.True(t, out.PayoutPlan[1].Amount.Equal(dec("10")))
	require.Len(t, out.VoidPlan, 1)
	assert.Equal(t, ledger.BucketBonus, out.VoidPlan[0].Bucket)
	assert.True(t, out.VoidPlan[0].Amount.Equal(dec("20")))
}

func TestComputeCashout_NoVoid(t *testing.T) {
	b := ledger.Balances{Cash: dec("100"), Bonus: dec("20"), Credits: dec("10")}

	out, err := ledger.ComputeCashout(b, dec("100"), rule("1", "2"))
	require.NoError(t, err)

	assert.True(t, out.Payout.Equal(dec("130")))
	assert.True(t, out.Void.IsZero())
	assert.Empty(t, out.VoidReason)
	assert.Empty(t, out.VoidPlan)
	assert.True(t, out.PayoutPlan.Of(ledger.BucketBonus).Equal(dec("20")))
	assert.True(t, out.PayoutPlan.Total().Equal(dec("130")))
}

func TestComputeCashout_PartialCash(t *testing.T) {
	b := ledger.Balances{Cash: dec("100"), Bonus: dec("20"), Credits: dec("10")}

	out, err := ledger.ComputeCashout(b, dec("30"), rule("1", "2"))
	require.NoError(t, err)

	assert.True(t, out.Payout.Equal(dec("60")))
	require.Len(t, out.PayoutPlan, 1)
	assert.True(t, out.PayoutPlan.Of(ledger.BucketCash).Equal(dec("60")))
	assert.True(t, out.VoidPlan.Of(ledger.BucketCash).Equal(dec("40")))
	assert.True(t, out.VoidPlan.Total().Equal(dec("70")))
}

func TestComputeCashout_ZeroTotal(t *testing.T) {
	out, err := ledger.ComputeCashout(ledger.Balances{}, dec("100"), rule("1", "2"))
	require.NoError(t, err)
	assert.True(t, out.Payout.IsZero())
	assert.True(t, out.Void.IsZero())
	assert.Empty(t, out.VoidReason)
	assert.Empty(t, out.PayoutPlan)
}

func TestComputeCashout_ZeroMultiplier(t *testing.T) {
	b := ledger.Balances{Cash: dec("10")}
	_, err := ledger.ComputeCashout(b, dec("100"), rule("1", "0"))
	assert.ErrorIs(t, err, common.ErrConfiguration)
}

func TestBasis(t *testing.T) {
	a := ledger.Account{TotalDeposited: dec("100"), TotalWithdrawn: dec("130")}
	assert.True(t, ledger.BasisTotalDeposited.Of(a).Equal(dec("100")))
	assert.True(t, ledger.BasisNetDeposited.Of(a).IsZero())

	a.TotalWithdrawn = dec("40")
	assert.True(t, ledger.BasisNetDeposited.Of(a).Equal(dec("60")))

	_, err := ledger.ParseBasis("whatever")
	assert.Error(t, err)
	b, err := ledger.ParseBasis("net_deposited")
	require.NoError(t, err)
	assert.Equal(t, ledger.BasisNetDeposited, b)
}

func TestBuildView(t *testing.T) {
	a := ledger.Account{ID: "u1", Balances: ledger.Balances{Cash: dec("100"), Bonus: dec("20"), Credits: dec("10")}}

	// total 130 < 100 × 2: выводить нельзя ничего
	v, err := ledger.BuildView(a, dec("100"), rule("2", "3"))
	require.NoError(t, err)
	assert.True(t, v.Withdrawable.IsZero())
	assert.True(t, v.Locked.Equal(dec("130")))

	// порог пройден, потолок 55 × 2 = 110
	v, err = ledger.BuildView(a, dec("55"), rule("1", "2"))
	require.NoError(t, err)
	assert.True(t, v.Total.Equal(dec("130")))
	assert.True(t, v.Withdrawable.Equal(dec("110")))
	assert.True(t, v.Locked.Equal(dec("20")))
}

// ============================================================================
// BalanceLedger
// ============================================================================

func newAccount(t *testing.T, mem *store.Memory, id string) {
	t.Helper()
	require.NoError(t, mem.CreateAccount(context.Background(), &ledger.Account{ID: id}))
}

func TestLedger_CreditAndConsume(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemory(0)
	newAccount(t, mem, "u1")

	err := mem.InTx(ctx, func(tx store.Tx) error {
		l := ledger.New(tx)
		if _, err := l.Credit(ctx, "u1", ledger.BucketCash, dec("100"), "o1", ledger.ReasonDeposit); err != nil {
			return err
		}
		if _, err := l.Credit(ctx, "u1", ledger.BucketBonus, dec("10"), "o1", ledger.ReasonDepositBonus); err != nil {
			return err
		}
		_, err := l.Consume(ctx, "u1", ledger.Plan{
			{Bucket: ledger.BucketCash, Amount: dec("40")},
			{Bucket: ledger.BucketBonus, Amount: dec("10")},
		}, "o2", ledger.ReasonWithdrawalPayout)
		return err
	})
	require.NoError(t, err)

	acct, err := mem.Account(ctx, "u1")
	require.NoError(t, err)
	assert.True(t, acct.Cash.Equal(dec("60")))
	assert.True(t, acct.Bonus.IsZero())

	entries, err := mem.Entries(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, entries, 3)
	assert.True(t, entries[2].DeltaCash.Equal(dec("-40")))
	assert.True(t, entries[2].DeltaBonus.Equal(dec("-10")))
	assert.Equal(t, "o2", entries[2].OrderID)

	assert.True(t, ledger.Replay(entries).Equal(acct.Balances))
}

func TestLedger_ConsumeIsAllOrNothing(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemory(0)
	newAccount(t, mem, "u1")

	require.NoError(t, mem.InTx(ctx, func(tx store.Tx) error {
		_, err := ledger.New(tx).Credit(ctx, "u1", ledger.BucketCash, dec("50"), "", ledger.ReasonDeposit)
		return err
	}))

	err := mem.InTx(ctx, func(tx store.Tx) error {
		_, err := ledger.New(tx).Consume(ctx, "u1", ledger.Plan{
			{Bucket: ledger.BucketCash, Amount: dec("30")},
			{Bucket: ledger.BucketCredits, Amount: dec("1")},
		}, "o1", ledger.ReasonGameLoad)
		return err
	})
	require.ErrorIs(t, err, common.ErrInsufficientBalance)

	acct, err := mem.Account(ctx, "u1")
	require.NoError(t, err)
	assert.True(t, acct.Cash.Equal(dec("50")), "cash не должен измениться")

	entries, err := mem.Entries(ctx, "u1")
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestLedger_Validation(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemory(0)
	newAccount(t, mem, "u1")

	err := mem.InTx(ctx, func(tx store.Tx) error {
		l := ledger.New(tx)
		_, err := l.Credit(ctx, "u1", ledger.BucketCash, dec("0"), "", ledger.ReasonDeposit)
		assert.ErrorIs(t, err, common.ErrInvalidAmount)
		_, err = l.Credit(ctx, "u1", ledger.Bucket("gold"), dec("1"), "", ledger.ReasonDeposit)
		assert.ErrorIs(t, err, common.ErrInvalidRequest)
		_, err = l.Consume(ctx, "u1", nil, "", ledger.ReasonGameLoad)
		assert.ErrorIs(t, err, common.ErrInvalidAmount)
		_, err = l.Credit(ctx, "nobody", ledger.BucketCash, dec("1"), "", ledger.ReasonDeposit)
		assert.ErrorIs(t, err, common.ErrNotFound)
		return nil
	})
	require.NoError(t, err)
}

// ============================================================================
// Service: баланс и сверка
// ============================================================================

func seedGlobal(t *testing.T, mem *store.Memory) {
	t.Helper()
	p := func(s string) *decimal.Decimal { v := dec(s); return &v }
	require.NoError(t, mem.UpsertRule(context.Background(), rules.Rule{
		Scope: rules.ScopeGlobal, ScopeID: rules.GlobalID,
		Fields: rules.Fields{
			MinDeposit: p("10"), MaxDeposit: p("1000"),
			MinWithdrawal: p("10"), MaxWithdrawal: p("1000"),
			DepositBonusPct: p("0"), MinCashoutMultiplier: p("1"),
			MaxCashoutMultiplier: p("2"), DepositBlockBalance: p("0"),
		},
	}))
}

func TestService_ViewAndPreview(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemory(0)
	seedGlobal(t, mem)
	newAccount(t, mem, "u1")

	require.NoError(t, mem.InTx(ctx, func(tx store.Tx) error {
		acct, err := tx.LockAccount(ctx, "u1")
		if err != nil {
			return err
		}
		acct.TotalDeposited = dec("50")
		if err := tx.SaveAccount(ctx, acct); err != nil {
			return err
		}
		_, err = ledger.New(tx).Credit(ctx, "u1", ledger.BucketCash, dec("150"), "", ledger.ReasonDeposit)
		return err
	}))

	svc := ledger.NewService(mem, mem, ledger.BasisTotalDeposited)
	v, err := svc.View(ctx, "u1", "")
	require.NoError(t, err)
	assert.True(t, v.Withdrawable.Equal(dec("100")))
	assert.True(t, v.Locked.Equal(dec("50")))

	co, err := svc.Preview(ctx, "u1", "")
	require.NoError(t, err)
	assert.True(t, co.Payout.Equal(dec("100")))
	assert.True(t, co.Void.Equal(dec("50")))

	_, err = svc.View(ctx, "nobody", "")
	assert.ErrorIs(t, err, common.ErrNotFound)
}

func TestService_Reconcile(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemory(0)
	newAccount(t, mem, "u1")
	newAccount(t, mem, "u2")

	require.NoError(t, mem.InTx(ctx, func(tx store.Tx) error {
		_, err := ledger.New(tx).Credit(ctx, "u1", ledger.BucketCash, dec("25"), "", ledger.ReasonDeposit)
		return err
	}))

	svc := ledger.NewService(mem, mem, ledger.BasisTotalDeposited)
	mismatches, err := svc.ReconcileAll(ctx)
	require.NoError(t, err)
	assert.Empty(t, mismatches)

	// баланс изменён в обход журнала
	require.NoError(t, mem.InTx(ctx, func(tx store.Tx) error {
		acct, err := tx.LockAccount(ctx, "u2")
		if err != nil {
			return err
		}
		acct.Bonus = dec("5")
		return tx.SaveAccount(ctx, acct)
	}))

	mismatches, err = svc.ReconcileAll(ctx)
	require.NoError(t, err)
	require.Len(t, mismatches, 1)
	assert.Equal(t, "u2", mismatches[0].AccountID)
	assert.True(t, mismatches[0].Stored.Bonus.Equal(dec("5")))
	assert.True(t, mismatches[0].Replayed.Bonus.IsZero())
	assert.Contains(t, mismatches[0].Error(), "u2")
}

func TestService_ReconcileDuringWrites(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemory(time.Second)
	newAccount(t, mem, "u1")
	svc := ledger.NewService(mem, mem, ledger.BasisTotalDeposited)

	stop := make(chan struct{})
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			select {
			case <-stop:
				return
			default:
			}
			_ = mem.InTx(ctx, func(tx store.Tx) error {
				_, err := ledger.New(tx).Credit(ctx, "u1", ledger.BucketCash, dec("1"), "", ledger.ReasonDeposit)
				return err
			})
		}
	}()

	// пока идут записи, сверка не должна видеть расхождений
	deadline := time.Now().Add(300 * time.Millisecond)
	for time.Now().Before(deadline) {
		require.NoError(t, svc.Reconcile(ctx, "u1"))
	}
	close(stop)
	<-done

	acct, entries, err := mem.Statement(ctx, "u1")
	require.NoError(t, err)
	assert.NotEmpty(t, entries)
	assert.True(t, ledger.Replay(entries).Equal(acct.Balances))
}
