package rules_test

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"serotonyl.ru/cashier/internal/common"
	"serotonyl.ru/cashier/internal/features/ledger"
	"serotonyl.ru/cashier/internal/features/rules"
	"serotonyl.ru/cashier/internal/store"
)

func d(s string) *decimal.Decimal {
	v := decimal.RequireFromString(s)
	return &v
}

func globalFields() rules.Fields {
	return rules.Fields{
		MinDeposit:           d("10"),
		MaxDeposit:           d("1000"),
		MinWithdrawal:        d("20"),
		MaxWithdrawal:        d("500"),
		DepositBonusPct:      d("10"),
		MinCashoutMultiplier: d("1"),
		MaxCashoutMultiplier: d("3"),
		DepositBlockBalance:  d("5"),
	}
}

func TestMerge_ClientOverGameOverGlobal(t *testing.T) {
	g := globalFields()
	eff, err := rules.Merge(rules.Layers{
		Global: &g,
		Game:   &rules.Fields{MinDeposit: d("15"), MaxCashoutMultiplier: d("4")},
		Client: &rules.Fields{MinDeposit: d("25")},
	})
	require.NoError(t, err)

	assert.True(t, eff.MinDeposit.Equal(decimal.NewFromInt(25)))
	assert.True(t, eff.MaxCashoutMultiplier.Equal(decimal.NewFromInt(4)))
	assert.True(t, eff.MaxDeposit.Equal(decimal.NewFromInt(1000)))

	assert.Equal(t, rules.ScopeClient, eff.Source["min_deposit"])
	assert.Equal(t, rules.ScopeGame, eff.Source["max_cashout_multiplier"])
	assert.Equal(t, rules.ScopeGlobal, eff.Source["max_deposit"])
}

func TestMerge_FieldsResolvedIndependently(t *testing.T) {
	g := globalFields()
	eff, err := rules.Merge(rules.Layers{
		Global: &g,
		Client: &rules.Fields{DepositBonusPct: d("0")},
	})
	require.NoError(t, err)

	// явный ноль на уровне клиента, это значение, а не «не задано»
	assert.True(t, eff.DepositBonusPct.IsZero())
	assert.Equal(t, rules.ScopeClient, eff.Source["deposit_bonus_pct"])
	assert.True(t, eff.MinDeposit.Equal(decimal.NewFromInt(10)))
}

func TestMerge_IncompleteGlobal(t *testing.T) {
	g := globalFields()
	g.MaxCashoutMultiplier = nil

	// переопределение ниже не спасает неполное глобальное правило
	_, err := rules.Merge(rules.Layers{
		Global: &g,
		Client: &rules.Fields{MaxCashoutMultiplier: d("2")},
	})
	require.ErrorIs(t, err, common.ErrConfiguration)
	assert.Contains(t, err.Error(), "max_cashout_multiplier")
}

func TestMerge_NoGlobal(t *testing.T) {
	_, err := rules.Merge(rules.Layers{Client: &rules.Fields{MinDeposit: d("1")}})
	assert.ErrorIs(t, err, common.ErrConfiguration)
}

func TestFields_GetSet(t *testing.T) {
	var f rules.Fields
	assert.Nil(t, f.Get("min_deposit"))

	assert.True(t, f.Set("min_deposit", d("7")))
	require.NotNil(t, f.MinDeposit)
	assert.True(t, f.MinDeposit.Equal(decimal.NewFromInt(7)))
	assert.True(t, f.Get("min_deposit").Equal(decimal.NewFromInt(7)))

	assert.False(t, f.Set("unknown", d("1")))
	assert.Nil(t, f.Get("unknown"))
	assert.Len(t, rules.FieldNames(), 8)
}

func newStore(t *testing.T) *store.Memory {
	t.Helper()
	ctx := context.Background()
	mem := store.NewMemory(0)
	require.NoError(t, mem.CreateAccount(ctx, &ledger.Account{ID: "u1"}))
	require.NoError(t, mem.UpsertGame(ctx, rules.Game{ID: "g1", Active: true}))
	return mem
}

func TestService_PutRuleAndResolve(t *testing.T) {
	ctx := context.Background()
	svc := rules.NewService(newStore(t))

	_, err := svc.Resolve(ctx, "u1", "")
	require.ErrorIs(t, err, common.ErrConfiguration)

	require.NoError(t, svc.PutRule(ctx, rules.ScopeGlobal, "", globalFields()))
	require.NoError(t, svc.PutRule(ctx, rules.ScopeGame, "g1", rules.Fields{MinDeposit: d("50")}))
	require.NoError(t, svc.PutRule(ctx, rules.ScopeClient, "u1", rules.Fields{MaxDeposit: d("2000")}))

	eff, err := svc.Resolve(ctx, "u1", "g1")
	require.NoError(t, err)
	assert.True(t, eff.MinDeposit.Equal(decimal.NewFromInt(50)))
	assert.True(t, eff.MaxDeposit.Equal(decimal.NewFromInt(2000)))

	// без игры уровень GAME не участвует
	eff, err = svc.Resolve(ctx, "u1", "")
	require.NoError(t, err)
	assert.True(t, eff.MinDeposit.Equal(decimal.NewFromInt(10)))

	require.NoError(t, svc.DeleteRule(ctx, rules.ScopeClient, "u1"))
	eff, err = svc.Resolve(ctx, "u1", "g1")
	require.NoError(t, err)
	assert.True(t, eff.MaxDeposit.Equal(decimal.NewFromInt(1000)))
}

func TestService_PutRuleValidation(t *testing.T) {
	ctx := context.Background()
	svc := rules.NewService(newStore(t))

	incomplete := globalFields()
	incomplete.MinWithdrawal = nil
	assert.ErrorIs(t, svc.PutRule(ctx, rules.ScopeGlobal, "", incomplete), common.ErrConfiguration)

	assert.ErrorIs(t, svc.PutRule(ctx, rules.Scope("weird"), "x", rules.Fields{}), common.ErrInvalidRequest)
	assert.ErrorIs(t, svc.PutRule(ctx, rules.ScopeClient, " ", rules.Fields{}), common.ErrInvalidRequest)
	assert.ErrorIs(t, svc.PutRule(ctx, rules.ScopeClient, "u1", rules.Fields{MinDeposit: d("-1")}), common.ErrInvalidRequest)
	assert.ErrorIs(t, svc.PutRule(ctx, rules.ScopeClient, "u1",
		rules.Fields{MinDeposit: d("100"), MaxDeposit: d("50")}), common.ErrInvalidRequest)

	assert.ErrorIs(t, svc.DeleteRule(ctx, rules.ScopeGlobal, rules.GlobalID), common.ErrInvalidRequest)
	assert.ErrorIs(t, svc.DeleteRule(ctx, rules.ScopeGame, "missing"), common.ErrNotFound)
}

func TestResolve_UnknownClientOrGame(t *testing.T) {
	ctx := context.Background()
	svc := rules.NewService(newStore(t))
	require.NoError(t, svc.PutRule(ctx, rules.ScopeGlobal, "", globalFields()))

	_, err := svc.Resolve(ctx, "nobody", "")
	assert.ErrorIs(t, err, common.ErrNotFound)
	_, err = svc.Resolve(ctx, "u1", "nogame")
	assert.ErrorIs(t, err, common.ErrNotFound)
	_, err = svc.Resolve(ctx, "", "")
	assert.ErrorIs(t, err, common.ErrInvalidRequest)
}

func TestLimits(t *testing.T) {
	g := globalFields()
	eff, err := rules.Merge(rules.Layers{Global: &g})
	require.NoError(t, err)

	tests := []struct {
		name    string
		amount  string
		total   string
		wantErr error
	}{
		{"ok", "100", "0", nil},
		{"below min", "5", "0", common.ErrInvalidAmount},
		{"above max", "1001", "0", common.ErrInvalidAmount},
		{"zero", "0", "0", common.ErrInvalidAmount},
		{"blocked by balance", "100", "5.01", common.ErrInvalidRequest},
		{"balance equal to block", "100", "5", nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := eff.CheckDeposit(decimal.RequireFromString(tt.amount), decimal.RequireFromString(tt.total))
			if tt.wantErr == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}

	assert.NoError(t, eff.CheckWithdrawal(decimal.NewFromInt(20)))
	assert.ErrorIs(t, eff.CheckWithdrawal(decimal.NewFromInt(19)), common.ErrInvalidAmount)
	assert.ErrorIs(t, eff.CheckWithdrawal(decimal.NewFromInt(501)), common.ErrInvalidAmount)

	assert.Equal(t, "10.5", eff.Bonus(decimal.NewFromInt(105)).String())
	assert.Equal(t, "3.33", eff.Bonus(decimal.RequireFromString("33.33")).String())
}
