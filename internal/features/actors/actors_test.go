package actors_test

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"serotonyl.ru/cashier/internal/common"
	"serotonyl.ru/cashier/internal/features/actors"
	"serotonyl.ru/cashier/internal/features/ledger"
	"serotonyl.ru/cashier/internal/features/orders"
	"serotonyl.ru/cashier/internal/store"
)

func ceiling(v int64) *decimal.Decimal {
	d := decimal.NewFromInt(v)
	return &d
}

func bot() actors.Actor {
	return actors.Actor{
		ID:                    "telegram-bot",
		Kind:                  actors.KindTelegramBot,
		IsActive:              true,
		CanApproveOrders:      true,
		CanApproveWalletLoads: true,
		AmountCeiling:         ceiling(100),
	}
}

func admin() actors.Actor {
	return actors.Actor{
		ID:                    "admin-1",
		Kind:                  actors.KindAdmin,
		IsActive:              true,
		CanApproveOrders:      true,
		CanApproveWalletLoads: true,
		CanApproveWithdrawals: true,
	}
}

func check(channel orders.Channel, action orders.Action, kind orders.Kind, amount int64) actors.Check {
	return actors.Check{Channel: channel, Action: action, Kind: kind, Amount: decimal.NewFromInt(amount)}
}

func TestAuthorize(t *testing.T) {
	inactive := admin()
	inactive.IsActive = false

	system := actors.Actor{ID: "sys", Kind: actors.KindSystem, IsActive: true, CanApproveOrders: true}

	tests := []struct {
		name    string
		actor   actors.Actor
		check   actors.Check
		allowed bool
	}{
		{"bot within ceiling", bot(), check(orders.ChannelBot, orders.ActionApprove, orders.KindDeposit, 100), true},
		{"bot above ceiling", bot(), check(orders.ChannelBot, orders.ActionApprove, orders.KindDeposit, 150), false},
		{"bot reject above ceiling", bot(), check(orders.ChannelBot, orders.ActionReject, orders.KindDeposit, 150), true},
		{"bot via admin channel", bot(), check(orders.ChannelAdmin, orders.ActionApprove, orders.KindDeposit, 10), false},
		{"bot withdrawal", bot(), check(orders.ChannelBot, orders.ActionApprove, orders.KindWithdrawal, 10), false},
		{"bot wallet load", bot(), check(orders.ChannelBot, orders.ActionApprove, orders.KindWalletLoad, 10), true},
		{"admin withdrawal", admin(), check(orders.ChannelAdmin, orders.ActionApprove, orders.KindWithdrawal, 100000), true},
		{"admin via bot channel", admin(), check(orders.ChannelBot, orders.ActionApprove, orders.KindDeposit, 10), false},
		{"inactive admin", inactive, check(orders.ChannelAdmin, orders.ActionReject, orders.KindDeposit, 10), false},
		{"system any channel", system, check(orders.ChannelBot, orders.ActionApprove, orders.KindGameLoad, 10), true},
		{"system without flag", system, check(orders.ChannelAdmin, orders.ActionApprove, orders.KindWalletLoad, 10), false},
		{"unknown kind", admin(), check(orders.ChannelAdmin, orders.ActionApprove, orders.Kind("loan"), 10), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.actor.Authorize(tt.check)
			if tt.allowed {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, common.ErrPermissionDenied)
		})
	}
}

func TestAuthorize_FlaggedAccountsNeedHuman(t *testing.T) {
	c := check(orders.ChannelBot, orders.ActionApprove, orders.KindDeposit, 10)
	c.Flags = ledger.Flags{ManualApprovalOnly: true}
	assert.ErrorIs(t, bot().Authorize(c), common.ErrPermissionDenied)

	c.Flags = ledger.Flags{IsSuspicious: true}
	assert.ErrorIs(t, bot().Authorize(c), common.ErrPermissionDenied)

	// человек может
	c.Channel = orders.ChannelAdmin
	assert.NoError(t, admin().Authorize(c))

	// отклонить бот может и помеченный счёт
	c = check(orders.ChannelBot, orders.ActionReject, orders.KindDeposit, 10)
	c.Flags = ledger.Flags{ManualApprovalOnly: true}
	assert.NoError(t, bot().Authorize(c))
}

func TestArgon2id(t *testing.T) {
	hash := actors.HashArgon2id("s3cret", []byte("0123456789abcdef"))
	assert.True(t, actors.VerifyArgon2id("s3cret", hash))
	assert.False(t, actors.VerifyArgon2id("wrong", hash))
	assert.False(t, actors.VerifyArgon2id("s3cret", "not-a-hash"))
}

func TestKeyVerifier_BlocksAfterFailures(t *testing.T) {
	v := actors.NewKeyVerifier(actors.HashArgon2id("key", []byte("0123456789abcdef")))

	require.NoError(t, v.Verify("10.0.0.1", "key"))
	assert.ErrorIs(t, v.Verify("10.0.0.1", ""), common.ErrPermissionDenied)

	for i := 0; i < 5; i++ {
		assert.ErrorIs(t, v.Verify("10.0.0.2", "nope"), common.ErrPermissionDenied)
	}
	// после пяти неудач даже верный ключ не проходит
	assert.ErrorIs(t, v.Verify("10.0.0.2", "key"), common.ErrPermissionDenied)
	// другой адрес не затронут
	assert.NoError(t, v.Verify("10.0.0.3", "key"))
}

func TestService_Put(t *testing.T) {
	ctx := context.Background()
	svc := actors.NewService(store.NewMemory(0))

	a := bot()
	require.NoError(t, svc.Put(ctx, &a))
	assert.False(t, a.CreatedAt.IsZero())

	got, err := svc.Get(ctx, "telegram-bot")
	require.NoError(t, err)
	assert.Equal(t, actors.KindTelegramBot, got.Kind)
	require.NotNil(t, got.AmountCeiling)
	assert.True(t, got.AmountCeiling.Equal(decimal.NewFromInt(100)))

	assert.ErrorIs(t, svc.Put(ctx, &actors.Actor{ID: " ", Kind: actors.KindAdmin}), common.ErrInvalidRequest)
	assert.ErrorIs(t, svc.Put(ctx, &actors.Actor{ID: "x", Kind: "robot"}), common.ErrInvalidRequest)
	assert.ErrorIs(t, svc.Put(ctx, &actors.Actor{ID: "x", Kind: actors.KindAdmin, AmountCeiling: ceiling(-1)}), common.ErrInvalidAmount)

	list, err := svc.List(ctx)
	require.NoError(t, err)
	assert.Len(t, list, 1)

	_, err = svc.Get(ctx, "ghost")
	assert.ErrorIs(t, err, common.ErrNotFound)
}
