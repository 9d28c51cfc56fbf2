package app

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"serotonyl.ru/cashier/internal/db/postgres"
	"serotonyl.ru/cashier/internal/features/rules"
	"serotonyl.ru/cashier/internal/store"
)

// SQL-миграции встроены в код для упрощения деплоя.
var migrations = []postgres.Migration{
	{Version: 1, SQL: migration001Accounts},
	{Version: 2, SQL: migration002Orders},
	{Version: 3, SQL: migration003Rules},
	{Version: 4, SQL: migration004Actors},
}

var migration001Accounts = `
CREATE TABLE IF NOT EXISTS accounts (
    id TEXT PRIMARY KEY,
    cash_balance NUMERIC(18,2) NOT NULL DEFAULT 0 CHECK (cash_balance >= 0),
    bonus_balance NUMERIC(18,2) NOT NULL DEFAULT 0 CHECK (bonus_balance >= 0),
    play_credits NUMERIC(18,2) NOT NULL DEFAULT 0 CHECK (play_credits >= 0),
    deposit_count INTEGER NOT NULL DEFAULT 0,
    total_deposited NUMERIC(18,2) NOT NULL DEFAULT 0,
    total_withdrawn NUMERIC(18,2) NOT NULL DEFAULT 0,
    deposit_locked BOOLEAN NOT NULL DEFAULT FALSE,
    withdraw_locked BOOLEAN NOT NULL DEFAULT FALSE,
    manual_approval_only BOOLEAN NOT NULL DEFAULT FALSE,
    no_bonus BOOLEAN NOT NULL DEFAULT FALSE,
    is_suspicious BOOLEAN NOT NULL DEFAULT FALSE,
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE TABLE IF NOT EXISTS ledger_entries (
    seq BIGSERIAL PRIMARY KEY,
    id TEXT UNIQUE NOT NULL,
    account_id TEXT NOT NULL REFERENCES accounts(id),
    delta_cash NUMERIC(18,2) NOT NULL DEFAULT 0,
    delta_bonus NUMERIC(18,2) NOT NULL DEFAULT 0,
    delta_credits NUMERIC(18,2) NOT NULL DEFAULT 0,
    order_id TEXT NOT NULL DEFAULT '',
    reason TEXT NOT NULL,
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS idx_ledger_entries_account ON ledger_entries(account_id, seq);
CREATE INDEX IF NOT EXISTS idx_ledger_entries_order ON ledger_entries(order_id);
`

var migration002Orders = `
CREATE TABLE IF NOT EXISTS orders (
    id TEXT PRIMARY KEY,
    user_id TEXT NOT NULL REFERENCES accounts(id),
    kind TEXT NOT NULL,
    game_id TEXT NOT NULL DEFAULT '',
    amount NUMERIC(18,2) NOT NULL CHECK (amount > 0),
    bonus_amount NUMERIC(18,2) NOT NULL DEFAULT 0,
    play_credits_added NUMERIC(18,2) NOT NULL DEFAULT 0,
    payout_amount NUMERIC(18,2) NOT NULL DEFAULT 0,
    void_amount NUMERIC(18,2) NOT NULL DEFAULT 0,
    void_reason TEXT NOT NULL DEFAULT '',
    cash_consumed NUMERIC(18,2) NOT NULL DEFAULT 0,
    play_credits_consumed NUMERIC(18,2) NOT NULL DEFAULT 0,
    bonus_consumed NUMERIC(18,2) NOT NULL DEFAULT 0,
    status TEXT NOT NULL,
    origin TEXT NOT NULL DEFAULT '',
    payment_proof_url TEXT NOT NULL DEFAULT '',
    payment_method TEXT NOT NULL DEFAULT '',
    proof_hash TEXT NOT NULL DEFAULT '',
    rejection_reason TEXT NOT NULL DEFAULT '',
    decided_by TEXT NOT NULL DEFAULT '',
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    decided_at TIMESTAMPTZ
);
CREATE INDEX IF NOT EXISTS idx_orders_user ON orders(user_id, created_at DESC);
CREATE INDEX IF NOT EXISTS idx_orders_status ON orders(status, created_at DESC);
CREATE INDEX IF NOT EXISTS idx_orders_proof_hash ON orders(proof_hash) WHERE proof_hash <> '';

CREATE SEQUENCE IF NOT EXISTS approval_token_seq;
CREATE TABLE IF NOT EXISTS approval_actions (
    id BIGSERIAL PRIMARY KEY,
    order_id TEXT NOT NULL REFERENCES orders(id),
    action TEXT NOT NULL,
    actor_id TEXT NOT NULL,
    channel TEXT NOT NULL,
    operator TEXT NOT NULL DEFAULT '',
    reason TEXT NOT NULL DEFAULT '',
    final_amount NUMERIC(18,2),
    token BIGINT NOT NULL,
    idempotency_key TEXT UNIQUE NOT NULL,
    processed_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS idx_approval_actions_order ON approval_actions(order_id, token);
`

var migration003Rules = `
CREATE TABLE IF NOT EXISTS games (
    id TEXT PRIMARY KEY,
    name TEXT NOT NULL DEFAULT '',
    active BOOLEAN NOT NULL DEFAULT TRUE
);
CREATE TABLE IF NOT EXISTS rules (
    scope TEXT NOT NULL,
    scope_id TEXT NOT NULL,
    min_deposit NUMERIC(18,2),
    max_deposit NUMERIC(18,2),
    min_withdrawal NUMERIC(18,2),
    max_withdrawal NUMERIC(18,2),
    deposit_bonus_pct NUMERIC(9,4),
    min_cashout_multiplier NUMERIC(9,4),
    max_cashout_multiplier NUMERIC(9,4),
    deposit_block_balance NUMERIC(18,2),
    updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    PRIMARY KEY (scope, scope_id)
);
INSERT INTO rules (scope, scope_id, min_deposit, max_deposit, min_withdrawal, max_withdrawal,
                   deposit_bonus_pct, min_cashout_multiplier, max_cashout_multiplier, deposit_block_balance)
VALUES ('global', 'global', 10, 10000, 20, 10000, 0, 1, 5, 10000)
ON CONFLICT (scope, scope_id) DO NOTHING;
`

var migration004Actors = `
CREATE TABLE IF NOT EXISTS actors (
    id TEXT PRIMARY KEY,
    name TEXT NOT NULL DEFAULT '',
    kind TEXT NOT NULL,
    is_active BOOLEAN NOT NULL DEFAULT TRUE,
    can_approve_orders BOOLEAN NOT NULL DEFAULT FALSE,
    can_approve_wallet_loads BOOLEAN NOT NULL DEFAULT FALSE,
    can_approve_withdrawals BOOLEAN NOT NULL DEFAULT FALSE,
    amount_ceiling NUMERIC(18,2),
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
`

// seedMemory кладёт в хранилище в памяти то же глобальное правило, что и миграция 3.
func seedMemory(ctx context.Context, mem *store.Memory) error {
	d := func(v int64) *decimal.Decimal {
		x := decimal.NewFromInt(v)
		return &x
	}
	return mem.UpsertRule(ctx, rules.Rule{
		Scope:   rules.ScopeGlobal,
		ScopeID: rules.GlobalID,
		Fields: rules.Fields{
			MinDeposit:           d(10),
			MaxDeposit:           d(10000),
			MinWithdrawal:        d(20),
			MaxWithdrawal:        d(10000),
			DepositBonusPct:      d(0),
			MinCashoutMultiplier: d(1),
			MaxCashoutMultiplier: d(5),
			DepositBlockBalance:  d(10000),
		},
		UpdatedAt: time.Now().UTC(),
	})
}
