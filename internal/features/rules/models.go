// Package rules реализует движок правил с трёхуровневым переопределением.
// models.go описывает строки правил и эффективное (разрешённое) правило.
package rules

import (
	"time"

	"github.com/shopspring/decimal"
)

// Scope: уровень правила.
type Scope string

const (
	ScopeGlobal Scope = "global" // одна строка, все поля обязательны
	ScopeGame   Scope = "game"   // ключ: game_id
	ScopeClient Scope = "client" // ключ: user_id
)

// Valid сообщает, известен ли уровень.
func (s Scope) Valid() bool {
	switch s {
	case ScopeGlobal, ScopeGame, ScopeClient:
		return true
	}
	return false
}

// GlobalID: scope_id единственной глобальной строки.
const GlobalID = "global"

// Fields: набор переопределяемых полей. nil означает «не задано на этом уровне».
type Fields struct {
	MinDeposit           *decimal.Decimal `json:"min_deposit,omitempty"`
	MaxDeposit           *decimal.Decimal `json:"max_deposit,omitempty"`
	MinWithdrawal        *decimal.Decimal `json:"min_withdrawal,omitempty"`
	MaxWithdrawal        *decimal.Decimal `json:"max_withdrawal,omitempty"`
	DepositBonusPct      *decimal.Decimal `json:"deposit_bonus_pct,omitempty"`
	MinCashoutMultiplier *decimal.Decimal `json:"min_cashout_multiplier,omitempty"`
	MaxCashoutMultiplier *decimal.Decimal `json:"max_cashout_multiplier,omitempty"`
	DepositBlockBalance  *decimal.Decimal `json:"deposit_block_balance,omitempty"`
}

// Rule: одна строка правила.
type Rule struct {
	Scope     Scope     `json:"scope"`
	ScopeID   string    `json:"scope_id"`
	Fields    Fields    `json:"fields"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Layers: три необязательных набора полей, из которых собирается эффективное правило.
type Layers struct {
	Global *Fields
	Game   *Fields
	Client *Fields
}

// Effective: полностью разрешённое правило для пары (клиент, игра).
type Effective struct {
	MinDeposit           decimal.Decimal `json:"min_deposit"`
	MaxDeposit           decimal.Decimal `json:"max_deposit"`
	MinWithdrawal        decimal.Decimal `json:"min_withdrawal"`
	MaxWithdrawal        decimal.Decimal `json:"max_withdrawal"`
	DepositBonusPct      decimal.Decimal `json:"deposit_bonus_pct"`
	MinCashoutMultiplier decimal.Decimal `json:"min_cashout_multiplier"`
	MaxCashoutMultiplier decimal.Decimal `json:"max_cashout_multiplier"`
	DepositBlockBalance  decimal.Decimal `json:"deposit_block_balance"`

	// Source: на каком уровне взято каждое поле (имя поля → уровень)
	Source map[string]Scope `json:"source"`
}

// Game: игра, к которой могут быть привязаны правила уровня GAME.
type Game struct {
	ID     string `json:"game_id"`
	Name   string `json:"name"`
	Active bool   `json:"active"`
}
