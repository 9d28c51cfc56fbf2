// Package actors определяет, кто может принимать решения по заказам.
// models.go описывает акторов (админ, Telegram-бот, система) и их флаги прав.
package actors

import (
	"time"

	"github.com/shopspring/decimal"
)

// Kind: тип актора.
type Kind string

const (
	KindAdmin       Kind = "admin"
	KindTelegramBot Kind = "telegram_bot"
	KindSystem      Kind = "system"
)

// Valid сообщает, известен ли тип.
func (k Kind) Valid() bool {
	switch k {
	case KindAdmin, KindTelegramBot, KindSystem:
		return true
	}
	return false
}

// Actor: идентичность, от имени которой принимается решение.
type Actor struct {
	ID   string `json:"actor_id"`
	Name string `json:"name"`
	Kind Kind   `json:"kind"`

	IsActive              bool `json:"is_active"`
	CanApproveOrders      bool `json:"can_approve_orders"` // пополнения и загрузки в игру
	CanApproveWalletLoads bool `json:"can_approve_wallet_loads"`
	CanApproveWithdrawals bool `json:"can_approve_withdrawals"`

	// AmountCeiling: максимальная сумма заказа, которую актор может одобрить (nil: без лимита)
	AmountCeiling *decimal.Decimal `json:"amount_ceiling,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
