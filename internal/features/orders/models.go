// Package orders описывает заказы (пополнения, выводы, загрузки в игру, пополнения кошелька)
// и их конечный автомат.
// models.go описывает заказ, виды заказов и записи решений.
package orders

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Kind: вид заказа. У каждого вида свой набор переходов и свои эффекты одобрения.
type Kind string

const (
	KindDeposit    Kind = "deposit"
	KindWithdrawal Kind = "withdrawal"
	KindGameLoad   Kind = "game_load"
	KindWalletLoad Kind = "wallet_load"
)

// Valid сообщает, известен ли вид.
func (k Kind) Valid() bool {
	_, ok := transitions[k]
	return ok
}

// Status: состояние заказа.
type Status string

const (
	StatusInitiated            Status = "initiated"
	StatusAwaitingPaymentProof Status = "awaiting_payment_proof"
	StatusPendingReview        Status = "pending_review"
	StatusApproved             Status = "approved"
	StatusRejected             Status = "rejected"
	StatusCancelled            Status = "cancelled"
)

// Terminal: финальное состояние, заказ больше не меняется.
func (s Status) Terminal() bool {
	switch s {
	case StatusApproved, StatusRejected, StatusCancelled:
		return true
	}
	return false
}

// Channel: откуда пришёл заказ или решение.
type Channel string

const (
	ChannelAdmin  Channel = "admin"  // админка (HTTP)
	ChannelBot    Channel = "bot"    // колбэк Telegram-бота
	ChannelPortal Channel = "portal" // клиентский портал (только приём заказов)
	ChannelSystem Channel = "system"
)

// Order: один заказ. Никогда не удаляется.
type Order struct {
	ID     string          `json:"order_id"`
	UserID string          `json:"user_id"`
	Kind   Kind            `json:"order_type"`
	GameID string          `json:"game_id,omitempty"`
	Amount decimal.Decimal `json:"amount"`

	BonusAmount      decimal.Decimal `json:"bonus_amount"`
	PlayCreditsAdded decimal.Decimal `json:"play_credits_added"`
	PayoutAmount     decimal.Decimal `json:"payout_amount"`
	VoidAmount       decimal.Decimal `json:"void_amount"`
	VoidReason       string          `json:"void_reason,omitempty"`

	CashConsumed        decimal.Decimal `json:"cash_consumed"`
	PlayCreditsConsumed decimal.Decimal `json:"play_credits_consumed"`
	BonusConsumed       decimal.Decimal `json:"bonus_consumed"`

	Status          Status  `json:"status"`
	Origin          Channel `json:"origin"`
	PaymentProofURL string  `json:"payment_proof_url,omitempty"`
	PaymentMethod   string  `json:"payment_method,omitempty"` // для wallet_load
	ProofHash       string  `json:"-"`
	RejectionReason string  `json:"rejection_reason,omitempty"`
	DecidedBy       string  `json:"decided_by,omitempty"`

	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
	DecidedAt *time.Time `json:"decided_at,omitempty"`
}

// Action: решение по заказу.
type Action string

const (
	ActionApprove Action = "approve"
	ActionReject  Action = "reject"
)

// Valid сообщает, известно ли действие.
func (a Action) Valid() bool {
	return a == ActionApprove || a == ActionReject
}

// ApprovalAction: запись одного решения администратора или бота.
type ApprovalAction struct {
	OrderID        string           `json:"order_id"`
	Action         Action           `json:"action"`
	ActorID        string           `json:"actor_id"`
	Channel        Channel          `json:"channel"`
	Operator       string           `json:"operator,omitempty"` // кто нажал кнопку в Telegram
	Reason         string           `json:"reason,omitempty"`
	FinalAmount    *decimal.Decimal `json:"final_amount,omitempty"`
	Token          int64            `json:"token"`
	IdempotencyKey string           `json:"idempotency_key"`
	ProcessedAt    time.Time        `json:"processed_at"`
}

// IdempotencyKey собирает ключ решения из заказа и монотонного токена обработки.
func IdempotencyKey(orderID string, token int64) string {
	return fmt.Sprintf("%s:%d", orderID, token)
}
