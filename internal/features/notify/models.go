// Package notify реализует NotificationRouter: события после коммита уходят в приёмники
// (лог, Telegram, Redis, Kafka). Ошибка доставки никогда не откатывает решение.
// models.go описывает события.
package notify

import (
	"time"

	"github.com/shopspring/decimal"

	"serotonyl.ru/cashier/internal/features/orders"
)

// EventType: тип события.
type EventType string

const (
	EventOrderApproved      EventType = "ORDER_APPROVED"
	EventOrderRejected      EventType = "ORDER_REJECTED"
	EventGameLoadApproved   EventType = "GAME_LOAD_APPROVED"
	EventGameLoadRejected   EventType = "GAME_LOAD_REJECTED"
	EventWalletLoadApproved EventType = "WALLET_LOAD_APPROVED"
	EventWalletLoadRejected EventType = "WALLET_LOAD_REJECTED"
	EventWithdrawApproved   EventType = "WITHDRAW_APPROVED"
	EventWithdrawRejected   EventType = "WITHDRAW_REJECTED"
	EventAmountAdjusted     EventType = "ORDER_AMOUNT_ADJUSTED"
	EventOrderSubmitted     EventType = "ORDER_SUBMITTED"
	EventPendingReview      EventType = "ORDER_PENDING_REVIEW"
	EventOrderCancelled     EventType = "ORDER_CANCELLED"
	EventLedgerDesync       EventType = "LEDGER_DESYNC"
)

// DecisionEvent возвращает тип события для решения по заказу данного вида.
func DecisionEvent(kind orders.Kind, action orders.Action) EventType {
	approved := action == orders.ActionApprove
	switch kind {
	case orders.KindWithdrawal:
		if approved {
			return EventWithdrawApproved
		}
		return EventWithdrawRejected
	case orders.KindWalletLoad:
		if approved {
			return EventWalletLoadApproved
		}
		return EventWalletLoadRejected
	case orders.KindGameLoad:
		if approved {
			return EventGameLoadApproved
		}
		return EventGameLoadRejected
	}
	if approved {
		return EventOrderApproved
	}
	return EventOrderRejected
}

// Event: одно событие для внешних получателей.
type Event struct {
	ID         string          `json:"event_id"`
	Type       EventType       `json:"type"`
	OrderID    string          `json:"order_id,omitempty"`
	UserID     string          `json:"user_id,omitempty"`
	Kind       orders.Kind     `json:"order_type,omitempty"`
	Status     orders.Status   `json:"status,omitempty"`
	Amount     decimal.Decimal `json:"amount"`
	Bonus      decimal.Decimal `json:"bonus_amount"`
	Payout     decimal.Decimal `json:"payout_amount"`
	Void       decimal.Decimal `json:"void_amount"`
	VoidReason string          `json:"void_reason,omitempty"`
	// PreviousAmount: сумма до корректировки (только ORDER_AMOUNT_ADJUSTED)
	PreviousAmount *decimal.Decimal `json:"previous_amount,omitempty"`
	ActorID        string           `json:"actor_id,omitempty"`
	Channel        orders.Channel   `json:"channel,omitempty"`
	Reason         string           `json:"reason,omitempty"`
	OccurredAt     time.Time        `json:"occurred_at"`
}
