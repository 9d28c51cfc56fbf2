// Package approval содержит единственную точку принятия решений по заказам.
// Любой канал (админка, колбэк бота) приходит сюда; решение применяется
// ровно один раз под блокировкой строки заказа.
// models.go описывает запросы и результаты.
package approval

import (
	"context"

	"github.com/shopspring/decimal"

	"serotonyl.ru/cashier/internal/features/notify"
	"serotonyl.ru/cashier/internal/features/orders"
)

// Request: решение по заказу.
type Request struct {
	OrderID string
	Action  orders.Action
	ActorID string
	Reason  string // обязателен для reject
	Channel orders.Channel
	// Operator: человек за ботом (telegram username), только для аудита
	Operator string
	// FinalAmount: скорректированная сумма при одобрении (только админ)
	FinalAmount *decimal.Decimal
}

// Result: итог решения. Для уже завершённого заказа возвращается
// тот же результат, что и при первом решении.
type Result struct {
	OrderID      string           `json:"order_id"`
	Status       orders.Status    `json:"status"`
	PayoutAmount *decimal.Decimal `json:"payout_amount,omitempty"`
	VoidAmount   *decimal.Decimal `json:"void_amount,omitempty"`
	VoidReason   string           `json:"void_reason,omitempty"`
	Reason       string           `json:"reason,omitempty"`
}

// resultOf строит результат только из сохранённого состояния заказа.
func resultOf(o *orders.Order) Result {
	r := Result{OrderID: o.ID, Status: o.Status}
	switch o.Status {
	case orders.StatusApproved:
		if o.Kind == orders.KindWithdrawal {
			payout, void := o.PayoutAmount, o.VoidAmount
			r.PayoutAmount = &payout
			r.VoidAmount = &void
			r.VoidReason = o.VoidReason
		}
	case orders.StatusRejected:
		r.Reason = o.RejectionReason
	}
	return r
}

// NewOrder: заявка от приёма заказов.
type NewOrder struct {
	UserID          string
	Kind            orders.Kind
	GameID          string
	Amount          decimal.Decimal
	Origin          orders.Channel
	PaymentMethod   string
	PaymentProofURL string
	ProofHash       string
}

// Notifier принимает события после коммита. Ошибок не возвращает.
type Notifier interface {
	Emit(ctx context.Context, ev notify.Event)
}
