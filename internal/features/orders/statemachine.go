package orders

import (
	"fmt"
	"time"

	"serotonyl.ru/cashier/internal/common"
)

// transitions: единственный источник правды о допустимых переходах.
// game_load пропускает awaiting_payment_proof.
var transitions = map[Kind]map[Status][]Status{
	KindDeposit:    withProof,
	KindWithdrawal: withProof,
	KindWalletLoad: withProof,
	KindGameLoad: {
		StatusInitiated:     {StatusPendingReview, StatusRejected, StatusCancelled},
		StatusPendingReview: {StatusApproved, StatusRejected, StatusCancelled},
	},
}

var withProof = map[Status][]Status{
	StatusInitiated:            {StatusAwaitingPaymentProof, StatusRejected, StatusCancelled},
	StatusAwaitingPaymentProof: {StatusPendingReview, StatusRejected, StatusCancelled},
	StatusPendingReview:        {StatusApproved, StatusRejected, StatusCancelled},
}

// CanTransition сообщает, есть ли переход from → to для вида kind.
func CanTransition(kind Kind, from, to Status) bool {
	for _, s := range transitions[kind][from] {
		if s == to {
			return true
		}
	}
	return false
}

// Transition переводит заказ в состояние to. Если перехода нет в таблице,
// возвращает ErrIllegalTransition и заказ не меняет.
func Transition(o *Order, to Status, at time.Time) error {
	if !CanTransition(o.Kind, o.Status, to) {
		return fmt.Errorf("%w: %s %s → %s", common.ErrIllegalTransition, o.Kind, o.Status, to)
	}
	o.Status = to
	o.UpdatedAt = at
	if to.Terminal() {
		o.DecidedAt = &at
	}
	return nil
}

// AfterIntake: куда заказ попадает сразу после создания.
func AfterIntake(kind Kind) Status {
	if kind == KindGameLoad {
		return StatusPendingReview
	}
	return StatusAwaitingPaymentProof
}
