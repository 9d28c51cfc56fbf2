// service.go: протокол решения.
//
//  1. блокируем строку заказа;
//  2. заказ уже завершён: возвращаем сохранённый результат, ничего не меняя;
//  3. проверяем права актора;
//  4. reject: нужна причина, переводим в rejected;
//  5-6. approve: эффекты вида заказа (правила читаются заново, балансы текущие);
//  7. коммит: переход, проводки и запись решения, атомарно;
//  8. после коммита: события в NotificationRouter.
package approval

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"

	"serotonyl.ru/cashier/internal/common"
	"serotonyl.ru/cashier/internal/features/actors"
	"serotonyl.ru/cashier/internal/features/ledger"
	"serotonyl.ru/cashier/internal/features/notify"
	"serotonyl.ru/cashier/internal/features/orders"
	"serotonyl.ru/cashier/internal/metrics"
	"serotonyl.ru/cashier/internal/store"
)

// Options: настройки сервиса.
type Options struct {
	Basis         ledger.Basis  // база потолка выплаты
	RetryAttempts int           // попыток при транзиентных ошибках
	RetryBackoff  time.Duration // начальная пауза между попытками
}

// Service: ApprovalService. Создаётся один раз при старте и передаётся
// всем транспортам явно.
type Service struct {
	store    store.Store
	notifier Notifier
	metrics  *metrics.Metrics
	opts     Options
	now      func() time.Time
}

// NewService создаёт сервис решений.
func NewService(st store.Store, notifier Notifier, m *metrics.Metrics, opts Options) *Service {
	if opts.Basis == "" {
		opts.Basis = ledger.BasisTotalDeposited
	}
	if opts.RetryAttempts <= 0 {
		opts.RetryAttempts = 3
	}
	if opts.RetryBackoff <= 0 {
		opts.RetryBackoff = 100 * time.Millisecond
	}
	return &Service{
		store:    st,
		notifier: notifier,
		metrics:  m,
		opts:     opts,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Decide применяет решение по заказу ровно один раз.
func (s *Service) Decide(ctx context.Context, req Request) (Result, error) {
	req.OrderID = strings.TrimSpace(req.OrderID)
	req.ActorID = strings.TrimSpace(req.ActorID)
	if req.OrderID == "" || req.ActorID == "" {
		return Result{}, fmt.Errorf("%w: нужны order_id и actor_id", common.ErrInvalidRequest)
	}
	if !req.Action.Valid() {
		return Result{}, fmt.Errorf("%w: неизвестное действие %q", common.ErrInvalidRequest, req.Action)
	}

	logger := log.WithFields(log.Fields{
		"order_id": req.OrderID,
		"action":   req.Action,
		"actor_id": req.ActorID,
		"channel":  req.Channel,
	})

	var (
		res    Result
		kind   orders.Kind
		replay bool
		events []notify.Event
	)

	start := time.Now()
	err := s.store.InTx(ctx, func(tx store.Tx) error {
		order, err := tx.LockOrder(ctx, req.OrderID)
		if err != nil {
			return err
		}
		kind = order.Kind

		// Блокировка взята: дальше решение доводится до коммита или ошибки,
		// отмена контекста вызывающим его не прерывает
		ctx := context.WithoutCancel(ctx)

		if order.Status.Terminal() {
			replay = true
			res = resultOf(order)
			return nil
		}

		events, err = s.apply(ctx, tx, order, req)
		if err != nil {
			return err
		}
		res = resultOf(order)
		return nil
	})
	s.observe(kind, req.Action, start, replay, err)

	if err != nil {
		if errors.Is(err, common.ErrInsufficientBalance) {
			s.raiseDesync(ctx, req, kind, err)
		}
		logger.WithError(err).WithField("code", common.CodeOf(err)).Warn("Решение не принято")
		return Result{}, err
	}

	if replay {
		logger.WithField("status", res.Status).Info("Заказ уже обработан, возвращаем прежний результат")
		return res, nil
	}

	logger.WithField("status", res.Status).Info("Решение по заказу принято")
	for _, ev := range events {
		s.notifier.Emit(ctx, ev)
	}
	return res, nil
}

// apply выполняет шаги 3–6 внутри транзакции и возвращает события для шага 8.
func (s *Service) apply(ctx context.Context, tx store.Tx, order *orders.Order, req Request) ([]notify.Event, error) {
	actor, err := tx.Actor(ctx, req.ActorID)
	if errors.Is(err, common.ErrNotFound) {
		return nil, fmt.Errorf("%w: неизвестный актор %s", common.ErrPermissionDenied, req.ActorID)
	}
	if err != nil {
		return nil, err
	}

	acct, err := tx.LockAccount(ctx, order.UserID)
	if err != nil {
		return nil, err
	}

	amount := order.Amount
	if req.Action == orders.ActionApprove && req.FinalAmount != nil {
		amount = *req.FinalAmount
	}
	check := actors.Check{
		Channel: req.Channel,
		Action:  req.Action,
		Kind:    order.Kind,
		Amount:  amount,
		Flags:   acct.Flags,
	}
	if err := actor.Authorize(check); err != nil {
		return nil, err
	}

	now := s.now()
	var events []notify.Event

	switch req.Action {
	case orders.ActionReject:
		reason := strings.TrimSpace(req.Reason)
		if reason == "" {
			return nil, common.ErrReasonRequired
		}
		if err := orders.Transition(order, orders.StatusRejected, now); err != nil {
			return nil, err
		}
		order.RejectionReason = reason

	case orders.ActionApprove:
		if req.FinalAmount != nil {
			ev, err := adjustAmount(order, actor, *req.FinalAmount)
			if err != nil {
				return nil, err
			}
			events = append(events, ev)
		}
		// Сначала переход: недопустимый переход не должен трогать ledger
		if err := orders.Transition(order, orders.StatusApproved, now); err != nil {
			return nil, err
		}
		effect, ok := effects[order.Kind]
		if !ok {
			return nil, fmt.Errorf("%w: неизвестный вид заказа %q", common.ErrInvalidRequest, order.Kind)
		}
		authorize := func(moved decimal.Decimal) error {
			c := check
			c.Amount = moved
			return actor.Authorize(c)
		}
		env := &effectEnv{
			tx:        tx,
			ledger:    ledger.New(tx),
			order:     order,
			basis:     s.opts.Basis,
			authorize: authorize,
		}
		if err := effect(ctx, env); err != nil {
			return nil, err
		}
	}

	order.DecidedBy = actor.ID
	if err := tx.SaveOrder(ctx, order); err != nil {
		return nil, err
	}

	token, err := tx.NextToken(ctx)
	if err != nil {
		return nil, err
	}
	action := &orders.ApprovalAction{
		OrderID:        order.ID,
		Action:         req.Action,
		ActorID:        actor.ID,
		Channel:        req.Channel,
		Operator:       req.Operator,
		Reason:         strings.TrimSpace(req.Reason),
		FinalAmount:    req.FinalAmount,
		Token:          token,
		IdempotencyKey: orders.IdempotencyKey(order.ID, token),
		ProcessedAt:    now,
	}
	if err := tx.RecordAction(ctx, action); err != nil {
		return nil, err
	}

	ev := orderEvent(notify.DecisionEvent(order.Kind, req.Action), order)
	ev.ActorID = actor.ID
	ev.Channel = req.Channel
	ev.Reason = order.RejectionReason
	ev.OccurredAt = now
	return append(events, ev), nil
}

// adjustAmount меняет сумму заказа перед одобрением. Только админ или система.
func adjustAmount(order *orders.Order, actor *actors.Actor, final decimal.Decimal) (notify.Event, error) {
	if actor.Kind == actors.KindTelegramBot {
		return notify.Event{}, fmt.Errorf("%w: бот не может менять сумму", common.ErrPermissionDenied)
	}
	if order.Kind == orders.KindWithdrawal {
		return notify.Event{}, fmt.Errorf("%w: сумма вывода определяется балансом", common.ErrInvalidRequest)
	}
	if !final.IsPositive() {
		return notify.Event{}, common.ErrInvalidAmount
	}

	prev := order.Amount
	order.Amount = common.RoundMoney(final)

	ev := orderEvent(notify.EventAmountAdjusted, order)
	ev.PreviousAmount = &prev
	ev.ActorID = actor.ID
	return ev, nil
}

func orderEvent(t notify.EventType, o *orders.Order) notify.Event {
	return notify.Event{
		Type:       t,
		OrderID:    o.ID,
		UserID:     o.UserID,
		Kind:       o.Kind,
		Status:     o.Status,
		Amount:     o.Amount,
		Bonus:      o.BonusAmount,
		Payout:     o.PayoutAmount,
		Void:       o.VoidAmount,
		VoidReason: o.VoidReason,
	}
}

// raiseDesync: нехватка средств при одобрении означает рассинхрон правил и ledger'а.
func (s *Service) raiseDesync(ctx context.Context, req Request, kind orders.Kind, err error) {
	log.WithFields(log.Fields{
		"order_id": req.OrderID,
		"kind":     kind,
		"alert":    "ledger_desync",
	}).WithError(err).Error("Нехватка средств при одобрении заказа")
	if s.metrics != nil {
		s.metrics.LedgerDesync.Inc()
	}
	s.notifier.Emit(ctx, notify.Event{
		Type:    notify.EventLedgerDesync,
		OrderID: req.OrderID,
		Kind:    kind,
		ActorID: req.ActorID,
		Channel: req.Channel,
		Reason:  err.Error(),
	})
}

func (s *Service) observe(kind orders.Kind, action orders.Action, start time.Time, replay bool, err error) {
	if s.metrics == nil {
		return
	}
	k := string(kind)
	if k == "" {
		k = "unknown"
	}
	outcome := "ok"
	switch {
	case err != nil:
		outcome = string(common.CodeOf(err))
	case replay:
		outcome = "replay"
		s.metrics.Replays.WithLabelValues(k).Inc()
	}
	s.metrics.Decisions.WithLabelValues(k, string(action), outcome).Inc()
	s.metrics.DecisionDuration.WithLabelValues(k, string(action)).Observe(time.Since(start).Seconds())
}
