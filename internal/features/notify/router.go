package notify

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"serotonyl.ru/cashier/internal/metrics"
)

// Sink: один получатель событий.
type Sink interface {
	Name() string
	Send(ctx context.Context, ev Event) error
}

// Options: настройки роутера.
type Options struct {
	Workers     int           // сколько событий доставляем параллельно
	QueueSize   int           // буфер очереди
	MaxAttempts int           // попыток на приёмник
	Backoff     time.Duration // пауза между попытками (растёт линейно)
	SendTimeout time.Duration // таймаут одной попытки
}

// Router раздаёт события всем приёмникам. Emit не блокирует вызывающего
// и не возвращает ошибок: доставка «хотя бы раз» делается повторами.
type Router struct {
	sinks   []Sink
	opts    Options
	metrics *metrics.Metrics

	queue chan Event
	wg    sync.WaitGroup

	mu     sync.RWMutex
	closed bool
}

// NewRouter создаёт роутер. Воркеры стартуют в Start.
func NewRouter(opts Options, m *metrics.Metrics, sinks ...Sink) *Router {
	if opts.Workers <= 0 {
		opts.Workers = 4
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = 256
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 3
	}
	if opts.SendTimeout <= 0 {
		opts.SendTimeout = 10 * time.Second
	}
	return &Router{
		sinks:   sinks,
		opts:    opts,
		metrics: m,
		queue:   make(chan Event, opts.QueueSize),
	}
}

// Start запускает воркеры доставки.
func (r *Router) Start() {
	for i := 0; i < r.opts.Workers; i++ {
		r.wg.Add(1)
		go func() {
			defer r.wg.Done()
			for ev := range r.queue {
				r.deliver(ev)
			}
		}()
	}
	log.WithFields(log.Fields{
		"workers": r.opts.Workers,
		"sinks":   len(r.sinks),
	}).Info("Роутер уведомлений запущен")
}

// Emit ставит событие в очередь. Если очередь полна, доставляем
// в отдельной горутине, но вызывающего не держим. После Close событие
// отбрасывается и учитывается в notify_dropped.
func (r *Router) Emit(_ context.Context, ev Event) {
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	if ev.OccurredAt.IsZero() {
		ev.OccurredAt = time.Now().UTC()
	}

	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		log.WithFields(log.Fields{"type": ev.Type, "order_id": ev.OrderID}).
			Warn("Роутер остановлен, событие отброшено")
		if r.metrics != nil {
			r.metrics.NotifyDropped.Inc()
		}
		return
	}

	select {
	case r.queue <- ev:
	default:
		log.WithField("type", ev.Type).Warn("Очередь уведомлений полна")
		r.wg.Add(1)
		go func() {
			defer r.wg.Done()
			r.deliver(ev)
		}()
	}
}

// Close закрывает очередь и ждёт, пока воркеры её разберут.
func (r *Router) Close() {
	r.mu.Lock()
	if !r.closed {
		r.closed = true
		close(r.queue)
	}
	r.mu.Unlock()
	r.wg.Wait()
	log.Info("Роутер уведомлений остановлен")
}

func (r *Router) deliver(ev Event) {
	delivered := false
	for _, s := range r.sinks {
		if r.sendWithRetry(s, ev) {
			delivered = true
		}
	}
	if !delivered && len(r.sinks) > 0 && r.metrics != nil {
		r.metrics.NotifyDropped.Inc()
	}
}

func (r *Router) sendWithRetry(s Sink, ev Event) bool {
	logger := log.WithFields(log.Fields{
		"sink":     s.Name(),
		"type":     ev.Type,
		"event_id": ev.ID,
		"order_id": ev.OrderID,
	})

	for attempt := 1; attempt <= r.opts.MaxAttempts; attempt++ {
		ctx, cancel := context.WithTimeout(context.Background(), r.opts.SendTimeout)
		err := s.Send(ctx, ev)
		cancel()

		if err == nil {
			if r.metrics != nil {
				r.metrics.NotifySent.WithLabelValues(s.Name()).Inc()
			}
			return true
		}

		if r.metrics != nil {
			r.metrics.NotifyFailures.WithLabelValues(s.Name()).Inc()
		}
		logger.WithError(err).WithField("attempt", attempt).Warn("Не удалось доставить уведомление")

		if attempt < r.opts.MaxAttempts && r.opts.Backoff > 0 {
			time.Sleep(r.opts.Backoff * time.Duration(attempt))
		}
	}

	logger.Error("Уведомление не доставлено после всех попыток")
	return false
}
