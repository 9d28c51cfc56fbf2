// Package metrics описывает prometheus-метрики кассы.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics содержит все коллекторы. Регистрируются в переданном реестре,
// чтобы тесты могли создавать свои экземпляры.
type Metrics struct {
	// --- Решения ---
	Decisions        *prometheus.CounterVec   // kind, action, outcome
	DecisionDuration *prometheus.HistogramVec // kind, action
	Replays          *prometheus.CounterVec   // kind
	Retries          prometheus.Counter

	// --- Ledger ---
	LedgerDesync        prometheus.Counter
	ReconcileMismatches prometheus.Gauge
	ReconcileRuns       *prometheus.CounterVec // result

	// --- Уведомления ---
	NotifySent     *prometheus.CounterVec // sink
	NotifyFailures *prometheus.CounterVec // sink
	NotifyDropped  prometheus.Counter
}

// New создаёт и регистрирует метрики.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Decisions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "cashier",
			Name:      "decisions_total",
			Help:      "Решения по заказам по виду, действию и исходу.",
		}, []string{"kind", "action", "outcome"}),
		DecisionDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "cashier",
			Name:      "decision_duration_seconds",
			Help:      "Длительность транзакции решения.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"kind", "action"}),
		Replays: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "cashier",
			Name:      "decision_replays_total",
			Help:      "Повторные решения по уже завершённым заказам.",
		}, []string{"kind"}),
		Retries: f.NewCounter(prometheus.CounterOpts{
			Namespace: "cashier",
			Name:      "decision_retries_total",
			Help:      "Повторы решений после транзиентных ошибок.",
		}),
		LedgerDesync: f.NewCounter(prometheus.CounterOpts{
			Namespace: "cashier",
			Name:      "ledger_desync_total",
			Help:      "Одобрения, упавшие на нехватке средств.",
		}),
		ReconcileMismatches: f.NewGauge(prometheus.GaugeOpts{
			Namespace: "cashier",
			Name:      "reconcile_mismatched_accounts",
			Help:      "Счета, у которых журнал не сходится с балансом (последняя сверка).",
		}),
		ReconcileRuns: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "cashier",
			Name:      "reconcile_runs_total",
			Help:      "Запуски сверки журнала.",
		}, []string{"result"}),
		NotifySent: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "cashier",
			Name:      "notify_sent_total",
			Help:      "Доставленные уведомления по приёмнику.",
		}, []string{"sink"}),
		NotifyFailures: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "cashier",
			Name:      "notify_failures_total",
			Help:      "Неудачные доставки уведомлений по приёмнику.",
		}, []string{"sink"}),
		NotifyDropped: f.NewCounter(prometheus.CounterOpts{
			Namespace: "cashier",
			Name:      "notify_dropped_total",
			Help:      "События, не доставленные ни одним приёмником после всех попыток.",
		}),
	}
}
