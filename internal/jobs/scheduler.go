// Package jobs управляет фоновыми задачами (cron).
// scheduler.go настраивает расписание сверки журнала с балансами.
package jobs

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/robfig/cron/v3"
	log "github.com/sirupsen/logrus"

	"serotonyl.ru/cashier/internal/common"
	"serotonyl.ru/cashier/internal/features/ledger"
	"serotonyl.ru/cashier/internal/metrics"
)

// Reconciler сверяет все счета (реализует *ledger.Service).
type Reconciler interface {
	ReconcileAll(ctx context.Context) ([]ledger.Mismatch, error)
}

// Scheduler управляет фоновыми задачами.
type Scheduler struct {
	cron       *cron.Cron
	reconciler Reconciler
	metrics    *metrics.Metrics
	spec       string
}

// NewScheduler создаёт планировщик в часовом поясе приложения.
// spec: cron-расписание сверки (RECONCILE_CRON).
func NewScheduler(reconciler Reconciler, m *metrics.Metrics, spec, timezone string) *Scheduler {
	c := cron.New(
		cron.WithLocation(common.Location(timezone)),
		// следующая сверка не стартует, пока не закончилась предыдущая
		cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)),
	)
	return &Scheduler{
		cron:       c,
		reconciler: reconciler,
		metrics:    m,
		spec:       spec,
	}
}

// Start регистрирует задачи и запускает cron. Ошибка, некорректное расписание.
func (s *Scheduler) Start(ctx context.Context) error {
	_, err := s.cron.AddFunc(s.spec, func() {
		log.Debug("[CRON] Сверка журнала")
		err := safeRun("reconcile", func() error {
			_, err := s.RunReconcile(ctx)
			return err
		})
		if err != nil {
			log.WithError(err).Error("[CRON] Ошибка сверки")
		}
	})
	if err != nil {
		return err
	}

	s.cron.Start()
	log.WithField("spec", s.spec).Info("Планировщик задач запущен")
	return nil
}

// RunReconcile выполняет одну сверку: расхождения пишутся в лог с alert
// и выставляются в метрику.
func (s *Scheduler) RunReconcile(ctx context.Context) ([]ledger.Mismatch, error) {
	start := time.Now()
	mismatches, err := s.reconciler.ReconcileAll(ctx)

	for _, m := range mismatches {
		log.WithFields(log.Fields{
			"account_id": m.AccountID,
			"alert":      "ledger_reconcile",
		}).Error(m.Error())
	}

	result := "ok"
	switch {
	case err != nil:
		result = "error"
	case len(mismatches) > 0:
		result = "mismatch"
	}
	if s.metrics != nil {
		s.metrics.ReconcileRuns.WithLabelValues(result).Inc()
		if err == nil {
			s.metrics.ReconcileMismatches.Set(float64(len(mismatches)))
		}
	}

	log.WithFields(log.Fields{
		"mismatches": len(mismatches),
		"result":     result,
		"took":       time.Since(start).String(),
	}).Info("[CRON] Сверка завершена")
	return mismatches, err
}

// Stop останавливает планировщик и ждёт текущую задачу.
func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
	log.Info("Планировщик задач остановлен")
}

// safeRun превращает панику задачи в ошибку: cron продолжает работать.
func safeRun(name string, fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			log.WithFields(log.Fields{
				"job":   name,
				"stack": string(debug.Stack()),
			}).Error("ПАНИКА в задаче — восстановлено")
			err = fmt.Errorf("%s: паника: %v", name, r)
		}
	}()
	return fn()
}
