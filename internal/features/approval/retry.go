package approval

import (
	"context"
	"time"

	log "github.com/sirupsen/logrus"

	"serotonyl.ru/cashier/internal/common"
)

// DecideWithRetry: Decide с повтором на транзиентных ошибках хранилища
// (таймаут блокировки, недоступность БД). Бизнес-ошибки возвращаются сразу.
// Повтор безопасен: завершённый заказ вернёт прежний результат.
func (s *Service) DecideWithRetry(ctx context.Context, req Request) (Result, error) {
	backoff := s.opts.RetryBackoff

	for attempt := 1; ; attempt++ {
		res, err := s.Decide(ctx, req)
		if err == nil || !common.IsRetryable(err) || attempt >= s.opts.RetryAttempts {
			return res, err
		}

		if s.metrics != nil {
			s.metrics.Retries.Inc()
		}
		log.WithFields(log.Fields{
			"order_id": req.OrderID,
			"attempt":  attempt,
			"backoff":  backoff.String(),
		}).WithError(err).Warn("Транзиентная ошибка, повторяем решение")

		t := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			t.Stop()
			return Result{}, err
		case <-t.C:
		}
		backoff *= 2
	}
}
