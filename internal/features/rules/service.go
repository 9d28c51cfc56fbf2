// service.go: чтение эффективного правила и запись строк правил.
package rules

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"

	"serotonyl.ru/cashier/internal/common"
)

// Source: хранилище строк правил.
type Source interface {
	LayerLoader
	UpsertRule(ctx context.Context, rule Rule) error
	DeleteRule(ctx context.Context, scope Scope, scopeID string) error
	UpsertGame(ctx context.Context, game Game) error
}

// Service: RuleResolver для админки и читателей.
type Service struct {
	src Source
}

// NewService создаёт сервис правил.
func NewService(src Source) *Service {
	return &Service{src: src}
}

// Resolve возвращает эффективное правило для (userID, gameID).
func (s *Service) Resolve(ctx context.Context, userID, gameID string) (Effective, error) {
	return Resolve(ctx, s.src, userID, gameID)
}

// PutRule записывает строку правила. Полнота проверяется только для GLOBAL.
func (s *Service) PutRule(ctx context.Context, scope Scope, scopeID string, f Fields) error {
	if !scope.Valid() {
		return fmt.Errorf("%w: неизвестный уровень %q", common.ErrInvalidRequest, scope)
	}
	if scope == ScopeGlobal {
		scopeID = GlobalID
		if missing := missingFields(&f); len(missing) > 0 {
			return fmt.Errorf("%w: в глобальном правиле не заданы %s",
				common.ErrConfiguration, strings.Join(missing, ", "))
		}
	}
	if strings.TrimSpace(scopeID) == "" {
		return fmt.Errorf("%w: пустой scope_id", common.ErrInvalidRequest)
	}
	if err := validateFields(f); err != nil {
		return err
	}

	rule := Rule{Scope: scope, ScopeID: scopeID, Fields: f, UpdatedAt: time.Now().UTC()}
	if err := s.src.UpsertRule(ctx, rule); err != nil {
		return err
	}

	log.WithFields(log.Fields{
		"scope":    scope,
		"scope_id": scopeID,
	}).Info("Правило обновлено")
	return nil
}

// DeleteRule удаляет переопределение. Глобальное правило удалить нельзя.
func (s *Service) DeleteRule(ctx context.Context, scope Scope, scopeID string) error {
	if scope == ScopeGlobal {
		return fmt.Errorf("%w: глобальное правило удалить нельзя", common.ErrInvalidRequest)
	}
	if !scope.Valid() {
		return fmt.Errorf("%w: неизвестный уровень %q", common.ErrInvalidRequest, scope)
	}
	if err := s.src.DeleteRule(ctx, scope, scopeID); err != nil {
		return err
	}
	log.WithFields(log.Fields{"scope": scope, "scope_id": scopeID}).Info("Переопределение удалено")
	return nil
}

// PutGame регистрирует игру, к которой можно привязать правило уровня GAME.
func (s *Service) PutGame(ctx context.Context, g Game) error {
	g.ID = strings.TrimSpace(g.ID)
	if g.ID == "" {
		return fmt.Errorf("%w: пустой game_id", common.ErrInvalidRequest)
	}
	if err := s.src.UpsertGame(ctx, g); err != nil {
		return err
	}
	log.WithFields(log.Fields{"game_id": g.ID, "active": g.Active}).Info("Игра сохранена")
	return nil
}

// validateFields проверяет значения, заданные в строке.
func validateFields(f Fields) error {
	for _, fd := range fieldTable {
		if v := *fd.in(&f); v != nil && v.IsNegative() {
			return fmt.Errorf("%w: %s не может быть отрицательным", common.ErrInvalidRequest, fd.name)
		}
	}
	pairs := []struct {
		name     string
		min, max *decimal.Decimal
	}{
		{"deposit", f.MinDeposit, f.MaxDeposit},
		{"withdrawal", f.MinWithdrawal, f.MaxWithdrawal},
		{"cashout_multiplier", f.MinCashoutMultiplier, f.MaxCashoutMultiplier},
	}
	for _, p := range pairs {
		if p.min != nil && p.max != nil && p.min.GreaterThan(*p.max) {
			return fmt.Errorf("%w: min_%s больше max_%s", common.ErrInvalidRequest, p.name, p.name)
		}
	}
	return nil
}
