// service.go: реестр акторов для админки.
package actors

import (
	"context"
	"fmt"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"

	"serotonyl.ru/cashier/internal/common"
)

// Source: хранилище акторов.
type Source interface {
	Actor(ctx context.Context, actorID string) (*Actor, error)
	UpsertActor(ctx context.Context, actor *Actor) error
	ListActors(ctx context.Context) ([]*Actor, error)
}

// Service управляет акторами.
type Service struct {
	src Source
}

// NewService создаёт сервис акторов.
func NewService(src Source) *Service {
	return &Service{src: src}
}

// Get возвращает актора по ID.
func (s *Service) Get(ctx context.Context, actorID string) (*Actor, error) {
	return s.src.Actor(ctx, actorID)
}

// List возвращает всех акторов.
func (s *Service) List(ctx context.Context) ([]*Actor, error) {
	return s.src.ListActors(ctx)
}

// Put создаёт или обновляет актора.
func (s *Service) Put(ctx context.Context, a *Actor) error {
	a.ID = strings.TrimSpace(a.ID)
	if a.ID == "" {
		return fmt.Errorf("%w: пустой actor_id", common.ErrInvalidRequest)
	}
	if !a.Kind.Valid() {
		return fmt.Errorf("%w: неизвестный тип актора %q", common.ErrInvalidRequest, a.Kind)
	}
	if a.AmountCeiling != nil && a.AmountCeiling.IsNegative() {
		return fmt.Errorf("%w: отрицательный лимит", common.ErrInvalidAmount)
	}

	now := time.Now().UTC()
	if a.CreatedAt.IsZero() {
		a.CreatedAt = now
	}
	a.UpdatedAt = now

	if err := s.src.UpsertActor(ctx, a); err != nil {
		return err
	}
	log.WithFields(log.Fields{
		"actor_id": a.ID,
		"kind":     a.Kind,
		"active":   a.IsActive,
	}).Info("Актор сохранён")
	return nil
}
