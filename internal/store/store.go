// Package store описывает контракт хранилища, общий для всех фич:
// одна транзакция охватывает заказ, счёт, проводки и запись решения.
// Реализации: Postgres (internal/db/postgres) и in-memory (этот пакет).
package store

import (
	"context"

	"serotonyl.ru/cashier/internal/features/actors"
	"serotonyl.ru/cashier/internal/features/ledger"
	"serotonyl.ru/cashier/internal/features/orders"
	"serotonyl.ru/cashier/internal/features/rules"
)

// Tx: одна атомарная транзакция. Блокировки держатся до её конца.
type Tx interface {
	ledger.Book
	rules.LayerLoader

	// LockOrder блокирует строку заказа. Не дождались за таймаут, ErrLockTimeout.
	LockOrder(ctx context.Context, orderID string) (*orders.Order, error)
	InsertOrder(ctx context.Context, order *orders.Order) error
	SaveOrder(ctx context.Context, order *orders.Order) error

	RecordAction(ctx context.Context, action *orders.ApprovalAction) error
	// LastAction: последнее записанное решение по заказу или ErrNotFound.
	LastAction(ctx context.Context, orderID string) (*orders.ApprovalAction, error)
	// NextToken выдаёт монотонный токен обработки.
	NextToken(ctx context.Context) (int64, error)

	Actor(ctx context.Context, actorID string) (*actors.Actor, error)
	PendingWalletLoads(ctx context.Context, userID string) (int, error)
	ProofHashUsed(ctx context.Context, hash string) (bool, error)
}

// OrderFilter: фильтр списка заказов. Пустые поля не фильтруют.
type OrderFilter struct {
	UserID string
	Kind   orders.Kind
	Status orders.Status
	Limit  int
}

// Store: хранилище целиком.
type Store interface {
	// InTx выполняет fn в одной транзакции: ошибка fn, откат, иначе коммит.
	InTx(ctx context.Context, fn func(tx Tx) error) error

	ledger.Reader
	rules.Source
	actors.Source

	Order(ctx context.Context, orderID string) (*orders.Order, error)
	ListOrders(ctx context.Context, f OrderFilter) ([]*orders.Order, error)
	Actions(ctx context.Context, orderID string) ([]orders.ApprovalAction, error)

	CreateAccount(ctx context.Context, account *ledger.Account) error

	Ping(ctx context.Context) error
}
