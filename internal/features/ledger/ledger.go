// ledger.go: атомарные операции над корзинами счёта.
// Каждое изменение баланса сопровождается ровно одной проводкой в журнале,
// и то и другое пишется в одной транзакции хранилища.
package ledger

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"serotonyl.ru/cashier/internal/common"
)

// Book: счета и журнал внутри одной транзакции хранилища.
// LockAccount блокирует строку счёта до конца транзакции (повторный вызов
// в той же транзакции возвращает уже заблокированную, актуальную копию).
type Book interface {
	LockAccount(ctx context.Context, accountID string) (*Account, error)
	SaveAccount(ctx context.Context, account *Account) error
	AppendEntry(ctx context.Context, entry *Entry) error
}

// Ledger: BalanceLedger в рамках одной транзакции.
type Ledger struct {
	book Book
	now  func() time.Time
}

// New создаёт ledger поверх транзакции.
func New(book Book) *Ledger {
	return &Ledger{book: book, now: func() time.Time { return time.Now().UTC() }}
}

// Credit увеличивает одну корзину и пишет проводку.
//
// Параметры:
//   - accountID: чей счёт
//   - bucket: cash, bonus или credits
//   - amount: строго положительная сумма
//   - orderID: заказ-основание (может быть пустым)
//   - reason: причина проводки (ReasonDeposit, ...)
func (l *Ledger) Credit(ctx context.Context, accountID string, bucket Bucket, amount decimal.Decimal, orderID, reason string) (*Entry, error) {
	if !bucket.Valid() {
		return nil, fmt.Errorf("%w: неизвестная корзина %q", common.ErrInvalidRequest, bucket)
	}
	if !amount.IsPositive() {
		return nil, fmt.Errorf("%w: %s", common.ErrInvalidAmount, amount)
	}

	acct, err := l.book.LockAccount(ctx, accountID)
	if err != nil {
		return nil, err
	}

	entry := l.newEntry(accountID, orderID, reason)
	entry.add(bucket, amount)
	acct.Balances.add(bucket, amount)

	if err := l.write(ctx, acct, entry); err != nil {
		return nil, err
	}
	return entry, nil
}

// Consume списывает корзины по плану: либо весь план, либо ничего.
// Если хоть одна корзина ушла бы в минус, ErrInsufficientBalance,
// счёт не меняется.
func (l *Ledger) Consume(ctx context.Context, accountID string, plan Plan, orderID, reason string) (*Entry, error) {
	if err := plan.validate(); err != nil {
		return nil, err
	}

	acct, err := l.book.LockAccount(ctx, accountID)
	if err != nil {
		return nil, err
	}

	next := acct.Balances
	entry := l.newEntry(accountID, orderID, reason)
	for _, step := range plan {
		next.add(step.Bucket, step.Amount.Neg())
		if next.Get(step.Bucket).IsNegative() {
			return nil, fmt.Errorf("%w: корзина %s, нужно %s, есть %s",
				common.ErrInsufficientBalance, step.Bucket,
				plan.Of(step.Bucket), acct.Balances.Get(step.Bucket))
		}
		entry.add(step.Bucket, step.Amount.Neg())
	}

	acct.Balances = next
	if err := l.write(ctx, acct, entry); err != nil {
		return nil, err
	}
	return entry, nil
}

func (l *Ledger) newEntry(accountID, orderID, reason string) *Entry {
	return &Entry{
		ID:        uuid.NewString(),
		AccountID: accountID,
		OrderID:   orderID,
		Reason:    reason,
		CreatedAt: l.now(),
	}
}

func (l *Ledger) write(ctx context.Context, acct *Account, entry *Entry) error {
	acct.UpdatedAt = entry.CreatedAt
	if err := l.book.SaveAccount(ctx, acct); err != nil {
		return fmt.Errorf("сохранение счёта %s: %w", acct.ID, err)
	}
	if err := l.book.AppendEntry(ctx, entry); err != nil {
		return fmt.Errorf("запись проводки: %w", err)
	}
	return nil
}
