// intake.go: приём заказов и остальные изменения заказов
// и счетов. Все они идут через тот же скелет блокировок, что и Decide.
package approval

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"

	"serotonyl.ru/cashier/internal/common"
	"serotonyl.ru/cashier/internal/features/ledger"
	"serotonyl.ru/cashier/internal/features/notify"
	"serotonyl.ru/cashier/internal/features/orders"
	"serotonyl.ru/cashier/internal/features/rules"
	"serotonyl.ru/cashier/internal/store"
)

// OpenAccount создаёт пустой счёт пользователя.
func (s *Service) OpenAccount(ctx context.Context, userID string) (*ledger.Account, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, fmt.Errorf("%w: пустой user_id", common.ErrInvalidRequest)
	}
	acct := &ledger.Account{ID: userID}
	if err := s.store.CreateAccount(ctx, acct); err != nil {
		return nil, err
	}
	log.WithField("account_id", userID).Info("Счёт открыт")
	return s.store.Account(ctx, userID)
}

// Submit принимает новый заказ, проверяя его по эффективному правилу и флагам счёта.
func (s *Service) Submit(ctx context.Context, n NewOrder) (*orders.Order, error) {
	if !n.Kind.Valid() {
		return nil, fmt.Errorf("%w: неизвестный вид заказа %q", common.ErrInvalidRequest, n.Kind)
	}
	if n.Origin == "" {
		n.Origin = orders.ChannelPortal
	}

	var created *orders.Order
	err := s.store.InTx(ctx, func(tx store.Tx) error {
		acct, err := tx.LockAccount(ctx, n.UserID)
		if err != nil {
			return err
		}
		eff, err := rules.Resolve(ctx, tx, n.UserID, n.GameID)
		if err != nil {
			return err
		}
		amount, err := s.checkIntake(ctx, tx, acct, eff, &n)
		if err != nil {
			return err
		}

		now := s.now()
		o := &orders.Order{
			ID:              uuid.NewString(),
			UserID:          n.UserID,
			Kind:            n.Kind,
			GameID:          n.GameID,
			Amount:          common.RoundMoney(amount),
			Status:          orders.StatusInitiated,
			Origin:          n.Origin,
			PaymentMethod:   n.PaymentMethod,
			PaymentProofURL: n.PaymentProofURL,
			ProofHash:       n.ProofHash,
			CreatedAt:       now,
			UpdatedAt:       now,
		}
		if err := orders.Transition(o, orders.AfterIntake(o.Kind), now); err != nil {
			return err
		}
		// Подтверждение оплаты приложено сразу, на проверку
		if o.Status == orders.StatusAwaitingPaymentProof && o.PaymentProofURL != "" {
			if err := orders.Transition(o, orders.StatusPendingReview, now); err != nil {
				return err
			}
		}
		if err := tx.InsertOrder(ctx, o); err != nil {
			return err
		}
		created = o
		return nil
	})
	if err != nil {
		log.WithError(err).WithFields(log.Fields{
			"user_id": n.UserID,
			"kind":    n.Kind,
		}).Warn("Заказ не принят")
		return nil, err
	}

	log.WithFields(log.Fields{
		"order_id": created.ID,
		"user_id":  created.UserID,
		"kind":     created.Kind,
		"amount":   created.Amount.String(),
		"status":   created.Status,
	}).Info("Заказ принят")

	s.notifier.Emit(ctx, orderEvent(notify.EventOrderSubmitted, created))
	if created.Status == orders.StatusPendingReview {
		s.notifier.Emit(ctx, orderEvent(notify.EventPendingReview, created))
	}
	return created, nil
}

// checkIntake проверяет заявку и возвращает сумму заказа.
func (s *Service) checkIntake(ctx context.Context, tx store.Tx, acct *ledger.Account, eff rules.Effective, n *NewOrder) (decimal.Decimal, error) {
	switch n.Kind {
	case orders.KindDeposit:
		if acct.Flags.DepositLocked {
			return decimal.Zero, fmt.Errorf("%w: пополнения заблокированы", common.ErrPermissionDenied)
		}
		return n.Amount, eff.CheckDeposit(n.Amount, acct.Total())

	case orders.KindWalletLoad:
		if acct.Flags.DepositLocked {
			return decimal.Zero, fmt.Errorf("%w: пополнения заблокированы", common.ErrPermissionDenied)
		}
		if strings.TrimSpace(n.PaymentMethod) == "" {
			return decimal.Zero, fmt.Errorf("%w: не указан способ оплаты", common.ErrInvalidRequest)
		}
		if err := eff.CheckDeposit(n.Amount, acct.Total()); err != nil {
			return decimal.Zero, err
		}
		pending, err := tx.PendingWalletLoads(ctx, n.UserID)
		if err != nil {
			return decimal.Zero, err
		}
		if pending > 0 {
			return decimal.Zero, fmt.Errorf("%w: уже есть необработанное пополнение кошелька", common.ErrInvalidRequest)
		}
		if err := s.checkProofHash(ctx, tx, n.ProofHash); err != nil {
			return decimal.Zero, err
		}
		return n.Amount, nil

	case orders.KindGameLoad:
		if acct.Flags.DepositLocked {
			return decimal.Zero, fmt.Errorf("%w: загрузки заблокированы", common.ErrPermissionDenied)
		}
		if n.GameID == "" {
			return decimal.Zero, fmt.Errorf("%w: не указана игра", common.ErrInvalidRequest)
		}
		if err := eff.CheckDeposit(n.Amount, decimal.Zero); err != nil {
			return decimal.Zero, err
		}
		if acct.Cash.LessThan(n.Amount) {
			return decimal.Zero, fmt.Errorf("%w: в кошельке %s", common.ErrInsufficientBalance, common.FormatMoney(acct.Cash))
		}
		return n.Amount, nil

	case orders.KindWithdrawal:
		if acct.Flags.WithdrawLocked {
			return decimal.Zero, fmt.Errorf("%w: выводы заблокированы", common.ErrPermissionDenied)
		}
		// выводится весь баланс; сумма в заявке, справочная
		total := acct.Total()
		return total, eff.CheckWithdrawal(total)
	}
	return decimal.Zero, fmt.Errorf("%w: неизвестный вид заказа %q", common.ErrInvalidRequest, n.Kind)
}

func (s *Service) checkProofHash(ctx context.Context, tx store.Tx, hash string) error {
	if hash == "" {
		return nil
	}
	used, err := tx.ProofHashUsed(ctx, hash)
	if err != nil {
		return err
	}
	if used {
		return fmt.Errorf("%w: это подтверждение оплаты уже использовано", common.ErrInvalidRequest)
	}
	return nil
}

// SubmitProof прикладывает подтверждение оплаты и отправляет заказ на проверку.
func (s *Service) SubmitProof(ctx context.Context, orderID, proofURL, proofHash string) (*orders.Order, error) {
	if strings.TrimSpace(proofURL) == "" {
		return nil, fmt.Errorf("%w: пустая ссылка на подтверждение", common.ErrInvalidRequest)
	}

	var updated *orders.Order
	err := s.store.InTx(ctx, func(tx store.Tx) error {
		o, err := tx.LockOrder(ctx, orderID)
		if err != nil {
			return err
		}
		if o.ProofHash != proofHash {
			if err := s.checkProofHash(ctx, tx, proofHash); err != nil {
				return err
			}
		}
		if err := orders.Transition(o, orders.StatusPendingReview, s.now()); err != nil {
			return err
		}
		o.PaymentProofURL = proofURL
		o.ProofHash = proofHash
		if err := tx.SaveOrder(ctx, o); err != nil {
			return err
		}
		updated = o
		return nil
	})
	if err != nil {
		return nil, err
	}

	log.WithField("order_id", orderID).Info("Подтверждение оплаты получено")
	s.notifier.Emit(ctx, orderEvent(notify.EventPendingReview, updated))
	return updated, nil
}

// Cancel отменяет незавершённый заказ. Повторная отмена возвращает заказ как есть.
func (s *Service) Cancel(ctx context.Context, orderID, actorID, reason string) (*orders.Order, error) {
	var (
		updated *orders.Order
		already bool
	)
	err := s.store.InTx(ctx, func(tx store.Tx) error {
		o, err := tx.LockOrder(ctx, orderID)
		if err != nil {
			return err
		}
		if o.Status == orders.StatusCancelled {
			updated, already = o, true
			return nil
		}
		if err := orders.Transition(o, orders.StatusCancelled, s.now()); err != nil {
			return err
		}
		o.DecidedBy = actorID
		if err := tx.SaveOrder(ctx, o); err != nil {
			return err
		}
		updated = o
		return nil
	})
	if err != nil {
		return nil, err
	}
	if already {
		return updated, nil
	}

	log.WithFields(log.Fields{"order_id": orderID, "actor_id": actorID}).Info("Заказ отменён")
	ev := orderEvent(notify.EventOrderCancelled, updated)
	ev.ActorID = actorID
	ev.Reason = reason
	s.notifier.Emit(ctx, ev)
	return updated, nil
}

// SetFlags меняет флаги счёта под блокировкой строки.
func (s *Service) SetFlags(ctx context.Context, accountID string, flags ledger.Flags) (*ledger.Account, error) {
	var updated *ledger.Account
	err := s.store.InTx(ctx, func(tx store.Tx) error {
		acct, err := tx.LockAccount(ctx, accountID)
		if err != nil {
			return err
		}
		acct.Flags = flags
		acct.UpdatedAt = s.now()
		if err := tx.SaveAccount(ctx, acct); err != nil {
			return err
		}
		updated = acct
		return nil
	})
	if err != nil {
		return nil, err
	}
	log.WithFields(log.Fields{"account_id": accountID, "flags": fmt.Sprintf("%+v", flags)}).Info("Флаги счёта изменены")
	return updated, nil
}

// Order возвращает заказ.
func (s *Service) Order(ctx context.Context, orderID string) (*orders.Order, error) {
	return s.store.Order(ctx, orderID)
}

// Orders возвращает список заказов по фильтру.
func (s *Service) Orders(ctx context.Context, f store.OrderFilter) ([]*orders.Order, error) {
	return s.store.ListOrders(ctx, f)
}

// History возвращает все решения по заказу.
func (s *Service) History(ctx context.Context, orderID string) ([]orders.ApprovalAction, error) {
	if _, err := s.store.Order(ctx, orderID); err != nil {
		return nil, err
	}
	return s.store.Actions(ctx, orderID)
}

// IsNotFound: удобная проверка для транспортов.
func IsNotFound(err error) bool { return errors.Is(err, common.ErrNotFound) }
