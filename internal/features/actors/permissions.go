package actors

import (
	"fmt"

	"github.com/shopspring/decimal"

	"serotonyl.ru/cashier/internal/common"
	"serotonyl.ru/cashier/internal/features/ledger"
	"serotonyl.ru/cashier/internal/features/orders"
)

// Check: что именно актор пытается сделать.
type Check struct {
	Channel orders.Channel
	Action  orders.Action
	Kind    orders.Kind
	Amount  decimal.Decimal
	Flags   ledger.Flags
}

// Authorize проверяет, может ли актор принять это решение.
// Любой отказ: ErrPermissionDenied.
func (a Actor) Authorize(c Check) error {
	deny := func(format string, args ...any) error {
		return fmt.Errorf("%w: %s: %s", common.ErrPermissionDenied, a.ID, fmt.Sprintf(format, args...))
	}

	if !a.IsActive {
		return deny("актор отключён")
	}

	// Идентичность бота нельзя использовать из админки и наоборот
	switch a.Kind {
	case KindTelegramBot:
		if c.Channel != orders.ChannelBot {
			return deny("бот не может действовать через канал %s", c.Channel)
		}
	case KindAdmin:
		if c.Channel != orders.ChannelAdmin {
			return deny("админ не может действовать через канал %s", c.Channel)
		}
	case KindSystem:
	default:
		return deny("неизвестный тип актора %q", a.Kind)
	}

	switch c.Kind {
	case orders.KindDeposit, orders.KindGameLoad:
		if !a.CanApproveOrders {
			return deny("нет права на заказы %s", c.Kind)
		}
	case orders.KindWalletLoad:
		if !a.CanApproveWalletLoads {
			return deny("нет права на пополнения кошелька")
		}
	case orders.KindWithdrawal:
		if !a.CanApproveWithdrawals {
			return deny("нет права на выводы")
		}
	default:
		return deny("неизвестный вид заказа %q", c.Kind)
	}

	// Отклонение денег не двигает: лимит суммы и флаги счёта проверяем только для одобрения
	if c.Action != orders.ActionApprove {
		return nil
	}
	if a.AmountCeiling != nil && c.Amount.GreaterThan(*a.AmountCeiling) {
		return deny("сумма %s выше лимита %s", common.FormatMoney(c.Amount), common.FormatMoney(*a.AmountCeiling))
	}

	// Помеченные счета: только ручная проверка человеком
	if a.Kind == KindTelegramBot && (c.Flags.ManualApprovalOnly || c.Flags.IsSuspicious) {
		return deny("счёт требует ручной проверки")
	}
	return nil
}
