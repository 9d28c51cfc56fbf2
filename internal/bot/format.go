package bot

import (
	"fmt"
	"strings"
	"time"

	"serotonyl.ru/cashier/internal/common"
	"serotonyl.ru/cashier/internal/features/approval"
	"serotonyl.ru/cashier/internal/features/ledger"
	"serotonyl.ru/cashier/internal/features/orders"
)

var statusTitles = map[orders.Status]string{
	orders.StatusInitiated:            "создан",
	orders.StatusAwaitingPaymentProof: "ждёт подтверждения оплаты",
	orders.StatusPendingReview:        "на проверке",
	orders.StatusApproved:             "одобрен",
	orders.StatusRejected:             "отклонён",
	orders.StatusCancelled:            "отменён",
}

func statusText(s orders.Status) string {
	switch s {
	case orders.StatusApproved:
		return "✅ Одобрено"
	case orders.StatusRejected:
		return "❌ Отклонено"
	}
	return "Заказ " + statusTitles[s]
}

// FormatOrder: карточка заказа, время в поясе loc.
func FormatOrder(o *orders.Order, loc *time.Location) string {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("📄 Заказ %s\n", o.ID))
	sb.WriteString(fmt.Sprintf("Вид: %s\n", o.Kind))
	sb.WriteString(fmt.Sprintf("Клиент: %s\n", o.UserID))
	if o.GameID != "" {
		sb.WriteString(fmt.Sprintf("Игра: %s\n", o.GameID))
	}
	sb.WriteString(fmt.Sprintf("Сумма: %s\n", common.FormatMoney(o.Amount)))
	sb.WriteString(fmt.Sprintf("Статус: %s\n", statusTitles[o.Status]))

	if o.BonusAmount.IsPositive() {
		sb.WriteString(fmt.Sprintf("Бонус: %s\n", common.FormatMoney(o.BonusAmount)))
	}
	if o.Kind == orders.KindWithdrawal && o.Status == orders.StatusApproved {
		sb.WriteString(fmt.Sprintf("Выплата: %s\n", common.FormatMoney(o.PayoutAmount)))
		if o.VoidAmount.IsPositive() {
			sb.WriteString(fmt.Sprintf("Сгорело: %s (%s)\n", common.FormatMoney(o.VoidAmount), o.VoidReason))
		}
	}
	if o.PaymentMethod != "" {
		sb.WriteString(fmt.Sprintf("Способ оплаты: %s\n", o.PaymentMethod))
	}
	if o.PaymentProofURL != "" {
		sb.WriteString(fmt.Sprintf("Подтверждение: %s\n", o.PaymentProofURL))
	}
	if o.RejectionReason != "" {
		sb.WriteString(fmt.Sprintf("Причина: %s\n", o.RejectionReason))
	}
	sb.WriteString(fmt.Sprintf("Создан: %s", common.FormatDateTime(o.CreatedAt, loc)))
	if o.DecidedAt != nil {
		sb.WriteString(fmt.Sprintf("\nРешение: %s", common.FormatDateTime(*o.DecidedAt, loc)))
	}
	return sb.String()
}

// FormatHistory: список решений по заказу (пусто, если решений нет).
func FormatHistory(list []orders.ApprovalAction, loc *time.Location) string {
	if len(list) == 0 {
		return ""
	}
	var sb strings.Builder
	sb.WriteString("\n\nРешения:")
	for _, a := range list {
		sb.WriteString(fmt.Sprintf("\n• %s — %s (%s", common.FormatDateTime(a.ProcessedAt, loc), a.Action, a.ActorID))
		if a.Operator != "" {
			sb.WriteString(", " + a.Operator)
		}
		sb.WriteString(")")
		if a.Reason != "" {
			sb.WriteString(": " + a.Reason)
		}
	}
	return sb.String()
}

// FormatView: баланс клиента.
func FormatView(v ledger.View) string {
	return fmt.Sprintf(
		"💰 Баланс %s\nКошелёк: %s\nБонус: %s\nВ игре: %s\nВсего: %s\nК выводу: %s\nЗаблокировано: %s",
		v.AccountID,
		common.FormatMoney(v.Cash),
		common.FormatMoney(v.Bonus),
		common.FormatMoney(v.Credits),
		common.FormatMoney(v.Total),
		common.FormatMoney(v.Withdrawable),
		common.FormatMoney(v.Locked),
	)
}

// entriesLimit: сколько последних проводок показываем.
const entriesLimit = 15

// FormatEntries: последние проводки счёта.
func FormatEntries(accountID string, entries []ledger.Entry, loc *time.Location) string {
	if len(entries) == 0 {
		return fmt.Sprintf("📒 У счёта %s проводок нет", accountID)
	}
	if len(entries) > entriesLimit {
		entries = entries[len(entries)-entriesLimit:]
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("📒 Проводки %s (последние %d):", accountID, len(entries)))
	for _, e := range entries {
		sb.WriteString(fmt.Sprintf("\n%s %s:", common.FormatDateTime(e.CreatedAt, loc), e.Reason))
		if !e.DeltaCash.IsZero() {
			sb.WriteString(" cash " + common.FormatSignedMoney(e.DeltaCash))
		}
		if !e.DeltaBonus.IsZero() {
			sb.WriteString(" bonus " + common.FormatSignedMoney(e.DeltaBonus))
		}
		if !e.DeltaCredits.IsZero() {
			sb.WriteString(" credits " + common.FormatSignedMoney(e.DeltaCredits))
		}
	}
	return sb.String()
}

// DecisionSuffix: строка, которую дописываем к сообщению после решения.
func DecisionSuffix(res approval.Result, operator string) string {
	var sb strings.Builder
	sb.WriteString(statusText(res.Status))
	if operator != "" {
		sb.WriteString(" — " + operator)
	}
	if res.PayoutAmount != nil {
		sb.WriteString(fmt.Sprintf("\nВыплата: %s", common.FormatMoney(*res.PayoutAmount)))
	}
	if res.VoidAmount != nil && res.VoidAmount.IsPositive() {
		sb.WriteString(fmt.Sprintf("\nСгорело: %s", common.FormatMoney(*res.VoidAmount)))
	}
	if res.Reason != "" {
		sb.WriteString("\nПричина: " + res.Reason)
	}
	return sb.String()
}

// errorText форматирует ошибку для человека: текст и код.
func errorText(err error) string {
	return fmt.Sprintf("❌ %s [%s]", err.Error(), common.CodeOf(err))
}

func truncateRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
