package bot

import (
	"context"
	"fmt"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	log "github.com/sirupsen/logrus"

	"serotonyl.ru/cashier/internal/bot/middleware"
	"serotonyl.ru/cashier/internal/common"
	"serotonyl.ru/cashier/internal/features/approval"
	"serotonyl.ru/cashier/internal/features/notify"
	"serotonyl.ru/cashier/internal/features/orders"
)

// DefaultRejectReason: причина отклонения кнопкой в Telegram.
const DefaultRejectReason = "Отклонено через Telegram"

// Команды кнопок
const (
	CallbackApprove = "approve"
	CallbackReject  = "reject"
	CallbackView    = "view"
)

// Callback: разобранные данные inline-кнопки.
type Callback struct {
	Command    string // approve | reject | view
	OrderID    string
	WalletLoad bool // кнопка с префиксом wl_
}

// ParseCallback разбирает "approve:<id>", "wl_reject:<id>" и т.п.
func ParseCallback(data string) (Callback, error) {
	var cb Callback
	if rest, ok := strings.CutPrefix(data, "wl_"); ok {
		cb.WalletLoad = true
		data = rest
	}

	cmd, id, ok := strings.Cut(data, ":")
	if !ok {
		return Callback{}, fmt.Errorf("%w: кнопка без заказа %q", common.ErrInvalidRequest, data)
	}
	switch cmd {
	case CallbackApprove, CallbackReject, CallbackView:
	default:
		return Callback{}, fmt.Errorf("%w: неизвестная кнопка %q", common.ErrInvalidRequest, cmd)
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return Callback{}, fmt.Errorf("%w: пустой order_id", common.ErrInvalidRequest)
	}

	cb.Command, cb.OrderID = cmd, id
	return cb, nil
}

// handleCallback обрабатывает нажатие кнопки.
func (b *Bot) handleCallback(ctx context.Context, q *tgbotapi.CallbackQuery) {
	middleware.LogCallback(q)

	if !b.chatFilter.CheckCallback(q) {
		b.answer(q, "⛔ Нет доступа")
		return
	}
	if !b.rateLimiter.Allow(q.From.ID) {
		b.answer(q, "⏳ Слишком часто, подождите")
		return
	}

	cb, err := ParseCallback(q.Data)
	if err != nil {
		b.answer(q, errorText(err))
		return
	}

	logger := log.WithFields(log.Fields{
		"order_id": cb.OrderID,
		"command":  cb.Command,
		"operator": q.From.UserName,
	})

	o, err := b.approvals.Order(ctx, cb.OrderID)
	if err != nil {
		b.answer(q, errorText(err))
		return
	}
	if cb.WalletLoad != (o.Kind == orders.KindWalletLoad) {
		logger.WithField("kind", o.Kind).Warn("Кнопка не соответствует виду заказа")
		b.answer(q, "❌ Кнопка не относится к этому заказу")
		return
	}

	if cb.Command == CallbackView {
		b.answer(q, "")
		b.sendMessage(q.Message.Chat.ID, FormatOrder(o, b.loc))
		return
	}

	req := approval.Request{
		OrderID:  cb.OrderID,
		ActorID:  b.cfg.BotActorID,
		Channel:  orders.ChannelBot,
		Operator: operatorName(q.From),
	}
	if cb.Command == CallbackApprove {
		req.Action = orders.ActionApprove
	} else {
		req.Action = orders.ActionReject
		req.Reason = DefaultRejectReason
	}

	res, err := b.approvals.DecideWithRetry(ctx, req)
	if err != nil {
		logger.WithError(err).Warn("Решение через бота не принято")
		b.answer(q, errorText(err))
		return
	}

	b.answer(q, statusText(res.Status))
	// при повторном нажатии решение уже чужое: подписываем тем, кто его принял
	b.markDecided(q, res, b.decidedBy(ctx, res.OrderID))
}

// decidedBy возвращает автора последнего записанного решения по заказу.
func (b *Bot) decidedBy(ctx context.Context, orderID string) string {
	history, err := b.approvals.History(ctx, orderID)
	if err != nil {
		log.WithError(err).WithField("order_id", orderID).Debug("Не удалось прочитать историю решений")
		return ""
	}
	if len(history) == 0 {
		return ""
	}
	last := history[len(history)-1]
	if last.Operator != "" {
		return last.Operator
	}
	return last.ActorID
}

// markDecided дописывает итог к сообщению и убирает кнопки.
func (b *Bot) markDecided(q *tgbotapi.CallbackQuery, res approval.Result, operator string) {
	if q.Message == nil || q.Message.Chat == nil {
		return
	}
	text := q.Message.Text + "\n\n" + DecisionSuffix(res, operator)
	edit := tgbotapi.NewEditMessageText(q.Message.Chat.ID, q.Message.MessageID, text)
	if _, err := b.api.Send(edit); err != nil {
		log.WithError(err).WithField("order_id", res.OrderID).Warn("Не удалось обновить сообщение")
	}
}

// answer отвечает на колбэк (всплывающее уведомление у нажавшего).
func (b *Bot) answer(q *tgbotapi.CallbackQuery, text string) {
	if _, err := b.api.Request(tgbotapi.NewCallback(q.ID, truncateRunes(text, 200))); err != nil {
		log.WithError(err).WithField("callback_id", q.ID).Debug("Не удалось ответить на колбэк")
	}
}

func reviewKeyboard(o *orders.Order) tgbotapi.InlineKeyboardMarkup {
	return notify.ReviewKeyboard(o.Kind, o.ID)
}

func operatorName(u *tgbotapi.User) string {
	if u == nil {
		return ""
	}
	if u.UserName != "" {
		return "@" + u.UserName
	}
	return fmt.Sprintf("id%d", u.ID)
}
