// Package bot реализует Telegram-транспорт кассы: кнопки одобрения в чате
// администраторов и несколько команд для просмотра заказов и балансов.
// Решения по кнопкам уходят в approval.Service, как и из админки.
package bot

import (
	"context"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	log "github.com/sirupsen/logrus"

	"serotonyl.ru/cashier/internal/bot/filters"
	"serotonyl.ru/cashier/internal/bot/middleware"
	"serotonyl.ru/cashier/internal/common"
	"serotonyl.ru/cashier/internal/config"
	"serotonyl.ru/cashier/internal/features/approval"
	"serotonyl.ru/cashier/internal/features/ledger"
	"serotonyl.ru/cashier/internal/features/orders"
	"serotonyl.ru/cashier/internal/store"
)

// API: то, что бот использует из *tgbotapi.BotAPI.
type API interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
	GetUpdatesChan(config tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel
	StopReceivingUpdates()
}

// Approvals: решения и чтение заказов (реализует *approval.Service).
type Approvals interface {
	DecideWithRetry(ctx context.Context, req approval.Request) (approval.Result, error)
	Order(ctx context.Context, orderID string) (*orders.Order, error)
	Orders(ctx context.Context, f store.OrderFilter) ([]*orders.Order, error)
	History(ctx context.Context, orderID string) ([]orders.ApprovalAction, error)
}

// Balances: чтение балансов (реализует *ledger.Service).
type Balances interface {
	View(ctx context.Context, accountID, gameID string) (ledger.View, error)
	Entries(ctx context.Context, accountID string) ([]ledger.Entry, error)
}

// Bot: главная структура бота, объединяющая все компоненты.
type Bot struct {
	api API
	cfg *config.Config

	approvals Approvals
	balances  Balances

	chatFilter  *filters.ChatFilter
	rateLimiter *middleware.RateLimiter
	parser      *CommandParser
	loc         *time.Location

	// ограничитель параллелизма обработки апдейтов
	inflight chan struct{}
}

// New создаёт бота. approvals, тот же экземпляр, что получает админка.
func New(api API, cfg *config.Config, approvals Approvals, balances Balances, chatFilter *filters.ChatFilter) *Bot {
	maxInFlight := cfg.BotMaxInflight
	if maxInFlight <= 0 {
		maxInFlight = 64
	}

	return &Bot{
		api:         api,
		cfg:         cfg,
		approvals:   approvals,
		balances:    balances,
		chatFilter:  chatFilter,
		rateLimiter: middleware.NewRateLimiter(cfg.RateLimitRequests, cfg.RateLimitWindow),
		parser:      NewCommandParser(),
		loc:         common.Location(cfg.AppTimezone),
		inflight:    make(chan struct{}, maxInFlight),
	}
}

// Start запускает polling обновлений от Telegram и блокируется до отмены ctx.
func (b *Bot) Start(ctx context.Context) {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = b.cfg.BotUpdateTimeoutSeconds
	u.AllowedUpdates = []string{"message", "callback_query"}

	updates := b.api.GetUpdatesChan(u)

	log.WithFields(log.Fields{
		"max_inflight":  cap(b.inflight),
		"timeout_sec":   b.cfg.BotUpdateTimeoutSeconds,
		"admin_chat_id": b.cfg.AdminChatID,
	}).Info("Бот запущен и ожидает сообщения...")

	for {
		select {
		case <-ctx.Done():
			log.Info("Бот останавливается (ctx done)...")
			b.api.StopReceivingUpdates()
			b.rateLimiter.Close()
			return

		case update, ok := <-updates:
			if !ok {
				log.Info("Канал updates закрыт, бот остановлен")
				return
			}

			// лимит параллелизма
			b.inflight <- struct{}{}
			go func(upd tgbotapi.Update) {
				defer func() { <-b.inflight }()
				b.handleUpdate(ctx, upd)
			}(update)
		}
	}
}

// handleUpdate обрабатывает одно обновление от Telegram.
func (b *Bot) handleUpdate(ctx context.Context, update tgbotapi.Update) {
	defer middleware.RecoverUpdate(update.UpdateID)

	if update.CallbackQuery != nil {
		b.handleCallback(ctx, update.CallbackQuery)
		return
	}

	if update.Message == nil || update.Message.Text == "" {
		return
	}
	message := update.Message
	middleware.LogMessage(message)

	if !b.chatFilter.CheckAccess(message) {
		return
	}
	if !b.rateLimiter.Allow(message.From.ID) {
		log.WithField("user_id", message.From.ID).Debug("rate limited")
		return
	}

	cmd, args, isCommand := b.parser.ParseCommand(message.Text)
	if !isCommand {
		return
	}
	log.WithFields(log.Fields{
		"cmd":  cmd,
		"args": args,
	}).Debug("routing command")

	b.routeCommand(ctx, message.Chat.ID, cmd, args)
}

// routeCommand маршрутизирует команду к нужному обработчику.
func (b *Bot) routeCommand(ctx context.Context, chatID int64, cmd string, args []string) {
	switch cmd {
	case "start", "help", "помощь":
		b.sendMessage(chatID, helpText)

	case "заказ", "order":
		if len(args) != 1 {
			b.sendMessage(chatID, "Использование: !заказ <order_id>")
			return
		}
		b.handleOrder(ctx, chatID, args[0])

	case "баланс", "balance":
		if len(args) < 1 || len(args) > 2 {
			b.sendMessage(chatID, "Использование: !баланс <user_id> [game_id]")
			return
		}
		gameID := ""
		if len(args) == 2 {
			gameID = args[1]
		}
		b.handleBalance(ctx, chatID, args[0], gameID)

	case "проводки", "entries":
		if len(args) != 1 {
			b.sendMessage(chatID, "Использование: !проводки <user_id>")
			return
		}
		b.handleEntries(ctx, chatID, args[0])

	case "ожидают", "pending":
		b.handlePending(ctx, chatID)
	}
}

const helpText = "Касса. Команды:\n" +
	"!заказ <order_id> — карточка заказа и история решений\n" +
	"!баланс <user_id> [game_id] — баланс клиента\n" +
	"!проводки <user_id> — последние проводки\n" +
	"!ожидают — заказы на проверке"

func (b *Bot) handleOrder(ctx context.Context, chatID int64, orderID string) {
	o, err := b.approvals.Order(ctx, orderID)
	if err != nil {
		b.sendMessage(chatID, errorText(err))
		return
	}
	history, err := b.approvals.History(ctx, orderID)
	if err != nil {
		log.WithError(err).WithField("order_id", orderID).Warn("История решений недоступна")
	}
	b.sendMessage(chatID, FormatOrder(o, b.loc)+FormatHistory(history, b.loc))
}

func (b *Bot) handleBalance(ctx context.Context, chatID int64, userID, gameID string) {
	v, err := b.balances.View(ctx, userID, gameID)
	if err != nil {
		b.sendMessage(chatID, errorText(err))
		return
	}
	b.sendMessage(chatID, FormatView(v))
}

func (b *Bot) handleEntries(ctx context.Context, chatID int64, userID string) {
	entries, err := b.balances.Entries(ctx, userID)
	if err != nil {
		b.sendMessage(chatID, errorText(err))
		return
	}
	b.sendMessage(chatID, FormatEntries(userID, entries, b.loc))
}

// pendingLimit: сколько заказов показываем за раз.
const pendingLimit = 10

func (b *Bot) handlePending(ctx context.Context, chatID int64) {
	list, err := b.approvals.Orders(ctx, store.OrderFilter{Status: orders.StatusPendingReview, Limit: pendingLimit})
	if err != nil {
		b.sendMessage(chatID, errorText(err))
		return
	}
	if len(list) == 0 {
		b.sendMessage(chatID, "✅ Заказов на проверке нет")
		return
	}
	for _, o := range list {
		msg := tgbotapi.NewMessage(chatID, FormatOrder(o, b.loc))
		msg.ReplyMarkup = reviewKeyboard(o)
		if _, err := b.api.Send(msg); err != nil {
			log.WithError(err).WithField("chat_id", chatID).Error("Ошибка отправки сообщения")
		}
	}
}

// sendMessage: утилита для отправки сообщений.
func (b *Bot) sendMessage(chatID int64, text string) {
	msg := tgbotapi.NewMessage(chatID, text)
	if _, err := b.api.Send(msg); err != nil {
		log.WithError(err).WithField("chat_id", chatID).Error("Ошибка отправки сообщения")
	}
}

// CommandParser парсит команды с префиксами !, . и /.
type CommandParser struct {
	validPrefixes []string
}

// NewCommandParser создаёт парсер команд.
func NewCommandParser() *CommandParser {
	return &CommandParser{
		validPrefixes: []string{"!", ".", "/"},
	}
}

// ParseCommand разбирает текст на команду и аргументы.
// "/заказ@cashier_bot abc" → ("заказ", ["abc"], true).
func (p *CommandParser) ParseCommand(text string) (string, []string, bool) {
	text = strings.TrimSpace(text)

	hasPrefix := false
	for _, prefix := range p.validPrefixes {
		if strings.HasPrefix(text, prefix) {
			text = strings.TrimPrefix(text, prefix)
			hasPrefix = true
			break
		}
	}
	if !hasPrefix {
		return "", nil, false
	}

	parts := strings.Fields(text)
	if len(parts) == 0 {
		return "", nil, false
	}

	command := strings.ToLower(parts[0])
	// в группах Telegram дописывает @имя_бота
	if at := strings.IndexByte(command, '@'); at > 0 {
		command = command[:at]
	}
	var args []string
	if len(parts) > 1 {
		args = parts[1:]
	}
	return command, args, true
}
