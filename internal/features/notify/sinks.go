package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/redis/go-redis/v9"
	"github.com/segmentio/kafka-go"
	log "github.com/sirupsen/logrus"

	"serotonyl.ru/cashier/internal/common"
	"serotonyl.ru/cashier/internal/features/orders"
)

// --- Лог ---

// LogSink пишет события в лог. Включён всегда.
type LogSink struct{}

func (LogSink) Name() string { return "log" }

func (LogSink) Send(_ context.Context, ev Event) error {
	log.WithFields(log.Fields{
		"event_id": ev.ID,
		"type":     ev.Type,
		"order_id": ev.OrderID,
		"user_id":  ev.UserID,
		"status":   ev.Status,
		"actor_id": ev.ActorID,
	}).Info("Событие")
	return nil
}

// --- Telegram ---

// Sender: то, что умеет отправить сообщение (реализует *tgbotapi.BotAPI).
type Sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// TelegramSink шлёт события в чат администраторов. Заказы, дошедшие до
// проверки, приходят с кнопками одобрения.
type TelegramSink struct {
	api    Sender
	chatID int64
}

// NewTelegramSink создаёт приёмник для чата chatID.
func NewTelegramSink(api Sender, chatID int64) *TelegramSink {
	return &TelegramSink{api: api, chatID: chatID}
}

func (s *TelegramSink) Name() string { return "telegram" }

func (s *TelegramSink) Send(_ context.Context, ev Event) error {
	msg := tgbotapi.NewMessage(s.chatID, FormatEvent(ev))
	if ev.Type == EventPendingReview {
		msg.ReplyMarkup = ReviewKeyboard(ev.Kind, ev.OrderID)
	}
	if _, err := s.api.Send(msg); err != nil {
		return fmt.Errorf("telegram: %w", err)
	}
	return nil
}

// CallbackPrefix возвращает префикс данных кнопки. У пополнений кошелька свой, "wl_".
func CallbackPrefix(kind orders.Kind) string {
	if kind == orders.KindWalletLoad {
		return "wl_"
	}
	return ""
}

// ReviewKeyboard: кнопки «одобрить / отклонить / подробнее».
func ReviewKeyboard(kind orders.Kind, orderID string) tgbotapi.InlineKeyboardMarkup {
	p := CallbackPrefix(kind)
	return tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("✅ Одобрить", p+"approve:"+orderID),
			tgbotapi.NewInlineKeyboardButtonData("❌ Отклонить", p+"reject:"+orderID),
		),
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("🔍 Подробнее", p+"view:"+orderID),
		),
	)
}

var kindTitles = map[orders.Kind]string{
	orders.KindDeposit:    "Пополнение",
	orders.KindWithdrawal: "Вывод",
	orders.KindGameLoad:   "Загрузка в игру",
	orders.KindWalletLoad: "Пополнение кошелька",
}

// FormatEvent: текст события для людей.
func FormatEvent(ev Event) string {
	var sb strings.Builder

	title := kindTitles[ev.Kind]
	if title == "" {
		title = "Заказ"
	}

	switch ev.Type {
	case EventPendingReview:
		sb.WriteString(fmt.Sprintf("🆕 %s ждёт проверки\n", title))
	case EventOrderSubmitted:
		sb.WriteString(fmt.Sprintf("📝 %s создан\n", title))
	case EventOrderCancelled:
		sb.WriteString(fmt.Sprintf("🚫 %s отменён\n", title))
	case EventAmountAdjusted:
		sb.WriteString(fmt.Sprintf("✏️ %s: сумма изменена\n", title))
	case EventLedgerDesync:
		sb.WriteString("🚨 Рассинхрон баланса при одобрении\n")
	default:
		if ev.Status == orders.StatusApproved {
			sb.WriteString(fmt.Sprintf("✅ %s одобрен\n", title))
		} else {
			sb.WriteString(fmt.Sprintf("❌ %s отклонён\n", title))
		}
	}

	sb.WriteString(fmt.Sprintf("Заказ: %s\nКлиент: %s\nСумма: %s\n", ev.OrderID, ev.UserID, common.FormatMoney(ev.Amount)))
	if ev.PreviousAmount != nil {
		sb.WriteString(fmt.Sprintf("Было: %s\n", common.FormatMoney(*ev.PreviousAmount)))
	}
	if ev.Bonus.IsPositive() {
		sb.WriteString(fmt.Sprintf("Бонус: %s\n", common.FormatMoney(ev.Bonus)))
	}
	if ev.Payout.IsPositive() || ev.Void.IsPositive() {
		sb.WriteString(fmt.Sprintf("Выплата: %s\n", common.FormatMoney(ev.Payout)))
	}
	if ev.Void.IsPositive() {
		sb.WriteString(fmt.Sprintf("Сгорает: %s (%s)\n", common.FormatMoney(ev.Void), ev.VoidReason))
	}
	if ev.Reason != "" {
		sb.WriteString(fmt.Sprintf("Причина: %s\n", ev.Reason))
	}
	if ev.ActorID != "" {
		sb.WriteString(fmt.Sprintf("Кем: %s (%s)\n", ev.ActorID, ev.Channel))
	}
	return strings.TrimRight(sb.String(), "\n")
}

// --- Redis ---

// Publisher: PUBLISH (реализует *redis.Client).
type Publisher interface {
	Publish(ctx context.Context, channel string, message interface{}) *redis.IntCmd
}

// RedisSink публикует события в канал Redis в виде JSON.
type RedisSink struct {
	client  Publisher
	channel string
}

// NewRedisSink создаёт приёмник для канала channel.
func NewRedisSink(client Publisher, channel string) *RedisSink {
	return &RedisSink{client: client, channel: channel}
}

func (s *RedisSink) Name() string { return "redis" }

func (s *RedisSink) Send(ctx context.Context, ev Event) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	if err := s.client.Publish(ctx, s.channel, payload).Err(); err != nil {
		return fmt.Errorf("redis publish: %w", err)
	}
	return nil
}

// ConnectRedis подключается к Redis и проверяет соединение.
func ConnectRedis(ctx context.Context, addr, password string, db int) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return rdb, nil
}

// --- Kafka ---

// MessageWriter пишет сообщения в топик (реализует *kafka.Writer).
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
}

// KafkaSink пишет события в топик Kafka, ключ: order_id.
type KafkaSink struct {
	w MessageWriter
}

// NewKafkaSink создаёт приёмник поверх writer'а.
func NewKafkaSink(w MessageWriter) *KafkaSink {
	return &KafkaSink{w: w}
}

// NewKafkaWriter создаёт writer для топика.
func NewKafkaWriter(brokers []string, topic string) *kafka.Writer {
	return &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  topic,
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireAll,
		AllowAutoTopicCreation: true,
	}
}

func (s *KafkaSink) Name() string { return "kafka" }

func (s *KafkaSink) Send(ctx context.Context, ev Event) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	msg := kafka.Message{
		Key:   []byte(ev.OrderID),
		Value: payload,
		Time:  time.Now(),
		Headers: []kafka.Header{
			{Key: "type", Value: []byte(ev.Type)},
		},
	}
	if err := s.w.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("kafka write: %w", err)
	}
	return nil
}
