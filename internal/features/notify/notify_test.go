package notify_test

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/redis/go-redis/v9"
	"github.com/segmentio/kafka-go"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"serotonyl.ru/cashier/internal/features/notify"
	"serotonyl.ru/cashier/internal/features/orders"
	"serotonyl.ru/cashier/internal/metrics"
)

// flakySink падает первые failures раз, потом принимает события.
type flakySink struct {
	name     string
	failures int
	block    chan struct{}

	mu       sync.Mutex
	attempts int
	got      []notify.Event
}

func (s *flakySink) Name() string { return s.name }

func (s *flakySink) Send(_ context.Context, ev notify.Event) error {
	if s.block != nil {
		<-s.block
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.attempts++
	if s.attempts <= s.failures {
		return errors.New("sink down")
	}
	s.got = append(s.got, ev)
	return nil
}

func (s *flakySink) events() []notify.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]notify.Event(nil), s.got...)
}

func TestRouter_RetriesUntilDelivered(t *testing.T) {
	m := metrics.New(prometheus.NewRegistry())
	sink := &flakySink{name: "flaky", failures: 2}
	r := notify.NewRouter(notify.Options{Workers: 1, MaxAttempts: 3, Backoff: time.Millisecond}, m, sink)
	r.Start()

	r.Emit(context.Background(), notify.Event{Type: notify.EventOrderApproved, OrderID: "o1"})
	r.Close()

	got := sink.events()
	require.Len(t, got, 1)
	assert.Equal(t, "o1", got[0].OrderID)
	assert.NotEmpty(t, got[0].ID, "id события проставляется при Emit")
	assert.False(t, got[0].OccurredAt.IsZero())

	assert.Equal(t, float64(2), testutil.ToFloat64(m.NotifyFailures.WithLabelValues("flaky")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.NotifySent.WithLabelValues("flaky")))
	assert.Equal(t, float64(0), testutil.ToFloat64(m.NotifyDropped))
}

func TestRouter_DropsAfterMaxAttempts(t *testing.T) {
	m := metrics.New(prometheus.NewRegistry())
	dead := &flakySink{name: "dead", failures: 100}
	r := notify.NewRouter(notify.Options{Workers: 1, MaxAttempts: 2}, m, dead)
	r.Start()

	r.Emit(context.Background(), notify.Event{Type: notify.EventOrderRejected, OrderID: "o1"})
	r.Close()

	assert.Empty(t, dead.events())
	assert.Equal(t, float64(2), testutil.ToFloat64(m.NotifyFailures.WithLabelValues("dead")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.NotifyDropped))
}

func TestRouter_OneSinkFailureDoesNotAffectOthers(t *testing.T) {
	dead := &flakySink{name: "dead", failures: 100}
	ok := &flakySink{name: "ok"}
	r := notify.NewRouter(notify.Options{Workers: 2, MaxAttempts: 1}, nil, dead, ok)
	r.Start()

	for i := 0; i < 5; i++ {
		r.Emit(context.Background(), notify.Event{Type: notify.EventOrderApproved})
	}
	r.Close()
	assert.Len(t, ok.events(), 5)
}

func TestRouter_EmitDoesNotBlock(t *testing.T) {
	block := make(chan struct{})
	slow := &flakySink{name: "slow", block: block}
	r := notify.NewRouter(notify.Options{Workers: 1, QueueSize: 1, MaxAttempts: 1}, nil, slow)
	r.Start()

	done := make(chan struct{})
	go func() {
		for i := 0; i < 10; i++ {
			r.Emit(context.Background(), notify.Event{Type: notify.EventOrderApproved})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Emit заблокировал вызывающего")
	}

	close(block)
	r.Close()
	assert.Len(t, slow.events(), 10)
}

func TestRouter_EmitAfterCloseDrops(t *testing.T) {
	m := metrics.New(prometheus.NewRegistry())
	block := make(chan struct{})
	defer close(block)
	slow := &flakySink{name: "slow", block: block}
	r := notify.NewRouter(notify.Options{Workers: 1, MaxAttempts: 3}, m, slow)
	r.Start()
	r.Close()

	done := make(chan struct{})
	go func() {
		r.Emit(context.Background(), notify.Event{Type: notify.EventOrderApproved, OrderID: "late"})
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Emit после Close ждёт доставки")
	}
	assert.Empty(t, slow.events())
	assert.Equal(t, float64(1), testutil.ToFloat64(m.NotifyDropped))
}

func TestDecisionEvent(t *testing.T) {
	assert.Equal(t, notify.EventOrderApproved, notify.DecisionEvent(orders.KindDeposit, orders.ActionApprove))
	assert.Equal(t, notify.EventOrderRejected, notify.DecisionEvent(orders.KindDeposit, orders.ActionReject))
	assert.Equal(t, notify.EventWithdrawApproved, notify.DecisionEvent(orders.KindWithdrawal, orders.ActionApprove))
	assert.Equal(t, notify.EventWalletLoadRejected, notify.DecisionEvent(orders.KindWalletLoad, orders.ActionReject))
	assert.Equal(t, notify.EventGameLoadApproved, notify.DecisionEvent(orders.KindGameLoad, orders.ActionApprove))
}

func TestFormatEvent(t *testing.T) {
	text := notify.FormatEvent(notify.Event{
		Type:       notify.EventWithdrawApproved,
		OrderID:    "o1",
		UserID:     "u1",
		Kind:       orders.KindWithdrawal,
		Status:     orders.StatusApproved,
		Amount:     decimal.NewFromInt(130),
		Payout:     decimal.NewFromInt(110),
		Void:       decimal.NewFromInt(20),
		VoidReason: "EXCEEDS_MAX_CASHOUT",
		ActorID:    "admin-1",
		Channel:    orders.ChannelAdmin,
	})
	assert.Contains(t, text, "✅ Вывод одобрен")
	assert.Contains(t, text, "Выплата: 110.00")
	assert.Contains(t, text, "Сгорает: 20.00 (EXCEEDS_MAX_CASHOUT)")
	assert.Contains(t, text, "Кем: admin-1 (admin)")
}

type fakeSender struct {
	sent []tgbotapi.Chattable
}

func (f *fakeSender) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	f.sent = append(f.sent, c)
	return tgbotapi.Message{}, nil
}

func TestTelegramSink_PendingReviewHasButtons(t *testing.T) {
	api := &fakeSender{}
	sink := notify.NewTelegramSink(api, -100)

	require.NoError(t, sink.Send(context.Background(), notify.Event{
		Type: notify.EventPendingReview, OrderID: "o9", Kind: orders.KindWalletLoad,
	}))
	require.Len(t, api.sent, 1)

	msg, ok := api.sent[0].(tgbotapi.MessageConfig)
	require.True(t, ok)
	assert.Equal(t, int64(-100), msg.ChatID)

	kb, ok := msg.ReplyMarkup.(tgbotapi.InlineKeyboardMarkup)
	require.True(t, ok)
	require.Len(t, kb.InlineKeyboard, 2)
	require.NotNil(t, kb.InlineKeyboard[0][0].CallbackData)
	assert.Equal(t, "wl_approve:o9", *kb.InlineKeyboard[0][0].CallbackData)
	assert.Equal(t, "wl_reject:o9", *kb.InlineKeyboard[0][1].CallbackData)
	assert.Equal(t, "wl_view:o9", *kb.InlineKeyboard[1][0].CallbackData)

	// у остальных событий кнопок нет
	require.NoError(t, sink.Send(context.Background(), notify.Event{Type: notify.EventOrderApproved, OrderID: "o9"}))
	msg = api.sent[1].(tgbotapi.MessageConfig)
	assert.Nil(t, msg.ReplyMarkup)
}

type fakePublisher struct {
	channel string
	payload []byte
	err     error
}

func (f *fakePublisher) Publish(_ context.Context, channel string, message interface{}) *redis.IntCmd {
	f.channel = channel
	f.payload, _ = message.([]byte)
	return redis.NewIntResult(1, f.err)
}

func TestRedisSink(t *testing.T) {
	pub := &fakePublisher{}
	sink := notify.NewRedisSink(pub, "cashier.events")

	require.NoError(t, sink.Send(context.Background(), notify.Event{ID: "e1", Type: notify.EventOrderApproved, OrderID: "o1"}))
	assert.Equal(t, "cashier.events", pub.channel)

	var ev notify.Event
	require.NoError(t, json.Unmarshal(pub.payload, &ev))
	assert.Equal(t, "o1", ev.OrderID)

	pub.err = errors.New("conn refused")
	assert.Error(t, sink.Send(context.Background(), notify.Event{Type: notify.EventOrderApproved}))
}

type fakeWriter struct {
	msgs []kafka.Message
}

func (f *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	f.msgs = append(f.msgs, msgs...)
	return nil
}

func TestKafkaSink(t *testing.T) {
	w := &fakeWriter{}
	sink := notify.NewKafkaSink(w)

	require.NoError(t, sink.Send(context.Background(), notify.Event{Type: notify.EventWithdrawRejected, OrderID: "o2"}))
	require.Len(t, w.msgs, 1)
	assert.Equal(t, "o2", string(w.msgs[0].Key))
	require.Len(t, w.msgs[0].Headers, 1)
	assert.Equal(t, "WITHDRAW_REJECTED", string(w.msgs[0].Headers[0].Value))
}
