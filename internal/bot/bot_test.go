package bot

import (
	"context"
	"sync"
	"testing"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"serotonyl.ru/cashier/internal/bot/filters"
	"serotonyl.ru/cashier/internal/common"
	"serotonyl.ru/cashier/internal/config"
	"serotonyl.ru/cashier/internal/features/approval"
	"serotonyl.ru/cashier/internal/features/ledger"
	"serotonyl.ru/cashier/internal/features/orders"
	"serotonyl.ru/cashier/internal/store"
)

const adminChat = int64(-100)

type fakeAPI struct {
	mu       sync.Mutex
	sent     []tgbotapi.Chattable
	requests []tgbotapi.Chattable
}

func (f *fakeAPI) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, c)
	return tgbotapi.Message{}, nil
}

func (f *fakeAPI) Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, c)
	return &tgbotapi.APIResponse{Ok: true}, nil
}

func (f *fakeAPI) GetUpdatesChan(tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel { return nil }
func (f *fakeAPI) StopReceivingUpdates()                                        {}

// answers: тексты ответов на колбэки.
func (f *fakeAPI) answers() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for _, c := range f.requests {
		if cb, ok := c.(tgbotapi.CallbackConfig); ok {
			out = append(out, cb.Text)
		}
	}
	return out
}

type fakeApprovals struct {
	order   *orders.Order
	list    []*orders.Order
	result  approval.Result
	err     error
	reqs    []approval.Request
	history []orders.ApprovalAction
}

// DecideWithRetry записывает решение только первый раз, как настоящий сервис.
func (f *fakeApprovals) DecideWithRetry(_ context.Context, req approval.Request) (approval.Result, error) {
	f.reqs = append(f.reqs, req)
	if f.err == nil && len(f.history) == 0 {
		f.history = append(f.history, orders.ApprovalAction{
			OrderID: req.OrderID, Action: req.Action, ActorID: req.ActorID, Operator: req.Operator,
		})
	}
	return f.result, f.err
}

func (f *fakeApprovals) Order(_ context.Context, orderID string) (*orders.Order, error) {
	if f.order == nil || f.order.ID != orderID {
		return nil, common.ErrNotFound
	}
	return f.order, nil
}

func (f *fakeApprovals) Orders(context.Context, store.OrderFilter) ([]*orders.Order, error) {
	return f.list, nil
}

func (f *fakeApprovals) History(context.Context, string) ([]orders.ApprovalAction, error) {
	return f.history, nil
}

type fakeBalances struct{}

func (fakeBalances) View(_ context.Context, accountID, _ string) (ledger.View, error) {
	return ledger.View{AccountID: accountID}, nil
}

func (fakeBalances) Entries(context.Context, string) ([]ledger.Entry, error) { return nil, nil }

func newTestBot(t *testing.T, approvals Approvals) (*Bot, *fakeAPI) {
	t.Helper()
	api := &fakeAPI{}
	cfg := &config.Config{
		AppTimezone:    "UTC",
		BotActorID:     "telegram-bot",
		BotMaxInflight: 1,
	}
	b := New(api, cfg, approvals, fakeBalances{}, filters.NewChatFilter(adminChat, nil))
	t.Cleanup(b.rateLimiter.Close)
	return b, api
}

func tap(chatID int64, data string) *tgbotapi.CallbackQuery {
	return &tgbotapi.CallbackQuery{
		ID:   "cb1",
		From: &tgbotapi.User{ID: 7, UserName: "kassir"},
		Message: &tgbotapi.Message{
			MessageID: 42,
			Text:      "📄 Заказ o1",
			Chat:      &tgbotapi.Chat{ID: chatID, Type: "supergroup"},
		},
		Data: data,
	}
}

func deposit() *orders.Order {
	return &orders.Order{
		ID: "o1", UserID: "u1", Kind: orders.KindDeposit,
		Amount: decimal.NewFromInt(100), Status: orders.StatusPendingReview,
	}
}

func TestParseCallback(t *testing.T) {
	cb, err := ParseCallback("approve:o1")
	require.NoError(t, err)
	assert.Equal(t, Callback{Command: CallbackApprove, OrderID: "o1"}, cb)

	cb, err = ParseCallback("wl_reject:o2")
	require.NoError(t, err)
	assert.Equal(t, Callback{Command: CallbackReject, OrderID: "o2", WalletLoad: true}, cb)

	for _, bad := range []string{"approve", "approve: ", "delete:o1", "", "wl_:o1"} {
		_, err := ParseCallback(bad)
		assert.ErrorIs(t, err, common.ErrInvalidRequest, bad)
	}
}

func TestCommandParser(t *testing.T) {
	p := NewCommandParser()

	cmd, args, ok := p.ParseCommand("/заказ@cashier_bot abc")
	require.True(t, ok)
	assert.Equal(t, "заказ", cmd)
	assert.Equal(t, []string{"abc"}, args)

	cmd, args, ok = p.ParseCommand("  !БАЛАНС u1 g1 ")
	require.True(t, ok)
	assert.Equal(t, "баланс", cmd)
	assert.Equal(t, []string{"u1", "g1"}, args)

	_, _, ok = p.ParseCommand("привет")
	assert.False(t, ok)
	_, _, ok = p.ParseCommand("!")
	assert.False(t, ok)
}

func TestCallback_Approve(t *testing.T) {
	payout := decimal.NewFromInt(100)
	fa := &fakeApprovals{
		order:  deposit(),
		result: approval.Result{OrderID: "o1", Status: orders.StatusApproved, PayoutAmount: &payout},
	}
	b, api := newTestBot(t, fa)

	b.handleCallback(context.Background(), tap(adminChat, "approve:o1"))

	require.Len(t, fa.reqs, 1)
	req := fa.reqs[0]
	assert.Equal(t, orders.ActionApprove, req.Action)
	assert.Equal(t, "telegram-bot", req.ActorID)
	assert.Equal(t, orders.ChannelBot, req.Channel)
	assert.Equal(t, "@kassir", req.Operator)

	assert.Equal(t, []string{"✅ Одобрено"}, api.answers())
	require.Len(t, api.sent, 1)
	edit, ok := api.sent[0].(tgbotapi.EditMessageTextConfig)
	require.True(t, ok)
	assert.Equal(t, 42, edit.MessageID)
	assert.Contains(t, edit.Text, "✅ Одобрено — @kassir")
	assert.Contains(t, edit.Text, "Выплата: 100.00")
}

func TestCallback_StaleButtonKeepsDecider(t *testing.T) {
	fa := &fakeApprovals{
		order:  deposit(),
		result: approval.Result{OrderID: "o1", Status: orders.StatusApproved},
	}
	// заказ уже одобрил другой оператор
	fa.history = []orders.ApprovalAction{
		{OrderID: "o1", Action: orders.ActionApprove, ActorID: "telegram-bot", Operator: "@first"},
	}
	b, api := newTestBot(t, fa)

	b.handleCallback(context.Background(), tap(adminChat, "reject:o1"))

	require.Len(t, api.sent, 1)
	edit := api.sent[0].(tgbotapi.EditMessageTextConfig)
	assert.Contains(t, edit.Text, "✅ Одобрено — @first")
	assert.NotContains(t, edit.Text, "@kassir")

	// решение из админки: подписываем id актора
	fa.history = []orders.ApprovalAction{{OrderID: "o1", Action: orders.ActionApprove, ActorID: "admin-1"}}
	b.handleCallback(context.Background(), tap(adminChat, "approve:o1"))
	require.Len(t, api.sent, 2)
	assert.Contains(t, api.sent[1].(tgbotapi.EditMessageTextConfig).Text, "✅ Одобрено — admin-1")
}

func TestCallback_RejectUsesDefaultReason(t *testing.T) {
	fa := &fakeApprovals{
		order:  deposit(),
		result: approval.Result{OrderID: "o1", Status: orders.StatusRejected, Reason: DefaultRejectReason},
	}
	b, _ := newTestBot(t, fa)

	b.handleCallback(context.Background(), tap(adminChat, "reject:o1"))
	require.Len(t, fa.reqs, 1)
	assert.Equal(t, orders.ActionReject, fa.reqs[0].Action)
	assert.Equal(t, DefaultRejectReason, fa.reqs[0].Reason)
}

func TestCallback_Refusals(t *testing.T) {
	fa := &fakeApprovals{order: deposit()}
	b, api := newTestBot(t, fa)
	ctx := context.Background()

	// чужой чат
	b.handleCallback(ctx, tap(-200, "approve:o1"))
	// кнопка пополнения кошелька на обычном пополнении
	b.handleCallback(ctx, tap(adminChat, "wl_approve:o1"))
	// мусор
	b.handleCallback(ctx, tap(adminChat, "boom"))

	assert.Empty(t, fa.reqs)
	answers := api.answers()
	require.Len(t, answers, 3)
	assert.Equal(t, "⛔ Нет доступа", answers[0])
	assert.Equal(t, "❌ Кнопка не относится к этому заказу", answers[1])
	assert.Contains(t, answers[2], "[INVALID_REQUEST]")
	assert.Empty(t, api.sent, "сообщение не меняется")
}

func TestCallback_DecisionError(t *testing.T) {
	fa := &fakeApprovals{order: deposit(), err: common.ErrPermissionDenied}
	b, api := newTestBot(t, fa)

	b.handleCallback(context.Background(), tap(adminChat, "approve:o1"))
	require.Len(t, fa.reqs, 1)
	answers := api.answers()
	require.Len(t, answers, 1)
	assert.Contains(t, answers[0], "[PERMISSION_DENIED]")
	assert.Empty(t, api.sent)
}

func TestCallback_ViewSendsCard(t *testing.T) {
	fa := &fakeApprovals{order: deposit()}
	b, api := newTestBot(t, fa)

	b.handleCallback(context.Background(), tap(adminChat, "view:o1"))
	assert.Empty(t, fa.reqs)
	require.Len(t, api.sent, 1)
	msg := api.sent[0].(tgbotapi.MessageConfig)
	assert.Contains(t, msg.Text, "📄 Заказ o1")
	assert.Contains(t, msg.Text, "Сумма: 100.00")
}

func TestRouteCommand_Pending(t *testing.T) {
	wl := deposit()
	wl.ID, wl.Kind = "o2", orders.KindWalletLoad
	fa := &fakeApprovals{list: []*orders.Order{deposit(), wl}}
	b, api := newTestBot(t, fa)

	b.routeCommand(context.Background(), adminChat, "ожидают", nil)
	require.Len(t, api.sent, 2)

	msg := api.sent[1].(tgbotapi.MessageConfig)
	kb, ok := msg.ReplyMarkup.(tgbotapi.InlineKeyboardMarkup)
	require.True(t, ok)
	assert.Equal(t, "wl_approve:o2", *kb.InlineKeyboard[0][0].CallbackData)

	// пустая очередь
	fa.list = nil
	b.routeCommand(context.Background(), adminChat, "pending", nil)
	require.Len(t, api.sent, 3)
	assert.Equal(t, "✅ Заказов на проверке нет", api.sent[2].(tgbotapi.MessageConfig).Text)
}

func TestRouteCommand_Usage(t *testing.T) {
	b, api := newTestBot(t, &fakeApprovals{})

	b.routeCommand(context.Background(), adminChat, "заказ", nil)
	b.routeCommand(context.Background(), adminChat, "баланс", []string{"a", "b", "c"})
	require.Len(t, api.sent, 2)
	assert.Contains(t, api.sent[0].(tgbotapi.MessageConfig).Text, "Использование: !заказ")
	assert.Contains(t, api.sent[1].(tgbotapi.MessageConfig).Text, "Использование: !баланс")
}

func TestFormatOrder(t *testing.T) {
	decided := time.Date(2026, 3, 1, 12, 30, 0, 0, time.UTC)
	o := &orders.Order{
		ID: "o1", UserID: "u1", Kind: orders.KindWithdrawal,
		Amount:       decimal.NewFromInt(130),
		PayoutAmount: decimal.NewFromInt(110),
		VoidAmount:   decimal.NewFromInt(20),
		VoidReason:   ledger.VoidReasonExceedsMaxCashout,
		Status:       orders.StatusApproved,
		CreatedAt:    decided.Add(-time.Hour),
		DecidedAt:    &decided,
	}
	text := FormatOrder(o, time.UTC)
	assert.Contains(t, text, "Статус: одобрен")
	assert.Contains(t, text, "Выплата: 110.00")
	assert.Contains(t, text, "Сгорело: 20.00 (EXCEEDS_MAX_CASHOUT)")
	assert.Contains(t, text, "Решение: ")
}

func TestFormatEntries_KeepsLast(t *testing.T) {
	entries := make([]ledger.Entry, 0, entriesLimit+5)
	for i := 0; i < entriesLimit+5; i++ {
		entries = append(entries, ledger.Entry{Reason: ledger.ReasonDeposit, DeltaCash: decimal.NewFromInt(int64(i + 1))})
	}
	text := FormatEntries("u1", entries, time.UTC)
	assert.Contains(t, text, "последние 15")
	assert.NotContains(t, text, "cash +1.00\n")
	assert.Contains(t, text, "cash +20.00")

	assert.Contains(t, FormatEntries("u1", nil, time.UTC), "проводок нет")
}

func TestTruncateRunes(t *testing.T) {
	assert.Equal(t, "абв", truncateRunes("абв", 3))
	assert.Equal(t, "аб…", truncateRunes("абвг", 3))
}
