package filters_test

import (
	"testing"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/stretchr/testify/assert"

	"serotonyl.ru/cashier/internal/bot/filters"
)

func message(chatID int64, chatType string, userID int64) *tgbotapi.Message {
	return &tgbotapi.Message{
		Chat: &tgbotapi.Chat{ID: chatID, Type: chatType},
		From: &tgbotapi.User{ID: userID},
	}
}

func TestCheckAccess(t *testing.T) {
	f := filters.NewChatFilter(-100, []int64{1})

	assert.True(t, f.CheckAccess(message(-100, "supergroup", 1)))
	assert.False(t, f.CheckAccess(message(-100, "supergroup", 2)), "в чате админов только ADMIN_IDS")
	assert.True(t, f.CheckAccess(message(1, "private", 1)))
	assert.False(t, f.CheckAccess(message(2, "private", 2)))
	assert.False(t, f.CheckAccess(message(-200, "group", 1)))
	assert.False(t, f.CheckAccess(&tgbotapi.Message{Chat: &tgbotapi.Chat{ID: -100}}))

	open := filters.NewChatFilter(-100, nil)
	assert.True(t, open.CheckAccess(message(-100, "supergroup", 42)))
	assert.False(t, filters.NewChatFilter(0, nil).CheckAccess(message(-100, "supergroup", 1)))
}

func TestCheckCallback(t *testing.T) {
	f := filters.NewChatFilter(-100, []int64{1})
	cb := func(chatID int64, chatType string, userID int64) *tgbotapi.CallbackQuery {
		return &tgbotapi.CallbackQuery{From: &tgbotapi.User{ID: userID}, Message: message(chatID, chatType, userID)}
	}

	assert.True(t, f.CheckCallback(cb(-100, "supergroup", 1)))
	assert.False(t, f.CheckCallback(cb(-100, "supergroup", 2)))
	assert.True(t, f.CheckCallback(cb(1, "private", 1)))
	assert.False(t, f.CheckCallback(cb(-200, "group", 1)))
	assert.False(t, f.CheckCallback(&tgbotapi.CallbackQuery{From: &tgbotapi.User{ID: 1}}))
}
