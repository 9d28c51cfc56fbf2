// Package filters решает, кто может разговаривать с ботом кассы.
package filters

import (
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	log "github.com/sirupsen/logrus"
)

// ChatFilter пропускает только чат администраторов и личку админов из ADMIN_IDS.
type ChatFilter struct {
	adminChatID int64
	adminIDs    map[int64]bool
}

// NewChatFilter создаёт фильтр. Пустой adminIDs, в чате админов может нажимать любой.
func NewChatFilter(adminChatID int64, adminIDs []int64) *ChatFilter {
	ids := make(map[int64]bool, len(adminIDs))
	for _, id := range adminIDs {
		ids[id] = true
	}
	return &ChatFilter{adminChatID: adminChatID, adminIDs: ids}
}

// IsAdmin сообщает, входит ли пользователь в ADMIN_IDS.
func (f *ChatFilter) IsAdmin(userID int64) bool {
	return f.adminIDs[userID]
}

func (f *ChatFilter) userAllowed(userID int64) bool {
	return len(f.adminIDs) == 0 || f.adminIDs[userID]
}

// CheckAccess проверяет входящее сообщение.
func (f *ChatFilter) CheckAccess(message *tgbotapi.Message) bool {
	if message == nil || message.Chat == nil {
		log.WithField("component", "ChatFilter").Warn("nil message/chat")
		return false
	}
	if message.From == nil {
		log.WithFields(log.Fields{
			"component": "ChatFilter",
			"chat_id":   message.Chat.ID,
			"chat_type": message.Chat.Type,
		}).Warn("nil message.From (service/channel message?)")
		return false
	}
	if f.adminChatID == 0 {
		log.WithField("component", "ChatFilter").Error("adminChatID is 0 (config bug)")
		return false
	}

	logger := log.WithFields(log.Fields{
		"component": "ChatFilter",
		"chat_id":   message.Chat.ID,
		"chat_type": message.Chat.Type,
		"user_id":   message.From.ID,
	})

	// 1) Чат администраторов
	if message.Chat.ID == f.adminChatID {
		if !f.userAllowed(message.From.ID) {
			logger.Info("deny: admin chat, user not in ADMIN_IDS")
			return false
		}
		return true
	}

	// 2) Личка: только админам
	if message.Chat.IsPrivate() && f.IsAdmin(message.From.ID) {
		return true
	}

	logger.Debug("deny: not admin chat")
	return false
}

// CheckCallback проверяет нажатие кнопки: кнопки живут только в чате администраторов
// и в личке админов.
func (f *ChatFilter) CheckCallback(cb *tgbotapi.CallbackQuery) bool {
	if cb == nil || cb.From == nil || cb.Message == nil || cb.Message.Chat == nil {
		return false
	}
	if cb.Message.Chat.ID == f.adminChatID {
		return f.userAllowed(cb.From.ID)
	}
	return cb.Message.Chat.IsPrivate() && f.IsAdmin(cb.From.ID)
}
