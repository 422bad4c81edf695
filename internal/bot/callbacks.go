package bot

import (
	"slices"
	"strconv"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"advert_bot/internal/model"
)

const cbCancel = "cancel"

// handleCallback serves the inline buttons attached to the /subscription
// list. Buttons carry the stable subscription id, not its position, so a
// stale list never cancels the wrong subscription.
func (b *Bot) handleCallback(cb *tgbotapi.CallbackQuery) {
	if _, err := b.api.Request(tgbotapi.NewCallback(cb.ID, "")); err != nil {
		b.log.Error("send callback ack", "error", err)
	}
	if cb.Message == nil || cb.Message.Chat == nil {
		return
	}
	chatID := cb.Message.Chat.ID

	action, idStr, ok := strings.Cut(cb.Data, ":")
	if !ok {
		return
	}
	id, err := strconv.ParseInt(idStr, 10, 64)
	if err != nil {
		return
	}

	b.log.Info("callback", "action", action, "id", id, "chat_id", chatID)

	switch action {
	case cbCancel:
		sub := b.registry.Touch(chatID, b.now())
		i := slices.IndexFunc(sub.Subscriptions, func(s model.Subscription) bool { return s.ID == id })
		if i < 0 {
			b.reply(chatID, "This subscription was already canceled")
			return
		}
		b.cancel(chatID, i+1)
	}
}
