package bot

import (
	"errors"
	"fmt"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"advert_bot/internal/model"
	"advert_bot/internal/store"
)

func (b *Bot) handleStart(chatID int64) {
	b.registry.Touch(chatID, b.now())
	b.reply(chatID, `Welcome!

Send me a location and I will notify you about new listings around it.

Use /help for the full command reference.`)
}

func (b *Bot) handleHelp(chatID int64) {
	b.reply(chatID, `Subscriptions:
<location> - subscribe to listings around a point
/subscription - show your subscriptions and the next update time
/radius <n> <meters> - change the search radius of subscription n
/cancel <n> - cancel subscription n
/stop - cancel everything and forget this chat`)
}

func (b *Bot) handleLocation(chatID int64, loc *tgbotapi.Location) {
	query := model.Query{Location: &model.Location{Lat: loc.Latitude, Lng: loc.Longitude}}
	_, err := b.registry.CreateOrUpdateSubscription(chatID, -1, query, b.now())
	switch {
	case errors.Is(err, store.ErrTooManySubscriptions):
		b.reply(chatID, "You have too many subscriptions")
	case err != nil:
		b.log.Error("create subscription", "chat_id", chatID, "error", err)
		b.reply(chatID, fmt.Sprintf("Error: %v", err))
	default:
		b.log.Info("subscribed", "chat_id", chatID, "lat", loc.Latitude, "lng", loc.Longitude)
		b.reply(chatID, "You have been subscribed")
	}
}

func (b *Bot) handleSubscription(chatID int64) {
	now := b.now()
	sub := b.registry.Touch(chatID, now)
	if len(sub.Subscriptions) == 0 {
		b.replyMarkdown(chatID, "You have no subscriptions")
		return
	}

	for i, s := range sub.Subscriptions {
		b.sendSubscription(chatID, i+1, s)
	}
	b.replyMarkdown(chatID, FormatNextUpdate(b.monitor.NextRun(sub.Tier(), now)))
}

// sendSubscription shows one subscription: its location pin when it has
// one, then a caption with an inline cancel button.
func (b *Bot) sendSubscription(chatID int64, number int, sub model.Subscription) {
	if q := sub.Query; q != nil && q.Location != nil && !sub.Buyer {
		b.send(tgbotapi.NewLocation(chatID, q.Location.Lat, q.Location.Lng))
	}

	msg := tgbotapi.NewMessage(chatID, FormatSubscription(number, sub))
	msg.ParseMode = tgbotapi.ModeMarkdown
	msg.ReplyMarkup = tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData(fmt.Sprintf("Cancel #%d", number), fmt.Sprintf("%s:%d", cbCancel, sub.ID)),
		),
	)
	b.send(msg)
}

func (b *Bot) handleRadius(chatID int64, args string) {
	number, radius, err := ParseRadiusArgs(args)
	if err != nil {
		b.reply(chatID, usageRadius)
		return
	}

	sub := b.registry.Touch(chatID, b.now())
	if number < 1 || number > len(sub.Subscriptions) {
		b.reply(chatID, fmt.Sprintf("Subscription #%d doesn't exist", number))
		return
	}

	query := model.Query{}
	if q := sub.Subscriptions[number-1].Query; q != nil {
		query = *q.Clone()
	}
	query.Radius = radius

	if _, err := b.registry.CreateOrUpdateSubscription(chatID, number-1, query, b.now()); err != nil {
		// Cancelled concurrently through another client.
		b.reply(chatID, fmt.Sprintf("Subscription #%d doesn't exist", number))
		return
	}
	b.reply(chatID, "Your search radius has been updated")
}

func (b *Bot) handleCancel(chatID int64, args string) {
	number, err := ParseIndexArg(args)
	if err != nil {
		b.reply(chatID, usageCancel)
		return
	}
	b.cancel(chatID, number)
}

func (b *Bot) cancel(chatID int64, number int) {
	b.registry.Touch(chatID, b.now())
	if number < 1 {
		b.reply(chatID, fmt.Sprintf("Subscription #%d doesn't exist", number))
		return
	}
	if err := b.registry.CancelSubscription(chatID, number-1); err != nil {
		b.reply(chatID, fmt.Sprintf("Subscription #%d doesn't exist", number))
		return
	}
	b.reply(chatID, fmt.Sprintf("Subscription #%d was canceled", number))
}

func (b *Bot) handleStop(chatID int64) {
	if b.registry.RemoveSubscriber(chatID) {
		b.log.Info("subscriber stopped", "chat_id", chatID)
	}
	b.reply(chatID, "You have been unsubscribed")
}

func (b *Bot) handleMonitor(chatID int64) {
	b.replyMarkdown(chatID, FormatMonitor(b.monitor.LastTick(), b.registry.Dump()))
}

func (b *Bot) handleTier(chatID int64, tier model.Tier) {
	if err := b.registry.SetTier(chatID, tier, b.now()); err != nil {
		b.reply(chatID, fmt.Sprintf("Error: %v", err))
		return
	}
	b.log.Info("tier changed", "chat_id", chatID, "tier", tier)

	switch tier {
	case model.TierBuyer:
		b.reply(chatID, "You are a buyer now")
	default:
		b.reply(chatID, fmt.Sprintf("You are %s now", tier))
	}
}
