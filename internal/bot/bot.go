// Package bot is the Telegram front end: it handles subscriber commands and
// delivers listing notifications.
package bot

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"advert_bot/internal/config"
	"advert_bot/internal/model"
	"advert_bot/internal/store"
)

// API is the subset of the Telegram client the bot uses.
type API interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
	GetUpdatesChan(config tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel
	StopReceivingUpdates()
}

// NewAPI connects to Telegram with token.
func NewAPI(token string) (*tgbotapi.BotAPI, error) {
	api, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("create bot api: %w", err)
	}
	return api, nil
}

// Registry is the subscription store as seen by the command handlers.
type Registry interface {
	Touch(key int64, now time.Time) model.Subscriber
	CreateOrUpdateSubscription(key int64, index int, query model.Query, now time.Time) (model.Subscription, error)
	CancelSubscription(key int64, index int) error
	SetTier(key int64, tier model.Tier, now time.Time) error
	RemoveSubscriber(key int64) bool
	Dump() []store.Entry
}

// Monitor reports the state of the poll loop.
type Monitor interface {
	LastTick() time.Time
	NextRun(tier model.Tier, now time.Time) time.Time
}

// Bot handles user commands.
type Bot struct {
	api      API
	registry Registry
	monitor  Monitor
	cfg      *config.Config
	log      *slog.Logger
	now      func() time.Time
}

// New creates a Bot.
func New(api API, registry Registry, monitor Monitor, cfg *config.Config, log *slog.Logger) *Bot {
	return &Bot{
		api:      api,
		registry: registry,
		monitor:  monitor,
		cfg:      cfg,
		log:      log,
		now:      time.Now,
	}
}

// Run starts the bot's long-polling loop, blocking until ctx is cancelled.
func (b *Bot) Run(ctx context.Context) {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60

	updates := b.api.GetUpdatesChan(u)

	for {
		select {
		case <-ctx.Done():
			b.api.StopReceivingUpdates()
			return
		case update, ok := <-updates:
			if !ok {
				return
			}
			b.handleUpdate(update)
		}
	}
}

func (b *Bot) handleUpdate(update tgbotapi.Update) {
	if update.CallbackQuery != nil {
		if from := update.CallbackQuery.From; from != nil && !b.cfg.IsUserAllowed(from.ID) {
			return
		}
		b.handleCallback(update.CallbackQuery)
		return
	}

	msg := update.Message
	if msg == nil || msg.Chat == nil {
		return
	}
	if msg.From != nil && !b.cfg.IsUserAllowed(msg.From.ID) {
		b.reply(msg.Chat.ID, "Access denied.")
		return
	}

	switch {
	case msg.Location != nil:
		b.handleLocation(msg.Chat.ID, msg.Location)
	case msg.IsCommand():
		b.handleCommand(msg)
	}
}

func (b *Bot) handleCommand(msg *tgbotapi.Message) {
	cmd := msg.Command()
	args := strings.TrimSpace(msg.CommandArguments())
	chatID := msg.Chat.ID

	b.log.Debug("command", "cmd", cmd, "args", args, "chat_id", chatID)

	if strings.HasPrefix(cmd, "_") && (msg.From == nil || !b.cfg.IsAdmin(msg.From.ID)) {
		b.reply(chatID, "Unknown command. Use /help for a list of commands.")
		return
	}

	switch cmd {
	case "start":
		b.handleStart(chatID)
	case "help":
		b.handleHelp(chatID)
	case "subscription":
		b.handleSubscription(chatID)
	case "radius":
		b.handleRadius(chatID, args)
	case "cancel":
		b.handleCancel(chatID, args)
	case "stop":
		b.handleStop(chatID)
	case "_monitor":
		b.handleMonitor(chatID)
	case "_regular":
		b.handleTier(chatID, model.TierRegular)
	case "_premium":
		b.handleTier(chatID, model.TierPremium)
	case "_buyer":
		b.handleTier(chatID, model.TierBuyer)
	default:
		b.reply(chatID, "Unknown command. Use /help for a list of commands.")
	}
}

func (b *Bot) reply(chatID int64, text string) {
	msg := tgbotapi.NewMessage(chatID, text)
	msg.DisableWebPagePreview = true
	b.send(msg)
}

func (b *Bot) replyMarkdown(chatID int64, text string) {
	for _, part := range splitMessage(text, maxMessageLen) {
		msg := tgbotapi.NewMessage(chatID, part)
		msg.ParseMode = tgbotapi.ModeMarkdown
		msg.DisableWebPagePreview = true
		b.send(msg)
	}
}

func (b *Bot) send(c tgbotapi.Chattable) {
	if _, err := b.api.Send(c); err != nil {
		b.log.Error("send reply", "error", err)
	}
}
