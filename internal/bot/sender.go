package bot

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"advert_bot/internal/dispatch"
)

// Sender delivers listing notifications through the Telegram API.
type Sender struct {
	api API
}

// NewSender creates a Sender.
func NewSender(api API) *Sender {
	return &Sender{api: api}
}

// SendText sends a Markdown text message.
func (s *Sender) SendText(ctx context.Context, chatID int64, text string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	msg := tgbotapi.NewMessage(chatID, text)
	msg.ParseMode = tgbotapi.ModeMarkdown
	_, err := s.api.Send(msg)
	return classify(err)
}

// SendPhoto sends a photo by URL with a Markdown caption.
func (s *Sender) SendPhoto(ctx context.Context, chatID int64, imageURL, caption string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	photo := tgbotapi.NewPhoto(chatID, tgbotapi.FileURL(imageURL))
	photo.Caption = caption
	photo.ParseMode = tgbotapi.ModeMarkdown
	_, err := s.api.Send(photo)
	return classify(err)
}

// classify marks errors after which the chat can never be reached again
// (bot blocked or kicked, user deactivated, chat deleted) as permanent.
func classify(err error) error {
	if err == nil {
		return nil
	}
	var apiErr *tgbotapi.Error
	if errors.As(err, &apiErr) {
		if apiErr.Code == http.StatusForbidden || strings.Contains(strings.ToLower(apiErr.Message), "chat not found") {
			return fmt.Errorf("telegram %d %s: %w", apiErr.Code, apiErr.Message, dispatch.ErrPermanent)
		}
		return fmt.Errorf("telegram %d %s: %w", apiErr.Code, apiErr.Message, err)
	}
	return fmt.Errorf("telegram send: %w", err)
}
