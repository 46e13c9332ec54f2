package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"concierge/internal/domain"
	"concierge/internal/models"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"
)

// TelegramAlerter tells operators in Telegram that unsaved schedule changes are piling up.
type TelegramAlerter struct {
	bot     domain.TelegramSender
	chatIDs []int64
	session string
	logger  zerolog.Logger
}

// NewTelegramBot connects to the Bot API with the given token.
func NewTelegramBot(token string) (*tgbotapi.BotAPI, error) {
	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("telegram bot: %w", err)
	}
	return bot, nil
}

func NewTelegramAlerter(bot domain.TelegramSender, chatIDs []int64, session string, logger *zerolog.Logger) *TelegramAlerter {
	l := zerolog.Nop()
	if logger != nil {
		l = logger.With().Str("component", "telegram_alerter").Logger()
	}
	return &TelegramAlerter{
		bot:     bot,
		chatIDs: chatIDs,
		session: session,
		logger:  l,
	}
}

func (s *TelegramAlerter) SendMessage(chatID int64, text string) (tgbotapi.Message, error) {
	msg := tgbotapi.NewMessage(chatID, text)
	return s.bot.Send(msg)
}

func (s *TelegramAlerter) SendMarkdown(chatID int64, text string) (tgbotapi.Message, error) {
	msg := tgbotapi.NewMessage(chatID, text)
	msg.ParseMode = models.ParseModeMarkdown
	return s.bot.Send(msg)
}

// SyncFailing sends the alert to every configured chat. Delivery errors are joined.
func (s *TelegramAlerter) SyncFailing(ctx context.Context, failures, pending int, cause error) error {
	text := s.formatAlert(failures, pending, cause)

	var errs []error
	for _, chatID := range s.chatIDs {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		if _, err := s.SendMarkdown(chatID, text); err != nil {
			s.logger.Error().Err(err).Int64("chat_id", chatID).Msg("send sync alert")
			errs = append(errs, fmt.Errorf("chat %d: %w", chatID, err))
		}
	}
	return errors.Join(errs...)
}

func (s *TelegramAlerter) formatAlert(failures, pending int, cause error) string {
	var b strings.Builder
	b.WriteString("⚠️ *Concierge: schedule changes are not being saved*\n\n")
	fmt.Fprintf(&b, "Failed flushes in a row: %d\n", failures)
	fmt.Fprintf(&b, "Unsaved changes: %d\n", pending)
	if s.session != "" {
		fmt.Fprintf(&b, "Session: `%s`\n", s.session)
	}
	if cause != nil {
		fmt.Fprintf(&b, "Last error: `%s`\n", strings.ReplaceAll(cause.Error(), "`", "'"))
	}
	return b.String()
}
