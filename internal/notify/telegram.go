package notify

import (
	"context"
	"fmt"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/sirupsen/logrus"

	"github.com/yourusername/goal-calibrator/internal/models"
	"github.com/yourusername/goal-calibrator/internal/promotion"
)

type telegramSender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// TelegramNotifier posts promotions, rollbacks, rejections and failures to a chat
type TelegramNotifier struct {
	bot        telegramSender
	chatID     int64
	maxRetries int
	retryDelay time.Duration
	logger     logrus.FieldLogger
}

// NewTelegramNotifier creates a notifier with a bot client
func NewTelegramNotifier(token string, chatID int64, logger logrus.FieldLogger) (*TelegramNotifier, error) {
	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("failed to create Telegram bot: %w", err)
	}
	return newTelegramNotifier(bot, chatID, logger), nil
}

func newTelegramNotifier(bot telegramSender, chatID int64, logger logrus.FieldLogger) *TelegramNotifier {
	return &TelegramNotifier{
		bot:        bot,
		chatID:     chatID,
		maxRetries: 3,
		retryDelay: time.Second,
		logger:     logger.WithField("component", "telegram"),
	}
}

// LiveUpdated announces a promotion or rollback
func (n *TelegramNotifier) LiveUpdated(ctx context.Context, event promotion.Event) error {
	var b strings.Builder
	switch event.Kind {
	case promotion.EventRollback:
		fmt.Fprintf(&b, "⏪ *Live batch rolled back*\nrestored `%s`", escapeMarkdownV2(event.Restored))
	default:
		fmt.Fprintf(&b, "✅ *New batch promoted*\n%d matches", event.Matches)
	}
	if event.BackupID != "" {
		fmt.Fprintf(&b, "\nbackup `%s`", escapeMarkdownV2(event.BackupID))
	}
	fmt.Fprintf(&b, "\n%s", escapeMarkdownV2(event.At.UTC().Format(time.RFC3339)))
	return n.send(ctx, b.String())
}

// RunCompleted reports runs that did not promote. Promotions are announced
// through LiveUpdated.
func (n *TelegramNotifier) RunCompleted(ctx context.Context, run *models.PipelineRun) error {
	var text string
	switch run.Outcome {
	case models.RunOutcomeRejected:
		text = fmt.Sprintf("⚠️ *Candidate rejected*, live batch unchanged\nextremity %s coverage %s\n%s",
			escapeMarkdownV2(fmt.Sprintf("%.4f", run.Extremity)),
			escapeMarkdownV2(fmt.Sprintf("%.4f", run.Coverage)),
			escapeMarkdownV2(strings.Join(run.Reasons, "; ")))
	case models.RunOutcomeFailed:
		text = fmt.Sprintf("❌ *Pipeline run failed*\n`%s`", escapeMarkdownV2(run.Error))
	default:
		return nil
	}
	return n.send(ctx, text)
}

// send posts a MarkdownV2 message with linear-backoff retry
func (n *TelegramNotifier) send(ctx context.Context, text string) error {
	msg := tgbotapi.NewMessage(n.chatID, text)
	msg.ParseMode = tgbotapi.ModeMarkdownV2

	var lastErr error
	for i := 0; i < n.maxRetries; i++ {
		if _, err := n.bot.Send(msg); err == nil {
			return nil
		} else {
			lastErr = err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(n.retryDelay * time.Duration(i+1)):
		}
	}
	return fmt.Errorf("failed after %d retries: %w", n.maxRetries, lastErr)
}

// escapeMarkdownV2 escapes special characters for Telegram MarkdownV2
func escapeMarkdownV2(text string) string {
	var b strings.Builder
	b.Grow(len(text) + len(text)/4)
	for _, char := range text {
		switch char {
		case '_', '*', '[', ']', '(', ')', '~', '`', '>', '#', '+', '-', '=', '|', '{', '}', '.', '!', '\\':
			b.WriteByte('\\')
		}
		b.WriteRune(char)
	}
	return b.String()
}
