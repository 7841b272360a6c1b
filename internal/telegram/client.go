// Package telegram provides a client for sending notifications via Telegram Bot API.
package telegram

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rewired-gh/scanalert/internal/models"
)

// Client handles Telegram notifications.
type Client struct {
	bot            *tgbotapi.BotAPI
	chatID         int64
	maxRetries     int
	retryDelayBase time.Duration
}

// NewClient creates a new Telegram client.
func NewClient(botToken, chatID string, maxRetries int, retryDelayBase time.Duration) (*Client, error) {
	bot, err := tgbotapi.NewBotAPI(botToken)
	if err != nil {
		return nil, fmt.Errorf("failed to create Telegram bot: %w", err)
	}

	chatIDInt, err := strconv.ParseInt(chatID, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid chat ID: %w", err)
	}

	if maxRetries <= 0 {
		maxRetries = 3
	}
	if retryDelayBase <= 0 {
		retryDelayBase = time.Second
	}

	return &Client{
		bot:            bot,
		chatID:         chatIDInt,
		maxRetries:     maxRetries,
		retryDelayBase: retryDelayBase,
	}, nil
}

// Name identifies the client in delivery metrics.
func (c *Client) Name() string { return "telegram" }

// ListenForCommands starts a goroutine that polls for Telegram updates and handles bot commands.
// It returns immediately; the goroutine stops when ctx is cancelled.
func (c *Client) ListenForCommands(ctx context.Context) {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60
	updates := c.bot.GetUpdatesChan(u)

	go func() {
		for {
			select {
			case <-ctx.Done():
				c.bot.StopReceivingUpdates()
				return
			case update, ok := <-updates:
				if !ok {
					return
				}
				if update.Message != nil && update.Message.IsCommand() {
					c.handleCommand(update.Message)
				}
			}
		}
	}()
}

func (c *Client) handleCommand(msg *tgbotapi.Message) {
	switch msg.Command() {
	case "ping":
		reply := tgbotapi.NewMessage(msg.Chat.ID, "Pong")
		c.bot.Send(reply) //nolint:errcheck
	}
}

// sendMarkdownV2 sends a MarkdownV2 message with linear-backoff retry.
func (c *Client) sendMarkdownV2(text string) error {
	msg := tgbotapi.NewMessage(c.chatID, text)
	msg.ParseMode = "MarkdownV2"

	var lastErr error
	for i := 0; i < c.maxRetries; i++ {
		if _, err := c.bot.Send(msg); err == nil {
			return nil
		} else {
			lastErr = err
		}
		time.Sleep(c.retryDelayBase * time.Duration(i+1))
	}
	return fmt.Errorf("failed after %d retries: %w", c.maxRetries, lastErr)
}

// SendError sends a scan error notification.
// Call this only on the first occurrence of a consecutive error sequence.
func (c *Client) SendError(cycleErr error) error {
	text := fmt.Sprintf("⚠️ *Scan error*\n`%s`", escapeMarkdownV2(cycleErr.Error()))
	return c.sendMarkdownV2(text)
}

// SendRecovery sends a recovery notification after consecutive failures.
func (c *Client) SendRecovery(failureCount int) error {
	text := fmt.Sprintf("✅ *Scanning recovered* after %d consecutive failure\\(s\\)", failureCount)
	return c.sendMarkdownV2(text)
}

// Send delivers alert groups, split into as few messages as the Telegram size limit allows.
func (c *Client) Send(groups []models.AlertGroup) error {
	for _, text := range formatMessages(groups) {
		if err := c.sendMarkdownV2(text); err != nil {
			return err
		}
	}
	return nil
}

// maxMessageLen stays under Telegram's 4096 character limit, leaving room for the header.
const maxMessageLen = 3800

// maxAlertTextLen bounds one alert's raw text so that even fully escaped it fits a message.
const maxAlertTextLen = 1500

// formatMessages formats alert groups into Telegram MarkdownV2 messages. Messages are split
// between alert lines; a group that continues into the next message repeats its title.
func formatMessages(groups []models.AlertGroup) []string {
	header := "🚨 *Scanner Alerts*\n\n"
	if len(groups) > 0 && len(groups[0].Messages) > 0 {
		dateStr := escapeMarkdownV2(groups[0].Messages[0].CreatedAt.Format("2006-01-02 15:04:05"))
		header += fmt.Sprintf("📅 Detected: %s\n\n", dateStr)
	}

	var messages []string
	var b strings.Builder
	flush := func() {
		if b.Len() > len(header) {
			messages = append(messages, b.String())
		}
		b.Reset()
		b.WriteString(header)
	}
	b.WriteString(header)

	for _, group := range groups {
		if len(group.Messages) == 0 {
			continue
		}
		title := fmt.Sprintf("*%s*\n", escapeMarkdownV2(truncate(group.Source, 64)))
		for i, msg := range group.Messages {
			line := formatLine(msg)
			extra := len(line)
			if i == 0 {
				extra += len(title)
			}
			if b.Len() > len(header) && b.Len()+extra > maxMessageLen {
				flush()
				b.WriteString(title)
			} else if i == 0 {
				b.WriteString(title)
			}
			b.WriteString(line)
		}
		b.WriteString("\n")
	}
	flush()
	return messages
}

func formatLine(msg models.AlertMessage) string {
	var b strings.Builder
	fmt.Fprintf(&b, "• %s", escapeMarkdownV2(truncate(msg.Text, maxAlertTextLen)))
	if msg.Origin == models.OriginCustom && msg.Owner != "" {
		fmt.Fprintf(&b, " _\\(for %s\\)_", escapeMarkdownV2(truncate(msg.Owner, 64)))
	}
	b.WriteString("\n")
	return b.String()
}

// truncate cuts text to at most n runes, marking the cut with an ellipsis.
func truncate(text string, n int) string {
	runes := []rune(text)
	if len(runes) <= n {
		return text
	}
	return string(runes[:n-1]) + "…"
}

// escapeMarkdownV2 escapes special characters for Telegram MarkdownV2.
func escapeMarkdownV2(text string) string {
	var b strings.Builder
	b.Grow(len(text) + len(text)/4) // pre-allocate with room for escapes
	for _, char := range text {
		switch char {
		case '_', '*', '[', ']', '(', ')', '~', '`', '>', '#', '+', '-', '=', '|', '{', '}', '.', '!':
			b.WriteByte('\\')
		}
		b.WriteRune(char)
	}
	return b.String()
}
