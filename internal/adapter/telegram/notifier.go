// Package telegram implements a notifier.Notifier for the Telegram Bot API.
package telegram

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/arbiterhq/arbiter/internal/port/notifier"
)

const channelName = "telegram"

const defaultAPIBase = "https://api.telegram.org"

// Notifier sends decision notifications through a Telegram bot.
type Notifier struct {
	apiBase    string
	botToken   string
	chatID     string
	httpClient *http.Client
}

// NewNotifier creates a Telegram notifier for the given bot token and chat.
func NewNotifier(botToken, chatID string) *Notifier {
	return &Notifier{
		apiBase:    defaultAPIBase,
		botToken:   botToken,
		chatID:     chatID,
		httpClient: http.DefaultClient,
	}
}

func (n *Notifier) Name() string { return channelName }

// sendMessageRequest is the Bot API sendMessage payload.
type sendMessageRequest struct {
	ChatID    string `json:"chat_id"`
	Text      string `json:"text"`
	ParseMode string `json:"parse_mode,omitempty"`
}

func (n *Notifier) Send(ctx context.Context, notification notifier.Notification) error {
	if n.botToken == "" || n.chatID == "" {
		return notifier.ErrNotConfigured
	}

	text := fmt.Sprintf("%s %s\n%s", levelEmoji(notification.Level), notification.Title, notification.Message)

	body, err := json.Marshal(sendMessageRequest{
		ChatID: n.chatID,
		Text:   text,
	})
	if err != nil {
		return fmt.Errorf("telegram marshal: %w", err)
	}

	url := fmt.Sprintf("%s/bot%s/sendMessage", n.apiBase, n.botToken)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("telegram request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("telegram send: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= 400 {
		respBody, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("telegram API %d: %s", resp.StatusCode, string(respBody))
	}

	return nil
}

func levelEmoji(level string) string {
	switch level {
	case "success":
		return "✅"
	case "error":
		return "❌"
	case "warning":
		return "⚠️"
	default:
		return "ℹ️"
	}
}
