package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// Notifier delivers short text messages to an operator chat.
type Notifier interface {
	// Notify sends text to the configured admin chat.
	Notify(ctx context.Context, text string) error

	// SendMessage sends text to an arbitrary chat, used for command replies.
	SendMessage(ctx context.Context, chatID int64, text string) error
}

// Noop discards every message. Used when no bot token is configured.
type Noop struct{}

func (Noop) Notify(context.Context, string) error { return nil }

func (Noop) SendMessage(context.Context, int64, string) error { return nil }

// TelegramNotifier sends messages through the Telegram Bot API.
type TelegramNotifier struct {
	client      *http.Client
	baseURL     string
	token       string
	adminChatID int64
}

// NewTelegramNotifier creates a notifier for the bot identified by token.
// baseURL defaults to https://api.telegram.org.
func NewTelegramNotifier(baseURL, token string, adminChatID int64) (*TelegramNotifier, error) {
	if token == "" {
		return nil, fmt.Errorf("telegram bot token is required")
	}
	if baseURL == "" {
		baseURL = "https://api.telegram.org"
	}
	return &TelegramNotifier{
		client:      &http.Client{Timeout: 10 * time.Second},
		baseURL:     strings.TrimRight(baseURL, "/"),
		token:       token,
		adminChatID: adminChatID,
	}, nil
}

// AdminChatID returns the chat that receives notifications.
func (t *TelegramNotifier) AdminChatID() int64 {
	return t.adminChatID
}

func (t *TelegramNotifier) Notify(ctx context.Context, text string) error {
	if t.adminChatID == 0 {
		return fmt.Errorf("telegram admin chat id is not configured")
	}
	return t.SendMessage(ctx, t.adminChatID, text)
}

type sendMessageRequest struct {
	ChatID    int64  `json:"chat_id"`
	Text      string `json:"text"`
	ParseMode string `json:"parse_mode"`
}

func (t *TelegramNotifier) SendMessage(ctx context.Context, chatID int64, text string) error {
	body, err := json.Marshal(sendMessageRequest{ChatID: chatID, Text: text, ParseMode: "Markdown"})
	if err != nil {
		return err
	}

	url := fmt.Sprintf("%s/bot%s/sendMessage", t.baseURL, t.token)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.client.Do(req)
	if err != nil {
		return fmt.Errorf("telegram sendMessage failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("telegram returned status %d: %s", resp.StatusCode, msg)
	}
	return nil
}
