package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"html"
	"net/http"
	"strings"
	"time"
)

const telegramAPI = "https://api.telegram.org"

type telegramMessage struct {
	ChatID                string `json:"chat_id"`
	Text                  string `json:"text"`
	ParseMode             string `json:"parse_mode"`
	DisableWebPagePreview bool   `json:"disable_web_page_preview"`
}

// telegramError is the Bot API error envelope.
type telegramError struct {
	ErrorCode   int    `json:"error_code"`
	Description string `json:"description"`
}

// TelegramSender posts to a chat through the Bot API.
type TelegramSender struct {
	endpoint string
	chatID   string
	client   *http.Client
}

// NewTelegramSender creates a TelegramSender. baseURL overrides the Bot API
// host when non-empty.
func NewTelegramSender(token, chatID, baseURL string) *TelegramSender {
	if baseURL == "" {
		baseURL = telegramAPI
	}
	return &TelegramSender{
		endpoint: strings.TrimRight(baseURL, "/") + "/bot" + token + "/sendMessage",
		chatID:   chatID,
		client:   &http.Client{Timeout: 10 * time.Second},
	}
}

// Send posts title in bold followed by message. Symbols and ticker names are
// HTML-escaped so they never break the formatting.
func (t *TelegramSender) Send(ctx context.Context, title, message string) error {
	body, err := json.Marshal(telegramMessage{
		ChatID:                t.chatID,
		Text:                  "<b>" + html.EscapeString(title) + "</b>\n" + html.EscapeString(message),
		ParseMode:             "HTML",
		DisableWebPagePreview: true,
	})
	if err != nil {
		return fmt.Errorf("telegram: encode message: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("telegram: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.client.Do(req)
	if err != nil {
		return fmt.Errorf("telegram: send: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 == 2 {
		return nil
	}
	var apiErr telegramError
	if json.NewDecoder(resp.Body).Decode(&apiErr) == nil && apiErr.Description != "" {
		return fmt.Errorf("telegram: %d %s", apiErr.ErrorCode, apiErr.Description)
	}
	return fmt.Errorf("telegram: unexpected status %s", resp.Status)
}

// Name implements Sender.
func (t *TelegramSender) Name() string { return "telegram" }
