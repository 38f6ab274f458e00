package alerting

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"funding-rate-alerts/internal/engine"
)

// Notifier delivers alerts and plain-text messages to the alert channel.
type Notifier interface {
	Deliver(ctx context.Context, alert engine.Alert) error
	DeliverText(ctx context.Context, text string) error
}

// TelegramNotifier pushes messages through the Telegram Bot API, with
// optional forum-topic routing.
type TelegramNotifier struct {
	botToken string
	chatID   string
	topicID  int64
	baseURL  string
	client   *http.Client
	logger   zerolog.Logger
}

// NewTelegramNotifier constructs a Telegram notifier.
func NewTelegramNotifier(botToken, chatID string, topicID int64, baseURL string, timeout time.Duration, logger zerolog.Logger) *TelegramNotifier {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if baseURL == "" {
		baseURL = "https://api.telegram.org"
	}

	return &TelegramNotifier{
		botToken: botToken,
		chatID:   chatID,
		topicID:  topicID,
		baseURL:  strings.TrimRight(baseURL, "/"),
		client:   &http.Client{Timeout: timeout},
		logger:   logger.With().Str("component", "telegram_notifier").Logger(),
	}
}

// Deliver formats and sends a funding-rate alert.
func (n *TelegramNotifier) Deliver(ctx context.Context, alert engine.Alert) error {
	if err := n.DeliverText(ctx, FormatAlert(alert)); err != nil {
		return err
	}
	n.logger.Info().Str("symbol", alert.Symbol).Str("type", string(alert.Type)).Msg("alert delivered")
	return nil
}

// DeliverText sends a raw HTML-formatted message to the configured chat.
func (n *TelegramNotifier) DeliverText(ctx context.Context, text string) error {
	payload := map[string]any{
		"chat_id":    n.chatID,
		"text":       text,
		"parse_mode": "HTML",
	}
	if n.topicID != 0 {
		payload["message_thread_id"] = n.topicID
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal telegram payload: %w", err)
	}

	url := fmt.Sprintf("%s/bot%s/sendMessage", n.baseURL, n.botToken)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create telegram request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("send telegram request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("telegram status %d", resp.StatusCode)
	}

	var result struct {
		OK          bool   `json:"ok"`
		Description string `json:"description"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err == nil && !result.OK {
		return fmt.Errorf("telegram rejected message: %s", result.Description)
	}

	return nil
}

var _ Notifier = (*TelegramNotifier)(nil)
