package commands

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"funding-rate-alerts/internal/fetcher"
)

// Options parameterise the command listener.
type Options struct {
	BotToken    string
	TopicID     int64
	BotUsername string
	APIBase     string
	CacheTTL    time.Duration
	QuoteSuffix string
}

// Listener long-polls Telegram for commands and answers them from its
// own ticker cache or direct snapshot-source reads. It never touches
// the alert engine's tracking state.
type Listener struct {
	opts    Options
	source  fetcher.SnapshotSource
	client  *http.Client
	logger  zerolog.Logger
	baseURL string

	startedAt time.Time
	cache     map[string]fetcher.Ticker
	cacheAt   time.Time
}

// NewListener constructs a Telegram command listener.
func NewListener(opts Options, source fetcher.SnapshotSource, logger zerolog.Logger) *Listener {
	if opts.CacheTTL <= 0 {
		opts.CacheTTL = 30 * time.Second
	}
	if opts.QuoteSuffix == "" {
		opts.QuoteSuffix = "USDT"
	}
	baseURL := strings.TrimRight(opts.APIBase, "/")
	if baseURL == "" {
		baseURL = "https://api.telegram.org"
	}

	return &Listener{
		opts:    opts,
		source:  source,
		client:  &http.Client{Timeout: 35 * time.Second},
		logger:  logger.With().Str("component", "command_listener").Logger(),
		baseURL: baseURL,
	}
}

type chat struct {
	ID   int64  `json:"id"`
	Type string `json:"type"`
}

type message struct {
	Text            string `json:"text"`
	MessageThreadID int64  `json:"message_thread_id"`
	Chat            chat   `json:"chat"`
}

type update struct {
	UpdateID int64    `json:"update_id"`
	Message  *message `json:"message"`
}

// Run blocks, polling for updates until ctx is cancelled.
func (l *Listener) Run(ctx context.Context) error {
	l.startedAt = time.Now().UTC()

	if err := l.refreshCache(ctx); err != nil {
		l.logger.Warn().Err(err).Msg("initial cache fill failed")
	}
	l.logger.Info().Msg("command listener ready")

	var offset int64
	for {
		select {
		case <-ctx.Done():
			l.logger.Info().Msg("command listener stopped")
			return ctx.Err()
		default:
		}

		updates, err := l.getUpdates(ctx, offset)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			l.logger.Warn().Err(err).Msg("polling request failed")
			time.Sleep(time.Second)
			continue
		}

		for _, u := range updates {
			if u.UpdateID >= offset {
				offset = u.UpdateID + 1
			}
			l.handleUpdate(ctx, u)
		}
	}
}

func (l *Listener) getUpdates(ctx context.Context, offset int64) ([]update, error) {
	url := fmt.Sprintf("%s/bot%s/getUpdates?offset=%d&timeout=30", l.baseURL, l.opts.BotToken, offset)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}

	resp, err := l.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("telegram status %d", resp.StatusCode)
	}

	var result struct {
		OK     bool     `json:"ok"`
		Result []update `json:"result"`
	}
	if err := json.Unmarshal(payload, &result); err != nil {
		return nil, fmt.Errorf("decode updates: %w", err)
	}
	if !result.OK {
		return nil, fmt.Errorf("telegram returned ok=false")
	}
	return result.Result, nil
}

func (l *Listener) sendMessage(ctx context.Context, chatID int64, text string) {
	payload := map[string]any{
		"chat_id":    chatID,
		"text":       text,
		"parse_mode": "HTML",
	}
	if l.opts.TopicID != 0 {
		payload["message_thread_id"] = l.opts.TopicID
	}

	body, err := json.Marshal(payload)
	if err != nil {
		l.logger.Error().Err(err).Msg("marshal reply")
		return
	}

	url := fmt.Sprintf("%s/bot%s/sendMessage", l.baseURL, l.opts.BotToken)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		l.logger.Error().Err(err).Msg("create reply request")
		return
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := l.client.Do(req)
	if err != nil {
		l.logger.Error().Err(err).Msg("send reply")
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		l.logger.Error().Int("status", resp.StatusCode).Str("body", string(respBody)).Msg("reply rejected")
	}
}

// refreshCache refills the ticker cache when stale.
func (l *Listener) refreshCache(ctx context.Context) error {
	if l.cache != nil && time.Since(l.cacheAt) < l.opts.CacheTTL {
		return nil
	}
	tickers, err := l.source.FetchTickers(ctx, nil)
	if err != nil {
		return err
	}
	l.cache = tickers
	l.cacheAt = time.Now().UTC()
	l.logger.Debug().Int("symbols", len(tickers)).Msg("ticker cache refreshed")
	return nil
}
