package fetcher

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"
)

const (
	tickersPath        = "/v5/market/tickers"
	fundingHistoryPath = "/v5/market/funding/history"

	fundingHistoryPageLimit = 200
)

// BybitOptions parameterise the Bybit market-data client.
type BybitOptions struct {
	BaseURL           string
	Category          string
	QuoteSuffix       string
	Timeout           time.Duration
	UserAgent         string
	RequestsPerSecond float64
	RequestBurst      int
}

// Bybit fetches funding-rate data from the Bybit v5 public market API.
type Bybit struct {
	opts    BybitOptions
	logger  zerolog.Logger
	client  *http.Client
	limiter *rate.Limiter
	baseURL string
}

// NewBybit constructs a Bybit snapshot source.
func NewBybit(opts BybitOptions, logger zerolog.Logger) *Bybit {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = "https://api.bybit.com"
	}
	if opts.Category == "" {
		opts.Category = "linear"
	}
	if opts.QuoteSuffix == "" {
		opts.QuoteSuffix = "USDT"
	}

	rps := opts.RequestsPerSecond
	if rps <= 0 {
		rps = 8
	}
	burst := opts.RequestBurst
	if burst <= 0 {
		burst = 16
	}

	return &Bybit{
		opts:    opts,
		logger:  logger.With().Str("component", "bybit_fetcher").Logger(),
		client:  &http.Client{Timeout: timeout},
		limiter: rate.NewLimiter(rate.Limit(rps), burst),
		baseURL: baseURL,
	}
}

type apiEnvelope struct {
	RetCode int             `json:"retCode"`
	RetMsg  string          `json:"retMsg"`
	Result  json.RawMessage `json:"result"`
}

type tickerItem struct {
	Symbol              string `json:"symbol"`
	LastPrice           string `json:"lastPrice"`
	FundingRate         string `json:"fundingRate"`
	NextFundingTime     string `json:"nextFundingTime"`
	FundingIntervalHour string `json:"fundingIntervalHour"`
	Price24hPcnt        string `json:"price24hPcnt"`
	Volume24h           string `json:"volume24h"`
	OpenInterest        string `json:"openInterest"`
}

type fundingHistoryItem struct {
	Symbol               string `json:"symbol"`
	FundingRate          string `json:"fundingRate"`
	FundingRateTimestamp string `json:"fundingRateTimestamp"`
}

// FetchUniverse returns every USDT perpetual with its funding interval.
func (b *Bybit) FetchUniverse(ctx context.Context) (map[string]SymbolInfo, error) {
	items, err := b.fetchTickerList(ctx)
	if err != nil {
		return nil, err
	}

	universe := make(map[string]SymbolInfo, len(items))
	for _, item := range items {
		if !strings.HasSuffix(item.Symbol, b.opts.QuoteSuffix) {
			continue
		}
		universe[item.Symbol] = SymbolInfo{
			Symbol:               item.Symbol,
			FundingIntervalHours: parseIntervalHours(item.FundingIntervalHour),
			NextFundingTime:      parseMillis(item.NextFundingTime),
			CurrentRate:          parseRate(item.FundingRate),
		}
	}

	b.logger.Debug().Int("symbols", len(universe)).Msg("fetched symbol universe")
	return universe, nil
}

// FetchTickers returns current tickers, filtered to symbols when non-empty.
func (b *Bybit) FetchTickers(ctx context.Context, symbols []string) (map[string]Ticker, error) {
	items, err := b.fetchTickerList(ctx)
	if err != nil {
		return nil, err
	}

	var wanted map[string]struct{}
	if len(symbols) > 0 {
		wanted = make(map[string]struct{}, len(symbols))
		for _, s := range symbols {
			wanted[s] = struct{}{}
		}
	}

	tickers := make(map[string]Ticker, len(items))
	for _, item := range items {
		if !strings.HasSuffix(item.Symbol, b.opts.QuoteSuffix) {
			continue
		}
		if wanted != nil {
			if _, ok := wanted[item.Symbol]; !ok {
				continue
			}
		}
		tickers[item.Symbol] = Ticker{
			Symbol:               item.Symbol,
			FundingRate:          parseRate(item.FundingRate),
			NextFundingTime:      parseMillis(item.NextFundingTime),
			FundingIntervalHours: parseIntervalHours(item.FundingIntervalHour),
			LastPrice:            parseRate(item.LastPrice),
			Price24hPcnt:         parseRate(item.Price24hPcnt),
			Volume24h:            parseRate(item.Volume24h),
			OpenInterest:         parseRate(item.OpenInterest),
		}
	}

	b.logger.Debug().Int("tickers", len(tickers)).Msg("fetched tickers")
	return tickers, nil
}

// FetchLatestSettlements returns the most recent settlement per symbol.
// Per-symbol failures are skipped so one bad symbol never empties the batch.
func (b *Bybit) FetchLatestSettlements(ctx context.Context, symbols []string) (map[string]Settlement, error) {
	settlements := make(map[string]Settlement, len(symbols))

	for _, symbol := range symbols {
		if err := b.limiter.Wait(ctx); err != nil {
			return settlements, err
		}

		records, err := b.fetchFundingHistory(ctx, symbol, 1, 0, 0)
		if err != nil {
			if ctx.Err() != nil {
				return settlements, ctx.Err()
			}
			b.logger.Warn().Err(err).Str("symbol", symbol).Msg("skip settlement fetch")
			continue
		}
		if len(records) == 0 {
			continue
		}
		settlements[symbol] = records[len(records)-1]
	}

	return settlements, nil
}

// FetchSettlementsBetween returns settlements in [from, to], oldest first.
func (b *Bybit) FetchSettlementsBetween(ctx context.Context, symbol string, from, to time.Time) ([]Settlement, error) {
	if err := b.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	return b.fetchFundingHistory(ctx, symbol, fundingHistoryPageLimit, from.UnixMilli(), to.UnixMilli())
}

func (b *Bybit) fetchTickerList(ctx context.Context) ([]tickerItem, error) {
	params := url.Values{}
	params.Set("category", b.opts.Category)

	payload, err := b.get(ctx, tickersPath, params)
	if err != nil {
		return nil, err
	}

	var result struct {
		List []tickerItem `json:"list"`
	}
	if err := json.Unmarshal(payload, &result); err != nil {
		return nil, fmt.Errorf("decode ticker list: %w", err)
	}
	return result.List, nil
}

func (b *Bybit) fetchFundingHistory(ctx context.Context, symbol string, limit int, startMillis, endMillis int64) ([]Settlement, error) {
	params := url.Values{}
	params.Set("category", b.opts.Category)
	params.Set("symbol", symbol)
	params.Set("limit", strconv.Itoa(limit))
	if startMillis > 0 {
		params.Set("startTime", strconv.FormatInt(startMillis, 10))
	}
	if endMillis > 0 {
		params.Set("endTime", strconv.FormatInt(endMillis, 10))
	}

	payload, err := b.get(ctx, fundingHistoryPath, params)
	if err != nil {
		return nil, err
	}

	var result struct {
		List []fundingHistoryItem `json:"list"`
	}
	if err := json.Unmarshal(payload, &result); err != nil {
		return nil, fmt.Errorf("decode funding history: %w", err)
	}

	settlements := make([]Settlement, 0, len(result.List))
	for _, item := range result.List {
		settlements = append(settlements, Settlement{
			Symbol:    item.Symbol,
			Rate:      parseRate(item.FundingRate),
			Timestamp: parseMillis(item.FundingRateTimestamp),
		})
	}

	// The API returns newest first; callers expect chronological order.
	for i, j := 0, len(settlements)-1; i < j; i, j = i+1, j-1 {
		settlements[i], settlements[j] = settlements[j], settlements[i]
	}
	return settlements, nil
}

func (b *Bybit) get(ctx context.Context, path string, params url.Values) (json.RawMessage, error) {
	endpoint := b.baseURL + path + "?" + params.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	if ua := strings.TrimSpace(b.opts.UserAgent); ua != "" {
		req.Header.Set("User-Agent", ua)
	}

	resp, err := b.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("bybit api error (%d): %s", resp.StatusCode, strings.TrimSpace(string(payload)))
	}

	var envelope apiEnvelope
	if err := json.Unmarshal(payload, &envelope); err != nil {
		return nil, fmt.Errorf("decode bybit envelope: %w", err)
	}
	if envelope.RetCode != 0 {
		return nil, fmt.Errorf("bybit api error (retCode %d): %s", envelope.RetCode, envelope.RetMsg)
	}

	return envelope.Result, nil
}

func parseRate(raw string) decimal.Decimal {
	if raw == "" {
		return decimal.Zero
	}
	value, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero
	}
	return value
}

func parseMillis(raw string) int64 {
	if raw == "" {
		return 0
	}
	value, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0
	}
	return value
}

func parseIntervalHours(raw string) int {
	if raw == "" {
		return DefaultFundingIntervalHours
	}
	value, err := strconv.Atoi(raw)
	if err != nil || value <= 0 {
		return DefaultFundingIntervalHours
	}
	return value
}

var _ SnapshotSource = (*Bybit)(nil)
