package engine

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"funding-rate-alerts/internal/fetcher"
)

// Policy selects which settlement alert rules apply.
type Policy string

const (
	// PolicyFlip alerts reference symbols on sign flips only.
	PolicyFlip Policy = "flip"
	// PolicyFlipChange adds magnitude-of-change alerts for reference symbols.
	PolicyFlipChange Policy = "flip+change"
	// PolicyFull additionally alerts every symbol on extreme settled rates.
	PolicyFull Policy = "full"
)

// Options tune the alert engine.
type Options struct {
	Policy             Policy
	FullAlertSymbols   []string
	MinRateChange      decimal.Decimal
	ExtremeRate        decimal.Decimal
	PredictedRate      decimal.Decimal
	PredictedMinChange decimal.Decimal
	MaxAlertsPerHour   int
}

// Engine ingests funding-rate snapshots and decides which observations
// are alert-worthy. It owns its tracking state and the hourly alert
// budget; no other component mutates either.
type Engine struct {
	opts   Options
	full   map[string]struct{}
	state  TrackingState
	store  StateStore
	logger zerolog.Logger

	now          func() time.Time
	windowStart  time.Time
	sentInWindow int
}

// New constructs an engine, loading any previously persisted state. A
// missing or unreadable store is not fatal; the engine starts empty.
func New(opts Options, store StateStore, logger zerolog.Logger) *Engine {
	if opts.MaxAlertsPerHour <= 0 {
		opts.MaxAlertsPerHour = 200
	}
	if opts.Policy == "" {
		opts.Policy = PolicyFlip
	}
	if opts.PredictedMinChange.IsZero() {
		opts.PredictedMinChange = decimal.NewFromFloat(0.5)
	}

	full := make(map[string]struct{}, len(opts.FullAlertSymbols))
	for _, s := range opts.FullAlertSymbols {
		full[s] = struct{}{}
	}

	e := &Engine{
		opts:   opts,
		full:   full,
		state:  NewTrackingState(),
		store:  store,
		logger: logger.With().Str("component", "engine").Logger(),
		now:    time.Now,
	}
	e.windowStart = e.now().UTC().Truncate(time.Hour)

	if store != nil {
		state, err := store.Load(context.Background())
		if err != nil {
			e.logger.Warn().Err(err).Msg("could not load tracking state; starting empty")
		} else {
			state.normalise()
			e.state = state
			e.logger.Info().Int("symbols", len(state.Timestamps)).Msg("loaded tracking state")
		}
	}

	return e
}

// CheckSettlements compares freshly fetched settlements against the
// tracked baselines and returns alerts for newly settled rates. Tracking
// state advances for every new settlement whether or not it alerts, and
// a settled symbol's predicted-alert cooldown is cleared so the next
// excursion is evaluated fresh.
func (e *Engine) CheckSettlements(ctx context.Context, settlements map[string]fetcher.Settlement, tickers map[string]fetcher.Ticker) []Alert {
	alerts := make([]Alert, 0)
	newSettlements := 0

	for _, symbol := range sortedKeys(settlements) {
		settlement := settlements[symbol]
		if settlement.Timestamp <= e.state.Timestamps[symbol] {
			// Stale or duplicate data from the source; nothing settled.
			continue
		}
		newSettlements++

		prevRate, hasBaseline := e.state.Rates[symbol]
		if hasBaseline {
			if alert := e.evaluateSettlement(symbol, settlement, prevRate, tickers[symbol]); alert != nil {
				if e.allowAlert() {
					alerts = append(alerts, *alert)
				} else {
					e.logger.Warn().Str("symbol", symbol).Msg("hourly alert budget exhausted; alert dropped")
				}
			}
		} else {
			e.logger.Debug().Str("symbol", symbol).Str("rate", settlement.Rate.String()).
				Msg("first settlement observation; baseline stored")
		}

		e.state.Timestamps[symbol] = settlement.Timestamp
		e.state.Rates[symbol] = settlement.Rate
		delete(e.state.Predicted, symbol)
	}

	if newSettlements > 0 {
		e.persist(ctx)
		e.logger.Info().Int("settlements", newSettlements).Int("alerts", len(alerts)).
			Msg("settlement check complete")
	}

	return alerts
}

func (e *Engine) evaluateSettlement(symbol string, settlement fetcher.Settlement, prevRate decimal.Decimal, ticker fetcher.Ticker) *Alert {
	current := settlement.Rate
	change := current.Sub(prevRate)
	_, isReference := e.full[symbol]

	var alertType AlertType
	switch {
	case isReference && signFlipped(prevRate, current):
		alertType = AlertSignChange
	case e.opts.Policy == PolicyFull && current.Abs().GreaterThanOrEqual(e.opts.ExtremeRate):
		alertType = AlertExtreme
	case isReference && e.opts.Policy != PolicyFlip && change.Abs().GreaterThanOrEqual(e.opts.MinRateChange):
		alertType = AlertSettlement
	default:
		return nil
	}

	interval := ticker.FundingIntervalHours
	if interval <= 0 {
		interval = fetcher.DefaultFundingIntervalHours
	}

	return &Alert{
		Symbol:              symbol,
		Type:                alertType,
		FundingRate:         current,
		PrevFundingRate:     &prevRate,
		RateChange:          &change,
		SettlementTime:      FormatSettlementTime(settlement.Timestamp),
		FundingInterval:     fmt.Sprintf("%dh", interval),
		PrevFundingInterval: fmt.Sprintf("%dh", interval),
		LastPrice:           ticker.LastPrice,
		Volume24h:           ticker.Volume24h,
		Timestamp:           e.now().UTC(),
	}
}

// CheckPredictedRates scans current predicted rates for extreme values,
// suppressing repeats of a still-extreme rate until it flips sign or
// moves by the configured relative amount. Rates that drop back below
// the threshold clear their cooldown so a later excursion alerts again.
func (e *Engine) CheckPredictedRates(ctx context.Context, tickers map[string]fetcher.Ticker) []Alert {
	alerts := make([]Alert, 0)
	changed := false

	for _, symbol := range sortedKeys(tickers) {
		ticker := tickers[symbol]
		rate := ticker.FundingRate

		if rate.Abs().LessThan(e.opts.PredictedRate) {
			if _, tracked := e.state.Predicted[symbol]; tracked {
				delete(e.state.Predicted, symbol)
				changed = true
			}
			continue
		}

		if !e.shouldAlertPredicted(symbol, rate) {
			continue
		}
		if !e.allowAlert() {
			continue
		}

		e.state.Predicted[symbol] = PredictedMark{Rate: rate, AlertedAt: e.now().UTC()}
		changed = true

		interval := ticker.FundingIntervalHours
		if interval <= 0 {
			interval = fetcher.DefaultFundingIntervalHours
		}
		alerts = append(alerts, Alert{
			Symbol:          symbol,
			Type:            AlertPredicted,
			FundingRate:     rate,
			SettlementTime:  FormatSettlementTime(ticker.NextFundingTime),
			FundingInterval: fmt.Sprintf("%dh", interval),
			LastPrice:       ticker.LastPrice,
			Volume24h:       ticker.Volume24h,
			Timestamp:       e.now().UTC(),
		})
	}

	if changed {
		e.persist(ctx)
	}

	return alerts
}

func (e *Engine) shouldAlertPredicted(symbol string, rate decimal.Decimal) bool {
	prior, tracked := e.state.Predicted[symbol]
	if !tracked {
		return true
	}
	if signFlipped(prior.Rate, rate) {
		// A flip is newsworthy even during cooldown.
		return true
	}
	if prior.Rate.IsZero() {
		return true
	}
	relative := rate.Sub(prior.Rate).Abs().Div(prior.Rate.Abs())
	return relative.GreaterThanOrEqual(e.opts.PredictedMinChange)
}

// allowAlert enforces the shared fixed-window hourly cap and counts the
// alert when allowed.
func (e *Engine) allowAlert() bool {
	hour := e.now().UTC().Truncate(time.Hour)
	if hour.After(e.windowStart) {
		e.windowStart = hour
		e.sentInWindow = 0
	}
	if e.sentInWindow >= e.opts.MaxAlertsPerHour {
		return false
	}
	e.sentInWindow++
	return true
}

func (e *Engine) persist(ctx context.Context) {
	if e.store == nil {
		return
	}
	e.state.UpdatedAt = e.now().UTC()
	if err := e.store.Save(ctx, e.state); err != nil {
		// In-memory state stays authoritative; the next save reconciles.
		e.logger.Error().Err(err).Msg("could not persist tracking state")
	}
}

// State exposes the current tracking state for status reporting. Callers
// must not mutate the returned maps.
func (e *Engine) State() TrackingState {
	return e.state
}

// Summary condenses a ticker snapshot into headline numbers.
type Summary struct {
	TotalSymbols     int
	PositiveCount    int
	NegativeCount    int
	MostPositive     string
	MostPositiveRate decimal.Decimal
	MostNegative     string
	MostNegativeRate decimal.Decimal
}

// Summarize computes a summary of the current funding-rate snapshot.
func Summarize(tickers map[string]fetcher.Ticker) Summary {
	summary := Summary{TotalSymbols: len(tickers)}
	first := true
	for symbol, ticker := range tickers {
		rate := ticker.FundingRate
		switch rate.Sign() {
		case 1:
			summary.PositiveCount++
		case -1:
			summary.NegativeCount++
		}
		if first || rate.GreaterThan(summary.MostPositiveRate) {
			summary.MostPositive = symbol
			summary.MostPositiveRate = rate
		}
		if first || rate.LessThan(summary.MostNegativeRate) {
			summary.MostNegative = symbol
			summary.MostNegativeRate = rate
		}
		first = false
	}
	return summary
}

func signFlipped(prev, current decimal.Decimal) bool {
	return (prev.Sign() > 0 && current.Sign() < 0) || (prev.Sign() < 0 && current.Sign() > 0)
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
