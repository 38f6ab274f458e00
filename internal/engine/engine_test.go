package engine

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"funding-rate-alerts/internal/fetcher"
)

func dec(t *testing.T, raw string) decimal.Decimal {
	t.Helper()
	value, err := decimal.NewFromString(raw)
	if err != nil {
		t.Fatalf("parse decimal %q: %v", raw, err)
	}
	return value
}

func defaultOptions() Options {
	return Options{
		Policy:             PolicyFlip,
		FullAlertSymbols:   []string{"BTCUSDT"},
		MinRateChange:      decimal.NewFromFloat(0.0001),
		ExtremeRate:        decimal.NewFromFloat(0.001),
		PredictedRate:      decimal.NewFromFloat(0.001),
		PredictedMinChange: decimal.NewFromFloat(0.5),
		MaxAlertsPerHour:   200,
	}
}

func newTestEngine(opts Options) *Engine {
	return New(opts, nil, zerolog.Nop())
}

func settlement(symbol, rate string, ts int64) fetcher.Settlement {
	value, _ := decimal.NewFromString(rate)
	return fetcher.Settlement{Symbol: symbol, Rate: value, Timestamp: ts}
}

func ticker(symbol, rate string) fetcher.Ticker {
	value, _ := decimal.NewFromString(rate)
	return fetcher.Ticker{
		Symbol:               symbol,
		FundingRate:          value,
		NextFundingTime:      1700000000000,
		FundingIntervalHours: 8,
	}
}

func TestSettlementTimestampMonotonic(t *testing.T) {
	eng := newTestEngine(defaultOptions())
	ctx := context.Background()

	eng.CheckSettlements(ctx, map[string]fetcher.Settlement{
		"BTCUSDT": settlement("BTCUSDT", "0.0001", 1000),
	}, nil)
	if got := eng.State().Timestamps["BTCUSDT"]; got != 1000 {
		t.Fatalf("expected timestamp 1000, got %d", got)
	}

	// Stale data from the source must not move the timestamp backwards.
	eng.CheckSettlements(ctx, map[string]fetcher.Settlement{
		"BTCUSDT": settlement("BTCUSDT", "0.0005", 900),
	}, nil)
	if got := eng.State().Timestamps["BTCUSDT"]; got != 1000 {
		t.Fatalf("timestamp regressed to %d", got)
	}
	if got := eng.State().Rates["BTCUSDT"]; !got.Equal(dec(t, "0.0001")) {
		t.Fatalf("baseline overwritten by stale data: %s", got)
	}

	eng.CheckSettlements(ctx, map[string]fetcher.Settlement{
		"BTCUSDT": settlement("BTCUSDT", "0.0002", 2000),
	}, nil)
	if got := eng.State().Timestamps["BTCUSDT"]; got != 2000 {
		t.Fatalf("expected timestamp 2000, got %d", got)
	}
}

func TestFirstSettlementNeverAlerts(t *testing.T) {
	opts := defaultOptions()
	opts.Policy = PolicyFull
	eng := newTestEngine(opts)

	alerts := eng.CheckSettlements(context.Background(), map[string]fetcher.Settlement{
		"BTCUSDT": settlement("BTCUSDT", "0.0099", 1000),
	}, nil)

	if len(alerts) != 0 {
		t.Fatalf("first observation alerted: %+v", alerts)
	}
	if got := eng.State().Rates["BTCUSDT"]; !got.Equal(dec(t, "0.0099")) {
		t.Fatalf("baseline not stored, got %s", got)
	}
}

func TestSettlementSignFlip(t *testing.T) {
	cases := []struct {
		name     string
		baseline string
		current  string
	}{
		{name: "positive to negative", baseline: "0.0006", current: "-0.0002"},
		{name: "negative to positive", baseline: "-0.0003", current: "0.0001"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			eng := newTestEngine(defaultOptions())
			ctx := context.Background()

			eng.CheckSettlements(ctx, map[string]fetcher.Settlement{
				"BTCUSDT": settlement("BTCUSDT", tc.baseline, 1000),
			}, nil)

			alerts := eng.CheckSettlements(ctx, map[string]fetcher.Settlement{
				"BTCUSDT": settlement("BTCUSDT", tc.current, 2000),
			}, nil)

			if len(alerts) != 1 {
				t.Fatalf("expected exactly one alert, got %d", len(alerts))
			}
			if alerts[0].Type != AlertSignChange {
				t.Fatalf("expected sign_change, got %s", alerts[0].Type)
			}
			if alerts[0].PrevFundingRate == nil || !alerts[0].PrevFundingRate.Equal(dec(t, tc.baseline)) {
				t.Fatalf("previous rate missing or wrong: %+v", alerts[0].PrevFundingRate)
			}
		})
	}
}

func TestZeroDoesNotCountAsSign(t *testing.T) {
	eng := newTestEngine(defaultOptions())
	ctx := context.Background()

	eng.CheckSettlements(ctx, map[string]fetcher.Settlement{
		"BTCUSDT": settlement("BTCUSDT", "0", 1000),
	}, nil)
	alerts := eng.CheckSettlements(ctx, map[string]fetcher.Settlement{
		"BTCUSDT": settlement("BTCUSDT", "-0.0002", 2000),
	}, nil)

	if len(alerts) != 0 {
		t.Fatalf("zero baseline should not produce a flip alert: %+v", alerts)
	}
}

func TestNonReferenceSymbolsNeverSettlementAlert(t *testing.T) {
	eng := newTestEngine(defaultOptions())
	ctx := context.Background()

	eng.CheckSettlements(ctx, map[string]fetcher.Settlement{
		"ETHUSDT": settlement("ETHUSDT", "0.0050", 1000),
	}, nil)

	// Flip plus extreme magnitude, still not a reference symbol.
	alerts := eng.CheckSettlements(ctx, map[string]fetcher.Settlement{
		"ETHUSDT": settlement("ETHUSDT", "-0.0050", 2000),
	}, nil)

	if len(alerts) != 0 {
		t.Fatalf("non-reference symbol alerted: %+v", alerts)
	}
	if got := eng.State().Rates["ETHUSDT"]; !got.Equal(dec(t, "-0.0050")) {
		t.Fatalf("tracking state not advanced for non-reference symbol")
	}
}

func TestFullPolicyExtremeAppliesToAllSymbols(t *testing.T) {
	opts := defaultOptions()
	opts.Policy = PolicyFull
	eng := newTestEngine(opts)
	ctx := context.Background()

	eng.CheckSettlements(ctx, map[string]fetcher.Settlement{
		"ETHUSDT": settlement("ETHUSDT", "0.0001", 1000),
	}, nil)
	alerts := eng.CheckSettlements(ctx, map[string]fetcher.Settlement{
		"ETHUSDT": settlement("ETHUSDT", "0.0015", 2000),
	}, nil)

	if len(alerts) != 1 || alerts[0].Type != AlertExtreme {
		t.Fatalf("expected extreme alert under full policy, got %+v", alerts)
	}
}

func TestFlipChangePolicyMagnitude(t *testing.T) {
	opts := defaultOptions()
	opts.Policy = PolicyFlipChange
	eng := newTestEngine(opts)
	ctx := context.Background()

	eng.CheckSettlements(ctx, map[string]fetcher.Settlement{
		"BTCUSDT": settlement("BTCUSDT", "0.0001", 1000),
	}, nil)
	alerts := eng.CheckSettlements(ctx, map[string]fetcher.Settlement{
		"BTCUSDT": settlement("BTCUSDT", "0.0004", 2000),
	}, nil)

	if len(alerts) != 1 || alerts[0].Type != AlertSettlement {
		t.Fatalf("expected settlement alert, got %+v", alerts)
	}
}

func TestPredictedCooldownSuppression(t *testing.T) {
	eng := newTestEngine(defaultOptions())
	ctx := context.Background()

	// First extreme reading alerts and stores the cooldown baseline.
	alerts := eng.CheckPredictedRates(ctx, map[string]fetcher.Ticker{
		"XUSDT": ticker("XUSDT", "0.0015"),
	})
	if len(alerts) != 1 || alerts[0].Type != AlertPredicted {
		t.Fatalf("expected one predicted alert, got %+v", alerts)
	}

	// Same sign, under 50% relative change: suppressed.
	alerts = eng.CheckPredictedRates(ctx, map[string]fetcher.Ticker{
		"XUSDT": ticker("XUSDT", "0.0016"),
	})
	if len(alerts) != 0 {
		t.Fatalf("cooldown did not suppress: %+v", alerts)
	}

	// Below threshold: cooldown cleared, no alert.
	alerts = eng.CheckPredictedRates(ctx, map[string]fetcher.Ticker{
		"XUSDT": ticker("XUSDT", "0.0005"),
	})
	if len(alerts) != 0 {
		t.Fatalf("sub-threshold rate alerted: %+v", alerts)
	}
	if _, tracked := eng.State().Predicted["XUSDT"]; tracked {
		t.Fatal("cooldown entry not cleared")
	}

	// Fresh excursion after the clear alerts again.
	alerts = eng.CheckPredictedRates(ctx, map[string]fetcher.Ticker{
		"XUSDT": ticker("XUSDT", "0.0015"),
	})
	if len(alerts) != 1 {
		t.Fatalf("fresh excursion did not alert: %+v", alerts)
	}
}

func TestPredictedFiftyPercentEscape(t *testing.T) {
	eng := newTestEngine(defaultOptions())
	ctx := context.Background()

	eng.CheckPredictedRates(ctx, map[string]fetcher.Ticker{
		"XUSDT": ticker("XUSDT", "0.0010"),
	})

	alerts := eng.CheckPredictedRates(ctx, map[string]fetcher.Ticker{
		"XUSDT": ticker("XUSDT", "0.0015"),
	})
	if len(alerts) != 1 {
		t.Fatalf("50%% move should escape cooldown, got %+v", alerts)
	}
}

func TestPredictedSignFlipBypassesCooldown(t *testing.T) {
	eng := newTestEngine(defaultOptions())
	ctx := context.Background()

	eng.CheckPredictedRates(ctx, map[string]fetcher.Ticker{
		"XUSDT": ticker("XUSDT", "0.0012"),
	})

	alerts := eng.CheckPredictedRates(ctx, map[string]fetcher.Ticker{
		"XUSDT": ticker("XUSDT", "-0.0011"),
	})
	if len(alerts) != 1 {
		t.Fatalf("sign flip should bypass cooldown, got %+v", alerts)
	}
}

func TestRateLimiterWindowBoundary(t *testing.T) {
	opts := defaultOptions()
	opts.MaxAlertsPerHour = 2
	eng := newTestEngine(opts)
	ctx := context.Background()

	base := time.Date(2026, 3, 1, 10, 5, 0, 0, time.UTC)
	now := base
	eng.now = func() time.Time { return now }
	eng.windowStart = base.Truncate(time.Hour)

	tickers := map[string]fetcher.Ticker{
		"AAAUSDT": ticker("AAAUSDT", "0.0020"),
		"BBBUSDT": ticker("BBBUSDT", "0.0030"),
		"CCCUSDT": ticker("CCCUSDT", "0.0040"),
	}

	alerts := eng.CheckPredictedRates(ctx, tickers)
	if len(alerts) != 2 {
		t.Fatalf("expected 2 alerts within the budget, got %d", len(alerts))
	}
	// The denied symbol keeps no cooldown baseline.
	if _, tracked := eng.State().Predicted["CCCUSDT"]; tracked {
		t.Fatal("rate-limited alert recorded a cooldown baseline")
	}

	// Still inside the same hour: nothing more goes out.
	alerts = eng.CheckPredictedRates(ctx, map[string]fetcher.Ticker{
		"CCCUSDT": ticker("CCCUSDT", "0.0040"),
	})
	if len(alerts) != 0 {
		t.Fatalf("budget exceeded: %+v", alerts)
	}

	// After the hour boundary the window resets.
	now = base.Add(time.Hour)
	alerts = eng.CheckPredictedRates(ctx, map[string]fetcher.Ticker{
		"CCCUSDT": ticker("CCCUSDT", "0.0040"),
	})
	if len(alerts) != 1 {
		t.Fatalf("window did not reset after hour boundary, got %+v", alerts)
	}
}

func TestRateLimitedSettlementStillUpdatesState(t *testing.T) {
	opts := defaultOptions()
	opts.MaxAlertsPerHour = 1
	eng := newTestEngine(opts)
	ctx := context.Background()

	// Exhaust the budget with a predicted alert.
	eng.CheckPredictedRates(ctx, map[string]fetcher.Ticker{
		"XUSDT": ticker("XUSDT", "0.0020"),
	})

	eng.CheckSettlements(ctx, map[string]fetcher.Settlement{
		"BTCUSDT": settlement("BTCUSDT", "0.0006", 1000),
	}, nil)
	alerts := eng.CheckSettlements(ctx, map[string]fetcher.Settlement{
		"BTCUSDT": settlement("BTCUSDT", "-0.0002", 2000),
	}, nil)

	if len(alerts) != 0 {
		t.Fatalf("limiter should have denied the alert: %+v", alerts)
	}
	if got := eng.State().Timestamps["BTCUSDT"]; got != 2000 {
		t.Fatalf("state not advanced for denied alert, ts=%d", got)
	}
	if got := eng.State().Rates["BTCUSDT"]; !got.Equal(dec(t, "-0.0002")) {
		t.Fatalf("baseline not advanced for denied alert: %s", got)
	}
}

func TestSettlementClearsPredictedCooldown(t *testing.T) {
	eng := newTestEngine(defaultOptions())
	ctx := context.Background()

	eng.CheckPredictedRates(ctx, map[string]fetcher.Ticker{
		"XUSDT": ticker("XUSDT", "0.0015"),
	})
	if _, tracked := eng.State().Predicted["XUSDT"]; !tracked {
		t.Fatal("cooldown baseline missing after predicted alert")
	}

	eng.CheckSettlements(ctx, map[string]fetcher.Settlement{
		"XUSDT": settlement("XUSDT", "0.0015", 1000),
	}, nil)
	if _, tracked := eng.State().Predicted["XUSDT"]; tracked {
		t.Fatal("settlement did not clear the predicted cooldown")
	}

	// Next excursion is evaluated fresh.
	alerts := eng.CheckPredictedRates(ctx, map[string]fetcher.Ticker{
		"XUSDT": ticker("XUSDT", "0.0015"),
	})
	if len(alerts) != 1 {
		t.Fatalf("post-settlement excursion did not alert: %+v", alerts)
	}
}

func TestSummarize(t *testing.T) {
	summary := Summarize(map[string]fetcher.Ticker{
		"AUSDT": ticker("AUSDT", "0.0010"),
		"BUSDT": ticker("BUSDT", "-0.0030"),
		"CUSDT": ticker("CUSDT", "0.0002"),
	})

	if summary.TotalSymbols != 3 || summary.PositiveCount != 2 || summary.NegativeCount != 1 {
		t.Fatalf("unexpected counts: %+v", summary)
	}
	if summary.MostPositive != "AUSDT" || summary.MostNegative != "BUSDT" {
		t.Fatalf("unexpected extremes: %+v", summary)
	}
}

func TestFormatSettlementTime(t *testing.T) {
	if got := FormatSettlementTime(0); got != "Unknown" {
		t.Fatalf("zero timestamp should be Unknown, got %q", got)
	}
	// 2026-01-01 00:00 UTC is 05:30 AM IST the same day.
	got := FormatSettlementTime(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC).UnixMilli())
	if got != "01 Jan 2026, 05:30 AM IST" {
		t.Fatalf("unexpected IST rendering: %q", got)
	}
}
