package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"funding-rate-alerts/internal/engine"
	"funding-rate-alerts/internal/fetcher"
)

type fakeSource struct {
	tickers     map[string]fetcher.Ticker
	settlements map[string]fetcher.Settlement
}

func (f *fakeSource) FetchUniverse(context.Context) (map[string]fetcher.SymbolInfo, error) {
	return nil, nil
}

func (f *fakeSource) FetchTickers(context.Context, []string) (map[string]fetcher.Ticker, error) {
	return f.tickers, nil
}

func (f *fakeSource) FetchLatestSettlements(context.Context, []string) (map[string]fetcher.Settlement, error) {
	return f.settlements, nil
}

func (f *fakeSource) FetchSettlementsBetween(context.Context, string, time.Time, time.Time) ([]fetcher.Settlement, error) {
	return nil, nil
}

// recordingNotifier captures delivery order and can fail selected calls.
type recordingNotifier struct {
	delivered []engine.Alert
	failCalls map[int]bool
	calls     int
}

func (n *recordingNotifier) Deliver(_ context.Context, alert engine.Alert) error {
	n.calls++
	n.delivered = append(n.delivered, alert)
	if n.failCalls[n.calls] {
		return errors.New("telegram unavailable")
	}
	return nil
}

func (n *recordingNotifier) DeliverText(context.Context, string) error {
	return nil
}

func predicted(symbol, rate string) engine.Alert {
	return engine.Alert{
		Symbol:      symbol,
		Type:        engine.AlertPredicted,
		FundingRate: decimal.RequireFromString(rate),
	}
}

func TestCapByMagnitude(t *testing.T) {
	alerts := []engine.Alert{
		predicted("AUSDT", "0.0011"),
		predicted("BUSDT", "-0.0040"),
		predicted("CUSDT", "0.0025"),
		predicted("DUSDT", "-0.0012"),
	}

	capped := capByMagnitude(alerts, 2)
	if len(capped) != 2 {
		t.Fatalf("expected 2 alerts, got %d", len(capped))
	}
	if capped[0].Symbol != "BUSDT" || capped[1].Symbol != "CUSDT" {
		t.Fatalf("kept the wrong alerts: %s, %s", capped[0].Symbol, capped[1].Symbol)
	}
}

func TestCapByMagnitudeNoCap(t *testing.T) {
	alerts := []engine.Alert{predicted("AUSDT", "0.0011")}

	if got := capByMagnitude(alerts, 5); len(got) != 1 {
		t.Fatalf("under-cap slice was trimmed: %d", len(got))
	}
	if got := capByMagnitude(alerts, 0); len(got) != 1 {
		t.Fatalf("zero cap should mean no cap: %d", len(got))
	}
}

func TestPollCycleDeliversSettlementsBeforePredicted(t *testing.T) {
	ctx := context.Background()

	eng := engine.New(engine.Options{
		Policy:           engine.PolicyFlip,
		FullAlertSymbols: []string{"BTCUSDT"},
		PredictedRate:    decimal.NewFromFloat(0.001),
	}, nil, zerolog.Nop())

	// Seed a baseline so the next settlement is a flip.
	eng.CheckSettlements(ctx, map[string]fetcher.Settlement{
		"BTCUSDT": {Symbol: "BTCUSDT", Rate: decimal.RequireFromString("0.0006"), Timestamp: 1000},
	}, nil)

	source := &fakeSource{
		tickers: map[string]fetcher.Ticker{
			"BTCUSDT": {Symbol: "BTCUSDT", FundingRate: decimal.RequireFromString("0.0001")},
			"ZZZUSDT": {Symbol: "ZZZUSDT", FundingRate: decimal.RequireFromString("0.0020")},
		},
		settlements: map[string]fetcher.Settlement{
			"BTCUSDT": {Symbol: "BTCUSDT", Rate: decimal.RequireFromString("-0.0002"), Timestamp: 2000},
		},
	}
	notifier := &recordingNotifier{}

	s := &Service{
		source:       source,
		engine:       eng,
		notifier:     notifier,
		logger:       zerolog.Nop(),
		topPredicted: 5,
		alertsOn:     true,
		universe: map[string]fetcher.SymbolInfo{
			"BTCUSDT": {Symbol: "BTCUSDT"},
			"ZZZUSDT": {Symbol: "ZZZUSDT"},
		},
	}

	if err := s.pollCycle(ctx); err != nil {
		t.Fatalf("pollCycle: %v", err)
	}

	if len(notifier.delivered) != 2 {
		t.Fatalf("expected 2 deliveries, got %d", len(notifier.delivered))
	}
	if notifier.delivered[0].Type != engine.AlertSignChange {
		t.Fatalf("settlement alert not delivered first: %s", notifier.delivered[0].Type)
	}
	if notifier.delivered[1].Type != engine.AlertPredicted || notifier.delivered[1].Symbol != "ZZZUSDT" {
		t.Fatalf("predicted alert not delivered second: %+v", notifier.delivered[1])
	}
}

func TestDeliverAllContinuesAfterFailure(t *testing.T) {
	notifier := &recordingNotifier{failCalls: map[int]bool{1: true}}
	s := &Service{
		notifier: notifier,
		logger:   zerolog.Nop(),
		alertsOn: true,
	}

	s.deliverAll(context.Background(), []engine.Alert{
		predicted("AUSDT", "0.0020"),
		predicted("BUSDT", "0.0030"),
		predicted("CUSDT", "0.0040"),
	})

	if len(notifier.delivered) != 3 {
		t.Fatalf("delivery stopped after a failure: %d of 3 attempted", len(notifier.delivered))
	}
}

func TestDeliverAllRespectsDisabledAlerting(t *testing.T) {
	notifier := &recordingNotifier{}
	s := &Service{
		notifier: notifier,
		logger:   zerolog.Nop(),
		alertsOn: false,
	}

	s.deliverAll(context.Background(), []engine.Alert{predicted("AUSDT", "0.0020")})

	if len(notifier.delivered) != 0 {
		t.Fatalf("alerts delivered while alerting disabled: %d", len(notifier.delivered))
	}
}

func TestDiffSymbols(t *testing.T) {
	previous := map[string]fetcher.SymbolInfo{
		"AUSDT": {}, "BUSDT": {},
	}
	current := map[string]fetcher.SymbolInfo{
		"BUSDT": {}, "CUSDT": {}, "DUSDT": {},
	}

	added, removed := diffSymbols(previous, current)
	if len(added) != 2 || added[0] != "CUSDT" || added[1] != "DUSDT" {
		t.Fatalf("unexpected added: %v", added)
	}
	if len(removed) != 1 || removed[0] != "AUSDT" {
		t.Fatalf("unexpected removed: %v", removed)
	}

	// First refresh has no baseline; everything counts as added.
	added, removed = diffSymbols(nil, current)
	if len(added) != 3 || len(removed) != 0 {
		t.Fatalf("nil previous mishandled: added=%v removed=%v", added, removed)
	}
}
