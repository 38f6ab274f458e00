package storage

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"funding-rate-alerts/internal/engine"
	"funding-rate-alerts/internal/fetcher"
)

func TestFileStoreMissingFile(t *testing.T) {
	store := NewFileStore(filepath.Join(t.TempDir(), "nope", "state.json"))

	state, err := store.Load(context.Background())
	if err != nil {
		t.Fatalf("missing file should not be an error: %v", err)
	}
	if len(state.Timestamps) != 0 || len(state.Rates) != 0 || len(state.Predicted) != 0 {
		t.Fatalf("expected empty state, got %+v", state)
	}
}

func TestFileStoreCorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	if err := os.WriteFile(path, []byte("{not json"), 0o644); err != nil {
		t.Fatal(err)
	}

	if _, err := NewFileStore(path).Load(context.Background()); err == nil {
		t.Fatal("corrupt file should surface an error")
	}
}

func TestFileStoreRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data", "state.json")
	store := NewFileStore(path)
	ctx := context.Background()

	state := engine.NewTrackingState()
	state.Timestamps["BTCUSDT"] = 1700000000000
	state.Rates["BTCUSDT"] = decimal.RequireFromString("0.000125")
	state.Predicted["ETHUSDT"] = engine.PredictedMark{
		Rate:      decimal.RequireFromString("-0.0015"),
		AlertedAt: time.Date(2026, 2, 1, 12, 0, 0, 0, time.UTC),
	}
	state.UpdatedAt = time.Date(2026, 2, 1, 12, 30, 0, 0, time.UTC)

	if err := store.Save(ctx, state); err != nil {
		t.Fatalf("Save: %v", err)
	}

	loaded, err := store.Load(ctx)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if loaded.Timestamps["BTCUSDT"] != 1700000000000 {
		t.Fatalf("timestamp lost: %+v", loaded.Timestamps)
	}
	if !loaded.Rates["BTCUSDT"].Equal(state.Rates["BTCUSDT"]) {
		t.Fatalf("rate lost precision: %s", loaded.Rates["BTCUSDT"])
	}
	mark := loaded.Predicted["ETHUSDT"]
	if !mark.Rate.Equal(decimal.RequireFromString("-0.0015")) || !mark.AlertedAt.Equal(state.Predicted["ETHUSDT"].AlertedAt) {
		t.Fatalf("predicted mark lost: %+v", mark)
	}
	if !loaded.UpdatedAt.Equal(state.UpdatedAt) {
		t.Fatalf("updated_at lost: %s", loaded.UpdatedAt)
	}
}

// A restarted engine picks up where the previous one left off: the
// baseline persisted by the first instance suppresses precisely the
// alerts it would have suppressed without the restart.
func TestEngineRestartResumesState(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	store := NewFileStore(path)
	ctx := context.Background()

	opts := engine.Options{
		Policy:           engine.PolicyFlip,
		FullAlertSymbols: []string{"BTCUSDT"},
		PredictedRate:    decimal.NewFromFloat(0.001),
	}

	first := engine.New(opts, store, zerolog.Nop())
	first.CheckSettlements(ctx, map[string]fetcher.Settlement{
		"BTCUSDT": {Symbol: "BTCUSDT", Rate: decimal.RequireFromString("0.0006"), Timestamp: 1000},
	}, nil)

	second := engine.New(opts, store, zerolog.Nop())
	if got := second.State().Timestamps["BTCUSDT"]; got != 1000 {
		t.Fatalf("restarted engine lost the baseline, ts=%d", got)
	}

	// Stale settlement: the reloaded timestamp filters it out.
	alerts := second.CheckSettlements(ctx, map[string]fetcher.Settlement{
		"BTCUSDT": {Symbol: "BTCUSDT", Rate: decimal.RequireFromString("-0.0002"), Timestamp: 1000},
	}, nil)
	if len(alerts) != 0 {
		t.Fatalf("stale settlement alerted after restart: %+v", alerts)
	}

	// A genuinely new flip against the reloaded baseline alerts.
	alerts = second.CheckSettlements(ctx, map[string]fetcher.Settlement{
		"BTCUSDT": {Symbol: "BTCUSDT", Rate: decimal.RequireFromString("-0.0002"), Timestamp: 2000},
	}, nil)
	if len(alerts) != 1 || alerts[0].Type != engine.AlertSignChange {
		t.Fatalf("flip against reloaded baseline did not alert: %+v", alerts)
	}
}
