package app

import (
	"encoding/csv"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"funding-rate-alerts/internal/config"
	"funding-rate-alerts/internal/fetcher"
)

func TestNormaliseSymbol(t *testing.T) {
	a := NewApp(&config.Config{Bybit: config.BybitConfig{QuoteSuffix: "USDT"}}, zerolog.Nop())

	cases := map[string]string{
		"btc":     "BTCUSDT",
		"ethusdt": "ETHUSDT",
		"SOLUSDT": "SOLUSDT",
	}
	for raw, want := range cases {
		if got := a.NormaliseSymbol(raw); got != want {
			t.Errorf("NormaliseSymbol(%q) = %q, want %q", raw, got, want)
		}
	}
}

func makeSettlements(n int) []fetcher.Settlement {
	settlements := make([]fetcher.Settlement, n)
	for i := range settlements {
		settlements[i] = fetcher.Settlement{
			Symbol:    "BTCUSDT",
			Rate:      decimal.NewFromInt(int64(i)),
			Timestamp: int64(i+1) * 1000,
		}
	}
	return settlements
}

func TestDownsampleSettlements(t *testing.T) {
	settlements := makeSettlements(1000)

	downsampled := downsampleSettlements(settlements, 100)
	if len(downsampled) != 100 {
		t.Fatalf("expected 100 points, got %d", len(downsampled))
	}
	// First and last points always survive.
	if downsampled[0].Timestamp != settlements[0].Timestamp {
		t.Fatal("first point dropped")
	}
	if downsampled[99].Timestamp != settlements[999].Timestamp {
		t.Fatal("last point dropped")
	}

	if got := downsampleSettlements(settlements, 0); len(got) != 1000 {
		t.Fatalf("zero max should pass through, got %d", len(got))
	}
	if got := downsampleSettlements(settlements, 2000); len(got) != 1000 {
		t.Fatalf("larger max should pass through, got %d", len(got))
	}
}

func TestWriteSettlementsCSV(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out", "rates.csv")
	settlements := []fetcher.Settlement{
		{Symbol: "BTCUSDT", Rate: decimal.RequireFromString("0.000125"), Timestamp: 1700000000000},
		{Symbol: "BTCUSDT", Rate: decimal.RequireFromString("-0.0002"), Timestamp: 1700028800000},
	}

	if err := writeSettlementsCSV(path, settlements); err != nil {
		t.Fatalf("writeSettlementsCSV: %v", err)
	}

	file, err := os.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer file.Close()

	records, err := csv.NewReader(file).ReadAll()
	if err != nil {
		t.Fatal(err)
	}
	if len(records) != 3 {
		t.Fatalf("expected header plus 2 rows, got %d", len(records))
	}
	if records[0][0] != "settlement_ts" {
		t.Fatalf("unexpected header: %v", records[0])
	}
	if records[1][2] != "0.000125" {
		t.Fatalf("rate lost precision: %v", records[1])
	}
}
