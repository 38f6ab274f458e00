package fetcher

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// DefaultFundingIntervalHours applies when the exchange omits the
// funding interval for a symbol.
const DefaultFundingIntervalHours = 8

// Settlement is the most recently settled funding rate for a symbol.
type Settlement struct {
	Symbol    string
	Rate      decimal.Decimal
	Timestamp int64 // milliseconds since epoch
}

// Ticker is the current snapshot for a symbol, including the predicted
// funding rate that will settle at NextFundingTime.
type Ticker struct {
	Symbol               string
	FundingRate          decimal.Decimal
	NextFundingTime      int64
	FundingIntervalHours int
	LastPrice            decimal.Decimal
	Price24hPcnt         decimal.Decimal
	Volume24h            decimal.Decimal
	OpenInterest         decimal.Decimal
}

// SymbolInfo describes one tradable perpetual in the symbol universe.
type SymbolInfo struct {
	Symbol               string
	FundingIntervalHours int
	NextFundingTime      int64
	CurrentRate          decimal.Decimal
}

// SnapshotSource supplies funding-rate market data on demand. All reads
// are idempotent; implementations may return partial results.
type SnapshotSource interface {
	// FetchUniverse returns the full tradable perpetual catalog.
	FetchUniverse(ctx context.Context) (map[string]SymbolInfo, error)
	// FetchTickers returns current tickers, optionally filtered to symbols.
	FetchTickers(ctx context.Context, symbols []string) (map[string]Ticker, error)
	// FetchLatestSettlements returns the most recent settlement per symbol.
	// Symbols the source has no data for are omitted.
	FetchLatestSettlements(ctx context.Context, symbols []string) (map[string]Settlement, error)
	// FetchSettlementsBetween returns settlements for one symbol within
	// [from, to], ordered oldest first.
	FetchSettlementsBetween(ctx context.Context, symbol string, from, to time.Time) ([]Settlement, error)
}
