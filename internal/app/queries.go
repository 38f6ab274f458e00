package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/shopspring/decimal"

	"funding-rate-alerts/internal/alerting"
	"funding-rate-alerts/internal/commands"
	"funding-rate-alerts/internal/engine"
)

// Top prints the most extreme current funding rates.
func (a *App) Top(ctx context.Context, limit int) error {
	if limit <= 0 {
		limit = 10
	}

	tickers, err := a.newSource().FetchTickers(ctx, nil)
	if err != nil {
		return fmt.Errorf("fetch tickers: %w", err)
	}
	if len(tickers) == 0 {
		fmt.Fprintln(os.Stdout, "no ticker data available")
		return nil
	}

	symbols := make([]string, 0, len(tickers))
	for symbol := range tickers {
		symbols = append(symbols, symbol)
	}
	sort.Slice(symbols, func(i, j int) bool {
		return tickers[symbols[i]].FundingRate.Abs().GreaterThan(tickers[symbols[j]].FundingRate.Abs())
	})
	if len(symbols) > limit {
		symbols = symbols[:limit]
	}

	writer := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Symbol\tRate\tInterval\tNext Settlement\tPrice")
	for _, symbol := range symbols {
		ticker := tickers[symbol]
		fmt.Fprintf(writer, "%s\t%s\t%dh\t%s\t%s\n",
			symbol,
			alerting.FormatPercent(ticker.FundingRate),
			ticker.FundingIntervalHours,
			engine.FormatSettlementTime(ticker.NextFundingTime),
			ticker.LastPrice.StringFixed(2),
		)
	}
	return writer.Flush()
}

// Rate prints the current funding rate for one symbol.
func (a *App) Rate(ctx context.Context, rawSymbol string) error {
	symbol := a.NormaliseSymbol(rawSymbol)

	tickers, err := a.newSource().FetchTickers(ctx, []string{symbol})
	if err != nil {
		return fmt.Errorf("fetch tickers: %w", err)
	}
	ticker, ok := tickers[symbol]
	if !ok {
		return fmt.Errorf("symbol %s not found", symbol)
	}

	bias := "positive (longs pay shorts)"
	if ticker.FundingRate.Sign() < 0 {
		bias = "negative (shorts pay longs)"
	}

	fmt.Fprintf(os.Stdout, "%s\n", symbol)
	fmt.Fprintf(os.Stdout, "  rate:            %s\n", alerting.FormatPercent(ticker.FundingRate))
	fmt.Fprintf(os.Stdout, "  bias:            %s\n", bias)
	fmt.Fprintf(os.Stdout, "  interval:        %dh\n", ticker.FundingIntervalHours)
	fmt.Fprintf(os.Stdout, "  next settlement: %s\n", engine.FormatSettlementTime(ticker.NextFundingTime))
	fmt.Fprintf(os.Stdout, "  last price:      %s\n", ticker.LastPrice.StringFixed(2))
	return nil
}

// History prints the settlements for one symbol on a given DDMMYY date.
func (a *App) History(ctx context.Context, rawSymbol, dateStr string) error {
	symbol := a.NormaliseSymbol(rawSymbol)

	day, err := commands.ParseDDMMYY(dateStr)
	if err != nil {
		return fmt.Errorf("invalid date %q: use DDMMYY (e.g. 010126)", dateStr)
	}
	if day.After(time.Now().UTC()) {
		return fmt.Errorf("cannot fetch historical data for future date %s", day.Format("02 Jan 2006"))
	}

	records, err := a.newSource().FetchSettlementsBetween(ctx, symbol, day, day.Add(24*time.Hour-time.Millisecond))
	if err != nil {
		return fmt.Errorf("fetch settlements: %w", err)
	}
	if len(records) == 0 {
		fmt.Fprintf(os.Stdout, "no settlements for %s on %s\n", symbol, day.Format("02 Jan 2006"))
		return nil
	}

	writer := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Settlement (IST)\tRate")
	total := decimal.Zero
	for _, record := range records {
		total = total.Add(record.Rate)
		fmt.Fprintf(writer, "%s\t%s\n", engine.FormatSettlementTime(record.Timestamp), alerting.FormatPercent(record.Rate))
	}
	fmt.Fprintf(writer, "Daily total\t%s\n", alerting.FormatPercent(total))
	return writer.Flush()
}

// Alerts prints the most recently emitted alerts from the audit trail.
func (a *App) Alerts(ctx context.Context, opts AlertsOptions) error {
	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if store == nil {
		return errors.New("database not configured; cannot list alerts")
	}
	if closeStore != nil {
		defer closeStore()
	}

	alerts, err := store.ListRecentAlerts(ctx, opts.Limit)
	if err != nil {
		return err
	}
	if len(alerts) == 0 {
		fmt.Fprintln(os.Stdout, "no alerts found")
		return nil
	}

	writer := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Time (UTC)\tSymbol\tType\tRate\tPrev\tChange\tSettlement")
	for _, alert := range alerts {
		prev, change := "", ""
		if alert.PrevFundingRate != nil {
			prev = alerting.FormatPercent(*alert.PrevFundingRate)
		}
		if alert.RateChange != nil {
			change = alerting.FormatPercent(*alert.RateChange)
		}
		fmt.Fprintf(writer, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			alert.CreatedAt.UTC().Format(time.RFC3339),
			alert.Symbol,
			alert.Type,
			alerting.FormatPercent(alert.FundingRate),
			prev,
			change,
			sanitizeInline(alert.SettlementTime),
		)
	}
	return writer.Flush()
}

func sanitizeInline(v string) string {
	cleaned := strings.ReplaceAll(v, "\n", " ")
	return strings.ReplaceAll(cleaned, "\r", " ")
}
