package app

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"time"

	chart "github.com/wcharczuk/go-chart/v2"

	"funding-rate-alerts/internal/fetcher"
)

// Export renders a symbol's historical funding rates as CSV and/or PNG.
func (a *App) Export(ctx context.Context, opts ExportOptions) error {
	if opts.Symbol == "" {
		return errors.New("--symbol is required")
	}
	if opts.CSVPath == "" && opts.PNGPath == "" {
		return errors.New("at least one of --csv or --png must be provided")
	}

	symbol := a.NormaliseSymbol(opts.Symbol)
	opts.MaxPoints = a.Config.ResolveMaxPoints(opts.MaxPoints)

	to := time.Now().UTC()
	if opts.To != nil {
		to = opts.To.UTC()
	}
	from := to.AddDate(0, 0, -30)
	if opts.From != nil {
		from = opts.From.UTC()
	}
	if !from.Before(to) {
		return errors.New("from must be before to")
	}

	settlements, err := a.newSource().FetchSettlementsBetween(ctx, symbol, from, to)
	if err != nil {
		return fmt.Errorf("fetch settlements: %w", err)
	}
	if len(settlements) == 0 {
		a.Logger.Info().Str("symbol", symbol).Msg("no settlements found for export window")
		return nil
	}

	downsampled := downsampleSettlements(settlements, opts.MaxPoints)
	a.Logger.Info().Int("total", len(settlements)).Int("exported", len(downsampled)).
		Str("symbol", symbol).Msg("exporting settlements")

	if opts.CSVPath != "" {
		if err := writeSettlementsCSV(opts.CSVPath, downsampled); err != nil {
			return err
		}
	}
	if opts.PNGPath != "" {
		if err := writeSettlementsPNG(opts.PNGPath, symbol, downsampled); err != nil {
			return err
		}
	}
	return nil
}

func downsampleSettlements(settlements []fetcher.Settlement, max int) []fetcher.Settlement {
	if max <= 0 || len(settlements) <= max {
		return settlements
	}

	result := make([]fetcher.Settlement, 0, max)
	step := float64(len(settlements)-1) / float64(max-1)
	for i := 0; i < max; i++ {
		idx := int(math.Round(step * float64(i)))
		if idx >= len(settlements) {
			idx = len(settlements) - 1
		}
		result = append(result, settlements[idx])
	}
	return result
}

func writeSettlementsCSV(path string, settlements []fetcher.Settlement) error {
	if err := ensureDir(path); err != nil {
		return err
	}

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	defer writer.Flush()

	if err := writer.Write([]string{"settlement_ts", "symbol", "funding_rate"}); err != nil {
		return err
	}
	for _, settlement := range settlements {
		record := []string{
			time.UnixMilli(settlement.Timestamp).UTC().Format(time.RFC3339),
			settlement.Symbol,
			settlement.Rate.String(),
		}
		if err := writer.Write(record); err != nil {
			return err
		}
	}
	return writer.Error()
}

func writeSettlementsPNG(path, symbol string, settlements []fetcher.Settlement) error {
	if err := ensureDir(path); err != nil {
		return err
	}

	x := make([]time.Time, len(settlements))
	ratesPct := make([]float64, len(settlements))
	for i, settlement := range settlements {
		x[i] = time.UnixMilli(settlement.Timestamp).UTC()
		ratesPct[i] = settlement.Rate.InexactFloat64() * 100
	}

	graph := chart.Chart{
		Width:  1280,
		Height: 720,
		XAxis: chart.XAxis{
			ValueFormatter: chart.TimeValueFormatter,
		},
		YAxis: chart.YAxis{
			Name: "Funding Rate (%)",
			ValueFormatter: func(v interface{}) string {
				return chart.FloatValueFormatterWithFormat(v, "%.4f")
			},
		},
		Series: []chart.Series{
			chart.TimeSeries{
				Name:    symbol,
				XValues: x,
				YValues: ratesPct,
			},
		},
	}
	graph.Elements = []chart.Renderable{chart.Legend(&graph)}

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	return graph.Render(chart.PNG, file)
}

func ensureDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "." || dir == "" {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}
