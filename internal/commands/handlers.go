package commands

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"funding-rate-alerts/internal/alerting"
	"funding-rate-alerts/internal/engine"
)

const privateChatReply = `This is an alert service.

To receive funding rate alerts, please join the configured group.`

func (l *Listener) handleUpdate(ctx context.Context, u update) {
	if u.Message == nil || u.Message.Text == "" {
		return
	}
	text := strings.TrimSpace(u.Message.Text)
	chatID := u.Message.Chat.ID

	l.logger.Info().Str("text", text).Int64("chat", chatID).Str("chat_type", u.Message.Chat.Type).
		Msg("received message")

	if u.Message.Chat.Type == "private" {
		l.sendMessage(ctx, chatID, privateChatReply)
		return
	}

	// Only serve the configured topic when one is set.
	if l.opts.TopicID != 0 && u.Message.MessageThreadID != l.opts.TopicID {
		return
	}
	if !strings.HasPrefix(text, "/") {
		return
	}

	parts := strings.Fields(text)
	command := strings.ToLower(strings.SplitN(parts[0], "@", 2)[0])
	mentioned := l.opts.BotUsername != "" &&
		strings.Contains(strings.ToLower(text), strings.ToLower(l.opts.BotUsername))

	switch command {
	case "/funding":
		switch len(parts) {
		case 1:
			l.replyTopFunding(ctx, chatID)
		case 2:
			l.replySymbolFunding(ctx, chatID, l.normaliseSymbol(parts[1]))
		default:
			l.replyHistoricalFunding(ctx, chatID, l.normaliseSymbol(parts[1]), parts[2])
		}
	case "/status":
		// Status is noisy in busy groups; require an explicit mention.
		if mentioned {
			l.replyStatus(ctx, chatID)
		}
	}
}

func (l *Listener) normaliseSymbol(raw string) string {
	symbol := strings.ToUpper(raw)
	if !strings.HasSuffix(symbol, l.opts.QuoteSuffix) {
		symbol += l.opts.QuoteSuffix
	}
	return symbol
}

func (l *Listener) replyTopFunding(ctx context.Context, chatID int64) {
	if err := l.refreshCache(ctx); err != nil {
		l.logger.Warn().Err(err).Msg("cache refresh failed")
	}
	if len(l.cache) == 0 {
		l.sendMessage(ctx, chatID, "❌ No funding rate data available.")
		return
	}

	type entry struct {
		symbol string
		rate   decimal.Decimal
	}
	entries := make([]entry, 0, len(l.cache))
	for symbol, ticker := range l.cache {
		entries = append(entries, entry{symbol: symbol, rate: ticker.FundingRate})
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].rate.Abs().GreaterThan(entries[j].rate.Abs())
	})
	if len(entries) > 10 {
		entries = entries[:10]
	}

	lines := []string{"📊 <b>Top 10 Extreme Funding Rates</b>\n"}
	for _, e := range entries {
		lines = append(lines, fmt.Sprintf("%s <b>%s</b>: %s", rateMarker(e.rate), e.symbol, alerting.FormatPercent(e.rate)))
	}
	lines = append(lines, "\n<i>🔴 Longs pay | 🟢 Shorts pay</i>")
	lines = append(lines, "<i>💡 Use /funding SYMBOL DDMMYY for historical rates</i>")

	l.sendMessage(ctx, chatID, strings.Join(lines, "\n"))
}

func (l *Listener) replySymbolFunding(ctx context.Context, chatID int64, symbol string) {
	if err := l.refreshCache(ctx); err != nil {
		l.logger.Warn().Err(err).Msg("cache refresh failed")
	}

	ticker, ok := l.cache[symbol]
	if !ok {
		l.sendMessage(ctx, chatID, fmt.Sprintf("❌ Symbol <b>%s</b> not found.", symbol))
		return
	}

	rate := ticker.FundingRate
	var color, bias string
	if rate.Sign() >= 0 {
		color = "🟢"
		bias = "Positive (Longs Pay Shorts)"
	} else {
		color = "🔴"
		bias = "Negative (Shorts Pay Longs)"
	}

	base := strings.TrimSuffix(symbol, l.opts.QuoteSuffix)
	message := fmt.Sprintf(`%s <b>%s</b>

• Bias: %s
• Live Rate: <b>%s</b>
• Next Settlement: %s

<i>💡 Tip: Use /funding %s DDMMYY for historical rates</i>`,
		color, symbol, bias, alerting.FormatPercent(rate),
		engine.FormatSettlementTime(ticker.NextFundingTime), base)

	l.sendMessage(ctx, chatID, message)
}

func (l *Listener) replyHistoricalFunding(ctx context.Context, chatID int64, symbol, dateStr string) {
	day, err := ParseDDMMYY(dateStr)
	if err != nil {
		l.sendMessage(ctx, chatID, "❌ Invalid date format. Use DDMMYY (e.g., 010126 for 01 Jan 2026)")
		return
	}
	if day.After(time.Now().UTC().Truncate(24 * time.Hour)) {
		l.sendMessage(ctx, chatID, fmt.Sprintf("❌ Cannot fetch historical data for future date: %s", day.Format("02 Jan 2006")))
		return
	}

	from := day
	to := day.Add(24*time.Hour - time.Millisecond)
	records, err := l.source.FetchSettlementsBetween(ctx, symbol, from, to)
	if err != nil {
		l.logger.Error().Err(err).Str("symbol", symbol).Msg("historical fetch failed")
		l.sendMessage(ctx, chatID, fmt.Sprintf("❌ Error fetching historical data for %s", symbol))
		return
	}
	if len(records) == 0 {
		l.sendMessage(ctx, chatID, fmt.Sprintf("❌ No funding rate data found for <b>%s</b> on %s", symbol, day.Format("02 Jan 2006")))
		return
	}

	lines := []string{
		fmt.Sprintf("📊 <b>%s</b> Historical Funding Rates", symbol),
		fmt.Sprintf("📅 Date: %s\n", day.Format("02 Jan 2006")),
	}

	total := decimal.Zero
	for _, record := range records {
		total = total.Add(record.Rate)
		settled := engine.FormatSettlementTime(record.Timestamp)
		// Keep only the time-of-day for the per-settlement rows.
		if idx := strings.Index(settled, ", "); idx >= 0 {
			settled = settled[idx+2:]
		}
		lines = append(lines, fmt.Sprintf("%s %s: <b>%s</b>", rateMarker(record.Rate), settled, alerting.FormatPercent(record.Rate)))
	}

	lines = append(lines, fmt.Sprintf("\n%s <b>Daily Total: %s</b>", rateMarker(total), alerting.FormatPercent(total)))
	lines = append(lines, fmt.Sprintf("📈 Settlements: %d", len(records)))

	l.sendMessage(ctx, chatID, strings.Join(lines, "\n"))
}

func (l *Listener) replyStatus(ctx context.Context, chatID int64) {
	if err := l.refreshCache(ctx); err != nil {
		l.logger.Warn().Err(err).Msg("cache refresh failed")
	}

	cacheAge := "Never"
	if !l.cacheAt.IsZero() {
		cacheAge = fmt.Sprintf("%ds ago", int(time.Since(l.cacheAt).Seconds()))
	}

	summary := engine.Summarize(l.cache)
	market := ""
	if summary.TotalSymbols > 0 {
		market = fmt.Sprintf(`
<b>Market:</b>
• Positive rates: %d | Negative rates: %d
• Most positive: %s (%s)
• Most negative: %s (%s)
`,
			summary.PositiveCount, summary.NegativeCount,
			summary.MostPositive, alerting.FormatPercent(summary.MostPositiveRate),
			summary.MostNegative, alerting.FormatPercent(summary.MostNegativeRate))
	}

	message := fmt.Sprintf(`<b>Funding Rate Bot Status</b>

• Status: Running
• Uptime: %s
• Symbols Cached: %d
• Cache Updated: %s
%s
<b>Commands:</b>
• /funding - Top 10 extreme rates
• /funding SYMBOL - Current rate for symbol
• /funding SYMBOL DDMMYY - Historical rates`,
		time.Since(l.startedAt).Round(time.Second), len(l.cache), cacheAge, market)

	l.sendMessage(ctx, chatID, message)
}

// ParseDDMMYY parses a DDMMYY date string into a UTC midnight timestamp.
func ParseDDMMYY(raw string) (time.Time, error) {
	if len(raw) != 6 {
		return time.Time{}, fmt.Errorf("date must be 6 digits (DDMMYY)")
	}
	parsed, err := time.ParseInLocation("020106", raw, time.UTC)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse date: %w", err)
	}
	return parsed, nil
}

// rateMarker picks the summary emoji used in rate listings.
func rateMarker(rate decimal.Decimal) string {
	high := decimal.NewFromFloat(0.0005)
	switch {
	case rate.GreaterThan(high):
		return "🔴"
	case rate.Sign() > 0:
		return "🟠"
	case rate.LessThan(high.Neg()):
		return "🟢"
	case rate.Sign() < 0:
		return "🔵"
	default:
		return "⚪"
	}
}
