package alerting

import (
	"fmt"
	"sort"
	"strings"

	"github.com/shopspring/decimal"

	"funding-rate-alerts/internal/engine"
)

// FormatAlert renders an alert as a Telegram HTML message.
func FormatAlert(alert engine.Alert) string {
	var rateEmoji, bias string
	switch alert.FundingRate.Sign() {
	case 1:
		rateEmoji = "🔴" // longs pay shorts
		bias = "LONG PAYING"
	case -1:
		rateEmoji = "🟢" // shorts pay longs
		bias = "SHORT PAYING"
	default:
		rateEmoji = "⚪"
		bias = "NEUTRAL"
	}

	var header string
	switch alert.Type {
	case engine.AlertExtreme:
		header = "⚠️ <b>EXTREME FUNDING RATE</b> ⚠️"
	case engine.AlertSignChange:
		header = "🔄 <b>FUNDING RATE FLIP</b> 🔄"
	case engine.AlertPredicted:
		header = "🔮 <b>EXTREME PREDICTED RATE</b>"
	default:
		header = "📊 <b>FUNDING RATE CHANGE</b>"
	}

	builder := strings.Builder{}
	builder.WriteString(header + "\n\n")
	builder.WriteString(fmt.Sprintf("%s <b>%s</b> (%s)\n\n", rateEmoji, alert.Symbol, alert.FundingInterval))

	if alert.Type == engine.AlertPredicted {
		builder.WriteString(fmt.Sprintf("<b>Predicted Rate:</b> %s\n", FormatPercent(alert.FundingRate)))
		builder.WriteString(fmt.Sprintf("<b>Bias:</b> %s\n", bias))
		builder.WriteString(fmt.Sprintf("<b>Price:</b> $%s\n\n", alert.LastPrice.StringFixed(2)))
		builder.WriteString(fmt.Sprintf("<b>Settles:</b> %s\n\n", alert.SettlementTime))
	} else {
		builder.WriteString(fmt.Sprintf("<b>Settled Rate:</b> %s\n", FormatPercent(alert.FundingRate)))
		if alert.PrevFundingRate != nil {
			builder.WriteString(fmt.Sprintf("<b>Previous Rate:</b> %s\n", FormatPercent(*alert.PrevFundingRate)))
		}
		if alert.RateChange != nil {
			builder.WriteString(fmt.Sprintf("<b>Change:</b> %s %s\n", changeEmoji(*alert.RateChange), FormatPercent(*alert.RateChange)))
		}
		builder.WriteString(fmt.Sprintf("\n<b>Bias:</b> %s\n", bias))
		builder.WriteString(fmt.Sprintf("<b>Price:</b> $%s\n\n", alert.LastPrice.StringFixed(2)))
		builder.WriteString(fmt.Sprintf("<b>Settlement:</b> %s\n\n", alert.SettlementTime))
	}

	builder.WriteString("<i>Perpetual Futures</i>")
	return builder.String()
}

// FormatStartup renders the boot notification with the interval breakdown.
func FormatStartup(symbolCount int, intervals map[int]int) string {
	builder := strings.Builder{}
	builder.WriteString("🚀 <b>Funding Rate Bot Started</b>\n\n")
	builder.WriteString(fmt.Sprintf("Monitoring <b>%d</b> symbols for funding rate changes.\n", symbolCount))

	if len(intervals) > 0 {
		builder.WriteString("\n<b>Funding Intervals:</b>\n")
		hours := make([]int, 0, len(intervals))
		for h := range intervals {
			hours = append(hours, h)
		}
		sort.Ints(hours)
		for _, h := range hours {
			builder.WriteString(fmt.Sprintf("• %d-hour: %d symbols\n", h, intervals[h]))
		}
	}

	builder.WriteString("\n<b>Alert Types:</b>\n")
	builder.WriteString("• 📊 Rate changes at settlement\n")
	builder.WriteString("• ⚠️ Extreme rates\n")
	builder.WriteString("• 🔄 Rate flips (+ ↔ -)\n")
	return builder.String()
}

// FormatPercent renders a signed rate fraction as a percentage string.
func FormatPercent(rate decimal.Decimal) string {
	pct := rate.Mul(decimal.NewFromInt(100))
	text := pct.StringFixed(4)
	if pct.Sign() >= 0 {
		text = "+" + text
	}
	return text + "%"
}

func changeEmoji(change decimal.Decimal) string {
	switch change.Sign() {
	case 1:
		return "📈"
	case -1:
		return "📉"
	default:
		return "➡️"
	}
}
