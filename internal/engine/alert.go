package engine

import (
	"time"

	"github.com/shopspring/decimal"
)

// AlertType classifies why an alert fired.
type AlertType string

const (
	// AlertSettlement marks a material rate change between settlements.
	AlertSettlement AlertType = "settlement"
	// AlertExtreme marks a settled rate beyond the extreme threshold.
	AlertExtreme AlertType = "extreme"
	// AlertSignChange marks a rate flipping sign between settlements.
	AlertSignChange AlertType = "sign_change"
	// AlertPredicted marks an extreme predicted rate ahead of settlement.
	AlertPredicted AlertType = "predicted"
)

// Alert is one alert-worthy observation, ready for delivery.
type Alert struct {
	Symbol              string
	Type                AlertType
	FundingRate         decimal.Decimal
	PrevFundingRate     *decimal.Decimal
	RateChange          *decimal.Decimal
	SettlementTime      string
	FundingInterval     string
	PrevFundingInterval string
	LastPrice           decimal.Decimal
	Volume24h           decimal.Decimal
	Timestamp           time.Time
}

// istZone renders settlement times the way the alert channel expects.
var istZone = time.FixedZone("IST", int((5*time.Hour + 30*time.Minute).Seconds()))

// FormatSettlementTime renders a millisecond timestamp as a
// human-readable IST string.
func FormatSettlementTime(millis int64) string {
	if millis <= 0 {
		return "Unknown"
	}
	return time.UnixMilli(millis).In(istZone).Format("02 Jan 2006, 03:04 PM IST")
}
