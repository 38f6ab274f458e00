package engine

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// PredictedMark records the last predicted-rate alert for a symbol. It
// gates repeat alerts until the rate flips sign, moves materially, or
// the symbol settles.
type PredictedMark struct {
	Rate      decimal.Decimal `json:"rate"`
	AlertedAt time.Time       `json:"alerted_at"`
}

// TrackingState is the engine's durable per-symbol memory. Timestamps
// hold the newest settlement already processed per symbol and are
// monotonically non-decreasing; Rates hold the rate observed at that
// settlement and serve as the comparison baseline for the next one.
type TrackingState struct {
	Timestamps map[string]int64           `json:"timestamps"`
	Rates      map[string]decimal.Decimal `json:"rates"`
	Predicted  map[string]PredictedMark   `json:"predicted"`
	UpdatedAt  time.Time                  `json:"last_updated"`
}

// NewTrackingState returns an empty state with initialised maps.
func NewTrackingState() TrackingState {
	return TrackingState{
		Timestamps: make(map[string]int64),
		Rates:      make(map[string]decimal.Decimal),
		Predicted:  make(map[string]PredictedMark),
	}
}

func (s *TrackingState) normalise() {
	if s.Timestamps == nil {
		s.Timestamps = make(map[string]int64)
	}
	if s.Rates == nil {
		s.Rates = make(map[string]decimal.Decimal)
	}
	if s.Predicted == nil {
		s.Predicted = make(map[string]PredictedMark)
	}
}

// StateStore persists the tracking state across restarts. Save overwrites
// the full state; Load returns whatever the last successful Save wrote.
type StateStore interface {
	Load(ctx context.Context) (TrackingState, error)
	Save(ctx context.Context, state TrackingState) error
}
