package types

import (
	"time"

	"github.com/shopspring/decimal"
)

// Observation is a single timestamped bar for an instrument. Observations
// live in the columnar store, one table per (symbol, exchange), and are
// keyed by timestamp: rewriting the same timestamp replaces the row.
type Observation struct {
	Timestamp time.Time       `json:"timestamp"`
	Open      decimal.Decimal `json:"open"`
	High      decimal.Decimal `json:"high"`
	Low       decimal.Decimal `json:"low"`
	Close     decimal.Decimal `json:"close"`
	Volume    decimal.Decimal `json:"volume"`
}

// TimeRange bounds a series read, inclusive on both ends
type TimeRange struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}
