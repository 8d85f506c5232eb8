package types

import (
	"time"

	"github.com/shopspring/decimal"
)

// ConversionPriceRevision is one entry in a convertible bond's conversion
// price history. Revisions are keyed by announcement date; the latest
// announcement is the price in force.
type ConversionPriceRevision struct {
	Symbol           string          `json:"symbol"`
	Exchange         string          `json:"exchange"`
	AnnouncementDate time.Time       `json:"announcement_date"`
	EffectiveDate    time.Time       `json:"effective_date"`
	ConversionPrice  decimal.Decimal `json:"conversion_price"`
}
