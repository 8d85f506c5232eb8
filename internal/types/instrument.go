package types

import (
	"time"

	"github.com/shopspring/decimal"
)

// InstrumentType identifies which metadata schema an instrument follows
type InstrumentType string

const (
	TypeStock       InstrumentType = "STK"
	TypeFuture      InstrumentType = "FUT"
	TypeETF         InstrumentType = "ETF"
	TypeLOF         InstrumentType = "LOF"
	TypeIndex       InstrumentType = "IDX"
	TypeConvertible InstrumentType = "CB"
)

// Lifecycle states derived from stored rows, never persisted directly
const (
	StateAbsent    = "ABSENT"    // no base row
	StatePending   = "PENDING"   // base row present, required extension missing
	StateCommitted = "COMMITTED" // base and extension rows consistent
	StateRetired   = "RETIRED"   // delisted_date set
)

// InstrumentKey is the identity of an instrument across all tables
type InstrumentKey struct {
	Symbol   string `json:"symbol"`
	Exchange string `json:"exchange"`
}

func (k InstrumentKey) String() string {
	return k.Symbol + "." + k.Exchange
}

// Instrument holds the fields shared by every instrument type.
// It maps to the instruments base table, keyed by (symbol, exchange).
type Instrument struct {
	Symbol       string          `json:"symbol"`
	Exchange     string          `json:"exchange"`
	Name         string          `json:"name"`
	InstType     InstrumentType  `json:"inst_type"`
	Currency     string          `json:"currency"`
	Timezone     string          `json:"timezone"`
	TickSize     decimal.Decimal `json:"tick_size"`
	LotSize      decimal.Decimal `json:"lot_size"`
	MinLots      decimal.Decimal `json:"min_lots"`
	MarketTPlus  int             `json:"market_tplus"`
	ListedDate   time.Time       `json:"listed_date"`
	DelistedDate *time.Time      `json:"delisted_date,omitempty"`
}

// Key returns the instrument's identity
func (i *Instrument) Key() InstrumentKey {
	return InstrumentKey{Symbol: i.Symbol, Exchange: i.Exchange}
}

// Delisted reports whether the instrument has been retired
func (i *Instrument) Delisted() bool {
	return i.DelistedDate != nil && !i.DelistedDate.IsZero()
}
