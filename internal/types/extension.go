package types

import (
	"time"

	"github.com/shopspring/decimal"
)

// ExtensionRecord is the type-specific half of an instrument's metadata.
// Each variant maps to one instruments_<type> table, joined to the base
// table on (symbol, exchange). Types without extension fields (FUT, IDX)
// carry no record at all.
type ExtensionRecord interface {
	// AppliesTo reports whether this record shape is valid for the given type
	AppliesTo(t InstrumentType) bool
}

// EquityExtension covers STK, ETF and LOF instruments
type EquityExtension struct {
	Country    string          `json:"country"`
	State      string          `json:"state,omitempty"`
	BoardType  string          `json:"board_type,omitempty"`
	IssuePrice decimal.Decimal `json:"issue_price,omitempty"`
	Sector     string          `json:"sector,omitempty"`
	Industry   string          `json:"industry,omitempty"`
}

func (EquityExtension) AppliesTo(t InstrumentType) bool {
	return t == TypeStock || t == TypeETF || t == TypeLOF
}

// ConvertibleExtension covers CB instruments. The underlying equity is
// referenced by stock_code and stock_exchange rather than a foreign key so
// bonds can be registered before their underlying.
type ConvertibleExtension struct {
	Country             string          `json:"country"`
	State               string          `json:"state,omitempty"`
	StockCode           string          `json:"stock_code"`
	StockExchange       string          `json:"stock_exchange"`
	MaturityDate        time.Time       `json:"maturity_date"`
	IssuePrice          decimal.Decimal `json:"issue_price"`
	TotalIssueSize      decimal.Decimal `json:"total_issue_size"`
	ParValue            decimal.Decimal `json:"par_value"`
	RedemptionPrice     decimal.Decimal `json:"redemption_price"`
	ConversionStartDate time.Time       `json:"conversion_start_date"`
	ConversionEndDate   time.Time       `json:"conversion_end_date"`
	CallbackTerms       string          `json:"callback_terms,omitempty"`
	CallbackType        string          `json:"callback_type,omitempty"`
	PutbackTerms        string          `json:"putback_terms,omitempty"`
	PutbackType         string          `json:"putback_type,omitempty"`
	AdjustTerms         string          `json:"adjust_terms,omitempty"`
	AdjustType          string          `json:"adjust_type,omitempty"`
}

func (ConvertibleExtension) AppliesTo(t InstrumentType) bool {
	return t == TypeConvertible
}

// RequiresExtension reports whether an instrument type must carry an
// extension row to be considered fully committed
func RequiresExtension(t InstrumentType) bool {
	switch t {
	case TypeFuture, TypeIndex:
		return false
	default:
		return true
	}
}
