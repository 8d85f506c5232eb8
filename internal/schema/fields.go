package schema

import (
	"github.com/quindar/refdata-api/internal/types"
)

// InstrumentColumns flattens a typed Instrument into base-table column
// values, the shape the relational adapter writes
func InstrumentColumns(inst *types.Instrument) map[string]any {
	cols := map[string]any{
		"symbol":       inst.Symbol,
		"exchange":     inst.Exchange,
		"name":         inst.Name,
		"inst_type":    string(inst.InstType),
		"currency":     inst.Currency,
		"timezone":     inst.Timezone,
		"tick_size":    inst.TickSize,
		"lot_size":     inst.LotSize,
		"min_lots":     inst.MinLots,
		"market_tplus": inst.MarketTPlus,
		"listed_date":  inst.ListedDate,
	}
	if inst.DelistedDate != nil {
		cols["delisted_date"] = *inst.DelistedDate
	} else {
		cols["delisted_date"] = nil
	}
	return cols
}

// ExtensionColumns flattens a typed extension record into its table's
// column values. Optional fields left at their zero value are stored NULL.
func ExtensionColumns(ext types.ExtensionRecord) map[string]any {
	switch e := ext.(type) {
	case *types.EquityExtension:
		cols := map[string]any{
			"country":    e.Country,
			"state":      e.State,
			"board_type": e.BoardType,
			"sector":     e.Sector,
			"industry":   e.Industry,
		}
		if e.IssuePrice.IsZero() {
			cols["issue_price"] = nil
		} else {
			cols["issue_price"] = e.IssuePrice
		}
		return cols

	case *types.ConvertibleExtension:
		return map[string]any{
			"country":               e.Country,
			"state":                 e.State,
			"stock_code":            e.StockCode,
			"stock_exchange":        e.StockExchange,
			"maturity_date":         e.MaturityDate,
			"issue_price":           e.IssuePrice,
			"total_issue_size":      e.TotalIssueSize,
			"par_value":             e.ParValue,
			"redemption_price":      e.RedemptionPrice,
			"conversion_start_date": e.ConversionStartDate,
			"conversion_end_date":   e.ConversionEndDate,
			"callback_terms":        e.CallbackTerms,
			"callback_type":         e.CallbackType,
			"putback_terms":         e.PutbackTerms,
			"putback_type":          e.PutbackType,
			"adjust_terms":          e.AdjustTerms,
			"adjust_type":           e.AdjustType,
		}
	}
	return nil
}
