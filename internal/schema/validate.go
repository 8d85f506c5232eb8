package schema

import (
	"fmt"

	"github.com/quindar/refdata-api/internal/types"
)

// Validate applies the record-level rules for an instrument and its
// extension before anything is written: required fields, positive sizes,
// date ordering and the extension shape matching the instrument type.
func (r *Registry) Validate(inst *types.Instrument, ext types.ExtensionRecord) error {
	if err := r.ValidateBase(inst); err != nil {
		return err
	}

	if types.RequiresExtension(inst.InstType) && ext == nil {
		return types.NewValidationError("extension",
			fmt.Sprintf("instrument type %s requires an extension record", inst.InstType))
	}
	if ext == nil {
		return nil
	}
	if !ext.AppliesTo(inst.InstType) {
		return types.NewValidationError("extension",
			fmt.Sprintf("extension record does not apply to instrument type %s", inst.InstType))
	}

	switch e := ext.(type) {
	case *types.EquityExtension:
		if e.Country == "" {
			return types.NewValidationError("country", "required")
		}
	case *types.ConvertibleExtension:
		return validateConvertible(e)
	}
	return nil
}

// ValidateBase checks the base-table rules alone. Used on partial updates
// where the stored extension row may be missing.
func (r *Registry) ValidateBase(inst *types.Instrument) error {
	if _, err := r.SchemaFor(inst.InstType); err != nil {
		return err
	}
	if inst.Symbol == "" {
		return types.NewValidationError("symbol", "required")
	}
	if inst.Exchange == "" {
		return types.NewValidationError("exchange", "required")
	}
	if inst.Name == "" {
		return types.NewValidationError("name", "required")
	}
	if inst.Currency == "" {
		return types.NewValidationError("currency", "required")
	}
	if inst.Timezone == "" {
		return types.NewValidationError("timezone", "required")
	}
	if !inst.TickSize.IsPositive() {
		return types.NewValidationError("tick_size", "must be positive")
	}
	if !inst.LotSize.IsPositive() {
		return types.NewValidationError("lot_size", "must be positive")
	}
	if !inst.MinLots.IsPositive() {
		return types.NewValidationError("min_lots", "must be positive")
	}
	if inst.MarketTPlus < 0 {
		return types.NewValidationError("market_tplus", "must not be negative")
	}
	if inst.ListedDate.IsZero() {
		return types.NewValidationError("listed_date", "required")
	}
	if inst.DelistedDate != nil && inst.DelistedDate.Before(inst.ListedDate) {
		return types.NewValidationError("delisted_date", "must not precede listed_date")
	}
	return nil
}

func validateConvertible(e *types.ConvertibleExtension) error {
	if e.Country == "" {
		return types.NewValidationError("country", "required")
	}
	if e.StockCode == "" {
		return types.NewValidationError("stock_code", "required")
	}
	if e.StockExchange == "" {
		return types.NewValidationError("stock_exchange", "required")
	}
	if e.MaturityDate.IsZero() {
		return types.NewValidationError("maturity_date", "required")
	}
	if e.ConversionStartDate.IsZero() {
		return types.NewValidationError("conversion_start_date", "required")
	}
	if e.ConversionEndDate.IsZero() {
		return types.NewValidationError("conversion_end_date", "required")
	}
	if !e.IssuePrice.IsPositive() {
		return types.NewValidationError("issue_price", "must be positive")
	}
	if e.TotalIssueSize.IsNegative() {
		return types.NewValidationError("total_issue_size", "must not be negative")
	}
	if !e.ParValue.IsPositive() {
		return types.NewValidationError("par_value", "must be positive")
	}
	if !e.RedemptionPrice.IsPositive() {
		return types.NewValidationError("redemption_price", "must be positive")
	}
	if e.ConversionEndDate.Before(e.ConversionStartDate) {
		return types.NewValidationError("conversion_end_date", "must not precede conversion_start_date")
	}
	if e.MaturityDate.Before(e.ConversionEndDate) {
		return types.NewValidationError("maturity_date", "must not precede conversion_end_date")
	}
	return nil
}
