package schema

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/shopspring/decimal"

	"github.com/quindar/refdata-api/internal/types"
)

// dateLayout is the wire format for date fields
const dateLayout = "2006-01-02"

// Key fields and inst_type cannot change after registration
var immutableFields = map[string]bool{
	"symbol":    true,
	"exchange":  true,
	"inst_type": true,
}

// NormalizeInstrument converts a raw payload into a typed Instrument. It is
// strict: unknown fields, uncoercible values and missing required fields all
// fail with a ValidationError naming the offending field.
func (r *Registry) NormalizeInstrument(payload map[string]any) (*types.Instrument, error) {
	rawType, ok := payload["inst_type"]
	if !ok {
		return nil, types.NewValidationError("inst_type", "required")
	}
	instType := types.InstrumentType(fmt.Sprintf("%v", rawType))
	s, err := r.SchemaFor(instType)
	if err != nil {
		return nil, err
	}

	vals, err := coerceFields(s.BaseFields, payload, true)
	if err != nil {
		return nil, err
	}
	if err := checkRequired(s.BaseFields, vals, "delisted_date"); err != nil {
		return nil, err
	}
	return buildInstrument(vals), nil
}

// NormalizeExtension converts a raw extension payload into the typed record
// for the given instrument type. Types without extension fields accept only
// an empty payload. A nil result with nil error means no extension row.
func (r *Registry) NormalizeExtension(instType types.InstrumentType, payload map[string]any) (types.ExtensionRecord, error) {
	s, err := r.SchemaFor(instType)
	if err != nil {
		return nil, err
	}
	if !s.HasExtension() {
		for k := range payload {
			return nil, types.NewValidationError(k, fmt.Sprintf("instrument type %s has no extension fields", instType))
		}
		return nil, nil
	}
	if len(payload) == 0 {
		return nil, nil
	}

	vals, err := coerceFields(s.ExtensionFields, payload, true)
	if err != nil {
		return nil, err
	}
	if err := checkRequired(s.ExtensionFields, vals); err != nil {
		return nil, err
	}
	return buildExtension(instType, vals), nil
}

// HydrateInstrument rebuilds a typed Instrument from a stored row. Unlike
// NormalizeInstrument it tolerates extra columns and missing values, since
// degraded rows must still be readable.
func (r *Registry) HydrateInstrument(row map[string]any) (*types.Instrument, error) {
	s, err := r.SchemaFor(types.InstrumentType(fmt.Sprintf("%v", row["inst_type"])))
	if err != nil {
		return nil, err
	}
	vals, err := coerceFields(s.BaseFields, row, false)
	if err != nil {
		return nil, err
	}
	return buildInstrument(vals), nil
}

// HydrateExtension rebuilds a typed extension record from a stored row
func (r *Registry) HydrateExtension(instType types.InstrumentType, row map[string]any) (types.ExtensionRecord, error) {
	s, err := r.SchemaFor(instType)
	if err != nil {
		return nil, err
	}
	if !s.HasExtension() || row == nil {
		return nil, nil
	}
	vals, err := coerceFields(s.ExtensionFields, row, false)
	if err != nil {
		return nil, err
	}
	return buildExtension(instType, vals), nil
}

// RouteUpdate splits a partial update into base-table and extension-table
// column sets, coercing each value. Fields absent from the schema fail with
// UnknownFieldError before anything is written; key fields and inst_type are
// rejected outright.
func (r *Registry) RouteUpdate(instType types.InstrumentType, fields map[string]any) (base, ext map[string]any, err error) {
	s, err := r.SchemaFor(instType)
	if err != nil {
		return nil, nil, err
	}

	base = make(map[string]any)
	ext = make(map[string]any)
	for name, raw := range fields {
		if immutableFields[name] {
			return nil, nil, types.NewValidationError(name, "immutable after registration")
		}
		if def, ok := s.BaseField(name); ok {
			v, cerr := coerceValue(def, raw)
			if cerr != nil {
				return nil, nil, cerr
			}
			base[name] = v
			continue
		}
		if def, ok := s.ExtensionField(name); ok {
			v, cerr := coerceValue(def, raw)
			if cerr != nil {
				return nil, nil, cerr
			}
			ext[name] = v
			continue
		}
		return nil, nil, &types.UnknownFieldError{Field: name, InstType: instType}
	}
	return base, ext, nil
}

// RouteFilter splits equality filters across the base and extension tables,
// coercing each value. Unlike RouteUpdate it accepts key fields, since
// filtering by symbol or exchange is legitimate.
func (r *Registry) RouteFilter(instType types.InstrumentType, filters map[string]any) (base, ext map[string]any, err error) {
	s, err := r.SchemaFor(instType)
	if err != nil {
		return nil, nil, err
	}

	base = make(map[string]any)
	ext = make(map[string]any)
	for name, raw := range filters {
		if def, ok := s.BaseField(name); ok {
			v, cerr := coerceValue(def, raw)
			if cerr != nil {
				return nil, nil, cerr
			}
			base[name] = v
			continue
		}
		if def, ok := s.ExtensionField(name); ok {
			v, cerr := coerceValue(def, raw)
			if cerr != nil {
				return nil, nil, cerr
			}
			ext[name] = v
			continue
		}
		return nil, nil, &types.UnknownFieldError{Field: name, InstType: instType}
	}
	return base, ext, nil
}

// coerceFields applies coerceValue to every schema field present in the
// payload. In strict mode any payload key outside the schema fails.
func coerceFields(defs []FieldDef, payload map[string]any, strict bool) (map[string]any, error) {
	if strict {
		known := make(map[string]bool, len(defs))
		for _, d := range defs {
			known[d.Name] = true
		}
		for k := range payload {
			if !known[k] {
				return nil, types.NewValidationError(k, "unknown field")
			}
		}
	}

	vals := make(map[string]any, len(defs))
	for _, def := range defs {
		raw, ok := payload[def.Name]
		if !ok || raw == nil {
			continue
		}
		v, err := coerceValue(def, raw)
		if err != nil {
			return nil, err
		}
		vals[def.Name] = v
	}
	return vals, nil
}

func checkRequired(defs []FieldDef, vals map[string]any, skip ...string) error {
	skipped := make(map[string]bool, len(skip))
	for _, s := range skip {
		skipped[s] = true
	}
	for _, def := range defs {
		if !def.Required || skipped[def.Name] {
			continue
		}
		v, ok := vals[def.Name]
		if !ok {
			return types.NewValidationError(def.Name, "required")
		}
		if s, isStr := v.(string); isStr && s == "" {
			return types.NewValidationError(def.Name, "required")
		}
	}
	return nil
}

// coerceValue converts one raw value into the field's canonical Go type:
// string, decimal.Decimal, time.Time (midnight UTC for dates) or int. The
// same path handles inbound payloads and rows read back from storage, so it
// accepts driver types like int64, float64 and []byte.
func coerceValue(def FieldDef, raw any) (any, error) {
	switch def.Kind {
	case KindString:
		switch v := raw.(type) {
		case string:
			return v, nil
		case []byte:
			return string(v), nil
		}
		return nil, types.NewValidationError(def.Name, fmt.Sprintf("expected string, got %T", raw))

	case KindDecimal:
		switch v := raw.(type) {
		case decimal.Decimal:
			return v, nil
		case string:
			d, err := decimal.NewFromString(v)
			if err != nil {
				return nil, types.NewValidationError(def.Name, "not a valid decimal")
			}
			return d, nil
		case []byte:
			d, err := decimal.NewFromString(string(v))
			if err != nil {
				return nil, types.NewValidationError(def.Name, "not a valid decimal")
			}
			return d, nil
		case float64:
			return decimal.NewFromFloat(v), nil
		case float32:
			return decimal.NewFromFloat32(v), nil
		case int:
			return decimal.NewFromInt(int64(v)), nil
		case int64:
			return decimal.NewFromInt(v), nil
		case json.Number:
			d, err := decimal.NewFromString(v.String())
			if err != nil {
				return nil, types.NewValidationError(def.Name, "not a valid decimal")
			}
			return d, nil
		}
		return nil, types.NewValidationError(def.Name, fmt.Sprintf("expected decimal, got %T", raw))

	case KindDate:
		switch v := raw.(type) {
		case time.Time:
			return v.UTC(), nil
		case *time.Time:
			if v == nil {
				return nil, nil
			}
			return v.UTC(), nil
		case string:
			return parseDate(def.Name, v)
		case []byte:
			return parseDate(def.Name, string(v))
		}
		return nil, types.NewValidationError(def.Name, fmt.Sprintf("expected date, got %T", raw))

	case KindInt:
		switch v := raw.(type) {
		case int:
			return v, nil
		case int32:
			return int(v), nil
		case int64:
			return int(v), nil
		case float64:
			if v != float64(int64(v)) {
				return nil, types.NewValidationError(def.Name, "expected integer")
			}
			return int(v), nil
		case string:
			n, err := strconv.Atoi(v)
			if err != nil {
				return nil, types.NewValidationError(def.Name, "expected integer")
			}
			return n, nil
		case json.Number:
			n, err := v.Int64()
			if err != nil {
				return nil, types.NewValidationError(def.Name, "expected integer")
			}
			return int(n), nil
		}
		return nil, types.NewValidationError(def.Name, fmt.Sprintf("expected integer, got %T", raw))
	}
	return nil, types.NewValidationError(def.Name, "unsupported field kind")
}

func parseDate(field, v string) (time.Time, error) {
	if t, err := time.Parse(dateLayout, v); err == nil {
		return t.UTC(), nil
	}
	if t, err := time.Parse(time.RFC3339, v); err == nil {
		return t.UTC(), nil
	}
	return time.Time{}, types.NewValidationError(field, "expected date in YYYY-MM-DD format")
}

func buildInstrument(vals map[string]any) *types.Instrument {
	inst := &types.Instrument{}
	if v, ok := vals["symbol"].(string); ok {
		inst.Symbol = v
	}
	if v, ok := vals["exchange"].(string); ok {
		inst.Exchange = v
	}
	if v, ok := vals["name"].(string); ok {
		inst.Name = v
	}
	if v, ok := vals["inst_type"].(string); ok {
		inst.InstType = types.InstrumentType(v)
	}
	if v, ok := vals["currency"].(string); ok {
		inst.Currency = v
	}
	if v, ok := vals["timezone"].(string); ok {
		inst.Timezone = v
	}
	if v, ok := vals["tick_size"].(decimal.Decimal); ok {
		inst.TickSize = v
	}
	if v, ok := vals["lot_size"].(decimal.Decimal); ok {
		inst.LotSize = v
	}
	if v, ok := vals["min_lots"].(decimal.Decimal); ok {
		inst.MinLots = v
	}
	if v, ok := vals["market_tplus"].(int); ok {
		inst.MarketTPlus = v
	}
	if v, ok := vals["listed_date"].(time.Time); ok {
		inst.ListedDate = v
	}
	if v, ok := vals["delisted_date"].(time.Time); ok && !v.IsZero() {
		inst.DelistedDate = &v
	}
	return inst
}

func buildExtension(instType types.InstrumentType, vals map[string]any) types.ExtensionRecord {
	switch instType {
	case types.TypeConvertible:
		e := &types.ConvertibleExtension{}
		if v, ok := vals["country"].(string); ok {
			e.Country = v
		}
		if v, ok := vals["state"].(string); ok {
			e.State = v
		}
		if v, ok := vals["stock_code"].(string); ok {
			e.StockCode = v
		}
		if v, ok := vals["stock_exchange"].(string); ok {
			e.StockExchange = v
		}
		if v, ok := vals["maturity_date"].(time.Time); ok {
			e.MaturityDate = v
		}
		if v, ok := vals["issue_price"].(decimal.Decimal); ok {
			e.IssuePrice = v
		}
		if v, ok := vals["total_issue_size"].(decimal.Decimal); ok {
			e.TotalIssueSize = v
		}
		if v, ok := vals["par_value"].(decimal.Decimal); ok {
			e.ParValue = v
		}
		if v, ok := vals["redemption_price"].(decimal.Decimal); ok {
			e.RedemptionPrice = v
		}
		if v, ok := vals["conversion_start_date"].(time.Time); ok {
			e.ConversionStartDate = v
		}
		if v, ok := vals["conversion_end_date"].(time.Time); ok {
			e.ConversionEndDate = v
		}
		if v, ok := vals["callback_terms"].(string); ok {
			e.CallbackTerms = v
		}
		if v, ok := vals["callback_type"].(string); ok {
			e.CallbackType = v
		}
		if v, ok := vals["putback_terms"].(string); ok {
			e.PutbackTerms = v
		}
		if v, ok := vals["putback_type"].(string); ok {
			e.PutbackType = v
		}
		if v, ok := vals["adjust_terms"].(string); ok {
			e.AdjustTerms = v
		}
		if v, ok := vals["adjust_type"].(string); ok {
			e.AdjustType = v
		}
		return e

	default:
		e := &types.EquityExtension{}
		if v, ok := vals["country"].(string); ok {
			e.Country = v
		}
		if v, ok := vals["state"].(string); ok {
			e.State = v
		}
		if v, ok := vals["board_type"].(string); ok {
			e.BoardType = v
		}
		if v, ok := vals["issue_price"].(decimal.Decimal); ok {
			e.IssuePrice = v
		}
		if v, ok := vals["sector"].(string); ok {
			e.Sector = v
		}
		if v, ok := vals["industry"].(string); ok {
			e.Industry = v
		}
		return e
	}
}
