package schema

import (
	"fmt"
	"sort"
	"strings"

	"github.com/quindar/refdata-api/internal/types"
)

// BaseTableName is the relational table holding the shared instrument fields
const BaseTableName = "instruments"

// FieldKind drives coercion and column typing for a field
type FieldKind int

const (
	KindString FieldKind = iota
	KindDecimal
	KindDate
	KindInt
)

// FieldDef describes one field of a schema
type FieldDef struct {
	Name     string
	Kind     FieldKind
	Required bool
}

// Schema describes the full field set for one instrument type: the base
// fields shared by every type plus the type-specific extension fields
type Schema struct {
	InstType        types.InstrumentType
	BaseFields      []FieldDef
	ExtensionFields []FieldDef
}

// Table returns the extension table name for this schema's type
func (s *Schema) Table() string {
	return TableNameFor(s.InstType)
}

// HasExtension reports whether the type stores an extension row at all
func (s *Schema) HasExtension() bool {
	return len(s.ExtensionFields) > 0
}

// ExtensionField looks up an extension field definition by name
func (s *Schema) ExtensionField(name string) (FieldDef, bool) {
	for _, f := range s.ExtensionFields {
		if f.Name == name {
			return f, true
		}
	}
	return FieldDef{}, false
}

// BaseField looks up a base field definition by name
func (s *Schema) BaseField(name string) (FieldDef, bool) {
	for _, f := range s.BaseFields {
		if f.Name == name {
			return f, true
		}
	}
	return FieldDef{}, false
}

// TableNameFor derives the extension table name for an instrument type
func TableNameFor(t types.InstrumentType) string {
	return BaseTableName + "_" + strings.ToLower(string(t))
}

// Registry holds the schema for every known instrument type. It is built
// once at startup and frozen before any traffic; afterwards all lookups are
// lock-free reads.
type Registry struct {
	schemas map[types.InstrumentType]*Schema
	frozen  bool
}

// NewRegistry returns an empty, unfrozen registry
func NewRegistry() *Registry {
	return &Registry{schemas: make(map[types.InstrumentType]*Schema)}
}

// Register adds a schema for a new instrument type. It fails once the
// registry is frozen or when the type is already present.
func (r *Registry) Register(instType types.InstrumentType, extensionFields []FieldDef) error {
	if r.frozen {
		return fmt.Errorf("schema registry is frozen, cannot register type %s", instType)
	}
	if _, exists := r.schemas[instType]; exists {
		return fmt.Errorf("schema for type %s already registered", instType)
	}
	r.schemas[instType] = &Schema{
		InstType:        instType,
		BaseFields:      baseFields(),
		ExtensionFields: extensionFields,
	}
	return nil
}

// Freeze makes the registry immutable
func (r *Registry) Freeze() {
	r.frozen = true
}

// SchemaFor returns the schema for an instrument type
func (r *Registry) SchemaFor(instType types.InstrumentType) (*Schema, error) {
	s, ok := r.schemas[instType]
	if !ok {
		return nil, &types.SchemaNotFoundError{InstType: instType}
	}
	return s, nil
}

// Types returns all registered instrument types in stable order
func (r *Registry) Types() []types.InstrumentType {
	out := make([]types.InstrumentType, 0, len(r.schemas))
	for t := range r.schemas {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// baseFields returns the field definitions shared by every instrument type.
// Only delisted_date is nullable; key fields and inst_type are immutable
// after registration.
func baseFields() []FieldDef {
	return []FieldDef{
		{Name: "symbol", Kind: KindString, Required: true},
		{Name: "exchange", Kind: KindString, Required: true},
		{Name: "name", Kind: KindString, Required: true},
		{Name: "inst_type", Kind: KindString, Required: true},
		{Name: "currency", Kind: KindString, Required: true},
		{Name: "timezone", Kind: KindString, Required: true},
		{Name: "tick_size", Kind: KindDecimal, Required: true},
		{Name: "lot_size", Kind: KindDecimal, Required: true},
		{Name: "min_lots", Kind: KindDecimal, Required: true},
		{Name: "market_tplus", Kind: KindInt, Required: true},
		{Name: "listed_date", Kind: KindDate, Required: true},
		{Name: "delisted_date", Kind: KindDate, Required: false},
	}
}

func equityExtensionFields() []FieldDef {
	return []FieldDef{
		{Name: "country", Kind: KindString, Required: true},
		{Name: "state", Kind: KindString},
		{Name: "board_type", Kind: KindString},
		{Name: "issue_price", Kind: KindDecimal},
		{Name: "sector", Kind: KindString},
		{Name: "industry", Kind: KindString},
	}
}

func convertibleExtensionFields() []FieldDef {
	return []FieldDef{
		{Name: "country", Kind: KindString, Required: true},
		{Name: "state", Kind: KindString},
		{Name: "stock_code", Kind: KindString, Required: true},
		{Name: "stock_exchange", Kind: KindString, Required: true},
		{Name: "maturity_date", Kind: KindDate, Required: true},
		{Name: "issue_price", Kind: KindDecimal, Required: true},
		{Name: "total_issue_size", Kind: KindDecimal, Required: true},
		{Name: "par_value", Kind: KindDecimal, Required: true},
		{Name: "redemption_price", Kind: KindDecimal, Required: true},
		{Name: "conversion_start_date", Kind: KindDate, Required: true},
		{Name: "conversion_end_date", Kind: KindDate, Required: true},
		{Name: "callback_terms", Kind: KindString},
		{Name: "callback_type", Kind: KindString},
		{Name: "putback_terms", Kind: KindString},
		{Name: "putback_type", Kind: KindString},
		{Name: "adjust_terms", Kind: KindString},
		{Name: "adjust_type", Kind: KindString},
	}
}

// Builtin returns the frozen registry covering the six built-in instrument
// types. FUT and IDX carry no extension fields, so no extension table or
// row exists for them.
func Builtin() *Registry {
	r := NewRegistry()
	for t, ext := range map[types.InstrumentType][]FieldDef{
		types.TypeStock:       equityExtensionFields(),
		types.TypeETF:         equityExtensionFields(),
		types.TypeLOF:         equityExtensionFields(),
		types.TypeFuture:      nil,
		types.TypeIndex:       nil,
		types.TypeConvertible: convertibleExtensionFields(),
	} {
		if err := r.Register(t, ext); err != nil {
			panic(err)
		}
	}
	r.Freeze()
	return r
}
