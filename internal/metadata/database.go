package metadata

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/quindar/refdata-api/internal/backend"
	"github.com/quindar/refdata-api/internal/schema"
	"github.com/quindar/refdata-api/internal/types"
)

// Adapter is the slice of the relational backend the metadata layer needs.
// backend.Relational satisfies it; tests substitute failure-injecting fakes
// to exercise partial-write recovery.
type Adapter interface {
	Execute(ctx context.Context, table, op string, keys, fields map[string]any) (int64, error)
	Query(ctx context.Context, table string, predicate map[string]any) ([]map[string]any, error)
	QueryOne(ctx context.Context, table string, predicate map[string]any) (map[string]any, error)
	Distinct(ctx context.Context, table, column string, predicate map[string]any) ([]string, error)
}

// Database translates typed instrument records into keyed adapter calls.
// Table and column names always come from the schema registry.
type Database struct {
	adapter  Adapter
	registry *schema.Registry
}

// NewDatabase creates a new metadata database layer
func NewDatabase(adapter Adapter, registry *schema.Registry) *Database {
	return &Database{adapter: adapter, registry: registry}
}

func keyColumns(key types.InstrumentKey) map[string]any {
	return map[string]any{"symbol": key.Symbol, "exchange": key.Exchange}
}

// GetBase returns the base row for a key, or nil when no row exists
func (d *Database) GetBase(ctx context.Context, key types.InstrumentKey) (*types.Instrument, error) {
	row, err := d.adapter.QueryOne(ctx, schema.BaseTableName, keyColumns(key))
	if errors.Is(err, types.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return d.registry.HydrateInstrument(row)
}

// UpsertBase inserts or replaces the base row for an instrument
func (d *Database) UpsertBase(ctx context.Context, inst *types.Instrument) error {
	cols := schema.InstrumentColumns(inst)
	delete(cols, "symbol")
	delete(cols, "exchange")
	cols["updated_at"] = time.Now().UTC()

	_, err := d.adapter.Execute(ctx, schema.BaseTableName, backend.OpUpsert, keyColumns(inst.Key()), cols)
	return err
}

// UpdateBase applies a partial column update to the base row
func (d *Database) UpdateBase(ctx context.Context, key types.InstrumentKey, fields map[string]any) (int64, error) {
	cols := make(map[string]any, len(fields)+1)
	for k, v := range fields {
		cols[k] = v
	}
	cols["updated_at"] = time.Now().UTC()
	return d.adapter.Execute(ctx, schema.BaseTableName, backend.OpUpdate, keyColumns(key), cols)
}

// DeleteBase removes the base row
func (d *Database) DeleteBase(ctx context.Context, key types.InstrumentKey) (int64, error) {
	return d.adapter.Execute(ctx, schema.BaseTableName, backend.OpDelete, keyColumns(key), nil)
}

// GetExtension returns the typed extension row for a key, or nil when the
// type stores no extension or the row is missing
func (d *Database) GetExtension(ctx context.Context, key types.InstrumentKey, instType types.InstrumentType) (types.ExtensionRecord, error) {
	return d.FindExtension(ctx, key, instType, nil)
}

// FindExtension fetches the extension row subject to extra equality
// predicates. A nil result with nil error means no matching row.
func (d *Database) FindExtension(ctx context.Context, key types.InstrumentKey, instType types.InstrumentType, extra map[string]any) (types.ExtensionRecord, error) {
	s, err := d.registry.SchemaFor(instType)
	if err != nil {
		return nil, err
	}
	if !s.HasExtension() {
		return nil, nil
	}
	predicate := keyColumns(key)
	for k, v := range extra {
		predicate[k] = v
	}
	row, err := d.adapter.QueryOne(ctx, s.Table(), predicate)
	if errors.Is(err, types.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return d.registry.HydrateExtension(instType, row)
}

// UpsertExtension inserts or replaces the extension row for an instrument
func (d *Database) UpsertExtension(ctx context.Context, key types.InstrumentKey, instType types.InstrumentType, ext types.ExtensionRecord) error {
	s, err := d.registry.SchemaFor(instType)
	if err != nil {
		return err
	}
	if !s.HasExtension() || ext == nil {
		return nil
	}
	cols := schema.ExtensionColumns(ext)
	cols["updated_at"] = time.Now().UTC()

	_, err = d.adapter.Execute(ctx, s.Table(), backend.OpUpsert, keyColumns(key), cols)
	return err
}

// UpdateExtension applies a partial column update to the extension row.
// Returns the number of rows touched; zero means the row is missing.
func (d *Database) UpdateExtension(ctx context.Context, key types.InstrumentKey, instType types.InstrumentType, fields map[string]any) (int64, error) {
	s, err := d.registry.SchemaFor(instType)
	if err != nil {
		return 0, err
	}
	if !s.HasExtension() || len(fields) == 0 {
		return 0, nil
	}
	cols := make(map[string]any, len(fields)+1)
	for k, v := range fields {
		cols[k] = v
	}
	cols["updated_at"] = time.Now().UTC()
	return d.adapter.Execute(ctx, s.Table(), backend.OpUpdate, keyColumns(key), cols)
}

// DeleteExtension removes the extension row. Safe to call for types without
// extension tables.
func (d *Database) DeleteExtension(ctx context.Context, key types.InstrumentKey, instType types.InstrumentType) (int64, error) {
	s, err := d.registry.SchemaFor(instType)
	if err != nil {
		return 0, err
	}
	if !s.HasExtension() {
		return 0, nil
	}
	return d.adapter.Execute(ctx, s.Table(), backend.OpDelete, keyColumns(key), nil)
}

// ListBase returns all base rows of one type matching the base-field filters
func (d *Database) ListBase(ctx context.Context, instType types.InstrumentType, filters map[string]any) ([]*types.Instrument, error) {
	predicate := map[string]any{"inst_type": string(instType)}
	for k, v := range filters {
		predicate[k] = v
	}
	rows, err := d.adapter.Query(ctx, schema.BaseTableName, predicate)
	if err != nil {
		return nil, err
	}
	out := make([]*types.Instrument, 0, len(rows))
	for _, row := range rows {
		inst, err := d.registry.HydrateInstrument(row)
		if err != nil {
			return nil, err
		}
		out = append(out, inst)
	}
	return out, nil
}

// DistinctBase returns the distinct values of one base column, optionally
// narrowed to a single instrument type
func (d *Database) DistinctBase(ctx context.Context, column string, instType types.InstrumentType) ([]string, error) {
	predicate := map[string]any{}
	if instType != "" {
		predicate["inst_type"] = string(instType)
	}
	return d.adapter.Distinct(ctx, schema.BaseTableName, column, predicate)
}

// DistinctExtension returns the distinct values of one extension column for
// a given instrument type
func (d *Database) DistinctExtension(ctx context.Context, instType types.InstrumentType, column string) ([]string, error) {
	s, err := d.registry.SchemaFor(instType)
	if err != nil {
		return nil, err
	}
	if !s.HasExtension() {
		return nil, nil
	}
	return d.adapter.Distinct(ctx, s.Table(), column, nil)
}

// Row value coercions for the journal and conversion price tables. Drivers
// hand back strings, []byte or native types depending on the backend.

func rowString(v any) string {
	switch x := v.(type) {
	case string:
		return x
	case []byte:
		return string(x)
	case nil:
		return ""
	}
	return fmt.Sprintf("%v", v)
}

func rowTime(v any) time.Time {
	switch x := v.(type) {
	case time.Time:
		return x.UTC()
	case string:
		for _, layout := range []string{time.RFC3339Nano, time.RFC3339, "2006-01-02 15:04:05", "2006-01-02"} {
			if t, err := time.Parse(layout, x); err == nil {
				return t.UTC()
			}
		}
	case []byte:
		return rowTime(string(x))
	}
	return time.Time{}
}

func rowDecimal(v any) decimal.Decimal {
	switch x := v.(type) {
	case decimal.Decimal:
		return x
	case string:
		if d, err := decimal.NewFromString(x); err == nil {
			return d
		}
	case []byte:
		if d, err := decimal.NewFromString(string(x)); err == nil {
			return d
		}
	case float64:
		return decimal.NewFromFloat(x)
	case int64:
		return decimal.NewFromInt(x)
	}
	return decimal.Zero
}
