package backend

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/quindar/refdata-api/internal/types"
)

// Write operations accepted by the relational adapter
const (
	OpUpsert = "upsert"
	OpUpdate = "update"
	OpDelete = "delete"
)

// Relational executes keyed reads and writes against the relational store.
// It is content-blind: callers name the table and columns, the adapter only
// knows how to turn them into SQL. Table and column names must come from the
// schema registry, never from raw caller input.
type Relational struct {
	db *gorm.DB
}

// NewRelational wraps an open GORM connection
func NewRelational(db *gorm.DB) *Relational {
	return &Relational{db: db}
}

func (b *Relational) Name() string {
	return "relational"
}

// Healthy pings the underlying connection
func (b *Relational) Healthy(ctx context.Context) error {
	sqlDB, err := b.db.DB()
	if err != nil {
		return &types.BackendUnavailableError{Op: "ping", Err: err}
	}
	if err := sqlDB.PingContext(ctx); err != nil {
		return &types.BackendUnavailableError{Op: "ping", Err: err}
	}
	return nil
}

// Execute runs one keyed write against a table and returns the number of
// rows affected. Upserts insert or replace the row identified by keys,
// updates touch only the given fields, deletes remove the keyed row.
// Upserts and deletes are idempotent; replaying them is always safe.
func (b *Relational) Execute(ctx context.Context, table, op string, keys, fields map[string]any) (int64, error) {
	switch op {
	case OpUpsert:
		return b.upsert(ctx, table, keys, fields)
	case OpUpdate:
		return b.update(ctx, table, keys, fields)
	case OpDelete:
		return b.delete(ctx, table, keys)
	}
	return 0, fmt.Errorf("unsupported relational operation %q", op)
}

func (b *Relational) upsert(ctx context.Context, table string, keys, fields map[string]any) (int64, error) {
	row := make(map[string]any, len(keys)+len(fields))
	for k, v := range keys {
		row[k] = v
	}
	for k, v := range fields {
		row[k] = v
	}

	conflictCols := make([]clause.Column, 0, len(keys))
	for _, k := range sortedKeys(keys) {
		conflictCols = append(conflictCols, clause.Column{Name: k})
	}
	assignments := make(map[string]any, len(fields))
	for k, v := range fields {
		assignments[k] = v
	}

	res := b.db.WithContext(ctx).Table(table).Clauses(clause.OnConflict{
		Columns:   conflictCols,
		DoUpdates: clause.Assignments(assignments),
	}).Create(row)
	if res.Error != nil {
		return 0, &types.BackendUnavailableError{Op: "upsert " + table, Err: res.Error}
	}
	return res.RowsAffected, nil
}

func (b *Relational) update(ctx context.Context, table string, keys, fields map[string]any) (int64, error) {
	if len(fields) == 0 {
		return 0, nil
	}
	res := b.db.WithContext(ctx).Table(table).Where(keys).Updates(fields)
	if res.Error != nil {
		return 0, &types.BackendUnavailableError{Op: "update " + table, Err: res.Error}
	}
	return res.RowsAffected, nil
}

func (b *Relational) delete(ctx context.Context, table string, keys map[string]any) (int64, error) {
	names := sortedKeys(keys)
	conds := make([]string, 0, len(names))
	args := make([]any, 0, len(names))
	for _, k := range names {
		conds = append(conds, k+" = ?")
		args = append(args, keys[k])
	}

	res := b.db.WithContext(ctx).Exec(
		fmt.Sprintf("DELETE FROM %s WHERE %s", table, strings.Join(conds, " AND ")), args...)
	if res.Error != nil {
		return 0, &types.BackendUnavailableError{Op: "delete " + table, Err: res.Error}
	}
	return res.RowsAffected, nil
}

// Query returns all rows of a table matching the equality predicate, as raw
// column maps for the schema layer to hydrate
func (b *Relational) Query(ctx context.Context, table string, predicate map[string]any) ([]map[string]any, error) {
	var rows []map[string]any
	q := b.db.WithContext(ctx).Table(table)
	if len(predicate) > 0 {
		q = q.Where(predicate)
	}
	if err := q.Find(&rows).Error; err != nil {
		return nil, &types.BackendUnavailableError{Op: "query " + table, Err: err}
	}
	return rows, nil
}

// QueryOne returns the single row matching the predicate, or ErrNotFound
func (b *Relational) QueryOne(ctx context.Context, table string, predicate map[string]any) (map[string]any, error) {
	rows, err := b.Query(ctx, table, predicate)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, types.ErrNotFound
	}
	return rows[0], nil
}

// Distinct returns the deduplicated non-null values of one column, ordered
func (b *Relational) Distinct(ctx context.Context, table, column string, predicate map[string]any) ([]string, error) {
	var out []string
	q := b.db.WithContext(ctx).Table(table).Where(column + " IS NOT NULL")
	if len(predicate) > 0 {
		q = q.Where(predicate)
	}
	if err := q.Distinct().Order(column).Pluck(column, &out).Error; err != nil {
		return nil, &types.BackendUnavailableError{Op: "distinct " + table, Err: err}
	}
	return out, nil
}

func sortedKeys(m map[string]any) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
