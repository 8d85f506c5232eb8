package backend

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/marcboeker/go-duckdb"
	"github.com/shopspring/decimal"

	"github.com/quindar/refdata-api/internal/types"
)

// TimeSeries stores observations in DuckDB, one table per (symbol, exchange)
// keyed by timestamp. Writes replace rows with the same timestamp, so
// replaying a write is always safe.
type TimeSeries struct {
	db *sql.DB

	mu     sync.Mutex
	tables map[string]bool
}

// NewTimeSeries opens the columnar store. An empty path runs in memory.
func NewTimeSeries(path string) (*TimeSeries, error) {
	db, err := sql.Open("duckdb", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open time-series store: %w", err)
	}
	return &TimeSeries{db: db, tables: make(map[string]bool)}, nil
}

func (b *TimeSeries) Name() string {
	return "timeseries"
}

// Healthy pings the underlying connection
func (b *TimeSeries) Healthy(ctx context.Context) error {
	if err := b.db.PingContext(ctx); err != nil {
		return &types.BackendUnavailableError{Op: "ping", Err: err}
	}
	return nil
}

// Close releases the store
func (b *TimeSeries) Close() error {
	return b.db.Close()
}

// ObservationTable derives the per-instrument table name. Anything outside
// [a-z0-9] collapses to an underscore so exchange suffixes and share-class
// dots cannot break identifiers.
func ObservationTable(symbol, exchange string) string {
	sanitize := func(s string) string {
		var sb strings.Builder
		for _, r := range strings.ToLower(s) {
			if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
				sb.WriteRune(r)
			} else {
				sb.WriteRune('_')
			}
		}
		return sb.String()
	}
	return fmt.Sprintf("obs_%s_%s", sanitize(symbol), sanitize(exchange))
}

func (b *TimeSeries) ensureTable(ctx context.Context, table string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.tables[table] {
		return nil
	}
	ddl := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		ts TIMESTAMP PRIMARY KEY,
		open DOUBLE,
		high DOUBLE,
		low DOUBLE,
		close DOUBLE,
		volume DOUBLE
	)`, table)
	if _, err := b.db.ExecContext(ctx, ddl); err != nil {
		return &types.BackendUnavailableError{Op: "create " + table, Err: err}
	}
	b.tables[table] = true
	return nil
}

func (b *TimeSeries) tableExists(ctx context.Context, table string) (bool, error) {
	b.mu.Lock()
	if b.tables[table] {
		b.mu.Unlock()
		return true, nil
	}
	b.mu.Unlock()

	var count int
	err := b.db.QueryRowContext(ctx,
		`SELECT count(*) FROM information_schema.tables WHERE table_name = ?`, table).Scan(&count)
	if err != nil {
		return false, &types.BackendUnavailableError{Op: "lookup " + table, Err: err}
	}
	return count > 0, nil
}

// WriteSeries appends observations for one instrument, replacing any rows
// that share a timestamp. Returns the number of rows written.
func (b *TimeSeries) WriteSeries(ctx context.Context, symbol, exchange string, observations []types.Observation) (int, error) {
	if len(observations) == 0 {
		return 0, nil
	}
	table := ObservationTable(symbol, exchange)
	if err := b.ensureTable(ctx, table); err != nil {
		return 0, err
	}

	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, &types.BackendUnavailableError{Op: "write " + table, Err: err}
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, fmt.Sprintf(
		`INSERT OR REPLACE INTO %s (ts, open, high, low, close, volume) VALUES (?, ?, ?, ?, ?, ?)`, table))
	if err != nil {
		return 0, &types.BackendUnavailableError{Op: "write " + table, Err: err}
	}
	defer stmt.Close()

	for _, o := range observations {
		_, err := stmt.ExecContext(ctx,
			o.Timestamp.UTC(),
			o.Open.InexactFloat64(),
			o.High.InexactFloat64(),
			o.Low.InexactFloat64(),
			o.Close.InexactFloat64(),
			o.Volume.InexactFloat64(),
		)
		if err != nil {
			return 0, &types.BackendUnavailableError{Op: "write " + table, Err: err}
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, &types.BackendUnavailableError{Op: "write " + table, Err: err}
	}
	return len(observations), nil
}

// ReadSeries returns the observations for one instrument within the range,
// inclusive on both ends, ordered by timestamp. An instrument that never
// received a write yields an empty result.
func (b *TimeSeries) ReadSeries(ctx context.Context, symbol, exchange string, tr types.TimeRange) ([]types.Observation, error) {
	table := ObservationTable(symbol, exchange)
	exists, err := b.tableExists(ctx, table)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, nil
	}

	rows, err := b.db.QueryContext(ctx, fmt.Sprintf(
		`SELECT ts, open, high, low, close, volume FROM %s WHERE ts BETWEEN ? AND ? ORDER BY ts`, table),
		tr.Start.UTC(), tr.End.UTC())
	if err != nil {
		return nil, &types.BackendUnavailableError{Op: "read " + table, Err: err}
	}
	defer rows.Close()

	var out []types.Observation
	for rows.Next() {
		var (
			ts                            time.Time
			open, high, low, closePx, vol float64
		)
		if err := rows.Scan(&ts, &open, &high, &low, &closePx, &vol); err != nil {
			return nil, &types.BackendUnavailableError{Op: "read " + table, Err: err}
		}
		out = append(out, types.Observation{
			Timestamp: ts.UTC(),
			Open:      decimal.NewFromFloat(open),
			High:      decimal.NewFromFloat(high),
			Low:       decimal.NewFromFloat(low),
			Close:     decimal.NewFromFloat(closePx),
			Volume:    decimal.NewFromFloat(vol),
		})
	}
	if err := rows.Err(); err != nil {
		return nil, &types.BackendUnavailableError{Op: "read " + table, Err: err}
	}
	return out, nil
}

// DropSeries removes the observation table for one instrument. Used when an
// instrument is physically deleted.
func (b *TimeSeries) DropSeries(ctx context.Context, symbol, exchange string) error {
	table := ObservationTable(symbol, exchange)
	if _, err := b.db.ExecContext(ctx, "DROP TABLE IF EXISTS "+table); err != nil {
		return &types.BackendUnavailableError{Op: "drop " + table, Err: err}
	}
	b.mu.Lock()
	delete(b.tables, table)
	b.mu.Unlock()
	return nil
}
