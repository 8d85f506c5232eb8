package metadata

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quindar/refdata-api/internal/backend"
	"github.com/quindar/refdata-api/internal/schema"
	"github.com/quindar/refdata-api/internal/types"
)

var errInjected = errors.New("injected backend failure")

// fakeAdapter is an in-memory Adapter with per-table failure injection. It
// records every Execute call so tests can assert write ordering.
type fakeAdapter struct {
	mu     sync.Mutex
	tables map[string][]map[string]any
	fail   map[string]bool
	ops    []string
}

func newFakeAdapter() *fakeAdapter {
	return &fakeAdapter{
		tables: make(map[string][]map[string]any),
		fail:   make(map[string]bool),
	}
}

func (f *fakeAdapter) failOn(table, op string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fail[table+"/"+op] = true
}

func (f *fakeAdapter) reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fail = make(map[string]bool)
}

func (f *fakeAdapter) resetOps() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ops = nil
}

func (f *fakeAdapter) executed() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.ops...)
}

func (f *fakeAdapter) count(table string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.tables[table])
}

func (f *fakeAdapter) Execute(_ context.Context, table, op string, keys, fields map[string]any) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.fail[table+"/"+op] {
		return 0, &types.BackendUnavailableError{Op: op, Err: errInjected}
	}
	f.ops = append(f.ops, op+" "+table)

	switch op {
	case backend.OpUpsert:
		for _, row := range f.tables[table] {
			if rowMatches(row, keys) {
				for k, v := range fields {
					row[k] = v
				}
				return 1, nil
			}
		}
		row := make(map[string]any, len(keys)+len(fields))
		for k, v := range keys {
			row[k] = v
		}
		for k, v := range fields {
			row[k] = v
		}
		f.tables[table] = append(f.tables[table], row)
		return 1, nil

	case backend.OpUpdate:
		var affected int64
		for _, row := range f.tables[table] {
			if rowMatches(row, keys) {
				for k, v := range fields {
					row[k] = v
				}
				affected++
			}
		}
		return affected, nil

	case backend.OpDelete:
		kept := f.tables[table][:0]
		var affected int64
		for _, row := range f.tables[table] {
			if rowMatches(row, keys) {
				affected++
				continue
			}
			kept = append(kept, row)
		}
		f.tables[table] = kept
		return affected, nil
	}
	return 0, &types.BackendUnavailableError{Op: op, Err: errors.New("unsupported operation")}
}

func (f *fakeAdapter) Query(_ context.Context, table string, predicate map[string]any) ([]map[string]any, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var out []map[string]any
	for _, row := range f.tables[table] {
		if rowMatches(row, predicate) {
			out = append(out, copyRow(row))
		}
	}
	return out, nil
}

func (f *fakeAdapter) QueryOne(_ context.Context, table string, predicate map[string]any) (map[string]any, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	for _, row := range f.tables[table] {
		if rowMatches(row, predicate) {
			return copyRow(row), nil
		}
	}
	return nil, types.ErrNotFound
}

func (f *fakeAdapter) Distinct(_ context.Context, table, column string, predicate map[string]any) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	seen := make(map[string]bool)
	for _, row := range f.tables[table] {
		if !rowMatches(row, predicate) {
			continue
		}
		v, ok := row[column]
		if !ok || v == nil {
			continue
		}
		if s, isStr := v.(string); isStr {
			seen[s] = true
		}
	}
	out := make([]string, 0, len(seen))
	for v := range seen {
		out = append(out, v)
	}
	sort.Strings(out)
	return out, nil
}

func rowMatches(row, predicate map[string]any) bool {
	for k, want := range predicate {
		if !valuesEqual(row[k], want) {
			return false
		}
	}
	return true
}

func valuesEqual(a, b any) bool {
	if ad, ok := a.(decimal.Decimal); ok {
		bd, ok := b.(decimal.Decimal)
		return ok && ad.Equal(bd)
	}
	if at, ok := a.(time.Time); ok {
		bt, ok := b.(time.Time)
		return ok && at.Equal(bt)
	}
	return a == b
}

func copyRow(row map[string]any) map[string]any {
	out := make(map[string]any, len(row))
	for k, v := range row {
		out[k] = v
	}
	return out
}

// captureNotifier records published change events
type captureNotifier struct {
	mu     sync.Mutex
	events []types.ChangeEvent
}

func (n *captureNotifier) Publish(_ context.Context, event types.ChangeEvent) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, event)
}

func (n *captureNotifier) actions() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]string, len(n.events))
	for i, e := range n.events {
		out[i] = e.Action
	}
	return out
}

func newTestService(t *testing.T) (*Service, *fakeAdapter, *captureNotifier) {
	t.Helper()
	fake := newFakeAdapter()
	notifier := &captureNotifier{}
	return NewService(fake, schema.Builtin(), notifier, nil), fake, notifier
}

func stockRequest() types.RegisterRequest {
	return types.RegisterRequest{
		Instrument: map[string]any{
			"symbol":       "AAPL",
			"exchange":     "NASDAQ",
			"name":         "Apple Inc.",
			"inst_type":    "STK",
			"currency":     "USD",
			"timezone":     "America/New_York",
			"tick_size":    "0.01",
			"lot_size":     1,
			"min_lots":     1,
			"market_tplus": 2,
			"listed_date":  "1980-12-12",
		},
		Extension: map[string]any{
			"country": "US",
			"sector":  "Technology",
		},
	}
}

func futureRequest() types.RegisterRequest {
	return types.RegisterRequest{
		Instrument: map[string]any{
			"symbol":       "ESZ6",
			"exchange":     "CME",
			"name":         "E-mini S&P 500 Dec 2026",
			"inst_type":    "FUT",
			"currency":     "USD",
			"timezone":     "America/Chicago",
			"tick_size":    "0.25",
			"lot_size":     1,
			"min_lots":     1,
			"market_tplus": 0,
			"listed_date":  "2025-09-19",
		},
	}
}

func convertibleRequest() types.RegisterRequest {
	return types.RegisterRequest{
		Instrument: map[string]any{
			"symbol":       "113009",
			"exchange":     "SSE",
			"name":         "CMB Convertible Bond",
			"inst_type":    "CB",
			"currency":     "CNY",
			"timezone":     "Asia/Shanghai",
			"tick_size":    "0.001",
			"lot_size":     10,
			"min_lots":     1,
			"market_tplus": 0,
			"listed_date":  "2017-11-20",
		},
		Extension: map[string]any{
			"country":               "CN",
			"stock_code":            "600036",
			"stock_exchange":        "SSE",
			"maturity_date":         "2023-11-20",
			"issue_price":           "100",
			"total_issue_size":      "10000000000",
			"par_value":             "100",
			"redemption_price":      "104",
			"conversion_start_date": "2018-05-21",
			"conversion_end_date":   "2023-11-19",
		},
	}
}

func aaplKey() types.InstrumentKey {
	return types.InstrumentKey{Symbol: "AAPL", Exchange: "NASDAQ"}
}

func TestRegisterAndRead(t *testing.T) {
	svc, fake, _ := newTestService(t)
	ctx := context.Background()

	detail, err := svc.Register(ctx, stockRequest())
	require.NoError(t, err)
	assert.Equal(t, types.StateCommitted, detail.State)
	assert.Empty(t, detail.Warnings)

	got, err := svc.Read(ctx, aaplKey())
	require.NoError(t, err)
	assert.Equal(t, "Apple Inc.", got.Instrument.Name)
	assert.Equal(t, types.TypeStock, got.Instrument.InstType)
	assert.True(t, got.Instrument.TickSize.Equal(decimal.RequireFromString("0.01")))

	eq, ok := got.Extension.(*types.EquityExtension)
	require.True(t, ok)
	assert.Equal(t, "US", eq.Country)
	assert.Equal(t, "Technology", eq.Sector)

	assert.Equal(t, 1, fake.count(schema.BaseTableName))
	assert.Equal(t, 1, fake.count(schema.TableNameFor(types.TypeStock)))
}

func TestRegisterValidationWritesNothing(t *testing.T) {
	svc, fake, notifier := newTestService(t)
	ctx := context.Background()

	tests := []struct {
		name      string
		mutate    func(*types.RegisterRequest)
		wantField string
	}{
		{
			name:      "unknown extension field",
			mutate:    func(r *types.RegisterRequest) { r.Extension["foo"] = "bar" },
			wantField: "foo",
		},
		{
			name:      "missing required country",
			mutate:    func(r *types.RegisterRequest) { delete(r.Extension, "country") },
			wantField: "country",
		},
		{
			name:      "missing extension record",
			mutate:    func(r *types.RegisterRequest) { r.Extension = nil },
			wantField: "extension",
		},
		{
			name:      "zero tick size",
			mutate:    func(r *types.RegisterRequest) { r.Instrument["tick_size"] = "0" },
			wantField: "tick_size",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := stockRequest()
			tt.mutate(&req)

			_, err := svc.Register(ctx, req)
			require.Error(t, err)

			var verr *types.ValidationError
			require.True(t, errors.As(err, &verr))
			assert.Equal(t, tt.wantField, verr.Field)
		})
	}

	// validation runs before any write
	assert.Equal(t, 0, fake.count(schema.BaseTableName))
	assert.Equal(t, 0, fake.count(schema.TableNameFor(types.TypeStock)))
	assert.Empty(t, notifier.actions())
}

func TestRegisterExtensionlessTypeRejectsExtensionFields(t *testing.T) {
	svc, _, _ := newTestService(t)

	req := futureRequest()
	req.Extension = map[string]any{"foo": 1}

	_, err := svc.Register(context.Background(), req)
	var verr *types.ValidationError
	require.True(t, errors.As(err, &verr))
	assert.Equal(t, "foo", verr.Field)
}

func TestRegisterTypeImmutable(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.Register(ctx, stockRequest())
	require.NoError(t, err)

	req := stockRequest()
	req.Instrument["inst_type"] = "ETF"

	_, err = svc.Register(ctx, req)
	var verr *types.ValidationError
	require.True(t, errors.As(err, &verr))
	assert.Equal(t, "inst_type", verr.Field)
}

func TestRegisterWriteOrdering(t *testing.T) {
	svc, fake, _ := newTestService(t)

	_, err := svc.Register(context.Background(), stockRequest())
	require.NoError(t, err)

	assert.Equal(t, []string{
		"upsert " + schema.BaseTableName,
		"upsert " + schema.TableNameFor(types.TypeStock),
		"upsert " + JournalTableName,
	}, fake.executed())
}

func TestRegisterBaseFailureWritesNothing(t *testing.T) {
	svc, fake, notifier := newTestService(t)
	fake.failOn(schema.BaseTableName, backend.OpUpsert)

	_, err := svc.Register(context.Background(), stockRequest())

	var berr *types.BackendUnavailableError
	require.True(t, errors.As(err, &berr))
	assert.Equal(t, 0, fake.count(schema.BaseTableName))
	assert.Equal(t, 0, fake.count(schema.TableNameFor(types.TypeStock)))
	assert.Empty(t, notifier.actions())
}

func TestRegisterExtensionFailureLeavesPendingThenRepairs(t *testing.T) {
	svc, fake, _ := newTestService(t)
	ctx := context.Background()
	extTable := schema.TableNameFor(types.TypeStock)

	fake.failOn(extTable, backend.OpUpsert)
	_, err := svc.Register(ctx, stockRequest())

	var berr *types.BackendUnavailableError
	require.True(t, errors.As(err, &berr))

	// orphaned base row is tolerated and stays readable
	assert.Equal(t, 1, fake.count(schema.BaseTableName))
	assert.Equal(t, 0, fake.count(extTable))

	detail, err := svc.Read(ctx, aaplKey())
	require.NoError(t, err)
	assert.Equal(t, types.StatePending, detail.State)
	require.Len(t, detail.Warnings, 1)
	assert.Equal(t, types.WarnMissingExtension, detail.Warnings[0].Code)
	assert.Nil(t, detail.Extension)

	// replaying the registration repairs the orphan
	fake.reset()
	detail, err = svc.Register(ctx, stockRequest())
	require.NoError(t, err)
	assert.Equal(t, types.StateCommitted, detail.State)
	assert.Empty(t, detail.Warnings)

	assert.Equal(t, 1, fake.count(schema.BaseTableName))
	assert.Equal(t, 1, fake.count(extTable))
}

func TestDeleteOrdering(t *testing.T) {
	svc, fake, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.Register(ctx, stockRequest())
	require.NoError(t, err)

	fake.resetOps()
	require.NoError(t, svc.Delete(ctx, aaplKey()))

	// extension first: a failure in between must not strand an extension
	assert.Equal(t, []string{
		"delete " + schema.TableNameFor(types.TypeStock),
		"delete " + schema.BaseTableName,
		"upsert " + JournalTableName,
	}, fake.executed())

	_, err = svc.Read(ctx, aaplKey())
	assert.ErrorIs(t, err, types.ErrNotFound)
}

func TestDeleteBaseFailureNeverStrandsExtension(t *testing.T) {
	svc, fake, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.Register(ctx, stockRequest())
	require.NoError(t, err)

	fake.failOn(schema.BaseTableName, backend.OpDelete)
	err = svc.Delete(ctx, aaplKey())

	var berr *types.BackendUnavailableError
	require.True(t, errors.As(err, &berr))

	// extension already gone, base still present: degraded but valid
	assert.Equal(t, 0, fake.count(schema.TableNameFor(types.TypeStock)))
	assert.Equal(t, 1, fake.count(schema.BaseTableName))

	detail, err := svc.Read(ctx, aaplKey())
	require.NoError(t, err)
	assert.Equal(t, types.StatePending, detail.State)

	fake.reset()
	require.NoError(t, svc.Delete(ctx, aaplKey()))
	_, err = svc.Read(ctx, aaplKey())
	assert.ErrorIs(t, err, types.ErrNotFound)
}

func TestDeleteAbsentInstrument(t *testing.T) {
	svc, _, _ := newTestService(t)

	err := svc.Delete(context.Background(), aaplKey())
	assert.ErrorIs(t, err, types.ErrNotFound)
}

func TestUpdateRoutesFieldsToBothTables(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.Register(ctx, stockRequest())
	require.NoError(t, err)

	detail, err := svc.Update(ctx, aaplKey(), map[string]any{
		"name":   "Apple Inc. Class A",
		"sector": "Consumer Electronics",
	})
	require.NoError(t, err)
	assert.Equal(t, "Apple Inc. Class A", detail.Instrument.Name)
	assert.Equal(t, "Consumer Electronics", detail.Extension.(*types.EquityExtension).Sector)

	got, err := svc.Read(ctx, aaplKey())
	require.NoError(t, err)
	assert.Equal(t, "Apple Inc. Class A", got.Instrument.Name)
	assert.Equal(t, "Consumer Electronics", got.Extension.(*types.EquityExtension).Sector)
}

func TestUpdateRejections(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.Register(ctx, stockRequest())
	require.NoError(t, err)

	t.Run("unknown field", func(t *testing.T) {
		_, err := svc.Update(ctx, aaplKey(), map[string]any{"foo": "bar"})
		var uerr *types.UnknownFieldError
		require.True(t, errors.As(err, &uerr))
		assert.Equal(t, "foo", uerr.Field)
	})

	t.Run("immutable field", func(t *testing.T) {
		_, err := svc.Update(ctx, aaplKey(), map[string]any{"symbol": "AAPL2"})
		var verr *types.ValidationError
		require.True(t, errors.As(err, &verr))
		assert.Equal(t, "symbol", verr.Field)
	})

	t.Run("empty update", func(t *testing.T) {
		_, err := svc.Update(ctx, aaplKey(), map[string]any{})
		var verr *types.ValidationError
		require.True(t, errors.As(err, &verr))
	})

	t.Run("invalid merged record", func(t *testing.T) {
		_, err := svc.Update(ctx, aaplKey(), map[string]any{"tick_size": "-1"})
		var verr *types.ValidationError
		require.True(t, errors.As(err, &verr))
		assert.Equal(t, "tick_size", verr.Field)
	})

	t.Run("absent instrument", func(t *testing.T) {
		_, err := svc.Update(ctx, types.InstrumentKey{Symbol: "NOPE", Exchange: "NASDAQ"},
			map[string]any{"name": "x"})
		assert.ErrorIs(t, err, types.ErrNotFound)
	})
}

func TestUpdateExtensionFieldOnOrphanWarnsOnly(t *testing.T) {
	svc, fake, _ := newTestService(t)
	ctx := context.Background()
	extTable := schema.TableNameFor(types.TypeStock)

	fake.failOn(extTable, backend.OpUpsert)
	_, _ = svc.Register(ctx, stockRequest())
	fake.reset()

	// base exists, extension missing: extension fields silently skip
	detail, err := svc.Update(ctx, aaplKey(), map[string]any{
		"name":   "Apple Inc. Class A",
		"sector": "Consumer Electronics",
	})
	require.NoError(t, err)
	assert.Equal(t, "Apple Inc. Class A", detail.Instrument.Name)
	assert.Equal(t, types.StatePending, detail.State)
	assert.Equal(t, 0, fake.count(extTable))
}

func TestDelist(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.Register(ctx, stockRequest())
	require.NoError(t, err)

	when := time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)
	detail, err := svc.Delist(ctx, aaplKey(), when)
	require.NoError(t, err)
	assert.Equal(t, types.StateRetired, detail.State)
	require.NotNil(t, detail.Instrument.DelistedDate)
	assert.True(t, detail.Instrument.DelistedDate.Equal(when))

	got, err := svc.Read(ctx, aaplKey())
	require.NoError(t, err)
	assert.Equal(t, types.StateRetired, got.State)
}

func TestDelistBeforeListedDate(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.Register(ctx, stockRequest())
	require.NoError(t, err)

	_, err = svc.Delist(ctx, aaplKey(), time.Date(1979, 1, 1, 0, 0, 0, 0, time.UTC))
	var verr *types.ValidationError
	require.True(t, errors.As(err, &verr))
	assert.Equal(t, "delisted_date", verr.Field)
}

func TestDelistAbsentInstrument(t *testing.T) {
	svc, _, _ := newTestService(t)

	_, err := svc.Delist(context.Background(), aaplKey(), time.Now())
	assert.ErrorIs(t, err, types.ErrNotFound)
}

func TestRegisterBatchContinuesPastFailures(t *testing.T) {
	svc, fake, _ := newTestService(t)

	bad := stockRequest()
	bad.Instrument["symbol"] = "MSFT"
	delete(bad.Instrument, "currency")

	results := svc.RegisterBatch(context.Background(), []types.RegisterRequest{
		stockRequest(),
		bad,
		futureRequest(),
	})

	require.Len(t, results, 3)
	assert.Empty(t, results[0].Error)
	assert.Contains(t, results[1].Error, "currency")
	assert.Equal(t, "MSFT", results[1].Key.Symbol)
	assert.Empty(t, results[2].Error)
	assert.Equal(t, "ESZ6", results[2].Key.Symbol)

	assert.Equal(t, 2, fake.count(schema.BaseTableName))
}

func TestListWithFilters(t *testing.T) {
	svc, fake, _ := newTestService(t)
	ctx := context.Background()

	msft := stockRequest()
	msft.Instrument["symbol"] = "MSFT"
	msft.Extension["sector"] = "Technology"

	xom := stockRequest()
	xom.Instrument["symbol"] = "XOM"
	xom.Instrument["exchange"] = "NYSE"
	xom.Extension["sector"] = "Energy"

	for _, req := range []types.RegisterRequest{stockRequest(), msft, xom, futureRequest()} {
		_, err := svc.Register(ctx, req)
		require.NoError(t, err)
	}

	all, err := svc.List(ctx, types.TypeStock, nil)
	require.NoError(t, err)
	assert.Len(t, all, 3)

	tech, err := svc.List(ctx, types.TypeStock, map[string]any{"sector": "Technology"})
	require.NoError(t, err)
	assert.Len(t, tech, 2)

	nasdaq, err := svc.List(ctx, types.TypeStock, map[string]any{"exchange": "NASDAQ"})
	require.NoError(t, err)
	assert.Len(t, nasdaq, 2)

	futs, err := svc.List(ctx, types.TypeFuture, nil)
	require.NoError(t, err)
	require.Len(t, futs, 1)
	assert.Equal(t, types.StateCommitted, futs[0].State)
	assert.Nil(t, futs[0].Extension)

	_, err = svc.List(ctx, types.TypeStock, map[string]any{"foo": "x"})
	var uerr *types.UnknownFieldError
	require.True(t, errors.As(err, &uerr))

	assert.Equal(t, 4, fake.count(schema.BaseTableName))
}

func TestListSkipsOrphansOnExtensionFilter(t *testing.T) {
	svc, fake, _ := newTestService(t)
	ctx := context.Background()
	extTable := schema.TableNameFor(types.TypeStock)

	_, err := svc.Register(ctx, stockRequest())
	require.NoError(t, err)

	msft := stockRequest()
	msft.Instrument["symbol"] = "MSFT"
	fake.failOn(extTable, backend.OpUpsert)
	_, _ = svc.Register(ctx, msft)
	fake.reset()

	all, err := svc.List(ctx, types.TypeStock, nil)
	require.NoError(t, err)
	require.Len(t, all, 2)

	states := map[string]string{}
	for _, d := range all {
		states[d.Instrument.Symbol] = d.State
	}
	assert.Equal(t, types.StateCommitted, states["AAPL"])
	assert.Equal(t, types.StatePending, states["MSFT"])

	// extension filters cannot match a row that does not exist
	byCountry, err := svc.List(ctx, types.TypeStock, map[string]any{"country": "US"})
	require.NoError(t, err)
	require.Len(t, byCountry, 1)
	assert.Equal(t, "AAPL", byCountry[0].Instrument.Symbol)
}

func TestDistinctValues(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	msft := stockRequest()
	msft.Instrument["symbol"] = "MSFT"

	xom := stockRequest()
	xom.Instrument["symbol"] = "XOM"
	xom.Extension["sector"] = "Energy"

	for _, req := range []types.RegisterRequest{stockRequest(), msft, xom} {
		_, err := svc.Register(ctx, req)
		require.NoError(t, err)
	}

	sectors, err := svc.DistinctValues(ctx, types.TypeStock, "sector")
	require.NoError(t, err)
	assert.Equal(t, []string{"Energy", "Technology"}, sectors)

	currencies, err := svc.DistinctValues(ctx, types.TypeStock, "currency")
	require.NoError(t, err)
	assert.Equal(t, []string{"USD"}, currencies)

	_, err = svc.DistinctValues(ctx, types.TypeStock, "foo")
	var uerr *types.UnknownFieldError
	require.True(t, errors.As(err, &uerr))
}

func TestChangeJournal(t *testing.T) {
	svc, _, notifier := newTestService(t)
	ctx := context.Background()

	_, err := svc.Register(ctx, stockRequest())
	require.NoError(t, err)
	_, err = svc.Update(ctx, aaplKey(), map[string]any{"name": "Apple Inc. Class A"})
	require.NoError(t, err)
	_, err = svc.Delist(ctx, aaplKey(), time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)

	changes, err := svc.Changes(ctx, aaplKey())
	require.NoError(t, err)
	require.Len(t, changes, 3)

	// newest first
	assert.Equal(t, types.ChangeDelisted, changes[0].Action)
	assert.Equal(t, types.ChangeUpdated, changes[1].Action)
	assert.Equal(t, types.ChangeRegistered, changes[2].Action)
	for _, ch := range changes {
		assert.True(t, strings.HasPrefix(ch.ChangeID, "CHG_"))
		assert.Equal(t, "AAPL", ch.Symbol)
	}

	// listeners see them in commit order
	assert.Equal(t, []string{
		types.ChangeRegistered,
		types.ChangeUpdated,
		types.ChangeDelisted,
	}, notifier.actions())
}

func TestConversionPriceHistory(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()
	key := types.InstrumentKey{Symbol: "113009", Exchange: "SSE"}

	_, err := svc.Register(ctx, convertibleRequest())
	require.NoError(t, err)

	first := types.ConversionPriceRevision{
		Symbol:           key.Symbol,
		Exchange:         key.Exchange,
		AnnouncementDate: time.Date(2019, 3, 1, 0, 0, 0, 0, time.UTC),
		EffectiveDate:    time.Date(2019, 3, 5, 0, 0, 0, 0, time.UTC),
		ConversionPrice:  decimal.RequireFromString("9.38"),
	}
	second := types.ConversionPriceRevision{
		Symbol:           key.Symbol,
		Exchange:         key.Exchange,
		AnnouncementDate: time.Date(2020, 6, 1, 0, 0, 0, 0, time.UTC),
		EffectiveDate:    time.Date(2020, 6, 3, 0, 0, 0, 0, time.UTC),
		ConversionPrice:  decimal.RequireFromString("7.76"),
	}

	require.NoError(t, svc.ReviseConversionPrice(ctx, first))
	require.NoError(t, svc.ReviseConversionPrice(ctx, second))
	// replaying an announcement is idempotent
	require.NoError(t, svc.ReviseConversionPrice(ctx, first))

	history, err := svc.ConversionPriceHistory(ctx, key)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.True(t, history[0].ConversionPrice.Equal(first.ConversionPrice))
	assert.True(t, history[1].ConversionPrice.Equal(second.ConversionPrice))
}

func TestConversionPriceRejections(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.Register(ctx, stockRequest())
	require.NoError(t, err)

	rev := types.ConversionPriceRevision{
		Symbol:           "AAPL",
		Exchange:         "NASDAQ",
		AnnouncementDate: time.Date(2020, 6, 1, 0, 0, 0, 0, time.UTC),
		EffectiveDate:    time.Date(2020, 6, 3, 0, 0, 0, 0, time.UTC),
		ConversionPrice:  decimal.RequireFromString("9.38"),
	}

	t.Run("not a convertible", func(t *testing.T) {
		err := svc.ReviseConversionPrice(ctx, rev)
		var verr *types.ValidationError
		require.True(t, errors.As(err, &verr))
		assert.Equal(t, "inst_type", verr.Field)
	})

	t.Run("absent instrument", func(t *testing.T) {
		missing := rev
		missing.Symbol = "127007"
		missing.Exchange = "SZSE"
		err := svc.ReviseConversionPrice(ctx, missing)
		assert.ErrorIs(t, err, types.ErrNotFound)
	})

	t.Run("non-positive price", func(t *testing.T) {
		zero := rev
		zero.ConversionPrice = decimal.Zero
		err := svc.ReviseConversionPrice(ctx, zero)
		var verr *types.ValidationError
		require.True(t, errors.As(err, &verr))
		assert.Equal(t, "conversion_price", verr.Field)
	})

	t.Run("effective before announcement", func(t *testing.T) {
		backwards := rev
		backwards.EffectiveDate = rev.AnnouncementDate.AddDate(0, 0, -1)
		err := svc.ReviseConversionPrice(ctx, backwards)
		var verr *types.ValidationError
		require.True(t, errors.As(err, &verr))
		assert.Equal(t, "effective_date", verr.Field)
	})

	t.Run("history of non-convertible", func(t *testing.T) {
		_, err := svc.ConversionPriceHistory(ctx, aaplKey())
		var verr *types.ValidationError
		require.True(t, errors.As(err, &verr))
	})
}

func TestConcurrentRegisterSameKey(t *testing.T) {
	svc, fake, _ := newTestService(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	errs := make(chan error, 10)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.Register(ctx, stockRequest())
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		assert.NoError(t, err)
	}
	assert.Equal(t, 1, fake.count(schema.BaseTableName))
	assert.Equal(t, 1, fake.count(schema.TableNameFor(types.TypeStock)))
}
