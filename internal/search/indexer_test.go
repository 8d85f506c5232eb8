package search

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/quindar/refdata-api/internal/types"
)

type fakeSource struct {
	mu      sync.Mutex
	details map[string]types.InstrumentDetail
}

func newFakeSource(details ...types.InstrumentDetail) *fakeSource {
	source := &fakeSource{details: make(map[string]types.InstrumentDetail)}
	for _, detail := range details {
		source.put(detail)
	}
	return source
}

func (f *fakeSource) put(detail types.InstrumentDetail) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.details[detail.Instrument.Key().String()] = detail
}

func (f *fakeSource) remove(key types.InstrumentKey) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.details, key.String())
}

func (f *fakeSource) Read(_ context.Context, key types.InstrumentKey) (*types.InstrumentDetail, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	detail, ok := f.details[key.String()]
	if !ok {
		return nil, types.ErrNotFound
	}
	return &detail, nil
}

func (f *fakeSource) List(_ context.Context, instType types.InstrumentType, _ map[string]any) ([]types.InstrumentDetail, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var listed []types.InstrumentDetail
	for _, detail := range f.details {
		if detail.Instrument.InstType == instType {
			listed = append(listed, detail)
		}
	}
	return listed, nil
}

func docCount(t *testing.T, svc *Service) uint64 {
	t.Helper()
	count, err := svc.DocCount()
	require.NoError(t, err)
	return count
}

func startIndexer(t *testing.T, ix *Indexer) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		ix.Start(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
}

func event(action string, key types.InstrumentKey) types.ChangeEvent {
	return types.ChangeEvent{
		ChangeID:  "CHG_test",
		Symbol:    key.Symbol,
		Exchange:  key.Exchange,
		Action:    action,
		Timestamp: time.Now().UTC(),
	}
}

func TestRebuildIndexesAllTypes(t *testing.T) {
	svc := newTestService(t)
	source := newFakeSource(
		stockDetail("AAPL", "NASDAQ", "Apple Inc", "Technology"),
		stockDetail("MSFT", "NASDAQ", "Microsoft Corporation", "Technology"),
		futureDetail("ESZ6", "CME", "E-mini S&P 500 Dec 2026"),
	)
	ix := NewIndexer(svc, source, []types.InstrumentType{types.TypeStock, types.TypeFuture})

	require.NoError(t, ix.Rebuild(context.Background()))
	require.Equal(t, uint64(3), docCount(t, svc))

	hits, err := svc.Search("ESZ6", 10)
	require.NoError(t, err)
	require.NotEmpty(t, hits)
	require.Equal(t, "FUT", hits[0].InstType)
}

func TestIndexerAppliesChangeEvents(t *testing.T) {
	svc := newTestService(t)
	key := types.InstrumentKey{Symbol: "AAPL", Exchange: "NASDAQ"}
	source := newFakeSource(stockDetail("AAPL", "NASDAQ", "Apple Inc", "Technology"))
	ix := NewIndexer(svc, source, []types.InstrumentType{types.TypeStock})
	startIndexer(t, ix)

	ix.Notify(context.Background(), event(types.ChangeRegistered, key))
	require.Eventually(t, func() bool {
		return docCount(t, svc) == 1
	}, 2*time.Second, 10*time.Millisecond)

	source.put(stockDetail("AAPL", "NASDAQ", "Apple Incorporated", "Technology"))
	ix.Notify(context.Background(), event(types.ChangeUpdated, key))
	require.Eventually(t, func() bool {
		hits, err := svc.Search("AAPL", 10)
		require.NoError(t, err)
		return len(hits) == 1 && hits[0].Name == "Apple Incorporated"
	}, 2*time.Second, 10*time.Millisecond)

	ix.Notify(context.Background(), event(types.ChangeDeleted, key))
	require.Eventually(t, func() bool {
		return docCount(t, svc) == 0
	}, 2*time.Second, 10*time.Millisecond)
}

func TestIndexerRemovesWhenReadMisses(t *testing.T) {
	svc := newTestService(t)
	key := types.InstrumentKey{Symbol: "AAPL", Exchange: "NASDAQ"}
	source := newFakeSource(stockDetail("AAPL", "NASDAQ", "Apple Inc", "Technology"))
	ix := NewIndexer(svc, source, []types.InstrumentType{types.TypeStock})

	require.NoError(t, ix.Rebuild(context.Background()))
	require.Equal(t, uint64(1), docCount(t, svc))
	startIndexer(t, ix)

	// The row is gone by the time the update event is applied
	source.remove(key)
	ix.Notify(context.Background(), event(types.ChangeUpdated, key))
	require.Eventually(t, func() bool {
		return docCount(t, svc) == 0
	}, 2*time.Second, 10*time.Millisecond)
}
