package search

import (
	"context"
	"errors"

	"github.com/rs/zerolog/log"

	"github.com/quindar/refdata-api/internal/types"
)

// Lister is the slice of the metadata service the indexer reads from
type Lister interface {
	Read(ctx context.Context, key types.InstrumentKey) (*types.InstrumentDetail, error)
	List(ctx context.Context, instType types.InstrumentType, filters map[string]any) ([]types.InstrumentDetail, error)
}

// Indexer keeps the search index in sync with the metadata store. It
// receives committed change events over a buffered queue so metadata
// writes never wait on indexing.
type Indexer struct {
	service   *Service
	source    Lister
	instTypes []types.InstrumentType
	events    chan types.ChangeEvent
}

// NewIndexer creates an indexer covering the given instrument types
func NewIndexer(service *Service, source Lister, instTypes []types.InstrumentType) *Indexer {
	return &Indexer{
		service:   service,
		source:    source,
		instTypes: instTypes,
		events:    make(chan types.ChangeEvent, 256),
	}
}

// Name identifies the indexer when registered as a change listener
func (ix *Indexer) Name() string {
	return "search_indexer"
}

// Notify queues a change event for indexing. Events are dropped rather
// than blocking the write path when the queue is full; a full rebuild
// reconciles any drops.
func (ix *Indexer) Notify(_ context.Context, event types.ChangeEvent) {
	select {
	case ix.events <- event:
	default:
		log.Warn().
			Str("component", "search_indexer").
			Str("change_id", event.ChangeID).
			Msg("event queue full, dropping change event")
	}
}

// Rebuild reindexes every instrument from the metadata store
func (ix *Indexer) Rebuild(ctx context.Context) error {
	logger := log.With().Str("component", "search_indexer").Logger()

	var details []types.InstrumentDetail
	for _, instType := range ix.instTypes {
		listed, err := ix.source.List(ctx, instType, nil)
		if err != nil {
			return err
		}
		details = append(details, listed...)
	}

	if err := ix.service.IndexBatch(details); err != nil {
		return err
	}
	logger.Info().Int("indexed", len(details)).Msg("search index rebuilt")
	return nil
}

// Start begins the indexing loop
func (ix *Indexer) Start(ctx context.Context) {
	logger := log.With().Str("component", "search_indexer").Logger()
	logger.Info().Msg("starting search indexer")

	for {
		select {
		case <-ctx.Done():
			logger.Info().Msg("shutting down search indexer")
			return
		case event := <-ix.events:
			if err := ix.apply(ctx, event); err != nil {
				logger.Error().
					Err(err).
					Str("change_id", event.ChangeID).
					Str("action", event.Action).
					Msg("failed to apply change event to index")
			}
		}
	}
}

func (ix *Indexer) apply(ctx context.Context, event types.ChangeEvent) error {
	key := types.InstrumentKey{Symbol: event.Symbol, Exchange: event.Exchange}

	if event.Action == types.ChangeDeleted {
		return ix.service.Remove(key)
	}

	detail, err := ix.source.Read(ctx, key)
	if errors.Is(err, types.ErrNotFound) {
		// Row vanished between the event and the read
		return ix.service.Remove(key)
	}
	if err != nil {
		return err
	}
	return ix.service.IndexInstrument(*detail)
}
