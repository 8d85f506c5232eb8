package series

import (
	"context"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/quindar/refdata-api/internal/backend"
	"github.com/quindar/refdata-api/internal/metrics"
	"github.com/quindar/refdata-api/internal/types"
	"github.com/quindar/refdata-api/pkg/response"
)

// Service handles observation reads and writes against the columnar store.
// Observations are independent of the metadata tables: a feed may deliver
// bars before the instrument is registered, and the bars survive a metadata
// delete until dropped explicitly.
type Service struct {
	store   *backend.TimeSeries
	metrics *metrics.Metrics
}

// NewService creates a series service routed to the observation backend.
// m may be nil.
func NewService(router *backend.Router, m *metrics.Metrics) *Service {
	return &Service{
		store:   router.Observations(),
		metrics: m,
	}
}

// Write stores a batch of observations for one instrument. Rewriting a
// timestamp replaces the bar, so feeds can be replayed. Returns the number
// of rows written.
func (s *Service) Write(ctx context.Context, key types.InstrumentKey, observations []types.Observation) (int, error) {
	if len(observations) == 0 {
		return 0, types.NewValidationError("observations", "empty batch")
	}
	for _, obs := range observations {
		if obs.Timestamp.IsZero() {
			return 0, types.NewValidationError("timestamp", "required")
		}
		if obs.High.LessThan(obs.Low) {
			return 0, types.NewValidationError("high", "must not be below low")
		}
		if obs.Volume.IsNegative() {
			return 0, types.NewValidationError("volume", "must not be negative")
		}
	}

	start := time.Now()
	written, err := s.store.WriteSeries(ctx, key.Symbol, key.Exchange, observations)
	if err != nil {
		log.Error().
			Err(err).
			Str("symbol", key.Symbol).
			Str("exchange", key.Exchange).
			Str("service", "series").
			Msg("failed to write observations")
		return 0, err
	}
	s.metrics.RecordSeriesWrite(written, start)

	log.Info().
		Str("symbol", key.Symbol).
		Str("exchange", key.Exchange).
		Int("observations", written).
		Str("service", "series").
		Msg("observations written")
	return written, nil
}

// Read returns the observations for one instrument within an inclusive time
// range, ordered by timestamp. An unknown instrument reads as empty.
func (s *Service) Read(ctx context.Context, key types.InstrumentKey, tr types.TimeRange) ([]types.Observation, error) {
	if tr.End.Before(tr.Start) {
		return nil, types.NewValidationError("end", "must not precede start")
	}

	start := time.Now()
	observations, err := s.store.ReadSeries(ctx, key.Symbol, key.Exchange, tr)
	if err != nil {
		return nil, err
	}
	s.metrics.RecordSeriesRead(len(observations), start)
	return observations, nil
}

// Drop removes the entire series for one instrument
func (s *Service) Drop(ctx context.Context, key types.InstrumentKey) error {
	if err := s.store.DropSeries(ctx, key.Symbol, key.Exchange); err != nil {
		return err
	}
	log.Info().
		Str("symbol", key.Symbol).
		Str("exchange", key.Exchange).
		Str("service", "series").
		Msg("series dropped")
	return nil
}

// GinHandlers contains HTTP handlers for observation endpoints
type GinHandlers struct {
	service *Service
}

// NewGinHandlers creates a new set of HTTP handlers for observation endpoints
func NewGinHandlers(service *Service) *GinHandlers {
	return &GinHandlers{
		service: service,
	}
}

func keyFromParams(c *gin.Context) types.InstrumentKey {
	return types.InstrumentKey{
		Symbol:   c.Param("symbol"),
		Exchange: c.Param("exchange"),
	}
}

// WriteObservationsHandler handles POST requests with a batch of bars
func (h *GinHandlers) WriteObservationsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var observations []types.Observation
		if err := c.ShouldBindJSON(&observations); err != nil {
			response.BadRequest(c, err.Error())
			return
		}

		key := keyFromParams(c)
		written, err := h.service.Write(c.Request.Context(), key, observations)
		if err != nil {
			response.Handle(c, nil, err)
			return
		}
		response.Success(c, gin.H{
			"symbol":   key.Symbol,
			"exchange": key.Exchange,
			"written":  written,
		})
	}
}

// ReadObservationsHandler handles GET requests for a time range of bars.
// Query parameters start and end are RFC 3339 or YYYY-MM-DD; both default
// to an open bound.
func (h *GinHandlers) ReadObservationsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		tr, err := rangeFromQuery(c)
		if err != nil {
			response.BadRequest(c, err.Error())
			return
		}

		observations, err := h.service.Read(c.Request.Context(), keyFromParams(c), tr)
		response.Handle(c, observations, err)
	}
}

// DropObservationsHandler handles DELETE requests removing a whole series
func (h *GinHandlers) DropObservationsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		key := keyFromParams(c)
		if err := h.service.Drop(c.Request.Context(), key); err != nil {
			response.Handle(c, nil, err)
			return
		}
		response.Success(c, gin.H{"symbol": key.Symbol, "exchange": key.Exchange, "dropped": true})
	}
}

func rangeFromQuery(c *gin.Context) (types.TimeRange, error) {
	tr := types.TimeRange{End: time.Now().UTC()}

	if v := c.Query("start"); v != "" {
		t, err := parseTime(v)
		if err != nil {
			return tr, types.NewValidationError("start", "must be RFC 3339 or YYYY-MM-DD")
		}
		tr.Start = t
	}
	if v := c.Query("end"); v != "" {
		t, err := parseTime(v)
		if err != nil {
			return tr, types.NewValidationError("end", "must be RFC 3339 or YYYY-MM-DD")
		}
		tr.End = t
	}
	return tr, nil
}

func parseTime(v string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, v); err == nil {
		return t.UTC(), nil
	}
	t, err := time.Parse("2006-01-02", v)
	if err != nil {
		return time.Time{}, err
	}
	return t.UTC(), nil
}
