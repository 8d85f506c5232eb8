package metadata

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/quindar/refdata-api/internal/metrics"
	"github.com/quindar/refdata-api/internal/schema"
	"github.com/quindar/refdata-api/internal/types"
	"github.com/quindar/refdata-api/pkg/response"
)

// Notifier receives change events after a mutation has been committed
type Notifier interface {
	Publish(ctx context.Context, event types.ChangeEvent)
}

// Service keeps instrument metadata synchronized between the base table and
// the per-type extension tables. Mutations for the same instrument are
// serialized on a per-key lock; reads run unlocked and surface whatever the
// two tables hold, flagging inconsistencies instead of failing.
type Service struct {
	db       *Database
	registry *schema.Registry
	locks    *keyLocks
	notifier Notifier
	metrics  *metrics.Metrics
}

// NewService creates a metadata service on top of a relational adapter.
// notifier and m may be nil.
func NewService(adapter Adapter, registry *schema.Registry, notifier Notifier, m *metrics.Metrics) *Service {
	return &Service{
		db:       NewDatabase(adapter, registry),
		registry: registry,
		locks:    newKeyLocks(),
		notifier: notifier,
		metrics:  m,
	}
}

// Register validates and writes an instrument with its extension record.
// Registering an existing key is an upsert: it overwrites both rows and
// restores a missing extension, so replaying a feed is always safe. The
// instrument type is fixed at first registration.
func (s *Service) Register(ctx context.Context, req types.RegisterRequest) (detail *types.InstrumentDetail, err error) {
	defer func() { s.metrics.RecordMetadataOp("register", err) }()

	inst, err := s.registry.NormalizeInstrument(req.Instrument)
	if err != nil {
		return nil, err
	}
	ext, err := s.registry.NormalizeExtension(inst.InstType, req.Extension)
	if err != nil {
		return nil, err
	}
	if err := s.registry.Validate(inst, ext); err != nil {
		return nil, err
	}

	key := inst.Key()
	logger := log.With().
		Str("symbol", key.Symbol).
		Str("exchange", key.Exchange).
		Str("inst_type", string(inst.InstType)).
		Str("service", "metadata").
		Logger()

	unlock := s.locks.Lock(key.String())
	defer unlock()

	existing, err := s.db.GetBase(ctx, key)
	if err != nil {
		logger.Error().Err(err).Msg("failed to check existing instrument")
		return nil, err
	}
	if existing != nil && existing.InstType != inst.InstType {
		return nil, types.NewValidationError("inst_type",
			fmt.Sprintf("registered as %s, type cannot change", existing.InstType))
	}

	repaired := false
	if existing != nil && types.RequiresExtension(inst.InstType) {
		prevExt, err := s.db.GetExtension(ctx, key, inst.InstType)
		if err != nil {
			return nil, err
		}
		repaired = prevExt == nil
	}

	// Base row first: a failure after this point leaves an orphaned base,
	// which reads tolerate and a re-register repairs. The reverse order
	// could leave an extension row pointing at nothing.
	if err := s.db.UpsertBase(ctx, inst); err != nil {
		logger.Error().Err(err).Msg("failed to write base row")
		return nil, err
	}
	if err := s.db.UpsertExtension(ctx, key, inst.InstType, ext); err != nil {
		logger.Warn().Err(err).Msg("extension write failed after base commit, instrument left pending")
		return nil, err
	}

	action := types.ChangeRegistered
	changeDetail := "full registration"
	if existing != nil {
		action = types.ChangeUpdated
		changeDetail = "re-registration"
	}
	if repaired {
		changeDetail = "re-registration restored missing extension"
		s.metrics.RecordOrphanRepair()
		logger.Info().Msg("restored missing extension row")
	}
	s.record(ctx, newChangeEvent(key, inst.InstType, action, changeDetail))

	logger.Info().Str("action", action).Msg("instrument registered")
	return s.detail(inst, ext), nil
}

// RegisterBatch registers each entry independently and reports per-entry
// outcomes. One bad instrument does not stop the rest of the batch.
func (s *Service) RegisterBatch(ctx context.Context, reqs []types.RegisterRequest) []types.BatchResult {
	results := make([]types.BatchResult, 0, len(reqs))
	for _, req := range reqs {
		res := types.BatchResult{Key: keyFromPayload(req.Instrument)}
		detail, err := s.Register(ctx, req)
		if err != nil {
			res.Error = err.Error()
		} else {
			res.Key = detail.Instrument.Key()
		}
		results = append(results, res)
	}
	return results
}

// Update applies a partial field update, routing each field to the table it
// lives in. Key fields and the instrument type are immutable; everything
// else is validated against the merged record before a single column is
// written.
func (s *Service) Update(ctx context.Context, key types.InstrumentKey, fields map[string]any) (detail *types.InstrumentDetail, err error) {
	defer func() { s.metrics.RecordMetadataOp("update", err) }()

	if len(fields) == 0 {
		return nil, types.NewValidationError("fields", "no fields to update")
	}

	logger := log.With().
		Str("symbol", key.Symbol).
		Str("exchange", key.Exchange).
		Str("service", "metadata").
		Logger()

	unlock := s.locks.Lock(key.String())
	defer unlock()

	existing, err := s.db.GetBase(ctx, key)
	if err != nil {
		return nil, err
	}
	if existing == nil {
		return nil, types.ErrNotFound
	}

	baseFields, extFields, err := s.registry.RouteUpdate(existing.InstType, fields)
	if err != nil {
		return nil, err
	}

	curExt, err := s.db.GetExtension(ctx, key, existing.InstType)
	if err != nil {
		return nil, err
	}

	// Revalidate the merged record so a partial update cannot push a
	// committed instrument into an invalid shape.
	mergedCols := schema.InstrumentColumns(existing)
	for k, v := range baseFields {
		mergedCols[k] = v
	}
	merged, err := s.registry.HydrateInstrument(mergedCols)
	if err != nil {
		return nil, err
	}

	var mergedExt types.ExtensionRecord
	if curExt != nil {
		extCols := schema.ExtensionColumns(curExt)
		for k, v := range extFields {
			extCols[k] = v
		}
		mergedExt, err = s.registry.HydrateExtension(existing.InstType, extCols)
		if err != nil {
			return nil, err
		}
	}

	if curExt == nil && types.RequiresExtension(existing.InstType) {
		// Degraded row: only the base record can be validated until a
		// re-register restores the extension.
		if err := s.registry.ValidateBase(merged); err != nil {
			return nil, err
		}
	} else {
		if err := s.registry.Validate(merged, mergedExt); err != nil {
			return nil, err
		}
	}

	if len(baseFields) > 0 {
		if _, err := s.db.UpdateBase(ctx, key, baseFields); err != nil {
			logger.Error().Err(err).Msg("failed to update base row")
			return nil, err
		}
	}
	if len(extFields) > 0 {
		affected, err := s.db.UpdateExtension(ctx, key, existing.InstType, extFields)
		if err != nil {
			logger.Error().Err(err).Msg("failed to update extension row")
			return nil, err
		}
		if affected == 0 {
			logger.Warn().Msg("extension row missing, extension fields not applied")
		}
	}

	names := make([]string, 0, len(fields))
	for name := range fields {
		names = append(names, name)
	}
	sort.Strings(names)
	namesJSON, _ := json.Marshal(names)
	s.record(ctx, newChangeEvent(key, existing.InstType, types.ChangeUpdated, string(namesJSON)))

	logger.Info().Int("fields", len(fields)).Msg("instrument updated")
	return s.detail(merged, mergedExt), nil
}

// Delist retires an instrument from the given date. The rows stay readable;
// only the lifecycle state changes.
func (s *Service) Delist(ctx context.Context, key types.InstrumentKey, when time.Time) (detail *types.InstrumentDetail, err error) {
	defer func() { s.metrics.RecordMetadataOp("delist", err) }()

	logger := log.With().
		Str("symbol", key.Symbol).
		Str("exchange", key.Exchange).
		Str("service", "metadata").
		Logger()

	unlock := s.locks.Lock(key.String())
	defer unlock()

	existing, err := s.db.GetBase(ctx, key)
	if err != nil {
		return nil, err
	}
	if existing == nil {
		return nil, types.ErrNotFound
	}

	when = when.UTC()
	if when.Before(existing.ListedDate) {
		return nil, types.NewValidationError("delisted_date", "must not precede listed_date")
	}

	if _, err := s.db.UpdateBase(ctx, key, map[string]any{"delisted_date": when}); err != nil {
		logger.Error().Err(err).Msg("failed to write delisted_date")
		return nil, err
	}
	existing.DelistedDate = &when

	s.record(ctx, newChangeEvent(key, existing.InstType, types.ChangeDelisted,
		"delisted effective "+when.Format("2006-01-02")))

	ext, err := s.db.GetExtension(ctx, key, existing.InstType)
	if err != nil {
		return nil, err
	}

	logger.Info().Time("delisted_date", when).Msg("instrument delisted")
	return s.detail(existing, ext), nil
}

// Delete removes an instrument entirely. The extension row goes first so a
// failure in between cannot strand an extension without its base.
func (s *Service) Delete(ctx context.Context, key types.InstrumentKey) (err error) {
	defer func() { s.metrics.RecordMetadataOp("delete", err) }()

	logger := log.With().
		Str("symbol", key.Symbol).
		Str("exchange", key.Exchange).
		Str("service", "metadata").
		Logger()

	unlock := s.locks.Lock(key.String())
	defer unlock()

	existing, err := s.db.GetBase(ctx, key)
	if err != nil {
		return err
	}
	if existing == nil {
		return types.ErrNotFound
	}

	if _, err := s.db.DeleteExtension(ctx, key, existing.InstType); err != nil {
		logger.Error().Err(err).Msg("failed to delete extension row")
		return err
	}
	if _, err := s.db.DeleteBase(ctx, key); err != nil {
		logger.Error().Err(err).Msg("failed to delete base row")
		return err
	}

	s.record(ctx, newChangeEvent(key, existing.InstType, types.ChangeDeleted, "hard delete"))

	logger.Info().Msg("instrument deleted")
	return nil
}

// Read returns the instrument joined with its extension. A missing required
// extension is reported as a warning on the result, never as an error, so a
// half-written instrument stays visible.
func (s *Service) Read(ctx context.Context, key types.InstrumentKey) (detail *types.InstrumentDetail, err error) {
	defer func() { s.metrics.RecordMetadataOp("read", err) }()

	inst, err := s.db.GetBase(ctx, key)
	if err != nil {
		return nil, err
	}
	if inst == nil {
		return nil, types.ErrNotFound
	}
	ext, err := s.db.GetExtension(ctx, key, inst.InstType)
	if err != nil {
		return nil, err
	}
	return s.detail(inst, ext), nil
}

// List returns all instruments of one type matching the given equality
// filters. Filters are routed to the base or extension table by the schema.
func (s *Service) List(ctx context.Context, instType types.InstrumentType, filters map[string]any) (details []types.InstrumentDetail, err error) {
	defer func() { s.metrics.RecordMetadataOp("list", err) }()

	basePred, extPred, err := s.registry.RouteFilter(instType, filters)
	if err != nil {
		return nil, err
	}

	insts, err := s.db.ListBase(ctx, instType, basePred)
	if err != nil {
		return nil, err
	}

	details = make([]types.InstrumentDetail, 0, len(insts))
	for _, inst := range insts {
		var ext types.ExtensionRecord
		if len(extPred) > 0 {
			ext, err = s.db.FindExtension(ctx, inst.Key(), instType, extPred)
			if err != nil {
				return nil, err
			}
			if ext == nil {
				continue
			}
		} else {
			ext, err = s.db.GetExtension(ctx, inst.Key(), instType)
			if err != nil {
				return nil, err
			}
		}
		details = append(details, *s.detail(inst, ext))
	}
	return details, nil
}

// DistinctValues returns the distinct non-null values of one schema field
// across all instruments of a type, for populating filter dropdowns.
func (s *Service) DistinctValues(ctx context.Context, instType types.InstrumentType, field string) (values []string, err error) {
	defer func() { s.metrics.RecordMetadataOp("distinct", err) }()

	sch, err := s.registry.SchemaFor(instType)
	if err != nil {
		return nil, err
	}
	if _, ok := sch.BaseField(field); ok {
		return s.db.DistinctBase(ctx, field, instType)
	}
	if _, ok := sch.ExtensionField(field); ok {
		return s.db.DistinctExtension(ctx, instType, field)
	}
	return nil, &types.UnknownFieldError{Field: field, InstType: instType}
}

// Changes returns the journal entries for one instrument, newest first
func (s *Service) Changes(ctx context.Context, key types.InstrumentKey) ([]types.ChangeEvent, error) {
	return s.db.ChangesFor(ctx, key)
}

// ReviseConversionPrice appends a conversion price revision to a convertible
// bond's history. Revisions are keyed by announcement date, so replaying an
// announcement feed is idempotent.
func (s *Service) ReviseConversionPrice(ctx context.Context, rev types.ConversionPriceRevision) (err error) {
	defer func() { s.metrics.RecordMetadataOp("revise_conversion_price", err) }()

	if !rev.ConversionPrice.IsPositive() {
		return types.NewValidationError("conversion_price", "must be positive")
	}
	if rev.AnnouncementDate.IsZero() {
		return types.NewValidationError("announcement_date", "required")
	}
	if rev.EffectiveDate.Before(rev.AnnouncementDate) {
		return types.NewValidationError("effective_date", "must not precede announcement_date")
	}

	key := types.InstrumentKey{Symbol: rev.Symbol, Exchange: rev.Exchange}

	unlock := s.locks.Lock(key.String())
	defer unlock()

	inst, err := s.db.GetBase(ctx, key)
	if err != nil {
		return err
	}
	if inst == nil {
		return types.ErrNotFound
	}
	if inst.InstType != types.TypeConvertible {
		return types.NewValidationError("inst_type", "conversion prices apply to CB instruments only")
	}

	if err := s.db.AppendConversionPrice(ctx, rev); err != nil {
		return err
	}

	s.record(ctx, newChangeEvent(key, inst.InstType, types.ChangeUpdated,
		fmt.Sprintf("conversion price %s effective %s",
			rev.ConversionPrice, rev.EffectiveDate.Format("2006-01-02"))))

	log.Info().
		Str("symbol", key.Symbol).
		Str("exchange", key.Exchange).
		Str("conversion_price", rev.ConversionPrice.String()).
		Str("service", "metadata").
		Msg("conversion price revised")
	return nil
}

// ConversionPriceHistory returns a bond's conversion price revisions, oldest
// first. The latest entry carries the price currently in force.
func (s *Service) ConversionPriceHistory(ctx context.Context, key types.InstrumentKey) ([]types.ConversionPriceRevision, error) {
	inst, err := s.db.GetBase(ctx, key)
	if err != nil {
		return nil, err
	}
	if inst == nil {
		return nil, types.ErrNotFound
	}
	if inst.InstType != types.TypeConvertible {
		return nil, types.NewValidationError("inst_type", "conversion prices apply to CB instruments only")
	}
	return s.db.ConversionPrices(ctx, key)
}

// detail joins an instrument with its extension into the API shape, deriving
// the lifecycle state and flagging a missing required extension.
func (s *Service) detail(inst *types.Instrument, ext types.ExtensionRecord) *types.InstrumentDetail {
	d := &types.InstrumentDetail{
		Instrument: *inst,
		Extension:  ext,
		State:      deriveState(inst, ext),
	}
	if types.RequiresExtension(inst.InstType) && ext == nil {
		d.Warnings = append(d.Warnings, types.ConsistencyWarning{
			Code:    types.WarnMissingExtension,
			Message: fmt.Sprintf("no %s row for %s", schema.TableNameFor(inst.InstType), inst.Key()),
		})
		s.metrics.RecordConsistencyWarning()
	}
	return d
}

// record journals a change event and hands it to the notifier. Both are
// best-effort: the mutation already committed, so a journal failure is
// logged and swallowed rather than unwound.
func (s *Service) record(ctx context.Context, event types.ChangeEvent) {
	if err := s.db.AppendChange(ctx, event); err != nil {
		log.Warn().
			Err(err).
			Str("change_id", event.ChangeID).
			Str("symbol", event.Symbol).
			Str("exchange", event.Exchange).
			Str("service", "metadata").
			Msg("failed to journal change event")
	}
	if s.notifier != nil {
		s.notifier.Publish(ctx, event)
	}
}

// deriveState reports where an instrument sits in its lifecycle based on
// what the two tables actually hold.
func deriveState(inst *types.Instrument, ext types.ExtensionRecord) string {
	switch {
	case inst == nil:
		return types.StateAbsent
	case inst.Delisted():
		return types.StateRetired
	case types.RequiresExtension(inst.InstType) && ext == nil:
		return types.StatePending
	default:
		return types.StateCommitted
	}
}

func newChangeEvent(key types.InstrumentKey, instType types.InstrumentType, action, detail string) types.ChangeEvent {
	return types.ChangeEvent{
		ChangeID:  "CHG_" + uuid.New().String(),
		Symbol:    key.Symbol,
		Exchange:  key.Exchange,
		InstType:  instType,
		Action:    action,
		Detail:    detail,
		Timestamp: time.Now().UTC(),
	}
}

func keyFromPayload(payload map[string]any) types.InstrumentKey {
	key := types.InstrumentKey{}
	if v, ok := payload["symbol"].(string); ok {
		key.Symbol = v
	}
	if v, ok := payload["exchange"].(string); ok {
		key.Exchange = v
	}
	return key
}

func keyFromParams(c *gin.Context) types.InstrumentKey {
	return types.InstrumentKey{
		Symbol:   c.Param("symbol"),
		Exchange: c.Param("exchange"),
	}
}

// GinHandlers contains HTTP handlers for instrument metadata endpoints
type GinHandlers struct {
	service *Service
}

// NewGinHandlers creates a new set of HTTP handlers for metadata endpoints
func NewGinHandlers(service *Service) *GinHandlers {
	return &GinHandlers{
		service: service,
	}
}

// RegisterHandler handles POST requests to register an instrument
// Request body carries the base fields and the type-specific extension
func (h *GinHandlers) RegisterHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req types.RegisterRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			response.BadRequest(c, err.Error())
			return
		}

		detail, err := h.service.Register(c.Request.Context(), req)
		response.Handle(c, detail, err)
	}
}

// RegisterBatchHandler handles POST requests to register many instruments
// at once. Always responds 200 with per-entry outcomes.
func (h *GinHandlers) RegisterBatchHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var reqs []types.RegisterRequest
		if err := c.ShouldBindJSON(&reqs); err != nil {
			response.BadRequest(c, err.Error())
			return
		}
		if len(reqs) == 0 {
			response.BadRequest(c, "empty batch")
			return
		}

		response.Success(c, h.service.RegisterBatch(c.Request.Context(), reqs))
	}
}

// GetInstrumentHandler handles GET requests for one instrument
// URL parameters: exchange, symbol
func (h *GinHandlers) GetInstrumentHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		detail, err := h.service.Read(c.Request.Context(), keyFromParams(c))
		response.Handle(c, detail, err)
	}
}

// UpdateInstrumentHandler handles PATCH requests with a partial field map
func (h *GinHandlers) UpdateInstrumentHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var fields map[string]any
		if err := c.ShouldBindJSON(&fields); err != nil {
			response.BadRequest(c, err.Error())
			return
		}

		detail, err := h.service.Update(c.Request.Context(), keyFromParams(c), fields)
		response.Handle(c, detail, err)
	}
}

// DelistInstrumentHandler handles POST requests to retire an instrument
func (h *GinHandlers) DelistInstrumentHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req types.DelistRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			response.BadRequest(c, err.Error())
			return
		}
		when, err := time.Parse("2006-01-02", req.DelistedDate)
		if err != nil {
			response.BadRequest(c, "delisted_date must be YYYY-MM-DD")
			return
		}

		detail, err := h.service.Delist(c.Request.Context(), keyFromParams(c), when)
		response.Handle(c, detail, err)
	}
}

// DeleteInstrumentHandler handles DELETE requests to remove an instrument
func (h *GinHandlers) DeleteInstrumentHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		key := keyFromParams(c)
		if err := h.service.Delete(c.Request.Context(), key); err != nil {
			response.Handle(c, nil, err)
			return
		}
		response.Success(c, gin.H{"symbol": key.Symbol, "exchange": key.Exchange, "deleted": true})
	}
}

// ListInstrumentsHandler handles GET requests to list instruments of a type.
// Query parameter inst_type is required; every other query parameter is an
// equality filter on a schema field.
func (h *GinHandlers) ListInstrumentsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		instType := c.Query("inst_type")
		if instType == "" {
			response.BadRequest(c, "inst_type query parameter is required")
			return
		}

		filters := make(map[string]any)
		for name, vals := range c.Request.URL.Query() {
			if name == "inst_type" || len(vals) == 0 {
				continue
			}
			filters[name] = vals[0]
		}

		details, err := h.service.List(c.Request.Context(), types.InstrumentType(instType), filters)
		response.Handle(c, details, err)
	}
}

// DistinctValuesHandler handles GET requests for the distinct values of one
// field. Query parameters: inst_type, field.
func (h *GinHandlers) DistinctValuesHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		instType := c.Query("inst_type")
		field := c.Query("field")
		if instType == "" || field == "" {
			response.BadRequest(c, "inst_type and field query parameters are required")
			return
		}

		values, err := h.service.DistinctValues(c.Request.Context(), types.InstrumentType(instType), field)
		response.Handle(c, values, err)
	}
}

// GetChangesHandler handles GET requests for an instrument's change journal
func (h *GinHandlers) GetChangesHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		changes, err := h.service.Changes(c.Request.Context(), keyFromParams(c))
		response.Handle(c, changes, err)
	}
}

// ReviseConversionPriceHandler handles POST requests that record a
// convertible bond conversion price revision
func (h *GinHandlers) ReviseConversionPriceHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req types.ConversionPriceRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			response.BadRequest(c, err.Error())
			return
		}

		announced, err := time.Parse("2006-01-02", req.AnnouncementDate)
		if err != nil {
			response.BadRequest(c, "announcement_date must be YYYY-MM-DD")
			return
		}
		effective, err := time.Parse("2006-01-02", req.EffectiveDate)
		if err != nil {
			response.BadRequest(c, "effective_date must be YYYY-MM-DD")
			return
		}
		price, err := decimal.NewFromString(req.ConversionPrice)
		if err != nil {
			response.BadRequest(c, "conversion_price must be a decimal")
			return
		}

		key := keyFromParams(c)
		rev := types.ConversionPriceRevision{
			Symbol:           key.Symbol,
			Exchange:         key.Exchange,
			AnnouncementDate: announced.UTC(),
			EffectiveDate:    effective.UTC(),
			ConversionPrice:  price,
		}
		if err := h.service.ReviseConversionPrice(c.Request.Context(), rev); err != nil {
			response.Handle(c, nil, err)
			return
		}
		response.Success(c, rev)
	}
}

// GetConversionPricesHandler handles GET requests for a bond's conversion
// price history
func (h *GinHandlers) GetConversionPricesHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		history, err := h.service.ConversionPriceHistory(c.Request.Context(), keyFromParams(c))
		response.Handle(c, history, err)
	}
}
