package search

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/mapping"
	"github.com/gin-gonic/gin"

	"github.com/quindar/refdata-api/internal/metrics"
	"github.com/quindar/refdata-api/internal/types"
	"github.com/quindar/refdata-api/pkg/response"
)

const (
	defaultSearchLimit = 20
	maxSearchLimit     = 100
)

// Document is the flattened projection of an instrument held in the
// search index. It is rebuilt from the metadata store, never the other
// way around.
type Document struct {
	Symbol   string `json:"symbol"`
	Exchange string `json:"exchange"`
	Name     string `json:"name"`
	InstType string `json:"inst_type"`
	Currency string `json:"currency"`
	State    string `json:"state"`
	Country  string `json:"country,omitempty"`
	Sector   string `json:"sector,omitempty"`
	Industry string `json:"industry,omitempty"`
}

// Hit is one search result with its relevance score
type Hit struct {
	Document
	Score float64 `json:"score"`
}

var documentFields = []string{
	"symbol", "exchange", "name", "inst_type", "currency",
	"state", "country", "sector", "industry",
}

// Service owns the in-memory full-text index over instrument metadata
type Service struct {
	index   bleve.Index
	metrics *metrics.Metrics
}

// NewService creates the service with an empty in-memory index. Callers
// are expected to rebuild it from the metadata store before serving.
func NewService(m *metrics.Metrics) (*Service, error) {
	index, err := bleve.NewMemOnly(buildIndexMapping())
	if err != nil {
		return nil, fmt.Errorf("failed to create search index: %w", err)
	}
	return &Service{index: index, metrics: m}, nil
}

func buildIndexMapping() mapping.IndexMapping {
	indexMapping := bleve.NewIndexMapping()
	docMapping := bleve.NewDocumentMapping()

	textFieldMapping := bleve.NewTextFieldMapping()
	textFieldMapping.Store = true
	textFieldMapping.Index = true
	for _, field := range documentFields {
		docMapping.AddFieldMappingsAt(field, textFieldMapping)
	}

	indexMapping.AddDocumentMapping("_default", docMapping)
	return indexMapping
}

// Symbols can collide across exchanges, so documents are keyed by both
func docID(symbol, exchange string) string {
	return fmt.Sprintf("%s-%s", symbol, exchange)
}

func documentFrom(detail types.InstrumentDetail) Document {
	doc := Document{
		Symbol:   detail.Instrument.Symbol,
		Exchange: detail.Instrument.Exchange,
		Name:     detail.Instrument.Name,
		InstType: string(detail.Instrument.InstType),
		Currency: detail.Instrument.Currency,
		State:    detail.State,
	}
	switch ext := detail.Extension.(type) {
	case *types.EquityExtension:
		doc.Country = ext.Country
		doc.Sector = ext.Sector
		doc.Industry = ext.Industry
	case *types.ConvertibleExtension:
		doc.Country = ext.Country
	}
	return doc
}

// IndexInstrument adds or replaces the document for one instrument
func (s *Service) IndexInstrument(detail types.InstrumentDetail) error {
	doc := documentFrom(detail)
	if err := s.index.Index(docID(doc.Symbol, doc.Exchange), doc); err != nil {
		return fmt.Errorf("failed to index %s-%s: %w", doc.Symbol, doc.Exchange, err)
	}
	s.refreshDocGauge()
	return nil
}

// IndexBatch indexes many instruments in one underlying batch
func (s *Service) IndexBatch(details []types.InstrumentDetail) error {
	batch := s.index.NewBatch()
	for _, detail := range details {
		doc := documentFrom(detail)
		if err := batch.Index(docID(doc.Symbol, doc.Exchange), doc); err != nil {
			return fmt.Errorf("failed to add %s-%s to batch: %w", doc.Symbol, doc.Exchange, err)
		}
	}
	if err := s.index.Batch(batch); err != nil {
		return fmt.Errorf("failed to execute index batch: %w", err)
	}
	s.refreshDocGauge()
	return nil
}

// Remove drops an instrument's document. Removing an unindexed
// instrument is not an error.
func (s *Service) Remove(key types.InstrumentKey) error {
	if err := s.index.Delete(docID(key.Symbol, key.Exchange)); err != nil {
		return fmt.Errorf("failed to remove %s from index: %w", key, err)
	}
	s.refreshDocGauge()
	return nil
}

// DocCount returns the number of indexed instruments
func (s *Service) DocCount() (uint64, error) {
	return s.index.DocCount()
}

func (s *Service) refreshDocGauge() {
	if n, err := s.index.DocCount(); err == nil {
		s.metrics.SetIndexedDocs(n)
	}
}

// Close releases the index
func (s *Service) Close() error {
	return s.index.Close()
}

// Search ranks instruments against a free-text query. Exact symbol
// matches rank above symbol prefixes, which rank above name matches,
// with wildcard fallbacks so partial fragments still hit.
func (s *Service) Search(query string, limit int) ([]Hit, error) {
	s.metrics.RecordSearchQuery()

	if limit <= 0 {
		limit = defaultSearchLimit
	}
	if limit > maxSearchLimit {
		limit = maxSearchLimit
	}
	lowered := strings.ToLower(query)

	exactSymbol := bleve.NewTermQuery(lowered)
	exactSymbol.SetField("symbol")
	exactSymbol.SetBoost(10.0)

	prefixSymbol := bleve.NewPrefixQuery(lowered)
	prefixSymbol.SetField("symbol")
	prefixSymbol.SetBoost(5.0)

	nameMatch := bleve.NewMatchQuery(query)
	nameMatch.SetField("name")
	nameMatch.SetBoost(3.0)

	wildcardSymbol := bleve.NewWildcardQuery("*" + lowered + "*")
	wildcardSymbol.SetField("symbol")
	wildcardSymbol.SetBoost(2.0)

	wildcardName := bleve.NewWildcardQuery("*" + lowered + "*")
	wildcardName.SetField("name")
	wildcardName.SetBoost(1.5)

	sectorMatch := bleve.NewMatchQuery(query)
	sectorMatch.SetField("sector")
	sectorMatch.SetBoost(1.0)

	searchQuery := bleve.NewDisjunctionQuery(
		exactSymbol,
		prefixSymbol,
		nameMatch,
		wildcardSymbol,
		wildcardName,
		sectorMatch,
	)

	searchRequest := bleve.NewSearchRequest(searchQuery)
	searchRequest.Fields = documentFields
	searchRequest.Size = limit

	searchResults, err := s.index.Search(searchRequest)
	if err != nil {
		return nil, fmt.Errorf("search failed: %w", err)
	}

	hits := make([]Hit, 0, len(searchResults.Hits))
	for _, hit := range searchResults.Hits {
		hits = append(hits, Hit{
			Document: Document{
				Symbol:   fieldString(hit.Fields, "symbol"),
				Exchange: fieldString(hit.Fields, "exchange"),
				Name:     fieldString(hit.Fields, "name"),
				InstType: fieldString(hit.Fields, "inst_type"),
				Currency: fieldString(hit.Fields, "currency"),
				State:    fieldString(hit.Fields, "state"),
				Country:  fieldString(hit.Fields, "country"),
				Sector:   fieldString(hit.Fields, "sector"),
				Industry: fieldString(hit.Fields, "industry"),
			},
			Score: hit.Score,
		})
	}
	return hits, nil
}

func fieldString(fields map[string]interface{}, key string) string {
	if val, ok := fields[key].(string); ok {
		return val
	}
	return ""
}

// GinHandlers provides HTTP handlers for instrument search
type GinHandlers struct {
	service *Service
}

// NewGinHandlers creates HTTP handlers for the search service
func NewGinHandlers(service *Service) *GinHandlers {
	return &GinHandlers{service: service}
}

// SearchHandler handles GET /api/v1/instruments/search
func (h *GinHandlers) SearchHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		query := strings.TrimSpace(c.Query("q"))
		if query == "" {
			response.BadRequest(c, "q query parameter is required")
			return
		}

		limit := defaultSearchLimit
		if raw := c.Query("limit"); raw != "" {
			parsed, err := strconv.Atoi(raw)
			if err != nil || parsed < 1 {
				response.BadRequest(c, "limit must be a positive integer")
				return
			}
			limit = parsed
		}

		hits, err := h.service.Search(query, limit)
		response.Handle(c, hits, err)
	}
}
