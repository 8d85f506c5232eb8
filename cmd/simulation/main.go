package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"math/rand"
	"net/http"
	"os"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/quindar/refdata-api/internal/auth"
	"github.com/quindar/refdata-api/internal/backend"
	"github.com/quindar/refdata-api/internal/database"
	"github.com/quindar/refdata-api/internal/metadata"
	"github.com/quindar/refdata-api/internal/notify"
	"github.com/quindar/refdata-api/internal/schema"
	"github.com/quindar/refdata-api/internal/search"
	"github.com/quindar/refdata-api/internal/series"
	"github.com/quindar/refdata-api/pkg/middleware"
)

const (
	minInstruments    = 12
	maxInstruments    = 60
	numWorkers        = 4
	barsPerInstrument = 60
	serverAddress     = "http://localhost:8080"

	simAPIKey    = "sim-api-key"
	simAPISecret = "sim-api-secret"
)

var (
	sectors    = []string{"Technology", "Financial Services", "Energy", "Healthcare", "Industrials"}
	industries = []string{"Software", "Banks", "Oil & Gas", "Biotechnology", "Machinery"}
)

// init configures the logger for the simulation with pretty printing and timestamp
func init() {
	output := zerolog.ConsoleWriter{
		Out:        os.Stdout,
		TimeFormat: time.RFC3339,
	}
	log.Logger = zerolog.New(output).With().Timestamp().Logger()
}

// routeStats tracks performance statistics for an API endpoint
type routeStats struct {
	name       string
	durations  []time.Duration
	totalCalls int
	failures   int
}

// addDuration records a new duration measurement for the route
func (rs *routeStats) addDuration(d time.Duration) {
	rs.durations = append(rs.durations, d)
	rs.totalCalls++
}

// calculate computes performance statistics from recorded durations
// Returns min, max, mean, median, 95th percentile, and 99th percentile durations
func (rs *routeStats) calculate() (min, max, mean, median, p95, p99 time.Duration) {
	if len(rs.durations) == 0 {
		return 0, 0, 0, 0, 0, 0
	}

	sort.Slice(rs.durations, func(i, j int) bool {
		return rs.durations[i] < rs.durations[j]
	})

	min = rs.durations[0]
	max = rs.durations[len(rs.durations)-1]

	var sum time.Duration
	for _, d := range rs.durations {
		sum += d
	}
	mean = sum / time.Duration(len(rs.durations))

	median = rs.durations[len(rs.durations)/2]

	p95idx := int(math.Ceil(float64(len(rs.durations))*0.95)) - 1
	p99idx := int(math.Ceil(float64(len(rs.durations))*0.99)) - 1
	p95 = rs.durations[p95idx]
	p99 = rs.durations[p99idx]

	return
}

// simKey identifies one simulated instrument across the run
type simKey struct {
	Symbol   string
	Exchange string
	InstType string
}

// simulationClient handles HTTP communication with the reference-data API
type simulationClient struct {
	baseURL   string
	authToken string
	client    *http.Client
	stats     map[string]*routeStats
}

// newSimulationClient creates and initializes a new simulation client.
// It authenticates with the API and prepares performance tracking.
func newSimulationClient() (*simulationClient, error) {
	client := &http.Client{
		Timeout: 10 * time.Second,
	}

	sc := &simulationClient{
		baseURL: serverAddress,
		client:  client,
		stats: map[string]*routeStats{
			"auth":         {name: "Authentication"},
			"register":     {name: "Register Instrument"},
			"get":          {name: "Get Instrument"},
			"update":       {name: "Update Instrument"},
			"list":         {name: "List Instruments"},
			"distinct":     {name: "Distinct Values"},
			"search":       {name: "Search"},
			"series_write": {name: "Write Series"},
			"series_read":  {name: "Read Series"},
			"delist":       {name: "Delist Instrument"},
			"changes":      {name: "Get Changes"},
			"revise":       {name: "Revise Conv. Price"},
		},
	}

	token, err := sc.authenticate()
	if err != nil {
		return nil, fmt.Errorf("failed to authenticate: %w", err)
	}
	sc.authToken = token

	return sc, nil
}

// do sends one authenticated request and decodes the envelope's data
// field into out when out is non-nil
func (sc *simulationClient) do(method, path string, payload any, out any) error {
	var body io.Reader
	if payload != nil {
		encoded, err := json.Marshal(payload)
		if err != nil {
			return err
		}
		body = bytes.NewBuffer(encoded)
	}

	req, err := http.NewRequest(method, sc.baseURL+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", fmt.Sprintf("Bearer %s", sc.authToken))
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := sc.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response body: %w", err)
	}
	log.Debug().Str("path", path).Str("response", string(respBody)).Msg("API response")

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return fmt.Errorf("%s %s failed with status %d: %s", method, path, resp.StatusCode, string(respBody))
	}

	if out == nil {
		return nil
	}

	var envelope struct {
		Success bool            `json:"success"`
		Data    json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(respBody, &envelope); err != nil {
		return fmt.Errorf("failed to decode response: %w, body: %s", err, string(respBody))
	}
	if err := json.Unmarshal(envelope.Data, out); err != nil {
		return fmt.Errorf("failed to decode response data: %w, body: %s", err, string(respBody))
	}
	return nil
}

// authenticate performs API authentication and returns a JWT token
func (sc *simulationClient) authenticate() (string, error) {
	start := time.Now()
	defer func() {
		sc.stats["auth"].addDuration(time.Since(start))
	}()

	credentials := map[string]string{
		"api_key":    simAPIKey,
		"api_secret": simAPISecret,
	}

	body, err := json.Marshal(credentials)
	if err != nil {
		return "", err
	}

	resp, err := sc.client.Post(
		fmt.Sprintf("%s/api/v1/auth/token", sc.baseURL),
		"application/json",
		bytes.NewBuffer(body),
	)
	if err != nil {
		sc.stats["auth"].failures++
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		sc.stats["auth"].failures++
		return "", fmt.Errorf("authentication failed with status: %d", resp.StatusCode)
	}

	var result struct {
		Token string `json:"jwt_token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", err
	}

	return result.Token, nil
}

// registerInstrument submits a new instrument and returns its lifecycle state
func (sc *simulationClient) registerInstrument(instrument, extension map[string]any) (string, error) {
	start := time.Now()
	defer func() {
		sc.stats["register"].addDuration(time.Since(start))
	}()

	payload := map[string]any{"instrument": instrument}
	if len(extension) > 0 {
		payload["extension"] = extension
	}

	var detail struct {
		State string `json:"state"`
	}
	if err := sc.do("POST", "/api/v1/instruments", payload, &detail); err != nil {
		sc.stats["register"].failures++
		return "", err
	}
	return detail.State, nil
}

// getInstrument retrieves one instrument's joined metadata
func (sc *simulationClient) getInstrument(key simKey) (string, error) {
	start := time.Now()
	defer func() {
		sc.stats["get"].addDuration(time.Since(start))
	}()

	var detail struct {
		State string `json:"state"`
	}
	path := fmt.Sprintf("/api/v1/instruments/%s/%s", key.Symbol, key.Exchange)
	if err := sc.do("GET", path, nil, &detail); err != nil {
		sc.stats["get"].failures++
		return "", err
	}
	return detail.State, nil
}

// updateInstrument patches metadata fields on an existing instrument
func (sc *simulationClient) updateInstrument(key simKey, fields map[string]any) error {
	start := time.Now()
	defer func() {
		sc.stats["update"].addDuration(time.Since(start))
	}()

	path := fmt.Sprintf("/api/v1/instruments/%s/%s", key.Symbol, key.Exchange)
	if err := sc.do("PATCH", path, fields, nil); err != nil {
		sc.stats["update"].failures++
		return err
	}
	return nil
}

// listInstruments counts instruments of one type
func (sc *simulationClient) listInstruments(instType string) (int, error) {
	start := time.Now()
	defer func() {
		sc.stats["list"].addDuration(time.Since(start))
	}()

	var listed []json.RawMessage
	if err := sc.do("GET", "/api/v1/instruments?inst_type="+instType, nil, &listed); err != nil {
		sc.stats["list"].failures++
		return 0, err
	}
	return len(listed), nil
}

// distinctValues fetches the deduplicated values of one field
func (sc *simulationClient) distinctValues(instType, field string) ([]string, error) {
	start := time.Now()
	defer func() {
		sc.stats["distinct"].addDuration(time.Since(start))
	}()

	var values []string
	path := fmt.Sprintf("/api/v1/instruments/distinct?inst_type=%s&field=%s", instType, field)
	if err := sc.do("GET", path, nil, &values); err != nil {
		sc.stats["distinct"].failures++
		return nil, err
	}
	return values, nil
}

// searchInstruments counts hits for a free-text query
func (sc *simulationClient) searchInstruments(query string) (int, error) {
	start := time.Now()
	defer func() {
		sc.stats["search"].addDuration(time.Since(start))
	}()

	var hits []json.RawMessage
	if err := sc.do("GET", "/api/v1/instruments/search?q="+query, nil, &hits); err != nil {
		sc.stats["search"].failures++
		return 0, err
	}
	return len(hits), nil
}

// writeSeries uploads a batch of bars for one instrument
func (sc *simulationClient) writeSeries(key simKey, bars []map[string]any) (int, error) {
	start := time.Now()
	defer func() {
		sc.stats["series_write"].addDuration(time.Since(start))
	}()

	var result struct {
		Written int `json:"written"`
	}
	path := fmt.Sprintf("/api/v1/series/%s/%s", key.Symbol, key.Exchange)
	if err := sc.do("POST", path, bars, &result); err != nil {
		sc.stats["series_write"].failures++
		return 0, err
	}
	return result.Written, nil
}

// readSeries counts stored bars for one instrument
func (sc *simulationClient) readSeries(key simKey) (int, error) {
	start := time.Now()
	defer func() {
		sc.stats["series_read"].addDuration(time.Since(start))
	}()

	var bars []json.RawMessage
	path := fmt.Sprintf("/api/v1/series/%s/%s", key.Symbol, key.Exchange)
	if err := sc.do("GET", path, nil, &bars); err != nil {
		sc.stats["series_read"].failures++
		return 0, err
	}
	return len(bars), nil
}

// delistInstrument retires an instrument as of the given date
func (sc *simulationClient) delistInstrument(key simKey, date string) error {
	start := time.Now()
	defer func() {
		sc.stats["delist"].addDuration(time.Since(start))
	}()

	path := fmt.Sprintf("/api/v1/instruments/%s/%s/delist", key.Symbol, key.Exchange)
	if err := sc.do("POST", path, map[string]string{"delisted_date": date}, nil); err != nil {
		sc.stats["delist"].failures++
		return err
	}
	return nil
}

// getChanges counts journal entries for one instrument
func (sc *simulationClient) getChanges(key simKey) (int, error) {
	start := time.Now()
	defer func() {
		sc.stats["changes"].addDuration(time.Since(start))
	}()

	var changes []json.RawMessage
	path := fmt.Sprintf("/api/v1/instruments/%s/%s/changes", key.Symbol, key.Exchange)
	if err := sc.do("GET", path, nil, &changes); err != nil {
		sc.stats["changes"].failures++
		return 0, err
	}
	return len(changes), nil
}

// reviseConversionPrice appends one conversion price revision to a CB
func (sc *simulationClient) reviseConversionPrice(key simKey, announcement, effective, price string) error {
	start := time.Now()
	defer func() {
		sc.stats["revise"].addDuration(time.Since(start))
	}()

	payload := map[string]string{
		"announcement_date": announcement,
		"effective_date":    effective,
		"conversion_price":  price,
	}
	path := fmt.Sprintf("/api/v1/instruments/%s/%s/conversion-prices", key.Symbol, key.Exchange)
	if err := sc.do("POST", path, payload, nil); err != nil {
		sc.stats["revise"].failures++
		return err
	}
	return nil
}

// printPerformanceStats outputs formatted performance statistics for all API endpoints
func (sc *simulationClient) printPerformanceStats() {
	fmt.Println("\n📊 API Performance Statistics")
	fmt.Println(strings.Repeat("-", 110))
	fmt.Printf("%-22s %10s %10s %10s %10s %10s %10s %10s %10s\n",
		"Endpoint", "Calls", "Errors", "Min", "Max", "Mean", "Median", "P95", "P99")
	fmt.Println(strings.Repeat("-", 110))

	names := make([]string, 0, len(sc.stats))
	for name := range sc.stats {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		stats := sc.stats[name]
		min, max, mean, median, p95, p99 := stats.calculate()
		fmt.Printf("%-22s %10d %10d %10s %10s %10s %10s %10s %10s\n",
			stats.name,
			stats.totalCalls,
			stats.failures,
			min.Round(time.Millisecond),
			max.Round(time.Millisecond),
			mean.Round(time.Millisecond),
			median.Round(time.Millisecond),
			p95.Round(time.Millisecond),
			p99.Round(time.Millisecond))
	}
	fmt.Println(strings.Repeat("-", 110))
}

// randomInstrument builds one synthetic instrument payload. Symbols are
// unique per (worker, sequence) so re-runs replay the same universe.
func randomInstrument(workerID, seq int) (simKey, map[string]any, map[string]any) {
	mix := []string{"STK", "STK", "ETF", "LOF", "CB", "FUT"}
	instType := mix[rand.Intn(len(mix))]

	var key simKey
	instrument := map[string]any{}
	extension := map[string]any{}

	listed := time.Date(2012+rand.Intn(8), time.Month(1+rand.Intn(12)), 1+rand.Intn(28), 0, 0, 0, 0, time.UTC)

	switch instType {
	case "STK", "ETF":
		exchanges := []string{"NASDAQ", "NYSE"}
		key = simKey{
			Symbol:   fmt.Sprintf("SIM%d%03d", workerID, seq),
			Exchange: exchanges[rand.Intn(len(exchanges))],
			InstType: instType,
		}
		instrument = map[string]any{
			"timezone":     "America/New_York",
			"currency":     "USD",
			"tick_size":    "0.01",
			"lot_size":     "1",
			"min_lots":     "1",
			"market_tplus": 1,
		}
		extension = map[string]any{
			"country":  "US",
			"sector":   sectors[rand.Intn(len(sectors))],
			"industry": industries[rand.Intn(len(industries))],
		}
	case "LOF":
		key = simKey{
			Symbol:   fmt.Sprintf("16%d%03d", workerID, seq),
			Exchange: "SZSE",
			InstType: instType,
		}
		instrument = map[string]any{
			"timezone":     "Asia/Shanghai",
			"currency":     "CNY",
			"tick_size":    "0.001",
			"lot_size":     "100",
			"min_lots":     "1",
			"market_tplus": 1,
		}
		extension = map[string]any{
			"country": "CN",
			"sector":  sectors[rand.Intn(len(sectors))],
		}
	case "CB":
		key = simKey{
			Symbol:   fmt.Sprintf("11%d%03d", workerID, seq),
			Exchange: "SSE",
			InstType: instType,
		}
		instrument = map[string]any{
			"timezone":     "Asia/Shanghai",
			"currency":     "CNY",
			"tick_size":    "0.001",
			"lot_size":     "10",
			"min_lots":     "1",
			"market_tplus": 0,
		}
		maturity := listed.AddDate(6, 0, 0)
		extension = map[string]any{
			"country":               "CN",
			"stock_code":            fmt.Sprintf("60%d%03d", workerID, seq),
			"stock_exchange":        "SSE",
			"maturity_date":         maturity.Format("2006-01-02"),
			"issue_price":           "100",
			"total_issue_size":      strconv.Itoa((rand.Intn(50) + 5) * 100000000),
			"par_value":             "100",
			"redemption_price":      "108",
			"conversion_start_date": listed.AddDate(0, 6, 0).Format("2006-01-02"),
			"conversion_end_date":   maturity.AddDate(0, 0, -1).Format("2006-01-02"),
		}
	case "FUT":
		key = simKey{
			Symbol:   fmt.Sprintf("FSIM%d%03d", workerID, seq),
			Exchange: "CME",
			InstType: instType,
		}
		instrument = map[string]any{
			"timezone":     "America/Chicago",
			"currency":     "USD",
			"tick_size":    "0.25",
			"lot_size":     "1",
			"min_lots":     "1",
			"market_tplus": 0,
		}
		extension = nil
	}

	instrument["symbol"] = key.Symbol
	instrument["exchange"] = key.Exchange
	instrument["inst_type"] = key.InstType
	instrument["name"] = fmt.Sprintf("Simulated %s %s", key.InstType, key.Symbol)
	instrument["listed_date"] = listed.Format("2006-01-02")

	return key, instrument, extension
}

// randomBars generates a daily random walk ending today
func randomBars(n int) []map[string]any {
	price := 20 + rand.Float64()*200
	first := time.Now().UTC().AddDate(0, 0, -n).Truncate(24 * time.Hour)

	bars := make([]map[string]any, 0, n)
	for i := 0; i < n; i++ {
		drift := (rand.Float64() - 0.5) * price * 0.04
		open := price
		closePx := price + drift
		high := math.Max(open, closePx) * (1 + rand.Float64()*0.01)
		low := math.Min(open, closePx) * (1 - rand.Float64()*0.01)

		bars = append(bars, map[string]any{
			"timestamp": first.AddDate(0, 0, i).Format(time.RFC3339),
			"open":      formatPrice(open),
			"high":      formatPrice(high),
			"low":       formatPrice(low),
			"close":     formatPrice(closePx),
			"volume":    strconv.Itoa(rand.Intn(1000000) + 10000),
		})
		price = closePx
	}
	return bars
}

func formatPrice(v float64) string {
	return strconv.FormatFloat(v, 'f', 2, 64)
}

// main runs the reference-data simulation.
// It starts a local API server, registers a synthetic instrument
// universe over HTTP and drives the full metadata and series lifecycle.
func main() {
	go func() {
		if err := startServer(); err != nil {
			log.Fatal().Err(err).Msg("Failed to start server")
		}
	}()

	// Wait for server to start
	time.Sleep(2 * time.Second)

	simClient, err := newSimulationClient()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize simulation client")
	}

	targetInstruments := rand.Intn(maxInstruments-minInstruments) + minInstruments
	log.Info().Int("target_instruments", targetInstruments).Msg("Starting simulation")

	keysChan := make(chan simKey, targetInstruments+numWorkers)
	var wg sync.WaitGroup

	for i := 0; i < numWorkers; i++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			registerInstrumentsHTTP(workerID, targetInstruments/numWorkers, simClient, keysChan)
		}(i)
	}

	wg.Wait()
	close(keysChan)

	var keys []simKey
	for key := range keysChan {
		keys = append(keys, key)
	}

	log.Info().Int("instruments_registered", len(keys)).Msg("Universe registered")

	stats := struct {
		TotalInstruments int
		PointsWritten    int
		PointsRead       int
		Updated          int
		Delisted         int
		PriceRevisions   int
		FailedWrites     int
		FailedUpdates    int
		FailedDelists    int
		JournalEntries   int
		StartTime        time.Time
		Types            map[string]int
		Exchanges        map[string]int
	}{
		StartTime: time.Now(),
		Types:     make(map[string]int),
		Exchanges: make(map[string]int),
	}
	stats.TotalInstruments = len(keys)

	// Load a price history for every instrument and read it back
	for _, key := range keys {
		stats.Types[key.InstType]++
		stats.Exchanges[key.Exchange]++

		written, err := simClient.writeSeries(key, randomBars(barsPerInstrument))
		if err != nil {
			log.Error().Err(err).Str("symbol", key.Symbol).Msg("Failed to write series")
			stats.FailedWrites++
			continue
		}
		stats.PointsWritten += written

		read, err := simClient.readSeries(key)
		if err != nil {
			log.Error().Err(err).Str("symbol", key.Symbol).Msg("Failed to read series")
			continue
		}
		stats.PointsRead += read
	}

	// Metadata maintenance: rename everything, rotate equity sectors
	for _, key := range keys {
		fields := map[string]any{
			"name": fmt.Sprintf("Simulated %s %s Series A", key.InstType, key.Symbol),
		}
		if key.InstType == "STK" || key.InstType == "ETF" {
			fields["sector"] = sectors[rand.Intn(len(sectors))]
		}
		if err := simClient.updateInstrument(key, fields); err != nil {
			log.Error().Err(err).Str("symbol", key.Symbol).Msg("Failed to update instrument")
			stats.FailedUpdates++
			continue
		}
		stats.Updated++
	}

	// Convertibles get a couple of conversion price revisions
	for _, key := range keys {
		if key.InstType != "CB" {
			continue
		}
		base := 6 + rand.Float64()*4
		for i := 0; i < 2; i++ {
			announcement := time.Now().UTC().AddDate(0, -6+3*i, 0)
			err := simClient.reviseConversionPrice(key,
				announcement.Format("2006-01-02"),
				announcement.AddDate(0, 0, 2).Format("2006-01-02"),
				formatPrice(base*(1-0.05*float64(i))))
			if err != nil {
				log.Error().Err(err).Str("symbol", key.Symbol).Msg("Failed to revise conversion price")
				continue
			}
			stats.PriceRevisions++
		}
	}

	// Query surface: lists, distinct values and search
	for _, instType := range []string{"STK", "ETF", "LOF", "CB", "FUT"} {
		count, err := simClient.listInstruments(instType)
		if err != nil {
			log.Error().Err(err).Str("inst_type", instType).Msg("Failed to list instruments")
			continue
		}
		log.Info().Str("inst_type", instType).Int("count", count).Msg("Listed instruments")
	}

	if values, err := simClient.distinctValues("STK", "sector"); err == nil {
		log.Info().Strs("sectors", values).Msg("Distinct stock sectors")
	}

	for _, query := range []string{"Simulated", "SIM0", "Technology"} {
		hits, err := simClient.searchInstruments(query)
		if err != nil {
			log.Error().Err(err).Str("query", query).Msg("Search failed")
			continue
		}
		log.Info().Str("query", query).Int("hits", hits).Msg("Search completed")
	}

	// Retire a quarter of the universe and audit their journals
	today := time.Now().UTC().Format("2006-01-02")
	for i, key := range keys {
		if i%4 != 0 {
			continue
		}
		if err := simClient.delistInstrument(key, today); err != nil {
			log.Error().Err(err).Str("symbol", key.Symbol).Msg("Failed to delist instrument")
			stats.FailedDelists++
			continue
		}
		stats.Delisted++

		state, err := simClient.getInstrument(key)
		if err == nil && state != "RETIRED" {
			log.Error().Str("symbol", key.Symbol).Str("state", state).Msg("Unexpected state after delist")
		}

		changes, err := simClient.getChanges(key)
		if err != nil {
			log.Error().Err(err).Str("symbol", key.Symbol).Msg("Failed to fetch changes")
			continue
		}
		stats.JournalEntries += changes
	}

	// Print summary
	duration := time.Since(stats.StartTime)
	fmt.Println("\n" + strings.Repeat("=", 80))
	fmt.Println("🚀 REFERENCE DATA SIMULATION SUMMARY")
	fmt.Println(strings.Repeat("=", 80))

	fmt.Printf(`
📊 Lifecycle Statistics
-----------------------
Instruments:      %d
Points Written:   %d
Points Read:      %d
Updated:          %d
Delisted:         %d
Price Revisions:  %d
Journal Entries:  %d
Failed Writes:    %d
Failed Updates:   %d
Failed Delists:   %d
Duration:         %v

📈 Type Distribution
--------------------
`, stats.TotalInstruments, stats.PointsWritten, stats.PointsRead,
		stats.Updated, stats.Delisted, stats.PriceRevisions, stats.JournalEntries,
		stats.FailedWrites, stats.FailedUpdates, stats.FailedDelists,
		duration.Round(time.Millisecond))

	maxTypeCount := 0
	for _, count := range stats.Types {
		if count > maxTypeCount {
			maxTypeCount = count
		}
	}
	for instType, count := range stats.Types {
		barLength := int(float64(count) / float64(maxTypeCount) * 20)
		bar := strings.Repeat("█", barLength)
		fmt.Printf("%-4s: %s (%d)\n", instType, bar, count)
	}

	fmt.Println("\n📉 Exchange Distribution")
	fmt.Println("------------------------")
	for exchange, count := range stats.Exchanges {
		barLength := int(float64(count) / float64(stats.TotalInstruments) * 20)
		bar := strings.Repeat("█", barLength)
		fmt.Printf("%-6s: %s (%d)\n", exchange, bar, count)
	}

	fmt.Println("\n" + strings.Repeat("=", 80))

	successRate := float64(stats.Updated) / float64(stats.TotalInstruments) * 100
	log.Info().
		Float64("update_success_rate", successRate).
		Int("instruments", stats.TotalInstruments).
		Int("points_written", stats.PointsWritten).
		Dur("duration", duration).
		Msg("Simulation completed")

	simClient.printPerformanceStats()
}

// registerInstrumentsHTTP generates and registers random instruments.
// Runs as a worker goroutine, sending registered keys to keysChan.
func registerInstrumentsHTTP(workerID, numInstruments int, simClient *simulationClient, keysChan chan<- simKey) {
	for i := 0; i < numInstruments; i++ {
		key, instrument, extension := randomInstrument(workerID, i)

		state, err := simClient.registerInstrument(instrument, extension)
		if err != nil {
			log.Error().Err(err).
				Int("worker_id", workerID).
				Str("symbol", key.Symbol).
				Msg("Failed to register instrument")
			continue
		}

		keysChan <- key
		log.Info().
			Int("worker_id", workerID).
			Str("symbol", key.Symbol).
			Str("exchange", key.Exchange).
			Str("inst_type", key.InstType).
			Str("state", state).
			Msg("Instrument registered")

		// Random sleep between registrations
		time.Sleep(time.Duration(rand.Intn(200)) * time.Millisecond)
	}
}

// startServer initializes and starts the reference-data API server.
// The simulation runs against a throwaway local database and an
// in-memory series store.
func startServer() error {
	registry := schema.Builtin()

	db, err := database.NewDatabase("sqlite", "simulation.db", registry)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	relational := backend.NewRelational(db)

	seriesStore, err := backend.NewTimeSeries("")
	if err != nil {
		return fmt.Errorf("failed to initialize series store: %w", err)
	}

	backends := backend.NewRouter(relational, seriesStore)

	dispatcher := notify.NewDispatcher(nil, notify.LogListener{})

	metadataService := metadata.NewService(backends.Metadata(), registry, dispatcher, nil)
	seriesService := series.NewService(backends, nil)

	searchService, err := search.NewService(nil)
	if err != nil {
		return fmt.Errorf("failed to initialize search index: %w", err)
	}
	indexer := search.NewIndexer(searchService, metadataService, registry.Types())
	dispatcher.Register(indexer)
	go indexer.Start(context.Background())

	authService := auth.NewService("sim-secret-key")
	authService.RegisterAPICredentials(simAPIKey, simAPISecret, auth.AllScopes...)

	router := gin.Default()
	setupRoutes(router,
		authService,
		auth.NewGinHandlers(authService),
		metadata.NewGinHandlers(metadataService),
		series.NewGinHandlers(seriesService),
		search.NewGinHandlers(searchService),
	)

	return router.Run(":8080")
}

// setupRoutes wires all API endpoints with the production scope layout
func setupRoutes(
	router *gin.Engine,
	authService *auth.Service,
	authHandlers *auth.GinHandlers,
	metadataHandlers *metadata.GinHandlers,
	seriesHandlers *series.GinHandlers,
	searchHandlers *search.GinHandlers,
) {
	v1 := router.Group("/api/v1")
	{
		authGroup := v1.Group("/auth")
		{
			authGroup.POST("/token", authHandlers.GenerateTokenHandler())
		}

		instruments := v1.Group("/instruments")
		instruments.Use(middleware.JWTAuth(authService))
		{
			read := instruments.Group("")
			read.Use(middleware.RequireScope(auth.ScopeRead))
			{
				read.GET("", metadataHandlers.ListInstrumentsHandler())
				read.GET("/search", searchHandlers.SearchHandler())
				read.GET("/distinct", metadataHandlers.DistinctValuesHandler())
				read.GET("/:symbol/:exchange", metadataHandlers.GetInstrumentHandler())
				read.GET("/:symbol/:exchange/changes", metadataHandlers.GetChangesHandler())
				read.GET("/:symbol/:exchange/conversion-prices", metadataHandlers.GetConversionPricesHandler())
			}

			write := instruments.Group("")
			write.Use(middleware.RequireScope(auth.ScopeMetadataWrite))
			{
				write.POST("", metadataHandlers.RegisterHandler())
				write.POST("/batch", metadataHandlers.RegisterBatchHandler())
				write.PATCH("/:symbol/:exchange", metadataHandlers.UpdateInstrumentHandler())
				write.POST("/:symbol/:exchange/delist", metadataHandlers.DelistInstrumentHandler())
				write.DELETE("/:symbol/:exchange", metadataHandlers.DeleteInstrumentHandler())
				write.POST("/:symbol/:exchange/conversion-prices", metadataHandlers.ReviseConversionPriceHandler())
			}
		}

		seriesGroup := v1.Group("/series")
		seriesGroup.Use(middleware.JWTAuth(authService))
		{
			seriesGroup.GET("/:symbol/:exchange",
				middleware.RequireScope(auth.ScopeRead), seriesHandlers.ReadObservationsHandler())
			seriesGroup.POST("/:symbol/:exchange",
				middleware.RequireScope(auth.ScopeSeriesWrite), seriesHandlers.WriteObservationsHandler())
			seriesGroup.DELETE("/:symbol/:exchange",
				middleware.RequireScope(auth.ScopeSeriesWrite), seriesHandlers.DropObservationsHandler())
		}
	}
}
