// Package telemetry is the central hub for Asahi operational metrics:
// counters, histograms, a rolling event log, and the Prometheus text
// exposition feeding dashboards and scraping.
package telemetry

import (
	"bytes"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/common/expfmt"

	"asahi/internal/domain"
)

// Histogram bucket boundaries. These are part of the wire contract.
var (
	latencyBuckets   = []float64{5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000, 10000}
	tokenBuckets     = []float64{10, 50, 100, 250, 500, 1000, 2500, 5000, 10000}
	batchSizeBuckets = []float64{1, 2, 3, 5, 8, 10, 15, 20}
)

// Config controls collection behaviour.
type Config struct {
	Enabled        bool
	RetentionHours int
}

// DefaultConfig returns the default telemetry configuration.
func DefaultConfig() Config {
	return Config{Enabled: true, RetentionHours: 168}
}

type observation struct {
	ts    time.Time
	value float64
}

type requestKey struct {
	model     string
	taskType  string
	cacheTier string
}

type errorKey struct {
	errorType string
	component string
}

// TierStats are per-tier cache counters.
type TierStats struct {
	Hits    float64 `json:"hits"`
	Misses  float64 `json:"misses"`
	HitRate float64 `json:"hit_rate"`
}

// ErrorCount is one error counter reading.
type ErrorCount struct {
	ErrorType string
	Component string
	Count     float64
}

// Summary is a windowed aggregate over recent events.
type Summary struct {
	WindowMinutes int            `json:"window_minutes"`
	TotalRequests int            `json:"total_requests"`
	TotalCost     float64        `json:"total_cost"`
	AvgLatencyMs  float64        `json:"avg_latency_ms"`
	CacheHitRate  float64        `json:"cache_hit_rate"`
	ErrorCount    int            `json:"error_count"`
	TopModels     map[string]int `json:"top_models"`
}

// Collector aggregates inference, cache, routing, batch, error, and
// savings observations. All mutations are serialized on one mutex; the
// lock is never held across I/O.
type Collector struct {
	config Config
	logger *slog.Logger

	mu            sync.Mutex
	requestsTotal map[requestKey]float64
	costTotal     map[string]float64
	savingsTotal  map[string]float64
	cacheHits     map[string]float64
	cacheMisses   map[string]float64
	cacheHitRate  map[string]float64
	errorsTotal   map[errorKey]float64
	latencyObs    []observation
	tokenObs      []observation
	batchObs      []observation
	qualityScores map[string][]float64
	events        []domain.InferenceEvent
}

// NewCollector creates a collector.
func NewCollector(cfg Config, logger *slog.Logger) *Collector {
	if cfg.RetentionHours <= 0 {
		cfg.RetentionHours = 168
	}
	if logger == nil {
		logger = slog.Default()
	}
	c := &Collector{
		config:        cfg,
		logger:        logger,
		requestsTotal: make(map[requestKey]float64),
		costTotal:     make(map[string]float64),
		savingsTotal:  make(map[string]float64),
		cacheHits:     make(map[string]float64),
		cacheMisses:   make(map[string]float64),
		cacheHitRate:  make(map[string]float64),
		errorsTotal:   make(map[errorKey]float64),
		qualityScores: make(map[string][]float64),
	}
	c.logger.Info("telemetry collector initialised", "enabled", cfg.Enabled)
	return c
}

// =============================================================================
// Recording
// =============================================================================

// RecordInference records one completed inference event. A zero
// timestamp is stamped with the current time.
func (c *Collector) RecordInference(event domain.InferenceEvent) {
	if !c.config.Enabled {
		return
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	if event.CacheTier == "" {
		event.CacheTier = domain.CacheTierNone
	}
	taskType := event.TaskType
	if taskType == "" {
		taskType = "unknown"
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.requestsTotal[requestKey{event.ModelSelected, taskType, string(event.CacheTier)}]++
	c.costTotal[event.ModelSelected] += event.Cost

	c.latencyObs = append(c.latencyObs, observation{event.Timestamp, float64(event.LatencyMs)})
	c.tokenObs = append(c.tokenObs,
		observation{event.Timestamp, float64(event.InputTokens)},
		observation{event.Timestamp, float64(event.OutputTokens)})

	if event.QualityScore != nil {
		c.qualityScores[event.ModelSelected] = append(c.qualityScores[event.ModelSelected], *event.QualityScore)
	}

	c.events = append(c.events, event)
}

// RecordCacheEvent records one cache lookup and refreshes the rolling
// hit-rate gauge for the tier.
func (c *Collector) RecordCacheEvent(tier domain.CacheTier, hit bool, latencyMs float64) {
	if !c.config.Enabled {
		return
	}
	key := string(tier)

	c.mu.Lock()
	defer c.mu.Unlock()

	if hit {
		c.cacheHits[key]++
	} else {
		c.cacheMisses[key]++
	}
	total := c.cacheHits[key] + c.cacheMisses[key]
	if total > 0 {
		c.cacheHitRate[key] = c.cacheHits[key] / total
	}
	c.latencyObs = append(c.latencyObs, observation{time.Now().UTC(), latencyMs})
}

// RecordRoutingDecision records the latency of a routing decision.
func (c *Collector) RecordRoutingDecision(mode domain.RoutingMode, model string, latencyMs float64) {
	if !c.config.Enabled {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.latencyObs = append(c.latencyObs, observation{time.Now().UTC(), latencyMs})
}

// RecordBatchEvent records one executed batch.
func (c *Collector) RecordBatchEvent(batchSize int, savingsPct float64) {
	if !c.config.Enabled {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.batchObs = append(c.batchObs, observation{time.Now().UTC(), float64(batchSize)})
	c.savingsTotal["batching"] += savingsPct
}

// RecordError records one error occurrence.
func (c *Collector) RecordError(errorType, component string) {
	if !c.config.Enabled {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.errorsTotal[errorKey{errorType, component}]++
}

// RecordSavings records dollar savings attributed to a phase.
func (c *Collector) RecordSavings(phase string, amount float64) {
	if !c.config.Enabled {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.savingsTotal[phase] += amount
}

// =============================================================================
// Typed readers (consumed by analytics, anomaly, forecasting)
// =============================================================================

// Events returns the raw events within the optional time range.
func (c *Collector) Events(since, until time.Time) []domain.InferenceEvent {
	c.mu.Lock()
	events := make([]domain.InferenceEvent, len(c.events))
	copy(events, c.events)
	c.mu.Unlock()

	out := events[:0]
	for _, e := range events {
		if !since.IsZero() && e.Timestamp.Before(since) {
			continue
		}
		if !until.IsZero() && e.Timestamp.After(until) {
			continue
		}
		out = append(out, e)
	}
	return out
}

// LatencySample returns latency values observed since the given time
// (zero = all).
func (c *Collector) LatencySample(since time.Time) []float64 {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]float64, 0, len(c.latencyObs))
	for _, o := range c.latencyObs {
		if since.IsZero() || !o.ts.Before(since) {
			out = append(out, o.value)
		}
	}
	return out
}

// LatencySampleBetween returns latency values in [since, until).
func (c *Collector) LatencySampleBetween(since, until time.Time) []float64 {
	c.mu.Lock()
	defer c.mu.Unlock()

	var out []float64
	for _, o := range c.latencyObs {
		if !o.ts.Before(since) && o.ts.Before(until) {
			out = append(out, o.value)
		}
	}
	return out
}

// CacheStats returns per-tier hit/miss counters.
func (c *Collector) CacheStats() map[string]TierStats {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make(map[string]TierStats)
	for _, tier := range []string{string(domain.CacheTierExact), string(domain.CacheTierSemantic)} {
		hits := c.cacheHits[tier]
		misses := c.cacheMisses[tier]
		stats := TierStats{Hits: hits, Misses: misses}
		if hits+misses > 0 {
			stats.HitRate = hits / (hits + misses)
		}
		out[tier] = stats
	}
	return out
}

// ErrorCounts returns every error counter reading.
func (c *Collector) ErrorCounts() []ErrorCount {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]ErrorCount, 0, len(c.errorsTotal))
	for k, v := range c.errorsTotal {
		out = append(out, ErrorCount{ErrorType: k.errorType, Component: k.component, Count: v})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].ErrorType != out[j].ErrorType {
			return out[i].ErrorType < out[j].ErrorType
		}
		return out[i].Component < out[j].Component
	})
	return out
}

// TotalErrors returns the sum of all error counters.
func (c *Collector) TotalErrors() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	var total float64
	for _, v := range c.errorsTotal {
		total += v
	}
	return total
}

// TotalRequests returns the number of recorded inference events.
func (c *Collector) TotalRequests() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.events)
}

// TotalCost returns the accumulated cost across all events.
func (c *Collector) TotalCost() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	var total float64
	for _, v := range c.costTotal {
		total += v
	}
	return total
}

// QualityScores returns per-model quality score samples.
func (c *Collector) QualityScores() map[string][]float64 {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make(map[string][]float64, len(c.qualityScores))
	for model, scores := range c.qualityScores {
		copied := make([]float64, len(scores))
		copy(copied, scores)
		out[model] = copied
	}
	return out
}

// Summary aggregates the most recent windowMinutes of data.
func (c *Collector) Summary(windowMinutes int) Summary {
	if windowMinutes <= 0 {
		windowMinutes = 60
	}
	cutoff := time.Now().UTC().Add(-time.Duration(windowMinutes) * time.Minute)

	c.mu.Lock()
	var (
		windowEvents    []domain.InferenceEvent
		windowLatencies []float64
	)
	for _, e := range c.events {
		if !e.Timestamp.Before(cutoff) {
			windowEvents = append(windowEvents, e)
		}
	}
	for _, o := range c.latencyObs {
		if !o.ts.Before(cutoff) {
			windowLatencies = append(windowLatencies, o.value)
		}
	}
	var totalErrors float64
	for _, v := range c.errorsTotal {
		totalErrors += v
	}
	var totalHits, totalMisses float64
	for _, v := range c.cacheHits {
		totalHits += v
	}
	for _, v := range c.cacheMisses {
		totalMisses += v
	}
	c.mu.Unlock()

	var totalCost, avgLatency float64
	modelCounts := make(map[string]int)
	for _, e := range windowEvents {
		totalCost += e.Cost
		modelCounts[e.ModelSelected]++
	}
	if len(windowLatencies) > 0 {
		var sum float64
		for _, v := range windowLatencies {
			sum += v
		}
		avgLatency = sum / float64(len(windowLatencies))
	}

	cacheHitRate := 0.0
	if totalHits+totalMisses > 0 {
		cacheHitRate = totalHits / (totalHits + totalMisses)
	}

	return Summary{
		WindowMinutes: windowMinutes,
		TotalRequests: len(windowEvents),
		TotalCost:     totalCost,
		AvgLatencyMs:  avgLatency,
		CacheHitRate:  cacheHitRate,
		ErrorCount:    int(totalErrors),
		TopModels:     topN(modelCounts, 5),
	}
}

// Prune removes event and observation points older than the retention
// horizon, returning the number removed.
func (c *Collector) Prune() int {
	cutoff := time.Now().UTC().Add(-time.Duration(c.config.RetentionHours) * time.Hour)

	c.mu.Lock()
	defer c.mu.Unlock()

	removed := 0
	keepEvents := c.events[:0]
	for _, e := range c.events {
		if e.Timestamp.Before(cutoff) {
			removed++
		} else {
			keepEvents = append(keepEvents, e)
		}
	}
	c.events = keepEvents

	for _, obs := range []*[]observation{&c.latencyObs, &c.tokenObs, &c.batchObs} {
		kept := (*obs)[:0]
		for _, o := range *obs {
			if o.ts.Before(cutoff) {
				removed++
			} else {
				kept = append(kept, o)
			}
		}
		*obs = kept
	}

	if removed > 0 {
		c.logger.Info("pruned old metric points",
			"removed", removed, "retention_hours", c.config.RetentionHours)
	}
	return removed
}

// PrometheusText renders all metrics in the Prometheus text exposition
// format, suitable for a /metrics endpoint.
func (c *Collector) PrometheusText() (string, error) {
	reg := prometheus.NewRegistry()
	if err := reg.Register(c); err != nil {
		return "", domain.WrapError(domain.ErrObservability, err, "registering collector")
	}
	families, err := reg.Gather()
	if err != nil {
		return "", domain.WrapError(domain.ErrObservability, err, "gathering metrics")
	}

	var buf bytes.Buffer
	enc := expfmt.NewEncoder(&buf, expfmt.NewFormat(expfmt.TypeTextPlain))
	for _, mf := range families {
		if err := enc.Encode(mf); err != nil {
			return "", domain.WrapError(domain.ErrObservability, err, "encoding metrics")
		}
	}
	return buf.String(), nil
}

func topN(counts map[string]int, n int) map[string]int {
	type pair struct {
		key   string
		count int
	}
	pairs := make([]pair, 0, len(counts))
	for k, v := range counts {
		pairs = append(pairs, pair{k, v})
	}
	sort.Slice(pairs, func(i, j int) bool {
		if pairs[i].count != pairs[j].count {
			return pairs[i].count > pairs[j].count
		}
		return pairs[i].key < pairs[j].key
	})
	if len(pairs) > n {
		pairs = pairs[:n]
	}
	out := make(map[string]int, len(pairs))
	for _, p := range pairs {
		out[p.key] = p.count
	}
	return out
}
