// Package observability builds analytical views, anomaly detection, and
// cost forecasting on top of the telemetry collector's typed readers.
package observability

import (
	"log/slog"
	"math"
	"sort"
	"time"

	"asahi/internal/domain"
	"asahi/internal/telemetry"
)

// BaselineRates are the counterfactual prices used to compare actual
// spend against an all-GPT-4 deployment.
type BaselineRates struct {
	InputPerK  float64
	OutputPerK float64
	Model      string
}

// DefaultBaselineRates returns the GPT-4 comparison rates.
func DefaultBaselineRates() BaselineRates {
	return BaselineRates{InputPerK: 0.010, OutputPerK: 0.030, Model: "gpt-4"}
}

// TrendPoint is one bucket of a time-series trend.
type TrendPoint struct {
	Timestamp time.Time `json:"timestamp"`
	Value     float64   `json:"value"`
}

// BaselineComparison is the result of the all-GPT-4 counterfactual.
type BaselineComparison struct {
	BaselineCost          float64 `json:"baseline_cost"`
	ActualCost            float64 `json:"actual_cost"`
	Savings               float64 `json:"savings"`
	SavingsPct            float64 `json:"savings_pct"`
	BaselineModel         string  `json:"baseline_model"`
	CacheContributionPct  float64 `json:"cache_contribution_pct"`
}

// CostDriver is one (model, task) group ranked by total cost.
type CostDriver struct {
	Model        string  `json:"model"`
	TaskType     string  `json:"task_type"`
	TotalCost    float64 `json:"total_cost"`
	RequestCount int     `json:"request_count"`
	AvgCost      float64 `json:"avg_cost"`
}

// CachePerformance is the per-tier and overall cache view.
type CachePerformance struct {
	Tiers          map[string]telemetry.TierStats `json:"tiers"`
	OverallHitRate float64                        `json:"overall_hit_rate"`
}

// Percentiles are latency percentiles by sort-and-index.
type Percentiles struct {
	P50 float64 `json:"p50"`
	P75 float64 `json:"p75"`
	P90 float64 `json:"p90"`
	P95 float64 `json:"p95"`
	P99 float64 `json:"p99"`
}

// Analytics runs analytical queries over collected metrics.
type Analytics struct {
	collector *telemetry.Collector
	baseline  BaselineRates
	logger    *slog.Logger
}

// NewAnalytics creates an analytics engine over a collector.
func NewAnalytics(collector *telemetry.Collector, baseline BaselineRates) *Analytics {
	if baseline.InputPerK == 0 && baseline.OutputPerK == 0 {
		baseline = DefaultBaselineRates()
	}
	return &Analytics{collector: collector, baseline: baseline, logger: slog.Default()}
}

// CostBreakdown sums cost over the period grouped by "model",
// "task_type", "user", or "tier".
func (a *Analytics) CostBreakdown(period, groupBy string) (map[string]float64, error) {
	since, err := periodStart(period)
	if err != nil {
		return nil, err
	}

	breakdown := make(map[string]float64)
	for _, e := range a.collector.Events(since, time.Time{}) {
		var key string
		switch groupBy {
		case "model", "":
			key = e.ModelSelected
		case "task_type":
			key = e.TaskType
		case "user":
			key = e.UserID
		case "tier":
			key = string(e.CacheTier)
		default:
			return nil, domain.NewError(domain.ErrObservability, "unsupported group_by %q", groupBy)
		}
		if key == "" {
			key = "unknown"
		}
		breakdown[key] += e.Cost
	}
	for k, v := range breakdown {
		breakdown[k] = round6(v)
	}
	return breakdown, nil
}

// Trend divides the period into intervals buckets and aggregates the
// requested metric in each: "cost", "requests", "latency", or
// "cache_hit_rate".
func (a *Analytics) Trend(metric, period string, intervals int) ([]TrendPoint, error) {
	switch metric {
	case "cost", "requests", "latency", "cache_hit_rate":
	default:
		return nil, domain.NewError(domain.ErrObservability,
			"unsupported trend metric %q; choose cost, requests, latency, or cache_hit_rate", metric)
	}
	if intervals <= 0 {
		intervals = 30
	}

	since, err := periodStart(period)
	if err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	bucket := now.Sub(since) / time.Duration(intervals)

	events := a.collector.Events(since, time.Time{})

	points := make([]TrendPoint, 0, intervals)
	for i := 0; i < intervals; i++ {
		start := since.Add(bucket * time.Duration(i))
		end := start.Add(bucket)

		var value float64
		switch metric {
		case "cost":
			for _, e := range events {
				if !e.Timestamp.Before(start) && e.Timestamp.Before(end) {
					value += e.Cost
				}
			}
		case "requests":
			for _, e := range events {
				if !e.Timestamp.Before(start) && e.Timestamp.Before(end) {
					value++
				}
			}
		case "latency":
			sample := a.collector.LatencySampleBetween(start, end)
			if len(sample) > 0 {
				var sum float64
				for _, v := range sample {
					sum += v
				}
				value = sum / float64(len(sample))
			}
		case "cache_hit_rate":
			perf := a.CachePerformance()
			value = perf.OverallHitRate
		}

		points = append(points, TrendPoint{Timestamp: start, Value: round6(value)})
	}
	return points, nil
}

// CompareToBaseline computes the savings of the actual deployment
// against routing every request to the baseline model.
func (a *Analytics) CompareToBaseline() BaselineComparison {
	events := a.collector.Events(time.Time{}, time.Time{})

	var actualCost, baselineCost, cacheSavings float64
	for _, e := range events {
		actualCost += e.Cost
		baselineCost += (float64(e.InputTokens)*a.baseline.InputPerK +
			float64(e.OutputTokens)*a.baseline.OutputPerK) / 1000
		if e.CacheTier != domain.CacheTierNone {
			cacheSavings += e.Cost
		}
	}

	savings := baselineCost - actualCost
	savingsPct := 0.0
	if baselineCost > 0 {
		savingsPct = savings / baselineCost * 100
	}
	cacheContribution := 0.0
	if savings > 0 {
		cacheContribution = cacheSavings / savings * 100
	}

	result := BaselineComparison{
		BaselineCost:         round6(baselineCost),
		ActualCost:           round6(actualCost),
		Savings:              round6(savings),
		SavingsPct:           math.Round(savingsPct*100) / 100,
		BaselineModel:        a.baseline.Model,
		CacheContributionPct: math.Round(cacheContribution*100) / 100,
	}
	a.logger.Info("baseline comparison computed", "savings_pct", result.SavingsPct)
	return result
}

// TopCostDrivers returns the highest-cost (model, task) groups.
func (a *Analytics) TopCostDrivers(limit int) []CostDriver {
	if limit <= 0 {
		limit = 10
	}

	groups := make(map[string]*CostDriver)
	for _, e := range a.collector.Events(time.Time{}, time.Time{}) {
		taskType := e.TaskType
		if taskType == "" {
			taskType = "unknown"
		}
		key := e.ModelSelected + ":" + taskType
		g, ok := groups[key]
		if !ok {
			g = &CostDriver{Model: e.ModelSelected, TaskType: taskType}
			groups[key] = g
		}
		g.TotalCost += e.Cost
		g.RequestCount++
	}

	out := make([]CostDriver, 0, len(groups))
	for _, g := range groups {
		g.TotalCost = round6(g.TotalCost)
		if g.RequestCount > 0 {
			g.AvgCost = round6(g.TotalCost / float64(g.RequestCount))
		}
		out = append(out, *g)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TotalCost > out[j].TotalCost })
	if len(out) > limit {
		out = out[:limit]
	}
	return out
}

// CachePerformance returns per-tier and overall cache statistics.
func (a *Analytics) CachePerformance() CachePerformance {
	stats := a.collector.CacheStats()

	var totalHits, totalMisses float64
	for _, s := range stats {
		totalHits += s.Hits
		totalMisses += s.Misses
	}
	overall := 0.0
	if totalHits+totalMisses > 0 {
		overall = totalHits / (totalHits + totalMisses)
	}
	return CachePerformance{Tiers: stats, OverallHitRate: math.Round(overall*1e4) / 1e4}
}

// LatencyPercentiles computes latency percentiles across all
// observations.
func (a *Analytics) LatencyPercentiles() Percentiles {
	values := a.collector.LatencySample(time.Time{})
	if len(values) == 0 {
		return Percentiles{}
	}
	sort.Float64s(values)
	return Percentiles{
		P50: percentile(values, 50),
		P75: percentile(values, 75),
		P90: percentile(values, 90),
		P95: percentile(values, 95),
		P99: percentile(values, 99),
	}
}

// percentile computes a percentile by sort-and-index over an already
// sorted slice.
func percentile(sorted []float64, pct float64) float64 {
	if len(sorted) == 0 {
		return 0
	}
	idx := int(pct/100*float64(len(sorted))) - 1
	if idx < 0 {
		idx = 0
	}
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return math.Round(sorted[idx]*100) / 100
}

func periodStart(period string) (time.Time, error) {
	now := time.Now().UTC()
	switch period {
	case "hour":
		return now.Add(-time.Hour), nil
	case "day":
		return now.Add(-24 * time.Hour), nil
	case "week":
		return now.Add(-7 * 24 * time.Hour), nil
	case "month":
		return now.Add(-30 * 24 * time.Hour), nil
	default:
		return time.Time{}, domain.NewError(domain.ErrObservability,
			"unknown period %q; choose hour, day, week, or month", period)
	}
}

func round6(v float64) float64 {
	return math.Round(v*1e6) / 1e6
}
