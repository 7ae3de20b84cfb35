package observability

import (
	"fmt"
	"log/slog"
	"math"
	"sort"
	"time"

	"asahi/internal/config"
	"asahi/internal/telemetry"
)

// Severity of a detected anomaly.
type Severity string

const (
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// Anomaly is a detected deviation from the rolling baseline.
type Anomaly struct {
	AnomalyType   string    `json:"anomaly_type"`
	Severity      Severity  `json:"severity"`
	MetricName    string    `json:"metric_name"`
	CurrentValue  float64   `json:"current_value"`
	ExpectedValue float64   `json:"expected_value"`
	DeviationPct  float64   `json:"deviation_pct"`
	Message       string    `json:"message"`
	DetectedAt    time.Time `json:"detected_at"`
}

// Detector compares the last hour against the rolling baseline window
// and raises anomalies when configured multipliers are exceeded.
type Detector struct {
	analytics *Analytics
	collector *telemetry.Collector
	config    config.AnomalyConfig
	logger    *slog.Logger
}

// NewDetector creates an anomaly detector.
func NewDetector(analytics *Analytics, collector *telemetry.Collector, cfg config.AnomalyConfig) *Detector {
	if cfg.RollingWindowHours <= 0 {
		cfg.RollingWindowHours = 24
	}
	return &Detector{
		analytics: analytics,
		collector: collector,
		config:    cfg,
		logger:    slog.Default(),
	}
}

// Check runs every detector and returns any findings.
func (d *Detector) Check() []Anomaly {
	var anomalies []Anomaly
	for _, check := range []func() *Anomaly{
		d.CheckCost,
		d.CheckLatency,
		d.CheckErrorRate,
		d.CheckCachePerformance,
		d.CheckQuality,
	} {
		if a := check(); a != nil {
			anomalies = append(anomalies, *a)
		}
	}
	if len(anomalies) > 0 {
		d.logger.Warn("anomalies detected", "count", len(anomalies))
	}
	return anomalies
}

// CheckCost compares the last hour's average cost per request to the
// rolling baseline average.
func (d *Detector) CheckCost() *Anomaly {
	now := time.Now().UTC()
	recentStart := now.Add(-time.Hour)
	windowStart := now.Add(-time.Duration(d.config.RollingWindowHours) * time.Hour)
	baselineEvents := d.collector.Events(windowStart, recentStart)
	recentEvents := d.collector.Events(recentStart, time.Time{})

	if len(baselineEvents) == 0 || len(recentEvents) == 0 {
		return nil
	}

	var baselineSum, recentSum float64
	for _, e := range baselineEvents {
		baselineSum += e.Cost
	}
	for _, e := range recentEvents {
		recentSum += e.Cost
	}
	baselineAvg := baselineSum / float64(len(baselineEvents))
	recentAvg := recentSum / float64(len(recentEvents))

	if baselineAvg <= 0 {
		return nil
	}

	ratio := recentAvg / baselineAvg
	if ratio < d.config.CostSpikeThreshold {
		return nil
	}

	severity := SeverityWarning
	if ratio >= d.config.CostSpikeThreshold*1.5 {
		severity = SeverityCritical
	}
	return &Anomaly{
		AnomalyType:   "cost_spike",
		Severity:      severity,
		MetricName:    "asahi_cost_dollars_total",
		CurrentValue:  round6(recentAvg),
		ExpectedValue: round6(baselineAvg),
		DeviationPct:  round2((ratio - 1) * 100),
		Message: fmt.Sprintf("Average request cost ($%.4f) is %.1fx the baseline ($%.4f).",
			recentAvg, ratio, baselineAvg),
		DetectedAt: now,
	}
}

// CheckLatency compares p95 latency of the last hour against the older
// part of the rolling window.
func (d *Detector) CheckLatency() *Anomaly {
	now := time.Now().UTC()
	windowStart := now.Add(-time.Duration(d.config.RollingWindowHours) * time.Hour)
	recentStart := now.Add(-time.Hour)

	baseline := d.collector.LatencySampleBetween(windowStart, recentStart)
	recent := d.collector.LatencySample(recentStart)

	if len(baseline) < 5 || len(recent) < 3 {
		return nil
	}

	baselineP95 := samplePercentile(baseline, 95)
	recentP95 := samplePercentile(recent, 95)
	if baselineP95 <= 0 {
		return nil
	}

	ratio := recentP95 / baselineP95
	if ratio < d.config.LatencySpikeThreshold {
		return nil
	}

	severity := SeverityWarning
	if ratio >= d.config.LatencySpikeThreshold*1.5 {
		severity = SeverityCritical
	}
	return &Anomaly{
		AnomalyType:   "latency_spike",
		Severity:      severity,
		MetricName:    "asahi_latency_ms",
		CurrentValue:  round2(recentP95),
		ExpectedValue: round2(baselineP95),
		DeviationPct:  round2((ratio - 1) * 100),
		Message: fmt.Sprintf("P95 latency (%.0fms) is %.1fx the baseline (%.0fms).",
			recentP95, ratio, baselineP95),
		DetectedAt: now,
	}
}

// CheckErrorRate computes errors / total requests against the
// configured threshold.
func (d *Detector) CheckErrorRate() *Anomaly {
	totalRequests := d.collector.TotalRequests()
	if totalRequests == 0 {
		return nil
	}

	errorRate := d.collector.TotalErrors() / float64(totalRequests)
	if errorRate < d.config.ErrorRateThreshold {
		return nil
	}

	deviation := (errorRate - d.config.ErrorRateThreshold) /
		math.Max(d.config.ErrorRateThreshold, 0.001) * 100
	severity := SeverityWarning
	if errorRate >= d.config.ErrorRateThreshold*5 {
		severity = SeverityCritical
	}
	return &Anomaly{
		AnomalyType:   "error_rate",
		Severity:      severity,
		MetricName:    "asahi_errors_total",
		CurrentValue:  round4(errorRate),
		ExpectedValue: round4(d.config.ErrorRateThreshold),
		DeviationPct:  round2(deviation),
		Message: fmt.Sprintf("Error rate (%.2f%%) exceeds threshold (%.2f%%).",
			errorRate*100, d.config.ErrorRateThreshold*100),
		DetectedAt: time.Now().UTC(),
	}
}

// CheckCachePerformance compares the overall hit rate against the 50%
// baseline expectation.
func (d *Detector) CheckCachePerformance() *Anomaly {
	perf := d.analytics.CachePerformance()

	var totalOps float64
	for _, s := range perf.Tiers {
		totalOps += s.Hits + s.Misses
	}
	if totalOps == 0 {
		return nil
	}

	const baselineHitRate = 0.5
	drop := baselineHitRate - perf.OverallHitRate
	dropFraction := drop / baselineHitRate

	if dropFraction < d.config.CacheDegradationThreshold {
		return nil
	}

	severity := SeverityWarning
	if dropFraction >= 0.75 {
		severity = SeverityCritical
	}
	return &Anomaly{
		AnomalyType:   "cache_degradation",
		Severity:      severity,
		MetricName:    "asahi_cache_hit_rate",
		CurrentValue:  round4(perf.OverallHitRate),
		ExpectedValue: baselineHitRate,
		DeviationPct:  round2(dropFraction * 100),
		Message: fmt.Sprintf("Cache hit rate (%.1f%%) has dropped %.0f%% from baseline (%.1f%%).",
			perf.OverallHitRate*100, dropFraction*100, baselineHitRate*100),
		DetectedAt: time.Now().UTC(),
	}
}

// CheckQuality compares the most recent quarter of quality scores
// against the overall average.
func (d *Detector) CheckQuality() *Anomaly {
	var allScores []float64
	for _, scores := range d.collector.QualityScores() {
		allScores = append(allScores, scores...)
	}
	if len(allScores) < 5 {
		return nil
	}

	var sum float64
	for _, s := range allScores {
		sum += s
	}
	overallAvg := sum / float64(len(allScores))

	recentCount := len(allScores) / 4
	if recentCount < 1 {
		recentCount = 1
	}
	recent := allScores[len(allScores)-recentCount:]
	var recentSum float64
	for _, s := range recent {
		recentSum += s
	}
	recentAvg := recentSum / float64(len(recent))

	drop := overallAvg - recentAvg
	if drop < d.config.QualityDropThreshold {
		return nil
	}

	deviation := 0.0
	if overallAvg > 0 {
		deviation = drop / overallAvg * 100
	}
	severity := SeverityWarning
	if drop >= d.config.QualityDropThreshold*2 {
		severity = SeverityCritical
	}
	return &Anomaly{
		AnomalyType:   "quality_degradation",
		Severity:      severity,
		MetricName:    "asahi_quality_score",
		CurrentValue:  round4(recentAvg),
		ExpectedValue: round4(overallAvg),
		DeviationPct:  round2(deviation),
		Message: fmt.Sprintf("Recent quality (%.2f) has dropped %.2f points from the average (%.2f).",
			recentAvg, drop, overallAvg),
		DetectedAt: time.Now().UTC(),
	}
}

func samplePercentile(values []float64, pct float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sorted := make([]float64, len(values))
	copy(sorted, values)
	sort.Float64s(sorted)
	idx := int(pct/100*float64(len(sorted))) - 1
	if idx < 0 {
		idx = 0
	}
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}

func round2(v float64) float64 { return math.Round(v*100) / 100 }
func round4(v float64) float64 { return math.Round(v*1e4) / 1e4 }
