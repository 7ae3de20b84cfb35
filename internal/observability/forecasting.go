package observability

import (
	"fmt"
	"log/slog"
	"math"
	"sort"
	"time"

	"asahi/internal/config"
)

// Trend direction of a time series.
type Trend string

const (
	TrendIncreasing Trend = "increasing"
	TrendDecreasing Trend = "decreasing"
	TrendStable     Trend = "stable"
)

// Forecast is a cost prediction with confidence bounds.
type Forecast struct {
	Period         string  `json:"period"`
	PredictedCost  float64 `json:"predicted_cost"`
	ConfidenceLow  float64 `json:"confidence_low"`
	ConfidenceHigh float64 `json:"confidence_high"`
	Trend          Trend   `json:"trend"`
	Warning        string  `json:"warning,omitempty"`
}

// Forecaster predicts future costs from historical daily totals. Short
// horizons use an exponential moving average; longer horizons use
// ordinary least squares regression. Confidence intervals scale with
// the z-score and the standard deviation of daily costs.
type Forecaster struct {
	analytics *Analytics
	config    config.ForecastConfig
	logger    *slog.Logger
}

// NewForecaster creates a forecasting model.
func NewForecaster(analytics *Analytics, cfg config.ForecastConfig) *Forecaster {
	if cfg.EMASpanDays <= 0 {
		cfg.EMASpanDays = 7
	}
	if cfg.MinDataPoints <= 0 {
		cfg.MinDataPoints = 3
	}
	return &Forecaster{analytics: analytics, config: cfg, logger: slog.Default()}
}

// PredictCost forecasts total cost over the next horizonDays at the
// given confidence level (0-1).
func (f *Forecaster) PredictCost(horizonDays int, confidence float64) Forecast {
	if horizonDays <= 0 {
		horizonDays = 30
	}
	period := fmt.Sprintf("%d days", horizonDays)

	dailyCosts := f.dailyCosts()
	if len(dailyCosts) < f.config.MinDataPoints {
		f.logger.Warn("insufficient data for cost forecast",
			"data_points", len(dailyCosts), "min_required", f.config.MinDataPoints)
		return Forecast{
			Period: period,
			Trend:  TrendStable,
			Warning: fmt.Sprintf("Insufficient data: %d days available, need at least %d.",
				len(dailyCosts), f.config.MinDataPoints),
		}
	}

	var predictedDaily float64
	if horizonDays <= f.config.EMASpanDays {
		predictedDaily = f.ema(dailyCosts)
	} else {
		predictedDaily = linearPredict(dailyCosts, horizonDays)
	}

	predictedTotal := predictedDaily * float64(horizonDays)
	margin := zScore(confidence) * stdDev(dailyCosts) * math.Sqrt(float64(horizonDays))

	trend := f.classifyTrend(dailyCosts)
	warning := ""
	if trend == TrendIncreasing && horizonDays >= 14 {
		warning = fmt.Sprintf("Costs are trending upward. Projected spend over %d days: $%.2f.",
			horizonDays, predictedTotal)
	}

	result := Forecast{
		Period:         period,
		PredictedCost:  round4(predictedTotal),
		ConfidenceLow:  round4(math.Max(0, predictedTotal-margin)),
		ConfidenceHigh: round4(predictedTotal + margin),
		Trend:          trend,
		Warning:        warning,
	}
	f.logger.Info("cost forecast generated",
		"horizon_days", horizonDays,
		"predicted_cost", result.PredictedCost,
		"trend", result.Trend)
	return result
}

// PredictCacheHitRate extrapolates cache hit rates per tier.
func (f *Forecaster) PredictCacheHitRate(horizonDays int) map[string]float64 {
	perf := f.analytics.CachePerformance()

	out := make(map[string]float64, len(perf.Tiers)+1)
	var totalHits, totalOps float64
	for tier, s := range perf.Tiers {
		total := s.Hits + s.Misses
		rate := 0.0
		if total > 0 {
			rate = s.Hits / total
		}
		out[tier] = round4(rate)
		totalHits += s.Hits
		totalOps += total
	}
	overall := 0.0
	if totalOps > 0 {
		overall = totalHits / totalOps
	}
	out["overall"] = round4(overall)
	return out
}

// DetectBudgetRisk returns a warning when projected 30-day spend (or
// its upper confidence bound) exceeds the monthly budget.
func (f *Forecaster) DetectBudgetRisk(monthlyBudget float64) string {
	forecast := f.PredictCost(30, 0.95)
	if forecast.Warning != "" && forecast.PredictedCost == 0 {
		return "" // insufficient data
	}

	if forecast.PredictedCost > monthlyBudget {
		overage := forecast.PredictedCost - monthlyBudget
		return fmt.Sprintf("Projected 30-day spend ($%.2f) exceeds monthly budget ($%.2f) by $%.2f. "+
			"Consider optimising routing or cache settings.",
			forecast.PredictedCost, monthlyBudget, overage)
	}
	if forecast.ConfidenceHigh > monthlyBudget {
		return fmt.Sprintf("Projected spend ($%.2f) is within budget, but worst-case estimate "+
			"($%.2f) exceeds the $%.2f monthly budget.",
			forecast.PredictedCost, forecast.ConfidenceHigh, monthlyBudget)
	}
	return ""
}

// dailyCosts aggregates events into per-day cost totals, oldest first.
func (f *Forecaster) dailyCosts() []float64 {
	events := f.analytics.collector.Events(time.Time{}, time.Time{})
	if len(events) == 0 {
		return nil
	}

	daily := make(map[string]float64)
	for _, e := range events {
		daily[e.Timestamp.Format("2006-01-02")] += e.Cost
	}

	days := make([]string, 0, len(daily))
	for day := range daily {
		days = append(days, day)
	}
	sort.Strings(days)

	out := make([]float64, len(days))
	for i, day := range days {
		out[i] = daily[day]
	}
	return out
}

// ema computes the exponential moving average with alpha = 2/(span+1).
func (f *Forecaster) ema(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	span := f.config.EMASpanDays
	if span > len(values) {
		span = len(values)
	}
	alpha := 2.0 / float64(span+1)
	ema := values[0]
	for _, v := range values[1:] {
		ema = alpha*v + (1-alpha)*ema
	}
	return ema
}

// linearPredict projects the daily value stepsAhead days out via
// ordinary least squares, floored at zero.
func linearPredict(values []float64, stepsAhead int) float64 {
	n := len(values)
	if n < 2 {
		if n == 1 {
			return values[0]
		}
		return 0
	}

	xMean := float64(n-1) / 2
	var yMean float64
	for _, v := range values {
		yMean += v
	}
	yMean /= float64(n)

	var numerator, denominator float64
	for i, v := range values {
		numerator += (float64(i) - xMean) * (v - yMean)
		denominator += (float64(i) - xMean) * (float64(i) - xMean)
	}
	if denominator == 0 {
		return yMean
	}

	slope := numerator / denominator
	intercept := yMean - slope*xMean
	predicted := intercept + slope*float64(n+stepsAhead-1)
	return math.Max(0, predicted)
}

// stdDev computes the sample standard deviation.
func stdDev(values []float64) float64 {
	if len(values) < 2 {
		return 0
	}
	var mean float64
	for _, v := range values {
		mean += v
	}
	mean /= float64(len(values))

	var variance float64
	for _, v := range values {
		variance += (v - mean) * (v - mean)
	}
	variance /= float64(len(values) - 1)
	return math.Sqrt(variance)
}

// classifyTrend uses the regression slope relative to the mean.
func (f *Forecaster) classifyTrend(values []float64) Trend {
	n := len(values)
	if n < 2 {
		return TrendStable
	}

	xMean := float64(n-1) / 2
	var yMean float64
	for _, v := range values {
		yMean += v
	}
	yMean /= float64(n)

	var numerator, denominator float64
	for i, v := range values {
		numerator += (float64(i) - xMean) * (v - yMean)
		denominator += (float64(i) - xMean) * (float64(i) - xMean)
	}
	if denominator == 0 || yMean == 0 {
		return TrendStable
	}

	slope := numerator / denominator
	dailyChangePct := math.Abs(slope/yMean) * 100
	if dailyChangePct < f.config.StableThresholdPct {
		return TrendStable
	}
	if slope > 0 {
		return TrendIncreasing
	}
	return TrendDecreasing
}

// zScore approximates the z-score for common confidence levels.
func zScore(confidence float64) float64 {
	table := map[float64]float64{
		0.80: 1.282,
		0.85: 1.440,
		0.90: 1.645,
		0.95: 1.960,
		0.99: 2.576,
	}
	if z, ok := table[confidence]; ok {
		return z
	}
	closest, bestDiff := 0.95, math.MaxFloat64
	for k := range table {
		if diff := math.Abs(k - confidence); diff < bestDiff {
			closest, bestDiff = k, diff
		}
	}
	return table[closest]
}
