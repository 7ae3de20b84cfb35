package routing

import (
	"log/slog"
	"sort"

	"asahi/internal/domain"
)

// qualityMap maps quality preferences to minimum quality scores.
var qualityMap = map[string]float64{
	"low":    3.0,
	"medium": 3.5,
	"high":   4.0,
	"max":    4.5,
}

// latencyMap maps latency preferences to latency budgets in ms.
var latencyMap = map[string]int{
	"slow":    2000,
	"normal":  500,
	"fast":    300,
	"instant": 150,
}

// taskOverride is a per-task constraint floor/ceiling.
type taskOverride struct {
	minQuality   float64
	maxLatencyMs int
}

// taskOverrides raise the quality floor and tighten the latency budget
// for tasks that demand it.
var taskOverrides = map[string]taskOverride{
	"coding":    {minQuality: 4.0, maxLatencyMs: 500},
	"reasoning": {minQuality: 4.0, maxLatencyMs: 500},
	"legal":     {minQuality: 4.2, maxLatencyMs: 2000},
}

// ConstraintInterpreter converts human-friendly preferences into
// numeric routing constraints, applying task-type overrides afterwards.
type ConstraintInterpreter struct {
	logger *slog.Logger
}

// NewConstraintInterpreter creates an interpreter.
func NewConstraintInterpreter() *ConstraintInterpreter {
	return &ConstraintInterpreter{logger: slog.Default()}
}

// Interpret resolves preferences (defaulting to medium/normal) into
// constraints. Unknown preference values fail with a validation error.
func (ci *ConstraintInterpreter) Interpret(qualityPreference, latencyPreference, taskType string) (domain.RoutingConstraints, error) {
	qualityPref := qualityPreference
	if qualityPref == "" {
		qualityPref = "medium"
	}
	qualityThreshold, ok := qualityMap[qualityPref]
	if !ok {
		return domain.RoutingConstraints{}, domain.ValidationError("quality_preference",
			"invalid quality_preference %q; allowed: %v", qualityPref, sortedKeys(qualityMap))
	}

	latencyPref := latencyPreference
	if latencyPref == "" {
		latencyPref = "normal"
	}
	latencyBudgetMs, ok := latencyMap[latencyPref]
	if !ok {
		return domain.RoutingConstraints{}, domain.ValidationError("latency_preference",
			"invalid latency_preference %q; allowed: %v", latencyPref, sortedKeys(latencyMap))
	}

	if override, ok := taskOverrides[taskType]; ok {
		if override.minQuality > qualityThreshold {
			qualityThreshold = override.minQuality
		}
		if override.maxLatencyMs < latencyBudgetMs {
			latencyBudgetMs = override.maxLatencyMs
		}
		ci.logger.Debug("task-type override applied",
			"task_type", taskType,
			"quality_threshold", qualityThreshold,
			"latency_budget_ms", latencyBudgetMs)
	}

	return domain.RoutingConstraints{
		QualityThreshold: qualityThreshold,
		LatencyBudgetMs:  latencyBudgetMs,
	}, nil
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
