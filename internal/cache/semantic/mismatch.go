package semantic

import (
	"fmt"
	"math"
)

// defaultTaskWeights are the per-task sensitivity weights. Lower weight
// means more aggressive reuse; higher means more conservative.
func defaultTaskWeights() map[string]float64 {
	return map[string]float64{
		"faq":            1.0,
		"summarization":  1.5,
		"general":        1.5,
		"translation":    1.5,
		"classification": 1.0,
		"creative":       2.0,
		"reasoning":      2.5,
		"coding":         3.0,
		"legal":          4.0,
	}
}

// MismatchCalculator evaluates whether reusing a semantically close
// cached response is economically cheaper than recomputing. The core
// formula:
//
//	mismatch_cost = (1 - similarity) * penalty * task_weight * model_cost
//
// The cache entry is used iff the mismatch cost is strictly lower than
// the recompute cost.
type MismatchCalculator struct {
	penaltyWeight float64
	taskWeights   map[string]float64
}

// NewMismatchCalculator creates a calculator with the default global
// penalty (2.0) and task weight table.
func NewMismatchCalculator() *MismatchCalculator {
	return &MismatchCalculator{
		penaltyWeight: 2.0,
		taskWeights:   defaultTaskWeights(),
	}
}

// MismatchCost returns the quality-risk cost in dollars of reusing a
// cached response at the given similarity.
func (m *MismatchCalculator) MismatchCost(similarity float64, taskType string, modelCost float64) float64 {
	weight, ok := m.taskWeights[taskType]
	if !ok {
		weight = m.taskWeights["general"]
	}
	cost := (1 - similarity) * m.penaltyWeight * weight * modelCost
	return math.Round(cost*1e8) / 1e8
}

// ShouldUseCache decides whether to reuse a cached response or
// recompute, returning the decision and a human-readable reason.
func (m *MismatchCalculator) ShouldUseCache(similarity float64, taskType string, recomputeCost float64) (bool, string) {
	mc := m.MismatchCost(similarity, taskType, recomputeCost)

	if mc < recomputeCost {
		return true, fmt.Sprintf(
			"using cache: mismatch cost $%.6f < recompute cost $%.6f (similarity=%.3f, task=%s)",
			mc, recomputeCost, similarity, taskType)
	}
	return false, fmt.Sprintf(
		"recomputing: mismatch cost $%.6f >= recompute cost $%.6f (similarity=%.3f, task=%s)",
		mc, recomputeCost, similarity, taskType)
}
