// Package semantic implements the Tier-2 cache: embedding-based reuse
// of prior responses for sufficiently similar prompts, gated by an
// economic admission rule.
package semantic

import (
	"log/slog"
	"sync"

	"asahi/internal/domain"
)

// Cost sensitivity levels. "high" caches aggressively (lower
// thresholds); "low" caches conservatively (higher thresholds).
const (
	SensitivityHigh   = "high"
	SensitivityMedium = "medium"
	SensitivityLow    = "low"
)

// defaultThresholds maps task type -> sensitivity -> similarity
// threshold. High-stakes tasks (coding, legal) get stricter thresholds.
func defaultThresholds() map[string]map[string]float64 {
	return map[string]map[string]float64{
		"faq":           {SensitivityHigh: 0.70, SensitivityMedium: 0.80, SensitivityLow: 0.90},
		"summarization": {SensitivityHigh: 0.80, SensitivityMedium: 0.85, SensitivityLow: 0.92},
		"reasoning":     {SensitivityHigh: 0.85, SensitivityMedium: 0.90, SensitivityLow: 0.95},
		"coding":        {SensitivityHigh: 0.90, SensitivityMedium: 0.93, SensitivityLow: 0.97},
		"legal":         {SensitivityHigh: 0.88, SensitivityMedium: 0.92, SensitivityLow: 0.96},
		"default":       {SensitivityHigh: 0.80, SensitivityMedium: 0.85, SensitivityLow: 0.92},
	}
}

// ThresholdTuner selects the similarity threshold per task type and
// cost sensitivity. Thresholds can be updated at runtime.
type ThresholdTuner struct {
	mu         sync.RWMutex
	thresholds map[string]map[string]float64
	logger     *slog.Logger
}

// NewThresholdTuner creates a tuner with the default threshold table.
func NewThresholdTuner() *ThresholdTuner {
	return &ThresholdTuner{
		thresholds: defaultThresholds(),
		logger:     slog.Default(),
	}
}

// Threshold returns the similarity threshold for a task and sensitivity,
// falling back through the default row and medium column.
func (t *ThresholdTuner) Threshold(taskType, sensitivity string) float64 {
	t.mu.RLock()
	defer t.mu.RUnlock()

	row, ok := t.thresholds[taskType]
	if !ok {
		row = t.thresholds["default"]
	}
	if v, ok := row[sensitivity]; ok {
		return v
	}
	if v, ok := row[SensitivityMedium]; ok {
		return v
	}
	return 0.85
}

// UpdateThreshold changes one threshold at runtime.
func (t *ThresholdTuner) UpdateThreshold(taskType, sensitivity string, value float64) error {
	if value < 0 || value > 1 {
		return domain.ValidationError("threshold", "threshold must be in [0.0, 1.0], got %v", value)
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.thresholds[taskType]; !ok {
		row := make(map[string]float64, 3)
		for k, v := range t.thresholds["default"] {
			row[k] = v
		}
		t.thresholds[taskType] = row
	}
	t.thresholds[taskType][sensitivity] = value

	t.logger.Info("threshold updated",
		"task_type", taskType, "cost_sensitivity", sensitivity, "new_threshold", value)
	return nil
}
