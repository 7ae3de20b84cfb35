package batching

import (
	"fmt"
	"log/slog"

	"asahi/internal/config"
	"asahi/internal/registry"
)

// Eligibility is the result of batch eligibility evaluation.
type Eligibility struct {
	Eligible   bool
	Reason     string
	BatchGroup string // "task:model"; empty when ineligible
	MaxWaitMs  int
}

// Engine decides whether a request may be coalesced with others and
// which batch group it belongs to, based on latency budget, task type,
// and prompt size relative to model capacity.
type Engine struct {
	config   config.BatchingConfig
	registry *registry.Registry
	eligible map[string]bool
	logger   *slog.Logger
}

// NewEngine creates a batch engine.
func NewEngine(cfg config.BatchingConfig, reg *registry.Registry) *Engine {
	eligible := make(map[string]bool, len(cfg.EligibleTaskTypes))
	for _, t := range cfg.EligibleTaskTypes {
		eligible[t] = true
	}
	e := &Engine{
		config:   cfg,
		registry: reg,
		eligible: eligible,
		logger:   slog.Default(),
	}
	e.logger.Info("batch engine initialised",
		"max_batch_size", cfg.MaxBatchSize,
		"max_wait_ms", cfg.MaxWaitMs,
		"eligible_tasks", cfg.EligibleTaskTypes)
	return e
}

// Evaluate applies the eligibility rules in order: latency budget, task
// type, prompt size. A budget at or below the threshold never batches.
func (e *Engine) Evaluate(prompt, taskType, model string, latencyBudgetMs int) Eligibility {
	if latencyBudgetMs <= e.config.LatencyThresholdMs {
		e.logger.Debug("request ineligible: latency budget too tight",
			"latency_budget_ms", latencyBudgetMs,
			"threshold_ms", e.config.LatencyThresholdMs)
		return Eligibility{
			Reason: fmt.Sprintf("latency budget %dms is at or below threshold %dms",
				latencyBudgetMs, e.config.LatencyThresholdMs),
		}
	}

	if !e.eligible[taskType] {
		e.logger.Debug("request ineligible: task type not batchable",
			"task_type", taskType)
		return Eligibility{
			Reason: fmt.Sprintf("task type %q is not eligible for batching; eligible: %v",
				taskType, e.config.EligibleTaskTypes),
		}
	}

	tokenCount := registry.EstimateTokens(prompt)
	if maxInput, ok := e.maxInputTokens(model); ok {
		perRequestLimit := maxInput / e.config.MaxBatchSize
		if tokenCount > perRequestLimit {
			e.logger.Debug("request ineligible: prompt too large for batching",
				"token_count", tokenCount,
				"per_request_limit", perRequestLimit,
				"model", model)
			return Eligibility{
				Reason: fmt.Sprintf("prompt token count (%d) exceeds per-request batch limit (%d) for model %q",
					tokenCount, perRequestLimit, model),
			}
		}
	}

	group := taskType + ":" + model
	maxWait := latencyBudgetMs - e.estimateInferenceMs(model)
	if maxWait > e.config.MaxWaitMs {
		maxWait = e.config.MaxWaitMs
	}
	if maxWait < 0 {
		maxWait = 0
	}

	e.logger.Info("request eligible for batching",
		"batch_group", group, "max_wait_ms", maxWait, "token_count", tokenCount)

	return Eligibility{
		Eligible:   true,
		Reason:     "request is eligible for batching",
		BatchGroup: group,
		MaxWaitMs:  maxWait,
	}
}

func (e *Engine) maxInputTokens(model string) (int, bool) {
	if e.registry == nil {
		return 0, false
	}
	profile, err := e.registry.Get(model)
	if err != nil {
		e.logger.Warn("could not look up model capacity; skipping token check", "model", model)
		return 0, false
	}
	return profile.MaxInputTokens, true
}

// estimateInferenceMs falls back to a conservative default when the
// model is unknown.
func (e *Engine) estimateInferenceMs(model string) int {
	if e.registry == nil {
		return 100
	}
	profile, err := e.registry.Get(model)
	if err != nil {
		return 100
	}
	return profile.AvgLatencyMs
}
