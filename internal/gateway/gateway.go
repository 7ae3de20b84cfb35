// Package gateway contains the orchestrator that owns a single
// request's lifecycle: cache lookup, constraint interpretation,
// routing, batching or direct execution, cost accounting, and
// telemetry.
package gateway

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"asahi/internal/batching"
	"asahi/internal/cache/exact"
	"asahi/internal/cache/semantic"
	"asahi/internal/config"
	"asahi/internal/domain"
	"asahi/internal/provider"
	"asahi/internal/registry"
	"asahi/internal/resilience"
	"asahi/internal/routing"
	"asahi/internal/telemetry"
)

const (
	maxPromptLength    = 100000
	minLatencyBudgetMs = 50
	maxLatencyBudgetMs = 30000
)

// Gateway composes the request-handling pipeline. It is reentrant:
// many handler goroutines may call Infer concurrently while one batch
// scheduler runs in the background.
type Gateway struct {
	registry    *registry.Registry
	router      *routing.Router
	advRouter   *routing.AdvancedRouter
	detector    *routing.TaskDetector
	interpreter *routing.ConstraintInterpreter

	exactCache    *exact.Cache
	semanticCache *semantic.Cache

	engine    *batching.Engine
	queue     *batching.Queue
	scheduler *batching.Scheduler

	provider      provider.Client
	providerRetry resilience.RetryConfig
	collector     *telemetry.Collector

	routingDefaults config.RoutingConfig
	logger          *slog.Logger
}

// Start launches the background batch scheduler.
func (g *Gateway) Start() error {
	return g.scheduler.Start()
}

// Stop drains the scheduler so every outstanding request resolves.
func (g *Gateway) Stop(timeout time.Duration) {
	g.scheduler.Stop(timeout)
}

// Registry exposes the model catalog.
func (g *Gateway) Registry() *registry.Registry { return g.registry }

// Collector exposes the telemetry aggregator.
func (g *Gateway) Collector() *telemetry.Collector { return g.collector }

// ExactCacheStats returns Tier-1 statistics.
func (g *Gateway) ExactCacheStats(ctx context.Context) exact.Stats {
	return g.exactCache.Stats(ctx)
}

// SemanticCacheStats returns Tier-2 statistics.
func (g *Gateway) SemanticCacheStats(ctx context.Context) semantic.Stats {
	return g.semanticCache.Stats(ctx)
}

// SchedulerStats returns batch scheduler counters.
func (g *Gateway) SchedulerStats() batching.Stats {
	return g.scheduler.Stats()
}

// Infer runs one request through the full pipeline.
func (g *Gateway) Infer(ctx context.Context, req domain.InferenceRequest) (*domain.InferenceResult, error) {
	requestID := uuid.NewString()[:12]
	start := time.Now()

	if err := g.validate(&req); err != nil {
		g.logger.Warn("request rejected", "request_id", requestID, "error", err)
		g.collector.RecordError(string(domain.ErrValidation), "gateway")
		return nil, err
	}

	taskType := req.TaskID
	if taskType == "" {
		taskType = g.detector.Detect(req.Prompt).TaskType
	}

	// Tier 1: exact match.
	t1Start := time.Now()
	if entry := g.exactCache.Get(ctx, req.Prompt, req.TenantID); entry != nil {
		g.collector.RecordCacheEvent(domain.CacheTierExact, true, msSince(t1Start))
		g.collector.RecordSavings("exact_cache", entry.Cost)
		result := &domain.InferenceResult{
			RequestID:     requestID,
			Response:      entry.Response,
			ModelUsed:     entry.Model,
			Cost:          0,
			LatencyMs:     msSince(start),
			CacheTier:     domain.CacheTierExact,
			RoutingReason: "Cache hit (exact match)",
		}
		g.recordEvent(requestID, &req, taskType, entry.Model, domain.CacheTierExact, 0, 0, 0, 0, result.RoutingReason)
		return result, nil
	}
	g.collector.RecordCacheEvent(domain.CacheTierExact, false, msSince(t1Start))

	// Route early so the Tier-2 admission rule can use the selected
	// model's expected cost as the recompute estimate.
	decision, err := g.route(&req, taskType)
	if err != nil {
		g.collector.RecordError(string(domain.Kind(err)), "router")
		return nil, g.withRequestID(err, requestID)
	}
	profile, err := g.registry.Get(decision.ModelName)
	if err != nil {
		g.collector.RecordError(string(domain.ErrModelNotFound), "router")
		return nil, g.withRequestID(err, requestID)
	}
	recomputeCost := estimateRequestCost(profile, req.Prompt)

	// Tier 2: semantic similarity.
	t2Start := time.Now()
	semResult := g.semanticCache.Get(ctx, req.Prompt, taskType, semantic.SensitivityMedium, recomputeCost)
	g.collector.RecordCacheEvent(domain.CacheTierSemantic, semResult.Hit, msSince(t2Start))
	if semResult.Hit {
		g.collector.RecordSavings("semantic_cache", recomputeCost)
		result := &domain.InferenceResult{
			RequestID:     requestID,
			Response:      semResult.Response,
			ModelUsed:     semResult.Model,
			Cost:          0,
			LatencyMs:     msSince(start),
			CacheTier:     domain.CacheTierSemantic,
			RoutingReason: semResult.Reason,
		}
		g.recordEvent(requestID, &req, taskType, semResult.Model, domain.CacheTierSemantic, 0, 0, 0, 0, semResult.Reason)
		return result, nil
	}

	// Batch or direct execution.
	responseText, inputTokens, outputTokens, err := g.execute(ctx, requestID, &req, taskType, &decision)
	if err != nil {
		g.collector.RecordError(string(domain.Kind(err)), "gateway")
		return nil, g.withRequestID(err, requestID)
	}

	// Cost from the actual token counts under the chosen profile. The
	// decision may have switched models during provider fallback.
	finalProfile, err := g.registry.Get(decision.ModelName)
	if err != nil {
		finalProfile = profile
	}
	cost := registry.CalculateCost(finalProfile, inputTokens, outputTokens)

	if _, err := g.exactCache.Set(ctx, req.Prompt, req.TenantID, responseText, decision.ModelName, cost); err != nil {
		g.logger.Warn("exact cache insert rejected", "request_id", requestID, "error", err)
	}
	g.semanticCache.Set(ctx, req.Prompt, responseText, decision.ModelName, cost, taskType)

	totalLatency := msSince(start)
	g.recordEvent(requestID, &req, taskType, decision.ModelName, domain.CacheTierNone,
		inputTokens, outputTokens, int(totalLatency), cost, decision.Reason)

	return &domain.InferenceResult{
		RequestID:     requestID,
		Response:      responseText,
		ModelUsed:     decision.ModelName,
		TokensInput:   inputTokens,
		TokensOutput:  outputTokens,
		Cost:          cost,
		LatencyMs:     totalLatency,
		CacheTier:     domain.CacheTierNone,
		RoutingReason: decision.Reason,
	}, nil
}

// CancelQueued removes a queued request by id. A request already inside
// an executing batch is unaffected; its resolved result is discarded.
func (g *Gateway) CancelQueued(requestID string) bool {
	return g.queue.Remove(requestID)
}

func (g *Gateway) validate(req *domain.InferenceRequest) error {
	if strings.TrimSpace(req.Prompt) == "" {
		return domain.ValidationError("prompt", "prompt must not be empty")
	}
	if len(req.Prompt) > maxPromptLength {
		return domain.ValidationError("prompt", "prompt exceeds %d characters", maxPromptLength)
	}
	if req.LatencyBudgetMs == 0 {
		req.LatencyBudgetMs = g.routingDefaults.DefaultLatencyBudgetMs
	}
	if req.LatencyBudgetMs < minLatencyBudgetMs || req.LatencyBudgetMs > maxLatencyBudgetMs {
		return domain.ValidationError("latency_budget_ms",
			"latency_budget_ms must be in [%d, %d], got %d",
			minLatencyBudgetMs, maxLatencyBudgetMs, req.LatencyBudgetMs)
	}
	if req.QualityThreshold == 0 {
		req.QualityThreshold = g.routingDefaults.DefaultQualityThreshold
	}
	if req.QualityThreshold < 0 || req.QualityThreshold > 5 {
		return domain.ValidationError("quality_threshold",
			"quality_threshold must be in [0, 5], got %v", req.QualityThreshold)
	}
	if req.CostBudget != nil && *req.CostBudget < 0 {
		return domain.ValidationError("cost_budget", "cost_budget must be >= 0")
	}
	return nil
}

// route resolves the request into a routing decision: explicit override
// first, then guided preferences, then the numeric constraints.
func (g *Gateway) route(req *domain.InferenceRequest, taskType string) (domain.RoutingDecision, error) {
	routeStart := time.Now()

	if req.ModelOverride != "" {
		adv, err := g.advRouter.Route(req.Prompt, domain.RoutingModeExplicit, "", "", req.ModelOverride)
		if err != nil {
			return domain.RoutingDecision{}, err
		}
		g.collector.RecordRoutingDecision(domain.RoutingModeExplicit, adv.ModelName, msSince(routeStart))
		return domain.RoutingDecision{
			ModelName: adv.ModelName,
			Score:     adv.Score,
			Reason:    adv.Reason,
		}, nil
	}

	constraints := domain.RoutingConstraints{
		QualityThreshold: req.QualityThreshold,
		LatencyBudgetMs:  req.LatencyBudgetMs,
		CostBudget:       req.CostBudget,
	}
	if req.QualityPreference != "" || req.LatencyPreference != "" {
		interpreted, err := g.interpreter.Interpret(req.QualityPreference, req.LatencyPreference, taskType)
		if err != nil {
			return domain.RoutingDecision{}, err
		}
		interpreted.CostBudget = req.CostBudget
		constraints = interpreted
	}

	decision, err := g.router.SelectModel(constraints)
	if err != nil {
		return domain.RoutingDecision{}, err
	}
	g.collector.RecordRoutingDecision(domain.RoutingModeGuided, decision.ModelName, msSince(routeStart))
	return decision, nil
}

// execute runs the request through the batch path when eligible, or
// directly against the provider otherwise.
func (g *Gateway) execute(ctx context.Context, requestID string, req *domain.InferenceRequest, taskType string, decision *domain.RoutingDecision) (string, int, int, error) {
	eligibility := g.engine.Evaluate(req.Prompt, taskType, decision.ModelName, req.LatencyBudgetMs)

	if eligibility.Eligible && g.scheduler.IsRunning() {
		return g.executeBatched(ctx, requestID, req, decision, eligibility)
	}
	return g.executeDirect(ctx, requestID, req.Prompt, decision)
}

func (g *Gateway) executeBatched(ctx context.Context, requestID string, req *domain.InferenceRequest, decision *domain.RoutingDecision, eligibility batching.Eligibility) (string, int, int, error) {
	now := time.Now().UTC()
	queued := &batching.QueuedRequest{
		RequestID:  requestID,
		Prompt:     req.Prompt,
		Model:      decision.ModelName,
		BatchGroup: eligibility.BatchGroup,
		EnqueuedAt: now,
		Deadline:   now.Add(time.Duration(eligibility.MaxWaitMs) * time.Millisecond),
		Completion: batching.NewCompletion(),
	}
	if err := g.queue.Enqueue(queued); err != nil {
		g.logger.Warn("enqueue failed; executing directly", "request_id", requestID, "error", err)
		return g.executeDirect(ctx, requestID, req.Prompt, decision)
	}

	responseText, err := queued.Completion.Wait(ctx)
	if err != nil {
		if ctx.Err() != nil {
			// Caller abandoned its wait; the scheduler still resolves the
			// handle when the batch completes.
			g.queue.Remove(requestID)
			return "", 0, 0, domain.WrapError(domain.ErrBatching, err, "caller abandoned batched request")
		}
		return "", 0, 0, err
	}

	inputTokens := registry.EstimateTokens(req.Prompt)
	outputTokens := registry.EstimateTokens(responseText)
	return responseText, inputTokens, outputTokens, nil
}

// executeDirect calls the provider with retries, then one cross-model
// fallback to the highest-quality available model before surfacing the
// error. The decision is updated in place when the fallback serves.
func (g *Gateway) executeDirect(ctx context.Context, requestID, prompt string, decision *domain.RoutingDecision) (string, int, int, error) {
	completion, err := g.callWithRetries(ctx, decision.ModelName, prompt)
	if err == nil {
		return completion.Text, completion.InputTokens, completion.OutputTokens, nil
	}

	g.logger.Warn("primary model failed, attempting fallback",
		"request_id", requestID, "failed_model", decision.ModelName, "error", err)

	fallback, fbErr := g.router.HighestQualityAvailable(decision.ModelName)
	if fbErr != nil {
		return "", 0, 0, domain.WrapError(domain.ErrProvider, err,
			"provider call failed for %s and no fallback model exists", decision.ModelName)
	}

	completion, retryErr := g.callWithRetries(ctx, fallback.Name, prompt)
	if retryErr != nil {
		return "", 0, 0, domain.WrapError(domain.ErrProvider, retryErr,
			"provider call failed for %s and fallback %s", decision.ModelName, fallback.Name)
	}

	*decision = domain.RoutingDecision{
		ModelName:    fallback.Name,
		Reason:       "Fallback after " + decision.ModelName + " failed",
		FallbackUsed: true,
	}
	return completion.Text, completion.InputTokens, completion.OutputTokens, nil
}

func (g *Gateway) callWithRetries(ctx context.Context, model, prompt string) (*provider.Completion, error) {
	var completion *provider.Completion
	err := resilience.Retry(ctx, g.providerRetry, func() error {
		out, err := g.provider.Complete(ctx, model, prompt)
		if err != nil {
			return err
		}
		completion = out
		return nil
	})
	if err != nil {
		return nil, domain.WrapError(domain.ErrProvider, err, "provider call failed for %s", model)
	}
	return completion, nil
}

func (g *Gateway) recordEvent(requestID string, req *domain.InferenceRequest, taskType, model string, tier domain.CacheTier, inputTokens, outputTokens, latencyMs int, cost float64, reason string) {
	g.collector.RecordInference(domain.InferenceEvent{
		RequestID:     requestID,
		Timestamp:     time.Now().UTC(),
		TenantID:      req.TenantID,
		UserID:        req.UserID,
		TaskType:      taskType,
		ModelSelected: model,
		CacheTier:     tier,
		InputTokens:   inputTokens,
		OutputTokens:  outputTokens,
		TotalTokens:   inputTokens + outputTokens,
		LatencyMs:     latencyMs,
		Cost:          cost,
		RoutingReason: reason,
	})
}

func (g *Gateway) withRequestID(err error, requestID string) error {
	var de *domain.Error
	if e, ok := err.(*domain.Error); ok {
		de = e
	} else {
		de = domain.WrapError(domain.Kind(err), err, "%s", err.Error())
	}
	de.RequestID = requestID
	return de
}

// estimateRequestCost predicts the dollar cost of serving the prompt
// with the model, assuming output at 60% of input (min 20 tokens).
func estimateRequestCost(profile *domain.ModelProfile, prompt string) float64 {
	inputTokens := registry.EstimateTokens(prompt)
	outputTokens := int(float64(inputTokens) * 0.6)
	if outputTokens < 20 {
		outputTokens = 20
	}
	return registry.CalculateCost(profile, inputTokens, outputTokens)
}

func msSince(t time.Time) float64 {
	return float64(time.Since(t).Microseconds()) / 1000
}
