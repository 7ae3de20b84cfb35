package routing

import (
	"fmt"
	"log/slog"
	"math"
	"sort"

	"asahi/internal/domain"
	"asahi/internal/registry"
)

// scoreEpsilon keeps the quality/cost ratio finite for free models.
const scoreEpsilon = 1e-3

// Router selects the optimal model with a filter-score-select
// algorithm: filter out models that miss the constraints, score the
// rest by quality per average dollar, and pick the argmax.
type Router struct {
	registry *registry.Registry
	logger   *slog.Logger
}

// NewRouter creates a router over the given registry.
func NewRouter(reg *registry.Registry) *Router {
	return &Router{registry: reg, logger: slog.Default()}
}

// SelectModel picks the best model for the constraints. When no model
// passes filtering the decision falls back to the highest-quality
// available model with FallbackUsed set. An empty registry is fatal.
func (r *Router) SelectModel(constraints domain.RoutingConstraints) (domain.RoutingDecision, error) {
	all := r.registry.All()
	if len(all) == 0 {
		return domain.RoutingDecision{}, domain.NewError(domain.ErrNoModelsAvailable, "registry contains zero models")
	}

	candidates := r.filter(constraints)
	if len(candidates) == 0 {
		r.logger.Warn("no models pass constraints; falling back to highest quality",
			"quality_threshold", constraints.QualityThreshold,
			"latency_budget_ms", constraints.LatencyBudgetMs)

		best := highestQuality(all)
		return domain.RoutingDecision{
			ModelName: best.Name,
			Score:     0,
			Reason: fmt.Sprintf(
				"Fallback to %s: no models met constraints (quality>=%v, latency<=%dms)",
				best.Name, constraints.QualityThreshold, constraints.LatencyBudgetMs),
			CandidatesEvaluated: 0,
			FallbackUsed:        true,
		}, nil
	}

	best, score := selectBest(candidates)
	return domain.RoutingDecision{
		ModelName: best.Name,
		Score:     math.Round(score*1e4) / 1e4,
		Reason: fmt.Sprintf("Best quality/cost ratio among %d candidates (score=%.2f)",
			len(candidates), score),
		CandidatesEvaluated: len(candidates),
	}, nil
}

func (r *Router) filter(constraints domain.RoutingConstraints) []domain.ModelProfile {
	candidates := r.registry.Filter(constraints.QualityThreshold, constraints.LatencyBudgetMs)
	if constraints.CostBudget == nil {
		return candidates
	}
	var out []domain.ModelProfile
	for _, m := range candidates {
		if m.AvgCost() <= *constraints.CostBudget {
			out = append(out, m)
		}
	}
	return out
}

// selectBest returns the highest-scored candidate. Ties break by higher
// quality, then lexicographically smaller name.
func selectBest(candidates []domain.ModelProfile) (domain.ModelProfile, float64) {
	best := candidates[0]
	bestScore := scoreOf(&best)
	for _, m := range candidates[1:] {
		s := scoreOf(&m)
		switch {
		case s > bestScore:
			best, bestScore = m, s
		case s == bestScore:
			if m.QualityScore > best.QualityScore ||
				(m.QualityScore == best.QualityScore && m.Name < best.Name) {
				best = m
			}
		}
	}
	return best, bestScore
}

func scoreOf(m *domain.ModelProfile) float64 {
	return m.QualityScore / math.Max(m.AvgCost(), scoreEpsilon)
}

func highestQuality(models []domain.ModelProfile) domain.ModelProfile {
	best := models[0]
	for _, m := range models[1:] {
		if m.QualityScore > best.QualityScore {
			best = m
		}
	}
	return best
}

// HighestQualityAvailable returns the best available model, excluding
// the named model. Used for provider-failure fallback.
func (r *Router) HighestQualityAvailable(excluding string) (*domain.ModelProfile, error) {
	var best *domain.ModelProfile
	for _, m := range r.registry.All() {
		if m.Name == excluding || m.Availability == domain.AvailabilityUnavailable {
			continue
		}
		if best == nil || m.QualityScore > best.QualityScore {
			p := m
			best = &p
		}
	}
	if best == nil {
		return nil, domain.NewError(domain.ErrNoModelsAvailable,
			"no available model distinct from %q", excluding)
	}
	return best, nil
}

// =============================================================================
// Advanced routing: autopilot / guided / explicit
// =============================================================================

// AdvancedDecision is the result of an advanced routing decision.
type AdvancedDecision struct {
	ModelName        string
	Mode             domain.RoutingMode
	Score            float64
	Reason           string
	Alternatives     []domain.ModelAlternative
	TaskTypeDetected string
	FallbackUsed     bool
}

// autopilotDefaults are the per-task default constraints used when the
// caller expresses no preferences.
var autopilotDefaults = map[string]domain.RoutingConstraints{
	"faq":            {QualityThreshold: 3.5, LatencyBudgetMs: 300},
	"summarization":  {QualityThreshold: 3.5, LatencyBudgetMs: 500},
	"reasoning":      {QualityThreshold: 4.0, LatencyBudgetMs: 500},
	"coding":         {QualityThreshold: 4.0, LatencyBudgetMs: 500},
	"translation":    {QualityThreshold: 3.5, LatencyBudgetMs: 300},
	"classification": {QualityThreshold: 3.0, LatencyBudgetMs: 200},
	"creative":       {QualityThreshold: 3.5, LatencyBudgetMs: 500},
	"legal":          {QualityThreshold: 4.2, LatencyBudgetMs: 2000},
	"general":        {QualityThreshold: 3.5, LatencyBudgetMs: 300},
}

// AdvancedRouter composes the base router with task detection and
// constraint interpretation into three routing modes.
type AdvancedRouter struct {
	registry    *registry.Registry
	base        *Router
	detector    *TaskDetector
	interpreter *ConstraintInterpreter
	logger      *slog.Logger
}

// NewAdvancedRouter creates the three-mode routing engine.
func NewAdvancedRouter(reg *registry.Registry, base *Router, detector *TaskDetector, interpreter *ConstraintInterpreter) *AdvancedRouter {
	return &AdvancedRouter{
		registry:    reg,
		base:        base,
		detector:    detector,
		interpreter: interpreter,
		logger:      slog.Default(),
	}
}

// Route dispatches by mode.
func (ar *AdvancedRouter) Route(prompt string, mode domain.RoutingMode, qualityPreference, latencyPreference, modelOverride string) (AdvancedDecision, error) {
	switch mode {
	case domain.RoutingModeAutopilot, "":
		return ar.routeAutopilot(prompt)
	case domain.RoutingModeGuided:
		return ar.routeGuided(prompt, qualityPreference, latencyPreference)
	case domain.RoutingModeExplicit:
		return ar.routeExplicit(prompt, modelOverride)
	default:
		return AdvancedDecision{}, domain.ValidationError("mode", "unknown routing mode %q", mode)
	}
}

func (ar *AdvancedRouter) routeAutopilot(prompt string) (AdvancedDecision, error) {
	detection := ar.detector.Detect(prompt)
	taskType := detection.TaskType

	if detection.Confidence < 0.3 {
		ar.logger.Warn("low confidence task detection; using general",
			"detected", taskType, "confidence", detection.Confidence)
		taskType = "general"
	}

	constraints, ok := autopilotDefaults[taskType]
	if !ok {
		constraints = autopilotDefaults["general"]
	}
	decision, err := ar.base.SelectModel(constraints)
	if err != nil {
		return AdvancedDecision{}, err
	}

	return AdvancedDecision{
		ModelName: decision.ModelName,
		Mode:      domain.RoutingModeAutopilot,
		Score:     decision.Score,
		Reason: fmt.Sprintf("Auto-detected '%s' (confidence=%.0f%%): %s",
			taskType, detection.Confidence*100, decision.Reason),
		TaskTypeDetected: taskType,
		FallbackUsed:     decision.FallbackUsed,
	}, nil
}

func (ar *AdvancedRouter) routeGuided(prompt, qualityPreference, latencyPreference string) (AdvancedDecision, error) {
	detection := ar.detector.Detect(prompt)

	constraints, err := ar.interpreter.Interpret(qualityPreference, latencyPreference, detection.TaskType)
	if err != nil {
		return AdvancedDecision{}, err
	}
	decision, err := ar.base.SelectModel(constraints)
	if err != nil {
		return AdvancedDecision{}, err
	}

	return AdvancedDecision{
		ModelName: decision.ModelName,
		Mode:      domain.RoutingModeGuided,
		Score:     decision.Score,
		Reason: fmt.Sprintf("User preference (quality=%s, latency=%s) + task '%s': %s",
			qualityPreference, latencyPreference, detection.TaskType, decision.Reason),
		TaskTypeDetected: detection.TaskType,
		FallbackUsed:     decision.FallbackUsed,
	}, nil
}

func (ar *AdvancedRouter) routeExplicit(prompt, modelOverride string) (AdvancedDecision, error) {
	if modelOverride == "" {
		return AdvancedDecision{}, domain.ValidationError("model_override", "model_override is required for explicit mode")
	}

	chosen, err := ar.registry.Get(modelOverride)
	if err != nil {
		return AdvancedDecision{}, err
	}
	if chosen.Availability == domain.AvailabilityUnavailable {
		return AdvancedDecision{}, domain.NewError(domain.ErrModelNotFound,
			"model %q is currently unavailable", modelOverride)
	}

	inputTokens := registry.EstimateTokens(prompt)
	outputTokens := int(float64(inputTokens) * 0.6)
	if outputTokens < 20 {
		outputTokens = 20
	}
	chosenCost := registry.CalculateCost(chosen, inputTokens, outputTokens)

	var alternatives []domain.ModelAlternative
	for _, profile := range ar.registry.All() {
		if profile.Name == modelOverride {
			continue
		}
		altCost := registry.CalculateCost(&profile, inputTokens, outputTokens)
		savingsPct := 0.0
		if chosenCost > 0 {
			savingsPct = (chosenCost - altCost) / chosenCost * 100
		}
		alternatives = append(alternatives, domain.ModelAlternative{
			Model:            profile.Name,
			EstimatedCost:    altCost,
			EstimatedQuality: profile.QualityScore,
			SavingsPercent:   math.Round(savingsPct*10) / 10,
		})
	}
	sort.Slice(alternatives, func(i, j int) bool {
		return alternatives[i].SavingsPercent > alternatives[j].SavingsPercent
	})

	return AdvancedDecision{
		ModelName: modelOverride,
		Mode:      domain.RoutingModeExplicit,
		Score:     chosen.QualityScore,
		Reason: fmt.Sprintf("User selected %s; %d alternatives available",
			modelOverride, len(alternatives)),
		Alternatives: alternatives,
	}, nil
}
