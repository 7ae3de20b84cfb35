// Package domain defines the core domain types shared across the Asahi
// inference gateway.
package domain

import (
	"time"
)

// =============================================================================
// Model Types
// =============================================================================

// Availability is the runtime health status of a model.
type Availability string

const (
	AvailabilityAvailable   Availability = "available"
	AvailabilityDegraded    Availability = "degraded"
	AvailabilityUnavailable Availability = "unavailable"
)

// Provider identifies which adapter serves a model.
type Provider string

const (
	ProviderOpenAI    Provider = "openai"
	ProviderAnthropic Provider = "anthropic"
	ProviderMistral   Provider = "mistral"
	ProviderLocal     Provider = "local"
)

// ModelProfile is the immutable metadata record for a single LLM model.
// Profiles are loaded once at startup and never mutated afterwards.
type ModelProfile struct {
	Name                 string       `json:"name" yaml:"name"`
	Provider             Provider     `json:"provider" yaml:"provider"`
	APIKeyEnv            string       `json:"api_key_env" yaml:"api_key_env"`
	CostPer1KInputTokens float64      `json:"cost_per_1k_input_tokens" yaml:"cost_per_1k_input_tokens"`
	CostPer1KOutputToken float64      `json:"cost_per_1k_output_tokens" yaml:"cost_per_1k_output_tokens"`
	AvgLatencyMs         int          `json:"avg_latency_ms" yaml:"avg_latency_ms"`
	QualityScore         float64      `json:"quality_score" yaml:"quality_score"`
	MaxInputTokens       int          `json:"max_input_tokens" yaml:"max_input_tokens"`
	MaxOutputTokens      int          `json:"max_output_tokens" yaml:"max_output_tokens"`
	Description          string       `json:"description,omitempty" yaml:"description,omitempty"`
	Availability         Availability `json:"availability" yaml:"availability"`
}

// AvgCost returns the mean of input and output cost per 1k tokens.
// The router scores candidates by quality per average dollar.
func (p *ModelProfile) AvgCost() float64 {
	return (p.CostPer1KInputTokens + p.CostPer1KOutputToken) / 2
}

// =============================================================================
// Routing Types
// =============================================================================

// RoutingMode selects how the router chooses a model.
type RoutingMode string

const (
	RoutingModeAutopilot RoutingMode = "autopilot"
	RoutingModeGuided    RoutingMode = "guided"
	RoutingModeExplicit  RoutingMode = "explicit"
)

// RoutingConstraints are the numeric requirements the router must satisfy.
type RoutingConstraints struct {
	QualityThreshold float64  // minimum acceptable quality score, [0, 5]
	LatencyBudgetMs  int      // maximum acceptable average latency
	CostBudget       *float64 // maximum dollar cost per request, nil = unbounded
}

// RoutingDecision is the outcome of a routing decision.
type RoutingDecision struct {
	ModelName           string
	Score               float64
	Reason              string
	CandidatesEvaluated int
	FallbackUsed        bool
}

// ModelAlternative is an alternative model suggestion returned in
// explicit routing mode, ranked by savings against the chosen model.
type ModelAlternative struct {
	Model            string  `json:"model"`
	EstimatedCost    float64 `json:"estimated_cost"`
	EstimatedQuality float64 `json:"estimated_quality"`
	SavingsPercent   float64 `json:"savings_percent"`
}

// TaskDetection is the result of classifying a prompt's task type.
type TaskDetection struct {
	TaskType   string
	Confidence float64
	Intent     string
}

// =============================================================================
// Request / Result Types
// =============================================================================

// CacheTier identifies which cache layer served a request.
type CacheTier string

const (
	CacheTierNone     CacheTier = "none"
	CacheTierExact    CacheTier = "exact"
	CacheTierSemantic CacheTier = "semantic"
)

// InferenceRequest is the gateway's input for one request.
type InferenceRequest struct {
	Prompt            string
	TaskID            string // optional declared task type
	LatencyBudgetMs   int
	QualityThreshold  float64
	CostBudget        *float64
	QualityPreference string // low, medium, high, max (guided mode)
	LatencyPreference string // slow, normal, fast, instant (guided mode)
	ModelOverride     string // explicit mode
	UserID            string
	TenantID          string
}

// InferenceResult is the immutable outcome of one request.
type InferenceResult struct {
	RequestID     string    `json:"request_id"`
	Response      string    `json:"response"`
	ModelUsed     string    `json:"model_used"`
	TokensInput   int       `json:"tokens_input"`
	TokensOutput  int       `json:"tokens_output"`
	Cost          float64   `json:"cost"`
	LatencyMs     float64   `json:"latency_ms"`
	CacheTier     CacheTier `json:"cache_tier"`
	RoutingReason string    `json:"routing_reason"`
}

// InferenceEvent is the immutable log record appended after every
// completed request. It feeds metering, analytics, anomaly detection,
// and forecasting.
type InferenceEvent struct {
	RequestID     string    `json:"request_id"`
	Timestamp     time.Time `json:"timestamp"`
	TenantID      string    `json:"tenant_id,omitempty"`
	UserID        string    `json:"user_id,omitempty"`
	TaskType      string    `json:"task_type,omitempty"`
	ModelSelected string    `json:"model_selected"`
	CacheTier     CacheTier `json:"cache_tier"`
	InputTokens   int       `json:"input_tokens"`
	OutputTokens  int       `json:"output_tokens"`
	TotalTokens   int       `json:"total_tokens"`
	LatencyMs     int       `json:"latency_ms"`
	Cost          float64   `json:"cost"`
	RoutingReason string    `json:"routing_reason"`
	QualityScore  *float64  `json:"quality_score,omitempty"`
}
