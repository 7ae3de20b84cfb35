// Package registry holds the model catalog: the single source of truth
// for every LLM model the gateway can route to. All other components
// query the registry; they never hard-code model information.
package registry

import (
	"log/slog"
	"math"
	"os"
	"sort"
	"strings"

	"github.com/agnivade/levenshtein"
	"gopkg.in/yaml.v3"

	"asahi/internal/domain"
)

// catalogDocument is the YAML shape of the model catalog file.
type catalogDocument struct {
	Models map[string]domain.ModelProfile `yaml:"models"`
}

// Registry is an immutable snapshot of model profiles. It is populated
// at initialization; reads after that need no synchronization.
type Registry struct {
	models map[string]domain.ModelProfile
	logger *slog.Logger
}

// New creates an empty registry. Call Add before handing it to the
// gateway; after startup the registry must not be mutated.
func New() *Registry {
	return &Registry{
		models: make(map[string]domain.ModelProfile),
		logger: slog.Default(),
	}
}

// NewWithDefaults creates a registry pre-populated with the built-in
// model profiles, used when no catalog document is configured.
func NewWithDefaults() *Registry {
	r := New()
	for _, p := range defaultProfiles() {
		r.Add(p)
	}
	return r
}

// LoadFromYAML parses a YAML catalog document and registers every model
// found under the top-level "models" key.
func LoadFromYAML(path string) (*Registry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, domain.WrapError(domain.ErrConfiguration, err, "models catalog not readable: %s", path)
	}

	var doc catalogDocument
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, domain.WrapError(domain.ErrConfiguration, err, "invalid YAML in %s", path)
	}
	if len(doc.Models) == 0 {
		return nil, domain.NewError(domain.ErrConfiguration, "expected top-level 'models' key in %s", path)
	}

	r := New()
	for name, profile := range doc.Models {
		profile.Name = name
		if err := validateProfile(&profile); err != nil {
			return nil, domain.WrapError(domain.ErrConfiguration, err, "invalid model definition for %q in %s", name, path)
		}
		r.Add(profile)
	}
	r.logger.Info("models loaded from catalog", "path", path, "count", len(r.models))
	return r, nil
}

func validateProfile(p *domain.ModelProfile) error {
	if strings.TrimSpace(p.Name) == "" {
		return domain.NewError(domain.ErrConfiguration, "model name must not be empty")
	}
	p.Name = strings.TrimSpace(p.Name)
	if p.CostPer1KInputTokens < 0 || p.CostPer1KOutputToken < 0 {
		return domain.NewError(domain.ErrConfiguration, "model %s: costs must be non-negative", p.Name)
	}
	if p.AvgLatencyMs <= 0 {
		return domain.NewError(domain.ErrConfiguration, "model %s: avg_latency_ms must be positive", p.Name)
	}
	if p.QualityScore < 0 || p.QualityScore > 5 {
		return domain.NewError(domain.ErrConfiguration, "model %s: quality_score must be in [0, 5]", p.Name)
	}
	if p.MaxInputTokens <= 0 || p.MaxOutputTokens <= 0 {
		return domain.NewError(domain.ErrConfiguration, "model %s: token limits must be positive", p.Name)
	}
	if p.Availability == "" {
		p.Availability = domain.AvailabilityAvailable
	}
	if p.Provider == "" {
		p.Provider = domain.ProviderOpenAI
	}
	return nil
}

// Add registers or overwrites a model profile. Only valid before the
// registry is shared with the gateway.
func (r *Registry) Add(profile domain.ModelProfile) {
	if _, exists := r.models[profile.Name]; exists {
		r.logger.Warn("overwriting existing model", "model", profile.Name)
	}
	r.models[profile.Name] = profile
}

// Get returns a model profile by name. Unknown names produce a
// model_not_found error that suggests the nearest registered name when
// one is within edit distance 3.
func (r *Registry) Get(name string) (*domain.ModelProfile, error) {
	if p, ok := r.models[name]; ok {
		return &p, nil
	}
	if suggestion := r.nearestName(name); suggestion != "" {
		return nil, domain.NewError(domain.ErrModelNotFound,
			"model %q not found in registry (did you mean %q?)", name, suggestion)
	}
	return nil, domain.NewError(domain.ErrModelNotFound,
		"model %q not found in registry; available: %s", name, strings.Join(r.Names(), ", "))
}

// nearestName returns the registered name closest to the query by edit
// distance, or empty when nothing is close enough to be a likely typo.
func (r *Registry) nearestName(name string) string {
	best := ""
	bestDist := math.MaxInt
	for candidate := range r.models {
		d := levenshtein.ComputeDistance(strings.ToLower(name), strings.ToLower(candidate))
		if d < bestDist {
			best, bestDist = candidate, d
		}
	}
	if bestDist <= 3 {
		return best
	}
	return ""
}

// All returns every registered model profile, sorted by name.
func (r *Registry) All() []domain.ModelProfile {
	out := make([]domain.ModelProfile, 0, len(r.models))
	for _, p := range r.models {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Names returns all registered model names, sorted.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.models))
	for name := range r.models {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Filter returns profiles meeting the quality and latency constraints,
// excluding unavailable models.
func (r *Registry) Filter(minQuality float64, maxLatencyMs int) []domain.ModelProfile {
	var out []domain.ModelProfile
	for _, p := range r.All() {
		if p.QualityScore >= minQuality &&
			p.AvgLatencyMs <= maxLatencyMs &&
			p.Availability != domain.AvailabilityUnavailable {
			out = append(out, p)
		}
	}
	return out
}

// Len returns the number of registered models.
func (r *Registry) Len() int { return len(r.models) }

// Contains reports whether a model name is registered.
func (r *Registry) Contains(name string) bool {
	_, ok := r.models[name]
	return ok
}

func defaultProfiles() []domain.ModelProfile {
	return []domain.ModelProfile{
		{
			Name:                 "gpt-4-turbo",
			Provider:             domain.ProviderOpenAI,
			APIKeyEnv:            "OPENAI_API_KEY",
			CostPer1KInputTokens: 0.010,
			CostPer1KOutputToken: 0.030,
			AvgLatencyMs:         200,
			QualityScore:         4.6,
			MaxInputTokens:       128000,
			MaxOutputTokens:      4096,
			Description:          "Most powerful OpenAI model, highest quality",
			Availability:         domain.AvailabilityAvailable,
		},
		{
			Name:                 "claude-opus-4",
			Provider:             domain.ProviderAnthropic,
			APIKeyEnv:            "ANTHROPIC_API_KEY",
			CostPer1KInputTokens: 0.015,
			CostPer1KOutputToken: 0.075,
			AvgLatencyMs:         180,
			QualityScore:         4.5,
			MaxInputTokens:       200000,
			MaxOutputTokens:      4096,
			Description:          "High quality Anthropic model, moderate cost",
			Availability:         domain.AvailabilityAvailable,
		},
		{
			Name:                 "claude-3-5-sonnet",
			Provider:             domain.ProviderAnthropic,
			APIKeyEnv:            "ANTHROPIC_API_KEY",
			CostPer1KInputTokens: 0.003,
			CostPer1KOutputToken: 0.015,
			AvgLatencyMs:         150,
			QualityScore:         4.1,
			MaxInputTokens:       200000,
			MaxOutputTokens:      4096,
			Description:          "Fast, cheap, reasonable quality",
			Availability:         domain.AvailabilityAvailable,
		},
	}
}

// EstimateTokens returns a quick token estimate based on whitespace
// splitting, approximately 1.3 tokens per word.
func EstimateTokens(text string) int {
	if strings.TrimSpace(text) == "" {
		return 0
	}
	n := int(float64(len(strings.Fields(text))) * 1.3)
	if n < 1 {
		return 1
	}
	return n
}

// CalculateCost returns the dollar cost for a token count under the
// given model's pricing, rounded to 6 decimal places.
func CalculateCost(model *domain.ModelProfile, inputTokens, outputTokens int) float64 {
	inputCost := float64(inputTokens) / 1000 * model.CostPer1KInputTokens
	outputCost := float64(outputTokens) / 1000 * model.CostPer1KOutputToken
	return math.Round((inputCost+outputCost)*1e6) / 1e6
}
