package registry

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"asahi/internal/domain"
)

func TestRegistryGet(t *testing.T) {
	reg := NewWithDefaults()

	t.Run("known model", func(t *testing.T) {
		p, err := reg.Get("claude-3-5-sonnet")
		if err != nil {
			t.Fatalf("Get failed: %v", err)
		}
		if p.QualityScore != 4.1 {
			t.Errorf("quality = %v, want 4.1", p.QualityScore)
		}
	})

	t.Run("unknown model", func(t *testing.T) {
		_, err := reg.Get("no-such-model")
		if err == nil {
			t.Fatal("expected error for unknown model")
		}
		if domain.Kind(err) != domain.ErrModelNotFound {
			t.Errorf("kind = %v, want model_not_found", domain.Kind(err))
		}
	})

	t.Run("typo suggests nearest name", func(t *testing.T) {
		_, err := reg.Get("gpt-4-trubo")
		if err == nil {
			t.Fatal("expected error")
		}
		want := `did you mean "gpt-4-turbo"?`
		if got := err.Error(); !strings.Contains(got, want) {
			t.Errorf("error %q does not contain %q", got, want)
		}
	})
}

func TestRegistryFilter(t *testing.T) {
	reg := New()
	reg.Add(domain.ModelProfile{
		Name: "fast-cheap", CostPer1KInputTokens: 0.001, CostPer1KOutputToken: 0.002,
		AvgLatencyMs: 100, QualityScore: 3.0, MaxInputTokens: 8000, MaxOutputTokens: 1000,
		Availability: domain.AvailabilityAvailable,
	})
	reg.Add(domain.ModelProfile{
		Name: "slow-smart", CostPer1KInputTokens: 0.01, CostPer1KOutputToken: 0.03,
		AvgLatencyMs: 800, QualityScore: 4.8, MaxInputTokens: 128000, MaxOutputTokens: 4000,
		Availability: domain.AvailabilityAvailable,
	})
	reg.Add(domain.ModelProfile{
		Name: "down", CostPer1KInputTokens: 0.01, CostPer1KOutputToken: 0.03,
		AvgLatencyMs: 100, QualityScore: 5.0, MaxInputTokens: 8000, MaxOutputTokens: 1000,
		Availability: domain.AvailabilityUnavailable,
	})

	t.Run("quality and latency bounds", func(t *testing.T) {
		got := reg.Filter(4.0, 1000)
		if len(got) != 1 || got[0].Name != "slow-smart" {
			t.Errorf("Filter(4.0, 1000) = %v, want [slow-smart]", names(got))
		}
	})

	t.Run("unavailable excluded", func(t *testing.T) {
		for _, p := range reg.Filter(0, 99999) {
			if p.Name == "down" {
				t.Error("unavailable model should be excluded")
			}
		}
	})

	t.Run("raising min quality never grows the set", func(t *testing.T) {
		loose := len(reg.Filter(3.0, 99999))
		tight := len(reg.Filter(4.5, 99999))
		if tight > loose {
			t.Errorf("tightening quality grew candidates: %d > %d", tight, loose)
		}
	})

	t.Run("lowering latency never grows the set", func(t *testing.T) {
		loose := len(reg.Filter(0, 1000))
		tight := len(reg.Filter(0, 100))
		if tight > loose {
			t.Errorf("tightening latency grew candidates: %d > %d", tight, loose)
		}
	})
}

func TestLoadFromYAML(t *testing.T) {
	t.Run("valid catalog", func(t *testing.T) {
		path := writeCatalog(t, `
models:
  test-model:
    provider: openai
    cost_per_1k_input_tokens: 0.005
    cost_per_1k_output_tokens: 0.015
    avg_latency_ms: 250
    quality_score: 4.2
    max_input_tokens: 32000
    max_output_tokens: 2048
`)
		reg, err := LoadFromYAML(path)
		if err != nil {
			t.Fatalf("LoadFromYAML failed: %v", err)
		}
		p, err := reg.Get("test-model")
		if err != nil {
			t.Fatalf("Get failed: %v", err)
		}
		if p.AvgLatencyMs != 250 {
			t.Errorf("avg_latency_ms = %d, want 250", p.AvgLatencyMs)
		}
		if p.Availability != domain.AvailabilityAvailable {
			t.Errorf("availability should default to available, got %s", p.Availability)
		}
	})

	t.Run("missing models key", func(t *testing.T) {
		path := writeCatalog(t, "other: 1\n")
		if _, err := LoadFromYAML(path); domain.Kind(err) != domain.ErrConfiguration {
			t.Errorf("expected configuration error, got %v", err)
		}
	})

	t.Run("invalid model definition", func(t *testing.T) {
		path := writeCatalog(t, `
models:
  bad:
    avg_latency_ms: 0
    quality_score: 9.9
`)
		if _, err := LoadFromYAML(path); domain.Kind(err) != domain.ErrConfiguration {
			t.Errorf("expected configuration error, got %v", err)
		}
	})

	t.Run("missing file", func(t *testing.T) {
		if _, err := LoadFromYAML("/no/such/file.yaml"); domain.Kind(err) != domain.ErrConfiguration {
			t.Errorf("expected configuration error, got %v", err)
		}
	})
}

func TestEstimateTokens(t *testing.T) {
	tests := []struct {
		text string
		want int
	}{
		{"", 0},
		{"   ", 0},
		{"word", 1},
		{"one two three four five six seven eight nine ten", 13},
	}
	for _, tt := range tests {
		if got := EstimateTokens(tt.text); got != tt.want {
			t.Errorf("EstimateTokens(%q) = %d, want %d", tt.text, got, tt.want)
		}
	}
}

func TestCalculateCost(t *testing.T) {
	profile := &domain.ModelProfile{
		CostPer1KInputTokens: 0.010,
		CostPer1KOutputToken: 0.030,
	}
	got := CalculateCost(profile, 1000, 500)
	want := 0.025
	if got != want {
		t.Errorf("CalculateCost = %v, want %v", got, want)
	}

	if got := CalculateCost(profile, 0, 0); got != 0 {
		t.Errorf("zero tokens should cost 0, got %v", got)
	}
}

func writeCatalog(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "models.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func names(profiles []domain.ModelProfile) []string {
	out := make([]string, len(profiles))
	for i, p := range profiles {
		out[i] = p.Name
	}
	return out
}
