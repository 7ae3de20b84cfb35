package batching

import (
	"strings"
	"testing"

	"asahi/internal/config"
	"asahi/internal/domain"
	"asahi/internal/registry"
)

func testEngine(t *testing.T) *Engine {
	t.Helper()
	reg := registry.New()
	reg.Add(domain.ModelProfile{
		Name: "sonnet", CostPer1KInputTokens: 0.003, CostPer1KOutputToken: 0.015,
		AvgLatencyMs: 150, QualityScore: 4.1, MaxInputTokens: 1000, MaxOutputTokens: 4096,
		Availability: domain.AvailabilityAvailable,
	})
	return NewEngine(config.BatchingConfig{
		MinBatchSize:       2,
		MaxBatchSize:       10,
		MaxWaitMs:          500,
		LatencyThresholdMs: 200,
		EligibleTaskTypes:  []string{"summarization", "faq", "translation"},
	}, reg)
}

func TestEngineLatencyRule(t *testing.T) {
	e := testEngine(t)

	t.Run("below threshold ineligible", func(t *testing.T) {
		got := e.Evaluate("short prompt", "faq", "sonnet", 100)
		if got.Eligible {
			t.Error("budget below threshold should be ineligible")
		}
	})

	t.Run("exactly at threshold ineligible", func(t *testing.T) {
		got := e.Evaluate("short prompt", "faq", "sonnet", 200)
		if got.Eligible {
			t.Error("budget exactly at threshold should be ineligible")
		}
	})

	t.Run("above threshold eligible", func(t *testing.T) {
		got := e.Evaluate("short prompt", "faq", "sonnet", 1000)
		if !got.Eligible {
			t.Errorf("expected eligible, got: %s", got.Reason)
		}
	})
}

func TestEngineTaskTypeRule(t *testing.T) {
	e := testEngine(t)

	got := e.Evaluate("short prompt", "coding", "sonnet", 1000)
	if got.Eligible {
		t.Error("coding is not an eligible batch task")
	}
	if !strings.Contains(got.Reason, "coding") {
		t.Errorf("reason should name the task type: %q", got.Reason)
	}
}

func TestEngineTokenRule(t *testing.T) {
	e := testEngine(t)

	// sonnet's 1000-token window / max batch 10 = 100 tokens per
	// request; ~200 words is well past it.
	long := strings.Repeat("word ", 200)
	got := e.Evaluate(long, "faq", "sonnet", 1000)
	if got.Eligible {
		t.Error("oversized prompt should be ineligible")
	}

	// Unknown models skip the capacity check.
	got = e.Evaluate(long, "faq", "unknown-model", 1000)
	if !got.Eligible {
		t.Errorf("unknown model should skip the token rule: %s", got.Reason)
	}
}

func TestEngineGroupKeyAndWait(t *testing.T) {
	e := testEngine(t)

	got := e.Evaluate("short prompt", "faq", "sonnet", 1000)
	if !got.Eligible {
		t.Fatalf("expected eligible: %s", got.Reason)
	}
	if got.BatchGroup != "faq:sonnet" {
		t.Errorf("batch group = %q, want faq:sonnet", got.BatchGroup)
	}
	// min(1000 - 150, 500) = 500.
	if got.MaxWaitMs != 500 {
		t.Errorf("max wait = %d, want 500", got.MaxWaitMs)
	}

	t.Run("wait bounded by remaining budget", func(t *testing.T) {
		got := e.Evaluate("short prompt", "faq", "sonnet", 400)
		if !got.Eligible {
			t.Fatalf("expected eligible: %s", got.Reason)
		}
		// min(400 - 150, 500) = 250.
		if got.MaxWaitMs != 250 {
			t.Errorf("max wait = %d, want 250", got.MaxWaitMs)
		}
	})
}
