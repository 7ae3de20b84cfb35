package gateway

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"asahi/internal/config"
	"asahi/internal/domain"
	"asahi/internal/provider"
	"asahi/internal/registry"
	"asahi/internal/resilience"
	"asahi/internal/vectorstore"
)

func fastRetry() resilience.RetryConfig {
	return resilience.RetryConfig{
		MaxRetries:  2,
		BackoffBase: time.Millisecond,
		BackoffMax:  5 * time.Millisecond,
	}
}

// directConfig pushes the batching latency threshold above every budget
// so all requests take the direct provider path.
func directConfig() *config.Config {
	cfg := config.Default()
	cfg.Batching.LatencyThresholdMs = 29000
	cfg.Batching.PollIntervalMs = 10
	cfg.Embeddings.Dimension = 32
	return cfg
}

func buildGateway(t *testing.T, cfg *config.Config, opts func(*Builder)) *Gateway {
	t.Helper()
	builder := NewBuilder(cfg).WithProviderRetry(fastRetry())
	if opts != nil {
		opts(builder)
	}
	gw, err := builder.Build()
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	if err := gw.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	t.Cleanup(func() { gw.Stop(time.Second) })
	return gw
}

func TestGatewayCacheHit(t *testing.T) {
	gw := buildGateway(t, directConfig(), nil)
	ctx := context.Background()

	first, err := gw.Infer(ctx, domain.InferenceRequest{Prompt: "What is Python?"})
	if err != nil {
		t.Fatalf("first Infer failed: %v", err)
	}
	if first.CacheTier != domain.CacheTierNone {
		t.Errorf("first cache_tier = %s, want none", first.CacheTier)
	}
	if first.Cost <= 0 {
		t.Errorf("first cost = %v, want > 0", first.Cost)
	}

	second, err := gw.Infer(ctx, domain.InferenceRequest{Prompt: "What is Python?"})
	if err != nil {
		t.Fatalf("second Infer failed: %v", err)
	}
	if second.CacheTier != domain.CacheTierExact {
		t.Errorf("second cache_tier = %s, want exact", second.CacheTier)
	}
	if second.Cost != 0 {
		t.Errorf("second cost = %v, want 0", second.Cost)
	}
	if second.Response != first.Response {
		t.Error("cached response should match the original")
	}
	if second.ModelUsed != first.ModelUsed {
		t.Error("cached model should match the original")
	}
	if first.RequestID == second.RequestID {
		t.Error("request ids should be unique")
	}
}

func TestGatewayEmptyPrompt(t *testing.T) {
	gw := buildGateway(t, directConfig(), nil)

	_, err := gw.Infer(context.Background(), domain.InferenceRequest{Prompt: "   "})
	if domain.Kind(err) != domain.ErrValidation {
		t.Fatalf("expected validation error, got %v", err)
	}
	if gw.Collector().TotalRequests() != 0 {
		t.Error("rejected request should not log an event")
	}
	stats := gw.ExactCacheStats(context.Background())
	if stats.Hits+stats.Misses != 0 {
		t.Error("rejected request should not touch the cache")
	}
}

func TestGatewayValidationBounds(t *testing.T) {
	gw := buildGateway(t, directConfig(), nil)
	ctx := context.Background()

	t.Run("latency budget too small", func(t *testing.T) {
		_, err := gw.Infer(ctx, domain.InferenceRequest{Prompt: "p", LatencyBudgetMs: 10})
		if domain.Kind(err) != domain.ErrValidation {
			t.Errorf("expected validation error, got %v", err)
		}
	})

	t.Run("quality threshold out of range", func(t *testing.T) {
		_, err := gw.Infer(ctx, domain.InferenceRequest{Prompt: "p", QualityThreshold: 7})
		if domain.Kind(err) != domain.ErrValidation {
			t.Errorf("expected validation error, got %v", err)
		}
	})

	t.Run("oversized prompt", func(t *testing.T) {
		_, err := gw.Infer(ctx, domain.InferenceRequest{Prompt: strings.Repeat("x", 100001)})
		if domain.Kind(err) != domain.ErrValidation {
			t.Errorf("expected validation error, got %v", err)
		}
	})
}

func TestGatewayRouterFallback(t *testing.T) {
	reg := registry.New()
	reg.Add(domain.ModelProfile{
		Name: "model-a", CostPer1KInputTokens: 0.002, CostPer1KOutputToken: 0.004,
		AvgLatencyMs: 500, QualityScore: 3.0, MaxInputTokens: 8000, MaxOutputTokens: 1000,
		Availability: domain.AvailabilityAvailable,
	})
	reg.Add(domain.ModelProfile{
		Name: "model-b", CostPer1KInputTokens: 0.010, CostPer1KOutputToken: 0.030,
		AvgLatencyMs: 200, QualityScore: 4.0, MaxInputTokens: 128000, MaxOutputTokens: 4000,
		Availability: domain.AvailabilityAvailable,
	})

	gw := buildGateway(t, directConfig(), func(b *Builder) { b.WithRegistry(reg) })

	// Nothing satisfies quality 5.0 within 50ms; the router must fall
	// back to the highest-quality model.
	result, err := gw.Infer(context.Background(), domain.InferenceRequest{
		Prompt:           "impossible constraints",
		QualityThreshold: 5.0,
		LatencyBudgetMs:  50,
	})
	if err != nil {
		t.Fatalf("Infer failed: %v", err)
	}
	if result.ModelUsed != "model-b" {
		t.Errorf("model = %s, want model-b", result.ModelUsed)
	}
	if !strings.Contains(result.RoutingReason, "Fallback") {
		t.Errorf("reason = %q, want a fallback explanation", result.RoutingReason)
	}
}

// flakyProvider fails every call for the named model.
type flakyProvider struct {
	mu       sync.Mutex
	failFor  string
	inner    provider.Client
	failures int
}

func (p *flakyProvider) Complete(ctx context.Context, model, prompt string) (*provider.Completion, error) {
	if model == p.failFor {
		p.mu.Lock()
		p.failures++
		p.mu.Unlock()
		return nil, errors.New("upstream 503")
	}
	return p.inner.Complete(ctx, model, prompt)
}

func TestGatewayProviderFallback(t *testing.T) {
	reg := registry.NewWithDefaults()
	// claude-3-5-sonnet wins on quality per dollar; make it fail so the
	// gateway falls back to the highest-quality available model.
	flaky := &flakyProvider{failFor: "claude-3-5-sonnet", inner: provider.NewMockClient(reg)}

	gw := buildGateway(t, directConfig(), func(b *Builder) {
		b.WithRegistry(reg).WithProvider(flaky)
	})

	result, err := gw.Infer(context.Background(), domain.InferenceRequest{Prompt: "hello there"})
	if err != nil {
		t.Fatalf("Infer failed: %v", err)
	}
	if result.ModelUsed != "gpt-4-turbo" {
		t.Errorf("fallback model = %s, want gpt-4-turbo", result.ModelUsed)
	}
	if !strings.Contains(result.RoutingReason, "Fallback after claude-3-5-sonnet failed") {
		t.Errorf("reason = %q", result.RoutingReason)
	}
}

func TestGatewayProviderFailureSingleModel(t *testing.T) {
	reg := registry.New()
	reg.Add(domain.ModelProfile{
		Name: "only-model", CostPer1KInputTokens: 0.01, CostPer1KOutputToken: 0.02,
		AvgLatencyMs: 100, QualityScore: 4.0, MaxInputTokens: 8000, MaxOutputTokens: 1000,
		Availability: domain.AvailabilityAvailable,
	})
	failing := provider.ClientFunc(func(ctx context.Context, model, prompt string) (*provider.Completion, error) {
		return nil, errors.New("always down")
	})

	gw := buildGateway(t, directConfig(), func(b *Builder) {
		b.WithRegistry(reg).WithProvider(failing)
	})

	_, err := gw.Infer(context.Background(), domain.InferenceRequest{Prompt: "p"})
	if domain.Kind(err) != domain.ErrProvider {
		t.Fatalf("expected provider error, got %v", err)
	}
}

func TestGatewayBatchCoalescing(t *testing.T) {
	cfg := config.Default()
	cfg.Batching.MaxBatchSize = 5
	cfg.Batching.MinBatchSize = 2
	cfg.Batching.PollIntervalMs = 10
	cfg.Embeddings.Dimension = 32

	gw := buildGateway(t, cfg, nil)

	var wg sync.WaitGroup
	results := make([]*domain.InferenceResult, 5)
	errs := make([]error, 5)
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = gw.Infer(context.Background(), domain.InferenceRequest{
				Prompt:          fmt.Sprintf("summarize document number %d", i),
				TaskID:          "summarization",
				LatencyBudgetMs: 1000,
			})
		}(i)
	}
	wg.Wait()

	for i := range results {
		if errs[i] != nil {
			t.Fatalf("request %d failed: %v", i, errs[i])
		}
		if results[i].Response == "" {
			t.Errorf("request %d got empty response", i)
		}
		if results[i].CacheTier != domain.CacheTierNone {
			t.Errorf("request %d cache_tier = %s", i, results[i].CacheTier)
		}
	}

	stats := gw.SchedulerStats()
	if stats.RequestsProcessed != 5 {
		t.Errorf("requests_processed = %d, want 5", stats.RequestsProcessed)
	}
	if stats.BatchesExecuted < 1 {
		t.Errorf("batches_executed = %d, want >= 1", stats.BatchesExecuted)
	}
}

// highSimilarityStore always reports one near-identical cached entry.
type highSimilarityStore struct{}

func (highSimilarityStore) Upsert(ctx context.Context, entries []vectorstore.Entry) (int, error) {
	return len(entries), nil
}

func (highSimilarityStore) Query(ctx context.Context, embedding []float32, topK int, filter map[string]string) ([]vectorstore.Result, error) {
	return []vectorstore.Result{{
		ID:    "cached",
		Score: 0.95,
		Metadata: map[string]string{
			"prompt":     "What is Python?",
			"response":   "Python is a programming language.",
			"model":      "claude-3-5-sonnet",
			"cost":       "0.002",
			"task_type":  "faq",
			"created_at": time.Now().UTC().Format(time.RFC3339Nano),
			"expires_at": time.Now().UTC().Add(time.Hour).Format(time.RFC3339Nano),
		},
	}}, nil
}

func (highSimilarityStore) Delete(ctx context.Context, ids []string) (int, error) { return 0, nil }
func (highSimilarityStore) Count(ctx context.Context) (int, error)               { return 1, nil }

func TestGatewaySemanticHit(t *testing.T) {
	gw := buildGateway(t, directConfig(), func(b *Builder) {
		b.WithVectorStore(highSimilarityStore{})
	})

	result, err := gw.Infer(context.Background(), domain.InferenceRequest{
		Prompt: "Can you explain what Python is?",
	})
	if err != nil {
		t.Fatalf("Infer failed: %v", err)
	}
	if result.CacheTier != domain.CacheTierSemantic {
		t.Fatalf("cache_tier = %s, want semantic (reason: %s)", result.CacheTier, result.RoutingReason)
	}
	if result.Cost != 0 {
		t.Errorf("semantic hit cost = %v, want 0", result.Cost)
	}
	if result.Response != "Python is a programming language." {
		t.Errorf("response = %q", result.Response)
	}
	if result.ModelUsed != "claude-3-5-sonnet" {
		t.Errorf("model = %q", result.ModelUsed)
	}
}

func TestGatewayEventLogging(t *testing.T) {
	gw := buildGateway(t, directConfig(), nil)

	_, err := gw.Infer(context.Background(), domain.InferenceRequest{
		Prompt:   "What is Go?",
		TenantID: "tenant-1",
		UserID:   "user-1",
	})
	if err != nil {
		t.Fatal(err)
	}

	events := gw.Collector().Events(time.Time{}, time.Time{})
	if len(events) != 1 {
		t.Fatalf("events = %d, want 1", len(events))
	}
	e := events[0]
	if e.TenantID != "tenant-1" || e.UserID != "user-1" {
		t.Errorf("event identity = %s/%s", e.TenantID, e.UserID)
	}
	if e.CacheTier != domain.CacheTierNone {
		t.Errorf("event tier = %s", e.CacheTier)
	}
	if e.Cost <= 0 || e.TotalTokens != e.InputTokens+e.OutputTokens {
		t.Errorf("event accounting = %+v", e)
	}
}

func TestGatewayExplicitOverride(t *testing.T) {
	gw := buildGateway(t, directConfig(), nil)

	result, err := gw.Infer(context.Background(), domain.InferenceRequest{
		Prompt:        "anything at all",
		ModelOverride: "gpt-4-turbo",
	})
	if err != nil {
		t.Fatalf("Infer failed: %v", err)
	}
	if result.ModelUsed != "gpt-4-turbo" {
		t.Errorf("model = %s, want gpt-4-turbo", result.ModelUsed)
	}

	t.Run("unknown override", func(t *testing.T) {
		_, err := gw.Infer(context.Background(), domain.InferenceRequest{
			Prompt:        "p",
			ModelOverride: "nonexistent-model",
		})
		if domain.Kind(err) != domain.ErrModelNotFound {
			t.Errorf("expected model_not_found, got %v", err)
		}
	})
}
