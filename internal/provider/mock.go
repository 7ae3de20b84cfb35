package provider

import (
	"context"
	"fmt"
	"time"

	"asahi/internal/registry"
)

// MockClient simulates provider calls using the registry's latency and
// token profiles. Token counts are deterministic for a given prompt.
type MockClient struct {
	registry *registry.Registry
	// Scale shrinks the simulated sleep; 0 disables sleeping entirely.
	Scale float64
}

// NewMockClient creates a mock provider over the registry.
func NewMockClient(reg *registry.Registry) *MockClient {
	return &MockClient{registry: reg, Scale: 0.01}
}

// Complete simulates an inference call.
func (m *MockClient) Complete(ctx context.Context, model, prompt string) (*Completion, error) {
	profile, err := m.registry.Get(model)
	if err != nil {
		return nil, err
	}

	if m.Scale > 0 {
		delay := time.Duration(float64(profile.AvgLatencyMs) * m.Scale * float64(time.Millisecond))
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	inputTokens := registry.EstimateTokens(prompt)
	outputTokens := inputTokens / 2
	if outputTokens < 20 {
		outputTokens = 20
	}

	return &Completion{
		Text: fmt.Sprintf("[Mock response from %s] Processed prompt with %d input tokens.",
			model, inputTokens),
		InputTokens:  inputTokens,
		OutputTokens: outputTokens,
		LatencyMs:    profile.AvgLatencyMs,
	}, nil
}
