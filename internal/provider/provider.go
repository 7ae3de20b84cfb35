// Package provider defines the narrow client contract for upstream LLM
// providers. Provider SDKs live behind this interface outside the core;
// the package ships a deterministic mock for tests and development.
package provider

import (
	"context"
)

// Completion is the result of one provider call.
type Completion struct {
	Text         string
	InputTokens  int
	OutputTokens int
	LatencyMs    int
}

// Client is implemented by provider adapters.
type Client interface {
	// Complete runs one inference call against the named model.
	Complete(ctx context.Context, model, prompt string) (*Completion, error)
}

// ClientFunc adapts a function to the Client interface.
type ClientFunc func(ctx context.Context, model, prompt string) (*Completion, error)

// Complete implements Client.
func (f ClientFunc) Complete(ctx context.Context, model, prompt string) (*Completion, error) {
	return f(ctx, model, prompt)
}
