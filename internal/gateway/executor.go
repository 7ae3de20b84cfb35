package gateway

import (
	"context"
	"log/slog"

	"asahi/internal/batching"
	"asahi/internal/provider"
	"asahi/internal/telemetry"
)

// providerExecutor is the default batch executor: one provider call per
// queued request, results in enqueue order. A failure anywhere fails
// the batch, which the scheduler isolates via individual retries.
type providerExecutor struct {
	provider  provider.Client
	collector *telemetry.Collector
	logger    *slog.Logger
}

func newProviderExecutor(client provider.Client, collector *telemetry.Collector, logger *slog.Logger) *providerExecutor {
	return &providerExecutor{provider: client, collector: collector, logger: logger}
}

// ExecuteBatch implements batching.Executor.
func (e *providerExecutor) ExecuteBatch(ctx context.Context, batch []*batching.QueuedRequest) ([]string, error) {
	results := make([]string, 0, len(batch))
	for _, req := range batch {
		completion, err := e.provider.Complete(ctx, req.Model, req.Prompt)
		if err != nil {
			return nil, err
		}
		results = append(results, completion.Text)
	}

	if len(batch) > 1 {
		// Coalescing saves per-call overhead roughly proportional to the
		// requests beyond the first.
		savingsPct := float64(len(batch)-1) / float64(len(batch)) * 100
		e.collector.RecordBatchEvent(len(batch), savingsPct)
	} else {
		e.collector.RecordBatchEvent(len(batch), 0)
	}
	return results, nil
}
