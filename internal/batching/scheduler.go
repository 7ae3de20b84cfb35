package batching

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"asahi/internal/config"
	"asahi/internal/domain"
)

// Executor dispatches a batch to the provider. Result order must match
// input order; returning fewer results than requests signals a partial
// failure for the tail.
type Executor interface {
	ExecuteBatch(ctx context.Context, batch []*QueuedRequest) ([]string, error)
}

// ExecutorFunc adapts a function to the Executor interface.
type ExecutorFunc func(ctx context.Context, batch []*QueuedRequest) ([]string, error)

// ExecuteBatch implements Executor.
func (f ExecutorFunc) ExecuteBatch(ctx context.Context, batch []*QueuedRequest) ([]string, error) {
	return f(ctx, batch)
}

// Stats are scheduler counters.
type Stats struct {
	Running             bool `json:"running"`
	BatchesExecuted     int  `json:"batches_executed"`
	RequestsProcessed   int  `json:"requests_processed"`
	BatchErrors         int  `json:"batch_errors"`
	IndividualFallbacks int  `json:"individual_fallbacks"`
	QueueSize           int  `json:"queue_size"`
}

// Scheduler is the background worker that monitors the queue and
// flushes groups when size or deadline thresholds are met. Exactly one
// scheduler runs per process.
type Scheduler struct {
	queue        *Queue
	executor     Executor
	config       config.BatchingConfig
	pollInterval time.Duration
	logger       *slog.Logger

	mu      sync.Mutex
	running bool
	stop    chan struct{}
	done    chan struct{}

	statsMu             sync.Mutex
	batchesExecuted     int
	requestsProcessed   int
	batchErrors         int
	individualFallbacks int
}

// NewScheduler creates a scheduler over the shared queue.
func NewScheduler(queue *Queue, executor Executor, cfg config.BatchingConfig) *Scheduler {
	pollMs := cfg.PollIntervalMs
	if pollMs <= 0 {
		pollMs = 50
	}
	s := &Scheduler{
		queue:        queue,
		executor:     executor,
		config:       cfg,
		pollInterval: time.Duration(pollMs) * time.Millisecond,
		logger:       slog.Default(),
	}
	s.logger.Info("batch scheduler initialised",
		"poll_interval_ms", pollMs,
		"max_batch_size", cfg.MaxBatchSize,
		"min_batch_size", cfg.MinBatchSize)
	return s
}

// Start launches the worker goroutine. A second start while running is
// an error.
func (s *Scheduler) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return domain.NewError(domain.ErrBatching, "batch scheduler is already running")
	}
	s.running = true
	s.stop = make(chan struct{})
	s.done = make(chan struct{})

	go s.runLoop(s.stop, s.done)
	s.logger.Info("batch scheduler started")
	return nil
}

// Stop clears the running flag, waits for the worker up to timeout,
// then drains remaining requests via individual execution so no handle
// is left unresolved.
func (s *Scheduler) Stop(timeout time.Duration) {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	close(s.stop)
	done := s.done
	s.mu.Unlock()

	select {
	case <-done:
	case <-time.After(timeout):
		s.logger.Warn("scheduler worker did not stop within timeout", "timeout", timeout)
	}

	s.drainRemaining()
	s.logger.Info("batch scheduler stopped")
}

// IsRunning reports whether the worker loop is active.
func (s *Scheduler) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// FlushGroup immediately flushes all pending requests in a group.
func (s *Scheduler) FlushGroup(group string) {
	for {
		batch := s.queue.GetBatch(group, s.config.MaxBatchSize)
		if len(batch) == 0 {
			return
		}
		s.executeBatch(batch)
	}
}

// Stats returns scheduler counters.
func (s *Scheduler) Stats() Stats {
	s.statsMu.Lock()
	defer s.statsMu.Unlock()
	return Stats{
		Running:             s.IsRunning(),
		BatchesExecuted:     s.batchesExecuted,
		RequestsProcessed:   s.requestsProcessed,
		BatchErrors:         s.batchErrors,
		IndividualFallbacks: s.individualFallbacks,
		QueueSize:           s.queue.Size(""),
	}
}

// runLoop is the worker goroutine. A panic anywhere in the tick path is
// recovered and triggers the drain path so outstanding handles resolve.
func (s *Scheduler) runLoop(stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("scheduler loop crashed; draining queue", "panic", r)
			s.mu.Lock()
			s.running = false
			s.mu.Unlock()
			s.drainRemaining()
		}
	}()

	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			s.tick()
		}
	}
}

// tick inspects every group and flushes those meeting a size, deadline,
// or approaching-deadline condition.
func (s *Scheduler) tick() {
	for _, group := range s.queue.AllGroups() {
		size := s.queue.Size(group)
		if size == 0 {
			continue
		}

		// Condition 1: size threshold met.
		if size >= s.config.MaxBatchSize {
			s.logger.Debug("flushing group: size threshold", "group", group, "size", size)
			if batch := s.queue.GetBatch(group, s.config.MaxBatchSize); len(batch) > 0 {
				s.executeBatch(batch)
			}
			continue
		}

		// Condition 2: deadline expired.
		if s.queue.HasExpired(group) {
			s.logger.Debug("flushing group: deadline expired", "group", group, "size", size)
			if batch := s.queue.GetBatch(group, s.config.MaxBatchSize); len(batch) > 0 {
				s.executeBatch(batch)
			}
			continue
		}

		// Condition 3: approaching deadline with enough requests.
		if size >= s.config.MinBatchSize {
			oldestAgeMs := s.queue.OldestAgeMs(group)
			thresholdMs := int(float64(s.config.MaxWaitMs) * 0.7)
			if oldestAgeMs > thresholdMs {
				s.logger.Debug("flushing group: approaching deadline",
					"group", group, "oldest_age_ms", oldestAgeMs, "threshold_ms", thresholdMs)
				if batch := s.queue.GetBatch(group, s.config.MaxBatchSize); len(batch) > 0 {
					s.executeBatch(batch)
				}
			}
		}
	}
}

// executeBatch dispatches one batch. A failure of the whole batch falls
// back to individual execution per request; a failure in one group
// never blocks another group.
func (s *Scheduler) executeBatch(batch []*QueuedRequest) {
	results, err := s.executor.ExecuteBatch(context.Background(), batch)
	if err != nil {
		s.logger.Error("batch execution failed; falling back to individual calls",
			"batch_size", len(batch), "error", err)
		s.statsMu.Lock()
		s.batchErrors++
		s.statsMu.Unlock()
		s.fallbackIndividual(batch)
		return
	}

	s.resolveBatch(batch, results)
	s.statsMu.Lock()
	s.batchesExecuted++
	s.requestsProcessed += len(batch)
	s.statsMu.Unlock()

	s.logger.Info("batch executed",
		"batch_size", len(batch), "batch_group", batch[0].BatchGroup)
}

// resolveBatch resolves each request with its corresponding result.
// Requests beyond the end of a short result list fail with a batching
// error.
func (s *Scheduler) resolveBatch(batch []*QueuedRequest, results []string) {
	for i, req := range batch {
		if i < len(results) {
			req.Completion.Resolve(results[i], nil)
		} else {
			req.Completion.Resolve("", domain.NewError(domain.ErrBatching,
				"no result returned for request %s", req.RequestID))
		}
	}
}

// fallbackIndividual retries each request of a failed batch once on its
// own. A failure here fails that single request.
func (s *Scheduler) fallbackIndividual(batch []*QueuedRequest) {
	for _, req := range batch {
		results, err := s.executor.ExecuteBatch(context.Background(), []*QueuedRequest{req})
		if err != nil || len(results) == 0 {
			s.logger.Error("individual fallback failed",
				"request_id", req.RequestID, "error", err)
			req.Completion.Resolve("", domain.WrapError(domain.ErrBatching, err,
				"all execution paths failed for request %s", req.RequestID))
			continue
		}
		req.Completion.Resolve(results[0], nil)
		s.statsMu.Lock()
		s.individualFallbacks++
		s.requestsProcessed++
		s.statsMu.Unlock()
	}
}

// drainRemaining executes every still-queued request individually.
func (s *Scheduler) drainRemaining() {
	for _, group := range s.queue.AllGroups() {
		for {
			batch := s.queue.GetBatch(group, 1)
			if len(batch) == 0 {
				break
			}
			req := batch[0]
			results, err := s.executor.ExecuteBatch(context.Background(), []*QueuedRequest{req})
			if err != nil || len(results) == 0 {
				s.logger.Error("drain failed for request", "request_id", req.RequestID, "error", err)
				req.Completion.Resolve("", domain.WrapError(domain.ErrBatching, err,
					"drained request %s failed", req.RequestID))
				continue
			}
			req.Completion.Resolve(results[0], nil)
			s.statsMu.Lock()
			s.requestsProcessed++
			s.statsMu.Unlock()
		}
	}
}
