// Package batching coalesces compatible requests into provider batches:
// an eligibility engine, a thread-safe per-group FIFO queue, and a
// deadline-aware background scheduler.
package batching

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"asahi/internal/domain"
)

// Outcome is what a queued request resolves to.
type Outcome struct {
	Response string
	Err      error
}

// Completion is the single-use result sink for a queued request. The
// scheduler resolves it exactly once; a caller that abandoned its wait
// does not block resolution.
type Completion struct {
	once sync.Once
	ch   chan Outcome
}

// NewCompletion creates an unresolved completion handle.
func NewCompletion() *Completion {
	return &Completion{ch: make(chan Outcome, 1)}
}

// Resolve delivers the outcome. Later calls are no-ops.
func (c *Completion) Resolve(response string, err error) {
	c.once.Do(func() {
		c.ch <- Outcome{Response: response, Err: err}
	})
}

// Wait blocks until the request resolves or the context is done.
func (c *Completion) Wait(ctx context.Context) (string, error) {
	select {
	case out := <-c.ch:
		return out.Response, out.Err
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// QueuedRequest is a single request waiting in the batch queue.
type QueuedRequest struct {
	RequestID  string
	Prompt     string
	Model      string
	BatchGroup string
	EnqueuedAt time.Time
	Deadline   time.Time
	Completion *Completion
}

// Queue is a thread-safe FIFO of pending requests partitioned by batch
// group. Producers are request handlers; the single consumer is the
// scheduler. Every mutation is serialized on one lock.
type Queue struct {
	mu     sync.Mutex
	groups map[string][]*QueuedRequest
	index  map[string]string // request id -> group
	logger *slog.Logger
}

// NewQueue creates an empty queue.
func NewQueue() *Queue {
	return &Queue{
		groups: make(map[string][]*QueuedRequest),
		index:  make(map[string]string),
		logger: slog.Default(),
	}
}

// Enqueue adds a request. A duplicate request id is rejected.
func (q *Queue) Enqueue(req *QueuedRequest) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if _, exists := q.index[req.RequestID]; exists {
		return domain.NewError(domain.ErrBatching, "request %q is already in the queue", req.RequestID)
	}
	q.groups[req.BatchGroup] = append(q.groups[req.BatchGroup], req)
	q.index[req.RequestID] = req.BatchGroup

	q.logger.Debug("request enqueued",
		"request_id", req.RequestID,
		"batch_group", req.BatchGroup,
		"group_size", len(q.groups[req.BatchGroup]))
	return nil
}

// GetBatch atomically pops up to maxSize oldest requests from a group,
// removing the group when it empties.
func (q *Queue) GetBatch(group string, maxSize int) []*QueuedRequest {
	q.mu.Lock()
	defer q.mu.Unlock()

	items := q.groups[group]
	if len(items) == 0 {
		return nil
	}

	n := maxSize
	if n > len(items) {
		n = len(items)
	}
	batch := items[:n]
	rest := items[n:]

	for _, req := range batch {
		delete(q.index, req.RequestID)
	}
	if len(rest) == 0 {
		delete(q.groups, group)
	} else {
		q.groups[group] = rest
	}

	q.logger.Debug("batch popped", "group", group, "batch_size", len(batch))
	return batch
}

// Peek returns up to max requests from a group without removing them.
// max <= 0 returns the whole group.
func (q *Queue) Peek(group string, max int) []*QueuedRequest {
	q.mu.Lock()
	defer q.mu.Unlock()

	items := q.groups[group]
	if max > 0 && max < len(items) {
		items = items[:max]
	}
	out := make([]*QueuedRequest, len(items))
	copy(out, items)
	return out
}

// HasExpired reports whether any request in the group has passed its
// deadline.
func (q *Queue) HasExpired(group string) bool {
	now := time.Now().UTC()
	q.mu.Lock()
	defer q.mu.Unlock()

	for _, req := range q.groups[group] {
		if !req.Deadline.After(now) {
			return true
		}
	}
	return false
}

// OldestAgeMs returns the age of the oldest request in a group in
// milliseconds, or 0 for an empty group.
func (q *Queue) OldestAgeMs(group string) int {
	now := time.Now().UTC()
	q.mu.Lock()
	defer q.mu.Unlock()

	items := q.groups[group]
	if len(items) == 0 {
		return 0
	}
	return int(now.Sub(items[0].EnqueuedAt).Milliseconds())
}

// Remove deletes a specific request by id. Returns false when the id is
// not queued.
func (q *Queue) Remove(requestID string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	group, ok := q.index[requestID]
	if !ok {
		return false
	}
	delete(q.index, requestID)

	items := q.groups[group]
	for i, req := range items {
		if req.RequestID == requestID {
			q.groups[group] = append(items[:i], items[i+1:]...)
			break
		}
	}
	if len(q.groups[group]) == 0 {
		delete(q.groups, group)
	}

	q.logger.Debug("request removed", "request_id", requestID, "group", group)
	return true
}

// Size counts queued requests in a group, or across all groups when the
// group is empty string.
func (q *Queue) Size(group string) int {
	q.mu.Lock()
	defer q.mu.Unlock()

	if group != "" {
		return len(q.groups[group])
	}
	total := 0
	for _, items := range q.groups {
		total += len(items)
	}
	return total
}

// AllGroups returns all non-empty group keys.
func (q *Queue) AllGroups() []string {
	q.mu.Lock()
	defer q.mu.Unlock()

	groups := make([]string, 0, len(q.groups))
	for g, items := range q.groups {
		if len(items) > 0 {
			groups = append(groups, g)
		}
	}
	return groups
}
