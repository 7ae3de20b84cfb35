package semantic

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"

	"asahi/internal/cache/embedding"
	"asahi/internal/vectorstore"
)

const defaultTopK = 5

// Result is the outcome of a Tier-2 cache lookup.
type Result struct {
	Hit         bool
	Response    string
	Model       string
	Similarity  float64
	CachedQuery string
	Reason      string
}

// Stats are aggregate Tier-2 statistics.
type Stats struct {
	Hits       int     `json:"hits"`
	Misses     int     `json:"misses"`
	HitRate    float64 `json:"hit_rate"`
	EntryCount int     `json:"entry_count"`
}

// Cache is the Tier-2 semantic similarity cache. It embeds the query,
// retrieves nearest neighbours from the similarity store, and applies
// the economic admission rule to decide reuse.
type Cache struct {
	embedder *embedding.Service
	store    vectorstore.Store
	mismatch *MismatchCalculator
	tuner    *ThresholdTuner
	ttl      time.Duration
	topK     int
	logger   *slog.Logger

	mu     sync.Mutex
	hits   int
	misses int
}

// New creates a semantic cache. ttlSeconds <= 0 falls back to 24 hours.
func New(embedder *embedding.Service, store vectorstore.Store, ttlSeconds int, logger *slog.Logger) *Cache {
	if ttlSeconds <= 0 {
		ttlSeconds = 86400
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Cache{
		embedder: embedder,
		store:    store,
		mismatch: NewMismatchCalculator(),
		tuner:    NewThresholdTuner(),
		ttl:      time.Duration(ttlSeconds) * time.Second,
		topK:     defaultTopK,
		logger:   logger,
	}
}

// Tuner exposes the threshold tuner for runtime adjustment.
func (c *Cache) Tuner() *ThresholdTuner { return c.tuner }

// Mismatch exposes the mismatch calculator.
func (c *Cache) Mismatch() *MismatchCalculator { return c.mismatch }

// Get looks up a semantically similar cached response. Embedding and
// store failures degrade to misses so the request continues to live
// inference.
func (c *Cache) Get(ctx context.Context, query, taskType, costSensitivity string, recomputeCost float64) Result {
	if taskType == "" {
		taskType = "general"
	}
	if costSensitivity == "" {
		costSensitivity = SensitivityMedium
	}

	queryEmbedding, err := c.embedder.EmbedText(ctx, query)
	if err != nil {
		c.logger.Error("failed to embed query for semantic lookup", "error", err)
		c.recordMiss()
		return Result{Reason: fmt.Sprintf("embedding failed: %v", err)}
	}

	results, err := c.store.Query(ctx, queryEmbedding, c.topK, nil)
	if err != nil {
		c.logger.Error("similarity store query failed", "error", err)
		c.recordMiss()
		return Result{Reason: fmt.Sprintf("similarity store failed: %v", err)}
	}
	if len(results) == 0 {
		c.recordMiss()
		return Result{Reason: "no entries in similarity store"}
	}

	now := time.Now().UTC()
	threshold := c.tuner.Threshold(taskType, costSensitivity)

	for _, candidate := range results {
		if expired(candidate.Metadata, now) {
			continue
		}

		if candidate.Score < threshold {
			// A semantically identical query may have been detected as a
			// different task type when it was cached. Re-check against the
			// entry's own threshold and keep the more lenient of the two.
			cachedTask := candidate.Metadata["task_type"]
			if cachedTask == "" || cachedTask == taskType {
				continue
			}
			cachedThreshold := c.tuner.Threshold(cachedTask, costSensitivity)
			if candidate.Score < math.Min(threshold, cachedThreshold) {
				continue
			}
		}

		useCache, reason := c.mismatch.ShouldUseCache(candidate.Score, taskType, recomputeCost)
		if !useCache {
			continue
		}

		c.recordHit()
		c.logger.Info("semantic cache hit",
			"similarity", round4(candidate.Score),
			"task_type", taskType,
			"cached_query_prefix", prefix(candidate.Metadata["prompt"], 40))

		return Result{
			Hit:         true,
			Response:    candidate.Metadata["response"],
			Model:       candidate.Metadata["model"],
			Similarity:  round4(candidate.Score),
			CachedQuery: candidate.Metadata["prompt"],
			Reason:      reason,
		}
	}

	c.recordMiss()
	return Result{
		Reason: fmt.Sprintf("no sufficiently similar cached query (best=%.3f, threshold=%v)",
			results[0].Score, threshold),
	}
}

// Set stores a query-response pair. Embedding failures are logged and
// skipped; exact-match caching still covers the prompt.
func (c *Cache) Set(ctx context.Context, query, response, model string, cost float64, taskType string) {
	if taskType == "" {
		taskType = "general"
	}

	queryEmbedding, err := c.embedder.EmbedText(ctx, query)
	if err != nil {
		c.logger.Error("failed to embed query for semantic insert", "error", err)
		return
	}

	now := time.Now().UTC()
	entry := vectorstore.Entry{
		ID:        uuid.NewString(),
		Embedding: queryEmbedding,
		Metadata: map[string]string{
			"prompt":     query,
			"response":   response,
			"model":      model,
			"cost":       strconv.FormatFloat(cost, 'f', -1, 64),
			"task_type":  taskType,
			"created_at": now.Format(time.RFC3339Nano),
			"expires_at": now.Add(c.ttl).Format(time.RFC3339Nano),
		},
	}

	if _, err := c.store.Upsert(ctx, []vectorstore.Entry{entry}); err != nil {
		c.logger.Error("semantic cache insert failed", "error", err)
		return
	}
	c.logger.Debug("semantic cache set", "vector_id", entry.ID, "task_type", taskType)
}

// Invalidate removes the entry closest to the query when it is a
// near-exact match.
func (c *Cache) Invalidate(ctx context.Context, query string) bool {
	queryEmbedding, err := c.embedder.EmbedText(ctx, query)
	if err != nil {
		return false
	}
	results, err := c.store.Query(ctx, queryEmbedding, 1, nil)
	if err != nil || len(results) == 0 || results[0].Score <= 0.99 {
		return false
	}
	n, err := c.store.Delete(ctx, []string{results[0].ID})
	return err == nil && n > 0
}

// Stats returns Tier-2 statistics.
func (c *Cache) Stats(ctx context.Context) Stats {
	count, err := c.store.Count(ctx)
	if err != nil {
		c.logger.Warn("similarity store count failed", "error", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	total := c.hits + c.misses
	hitRate := 0.0
	if total > 0 {
		hitRate = float64(c.hits) / float64(total)
	}
	return Stats{Hits: c.hits, Misses: c.misses, HitRate: hitRate, EntryCount: count}
}

func (c *Cache) recordHit() {
	c.mu.Lock()
	c.hits++
	c.mu.Unlock()
}

func (c *Cache) recordMiss() {
	c.mu.Lock()
	c.misses++
	c.mu.Unlock()
}

func expired(metadata map[string]string, now time.Time) bool {
	raw, ok := metadata["expires_at"]
	if !ok {
		return false
	}
	expiresAt, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return false
	}
	return !now.Before(expiresAt)
}

func round4(v float64) float64 {
	return math.Round(v*1e4) / 1e4
}

func prefix(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
