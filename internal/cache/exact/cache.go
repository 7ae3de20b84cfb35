// Package exact implements the Tier-1 exact-match cache: a
// fingerprint-keyed map from normalized prompt to a prior inference
// result, with TTL expiration and hit/miss accounting.
package exact

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"math"
	"strings"
	"sync"
	"time"

	"golang.org/x/text/unicode/norm"

	"asahi/internal/domain"
)

// Entry is a single cached inference response.
type Entry struct {
	Fingerprint string    `json:"fingerprint"`
	Prompt      string    `json:"prompt"`
	Response    string    `json:"response"`
	Model       string    `json:"model"`
	Cost        float64   `json:"cost"`
	CreatedAt   time.Time `json:"created_at"`
	ExpiresAt   time.Time `json:"expires_at"`
	AccessCount int       `json:"access_count"`
}

// Stats are aggregate cache statistics.
type Stats struct {
	Hits           int     `json:"hits"`
	Misses         int     `json:"misses"`
	HitRate        float64 `json:"hit_rate"`
	EntryCount     int     `json:"entry_count"`
	TotalCostSaved float64 `json:"total_cost_saved"`
}

// Store is the key-value backend behind the cache. A nil entry with a
// nil error signals a miss.
type Store interface {
	Get(ctx context.Context, key string) (*Entry, error)
	Set(ctx context.Context, key string, entry *Entry, ttl time.Duration) error
	Delete(ctx context.Context, key string) (bool, error)
	Clear(ctx context.Context) (int, error)
	Len(ctx context.Context) (int, error)
	Keys(ctx context.Context) ([]string, error)
}

// Cache is the Tier-1 exact-match cache. Lookups are keyed by a SHA-256
// fingerprint of the normalized prompt, optionally namespaced by
// tenant. Backend read errors degrade to misses so the request
// continues on the slow path.
type Cache struct {
	store  Store
	ttl    time.Duration
	logger *slog.Logger

	mu             sync.Mutex
	hits           int
	misses         int
	totalCostSaved float64
}

// New creates a cache over the given store. ttlSeconds <= 0 falls back
// to 24 hours.
func New(store Store, ttlSeconds int, logger *slog.Logger) *Cache {
	if ttlSeconds <= 0 {
		ttlSeconds = 86400
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Cache{
		store:  store,
		ttl:    time.Duration(ttlSeconds) * time.Second,
		logger: logger,
	}
}

// NormalizePrompt applies Unicode NFC normalization and trims
// surrounding whitespace so byte-identical semantics hash identically.
func NormalizePrompt(prompt string) string {
	return norm.NFC.String(strings.TrimSpace(prompt))
}

// GenerateKey returns the deterministic fingerprint for a prompt,
// prefixed with the tenant id when one is set.
func GenerateKey(prompt, tenantID string) string {
	normalized := NormalizePrompt(prompt)
	if tenantID != "" {
		normalized = tenantID + "|" + normalized
	}
	sum := sha256.Sum256([]byte(normalized))
	return hex.EncodeToString(sum[:])
}

// Get looks up a cached response. Expired entries are evicted and
// counted as misses; hits increment the entry's access count and the
// cost-saved total.
func (c *Cache) Get(ctx context.Context, prompt, tenantID string) *Entry {
	key := GenerateKey(prompt, tenantID)

	entry, err := c.store.Get(ctx, key)
	if err != nil {
		c.logger.Warn("cache backend read failed, treating as miss", "fingerprint", key, "error", err)
		c.recordMiss()
		return nil
	}
	if entry == nil {
		c.recordMiss()
		return nil
	}

	now := time.Now().UTC()
	if !now.Before(entry.ExpiresAt) {
		if _, err := c.store.Delete(ctx, key); err != nil {
			c.logger.Warn("failed to evict expired entry", "fingerprint", key, "error", err)
		}
		c.recordMiss()
		c.logger.Debug("cache entry expired", "fingerprint", key)
		return nil
	}

	entry.AccessCount++
	if err := c.store.Set(ctx, key, entry, time.Until(entry.ExpiresAt)); err != nil {
		c.logger.Warn("failed to persist access count", "fingerprint", key, "error", err)
	}

	c.mu.Lock()
	c.hits++
	c.totalCostSaved += entry.Cost
	c.mu.Unlock()

	c.logger.Debug("cache hit", "fingerprint", key, "access_count", entry.AccessCount)
	return entry
}

// Set stores a new cache entry. The prompt must be non-empty; an
// existing fingerprint is overwritten with a warning. Backend write
// errors are logged and the entry is returned anyway so the gateway
// proceeds without caching.
func (c *Cache) Set(ctx context.Context, prompt, tenantID, response, model string, cost float64) (*Entry, error) {
	if strings.TrimSpace(prompt) == "" {
		return nil, domain.ValidationError("prompt", "prompt must not be empty")
	}

	key := GenerateKey(prompt, tenantID)
	now := time.Now().UTC()

	if existing, err := c.store.Get(ctx, key); err == nil && existing != nil {
		c.logger.Warn("cache key overwrite", "fingerprint", key,
			"old_prompt_prefix", prefix(existing.Prompt, 40),
			"new_prompt_prefix", prefix(prompt, 40))
	}

	entry := &Entry{
		Fingerprint: key,
		Prompt:      prompt,
		Response:    response,
		Model:       model,
		Cost:        cost,
		CreatedAt:   now,
		ExpiresAt:   now.Add(c.ttl),
	}
	if err := c.store.Set(ctx, key, entry, c.ttl); err != nil {
		c.logger.Warn("cache backend write failed", "fingerprint", key, "error", err)
	}
	return entry, nil
}

// Invalidate removes a cache entry by prompt. Returns true if an entry
// was removed.
func (c *Cache) Invalidate(ctx context.Context, prompt, tenantID string) bool {
	key := GenerateKey(prompt, tenantID)
	removed, err := c.store.Delete(ctx, key)
	if err != nil {
		c.logger.Warn("cache invalidation failed", "fingerprint", key, "error", err)
		return false
	}
	if removed {
		c.logger.Info("cache entry invalidated", "fingerprint", key)
	}
	return removed
}

// Clear empties the cache and returns the number of entries removed.
func (c *Cache) Clear(ctx context.Context) int {
	count, err := c.store.Clear(ctx)
	if err != nil {
		c.logger.Warn("cache clear failed", "error", err)
		return 0
	}
	c.logger.Info("cache cleared", "entries_removed", count)
	return count
}

// CleanupExpired removes all expired entries, returning the count removed.
func (c *Cache) CleanupExpired(ctx context.Context) int {
	keys, err := c.store.Keys(ctx)
	if err != nil {
		c.logger.Warn("cache cleanup scan failed", "error", err)
		return 0
	}
	now := time.Now().UTC()
	removed := 0
	for _, key := range keys {
		entry, err := c.store.Get(ctx, key)
		if err != nil || entry == nil {
			continue
		}
		if !now.Before(entry.ExpiresAt) {
			if ok, _ := c.store.Delete(ctx, key); ok {
				removed++
			}
		}
	}
	if removed > 0 {
		c.logger.Info("expired entries cleaned up", "count", removed)
	}
	return removed
}

// Stats returns aggregate cache statistics.
func (c *Cache) Stats(ctx context.Context) Stats {
	count, err := c.store.Len(ctx)
	if err != nil {
		c.logger.Warn("cache size query failed", "error", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	total := c.hits + c.misses
	hitRate := 0.0
	if total > 0 {
		hitRate = float64(c.hits) / float64(total)
	}
	return Stats{
		Hits:           c.hits,
		Misses:         c.misses,
		HitRate:        hitRate,
		EntryCount:     count,
		TotalCostSaved: math.Round(c.totalCostSaved*1e6) / 1e6,
	}
}

func (c *Cache) recordMiss() {
	c.mu.Lock()
	c.misses++
	c.mu.Unlock()
}

func prefix(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
