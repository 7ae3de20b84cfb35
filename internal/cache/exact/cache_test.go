package exact

import (
	"context"
	"testing"
	"time"

	"asahi/internal/domain"
)

func newTestCache(t *testing.T, ttlSeconds int) *Cache {
	t.Helper()
	store, err := NewMemoryStore(100)
	if err != nil {
		t.Fatalf("NewMemoryStore failed: %v", err)
	}
	return New(store, ttlSeconds, nil)
}

func TestGenerateKey(t *testing.T) {
	t.Run("deterministic", func(t *testing.T) {
		if GenerateKey("What is Python?", "") != GenerateKey("What is Python?", "") {
			t.Error("same prompt should produce the same key")
		}
	})

	t.Run("whitespace normalized", func(t *testing.T) {
		if GenerateKey("  What is Python?  ", "") != GenerateKey("What is Python?", "") {
			t.Error("surrounding whitespace should not change the key")
		}
	})

	t.Run("tenant prefix isolates", func(t *testing.T) {
		if GenerateKey("q", "tenant-a") == GenerateKey("q", "tenant-b") {
			t.Error("different tenants should produce different keys")
		}
	})

	t.Run("different prompts differ", func(t *testing.T) {
		if GenerateKey("a", "") == GenerateKey("b", "") {
			t.Error("different prompts should produce different keys")
		}
	})
}

func TestCacheSetGet(t *testing.T) {
	ctx := context.Background()
	cache := newTestCache(t, 3600)

	entry, err := cache.Set(ctx, "What is Python?", "", "A programming language.", "claude-3-5-sonnet", 0.002)
	if err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	if entry.Fingerprint == "" {
		t.Error("entry should carry its fingerprint")
	}

	got := cache.Get(ctx, "What is Python?", "")
	if got == nil {
		t.Fatal("expected a hit")
	}
	if got.Response != "A programming language." {
		t.Errorf("response = %q", got.Response)
	}
	if got.Model != "claude-3-5-sonnet" {
		t.Errorf("model = %q", got.Model)
	}
	if got.AccessCount != 1 {
		t.Errorf("access_count = %d, want 1", got.AccessCount)
	}

	stats := cache.Stats(ctx)
	if stats.Hits != 1 || stats.Misses != 0 {
		t.Errorf("stats = %+v, want 1 hit 0 misses", stats)
	}
	if stats.TotalCostSaved != 0.002 {
		t.Errorf("total_cost_saved = %v, want 0.002", stats.TotalCostSaved)
	}
}

func TestCacheMiss(t *testing.T) {
	ctx := context.Background()
	cache := newTestCache(t, 3600)

	if got := cache.Get(ctx, "never stored", ""); got != nil {
		t.Fatal("expected a miss")
	}
	stats := cache.Stats(ctx)
	if stats.Misses != 1 {
		t.Errorf("misses = %d, want 1", stats.Misses)
	}
	if stats.HitRate != 0 {
		t.Errorf("hit_rate = %v, want 0", stats.HitRate)
	}
}

func TestCacheExpiry(t *testing.T) {
	ctx := context.Background()
	store, err := NewMemoryStore(100)
	if err != nil {
		t.Fatal(err)
	}
	cache := New(store, 3600, nil)

	if _, err := cache.Set(ctx, "q", "", "r", "m", 0.01); err != nil {
		t.Fatal(err)
	}

	// Force the stored entry past its TTL.
	key := GenerateKey("q", "")
	entry, _ := store.Get(ctx, key)
	entry.ExpiresAt = time.Now().UTC().Add(-time.Second)

	if got := cache.Get(ctx, "q", ""); got != nil {
		t.Fatal("expired entry should miss")
	}
	if n, _ := store.Len(ctx); n != 0 {
		t.Errorf("expired entry should be evicted, %d entries remain", n)
	}
	stats := cache.Stats(ctx)
	if stats.Misses != 1 {
		t.Errorf("expired get should count as miss, got %+v", stats)
	}
}

func TestCacheEmptyPrompt(t *testing.T) {
	ctx := context.Background()
	cache := newTestCache(t, 3600)

	for _, prompt := range []string{"", "   ", "\t\n"} {
		_, err := cache.Set(ctx, prompt, "", "r", "m", 0)
		if domain.Kind(err) != domain.ErrValidation {
			t.Errorf("Set(%q) error kind = %v, want validation", prompt, domain.Kind(err))
		}
	}
}

func TestCacheInvalidate(t *testing.T) {
	ctx := context.Background()
	cache := newTestCache(t, 3600)

	cache.Set(ctx, "q", "", "r", "m", 0)
	if !cache.Invalidate(ctx, "q", "") {
		t.Error("Invalidate should report removal")
	}
	if cache.Invalidate(ctx, "q", "") {
		t.Error("second Invalidate should report nothing removed")
	}
	if got := cache.Get(ctx, "q", ""); got != nil {
		t.Error("invalidated entry should miss")
	}
}

func TestCacheClear(t *testing.T) {
	ctx := context.Background()
	cache := newTestCache(t, 3600)

	cache.Set(ctx, "a", "", "r", "m", 0)
	cache.Set(ctx, "b", "", "r", "m", 0)
	if n := cache.Clear(ctx); n != 2 {
		t.Errorf("Clear = %d, want 2", n)
	}
	if stats := cache.Stats(ctx); stats.EntryCount != 0 {
		t.Errorf("entry_count = %d after clear", stats.EntryCount)
	}
}

func TestCacheOverwrite(t *testing.T) {
	ctx := context.Background()
	cache := newTestCache(t, 3600)

	cache.Set(ctx, "q", "", "old", "m1", 0.01)
	cache.Set(ctx, "q", "", "new", "m2", 0.02)

	got := cache.Get(ctx, "q", "")
	if got == nil || got.Response != "new" || got.Model != "m2" {
		t.Errorf("overwrite not applied: %+v", got)
	}
}

func TestCacheHitRate(t *testing.T) {
	ctx := context.Background()
	cache := newTestCache(t, 3600)

	cache.Set(ctx, "q", "", "r", "m", 0)
	cache.Get(ctx, "q", "")     // hit
	cache.Get(ctx, "other", "") // miss

	stats := cache.Stats(ctx)
	if stats.HitRate != 0.5 {
		t.Errorf("hit_rate = %v, want 0.5", stats.HitRate)
	}
}

func TestCleanupExpired(t *testing.T) {
	ctx := context.Background()
	store, err := NewMemoryStore(100)
	if err != nil {
		t.Fatal(err)
	}
	cache := New(store, 3600, nil)

	cache.Set(ctx, "fresh", "", "r", "m", 0)
	cache.Set(ctx, "stale", "", "r", "m", 0)
	entry, _ := store.Get(ctx, GenerateKey("stale", ""))
	entry.ExpiresAt = time.Now().UTC().Add(-time.Minute)

	if n := cache.CleanupExpired(ctx); n != 1 {
		t.Errorf("CleanupExpired = %d, want 1", n)
	}
	if got := cache.Get(ctx, "fresh", ""); got == nil {
		t.Error("fresh entry should survive cleanup")
	}
}
