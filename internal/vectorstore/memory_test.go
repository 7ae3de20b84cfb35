package vectorstore

import (
	"context"
	"testing"

	"asahi/internal/domain"
)

func TestMemoryStoreUpsertQuery(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	n, err := store.Upsert(ctx, []Entry{
		{ID: "a", Embedding: []float32{1, 0, 0}, Metadata: map[string]string{"task_type": "faq"}},
		{ID: "b", Embedding: []float32{0, 1, 0}, Metadata: map[string]string{"task_type": "coding"}},
		{ID: "c", Embedding: []float32{0.707, 0.707, 0}},
	})
	if err != nil {
		t.Fatalf("Upsert failed: %v", err)
	}
	if n != 3 {
		t.Errorf("Upsert = %d, want 3", n)
	}

	t.Run("sorted descending by score", func(t *testing.T) {
		results, err := store.Query(ctx, []float32{1, 0, 0}, 3, nil)
		if err != nil {
			t.Fatalf("Query failed: %v", err)
		}
		if len(results) != 3 {
			t.Fatalf("got %d results, want 3", len(results))
		}
		if results[0].ID != "a" {
			t.Errorf("best match = %s, want a", results[0].ID)
		}
		for i := 1; i < len(results); i++ {
			if results[i].Score > results[i-1].Score {
				t.Error("results not sorted descending")
			}
		}
		if results[0].Score < 0.999 || results[0].Score > 1 {
			t.Errorf("identical vector score = %v, want ~1.0", results[0].Score)
		}
	})

	t.Run("topK bounds results", func(t *testing.T) {
		results, _ := store.Query(ctx, []float32{1, 0, 0}, 1, nil)
		if len(results) != 1 {
			t.Errorf("got %d results, want 1", len(results))
		}
	})

	t.Run("scores clamped to [0,1]", func(t *testing.T) {
		results, _ := store.Query(ctx, []float32{-1, 0, 0}, 3, nil)
		for _, r := range results {
			if r.Score < 0 || r.Score > 1 {
				t.Errorf("score %v out of [0,1]", r.Score)
			}
		}
	})

	t.Run("metadata filter", func(t *testing.T) {
		results, _ := store.Query(ctx, []float32{1, 0, 0}, 5, map[string]string{"task_type": "coding"})
		if len(results) != 1 || results[0].ID != "b" {
			t.Errorf("filter returned %v, want [b]", results)
		}
	})
}

func TestMemoryStoreDimensionMismatch(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	store.Upsert(ctx, []Entry{{ID: "a", Embedding: []float32{1, 0, 0}}})
	_, err := store.Upsert(ctx, []Entry{{ID: "b", Embedding: []float32{1, 0}}})
	if domain.Kind(err) != domain.ErrSimilarityStore {
		t.Errorf("expected similarity_store error, got %v", err)
	}
}

func TestMemoryStoreDelete(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	store.Upsert(ctx, []Entry{
		{ID: "a", Embedding: []float32{1, 0}},
		{ID: "b", Embedding: []float32{0, 1}},
	})

	n, err := store.Delete(ctx, []string{"a", "missing"})
	if err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if n != 1 {
		t.Errorf("Delete = %d, want 1", n)
	}
	if count, _ := store.Count(ctx); count != 1 {
		t.Errorf("Count = %d, want 1", count)
	}
}

func TestMemoryStoreEmpty(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	results, err := store.Query(ctx, []float32{1, 0}, 5, nil)
	if err != nil || results != nil {
		t.Errorf("empty store query = %v, %v; want nil, nil", results, err)
	}
	if count, _ := store.Count(ctx); count != 0 {
		t.Errorf("Count = %d, want 0", count)
	}
}
