package vectorstore

import (
	"context"
	"math"
	"sort"
	"sync"

	"asahi/internal/domain"
)

// MemoryStore is a brute-force in-memory vector store. Suitable for
// development and testing; linear scan per query.
type MemoryStore struct {
	mu       sync.RWMutex
	vectors  map[string][]float32
	metadata map[string]map[string]string
}

// NewMemoryStore creates an empty in-memory vector store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		vectors:  make(map[string][]float32),
		metadata: make(map[string]map[string]string),
	}
}

// Upsert inserts or updates vectors. Dimensions must be consistent with
// vectors already in the store.
func (s *MemoryStore) Upsert(ctx context.Context, entries []Entry) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	count := 0
	for _, entry := range entries {
		if _, exists := s.vectors[entry.ID]; !exists && len(s.vectors) > 0 {
			for _, existing := range s.vectors {
				if len(existing) != len(entry.Embedding) {
					return count, domain.NewError(domain.ErrSimilarityStore,
						"dimension mismatch: expected %d, got %d", len(existing), len(entry.Embedding))
				}
				break
			}
		}
		vec := make([]float32, len(entry.Embedding))
		copy(vec, entry.Embedding)
		s.vectors[entry.ID] = vec

		meta := make(map[string]string, len(entry.Metadata))
		for k, v := range entry.Metadata {
			meta[k] = v
		}
		s.metadata[entry.ID] = meta
		count++
	}
	return count, nil
}

// Query performs a brute-force cosine scan and returns the topK matches
// sorted descending by score.
func (s *MemoryStore) Query(ctx context.Context, embedding []float32, topK int, filter map[string]string) ([]Result, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if len(s.vectors) == 0 {
		return nil, nil
	}

	queryNorm := l2norm(embedding)
	if queryNorm == 0 {
		return nil, nil
	}

	var results []Result
	for id, vec := range s.vectors {
		if filter != nil && !matchesFilter(s.metadata[id], filter) {
			continue
		}
		vecNorm := l2norm(vec)
		if vecNorm == 0 {
			continue
		}
		score := dot(embedding, vec) / (queryNorm * vecNorm)
		score = math.Max(0, math.Min(1, score))
		results = append(results, Result{ID: id, Score: score, Metadata: s.metadata[id]})
	}

	sort.Slice(results, func(i, j int) bool { return results[i].Score > results[j].Score })
	if topK > 0 && len(results) > topK {
		results = results[:topK]
	}
	return results, nil
}

// Delete removes vectors by id, returning the count actually removed.
func (s *MemoryStore) Delete(ctx context.Context, ids []string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	count := 0
	for _, id := range ids {
		if _, ok := s.vectors[id]; ok {
			delete(s.vectors, id)
			delete(s.metadata, id)
			count++
		}
	}
	return count, nil
}

// Count returns the number of stored vectors.
func (s *MemoryStore) Count(ctx context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.vectors), nil
}

func matchesFilter(meta, filter map[string]string) bool {
	for k, v := range filter {
		if meta[k] != v {
			return false
		}
	}
	return true
}

func dot(a, b []float32) float64 {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	var sum float64
	for i := 0; i < n; i++ {
		sum += float64(a[i]) * float64(b[i])
	}
	return sum
}

func l2norm(v []float32) float64 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	return math.Sqrt(sum)
}
