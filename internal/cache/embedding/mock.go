package embedding

import (
	"context"
	"hash/fnv"
	"math"
	"math/rand"
)

// MockClient produces deterministic pseudo-random embeddings: the same
// text always yields the same vector. Used in tests and development.
type MockClient struct {
	dimension int
}

// NewMockClient creates a mock embedding client of the given dimension.
func NewMockClient(dimension int) *MockClient {
	if dimension <= 0 {
		dimension = 1024
	}
	return &MockClient{dimension: dimension}
}

// Embed returns one deterministic unit-norm vector per input text.
func (m *MockClient) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, text := range texts {
		out[i] = m.vectorFor(text)
	}
	return out, nil
}

func (m *MockClient) vectorFor(text string) []float32 {
	h := fnv.New64a()
	h.Write([]byte(text))
	rng := rand.New(rand.NewSource(int64(h.Sum64())))

	vec := make([]float32, m.dimension)
	var sum float64
	for i := range vec {
		v := rng.NormFloat64()
		vec[i] = float32(v)
		sum += v * v
	}
	norm := math.Sqrt(sum)
	if norm == 0 {
		return vec
	}
	for i := range vec {
		vec[i] = float32(float64(vec[i]) / norm)
	}
	return vec
}
