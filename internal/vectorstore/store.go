// Package vectorstore abstracts the approximate-nearest-neighbour index
// behind the semantic cache. Two implementations satisfy the contract:
// a brute-force in-memory store for development and tests, and a
// Postgres/pgvector store for production.
package vectorstore

import (
	"context"
)

// Entry is a vector to upsert, with opaque metadata stored alongside.
// Embeddings must be L2-normalised so dot product equals cosine
// similarity.
type Entry struct {
	ID        string
	Embedding []float32
	Metadata  map[string]string
}

// Result is a single similarity search match. Scores are cosine
// similarities clamped to [0, 1].
type Result struct {
	ID       string
	Score    float64
	Metadata map[string]string
}

// Store is the similarity-store contract.
type Store interface {
	// Upsert inserts or updates vectors, returning the count written.
	Upsert(ctx context.Context, entries []Entry) (int, error)

	// Query returns up to topK matches sorted descending by score.
	// filter, when non-nil, requires exact metadata matches.
	Query(ctx context.Context, embedding []float32, topK int, filter map[string]string) ([]Result, error)

	// Delete removes vectors by id, returning the count removed.
	Delete(ctx context.Context, ids []string) (int, error)

	// Count returns the number of stored vectors.
	Count(ctx context.Context) (int, error)
}
