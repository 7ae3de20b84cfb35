package vectorstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/pgvector/pgvector-go"
	_ "github.com/lib/pq"

	"asahi/internal/domain"
)

// PgvectorStore is the production similarity store backed by Postgres
// with the pgvector extension. Cosine distance is computed by the
// database (`<=>`), so queries stay fast as the index grows.
type PgvectorStore struct {
	db        *sql.DB
	dimension int
}

// NewPgvectorStore wraps an open database handle. Migrate must be
// called once before first use.
func NewPgvectorStore(db *sql.DB, dimension int) *PgvectorStore {
	return &PgvectorStore{db: db, dimension: dimension}
}

// OpenPgvectorStore connects to Postgres and prepares the schema.
func OpenPgvectorStore(dsn string, dimension int) (*PgvectorStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, domain.WrapError(domain.ErrSimilarityStore, err, "opening postgres")
	}
	store := NewPgvectorStore(db, dimension)
	if err := store.Migrate(context.Background()); err != nil {
		db.Close()
		return nil, err
	}
	return store, nil
}

// Migrate creates the vector table and index if they do not exist.
func (s *PgvectorStore) Migrate(ctx context.Context) error {
	stmts := []string{
		`CREATE EXTENSION IF NOT EXISTS vector`,
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS asahi_vectors (
			id         TEXT PRIMARY KEY,
			embedding  vector(%d) NOT NULL,
			metadata   JSONB NOT NULL DEFAULT '{}',
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`, s.dimension),
		`CREATE INDEX IF NOT EXISTS asahi_vectors_embedding_idx
			ON asahi_vectors USING ivfflat (embedding vector_cosine_ops)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return domain.WrapError(domain.ErrSimilarityStore, err, "migrating vector schema")
		}
	}
	return nil
}

// Upsert inserts or updates vectors, returning the count written.
func (s *PgvectorStore) Upsert(ctx context.Context, entries []Entry) (int, error) {
	if len(entries) == 0 {
		return 0, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, domain.WrapError(domain.ErrSimilarityStore, err, "beginning upsert")
	}
	defer tx.Rollback()

	const query = `
		INSERT INTO asahi_vectors (id, embedding, metadata)
		VALUES ($1, $2, $3)
		ON CONFLICT (id) DO UPDATE
		SET embedding = EXCLUDED.embedding, metadata = EXCLUDED.metadata
	`

	count := 0
	for _, entry := range entries {
		if len(entry.Embedding) != s.dimension {
			return count, domain.NewError(domain.ErrSimilarityStore,
				"dimension mismatch: expected %d, got %d", s.dimension, len(entry.Embedding))
		}
		metaJSON, err := json.Marshal(entry.Metadata)
		if err != nil {
			return count, domain.WrapError(domain.ErrSimilarityStore, err, "encoding metadata for %s", entry.ID)
		}
		if _, err := tx.ExecContext(ctx, query, entry.ID, pgvector.NewVector(entry.Embedding), metaJSON); err != nil {
			return count, domain.WrapError(domain.ErrSimilarityStore, err, "upserting vector %s", entry.ID)
		}
		count++
	}

	if err := tx.Commit(); err != nil {
		return 0, domain.WrapError(domain.ErrSimilarityStore, err, "committing upsert")
	}
	return count, nil
}

// Query returns up to topK matches sorted descending by cosine
// similarity. Scores from the database are clamped to [0, 1].
func (s *PgvectorStore) Query(ctx context.Context, embedding []float32, topK int, filter map[string]string) ([]Result, error) {
	if len(embedding) != s.dimension {
		return nil, domain.NewError(domain.ErrSimilarityStore,
			"query dimension mismatch: expected %d, got %d", s.dimension, len(embedding))
	}
	if topK <= 0 {
		topK = 5
	}

	query := `
		SELECT id, metadata, 1 - (embedding <=> $1::vector) AS similarity
		FROM asahi_vectors
	`
	args := []any{pgvector.NewVector(embedding)}

	if len(filter) > 0 {
		filterJSON, err := json.Marshal(filter)
		if err != nil {
			return nil, domain.WrapError(domain.ErrSimilarityStore, err, "encoding filter")
		}
		query += ` WHERE metadata @> $2::jsonb ORDER BY similarity DESC LIMIT $3`
		args = append(args, filterJSON, topK)
	} else {
		query += ` ORDER BY similarity DESC LIMIT $2`
		args = append(args, topK)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, domain.WrapError(domain.ErrSimilarityStore, err, "querying vectors")
	}
	defer rows.Close()

	var results []Result
	for rows.Next() {
		var (
			r        Result
			metaJSON []byte
		)
		if err := rows.Scan(&r.ID, &metaJSON, &r.Score); err != nil {
			return nil, domain.WrapError(domain.ErrSimilarityStore, err, "scanning result")
		}
		if r.Score < 0 {
			r.Score = 0
		} else if r.Score > 1 {
			r.Score = 1
		}
		if err := json.Unmarshal(metaJSON, &r.Metadata); err != nil {
			return nil, domain.WrapError(domain.ErrSimilarityStore, err, "decoding metadata for %s", r.ID)
		}
		results = append(results, r)
	}
	return results, rows.Err()
}

// Delete removes vectors by id, returning the count removed.
func (s *PgvectorStore) Delete(ctx context.Context, ids []string) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	count := 0
	for _, id := range ids {
		res, err := s.db.ExecContext(ctx, `DELETE FROM asahi_vectors WHERE id = $1`, id)
		if err != nil {
			return count, domain.WrapError(domain.ErrSimilarityStore, err, "deleting vector %s", id)
		}
		if n, _ := res.RowsAffected(); n > 0 {
			count++
		}
	}
	return count, nil
}

// Count returns the number of stored vectors.
func (s *PgvectorStore) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM asahi_vectors`).Scan(&n); err != nil {
		return 0, domain.WrapError(domain.ErrSimilarityStore, err, "counting vectors")
	}
	return n, nil
}

// Close releases the underlying database handle.
func (s *PgvectorStore) Close() error { return s.db.Close() }
