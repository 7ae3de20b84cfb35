// Package embedding generates unit-norm vector embeddings for text.
// Embeddings are the foundation for all semantic matching in the
// Tier-2 cache.
package embedding

import (
	"context"
	"log/slog"
	"math"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"golang.org/x/sync/singleflight"

	"asahi/internal/domain"
)

// Client is the narrow interface an embedding provider must implement.
type Client interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// Config controls batching and retry behaviour.
type Config struct {
	Dimension  int
	BatchSize  int
	MaxRetries int
	// RetryBaseInterval is the first backoff; zero means one second.
	RetryBaseInterval time.Duration
}

// DefaultConfig returns the default embedding configuration.
func DefaultConfig() Config {
	return Config{Dimension: 1024, BatchSize: 96, MaxRetries: 3}
}

// Service wraps an embedding client with batching, retry, unit-norm
// enforcement, and deduplication of concurrent identical requests.
type Service struct {
	client Client
	config Config
	logger *slog.Logger
	group  singleflight.Group
}

// NewService creates a new embedding service.
func NewService(client Client, config Config, logger *slog.Logger) *Service {
	if config.Dimension <= 0 {
		config.Dimension = 1024
	}
	if config.BatchSize <= 0 {
		config.BatchSize = 96
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{client: client, config: config, logger: logger}
}

// Dimension returns the configured embedding dimension.
func (s *Service) Dimension() int { return s.config.Dimension }

// EmbedText embeds a single text. Concurrent calls for the same text
// share one provider call.
func (s *Service) EmbedText(ctx context.Context, text string) ([]float32, error) {
	if strings.TrimSpace(text) == "" {
		return nil, domain.ValidationError("text", "text must not be empty")
	}

	v, err, _ := s.group.Do(text, func() (any, error) {
		vecs, err := s.EmbedTexts(ctx, []string{text})
		if err != nil {
			return nil, err
		}
		return vecs[0], nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]float32), nil
}

// EmbedTexts embeds multiple texts, splitting into provider batches of
// the configured size and returning results in input order.
func (s *Service) EmbedTexts(ctx context.Context, texts []string) ([][]float32, error) {
	for i, text := range texts {
		if strings.TrimSpace(text) == "" {
			return nil, domain.ValidationError("texts", "text at index %d must not be empty", i)
		}
	}

	all := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += s.config.BatchSize {
		end := start + s.config.BatchSize
		if end > len(texts) {
			end = len(texts)
		}
		vecs, err := s.embedBatch(ctx, texts[start:end])
		if err != nil {
			return nil, err
		}
		all = append(all, vecs...)
	}
	return all, nil
}

// embedBatch calls the provider with exponential-backoff retry, then
// validates and normalises every returned vector.
func (s *Service) embedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	var vecs [][]float32

	base := s.config.RetryBaseInterval
	if base <= 0 {
		base = time.Second
	}
	policy := backoff.WithContext(backoff.WithMaxRetries(
		backoff.NewExponentialBackOff(
			backoff.WithInitialInterval(base),
			backoff.WithMaxInterval(30*time.Second),
		),
		uint64(s.config.MaxRetries),
	), ctx)

	attempt := 0
	err := backoff.Retry(func() error {
		attempt++
		out, err := s.client.Embed(ctx, texts)
		if err != nil {
			s.logger.Warn("embedding call failed, retrying",
				"attempt", attempt, "batch_size", len(texts), "error", err)
			return err
		}
		vecs = out
		return nil
	}, policy)
	if err != nil {
		return nil, domain.WrapError(domain.ErrEmbedding, err,
			"embedding failed after %d attempts", attempt)
	}

	if len(vecs) != len(texts) {
		return nil, domain.NewError(domain.ErrEmbedding,
			"provider returned %d vectors for %d texts", len(vecs), len(texts))
	}
	for i, vec := range vecs {
		normalised, err := s.normalise(vec)
		if err != nil {
			return nil, err
		}
		vecs[i] = normalised
	}
	return vecs, nil
}

// normalise L2-normalises a vector to unit length. A dimension mismatch
// against the configured dimension is fatal.
func (s *Service) normalise(vec []float32) ([]float32, error) {
	if len(vec) != s.config.Dimension {
		return nil, domain.NewError(domain.ErrEmbedding,
			"dimension mismatch: expected %d, got %d", s.config.Dimension, len(vec))
	}
	var sum float64
	for _, x := range vec {
		sum += float64(x) * float64(x)
	}
	norm := math.Sqrt(sum)
	if norm == 0 {
		return vec, nil
	}
	out := make([]float32, len(vec))
	for i, x := range vec {
		out[i] = float32(float64(x) / norm)
	}
	return out, nil
}

// CosineSimilarity computes cosine similarity between two vectors,
// clamped to [-1, 1]. Vectors of unequal dimension are an error.
func CosineSimilarity(a, b []float32) (float64, error) {
	if len(a) != len(b) {
		return 0, domain.NewError(domain.ErrEmbedding,
			"vector dimension mismatch: %d vs %d", len(a), len(b))
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0, nil
	}
	sim := dot / (math.Sqrt(na) * math.Sqrt(nb))
	return math.Max(-1, math.Min(1, sim)), nil
}
