package exact

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"asahi/internal/crypto"
	"asahi/internal/domain"
)

const redisKeyPrefix = "asahi:cache:exact:"

// RedisStore is the external key-value backend for the Tier-1 cache.
// TTL is additionally enforced by Redis itself. When an encryptor is
// configured, response payloads are encrypted at rest.
type RedisStore struct {
	client    *redis.Client
	encryptor *crypto.Encryptor
}

// RedisOptions configures the Redis backend.
type RedisOptions struct {
	Addr     string
	Password string
	DB       int
	// Encryptor, when non-nil, encrypts cached responses at rest.
	Encryptor *crypto.Encryptor
}

// NewRedisStore connects to Redis and verifies the connection.
func NewRedisStore(ctx context.Context, opts RedisOptions) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, domain.WrapError(domain.ErrConfiguration, err, "connecting to redis at %s", opts.Addr)
	}
	return &RedisStore{client: client, encryptor: opts.Encryptor}, nil
}

func (s *RedisStore) Get(ctx context.Context, key string) (*Entry, error) {
	data, err := s.client.Get(ctx, redisKeyPrefix+key).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("redis get: %w", err)
	}

	var entry Entry
	if err := json.Unmarshal(data, &entry); err != nil {
		return nil, fmt.Errorf("decoding cache entry: %w", err)
	}
	if s.encryptor != nil {
		plaintext, err := s.encryptor.Decrypt(entry.Response)
		if err != nil {
			return nil, fmt.Errorf("decrypting cache entry: %w", err)
		}
		entry.Response = plaintext
	}
	return &entry, nil
}

func (s *RedisStore) Set(ctx context.Context, key string, entry *Entry, ttl time.Duration) error {
	stored := *entry
	if s.encryptor != nil {
		ciphertext, err := s.encryptor.Encrypt(entry.Response)
		if err != nil {
			return fmt.Errorf("encrypting cache entry: %w", err)
		}
		stored.Response = ciphertext
	}

	data, err := json.Marshal(&stored)
	if err != nil {
		return fmt.Errorf("encoding cache entry: %w", err)
	}
	if ttl <= 0 {
		ttl = time.Second
	}
	if err := s.client.Set(ctx, redisKeyPrefix+key, data, ttl).Err(); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}

func (s *RedisStore) Delete(ctx context.Context, key string) (bool, error) {
	n, err := s.client.Del(ctx, redisKeyPrefix+key).Result()
	if err != nil {
		return false, fmt.Errorf("redis del: %w", err)
	}
	return n > 0, nil
}

func (s *RedisStore) Clear(ctx context.Context) (int, error) {
	keys, err := s.scanKeys(ctx)
	if err != nil {
		return 0, err
	}
	if len(keys) == 0 {
		return 0, nil
	}
	n, err := s.client.Del(ctx, keys...).Result()
	if err != nil {
		return 0, fmt.Errorf("redis clear: %w", err)
	}
	return int(n), nil
}

func (s *RedisStore) Len(ctx context.Context) (int, error) {
	keys, err := s.scanKeys(ctx)
	if err != nil {
		return 0, err
	}
	return len(keys), nil
}

func (s *RedisStore) Keys(ctx context.Context) ([]string, error) {
	keys, err := s.scanKeys(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]string, len(keys))
	for i, k := range keys {
		out[i] = k[len(redisKeyPrefix):]
	}
	return out, nil
}

func (s *RedisStore) scanKeys(ctx context.Context) ([]string, error) {
	var (
		keys   []string
		cursor uint64
	)
	for {
		batch, next, err := s.client.Scan(ctx, cursor, redisKeyPrefix+"*", 500).Result()
		if err != nil {
			return nil, fmt.Errorf("redis scan: %w", err)
		}
		keys = append(keys, batch...)
		cursor = next
		if cursor == 0 {
			return keys, nil
		}
	}
}

// Close releases the Redis connection.
func (s *RedisStore) Close() error { return s.client.Close() }
