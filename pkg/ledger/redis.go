package ledger

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// RedisStore keeps the ledger as one JSON value under a single key.
type RedisStore struct {
	client *redis.Client
	key    string
}

// NewRedisStore creates a store writing to key.
func NewRedisStore(client *redis.Client, key string) *RedisStore {
	return &RedisStore{client: client, key: key}
}

// Location returns the redis key.
func (s *RedisStore) Location() string {
	return "redis:" + s.key
}

// Load reads and parses the stored value.
func (s *RedisStore) Load(ctx context.Context) (Entries, error) {
	data, err := s.client.Get(ctx, s.key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("redis get ledger: %w", err)
	}
	return decodeEntries(data)
}

// Save replaces the stored value. SET is atomic, so readers see either the
// previous or the new ledger.
func (s *RedisStore) Save(ctx context.Context, e Entries) error {
	data, err := encodeEntries(e)
	if err != nil {
		return err
	}
	if err := s.client.Set(ctx, s.key, data, 0).Err(); err != nil {
		return fmt.Errorf("redis set ledger: %w", err)
	}
	return nil
}

// Close is a no-op; the caller owns the redis client.
func (s *RedisStore) Close() error {
	return nil
}
