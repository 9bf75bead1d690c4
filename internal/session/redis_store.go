package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"
)

// RedisStore keeps a profile's values under visitor:<profile>:<key>.
// Keys never expire; only Remove and Clear drop them.
type RedisStore struct {
	redis     *redis.Client
	profileID string
}

func NewRedisStore(redis *redis.Client, profileID string) *RedisStore {
	return &RedisStore{redis: redis, profileID: profileID}
}

func (s *RedisStore) key(k Key) string {
	return fmt.Sprintf("visitor:%s:%s", s.profileID, k)
}

func (s *RedisStore) Get(ctx context.Context, key Key) (string, bool, error) {
	value, err := s.redis.Get(ctx, s.key(key)).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return value, true, nil
}

func (s *RedisStore) Set(ctx context.Context, key Key, value string) error {
	return s.redis.Set(ctx, s.key(key), value, 0).Err()
}

func (s *RedisStore) Remove(ctx context.Context, key Key) error {
	return s.redis.Del(ctx, s.key(key)).Err()
}

// Clear deletes all of the profile's keys in a single transaction.
func (s *RedisStore) Clear(ctx context.Context) error {
	keys := make([]string, 0, len(Keys))
	for _, k := range Keys {
		keys = append(keys, s.key(k))
	}

	pipe := s.redis.TxPipeline()
	pipe.Del(ctx, keys...)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to clear profile %s: %w", s.profileID, err)
	}

	slog.Info("Profile record cleared", "profileID", s.profileID)
	return nil
}
