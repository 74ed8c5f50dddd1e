package memo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisClient captures the subset of redis.Client used by the store.
type RedisClient interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
	SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.BoolCmd
	IncrBy(ctx context.Context, key string, value int64) *redis.IntCmd
	Expire(ctx context.Context, key string, expiration time.Duration) *redis.BoolCmd
	RPush(ctx context.Context, key string, values ...interface{}) *redis.IntCmd
	LRange(ctx context.Context, key string, start, stop int64) *redis.StringSliceCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
	Scan(ctx context.Context, cursor uint64, match string, count int64) *redis.ScanCmd
}

var errRedisUnavailable = errors.New("redis memo client unavailable")

type redisStore struct {
	client RedisClient
	prefix string
}

func newRedisStore(client RedisClient, prefix string) Store {
	if prefix == "" {
		prefix = defaultStorePrefix
	}
	return &redisStore{
		client: client,
		prefix: prefix,
	}
}

func (s *redisStore) Driver() Driver {
	return DriverRedis
}

func (s *redisStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	if s.client == nil {
		return nil, false, errRedisUnavailable
	}
	// Bytes() would alias the reply string.
	value, err := s.client.Get(ctx, s.cacheKey(key)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, false, nil
		}
		return nil, false, err
	}
	return []byte(value), true, nil
}

// Set maps to SET for ttl <= 0 and to SET ... EX (setex) otherwise.
func (s *redisStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if s.client == nil {
		return errRedisUnavailable
	}
	return s.client.Set(ctx, s.cacheKey(key), value, redisTTL(ttl)).Err()
}

func (s *redisStore) Add(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	if s.client == nil {
		return false, errRedisUnavailable
	}
	created, err := s.client.SetNX(ctx, s.cacheKey(key), value, redisTTL(ttl)).Result()
	if err != nil {
		return false, err
	}
	return created, nil
}

func (s *redisStore) Increment(ctx context.Context, key string, delta int64, ttl time.Duration) (int64, error) {
	if s.client == nil {
		return 0, errRedisUnavailable
	}
	cacheKey := s.cacheKey(key)
	value, err := s.client.IncrBy(ctx, cacheKey, delta).Result()
	if err != nil {
		return 0, err
	}
	if err := s.expire(ctx, cacheKey, ttl); err != nil {
		return 0, err
	}
	return value, nil
}

func (s *redisStore) Decrement(ctx context.Context, key string, delta int64, ttl time.Duration) (int64, error) {
	return s.Increment(ctx, key, -delta, ttl)
}

func (s *redisStore) Append(ctx context.Context, key string, value []byte, ttl time.Duration) (int64, error) {
	if s.client == nil {
		return 0, errRedisUnavailable
	}
	cacheKey := s.cacheKey(key)
	n, err := s.client.RPush(ctx, cacheKey, value).Result()
	if err != nil {
		return 0, err
	}
	if err := s.expire(ctx, cacheKey, ttl); err != nil {
		return 0, err
	}
	return n, nil
}

func (s *redisStore) Range(ctx context.Context, key string, start, stop int64) ([][]byte, error) {
	if s.client == nil {
		return nil, errRedisUnavailable
	}
	values, err := s.client.LRange(ctx, s.cacheKey(key), start, stop).Result()
	if err != nil {
		return nil, err
	}
	out := make([][]byte, 0, len(values))
	for _, v := range values {
		out = append(out, []byte(v))
	}
	return out, nil
}

func (s *redisStore) Delete(ctx context.Context, key string) error {
	if s.client == nil {
		return errRedisUnavailable
	}
	return s.client.Del(ctx, s.cacheKey(key)).Err()
}

func (s *redisStore) DeleteMany(ctx context.Context, keys ...string) error {
	if s.client == nil {
		return errRedisUnavailable
	}
	if len(keys) == 0 {
		return nil
	}
	cacheKeys := make([]string, 0, len(keys))
	for _, key := range keys {
		cacheKeys = append(cacheKeys, s.cacheKey(key))
	}
	return s.client.Del(ctx, cacheKeys...).Err()
}

// Flush removes every key under the store prefix. Keys outside the prefix are untouched.
func (s *redisStore) Flush(ctx context.Context) error {
	if s.client == nil {
		return errRedisUnavailable
	}
	pattern := s.cacheKey("*")
	var cursor uint64
	for {
		keys, next, err := s.client.Scan(ctx, cursor, pattern, 200).Result()
		if err != nil {
			return err
		}
		if len(keys) > 0 {
			if err := s.client.Del(ctx, keys...).Err(); err != nil {
				return err
			}
		}
		cursor = next
		if cursor == 0 {
			return nil
		}
	}
}

func (s *redisStore) expire(ctx context.Context, cacheKey string, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}
	if err := s.client.Expire(ctx, cacheKey, ttl).Err(); err != nil {
		return fmt.Errorf("expire memo key: %w", err)
	}
	return nil
}

func (s *redisStore) cacheKey(key string) string {
	return s.prefix + ":" + key
}

func redisTTL(ttl time.Duration) time.Duration {
	if ttl <= 0 {
		return 0
	}
	return ttl
}
