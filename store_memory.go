package memo

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	gocache "github.com/patrickmn/go-cache"
)

type memoryStore struct {
	cache *gocache.Cache
	// mu serializes read-modify-write paths (counters, lists, add).
	mu sync.Mutex
}

func newMemoryStore(cleanupInterval time.Duration) Store {
	if cleanupInterval <= 0 {
		cleanupInterval = defaultMemoryCleanupInterval
	}
	return &memoryStore{
		cache: gocache.New(gocache.NoExpiration, cleanupInterval),
	}
}

func memoryTTL(ttl time.Duration) time.Duration {
	if ttl <= 0 {
		return gocache.NoExpiration
	}
	return ttl
}

func (s *memoryStore) Driver() Driver {
	return DriverMemory
}

func (s *memoryStore) Get(_ context.Context, key string) ([]byte, bool, error) {
	item, ok := s.cache.Get(key)
	if !ok {
		return nil, false, nil
	}
	body, ok := item.([]byte)
	if !ok {
		return nil, false, fmt.Errorf("memo key %q holds a list", key)
	}
	return cloneBytes(body), true, nil
}

func (s *memoryStore) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	s.cache.Set(key, cloneBytes(value), memoryTTL(ttl))
	return nil
}

func (s *memoryStore) Add(_ context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	if err := s.cache.Add(key, cloneBytes(value), memoryTTL(ttl)); err != nil {
		// go-cache only fails Add when a live item exists.
		return false, nil
	}
	return true, nil
}

func (s *memoryStore) Increment(_ context.Context, key string, delta int64, ttl time.Duration) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, err := s.readInt64(key)
	if err != nil {
		return 0, err
	}
	next := current + delta
	s.cache.Set(key, []byte(strconv.FormatInt(next, 10)), memoryTTL(ttl))
	return next, nil
}

func (s *memoryStore) Decrement(ctx context.Context, key string, delta int64, ttl time.Duration) (int64, error) {
	return s.Increment(ctx, key, -delta, ttl)
}

func (s *memoryStore) Append(_ context.Context, key string, value []byte, ttl time.Duration) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var items [][]byte
	if existing, ok := s.cache.Get(key); ok {
		list, isList := existing.([][]byte)
		if !isList {
			return 0, fmt.Errorf("memo key %q does not hold a list", key)
		}
		items = list
	}
	// copy-on-write so Range callers holding the old slice never observe the append
	next := make([][]byte, len(items), len(items)+1)
	copy(next, items)
	next = append(next, cloneBytes(value))
	s.cache.Set(key, next, memoryTTL(ttl))
	return int64(len(next)), nil
}

func (s *memoryStore) Range(_ context.Context, key string, start, stop int64) ([][]byte, error) {
	item, ok := s.cache.Get(key)
	if !ok {
		return nil, nil
	}
	items, ok := item.([][]byte)
	if !ok {
		return nil, fmt.Errorf("memo key %q does not hold a list", key)
	}
	return sliceRange(items, start, stop), nil
}

func (s *memoryStore) Delete(_ context.Context, key string) error {
	s.cache.Delete(key)
	return nil
}

func (s *memoryStore) DeleteMany(_ context.Context, keys ...string) error {
	for _, key := range keys {
		s.cache.Delete(key)
	}
	return nil
}

func (s *memoryStore) Flush(_ context.Context) error {
	s.cache.Flush()
	return nil
}

func (s *memoryStore) readInt64(key string) (int64, error) {
	item, ok := s.cache.Get(key)
	if !ok {
		return 0, nil
	}
	body, ok := item.([]byte)
	if !ok {
		return 0, fmt.Errorf("memo key %q does not contain a numeric value", key)
	}
	n, err := strconv.ParseInt(string(body), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("memo key %q does not contain a numeric value", key)
	}
	return n, nil
}
