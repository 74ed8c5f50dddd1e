package memocore

import (
	"context"
	"time"
)

// Store is the backing key-value contract used by memo.Cache.
//
// A ttl <= 0 means the value never expires. Expired entries must read as absent.
type Store interface {
	Driver() Driver
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Add(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error)
	Increment(ctx context.Context, key string, delta int64, ttl time.Duration) (int64, error)
	Decrement(ctx context.Context, key string, delta int64, ttl time.Duration) (int64, error)
	// Append pushes value onto the tail of the list at key and returns the new length.
	Append(ctx context.Context, key string, value []byte, ttl time.Duration) (int64, error)
	// Range returns list elements between start and stop inclusive.
	// Negative indexes count from the tail, so Range(ctx, key, 0, -1) reads the whole list.
	Range(ctx context.Context, key string, start, stop int64) ([][]byte, error)
	Delete(ctx context.Context, key string) error
	DeleteMany(ctx context.Context, keys ...string) error
	Flush(ctx context.Context) error
}
