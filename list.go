package memo

import (
	"context"
	"errors"
	"strconv"
	"time"
)

// indexedList stores list elements as plain keys so any store with an atomic
// Increment can offer Append/Range. The length lives at key+":len" and element
// n (1-based) at key+":"+n.
type indexedList struct {
	get  func(ctx context.Context, key string) ([]byte, bool, error)
	set  func(ctx context.Context, key string, value []byte, ttl time.Duration) error
	incr func(ctx context.Context, key string, delta int64, ttl time.Duration) (int64, error)
}

func (l indexedList) lengthKey(key string) string { return key + ":len" }

func (l indexedList) slotKey(key string, n int64) string {
	return key + ":" + strconv.FormatInt(n, 10)
}

func (l indexedList) Append(ctx context.Context, key string, value []byte, ttl time.Duration) (int64, error) {
	n, err := l.incr(ctx, l.lengthKey(key), 1, ttl)
	if err != nil {
		return 0, err
	}
	if err := l.set(ctx, l.slotKey(key, n), value, ttl); err != nil {
		return 0, err
	}
	return n, nil
}

func (l indexedList) Range(ctx context.Context, key string, start, stop int64) ([][]byte, error) {
	body, ok, err := l.get(ctx, l.lengthKey(key))
	if err != nil || !ok {
		return nil, err
	}
	length, err := strconv.ParseInt(string(body), 10, 64)
	if err != nil {
		return nil, errors.New("memo list length is not numeric")
	}
	from, to, ok := normalizeRange(length, start, stop)
	if !ok {
		return nil, nil
	}
	out := make([][]byte, 0, to-from+1)
	for i := from; i <= to; i++ {
		// A slot may be briefly missing while a concurrent Append is between
		// its increment and its write; skip it rather than fail the read.
		body, ok, err := l.get(ctx, l.slotKey(key, i+1))
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, body)
		}
	}
	return out, nil
}

// normalizeRange converts inclusive start/stop indexes (negative from the tail)
// into absolute zero-based bounds for a list of length n.
func normalizeRange(n, start, stop int64) (int64, int64, bool) {
	if start < 0 {
		start += n
	}
	if stop < 0 {
		stop += n
	}
	if start < 0 {
		start = 0
	}
	if stop >= n {
		stop = n - 1
	}
	if n == 0 || start > stop || start >= n {
		return 0, 0, false
	}
	return start, stop, true
}

func sliceRange(items [][]byte, start, stop int64) [][]byte {
	from, to, ok := normalizeRange(int64(len(items)), start, stop)
	if !ok {
		return nil
	}
	out := make([][]byte, 0, to-from+1)
	for _, item := range items[from : to+1] {
		out = append(out, cloneBytes(item))
	}
	return out
}

func cloneBytes(value []byte) []byte {
	if value == nil {
		return nil
	}
	clone := make([]byte, len(value))
	copy(clone, value)
	return clone
}
