package memo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"golang.org/x/sync/singleflight"
)

const (
	defaultFetchTTL     = 10 * time.Second
	defaultFetchTimeout = 30 * time.Second
	historySuffix       = ":history"
)

// Cache memoizes values on top of a Store and keeps per-operation access
// counters and call histories.
type Cache struct {
	store        Store
	fetchTTL     time.Duration
	fetchTimeout time.Duration
	ids          IDGenerator
	now          func() time.Time
	observer     Observer
	flights      singleflight.Group
}

// CacheOption customizes a Cache.
type CacheOption func(*Cache)

// WithFetchTTL sets the TTL GetOrFetch applies when called with ttl <= 0.
func WithFetchTTL(ttl time.Duration) CacheOption {
	return func(c *Cache) {
		if ttl > 0 {
			c.fetchTTL = ttl
		}
	}
}

// WithFetchTimeout bounds how long a single producer may run.
func WithFetchTimeout(d time.Duration) CacheOption {
	return func(c *Cache) {
		if d > 0 {
			c.fetchTimeout = d
		}
	}
}

// WithIDGenerator replaces the key generator used by Put.
func WithIDGenerator(ids IDGenerator) CacheOption {
	return func(c *Cache) {
		if ids != nil {
			c.ids = ids
		}
	}
}

// WithClock sets the clock used to timestamp call records.
func WithClock(now func() time.Time) CacheOption {
	return func(c *Cache) {
		if now != nil {
			c.now = now
		}
	}
}

// WithCacheObserver attaches an observer at construction time.
func WithCacheObserver(o Observer) CacheOption {
	return func(c *Cache) {
		c.observer = o
	}
}

// NewCache creates a cache bound to a concrete store.
// @group Cache
//
// Example: cache from store
//
//	ctx := context.Background()
//	c := memo.NewCache(memo.NewMemoryStore(ctx))
//	fmt.Println(c.Driver()) // memory
func NewCache(store Store, opts ...CacheOption) *Cache {
	c := &Cache{
		store:        store,
		fetchTTL:     defaultFetchTTL,
		fetchTimeout: defaultFetchTimeout,
		ids:          UUIDGenerator{},
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// WithObserver attaches an observer to receive operation events.
func (c *Cache) WithObserver(o Observer) *Cache {
	c.observer = o
	return c
}

// Store returns the underlying store implementation.
func (c *Cache) Store() Store {
	return c.store
}

// Driver reports the underlying store driver.
func (c *Cache) Driver() Driver {
	return c.store.Driver()
}

// Put stores value under key and returns the key. An empty key is replaced
// with a generated one. Supported values are strings, byte slices, integers
// and floats; ttl <= 0 keeps the entry until it is overwritten or flushed.
// @group Cache
//
// Example: store under a generated key
//
//	ctx := context.Background()
//	c := memo.NewCache(memo.NewMemoryStore(ctx))
//	key, _ := c.Put(ctx, "", "hello", 0)
//	value, _, _ := c.GetString(ctx, key)
//	fmt.Println(value) // hello
func (c *Cache) Put(ctx context.Context, key string, value any, ttl time.Duration) (string, error) {
	start := time.Now()
	if key == "" {
		key = c.ids.NewID()
	}
	body, err := encodeScalar(value)
	if err != nil {
		c.observe(ctx, "put", key, false, err, start)
		return "", err
	}
	if err := c.store.Set(ctx, key, body, ttl); err != nil {
		err = c.storeError("set", err)
		c.observe(ctx, "put", key, false, err, start)
		return "", err
	}
	c.observe(ctx, "put", key, false, nil, start)
	return key, nil
}

// Get returns raw bytes for key. A missing or expired key reports ok=false.
func (c *Cache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	start := time.Now()
	body, ok, err := c.store.Get(ctx, key)
	if err != nil {
		err = c.storeError("get", err)
	}
	c.observe(ctx, "get", key, ok, err, start)
	return body, ok, err
}

// Lookup is Get with absence reported as ErrNotFound.
func (c *Cache) Lookup(ctx context.Context, key string) ([]byte, error) {
	body, ok, err := c.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrNotFound, key)
	}
	return body, nil
}

// GetString returns the value for key as a string.
func (c *Cache) GetString(ctx context.Context, key string) (string, bool, error) {
	return GetAs(ctx, c, key, func(b []byte) (string, error) { return string(b), nil })
}

// GetInt parses the value for key as a base 10 integer.
func (c *Cache) GetInt(ctx context.Context, key string) (int64, bool, error) {
	return GetAs(ctx, c, key, func(b []byte) (int64, error) {
		return strconv.ParseInt(strings.TrimSpace(string(b)), 10, 64)
	})
}

// GetFloat parses the value for key as a float.
func (c *Cache) GetFloat(ctx context.Context, key string) (float64, bool, error) {
	return GetAs(ctx, c, key, func(b []byte) (float64, error) {
		return strconv.ParseFloat(strings.TrimSpace(string(b)), 64)
	})
}

// GetAs reads key and converts it with decode. A decode failure is returned
// as a *DecodeError.
// @group Cache
//
// Example: decode a stored value
//
//	ctx := context.Background()
//	c := memo.NewCache(memo.NewMemoryStore(ctx))
//	_, _ = c.Put(ctx, "flag", "true", 0)
//	on, ok, _ := memo.GetAs(ctx, c, "flag", func(b []byte) (bool, error) {
//		return strconv.ParseBool(string(b))
//	})
//	fmt.Println(ok, on) // true true
func GetAs[T any](ctx context.Context, c *Cache, key string, decode func([]byte) (T, error)) (T, bool, error) {
	var zero T
	body, ok, err := c.Get(ctx, key)
	if err != nil || !ok {
		return zero, ok, err
	}
	if decode == nil {
		return zero, false, &DecodeError{Key: key, Err: errors.New("nil decoder")}
	}
	out, err := decode(body)
	if err != nil {
		return zero, false, &DecodeError{Key: key, Err: err}
	}
	return out, true, nil
}

// GetOrFetch returns the live value for key, or runs fetch and stores its
// result for ttl (the cache's fetch TTL when ttl <= 0). Concurrent misses on
// the same key share one fetch. Nothing is stored when fetch fails or times out.
// @group Cache
//
// Example: memoize a slow call
//
//	ctx := context.Background()
//	c := memo.NewCache(memo.NewMemoryStore(ctx))
//	body, err := c.GetOrFetch(ctx, "html:example", 10*time.Second, func(context.Context) ([]byte, error) {
//		return []byte("<html/>"), nil
//	})
//	fmt.Println(err == nil, string(body)) // true <html/>
func (c *Cache) GetOrFetch(ctx context.Context, key string, ttl time.Duration, fetch func(context.Context) ([]byte, error)) ([]byte, error) {
	start := time.Now()
	if fetch == nil {
		c.observe(ctx, "get_or_fetch", key, false, errNilFetch, start)
		return nil, errNilFetch
	}
	body, ok, err := c.store.Get(ctx, key)
	if err != nil {
		err = c.storeError("get", err)
		c.observe(ctx, "get_or_fetch", key, false, err, start)
		return nil, err
	}
	if ok {
		c.observe(ctx, "get_or_fetch", key, true, nil, start)
		return body, nil
	}

	if ttl <= 0 {
		ttl = c.fetchTTL
	}
	flight := c.flights.DoChan(key, func() (any, error) {
		return c.fill(context.WithoutCancel(ctx), key, ttl, fetch)
	})
	select {
	case res := <-flight:
		if res.Err != nil {
			c.observe(ctx, "get_or_fetch", key, false, res.Err, start)
			return nil, res.Err
		}
		c.observe(ctx, "get_or_fetch", key, false, nil, start)
		return cloneBytes(res.Val.([]byte)), nil
	case <-ctx.Done():
		err := ctx.Err()
		if isTimeout(err) {
			err = &TimeoutError{Key: key, Err: err}
		}
		c.observe(ctx, "get_or_fetch", key, false, err, start)
		return nil, err
	}
}

// GetOrFetchString is GetOrFetch for string producers.
func (c *Cache) GetOrFetchString(ctx context.Context, key string, ttl time.Duration, fetch func(context.Context) (string, error)) (string, error) {
	if fetch == nil {
		return "", errNilFetch
	}
	body, err := c.GetOrFetch(ctx, key, ttl, func(ctx context.Context) ([]byte, error) {
		s, err := fetch(ctx)
		return []byte(s), err
	})
	if err != nil {
		return "", err
	}
	return string(body), nil
}

type fetchResult struct {
	body []byte
	err  error
}

// fill runs inside the single-flight window. It re-checks the store so a
// flight that starts just after another one finished does not fetch again.
func (c *Cache) fill(ctx context.Context, key string, ttl time.Duration, fetch func(context.Context) ([]byte, error)) ([]byte, error) {
	if body, ok, err := c.store.Get(ctx, key); err != nil {
		return nil, c.storeError("get", err)
	} else if ok {
		return body, nil
	}

	fctx, cancel := context.WithTimeout(ctx, c.fetchTimeout)
	defer cancel()

	done := make(chan fetchResult, 1)
	go func() {
		body, err := fetch(fctx)
		done <- fetchResult{body: body, err: err}
	}()

	var res fetchResult
	select {
	case res = <-done:
	case <-fctx.Done():
		return nil, &TimeoutError{Key: key, After: c.fetchTimeout, Err: fctx.Err()}
	}
	if res.err != nil {
		if isTimeout(res.err) {
			return nil, &TimeoutError{Key: key, After: c.fetchTimeout, Err: res.err}
		}
		return nil, &FetchError{Key: key, Err: res.err}
	}
	if err := c.store.Set(ctx, key, res.body, ttl); err != nil {
		return nil, c.storeError("set", err)
	}
	return res.body, nil
}

// CallRecord is one recorded invocation of a tracked operation.
type CallRecord struct {
	Inputs []string  `json:"inputs"`
	Output string    `json:"output"`
	At     time.Time `json:"at"`
}

// String renders the record the way Replay prints it, without the operation name.
func (r CallRecord) String() string {
	return "(*" + formatTuple(r.Inputs) + ") -> " + r.Output
}

// Count increments the access counter for op and returns the new value.
// The counter is stored at key op itself, in the same key space as Put and
// GetOrFetch, so op names must not collide with value keys.
func (c *Cache) Count(ctx context.Context, op string) (int64, error) {
	start := time.Now()
	n, err := c.store.Increment(ctx, op, 1, 0)
	if err != nil {
		err = c.storeError("increment", err)
	}
	c.observe(ctx, "count", op, false, err, start)
	return n, err
}

// RecordCall counts one call of op and appends its inputs and output to the
// op history. Inputs and output are stored in their printed form. The counter
// lives at key op and the history at op+":history", alongside value keys.
func (c *Cache) RecordCall(ctx context.Context, op string, inputs []any, output any) error {
	start := time.Now()
	err := c.recordCall(ctx, op, inputs, output)
	c.observe(ctx, "record_call", op, false, err, start)
	return err
}

func (c *Cache) recordCall(ctx context.Context, op string, inputs []any, output any) error {
	record := CallRecord{
		Inputs: make([]string, 0, len(inputs)),
		Output: FormatValue(output),
		At:     c.now().UTC(),
	}
	for _, in := range inputs {
		record.Inputs = append(record.Inputs, FormatValue(in))
	}
	body, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("memo: encode call record: %w", err)
	}
	if _, err := c.store.Increment(ctx, op, 1, 0); err != nil {
		return c.storeError("increment", err)
	}
	if _, err := c.store.Append(ctx, op+historySuffix, body, 0); err != nil {
		return c.storeError("append", err)
	}
	return nil
}

// AccessCount returns how many times op was counted, 0 if never.
func (c *Cache) AccessCount(ctx context.Context, op string) (int64, error) {
	start := time.Now()
	body, ok, err := c.store.Get(ctx, op)
	if err != nil {
		err = c.storeError("get", err)
		c.observe(ctx, "access_count", op, false, err, start)
		return 0, err
	}
	if !ok {
		c.observe(ctx, "access_count", op, false, nil, start)
		return 0, nil
	}
	n, err := strconv.ParseInt(strings.TrimSpace(string(body)), 10, 64)
	if err != nil {
		err = &DecodeError{Key: op, Err: err}
		c.observe(ctx, "access_count", op, true, err, start)
		return 0, err
	}
	c.observe(ctx, "access_count", op, true, nil, start)
	return n, nil
}

// History returns the recorded calls of op in call order.
func (c *Cache) History(ctx context.Context, op string) ([]CallRecord, error) {
	start := time.Now()
	items, err := c.store.Range(ctx, op+historySuffix, 0, -1)
	if err != nil {
		err = c.storeError("range", err)
		c.observe(ctx, "history", op, false, err, start)
		return nil, err
	}
	records := make([]CallRecord, 0, len(items))
	for _, item := range items {
		var record CallRecord
		if err := json.Unmarshal(item, &record); err != nil {
			err = &DecodeError{Key: op + historySuffix, Err: err}
			c.observe(ctx, "history", op, false, err, start)
			return nil, err
		}
		records = append(records, record)
	}
	c.observe(ctx, "history", op, len(records) > 0, nil, start)
	return records, nil
}

// Replay renders the history of op as lines of the form "op(*inputs) -> output".
// @group Cache
//
// Example: replay recorded calls
//
//	ctx := context.Background()
//	c := memo.NewCache(memo.NewMemoryStore(ctx))
//	_ = c.RecordCall(ctx, "f", []any{1}, 2)
//	lines, _ := c.Replay(ctx, "f")
//	fmt.Println(lines[0]) // f(*(1,)) -> 2
func (c *Cache) Replay(ctx context.Context, op string) ([]string, error) {
	records, err := c.History(ctx, op)
	if err != nil {
		return nil, err
	}
	lines := make([]string, 0, len(records))
	for _, record := range records {
		lines = append(lines, op+record.String())
	}
	return lines, nil
}

// WriteReplay writes a call-count header followed by the Replay lines.
func (c *Cache) WriteReplay(ctx context.Context, w io.Writer, op string) error {
	count, err := c.AccessCount(ctx, op)
	if err != nil {
		return err
	}
	lines, err := c.Replay(ctx, op)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "%s was called %d times:\n", op, count); err != nil {
		return err
	}
	for _, line := range lines {
		if _, err := fmt.Fprintln(w, line); err != nil {
			return err
		}
	}
	return nil
}

// Delete removes a single key.
func (c *Cache) Delete(ctx context.Context, key string) error {
	start := time.Now()
	err := c.store.Delete(ctx, key)
	if err != nil {
		err = c.storeError("delete", err)
	}
	c.observe(ctx, "delete", key, false, err, start)
	return err
}

// Flush clears entries, counters and histories in the store scope.
func (c *Cache) Flush(ctx context.Context) error {
	start := time.Now()
	err := c.store.Flush(ctx)
	if err != nil {
		err = c.storeError("flush", err)
	}
	c.observe(ctx, "flush", "", false, err, start)
	return err
}

func (c *Cache) storeError(op string, err error) error {
	var se *StoreError
	if errors.As(err, &se) {
		return err
	}
	return &StoreError{Op: op, Driver: c.store.Driver(), Err: err}
}

func (c *Cache) observe(ctx context.Context, op, key string, hit bool, err error, start time.Time) {
	if c.observer == nil {
		return
	}
	c.observer.OnCacheOp(ctx, op, key, hit, err, time.Since(start), c.store.Driver())
}

func encodeScalar(value any) ([]byte, error) {
	switch v := value.(type) {
	case string:
		return []byte(v), nil
	case []byte:
		return cloneBytes(v), nil
	case int:
		return strconv.AppendInt(nil, int64(v), 10), nil
	case int8:
		return strconv.AppendInt(nil, int64(v), 10), nil
	case int16:
		return strconv.AppendInt(nil, int64(v), 10), nil
	case int32:
		return strconv.AppendInt(nil, int64(v), 10), nil
	case int64:
		return strconv.AppendInt(nil, v, 10), nil
	case uint:
		return strconv.AppendUint(nil, uint64(v), 10), nil
	case uint8:
		return strconv.AppendUint(nil, uint64(v), 10), nil
	case uint16:
		return strconv.AppendUint(nil, uint64(v), 10), nil
	case uint32:
		return strconv.AppendUint(nil, uint64(v), 10), nil
	case uint64:
		return strconv.AppendUint(nil, v, 10), nil
	case float32:
		return strconv.AppendFloat(nil, float64(v), 'g', -1, 32), nil
	case float64:
		return strconv.AppendFloat(nil, v, 'g', -1, 64), nil
	default:
		return nil, fmt.Errorf("%w: %T", ErrUnsupportedValue, value)
	}
}
