package memotest

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/goforj/memo/memocore"
)

// Options configures shared store contract checks.
type Options struct {
	// CaseName is used to namespace keys. Defaults to t.Name().
	CaseName string
	// SkipCloneCheck disables the "get returns a cloned value" assertion.
	SkipCloneCheck bool
	// TTL controls the expiry duration used in TTL tests.
	TTL time.Duration
	// TTLWait is how long the harness waits for expiry to occur.
	TTLWait time.Duration
	// SkipFlush disables the flush assertion for drivers where it is expensive or unavailable.
	SkipFlush bool
}

// Store is the contract exercised by RunStoreContract.
type Store = memocore.Store

// RunStoreContract runs a backend-agnostic store contract suite.
func RunStoreContract(t *testing.T, store Store, opts Options) {
	t.Helper()

	caseName := opts.CaseName
	if caseName == "" {
		caseName = t.Name()
	}
	ttl := opts.TTL
	if ttl <= 0 {
		ttl = 50 * time.Millisecond
	}
	wait := opts.TTLWait
	if wait <= 0 {
		wait = 120 * time.Millisecond
	}

	ctx := context.Background()
	key := func(s string) string {
		return sanitize(caseName) + ":" + s
	}

	// Set/Get round-trip.
	if err := store.Set(ctx, key("alpha"), []byte("value"), time.Second); err != nil {
		t.Fatalf("set failed: %v", err)
	}
	body, ok, err := store.Get(ctx, key("alpha"))
	if err != nil || !ok || string(body) != "value" {
		t.Fatalf("unexpected get result: ok=%v body=%q err=%v", ok, string(body), err)
	}
	if !opts.SkipCloneCheck {
		body[0] = 'X'
		body2, ok2, err2 := store.Get(ctx, key("alpha"))
		if err2 != nil || !ok2 || string(body2) != "value" {
			t.Fatalf("expected stored value unchanged, got ok=%v body=%q err=%v", ok2, string(body2), err2)
		}
	}

	// No TTL means no expiry.
	if err := store.Set(ctx, key("forever"), []byte("kept"), 0); err != nil {
		t.Fatalf("set without ttl failed: %v", err)
	}
	time.Sleep(wait)
	if body, ok, err := store.Get(ctx, key("forever")); err != nil || !ok || string(body) != "kept" {
		t.Fatalf("expected entry without ttl to survive; ok=%v body=%q err=%v", ok, string(body), err)
	}

	// TTL expiry.
	if err := store.Set(ctx, key("ttl"), []byte("v"), ttl); err != nil {
		t.Fatalf("set ttl failed: %v", err)
	}
	if _, ok, err := store.Get(ctx, key("ttl")); err != nil || !ok {
		t.Fatalf("expected ttl key visible right after set; ok=%v err=%v", ok, err)
	}
	if err := waitForMiss(ctx, store, key("ttl"), wait); err != nil {
		t.Fatalf("expected ttl expiry: %v", err)
	}

	// Add only when missing, and again once the holder expired.
	created, err := store.Add(ctx, key("once"), []byte("first"), ttl)
	if err != nil || !created {
		t.Fatalf("add first failed: created=%v err=%v", created, err)
	}
	created, err = store.Add(ctx, key("once"), []byte("second"), ttl)
	if err != nil {
		t.Fatalf("add duplicate failed: %v", err)
	}
	if created {
		t.Fatalf("expected duplicate add to return created=false")
	}
	if err := waitForMiss(ctx, store, key("once"), wait); err != nil {
		t.Fatalf("expected add ttl expiry: %v", err)
	}
	created, err = store.Add(ctx, key("once"), []byte("third"), time.Second)
	if err != nil || !created {
		t.Fatalf("expected add over expired key to succeed: created=%v err=%v", created, err)
	}

	// Counters.
	n, err := store.Increment(ctx, key("counter"), 3, 0)
	if err != nil {
		t.Fatalf("increment failed: %v", err)
	}
	if n != 3 {
		t.Fatalf("expected increment=3, got %d", n)
	}
	n, err = store.Decrement(ctx, key("counter"), 1, 0)
	if err != nil {
		t.Fatalf("decrement failed: %v", err)
	}
	if n != 2 {
		t.Fatalf("expected decrement=2, got %d", n)
	}
	if body, ok, err := store.Get(ctx, key("counter")); err != nil || !ok || string(body) != "2" {
		t.Fatalf("expected counter readable as 2; ok=%v body=%q err=%v", ok, string(body), err)
	}

	// Lists.
	for i, v := range []string{"a", "b", "c"} {
		n, err := store.Append(ctx, key("list"), []byte(v), 0)
		if err != nil {
			t.Fatalf("append %q failed: %v", v, err)
		}
		if n != int64(i+1) {
			t.Fatalf("expected list length %d after append, got %d", i+1, n)
		}
	}
	assertRange(t, store, key("list"), 0, -1, "a", "b", "c")
	assertRange(t, store, key("list"), 1, 1, "b")
	assertRange(t, store, key("list"), -2, -1, "b", "c")
	assertRange(t, store, key("list"), 5, 10)
	assertRange(t, store, key("missing-list"), 0, -1)

	// Delete and DeleteMany.
	if err := store.Set(ctx, key("a"), []byte("1"), time.Second); err != nil {
		t.Fatalf("set a failed: %v", err)
	}
	if err := store.Set(ctx, key("b"), []byte("2"), time.Second); err != nil {
		t.Fatalf("set b failed: %v", err)
	}
	if err := store.Delete(ctx, key("a")); err != nil {
		t.Fatalf("delete failed: %v", err)
	}
	if err := store.DeleteMany(ctx, key("b")); err != nil {
		t.Fatalf("delete many failed: %v", err)
	}
	if _, ok, err := store.Get(ctx, key("a")); err != nil || ok {
		t.Fatalf("expected key a deleted; ok=%v err=%v", ok, err)
	}
	if _, ok, err := store.Get(ctx, key("b")); err != nil || ok {
		t.Fatalf("expected key b deleted; ok=%v err=%v", ok, err)
	}
	if err := store.Delete(ctx, key("never-set")); err != nil {
		t.Fatalf("delete of missing key failed: %v", err)
	}

	// Flush.
	if !opts.SkipFlush {
		if err := store.Set(ctx, key("flush"), []byte("x"), time.Second); err != nil {
			t.Fatalf("set flush failed: %v", err)
		}
		if err := store.Flush(ctx); err != nil {
			t.Fatalf("flush failed: %v", err)
		}
		if _, ok, err := store.Get(ctx, key("flush")); err != nil || ok {
			t.Fatalf("expected flush to clear key; ok=%v err=%v", ok, err)
		}
		if _, ok, err := store.Get(ctx, key("counter")); err != nil || ok {
			t.Fatalf("expected flush to clear counter; ok=%v err=%v", ok, err)
		}
		assertRange(t, store, key("list"), 0, -1)
	}
}

func assertRange(t *testing.T, store Store, key string, start, stop int64, want ...string) {
	t.Helper()
	items, err := store.Range(context.Background(), key, start, stop)
	if err != nil {
		t.Fatalf("range %s[%d:%d] failed: %v", key, start, stop, err)
	}
	if len(items) != len(want) {
		t.Fatalf("range %s[%d:%d]: expected %d items, got %d", key, start, stop, len(want), len(items))
	}
	for i := range want {
		if string(items[i]) != want[i] {
			t.Fatalf("range %s[%d:%d] item %d: expected %q, got %q", key, start, stop, i, want[i], string(items[i]))
		}
	}
}

func waitForMiss(ctx context.Context, store Store, key string, wait time.Duration) error {
	deadline := time.Now().Add(wait)
	for time.Now().Before(deadline) {
		_, ok, err := store.Get(ctx, key)
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}
		time.Sleep(10 * time.Millisecond)
	}
	_, ok, err := store.Get(ctx, key)
	if err != nil {
		return err
	}
	if ok {
		return fmt.Errorf("key %q still present after %s", key, wait)
	}
	return nil
}

func sanitize(s string) string {
	s = strings.ReplaceAll(s, "/", "_")
	s = strings.ReplaceAll(s, " ", "_")
	return s
}
