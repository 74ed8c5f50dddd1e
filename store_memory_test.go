package memo

import (
	"context"
	"sync"
	"testing"
	"time"
)

func TestMemoryStoreTTLAndNoExpiry(t *testing.T) {
	ctx := context.Background()
	store := newMemoryStore(defaultMemoryCleanupInterval)

	if err := store.Set(ctx, "short", []byte("v"), 30*time.Millisecond); err != nil {
		t.Fatalf("set failed: %v", err)
	}
	if err := store.Set(ctx, "forever", []byte("v"), 0); err != nil {
		t.Fatalf("set failed: %v", err)
	}
	time.Sleep(60 * time.Millisecond)
	if _, ok, _ := store.Get(ctx, "short"); ok {
		t.Fatalf("expected short ttl entry to expire")
	}
	if _, ok, _ := store.Get(ctx, "forever"); !ok {
		t.Fatalf("expected entry without ttl to survive")
	}
}

func TestMemoryStoreConcurrentIncrement(t *testing.T) {
	ctx := context.Background()
	store := newMemoryStore(defaultMemoryCleanupInterval)

	const workers, perWorker = 8, 50
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < perWorker; j++ {
				if _, err := store.Increment(ctx, "n", 1, 0); err != nil {
					t.Errorf("increment: %v", err)
					return
				}
			}
		}()
	}
	wg.Wait()

	body, ok, err := store.Get(ctx, "n")
	if err != nil || !ok || string(body) != "400" {
		t.Fatalf("expected 400 increments, got %q ok=%v err=%v", body, ok, err)
	}
}

func TestMemoryStoreConcurrentAppend(t *testing.T) {
	ctx := context.Background()
	store := newMemoryStore(defaultMemoryCleanupInterval)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := store.Append(ctx, "l", []byte("x"), 0); err != nil {
				t.Errorf("append: %v", err)
			}
		}()
	}
	wg.Wait()
	items, err := store.Range(ctx, "l", 0, -1)
	if err != nil || len(items) != 20 {
		t.Fatalf("expected 20 items, got %d err=%v", len(items), err)
	}
}

func TestMemoryStoreTypeMismatch(t *testing.T) {
	ctx := context.Background()
	store := newMemoryStore(defaultMemoryCleanupInterval)

	if _, err := store.Append(ctx, "l", []byte("x"), 0); err != nil {
		t.Fatalf("append: %v", err)
	}
	if _, _, err := store.Get(ctx, "l"); err == nil {
		t.Fatalf("expected get on a list to fail")
	}
	if _, err := store.Increment(ctx, "l", 1, 0); err == nil {
		t.Fatalf("expected increment on a list to fail")
	}
	if err := store.Set(ctx, "s", []byte("word"), 0); err != nil {
		t.Fatalf("set: %v", err)
	}
	if _, err := store.Increment(ctx, "s", 1, 0); err == nil {
		t.Fatalf("expected increment on non-numeric value to fail")
	}
	if _, err := store.Append(ctx, "s", []byte("x"), 0); err == nil {
		t.Fatalf("expected append on a value to fail")
	}
	if _, err := store.Range(ctx, "s", 0, -1); err == nil {
		t.Fatalf("expected range on a value to fail")
	}
}

func TestMemoryStoreGetReturnsCopy(t *testing.T) {
	ctx := context.Background()
	store := newMemoryStore(defaultMemoryCleanupInterval)
	value := []byte("abc")
	_ = store.Set(ctx, "k", value, 0)
	value[0] = 'X'
	got, _, _ := store.Get(ctx, "k")
	if string(got) != "abc" {
		t.Fatalf("expected stored copy, got %q", got)
	}
}
