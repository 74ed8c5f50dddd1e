package memo

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/goforj/memo/memotest"
)

func TestNATSStoreNilKeyValueErrors(t *testing.T) {
	store := newNATSStore(nil, "")
	ctx := context.Background()

	if _, _, err := store.Get(ctx, "k"); err == nil {
		t.Fatalf("expected get error when nats key-value is nil")
	}
	if err := store.Set(ctx, "k", []byte("v"), 0); err == nil {
		t.Fatalf("expected set error when nats key-value is nil")
	}
	if _, err := store.Add(ctx, "k", []byte("v"), 0); err == nil {
		t.Fatalf("expected add error when nats key-value is nil")
	}
	if _, err := store.Increment(ctx, "k", 1, 0); err == nil {
		t.Fatalf("expected increment error when nats key-value is nil")
	}
	if _, err := store.Append(ctx, "k", []byte("v"), 0); err == nil {
		t.Fatalf("expected append error when nats key-value is nil")
	}
	if err := store.Delete(ctx, "k"); err == nil {
		t.Fatalf("expected delete error when nats key-value is nil")
	}
	if err := store.DeleteMany(ctx, "a", "b"); err == nil {
		t.Fatalf("expected delete many error when nats key-value is nil")
	}
	if err := store.Flush(ctx); err == nil {
		t.Fatalf("expected flush error when nats key-value is nil")
	}
}

func TestNATSStoreContractWithStubKV(t *testing.T) {
	memotest.RunStoreContract(t, newNATSStore(newStubNATSKeyValue("bucket"), "pfx"), memotest.Options{})
}

func TestNATSStoreEnvelopeWithoutTTLHasNoExpiry(t *testing.T) {
	body := mustEncodeNATSEnvelope(t, []byte("v"), 0)
	var env natsEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if env.Marker != natsEnvelopeMarker || env.ExpiresAt != 0 || string(env.Value) != "v" {
		t.Fatalf("unexpected envelope %+v", env)
	}
}

func TestNATSStoreReadsRawValues(t *testing.T) {
	ctx := context.Background()
	kv := newStubNATSKeyValue("bucket")
	store := newNATSStore(kv, "pfx").(*natsStore)
	if _, err := kv.Put(store.cacheKey("raw"), []byte("plain")); err != nil {
		t.Fatalf("put: %v", err)
	}
	body, ok, err := store.Get(ctx, "raw")
	if err != nil || !ok || string(body) != "plain" {
		t.Fatalf("expected raw value passthrough, got %q ok=%v err=%v", body, ok, err)
	}
}

func TestNATSStoreIncrementRetriesOnConflict(t *testing.T) {
	ctx := context.Background()
	kv := newStubNATSKeyValue("bucket")
	store := newNATSStore(kv, "pfx")

	if _, err := store.Increment(ctx, "n", 1, 0); err != nil {
		t.Fatalf("seed increment: %v", err)
	}
	interfered := false
	kv.beforeUpdate = func(key string) {
		if interfered {
			return
		}
		interfered = true
		// a competing writer lands between our read and our update
		body := mustEncodeNATSEnvelope(t, []byte("10"), 0)
		kv.putLocked(key, body)
	}
	n, err := store.Increment(ctx, "n", 1, 0)
	if err != nil {
		t.Fatalf("increment: %v", err)
	}
	if n != 11 {
		t.Fatalf("expected increment applied on top of competing write (11), got %d", n)
	}
}

func TestNATSStoreIncrementOnNonNumericValue(t *testing.T) {
	ctx := context.Background()
	store := newNATSStore(newStubNATSKeyValue("bucket"), "pfx")
	if err := store.Set(ctx, "word", []byte("abc"), 0); err != nil {
		t.Fatalf("set: %v", err)
	}
	if _, err := store.Increment(ctx, "word", 1, 0); err == nil {
		t.Fatalf("expected non-numeric increment error")
	}
}

func TestNATSStoreFlushRespectsPrefix(t *testing.T) {
	ctx := context.Background()
	kv := newStubNATSKeyValue("bucket")
	store := newNATSStore(kv, "pfx").(*natsStore)

	inKey := store.cacheKey("in")
	if _, err := kv.Put(inKey, mustEncodeNATSEnvelope(t, []byte("1"), time.Second)); err != nil {
		t.Fatalf("put in failed: %v", err)
	}
	otherKey := "p." + encodeNATSKeyPart("other") + ".k." + encodeNATSKeyPart("keep")
	if _, err := kv.Put(otherKey, mustEncodeNATSEnvelope(t, []byte("2"), time.Second)); err != nil {
		t.Fatalf("put keep failed: %v", err)
	}

	if err := store.Flush(ctx); err != nil {
		t.Fatalf("flush failed: %v", err)
	}
	if _, ok := kv.entries[inKey]; ok {
		t.Fatalf("expected prefixed key removed")
	}
	if _, ok := kv.entries[otherKey]; !ok {
		t.Fatalf("expected other prefix key retained")
	}
}

func TestNATSStoreErrorPropagation(t *testing.T) {
	ctx := context.Background()
	kv := newStubNATSKeyValue("bucket")
	store := newNATSStore(kv, "pfx")

	kv.getErr = errors.New("get")
	if _, _, err := store.Get(ctx, "k"); err == nil {
		t.Fatalf("expected get error")
	}
	kv.getErr = nil

	kv.putErr = errors.New("put")
	if err := store.Set(ctx, "k", []byte("v"), time.Second); err == nil {
		t.Fatalf("expected set error")
	}
	kv.putErr = nil

	kv.createErr = errors.New("create")
	if _, err := store.Add(ctx, "k", []byte("v"), time.Second); err == nil {
		t.Fatalf("expected add error")
	}
	kv.createErr = nil

	if _, err := store.Increment(ctx, "counter", 1, time.Second); err != nil {
		t.Fatalf("seed increment failed: %v", err)
	}
	kv.updateErr = errors.New("update")
	if _, err := store.Increment(ctx, "counter", 1, time.Second); err == nil {
		t.Fatalf("expected increment update error")
	}
	kv.updateErr = nil

	kv.deleteErr = errors.New("delete")
	if err := store.Delete(ctx, "k"); err == nil {
		t.Fatalf("expected delete error")
	}
	kv.deleteErr = nil

	kv.listErr = errors.New("list")
	if err := store.Flush(ctx); err == nil {
		t.Fatalf("expected flush list error")
	}
	kv.listErr = nats.ErrNoKeysFound
	if err := store.Flush(ctx); err != nil {
		t.Fatalf("expected empty bucket flush to succeed, got %v", err)
	}
}

func mustEncodeNATSEnvelope(t *testing.T, value []byte, ttl time.Duration) []byte {
	t.Helper()
	body, err := encodeNATSEnvelope(value, ttl)
	if err != nil {
		t.Fatalf("encode envelope: %v", err)
	}
	return body
}

type stubNATSKeyValue struct {
	mu     sync.Mutex
	bucket string
	rev    uint64

	entries map[string]*stubNATSKeyValueEntry

	beforeUpdate func(key string)

	getErr    error
	putErr    error
	createErr error
	updateErr error
	deleteErr error
	purgeErr  error
	listErr   error
}

func newStubNATSKeyValue(bucket string) *stubNATSKeyValue {
	return &stubNATSKeyValue{
		bucket:  bucket,
		entries: make(map[string]*stubNATSKeyValueEntry),
	}
}

func (s *stubNATSKeyValue) Get(key string) (nats.KeyValueEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.getErr != nil {
		return nil, s.getErr
	}
	entry, ok := s.entries[key]
	if !ok {
		return nil, nats.ErrKeyNotFound
	}
	if entry.op == nats.KeyValueDelete || entry.op == nats.KeyValuePurge {
		return nil, nats.ErrKeyDeleted
	}
	return entry.clone(), nil
}

func (s *stubNATSKeyValue) Put(key string, value []byte) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.putErr != nil {
		return 0, s.putErr
	}
	return s.putLocked(key, value), nil
}

func (s *stubNATSKeyValue) putLocked(key string, value []byte) uint64 {
	s.rev++
	s.entries[key] = &stubNATSKeyValueEntry{
		bucket:   s.bucket,
		key:      key,
		value:    cloneBytes(value),
		revision: s.rev,
		created:  time.Now(),
		op:       nats.KeyValuePut,
	}
	return s.rev
}

func (s *stubNATSKeyValue) Create(key string, value []byte) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.createErr != nil {
		return 0, s.createErr
	}
	if existing, ok := s.entries[key]; ok && existing.op == nats.KeyValuePut {
		return 0, nats.ErrKeyExists
	}
	return s.putLocked(key, value), nil
}

func (s *stubNATSKeyValue) Update(key string, value []byte, last uint64) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.updateErr != nil {
		return 0, s.updateErr
	}
	if s.beforeUpdate != nil {
		s.beforeUpdate(key)
	}
	existing, ok := s.entries[key]
	if !ok || existing.op != nats.KeyValuePut {
		return 0, nats.ErrKeyNotFound
	}
	if existing.revision != last {
		return 0, nats.ErrKeyExists
	}
	return s.putLocked(key, value), nil
}

func (s *stubNATSKeyValue) Delete(key string, _ ...nats.DeleteOpt) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.deleteErr != nil {
		return s.deleteErr
	}
	s.rev++
	s.entries[key] = &stubNATSKeyValueEntry{
		bucket:   s.bucket,
		key:      key,
		revision: s.rev,
		created:  time.Now(),
		op:       nats.KeyValueDelete,
	}
	return nil
}

func (s *stubNATSKeyValue) Purge(key string, _ ...nats.DeleteOpt) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.purgeErr != nil {
		return s.purgeErr
	}
	delete(s.entries, key)
	return nil
}

func (s *stubNATSKeyValue) ListKeys(_ ...nats.WatchOpt) (nats.KeyLister, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listErr != nil {
		return nil, s.listErr
	}
	keys := make([]string, 0, len(s.entries))
	for key := range s.entries {
		keys = append(keys, key)
	}
	return newStubNATSKeyLister(keys), nil
}

type stubNATSKeyValueEntry struct {
	bucket   string
	key      string
	value    []byte
	revision uint64
	created  time.Time
	delta    uint64
	op       nats.KeyValueOp
}

func (e *stubNATSKeyValueEntry) clone() *stubNATSKeyValueEntry {
	cp := *e
	cp.value = cloneBytes(e.value)
	return &cp
}

func (e *stubNATSKeyValueEntry) Bucket() string             { return e.bucket }
func (e *stubNATSKeyValueEntry) Key() string                { return e.key }
func (e *stubNATSKeyValueEntry) Value() []byte              { return cloneBytes(e.value) }
func (e *stubNATSKeyValueEntry) Revision() uint64           { return e.revision }
func (e *stubNATSKeyValueEntry) Created() time.Time         { return e.created }
func (e *stubNATSKeyValueEntry) Delta() uint64              { return e.delta }
func (e *stubNATSKeyValueEntry) Operation() nats.KeyValueOp { return e.op }

type stubNATSKeyLister struct {
	keysCh chan string
	errCh  chan error
}

func newStubNATSKeyLister(keys []string) *stubNATSKeyLister {
	keysCh := make(chan string, len(keys))
	errCh := make(chan error)
	for _, key := range keys {
		keysCh <- key
	}
	close(keysCh)
	close(errCh)
	return &stubNATSKeyLister{keysCh: keysCh, errCh: errCh}
}

func (l *stubNATSKeyLister) Keys() <-chan string { return l.keysCh }
func (l *stubNATSKeyLister) Error() <-chan error { return l.errCh }
func (l *stubNATSKeyLister) Stop() error         { return nil }
