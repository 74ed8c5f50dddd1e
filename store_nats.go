package memo

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
)

const (
	natsEnvelopeMarker   = "memo-v1"
	natsIncrementRetries = 16
)

var errNATSUnavailable = errors.New("nats memo key-value unavailable")

// NATSKeyValue captures the subset of nats.KeyValue used by the store.
type NATSKeyValue interface {
	Get(key string) (nats.KeyValueEntry, error)
	Put(key string, value []byte) (uint64, error)
	Create(key string, value []byte) (uint64, error)
	Update(key string, value []byte, last uint64) (uint64, error)
	Delete(key string, opts ...nats.DeleteOpt) error
	Purge(key string, opts ...nats.DeleteOpt) error
	ListKeys(opts ...nats.WatchOpt) (nats.KeyLister, error)
}

// natsStore wraps every value in a JSON envelope carrying its expiry, since
// JetStream KV only supports a bucket-wide TTL.
type natsStore struct {
	kv     NATSKeyValue
	prefix string
	list   indexedList
}

type natsEnvelope struct {
	Marker    string `json:"m"`
	Value     []byte `json:"v"`
	ExpiresAt int64  `json:"ea,omitempty"`
}

func newNATSStore(kv NATSKeyValue, prefix string) Store {
	if prefix == "" {
		prefix = defaultStorePrefix
	}
	s := &natsStore{
		kv:     kv,
		prefix: prefix,
	}
	s.list = indexedList{get: s.Get, set: s.Set, incr: s.Increment}
	return s
}

func (s *natsStore) Driver() Driver { return DriverNATS }

func (s *natsStore) Get(_ context.Context, key string) ([]byte, bool, error) {
	if s.kv == nil {
		return nil, false, errNATSUnavailable
	}
	value, _, ok, err := s.read(s.cacheKey(key))
	if err != nil || !ok {
		return nil, false, err
	}
	return value, true, nil
}

func (s *natsStore) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	if s.kv == nil {
		return errNATSUnavailable
	}
	body, err := encodeNATSEnvelope(value, ttl)
	if err != nil {
		return err
	}
	_, err = s.kv.Put(s.cacheKey(key), body)
	return err
}

func (s *natsStore) Add(_ context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	if s.kv == nil {
		return false, errNATSUnavailable
	}
	cacheKey := s.cacheKey(key)
	_, revision, ok, err := s.read(cacheKey)
	if err != nil {
		return false, err
	}
	if ok {
		return false, nil
	}
	body, err := encodeNATSEnvelope(value, ttl)
	if err != nil {
		return false, err
	}
	if revision > 0 {
		// an expired entry still occupies the key; replace it only if nobody else did
		_, err = s.kv.Update(cacheKey, body, revision)
	} else {
		_, err = s.kv.Create(cacheKey, body)
	}
	if err == nil {
		return true, nil
	}
	if errors.Is(err, nats.ErrKeyExists) {
		return false, nil
	}
	return false, err
}

// Increment runs a compare-and-swap loop on the entry revision.
func (s *natsStore) Increment(_ context.Context, key string, delta int64, ttl time.Duration) (int64, error) {
	if s.kv == nil {
		return 0, errNATSUnavailable
	}
	cacheKey := s.cacheKey(key)
	for attempt := 0; attempt < natsIncrementRetries; attempt++ {
		raw, revision, ok, err := s.read(cacheKey)
		if err != nil {
			return 0, err
		}
		current := int64(0)
		if ok && len(raw) > 0 {
			current, err = strconv.ParseInt(string(raw), 10, 64)
			if err != nil {
				return 0, fmt.Errorf("memo key %q does not contain a numeric value", key)
			}
		}

		next := current + delta
		body, err := encodeNATSEnvelope([]byte(strconv.FormatInt(next, 10)), ttl)
		if err != nil {
			return 0, err
		}
		if revision == 0 {
			_, err = s.kv.Create(cacheKey, body)
		} else {
			_, err = s.kv.Update(cacheKey, body, revision)
		}
		if err == nil {
			return next, nil
		}
		if errors.Is(err, nats.ErrKeyExists) || isNATSMiss(err) {
			continue
		}
		return 0, err
	}
	return 0, errors.New("nats increment exceeded retry limit")
}

func (s *natsStore) Decrement(ctx context.Context, key string, delta int64, ttl time.Duration) (int64, error) {
	return s.Increment(ctx, key, -delta, ttl)
}

func (s *natsStore) Append(ctx context.Context, key string, value []byte, ttl time.Duration) (int64, error) {
	return s.list.Append(ctx, key, value, ttl)
}

func (s *natsStore) Range(ctx context.Context, key string, start, stop int64) ([][]byte, error) {
	return s.list.Range(ctx, key, start, stop)
}

func (s *natsStore) Delete(_ context.Context, key string) error {
	if s.kv == nil {
		return errNATSUnavailable
	}
	err := s.kv.Delete(s.cacheKey(key))
	if isNATSMiss(err) {
		return nil
	}
	return err
}

func (s *natsStore) DeleteMany(ctx context.Context, keys ...string) error {
	for _, key := range keys {
		if err := s.Delete(ctx, key); err != nil {
			return err
		}
	}
	return nil
}

func (s *natsStore) Flush(_ context.Context) error {
	if s.kv == nil {
		return errNATSUnavailable
	}
	lister, err := s.kv.ListKeys(nats.IgnoreDeletes())
	if err != nil {
		if errors.Is(err, nats.ErrNoKeysFound) {
			return nil
		}
		return err
	}
	defer func() { _ = lister.Stop() }()

	scopePrefix := s.scopePrefix()
	for key := range lister.Keys() {
		if !strings.HasPrefix(key, scopePrefix) {
			continue
		}
		if err := s.kv.Purge(key); err != nil && !isNATSMiss(err) {
			return err
		}
	}
	return nil
}

// read returns the live value and the entry revision. An expired or deleted
// entry reports ok=false with its revision so callers can CAS over it.
func (s *natsStore) read(cacheKey string) ([]byte, uint64, bool, error) {
	entry, err := s.kv.Get(cacheKey)
	if isNATSMiss(err) {
		return nil, 0, false, nil
	}
	if err != nil {
		return nil, 0, false, err
	}
	if entry.Operation() == nats.KeyValueDelete || entry.Operation() == nats.KeyValuePurge {
		return nil, entry.Revision(), false, nil
	}
	envelope, wrapped, err := decodeNATSEnvelope(entry.Value())
	if err != nil {
		return nil, 0, false, err
	}
	if !wrapped {
		return cloneBytes(entry.Value()), entry.Revision(), true, nil
	}
	if envelope.ExpiresAt > 0 && time.Now().UnixMilli() >= envelope.ExpiresAt {
		return nil, entry.Revision(), false, nil
	}
	return cloneBytes(envelope.Value), entry.Revision(), true, nil
}

func (s *natsStore) cacheKey(key string) string {
	return s.scopePrefix() + encodeNATSKeyPart(key)
}

func (s *natsStore) scopePrefix() string {
	return "p." + encodeNATSKeyPart(s.prefix) + ".k."
}

func encodeNATSEnvelope(value []byte, ttl time.Duration) ([]byte, error) {
	envelope := natsEnvelope{
		Marker: natsEnvelopeMarker,
		Value:  cloneBytes(value),
	}
	if ttl > 0 {
		envelope.ExpiresAt = time.Now().Add(ttl).UnixMilli()
	}
	body, err := json.Marshal(envelope)
	if err != nil {
		return nil, fmt.Errorf("marshal nats memo envelope: %w", err)
	}
	return body, nil
}

func decodeNATSEnvelope(body []byte) (natsEnvelope, bool, error) {
	var envelope natsEnvelope
	if len(body) == 0 || body[0] != '{' {
		return envelope, false, nil
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		return natsEnvelope{}, false, fmt.Errorf("decode nats memo envelope: %w", err)
	}
	if envelope.Marker != natsEnvelopeMarker {
		return natsEnvelope{}, false, nil
	}
	return envelope, true, nil
}

func isNATSMiss(err error) bool {
	return errors.Is(err, nats.ErrKeyNotFound) || errors.Is(err, nats.ErrKeyDeleted)
}

// encodeNATSKeyPart keeps arbitrary keys (URLs, spaces) inside the KV key alphabet.
func encodeNATSKeyPart(part string) string {
	if part == "" {
		return "_"
	}
	return base64.RawURLEncoding.EncodeToString([]byte(part))
}
