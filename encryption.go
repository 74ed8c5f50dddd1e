package memo

import (
	"bytes"
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"time"
)

var (
	sealMagic = []byte("MEN2")

	ErrEncryptionKey = errors.New("memo: encryption key must be 16, 24, or 32 bytes")
	ErrDecryptFailed = errors.New("memo: decrypt failed")
)

// keySealer seals payloads with AES-GCM using the storage key as associated
// data, so a sealed value only opens under the key it was written to.
type keySealer struct {
	aead cipher.AEAD
}

func newKeySealer(key []byte) (*keySealer, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, ErrEncryptionKey
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	return &keySealer{aead: aead}, nil
}

// Sealed layout: magic, nonce, ciphertext. Nonce size is fixed by the AEAD.
func (k *keySealer) seal(key string, plain []byte) ([]byte, error) {
	ns := k.aead.NonceSize()
	out := make([]byte, len(sealMagic)+ns, len(sealMagic)+ns+len(plain)+k.aead.Overhead())
	copy(out, sealMagic)
	nonce := out[len(sealMagic):]
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, err
	}
	return k.aead.Seal(out, nonce, plain, []byte(key)), nil
}

// open returns unsealed input untouched; counters are stored in plaintext.
func (k *keySealer) open(key string, in []byte) ([]byte, error) {
	if !bytes.HasPrefix(in, sealMagic) {
		return in, nil
	}
	body := in[len(sealMagic):]
	ns := k.aead.NonceSize()
	if len(body) < ns+k.aead.Overhead() {
		return nil, ErrDecryptFailed
	}
	plain, err := k.aead.Open(nil, body[:ns], body[ns:], []byte(key))
	if err != nil {
		return nil, ErrDecryptFailed
	}
	return plain, nil
}

// encryptingStore seals values and list elements. Counters stay in
// plaintext so the backend can increment them.
type encryptingStore struct {
	inner  Store
	sealer *keySealer
}

func newEncryptingStore(inner Store, key []byte) (Store, error) {
	if len(key) == 0 {
		return inner, nil
	}
	sealer, err := newKeySealer(key)
	if err != nil {
		return nil, err
	}
	return &encryptingStore{inner: inner, sealer: sealer}, nil
}

func (s *encryptingStore) Driver() Driver { return s.inner.Driver() }

func (s *encryptingStore) unwrap() Store { return s.inner }

func (s *encryptingStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	body, ok, err := s.inner.Get(ctx, key)
	if err != nil || !ok {
		return body, ok, err
	}
	plain, err := s.sealer.open(key, body)
	if err != nil {
		return nil, false, fmt.Errorf("%w: key %q", err, key)
	}
	return plain, true, nil
}

func (s *encryptingStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	sealed, err := s.sealer.seal(key, value)
	if err != nil {
		return err
	}
	return s.inner.Set(ctx, key, sealed, ttl)
}

func (s *encryptingStore) Add(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	sealed, err := s.sealer.seal(key, value)
	if err != nil {
		return false, err
	}
	return s.inner.Add(ctx, key, sealed, ttl)
}

func (s *encryptingStore) Increment(ctx context.Context, key string, delta int64, ttl time.Duration) (int64, error) {
	return s.inner.Increment(ctx, key, delta, ttl)
}

func (s *encryptingStore) Decrement(ctx context.Context, key string, delta int64, ttl time.Duration) (int64, error) {
	return s.inner.Decrement(ctx, key, delta, ttl)
}

func (s *encryptingStore) Append(ctx context.Context, key string, value []byte, ttl time.Duration) (int64, error) {
	sealed, err := s.sealer.seal(key, value)
	if err != nil {
		return 0, err
	}
	return s.inner.Append(ctx, key, sealed, ttl)
}

func (s *encryptingStore) Range(ctx context.Context, key string, start, stop int64) ([][]byte, error) {
	items, err := s.inner.Range(ctx, key, start, stop)
	if err != nil {
		return nil, err
	}
	for i, item := range items {
		plain, err := s.sealer.open(key, item)
		if err != nil {
			return nil, fmt.Errorf("%w: key %q index %d", err, key, start+int64(i))
		}
		items[i] = plain
	}
	return items, nil
}

func (s *encryptingStore) Delete(ctx context.Context, key string) error {
	return s.inner.Delete(ctx, key)
}

func (s *encryptingStore) DeleteMany(ctx context.Context, keys ...string) error {
	return s.inner.DeleteMany(ctx, keys...)
}

func (s *encryptingStore) Flush(ctx context.Context) error {
	return s.inner.Flush(ctx)
}
