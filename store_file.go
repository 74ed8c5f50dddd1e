package memo

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"
)

var (
	createTempFile = os.CreateTemp
	renameFile     = os.Rename
)

var (
	fileRecordMagic  = []byte("MFR1")
	errCorruptRecord = errors.New("memo: corrupt file record")
)

const (
	fileRecordHeaderLen = 12
	fileRecordExt       = ".memo"
)

// fileStore keeps one file per key. Writes go through a temp file and rename so
// readers never see a torn value. Read-modify-write paths are serialized within
// the process only.
type fileStore struct {
	dir  string
	mu   sync.Mutex
	list indexedList
}

func newFileStore(dir string) (Store, error) {
	if dir == "" {
		dir = defaultFileDir()
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	s := &fileStore{dir: dir}
	s.list = indexedList{get: s.Get, set: s.Set, incr: s.Increment}
	return s, nil
}

func (s *fileStore) Driver() Driver {
	return DriverFile
}

func (s *fileStore) Get(_ context.Context, key string) ([]byte, bool, error) {
	path := s.path(key)
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, false, nil
		}
		return nil, false, err
	}

	expiresAt, value, err := decodeFileRecord(data)
	if err != nil {
		_ = os.Remove(path)
		return nil, false, err
	}

	if expiresAt > 0 && time.Now().UnixNano() >= expiresAt {
		_ = os.Remove(path)
		return nil, false, nil
	}

	return value, true, nil
}

func (s *fileStore) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	var expiresAt int64
	if ttl > 0 {
		expiresAt = time.Now().Add(ttl).UnixNano()
	}

	tmp, err := createTempFile(s.dir, "memo-*.tmp")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()

	var header [fileRecordHeaderLen]byte
	copy(header[:4], fileRecordMagic)
	binary.BigEndian.PutUint64(header[4:], uint64(expiresAt))

	if _, err := tmp.Write(header[:]); err != nil {
		tmp.Close()
		_ = os.Remove(tmpPath)
		return err
	}
	if _, err := tmp.Write(value); err != nil {
		tmp.Close()
		_ = os.Remove(tmpPath)
		return err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return err
	}
	if err := renameFile(tmpPath, s.path(key)); err != nil {
		_ = os.Remove(tmpPath)
		return err
	}
	return nil
}

func (s *fileStore) Add(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, ok, err := s.Get(ctx, key)
	if err != nil {
		return false, err
	}
	if ok {
		return false, nil
	}
	return true, s.Set(ctx, key, value, ttl)
}

func (s *fileStore) Increment(ctx context.Context, key string, delta int64, ttl time.Duration) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	current := int64(0)
	if body, ok, err := s.Get(ctx, key); err != nil {
		return 0, err
	} else if ok {
		n, err := strconv.ParseInt(string(body), 10, 64)
		if err != nil {
			return 0, fmt.Errorf("memo key %q does not contain a numeric value", key)
		}
		current = n
	}
	next := current + delta
	if err := s.Set(ctx, key, []byte(strconv.FormatInt(next, 10)), ttl); err != nil {
		return 0, err
	}
	return next, nil
}

func (s *fileStore) Decrement(ctx context.Context, key string, delta int64, ttl time.Duration) (int64, error) {
	return s.Increment(ctx, key, -delta, ttl)
}

func (s *fileStore) Append(ctx context.Context, key string, value []byte, ttl time.Duration) (int64, error) {
	return s.list.Append(ctx, key, value, ttl)
}

func (s *fileStore) Range(ctx context.Context, key string, start, stop int64) ([][]byte, error) {
	return s.list.Range(ctx, key, start, stop)
}

func (s *fileStore) Delete(_ context.Context, key string) error {
	if err := os.Remove(s.path(key)); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

func (s *fileStore) DeleteMany(ctx context.Context, keys ...string) error {
	for _, key := range keys {
		if err := s.Delete(ctx, key); err != nil {
			return err
		}
	}
	return nil
}

// Flush removes every entry file in the directory, leaving foreign files alone.
func (s *fileStore) Flush(_ context.Context) error {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return err
	}
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), fileRecordExt) {
			continue
		}
		if err := os.Remove(filepath.Join(s.dir, entry.Name())); err != nil && !errors.Is(err, os.ErrNotExist) {
			return err
		}
	}
	return nil
}

func (s *fileStore) path(key string) string {
	sum := sha256.Sum256([]byte(key))
	return filepath.Join(s.dir, hex.EncodeToString(sum[:])+fileRecordExt)
}

func decodeFileRecord(data []byte) (int64, []byte, error) {
	if len(data) < fileRecordHeaderLen || !bytes.Equal(data[:4], fileRecordMagic) {
		return 0, nil, errCorruptRecord
	}
	expiresAt := int64(binary.BigEndian.Uint64(data[4:fileRecordHeaderLen]))
	return expiresAt, data[fileRecordHeaderLen:], nil
}
