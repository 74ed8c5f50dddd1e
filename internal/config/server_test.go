package config

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/goforj/memo"
	"github.com/goforj/memo/memocore"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Addr != ":8080" || cfg.Driver != "memory" || cfg.Prefix != "memo" {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
	if cfg.FetchTTL != 10*time.Second || cfg.FetchTimeout != 30*time.Second || cfg.PageTTL != 10*time.Second {
		t.Fatalf("unexpected durations: ttl=%s timeout=%s page=%s", cfg.FetchTTL, cfg.FetchTimeout, cfg.PageTTL)
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("MEMO_DRIVER", "sql")
	t.Setenv("MEMO_SQL_DSN", "file::memory:")
	t.Setenv("MEMO_COMPRESSION", "snappy")
	t.Setenv("MEMO_FETCH_TTL", "2s")
	t.Setenv("MEMO_ENCRYPTION_KEY", "0123456789abcdef")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	sc := cfg.StoreConfig()
	if sc.Driver != memo.DriverSQL || sc.SQLDSN != "file::memory:" || sc.SQLDriverName != "sqlite" {
		t.Fatalf("unexpected store config: %+v", sc)
	}
	if sc.Compression != memocore.CompressionSnappy {
		t.Fatalf("expected snappy, got %q", sc.Compression)
	}
	if string(sc.EncryptionKey) != "0123456789abcdef" {
		t.Fatalf("unexpected encryption key %q", sc.EncryptionKey)
	}
	if cfg.FetchTTL != 2*time.Second {
		t.Fatalf("expected fetch ttl 2s, got %s", cfg.FetchTTL)
	}
	if len(cfg.CacheOptions()) != 2 {
		t.Fatalf("expected two cache options")
	}
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	cases := []struct {
		name string
		key  string
		val  string
		want string
	}{
		{name: "driver", key: "MEMO_DRIVER", val: "memcached", want: "MEMO_DRIVER"},
		{name: "codec", key: "MEMO_COMPRESSION", val: "lz4", want: "MEMO_COMPRESSION"},
		{name: "duration", key: "MEMO_FETCH_TTL", val: "soon", want: "parse env:"},
		{name: "max", key: "MEMO_MAX_VALUE_BYTES", val: "-1", want: "MEMO_MAX_VALUE_BYTES"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Setenv(tc.key, tc.val)
			_, err := Load()
			if err == nil || !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("expected error mentioning %q, got %v", tc.want, err)
			}
		})
	}
}

func TestLoadRejectsShortEncryptionKey(t *testing.T) {
	t.Setenv("MEMO_ENCRYPTION_KEY", "short")
	_, err := Load()
	if !errors.Is(err, memo.ErrEncryptionKey) {
		t.Fatalf("expected ErrEncryptionKey, got %v", err)
	}
}
