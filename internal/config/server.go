package config

import (
	"fmt"
	"time"

	"github.com/goforj/memo"
	"github.com/goforj/memo/memocore"
)

// Server holds the memo-web settings read from MEMO_* variables.
type Server struct {
	Addr            string        `env:"MEMO_ADDR" envDefault:":8080"`
	ShutdownTimeout time.Duration `env:"MEMO_SHUTDOWN_TIMEOUT" envDefault:"10s"`
	LogVerbose      bool          `env:"MEMO_LOG_VERBOSE"`
	MetricsNS       string        `env:"MEMO_METRICS_NAMESPACE"`

	FetchTTL     time.Duration `env:"MEMO_FETCH_TTL" envDefault:"10s"`
	FetchTimeout time.Duration `env:"MEMO_FETCH_TIMEOUT" envDefault:"30s"`
	PageTTL      time.Duration `env:"MEMO_PAGE_TTL" envDefault:"10s"`

	Driver        string `env:"MEMO_DRIVER" envDefault:"memory"`
	Prefix        string `env:"MEMO_PREFIX" envDefault:"memo"`
	Compression   string `env:"MEMO_COMPRESSION" envDefault:"none"`
	MaxValueBytes int    `env:"MEMO_MAX_VALUE_BYTES"`
	EncryptionKey string `env:"MEMO_ENCRYPTION_KEY"`

	RedisAddr     string `env:"MEMO_REDIS_ADDR" envDefault:"127.0.0.1:6379"`
	RedisPassword string `env:"MEMO_REDIS_PASSWORD"`
	RedisDB       int    `env:"MEMO_REDIS_DB"`

	FileDir string `env:"MEMO_FILE_DIR"`

	SQLDriver string `env:"MEMO_SQL_DRIVER" envDefault:"sqlite"`
	SQLDSN    string `env:"MEMO_SQL_DSN" envDefault:"file:memo.db"`
	SQLTable  string `env:"MEMO_SQL_TABLE"`

	NATSURL    string `env:"MEMO_NATS_URL" envDefault:"nats://127.0.0.1:4222"`
	NATSBucket string `env:"MEMO_NATS_BUCKET" envDefault:"memo"`

	DynamoEndpoint string `env:"MEMO_DYNAMO_ENDPOINT"`
	DynamoRegion   string `env:"MEMO_DYNAMO_REGION"`
	DynamoTable    string `env:"MEMO_DYNAMO_TABLE"`
}

// Load parses and validates the server configuration.
func Load() (Server, error) {
	var cfg Server
	if err := ParseEnv(&cfg); err != nil {
		return Server{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Server{}, err
	}
	return cfg, nil
}

// Validate rejects unknown drivers, codecs and encryption key sizes.
func (s Server) Validate() error {
	switch memo.Driver(s.Driver) {
	case memo.DriverMemory, memo.DriverRedis, memo.DriverFile, memo.DriverSQL, memo.DriverNATS, memo.DriverDynamo:
	default:
		return fmt.Errorf("config: unknown MEMO_DRIVER %q", s.Driver)
	}
	if _, err := memocore.ParseCompression(s.Compression); err != nil {
		return fmt.Errorf("config: MEMO_COMPRESSION: %w", err)
	}
	switch len(s.EncryptionKey) {
	case 0, 16, 24, 32:
	default:
		return fmt.Errorf("config: MEMO_ENCRYPTION_KEY: %w", memo.ErrEncryptionKey)
	}
	if s.MaxValueBytes < 0 {
		return fmt.Errorf("config: MEMO_MAX_VALUE_BYTES must not be negative")
	}
	return nil
}

// StoreConfig maps the settings onto a memo.StoreConfig. Clients for redis
// and nats are attached by the caller.
func (s Server) StoreConfig() memo.StoreConfig {
	codec, _ := memocore.ParseCompression(s.Compression)
	cfg := memo.StoreConfig{
		Driver:         memo.Driver(s.Driver),
		FileDir:        s.FileDir,
		SQLDriverName:  s.SQLDriver,
		SQLDSN:         s.SQLDSN,
		SQLTable:       s.SQLTable,
		DynamoEndpoint: s.DynamoEndpoint,
		DynamoRegion:   s.DynamoRegion,
		DynamoTable:    s.DynamoTable,
	}
	cfg.Prefix = s.Prefix
	cfg.Compression = codec
	cfg.MaxValueBytes = s.MaxValueBytes
	if s.EncryptionKey != "" {
		cfg.EncryptionKey = []byte(s.EncryptionKey)
	}
	return cfg
}

// CacheOptions returns the cache tuning options.
func (s Server) CacheOptions() []memo.CacheOption {
	return []memo.CacheOption{
		memo.WithFetchTTL(s.FetchTTL),
		memo.WithFetchTimeout(s.FetchTimeout),
	}
}
