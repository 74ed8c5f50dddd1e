package memo

import (
	"os"
	"path/filepath"
	"time"

	"github.com/goforj/memo/memocore"
)

const (
	defaultStorePrefix           = "memo"
	defaultMemoryCleanupInterval = 10 * time.Minute
	defaultSQLTable              = "memo_entries"
	defaultDynamoTable           = "memo_entries"
	defaultDynamoRegion          = "us-east-1"
)

func defaultFileDir() string {
	return filepath.Join(os.TempDir(), "memo-file")
}

// StoreConfig controls how a Store is constructed.
type StoreConfig struct {
	memocore.BaseConfig

	Driver Driver

	// MemoryCleanupInterval controls how often the memory driver sweeps expired entries.
	MemoryCleanupInterval time.Duration

	// RedisClient is required when DriverRedis is used.
	RedisClient RedisClient

	// FileDir controls where the file driver writes entries.
	FileDir string

	// SQLDriverName is one of sqlite, pgx/postgres or mysql.
	SQLDriverName string
	SQLDSN        string
	SQLTable      string

	// NATSKeyValue is required when DriverNATS is used.
	NATSKeyValue NATSKeyValue

	DynamoClient   DynamoAPI
	DynamoEndpoint string
	DynamoRegion   string
	DynamoTable    string
}

func (c StoreConfig) withDefaults() StoreConfig {
	if c.Driver == "" {
		c.Driver = DriverMemory
	}
	if c.MemoryCleanupInterval <= 0 {
		c.MemoryCleanupInterval = defaultMemoryCleanupInterval
	}
	if c.Prefix == "" {
		c.Prefix = defaultStorePrefix
	}
	if c.Compression == "" {
		c.Compression = memocore.CompressionNone
	}
	if c.FileDir == "" {
		c.FileDir = defaultFileDir()
	}
	if c.SQLTable == "" {
		c.SQLTable = defaultSQLTable
	}
	if c.DynamoTable == "" {
		c.DynamoTable = defaultDynamoTable
	}
	if c.DynamoRegion == "" {
		c.DynamoRegion = defaultDynamoRegion
	}
	return c
}
