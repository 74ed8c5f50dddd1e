package memo

import (
	"context"
	"fmt"
	"io"
)

// NewStore returns a concrete store for the requested driver, wrapped with the
// configured encryption and compression layers.
// Caller is responsible for providing any driver-specific dependencies.
// @group Constructors
//
// Example: select driver explicitly
//
//	ctx := context.Background()
//	store, _ := memo.NewStore(ctx, memo.StoreConfig{
//		Driver: memo.DriverMemory,
//	})
//	fmt.Println(store.Driver()) // memory
func NewStore(ctx context.Context, cfg StoreConfig) (Store, error) {
	cfg = cfg.withDefaults()
	var (
		base Store
		err  error
	)
	switch cfg.Driver {
	case DriverRedis:
		base = newRedisStore(cfg.RedisClient, cfg.Prefix)
	case DriverFile:
		base, err = newFileStore(cfg.FileDir)
	case DriverSQL:
		base, err = newSQLStore(ctx, cfg)
	case DriverNATS:
		base = newNATSStore(cfg.NATSKeyValue, cfg.Prefix)
	case DriverDynamo:
		base, err = newDynamoStore(ctx, cfg)
	case DriverMemory:
		base = newMemoryStore(cfg.MemoryCleanupInterval)
	default:
		return nil, fmt.Errorf("memo: unknown store driver %q", cfg.Driver)
	}
	if err != nil {
		return nil, fmt.Errorf("memo: open %s store: %w", cfg.Driver, err)
	}
	encrypted, err := newEncryptingStore(base, cfg.EncryptionKey)
	if err != nil {
		return nil, err
	}
	return newShapingStore(encrypted, cfg.Compression, cfg.MaxValueBytes), nil
}

// NewStoreWith builds a store using a driver and a set of functional options.
// Required data (e.g., Redis client) must be provided via options when needed.
// @group Constructors
//
// Example: redis store (options)
//
//	redisClient := redis.NewClient(&redis.Options{Addr: "127.0.0.1:6379"})
//	store, err := memo.NewStoreWith(ctx, memo.DriverRedis,
//		memo.WithRedisClient(redisClient),
//		memo.WithPrefix("app"),
//	)
func NewStoreWith(ctx context.Context, driver Driver, opts ...StoreOption) (Store, error) {
	cfg := StoreConfig{Driver: driver}
	for _, opt := range opts {
		cfg = opt(cfg)
	}
	return NewStore(ctx, cfg)
}

// NewMemoryStore is a convenience for an in-process store with optional overrides.
// The memory driver cannot fail to open, so no error is returned.
// @group Constructors
func NewMemoryStore(ctx context.Context, opts ...StoreOption) Store {
	store, err := NewStoreWith(ctx, DriverMemory, opts...)
	if err != nil {
		// only reachable through an invalid encryption key
		panic(err)
	}
	return store
}

// NewRedisStore is a convenience for a redis-backed store. Redis client is required.
// @group Constructors
func NewRedisStore(ctx context.Context, client RedisClient, opts ...StoreOption) (Store, error) {
	return NewStoreWith(ctx, DriverRedis, append([]StoreOption{WithRedisClient(client)}, opts...)...)
}

// NewFileStore is a convenience for a filesystem-backed store.
// @group Constructors
func NewFileStore(ctx context.Context, dir string, opts ...StoreOption) (Store, error) {
	return NewStoreWith(ctx, DriverFile, append([]StoreOption{WithFileDir(dir)}, opts...)...)
}

// NewSQLStore is a convenience for a database/sql backed store.
// @group Constructors
func NewSQLStore(ctx context.Context, driverName, dsn string, opts ...StoreOption) (Store, error) {
	return NewStoreWith(ctx, DriverSQL, append([]StoreOption{WithSQL(driverName, dsn, "")}, opts...)...)
}

// NewNATSStore is a convenience for a NATS JetStream key-value backed store.
// @group Constructors
func NewNATSStore(ctx context.Context, kv NATSKeyValue, opts ...StoreOption) (Store, error) {
	return NewStoreWith(ctx, DriverNATS, append([]StoreOption{WithNATSKeyValue(kv)}, opts...)...)
}

// NewDynamoStore is a convenience for a DynamoDB backed store.
// @group Constructors
func NewDynamoStore(ctx context.Context, opts ...StoreOption) (Store, error) {
	return NewStoreWith(ctx, DriverDynamo, opts...)
}

// CloseStore releases resources held by store, such as the sql driver's
// database handle. Stores that hold nothing are left alone.
// @group Constructors
func CloseStore(store Store) error {
	for store != nil {
		if closer, ok := store.(io.Closer); ok {
			return closer.Close()
		}
		wrapped, ok := store.(interface{ unwrap() Store })
		if !ok {
			return nil
		}
		store = wrapped.unwrap()
	}
	return nil
}
