// Package main serves a memo cache and page fetcher over HTTP.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/nats-io/nats.go"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"

	"github.com/goforj/memo"
	"github.com/goforj/memo/internal/config"
	"github.com/goforj/memo/internal/httpapi"
	"github.com/goforj/memo/webpage"
)

func main() {
	os.Exit(realMain(os.Args[1:], os.Stderr))
}

// realMain returns the process exit code so deferred cleanup runs before exit.
func realMain(args []string, stderr io.Writer) int {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	fs := flag.NewFlagSet("memo-web", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.StringVar(&cfg.Addr, "addr", cfg.Addr, "listen address (default: MEMO_ADDR)")
	fs.StringVar(&cfg.Driver, "driver", cfg.Driver, "store driver (default: MEMO_DRIVER)")
	fs.BoolVar(&cfg.LogVerbose, "v", cfg.LogVerbose, "log every cache operation")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger := log.New(stderr, "memo-web ", log.LstdFlags)
	if err := run(ctx, cfg, logger); err != nil {
		logger.Printf("%v", err)
		return 1
	}
	return 0
}

func run(ctx context.Context, cfg config.Server, logger *log.Logger) error {
	store, closeStore, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeStore()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics, err := memo.NewPrometheusObserver(cfg.MetricsNS, reg)
	if err != nil {
		return fmt.Errorf("register metrics: %w", err)
	}

	opts := append(cfg.CacheOptions(), memo.WithCacheObserver(memo.MultiObserver{
		metrics,
		memo.NewLogObserver(logger, cfg.LogVerbose),
	}))
	cache := memo.NewCache(store, opts...)

	api := httpapi.NewServer(httpapi.Config{
		Cache:    cache,
		Pages:    webpage.New(cache, webpage.WithTTL(cfg.PageTTL)),
		Gatherer: reg,
		Logger:   logger,
	})
	srv := &http.Server{Addr: cfg.Addr, Handler: api.Router()}

	errCh := make(chan error, 1)
	go func() {
		logger.Printf("listening on %s (driver=%s)", cfg.Addr, store.Driver())
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	logger.Printf("shutting down")
	return srv.Shutdown(shutdownCtx)
}

// openStore builds the configured store along with the clients it needs.
// The returned func closes the store and those clients.
func openStore(ctx context.Context, cfg config.Server) (memo.Store, func(), error) {
	storeCfg := cfg.StoreConfig()
	var closers []func() error

	switch storeCfg.Driver {
	case memo.DriverRedis:
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		if err := client.Ping(ctx).Err(); err != nil {
			_ = client.Close()
			return nil, nil, fmt.Errorf("connect redis %s: %w", cfg.RedisAddr, err)
		}
		storeCfg.RedisClient = client
		closers = append(closers, client.Close)
	case memo.DriverNATS:
		nc, err := nats.Connect(cfg.NATSURL)
		if err != nil {
			return nil, nil, fmt.Errorf("connect nats %s: %w", cfg.NATSURL, err)
		}
		kv, err := openBucket(nc, cfg.NATSBucket)
		if err != nil {
			nc.Close()
			return nil, nil, err
		}
		storeCfg.NATSKeyValue = kv
		closers = append(closers, func() error { return nc.Drain() })
	}

	store, err := memo.NewStore(ctx, storeCfg)
	if err != nil {
		for _, c := range closers {
			_ = c()
		}
		return nil, nil, err
	}
	closeAll := func() {
		if err := memo.CloseStore(store); err != nil {
			log.Printf("close store: %v", err)
		}
		for _, c := range closers {
			if err := c(); err != nil {
				log.Printf("close client: %v", err)
			}
		}
	}
	return store, closeAll, nil
}

func openBucket(nc *nats.Conn, bucket string) (nats.KeyValue, error) {
	js, err := nc.JetStream()
	if err != nil {
		return nil, fmt.Errorf("jetstream: %w", err)
	}
	kv, err := js.KeyValue(bucket)
	if errors.Is(err, nats.ErrBucketNotFound) {
		kv, err = js.CreateKeyValue(&nats.KeyValueConfig{Bucket: bucket})
	}
	if err != nil {
		return nil, fmt.Errorf("open nats bucket %q: %w", bucket, err)
	}
	return kv, nil
}
