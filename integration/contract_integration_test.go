//go:build integration

package integration

import (
	"context"
	"net"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/docker/go-connections/nat"
	"github.com/nats-io/nats.go"
	goredis "github.com/redis/go-redis/v9"
	testcontainers "github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/goforj/memo"
	"github.com/goforj/memo/memotest"
)

type storeFactory struct {
	name string
	new  func(t *testing.T) memo.Store
	opts memotest.Options
}

func TestStoreContract_AllDrivers(t *testing.T) {
	fixtures := integrationFixtures()
	if len(fixtures) == 0 {
		t.Skip("no integration drivers selected")
	}
	for _, fx := range fixtures {
		fx := fx
		t.Run(fx.name, func(t *testing.T) {
			store := fx.new(t)
			opts := fx.opts
			opts.CaseName = t.Name()
			memotest.RunStoreContract(t, store, opts)
		})
	}
}

// TestCacheScenario_AllDrivers runs the memoize and replay flow end to end
// against every selected backend.
func TestCacheScenario_AllDrivers(t *testing.T) {
	fixtures := integrationFixtures()
	if len(fixtures) == 0 {
		t.Skip("no integration drivers selected")
	}
	for _, fx := range fixtures {
		fx := fx
		t.Run(fx.name, func(t *testing.T) {
			ctx := context.Background()
			c := memo.NewCache(fx.new(t))
			if err := c.Flush(ctx); err != nil {
				t.Fatalf("flush: %v", err)
			}

			var calls int32
			fetch := func(context.Context) (string, error) {
				atomic.AddInt32(&calls, 1)
				return "<html>ok</html>", nil
			}
			for i := 0; i < 3; i++ {
				body, err := c.GetOrFetchString(ctx, "html:http://example.test", 2*time.Second, fetch)
				if err != nil || body != "<html>ok</html>" {
					t.Fatalf("get or fetch: %q err=%v", body, err)
				}
			}
			if calls != 1 {
				t.Fatalf("expected one fetch, got %d", calls)
			}

			for i := 0; i < 3; i++ {
				if err := c.RecordCall(ctx, "f", []any{1}, 2); err != nil {
					t.Fatalf("record call: %v", err)
				}
			}
			lines, err := c.Replay(ctx, "f")
			if err != nil || len(lines) != 3 || lines[2] != "f(*(1,)) -> 2" {
				t.Fatalf("unexpected replay %v err=%v", lines, err)
			}
			if n, err := c.AccessCount(ctx, "f"); err != nil || n != 3 {
				t.Fatalf("expected count 3, got %d err=%v", n, err)
			}
		})
	}
}

func integrationFixtures() []storeFactory {
	var fixtures []storeFactory

	if integrationDriverEnabled("memory") {
		fixtures = append(fixtures, storeFactory{
			name: "memory",
			new: func(t *testing.T) memo.Store {
				return memo.NewMemoryStore(context.Background(), memo.WithPrefix("itest"))
			},
		})
	}

	if integrationDriverEnabled("file") {
		fixtures = append(fixtures, storeFactory{
			name: "file",
			new: func(t *testing.T) memo.Store {
				store, err := memo.NewFileStore(context.Background(), t.TempDir())
				if err != nil {
					t.Fatalf("create file store: %v", err)
				}
				return store
			},
		})
	}

	if integrationDriverEnabled("sqlite") {
		fixtures = append(fixtures, storeFactory{
			name: "sqlite",
			new: func(t *testing.T) memo.Store {
				dsn := "file:" + filepath.Join(t.TempDir(), "memo.db")
				return openSQLStore(t, "sqlite", dsn)
			},
		})
	}

	if integrationDriverEnabled("redis") {
		fixtures = append(fixtures, storeFactory{
			name: "redis",
			new: func(t *testing.T) memo.Store {
				addr := startContainer(t, testcontainers.ContainerRequest{
					Image:        "redis:7-bookworm",
					ExposedPorts: []string{"6379/tcp"},
					WaitingFor:   wait.ForListeningPort("6379/tcp").WithStartupTimeout(30 * time.Second),
				}, "6379/tcp")
				client := goredis.NewClient(&goredis.Options{Addr: addr})
				t.Cleanup(func() { _ = client.Close() })
				store, err := memo.NewRedisStore(context.Background(), client, memo.WithPrefix("itest"))
				if err != nil {
					t.Fatalf("create redis store: %v", err)
				}
				return store
			},
		})
	}

	if integrationDriverEnabled("nats") {
		fixtures = append(fixtures, storeFactory{
			name: "nats",
			new: func(t *testing.T) memo.Store {
				addr := startContainer(t, testcontainers.ContainerRequest{
					Image:        "nats:2",
					Cmd:          []string{"-js"},
					ExposedPorts: []string{"4222/tcp"},
					WaitingFor:   wait.ForLog("Server is ready").WithStartupTimeout(30 * time.Second),
				}, "4222/tcp")
				nc, err := nats.Connect("nats://" + addr)
				if err != nil {
					t.Fatalf("connect nats: %v", err)
				}
				t.Cleanup(func() {
					_ = nc.Drain()
					nc.Close()
				})
				js, err := nc.JetStream()
				if err != nil {
					t.Fatalf("jetstream nats: %v", err)
				}
				bucket := "memo_" + strings.NewReplacer("/", "_", ":", "_").Replace(t.Name())
				kv, err := js.CreateKeyValue(&nats.KeyValueConfig{Bucket: bucket, History: 1})
				if err != nil {
					t.Fatalf("create nats kv bucket: %v", err)
				}
				store, err := memo.NewNATSStore(context.Background(), kv, memo.WithPrefix("itest"))
				if err != nil {
					t.Fatalf("create nats store: %v", err)
				}
				return store
			},
		})
	}

	if integrationDriverEnabled("dynamodb") {
		fixtures = append(fixtures, storeFactory{
			name: "dynamodb",
			new: func(t *testing.T) memo.Store {
				addr := startContainer(t, testcontainers.ContainerRequest{
					Image:        "amazon/dynamodb-local:latest",
					ExposedPorts: []string{"8000/tcp"},
					WaitingFor:   wait.ForListeningPort("8000/tcp").WithStartupTimeout(45 * time.Second),
				}, "8000/tcp")
				store, err := memo.NewDynamoStore(context.Background(),
					memo.WithDynamoEndpoint("http://"+addr),
					memo.WithDynamoRegion("us-east-1"),
					memo.WithDynamoTable("memo_entries"),
					memo.WithPrefix("itest"),
				)
				if err != nil {
					t.Fatalf("create dynamo store: %v", err)
				}
				return store
			},
		})
	}

	if integrationDriverEnabled("postgres") {
		fixtures = append(fixtures, storeFactory{
			name: "postgres",
			new: func(t *testing.T) memo.Store {
				addr := startContainer(t, testcontainers.ContainerRequest{
					Image:        "postgres:16-bookworm",
					Env:          map[string]string{"POSTGRES_PASSWORD": "pass", "POSTGRES_USER": "user", "POSTGRES_DB": "app"},
					ExposedPorts: []string{"5432/tcp"},
					WaitingFor:   wait.ForListeningPort("5432/tcp").WithStartupTimeout(60 * time.Second),
				}, "5432/tcp")
				return openSQLStore(t, "pgx", "postgres://user:pass@"+addr+"/app?sslmode=disable")
			},
		})
	}

	if integrationDriverEnabled("mysql") {
		fixtures = append(fixtures, storeFactory{
			name: "mysql",
			new: func(t *testing.T) memo.Store {
				addr := startContainer(t, testcontainers.ContainerRequest{
					Image: "mysql:8",
					Env: map[string]string{
						"MYSQL_ROOT_PASSWORD": "pass",
						"MYSQL_DATABASE":      "app",
						"MYSQL_USER":          "user",
						"MYSQL_PASSWORD":      "pass",
					},
					ExposedPorts: []string{"3306/tcp"},
					WaitingFor: wait.ForAll(
						wait.ForListeningPort("3306/tcp").WithStartupTimeout(90*time.Second),
						wait.ForLog("ready for connections").WithOccurrence(2).WithStartupTimeout(90*time.Second),
					),
				}, "3306/tcp")
				return openSQLStore(t, "mysql", "user:pass@tcp("+addr+")/app?parseTime=true")
			},
		})
	}

	return fixtures
}

// openSQLStore retries while the database finishes booting behind an open port.
func openSQLStore(t *testing.T, driverName, dsn string) memo.Store {
	t.Helper()
	deadline := time.Now().Add(10 * time.Second)
	for {
		store, err := memo.NewSQLStore(context.Background(), driverName, dsn, memo.WithPrefix("itest"))
		if err == nil {
			t.Cleanup(func() { _ = memo.CloseStore(store) })
			return store
		}
		if time.Now().After(deadline) {
			t.Fatalf("create %s store: %v", driverName, err)
		}
		time.Sleep(200 * time.Millisecond)
	}
}

// startContainer starts req and returns host:port for the mapped port.
// The container is terminated when the test ends.
func startContainer(t *testing.T, req testcontainers.ContainerRequest, port nat.Port) string {
	t.Helper()
	ctx := context.Background()
	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		t.Fatalf("start %s container: %v", req.Image, err)
	}
	t.Cleanup(func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = container.Terminate(shutdownCtx)
	})
	host, err := container.Host(ctx)
	if err != nil {
		t.Fatalf("%s container host: %v", req.Image, err)
	}
	mapped, err := container.MappedPort(ctx, port)
	if err != nil {
		t.Fatalf("%s container port: %v", req.Image, err)
	}
	return net.JoinHostPort(host, mapped.Port())
}

// integrationDriverEnabled reads INTEGRATION_DRIVER, which may be "all"
// (default) or a comma-separated list such as "memory,redis".
func integrationDriverEnabled(name string) bool {
	value := strings.TrimSpace(strings.ToLower(os.Getenv("INTEGRATION_DRIVER")))
	if value == "" || value == "all" {
		return true
	}
	for _, part := range strings.Split(value, ",") {
		if strings.TrimSpace(part) == name {
			return true
		}
	}
	return false
}
