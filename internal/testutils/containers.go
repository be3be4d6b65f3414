// Package testutils 以 testcontainers 啟動整合測試需要的後端
//
// 容器在測試結束時自動終止。呼叫端應先以 testing.Short() 跳過。
package testutils

import (
	"context"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	tc "github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	tcredis "github.com/testcontainers/testcontainers-go/modules/redis"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/koopa0/system-design/14-arena-server/internal/migrations"
)

// Postgres 已完成遷移的 PostgreSQL 容器
type Postgres struct {
	Pool *pgxpool.Pool
	DSN  string
}

// Redis Redis 容器
type Redis struct {
	Client *redis.Client
	Addr   string
}

// Logger 測試時減少日誌噪音
func Logger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelWarn,
	}))
}

// SetupPostgres 啟動 PostgreSQL 容器並執行遷移
func SetupPostgres(t testing.TB) *Postgres {
	t.Helper()
	ctx := context.Background()

	container, err := tcpostgres.Run(ctx,
		"postgres:16-alpine",
		tcpostgres.WithDatabase("arena"),
		tcpostgres.WithUsername("arena"),
		tcpostgres.WithPassword("arena"),
		tc.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second),
		),
	)
	if err != nil {
		t.Fatalf("failed to start postgres container: %v", err)
	}
	t.Cleanup(func() { _ = container.Terminate(context.Background()) })

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		t.Fatalf("failed to get postgres connection string: %v", err)
	}

	if err := migrations.Run(dsn, Logger()); err != nil {
		t.Fatalf("failed to run migrations: %v", err)
	}

	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		t.Fatalf("failed to parse postgres config: %v", err)
	}
	cfg.MaxConns = 5

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		t.Fatalf("failed to create postgres pool: %v", err)
	}
	t.Cleanup(pool.Close)

	if err := pool.Ping(ctx); err != nil {
		t.Fatalf("failed to ping postgres: %v", err)
	}

	return &Postgres{Pool: pool, DSN: dsn}
}

// Truncate 清空戰績資料表
func (p *Postgres) Truncate(t testing.TB) {
	t.Helper()
	if _, err := p.Pool.Exec(context.Background(), `TRUNCATE TABLE match_occupants, matches RESTART IDENTITY`); err != nil {
		t.Fatalf("failed to truncate tables: %v", err)
	}
}

// SetupRedis 啟動 Redis 容器
func SetupRedis(t testing.TB) *Redis {
	t.Helper()
	ctx := context.Background()

	container, err := tcredis.Run(ctx, "redis:7-alpine")
	if err != nil {
		t.Fatalf("failed to start redis container: %v", err)
	}
	t.Cleanup(func() { _ = container.Terminate(context.Background()) })

	endpoint, err := container.Endpoint(ctx, "")
	if err != nil {
		t.Fatalf("failed to get redis endpoint: %v", err)
	}

	client := redis.NewClient(&redis.Options{
		Addr:         endpoint,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})
	t.Cleanup(func() { _ = client.Close() })

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		t.Fatalf("failed to ping redis: %v", err)
	}

	return &Redis{Client: client, Addr: endpoint}
}

// Flush 清空 Redis
func (r *Redis) Flush(t testing.TB) {
	t.Helper()
	if err := r.Client.FlushDB(context.Background()).Err(); err != nil {
		t.Fatalf("failed to flush redis: %v", err)
	}
}
