package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/koopa0/system-design/14-arena-server/internal/config"
	"github.com/koopa0/system-design/14-arena-server/internal/events"
	"github.com/koopa0/system-design/14-arena-server/internal/game"
	"github.com/koopa0/system-design/14-arena-server/internal/handler"
	"github.com/koopa0/system-design/14-arena-server/internal/migrations"
	"github.com/koopa0/system-design/14-arena-server/internal/protocol"
	"github.com/koopa0/system-design/14-arena-server/internal/record"
	"github.com/koopa0/system-design/14-arena-server/internal/store"
	"github.com/koopa0/system-design/14-arena-server/internal/transport"
	"github.com/koopa0/system-design/14-arena-server/pkg/logger"
	"github.com/koopa0/system-design/14-arena-server/pkg/snowflake"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "arena-server: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var (
		configPath = flag.String("config", "", "配置檔路徑（YAML）")
		port       = flag.Int("port", 0, "服務器端口，覆蓋配置檔")
		logLevel   = flag.String("log-level", "", "日誌級別 (debug, info, warn, error)")
		codecName  = flag.String("codec", "", "WebSocket 編碼 (json, msgpack)")
	)
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if *port != 0 {
		cfg.Server.Port = *port
	}
	if *logLevel != "" {
		cfg.Log.Level = *logLevel
	}
	if *codecName != "" {
		cfg.Wire.Codec = *codecName
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	log, closer, err := logger.New(cfg.Log.Level, cfg.Log.Format, cfg.Log.Output, cfg.Log.AddSource)
	if err != nil {
		return fmt.Errorf("setup logger: %w", err)
	}
	defer func() { _ = closer.Close() }()

	ctx := context.Background()

	// 可選後端：未配置則略過，遊戲本身不依賴它們
	b, err := connectBackends(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer b.close()

	recorder := record.New(b.sinks, cfg.Recorder.Buffer, cfg.Recorder.SinkTimeout, log)

	ids, err := snowflake.NewNode(cfg.Server.NodeID)
	if err != nil {
		return fmt.Errorf("create id generator: %w", err)
	}

	codec, err := protocol.NewCodec(cfg.Wire.Codec)
	if err != nil {
		return err
	}

	hub := transport.NewHub(codec, transport.Options{
		ReadBufferSize:  cfg.WebSocket.ReadBufferSize,
		WriteBufferSize: cfg.WebSocket.WriteBufferSize,
		SendBuffer:      cfg.WebSocket.SendBuffer,
		MaxMessageSize:  cfg.WebSocket.MaxMessageSize,
		PongWait:        cfg.WebSocket.PongWait,
		PingPeriod:      cfg.WebSocket.PingPeriod,
		WriteWait:       cfg.WebSocket.WriteWait,
		RateCapacity:    cfg.RateLimit.Capacity,
		RateRefill:      cfg.RateLimit.RefillRate,
	}, log)

	registry := game.NewRegistry(cfg.Game, ids, hub, log)
	hub.Bind(registry)

	ticker := game.NewTicker(registry, recorder, cfg.Game.TickInterval, game.SystemClock{}, log)
	ticker.Start()

	h := handler.New(handler.Deps{
		Registry:    registry,
		Connections: hub,
		Recorder:    recorder,
		Leaderboard: b.leaderboard(),
		Matches:     b.matches(),
		Backends:    b.pingers,
		WebSocket:   hub.ServeWS,
	}, log)

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      h.Routes(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	serverErr := make(chan error, 1)
	go func() {
		log.Info("對戰房間服務器啟動",
			"port", cfg.Server.Port,
			"codec", codec.Name(),
			"capacity", cfg.Game.Capacity,
			"tick_interval", cfg.Game.TickInterval,
			"sinks", len(b.sinks))

		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigChan:
		log.Info("收到關閉信號，開始優雅關閉...", "signal", sig)
	case err := <-serverErr:
		log.Error("服務器啟動失敗", "error", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	// 停止接受新連接
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("服務器關閉失敗", "error", err)
	}

	// 先停 ticker，之後不會再有房間事件
	ticker.Stop()
	hub.Stop()
	registry.Close()

	// 排空尚未寫入的戰績
	recorder.Close()

	log.Info("服務器已關閉", "recorder", recorder.Stats())
	return nil
}

// backends 已連線的可選後端
type backends struct {
	pool      *pgxpool.Pool
	redis     *redis.Client
	publisher *events.Publisher

	matchStore *store.MatchStore
	board      *store.Leaderboard

	sinks   []record.Sink
	pingers []handler.Pinger
}

// connectBackends 依配置連線 PostgreSQL、Redis、NATS
func connectBackends(ctx context.Context, cfg *config.Config, log *slog.Logger) (*backends, error) {
	b := &backends{}

	if cfg.Postgres.DSN != "" {
		if err := migrations.Run(cfg.Postgres.DSN, log); err != nil {
			return nil, fmt.Errorf("run migrations: %w", err)
		}

		pgCfg, err := pgxpool.ParseConfig(cfg.Postgres.DSN)
		if err != nil {
			return nil, fmt.Errorf("parse postgres dsn: %w", err)
		}
		pgCfg.MaxConns = cfg.Postgres.MaxConns
		pgCfg.MinConns = cfg.Postgres.MinConns

		pool, err := pgxpool.NewWithConfig(ctx, pgCfg)
		if err != nil {
			return nil, fmt.Errorf("connect postgres: %w", err)
		}
		if err := pool.Ping(ctx); err != nil {
			pool.Close()
			return nil, fmt.Errorf("ping postgres: %w", err)
		}

		b.pool = pool
		b.matchStore = store.NewMatchStore(pool)
		b.sinks = append(b.sinks, b.matchStore)
		b.pingers = append(b.pingers, b.matchStore)
		log.Info("PostgreSQL 已連線", "max_conns", cfg.Postgres.MaxConns)
	}

	if cfg.Redis.Addr != "" {
		client := redis.NewClient(&redis.Options{
			Addr:         cfg.Redis.Addr,
			Password:     cfg.Redis.Password,
			DB:           cfg.Redis.DB,
			PoolSize:     cfg.Redis.PoolSize,
			ReadTimeout:  cfg.Redis.ReadTimeout,
			WriteTimeout: cfg.Redis.WriteTimeout,
		})
		if err := client.Ping(ctx).Err(); err != nil {
			_ = client.Close()
			b.close()
			return nil, fmt.Errorf("ping redis: %w", err)
		}

		b.redis = client
		b.board = store.NewLeaderboard(client, cfg.Redis.KeyPrefix)
		b.sinks = append(b.sinks, b.board)
		b.pingers = append(b.pingers, b.board)
		log.Info("Redis 已連線", "addr", cfg.Redis.Addr)
	}

	if cfg.NATS.URL != "" {
		pub, err := events.NewPublisher(events.Config{
			URL:     cfg.NATS.URL,
			Stream:  cfg.NATS.Stream,
			Subject: cfg.NATS.Subject,
			MaxAge:  cfg.NATS.MaxAge,
			Memory:  cfg.NATS.StorageMem,
		}, log)
		if err != nil {
			b.close()
			return nil, err
		}

		b.publisher = pub
		b.sinks = append(b.sinks, pub)
		b.pingers = append(b.pingers, pub)
	}

	return b, nil
}

// leaderboard 未配置時返回 nil 介面，避免 typed nil
func (b *backends) leaderboard() handler.Leaderboard {
	if b.board == nil {
		return nil
	}
	return b.board
}

func (b *backends) matches() handler.MatchHistory {
	if b.matchStore == nil {
		return nil
	}
	return b.matchStore
}

func (b *backends) close() {
	if b.publisher != nil {
		b.publisher.Close()
		b.publisher = nil
	}
	if b.redis != nil {
		_ = b.redis.Close()
		b.redis = nil
	}
	if b.pool != nil {
		b.pool.Close()
		b.pool = nil
	}
}
