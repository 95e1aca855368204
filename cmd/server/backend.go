package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/JonMunkholm/shortlinks/internal/config"
	"github.com/JonMunkholm/shortlinks/internal/core"
	"github.com/JonMunkholm/shortlinks/internal/store/memory"
	"github.com/JonMunkholm/shortlinks/internal/store/postgres"
	"github.com/JonMunkholm/shortlinks/internal/store/redisstore"
)

// backend is the selected store plus the optional roles it fills.
type backend struct {
	store    core.Store
	settings core.SettingsStore
	audit    core.AuditSink
	purger   core.AuditPurger
	health   func(ctx context.Context) error
	close    func()

	// exclusive is true when no other process writes to the store.
	exclusive bool
}

func openBackend(ctx context.Context, cfg *config.Config) (*backend, error) {
	switch strings.ToLower(cfg.Store.Backend) {
	case config.BackendPostgres:
		return openPostgres(ctx, cfg.Database)
	case config.BackendRedis:
		return openRedis(ctx, cfg.Redis)
	case config.BackendMemory:
		slog.Warn("using in-memory store, data is lost on restart")
		s := memory.New(memory.WithTransactions())
		return &backend{store: s, settings: s, audit: s, purger: s, close: func() {}, exclusive: true}, nil
	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.Store.Backend)
	}
}

func openPostgres(ctx context.Context, cfg config.DatabaseConfig) (*backend, error) {
	// Parse and configure connection pool
	poolConfig, err := pgxpool.ParseConfig(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parse database URL: %w", err)
	}
	poolConfig.MaxConns = int32(cfg.MaxConns)
	poolConfig.MinConns = int32(cfg.MinConns)
	poolConfig.MaxConnLifetime = cfg.MaxConnLifetime
	poolConfig.MaxConnIdleTime = cfg.MaxConnIdleTime

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	// Log which database we connected to
	if u, err := url.Parse(cfg.URL); err == nil {
		slog.Info("connected to database", "name", strings.TrimPrefix(u.Path, "/"))
	}

	if cfg.AutoMigrate {
		res, err := postgres.Migrate(ctx, pool)
		if err != nil {
			pool.Close()
			return nil, err
		}
		slog.Info("migrations applied", "applied", res.Applied, "skipped", len(res.Skipped))
	}

	s := postgres.New(pool)
	if ok, err := s.SupportsTransactions(ctx); err == nil && !ok {
		slog.Warn("database is read-only or a standby, creates run without transactions")
	}

	return &backend{
		store:    s,
		settings: s,
		audit:    s,
		purger:   s,
		health:   pool.Ping,
		close:    pool.Close,
	}, nil
}

func openRedis(ctx context.Context, cfg config.RedisConfig) (*backend, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	slog.Info("connected to redis", "addr", cfg.Addr, "db", cfg.DB)
	slog.Warn("redis store has no multi-record transactions, creates use check-then-insert")

	s := redisstore.New(client, cfg.Prefix)
	return &backend{
		store:    s,
		settings: s,
		audit:    s,
		purger:   s,
		health:   func(ctx context.Context) error { return client.Ping(ctx).Err() },
		close:    func() { _ = client.Close() },
	}, nil
}
