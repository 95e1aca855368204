package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/joho/godotenv"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/JonMunkholm/shortlinks/internal/cache"
	"github.com/JonMunkholm/shortlinks/internal/config"
	"github.com/JonMunkholm/shortlinks/internal/core"
	"github.com/JonMunkholm/shortlinks/internal/events"
	"github.com/JonMunkholm/shortlinks/internal/logging"
	"github.com/JonMunkholm/shortlinks/internal/metrics"
	"github.com/JonMunkholm/shortlinks/internal/tracing"
	"github.com/JonMunkholm/shortlinks/internal/web"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	// Load .env file if it exists (Overload overwrites existing env vars)
	if err := godotenv.Overload(); err != nil {
		slog.Info("no .env file found, using environment variables")
	} else {
		slog.Info("loaded .env file (overwriting existing env vars)")
	}

	// Load and validate configuration
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	// Setup structured logging based on config
	logging.Setup(cfg.Logging.Level, cfg.Logging.Format)
	slog.Info("configuration loaded", "config", cfg.String(), "version", version)

	if err := run(cfg); err != nil {
		slog.Error("server failed", "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config) error {
	ctx := context.Background()

	metrics.Init()

	shutdownTracing, err := tracing.Init(cfg.Tracing.Endpoint, cfg.Tracing.ServiceName, version)
	if err != nil {
		return err
	}
	defer func() {
		if err := shutdownTracing(context.Background()); err != nil {
			slog.Warn("tracer shutdown failed", "error", err)
		}
	}()

	b, err := openBackend(ctx, cfg)
	if err != nil {
		return err
	}
	defer b.close()

	// One provider for the process; exporter and importer share its cache
	keys := core.NewKeyProvider(b.settings, cfg.Crypto.AESKey, cfg.Crypto.KeyTTL)
	if _, ok := keys.Key(ctx); ok {
		slog.Info("export encryption enabled")
	}

	opts := []core.ServiceOption{core.WithAuditSinks(b.audit)}

	publisher := events.NewPublisher(cfg.Events.Brokers, cfg.Events.Topic)
	defer publisher.Close()
	if publisher.Enabled() {
		opts = append(opts, core.WithAuditSinks(publisher))
		slog.Info("publishing audit events", "brokers", cfg.Events.Brokers, "topic", cfg.Events.Topic)
	}

	if cfg.Cache.Enabled {
		linkCache, err := cache.New(cache.Config{
			MaxItems:          cfg.Cache.MaxItems,
			TTL:               cfg.Cache.TTL,
			ExpectedItems:     cfg.Cache.BloomExpectedItems,
			FalsePositiveRate: cfg.Cache.BloomFalsePositiveRate,
			Exclusive:         b.exclusive,
		})
		if err != nil {
			return err
		}
		defer linkCache.Close()
		opts = append(opts, core.WithCache(linkCache))
	}

	service := core.NewService(b.store, keys, core.ServiceConfig{
		BaseURL: cfg.Server.BaseURL,
		Import: core.ImportConfig{
			ApplyConcurrency: cfg.Import.ApplyConcurrency,
			MaxCandidates:    cfg.Import.MaxCandidates,
			MaxBytes:         cfg.Import.MaxBytes,
		},
		Export: core.ExportConfig{
			MaxRecords: cfg.Export.MaxRecords,
			BatchSize:  cfg.Export.BatchSize,
		},
		MaxConcurrentImports: cfg.Import.MaxConcurrent,
		ImportWait:           cfg.Import.MaxWaitTime,
		ImportTimeout:        cfg.Import.Timeout,
	}, opts...)

	server := web.NewServer(service, web.Options{
		RequestTimeout: cfg.Server.RequestTimeout,
		TrustedProxies: cfg.Server.TrustedProxies,
		RateLimit:      cfg.Rate,
		MaxImportBytes: cfg.Import.MaxBytes,
		Health:         b.health,
	})

	// Background maintenance: cache filter rebuild and audit purge
	jobCtx, cancelJobs := context.WithCancel(context.Background())
	var jobs sync.WaitGroup
	jobs.Add(1)
	go func() {
		defer jobs.Done()
		core.RunScheduler(jobCtx, service.MaintenanceJobs(core.MaintenanceConfig{
			CacheRebuildInterval: cfg.Cache.RebuildInterval,
			AuditRetentionDays:   cfg.Audit.RetentionDays,
			AuditPurgeInterval:   cfg.Audit.PurgeInterval,
		}, b.purger)...)
	}()

	// Graceful shutdown
	stopped := make(chan struct{})
	go func() {
		defer close(stopped)
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh

		slog.Info("shutting down...")
		cancelJobs()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()

		// Let running imports finish before the listener goes away
		if status := service.ImportLimiterStatus(); status.Active > 0 {
			slog.Info("waiting for imports to complete", "active", status.Active)
			if err := service.WaitForImports(shutdownCtx); err != nil {
				slog.Warn("imports did not complete in time", "error", err)
			} else {
				slog.Info("all imports completed")
			}
		}

		if err := server.Shutdown(shutdownCtx); err != nil {
			slog.Error("shutdown error", "error", err)
		}
	}()

	handler := otelhttp.NewHandler(server.Handler(), "shortlinks.http")
	err = server.Start(cfg.Server, handler)
	if errors.Is(err, http.ErrServerClosed) {
		<-stopped
		err = nil
	}
	cancelJobs()
	jobs.Wait()
	slog.Info("server stopped")
	return err
}
