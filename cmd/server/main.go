package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/SkynetNext/game-server/internal/config"
	"github.com/SkynetNext/game-server/internal/dispatch"
	"github.com/SkynetNext/game-server/internal/events"
	"github.com/SkynetNext/game-server/internal/gateway"
	"github.com/SkynetNext/game-server/internal/handler"
	"github.com/SkynetNext/game-server/internal/keylock"
	"github.com/SkynetNext/game-server/internal/logger"
	"github.com/SkynetNext/game-server/internal/notify"
	"github.com/SkynetNext/game-server/internal/presence"
	"github.com/SkynetNext/game-server/internal/session"
	"github.com/SkynetNext/game-server/internal/store"
	"github.com/SkynetNext/game-server/internal/tracing"
)

var (
	version   = "dev"
	buildTime = "unknown"
	gitCommit = "unknown"
)

func main() {
	var configPath string
	flag.StringVar(&configPath, "config", "config/config.yaml", "Configuration file path")
	flag.Parse()

	// Load configuration
	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	// Initialize logger (read level from environment variable or use default)
	logLevel := os.Getenv("LOG_LEVEL")
	if logLevel == "" {
		logLevel = "info"
	}
	if err := logger.Init(logLevel, logger.FileOptions{
		Path:       cfg.Log.File,
		MaxSizeMB:  cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAgeDays: cfg.Log.MaxAgeDays,
		Compress:   cfg.Log.Compress,
	}); err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer logger.Sync()

	// Initialize tracing (optional, if an OTLP endpoint is provided)
	if endpoint := os.Getenv("OTEL_EXPORTER_ENDPOINT"); endpoint != "" {
		if err := tracing.Init("game-server", version, endpoint); err != nil {
			logger.L.Warn("Failed to initialize tracing", zap.Error(err))
		} else {
			logger.L.Info("Tracing initialized", zap.String("endpoint", endpoint))
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	repo, pinger, closeStore, err := openStore(ctx, &cfg.Storage)
	if err != nil {
		logger.L.Fatal("Failed to open store", zap.Error(err))
	}
	defer closeStore()

	instance := os.Getenv("POD_NAME")
	if instance == "" {
		instance, _ = os.Hostname()
	}

	tracker, closePresence := openPresence(ctx, &cfg.Redis, instance)
	defer closePresence()

	publisher, closeEvents := openEvents(&cfg.Events)
	defer closeEvents()

	registry := session.NewRegistry()
	notifier := notify.New(registry, cfg.Server.WriteTimeout)
	handlers := handler.New(handler.Deps{
		Repo:        repo,
		Registry:    registry,
		Locks:       keylock.NewManager(),
		Notifier:    notifier,
		Events:      publisher,
		Presence:    tracker,
		LockTimeout: cfg.Server.LockTimeout,
	})

	dispatcher := dispatch.New(handlers.Table())
	logger.L.Info("message handlers registered", zap.Strings("types", dispatcher.Types()))

	deps := gateway.Deps{
		Registry:   registry,
		Dispatcher: dispatcher,
		Notifier:   notifier,
		Presence:   tracker,
		Store:      pinger,
	}
	gw := gateway.New(cfg, deps)

	if err := gw.Start(ctx); err != nil {
		logger.L.Fatal("Failed to start server", zap.Error(err))
	}

	// Configuration hot reload
	if interval := cfg.Server.ConfigReloadInterval; interval > 0 {
		reloader := config.NewHotReloadManager(cfg, gw.UpdateConfig)
		go func() {
			if err := reloader.WatchConfigFile(ctx, configPath, interval); err != nil && !errors.Is(err, context.Canceled) {
				logger.L.Warn("config watcher stopped", zap.Error(err))
			}
		}()
	}

	logger.L.Info("Game Server started successfully",
		zap.String("version", version),
		zap.String("build_time", buildTime),
		zap.String("git_commit", gitCommit),
		zap.String("instance", instance),
		zap.String("storage", cfg.Storage.Driver),
	)

	// Wait for interrupt signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	logger.L.Info("Received stop signal, starting graceful shutdown...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.GracefulShutdownTimeout)
	defer shutdownCancel()

	if err := gw.Shutdown(shutdownCtx); err != nil {
		logger.L.Error("Error during server shutdown", zap.Error(err))
	}
	cancel()

	if err := tracing.Shutdown(shutdownCtx); err != nil {
		logger.L.Warn("Error during tracing shutdown", zap.Error(err))
	}

	logger.L.Info("Game Server closed")
}

// openStore builds the repository named by cfg.Driver, wrapped in the
// friend list cache when enabled. The pinger is nil for the memory store.
func openStore(ctx context.Context, cfg *config.StorageConfig) (store.Repository, store.Pinger, func(), error) {
	var (
		repo    store.Repository
		pinger  store.Pinger
		closeFn = func() {}
	)

	switch cfg.Driver {
	case "postgres":
		if cfg.MigrateEnabled() {
			if err := migrateUp(cfg.DSN); err != nil {
				return nil, nil, nil, err
			}
		}

		pg, err := store.NewPostgres(ctx, store.PostgresOptions{
			DSN:               cfg.DSN,
			MaxConns:          cfg.MaxConns,
			ConnectRetries:    cfg.ConnectRetries,
			ConnectRetryDelay: cfg.ConnectRetryDelay,
		})
		if err != nil {
			return nil, nil, nil, err
		}
		repo, pinger, closeFn = pg, pg, pg.Close
	default:
		repo = store.NewMemory()
	}

	if cfg.FriendCacheTTL > 0 {
		repo = store.NewFriendCache(repo, cfg.FriendCacheTTL)
	}
	return repo, pinger, closeFn, nil
}

func migrateUp(dsn string) error {
	m, err := store.NewMigrator(dsn)
	if err != nil {
		return err
	}
	defer func() {
		if err := m.Close(); err != nil {
			logger.L.Warn("failed to close migrator", zap.Error(err))
		}
	}()
	return m.Up()
}

// openPresence returns the Redis presence mirror, or a no-op tracker when
// Redis is not configured or unreachable
func openPresence(ctx context.Context, cfg *config.RedisConfig, instance string) (presence.Tracker, func()) {
	if cfg.Addr == "" {
		return presence.Nop{}, func() {}
	}

	mirror := presence.NewMirror(cfg, instance)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := mirror.Ping(pingCtx); err != nil {
		logger.L.Warn("Redis unavailable, presence mirror disabled",
			zap.String("addr", cfg.Addr),
			zap.Error(err),
		)
		mirror.Close()
		return presence.Nop{}, func() {}
	}

	// entries left by a previous run of this instance are stale
	if err := mirror.Reset(pingCtx); err != nil {
		logger.L.Warn("failed to reset presence", zap.Error(err))
	}

	return mirror, func() {
		resetCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := mirror.Reset(resetCtx); err != nil {
			logger.L.Warn("failed to clear presence", zap.Error(err))
		}
		mirror.Close()
	}
}

func openEvents(cfg *config.EventsConfig) (events.Publisher, func()) {
	if cfg.NATSURL == "" {
		return events.Nop{}, func() {}
	}

	pub, err := events.NewNATS(events.NATSOptions{
		URL:            cfg.NATSURL,
		SubjectPrefix:  cfg.SubjectPrefix,
		MaxFailures:    cfg.MaxFailures,
		BreakerTimeout: cfg.BreakerTimeout,
	})
	if err != nil {
		logger.L.Warn("NATS unavailable, event publishing disabled", zap.Error(err))
		return events.Nop{}, func() {}
	}

	return pub, func() {
		if err := pub.Close(); err != nil {
			logger.L.Warn("failed to close nats connection", zap.Error(err))
		}
	}
}
