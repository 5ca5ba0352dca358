package main

import (
	"context"
	"database/sql"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"flowguard/api/internal/app"
	"flowguard/api/internal/archive"
	"flowguard/api/internal/auth"
	"flowguard/api/internal/blob"
	"flowguard/api/internal/collab"
	"flowguard/api/internal/config"
	"flowguard/api/internal/export"
	"flowguard/api/internal/logging"
	"flowguard/api/internal/realtime"
	"flowguard/api/internal/riskapi"
	"flowguard/api/internal/session"
	"flowguard/api/internal/store"
)

func main() {
	cfg := config.Load()

	logger, err := logging.New(cfg.LogLevel, cfg.LogFormat, "flowguard-api")
	if err != nil {
		log.Fatalf("logger init failed: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var (
		docs store.DocumentStore
		ping func(context.Context) error
	)
	switch cfg.StoreDriver {
	case config.StoreDriverPostgres:
		var db *sql.DB
		db, err = store.Open(ctx, cfg.DatabaseURL)
		if err != nil {
			logger.Fatal("database connection failed", zap.Error(err))
		}
		defer db.Close()
		if err := store.ApplyMigrations(ctx, db, cfg.MigrationsDir); err != nil {
			logger.Fatal("migrations failed", zap.Error(err))
		}
		docs = store.NewPostgresStore(db)
		ping = db.PingContext
	case config.StoreDriverMemory:
		docs = store.NewMemoryStore()
	default:
		logger.Warn("project sharing disabled", zap.String("store_driver", cfg.StoreDriver))
	}

	var (
		notifier    realtime.Notifier = realtime.NewLocalNotifier()
		active      session.ActiveProjects
		translation riskapi.TranslationCache = riskapi.NewMemoryTranslationCache()
	)
	if strings.TrimSpace(cfg.RedisURL) != "" {
		logger.Info("using redis for active projects and change fan-out")
		redisStore, err := session.NewRedisStore(cfg.RedisURL)
		if err != nil {
			logger.Fatal("redis connection failed", zap.Error(err))
		}
		defer redisStore.Close()
		client := redisStore.Client()
		active = redisStore
		notifier = realtime.NewRedisNotifier(client, realtime.DefaultChannel)
		translation = riskapi.NewRedisTranslationCache(client, cfg.TranslationTTL)
		ping = withRedisPing(ping, client)
	}

	var hub *realtime.Hub
	if docs != nil {
		hub = realtime.NewHub(docs, notifier, logger)
		go func() {
			if err := hub.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("live hub stopped", zap.Error(err))
			}
		}()
	}

	deps := app.Deps{
		Projects: collab.NewService(docs, notifier, hub, logger),
		Active:   active,
		Tokens:   auth.NewIssuer(cfg.TokenSecret, cfg.TokenTTL),
		Renderer: export.NewService(nil),
		Ping:     ping,
		Logger:   logger,
	}
	if strings.TrimSpace(cfg.RiskAPIURL) != "" {
		deps.Risk = riskapi.New(riskapi.Options{
			BaseURL:         cfg.RiskAPIURL,
			SimulateTimeout: cfg.SimulateTimeout,
			AssistTimeout:   cfg.AssistTimeout,
			Cache:           translation,
			Logger:          logger,
		})
	}
	if strings.TrimSpace(cfg.MinioEndpoint) != "" {
		reports, err := blob.NewMinioStore(blob.Config{
			Endpoint:  cfg.MinioEndpoint,
			AccessKey: cfg.MinioAccessKey,
			SecretKey: cfg.MinioSecretKey,
			Bucket:    cfg.MinioBucket,
			Region:    cfg.MinioRegion,
			UseSSL:    cfg.MinioUseSSL,
		})
		if err != nil {
			logger.Fatal("report storage init failed", zap.Error(err))
		}
		if err := reports.EnsureBucket(ctx); err != nil {
			logger.Fatal("report bucket unavailable", zap.String("bucket", cfg.MinioBucket), zap.Error(err))
		}
		deps.Reports = reports
	}
	if strings.TrimSpace(cfg.ArchiveDir) != "" {
		if err := os.MkdirAll(cfg.ArchiveDir, 0o755); err != nil {
			logger.Fatal("failed to create archive dir", zap.Error(err))
		}
		deps.Archive = archive.New(cfg.ArchiveDir)
	}

	service := app.New(cfg, deps)
	httpServer := app.NewHTTPServer(service, cfg.CORSOrigin, logger)
	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           httpServer.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		// Simulations can run for minutes upstream.
		WriteTimeout: cfg.SimulateTimeout + 30*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("FlowGuard API listening",
			zap.String("addr", cfg.Addr),
			zap.String("store_driver", cfg.StoreDriver),
			zap.String("report_mode", cfg.ReportMode),
		)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("server failed", zap.Error(err))
		}
	}()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("shutdown error", zap.Error(err))
	}
}

// withRedisPing extends the readiness check with a Redis round trip.
func withRedisPing(next func(context.Context) error, client *redis.Client) func(context.Context) error {
	return func(ctx context.Context) error {
		if next != nil {
			if err := next(ctx); err != nil {
				return err
			}
		}
		return client.Ping(ctx).Err()
	}
}
