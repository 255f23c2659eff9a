package main

import (
	"context"
	"io"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"metasync/internal/alerting"
	"metasync/internal/api"
	"metasync/internal/config"
	"metasync/internal/database"
	"metasync/internal/domain"
	"metasync/internal/export"
	"metasync/internal/logging"
	"metasync/internal/meta"
	"metasync/internal/metrics"
	"metasync/internal/processor"
	"metasync/internal/publisher"
	"metasync/internal/reconcile"
	"metasync/internal/worker"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

func main() {
	if err := run(); err != nil {
		log.Fatalf("Fatal error: %v", err)
	}
}

func run() error {
	cfg, logger, closer, err := loadConfigAndLogger()
	if err != nil {
		return err
	}
	if closer != nil {
		defer (func(c io.Closer) { _ = c.Close() })(closer)
	}

	if err := prepareDirectories(cfg); err != nil {
		logger.Error().Err(err).Msg("Failed to prepare directories")
		return err
	}

	db, err := database.NewDB(cfg.Database.Path, &logger)
	if err != nil {
		logger.Error().Err(err).Msg("Failed to initialize database")
		return err
	}
	defer db.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.Monitoring.PrometheusEnabled {
		metrics.Register()
	}

	client, err := initCatalogClient(ctx, cfg, &logger)
	if err != nil {
		return err
	}

	redisClient, statePublisher := initRedis(ctx, cfg, &logger)
	alerter := initAlerter(cfg, &logger)

	proc := processor.New(db, db, client, alerter, statePublisher, processor.Options{
		Disabled:   cfg.Sync.Disabled,
		MaxRetries: cfg.Sync.MaxRetries,
	}, &logger)

	syncWorker := worker.New(proc, db, redisClient, cfg.Sync, &logger)
	go syncWorker.Start(ctx)

	job := reconcile.New(db, db, client, proc, alerter, cfg.Reconcile.BatchSize, cfg.Catalog.PageSize, &logger)
	scheduler := reconcile.NewScheduler(job, cfg.Reconcile, &logger)
	go scheduler.Start(ctx)

	if cfg.Backup.Enabled {
		backupService := database.NewBackupService(cfg.Database.Path, cfg.Backup, &logger)
		go backupService.Start(ctx)
	}

	if cfg.API.Enabled {
		exporter := export.NewExporter(db, cfg.Exports, &logger)
		apiServer := api.NewServer(cfg.API, proc, syncWorker, job, exporter, &logger)
		go func() {
			if err := apiServer.Start(); err != nil {
				logger.Error().Err(err).Msg("API server error")
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			_ = apiServer.Shutdown(shutdownCtx)
		}()
	}

	logger.Info().
		Str("environment", cfg.App.Environment).
		Bool("sync_disabled", cfg.Sync.Disabled).
		Msg("metasync started")

	<-ctx.Done()
	logger.Info().Msg("Shutdown complete.")
	return nil
}

func loadConfigAndLogger() (*config.Config, zerolog.Logger, io.Closer, error) {
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "configs/config.yaml"
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, zerolog.Logger{}, nil, err
	}

	baseLogger, closer, err := logging.New(cfg.Logging, cfg.App)
	if err != nil {
		return nil, zerolog.Logger{}, nil, err
	}
	logger := baseLogger.With().Str("component", "main").Logger()
	return cfg, logger, closer, nil
}

func prepareDirectories(cfg *config.Config) error {
	if err := os.MkdirAll(filepath.Dir(cfg.Database.Path), 0o755); err != nil {
		return err
	}
	return os.MkdirAll(cfg.Exports.Path, 0o755)
}

func initCatalogClient(ctx context.Context, cfg *config.Config, logger *zerolog.Logger) (*meta.Client, error) {
	client, err := meta.NewClient(cfg.Catalog, meta.DefaultRetryPolicy(), logger)
	if err != nil {
		logger.Error().Err(err).Msg("Failed to initialize catalog client")
		return nil, err
	}

	// A failed probe is not fatal: credentials may recover and the retry
	// path handles auth errors with an alert.
	if err := client.VerifyAccess(ctx); err != nil {
		logger.Warn().Err(err).Msg("Catalog access check failed")
	} else {
		logger.Info().Msg("Catalog access verified")
	}
	return client, nil
}

func initRedis(ctx context.Context, cfg *config.Config, logger *zerolog.Logger) (*redis.Client, domain.StatePublisher) {
	if cfg.Redis.Address == "" {
		logger.Info().Msg("Redis is not configured, queue durability and event mirrors disabled")
		return nil, nil
	}

	redisClient := publisher.NewRedisClient(cfg.Redis)
	if err := redisClient.Ping(ctx).Err(); err != nil {
		logger.Warn().Err(err).Msg("Redis unavailable")
	}
	return redisClient, publisher.NewRedisPublisher(redisClient)
}

func initAlerter(cfg *config.Config, logger *zerolog.Logger) domain.Alerter {
	if !cfg.Alerting.Enabled || cfg.Alerting.BotToken == "" {
		logger.Info().Msg("Alerting is disabled")
		return alerting.Noop{}
	}

	botAPI, err := tgbotapi.NewBotAPI(cfg.Alerting.BotToken)
	if err != nil {
		logger.Error().Err(err).Msg("Failed to create alerting bot, alerts disabled")
		return alerting.Noop{}
	}
	return alerting.NewTelegramAlerter(botAPI, cfg.Alerting, logger)
}
