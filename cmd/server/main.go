package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/sirupsen/logrus"

	"github.com/virtual-mirror-server/internal/api"
	"github.com/virtual-mirror-server/internal/cache"
	"github.com/virtual-mirror-server/internal/config"
	"github.com/virtual-mirror-server/internal/database"
	"github.com/virtual-mirror-server/internal/domain"
	"github.com/virtual-mirror-server/internal/report"
	"github.com/virtual-mirror-server/internal/repository"
	"github.com/virtual-mirror-server/internal/service"
	"github.com/virtual-mirror-server/internal/sessionstore"
	"github.com/virtual-mirror-server/pkg/tts"
)

func main() {
	configManager, err := config.NewManager()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	if err := configManager.Validate(); err != nil {
		log.Fatalf("Configuration validation failed: %v", err)
	}
	cfg := configManager.GetConfig()

	logger := newLogger(cfg.Logging)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		logger.Info("Shutdown signal received, gracefully shutting down")
		cancel()
	}()

	store, cleanup, err := newSessionStore(ctx, cfg, logger)
	if err != nil {
		logger.WithError(err).Fatal("Failed to initialize session store")
	}
	defer cleanup()

	var resultCache service.ResultCache
	if cfg.Cache.Enabled {
		redisCache, err := cache.NewResultCache(cfg.Cache, logger)
		if err != nil {
			logger.WithError(err).Fatal("Failed to connect to Redis")
		}
		defer redisCache.Close()
		resultCache = redisCache
	}

	engine := service.NewEngine(logger)
	screening := service.NewScreeningService(logger, engine, store, resultCache)

	reports, err := report.NewGenerator(store, screening, cfg.Report, logger)
	if err != nil {
		logger.WithError(err).Fatal("Failed to create report generator")
	}

	var ttsClient *tts.Client
	if cfg.TTS.APIKey != "" {
		ttsClient, err = tts.NewClient(tts.Config{
			APIKey:       cfg.TTS.APIKey,
			BaseURL:      cfg.TTS.BaseURL,
			Timeout:      cfg.TTS.Timeout,
			RateLimit:    cfg.TTS.RateLimit,
			DefaultLang:  cfg.TTS.DefaultLang,
			DefaultVoice: cfg.TTS.DefaultVoice,
			CacheSize:    cfg.TTS.CacheSize,
		}, logger)
		if err != nil {
			logger.WithError(err).Fatal("Failed to create TTS client")
		}
	} else {
		logger.Info("TTS API key not configured, narration endpoint disabled")
	}

	logger.WithFields(logrus.Fields{
		"host":   cfg.Server.Host,
		"port":   cfg.Server.Port,
		"driver": cfg.Database.Driver,
		"cache":  cfg.Cache.Enabled,
	}).Info("Starting movement screening server")

	server := api.NewServer(cfg, logger, screening, store, reports, ttsClient)
	if err := server.Start(ctx); err != nil {
		logger.WithError(err).Fatal("Server failed")
	}

	logger.Info("Server stopped")
}

// newSessionStore builds the configured store: a pgx-backed Postgres
// repository (with migrations applied) or the standalone SQLite store.
func newSessionStore(ctx context.Context, cfg *domain.Config, logger *logrus.Logger) (domain.SessionStore, func(), error) {
	switch cfg.Database.Driver {
	case "postgres":
		db, err := database.NewConnection(ctx, &cfg.Database, logger)
		if err != nil {
			return nil, nil, err
		}

		runner, err := database.NewMigrationRunner(&cfg.Database, logger)
		if err != nil {
			db.Close()
			return nil, nil, err
		}
		if err := runner.Up(); err != nil {
			runner.Close()
			db.Close()
			return nil, nil, err
		}
		runner.Close()

		repo := repository.NewSessionRepository(db.Pool, logger)
		return repo, func() { db.Close() }, nil

	default:
		store, err := sessionstore.NewSQLiteStore(cfg.Database.SQLitePath)
		if err != nil {
			return nil, nil, err
		}
		logger.WithField("path", cfg.Database.SQLitePath).Info("Using standalone SQLite session store")
		return store, func() { store.Close() }, nil
	}
}

// newLogger builds the process logger from configuration.
func newLogger(cfg domain.LoggingConfig) *logrus.Logger {
	logger := logrus.New()

	level, err := logrus.ParseLevel(strings.ToLower(cfg.Level))
	if err != nil {
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)

	if cfg.Format == "text" {
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	} else {
		logger.SetFormatter(&logrus.JSONFormatter{})
	}

	if cfg.Output == "stderr" {
		logger.SetOutput(os.Stderr)
	} else {
		logger.SetOutput(os.Stdout)
	}

	return logger
}
