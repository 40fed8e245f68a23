package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"tasksync/internal/ai"
	"tasksync/internal/api"
	"tasksync/internal/config"
	"tasksync/internal/database"
	"tasksync/internal/domain"
	"tasksync/internal/google"
	"tasksync/internal/logging"
	"tasksync/internal/metrics"
	"tasksync/internal/notion"
	"tasksync/internal/repository"
	"tasksync/internal/retry"
	"tasksync/internal/service"
	"tasksync/internal/worker"

	"github.com/prometheus/client_golang/prometheus/promhttp"
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
		defer (func() { _ = closer.Close() })()
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := database.NewDB(cfg.Database.Path, &logger)
	if err != nil {
		logger.Error().Err(err).Str("db_path", cfg.Database.Path).Msg("init database")
		return err
	}
	defer db.Close()

	redisClient := initRedis(ctx, cfg, &logger)
	if redisClient != nil {
		defer func() { _ = repository.Close(redisClient) }()
	}

	syncService, err := initSyncService(ctx, cfg, redisClient, &logger)
	if err != nil {
		return err
	}

	syncWorker := worker.NewSyncWorker(db, syncService, redisClient, cfg.Worker, &logger)

	startMetrics(ctx, cfg, &logger)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		syncWorker.Start(ctx)
	}()

	if cfg.Gmail.Enabled {
		wg.Add(1)
		go func() {
			defer wg.Done()
			worker.RunInboxPoller(ctx, syncWorker, cfg.Gmail.PollInterval, &logger)
		}()
	}

	var httpServer *api.HTTPServer
	if cfg.API.Enabled && cfg.API.HTTP.Enabled {
		httpServer = api.NewHTTPServer(cfg.API, db, syncWorker, &logger)
		go func() {
			if err := httpServer.Start(); err != nil {
				logger.Error().Err(err).Msg("http server stopped")
				stop()
			}
		}()
	} else {
		logger.Warn().Msg("API is disabled in config, triggers come from the inbox poller only")
	}

	logger.Info().
		Int("workers", cfg.Worker.Count).
		Bool("inbox_poller", cfg.Gmail.Enabled).
		Int("http_port", cfg.API.HTTP.Port).
		Msg("tasksync started")

	<-ctx.Done()
	logger.Info().Msg("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if httpServer != nil {
		_ = httpServer.Shutdown(shutdownCtx)
	}
	wg.Wait()

	logger.Info().Msg("tasksync stopped")
	return nil
}

func loadConfigAndLogger() (*config.Config, zerolog.Logger, io.Closer, error) {
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "configs/config.yaml"
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, zerolog.Logger{}, nil, fmt.Errorf("load config: %w", err)
	}

	baseLogger, closer, err := logging.New(cfg.Logging, cfg.App)
	if err != nil {
		return nil, zerolog.Logger{}, nil, fmt.Errorf("init logger: %w", err)
	}
	logger := baseLogger.With().Str("component", "main").Logger()

	return cfg, logger, closer, nil
}

func initRedis(ctx context.Context, cfg *config.Config, logger *zerolog.Logger) *redis.Client {
	if cfg.Redis.Address == "" {
		return nil
	}

	redisClient := repository.NewRedisClient(cfg.Redis)
	if err := repository.Ping(ctx, redisClient); err != nil {
		logger.Warn().Err(err).Msg("redis connection failed, continuing without redis")
		_ = redisClient.Close()
		return nil
	}

	logger.Info().Str("addr", cfg.Redis.Address).Msg("redis connected")
	return redisClient
}

func initLabelCache(cfg *config.Config, redisClient *redis.Client, logger *zerolog.Logger) domain.LabelCache {
	memory := repository.NewMemoryLabelCache(cfg.Redis.LabelTTL)
	if redisClient == nil {
		return memory
	}
	return repository.NewFailoverLabelCache(
		repository.NewRedisLabelCache(redisClient, cfg.Redis.LabelTTL),
		memory,
		logging.Component(logger, "label-cache"),
	)
}

func initSyncService(ctx context.Context, cfg *config.Config, redisClient *redis.Client, logger *zerolog.Logger) (*service.SyncService, error) {
	opts, err := google.ClientOptions(ctx, cfg.Google)
	if err != nil {
		logger.Error().Err(err).Msg("google credentials")
		return nil, err
	}
	calendarService, err := google.NewCalendarService(ctx, cfg.Google, opts...)
	if err != nil {
		return nil, err
	}
	gmailService, err := google.NewGmailService(ctx, cfg.Gmail, opts...)
	if err != nil {
		return nil, err
	}

	deps := service.Deps{
		DocStore: notion.NewClient(cfg.Notion, nil),
		Calendar: calendarService,
		Mailbox:  gmailService,
		Labels:   initLabelCache(cfg, redisClient, logger),
		Executor: retry.NewExecutor(logging.Component(logger, "retry"), retry.WithPolicies(retry.PoliciesFromConfig(cfg.Retry))),
		Logger:   logger,
	}
	if cfg.Anthropic.Enabled {
		deps.Analyzer = ai.NewAnalyzer(cfg.Anthropic, nil)
	}

	return service.NewSyncService(deps, service.Options{
		TimeZone:       cfg.Google.TimeZone,
		EventDuration:  cfg.Google.EventDuration,
		ProcessedLabel: cfg.Gmail.ProcessedLabel,
		InboxQuery:     cfg.Gmail.Query,
		InboxMax:       cfg.Gmail.MaxResults,
	}), nil
}

func startMetrics(ctx context.Context, cfg *config.Config, logger *zerolog.Logger) {
	metrics.Register()
	if !cfg.Monitoring.PrometheusEnabled {
		return
	}

	port := cfg.Monitoring.PrometheusPort
	if port == 0 {
		port = 9090
	}
	go startMetricsServer(ctx, port, logger)
}

func startMetricsServer(ctx context.Context, port int, logger *zerolog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	srv := &http.Server{Addr: fmt.Sprintf(":%d", port), Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		<-ctx.Done()
		ctxShutdown, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctxShutdown)
	}()
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error().Err(err).Msg("metrics server error")
	}
}
