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
	"syscall"
	"time"

	"syncqueue/internal/api"
	"syncqueue/internal/config"
	"syncqueue/internal/credentials"
	"syncqueue/internal/database"
	"syncqueue/internal/domain"
	"syncqueue/internal/events"
	"syncqueue/internal/logging"
	"syncqueue/internal/metrics"
	"syncqueue/internal/repository"
	"syncqueue/internal/service"
	"syncqueue/internal/transport"
	"syncqueue/internal/worker"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

const shutdownGrace = 10 * time.Second

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

	db, err := database.NewDB(cfg.Database.Path, cfg.Database.Driver, logger)
	if err != nil {
		logger.Error().Err(err).Str("db_path", cfg.Database.Path).Msg("init database")
		return err
	}
	defer db.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	redisClient := initRedis(ctx, cfg, logger)
	if redisClient != nil {
		defer redisClient.Close()
	}

	if cfg.Backup.Enabled {
		go database.NewBackupService(db, cfg.Backup, logger).Start(ctx)
	}

	startMetrics(ctx, cfg, logger)

	creds := credentials.NewProvider(ctx, cfg.Credentials, tokenRepository(cfg, redisClient, logger), logger)
	if err := creds.Seed(ctx, cfg.Credentials); err != nil {
		logger.Warn().Err(err).Msg("seed credentials")
	}

	publisher := events.NewPublisher()
	publisher.OnPublish(metrics.IncEvent)

	opts := []worker.Option{worker.WithLeaseTTL(worker.LeaseTTLFor(cfg.Remote.Timeout))}
	if redisClient != nil {
		opts = append(opts, worker.WithDeadLetter(worker.NewRedisDeadLetter(redisClient, cfg.Sync.DeadLetterKey)))
	}
	processor := worker.NewProcessor(db, transport.New(cfg.Remote, logger), creds, publisher, logger, opts...)

	pool := worker.NewPool(cfg.Sync.Workers, cfg.Sync.QueueSize, logger)
	pool.Start(ctx)
	defer pool.Stop()

	retry := worker.RetryPolicy{
		MaxRetries:    cfg.Sync.Retry.MaxRetries,
		InitialDelay:  cfg.Sync.Retry.InitialDelay,
		MaxDelay:      cfg.Sync.Retry.MaxDelay,
		BackoffFactor: cfg.Sync.Retry.BackoffFactor,
	}
	go worker.NewScheduler(processor, cfg.Sync.Interval, retry, logger).Run(ctx)

	svc := service.NewSyncService(db, processor, pool, publisher, logger)

	// Drain whatever survived the previous run.
	if err := svc.Sync(); err != nil {
		logger.Warn().Err(err).Msg("initial sync not scheduled")
	}

	if !cfg.API.Enabled {
		logger.Warn().Msg("bridge API is disabled; running scheduler only")
		<-ctx.Done()
		logger.Info().Msg("shutdown signal received")
		return nil
	}

	return serveBridge(ctx, cfg, db, svc, creds, logger)
}

func loadConfigAndLogger() (*config.Config, *zerolog.Logger, io.Closer, error) {
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "configs/config.yaml"
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("load config: %w", err)
	}

	baseLogger, closer, err := logging.New(cfg.Logging, cfg.App)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("init logger: %w", err)
	}
	logger := logging.Component(baseLogger, "syncd")

	return cfg, &logger, closer, nil
}

func initRedis(ctx context.Context, cfg *config.Config, logger *zerolog.Logger) *redis.Client {
	if cfg.Redis.Address == "" {
		return nil
	}

	client := repository.NewRedisClient(cfg.Redis)
	if err := repository.Ping(ctx, client); err != nil {
		logger.Warn().Err(err).Msg("redis connection failed, continuing without redis")
		_ = client.Close()
		return nil
	}

	logger.Info().Str("addr", cfg.Redis.Address).Msg("redis connected")
	return client
}

func tokenRepository(cfg *config.Config, client *redis.Client, logger *zerolog.Logger) domain.TokenRepository {
	memory := repository.NewMemoryTokenRepository(cfg.Credentials.TTL)
	if client == nil {
		return memory
	}
	return repository.NewFailoverTokenRepository(
		repository.NewRedisTokenRepository(client, cfg.Credentials.TTL),
		memory,
		logger,
	)
}

func startMetrics(ctx context.Context, cfg *config.Config, logger *zerolog.Logger) {
	if !cfg.Monitoring.PrometheusEnabled {
		return
	}

	metrics.Register()
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

func serveBridge(
	ctx context.Context,
	cfg *config.Config,
	db *database.DB,
	svc *service.SyncService,
	creds *credentials.Provider,
	logger *zerolog.Logger,
) error {
	var grpcServer *api.GRPCServer
	if cfg.API.GRPC.Enabled {
		var err error
		grpcServer, err = api.NewGRPCServer(&cfg.API, svc, logger)
		if err != nil {
			logger.Error().Err(err).Msg("create grpc server")
			return err
		}
		go func() {
			if err := grpcServer.Serve(); err != nil {
				logger.Error().Err(err).Msg("grpc server stopped")
			}
		}()
	}

	var httpServer *api.HTTPServer
	if cfg.API.HTTP.Enabled {
		httpServer = api.NewHTTPServer(&cfg.API, db, svc, creds, logger)
		go func() {
			if err := httpServer.Start(); err != nil {
				logger.Error().Err(err).Msg("http server stopped")
			}
		}()
	}

	logger.Info().
		Bool("grpc", grpcServer != nil).
		Bool("http", httpServer != nil).
		Int("http_port", cfg.API.HTTP.Port).
		Int("grpc_port", cfg.API.GRPC.Port).
		Msg("bridge started")

	<-ctx.Done()
	logger.Info().Msg("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()

	if grpcServer != nil {
		grpcServer.Shutdown(shutdownCtx)
	}
	if httpServer != nil {
		_ = httpServer.Shutdown(shutdownCtx)
	}

	logger.Info().Msg("bridge stopped")
	return nil
}
