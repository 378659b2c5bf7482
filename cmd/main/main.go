package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"gitlab.com/timkado/api/daisi-cs-bot-engine/internal/config"
	"gitlab.com/timkado/api/daisi-cs-bot-engine/internal/gateway"
	"gitlab.com/timkado/api/daisi-cs-bot-engine/internal/healthcheck"
	"gitlab.com/timkado/api/daisi-cs-bot-engine/internal/ingestion"
	"gitlab.com/timkado/api/daisi-cs-bot-engine/internal/jetstream"
	"gitlab.com/timkado/api/daisi-cs-bot-engine/internal/observer"
	"gitlab.com/timkado/api/daisi-cs-bot-engine/internal/storage"
	"gitlab.com/timkado/api/daisi-cs-bot-engine/internal/usecase"
	"gitlab.com/timkado/api/daisi-cs-bot-engine/pkg/logger"
	"gitlab.com/timkado/api/daisi-cs-bot-engine/pkg/utils"
)

func main() {
	// Set timezone to UTC
	time.Local = time.UTC

	// Load configuration
	cfg, err := config.LoadConfig("")
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	if err := logger.Initialize(cfg.LogLevel); err != nil {
		fmt.Printf("Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	observer.InitMetrics(cfg.Metrics.Enabled)

	logger.Log.Info("Starting Daisi CS Bot Engine",
		zap.String("environment", cfg.Environment),
		zap.String("nats_url", cfg.NATS.URL),
		zap.Duration("auto_timeout", cfg.Bot.AutoTimeout),
	)

	if cfg.Bot.CSNumber == "" {
		logger.Log.Warn("No CS number configured; operator commands and HUMAN forwarding are disabled")
	}

	// Initialize repositories
	postgresRepo, err := initPostgresRepo(cfg.Database.PostgresDSN, cfg.Database.PostgresAutoMigrate)
	if err != nil {
		logger.Log.Fatal("Failed to initialize Postgres repository", zap.Error(err))
	}

	// Initialize JetStream client
	jsClient, err := jetstream.NewClient(cfg.NATS.URL)
	if err != nil {
		logger.Log.Fatal("Failed to initialize JetStream client", zap.Error(err))
	}

	// Outbound gateway
	var gw gateway.Gateway
	if cfg.Gateway.Stub || cfg.Gateway.BaseURL == "" {
		gw = gateway.NewStubGateway()
	} else {
		gw = gateway.NewHTTPGateway(cfg.Gateway.BaseURL, cfg.Gateway.APIKey, cfg.Gateway.RequestTimeout)
	}

	// Core processor
	service := usecase.NewBotService(postgresRepo, postgresRepo, postgresRepo, gw, usecase.Config{
		CSNumber:             cfg.Bot.CSNumber,
		AutoTimeout:          cfg.Bot.AutoTimeout,
		RateLimitMinInterval: cfg.Bot.RateLimitMinInterval,
	})

	// Inbound consumer with its worker pool
	consumer, err := ingestion.NewInboundConsumer(jsClient, service, cfg.NATS.Inbound, cfg.WorkerPools.Inbound)
	if err != nil {
		logger.Log.Fatal("Failed to initialize inbound consumer", zap.Error(err))
	}
	if err := consumer.Setup(); err != nil {
		logger.Log.Fatal("Failed to set up inbound consumer", zap.Error(err))
	}

	// Health check server
	healthServer := healthcheck.NewServer(strconv.Itoa(cfg.Server.Port), logger.Log)
	healthServer.RegisterReadyCheck("nats", func() error {
		if !jsClient.NatsConn().IsConnected() {
			return fmt.Errorf("nats connection is down")
		}
		return nil
	})
	if cfg.Metrics.Enabled {
		healthServer.RegisterMetricsHandler(promhttp.Handler())
		logger.Log.Info("Metrics endpoint enabled", zap.String("path", "/metrics"), zap.Int("port", cfg.Server.Port))
	}
	healthServer.Start()

	logger.Log.Info("Health check endpoints available",
		zap.String("health", fmt.Sprintf("http://localhost:%d/health", cfg.Server.Port)),
		zap.String("readiness", fmt.Sprintf("http://localhost:%d/ready", cfg.Server.Port)),
	)

	if err := consumer.Start(); err != nil {
		logger.Log.Fatal("Failed to start inbound consumer", zap.Error(err))
	}

	// Timeout sweeper
	mainCtx, mainCancel := context.WithCancel(context.Background())
	defer mainCancel()

	sweeper := usecase.NewSweeper(postgresRepo, cfg.Bot.AutoTimeout, cfg.Bot.SweepInterval)
	utils.SafeGo(func() {
		sweeper.Run(mainCtx)
	}, func(r interface{}, stack []byte) {
		logger.Log.Error("Panic in timeout sweeper", zap.Any("panic", r), zap.ByteString("stack", stack))
	})

	// Wait for termination signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigChan
	logger.Log.Info("Received termination signal", zap.String("signal", sig.String()))

	mainCancel()

	// Graceful shutdown with timeout
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	logger.Log.Info("Starting graceful shutdown", zap.Duration("timeout", 30*time.Second))

	var wg sync.WaitGroup
	wg.Add(3)

	// Shutdown inbound consumer (drains subscription and worker pool)
	utils.SafeGo(func() {
		defer wg.Done()
		logger.Log.Info("[shutdown] Stopping inbound consumer")
		start := time.Now()
		consumer.Stop()
		logger.Log.Info("[shutdown] Inbound consumer stopped",
			zap.Duration("duration", time.Since(start)))
	}, func(r interface{}, stack []byte) {
		logger.Log.Error("[shutdown] Panic while stopping inbound consumer",
			zap.Any("panic", r), zap.ByteString("stack", stack))
		wg.Done()
	})

	// Shutdown health check server
	utils.SafeGo(func() {
		defer wg.Done()
		logger.Log.Info("[shutdown] Stopping health check server")
		start := time.Now()
		if err := healthServer.Stop(shutdownCtx); err != nil {
			logger.Log.Error("[shutdown] Error stopping health check server", zap.Error(err))
		} else {
			logger.Log.Info("[shutdown] Health check server stopped",
				zap.Duration("duration", time.Since(start)))
		}
	}, func(r interface{}, stack []byte) {
		logger.Log.Error("[shutdown] Panic while stopping health check server",
			zap.Any("panic", r), zap.ByteString("stack", stack))
		wg.Done()
	})

	// Close connections
	utils.SafeGo(func() {
		defer wg.Done()

		logger.Log.Info("[shutdown] Closing PostgreSQL connection")
		pgStart := time.Now()
		if err := postgresRepo.Close(); err != nil {
			logger.Log.Error("[shutdown] Failed to close PostgreSQL connection", zap.Error(err))
		} else {
			logger.Log.Info("[shutdown] PostgreSQL connection closed",
				zap.Duration("duration", time.Since(pgStart)))
		}

		logger.Log.Info("[shutdown] Closing JetStream connection")
		jsStart := time.Now()
		jsClient.Close()
		logger.Log.Info("[shutdown] JetStream connection closed",
			zap.Duration("duration", time.Since(jsStart)))
	}, func(r interface{}, stack []byte) {
		logger.Log.Error("[shutdown] Panic while closing connections",
			zap.Any("panic", r), zap.ByteString("stack", stack))
		wg.Done()
	})

	// Wait with a timeout for all components to shut down
	waitCh := make(chan struct{})
	go func() {
		wg.Wait()
		close(waitCh)
	}()

	select {
	case <-waitCh:
		logger.Log.Info("[shutdown] All components stopped gracefully")
	case <-shutdownCtx.Done():
		logger.Log.Warn("[shutdown] Graceful shutdown timed out, forcing exit")
	}

	logger.Log.Info("Daisi CS Bot Engine shutdown complete")
}

// initPostgresRepo initializes the PostgreSQL repository
func initPostgresRepo(dsn string, autoMigrate bool) (*storage.PostgresRepo, error) {
	if dsn == "" {
		return nil, fmt.Errorf("postgres DSN is required")
	}

	repo, err := storage.NewPostgresRepo(dsn, autoMigrate)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize postgres repository: %w", err)
	}

	logger.Log.Info("Initialized PostgreSQL repository")
	return repo, nil
}
