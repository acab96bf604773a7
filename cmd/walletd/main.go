package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"wallet-engine/pkg/accounts"
	"wallet-engine/pkg/api"
	"wallet-engine/pkg/authorizer"
	"wallet-engine/pkg/engine"
	"wallet-engine/pkg/logging"
	promMetrics "wallet-engine/pkg/metrics/prometheus"
	"wallet-engine/pkg/notifier"
	"wallet-engine/pkg/postgres"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

func main() {
	logger, err := logging.NewLoggerFromEnv()
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer logger.Sync()

	logger.Info("Starting wallet engine...")

	// Metrics
	collector := promMetrics.NewPrometheusCollector("wallet_engine")
	registry := prometheus.NewRegistry()
	if err := collector.Register(registry); err != nil {
		logger.Fatal("Failed to register metrics", zap.Error(err))
	}

	// Postgres store
	pgConfig := postgres.DefaultConfig()
	pgConfig.Host = getEnv("POSTGRES_HOST", "localhost")
	pgConfig.Port = getEnvInt("POSTGRES_PORT", 5432)
	pgConfig.User = getEnv("POSTGRES_USER", "postgres")
	pgConfig.Password = getEnv("POSTGRES_PASSWORD", "postgres")
	pgConfig.Database = getEnv("POSTGRES_DB", "wallet")
	pgConfig.SSLMode = getEnv("POSTGRES_SSLMODE", "disable")

	store, err := postgres.NewStore(pgConfig)
	if err != nil {
		logger.Fatal("Failed to connect to PostgreSQL", zap.Error(err))
	}
	defer store.Close()
	logger.Info("PostgreSQL store initialized")

	// Account directory: cached through Redis when available, falling
	// back to plain store lookups otherwise.
	var directory engine.Directory = store
	if addr := os.Getenv("REDIS_ADDR"); addr != "" {
		dirConfig := accounts.DefaultConfig()
		dirConfig.Addr = addr
		dirConfig.Password = os.Getenv("REDIS_PASSWORD")

		cached, err := accounts.NewCachedDirectory(store, dirConfig, logger, collector)
		if err != nil {
			logger.Warn("Redis unavailable, using uncached account lookups", zap.Error(err))
		} else {
			defer cached.Close()
			directory = cached
			logger.Info("Account directory cache initialized", zap.String("addr", addr))
		}
	}

	// Authorization gate
	authConfig := authorizer.DefaultConfig()
	authConfig.BaseURL = getEnv("AUTHORIZER_URL", "http://localhost:8081")
	gate := authorizer.New(authConfig, logger, collector)
	logger.Info("Authorizer client initialized", zap.String("url", authConfig.BaseURL))

	// Notification delivery
	notifyConfig := notifier.DefaultConfig()
	notifyConfig.BaseURL = getEnv("NOTIFIER_URL", "http://localhost:8082")
	notify := notifier.New(notifyConfig, logger, collector)
	defer notify.Close()
	logger.Info("Notifier initialized", zap.String("url", notifyConfig.BaseURL))

	// Engine
	engineConfig := engine.DefaultConfig()
	engineConfig.UsePessimisticLock = getEnv("USE_PESSIMISTIC_LOCK", "true") == "true"
	eng := engine.New(store, directory, gate, notify, engineConfig, logger, collector)

	// HTTP API
	serverConfig := api.DefaultServerConfig()
	serverConfig.Address = ":" + getEnv("PORT", "8080")
	server := api.NewServer(eng, promhttp.HandlerFor(registry, promhttp.HandlerOpts{}), logger, serverConfig)
	server.Start()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down...")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Stop(ctx); err != nil {
		logger.Error("Server shutdown error", zap.Error(err))
	}

	logger.Info("Server stopped gracefully")
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return defaultValue
}
