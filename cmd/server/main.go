/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the settlement engine server.
  Handles configuration, dependency injection, and graceful shutdown.

STARTUP SEQUENCE:
  1. Load .env files and environment configuration
  2. Parse command-line flags (override the environment)
  3. Initialize SQLite store
  4. Choose the worker lock (Redis when REDIS_ADDR is set)
  5. Build the engine, metrics and router
  6. Start server with graceful shutdown

COMMAND-LINE FLAGS:
  -port    HTTP server port (default: $PORT or 8080)
  -db      SQLite database path (default: $DB_PATH or :memory:)
  -redis   Redis address for the distributed worker lock (default: $REDIS_ADDR)

ENVIRONMENT:
  PORT, DB_PATH, LOG_LEVEL, REDIS_ADDR, REDIS_PASSWORD, REDIS_DB, LOCK_TTL,
  COMMIT_MAX_RETRIES, COMMIT_RETRY_DELAY, CALC_CONCURRENCY, CORS_ORIGINS.
  See config/config.go.

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop accepting new connections
  2. Wait for active requests to complete (30s timeout)
  3. Close Redis and database connections
  4. Exit

EXAMPLES:
  # Run with file database
  ./server -db="./data/settlement.db"

  # Run two instances sharing one database and one lock
  REDIS_ADDR=localhost:6379 ./server -db=/shared/settlement.db -port=8081

SEE ALSO:
  - api/server.go: Router configuration
  - payroll/engine.go: Engine wiring
  - store/sqlite/sqlite.go: Database implementation
*/
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/sirupsen/logrus"

	"github.com/warp/settlement-engine/api"
	"github.com/warp/settlement-engine/config"
	"github.com/warp/settlement-engine/lock"
	"github.com/warp/settlement-engine/logging"
	"github.com/warp/settlement-engine/monitoring"
	"github.com/warp/settlement-engine/payroll"
	"github.com/warp/settlement-engine/store/sqlite"
)

func main() {
	config.LoadEnv(logging.NewLogger("info"))
	cfg := config.Load()

	// Flags
	port := flag.Int("port", cfg.Port, "HTTP server port")
	dbPath := flag.String("db", cfg.DBPath, "SQLite database path")
	redisAddr := flag.String("redis", cfg.RedisAddr, "Redis address for the worker lock")
	flag.Parse()

	logger := logging.NewServiceLogger("settlement-engine", cfg.LogLevel)

	// Initialize store
	store, err := sqlite.New(*dbPath)
	if err != nil {
		logger.WithError(err).Fatal("Failed to initialize database")
	}
	defer store.Close()

	// Worker lock
	var locker lock.Locker = lock.NewLocal()
	if *redisAddr != "" {
		client := redis.NewClient(&redis.Options{
			Addr:     *redisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		defer client.Close()

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		err := client.Ping(ctx).Err()
		cancel()
		if err != nil {
			logger.WithError(err).WithField("addr", *redisAddr).Fatal("Failed to reach Redis")
		}
		locker = lock.NewRedis(client, lock.WithTTL(cfg.LockTTL), lock.WithLogger(logger))
		logger.WithField("addr", *redisAddr).Info("Using Redis worker lock")
	}

	metrics := monitoring.NewMetrics()
	engine := payroll.NewEngine(store, store, payroll.Options{
		Locker: locker,
		Retry: payroll.RetryConfig{
			MaxRetries: cfg.CommitMaxRetries,
			BaseDelay:  cfg.CommitRetryDelay,
			MaxDelay:   10 * cfg.CommitRetryDelay,
		},
		Concurrency: cfg.CalcConcurrency,
		Logger:      logger,
		Metrics:     metrics,
	})

	// Create router
	handler := api.NewHandler(engine, store, logger)
	router := api.NewRouter(handler, api.RouterOptions{
		CORSOrigins: cfg.CORSOrigins,
		Logger:      logger,
		Metrics:     metrics,
		Health:      store.Ping,
	})

	// Create server
	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", *port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine
	go func() {
		logger.WithFields(logrus.Fields{"port": *port, "db": *dbPath}).Info("Server starting")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithError(err).Fatal("Server failed")
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logger.WithError(err).Error("Server forced to shutdown")
	}

	logger.Info("Server stopped")
}
