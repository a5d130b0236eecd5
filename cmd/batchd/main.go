package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/docpipe/batch-engine/pkg/logging"
	"github.com/docpipe/batch-engine/pkg/registry"
	"github.com/docpipe/batch-engine/pkg/snapshot"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
)

func main() {
	// Configuration from environment
	port := getEnv("PORT", "8080")
	redisURL := getEnv("REDIS_URL", "localhost:6379")
	persistence := getEnvBool("PERSISTENCE", false)
	logLevel := getEnv("LOG_LEVEL", "info")
	logPretty := getEnvBool("LOG_PRETTY", false)

	logger := logging.Setup(logging.Config{
		Level:  logging.LogLevel(logLevel),
		Pretty: logPretty,
		Output: os.Stderr,
	})

	cfg := registry.DefaultConfig(newDemoProcessor())
	cfg.MaxWorkers = getEnvInt("MAX_WORKERS", cfg.MaxWorkers)
	cfg.MaxConcurrentBatches = getEnvInt("MAX_CONCURRENT_BATCHES", cfg.MaxConcurrentBatches)
	cfg.MaxDocumentsPerBatch = getEnvInt("MAX_DOCUMENTS_PER_BATCH", cfg.MaxDocumentsPerBatch)
	if ms := getEnvInt("POLL_INTERVAL_MS", 0); ms > 0 {
		cfg.PollInterval = time.Duration(ms) * time.Millisecond
	}

	// Setup Redis persistence when enabled
	var redisClient *redis.Client
	if persistence {
		redisClient = redis.NewClient(&redis.Options{
			Addr: redisURL,
		})
		if err := redisClient.Ping(context.Background()).Err(); err != nil {
			logger.Fatal().Err(err).Str("redis_url", redisURL).Msg("Failed to connect to Redis")
		}
		logger.Info().Str("redis_url", redisURL).Msg("Connected to Redis")
		cfg.Store = snapshot.NewRedisStore(redisClient)
	}

	engine, err := registry.New(cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to create batch engine")
	}
	engine.Start()

	// HTTP Server
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", healthHandler)
	mux.HandleFunc("GET /ready", readyHandler(redisClient))
	mux.Handle("GET /metrics", promhttp.Handler())
	newAPI(engine, logging.NewLogger("api")).register(mux)

	srv := &http.Server{
		Addr:    ":" + port,
		Handler: mux,
	}

	go func() {
		logger.Info().Str("addr", srv.Addr).Msg("Starting batch engine server")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("Server failed")
		}
	}()

	// Graceful shutdown: stop accepting requests, then drain the engine.
	// In-flight document attempts are not interrupted; non-terminal
	// batches are recovered from their snapshots on the next start.
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	logger.Info().Msg("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("HTTP shutdown failed")
	}
	if err := engine.Stop(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("Engine shutdown failed")
	}
	if redisClient != nil {
		redisClient.Close()
	}
}

func healthHandler(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}

func readyHandler(redisClient *redis.Client) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if redisClient != nil {
			if err := redisClient.Ping(r.Context()).Err(); err != nil {
				http.Error(w, "redis unavailable", http.StatusServiceUnavailable)
				return
			}
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	}
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

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}
