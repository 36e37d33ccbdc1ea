// Package main is the entry point for the cache gateway service
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/meshworks/rag-gateway/internal/api"
	"github.com/meshworks/rag-gateway/internal/cache"
	"github.com/meshworks/rag-gateway/internal/config"
	"github.com/meshworks/rag-gateway/internal/metrics"
	"github.com/meshworks/rag-gateway/internal/observability"
)

var (
	// Version information (set via ldflags during build)
	version   = "dev"
	buildTime = "unknown"
	gitCommit = "unknown"
)

func main() {
	var (
		showVersion = flag.Bool("version", false, "Show version information")
		envFile     = flag.String("env-file", ".env", "Path to an optional env file")
	)
	flag.Parse()

	if *showVersion {
		fmt.Printf("RAG Gateway\nVersion: %s\nBuild Time: %s\nGit Commit: %s\n",
			version, buildTime, gitCommit)
		os.Exit(0)
	}

	// Local development convenience; absence is not an error
	_ = godotenv.Load(*envFile)

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logger := observability.NewStandardLoggerWithLevel("rag-gateway",
		observability.ParseLogLevel(cfg.Service.LogLevel))
	logger.Info("Starting RAG Gateway", map[string]interface{}{
		"version":    version,
		"build_time": buildTime,
		"git_commit": gitCommit,
		"port":       cfg.Service.Port,
	})

	// The shared tier is optional: a failed connection degrades the
	// gateway instead of aborting startup. The deferred store keeps
	// dialing through the circuit breaker, so the tier comes back on its
	// own once Redis is reachable again.
	var shared *cache.RedisStore
	if cfg.Cache.Shared.Enabled {
		shared, err = cache.NewRedisStore(cfg.Cache.Shared, logger)
		if err != nil {
			logger.Warn("shared tier unreachable at startup, deferring connection", map[string]interface{}{
				"address": cfg.Cache.Shared.Address,
				"error":   err.Error(),
			})
			shared = cache.NewDeferredRedisStore(cfg.Cache.Shared, logger)
		}
	} else {
		logger.Info("shared tier disabled by configuration", nil)
	}

	tieredCache, err := cache.NewTieredCache(cfg.TieredConfig(), shared, logger)
	if err != nil {
		log.Fatalf("Failed to create cache: %v", err)
	}
	defer func() {
		if err := tieredCache.Close(); err != nil {
			logger.Error("Failed to close cache", map[string]interface{}{
				"error": err.Error(),
			})
		}
	}()

	cacheMetrics := metrics.NewCacheMetrics(prometheus.DefaultRegisterer)

	server := api.NewServer(tieredCache, cacheMetrics, prometheus.DefaultGatherer, logger)
	httpServer := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Service.Port),
		Handler: server.Handler(),
	}

	go func() {
		logger.Info("HTTP server listening", map[string]interface{}{
			"addr": httpServer.Addr,
		})
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("HTTP server error", map[string]interface{}{
				"error": err.Error(),
			})
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigChan
	logger.Info("Received shutdown signal", map[string]interface{}{
		"signal": sig.String(),
	})

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Service.ShutdownTimeout)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("Failed to shutdown HTTP server", map[string]interface{}{
			"error": err.Error(),
		})
	}

	logger.Info("Shutdown complete", nil)
}
