// Package api implements the HTTP admin surface for the cache gateway
package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/time/rate"

	"github.com/meshworks/rag-gateway/internal/cache"
	"github.com/meshworks/rag-gateway/internal/metrics"
	"github.com/meshworks/rag-gateway/internal/observability"
)

// Server exposes health, analytics, and cache administration over HTTP
type Server struct {
	engine  *gin.Engine
	cache   *cache.TieredCache
	metrics *metrics.CacheMetrics
	logger  observability.Logger

	// clearLimiter throttles the global clear endpoint; clearing is an
	// administrative action, not something to hammer
	clearLimiter *rate.Limiter
}

// NewServer wires the routes. gatherer feeds the /metrics endpoint; pass
// the registry the cache metrics were registered against.
func NewServer(tc *cache.TieredCache, cacheMetrics *metrics.CacheMetrics, gatherer prometheus.Gatherer, logger observability.Logger) *Server {
	if logger == nil {
		logger = observability.NewNoopLogger()
	}

	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery())

	s := &Server{
		engine:       engine,
		cache:        tc,
		metrics:      cacheMetrics,
		logger:       logger.WithPrefix("api"),
		clearLimiter: rate.NewLimiter(rate.Every(time.Minute), 2),
	}

	engine.Use(s.requestIDMiddleware())
	engine.Use(s.loggingMiddleware())

	engine.GET("/health", s.health)
	engine.GET("/metrics", s.scrapeMetrics(gatherer))

	v1 := engine.Group("/api/v1")
	{
		v1.GET("/cache/stats", s.stats)
		v1.DELETE("/cache", s.clear)
	}

	return s
}

// Handler returns the http.Handler for the wired routes
func (s *Server) Handler() http.Handler {
	return s.engine
}

// requestIDMiddleware tags every request with an ID, honoring one supplied
// by the caller
func (s *Server) requestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := c.GetHeader("X-Request-ID")
		if requestID == "" {
			requestID = uuid.New().String()
		}
		c.Set("request_id", requestID)
		c.Header("X-Request-ID", requestID)
		c.Next()
	}
}

// loggingMiddleware logs each request after it completes
func (s *Server) loggingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		s.logger.Debug("request completed", map[string]interface{}{
			"method":      c.Request.Method,
			"path":        c.Request.URL.Path,
			"status":      c.Writer.Status(),
			"duration_ms": time.Since(start).Milliseconds(),
			"request_id":  c.GetString("request_id"),
		})
	}
}

// health reports per-tier cache status. A degraded shared tier still
// returns 200: the gateway keeps serving from the fast tier.
func (s *Server) health(c *gin.Context) {
	status := s.cache.Health(c.Request.Context())

	overall := "healthy"
	if status.SharedTier == "degraded" {
		overall = "degraded"
	}

	c.JSON(http.StatusOK, gin.H{
		"status":    overall,
		"timestamp": time.Now().UTC(),
		"tiers":     status,
	})
}

// stats returns the on-demand analytics report
func (s *Server) stats(c *gin.Context) {
	c.JSON(http.StatusOK, s.cache.Report())
}

// clear empties both tiers and resets counters. Per-tier outcomes are
// reported even when the shared tier fails partway.
func (s *Server) clear(c *gin.Context) {
	if !s.clearLimiter.Allow() {
		c.JSON(http.StatusTooManyRequests, gin.H{
			"error": "cache clear rate limit exceeded, retry later",
		})
		return
	}

	result := s.cache.ClearAll(c.Request.Context())
	s.logger.Info("cache cleared", map[string]interface{}{
		"fast_removed":   result.FastRemoved,
		"shared_removed": result.SharedRemoved,
		"request_id":     c.GetString("request_id"),
	})

	c.JSON(http.StatusOK, result)
}

// scrapeMetrics refreshes the gauges from a fresh analytics report before
// handing off to the Prometheus handler
func (s *Server) scrapeMetrics(gatherer prometheus.Gatherer) gin.HandlerFunc {
	promHandler := promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
	return func(c *gin.Context) {
		if s.metrics != nil {
			s.metrics.Update(s.cache.Report())
		}
		promHandler.ServeHTTP(c.Writer, c.Request)
	}
}
