// Package http assembles the gin router and HTTP server for the API
// surface.
package http

import (
	"github.com/gin-gonic/gin"

	"github.com/athene-kg/athene/internal/infrastructure/monitoring/logging"
	"github.com/athene-kg/athene/internal/infrastructure/monitoring/prometheus"
	"github.com/athene-kg/athene/internal/interfaces/http/handlers"
	"github.com/athene-kg/athene/internal/interfaces/http/middleware"
)

// RouterConfig aggregates everything the router mounts.  Health, Metrics,
// and RateLimit are optional; Graph and Query must be set for the API
// routes to exist.
type RouterConfig struct {
	Graph      *handlers.GraphHandler
	Query      *handlers.QueryHandler
	Health     *handlers.HealthHandler
	Metrics    prometheus.MetricsCollector
	AppMetrics *prometheus.AppMetrics
	CORS       *middleware.CORSConfig
	RateLimit  *middleware.RateLimitConfig
	Mode       string
	Logger     logging.Logger
}

// NewRouter builds the full route tree.  Probes and the scrape endpoint
// stay outside the rate limiter so an overloaded API never looks dead to
// the orchestrator.
func NewRouter(cfg RouterConfig) *gin.Engine {
	if cfg.Mode != "" {
		gin.SetMode(cfg.Mode)
	}
	log := cfg.Logger
	if log == nil {
		log = logging.NewNopLogger()
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.RequestID())
	r.Use(middleware.RequestLogger(log, cfg.AppMetrics))

	corsCfg := middleware.DefaultCORSConfig()
	if cfg.CORS != nil {
		corsCfg = *cfg.CORS
	}
	r.Use(middleware.CORS(corsCfg))

	if cfg.RateLimit != nil {
		limiter := middleware.NewTokenBucketLimiter(cfg.RateLimit.RequestsPerSecond, cfg.RateLimit.BurstSize)
		r.Use(middleware.RateLimit(limiter, *cfg.RateLimit))
	}

	if cfg.Health != nil {
		r.GET("/healthz", cfg.Health.Liveness)
		r.GET("/readyz", cfg.Health.Readiness)
	}
	if cfg.Metrics != nil {
		r.GET("/metrics", gin.WrapH(cfg.Metrics.Handler()))
	}

	v1 := r.Group("/api/v1")
	if cfg.Graph != nil {
		v1.POST("/projects/:projectID/resolve", cfg.Graph.Resolve)
		v1.POST("/projects/:projectID/analyze", cfg.Graph.Analyze)
	}
	if cfg.Query != nil {
		v1.GET("/projects/:projectID/entities/search", cfg.Query.Search)
		v1.GET("/projects/:projectID/entities/similar/:entityID", cfg.Query.Similar)
		v1.POST("/projects/:projectID/graph/traverse", cfg.Query.Traverse)
		v1.GET("/projects/:projectID/graph/subgraph/:nodeID", cfg.Query.Subgraph)
		v1.GET("/projects/:projectID/graph/stats", cfg.Query.Stats)
		v1.GET("/projects/:projectID/gaps/candidates", cfg.Query.GapCandidates)
		v1.GET("/projects/:projectID/analysis/latest", cfg.Query.LatestAnalysis)
		v1.PATCH("/projects/:projectID/gaps/:gapID/status", cfg.Query.UpdateGapStatus)
	}

	return r
}
