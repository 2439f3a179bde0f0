// Package server exposes the pipeline over HTTP.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"sjsage522/slothproxy/internal/extract"
	"sjsage522/slothproxy/internal/metrics"
	"sjsage522/slothproxy/internal/pipeline"
	"sjsage522/slothproxy/internal/registry"
	"sjsage522/slothproxy/logger"
	"sjsage522/slothproxy/services/cache"
	"sjsage522/slothproxy/services/worker"
)

// Pipeline is the set of operations served over HTTP
type Pipeline interface {
	Snapshot(ctx context.Context, url string) (string, error)
	Text(ctx context.Context, url string) (string, error)
	Search(ctx context.Context, url, pattern string) ([]pipeline.Match, error)
	Extract(ctx context.Context, url string, schema extract.Schema) ([]extract.Item, error)
	Feed(ctx context.Context, siteKey string) (*pipeline.Feed, error)
}

// Registry is the site registry as seen by the admin routes
type Registry interface {
	All() []registry.SiteConfig
	Fetch(ctx context.Context) ([]registry.SiteConfig, error)
	Reload(ctx context.Context) (int, error)
}

// Batch runs the feed build for every active site
type Batch interface {
	RunOnce(ctx context.Context) worker.Result
}

// Config holds the HTTP settings
type Config struct {
	Port        string
	AllowOrigin string
	RatePerMin  int
	CronSecret  string
	Debug       bool
}

// Deps are the collaborators behind the routes
type Deps struct {
	Pipeline   Pipeline
	Registry   Registry
	Batch      Batch
	CacheStats func() []cache.Stats
	Gatherer   prometheus.Gatherer
}

// Server is the HTTP front of the pipeline
type Server struct {
	cfg     Config
	deps    Deps
	router  *gin.Engine
	server  *http.Server
	log     *logger.Logger
	metrics *metrics.Metrics
}

// New builds the router with its middleware and routes
func New(cfg Config, deps Deps, log *logger.Logger, m *metrics.Metrics) *Server {
	if log == nil {
		log = logger.Nop()
	}
	if cfg.Debug {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}
	if deps.Gatherer == nil {
		deps.Gatherer = prometheus.DefaultGatherer
	}

	s := &Server{cfg: cfg, deps: deps, log: log, metrics: m}

	router := gin.New()
	router.Use(recovery(log))
	router.Use(requestID())
	router.Use(accessLog(log))
	router.Use(observe(m))
	router.Use(corsMiddleware(cfg.AllowOrigin))
	s.routes(router)

	s.router = router
	s.server = &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       2 * time.Minute,
	}
	return s
}

func (s *Server) routes(r *gin.Engine) {
	r.GET("/health", s.health)
	r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(s.deps.Gatherer, promhttp.HandlerOpts{})))

	api := r.Group("/")
	api.Use(rateLimit(s.cfg.RatePerMin, time.Minute, s.metrics))
	{
		api.GET("/status", s.status)
		api.GET("/snapshot", s.snapshot)
		api.GET("/page", s.page)
		api.GET("/search", s.search)
		api.POST("/extract", s.extract)
		api.GET("/rss", s.rss)
		api.GET("/sites", s.sites)
		api.POST("/sites/reload", s.reloadSites)
		api.GET("/cron", s.cron)
		api.POST("/cron", s.cron)
	}
}

// Handler returns the router
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start serves until Shutdown is called
func (s *Server) Start() error {
	s.log.Info().Str("addr", s.server.Addr).Msg("Starting HTTP server")

	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server error: %w", err)
	}
	return nil
}

// Shutdown stops accepting requests and waits for in-flight ones
func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}
