package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"sjsage522/slothproxy/config"
	"sjsage522/slothproxy/internal/extract"
	"sjsage522/slothproxy/internal/metrics"
	"sjsage522/slothproxy/internal/pipeline"
	"sjsage522/slothproxy/internal/registry"
	"sjsage522/slothproxy/internal/render"
	"sjsage522/slothproxy/internal/server"
	"sjsage522/slothproxy/logger"
	"sjsage522/slothproxy/services/cache"
	"sjsage522/slothproxy/services/publisher"
	"sjsage522/slothproxy/services/worker"
)

const shutdownTimeout = 15 * time.Second

func main() {
	// Load environment variables
	_ = godotenv.Load()

	// Initialize logger first
	logger.Init()
	log := logger.Default

	// Load and validate configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}
	if err := cfg.Validate(); err != nil {
		log.Fatal().Err(err).Msg("Invalid configuration")
	}

	log.Info().
		Str("environment", cfg.Environment).
		Str("port", cfg.Port).
		Str("wait_until", cfg.WaitUntil).
		Bool("remote_browser", cfg.ChromeURL != "").
		Msg("Starting application")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Initialize services
	services, err := initializeServices(ctx, cfg, prometheus.DefaultRegisterer)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize services")
	}
	defer services.Cleanup()

	if n, err := services.Registry.Reload(ctx); err != nil {
		log.Warn().Err(err).Msg("Initial site registry load failed, starting with no sites")
	} else {
		log.Info().Int("sites", n).Str("source", services.Registry.Source()).Msg("Site registry loaded")
	}

	svc := pipeline.NewService(pipeline.Options{
		Renderer:     services.Renderer,
		Extractor:    extract.NewExtractor(cfg.ExtractMaxItems, logger.ForExtractor()),
		ExtractCache: services.ExtractCache,
		Sites:        services.Registry,
		TitlePrefix:  cfg.FeedTitlePrefix,
		Logger:       logger.Default.WithField("component", "pipeline"),
		Metrics:      services.Metrics,
	})

	w := worker.NewWorker(
		services.Registry,
		svc,
		services.Publisher,
		cfg.BatchConcurrency,
		logger.ForWorker(),
		services.Metrics,
	)
	if cfg.CronSchedule != "" {
		if _, err := w.Schedule(ctx, cfg.CronSchedule); err != nil {
			log.Fatal().Err(err).Msg("Failed to schedule batch")
		}
	}

	srv := server.New(server.Config{
		Port:        cfg.Port,
		AllowOrigin: cfg.AllowOrigin,
		RatePerMin:  cfg.RatePerMin,
		CronSecret:  cfg.CronSecret,
		Debug:       cfg.Environment == "development",
	}, server.Deps{
		Pipeline:   svc,
		Registry:   services.Registry,
		Batch:      w,
		CacheStats: services.CacheStats,
	}, logger.ForServer(), services.Metrics)

	serverDone := make(chan error, 1)
	go func() {
		serverDone <- srv.Start()
	}()

	// Wait for shutdown signal or server error
	select {
	case <-ctx.Done():
		log.Info().Msg("Received shutdown signal")
	case err := <-serverDone:
		if err != nil {
			log.Error().Err(err).Msg("Server exited with error")
		}
	}

	// Graceful shutdown
	log.Info().Msg("Shutting down gracefully...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP shutdown failed")
	}
}

// Services holds all the initialized services
type Services struct {
	Metrics      *metrics.Metrics
	Browser      *render.RodRenderer
	Renderer     *render.Cached
	ExtractCache *cache.MemoryCache[[]extract.Item]
	Registry     *registry.Registry
	Publisher    publisher.Publisher
	DB           *sqlx.DB
}

// CacheStats reports both pipeline caches
func (s *Services) CacheStats() []cache.Stats {
	return []cache.Stats{s.Renderer.Stats(), s.ExtractCache.Stats()}
}

// Cleanup cleans up all services
func (s *Services) Cleanup() {
	log := logger.Default
	if s.Browser != nil {
		if err := s.Browser.Close(); err != nil {
			log.Warn().Err(err).Msg("Failed to close browser")
		}
	}
	if s.Publisher != nil {
		if err := s.Publisher.Close(); err != nil {
			log.Warn().Err(err).Msg("Failed to close publisher")
		}
	}
	if s.DB != nil {
		if err := s.DB.Close(); err != nil {
			log.Warn().Err(err).Msg("Failed to close registry database")
		}
	}
}

// initializeServices initializes all required services
func initializeServices(ctx context.Context, cfg *config.Config, reg prometheus.Registerer) (*Services, error) {
	services := &Services{Metrics: metrics.New(reg)}

	// Caches
	renderCache := cache.NewMemoryCache[string]("render", cfg.CacheMax, cfg.CacheTTL())
	services.ExtractCache = cache.NewMemoryCache[[]extract.Item]("extract", cfg.CacheMax, cfg.ExtractCacheTTL())

	// Renderer: browser, then retries, then the shared cache in front
	services.Browser = render.NewRodRenderer(render.OptionsFromConfig(cfg), logger.ForRenderer(), services.Metrics)
	retrying := render.NewRetrying(services.Browser, render.RetryPolicy{
		Retries:  cfg.RetryCount,
		MinDelay: cfg.RetryMin(),
		MaxDelay: cfg.RetryMax(),
	}, logger.ForRenderer(), services.Metrics)
	services.Renderer = render.NewCached(retrying, renderCache, logger.ForCache(), services.Metrics)

	// Site registry
	primary, err := primarySource(ctx, cfg, services)
	if err != nil {
		return nil, err
	}
	var fallback registry.Source
	if cfg.SitesFile != "" {
		fallback = registry.NewFileSource(cfg.SitesFile)
	}
	if primary == nil && fallback == nil {
		return nil, errors.New("no site registry configured: set SUPABASE_URL, REGISTRY_DSN or SITES_FILE")
	}
	services.Registry = registry.New(primary, fallback, logger.ForRegistry(), services.Metrics)

	// Build events
	if cfg.RedisAddr == "" {
		services.Publisher = publisher.NopPublisher{}
		logger.Default.Info().Msg("REDIS_ADDR not set, build events disabled")
		return services, nil
	}
	redisPublisher := publisher.NewRedisPublisher(cfg.RedisAddr, cfg.RedisDB, cfg.RedisStream, cfg.RedisStreamMaxLen, logger.ForPublisher())
	if err := redisPublisher.Ping(ctx); err != nil {
		logger.Default.Warn().Err(err).Str("addr", cfg.RedisAddr).Msg("Redis not reachable, events will fail until it is")
	} else {
		logger.Default.Info().
			Str("addr", cfg.RedisAddr).
			Int("db", cfg.RedisDB).
			Str("stream", cfg.RedisStream).
			Msg("Connected to Redis")
	}
	services.Publisher = redisPublisher

	return services, nil
}

// primarySource picks Supabase, then Postgres; nil when neither is configured
func primarySource(ctx context.Context, cfg *config.Config, services *Services) (registry.Source, error) {
	switch {
	case cfg.SupabaseURL != "":
		logger.Default.Info().Str("url", cfg.SupabaseURL).Str("table", cfg.SupabaseTable).Msg("Using Supabase site registry")
		return registry.NewSupabaseSource(registry.SupabaseConfig{
			URL:        cfg.SupabaseURL,
			AnonKey:    cfg.SupabaseAnonKey,
			ServiceKey: cfg.SupabaseServiceKey,
			Table:      cfg.SupabaseTable,
		}), nil
	case cfg.RegistryDSN != "":
		db, err := registry.OpenPostgres(ctx, cfg.RegistryDSN)
		if err != nil {
			if cfg.SitesFile == "" {
				return nil, err
			}
			// reloads fall back to the sites file until the database answers
			logger.Default.Warn().Err(err).Str("sites_file", cfg.SitesFile).Msg("Registry database unreachable, using sites file")
			if db, err = registry.NewPostgresPool(cfg.RegistryDSN); err != nil {
				return nil, err
			}
		}
		services.DB = db
		logger.Default.Info().Msg("Using Postgres site registry")
		return registry.NewPostgresSource(db), nil
	default:
		return nil, nil
	}
}
