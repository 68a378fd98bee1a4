package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/switchyard-io/switchyard/cmd/switchyard/internal/bus"
	"github.com/switchyard-io/switchyard/cmd/switchyard/internal/cache"
	"github.com/switchyard-io/switchyard/cmd/switchyard/internal/evallog"
	"github.com/switchyard-io/switchyard/cmd/switchyard/internal/handlers"
	"github.com/switchyard-io/switchyard/cmd/switchyard/internal/middleware"
	"github.com/switchyard-io/switchyard/cmd/switchyard/internal/repository"
	"github.com/switchyard-io/switchyard/cmd/switchyard/internal/scheduler"
	"github.com/switchyard-io/switchyard/cmd/switchyard/internal/services"
	"github.com/switchyard-io/switchyard/pkg/auth"
	"github.com/switchyard-io/switchyard/pkg/config"
)

// Server wires the decision service together: stores, cache layers, change
// bus, evaluation log, services, handlers and the background workers.
type Server struct {
	config *config.Config
	logger zerolog.Logger

	// Database connections
	db         *pgxpool.Pool
	redis      *redis.Client
	nats       *nats.Conn
	clickhouse clickhouse.Conn

	// Core components
	repos         *repository.Repositories
	snapshotCache *cache.SnapshotCache
	changeBus     *bus.ChangeBus
	sink          *evallog.Sink
	services      *services.Services
	scheduler     *scheduler.Worker

	// Handlers
	handlers *handlers.Handlers

	// Auth components
	tokenManager *auth.TokenManager
	sdkKeys      *auth.SDKKeyManager

	// Background workers
	workersCancel context.CancelFunc
}

// New creates a new server instance
func New(cfg *config.Config, logger zerolog.Logger) (*Server, error) {
	s := &Server{
		config: cfg,
		logger: logger,
	}

	// Initialize database connections
	if err := s.initDatabase(); err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	// Initialize Redis
	if err := s.initRedis(); err != nil {
		return nil, fmt.Errorf("failed to initialize Redis: %w", err)
	}

	// Initialize NATS
	if err := s.initNATS(); err != nil {
		return nil, fmt.Errorf("failed to initialize NATS: %w", err)
	}

	// Initialize ClickHouse (optional)
	if err := s.initClickHouse(); err != nil {
		return nil, fmt.Errorf("failed to initialize ClickHouse: %w", err)
	}

	// Initialize auth components
	s.tokenManager = auth.NewTokenManager(cfg.Auth.JWTSecret, cfg.Auth.BackendURL)
	s.sdkKeys = auth.NewSDKKeyManager(cfg.Auth.BCryptCost)

	// Initialize repositories, cache, bus, sink, services, handlers
	if err := s.initComponents(); err != nil {
		return nil, err
	}

	logger.Info().Msg("Server initialized successfully")
	return s, nil
}

// StartWorkers launches the scheduler and the outbox sweeper. They run until
// Close.
func (s *Server) StartWorkers() {
	ctx, cancel := context.WithCancel(context.Background())
	s.workersCancel = cancel

	go s.scheduler.Run(ctx)
	go s.services.Outbox.Sweep(ctx, 10*time.Second)
}

// SetupRoutes configures HTTP routes
func (s *Server) SetupRoutes(r *chi.Mux) {
	authMiddleware := middleware.NewAuthMiddleware(s.tokenManager, s.services.Project, s.logger)

	// Root/info
	r.Get("/", s.handleRoot)
	r.Get("/health", s.handleHealth)

	r.Route("/v1", func(r chi.Router) {
		// --- SDK surface (project SDK key auth) ---
		r.Route("/sdk", func(r chi.Router) {
			r.Use(authMiddleware.AuthenticateSDK)
			r.Get("/bootstrap", s.handlers.SDK.Bootstrap)
			r.Post("/evaluate", s.handlers.SDK.Evaluate)
			r.Get("/stream", s.handlers.SDK.Stream)
		})

		// --- Admin surface (user auth) ---
		r.Group(func(r chi.Router) {
			r.Use(authMiddleware.Authenticate)

			r.Route("/projects", func(r chi.Router) {
				r.Get("/", s.handlers.Project.List)
				r.Post("/", s.handlers.Project.Create)

				r.Route("/{projectKey}", func(r chi.Router) {
					r.Get("/", s.handlers.Project.Get)
					r.Post("/sdk-key/rotate", s.handlers.Project.RotateSDKKey)
					r.Get("/evaluations", s.handlers.Project.Evaluations)

					// Decision RPCs
					r.Get("/evaluate/{flagKey}", s.handlers.Decision.Evaluate)
					r.Post("/evaluations/bulk", s.handlers.Decision.EvaluateBulk)

					// Environments
					r.Route("/environments", func(r chi.Router) {
						r.Get("/", s.handlers.Environment.List)
						r.Post("/", s.handlers.Environment.Create)

						r.Route("/{envKey}", func(r chi.Router) {
							r.Get("/", s.handlers.Environment.Get)
							r.Put("/", s.handlers.Environment.Update)
							r.Delete("/", s.handlers.Environment.Delete)
						})
					})

					// Flags
					r.Route("/flags", func(r chi.Router) {
						r.Get("/", s.handlers.Flag.List)
						r.Post("/", s.handlers.Flag.Create)

						r.Route("/{flagKey}", func(r chi.Router) {
							r.Get("/", s.handlers.Flag.Get)
							r.Put("/", s.handlers.Flag.Update)
							r.Delete("/", s.handlers.Flag.Delete)
							r.Post("/archive", s.handlers.Flag.Archive)
							r.Put("/variants", s.handlers.Flag.ReplaceVariants)

							// Per-environment overlay
							r.Route("/environments/{envKey}", func(r chi.Router) {
								r.Get("/", s.handlers.Flag.GetOverlay)
								r.Put("/", s.handlers.Flag.UpdateOverlay)
								r.Put("/rules", s.handlers.Flag.ReplaceRules)
								r.Post("/toggle", s.handlers.Flag.Toggle)
								r.Post("/schedule", s.handlers.Flag.Schedule)
								r.Delete("/schedule", s.handlers.Flag.ClearSchedule)
							})
						})
					})

					// Segments
					r.Route("/segments", func(r chi.Router) {
						r.Get("/", s.handlers.Segment.List)
						r.Post("/", s.handlers.Segment.Create)

						r.Route("/{segmentKey}", func(r chi.Router) {
							r.Get("/", s.handlers.Segment.Get)
							r.Put("/", s.handlers.Segment.Update)
							r.Delete("/", s.handlers.Segment.Delete)
						})
					})
				})
			})
		})
	})
}

// Close gracefully closes all server resources
func (s *Server) Close() error {
	if s.workersCancel != nil {
		s.workersCancel()
	}
	if s.handlers != nil && s.handlers.SDK != nil {
		s.handlers.SDK.Close()
	}
	if s.sink != nil {
		s.sink.Close()
	}
	if s.snapshotCache != nil {
		s.snapshotCache.Close()
	}

	var errs []error

	if s.nats != nil {
		s.nats.Close()
	}

	if s.redis != nil {
		if err := s.redis.Close(); err != nil {
			errs = append(errs, fmt.Errorf("redis close error: %w", err))
		}
	}

	if s.clickhouse != nil {
		if err := s.clickhouse.Close(); err != nil {
			errs = append(errs, fmt.Errorf("clickhouse close error: %w", err))
		}
	}

	if s.db != nil {
		s.db.Close()
	}

	if len(errs) > 0 {
		return fmt.Errorf("errors during close: %v", errs)
	}

	s.logger.Info().Msg("Server resources closed successfully")
	return nil
}

// Database initialization
func (s *Server) initDatabase() error {
	dbConfig, err := pgxpool.ParseConfig(s.config.PostgresDSN())
	if err != nil {
		return fmt.Errorf("failed to parse database config: %w", err)
	}

	dbConfig.MaxConns = s.config.Database.MaxConns
	dbConfig.MinConns = s.config.Database.MinConns
	dbConfig.MaxConnLifetime = s.config.Database.MaxLifetime

	s.db, err = pgxpool.NewWithConfig(context.Background(), dbConfig)
	if err != nil {
		return fmt.Errorf("failed to create database pool: %w", err)
	}

	// Test connection
	if err := s.db.Ping(context.Background()); err != nil {
		return fmt.Errorf("failed to ping database: %w", err)
	}

	s.logger.Info().Msg("Database connection established")
	return nil
}

// Redis initialization
func (s *Server) initRedis() error {
	opts, err := redis.ParseURL(s.config.RedisURL())
	if err != nil {
		return fmt.Errorf("failed to parse Redis URL: %w", err)
	}
	opts.PoolSize = s.config.Redis.PoolSize
	opts.DialTimeout = s.config.Redis.DialTimeout
	opts.ReadTimeout = s.config.Redis.ReadTimeout
	opts.WriteTimeout = s.config.Redis.WriteTimeout

	s.redis = redis.NewClient(opts)

	// Test connection
	if err := s.redis.Ping(context.Background()).Err(); err != nil {
		return fmt.Errorf("failed to connect to Redis: %w", err)
	}

	s.logger.Info().Msg("Redis connection established")
	return nil
}

// NATS initialization
func (s *Server) initNATS() error {
	opts := []nats.Option{
		nats.Name("switchyard"),
		nats.MaxReconnects(s.config.NATS.MaxReconnect),
		nats.ReconnectWait(s.config.NATS.ReconnectWait),
		nats.Timeout(s.config.NATS.Timeout),
	}

	var err error
	s.nats, err = nats.Connect(s.config.NATS.URL, opts...)
	if err != nil {
		return fmt.Errorf("failed to connect to NATS: %w", err)
	}

	s.logger.Info().Msg("NATS connection established")
	return nil
}

// ClickHouse initialization. Disabled config leaves the connection nil and
// the evaluation log off.
func (s *Server) initClickHouse() error {
	if !s.config.ClickHouse.Enabled {
		s.logger.Info().Msg("Evaluation log disabled")
		return nil
	}

	opts, err := clickhouse.ParseDSN(s.config.ClickHouseDSN())
	if err != nil {
		return fmt.Errorf("failed to parse ClickHouse DSN: %w", err)
	}

	conn, err := clickhouse.Open(opts)
	if err != nil {
		return fmt.Errorf("failed to open ClickHouse connection: %w", err)
	}
	if err := conn.Ping(context.Background()); err != nil {
		return fmt.Errorf("failed to ping ClickHouse: %w", err)
	}

	s.clickhouse = conn
	s.logger.Info().Msg("ClickHouse connection established")
	return nil
}

// initComponents wires repositories, the snapshot cache, the change bus, the
// evaluation log sink, services and handlers, in dependency order.
func (s *Server) initComponents() error {
	s.repos = repository.New(s.db, s.logger)

	s.changeBus = bus.New(s.nats, s.logger)

	s.sink = evallog.New(s.clickhouse, evallog.Options{
		BatchSize:     s.config.EvalLog.BatchSize,
		FlushInterval: s.config.EvalLog.FlushInterval,
		BufferSize:    s.config.EvalLog.BufferSize,
		SampleRate:    s.config.EvalLog.SampleRate,
	}, s.logger)

	// The snapshot service is the cache's loader, so it is built before the
	// cache even though it lives in the services struct.
	snapshots := services.NewSnapshotService(s.repos, s.logger)

	snapshotCache, err := cache.New(s.redis, snapshots, cache.Options{
		TTL:           s.config.Cache.SnapshotTTL,
		L1NumCounters: s.config.Cache.L1NumCounters,
		L1MaxCost:     s.config.Cache.L1MaxCost,
	}, s.logger)
	if err != nil {
		return fmt.Errorf("failed to initialize snapshot cache: %w", err)
	}
	s.snapshotCache = snapshotCache

	s.services = services.New(s.repos, s.snapshotCache, s.changeBus, s.sink, s.sdkKeys, s.logger)

	s.scheduler = scheduler.New(s.repos.Schedule, s.services.Outbox, scheduler.Options{
		PollInterval: s.config.Scheduler.PollInterval,
		BatchSize:    s.config.Scheduler.BatchSize,
		MaxAttempts:  s.config.Scheduler.MaxAttempts,
		RetryBase:    s.config.Scheduler.RetryBase,
		RetryCap:     s.config.Scheduler.RetryCap,
	}, s.logger)

	s.handlers = handlers.New(s.services, s.changeBus, s.sink, s.logger)

	s.logger.Info().Msg("Components initialized")
	return nil
}

// Basic HTTP handlers
func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	response := map[string]interface{}{
		"service": "Switchyard Decision Service",
		"version": "1.0.0",
		"status":  "running",
		"api":     "/v1",
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(response)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	response := map[string]interface{}{
		"status":    "healthy",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"services": map[string]string{
			"database": "connected",
			"redis":    "connected",
			"nats":     "connected",
		},
	}
	if s.sink.Enabled() {
		response["services"].(map[string]string)["clickhouse"] = "connected"
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(response)
}
