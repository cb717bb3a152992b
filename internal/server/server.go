// Package server assembles the quizmill HTTP server: the SQLite job
// store, the extraction engine registry, document ingest and the chunk
// processor, exposed through the endpoint registry.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/quizmill/quizmill/internal/api"
	"github.com/quizmill/quizmill/internal/config"
	"github.com/quizmill/quizmill/internal/extract"
	"github.com/quizmill/quizmill/internal/home"
	"github.com/quizmill/quizmill/internal/ingest"
	"github.com/quizmill/quizmill/internal/jobstore"
	"github.com/quizmill/quizmill/internal/pipeline"
	"github.com/quizmill/quizmill/internal/server/endpoints"
	"github.com/quizmill/quizmill/internal/svcctx"
)

// Server is the main Quizmill HTTP server. It owns the job store and
// keeps the extraction engine registry in sync with config changes.
type Server struct {
	httpServer *http.Server
	home       *home.Dir
	appCfg     *config.Config
	configMgr  *config.Manager
	engines    *extract.Registry
	logger     *slog.Logger

	store     *jobstore.Store
	ingester  *ingest.Ingester
	processor *pipeline.Processor

	// services holds all core services for context enrichment
	services *svcctx.Services

	// endpoints registry for HTTP routes
	endpointRegistry *api.Registry

	sweepInterval time.Duration

	mu      sync.RWMutex
	running bool
}

// Config holds server configuration.
type Config struct {
	// Host is the address to bind to (default: 127.0.0.1)
	Host string
	// Port is the port to listen on (default: 8080)
	Port string
	// Home is the quizmill home directory holding the store and documents
	Home *home.Dir
	// ConfigManager provides configuration with hot-reload support
	ConfigManager *config.Manager
	// SwaggerSpecPath overrides the swagger.json location
	SwaggerSpecPath string
	// Logger is the structured logger to use
	Logger *slog.Logger
}

// New creates a new Server with the given configuration.
func New(cfg Config) (*Server, error) {
	if cfg.Host == "" {
		cfg.Host = "127.0.0.1"
	}
	if cfg.Port == "" {
		cfg.Port = "8080"
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Home == nil {
		dir, err := home.New("")
		if err != nil {
			return nil, fmt.Errorf("failed to resolve home directory: %w", err)
		}
		cfg.Home = dir
	}
	if cfg.SwaggerSpecPath == "" {
		cfg.SwaggerSpecPath = endpoints.GetSwaggerSpecPath()
	}

	appCfg := config.DefaultConfig()
	if cfg.ConfigManager != nil {
		appCfg = cfg.ConfigManager.Get()
	}

	// Build the engine registry and keep it hot-reloaded from config
	engines := extract.NewRegistryFromConfig(appCfg.ToRegistryConfig())
	engines.SetLogger(cfg.Logger)
	if cfg.ConfigManager != nil {
		cfg.ConfigManager.OnChange(func(c *config.Config) {
			engines.Reload(c.ToRegistryConfig())
			cfg.Logger.Info("extraction registry reloaded from config")
		})
	}

	sweepInterval := appCfg.Store.SweepInterval
	if sweepInterval <= 0 {
		sweepInterval = time.Hour
	}

	s := &Server{
		home:          cfg.Home,
		appCfg:        appCfg,
		configMgr:     cfg.ConfigManager,
		engines:       engines,
		logger:        cfg.Logger,
		sweepInterval: sweepInterval,
	}

	// Create endpoint registry and register all endpoints
	s.endpointRegistry = api.NewRegistry()
	for _, ep := range endpoints.All(endpoints.Config{SwaggerSpecPath: cfg.SwaggerSpecPath}) {
		s.endpointRegistry.Register(ep)
	}

	// Set up HTTP server
	mux := http.NewServeMux()
	s.endpointRegistry.RegisterRoutes(mux, s.requireInit)

	s.httpServer = &http.Server{
		Addr:    net.JoinHostPort(cfg.Host, cfg.Port),
		Handler: s.withServices(mux),
		// Uploads stream whole PDFs in and process requests block on
		// model calls, so both directions get generous timeouts.
		ReadTimeout:  10 * time.Minute,
		WriteTimeout: 15 * time.Minute,
		IdleTimeout:  120 * time.Second,
	}

	return s, nil
}

// Start opens the job store and serves HTTP. It blocks until the context
// is cancelled or the listener fails.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return errors.New("server already running")
	}
	s.running = true
	s.mu.Unlock()

	if err := s.home.EnsureExists(); err != nil {
		s.setNotRunning()
		return fmt.Errorf("failed to prepare home directory: %w", err)
	}

	store, err := jobstore.Open(jobstore.Config{
		Path:             s.home.DBPath(),
		StaleLockTimeout: s.appCfg.Store.StaleLockTimeout,
		ExpiryTTL:        s.appCfg.Store.JobTTL,
		FailureCeiling:   s.appCfg.Store.FailureCeiling,
		Logger:           s.logger,
	})
	if err != nil {
		s.setNotRunning()
		return fmt.Errorf("failed to open job store: %w", err)
	}
	s.store = store
	s.logger.Info("job store ready", "path", s.home.DBPath())

	s.ingester = ingest.New(ingest.Config{
		Store:     store,
		Home:      s.home,
		ChunkSize: s.appCfg.Ingest.ChunkSize,
		Overlap:   s.appCfg.Ingest.Overlap,
		Logger:    s.logger,
	})

	s.processor = pipeline.New(pipeline.Config{
		Store:   store,
		Engines: s.engines,
		Docs:    s.ingester,
		Logger:  s.logger,
	})

	// Create services struct for context enrichment
	s.services = &svcctx.Services{
		Store:     store,
		Engines:   s.engines,
		Ingester:  s.ingester,
		Processor: s.processor,
		Config:    s.configMgr,
		Logger:    s.logger,
		Home:      s.home,
	}

	go s.sweepLoop(ctx)

	// Start HTTP server in goroutine
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("starting HTTP server", "addr", s.httpServer.Addr)
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	// Wait for context cancellation or error
	select {
	case <-ctx.Done():
		s.logger.Info("shutdown signal received")
	case err := <-errCh:
		if err != nil {
			_ = s.shutdown()
			return fmt.Errorf("HTTP server error: %w", err)
		}
	}

	return s.shutdown()
}

// sweepLoop purges expired jobs and their stored documents at the
// configured interval until the context ends.
func (s *Server) sweepLoop(ctx context.Context) {
	ticker := time.NewTicker(s.sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			keys, err := s.store.SweepExpired(ctx)
			if err != nil {
				if ctx.Err() == nil {
					s.logger.Error("expiry sweep failed", "error", err)
				}
				continue
			}
			for _, key := range keys {
				if err := s.ingester.Remove(key); err != nil {
					s.logger.Warn("failed to remove expired document",
						"storage_key", key, "error", err)
				}
			}
			if len(keys) > 0 {
				s.logger.Info("expired jobs swept", "count", len(keys))
			}
		}
	}
}

// shutdown performs graceful shutdown of the HTTP server and the store.
func (s *Server) shutdown() error {
	s.logger.Info("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		s.logger.Error("HTTP server shutdown error", "error", err)
	}

	if s.store != nil {
		if err := s.store.Close(); err != nil {
			s.logger.Error("job store close error", "error", err)
		}
	}

	s.setNotRunning()
	s.logger.Info("server stopped")
	return nil
}

func (s *Server) setNotRunning() {
	s.mu.Lock()
	s.running = false
	s.mu.Unlock()
}

// IsRunning returns whether the server is currently running.
func (s *Server) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.running
}

// Store returns the job store. Returns nil if the server hasn't started yet.
func (s *Server) Store() *jobstore.Store {
	return s.store
}

// Engines returns the extraction engine registry.
func (s *Server) Engines() *extract.Registry {
	return s.engines
}

// Addr returns the server's listen address.
func (s *Server) Addr() string {
	return s.httpServer.Addr
}

// withServices wraps a handler to enrich the request context with services.
func (s *Server) withServices(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if s.services != nil {
			ctx = svcctx.WithServices(ctx, s.services)
		}
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// requireInit is middleware that ensures the server is fully initialized.
// Returns 503 Service Unavailable until the store and processor are ready.
func (s *Server) requireInit(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.store == nil || s.processor == nil {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte(`{"error":"server not fully initialized"}`))
			return
		}
		next(w, r)
	}
}
