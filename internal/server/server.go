package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/faucetdb/keysmith/internal/config"
	"github.com/faucetdb/keysmith/internal/handler"
	"github.com/faucetdb/keysmith/internal/ratelimit"
	"github.com/faucetdb/keysmith/internal/server/middleware"
	"github.com/faucetdb/keysmith/internal/service"
)

// Config holds the HTTP server configuration.
type Config struct {
	Host            string
	Port            int
	ShutdownTimeout time.Duration
	CORSOrigins     []string
	FloodLimit      int // requests per minute per IP; 0 disables
	EnableMetrics   bool
	Version         string
}

// DefaultConfig returns a Config with sensible production defaults.
func DefaultConfig() Config {
	return Config{
		Host:            "0.0.0.0",
		Port:            8080,
		ShutdownTimeout: 30 * time.Second,
		CORSOrigins:     []string{"*"},
		FloodLimit:      1000,
		EnableMetrics:   true,
		Version:         "dev",
	}
}

// Server is the top-level HTTP server for keysmith. It owns the Chi router,
// the credential store and the gateway every credential route goes through.
type Server struct {
	cfg        Config
	router     chi.Router
	store      *config.Store
	gateway    *service.Gateway
	httpServer *http.Server
	logger     *slog.Logger

	mu         sync.Mutex
	onShutdown []func()
}

// New creates a new Server, wires up all routes and middleware, and returns
// it ready to listen. Call ListenAndServe to start accepting connections.
func New(cfg Config, store *config.Store, gateway *service.Gateway, logger *slog.Logger) *Server {
	s := &Server{
		cfg:     cfg,
		store:   store,
		gateway: gateway,
		logger:  logger,
	}
	s.setupRouter()
	return s
}

func (s *Server) setupRouter() {
	r := chi.NewRouter()

	// --- Global middleware ---
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger(s.logger))
	r.Use(chimw.Recoverer)
	r.Use(chimw.RealIP)
	r.Use(middleware.FloodGuard(s.cfg.FloodLimit))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: s.cfg.CORSOrigins,
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type", "X-API-Key", "X-Request-ID"},
		ExposedHeaders: []string{
			"X-Request-ID", "Retry-After",
			middleware.HeaderRateLimit, middleware.HeaderRateRemaining, middleware.HeaderRateReset,
		},
		AllowCredentials: false,
		MaxAge:           300,
	}))
	r.Use(chimw.Compress(5))

	// --- Health checks and documents (not rate limited by category) ---
	r.Get("/healthz", s.handleHealthz)
	r.Get("/readyz", s.handleReadyz)
	r.Get("/openapi.json", handler.NewOpenAPIHandler(s.cfg.Version).ServeSpec)
	if s.cfg.EnableMetrics {
		r.Handle("/metrics", promhttp.Handler())
	}

	// --- Credential routes; each handler admits its own category ---
	authHandler := handler.NewAuthHandler(s.gateway)
	userHandler := handler.NewUserHandler(s.store, s.gateway)

	r.Post("/users", userHandler.CreateUser)
	r.Post("/api-keys", authHandler.IssueKey)
	r.Post("/api-keys/rotate", authHandler.RotateKey)
	r.Post("/validate", authHandler.ValidateKey)
	r.Post("/tokens/validate", authHandler.ValidateToken)
	r.Post("/tokens/revoke", authHandler.RevokeToken)

	r.Group(func(r chi.Router) {
		r.Use(middleware.Authenticate(s.gateway, ratelimit.CategoryDataRead))
		r.Post("/protected", authHandler.Protected)
	})

	s.router = r
}

// handleHealthz is a liveness probe. Returns 200 if the process is running.
func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(`{"status":"ok"}`))
}

// handleReadyz is a readiness probe. Returns 200 when the credential store
// answers a ping, or 503 otherwise.
func (s *Server) handleReadyz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	status := "ok"
	httpStatus := http.StatusOK
	checks := map[string]string{"store": "ok"}

	if err := s.store.Ping(ctx); err != nil {
		checks["store"] = "error: " + err.Error()
		status = "degraded"
		httpStatus = http.StatusServiceUnavailable
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(httpStatus)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"status": status,
		"checks": checks,
	})
}

// OnShutdown registers fn to run after the HTTP server has drained, in
// registration order. Background workers such as the limiter sweep and the
// usage recorder are stopped this way.
func (s *Server) OnShutdown(fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onShutdown = append(s.onShutdown, fn)
}

// ListenAndServe starts the HTTP server and blocks until a SIGINT or SIGTERM
// is received. It then performs a graceful shutdown, draining in-flight
// requests before running the shutdown hooks.
func (s *Server) ListenAndServe() error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	return s.Run(ctx)
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)

	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	// Start server in background goroutine
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("server starting", "addr", addr)
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	// Wait for shutdown signal or server error
	select {
	case err := <-errCh:
		s.runShutdownHooks()
		return fmt.Errorf("server listen: %w", err)
	case <-ctx.Done():
		s.logger.Info("shutdown signal received, draining connections...")
	}

	// Graceful shutdown with timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
	defer cancel()

	err := s.httpServer.Shutdown(shutdownCtx)
	s.runShutdownHooks()
	if err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}
	s.logger.Info("server stopped")
	return nil
}

func (s *Server) runShutdownHooks() {
	s.mu.Lock()
	hooks := s.onShutdown
	s.onShutdown = nil
	s.mu.Unlock()
	for _, fn := range hooks {
		fn()
	}
}

// Router returns the underlying Chi router, useful for testing.
func (s *Server) Router() chi.Router {
	return s.router
}

// ServeHTTP implements http.Handler, delegating to the router.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}
