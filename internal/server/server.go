package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/parkdeck/parkdeck/internal/config"
	"github.com/parkdeck/parkdeck/internal/handler"
	"github.com/parkdeck/parkdeck/internal/server/middleware"
	"github.com/parkdeck/parkdeck/internal/service"
)

// Config holds the HTTP server configuration.
type Config struct {
	Host            string
	Port            int
	ShutdownTimeout time.Duration
	CORSOrigins     []string

	// Production controls the Secure attribute on the session cookie.
	Production bool

	// LoginRateLimit / LoginRateWindow bound login attempts per client
	// address before any account is touched.
	LoginRateLimit  int
	LoginRateWindow time.Duration

	// SessionPurgeInterval is how often expired session records are swept
	// from the store.
	SessionPurgeInterval time.Duration
}

// DefaultConfig returns a Config with sensible production defaults.
func DefaultConfig() Config {
	return Config{
		Host:                 "0.0.0.0",
		Port:                 8080,
		ShutdownTimeout:      30 * time.Second,
		CORSOrigins:          []string{"*"},
		LoginRateLimit:       5,
		LoginRateWindow:      15 * time.Minute,
		SessionPurgeInterval: 15 * time.Minute,
	}
}

// Server is the top-level HTTP server for Parkdeck. It owns the Chi router,
// the credential store, and the authenticator.
type Server struct {
	cfg        Config
	router     chi.Router
	store      *config.Store
	auth       *service.Authenticator
	httpServer *http.Server
	logger     *slog.Logger
}

// New creates a new Server, wires up all routes and middleware, and returns
// it ready to listen. Call ListenAndServe to start accepting connections.
func New(cfg Config, store *config.Store, auth *service.Authenticator, logger *slog.Logger) *Server {
	s := &Server{
		cfg:    cfg,
		store:  store,
		auth:   auth,
		logger: logger,
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
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   s.cfg.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Requested-With"},
		ExposedHeaders:   []string{"X-Request-ID"},
		AllowCredentials: true,
		MaxAge:           300,
	}))
	r.Use(chimw.Compress(5))

	// --- Health checks (no auth required) ---
	r.Get("/healthz", s.handleHealthz)
	r.Get("/readyz", s.handleReadyz)

	adminHandler := handler.NewAdminHandler(s.store, s.auth, s.logger, s.cfg.Production)
	listingHandler := handler.NewListingHandler(s.store, s.logger)

	r.Route("/api/v1", func(r chi.Router) {
		// Public marketplace read side.
		r.Get("/listings", listingHandler.ListActive)

		r.Route("/admin", func(r chi.Router) {
			// Login is rate-limited per client address before the
			// credential store is ever consulted. Logout only clears the
			// cookie and needs no auth.
			r.With(middleware.LoginRateLimit(s.cfg.LoginRateLimit, s.cfg.LoginRateWindow)).
				Post("/session", adminHandler.Login)
			r.Delete("/session", adminHandler.Logout)

			// Everything else requires a valid bearer token.
			r.Group(func(r chi.Router) {
				r.Use(middleware.Authenticate(s.auth))

				r.Get("/dashboard", adminHandler.Dashboard)
				r.Put("/password", adminHandler.ChangePassword)
			})
		})
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
// is reachable, 503 otherwise.
func (s *Server) handleReadyz(w http.ResponseWriter, r *http.Request) {
	status := "ok"
	httpStatus := http.StatusOK
	checks := make(map[string]string)

	if err := s.store.Ping(r.Context()); err != nil {
		checks["store"] = "error: " + err.Error()
		status = "degraded"
		httpStatus = http.StatusServiceUnavailable
	} else {
		checks["store"] = "ok"
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(httpStatus)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"status": status,
		"checks": checks,
	})
}

// ListenAndServe starts the HTTP server and blocks until a SIGINT or SIGTERM
// is received. It then performs a graceful shutdown, draining in-flight
// requests before closing the store.
func (s *Server) ListenAndServe() error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)

	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	// Listen for shutdown signals
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Sweep expired session records in the background; the per-account
	// prune on login covers the hot path, this covers idle accounts.
	go s.purgeSessionsLoop(ctx)

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
		return fmt.Errorf("server listen: %w", err)
	case <-ctx.Done():
		s.logger.Info("shutdown signal received, draining connections...")
	}

	// Graceful shutdown with timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
	defer cancel()

	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}

	s.logger.Info("server stopped")
	return nil
}

func (s *Server) purgeSessionsLoop(ctx context.Context) {
	interval := s.cfg.SessionPurgeInterval
	if interval <= 0 {
		interval = 15 * time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := s.store.PurgeExpiredSessions(ctx, time.Now().UTC())
			if err != nil {
				s.logger.Error("session purge failed", "error", err)
			} else if n > 0 {
				s.logger.Debug("purged expired sessions", "count", n)
			}
		}
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
