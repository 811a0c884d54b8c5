// Package server is the composition root: it opens storage, builds the
// provider client and services, and mounts the routes.
//
//	config.Config → store (sqlite | postgres)
//	              → auth.Provider (otelhttp transport) → TokenExchanger, ProfileSyncer
//	              → AuthHandler, HealthHandler → chi router
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"

	"github.com/sakif/itmo-auth/internal/auth"
	"github.com/sakif/itmo-auth/internal/config"
	"github.com/sakif/itmo-auth/internal/handler"
	"github.com/sakif/itmo-auth/internal/middleware"
	"github.com/sakif/itmo-auth/internal/repository"
	"github.com/sakif/itmo-auth/internal/repository/postgres"
	sqliteRepo "github.com/sakif/itmo-auth/internal/repository/sqlite"
	"github.com/sakif/itmo-auth/internal/service"
	"github.com/sakif/itmo-auth/internal/telemetry"
)

const shutdownTimeout = 30 * time.Second

// Server owns the router and the storage connection.
type Server struct {
	router http.Handler
	config config.Config
	logger *slog.Logger
	store  repository.Store
}

// New wires every dependency from cfg. Counters go to the global OTel meter
// provider, which is a no-op unless telemetry.Setup installed one.
func New(ctx context.Context, cfg config.Config, logger *slog.Logger) (*Server, error) {
	store, err := openStore(ctx, cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	metrics, err := telemetry.NewMeterSink(otel.Meter(cfg.ServiceName))
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("registering counters: %w", err)
	}

	s := &Server{
		config: cfg,
		logger: logger,
		store:  store,
	}

	if err := s.setupRoutes(metrics); err != nil {
		store.Close()
		return nil, fmt.Errorf("setting up routes: %w", err)
	}

	return s, nil
}

// openStore picks the storage backend named by cfg.DBDriver.
func openStore(ctx context.Context, cfg config.Config, logger *slog.Logger) (repository.Store, error) {
	switch cfg.DBDriver {
	case config.DriverPostgres:
		return postgres.New(ctx, cfg.DatabaseURL, postgres.Options{}, logger)
	case config.DriverSQLite:
		if cfg.DBPath != ":memory:" {
			if err := os.MkdirAll(filepath.Dir(cfg.DBPath), 0o755); err != nil {
				return nil, fmt.Errorf("creating database directory: %w", err)
			}
		}
		return sqliteRepo.New(cfg.DBPath)
	default:
		return nil, fmt.Errorf("unknown driver %q", cfg.DBDriver)
	}
}

// setupRoutes builds the dependency graph and mounts:
//
//	POST /auth/token → exchange an authorization code for an access token
//	POST /auth/user  → resolve an access token to the stored user + session token
//	GET  /healthz    → storage reachability
//
// Middleware order: RequestID, RealIP, Recoverer, then request logging.
func (s *Server) setupRoutes(metrics telemetry.Sink) error {
	sessions, err := auth.NewSessionTokens(s.config.SessionSecret)
	if err != nil {
		return err
	}

	provider := auth.NewProvider(s.config.Provider, otelhttp.NewTransport(http.DefaultTransport))

	exchanger := service.NewTokenExchanger(provider, metrics, s.logger)
	syncer := service.NewProfileSyncer(
		provider,
		s.store.Users(),
		s.store.AuthSessions(),
		sessions,
		metrics,
		s.logger,
	)

	authHandler := handler.NewAuthHandler(exchanger, syncer, s.logger)
	healthHandler := handler.NewHealthHandler(s.store, s.logger)

	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(middleware.Logger(s.logger))

	r.Get("/healthz", healthHandler.HandleHealth)
	r.Route("/auth", func(r chi.Router) {
		r.Post("/token", authHandler.HandleToken)
		r.Post("/user", authHandler.HandleUser)
	})

	s.router = otelhttp.NewHandler(r, s.config.ServiceName)
	return nil
}

// Handler returns the root handler, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Close releases the storage connection.
func (s *Server) Close() error {
	return s.store.Close()
}

// Start serves until ctx is cancelled, then drains in-flight requests for up
// to 30 seconds and closes the database.
func (s *Server) Start(ctx context.Context) error {
	defer s.store.Close()

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", s.config.Port),
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: s.config.Provider.Timeout*2 + 5*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	serverErrors := make(chan error, 1)
	go func() {
		s.logger.Info("server starting",
			slog.Int("port", s.config.Port),
			slog.String("driver", s.config.DBDriver),
			slog.String("provider", s.config.Provider.BaseURL),
		)
		serverErrors <- srv.ListenAndServe()
	}()

	select {
	case err := <-serverErrors:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}

	case <-ctx.Done():
		s.logger.Info("shutdown signal received")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("graceful shutdown failed: %w", err)
		}
		s.logger.Info("server stopped gracefully")
	}

	return nil
}
