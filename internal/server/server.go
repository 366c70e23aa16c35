// Package server wires the local twin's HTTP surface.
//
// ROUTES:
//
//	GET    /healthz
//	POST   /identity/v1/accounts:{method}   identity provider (?key= required)
//	POST   /securetoken/v1/token            refresh_token grant (?key= required)
//	*      /api/...                         game backend (Bearer ID token required)
//	POST   /admin/reset, GET /admin/state   test hooks
//
// MIDDLEWARE ORDER:
// RequestID first so every later layer can log it, then RealIP, Recoverer and
// finally our request logger.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/sakif/keno-client/internal/auth"
	"github.com/sakif/keno-client/internal/config"
	"github.com/sakif/keno-client/internal/handler"
	"github.com/sakif/keno-client/internal/middleware"
	"github.com/sakif/keno-client/internal/twin"
)

// Server owns the twin and its router.
type Server struct {
	router *chi.Mux
	config config.TwinConfig
	logger *slog.Logger
	twin   *twin.Twin
	tokens *auth.TokenService
}

// New builds the twin from cfg and wires every route. passwords may be nil
// for the production bcrypt cost.
func New(cfg config.TwinConfig, passwords *auth.PasswordService, logger *slog.Logger) (*Server, error) {
	tokens, err := auth.NewTokenService(cfg.TokenSecret, cfg.TokenIssuer)
	if err != nil {
		return nil, fmt.Errorf("creating token service: %w", err)
	}
	if passwords == nil {
		passwords = auth.NewPasswordService()
	}

	tw := twin.New(twin.Config{
		StartingBalance: cfg.StartingBalance,
		TimeBonus:       cfg.TimeBonus,
		BonusInterval:   cfg.BonusInterval,
		Seed:            cfg.Seed,
	}, tokens, passwords, logger.With(slog.String("component", "twin")))

	s := &Server{
		router: chi.NewRouter(),
		config: cfg,
		logger: logger,
		twin:   tw,
		tokens: tokens,
	}
	s.setupRoutes()
	return s, nil
}

// Handler returns the root handler, for httptest.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) Twin() *twin.Twin {
	return s.twin
}

func (s *Server) setupRoutes() {
	s.router.Use(chimiddleware.RequestID)
	s.router.Use(chimiddleware.RealIP)
	s.router.Use(chimiddleware.Recoverer)
	s.router.Use(middleware.Logger(s.logger))

	identity := handler.NewIdentityHandler(s.twin, s.logger)
	backend := handler.NewBackendHandler(s.twin, s.logger)
	admin := handler.NewAdminHandler(s.twin, s.logger)

	s.router.Get("/healthz", admin.HandleHealth)

	s.router.Route("/identity/v1", func(r chi.Router) {
		r.Use(middleware.APIKey(s.config.APIKey))
		r.Post("/{method}", identity.HandleAccounts)
	})
	s.router.Route("/securetoken/v1", func(r chi.Router) {
		r.Use(middleware.APIKey(s.config.APIKey))
		r.Post("/token", identity.HandleToken)
	})

	s.router.Route("/api", func(r chi.Router) {
		r.Use(auth.RequireBearer(s.tokens))
		backend.Routes(r)
	})

	s.router.Route("/admin", func(r chi.Router) {
		r.Post("/reset", admin.HandleReset)
		r.Get("/state", admin.HandleState)
	})
}

// Start serves until SIGINT/SIGTERM, then drains in-flight requests.
func (s *Server) Start() error {
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", s.config.Port),
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(quit)

	serverErrors := make(chan error, 1)
	go func() {
		s.logger.Info("twin starting",
			slog.Int("port", s.config.Port),
			slog.String("api", fmt.Sprintf("http://localhost:%d/api", s.config.Port)),
			slog.String("identity", fmt.Sprintf("http://localhost:%d/identity/v1", s.config.Port)),
		)
		serverErrors <- srv.ListenAndServe()
	}()

	select {
	case err := <-serverErrors:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
	case sig := <-quit:
		s.logger.Info("shutdown signal received", slog.String("signal", sig.String()))

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := srv.Shutdown(ctx); err != nil {
			return fmt.Errorf("graceful shutdown failed: %w", err)
		}
		s.logger.Info("twin stopped gracefully")
	}
	return nil
}
