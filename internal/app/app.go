// Package app assembles the client from configuration.
//
// DEPENDENCY GRAPH:
//
//	KeyValueStore (sqlite | redis) ─► Preferences ─► session.Store
//	IdentityToolkit ──────────────────────────────┘        │
//	api.Client (bearer = session.Store.Token) ◄────────────┘
//	events.Bus ─► wallet.Synchronizer ─► reconcile.Reconciler
//	          └─► kafkasink.Forwarder (optional)
//	all of the above ─► service.SessionService, service.GameService
//
// Everything is wired here and nowhere else.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"

	"github.com/sakif/keno-client/internal/api"
	"github.com/sakif/keno-client/internal/auth"
	"github.com/sakif/keno-client/internal/config"
	"github.com/sakif/keno-client/internal/events"
	"github.com/sakif/keno-client/internal/events/kafkasink"
	"github.com/sakif/keno-client/internal/reconcile"
	"github.com/sakif/keno-client/internal/repository"
	"github.com/sakif/keno-client/internal/repository/redis"
	"github.com/sakif/keno-client/internal/repository/sqlite"
	"github.com/sakif/keno-client/internal/service"
	"github.com/sakif/keno-client/internal/session"
	"github.com/sakif/keno-client/internal/wallet"
)

// Options carries the parts of the graph that cannot come from config.
type Options struct {
	// HTTPClient is shared by the identity provider and backend clients.
	HTTPClient *http.Client
	// GoogleAuthorizer and AppleAuthorizer run the platform consent UI. Nil
	// leaves only silent Google sign-in and no Apple sign-in.
	GoogleAuthorizer auth.GoogleAuthorizer
	AppleAuthorizer  auth.AppleAuthorizer
	// Store replaces the configured durable store.
	Store repository.KeyValueStore
}

type App struct {
	Config   *config.Config
	Prefs    *repository.Preferences
	Session  *session.Store
	Bus      *events.Bus
	Provider *auth.IdentityToolkit
	API      *api.Client
	Sessions *service.SessionService
	Games    *service.GameService

	logger  *slog.Logger
	closers []func() error
}

// New builds the client graph. The caller must Close the App.
func New(ctx context.Context, cfg *config.Config, opts Options, logger *slog.Logger) (*App, error) {
	a := &App{Config: cfg, logger: logger}

	kv := opts.Store
	if kv == nil {
		var err error
		if kv, err = a.openStore(ctx); err != nil {
			return nil, err
		}
	}
	a.Prefs = repository.NewPreferences(kv)

	a.Provider = auth.NewIdentityToolkit(auth.IdentityToolkitConfig{
		BaseURL:        cfg.IdentityURL,
		SecureTokenURL: cfg.SecureTokenURL,
		APIKey:         cfg.IdentityAPIKey,
		HTTPClient:     opts.HTTPClient,
	}, logger.With(slog.String("component", "identity")))

	a.Session = session.NewStore(a.Prefs, session.ProviderStateFunc(func() bool {
		return a.Provider.CurrentUser() != nil
	}))

	apiCfg := api.DefaultConfig()
	apiCfg.BaseURL = cfg.APIURL
	apiCfg.Timeout = cfg.RequestTimeout
	apiCfg.HTTPClient = opts.HTTPClient
	a.API = api.NewClient(apiCfg, a.Session.Token, logger.With(slog.String("component", "api")))
	a.closers = append(a.closers, func() error { a.API.Close(); return nil })

	a.Bus = events.NewBus(logger)
	if cfg.KafkaEnabled {
		if err := a.startForwarder(ctx); err != nil {
			a.Close()
			return nil, err
		}
	}

	syncer := wallet.NewSynchronizer(a.Bus, logger)
	reconciler := reconcile.NewReconciler(a.Prefs, a.API, a.Session, syncer, logger)

	var google service.GoogleSignIn
	if cfg.GoogleClientID != "" {
		google = auth.NewGoogleConnector(auth.GoogleConfig{
			ClientID:     cfg.GoogleClientID,
			ClientSecret: cfg.GoogleClientSecret,
			RedirectURL:  cfg.GoogleRedirectURL,
			HTTPClient:   opts.HTTPClient,
		}, opts.GoogleAuthorizer, a.Prefs, logger)
	}
	var apple service.AppleSignIn
	if opts.AppleAuthorizer != nil {
		apple = auth.NewAppleConnector(opts.AppleAuthorizer)
	}

	a.Sessions = service.NewSessionService(service.SessionConfig{
		Platform:     cfg.Platform,
		LoginTimeout: cfg.LoginTimeout,
		Retry:        service.RetryPolicy{Retries: cfg.FetchRetries, Backoff: cfg.FetchBackoff},
	}, service.SessionDeps{
		Provider:   a.Provider,
		Google:     google,
		Apple:      apple,
		Backend:    a.API,
		Store:      a.Session,
		Prefs:      a.Prefs,
		Reconciler: reconciler,
		Wallet:     syncer,
		Bus:        a.Bus,
	}, logger.With(slog.String("component", "session")))
	a.Games = service.NewGameService(a.API, a.Session, reconciler, syncer, logger.With(slog.String("component", "game")))

	return a, nil
}

func (a *App) openStore(ctx context.Context) (repository.KeyValueStore, error) {
	switch a.Config.StoreDriver {
	case config.StoreRedis:
		store, err := redis.New(ctx, a.Config.RedisURL, a.Config.RedisPrefix)
		if err != nil {
			return nil, fmt.Errorf("app: opening redis store: %w", err)
		}
		a.closers = append(a.closers, store.Close)
		return store, nil
	default:
		if dir := filepath.Dir(a.Config.DBPath); dir != "." && a.Config.DBPath != ":memory:" {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("app: creating %s: %w", dir, err)
			}
		}
		db, err := sqlite.New(a.Config.DBPath)
		if err != nil {
			return nil, fmt.Errorf("app: opening sqlite store: %w", err)
		}
		a.closers = append(a.closers, db.Close)
		return db, nil
	}
}

func (a *App) startForwarder(ctx context.Context) error {
	deviceID, err := a.Prefs.DeviceID(ctx)
	if err != nil {
		return fmt.Errorf("app: loading device id: %w", err)
	}
	fwd := kafkasink.New(kafkasink.NewWriter(a.Config.KafkaBrokers), a.Config.KafkaTopic, deviceID,
		a.logger.With(slog.String("component", "kafkasink")))
	fwd.Attach(a.Bus)
	// The forwarder outlives the caller's context; Close stops it.
	fwd.Start(context.WithoutCancel(ctx))
	a.closers = append(a.closers, fwd.Close)
	return nil
}

// Close releases resources in reverse order of acquisition.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
