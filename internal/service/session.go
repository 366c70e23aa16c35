// Package service holds the client's business operations.
//
// SessionService turns a sign-in into a READY backend session:
//
//	PROVIDER_AUTH → TOKEN_EXCHANGE → BALANCE_FETCH → RESULT_RECONCILE → TABLE_FETCH → READY
//	      │               │                │                 │                │
//	      └───────────────┴────────────────┴─────────────────┴────────────────┴──► FAILED
//
// Every stage failure goes through the same teardown before the error is
// returned, so a caller never sees a half-built session. GameService runs
// the operations available once READY; its failures never end the session.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/sakif/keno-client/internal/apperror"
	"github.com/sakif/keno-client/internal/auth"
	"github.com/sakif/keno-client/internal/events"
	"github.com/sakif/keno-client/internal/model"
	"github.com/sakif/keno-client/internal/reconcile"
	"github.com/sakif/keno-client/internal/repository"
	"github.com/sakif/keno-client/internal/session"
	"github.com/sakif/keno-client/internal/wallet"
)

type Stage int

const (
	StageIdle Stage = iota
	StageProviderAuth
	StageTokenExchange
	StageBalanceFetch
	StageResultReconcile
	StageTableFetch
	StageReady
	StageFailed
)

func (s Stage) String() string {
	switch s {
	case StageIdle:
		return "IDLE"
	case StageProviderAuth:
		return "PROVIDER_AUTH"
	case StageTokenExchange:
		return "TOKEN_EXCHANGE"
	case StageBalanceFetch:
		return "BALANCE_FETCH"
	case StageResultReconcile:
		return "RESULT_RECONCILE"
	case StageTableFetch:
		return "TABLE_FETCH"
	case StageReady:
		return "READY"
	case StageFailed:
		return "FAILED"
	default:
		return fmt.Sprintf("Stage(%d)", int(s))
	}
}

// SessionBackend is the part of *api.Client used by SessionService.
type SessionBackend interface {
	Login(ctx context.Context, idToken, deviceID, platform string) (*model.UserProfile, error)
	Logout(ctx context.Context, sessionID int) error
	DeleteAccount(ctx context.Context, sessionID int) error
	UpdateProfile(ctx context.Context, sessionID int, name, email string) (*model.UserProfile, error)
	EnableEmails(ctx context.Context, sessionID int, enabled bool) (*model.UserProfile, error)
	Balance(ctx context.Context, sessionID int) (*model.BalanceData, error)
	GameTable(ctx context.Context, sessionID int) ([]model.HitRecord, error)
}

// GoogleSignIn is satisfied by *auth.GoogleConnector.
type GoogleSignIn interface {
	SignIn(ctx context.Context, silent bool) (string, error)
	SignOut(ctx context.Context) error
}

// AppleSignIn is satisfied by *auth.AppleConnector.
type AppleSignIn interface {
	SignIn(ctx context.Context, quick bool) (*auth.AppleCredential, error)
	SignOut(ctx context.Context) error
}

type SessionConfig struct {
	Platform     string
	LoginTimeout time.Duration
	Retry        RetryPolicy
}

// SessionDeps are the collaborators of a SessionService. Google and Apple may
// be nil when the platform flow is unavailable.
type SessionDeps struct {
	Provider   auth.Provider
	Google     GoogleSignIn
	Apple      AppleSignIn
	Backend    SessionBackend
	Store      *session.Store
	Prefs      *repository.Preferences
	Reconciler *reconcile.Reconciler
	Wallet     *wallet.Synchronizer
	Bus        *events.Bus
}

type SessionService struct {
	cfg        SessionConfig
	provider   auth.Provider
	google     GoogleSignIn
	apple      AppleSignIn
	backend    SessionBackend
	store      *session.Store
	prefs      *repository.Preferences
	reconciler *reconcile.Reconciler
	wallet     *wallet.Synchronizer
	bus        *events.Bus
	logger     *slog.Logger

	// flight admits one login, registration or logout at a time.
	flight sync.Mutex

	stageMu sync.RWMutex
	stage   Stage
}

func NewSessionService(cfg SessionConfig, deps SessionDeps, logger *slog.Logger) *SessionService {
	if cfg.Platform == "" {
		cfg.Platform = model.PlatformStandalone
	}
	if cfg.LoginTimeout <= 0 {
		cfg.LoginTimeout = 60 * time.Second
	}
	return &SessionService{
		cfg:        cfg,
		provider:   deps.Provider,
		google:     deps.Google,
		apple:      deps.Apple,
		backend:    deps.Backend,
		store:      deps.Store,
		prefs:      deps.Prefs,
		reconciler: deps.Reconciler,
		wallet:     deps.Wallet,
		bus:        deps.Bus,
		logger:     logger,
		stage:      StageIdle,
	}
}

// Stage returns the current orchestration stage.
func (s *SessionService) Stage() Stage {
	s.stageMu.RLock()
	defer s.stageMu.RUnlock()
	return s.stage
}

func (s *SessionService) setStage(next Stage) {
	s.stageMu.Lock()
	prev := s.stage
	s.stage = next
	s.stageMu.Unlock()
	s.logger.Info("session stage",
		slog.String("from", prev.String()),
		slog.String("to", next.String()),
	)
}

// Session returns a copy of the current session, if any.
func (s *SessionService) Session() (model.UserData, bool) {
	return s.store.Snapshot()
}

func (s *SessionService) AuthMethod() model.AuthMethod {
	return s.store.AuthMethod()
}

// Initialize loads the persisted auth method and reports provider
// availability on the ProviderInitCompleted topic.
func (s *SessionService) Initialize(ctx context.Context) (bool, error) {
	available := s.provider.Available(ctx)
	method, err := s.store.LoadAuthMethod(ctx)
	s.bus.ProviderInitCompleted.Publish(events.ProviderInit{Available: available})
	if err != nil {
		return available, fmt.Errorf("service: initializing: %w", err)
	}
	s.logger.Info("session initialized",
		slog.Bool("providerAvailable", available),
		slog.String("authMethod", method.String()),
	)
	return available, nil
}

// Login signs in with email and password and establishes a backend session.
func (s *SessionService) Login(ctx context.Context, email, password string) (*model.UserData, error) {
	return s.run(ctx, model.AuthEmailPassword, false, func(ctx context.Context) error {
		_, err := s.provider.SignInWithPassword(ctx, email, password)
		return err
	})
}

// LoginWithGoogle signs in with a Google ID token. silent restricts the flow
// to the stored refresh token.
func (s *SessionService) LoginWithGoogle(ctx context.Context, silent bool) (*model.UserData, error) {
	return s.run(ctx, model.AuthGoogle, false, func(ctx context.Context) error {
		return s.signInGoogle(ctx, silent)
	})
}

// LoginWithApple signs in with Apple. quick asks for the returning-user flow.
func (s *SessionService) LoginWithApple(ctx context.Context, quick bool) (*model.UserData, error) {
	return s.run(ctx, model.AuthApple, false, func(ctx context.Context) error {
		return s.signInApple(ctx, quick)
	})
}

// LoginWithPlatform picks the platform's native provider: Google on Android,
// Apple on iOS.
func (s *SessionService) LoginWithPlatform(ctx context.Context, platform string, quick bool) (*model.UserData, error) {
	switch platform {
	case model.PlatformAndroid:
		return s.LoginWithGoogle(ctx, quick)
	case model.PlatformIOS:
		return s.LoginWithApple(ctx, quick)
	default:
		return nil, apperror.ValidationFailed("platform", fmt.Sprintf("%q has no platform sign-in", platform))
	}
}

// Resume re-authenticates with the persisted method without showing UI.
// Without a persisted method it returns ErrNotAuthenticated and changes
// nothing.
func (s *SessionService) Resume(ctx context.Context) (*model.UserData, error) {
	method := s.store.AuthMethod()
	if method == model.AuthNone {
		loaded, err := s.store.LoadAuthMethod(ctx)
		if err != nil {
			return nil, fmt.Errorf("service: resuming: %w", err)
		}
		method = loaded
	}

	switch method {
	case model.AuthGoogle:
		return s.LoginWithGoogle(ctx, true)
	case model.AuthApple:
		return s.LoginWithApple(ctx, true)
	case model.AuthEmailPassword:
		// Passwords are never stored, so only a live provider session can
		// be resumed.
		return s.run(ctx, model.AuthEmailPassword, false, func(context.Context) error {
			if s.provider.CurrentUser() == nil {
				return apperror.NotAuthenticated()
			}
			return nil
		})
	default:
		return nil, apperror.NotAuthenticated()
	}
}

// Register creates a provider account, sets its display name and then runs
// the login pipeline from TOKEN_EXCHANGE. Success is announced on
// RegisterCompleted.
func (s *SessionService) Register(ctx context.Context, name, email, password string) (*model.UserData, error) {
	return s.run(ctx, model.AuthEmailPassword, true, func(ctx context.Context) error {
		if _, err := s.provider.SignUp(ctx, email, password); err != nil {
			return err
		}
		if err := s.provider.UpdateDisplayName(ctx, name); err != nil {
			return fmt.Errorf("setting display name: %w", err)
		}
		return nil
	})
}

// RefreshTokenAndLogin fetches a fresh ID token for the signed-in provider
// user and re-runs the pipeline from TOKEN_EXCHANGE. Used after the backend
// rejects an expired bearer. TokenRefreshing reports true until the pipeline
// reaches READY or FAILED.
func (s *SessionService) RefreshTokenAndLogin(ctx context.Context) (*model.UserData, error) {
	if !s.flight.TryLock() {
		return nil, apperror.LoginInProgress()
	}
	defer s.flight.Unlock()

	if s.provider.CurrentUser() == nil {
		return nil, apperror.NotAuthenticated()
	}
	method := s.store.AuthMethod()
	if method == model.AuthNone {
		method = model.AuthEmailPassword
	}

	s.store.SetTokenRefreshing(true)
	defer s.store.SetTokenRefreshing(false)
	return s.pipeline(ctx, method, false, nil)
}

// run is the single login pipeline entry point; it admits one caller at a
// time.
func (s *SessionService) run(ctx context.Context, method model.AuthMethod, register bool, authenticate func(context.Context) error) (*model.UserData, error) {
	if !s.flight.TryLock() {
		return nil, apperror.LoginInProgress()
	}
	defer s.flight.Unlock()
	return s.pipeline(ctx, method, register, authenticate)
}

// pipeline runs PROVIDER_AUTH through READY with flight held. authenticate
// performs PROVIDER_AUTH; nil skips it and reuses the provider's current user.
func (s *SessionService) pipeline(ctx context.Context, method model.AuthMethod, register bool, authenticate func(context.Context) error) (*model.UserData, error) {
	if authenticate != nil {
		s.setStage(StageProviderAuth)
		if err := authenticate(ctx); err != nil {
			return nil, s.fail(ctx, method, fmt.Errorf("service: provider sign-in: %w", err))
		}
	}
	if err := s.store.SetAuthMethod(ctx, method); err != nil {
		return nil, s.fail(ctx, method, err)
	}

	// From here the pipeline runs to READY or FAILED regardless of the
	// caller's context.
	pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.cfg.LoginTimeout)
	defer cancel()

	data, err := s.establish(pctx)
	if err != nil {
		return nil, s.fail(pctx, method, err)
	}

	s.store.MarkReady()
	s.setStage(StageReady)
	if register {
		s.bus.RegisterCompleted.Publish(data)
	} else {
		s.bus.LoginCompleted.Publish(data)
	}
	s.logger.Info("session ready",
		slog.Int("sessionID", data.Profile.SessionID),
		slog.Int("userID", data.Profile.UserID),
		slog.String("authMethod", method.String()),
		slog.Int("balance", data.Balance.Balance),
	)
	return &data, nil
}

// establish runs TOKEN_EXCHANGE through TABLE_FETCH.
func (s *SessionService) establish(ctx context.Context) (model.UserData, error) {
	s.setStage(StageTokenExchange)
	idToken, err := s.provider.IDToken(ctx)
	if err != nil {
		return model.UserData{}, fmt.Errorf("service: fetching id token: %w", err)
	}
	deviceID, err := s.prefs.DeviceID(ctx)
	if err != nil {
		return model.UserData{}, fmt.Errorf("service: loading device id: %w", err)
	}
	profile, err := s.backend.Login(ctx, idToken, deviceID, s.cfg.Platform)
	if err != nil {
		if status := apperror.StatusCode(err); status != 0 {
			_, reason := apperror.CodeAndMessage(err)
			err = apperror.TokenExchange(status, reason)
		}
		return model.UserData{}, fmt.Errorf("service: exchanging token: %w", err)
	}
	s.store.BeginSession(*profile, model.BalanceData{}, idToken)
	sessionID := profile.SessionID

	s.setStage(StageBalanceFetch)
	balance, err := retryFetch(ctx, s.cfg.Retry, s.logger, "balance", func(ctx context.Context) (*model.BalanceData, error) {
		return s.backend.Balance(ctx, sessionID)
	})
	if err != nil {
		return model.UserData{}, fmt.Errorf("service: fetching balance: %w", err)
	}
	previous := s.store.UpdateBalance(*balance)
	s.wallet.Emit(previous, *balance)

	s.setStage(StageResultReconcile)
	if _, err := s.reconciler.Reconcile(ctx, sessionID); err != nil {
		return model.UserData{}, fmt.Errorf("service: reconciling pending game: %w", err)
	}

	s.setStage(StageTableFetch)
	records, err := retryFetch(ctx, s.cfg.Retry, s.logger, "game table", func(ctx context.Context) ([]model.HitRecord, error) {
		return s.backend.GameTable(ctx, sessionID)
	})
	if err != nil {
		return model.UserData{}, fmt.Errorf("service: fetching game table: %w", err)
	}
	s.store.SetHitTable(model.NewHitTable(records))

	data, _ := s.store.Snapshot()
	return data, nil
}

// fail moves to FAILED and tears down without a logout event. err is
// returned unchanged.
func (s *SessionService) fail(ctx context.Context, attempted model.AuthMethod, err error) error {
	failedAt := s.Stage()
	s.setStage(StageFailed)
	code, msg := apperror.CodeAndMessage(err)
	s.logger.Warn("login failed",
		slog.String("stage", failedAt.String()),
		slog.String("authMethod", attempted.String()),
		slog.Int("code", code),
		slog.String("message", msg),
	)
	s.teardownFor(ctx, attempted, false)
	return err
}

func (s *SessionService) signInGoogle(ctx context.Context, silent bool) error {
	if s.google == nil {
		return apperror.ProviderAuth(auth.CodeGoogleSignInFailed, "google sign-in is not configured", nil)
	}
	idToken, err := s.google.SignIn(ctx, silent)
	if err != nil {
		return err
	}
	_, err = s.provider.SignInWithIdp(ctx, auth.ProviderGoogle, idToken, "")
	return err
}

func (s *SessionService) signInApple(ctx context.Context, quick bool) error {
	if s.apple == nil {
		return apperror.ProviderAuth(auth.CodeAppleFailed, "sign in with Apple is not configured", nil)
	}
	cred, err := s.apple.SignIn(ctx, quick)
	if err != nil {
		return err
	}
	if _, err := s.provider.SignInWithIdp(ctx, auth.ProviderApple, cred.IDToken, cred.RawNonce); err != nil {
		return err
	}
	// Apple hands out the name on first authorization only.
	if cred.FullName != "" {
		if u := s.provider.CurrentUser(); u != nil && u.DisplayName == "" {
			if err := s.provider.UpdateDisplayName(ctx, cred.FullName); err != nil {
				s.logger.Warn("saving apple display name failed", slog.String("error", err.Error()))
			}
		}
	}
	return nil
}

// Logout ends the backend session and signs out. A failing /logout keeps
// the session.
func (s *SessionService) Logout(ctx context.Context) error {
	if !s.flight.TryLock() {
		return apperror.LoginInProgress()
	}
	defer s.flight.Unlock()

	if !s.store.IsAuthenticatedWithProvider() {
		return apperror.NotAuthenticated()
	}
	if !s.store.IsAuthenticatedLocally() {
		s.teardown(ctx, true)
		return nil
	}
	if err := s.backend.Logout(ctx, s.store.SessionID()); err != nil {
		return fmt.Errorf("service: logging out: %w", err)
	}
	s.teardown(ctx, true)
	return nil
}

// ForceLogout tears down even when /logout fails or the provider has no
// user. Only a confirmed /logout is announced on LogoutCompleted; a failed
// one is still returned after the teardown.
func (s *SessionService) ForceLogout(ctx context.Context) error {
	if !s.flight.TryLock() {
		return apperror.LoginInProgress()
	}
	defer s.flight.Unlock()

	if !s.store.IsAuthenticatedWithProvider() {
		s.teardown(ctx, false)
		return apperror.NotAuthenticated()
	}
	if !s.store.IsAuthenticatedLocally() {
		s.teardown(ctx, true)
		return nil
	}
	if err := s.backend.Logout(ctx, s.store.SessionID()); err != nil {
		s.logger.Warn("logout failed, tearing down anyway", slog.String("error", err.Error()))
		s.teardown(ctx, false)
		return fmt.Errorf("service: logging out: %w", err)
	}
	s.teardown(ctx, true)
	return nil
}

// DeleteAccount deletes the provider account and then the backend account.
func (s *SessionService) DeleteAccount(ctx context.Context) error {
	if !s.flight.TryLock() {
		return apperror.LoginInProgress()
	}
	defer s.flight.Unlock()

	if !s.store.IsAuthenticatedLocally() {
		return apperror.NotAuthenticated()
	}
	sessionID := s.store.SessionID()
	if err := s.provider.DeleteAccount(ctx); err != nil {
		return fmt.Errorf("service: deleting provider account: %w", err)
	}
	if err := s.backend.DeleteAccount(ctx, sessionID); err != nil {
		return fmt.Errorf("service: deleting account: %w", err)
	}
	s.teardown(ctx, false)
	s.logger.Info("account deleted", slog.Int("sessionID", sessionID))
	return nil
}

// ResetPassword asks the provider to mail a reset link. No session needed.
func (s *SessionService) ResetPassword(ctx context.Context, email string) error {
	if email == "" {
		return apperror.ValidationFailed("email", "is required")
	}
	if err := s.provider.SendPasswordReset(ctx, email); err != nil {
		return fmt.Errorf("service: sending password reset: %w", err)
	}
	return nil
}

// UpdateProfile replaces the profile with the backend's answer.
func (s *SessionService) UpdateProfile(ctx context.Context, name, email string) (*model.UserProfile, error) {
	if !s.store.IsAuthenticatedLocally() {
		return nil, apperror.NotAuthenticated()
	}
	profile, err := s.backend.UpdateProfile(ctx, s.store.SessionID(), name, email)
	if err != nil {
		return nil, fmt.Errorf("service: updating profile: %w", err)
	}
	s.store.UpdateProfile(*profile)
	return profile, nil
}

func (s *SessionService) EnableEmails(ctx context.Context, enabled bool) (*model.UserProfile, error) {
	if !s.store.IsAuthenticatedLocally() {
		return nil, apperror.NotAuthenticated()
	}
	profile, err := s.backend.EnableEmails(ctx, s.store.SessionID(), enabled)
	if err != nil {
		return nil, fmt.Errorf("service: updating email preference: %w", err)
	}
	s.store.UpdateProfile(*profile)
	return profile, nil
}

// teardown resets all session state for the active auth method. It is
// idempotent and never fails; the pending game marker is left alone.
func (s *SessionService) teardown(ctx context.Context, explicit bool) {
	s.teardownFor(ctx, s.store.AuthMethod(), explicit)
}

func (s *SessionService) teardownFor(ctx context.Context, method model.AuthMethod, explicit bool) {
	ctx = context.WithoutCancel(ctx)

	s.store.EndSession()
	if err := s.store.ClearAuthMethod(ctx); err != nil {
		s.logger.Error("clearing auth method failed", slog.String("error", err.Error()))
	}

	var signOutErr error
	switch method {
	case model.AuthGoogle:
		if s.google != nil {
			signOutErr = s.google.SignOut(ctx)
		}
	case model.AuthApple:
		if s.apple != nil {
			signOutErr = s.apple.SignOut(ctx)
		}
	}
	if signOutErr != nil {
		s.logger.Warn("platform sign-out failed",
			slog.String("authMethod", method.String()),
			slog.String("error", signOutErr.Error()),
		)
	}
	s.provider.SignOut()

	if s.Stage() != StageFailed {
		s.setStage(StageIdle)
	}
	if explicit {
		s.bus.LogoutCompleted.Publish(events.Logout{})
	}
	s.logger.Info("session torn down",
		slog.String("authMethod", method.String()),
		slog.Bool("explicit", explicit),
	)
}

// IsNotAuthenticated reports whether err means there is no session.
func IsNotAuthenticated(err error) bool {
	return errors.Is(err, apperror.ErrNotAuthenticated)
}
