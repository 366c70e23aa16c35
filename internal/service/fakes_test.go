package service

import (
	"context"
	"log/slog"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/sakif/keno-client/internal/apperror"
	"github.com/sakif/keno-client/internal/auth"
	"github.com/sakif/keno-client/internal/events"
	"github.com/sakif/keno-client/internal/model"
	"github.com/sakif/keno-client/internal/reconcile"
	"github.com/sakif/keno-client/internal/repository"
	"github.com/sakif/keno-client/internal/repository/sqlite"
	"github.com/sakif/keno-client/internal/session"
	"github.com/sakif/keno-client/internal/wallet"
)

// =========================================================================
// FAKES
// =========================================================================

type idpCall struct {
	providerID, idToken, nonce string
}

// fakeProvider is an in-memory auth.Provider.
type fakeProvider struct {
	mu sync.Mutex

	available bool
	user      *auth.User
	idToken   string

	signInErr  error
	signUpErr  error
	idpErr     error
	idTokenErr error
	deleteErr  error

	// entered/gate let a test hold SignInWithPassword open.
	entered chan struct{}
	gate    chan struct{}

	idpCalls    []idpCall
	displayName string
	signOuts    int
	resetEmails []string
	deleted     bool
}

func newFakeProvider() *fakeProvider {
	return &fakeProvider{available: true, idToken: "id-token-1"}
}

func (f *fakeProvider) Available(ctx context.Context) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.available
}

func (f *fakeProvider) signIn(email string) *auth.Credential {
	f.user = &auth.User{ProviderUserID: "uid-1", Email: email, DisplayName: f.displayName}
	return &auth.Credential{ProviderUserID: "uid-1", Email: email, IDToken: f.idToken}
}

func (f *fakeProvider) SignInWithPassword(ctx context.Context, email, password string) (*auth.Credential, error) {
	if f.entered != nil {
		close(f.entered)
		<-f.gate
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.signInErr != nil {
		return nil, f.signInErr
	}
	return f.signIn(email), nil
}

func (f *fakeProvider) SignUp(ctx context.Context, email, password string) (*auth.Credential, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.signUpErr != nil {
		return nil, f.signUpErr
	}
	return f.signIn(email), nil
}

func (f *fakeProvider) SignInWithIdp(ctx context.Context, providerID, idToken, nonce string) (*auth.Credential, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.idpCalls = append(f.idpCalls, idpCall{providerID, idToken, nonce})
	if f.idpErr != nil {
		return nil, f.idpErr
	}
	return f.signIn("idp@example.com"), nil
}

func (f *fakeProvider) CurrentUser() *auth.User {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.user == nil {
		return nil
	}
	u := *f.user
	return &u
}

func (f *fakeProvider) IDToken(ctx context.Context) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.idTokenErr != nil {
		return "", f.idTokenErr
	}
	if f.user == nil {
		return "", apperror.NotAuthenticated()
	}
	return f.idToken, nil
}

func (f *fakeProvider) UpdateDisplayName(ctx context.Context, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.displayName = name
	if f.user != nil {
		f.user.DisplayName = name
	}
	return nil
}

func (f *fakeProvider) SendPasswordReset(ctx context.Context, email string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.resetEmails = append(f.resetEmails, email)
	return nil
}

func (f *fakeProvider) DeleteAccount(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.deleteErr != nil {
		return f.deleteErr
	}
	f.deleted = true
	f.user = nil
	return nil
}

func (f *fakeProvider) SignOut() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.signOuts++
	f.user = nil
}

// fakeBackend scripts every backend endpoint and records what was called.
type fakeBackend struct {
	mu sync.Mutex

	profile     model.UserProfile
	loginErr    error
	onLogin     func()
	loginTokens []string

	balance      model.BalanceData
	balanceErrs  []error // consumed one per call before succeeding
	balanceCalls int

	table    []model.HitRecord
	tableErr error

	complete      model.CompleteResult
	completeErr   error
	completeCalls []int

	play      model.GamePlayResponse
	playErr   error
	playCalls int

	update      model.BalanceUpdate
	updateErr   error
	claimBodies []int
	purchases   []string

	ads model.AdsData

	logoutErr   error
	logoutCalls []int
	deleteErr   error
	deleteCalls int
}

func newAliceBackend() *fakeBackend {
	return &fakeBackend{
		profile: model.UserProfile{SessionID: 7, UserID: 3, Name: "Alice B", Email: "a@b.com"},
		balance: model.BalanceData{Balance: 100, NextTimeBonusUTC: t0},
		table:   []model.HitRecord{},
	}
}

var t0 = time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

func (f *fakeBackend) Login(ctx context.Context, idToken, deviceID, platform string) (*model.UserProfile, error) {
	f.mu.Lock()
	f.loginTokens = append(f.loginTokens, idToken)
	hook := f.onLogin
	f.mu.Unlock()
	if hook != nil {
		hook()
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.loginErr != nil {
		return nil, f.loginErr
	}
	p := f.profile
	return &p, nil
}

func (f *fakeBackend) Logout(ctx context.Context, sessionID int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.logoutCalls = append(f.logoutCalls, sessionID)
	return f.logoutErr
}

func (f *fakeBackend) DeleteAccount(ctx context.Context, sessionID int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleteCalls++
	return f.deleteErr
}

func (f *fakeBackend) UpdateProfile(ctx context.Context, sessionID int, name, email string) (*model.UserProfile, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p := f.profile
	p.Name, p.Email = name, email
	return &p, nil
}

func (f *fakeBackend) EnableEmails(ctx context.Context, sessionID int, enabled bool) (*model.UserProfile, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p := f.profile
	p.EmailsEnabled = enabled
	return &p, nil
}

func (f *fakeBackend) Balance(ctx context.Context, sessionID int) (*model.BalanceData, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.balanceCalls++
	if len(f.balanceErrs) > 0 {
		err := f.balanceErrs[0]
		f.balanceErrs = f.balanceErrs[1:]
		return nil, err
	}
	b := f.balance
	return &b, nil
}

func (f *fakeBackend) GameTable(ctx context.Context, sessionID int) ([]model.HitRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.tableErr != nil {
		return nil, f.tableErr
	}
	return f.table, nil
}

func (f *fakeBackend) Complete(ctx context.Context, sessionID, gameID int) (*model.CompleteResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.completeCalls = append(f.completeCalls, gameID)
	if f.completeErr != nil {
		return nil, f.completeErr
	}
	c := f.complete
	return &c, nil
}

func (f *fakeBackend) Play(ctx context.Context, sessionID, bet int, selected []int) (*model.GamePlayResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.playCalls++
	if f.playErr != nil {
		return nil, f.playErr
	}
	p := f.play
	p.GameID += f.playCalls
	p.Bet = bet
	p.SelectedCards = selected
	return &p, nil
}

func (f *fakeBackend) ClaimTimeBonus(ctx context.Context, sessionID, timeBonus int) (*model.BalanceUpdate, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.claimBodies = append(f.claimBodies, timeBonus)
	if f.updateErr != nil {
		return nil, f.updateErr
	}
	u := f.update
	return &u, nil
}

func (f *fakeBackend) RegisterPurchase(ctx context.Context, sessionID int, productID, purchaseToken string) (*model.BalanceUpdate, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.purchases = append(f.purchases, productID)
	if f.updateErr != nil {
		return nil, f.updateErr
	}
	u := f.update
	return &u, nil
}

func (f *fakeBackend) Ads(ctx context.Context, sessionID int) (*model.AdsData, error) {
	a := f.ads
	return &a, nil
}

type fakeGoogle struct {
	idToken  string
	err      error
	silent   []bool
	signOuts int
}

func (g *fakeGoogle) SignIn(ctx context.Context, silent bool) (string, error) {
	g.silent = append(g.silent, silent)
	if g.err != nil {
		return "", g.err
	}
	return g.idToken, nil
}

func (g *fakeGoogle) SignOut(ctx context.Context) error {
	g.signOuts++
	return nil
}

type fakeApple struct {
	cred     auth.AppleCredential
	err      error
	quick    []bool
	signOuts int
}

func (a *fakeApple) SignIn(ctx context.Context, quick bool) (*auth.AppleCredential, error) {
	a.quick = append(a.quick, quick)
	if a.err != nil {
		return nil, a.err
	}
	c := a.cred
	return &c, nil
}

func (a *fakeApple) SignOut(ctx context.Context) error {
	a.signOuts++
	return nil
}

// recorder captures every bus event.
type recorder struct {
	mu        sync.Mutex
	logins    []model.UserData
	registers []model.UserData
	logouts   int
	balances  []events.BalanceChanged
	timers    []events.BonusTimerChanged
	inits     []events.ProviderInit
}

func (r *recorder) attach(bus *events.Bus) {
	bus.LoginCompleted.Subscribe(func(d model.UserData) { r.mu.Lock(); r.logins = append(r.logins, d); r.mu.Unlock() })
	bus.RegisterCompleted.Subscribe(func(d model.UserData) { r.mu.Lock(); r.registers = append(r.registers, d); r.mu.Unlock() })
	bus.LogoutCompleted.Subscribe(func(events.Logout) { r.mu.Lock(); r.logouts++; r.mu.Unlock() })
	bus.BalanceChanged.Subscribe(func(e events.BalanceChanged) { r.mu.Lock(); r.balances = append(r.balances, e); r.mu.Unlock() })
	bus.BonusTimerChanged.Subscribe(func(e events.BonusTimerChanged) { r.mu.Lock(); r.timers = append(r.timers, e); r.mu.Unlock() })
	bus.ProviderInitCompleted.Subscribe(func(e events.ProviderInit) { r.mu.Lock(); r.inits = append(r.inits, e); r.mu.Unlock() })
}

func (r *recorder) reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.logins, r.registers, r.logouts = nil, nil, 0
	r.balances, r.timers, r.inits = nil, nil, nil
}

// =========================================================================
// HARNESS
// =========================================================================

type harness struct {
	svc        *SessionService
	game       *GameService
	provider   *fakeProvider
	backend    *fakeBackend
	google     *fakeGoogle
	apple      *fakeApple
	store      *session.Store
	prefs      *repository.Preferences
	reconciler *reconcile.Reconciler
	events     *recorder
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	db, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	logger := testLogger()
	prefs := repository.NewPreferences(db)
	provider := newFakeProvider()
	backend := newAliceBackend()
	store := session.NewStore(prefs, session.ProviderStateFunc(func() bool { return provider.CurrentUser() != nil }))
	bus := events.NewBus(logger)
	rec := &recorder{}
	rec.attach(bus)
	syncer := wallet.NewSynchronizer(bus, logger)
	reconciler := reconcile.NewReconciler(prefs, backend, store, syncer, logger)
	google := &fakeGoogle{idToken: "google-id-token"}
	apple := &fakeApple{cred: auth.AppleCredential{IDToken: "apple-id-token", RawNonce: "raw-nonce"}}

	svc := NewSessionService(SessionConfig{
		Platform:     model.PlatformStandalone,
		LoginTimeout: 5 * time.Second,
		Retry:        RetryPolicy{Retries: 2, Backoff: time.Millisecond},
	}, SessionDeps{
		Provider:   provider,
		Google:     google,
		Apple:      apple,
		Backend:    backend,
		Store:      store,
		Prefs:      prefs,
		Reconciler: reconciler,
		Wallet:     syncer,
		Bus:        bus,
	}, logger)

	return &harness{
		svc:        svc,
		game:       NewGameService(backend, store, reconciler, syncer, logger),
		provider:   provider,
		backend:    backend,
		google:     google,
		apple:      apple,
		store:      store,
		prefs:      prefs,
		reconciler: reconciler,
		events:     rec,
	}
}

// login signs Alice in and resets the recorded events.
func (h *harness) login(t *testing.T) {
	t.Helper()
	_, err := h.svc.Login(context.Background(), "a@b.com", "secret1")
	require.NoError(t, err)
	h.events.reset()
}

// requireTornDown checks the state every failed or ended session must leave.
func (h *harness) requireTornDown(t *testing.T) {
	t.Helper()
	_, ok := h.store.Snapshot()
	require.False(t, ok, "session must be empty")
	require.Empty(t, h.store.Token())
	require.Equal(t, model.AuthNone, h.store.AuthMethod())

	persisted, err := h.prefs.AuthMethod(context.Background())
	require.NoError(t, err)
	require.Equal(t, model.AuthNone, persisted)
}
