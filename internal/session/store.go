// Package session holds the authenticated session in memory.
//
// The Store is the single owner of the signed-in player's profile, balance,
// bearer token and payout table. A session is built between BeginSession and
// MarkReady and is visible to callers only once ready; EndSession is the
// universal rollback and never fails.
//
// The auth method is the one piece of session state that outlives the
// process. The Store keeps it in memory and mirrors every change to
// repository.Preferences before reporting success.
package session

import (
	"context"
	"fmt"
	"sync"

	"github.com/sakif/keno-client/internal/model"
	"github.com/sakif/keno-client/internal/repository"
)

// ProviderState reports whether the identity provider has a signed-in user.
type ProviderState interface {
	SignedIn() bool
}

// ProviderStateFunc adapts a function to ProviderState.
type ProviderStateFunc func() bool

func (f ProviderStateFunc) SignedIn() bool { return f() }

// Store is safe for concurrent use.
type Store struct {
	prefs    *repository.Preferences
	provider ProviderState

	mu              sync.RWMutex
	active          bool
	ready           bool
	profile         model.UserProfile
	balance         model.BalanceData
	token           string
	tokenRefreshing bool
	authMethod      model.AuthMethod
	hitTable        model.HitTable
}

func NewStore(prefs *repository.Preferences, provider ProviderState) *Store {
	return &Store{
		prefs:      prefs,
		provider:   provider,
		authMethod: model.AuthNone,
	}
}

// BeginSession installs a new session, replacing any previous one. The
// session is not ready until MarkReady. The token refreshing flag is left
// alone; it spans the whole re-login.
func (s *Store) BeginSession(profile model.UserProfile, balance model.BalanceData, token string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.active = true
	s.ready = false
	s.profile = profile
	s.balance = balance
	s.token = token
	s.hitTable = nil
}

// MarkReady publishes the session begun by BeginSession. No-op without one.
func (s *Store) MarkReady() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ready = s.active
}

// EndSession destroys the in-memory session. It is idempotent.
// The persisted auth method is left alone; see ClearAuthMethod.
func (s *Store) EndSession() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.active = false
	s.ready = false
	s.profile = model.UserProfile{}
	s.balance = model.BalanceData{}
	s.token = ""
	s.tokenRefreshing = false
	s.hitTable = nil
}

// IsAuthenticatedLocally reports whether a ready backend session is present.
// A session still being established does not count.
func (s *Store) IsAuthenticatedLocally() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.active && s.ready
}

// IsAuthenticatedWithProvider reports whether the identity provider has a
// signed-in user. It is independent of IsAuthenticatedLocally.
func (s *Store) IsAuthenticatedWithProvider() bool {
	if s.provider == nil {
		return false
	}
	return s.provider.SignedIn()
}

// UpdateProfile replaces the profile wholesale. No-op without a session.
func (s *Store) UpdateProfile(profile model.UserProfile) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active {
		s.profile = profile
	}
}

// UpdateBalance replaces the balance snapshot and returns the previous one.
func (s *Store) UpdateBalance(balance model.BalanceData) (previous model.BalanceData) {
	prev, _, _ := s.MutateBalance(func(model.BalanceData) model.BalanceData { return balance })
	return prev
}

// MutateBalance applies fn to the current balance under the store lock and
// returns the balance before and after. ok is false (and fn is not called)
// without a session.
func (s *Store) MutateBalance(fn func(current model.BalanceData) model.BalanceData) (previous, current model.BalanceData, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.active {
		return model.BalanceData{}, model.BalanceData{}, false
	}
	previous = s.balance
	s.balance = fn(previous)
	return previous, s.balance, true
}

// Token returns the bearer token, or "" without a session.
func (s *Store) Token() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.token
}

// SessionID returns the backend session id, or 0 without a session.
func (s *Store) SessionID() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.profile.SessionID
}

// Snapshot returns a copy of the session data and whether a ready session
// exists.
func (s *Store) Snapshot() (model.UserData, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return model.UserData{Profile: s.profile, Balance: s.balance}, s.active && s.ready
}

func (s *Store) Profile() model.UserProfile {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.profile
}

func (s *Store) Balance() model.BalanceData {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.balance
}

func (s *Store) SetTokenRefreshing(v bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tokenRefreshing = v
}

func (s *Store) TokenRefreshing() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.tokenRefreshing
}

func (s *Store) SetHitTable(t model.HitTable) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.hitTable = t
}

// HitTable returns the payout table of the current session, or nil.
func (s *Store) HitTable() model.HitTable {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.hitTable
}

func (s *Store) AuthMethod() model.AuthMethod {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.authMethod
}

// SetAuthMethod records m in memory and durably. The durable write completes
// before SetAuthMethod returns.
func (s *Store) SetAuthMethod(ctx context.Context, m model.AuthMethod) error {
	if err := s.prefs.SetAuthMethod(ctx, m); err != nil {
		return fmt.Errorf("session: persisting auth method %s: %w", m, err)
	}
	s.mu.Lock()
	s.authMethod = m
	s.mu.Unlock()
	return nil
}

// ClearAuthMethod resets the method to AuthNone in memory and durably. The
// in-memory value is cleared even if the durable delete fails.
func (s *Store) ClearAuthMethod(ctx context.Context) error {
	s.mu.Lock()
	s.authMethod = model.AuthNone
	s.mu.Unlock()
	if err := s.prefs.ClearAuthMethod(ctx); err != nil {
		return fmt.Errorf("session: clearing auth method: %w", err)
	}
	return nil
}

// LoadAuthMethod reads the persisted method into memory and returns it.
func (s *Store) LoadAuthMethod(ctx context.Context) (model.AuthMethod, error) {
	m, err := s.prefs.AuthMethod(ctx)
	if err != nil {
		return model.AuthNone, fmt.Errorf("session: loading auth method: %w", err)
	}
	s.mu.Lock()
	s.authMethod = m
	s.mu.Unlock()
	return m, nil
}
