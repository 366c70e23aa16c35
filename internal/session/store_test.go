package session

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sakif/keno-client/internal/model"
	"github.com/sakif/keno-client/internal/repository"
	"github.com/sakif/keno-client/internal/repository/sqlite"
)

func newTestStore(t *testing.T, signedIn bool) (*Store, *repository.Preferences) {
	t.Helper()
	db, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	prefs := repository.NewPreferences(db)
	return NewStore(prefs, ProviderStateFunc(func() bool { return signedIn })), prefs
}

func alice() model.UserProfile {
	return model.UserProfile{SessionID: 7, UserID: 3, Name: "Alice B", Email: "alice@example.com"}
}

func TestBeginAndEndSession(t *testing.T) {
	s, _ := newTestStore(t, true)

	assert.False(t, s.IsAuthenticatedLocally())

	s.BeginSession(alice(), model.BalanceData{}, "id-token")
	assert.False(t, s.IsAuthenticatedLocally(), "not ready yet")
	_, ok := s.Snapshot()
	assert.False(t, ok)
	assert.Equal(t, "id-token", s.Token())
	assert.Equal(t, 7, s.SessionID())

	s.MarkReady()
	assert.True(t, s.IsAuthenticatedLocally())
	_, ok = s.Snapshot()
	assert.True(t, ok)

	s.EndSession()
	s.EndSession()

	assert.False(t, s.IsAuthenticatedLocally())
	assert.Empty(t, s.Token())
	assert.Equal(t, 0, s.SessionID())
	data, ok := s.Snapshot()
	assert.False(t, ok)
	assert.Equal(t, model.UserData{}, data)

	s.MarkReady()
	assert.False(t, s.IsAuthenticatedLocally(), "MarkReady without a session")
}

func TestBeginSession_ReplacingHidesUntilReady(t *testing.T) {
	s, _ := newTestStore(t, true)
	s.BeginSession(alice(), model.BalanceData{Balance: 100}, "tok-1")
	s.MarkReady()

	s.BeginSession(alice(), model.BalanceData{}, "tok-2")
	assert.False(t, s.IsAuthenticatedLocally())

	_, _, ok := s.MutateBalance(func(b model.BalanceData) model.BalanceData { b.Balance = 50; return b })
	assert.True(t, ok, "the pipeline still writes to a session it is building")

	s.MarkReady()
	assert.True(t, s.IsAuthenticatedLocally())
	assert.Equal(t, 50, s.Balance().Balance)
}

func TestProviderAndLocalAuthAreIndependent(t *testing.T) {
	s, _ := newTestStore(t, true)

	assert.True(t, s.IsAuthenticatedWithProvider())
	assert.False(t, s.IsAuthenticatedLocally())

	noProvider := NewStore(nil, nil)
	assert.False(t, noProvider.IsAuthenticatedWithProvider())
}

func TestMutateBalance(t *testing.T) {
	s, _ := newTestStore(t, true)

	_, _, ok := s.MutateBalance(func(b model.BalanceData) model.BalanceData { return b })
	assert.False(t, ok, "MutateBalance without a session")

	s.BeginSession(alice(), model.BalanceData{Balance: 100}, "tok")
	prev, cur, ok := s.MutateBalance(func(b model.BalanceData) model.BalanceData {
		b.Balance -= 30
		return b
	})
	require.True(t, ok)
	assert.Equal(t, 100, prev.Balance)
	assert.Equal(t, 70, cur.Balance)
	assert.Equal(t, 70, s.Balance().Balance)

	prevAgain := s.UpdateBalance(model.BalanceData{Balance: 500})
	assert.Equal(t, 70, prevAgain.Balance)
	assert.Equal(t, 500, s.Balance().Balance)
}

func TestMutateBalance_Concurrent(t *testing.T) {
	s, _ := newTestStore(t, true)
	s.BeginSession(alice(), model.BalanceData{Balance: 1000}, "tok")

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.MutateBalance(func(b model.BalanceData) model.BalanceData {
				b.Balance--
				return b
			})
		}()
	}
	wg.Wait()

	assert.Equal(t, 900, s.Balance().Balance)
}

func TestUpdateProfile_ReplacesWholesale(t *testing.T) {
	s, _ := newTestStore(t, true)

	s.UpdateProfile(alice())
	assert.Equal(t, model.UserProfile{}, s.Profile(), "no session, no update")

	s.BeginSession(alice(), model.BalanceData{}, "tok")
	s.UpdateProfile(model.UserProfile{SessionID: 7, UserID: 3, Name: "Alice C", EmailsEnabled: true})

	p := s.Profile()
	assert.Equal(t, "Alice C", p.Name)
	assert.Empty(t, p.Email)
	assert.True(t, p.EmailsEnabled)
}

func TestAuthMethod_PersistsAndLoads(t *testing.T) {
	s, prefs := newTestStore(t, true)
	ctx := context.Background()

	assert.Equal(t, model.AuthNone, s.AuthMethod())

	require.NoError(t, s.SetAuthMethod(ctx, model.AuthApple))
	assert.Equal(t, model.AuthApple, s.AuthMethod())

	stored, err := prefs.AuthMethod(ctx)
	require.NoError(t, err)
	assert.Equal(t, model.AuthApple, stored)

	fresh := NewStore(prefs, nil)
	loaded, err := fresh.LoadAuthMethod(ctx)
	require.NoError(t, err)
	assert.Equal(t, model.AuthApple, loaded)
	assert.Equal(t, model.AuthApple, fresh.AuthMethod())

	require.NoError(t, s.ClearAuthMethod(ctx))
	assert.Equal(t, model.AuthNone, s.AuthMethod())
	stored, _ = prefs.AuthMethod(ctx)
	assert.Equal(t, model.AuthNone, stored)
}

func TestEndSession_KeepsAuthMethod(t *testing.T) {
	s, _ := newTestStore(t, true)
	ctx := context.Background()

	require.NoError(t, s.SetAuthMethod(ctx, model.AuthGoogle))
	s.BeginSession(alice(), model.BalanceData{}, "tok")
	s.EndSession()

	assert.Equal(t, model.AuthGoogle, s.AuthMethod())
}

func TestHitTableAndTokenRefreshing(t *testing.T) {
	s, _ := newTestStore(t, true)
	s.BeginSession(alice(), model.BalanceData{}, "tok")

	s.SetHitTable(model.NewHitTable([]model.HitRecord{{Selected: 1, Matched: 1, Rate: 3}}))
	rate, ok := s.HitTable().Rate(1, 1)
	assert.True(t, ok)
	assert.Equal(t, 3, rate)

	s.SetTokenRefreshing(true)
	assert.True(t, s.TokenRefreshing())

	s.BeginSession(alice(), model.BalanceData{}, "tok-2")
	assert.True(t, s.TokenRefreshing(), "a re-login keeps the flag")

	s.EndSession()
	assert.Nil(t, s.HitTable())
	assert.False(t, s.TokenRefreshing())
}
