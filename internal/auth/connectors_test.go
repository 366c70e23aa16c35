package auth

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"

	"github.com/sakif/keno-client/internal/apperror"
)

// memRefreshStore is an in-memory RefreshTokenStore.
type memRefreshStore struct {
	mu    sync.Mutex
	token string
}

func (s *memRefreshStore) GoogleRefreshToken(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.token, nil
}

func (s *memRefreshStore) SetGoogleRefreshToken(ctx context.Context, token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.token = token
	return nil
}

func (s *memRefreshStore) ClearGoogleRefreshToken(ctx context.Context) error {
	return s.SetGoogleRefreshToken(ctx, "")
}

// fakeGoogleAuthorizer approves (or cancels) consent without any UI.
type fakeGoogleAuthorizer struct {
	authURL string
	state   string
	err     error
}

func (a *fakeGoogleAuthorizer) AuthCode(ctx context.Context, authURL, state string) (string, error) {
	a.authURL, a.state = authURL, state
	if a.err != nil {
		return "", a.err
	}
	return "code-1", nil
}

func newGoogleTokenServer(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = r.ParseForm()
		w.Header().Set("Content-Type", "application/json")
		switch {
		case r.PostForm.Get("grant_type") == "authorization_code" && r.PostForm.Get("code") == "code-1":
			io.WriteString(w, `{"access_token":"ga-1","token_type":"Bearer","expires_in":3600,"refresh_token":"g-refresh","id_token":"google-id-1"}`)
		case r.PostForm.Get("grant_type") == "refresh_token" && r.PostForm.Get("refresh_token") == "g-refresh":
			io.WriteString(w, `{"access_token":"ga-2","token_type":"Bearer","expires_in":3600,"id_token":"google-id-2"}`)
		default:
			w.WriteHeader(http.StatusBadRequest)
			io.WriteString(w, `{"error":"invalid_grant"}`)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newTestGoogle(t *testing.T, authorizer GoogleAuthorizer, store RefreshTokenStore) *GoogleConnector {
	srv := newGoogleTokenServer(t)
	return NewGoogleConnector(GoogleConfig{
		ClientID:     "client-1",
		ClientSecret: "secret-1",
		RedirectURL:  "http://localhost/callback",
		Endpoint:     oauth2.Endpoint{AuthURL: srv.URL + "/auth", TokenURL: srv.URL + "/token", AuthStyle: oauth2.AuthStyleInParams},
		HTTPClient:   srv.Client(),
	}, authorizer, store, testLogger())
}

func TestGoogleSignIn_Interactive(t *testing.T) {
	authorizer := &fakeGoogleAuthorizer{}
	store := &memRefreshStore{}
	g := newTestGoogle(t, authorizer, store)

	idToken, err := g.SignIn(context.Background(), false)
	require.NoError(t, err)
	assert.Equal(t, "google-id-1", idToken)
	assert.Equal(t, "g-refresh", store.token)

	u, err := url.Parse(authorizer.authURL)
	require.NoError(t, err)
	assert.Equal(t, authorizer.state, u.Query().Get("state"))
	assert.Equal(t, "offline", u.Query().Get("access_type"))
	assert.Equal(t, "client-1", u.Query().Get("client_id"))
}

func TestGoogleSignIn_Silent(t *testing.T) {
	store := &memRefreshStore{token: "g-refresh"}
	g := newTestGoogle(t, nil, store)

	idToken, err := g.SignIn(context.Background(), true)
	require.NoError(t, err)
	assert.Equal(t, "google-id-2", idToken)
}

func TestGoogleSignIn_SilentWithoutRefreshToken(t *testing.T) {
	g := newTestGoogle(t, nil, &memRefreshStore{})

	_, err := g.SignIn(context.Background(), true)
	code, msg := apperror.CodeAndMessage(err)
	assert.Equal(t, CodeGoogleSignInRequired, code)
	assert.Equal(t, "SIGN_IN_REQUIRED", msg)
}

func TestGoogleSignIn_SilentWithRevokedToken(t *testing.T) {
	g := newTestGoogle(t, nil, &memRefreshStore{token: "revoked"})

	_, err := g.SignIn(context.Background(), true)
	assert.True(t, errors.Is(err, apperror.ErrProviderAuth))
}

func TestGoogleSignIn_Cancelled(t *testing.T) {
	g := newTestGoogle(t, &fakeGoogleAuthorizer{err: ErrSignInCancelled}, &memRefreshStore{})

	_, err := g.SignIn(context.Background(), false)
	code, _ := apperror.CodeAndMessage(err)
	assert.Equal(t, CodeGoogleSignInCancelled, code)
}

func TestGoogleSignOut_ForgetsRefreshToken(t *testing.T) {
	store := &memRefreshStore{token: "g-refresh"}
	g := newTestGoogle(t, nil, store)

	require.NoError(t, g.SignOut(context.Background()))

	_, err := g.SignIn(context.Background(), true)
	code, _ := apperror.CodeAndMessage(err)
	assert.Equal(t, CodeGoogleSignInRequired, code)
}

// fakeAppleAuthorizer records the nonce it was asked to embed.
type fakeAppleAuthorizer struct {
	hashedNonce string
	quick       bool
	result      *AppleAuthorization
	err         error
}

func (a *fakeAppleAuthorizer) Authorize(ctx context.Context, hashedNonce string, quick bool) (*AppleAuthorization, error) {
	a.hashedNonce, a.quick = hashedNonce, quick
	return a.result, a.err
}

func TestAppleSignIn_NonceIsHashed(t *testing.T) {
	authorizer := &fakeAppleAuthorizer{result: &AppleAuthorization{IdentityToken: "apple-jwt", Email: "a@privaterelay.appleid.com"}}
	a := NewAppleConnector(authorizer)

	cred, err := a.SignIn(context.Background(), true)
	require.NoError(t, err)

	assert.Equal(t, "apple-jwt", cred.IDToken)
	assert.NotEmpty(t, cred.RawNonce)
	assert.Equal(t, HashNonce(cred.RawNonce), authorizer.hashedNonce)
	assert.NotEqual(t, cred.RawNonce, authorizer.hashedNonce)
	assert.True(t, authorizer.quick)
}

func TestAppleSignIn_FreshNonceEachTime(t *testing.T) {
	a := NewAppleConnector(&fakeAppleAuthorizer{result: &AppleAuthorization{IdentityToken: "t"}})

	first, err := a.SignIn(context.Background(), false)
	require.NoError(t, err)
	second, err := a.SignIn(context.Background(), false)
	require.NoError(t, err)

	assert.NotEqual(t, first.RawNonce, second.RawNonce)
}

func TestAppleSignIn_Failures(t *testing.T) {
	tests := []struct {
		name     string
		auth     *fakeAppleAuthorizer
		wantCode int
	}{
		{"cancelled", &fakeAppleAuthorizer{err: ErrSignInCancelled}, CodeAppleCanceled},
		{"failed", &fakeAppleAuthorizer{err: errors.New("boom")}, CodeAppleFailed},
		{"no token", &fakeAppleAuthorizer{result: &AppleAuthorization{}}, CodeAppleFailed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewAppleConnector(tt.auth).SignIn(context.Background(), false)
			code, _ := apperror.CodeAndMessage(err)
			assert.Equal(t, tt.wantCode, code)
		})
	}
}

func TestHashNonce(t *testing.T) {
	// sha256("abc")
	assert.Equal(t, "ba7816bf8f01cfea414140de5dae2223b00361a396177a9cb410ff61f20015ad", HashNonce("abc"))
}
