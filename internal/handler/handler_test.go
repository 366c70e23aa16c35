package handler_test

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sakif/keno-client/internal/api"
	"github.com/sakif/keno-client/internal/auth"
	"github.com/sakif/keno-client/internal/handler"
	"github.com/sakif/keno-client/internal/model"
	"github.com/sakif/keno-client/internal/twin"
)

// newRouter mounts the handlers the way the twin server does, minus the API
// key and logging middleware.
func newRouter(t *testing.T) (http.Handler, *twin.Twin) {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	tokens, err := auth.NewTokenService("handler-test-secret-0123", "keno-twin")
	require.NoError(t, err)
	tw := twin.New(twin.Config{StartingBalance: 100, TimeBonus: 25, Seed: 1}, tokens, auth.NewPasswordServiceForTest(4), logger)

	identity := handler.NewIdentityHandler(tw, logger)
	backend := handler.NewBackendHandler(tw, logger)
	admin := handler.NewAdminHandler(tw, logger)

	r := chi.NewRouter()
	r.Post("/identity/v1/{method}", identity.HandleAccounts)
	r.Post("/securetoken/v1/token", identity.HandleToken)
	r.Route("/api", func(r chi.Router) {
		r.Use(auth.RequireBearer(tokens))
		backend.Routes(r)
	})
	r.Post("/admin/reset", admin.HandleReset)
	r.Get("/admin/state", admin.HandleState)
	return r, tw
}

func do(h http.Handler, method, path string, body any, headers map[string]string) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

type providerError struct {
	Error struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func decode[T any](t *testing.T, rr *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&v), "body: %s", rr.Body.String())
	return v
}

func TestIdentityHandler_HandleAccounts(t *testing.T) {
	h, _ := newRouter(t)
	creds := map[string]any{"email": "alice@example.com", "password": "secret1", "returnSecureToken": true}

	t.Run("sign up", func(t *testing.T) {
		rr := do(h, http.MethodPost, "/identity/v1/accounts:signUp", creds, nil)
		assert.Equal(t, http.StatusOK, rr.Code)

		body := decode[map[string]any](t, rr)
		assert.Equal(t, "identitytoolkit#accounts:signUp", body["kind"])
		assert.Equal(t, "alice@example.com", body["email"])
		assert.NotEmpty(t, body["idToken"])
		assert.NotEmpty(t, body["refreshToken"])
		assert.IsType(t, "", body["expiresIn"])
	})

	t.Run("duplicate email", func(t *testing.T) {
		rr := do(h, http.MethodPost, "/identity/v1/accounts:signUp", creds, nil)
		assert.Equal(t, http.StatusBadRequest, rr.Code)
		body := decode[providerError](t, rr)
		assert.Equal(t, 400, body.Error.Code)
		assert.Equal(t, "EMAIL_EXISTS", body.Error.Message)
	})

	t.Run("wrong password", func(t *testing.T) {
		rr := do(h, http.MethodPost, "/identity/v1/accounts:signInWithPassword",
			map[string]any{"email": "alice@example.com", "password": "nope"}, nil)
		assert.Equal(t, http.StatusBadRequest, rr.Code)
		assert.Equal(t, "INVALID_PASSWORD", decode[providerError](t, rr).Error.Message)
	})

	t.Run("invalid body", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/identity/v1/accounts:signUp", strings.NewReader(`{"email":`))
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, req)
		assert.Equal(t, http.StatusBadRequest, rr.Code)
		assert.Equal(t, "INVALID_JSON", decode[providerError](t, rr).Error.Message)
	})

	t.Run("password reset needs the request type", func(t *testing.T) {
		rr := do(h, http.MethodPost, "/identity/v1/accounts:sendOobCode", map[string]any{"email": "alice@example.com"}, nil)
		assert.Equal(t, http.StatusBadRequest, rr.Code)
		assert.Equal(t, "INVALID_REQ_TYPE", decode[providerError](t, rr).Error.Message)
	})

	t.Run("unknown method", func(t *testing.T) {
		rr := do(h, http.MethodPost, "/identity/v1/accounts:lookup", map[string]any{}, nil)
		assert.Equal(t, http.StatusNotFound, rr.Code)
		assert.Equal(t, "UNKNOWN_METHOD", decode[providerError](t, rr).Error.Message)
	})
}

func TestIdentityHandler_HandleToken(t *testing.T) {
	h, tw := newRouter(t)
	sess, err := tw.SignUp("alice@example.com", "secret1")
	require.NoError(t, err)

	post := func(form url.Values) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/securetoken/v1/token", strings.NewReader(form.Encode()))
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, req)
		return rr
	}

	t.Run("wrong grant", func(t *testing.T) {
		rr := post(url.Values{"grant_type": {"password"}})
		assert.Equal(t, http.StatusBadRequest, rr.Code)
		assert.Equal(t, "INVALID_GRANT_TYPE", decode[providerError](t, rr).Error.Message)
	})

	t.Run("refresh", func(t *testing.T) {
		rr := post(url.Values{"grant_type": {"refresh_token"}, "refresh_token": {sess.RefreshToken}})
		assert.Equal(t, http.StatusOK, rr.Code)

		body := decode[map[string]any](t, rr)
		assert.Equal(t, "Bearer", body["token_type"])
		assert.Equal(t, sess.LocalID, body["user_id"])
		assert.NotEqual(t, sess.RefreshToken, body["refresh_token"])
		assert.IsType(t, float64(0), body["expires_in"])
	})

	t.Run("rotated token is spent", func(t *testing.T) {
		rr := post(url.Values{"grant_type": {"refresh_token"}, "refresh_token": {sess.RefreshToken}})
		assert.Equal(t, http.StatusBadRequest, rr.Code)
		assert.Equal(t, "INVALID_REFRESH_TOKEN", decode[providerError](t, rr).Error.Message)
	})
}

func TestBackendHandler(t *testing.T) {
	h, tw := newRouter(t)
	sess, err := tw.SignUp("alice@example.com", "secret1")
	require.NoError(t, err)
	bearer := map[string]string{"Authorization": "Bearer " + sess.IDToken}

	t.Run("bearer required", func(t *testing.T) {
		rr := do(h, http.MethodGet, "/api"+api.PathBalance, nil, nil)
		assert.Equal(t, http.StatusUnauthorized, rr.Code)
	})

	t.Run("login needs a device id", func(t *testing.T) {
		rr := do(h, http.MethodPost, "/api"+api.PathLogin, api.LoginRequest{Platform: model.PlatformStandalone}, bearer)
		assert.Equal(t, http.StatusBadRequest, rr.Code)
		assert.Equal(t, "validation_error", decode[handler.ErrorResponse](t, rr).Error)
	})

	rr := do(h, http.MethodPost, "/api"+api.PathLogin,
		api.LoginRequest{DeviceID: "device-1", Platform: model.PlatformStandalone}, bearer)
	require.Equal(t, http.StatusOK, rr.Code)
	profile := decode[model.UserProfile](t, rr)
	assert.Equal(t, 1, profile.UserID)
	assert.Equal(t, "alice@example.com", profile.Name)

	withSession := map[string]string{
		"Authorization":     bearer["Authorization"],
		api.HeaderSessionID: strconv.Itoa(profile.SessionID),
	}

	t.Run("balance", func(t *testing.T) {
		rr := do(h, http.MethodGet, "/api"+api.PathBalance, nil, withSession)
		assert.Equal(t, http.StatusOK, rr.Code)
		assert.Equal(t, 100, decode[model.BalanceData](t, rr).Balance)
	})

	t.Run("foreign session", func(t *testing.T) {
		rr := do(h, http.MethodGet, "/api"+api.PathBalance, nil, map[string]string{
			"Authorization":     bearer["Authorization"],
			api.HeaderSessionID: "999",
		})
		assert.Equal(t, http.StatusUnauthorized, rr.Code)
	})

	t.Run("bet above balance", func(t *testing.T) {
		rr := do(h, http.MethodPost, "/api"+api.PathPlay, api.PlayRequest{Bet: 1000, Selected: []int{1, 2}}, withSession)
		assert.Equal(t, http.StatusPaymentRequired, rr.Code)
		assert.Equal(t, "backend_error", decode[handler.ErrorResponse](t, rr).Error)
	})

	t.Run("play then complete once", func(t *testing.T) {
		rr := do(h, http.MethodPost, "/api"+api.PathPlay, api.PlayRequest{Bet: 10, Selected: []int{1, 2, 3}}, withSession)
		require.Equal(t, http.StatusOK, rr.Code)
		res := decode[model.GamePlayResponse](t, rr)
		assert.Len(t, res.DrawnCards, 20)

		rr = do(h, http.MethodPost, "/api"+api.PathComplete, api.CompleteRequest{GameID: res.GameID}, withSession)
		require.Equal(t, http.StatusOK, rr.Code)
		assert.Equal(t, 90+res.Win, decode[model.CompleteResult](t, rr).Balance)

		rr = do(h, http.MethodPost, "/api"+api.PathComplete, api.CompleteRequest{GameID: res.GameID}, withSession)
		assert.Equal(t, http.StatusConflict, rr.Code)
	})

	t.Run("unknown game", func(t *testing.T) {
		rr := do(h, http.MethodPost, "/api"+api.PathComplete, api.CompleteRequest{GameID: 42}, withSession)
		assert.Equal(t, http.StatusNotFound, rr.Code)
	})

	t.Run("game table", func(t *testing.T) {
		rr := do(h, http.MethodGet, "/api"+api.PathGameTable, nil, withSession)
		require.Equal(t, http.StatusOK, rr.Code)
		assert.NotEmpty(t, decode[[]model.HitRecord](t, rr))
	})

	t.Run("logout", func(t *testing.T) {
		rr := do(h, http.MethodPost, "/api"+api.PathLogout, nil, withSession)
		assert.Equal(t, http.StatusNoContent, rr.Code)
		assert.Zero(t, tw.Snapshot().Sessions)
	})
}

func TestAdminHandler(t *testing.T) {
	h, tw := newRouter(t)
	_, err := tw.SignUp("alice@example.com", "secret1")
	require.NoError(t, err)

	rr := do(h, http.MethodGet, "/admin/state", nil, nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Len(t, decode[twin.Snapshot](t, rr).Accounts, 1)

	rr = do(h, http.MethodPost, "/admin/reset", nil, nil)
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Empty(t, tw.Snapshot().Accounts)
}
