package auth

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/oauth2"

	"github.com/sakif/keno-client/internal/apperror"
)

// Default endpoints of the hosted identity provider.
const (
	DefaultIdentityURL    = "https://identitytoolkit.googleapis.com/v1"
	DefaultSecureTokenURL = "https://securetoken.googleapis.com/v1/token"
)

// Provider error codes that are not HTTP statuses.
const (
	CodeProviderUnavailable = -100
	CodeProviderTransport   = -101
	CodeNoProviderUser      = -102
)

// IdentityToolkitConfig configures IdentityToolkit.
type IdentityToolkitConfig struct {
	BaseURL        string // accounts:* endpoints, e.g. DefaultIdentityURL
	SecureTokenURL string // refresh endpoint, e.g. DefaultSecureTokenURL
	APIKey         string
	HTTPClient     *http.Client
}

// IdentityToolkit is a REST client for an Identity-Toolkit style provider.
//
// It keeps the signed-in user in memory. The ID token is refreshed through
// golang.org/x/oauth2: the secure-token endpoint speaks the standard
// refresh_token grant. The refreshing source is built per IDToken call so
// the refresh runs under the caller's context.
type IdentityToolkit struct {
	cfg    IdentityToolkitConfig
	client *http.Client
	logger *slog.Logger

	mu    sync.Mutex
	user  *User
	oauth *oauth2.Config
	token *oauth2.Token

	// refreshMu serializes refreshes so concurrent callers share one.
	refreshMu sync.Mutex
}

var _ Provider = (*IdentityToolkit)(nil)

func NewIdentityToolkit(cfg IdentityToolkitConfig, logger *slog.Logger) *IdentityToolkit {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultIdentityURL
	}
	if cfg.SecureTokenURL == "" {
		cfg.SecureTokenURL = DefaultSecureTokenURL
	}
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 15 * time.Second}
	}
	return &IdentityToolkit{
		cfg:    cfg,
		client: client,
		logger: logger,
	}
}

// Available reports whether the client is configured with an API key.
func (p *IdentityToolkit) Available(ctx context.Context) bool {
	return p.cfg.APIKey != ""
}

// signInResponse covers signInWithPassword, signUp and signInWithIdp.
type signInResponse struct {
	LocalID      string `json:"localId"`
	Email        string `json:"email"`
	DisplayName  string `json:"displayName"`
	IDToken      string `json:"idToken"`
	RefreshToken string `json:"refreshToken"`
	ExpiresIn    string `json:"expiresIn"`
}

type providerErrorBody struct {
	Error struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func (p *IdentityToolkit) SignInWithPassword(ctx context.Context, email, password string) (*Credential, error) {
	var resp signInResponse
	err := p.call(ctx, "accounts:signInWithPassword", map[string]any{
		"email":             email,
		"password":          password,
		"returnSecureToken": true,
	}, &resp)
	if err != nil {
		return nil, err
	}
	return p.establish(&resp), nil
}

func (p *IdentityToolkit) SignUp(ctx context.Context, email, password string) (*Credential, error) {
	var resp signInResponse
	err := p.call(ctx, "accounts:signUp", map[string]any{
		"email":             email,
		"password":          password,
		"returnSecureToken": true,
	}, &resp)
	if err != nil {
		return nil, err
	}
	return p.establish(&resp), nil
}

func (p *IdentityToolkit) SignInWithIdp(ctx context.Context, providerID, idToken, nonce string) (*Credential, error) {
	form := url.Values{}
	form.Set("id_token", idToken)
	form.Set("providerId", providerID)
	if nonce != "" {
		form.Set("nonce", nonce)
	}

	var resp signInResponse
	err := p.call(ctx, "accounts:signInWithIdp", map[string]any{
		"postBody":            form.Encode(),
		"requestUri":          "http://localhost",
		"returnSecureToken":   true,
		"returnIdpCredential": true,
	}, &resp)
	if err != nil {
		return nil, err
	}
	return p.establish(&resp), nil
}

func (p *IdentityToolkit) CurrentUser() *User {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.user == nil {
		return nil
	}
	u := *p.user
	return &u
}

// IDToken returns the current ID token, refreshing it first if it has
// expired. ctx bounds the refresh request.
func (p *IdentityToolkit) IDToken(ctx context.Context) (string, error) {
	p.refreshMu.Lock()
	defer p.refreshMu.Unlock()

	p.mu.Lock()
	conf, tok := p.oauth, p.token
	p.mu.Unlock()
	if tok == nil {
		return "", apperror.ProviderAuth(CodeNoProviderUser, "no signed-in user", nil)
	}

	if !tok.Valid() {
		fresh, err := conf.TokenSource(context.WithValue(ctx, oauth2.HTTPClient, p.client), tok).Token()
		if err != nil {
			return "", refreshError(err)
		}
		p.mu.Lock()
		// A sign-out during the refresh wins.
		if p.token == tok {
			p.token = fresh
		}
		p.mu.Unlock()
		tok = fresh
	}

	if id, ok := tok.Extra("id_token").(string); ok && id != "" {
		return id, nil
	}
	return tok.AccessToken, nil
}

func refreshError(err error) error {
	var rerr *oauth2.RetrieveError
	if errors.As(err, &rerr) {
		code, msg := http.StatusUnauthorized, rerr.ErrorCode
		if rerr.Response != nil {
			code = rerr.Response.StatusCode
		}
		if body := parseProviderError(rerr.Body); body != nil {
			code, msg = body.Error.Code, body.Error.Message
		}
		if msg == "" {
			msg = http.StatusText(code)
		}
		return apperror.ProviderAuth(code, msg, err)
	}
	return apperror.ProviderAuth(CodeProviderTransport, "refreshing id token failed", err)
}

func (p *IdentityToolkit) UpdateDisplayName(ctx context.Context, name string) error {
	idToken, err := p.IDToken(ctx)
	if err != nil {
		return err
	}
	var resp signInResponse
	if err := p.call(ctx, "accounts:update", map[string]any{
		"idToken":           idToken,
		"displayName":       name,
		"returnSecureToken": false,
	}, &resp); err != nil {
		return err
	}

	p.mu.Lock()
	if p.user != nil {
		p.user.DisplayName = name
	}
	p.mu.Unlock()
	return nil
}

func (p *IdentityToolkit) SendPasswordReset(ctx context.Context, email string) error {
	return p.call(ctx, "accounts:sendOobCode", map[string]any{
		"requestType": "PASSWORD_RESET",
		"email":       email,
	}, nil)
}

// DeleteAccount deletes the current user at the provider and signs out locally.
func (p *IdentityToolkit) DeleteAccount(ctx context.Context) error {
	idToken, err := p.IDToken(ctx)
	if err != nil {
		return err
	}
	if err := p.call(ctx, "accounts:delete", map[string]any{"idToken": idToken}, nil); err != nil {
		return err
	}
	p.SignOut()
	return nil
}

func (p *IdentityToolkit) SignOut() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.user = nil
	p.oauth = nil
	p.token = nil
}

// establish records the signed-in user and seeds the refreshing token source.
func (p *IdentityToolkit) establish(resp *signInResponse) *Credential {
	expiresIn, err := strconv.Atoi(resp.ExpiresIn)
	if err != nil || expiresIn <= 0 {
		expiresIn = 3600
	}
	expiry := time.Now().Add(time.Duration(expiresIn) * time.Second)

	userID := resp.LocalID
	if claims, err := ParseIDTokenClaims(resp.IDToken); err == nil {
		if userID == "" {
			userID = claims.Subject
		}
		if claims.ExpiresAt != nil {
			expiry = claims.ExpiresAt.Time
		}
	}

	conf := &oauth2.Config{
		Endpoint: oauth2.Endpoint{
			TokenURL:  p.cfg.SecureTokenURL + "?key=" + url.QueryEscape(p.cfg.APIKey),
			AuthStyle: oauth2.AuthStyleInParams,
		},
	}
	seed := (&oauth2.Token{
		AccessToken:  resp.IDToken,
		TokenType:    "Bearer",
		RefreshToken: resp.RefreshToken,
		Expiry:       expiry,
	}).WithExtra(map[string]any{"id_token": resp.IDToken})

	p.mu.Lock()
	p.user = &User{ProviderUserID: userID, Email: resp.Email, DisplayName: resp.DisplayName}
	p.oauth = conf
	p.token = seed
	p.mu.Unlock()

	p.logger.Info("identity provider sign-in", slog.String("providerUserID", userID))

	return &Credential{
		ProviderUserID: userID,
		Email:          resp.Email,
		DisplayName:    resp.DisplayName,
		IDToken:        resp.IDToken,
		RefreshToken:   resp.RefreshToken,
		ExpiresAt:      expiry,
	}
}

// call POSTs a JSON body to an accounts:* method and decodes the reply into out.
func (p *IdentityToolkit) call(ctx context.Context, method string, body any, out any) error {
	if !p.Available(ctx) {
		return apperror.ProviderAuth(CodeProviderUnavailable, "identity provider is not configured", nil)
	}

	data, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("auth: encoding %s request: %w", method, err)
	}

	endpoint := strings.TrimRight(p.cfg.BaseURL, "/") + "/" + method + "?key=" + url.QueryEscape(p.cfg.APIKey)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("auth: building %s request: %w", method, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return apperror.ProviderAuth(CodeProviderTransport, "identity provider unreachable", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return apperror.ProviderAuth(CodeProviderTransport, "reading identity provider response", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		if perr := parseProviderError(respBody); perr != nil {
			return apperror.ProviderAuth(perr.Error.Code, perr.Error.Message, nil)
		}
		return apperror.ProviderAuth(resp.StatusCode, http.StatusText(resp.StatusCode), nil)
	}

	if out != nil {
		if err := json.Unmarshal(respBody, out); err != nil {
			return fmt.Errorf("auth: decoding %s response: %w", method, err)
		}
	}
	return nil
}

func parseProviderError(body []byte) *providerErrorBody {
	var perr providerErrorBody
	if err := json.Unmarshal(body, &perr); err != nil || perr.Error.Message == "" {
		return nil
	}
	if perr.Error.Code == 0 {
		perr.Error.Code = http.StatusBadRequest
	}
	return &perr
}
