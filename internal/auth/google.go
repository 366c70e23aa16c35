package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/rs/xid"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/endpoints"

	"github.com/sakif/keno-client/internal/apperror"
)

// Google sign-in status codes, as reported by the platform SDK.
const (
	CodeGoogleSignInRequired  = 4
	CodeGoogleSignInCancelled = 12501
	CodeGoogleSignInFailed    = 12500
)

// ErrSignInCancelled is returned by authorizers when the player dismisses
// the platform sign-in UI.
var ErrSignInCancelled = errors.New("auth: sign-in cancelled")

// GoogleAuthorizer runs the interactive consent step: it shows authURL to the
// player and returns the authorization code from the redirect whose state
// parameter equals state.
type GoogleAuthorizer interface {
	AuthCode(ctx context.Context, authURL, state string) (string, error)
}

// RefreshTokenStore keeps the Google refresh token between runs so a later
// start can sign in silently.
type RefreshTokenStore interface {
	GoogleRefreshToken(ctx context.Context) (string, error)
	SetGoogleRefreshToken(ctx context.Context, token string) error
	ClearGoogleRefreshToken(ctx context.Context) error
}

type GoogleConfig struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string
	// Endpoint defaults to Google's OAuth endpoints.
	Endpoint   oauth2.Endpoint
	HTTPClient *http.Client
}

// GoogleConnector obtains Google ID tokens for SignInWithIdp.
//
// OAUTH 2.0 AUTHORIZATION CODE FLOW (interactive):
//  1. Build the consent URL with our client ID, the openid scope and a
//     random state
//  2. The authorizer shows it and returns the code from the redirect
//  3. Exchange the code for tokens; the ID token rides in the "id_token"
//     extra field and the refresh token is kept for silent sign-in
//
// Silent sign-in skips 1-2 and uses the stored refresh token instead.
type GoogleConnector struct {
	config     *oauth2.Config
	authorizer GoogleAuthorizer
	store      RefreshTokenStore
	client     *http.Client
	logger     *slog.Logger
}

func NewGoogleConnector(cfg GoogleConfig, authorizer GoogleAuthorizer, store RefreshTokenStore, logger *slog.Logger) *GoogleConnector {
	endpoint := cfg.Endpoint
	if endpoint.TokenURL == "" {
		endpoint = endpoints.Google
	}
	return &GoogleConnector{
		config: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.RedirectURL,
			Scopes:       []string{"openid", "email", "profile"},
			Endpoint:     endpoint,
		},
		authorizer: authorizer,
		store:      store,
		client:     cfg.HTTPClient,
		logger:     logger,
	}
}

// SignIn returns a Google ID token. With silent set it only uses the stored
// refresh token and never shows UI.
func (g *GoogleConnector) SignIn(ctx context.Context, silent bool) (string, error) {
	if g.client != nil {
		ctx = context.WithValue(ctx, oauth2.HTTPClient, g.client)
	}
	if silent {
		return g.signInSilently(ctx)
	}
	return g.signInInteractive(ctx)
}

func (g *GoogleConnector) signInSilently(ctx context.Context) (string, error) {
	refresh, err := g.store.GoogleRefreshToken(ctx)
	if err != nil {
		return "", fmt.Errorf("auth: loading google refresh token: %w", err)
	}
	if refresh == "" {
		return "", apperror.ProviderAuth(CodeGoogleSignInRequired, "SIGN_IN_REQUIRED", nil)
	}

	tok, err := g.config.TokenSource(ctx, &oauth2.Token{RefreshToken: refresh}).Token()
	if err != nil {
		g.logger.Warn("google silent sign-in failed", slog.String("error", err.Error()))
		return "", apperror.ProviderAuth(CodeGoogleSignInRequired, "SIGN_IN_REQUIRED", err)
	}
	return g.idTokenFrom(ctx, tok)
}

func (g *GoogleConnector) signInInteractive(ctx context.Context) (string, error) {
	if g.authorizer == nil {
		return "", apperror.ProviderAuth(CodeGoogleSignInFailed, "no google authorizer configured", nil)
	}

	state := xid.New().String()
	authURL := g.config.AuthCodeURL(state, oauth2.AccessTypeOffline)

	code, err := g.authorizer.AuthCode(ctx, authURL, state)
	if err != nil {
		if errors.Is(err, ErrSignInCancelled) {
			return "", apperror.ProviderAuth(CodeGoogleSignInCancelled, "SIGN_IN_CANCELLED", err)
		}
		return "", apperror.ProviderAuth(CodeGoogleSignInFailed, "SIGN_IN_FAILED", err)
	}

	tok, err := g.config.Exchange(ctx, code)
	if err != nil {
		return "", apperror.ProviderAuth(CodeGoogleSignInFailed, "SIGN_IN_FAILED", err)
	}
	return g.idTokenFrom(ctx, tok)
}

// idTokenFrom extracts the ID token and remembers a newly issued refresh token.
func (g *GoogleConnector) idTokenFrom(ctx context.Context, tok *oauth2.Token) (string, error) {
	idToken, _ := tok.Extra("id_token").(string)
	if idToken == "" {
		return "", apperror.ProviderAuth(CodeGoogleSignInFailed, "google returned no id token", nil)
	}
	if tok.RefreshToken != "" {
		if err := g.store.SetGoogleRefreshToken(ctx, tok.RefreshToken); err != nil {
			g.logger.Warn("saving google refresh token failed", slog.String("error", err.Error()))
		}
	}
	return idToken, nil
}

// SignOut forgets the stored refresh token so the next silent sign-in fails.
func (g *GoogleConnector) SignOut(ctx context.Context) error {
	if err := g.store.ClearGoogleRefreshToken(ctx); err != nil {
		return fmt.Errorf("auth: clearing google refresh token: %w", err)
	}
	return nil
}
