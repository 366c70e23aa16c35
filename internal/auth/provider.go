// Package auth is the credential acquisition layer: it talks to the identity
// provider and the platform sign-in flows (Google, Apple) and hands the rest
// of the client a normalized Credential or an apperror.ErrProviderAuth.
//
// SIGN-IN FLOW OVERVIEW:
//  1. The player signs in with the provider (password, or a Google/Apple ID
//     token obtained by a connector)
//  2. The provider returns a short-lived ID token and a long-lived refresh token
//  3. The ID token is the bearer presented to the game backend at /login
//  4. Whenever a fresh bearer is needed, Provider.IDToken refreshes it
//     through the provider's secure-token endpoint
//
// Nothing in this package decides WHEN to sign in; that is the session
// service's job.
package auth

import (
	"context"
	"time"
)

// Provider IDs understood by the identity provider's signInWithIdp.
const (
	ProviderGoogle = "google.com"
	ProviderApple  = "apple.com"
)

// Credential is the provider's answer to a successful sign-in.
//
// IDToken and RefreshToken are secrets: never log them.
type Credential struct {
	ProviderUserID string
	Email          string
	DisplayName    string
	IDToken        string
	RefreshToken   string
	ExpiresAt      time.Time
}

// User is the public part of the currently signed-in provider account.
type User struct {
	ProviderUserID string
	Email          string
	DisplayName    string
}

// Provider is the identity provider as the session core sees it.
type Provider interface {
	// Available reports whether the provider can be used at all
	// (configured, reachable dependencies present).
	Available(ctx context.Context) bool

	SignInWithPassword(ctx context.Context, email, password string) (*Credential, error)
	SignUp(ctx context.Context, email, password string) (*Credential, error)

	// SignInWithIdp signs in with a third-party ID token. nonce is the raw
	// nonce the token was requested with, or "".
	SignInWithIdp(ctx context.Context, providerID, idToken, nonce string) (*Credential, error)

	// CurrentUser returns the signed-in account, or nil.
	CurrentUser() *User

	// IDToken returns a valid ID token for the current user, refreshing it
	// when it is expired.
	IDToken(ctx context.Context) (string, error)

	UpdateDisplayName(ctx context.Context, name string) error
	SendPasswordReset(ctx context.Context, email string) error
	DeleteAccount(ctx context.Context) error

	// SignOut forgets the current user. It never fails.
	SignOut()
}
