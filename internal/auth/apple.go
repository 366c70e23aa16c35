package auth

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"

	"github.com/google/uuid"

	"github.com/sakif/keno-client/internal/apperror"
)

// Apple authorization error codes (ASAuthorizationError).
const (
	CodeAppleCanceled = 1001
	CodeAppleFailed   = 1004
)

// AppleAuthorization is what the Apple sign-in sheet returns.
type AppleAuthorization struct {
	IdentityToken string
	Email         string
	FullName      string
}

// AppleAuthorizer shows the platform's Sign in with Apple UI. hashedNonce
// must be embedded in the request; quick asks for the returning-user flow
// that skips the consent sheet when possible.
type AppleAuthorizer interface {
	Authorize(ctx context.Context, hashedNonce string, quick bool) (*AppleAuthorization, error)
}

// AppleCredential is an Apple identity token plus the raw nonce the
// identity provider needs to check it.
type AppleCredential struct {
	IDToken  string
	RawNonce string
	Email    string
	FullName string
}

type AppleConnector struct {
	authorizer AppleAuthorizer
}

func NewAppleConnector(authorizer AppleAuthorizer) *AppleConnector {
	return &AppleConnector{authorizer: authorizer}
}

// SignIn runs the Apple flow with a fresh nonce. Apple receives the SHA-256
// of the nonce; the provider receives the raw value.
func (a *AppleConnector) SignIn(ctx context.Context, quick bool) (*AppleCredential, error) {
	if a.authorizer == nil {
		return nil, apperror.ProviderAuth(CodeAppleFailed, "sign in with Apple is not available", nil)
	}

	rawNonce := uuid.NewString()
	hashed := HashNonce(rawNonce)

	res, err := a.authorizer.Authorize(ctx, hashed, quick)
	if err != nil {
		if errors.Is(err, ErrSignInCancelled) {
			return nil, apperror.ProviderAuth(CodeAppleCanceled, "Sign in with Apple was canceled", err)
		}
		return nil, apperror.ProviderAuth(CodeAppleFailed, "Sign in with Apple failed", err)
	}
	if res == nil || res.IdentityToken == "" {
		return nil, apperror.ProviderAuth(CodeAppleFailed, "Sign in with Apple returned no identity token", nil)
	}

	return &AppleCredential{
		IDToken:  res.IdentityToken,
		RawNonce: rawNonce,
		Email:    res.Email,
		FullName: res.FullName,
	}, nil
}

// SignOut is a no-op: Apple keeps no client-side session.
func (a *AppleConnector) SignOut(ctx context.Context) error {
	return nil
}

// HashNonce returns the lowercase hex SHA-256 of nonce.
func HashNonce(nonce string) string {
	sum := sha256.Sum256([]byte(nonce))
	return hex.EncodeToString(sum[:])
}
