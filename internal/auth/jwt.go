// ID TOKENS
//
// The identity provider hands out ID tokens: short-lived JWTs whose "sub"
// claim is the provider user ID. The client never verifies them (it has no
// key; the backend does), but it reads the claims to learn who signed in and
// when the token expires.
//
// The local twin plays the provider's role, so it needs the other half: a
// TokenService that signs and verifies ID tokens with an HMAC secret.
//
// JWT STRUCTURE (three base64-encoded parts separated by dots):
//
//	HEADER.PAYLOAD.SIGNATURE
//	- Header: {"alg":"HS256","typ":"JWT"}
//	- Payload: {"sub":"<localId>","email":"...","exp":1234567890}
//	- Signature: HMAC-SHA256(header+"."+payload, secretKey)

package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// DefaultIDTokenTTL matches the hosted provider's one hour ID tokens.
const DefaultIDTokenTTL = time.Hour

// IDTokenClaims is the payload of a provider ID token.
type IDTokenClaims struct {
	Email string `json:"email,omitempty"`
	jwt.RegisteredClaims
}

// ParseIDTokenClaims decodes the claims of an ID token WITHOUT checking the
// signature. Use it only to read identity hints from a token that was just
// received from the provider over TLS.
func ParseIDTokenClaims(token string) (*IDTokenClaims, error) {
	var c IDTokenClaims
	if _, _, err := jwt.NewParser().ParseUnverified(token, &c); err != nil {
		return nil, fmt.Errorf("auth: parsing id token claims: %w", err)
	}
	return &c, nil
}

// TokenService issues and verifies HS256 ID tokens.
type TokenService struct {
	secret []byte
	issuer string
	ttl    time.Duration
}

// NewTokenService creates a TokenService. The secret must be at least 16
// characters.
func NewTokenService(secret, issuer string) (*TokenService, error) {
	if len(secret) < 16 {
		return nil, errors.New("auth: token secret must be at least 16 characters")
	}
	if issuer == "" {
		return nil, errors.New("auth: token issuer must not be empty")
	}
	return &TokenService{secret: []byte(secret), issuer: issuer, ttl: DefaultIDTokenTTL}, nil
}

// TTL is the lifetime given to tokens issued by Issue.
func (s *TokenService) TTL() time.Duration {
	return s.ttl
}

// Issue signs an ID token for the given provider user.
func (s *TokenService) Issue(userID, email string) (string, error) {
	return s.IssueWithDuration(userID, email, s.ttl)
}

// IssueWithDuration signs a token with a custom lifetime. Tests use it to
// mint already-expired tokens.
func (s *TokenService) IssueWithDuration(userID, email string, d time.Duration) (string, error) {
	now := time.Now()
	c := IDTokenClaims{
		Email: email,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			Issuer:    s.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(d)),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, c).SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("auth: signing token: %w", err)
	}
	return signed, nil
}

// Validate verifies signature, issuer and expiry and returns the claims.
//
// jwt.WithValidMethods pins HS256 so a token claiming "alg":"none" is rejected.
func (s *TokenService) Validate(tokenStr string) (*IDTokenClaims, error) {
	token, err := jwt.ParseWithClaims(
		tokenStr,
		&IDTokenClaims{},
		func(token *jwt.Token) (any, error) {
			return s.secret, nil
		},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(s.issuer),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, fmt.Errorf("auth: token expired")
		}
		return nil, fmt.Errorf("auth: invalid token: %w", err)
	}

	c, ok := token.Claims.(*IDTokenClaims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("auth: invalid token claims")
	}
	if c.Subject == "" {
		return nil, fmt.Errorf("auth: token has no subject")
	}
	return c, nil
}
