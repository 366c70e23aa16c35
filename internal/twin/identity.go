package twin

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/rs/xid"

	"github.com/sakif/keno-client/internal/apperror"
	"github.com/sakif/keno-client/internal/auth"
)

const providerPassword = "password"

// IdentitySession is what every successful sign-in returns.
type IdentitySession struct {
	LocalID      string `json:"localId"`
	Email        string `json:"email"`
	DisplayName  string `json:"displayName"`
	IDToken      string `json:"idToken"`
	RefreshToken string `json:"refreshToken"`
	ExpiresIn    int    `json:"-"`
}

// idpError mirrors the hosted provider: HTTP 400 with an upper-case reason.
func idpError(message string) error {
	return apperror.ProviderAuth(http.StatusBadRequest, message, nil)
}

// SignUp creates a password account.
func (t *Twin) SignUp(email, password string) (*IdentitySession, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if !strings.Contains(email, "@") {
		return nil, idpError("INVALID_EMAIL")
	}
	hash, err := t.passwords.Hash(password)
	if err != nil {
		if errors.Is(err, auth.ErrWeakPassword) {
			return nil, idpError(auth.ErrWeakPassword.Error())
		}
		return nil, idpError("INVALID_PASSWORD")
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if _, exists := t.byEmail[email]; exists {
		return nil, idpError("EMAIL_EXISTS")
	}
	a := &account{
		LocalID:      xid.New().String(),
		Email:        email,
		PasswordHash: hash,
		ProviderID:   providerPassword,
	}
	t.accounts[a.LocalID] = a
	t.byEmail[email] = a.LocalID
	t.logger.Info("account created", slog.String("localID", a.LocalID))
	return t.issueLocked(a)
}

func (t *Twin) SignInWithPassword(email, password string) (*IdentitySession, error) {
	email = strings.ToLower(strings.TrimSpace(email))

	t.mu.Lock()
	localID, ok := t.byEmail[email]
	var hash string
	if ok {
		hash = t.accounts[localID].PasswordHash
	}
	t.mu.Unlock()
	if !ok || hash == "" {
		return nil, idpError("EMAIL_NOT_FOUND")
	}

	// bcrypt is slow; compare outside the lock.
	if err := t.passwords.Verify(hash, password); err != nil {
		return nil, idpError("INVALID_PASSWORD")
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	a, ok := t.accounts[localID]
	if !ok {
		return nil, idpError("EMAIL_NOT_FOUND")
	}
	return t.issueLocked(a)
}

// SignInWithIdp accepts any Google or Apple ID token and links it to an
// account keyed by the token's subject. Signatures are not checked.
func (t *Twin) SignInWithIdp(providerID, idToken string) (*IdentitySession, error) {
	if providerID != auth.ProviderGoogle && providerID != auth.ProviderApple {
		return nil, idpError("INVALID_PROVIDER_ID")
	}
	if idToken == "" {
		return nil, idpError("INVALID_IDP_RESPONSE")
	}

	subject, email := idToken, ""
	if claims, err := auth.ParseIDTokenClaims(idToken); err == nil && claims.Subject != "" {
		subject, email = claims.Subject, claims.Email
	}
	key := providerID + ":" + subject

	t.mu.Lock()
	defer t.mu.Unlock()
	if localID, ok := t.byIdp[key]; ok {
		return t.issueLocked(t.accounts[localID])
	}
	a := &account{
		LocalID:    xid.New().String(),
		Email:      strings.ToLower(email),
		ProviderID: providerID,
	}
	t.accounts[a.LocalID] = a
	t.byIdp[key] = a.LocalID
	if a.Email != "" {
		t.byEmail[a.Email] = a.LocalID
	}
	t.logger.Info("federated account created", slog.String("localID", a.LocalID), slog.String("provider", providerID))
	return t.issueLocked(a)
}

// UpdateDisplayName sets the display name of the account idToken belongs to.
func (t *Twin) UpdateDisplayName(idToken, name string) (*IdentitySession, error) {
	localID, err := t.subject(idToken)
	if err != nil {
		return nil, err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	a, ok := t.accounts[localID]
	if !ok {
		return nil, idpError("USER_NOT_FOUND")
	}
	a.DisplayName = name
	return &IdentitySession{LocalID: a.LocalID, Email: a.Email, DisplayName: a.DisplayName}, nil
}

// SendPasswordReset records a reset mail in the outbox.
func (t *Twin) SendPasswordReset(email string) error {
	email = strings.ToLower(strings.TrimSpace(email))
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.byEmail[email]; !ok {
		return idpError("EMAIL_NOT_FOUND")
	}
	t.outbox = append(t.outbox, email)
	return nil
}

// DeleteAccount removes the provider account. The game profile stays until
// the backend's own DELETE /account.
func (t *Twin) DeleteAccount(idToken string) error {
	localID, err := t.subject(idToken)
	if err != nil {
		return err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	a, ok := t.accounts[localID]
	if !ok {
		return idpError("USER_NOT_FOUND")
	}
	delete(t.accounts, localID)
	if t.byEmail[a.Email] == localID {
		delete(t.byEmail, a.Email)
	}
	for k, v := range t.byIdp {
		if v == localID {
			delete(t.byIdp, k)
		}
	}
	for k, v := range t.refresh {
		if v == localID {
			delete(t.refresh, k)
		}
	}
	return nil
}

// Refresh trades a refresh token for a new ID token. The refresh token is
// rotated.
func (t *Twin) Refresh(refreshToken string) (*IdentitySession, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	localID, ok := t.refresh[refreshToken]
	if !ok {
		return nil, idpError("INVALID_REFRESH_TOKEN")
	}
	a, ok := t.accounts[localID]
	if !ok {
		delete(t.refresh, refreshToken)
		return nil, idpError("USER_NOT_FOUND")
	}
	delete(t.refresh, refreshToken)
	return t.issueLocked(a)
}

// subject checks a token issued by this twin and returns its localID.
func (t *Twin) subject(idToken string) (string, error) {
	claims, err := t.tokens.Validate(idToken)
	if err != nil {
		return "", idpError("INVALID_ID_TOKEN")
	}
	return claims.Subject, nil
}

func (t *Twin) issueLocked(a *account) (*IdentitySession, error) {
	idToken, err := t.tokens.Issue(a.LocalID, a.Email)
	if err != nil {
		return nil, fmt.Errorf("twin: issuing id token: %w", err)
	}
	refresh := xid.New().String()
	t.refresh[refresh] = a.LocalID
	return &IdentitySession{
		LocalID:      a.LocalID,
		Email:        a.Email,
		DisplayName:  a.DisplayName,
		IDToken:      idToken,
		RefreshToken: refresh,
		ExpiresIn:    int(t.tokens.TTL().Seconds()),
	}, nil
}
