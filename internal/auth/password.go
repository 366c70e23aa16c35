package auth

import (
	"errors"
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

// MinPasswordLength is the shortest password the identity provider accepts.
const MinPasswordLength = 6

// defaultCost is the bcrypt work factor for stored account passwords.
// Cost 12 takes roughly 250ms per hash on current hardware.
const defaultCost = 12

var (
	// ErrWeakPassword is returned by Hash for passwords the provider rejects.
	ErrWeakPassword = errors.New("WEAK_PASSWORD : Password should be at least 6 characters")
	// ErrInvalidPassword is returned by Verify on a mismatch.
	ErrInvalidPassword = errors.New("INVALID_PASSWORD")
)

// PasswordService hashes and verifies account passwords with bcrypt.
//
// The cost is a field so tests can drop it to bcrypt.MinCost.
type PasswordService struct {
	cost int
}

func NewPasswordService() *PasswordService {
	return &PasswordService{cost: defaultCost}
}

// NewPasswordServiceForTest returns a PasswordService with the given bcrypt
// cost. Pass bcrypt.MinCost (4); never use it outside tests.
func NewPasswordServiceForTest(cost int) *PasswordService {
	return &PasswordService{cost: cost}
}

// Hash checks the password policy and returns the bcrypt hash.
//
// bcrypt silently truncates input past 72 bytes, so longer passwords are
// rejected instead.
func (p *PasswordService) Hash(plaintext string) (string, error) {
	if len(plaintext) < MinPasswordLength {
		return "", ErrWeakPassword
	}
	if len(plaintext) > 72 {
		return "", fmt.Errorf("auth: password must be 72 bytes or fewer")
	}

	hashed, err := bcrypt.GenerateFromPassword([]byte(plaintext), p.cost)
	if err != nil {
		return "", fmt.Errorf("auth: hashing password: %w", err)
	}
	return string(hashed), nil
}

// Verify returns nil when plaintext matches hash, ErrInvalidPassword on a
// mismatch, and a wrapped error for a malformed hash.
func (p *PasswordService) Verify(hash, plaintext string) error {
	err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(plaintext))
	if err != nil {
		if errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
			return ErrInvalidPassword
		}
		return fmt.Errorf("auth: comparing password hash: %w", err)
	}
	return nil
}
