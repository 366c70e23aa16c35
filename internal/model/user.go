// Package model defines the data structures used throughout the client.
package model

import (
	"strings"
	"time"
)

// UserProfile is the backend's view of the signed-in player.
//
// The backend replaces the whole profile on every successful mutation
// (profile update, email preference), so we never patch fields locally.
//
// WHY NO FirstName/LastName FIELDS?
// The backend only stores a single display name. When the player signs in with
// Google or Apple the server puts the email into Name, so there is no family
// name at all. The split is a display concern and is derived on demand.
type UserProfile struct {
	SessionID     int    `json:"sessionId"`
	UserID        int    `json:"userId"`
	Name          string `json:"name"`
	Email         string `json:"email"`
	EmailsEnabled bool   `json:"enableEmails"`
}

// FirstName returns the first space-separated token of Name.
func (p UserProfile) FirstName() string {
	first, _, _ := strings.Cut(p.Name, " ")
	return first
}

// LastName returns the second space-separated token of Name, or "" when the
// name has no space.
func (p UserProfile) LastName() string {
	_, rest, found := strings.Cut(p.Name, " ")
	if !found {
		return ""
	}
	last, _, _ := strings.Cut(rest, " ")
	return last
}

// BalanceData is the player's wallet snapshot.
//
// NextTimeBonusUTC is the earliest moment the periodic time bonus can be
// claimed. TimeBonus is the amount that claim will credit.
type BalanceData struct {
	Balance          int       `json:"balance"`
	TimeBonus        int       `json:"timeBonus"`
	NextTimeBonusUTC time.Time `json:"nextTimeBonusUTC"`
}

// UserData bundles profile and balance. It is the payload delivered to
// listeners when a login or registration completes.
type UserData struct {
	Profile UserProfile `json:"profile"`
	Balance BalanceData `json:"balance"`
}

// AuthMethod identifies how the player last authenticated with the identity
// provider. It is persisted so a restart can attempt a silent re-login.
type AuthMethod int

const (
	AuthNone          AuthMethod = -1
	AuthEmailPassword AuthMethod = 0
	AuthGoogle        AuthMethod = 1
	AuthApple         AuthMethod = 2
)

// String returns the persisted/logged name of the method.
func (m AuthMethod) String() string {
	switch m {
	case AuthEmailPassword:
		return "EMAIL_PASSWORD"
	case AuthGoogle:
		return "GOOGLE"
	case AuthApple:
		return "APPLE"
	default:
		return "NONE"
	}
}

// Valid reports whether m is one of the known methods (including AuthNone).
func (m AuthMethod) Valid() bool {
	return m >= AuthNone && m <= AuthApple
}

// Platform tags sent to the backend with /login.
const (
	PlatformAndroid    = "Android"
	PlatformIOS        = "IOS"
	PlatformStandalone = "STANDALONE"
)
