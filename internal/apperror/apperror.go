// Package apperror defines the error taxonomy shared by every layer of the client.
//
// Each AppError wraps one sentinel (so callers can branch with errors.Is) and
// carries the numeric code and message that end up in front of the player:
// an HTTP status for backend failures, the identity provider's own code for
// sign-in failures, and one of the negative Code* constants otherwise.
package apperror

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	ErrNotFound         = errors.New("not found")
	ErrValidation       = errors.New("validation error")
	ErrProviderAuth     = errors.New("identity provider rejected sign-in")
	ErrTokenExchange    = errors.New("token exchange failed")
	ErrTransport        = errors.New("transport error")
	ErrBackend          = errors.New("backend error")
	ErrNotAuthenticated = errors.New("not authenticated")
	ErrLoginInProgress  = errors.New("login already in progress")
	ErrPendingGame      = errors.New("pending game not completed")
)

// Codes for failures that have neither an HTTP status nor a provider code.
const (
	CodeUnknown         = 0
	CodeTransport       = -1
	CodeNoSignedInUser  = -2
	CodeLoginInProgress = -3
	CodePendingGame     = -4
	CodeValidation      = -5
)

type AppError struct {
	Err     error  // sentinel
	Code    int    // HTTP status, provider code, or a Code* constant
	Message string // human-readable; reason phrase for backend errors
	Cause   error  // underlying error, if any
}

func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

// Unwrap exposes both the sentinel and the cause to errors.Is/As.
func (e *AppError) Unwrap() []error {
	if e.Cause != nil {
		return []error{e.Err, e.Cause}
	}
	return []error{e.Err}
}

func NotFound(resource, id string) *AppError {
	return &AppError{
		Err:     ErrNotFound,
		Code:    http.StatusNotFound,
		Message: fmt.Sprintf("%s not found with id %s", resource, id),
	}
}

func ValidationFailed(field, message string) *AppError {
	return &AppError{
		Err:     ErrValidation,
		Code:    CodeValidation,
		Message: fmt.Sprintf("%s: %s", field, message),
	}
}

// ProviderAuth reports a sign-in failure with the identity provider's own code.
func ProviderAuth(code int, message string, cause error) *AppError {
	return &AppError{Err: ErrProviderAuth, Code: code, Message: message, Cause: cause}
}

// TokenExchange reports that the backend rejected the bearer token or device
// at /login.
func TokenExchange(status int, reason string) *AppError {
	return &AppError{Err: ErrTokenExchange, Code: status, Message: reason}
}

// Transport reports that no response was obtained at all.
func Transport(cause error) *AppError {
	return &AppError{Err: ErrTransport, Code: CodeTransport, Message: "no response from server", Cause: cause}
}

// Backend reports a non-2xx response. reason is the HTTP reason phrase.
func Backend(status int, reason string) *AppError {
	if reason == "" {
		reason = http.StatusText(status)
	}
	return &AppError{Err: ErrBackend, Code: status, Message: reason}
}

func NotAuthenticated() *AppError {
	return &AppError{Err: ErrNotAuthenticated, Code: CodeNoSignedInUser, Message: "User not signed in!"}
}

func LoginInProgress() *AppError {
	return &AppError{Err: ErrLoginInProgress, Code: CodeLoginInProgress, Message: "a login is already in progress"}
}

func PendingGame(gameID int) *AppError {
	return &AppError{
		Err:     ErrPendingGame,
		Code:    CodePendingGame,
		Message: fmt.Sprintf("game %d must be completed before playing again", gameID),
	}
}

// CodeAndMessage extracts the (code, message) pair reported to callers.
// Errors that are not AppErrors map to (CodeUnknown, err.Error()).
func CodeAndMessage(err error) (int, string) {
	if err == nil {
		return 0, ""
	}
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code, appErr.Message
	}
	return CodeUnknown, err.Error()
}

// StatusCode returns the HTTP status carried by a backend or token exchange
// error, or 0.
func StatusCode(err error) int {
	var appErr *AppError
	if errors.As(err, &appErr) && (errors.Is(appErr.Err, ErrBackend) || errors.Is(appErr.Err, ErrTokenExchange)) {
		return appErr.Code
	}
	return 0
}
