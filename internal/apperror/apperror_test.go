package apperror

import (
	"errors"
	"fmt"
	"io"
	"testing"
)

func TestErrorsIs(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		target    error
		wantMatch bool
	}{
		{
			name:      "NotFound wraps ErrNotFound",
			err:       NotFound("key", "GAME_RESPONSE"),
			target:    ErrNotFound,
			wantMatch: true,
		},
		{
			name:      "Backend wraps ErrBackend",
			err:       Backend(500, "Internal Server Error"),
			target:    ErrBackend,
			wantMatch: true,
		},
		{
			name:      "Transport wraps ErrTransport",
			err:       Transport(io.ErrUnexpectedEOF),
			target:    ErrTransport,
			wantMatch: true,
		},
		{
			name:      "Transport exposes its cause",
			err:       Transport(io.ErrUnexpectedEOF),
			target:    io.ErrUnexpectedEOF,
			wantMatch: true,
		},
		{
			name:      "wrapped ProviderAuth still matches",
			err:       fmt.Errorf("service/session: signing in: %w", ProviderAuth(17011, "EMAIL_NOT_FOUND", nil)),
			target:    ErrProviderAuth,
			wantMatch: true,
		},
		{
			name:      "Backend does NOT match ErrTransport",
			err:       Backend(404, ""),
			target:    ErrTransport,
			wantMatch: false,
		},
		{
			name:      "NotAuthenticated does NOT match ErrBackend",
			err:       NotAuthenticated(),
			target:    ErrBackend,
			wantMatch: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := errors.Is(tt.err, tt.target)
			if got != tt.wantMatch {
				t.Errorf("errors.Is(%v, %v) = %v, want %v", tt.err, tt.target, got, tt.wantMatch)
			}
		})
	}
}

func TestErrorMessages(t *testing.T) {
	tests := []struct {
		name        string
		err         *AppError
		wantMessage string
	}{
		{
			name:        "NotFound message includes resource and id",
			err:         NotFound("key", "AUTH_TYPE"),
			wantMessage: "key not found with id AUTH_TYPE",
		},
		{
			name:        "Backend falls back to the status text",
			err:         Backend(503, ""),
			wantMessage: "Service Unavailable",
		},
		{
			name:        "Transport appends the cause",
			err:         Transport(errors.New("dial tcp: refused")),
			wantMessage: "no response from server: dial tcp: refused",
		},
		{
			name:        "PendingGame names the game",
			err:         PendingGame(42),
			wantMessage: "game 42 must be completed before playing again",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.wantMessage {
				t.Errorf("Error() = %q, want %q", got, tt.wantMessage)
			}
		})
	}
}

func TestCodeAndMessage(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		wantCode int
		wantMsg  string
	}{
		{"nil", nil, 0, ""},
		{"backend", fmt.Errorf("api: GET /balance: %w", Backend(500, "Internal Server Error")), 500, "Internal Server Error"},
		{"provider", ProviderAuth(17009, "INVALID_PASSWORD", nil), 17009, "INVALID_PASSWORD"},
		{"transport", Transport(io.EOF), CodeTransport, "no response from server"},
		{"not authenticated", NotAuthenticated(), CodeNoSignedInUser, "User not signed in!"},
		{"plain error", errors.New("boom"), CodeUnknown, "boom"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, msg := CodeAndMessage(tt.err)
			if code != tt.wantCode || msg != tt.wantMsg {
				t.Errorf("CodeAndMessage() = (%d, %q), want (%d, %q)", code, msg, tt.wantCode, tt.wantMsg)
			}
		})
	}
}

func TestStatusCode(t *testing.T) {
	if got := StatusCode(Backend(502, "")); got != 502 {
		t.Errorf("StatusCode(Backend) = %d, want 502", got)
	}
	if got := StatusCode(TokenExchange(401, "Unauthorized")); got != 401 {
		t.Errorf("StatusCode(TokenExchange) = %d, want 401", got)
	}
	if got := StatusCode(ProviderAuth(400, "x", nil)); got != 0 {
		t.Errorf("StatusCode(ProviderAuth) = %d, want 0", got)
	}
}
