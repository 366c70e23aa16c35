package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"github.com/rs/xid"
	"github.com/sakif/keno-client/internal/apperror"
	"github.com/sakif/keno-client/internal/model"
)

// Durable keys. The names match what earlier client builds wrote, so an
// upgraded install still finds its pending game.
const (
	KeyPendingGame = "GAME_RESPONSE"
	KeyAuthMethod  = "AUTH_TYPE"
	KeyDeviceID    = "DEVICE_ID"
	KeyGoogleToken = "GOOGLE_REFRESH_TOKEN"
)

// Preferences is the typed view over a KeyValueStore.
type Preferences struct {
	kv KeyValueStore
}

func NewPreferences(kv KeyValueStore) *Preferences {
	return &Preferences{kv: kv}
}

// AuthMethod returns the persisted method, or model.AuthNone when nothing
// (or something unreadable) is stored.
func (p *Preferences) AuthMethod(ctx context.Context) (model.AuthMethod, error) {
	raw, err := p.kv.Get(ctx, KeyAuthMethod)
	if errors.Is(err, apperror.ErrNotFound) {
		return model.AuthNone, nil
	}
	if err != nil {
		return model.AuthNone, fmt.Errorf("repository: reading auth method: %w", err)
	}
	n, err := strconv.Atoi(string(raw))
	if err != nil || !model.AuthMethod(n).Valid() {
		return model.AuthNone, nil
	}
	return model.AuthMethod(n), nil
}

func (p *Preferences) SetAuthMethod(ctx context.Context, m model.AuthMethod) error {
	if m == model.AuthNone {
		return p.ClearAuthMethod(ctx)
	}
	if err := p.kv.Set(ctx, KeyAuthMethod, []byte(strconv.Itoa(int(m)))); err != nil {
		return fmt.Errorf("repository: saving auth method: %w", err)
	}
	return nil
}

func (p *Preferences) ClearAuthMethod(ctx context.Context) error {
	if err := p.kv.Delete(ctx, KeyAuthMethod); err != nil {
		return fmt.Errorf("repository: clearing auth method: %w", err)
	}
	return nil
}

// PendingGame returns the unacknowledged play result, or nil when there is none.
// A corrupt record is reported as an error rather than silently dropped: it
// is the only evidence that a bet was placed.
func (p *Preferences) PendingGame(ctx context.Context) (*model.PendingGameResult, error) {
	raw, err := p.kv.Get(ctx, KeyPendingGame)
	if errors.Is(err, apperror.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("repository: reading pending game: %w", err)
	}
	var result model.PendingGameResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, fmt.Errorf("repository: decoding pending game: %w", err)
	}
	return &result, nil
}

func (p *Preferences) SavePendingGame(ctx context.Context, result model.PendingGameResult) error {
	raw, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("repository: encoding pending game %d: %w", result.GameID, err)
	}
	if err := p.kv.Set(ctx, KeyPendingGame, raw); err != nil {
		return fmt.Errorf("repository: saving pending game %d: %w", result.GameID, err)
	}
	return nil
}

func (p *Preferences) ClearPendingGame(ctx context.Context) error {
	if err := p.kv.Delete(ctx, KeyPendingGame); err != nil {
		return fmt.Errorf("repository: clearing pending game: %w", err)
	}
	return nil
}

// DeviceID returns the installation's stable identifier, generating and
// persisting one on first use.
func (p *Preferences) DeviceID(ctx context.Context) (string, error) {
	raw, err := p.kv.Get(ctx, KeyDeviceID)
	if err == nil && len(raw) > 0 {
		return string(raw), nil
	}
	if err != nil && !errors.Is(err, apperror.ErrNotFound) {
		return "", fmt.Errorf("repository: reading device id: %w", err)
	}

	id := xid.New().String()
	if err := p.kv.Set(ctx, KeyDeviceID, []byte(id)); err != nil {
		return "", fmt.Errorf("repository: saving device id: %w", err)
	}
	return id, nil
}

// GoogleRefreshToken returns the stored Google refresh token, or "".
func (p *Preferences) GoogleRefreshToken(ctx context.Context) (string, error) {
	raw, err := p.kv.Get(ctx, KeyGoogleToken)
	if errors.Is(err, apperror.ErrNotFound) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("repository: reading google refresh token: %w", err)
	}
	return string(raw), nil
}

func (p *Preferences) SetGoogleRefreshToken(ctx context.Context, token string) error {
	if err := p.kv.Set(ctx, KeyGoogleToken, []byte(token)); err != nil {
		return fmt.Errorf("repository: saving google refresh token: %w", err)
	}
	return nil
}

func (p *Preferences) ClearGoogleRefreshToken(ctx context.Context) error {
	if err := p.kv.Delete(ctx, KeyGoogleToken); err != nil {
		return fmt.Errorf("repository: clearing google refresh token: %w", err)
	}
	return nil
}
