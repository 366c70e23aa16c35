package api

import (
	"context"
	"fmt"
	"strconv"

	"github.com/sakif/keno-client/internal/model"
)

// Backend paths.
const (
	PathLogin        = "/login"
	PathLogout       = "/logout"
	PathAccount      = "/account"
	PathProfile      = "/profile"
	PathEnableEmails = "/profile/enable-emails"
	PathGameTable    = "/game/table"
	PathBalance      = "/balance"
	PathPlay         = "/game/play"
	PathComplete     = "/game/complete"
	PathClaimBonus   = "/bonus/claim"
	PathPurchase     = "/purchase"
	PathAds          = "/ads"
)

// Request bodies. The backend expects PascalCase property names.
type (
	LoginRequest struct {
		DeviceID string `json:"DeviceId"`
		Platform string `json:"Platform"`
	}
	ProfileRequest struct {
		Name  string `json:"Name"`
		Email string `json:"Email"`
	}
	EnableEmailsRequest struct {
		EnableEmails bool `json:"EnableEmails"`
	}
	PlayRequest struct {
		Bet      int   `json:"Bet"`
		Selected []int `json:"Selected"`
	}
	CompleteRequest struct {
		GameID int `json:"GameId"`
	}
	ClaimBonusRequest struct {
		TimeBonus int `json:"TimeBonus"`
	}
	PurchaseRequest struct {
		ProductID     string `json:"ProductId"`
		PurchaseToken string `json:"PurchaseToken"`
	}
)

func sessionHeaders(sessionID int) map[string]string {
	if sessionID <= 0 {
		return nil
	}
	return map[string]string{HeaderSessionID: strconv.Itoa(sessionID)}
}

// decodeInto is the shared tail of every typed endpoint.
func decodeInto[T any](resp *Response, err error, what string) (*T, error) {
	if err != nil {
		return nil, err
	}
	var out T
	if err := resp.Decode(&out); err != nil {
		return nil, fmt.Errorf("api: %s: %w", what, err)
	}
	return &out, nil
}

// Login exchanges the provider ID token for a backend session. idToken is
// sent as the bearer; when empty the session token is used.
func (c *Client) Login(ctx context.Context, idToken, deviceID, platform string) (*model.UserProfile, error) {
	var headers map[string]string
	if idToken != "" {
		headers = map[string]string{HeaderAuthorization: "Bearer " + idToken}
	}
	resp, err := c.Post(ctx, PathLogin, headers, LoginRequest{DeviceID: deviceID, Platform: platform})
	return decodeInto[model.UserProfile](resp, err, "login")
}

func (c *Client) Logout(ctx context.Context, sessionID int) error {
	_, err := c.Post(ctx, PathLogout, sessionHeaders(sessionID), struct{}{})
	return err
}

func (c *Client) DeleteAccount(ctx context.Context, sessionID int) error {
	_, err := c.Delete(ctx, PathAccount, sessionHeaders(sessionID), struct{}{})
	return err
}

func (c *Client) UpdateProfile(ctx context.Context, sessionID int, name, email string) (*model.UserProfile, error) {
	resp, err := c.Post(ctx, PathProfile, sessionHeaders(sessionID), ProfileRequest{Name: name, Email: email})
	return decodeInto[model.UserProfile](resp, err, "update profile")
}

func (c *Client) EnableEmails(ctx context.Context, sessionID int, enabled bool) (*model.UserProfile, error) {
	resp, err := c.Post(ctx, PathEnableEmails, sessionHeaders(sessionID), EnableEmailsRequest{EnableEmails: enabled})
	return decodeInto[model.UserProfile](resp, err, "enable emails")
}

// GameTable returns the payout rows in the order the backend sent them.
func (c *Client) GameTable(ctx context.Context, sessionID int) ([]model.HitRecord, error) {
	resp, err := c.Get(ctx, PathGameTable, sessionHeaders(sessionID))
	rows, err := decodeInto[[]model.HitRecord](resp, err, "game table")
	if err != nil {
		return nil, err
	}
	return *rows, nil
}

func (c *Client) Balance(ctx context.Context, sessionID int) (*model.BalanceData, error) {
	resp, err := c.Get(ctx, PathBalance, sessionHeaders(sessionID))
	return decodeInto[model.BalanceData](resp, err, "balance")
}

func (c *Client) Play(ctx context.Context, sessionID, bet int, selected []int) (*model.GamePlayResponse, error) {
	resp, err := c.Post(ctx, PathPlay, sessionHeaders(sessionID), PlayRequest{Bet: bet, Selected: selected})
	return decodeInto[model.GamePlayResponse](resp, err, "play")
}

func (c *Client) Complete(ctx context.Context, sessionID, gameID int) (*model.CompleteResult, error) {
	resp, err := c.Post(ctx, PathComplete, sessionHeaders(sessionID), CompleteRequest{GameID: gameID})
	return decodeInto[model.CompleteResult](resp, err, "complete game")
}

func (c *Client) ClaimTimeBonus(ctx context.Context, sessionID, timeBonus int) (*model.BalanceUpdate, error) {
	resp, err := c.Post(ctx, PathClaimBonus, sessionHeaders(sessionID), ClaimBonusRequest{TimeBonus: timeBonus})
	return decodeInto[model.BalanceUpdate](resp, err, "claim time bonus")
}

func (c *Client) RegisterPurchase(ctx context.Context, sessionID int, productID, purchaseToken string) (*model.BalanceUpdate, error) {
	resp, err := c.Post(ctx, PathPurchase, sessionHeaders(sessionID), PurchaseRequest{ProductID: productID, PurchaseToken: purchaseToken})
	return decodeInto[model.BalanceUpdate](resp, err, "register purchase")
}

func (c *Client) Ads(ctx context.Context, sessionID int) (*model.AdsData, error) {
	resp, err := c.Get(ctx, PathAds, sessionHeaders(sessionID))
	return decodeInto[model.AdsData](resp, err, "ads")
}
