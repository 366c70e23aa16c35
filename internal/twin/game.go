package twin

import (
	"bytes"
	"image"
	"image/color"
	"image/png"
	"log/slog"
	"net/http"
	"slices"
	"strconv"
	"sync"

	"github.com/sakif/keno-client/internal/apperror"
	"github.com/sakif/keno-client/internal/model"
)

const (
	boardSize   = 80
	drawSize    = 20
	maxSelected = 10
)

// Products sold through /purchase, in coins.
var products = map[string]int{
	"coins_1000":  1000,
	"coins_5000":  5000,
	"coins_12000": 12000,
}

// Login opens a backend session for the provider account. The player profile
// is created on first login.
func (t *Twin) Login(localID, email, deviceID, platform string) (model.UserProfile, error) {
	if deviceID == "" {
		return model.UserProfile{}, apperror.ValidationFailed("DeviceId", "is required")
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	p, ok := t.players[localID]
	if !ok {
		t.nextUser++
		name := email
		if a, ok := t.accounts[localID]; ok && a.DisplayName != "" {
			name = a.DisplayName
		}
		p = &player{
			UserID:        t.nextUser,
			LocalID:       localID,
			Name:          name,
			Email:         email,
			Balance:       t.cfg.StartingBalance,
			TimeBonus:     t.cfg.TimeBonus,
			NextTimeBonus: t.now(),
		}
		t.players[localID] = p
	}

	t.nextSess++
	t.sessions[t.nextSess] = localID
	t.logger.Info("backend session opened",
		slog.Int("sessionID", t.nextSess),
		slog.Int("userID", p.UserID),
		slog.String("platform", platform),
	)
	return t.profileLocked(p, t.nextSess), nil
}

// Authorize resolves the caller's player. sessionID is optional; when set it
// must belong to localID.
func (t *Twin) Authorize(localID string, sessionID int) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, err := t.playerLocked(localID, sessionID)
	return err
}

func (t *Twin) Logout(localID string, sessionID int) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, err := t.playerLocked(localID, sessionID); err != nil {
		return err
	}
	delete(t.sessions, sessionID)
	return nil
}

// DeleteGameAccount drops the player, its sessions and its games.
func (t *Twin) DeleteGameAccount(localID string, sessionID int) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, err := t.playerLocked(localID, sessionID); err != nil {
		return err
	}
	delete(t.players, localID)
	for id, owner := range t.sessions {
		if owner == localID {
			delete(t.sessions, id)
		}
	}
	for id, g := range t.games {
		if g.LocalID == localID {
			delete(t.games, id)
		}
	}
	return nil
}

func (t *Twin) UpdateProfile(localID string, sessionID int, name, email string) (model.UserProfile, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	p, err := t.playerLocked(localID, sessionID)
	if err != nil {
		return model.UserProfile{}, err
	}
	if name == "" {
		return model.UserProfile{}, apperror.ValidationFailed("Name", "is required")
	}
	p.Name = name
	if email != "" {
		p.Email = email
	}
	return t.profileLocked(p, sessionID), nil
}

func (t *Twin) EnableEmails(localID string, sessionID int, enabled bool) (model.UserProfile, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	p, err := t.playerLocked(localID, sessionID)
	if err != nil {
		return model.UserProfile{}, err
	}
	p.EmailsEnabled = enabled
	return t.profileLocked(p, sessionID), nil
}

func (t *Twin) Balance(localID string, sessionID int) (model.BalanceData, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	p, err := t.playerLocked(localID, sessionID)
	if err != nil {
		return model.BalanceData{}, err
	}
	return model.BalanceData{Balance: p.Balance, TimeBonus: p.TimeBonus, NextTimeBonusUTC: p.NextTimeBonus}, nil
}

// Play takes the bet, draws and records an uncompleted game. The win is
// credited only by Complete.
func (t *Twin) Play(localID string, sessionID, bet int, selected []int) (model.GamePlayResponse, error) {
	if err := validatePicks(bet, selected); err != nil {
		return model.GamePlayResponse{}, err
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	p, err := t.playerLocked(localID, sessionID)
	if err != nil {
		return model.GamePlayResponse{}, err
	}
	if bet > p.Balance {
		return model.GamePlayResponse{}, apperror.Backend(http.StatusPaymentRequired, "")
	}

	drawn := t.drawLocked(drawSize, boardSize)
	var matched []int
	for _, n := range selected {
		if _, found := slices.BinarySearch(drawn, n); found {
			matched = append(matched, n)
		}
	}
	slices.Sort(matched)

	p.Balance -= bet
	t.nextGameID++
	g := &game{ID: t.nextGameID, LocalID: localID, Win: bet * rate(len(selected), len(matched))}
	t.games[g.ID] = g

	return model.GamePlayResponse{
		GameID:        g.ID,
		Bet:           bet,
		SelectedCards: slices.Clone(selected),
		DrawnCards:    drawn,
		MatchedCards:  matched,
		Win:           g.Win,
	}, nil
}

// Complete credits a game's win. Completing twice is a conflict.
func (t *Twin) Complete(localID string, sessionID, gameID int) (model.CompleteResult, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	p, err := t.playerLocked(localID, sessionID)
	if err != nil {
		return model.CompleteResult{}, err
	}
	g, ok := t.games[gameID]
	if !ok || g.LocalID != localID {
		return model.CompleteResult{}, apperror.NotFound("game", strconv.Itoa(gameID))
	}
	if g.Completed {
		return model.CompleteResult{}, apperror.Backend(http.StatusConflict, "")
	}
	g.Completed = true
	p.Balance += g.Win
	return model.CompleteResult{Balance: p.Balance, TimeBonus: p.TimeBonus}, nil
}

// ClaimTimeBonus credits the player's time bonus once its timer has elapsed.
// The amount sent by the client is informational.
func (t *Twin) ClaimTimeBonus(localID string, sessionID, _ int) (model.BalanceUpdate, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	p, err := t.playerLocked(localID, sessionID)
	if err != nil {
		return model.BalanceUpdate{}, err
	}
	now := t.now()
	if now.Before(p.NextTimeBonus) {
		return model.BalanceUpdate{}, apperror.Backend(http.StatusTooManyRequests, "")
	}
	p.Balance += p.TimeBonus
	p.NextTimeBonus = now.Add(t.cfg.BonusInterval)
	return model.BalanceUpdate{Balance: p.Balance, NextTimeBonusUTC: p.NextTimeBonus}, nil
}

// RegisterPurchase credits a store purchase. Each purchase token counts once.
func (t *Twin) RegisterPurchase(localID string, sessionID int, productID, purchaseToken string) (model.BalanceUpdate, error) {
	coins, ok := products[productID]
	if !ok {
		return model.BalanceUpdate{}, apperror.NotFound("product", productID)
	}
	if purchaseToken == "" {
		return model.BalanceUpdate{}, apperror.ValidationFailed("PurchaseToken", "is required")
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	p, err := t.playerLocked(localID, sessionID)
	if err != nil {
		return model.BalanceUpdate{}, err
	}
	if t.purchases[purchaseToken] {
		return model.BalanceUpdate{}, apperror.Backend(http.StatusConflict, "")
	}
	t.purchases[purchaseToken] = true
	p.Balance += coins
	return model.BalanceUpdate{Balance: p.Balance, NextTimeBonusUTC: p.NextTimeBonus}, nil
}

func (t *Twin) Ads(localID string, sessionID int) (model.AdsData, error) {
	if err := t.Authorize(localID, sessionID); err != nil {
		return model.AdsData{}, err
	}
	return model.AdsData{
		ID:          "twin-banner",
		FileName:    "banner.png",
		Source:      bannerPNG(),
		ContentType: "image/png",
	}, nil
}

var bannerPNG = sync.OnceValue(func() []byte {
	img := image.NewRGBA(image.Rect(0, 0, 8, 2))
	for x := range 8 {
		for y := range 2 {
			img.Set(x, y, color.RGBA{R: 0xf5, G: 0xb3, B: 0x01, A: 0xff})
		}
	}
	var buf bytes.Buffer
	_ = png.Encode(&buf, img)
	return buf.Bytes()
})

func validatePicks(bet int, selected []int) error {
	if bet <= 0 {
		return apperror.ValidationFailed("Bet", "must be positive")
	}
	if len(selected) == 0 || len(selected) > maxSelected {
		return apperror.ValidationFailed("Selected", "pick 1 to 10 numbers")
	}
	seen := make(map[int]bool, len(selected))
	for _, n := range selected {
		if n < 1 || n > boardSize {
			return apperror.ValidationFailed("Selected", "numbers must be between 1 and 80")
		}
		if seen[n] {
			return apperror.ValidationFailed("Selected", "numbers must be distinct")
		}
		seen[n] = true
	}
	return nil
}

// playerLocked returns the player for localID. A non-zero sessionID must be a
// live session of that player.
func (t *Twin) playerLocked(localID string, sessionID int) (*player, error) {
	p, ok := t.players[localID]
	if !ok {
		return nil, apperror.NotAuthenticated()
	}
	if sessionID != 0 && t.sessions[sessionID] != localID {
		return nil, apperror.NotAuthenticated()
	}
	return p, nil
}

func (t *Twin) profileLocked(p *player, sessionID int) model.UserProfile {
	return model.UserProfile{
		SessionID:     sessionID,
		UserID:        p.UserID,
		Name:          p.Name,
		Email:         p.Email,
		EmailsEnabled: p.EmailsEnabled,
	}
}
