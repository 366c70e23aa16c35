package service

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/sakif/keno-client/internal/apperror"
	"github.com/sakif/keno-client/internal/model"
	"github.com/sakif/keno-client/internal/reconcile"
	"github.com/sakif/keno-client/internal/session"
	"github.com/sakif/keno-client/internal/wallet"
)

// Keno board limits.
const (
	BoardSize   = 80
	MaxSelected = 10
)

// GameBackend is the part of *api.Client used by GameService.
type GameBackend interface {
	Balance(ctx context.Context, sessionID int) (*model.BalanceData, error)
	GameTable(ctx context.Context, sessionID int) ([]model.HitRecord, error)
	Play(ctx context.Context, sessionID, bet int, selected []int) (*model.GamePlayResponse, error)
	ClaimTimeBonus(ctx context.Context, sessionID, timeBonus int) (*model.BalanceUpdate, error)
	RegisterPurchase(ctx context.Context, sessionID int, productID, purchaseToken string) (*model.BalanceUpdate, error)
	Ads(ctx context.Context, sessionID int) (*model.AdsData, error)
}

// GameService runs the operations of a READY session. Every call requires a
// session and none of them ends it on failure.
type GameService struct {
	backend    GameBackend
	store      *session.Store
	reconciler *reconcile.Reconciler
	wallet     *wallet.Synchronizer
	logger     *slog.Logger

	// mu serializes balance-changing calls so responses apply in call order.
	mu sync.Mutex
}

func NewGameService(
	backend GameBackend,
	store *session.Store,
	reconciler *reconcile.Reconciler,
	wallet *wallet.Synchronizer,
	logger *slog.Logger,
) *GameService {
	return &GameService{
		backend:    backend,
		store:      store,
		reconciler: reconciler,
		wallet:     wallet,
		logger:     logger,
	}
}

func (g *GameService) sessionID() (int, error) {
	if !g.store.IsAuthenticatedLocally() {
		return 0, apperror.NotAuthenticated()
	}
	return g.store.SessionID(), nil
}

// Play places a bet. The result is recorded durably before Play returns;
// while it is unacknowledged further plays are rejected with ErrPendingGame.
//
// If recording fails the backend has already played the game, so the
// response is returned together with the error.
func (g *GameService) Play(ctx context.Context, bet int, selected []int) (*model.GamePlayResponse, error) {
	sessionID, err := g.sessionID()
	if err != nil {
		return nil, err
	}
	if err := validatePlay(bet, selected); err != nil {
		return nil, err
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	pending, err := g.reconciler.Pending(ctx)
	if err != nil {
		return nil, fmt.Errorf("service: checking pending game: %w", err)
	}
	if pending != nil {
		return nil, apperror.PendingGame(pending.GameID)
	}

	res, err := g.backend.Play(ctx, sessionID, bet, selected)
	if err != nil {
		return nil, fmt.Errorf("service: playing: %w", err)
	}
	if err := g.reconciler.RecordPendingResult(context.WithoutCancel(ctx), *res); err != nil {
		g.logger.Error("game played but not recorded", slog.Int("gameID", res.GameID), slog.String("error", err.Error()))
		return res, err
	}

	g.logger.Info("game played",
		slog.Int("gameID", res.GameID),
		slog.Int("bet", res.Bet),
		slog.Int("matched", len(res.MatchedCards)),
		slog.Int("win", res.Win),
	)
	return res, nil
}

func validatePlay(bet int, selected []int) error {
	if bet <= 0 {
		return apperror.ValidationFailed("bet", "must be positive")
	}
	if len(selected) == 0 || len(selected) > MaxSelected {
		return apperror.ValidationFailed("selected", fmt.Sprintf("pick between 1 and %d numbers", MaxSelected))
	}
	seen := make(map[int]bool, len(selected))
	for _, n := range selected {
		if n < 1 || n > BoardSize {
			return apperror.ValidationFailed("selected", fmt.Sprintf("%d is not on the board", n))
		}
		if seen[n] {
			return apperror.ValidationFailed("selected", fmt.Sprintf("%d picked twice", n))
		}
		seen[n] = true
	}
	return nil
}

// Complete acknowledges gameID and applies the returned balance.
func (g *GameService) Complete(ctx context.Context, gameID int) (*model.CompleteResult, error) {
	sessionID, err := g.sessionID()
	if err != nil {
		return nil, err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.reconciler.CompleteGame(ctx, sessionID, gameID)
}

// CompletePending acknowledges the recorded game, if any, and reports
// whether there was one.
func (g *GameService) CompletePending(ctx context.Context) (bool, error) {
	sessionID, err := g.sessionID()
	if err != nil {
		return false, err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.reconciler.Reconcile(ctx, sessionID)
}

func (g *GameService) RefreshBalance(ctx context.Context) (model.BalanceData, error) {
	sessionID, err := g.sessionID()
	if err != nil {
		return model.BalanceData{}, err
	}
	g.mu.Lock()
	defer g.mu.Unlock()

	b, err := g.backend.Balance(ctx, sessionID)
	if err != nil {
		return model.BalanceData{}, fmt.Errorf("service: fetching balance: %w", err)
	}
	return g.apply(func(model.BalanceData) model.BalanceData { return *b })
}

// ClaimTimeBonus claims the current time bonus amount.
func (g *GameService) ClaimTimeBonus(ctx context.Context) (model.BalanceData, error) {
	sessionID, err := g.sessionID()
	if err != nil {
		return model.BalanceData{}, err
	}
	g.mu.Lock()
	defer g.mu.Unlock()

	upd, err := g.backend.ClaimTimeBonus(ctx, sessionID, g.store.Balance().TimeBonus)
	if err != nil {
		return model.BalanceData{}, fmt.Errorf("service: claiming time bonus: %w", err)
	}
	return g.apply(balanceUpdate(upd))
}

// RegisterPurchase reports a store purchase and credits the new balance.
func (g *GameService) RegisterPurchase(ctx context.Context, productID, purchaseToken string) (model.BalanceData, error) {
	sessionID, err := g.sessionID()
	if err != nil {
		return model.BalanceData{}, err
	}
	if productID == "" || purchaseToken == "" {
		return model.BalanceData{}, apperror.ValidationFailed("purchase", "product id and purchase token are required")
	}
	g.mu.Lock()
	defer g.mu.Unlock()

	upd, err := g.backend.RegisterPurchase(ctx, sessionID, productID, purchaseToken)
	if err != nil {
		return model.BalanceData{}, fmt.Errorf("service: registering purchase %s: %w", productID, err)
	}
	g.logger.Info("purchase registered", slog.String("productID", productID), slog.Int("balance", upd.Balance))
	return g.apply(balanceUpdate(upd))
}

// SpendCoins debits amount locally without asking the backend. The next
// authoritative balance overwrites it.
func (g *GameService) SpendCoins(amount int) (model.BalanceData, error) {
	if amount <= 0 {
		return model.BalanceData{}, apperror.ValidationFailed("amount", "must be positive")
	}
	g.mu.Lock()
	defer g.mu.Unlock()

	insufficient := false
	prev, cur, ok := g.store.MutateBalance(func(b model.BalanceData) model.BalanceData {
		if b.Balance < amount {
			insufficient = true
			return b
		}
		b.Balance -= amount
		return b
	})
	if !ok {
		return model.BalanceData{}, apperror.NotAuthenticated()
	}
	if insufficient {
		return cur, apperror.ValidationFailed("amount", fmt.Sprintf("balance %d is below %d", cur.Balance, amount))
	}
	g.wallet.EmitBalanceDelta(prev.Balance, cur.Balance)
	return cur, nil
}

// RefreshGameTable refetches the payout table.
func (g *GameService) RefreshGameTable(ctx context.Context) (model.HitTable, error) {
	sessionID, err := g.sessionID()
	if err != nil {
		return nil, err
	}
	records, err := g.backend.GameTable(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("service: fetching game table: %w", err)
	}
	t := model.NewHitTable(records)
	g.store.SetHitTable(t)
	return t, nil
}

func (g *GameService) Ads(ctx context.Context) (*model.AdsData, error) {
	sessionID, err := g.sessionID()
	if err != nil {
		return nil, err
	}
	ad, err := g.backend.Ads(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("service: fetching ads: %w", err)
	}
	return ad, nil
}

func (g *GameService) HitTable() model.HitTable {
	return g.store.HitTable()
}

// NextTimeBonus returns when the time bonus can next be claimed.
func (g *GameService) NextTimeBonus() time.Time {
	return g.store.Balance().NextTimeBonusUTC
}

// apply mutates the session balance and emits both deltas. Callers hold mu.
func (g *GameService) apply(fn func(model.BalanceData) model.BalanceData) (model.BalanceData, error) {
	prev, cur, ok := g.store.MutateBalance(fn)
	if !ok {
		return model.BalanceData{}, apperror.NotAuthenticated()
	}
	g.wallet.Emit(prev, cur)
	return cur, nil
}

func balanceUpdate(upd *model.BalanceUpdate) func(model.BalanceData) model.BalanceData {
	return func(b model.BalanceData) model.BalanceData {
		b.Balance = upd.Balance
		b.NextTimeBonusUTC = upd.NextTimeBonusUTC
		return b
	}
}
