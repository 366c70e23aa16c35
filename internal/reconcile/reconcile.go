// Package reconcile guarantees that every game the backend has played is
// eventually acknowledged with /game/complete.
//
// WRITE-AHEAD PROTOCOL:
//
//	/game/play succeeds ─► RecordPendingResult (durable) ─► result shown to player
//	                                  │
//	          crash / network loss    │
//	                                  ▼
//	next login ─► Reconcile ─► /game/complete ─► balance applied ─► marker cleared
//
// The marker is cleared only after the backend confirms, so a failure at any
// point leaves it in place for the next attempt. Reconcile itself never
// retries: one attempt per call.
package reconcile

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/sakif/keno-client/internal/model"
	"github.com/sakif/keno-client/internal/repository"
	"github.com/sakif/keno-client/internal/session"
	"github.com/sakif/keno-client/internal/wallet"
)

// Completer acknowledges a game with the backend. *api.Client satisfies it.
type Completer interface {
	Complete(ctx context.Context, sessionID, gameID int) (*model.CompleteResult, error)
}

type Reconciler struct {
	prefs  *repository.Preferences
	api    Completer
	store  *session.Store
	wallet *wallet.Synchronizer
	logger *slog.Logger
}

func NewReconciler(
	prefs *repository.Preferences,
	api Completer,
	store *session.Store,
	wallet *wallet.Synchronizer,
	logger *slog.Logger,
) *Reconciler {
	return &Reconciler{
		prefs:  prefs,
		api:    api,
		store:  store,
		wallet: wallet,
		logger: logger,
	}
}

// RecordPendingResult durably stores result. It returns only after the write
// is durable.
func (r *Reconciler) RecordPendingResult(ctx context.Context, result model.PendingGameResult) error {
	if err := r.prefs.SavePendingGame(ctx, result); err != nil {
		return fmt.Errorf("reconcile: recording game %d: %w", result.GameID, err)
	}
	r.logger.Info("pending game recorded", slog.Int("gameID", result.GameID))
	return nil
}

// Pending returns the unacknowledged result, or nil.
func (r *Reconciler) Pending(ctx context.Context) (*model.PendingGameResult, error) {
	p, err := r.prefs.PendingGame(ctx)
	if err != nil {
		return nil, fmt.Errorf("reconcile: %w", err)
	}
	return p, nil
}

// ClearPendingResult removes the marker. Call it only after the backend has
// confirmed completion.
func (r *Reconciler) ClearPendingResult(ctx context.Context) error {
	if err := r.prefs.ClearPendingGame(ctx); err != nil {
		return fmt.Errorf("reconcile: %w", err)
	}
	return nil
}

// Reconcile completes the pending game, if any, with exactly one
// /game/complete. It reports whether a game was completed.
func (r *Reconciler) Reconcile(ctx context.Context, sessionID int) (bool, error) {
	pending, err := r.Pending(ctx)
	if err != nil {
		return false, err
	}
	if pending == nil {
		return false, nil
	}

	r.logger.Info("reconciling pending game", slog.Int("gameID", pending.GameID))
	if _, err := r.CompleteGame(ctx, sessionID, pending.GameID); err != nil {
		return false, err
	}
	return true, nil
}

// CompleteGame acknowledges gameID, applies the returned balance to the
// session, emits the balance delta and clears the marker when it refers to
// the same game. The bonus timer does not change on completion, so only the
// balance delta is emitted.
func (r *Reconciler) CompleteGame(ctx context.Context, sessionID, gameID int) (*model.CompleteResult, error) {
	res, err := r.api.Complete(ctx, sessionID, gameID)
	if err != nil {
		r.logger.Warn("completing game failed",
			slog.Int("gameID", gameID),
			slog.String("error", err.Error()),
		)
		return nil, fmt.Errorf("reconcile: completing game %d: %w", gameID, err)
	}

	prev, cur, ok := r.store.MutateBalance(func(b model.BalanceData) model.BalanceData {
		b.Balance = res.Balance
		b.TimeBonus = res.TimeBonus
		return b
	})
	if ok {
		r.wallet.EmitBalanceDelta(prev.Balance, cur.Balance)
	}

	pending, err := r.Pending(ctx)
	if err != nil {
		return res, err
	}
	if pending != nil && pending.GameID == gameID {
		if err := r.ClearPendingResult(ctx); err != nil {
			return res, err
		}
	}

	r.logger.Info("game completed", slog.Int("gameID", gameID), slog.Int("balance", res.Balance))
	return res, nil
}
