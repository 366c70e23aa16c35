// Package wallet turns balance snapshots into change events.
package wallet

import (
	"log/slog"
	"time"

	"github.com/sakif/keno-client/internal/events"
	"github.com/sakif/keno-client/internal/model"
)

// Synchronizer emits BalanceChanged and BonusTimerChanged on the bus.
type Synchronizer struct {
	bus    *events.Bus
	logger *slog.Logger
}

func NewSynchronizer(bus *events.Bus, logger *slog.Logger) *Synchronizer {
	return &Synchronizer{bus: bus, logger: logger}
}

// EmitBalanceDelta publishes previous → current. Change is current - previous.
func (s *Synchronizer) EmitBalanceDelta(previous, current int) {
	s.logger.Debug("balance changed",
		slog.Int("previous", previous),
		slog.Int("current", current),
	)
	s.bus.BalanceChanged.Publish(events.BalanceChanged{
		Previous: previous,
		Current:  current,
		Change:   current - previous,
	})
}

func (s *Synchronizer) EmitBonusTimerDelta(previous, current time.Time) {
	s.bus.BonusTimerChanged.Publish(events.BonusTimerChanged{Previous: previous, Current: current})
}

// Emit publishes both deltas between two snapshots.
func (s *Synchronizer) Emit(previous, current model.BalanceData) {
	s.EmitBalanceDelta(previous.Balance, current.Balance)
	s.EmitBonusTimerDelta(previous.NextTimeBonusUTC, current.NextTimeBonusUTC)
}
