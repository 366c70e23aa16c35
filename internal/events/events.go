// Package events is the in-process notification channel the session core
// publishes on. Publishing is fire-and-forget: handlers run synchronously on
// the publisher's goroutine, in subscription order, and a panicking handler
// does not stop delivery to the others.
package events

import (
	"log/slog"
	"sync"
	"time"

	"github.com/sakif/keno-client/internal/model"
)

// Topic is a typed publish/subscribe channel. The zero value is ready to use.
type Topic[T any] struct {
	mu     sync.RWMutex
	nextID int
	subs   []subscriber[T]
	logger *slog.Logger
}

type subscriber[T any] struct {
	id int
	fn func(T)
}

// Subscribe registers fn and returns a function that removes it.
// Calling the returned function more than once is harmless.
func (t *Topic[T]) Subscribe(fn func(T)) (unsubscribe func()) {
	t.mu.Lock()
	t.nextID++
	id := t.nextID
	t.subs = append(t.subs, subscriber[T]{id: id, fn: fn})
	t.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			t.mu.Lock()
			defer t.mu.Unlock()
			for i, s := range t.subs {
				if s.id == id {
					t.subs = append(t.subs[:i:i], t.subs[i+1:]...)
					return
				}
			}
		})
	}
}

// Publish delivers v to every current subscriber.
func (t *Topic[T]) Publish(v T) {
	t.mu.RLock()
	subs := make([]subscriber[T], len(t.subs))
	copy(subs, t.subs)
	logger := t.logger
	t.mu.RUnlock()

	for _, s := range subs {
		t.deliver(s.fn, v, logger)
	}
}

// Subscribers reports how many handlers are registered.
func (t *Topic[T]) Subscribers() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.subs)
}

func (t *Topic[T]) deliver(fn func(T), v T, logger *slog.Logger) {
	defer func() {
		if r := recover(); r != nil && logger != nil {
			logger.Error("event handler panicked", slog.Any("panic", r))
		}
	}()
	fn(v)
}

func (t *Topic[T]) setLogger(l *slog.Logger) {
	t.mu.Lock()
	t.logger = l
	t.mu.Unlock()
}

// BalanceChanged carries a wallet balance transition. Change is always
// Current - Previous.
type BalanceChanged struct {
	Previous int `json:"previous"`
	Current  int `json:"current"`
	Change   int `json:"change"`
}

// BonusTimerChanged carries a transition of the next time-bonus instant.
type BonusTimerChanged struct {
	Previous time.Time `json:"previous"`
	Current  time.Time `json:"current"`
}

// ProviderInit reports whether the identity provider can be used.
type ProviderInit struct {
	Available bool `json:"available"`
}

// Logout is published after an explicit logout completes.
type Logout struct{}

// Bus groups every topic the client publishes.
type Bus struct {
	LoginCompleted        Topic[model.UserData]
	RegisterCompleted     Topic[model.UserData]
	LogoutCompleted       Topic[Logout]
	BalanceChanged        Topic[BalanceChanged]
	BonusTimerChanged     Topic[BonusTimerChanged]
	ProviderInitCompleted Topic[ProviderInit]
}

// NewBus returns a Bus whose topics log recovered handler panics to logger.
func NewBus(logger *slog.Logger) *Bus {
	b := &Bus{}
	b.LoginCompleted.setLogger(logger)
	b.RegisterCompleted.setLogger(logger)
	b.LogoutCompleted.setLogger(logger)
	b.BalanceChanged.setLogger(logger)
	b.BonusTimerChanged.setLogger(logger)
	b.ProviderInitCompleted.setLogger(logger)
	return b
}
