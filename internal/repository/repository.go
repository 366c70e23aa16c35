// Package repository defines the durable key-value storage the client uses to
// survive process restarts, and the typed preferences layered on top of it.
package repository

import (
	"context"
)

// KeyValueStore is a process-wide persistent string map.
//
// Get returns an error wrapping apperror.ErrNotFound when the key is absent.
// Set must not return before the value is durable: callers rely on it as a
// write-ahead record (see Preferences.SavePendingGame).
type KeyValueStore interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
}
