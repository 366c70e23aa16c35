package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/sakif/keno-client/internal/apperror"
)

// RetryPolicy applies to idempotent GET stages only. Attempts after the first
// wait Backoff, 2*Backoff, ... and happen only on apperror.ErrTransport.
type RetryPolicy struct {
	Retries int
	Backoff time.Duration
}

func retryFetch[T any](ctx context.Context, p RetryPolicy, logger *slog.Logger, what string, fn func(context.Context) (T, error)) (T, error) {
	var zero T
	for attempt := 0; ; attempt++ {
		v, err := fn(ctx)
		if err == nil {
			return v, nil
		}
		if !errors.Is(err, apperror.ErrTransport) || attempt >= p.Retries {
			return zero, err
		}

		wait := p.Backoff * time.Duration(attempt+1)
		logger.Warn("retrying fetch",
			slog.String("fetch", what),
			slog.Int("attempt", attempt+1),
			slog.Duration("wait", wait),
			slog.String("error", err.Error()),
		)
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return zero, err
		case <-timer.C:
		}
	}
}
