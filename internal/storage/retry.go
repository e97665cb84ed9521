package storage

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// dialWithRetry calls dial up to 1+maxRetries times, doubling the wait after
// each failure. The last error is returned.
func dialWithRetry(ctx context.Context, maxRetries int, baseDelay time.Duration, logger *zap.Logger, dial func(context.Context) error) error {
	if maxRetries < 0 {
		maxRetries = 0
	}
	if baseDelay <= 0 {
		baseDelay = 100 * time.Millisecond
	}

	delay := baseDelay
	for attempt := 1; ; attempt++ {
		err := dial(ctx)
		if err == nil {
			return nil
		}
		if attempt > maxRetries {
			return err
		}
		logger.Warn("archive sink unavailable, retrying",
			zap.Int("attempt", attempt),
			zap.Duration("delay", delay),
			zap.Error(err),
		)

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
		delay *= 2
	}
}
