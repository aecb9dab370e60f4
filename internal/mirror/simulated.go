package mirror

import (
	"context"
	"time"
)

// Simulated is a provider that sleeps instead of transferring data.
// Used for dry runs and tests.
type Simulated struct {
	Delay time.Duration
}

// Sync waits for the configured delay or context cancellation
func (s Simulated) Sync(ctx context.Context) error {
	select {
	case <-time.After(s.Delay):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
