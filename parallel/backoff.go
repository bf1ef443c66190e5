package parallel

import (
	"context"
	"math/rand"
	"time"
)

// computeBackoff returns the delay before reexecution number attempt
// (zero-based):
//
//	delay = min(base * 2^attempt, maxDelay) + jitter(0, base)
//
// A non-positive base disables the delay entirely.
func computeBackoff(attempt int, base, maxDelay time.Duration, rng *rand.Rand) time.Duration {
	if base <= 0 {
		return 0
	}

	exponential := base
	for i := 0; i < attempt && i < 30 && (maxDelay <= 0 || exponential < maxDelay); i++ {
		exponential *= 2
	}
	if maxDelay > 0 && exponential > maxDelay {
		exponential = maxDelay
	}

	var jitter time.Duration
	if rng != nil {
		jitter = time.Duration(rng.Int63n(int64(base)))
	}
	return exponential + jitter
}

// sleep waits for d or until ctx is done.
func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
