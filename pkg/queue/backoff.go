package queue

import (
	"math/rand"
	"time"
)

// Backoff defaults. The first retry waits about BackoffBase, each further
// retry doubles, capped at BackoffMax.
const (
	DefaultBackoffBase = 30 * time.Second
	DefaultBackoffMax  = 30 * time.Minute
)

// backoffDelay computes the wait before retry attempt n (1-based):
// base doubled per attempt, plus jitter in [0, base/2), capped at max.
// Jitter keeps a burst of failures from thundering back in lockstep.
func backoffDelay(attempt int, base, max time.Duration, rng *rand.Rand) time.Duration {
	if attempt < 1 {
		attempt = 1
	}

	delay := base
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= max {
			delay = max
			break
		}
	}

	if rng != nil && base > 1 {
		delay += time.Duration(rng.Int63n(int64(base / 2)))
	}
	if delay > max {
		delay = max
	}
	return delay
}
