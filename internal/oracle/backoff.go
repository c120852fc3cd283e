package oracle

import (
	"math/rand/v2"
	"time"
)

// BackoffDelay computes the wait before retry number attempt (0-based: the
// wait taken before the second request has attempt 0). The base doubles per
// attempt, capped at max, with up to 50% random jitter added so concurrent
// extractions against the same oracle don't retry in lockstep.
func BackoffDelay(attempt int, base, max time.Duration) time.Duration {
	if base <= 0 {
		base = time.Second
	}
	if max <= 0 {
		max = 30 * time.Second
	}
	d := base
	for i := 0; i < attempt && d < max; i++ {
		d *= 2
	}
	if d > max {
		d = max
	}
	jitter := time.Duration(rand.Int64N(int64(d)/2 + 1))
	return d + jitter
}

// RateLimitDelay is the minimum wait after a rate-limit response: it grows
// linearly with the attempt number and is meant to exceed the generic
// backoff. Callers take the larger of the two.
func RateLimitDelay(attempt int, step time.Duration) time.Duration {
	if step <= 0 {
		step = 5 * time.Second
	}
	return time.Duration(attempt+1) * step
}
