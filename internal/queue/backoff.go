package queue

import "time"

// Backoff is an increasing retry schedule, clamped at its last step.
type Backoff []time.Duration

// DefaultBackoff is used when no schedule is configured.
var DefaultBackoff = Backoff{30 * time.Second, 60 * time.Second, 120 * time.Second}

// Delay returns the wait before retry number retried+1. retried counts the
// retries already made, so the first failure uses Delay(0).
func (b Backoff) Delay(retried int) time.Duration {
	if len(b) == 0 {
		b = DefaultBackoff
	}
	if retried < 0 {
		retried = 0
	}
	if retried >= len(b) {
		return b[len(b)-1]
	}
	return b[retried]
}

// Exhausted reports whether another attempt is pointless: either the retry
// budget is spent or the next attempt would start after deadline.
func (b Backoff) Exhausted(retried, maxRetry int, now, deadline time.Time) bool {
	if retried >= maxRetry {
		return true
	}
	if deadline.IsZero() {
		return false
	}
	return now.Add(b.Delay(retried)).After(deadline)
}
