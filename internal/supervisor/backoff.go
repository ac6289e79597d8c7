package supervisor

import "time"

// Reconnect schedule defaults. A connection that exhausts MaxAttempts
// stops permanently until its server is rediscovered.
const (
	DefaultBackoffBase = time.Second
	DefaultBackoffCap  = 30 * time.Second
	DefaultMaxAttempts = 10
)

// Delay returns the backoff delay before attempt n+1, where n counts
// completed attempts: min(base * 2^n, cap).
func Delay(n int, base, cap time.Duration) time.Duration {
	if n < 0 {
		n = 0
	}
	d := base
	for i := 0; i < n; i++ {
		d *= 2
		if d >= cap {
			return cap
		}
	}
	if d > cap {
		return cap
	}
	return d
}
