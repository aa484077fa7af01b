package view

import "time"

// backoff returns base * 2^retries capped at max, for the poll loop's
// failure handling. The cap comparison happens before the shift so a large
// base cannot overflow into a negative wait.
func backoff(base, max time.Duration, retries int) time.Duration {
	if retries <= 0 {
		return base
	}
	if retries >= 30 || base > max>>retries {
		return max
	}
	return base << retries
}
