package jobqueue

import "time"

// BackoffFunc returns the delay before the next run, given how many attempts
// have already been made (>= 1).
type BackoffFunc func(attempt int) time.Duration

// ExponentialBackoff doubles base on every attempt and caps the result at max.
func ExponentialBackoff(base, max time.Duration) BackoffFunc {
	if base <= 0 {
		base = 15 * time.Second
	}
	if max < base {
		max = base
	}
	return func(attempt int) time.Duration {
		if attempt < 1 {
			attempt = 1
		}
		d := base
		for i := 1; i < attempt; i++ {
			d *= 2
			if d >= max {
				return max
			}
		}
		return d
	}
}
