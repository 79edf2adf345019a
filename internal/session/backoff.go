package session

import (
	"math"
	"time"
)

// Backoff returns the delay before retry number attempt (1-based):
// min(base * 2^(attempt-1), ceiling). With base 1s and ceiling 5s the sequence is
// 1s, 2s, 4s, 5s, 5s...
func Backoff(attempt int, base, ceiling time.Duration) time.Duration {
	if base <= 0 {
		return 0
	}
	if ceiling < base {
		ceiling = base
	}
	if attempt < 1 {
		attempt = 1
	}

	d := base
	for i := 1; i < attempt; i++ {
		if d > math.MaxInt64/2 {
			return ceiling
		}
		d *= 2
		if d >= ceiling {
			return ceiling
		}
	}
	if d > ceiling {
		return ceiling
	}
	return d
}
