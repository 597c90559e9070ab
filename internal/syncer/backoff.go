package syncer

import (
	"math/rand/v2"
	"time"
)

const (
	// MaxBackoff caps the delay before the next attempt, jitter excluded.
	MaxBackoff = 60 * time.Second

	// MaxJitter bounds the random delay added to every backoff.
	MaxJitter = 300 * time.Millisecond

	maxBackoffExponent = 6
)

// BaseBackoff returns the delay before attempt retryCount+1 without jitter:
// 1s, 2s, 4s, ... 32s, then 60s. retryCount counts failures so far and is
// treated as at least 1.
func BaseBackoff(retryCount int) time.Duration {
	exp := retryCount - 1
	if exp < 0 {
		exp = 0
	}
	if exp > maxBackoffExponent {
		exp = maxBackoffExponent
	}
	return min(MaxBackoff, time.Second<<exp)
}

// Backoff is BaseBackoff plus a random jitter in [0, MaxJitter).
func Backoff(retryCount int) time.Duration {
	return BaseBackoff(retryCount) + time.Duration(rand.Int64N(int64(MaxJitter)))
}
