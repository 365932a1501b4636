package worker

import (
	"math"
	"math/rand"
	"time"
)

// ExponentialBackoff maps attempt 0,1,2,... to 2s, 4s, 8s, ... capped at
// five minutes, plus up to 250ms of jitter so workers don't retry in lockstep.
func ExponentialBackoff(attempt int) time.Duration {
	base := 2 * time.Second
	capDelay := 5 * time.Minute

	if attempt < 0 {
		attempt = 0
	}

	multiple := math.Pow(2, float64(attempt))
	delay := time.Duration(float64(base) * multiple)

	if delay > capDelay || delay <= 0 {
		delay = capDelay
	}

	delay += time.Duration(rand.Intn(250)) * time.Millisecond
	return delay
}
