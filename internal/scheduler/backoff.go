package scheduler

import (
	"math/rand"
	"time"
)

// backoffDelay implements an exponential-with-jitter retry delay:
// retry_delay_ms · 2^attempt, jittered ±20%. A generic full-jitter retry
// helper (rand.Int63n(cur)) doesn't give this tighter ±20% band, so the
// growth/jitter math is implemented directly here.
func backoffDelay(baseMs int, attempt int) time.Duration {
	growth := float64(baseMs) * pow2(attempt)
	jitter := 0.8 + rand.Float64()*0.4 // uniform in [0.8, 1.2]
	return time.Duration(growth*jitter) * time.Millisecond
}

func pow2(attempt int) float64 {
	result := 1.0
	for i := 0; i < attempt; i++ {
		result *= 2
	}
	return result
}
