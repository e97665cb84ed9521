package stream

import (
	"math"
	"math/rand"
	"time"
)

const jitterFraction = 0.3

// Backoff computes reconnect delays: interval * factor^(attempt-1) plus up to
// 30% jitter, capped at Max.
type Backoff struct {
	Interval time.Duration
	Factor   float64
	Max      time.Duration

	// rand returns a value in [0, 1); nil uses math/rand.
	rand func() float64
}

// Delay returns the wait before the given 1-based attempt.
func (b Backoff) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	factor := b.Factor
	if factor < 1 {
		factor = 1
	}
	base := float64(b.Interval) * math.Pow(factor, float64(attempt-1))
	r := b.rand
	if r == nil {
		r = rand.Float64
	}
	delay := base + base*jitterFraction*r()

	if b.Max > 0 && (delay > float64(b.Max) || math.IsInf(delay, 0) || math.IsNaN(delay)) {
		return b.Max
	}
	if delay > float64(math.MaxInt64) {
		return time.Duration(math.MaxInt64)
	}
	return time.Duration(delay)
}
