package process

import "time"

// Backoff computes retry delays for supervisors.
//
// With Max unset (or equal to Base) the delay is fixed, which is what the
// logcat and service loops use. Max > Base gives exponential growth capped
// at Max.
type Backoff struct {
	Base       time.Duration
	Max        time.Duration
	Multiplier float64
}

// Fixed returns a constant backoff of d.
func Fixed(d time.Duration) Backoff {
	return Backoff{Base: d, Max: d}
}

// Delay returns the wait before retry number attempt (1-based).
func (b Backoff) Delay(attempt int) time.Duration {
	if b.Base <= 0 {
		return 0
	}
	if b.Max <= b.Base || attempt <= 1 {
		return b.Base
	}
	mult := b.Multiplier
	if mult <= 1 {
		mult = 2
	}
	delay := float64(b.Base)
	for i := 1; i < attempt; i++ {
		delay *= mult
		if delay >= float64(b.Max) {
			return b.Max
		}
	}
	return time.Duration(delay)
}
