package resilience

import (
	"math/rand/v2"
	"time"
)

// Backoff is a bounded, jittered exponential delay schedule
//
//	delay(attempt) = min(Base * 2^attempt, Max) + uniform[0, Jitter)
type Backoff struct {
	// Base is the delay before the first retry (attempt 0)
	Base time.Duration
	// Max caps the exponential component
	Max time.Duration
	// Jitter is the width of the uniform random window added to every delay
	Jitter time.Duration
	// MaxAttempts bounds the number of retries; zero means unbounded
	MaxAttempts int

	random func() float64
}

// DefaultReconnectBackoff is the schedule used by the relay client
func DefaultReconnectBackoff() Backoff {
	return Backoff{
		Base:        time.Second,
		Max:         30 * time.Second,
		Jitter:      time.Second,
		MaxAttempts: 5,
	}
}

// WithRandom returns a copy using fn as its source of [0,1) values. Used by tests.
func (b Backoff) WithRandom(fn func() float64) Backoff {
	b.random = fn
	return b
}

// BaseDelay is the deterministic component of the delay for attempt
func (b Backoff) BaseDelay(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	delay := b.Base
	for i := 0; i < attempt; i++ {
		if delay >= b.Max || delay > b.Max/2 {
			return b.Max
		}
		delay *= 2
	}
	if delay > b.Max {
		return b.Max
	}
	return delay
}

// Delay is the full delay for attempt including jitter
func (b Backoff) Delay(attempt int) time.Duration {
	delay := b.BaseDelay(attempt)
	if b.Jitter > 0 {
		random := b.random
		if random == nil {
			random = rand.Float64
		}
		delay += time.Duration(random() * float64(b.Jitter))
	}
	return delay
}

// Exhausted reports whether attempt has reached MaxAttempts
func (b Backoff) Exhausted(attempt int) bool {
	return b.MaxAttempts > 0 && attempt >= b.MaxAttempts
}

// Ceiling is the largest delay the schedule can ever produce
func (b Backoff) Ceiling() time.Duration {
	return b.Max + b.Jitter
}
