package engine

import (
	"math/rand"
	"time"
)

// Default retry policy values.
const (
	DefaultMaxRetries     = 5
	DefaultInitialBackoff = 30 * time.Second
	DefaultMaxBackoff     = 8 * time.Minute
)

// Config holds the retry policy.
type Config struct {
	// MaxRetries is the attempt count at which a record is abandoned.
	MaxRetries int

	// InitialBackoff is the wait after the first failed attempt.
	InitialBackoff time.Duration

	// MaxBackoff caps the exponential growth.
	MaxBackoff time.Duration

	// Jitter is the relative variance applied to each wait, in [0, 1).
	// 0.2 spreads a 60s wait over 48s..72s. Zero disables jitter.
	Jitter float64
}

// DefaultConfig returns the default retry policy (no jitter).
func DefaultConfig() Config {
	return Config{
		MaxRetries:     DefaultMaxRetries,
		InitialBackoff: DefaultInitialBackoff,
		MaxBackoff:     DefaultMaxBackoff,
	}
}

// Backoff returns the minimum wait before the next attempt of a record that
// has already been attempted attempts times, without jitter.
func (c Config) Backoff(attempts int) time.Duration {
	if attempts <= 0 {
		return 0
	}
	d := c.InitialBackoff
	for i := 1; i < attempts; i++ {
		d *= 2
		if d >= c.MaxBackoff {
			return c.MaxBackoff
		}
	}
	if d > c.MaxBackoff {
		return c.MaxBackoff
	}
	return d
}

// jittered applies Jitter to d using r, a uniform sample in [0, 1).
func (c Config) jittered(d time.Duration, r float64) time.Duration {
	if c.Jitter <= 0 || d == 0 {
		return d
	}
	factor := 1 + c.Jitter*(2*r-1)
	return time.Duration(float64(d) * factor)
}

// defaultRand is the jitter source used outside tests.
func defaultRand() float64 {
	return rand.Float64()
}
