package connection

import (
	"math"
	"time"
)

// ReconnectConfig is an exponential backoff policy with a ceiling.
type ReconnectConfig struct {
	InitialDelay time.Duration
	Multiplier   float64
	MaxDelay     time.Duration
}

// DefaultReconnectConfig returns 1s doubling up to 30s.
func DefaultReconnectConfig() ReconnectConfig {
	return ReconnectConfig{
		InitialDelay: time.Second,
		Multiplier:   2.0,
		MaxDelay:     30 * time.Second,
	}
}

// Delay returns the wait before the given zero-based attempt:
// min(InitialDelay * Multiplier^attempt, MaxDelay).
func (c ReconnectConfig) Delay(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	mult := c.Multiplier
	if mult < 1 {
		mult = 1
	}

	d := float64(c.InitialDelay) * math.Pow(mult, float64(attempt))
	if math.IsInf(d, 0) || math.IsNaN(d) || d >= float64(c.MaxDelay) {
		return c.MaxDelay
	}
	return time.Duration(d)
}
