// ABOUTME: Exponential reconnect backoff with a cap and an attempt budget
// ABOUTME: Built from the reconnect section of the config

package connection

import (
	"time"

	"github.com/2389/chatsync/internal/config"
)

// Backoff describes the delay between reconnect attempts. The first retry
// waits Initial; each later one multiplies by Multiplier, capped at Max.
type Backoff struct {
	Initial    time.Duration
	Max        time.Duration
	Multiplier float64
	// MaxAttempts bounds consecutive failed attempts. Zero or negative
	// retries forever.
	MaxAttempts int
}

// BackoffFromConfig converts the reconnect config section.
func BackoffFromConfig(c config.ReconnectConfig) Backoff {
	return Backoff{
		Initial:     c.InitialDelay,
		Max:         c.MaxDelay,
		Multiplier:  c.Multiplier,
		MaxAttempts: c.MaxAttempts,
	}
}

// DefaultBackoff mirrors the config defaults.
func DefaultBackoff() Backoff {
	return BackoffFromConfig(config.Default().Reconnect)
}

// Next returns the delay that follows d.
func (b Backoff) Next(d time.Duration) time.Duration {
	mult := b.Multiplier
	if mult < 1 {
		mult = 1
	}
	next := time.Duration(float64(d) * mult)
	if b.Max > 0 && next > b.Max {
		return b.Max
	}
	return next
}

// Exhausted reports whether failures consecutive failures use up the budget.
func (b Backoff) Exhausted(failures int) bool {
	return b.MaxAttempts > 0 && failures >= b.MaxAttempts
}
