package ws

import (
	"time"

	"github.com/cenkalti/backoff/v4"
)

// ReconnectPolicy bounds redial attempts after an abnormal drop.
// A zero MaxAttempts disables reconnection.
type ReconnectPolicy struct {
	MaxAttempts     int
	InitialInterval time.Duration
	MaxInterval     time.Duration
	Multiplier      float64
}

// Enabled reports whether the bridge redials after an abnormal drop.
func (p ReconnectPolicy) Enabled() bool {
	return p.MaxAttempts > 0
}

func (p ReconnectPolicy) backOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	if p.InitialInterval > 0 {
		b.InitialInterval = p.InitialInterval
	}
	if p.MaxInterval > 0 {
		b.MaxInterval = p.MaxInterval
	}
	if p.Multiplier > 0 {
		b.Multiplier = p.Multiplier
	}
	// Attempts, not elapsed time, bound the loop.
	b.MaxElapsedTime = 0
	b.Reset()

	return backoff.WithMaxRetries(b, uint64(p.MaxAttempts))
}
