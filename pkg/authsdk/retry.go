package authsdk

import (
	"time"

	"github.com/cenkalti/backoff/v4"
	"golang.org/x/time/rate"
)

// RetryPolicy bounds background refresh retries. After MaxAttempts
// consecutive failures the Manager forces a logout.
type RetryPolicy struct {
	MaxAttempts     int
	InitialInterval time.Duration
	MaxInterval     time.Duration
	Multiplier      float64

	// Jitter is the randomization factor applied to every interval, in [0, 1).
	Jitter float64

	// MinSpacing is the shortest time between two refresh calls, whatever
	// triggered them.
	MinSpacing time.Duration
}

// DefaultRetryPolicy allows five attempts, one second apart at first and
// doubling up to thirty seconds.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:     5,
		InitialInterval: time.Second,
		MaxInterval:     30 * time.Second,
		Multiplier:      2,
		Jitter:          0.2,
		MinSpacing:      time.Second,
	}
}

func (p RetryPolicy) withDefaults() RetryPolicy {
	def := DefaultRetryPolicy()
	if p == (RetryPolicy{}) {
		return def
	}
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = def.MaxAttempts
	}
	if p.InitialInterval <= 0 {
		p.InitialInterval = def.InitialInterval
	}
	if p.MaxInterval <= 0 {
		p.MaxInterval = def.MaxInterval
	}
	if p.Multiplier < 1 {
		p.Multiplier = def.Multiplier
	}
	if p.Jitter < 0 || p.Jitter >= 1 {
		p.Jitter = def.Jitter
	}
	if p.MinSpacing <= 0 {
		p.MinSpacing = def.MinSpacing
	}
	return p
}

// newBackOff returns a fresh schedule. NextBackOff yields backoff.Stop once
// MaxAttempts-1 retries have been handed out.
func (p RetryPolicy) newBackOff(clock Clock) backoff.BackOff {
	b := &backoff.ExponentialBackOff{
		InitialInterval:     p.InitialInterval,
		RandomizationFactor: p.Jitter,
		Multiplier:          p.Multiplier,
		MaxInterval:         p.MaxInterval,
		MaxElapsedTime:      0,
		Stop:                backoff.Stop,
		Clock:               clock,
	}
	b.Reset()
	return backoff.WithMaxRetries(b, uint64(p.MaxAttempts-1))
}

func (p RetryPolicy) newLimiter() *rate.Limiter {
	return rate.NewLimiter(rate.Every(p.MinSpacing), 1)
}
