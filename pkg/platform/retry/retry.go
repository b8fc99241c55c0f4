// Package retry wraps cenkalti/backoff with the bounded policy the external
// clients share: exponential backoff, a small fixed attempt cap, and a
// permanent-error escape hatch for failures that must not be retried
// (auth errors, domain locked, validation).
package retry

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Policy bounds a retry loop. Zero values fall back to defaults.
type Policy struct {
	MaxAttempts     uint64
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

// DefaultPolicy matches the registrar/provider client requirements: a handful
// of attempts, never minutes of blocking.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts:     4,
		InitialInterval: 250 * time.Millisecond,
		MaxInterval:     5 * time.Second,
	}
}

func (p Policy) withDefaults() Policy {
	d := DefaultPolicy()
	if p.MaxAttempts == 0 {
		p.MaxAttempts = d.MaxAttempts
	}
	if p.InitialInterval == 0 {
		p.InitialInterval = d.InitialInterval
	}
	if p.MaxInterval == 0 {
		p.MaxInterval = d.MaxInterval
	}
	return p
}

// Permanent marks err as non-retryable; Do returns it immediately.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return backoff.Permanent(err)
}

// Do runs op with exponential backoff until it succeeds, returns a permanent
// error, exhausts the attempt cap, or ctx is done.
func Do(ctx context.Context, p Policy, op func() error) error {
	p = p.withDefaults()

	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = p.InitialInterval
	eb.MaxInterval = p.MaxInterval
	eb.MaxElapsedTime = 0 // bounded by attempt count, not wall clock

	b := backoff.WithContext(backoff.WithMaxRetries(eb, p.MaxAttempts-1), ctx)
	return backoff.Retry(op, b)
}
