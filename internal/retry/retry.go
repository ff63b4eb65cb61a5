// Package retry wraps transient outbound operations in a capped exponential
// backoff with jitter. Validation, authorization, and not-found outcomes must
// be marked Permanent by the caller so they are never retried.
package retry

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
)

const DefaultAttempts = 3

type Options struct {
	Attempts        int
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

func (o Options) withDefaults() Options {
	if o.Attempts <= 0 {
		o.Attempts = DefaultAttempts
	}
	if o.InitialInterval <= 0 {
		o.InitialInterval = 100 * time.Millisecond
	}
	if o.MaxInterval <= 0 {
		o.MaxInterval = 2 * time.Second
	}
	return o
}

// Do runs op with default options.
func Do(ctx context.Context, op func() error) error {
	return DoWith(ctx, Options{}, op)
}

// DoWith runs op up to opts.Attempts times. The exponential backoff keeps its
// default randomization factor, so waits carry jitter.
func DoWith(ctx context.Context, opts Options, op func() error) error {
	opts = opts.withDefaults()
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = opts.InitialInterval
	bo.MaxInterval = opts.MaxInterval
	b := backoff.WithContext(backoff.WithMaxRetries(bo, uint64(opts.Attempts-1)), ctx)
	return backoff.Retry(op, b)
}

// Permanent marks err as non-retryable; Do returns it on the spot.
func Permanent(err error) error {
	return backoff.Permanent(err)
}
