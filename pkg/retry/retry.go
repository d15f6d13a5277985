// Package retry wraps fallible operations with exponential backoff, capped
// delay, jitter and pluggable retryability classification.
package retry

import (
	"context"
	"errors"
	"math"
	"net"
	"strings"
	"time"

	goretry "github.com/sethvargo/go-retry"
)

const jitterPercent = 25

// Options controls how an operation is retried. Zero values fall back to
// conservative defaults.
type Options struct {
	MaxRetries uint64
	BaseDelay  time.Duration
	MaxDelay   time.Duration
	Multiplier float64
	// IsRetryable classifies errors; nil means DefaultRetryable.
	IsRetryable func(error) bool
}

func (o Options) withDefaults() Options {
	if o.MaxRetries == 0 {
		o.MaxRetries = 3
	}
	if o.BaseDelay <= 0 {
		o.BaseDelay = time.Second
	}
	if o.MaxDelay <= 0 {
		o.MaxDelay = 30 * time.Second
	}
	if o.Multiplier < 1 {
		o.Multiplier = 2
	}
	if o.IsRetryable == nil {
		o.IsRetryable = DefaultRetryable
	}
	return o
}

// backoff builds the delay schedule: baseDelay * multiplier^n capped at
// MaxDelay, with up to ±25% jitter so concurrent dispatches do not retry in
// lockstep.
func (o Options) backoff() goretry.Backoff {
	attempt := 0
	var b goretry.Backoff = goretry.BackoffFunc(func() (time.Duration, bool) {
		delay := time.Duration(float64(o.BaseDelay) * math.Pow(o.Multiplier, float64(attempt)))
		attempt++
		if delay < 0 {
			delay = o.MaxDelay
		}
		return delay, false
	})
	b = goretry.WithCappedDuration(o.MaxDelay, b)
	b = goretry.WithJitterPercent(jitterPercent, b)
	b = goretry.WithMaxRetries(o.MaxRetries, b)
	return b
}

// Do runs op until it succeeds, a non-retryable error occurs, or retries are
// exhausted. It reports the number of attempts made alongside the result.
func Do[T any](ctx context.Context, opts Options, op func(ctx context.Context) (T, error)) (T, int, error) {
	opts = opts.withDefaults()
	var out T
	attempts := 0
	err := goretry.Do(ctx, opts.backoff(), func(ctx context.Context) error {
		attempts++
		value, err := op(ctx)
		if err != nil {
			if opts.IsRetryable(err) {
				return goretry.RetryableError(err)
			}
			return err
		}
		out = value
		return nil
	})
	if err != nil {
		var zero T
		return zero, attempts, err
	}
	return out, attempts, nil
}

var transientSignatures = []string{
	"rate limit",
	"timeout",
	"timed out",
	"connection reset",
	"connection refused",
	"temporarily unavailable",
	"429",
	"502",
	"503",
	"504",
}

var permanentSignatures = []string{
	"401",
	"404",
	"422",
	"unauthorized",
	"not found",
	"unprocessable",
}

// DefaultRetryable treats rate-limit and transient-network failures as
// retryable, authentication/validation/not-found failures as permanent, and
// anything unidentified as retryable.
func DefaultRetryable(err error) bool {
	if err == nil {
		return false
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	msg := strings.ToLower(err.Error())
	for _, sig := range permanentSignatures {
		if strings.Contains(msg, sig) {
			return false
		}
	}
	for _, sig := range transientSignatures {
		if strings.Contains(msg, sig) {
			return true
		}
	}
	return true
}
