// Package retry runs operations against external services with exponential backoff.
package retry

import (
	"context"
	"time"

	"github.com/googleapis/gax-go/v2"
	"github.com/rs/zerolog"

	"billextract/internal/billerr"
)

// Policy controls how often and how long an operation is retried.
type Policy struct {
	// MaxAttempts is the total number of attempts, including the first one.
	MaxAttempts int

	// Initial is the delay before the first retry.
	Initial time.Duration

	// Max caps the delay between attempts.
	Max time.Duration

	// Multiplier grows the delay after each retry.
	Multiplier float64

	// Retryable decides whether an error is worth another attempt.
	// Defaults to billerr.IsRetryable.
	Retryable func(error) bool
}

// DefaultPolicy returns the policy used for analysis and model calls.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts: 3,
		Initial:     time.Second,
		Max:         30 * time.Second,
		Multiplier:  2,
	}
}

// Do calls fn until it succeeds, returns a non-retryable error, the attempts
// are exhausted, or ctx is done. The last error is returned.
func Do(ctx context.Context, p Policy, log zerolog.Logger, op string, fn func(ctx context.Context) error) error {
	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}
	retryable := p.Retryable
	if retryable == nil {
		retryable = billerr.IsRetryable
	}

	bo := gax.Backoff{
		Initial:    p.Initial,
		Max:        p.Max,
		Multiplier: p.Multiplier,
	}

	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		err = fn(ctx)
		if err == nil {
			return nil
		}
		if !retryable(err) || attempt == attempts {
			return err
		}

		delay := bo.Pause()
		log.Warn().
			Err(err).
			Str("op", op).
			Int("attempt", attempt).
			Int("max_retries", attempts).
			Dur("backoff", delay).
			Msg("Retrying after transient failure")

		if sleepErr := gax.Sleep(ctx, delay); sleepErr != nil {
			return err
		}
	}
	return err
}
