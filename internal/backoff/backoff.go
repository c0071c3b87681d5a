// Package backoff holds the named retry policies used by every external call.
package backoff

import (
	"context"
	"math/rand/v2"
	"time"

	"github.com/sethvargo/go-retry"
)

// Policy describes a bounded, jittered exponential retry.
type Policy struct {
	// MaxRetries is the number of retries after the first attempt.
	MaxRetries uint64
	// Base is the first backoff interval; it doubles per retry.
	Base time.Duration
	// Max caps a single backoff interval. Zero means uncapped.
	Max time.Duration
	// Jitter adds up to this much random delay to each interval.
	Jitter time.Duration
	// PreDelay is the upper bound of a random pause before the first attempt,
	// used for backends that rate-limit bursts.
	PreDelay time.Duration
}

var (
	// SearchPolicy suits cooperative APIs such as Wikimedia.
	SearchPolicy = Policy{MaxRetries: 1, Base: 500 * time.Millisecond, Max: 2 * time.Second, Jitter: 100 * time.Millisecond, PreDelay: 100 * time.Millisecond}
	// RateLimitedPolicy suits scraped endpoints that answer bursts with 202/403.
	RateLimitedPolicy = Policy{MaxRetries: 2, Base: 2 * time.Second, Max: 8 * time.Second, Jitter: time.Second, PreDelay: time.Second}
	// DownloadPolicy retries a single candidate once before moving on.
	DownloadPolicy = Policy{MaxRetries: 1, Base: 250 * time.Millisecond, Max: time.Second, Jitter: 100 * time.Millisecond}
	// LLMPolicy retries transient completion failures.
	LLMPolicy = Policy{MaxRetries: 2, Base: time.Second, Max: 10 * time.Second, Jitter: 250 * time.Millisecond}
	// None makes exactly one attempt.
	None = Policy{}
)

// Backoff builds the go-retry backoff for p.
func (p Policy) Backoff() retry.Backoff {
	base := p.Base
	if base <= 0 {
		base = time.Millisecond
	}
	b := retry.NewExponential(base)
	if p.Max > 0 {
		b = retry.WithCappedDuration(p.Max, b)
	}
	if p.Jitter > 0 {
		b = retry.WithJitter(p.Jitter, b)
	}
	return retry.WithMaxRetries(p.MaxRetries, b)
}

// Do runs fn under p. Only errors wrapped with Retryable are retried.
func Do(ctx context.Context, p Policy, fn func(ctx context.Context) error) error {
	if p.PreDelay > 0 {
		if err := Sleep(ctx, randomDuration(p.PreDelay)); err != nil {
			return err
		}
	}
	return retry.Do(ctx, p.Backoff(), fn)
}

// Retryable marks err as transient.
func Retryable(err error) error {
	return retry.RetryableError(err)
}

// Sleep waits for d or until ctx is done.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func randomDuration(upTo time.Duration) time.Duration {
	if upTo <= 0 {
		return 0
	}
	return time.Duration(rand.Int64N(int64(upTo)))
}
