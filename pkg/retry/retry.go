package retry

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"time"
)

var (
	// ErrMaxRetriesReached is wrapped into the last attempt's error once the
	// attempt budget is spent.
	ErrMaxRetriesReached = errors.New("max retries reached")
)

// Config holds the retry policy.
type Config struct {
	MaxAttempts         int           // total attempts, first call included
	AttemptTimeout      time.Duration // per attempt; zero means no limit
	InitialInterval     time.Duration // wait before the second attempt
	MaxInterval         time.Duration // cap on the wait
	Multiplier          float64       // 1 gives a fixed backoff
	RandomizationFactor float64       // jitter in [0,1]
}

// DefaultConfig returns an exponential backoff policy.
func DefaultConfig() *Config {
	return &Config{
		MaxAttempts:         3,
		AttemptTimeout:      10 * time.Second,
		InitialInterval:     100 * time.Millisecond,
		MaxInterval:         10 * time.Second,
		Multiplier:          2.0,
		RandomizationFactor: 0.5,
	}
}

// Fixed returns a policy that waits the same interval between attempts.
func Fixed(attempts int, timeout, interval time.Duration) *Config {
	return &Config{
		MaxAttempts:     attempts,
		AttemptTimeout:  timeout,
		InitialInterval: interval,
		MaxInterval:     interval,
		Multiplier:      1,
	}
}

// WithAttempts returns a copy of c limited to n attempts.
func (c *Config) WithAttempts(n int) *Config {
	cp := *c
	cp.MaxAttempts = n
	return &cp
}

// RetryFuncContext is one attempt. ctx carries the attempt timeout.
type RetryFuncContext func(ctx context.Context) error

type permanentError struct {
	err error
}

func (p *permanentError) Error() string { return p.err.Error() }
func (p *permanentError) Unwrap() error { return p.err }

// Permanent marks err as not worth retrying. DoWithContext returns the
// unwrapped error immediately.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// DoWithContext runs fn until it succeeds, returns a Permanent error, the
// attempts are exhausted or ctx is done.
func DoWithContext(ctx context.Context, fn RetryFuncContext, config *Config) error {
	if config == nil {
		config = DefaultConfig()
	}
	attempts := config.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	var err error
	nextInterval := config.InitialInterval

	for attempt := 1; attempt <= attempts; attempt++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		err = runAttempt(ctx, fn, config.AttemptTimeout)
		if err == nil {
			return nil
		}

		var perm *permanentError
		if errors.As(err, &perm) {
			return perm.err
		}

		if attempt == attempts {
			break
		}

		if attempt > 1 {
			nextInterval = calculateNextInterval(nextInterval, config)
		}
		wait := jitter(nextInterval, config)

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}

	return fmt.Errorf("%w after %d attempts: %w", ErrMaxRetriesReached, attempts, err)
}

func runAttempt(ctx context.Context, fn RetryFuncContext, timeout time.Duration) error {
	if timeout <= 0 {
		return fn(ctx)
	}
	attemptCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return fn(attemptCtx)
}

func calculateNextInterval(current time.Duration, config *Config) time.Duration {
	multiplier := config.Multiplier
	if multiplier <= 0 {
		multiplier = 1
	}
	interval := float64(current) * multiplier
	if config.MaxInterval > 0 {
		interval = math.Min(interval, float64(config.MaxInterval))
	}
	return time.Duration(interval)
}

func jitter(interval time.Duration, config *Config) time.Duration {
	if config.RandomizationFactor <= 0 {
		return interval
	}
	delta := config.RandomizationFactor * float64(interval)
	min := float64(interval) - delta
	out := min + rand.Float64()*(2*delta)
	if config.MaxInterval > 0 {
		out = math.Min(out, float64(config.MaxInterval))
	}
	return time.Duration(out)
}
