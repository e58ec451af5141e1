// Package caller runs network operations with bounded concurrency and
// retries. Every call to a language model or a tool goes through a Caller.
package caller

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"time"

	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"

	"github.com/nstogner/padawan/pkg/telemetry"
)

// Config controls concurrency and retry behavior.
type Config struct {
	// Concurrency caps in-flight attempts across all callers sharing this
	// Caller. Excess attempts wait in FIFO order. Zero or less means no cap.
	Concurrency int
	// MaxRetries is the number of retries after the first attempt.
	MaxRetries int
	// BaseDelay is the delay before the first retry. It doubles per retry.
	BaseDelay time.Duration
	// MaxDelay caps the backoff delay.
	MaxDelay time.Duration
	// RatePerSecond optionally limits how often attempts may start. Zero disables it.
	RatePerSecond float64
	Burst         int
}

// DefaultConfig returns the defaults used when nothing is configured.
func DefaultConfig() Config {
	return Config{
		Concurrency: 8,
		MaxRetries:  6,
		BaseDelay:   500 * time.Millisecond,
		MaxDelay:    30 * time.Second,
	}
}

// Caller executes operations, retrying retryable failures with randomized
// exponential backoff.
type Caller struct {
	cfg     Config
	sem     *semaphore.Weighted
	limiter *rate.Limiter
	metrics *telemetry.Metrics
	sleep   func(context.Context, time.Duration) error
}

// Option customizes a Caller.
type Option func(*Caller)

// WithMetrics records call outcomes and retries.
func WithMetrics(m *telemetry.Metrics) Option {
	return func(c *Caller) { c.metrics = m }
}

// WithSleep replaces the function used to wait between attempts. Tests use it
// to avoid real delays.
func WithSleep(fn func(context.Context, time.Duration) error) Option {
	return func(c *Caller) { c.sleep = fn }
}

// New creates a Caller.
func New(cfg Config, opts ...Option) *Caller {
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = DefaultConfig().BaseDelay
	}
	if cfg.MaxDelay < cfg.BaseDelay {
		cfg.MaxDelay = cfg.BaseDelay
	}

	c := &Caller{cfg: cfg, sleep: sleepContext}
	if cfg.Concurrency > 0 {
		c.sem = semaphore.NewWeighted(int64(cfg.Concurrency))
	}
	if cfg.RatePerSecond > 0 {
		burst := cfg.Burst
		if burst <= 0 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSecond), burst)
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Do runs op until it succeeds, fails with a non-retryable error, or the
// retry budget is spent. kind labels the call in logs and metrics (e.g.
// "llm", "tool"). Failures are returned as *Error.
func (c *Caller) Do(ctx context.Context, kind string, op func(context.Context) error) error {
	for attempt := 0; ; attempt++ {
		err := c.attempt(ctx, op)
		if err == nil {
			c.metrics.ObserveCall(kind, "ok")
			return nil
		}

		class := Classify(err)
		if class == NonRetryable || attempt >= c.cfg.MaxRetries {
			c.metrics.ObserveCall(kind, class.String())
			return &Error{Class: class, Attempts: attempt + 1, Err: err}
		}

		delay := backoffWithJitter(c.cfg.BaseDelay, c.cfg.MaxDelay, attempt)
		slog.Debug("Retrying call", "kind", kind, "attempt", attempt+1, "delay", delay, "error", err)
		c.metrics.ObserveRetry(kind)

		if serr := c.sleep(ctx, delay); serr != nil {
			c.metrics.ObserveCall(kind, NonRetryable.String())
			return &Error{Class: NonRetryable, Attempts: attempt + 1, Err: fmt.Errorf("%w (last error: %v)", serr, err)}
		}
	}
}

// Call is Do for operations that produce a value.
func Call[T any](ctx context.Context, c *Caller, kind string, op func(context.Context) (T, error)) (T, error) {
	var result T
	err := c.Do(ctx, kind, func(ctx context.Context) error {
		v, err := op(ctx)
		if err != nil {
			return err
		}
		result = v
		return nil
	})
	return result, err
}

func (c *Caller) attempt(ctx context.Context, op func(context.Context) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if c.sem != nil {
		if err := c.sem.Acquire(ctx, 1); err != nil {
			return err
		}
		defer c.sem.Release(1)
	}
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return Permanent(err)
		}
	}
	c.metrics.AddInFlight(1)
	defer c.metrics.AddInFlight(-1)
	return op(ctx)
}

// backoffWithJitter computes min(base * 2^attempt, max) with +/-25% jitter.
func backoffWithJitter(base, max time.Duration, attempt int) time.Duration {
	delay := max
	if attempt < 30 {
		if d := base << uint(attempt); d > 0 && d < max {
			delay = d
		}
	}

	quarter := delay / 4
	if quarter > 0 {
		delay += time.Duration(rand.Int64N(int64(quarter*2))) - quarter
	}
	return delay
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
