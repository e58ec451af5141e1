package caller

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func noSleep(ctx context.Context, _ time.Duration) error { return ctx.Err() }

func newTestCaller(cfg Config) *Caller {
	return New(cfg, WithSleep(noSleep))
}

func TestCallRetriesUntilSuccess(t *testing.T) {
	c := newTestCaller(DefaultConfig())

	attempts := 0
	got, err := Call(context.Background(), c, "test", func(context.Context) (string, error) {
		attempts++
		if attempts < 3 {
			return "", fmt.Errorf("attempt %d failed", attempts)
		}
		return "ok", nil
	})
	if err != nil {
		t.Fatalf("Call: %v", err)
	}
	if attempts != 3 {
		t.Fatalf("attempts = %d, want 3", attempts)
	}
	if got != "ok" {
		t.Errorf("result = %q, want %q", got, "ok")
	}
}

func TestDoStopsOnClientError(t *testing.T) {
	c := newTestCaller(DefaultConfig())

	attempts := 0
	notFound := WithStatus(http.StatusNotFound, errors.New("not found"))
	err := c.Do(context.Background(), "test", func(context.Context) error {
		attempts++
		return notFound
	})
	if attempts != 1 {
		t.Fatalf("attempts = %d, want 1", attempts)
	}

	var cerr *Error
	if !errors.As(err, &cerr) {
		t.Fatalf("expected *Error, got %T", err)
	}
	if cerr.Class != NonRetryable || cerr.Attempts != 1 {
		t.Errorf("got class=%s attempts=%d", cerr.Class, cerr.Attempts)
	}
	if !errors.Is(err, notFound) {
		t.Error("expected the original error to be wrapped")
	}
}

func TestDoExhaustsRetries(t *testing.T) {
	cfg := DefaultConfig()
	c := newTestCaller(cfg)

	attempts := 0
	err := c.Do(context.Background(), "test", func(context.Context) error {
		attempts++
		return WithStatus(http.StatusServiceUnavailable, errors.New("unavailable"))
	})
	if attempts != cfg.MaxRetries+1 {
		t.Fatalf("attempts = %d, want %d", attempts, cfg.MaxRetries+1)
	}
	var cerr *Error
	if !errors.As(err, &cerr) || cerr.Class != Retryable {
		t.Fatalf("expected retryable *Error, got %v", err)
	}
}

func TestDoDoesNotRetryCancellation(t *testing.T) {
	c := newTestCaller(DefaultConfig())
	ctx, cancel := context.WithCancel(context.Background())

	attempts := 0
	err := c.Do(ctx, "test", func(context.Context) error {
		attempts++
		cancel()
		return context.Canceled
	})
	if attempts != 1 {
		t.Fatalf("attempts = %d, want 1", attempts)
	}
	if !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}

func TestDoPermanent(t *testing.T) {
	c := newTestCaller(DefaultConfig())
	attempts := 0
	err := c.Do(context.Background(), "test", func(context.Context) error {
		attempts++
		return Permanent(errors.New("bad template"))
	})
	if attempts != 1 {
		t.Fatalf("attempts = %d, want 1", attempts)
	}
	if Classify(err) != NonRetryable {
		t.Errorf("expected non-retryable, got %v", err)
	}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Class
	}{
		{"plain", errors.New("boom"), Retryable},
		{"400", WithStatus(400, errors.New("x")), NonRetryable},
		{"409", WithStatus(409, errors.New("x")), NonRetryable},
		{"410", WithStatus(410, errors.New("x")), Retryable},
		{"429", WithStatus(429, errors.New("x")), Retryable},
		{"500", WithStatus(500, errors.New("x")), Retryable},
		{"deadline", fmt.Errorf("wrapped: %w", context.DeadlineExceeded), NonRetryable},
		{"canceled", context.Canceled, NonRetryable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Classify(tt.err); got != tt.want {
				t.Errorf("Classify = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestConcurrencyCap(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Concurrency = 2
	c := newTestCaller(cfg)

	var inFlight, peak atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = c.Do(context.Background(), "test", func(context.Context) error {
				n := inFlight.Add(1)
				for {
					p := peak.Load()
					if n <= p || peak.CompareAndSwap(p, n) {
						break
					}
				}
				time.Sleep(5 * time.Millisecond)
				inFlight.Add(-1)
				return nil
			})
		}()
	}
	wg.Wait()

	if p := peak.Load(); p > 2 {
		t.Errorf("peak in-flight = %d, want <= 2", p)
	}
}

func TestBackoffWithJitterBounds(t *testing.T) {
	base, max := 100*time.Millisecond, time.Second
	for attempt := 0; attempt < 40; attempt++ {
		d := backoffWithJitter(base, max, attempt)
		if d < 0 || d > max+max/4 {
			t.Fatalf("attempt %d: delay %s out of bounds", attempt, d)
		}
	}
	if d := backoffWithJitter(base, max, 0); d < 75*time.Millisecond || d > 125*time.Millisecond {
		t.Errorf("first delay = %s, want 100ms +/- 25%%", d)
	}
}
