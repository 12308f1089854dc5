// Package executor runs outbound provider requests through named
// token buckets with throttling-aware retry. It is the only
// backpressure mechanism in the pipeline: every upstream call from the
// marketplace and history clients goes through Do.
package executor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"time"

	"golang.org/x/time/rate"

	"fba-scout/internal/config"
	"fba-scout/internal/logger"
	"fba-scout/internal/metrics"
)

// ErrRateLimitExhausted is returned when a bucket permit could not be
// acquired within the wait timeout. It is a transient per-request
// failure: callers may count it against their own retry budget.
var ErrRateLimitExhausted = errors.New("rate bucket exhausted")

// RequestFailedError is returned once the retry ceiling is reached.
type RequestFailedError struct {
	Class      string
	Attempts   int
	LastStatus int // 0 when the last failure was a transport error
	Err        error
}

func (e *RequestFailedError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: request failed after %d attempts: %v", e.Class, e.Attempts, e.Err)
	}
	return fmt.Sprintf("%s: request failed after %d attempts (last status %d)", e.Class, e.Attempts, e.LastStatus)
}

func (e *RequestFailedError) Unwrap() error { return e.Err }

// RetryPolicy decides how many attempts a request gets and how long to
// back off between them. Backoff receives the zero-based attempt that
// just failed and whether the provider throttled (429/503).
type RetryPolicy struct {
	MaxAttempts int
	Backoff     func(attempt int, throttled bool) time.Duration
}

// DefaultRetryPolicy implements the provider-recommended schedule:
// the Nth throttled failure (1-based) sleeps min(2^(N+1), 32) seconds
// scaled by a 0.8–1.2 jitter factor, so the sequence runs 4s, 8s, 16s,
// 32s; other failures sleep 2^attempt seconds. Backoff receives the
// zero-based attempt index as Do counts it.
func DefaultRetryPolicy(maxAttempts int, rng *rand.Rand) RetryPolicy {
	if maxAttempts <= 0 {
		maxAttempts = 5
	}
	return RetryPolicy{
		MaxAttempts: maxAttempts,
		Backoff: func(attempt int, throttled bool) time.Duration {
			if throttled {
				secs := math2pow(attempt + 2)
				if secs > 32 {
					secs = 32
				}
				jitter := 0.8 + 0.4*rng.Float64()
				return time.Duration(float64(time.Second) * secs * jitter)
			}
			return time.Duration(float64(time.Second) * math2pow(attempt))
		},
	}
}

func math2pow(n int) float64 {
	v := 1.0
	for i := 0; i < n; i++ {
		v *= 2
	}
	return v
}

// Executor is a shared, concurrency-safe request runner. The buckets
// are the only mutable state and rate.Limiter synchronizes internally.
type Executor struct {
	buckets     map[string]*rate.Limiter
	waitTimeout time.Duration
	policy      RetryPolicy
	client      *http.Client

	// sleep is swappable so retry schedules are testable without timers.
	sleep func(ctx context.Context, d time.Duration) error
}

// New builds an Executor from the configured bucket limits.
func New(settings *config.Settings) *Executor {
	buckets := make(map[string]*rate.Limiter, len(settings.Buckets))
	for class, b := range settings.Buckets {
		buckets[class] = rate.NewLimiter(rate.Limit(b.RefillRate), b.Capacity)
	}
	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	return &Executor{
		buckets:     buckets,
		waitTimeout: settings.BucketWaitTimeout,
		policy:      DefaultRetryPolicy(settings.MaxAttempts, rng),
		client:      &http.Client{Timeout: 30 * time.Second},
		sleep:       sleepCtx,
	}
}

// NewWithPolicy builds an Executor with an explicit policy, sleep
// function and HTTP client. Used by tests and by callers that need a
// custom transport.
func NewWithPolicy(settings *config.Settings, policy RetryPolicy, client *http.Client,
	sleep func(ctx context.Context, d time.Duration) error) *Executor {
	e := New(settings)
	e.policy = policy
	if client != nil {
		e.client = client
	}
	if sleep != nil {
		e.sleep = sleep
	}
	return e
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Do executes a request through the named bucket with retry. build is
// invoked once per attempt so authorization headers can rotate between
// retries (tokens may refresh mid-sequence). On success the response
// body is open and owned by the caller.
func (e *Executor) Do(ctx context.Context, class string, build func(ctx context.Context) (*http.Request, error)) (*http.Response, error) {
	lim, ok := e.buckets[class]
	if !ok {
		return nil, fmt.Errorf("unknown endpoint class %q", class)
	}

	var lastStatus int
	var lastErr error

	for attempt := 0; attempt < e.policy.MaxAttempts; attempt++ {
		if err := e.acquire(ctx, class, lim); err != nil {
			return nil, err
		}

		metrics.RequestStarted(class)
		start := time.Now()

		req, err := build(ctx)
		if err != nil {
			return nil, fmt.Errorf("%s: build request: %w", class, err)
		}

		resp, err := e.client.Do(req)
		if err != nil {
			// Transport failures (including timeouts) retry on the
			// non-throttled schedule.
			lastErr = err
			lastStatus = 0
			if serr := e.backoff(ctx, class, attempt, false); serr != nil {
				return nil, serr
			}
			continue
		}

		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			metrics.RequestSucceeded(class, time.Since(start))
			return resp, nil
		}

		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		resp.Body.Close()
		lastStatus = resp.StatusCode
		lastErr = fmt.Errorf("HTTP %d: %s", resp.StatusCode, string(body))

		throttled := resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode == http.StatusServiceUnavailable
		if throttled {
			metrics.ThrottleBackoff(class)
			logger.Warn("EXEC", fmt.Sprintf("%s throttled (attempt %d/%d)", class, attempt+1, e.policy.MaxAttempts))
		}
		if serr := e.backoff(ctx, class, attempt, throttled); serr != nil {
			return nil, serr
		}
	}

	metrics.RequestFailed(class)
	return nil, &RequestFailedError{
		Class:      class,
		Attempts:   e.policy.MaxAttempts,
		LastStatus: lastStatus,
		Err:        lastErr,
	}
}

// acquire takes one permit from the bucket, waiting up to the
// configured timeout.
func (e *Executor) acquire(ctx context.Context, class string, lim *rate.Limiter) error {
	waitCtx, cancel := context.WithTimeout(ctx, e.waitTimeout)
	err := lim.Wait(waitCtx)
	cancel()
	if err == nil {
		return nil
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}
	metrics.BucketExhausted(class)
	return fmt.Errorf("%s: %w", class, ErrRateLimitExhausted)
}

func (e *Executor) backoff(ctx context.Context, class string, attempt int, throttled bool) error {
	// The final attempt has no sleep after it.
	if attempt >= e.policy.MaxAttempts-1 {
		return nil
	}
	return e.sleep(ctx, e.policy.Backoff(attempt, throttled))
}
