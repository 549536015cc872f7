package connector

import (
	"context"
	"time"

	"golang.org/x/time/rate"

	"github.com/veritas-nexus/veritas/errors"
)

const (
	defaultInitialBackoff = 1 * time.Second
	defaultMaxBackoff     = 30 * time.Second
)

// RetryConfig bounds how persistently a wrapped connector is driven.
type RetryConfig struct {
	// Attempts is the total number of tries per call. 1 means no retry.
	Attempts int

	// InitialBackoff is the wait after the first failure; it doubles per
	// attempt up to MaxBackoff.
	InitialBackoff time.Duration
	MaxBackoff     time.Duration

	// PerSecond paces calls to the underlying source. Zero disables pacing.
	PerSecond float64
	Burst     int
}

// DefaultRetryConfig returns the no-retry, no-pacing configuration.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		Attempts:       1,
		InitialBackoff: defaultInitialBackoff,
		MaxBackoff:     defaultMaxBackoff,
	}
}

type retrying struct {
	inner   Connector
	cfg     RetryConfig
	limiter *rate.Limiter
}

// WithRetry wraps a connector with bounded retry and optional call pacing.
// Failures inside one Discover or Fetch are retried up to cfg.Attempts
// total tries; per-item failure policy stays with the caller.
func WithRetry(inner Connector, cfg RetryConfig) Connector {
	if cfg.Attempts < 1 {
		cfg.Attempts = 1
	}
	if cfg.InitialBackoff <= 0 {
		cfg.InitialBackoff = defaultInitialBackoff
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = defaultMaxBackoff
	}

	var limiter *rate.Limiter
	if cfg.PerSecond > 0 {
		burst := cfg.Burst
		if burst < 1 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.PerSecond), burst)
	}

	return &retrying{inner: inner, cfg: cfg, limiter: limiter}
}

func (r *retrying) Name() string {
	return r.inner.Name()
}

func (r *retrying) Discover(ctx context.Context, target string, limit int, order Order) ([]Item, error) {
	var items []Item
	err := r.do(ctx, func(ctx context.Context) error {
		var callErr error
		items, callErr = r.inner.Discover(ctx, target, limit, order)
		return callErr
	})
	return items, err
}

func (r *retrying) Fetch(ctx context.Context, itemID string) (*Content, error) {
	var content *Content
	err := r.do(ctx, func(ctx context.Context) error {
		var callErr error
		content, callErr = r.inner.Fetch(ctx, itemID)
		return callErr
	})
	return content, err
}

// WithDepth keeps the depth capability visible through the decorator.
func (r *retrying) WithDepth(depth int) Connector {
	if dl, ok := r.inner.(DepthLimited); ok {
		return &retrying{inner: dl.WithDepth(depth), cfg: r.cfg, limiter: r.limiter}
	}
	return r
}

func (r *retrying) do(ctx context.Context, call func(context.Context) error) error {
	backoff := r.cfg.InitialBackoff
	var lastErr error

	for attempt := 1; attempt <= r.cfg.Attempts; attempt++ {
		if r.limiter != nil {
			if err := r.limiter.Wait(ctx); err != nil {
				return errors.Wrap(err, "rate limit wait")
			}
		}

		lastErr = call(ctx)
		if lastErr == nil {
			return nil
		}

		// A dead context means the failure is the cancellation, not the
		// source; retrying would only mask it.
		if ctx.Err() != nil {
			return lastErr
		}
		if attempt == r.cfg.Attempts {
			break
		}

		timer := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			return lastErr
		case <-timer.C:
		}

		backoff *= 2
		if backoff > r.cfg.MaxBackoff {
			backoff = r.cfg.MaxBackoff
		}
	}

	if r.cfg.Attempts > 1 {
		return errors.Wrapf(lastErr, "after %d attempts", r.cfg.Attempts)
	}
	return lastErr
}
