package generation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"

	"github.com/minji/invitation-studio/internal/observability"
)

// Options configures a Generator. Zero values fall back to sane defaults.
type Options struct {
	Policy         RetryPolicy
	Timeout        time.Duration
	MaxConcurrent  int64
	CallsPerSecond float64
	Metrics        *observability.Metrics
	Logger         *zap.Logger
}

// Generator runs generation requests against a primary backend, retrying
// once on transient faults and falling back to an optional alternate backend
// after the primary is exhausted. Upstream concurrency is capped by a
// weighted semaphore and paced by a rate limiter shared across requests.
type Generator struct {
	primary  Backend
	fallback Backend // nil disables the fallback hop
	policy   RetryPolicy
	timeout  time.Duration
	sem      *semaphore.Weighted
	limiter  *rate.Limiter
	metrics  *observability.Metrics
	logger   *zap.Logger
}

// NewGenerator builds a Generator. fallback may be nil.
func NewGenerator(primary, fallback Backend, opts Options) *Generator {
	if opts.Policy.MaxAttempts == 0 {
		opts.Policy = DefaultRetryPolicy()
	}
	if opts.Timeout == 0 {
		opts.Timeout = 120 * time.Second
	}
	if opts.MaxConcurrent < 1 {
		opts.MaxConcurrent = 2
	}
	if opts.CallsPerSecond <= 0 {
		opts.CallsPerSecond = 1
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}

	return &Generator{
		primary:  primary,
		fallback: fallback,
		policy:   opts.Policy,
		timeout:  opts.Timeout,
		sem:      semaphore.NewWeighted(opts.MaxConcurrent),
		limiter:  rate.NewLimiter(rate.Limit(opts.CallsPerSecond), 1),
		metrics:  opts.Metrics,
		logger:   opts.Logger,
	}
}

// Generate runs the request. The primary backend gets up to
// Policy.MaxAttempts calls with a delay between them; if it still fails, the
// fallback backend gets exactly one attempt. Terminal faults on the primary
// skip straight to the fallback.
func (g *Generator) Generate(ctx context.Context, req Request) (*Artifact, error) {
	if err := g.sem.Acquire(ctx, 1); err != nil {
		return nil, fmt.Errorf("waiting for generation slot: %w", err)
	}
	defer g.sem.Release(1)

	artifact, primaryErr := g.callWithRetry(ctx, g.primary, req)
	if primaryErr == nil {
		return artifact, nil
	}

	if g.fallback == nil {
		return nil, primaryErr
	}

	g.logger.Warn("primary backend failed, trying fallback",
		zap.String("primary", g.primary.Name()),
		zap.String("fallback", g.fallback.Name()),
		zap.Error(primaryErr))
	if g.metrics != nil {
		g.metrics.GenerationFallback.Inc()
	}

	artifact, fallbackErr := g.callOnce(ctx, g.fallback, req)
	if fallbackErr != nil {
		return nil, fmt.Errorf("fallback %s failed after primary %s: %w",
			g.fallback.Name(), g.primary.Name(), errors.Join(primaryErr, fallbackErr))
	}
	return artifact, nil
}

func (g *Generator) callWithRetry(ctx context.Context, backend Backend, req Request) (*Artifact, error) {
	var lastErr error
	for attempt := 1; attempt <= g.policy.MaxAttempts; attempt++ {
		artifact, err := g.callOnce(ctx, backend, req)
		if err == nil {
			return artifact, nil
		}
		lastErr = err

		if !g.policy.IsTransient(err) || attempt == g.policy.MaxAttempts {
			return nil, err
		}

		g.logger.Info("transient fault, retrying",
			zap.String("backend", backend.Name()),
			zap.Int("attempt", attempt),
			zap.Error(err))
		if g.metrics != nil {
			g.metrics.GenerationRetries.WithLabelValues(backend.Name()).Inc()
		}

		select {
		case <-time.After(g.policy.Backoff):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return nil, lastErr
}

func (g *Generator) callOnce(ctx context.Context, backend Backend, req Request) (*Artifact, error) {
	if err := g.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	callCtx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	artifact, err := backend.Generate(callCtx, req)
	if g.metrics != nil {
		outcome := "ok"
		if err != nil {
			outcome = "error"
		}
		g.metrics.GenerationAttempts.WithLabelValues(backend.Name(), outcome).Inc()
	}
	return artifact, err
}
