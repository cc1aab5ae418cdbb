package oracle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"

	"trustcert/pkg/platform/circuit"
)

const defaultReadTimeout = 3 * time.Second

// Guarded bounds every read of a Source: a deadline, a rate limit, a circuit
// breaker, and deduplication of concurrent reads for the same application.
// Every failure comes back wrapping ErrUnavailable.
type Guarded struct {
	source  Source
	breaker *circuit.Breaker
	limiter *rate.Limiter
	group   singleflight.Group
	timeout time.Duration
	logger  *slog.Logger
	metrics *Metrics
}

type GuardOption func(*Guarded)

func WithTimeout(d time.Duration) GuardOption {
	return func(g *Guarded) {
		if d > 0 {
			g.timeout = d
		}
	}
}

func WithRateLimit(perSecond float64, burst int) GuardOption {
	return func(g *Guarded) {
		if perSecond > 0 && burst > 0 {
			g.limiter = rate.NewLimiter(rate.Limit(perSecond), burst)
		}
	}
}

func WithBreaker(b *circuit.Breaker) GuardOption {
	return func(g *Guarded) {
		g.breaker = b
	}
}

func WithLogger(logger *slog.Logger) GuardOption {
	return func(g *Guarded) {
		g.logger = logger
	}
}

func WithMetrics(m *Metrics) GuardOption {
	return func(g *Guarded) {
		g.metrics = m
	}
}

func NewGuarded(source Source, opts ...GuardOption) *Guarded {
	g := &Guarded{
		source:  source,
		breaker: circuit.New("oracle"),
		limiter: rate.NewLimiter(rate.Limit(20), 5),
		timeout: defaultReadTimeout,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

func (g *Guarded) IsUnlocked(ctx context.Context, appID uint64) (bool, error) {
	if !g.breaker.Allow() {
		g.metrics.IncrementRead("breaker_open")
		return false, fmt.Errorf("%w: circuit open", ErrUnavailable)
	}

	ch := g.group.DoChan(strconv.FormatUint(appID, 10), func() (any, error) {
		// Shared by every waiter, so no single caller's cancellation may end it.
		readCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), g.timeout)
		defer cancel()

		if err := g.limiter.Wait(readCtx); err != nil {
			g.metrics.IncrementRead("rate_limited")
			return false, fmt.Errorf("%w: rate limited: %v", ErrUnavailable, err)
		}
		start := time.Now()
		unlocked, err := g.source.IsUnlocked(readCtx, appID)
		g.metrics.ObserveReadLatency(time.Since(start))
		if err != nil {
			g.recordFailure(ctx, appID, err)
			return false, fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
		g.recordSuccess(ctx)
		return unlocked, nil
	})

	// The shared read runs to its own timeout; a caller whose deadline ends
	// first stops waiting for it.
	var res singleflight.Result
	select {
	case res = <-ch:
	case <-ctx.Done():
		g.metrics.IncrementRead("abandoned")
		return false, fmt.Errorf("%w: %v", ErrUnavailable, ctx.Err())
	}
	if res.Err != nil {
		return false, res.Err
	}
	unlocked := res.Val.(bool)
	if unlocked {
		g.metrics.IncrementRead("unlocked")
	} else {
		g.metrics.IncrementRead("locked")
	}
	return unlocked, nil
}

func (g *Guarded) recordFailure(ctx context.Context, appID uint64, err error) {
	g.metrics.IncrementRead("error")
	_, change := g.breaker.RecordFailure()
	if change.Opened {
		g.metrics.SetBreakerOpen(true)
		g.logger.WarnContext(ctx, "oracle circuit opened", "breaker", g.breaker.Name(), "error", err)
		return
	}
	level := slog.LevelWarn
	if errors.Is(err, context.DeadlineExceeded) {
		level = slog.LevelInfo
	}
	g.logger.Log(ctx, level, "oracle read failed", "app_id", appID, "error", err)
}

func (g *Guarded) recordSuccess(ctx context.Context) {
	_, change := g.breaker.RecordSuccess()
	if change.Closed {
		g.metrics.SetBreakerOpen(false)
		g.logger.InfoContext(ctx, "oracle circuit closed", "breaker", g.breaker.Name())
	}
}
