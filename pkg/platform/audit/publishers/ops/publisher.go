// Package ops records operational audit events on a best-effort basis.
//
// Emit never fails the caller. Events are sampled per action, and a circuit
// breaker stops hitting the store while it is unhealthy.
package ops

import (
	"context"
	"log/slog"
	"time"

	audit "trustcert/pkg/platform/audit"
	"trustcert/pkg/platform/circuit"
)

// Emitter is the downstream that actually stores events.
type Emitter interface {
	Emit(ctx context.Context, event audit.Event) error
}

type Publisher struct {
	next    Emitter
	sampler *Sampler
	breaker *circuit.Breaker
	logger  *slog.Logger
	metrics *Metrics
}

type Option func(*Publisher)

func WithSampler(s *Sampler) Option {
	return func(p *Publisher) {
		p.sampler = s
	}
}

func WithBreaker(b *circuit.Breaker) Option {
	return func(p *Publisher) {
		p.breaker = b
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(p *Publisher) {
		p.logger = logger
	}
}

func WithMetrics(m *Metrics) Option {
	return func(p *Publisher) {
		p.metrics = m
	}
}

func New(next Emitter, opts ...Option) *Publisher {
	p := &Publisher{
		next:    next,
		sampler: NewSampler(1),
		breaker: circuit.New("audit-ops", circuit.WithFailureThreshold(5), circuit.WithCooldown(30*time.Second)),
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Emit records the event if sampling and the breaker allow it. Store errors
// are logged and counted, never returned.
func (p *Publisher) Emit(ctx context.Context, event audit.Event) error {
	if !p.sampler.Keep(event.Action) {
		p.metrics.IncDropped("sampled")
		return nil
	}
	if !p.breaker.Allow() {
		p.metrics.IncDropped("breaker_open")
		return nil
	}
	event.Category = audit.CategoryOperations
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	if err := p.next.Emit(ctx, event); err != nil {
		p.metrics.IncDropped("store_error")
		if _, change := p.breaker.RecordFailure(); change.Opened {
			p.metrics.SetBreakerOpen(true)
			p.logger.WarnContext(ctx, "ops audit breaker opened", "error", err)
		}
		p.logger.DebugContext(ctx, "ops audit event dropped", "action", event.Action, "error", err)
		return nil
	}
	if _, change := p.breaker.RecordSuccess(); change.Closed {
		p.metrics.SetBreakerOpen(false)
		p.logger.InfoContext(ctx, "ops audit breaker closed")
	}
	p.metrics.IncRecorded()
	return nil
}
