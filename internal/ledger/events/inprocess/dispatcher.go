// Package inprocess delivers record-appended notifications to a handler on a
// bounded worker pool inside the server process.
package inprocess

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"trustcert/internal/ledger/events"
	"trustcert/internal/ledger/metrics"
	"trustcert/internal/ledger/models"
)

const (
	defaultBuffer        = 256
	defaultWorkers       = 4
	defaultHandleTimeout = 10 * time.Second
)

// Dispatcher queues notifications and fans them out to workers. A full queue
// drops the notification; the periodic sweep picks the change up later.
type Dispatcher struct {
	handle        events.HandlerFunc
	inbox         chan models.RecordAppended
	workers       int
	handleTimeout time.Duration
	logger        *slog.Logger
	metrics       *metrics.Metrics

	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup
}

type Option func(*Dispatcher)

func WithBuffer(n int) Option {
	return func(d *Dispatcher) {
		if n > 0 {
			d.inbox = make(chan models.RecordAppended, n)
		}
	}
}

func WithWorkers(n int) Option {
	return func(d *Dispatcher) {
		if n > 0 {
			d.workers = n
		}
	}
}

func WithHandleTimeout(timeout time.Duration) Option {
	return func(d *Dispatcher) {
		if timeout > 0 {
			d.handleTimeout = timeout
		}
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(d *Dispatcher) {
		d.logger = logger
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(d *Dispatcher) {
		d.metrics = m
	}
}

func New(handle events.HandlerFunc, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		handle:        handle,
		inbox:         make(chan models.RecordAppended, defaultBuffer),
		workers:       defaultWorkers,
		handleTimeout: defaultHandleTimeout,
		logger:        slog.Default(),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Start launches the workers. Handler contexts derive from ctx but outlive its
// cancellation until Close drains the queue.
func (d *Dispatcher) Start(ctx context.Context) {
	base := context.WithoutCancel(ctx)
	for range d.workers {
		d.wg.Add(1)
		go func() {
			defer d.wg.Done()
			for event := range d.inbox {
				d.dispatch(base, event)
			}
		}()
	}
}

// RecordAppended enqueues without blocking the appending request.
func (d *Dispatcher) RecordAppended(ctx context.Context, event models.RecordAppended) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return
	}
	select {
	case d.inbox <- event:
	default:
		d.metrics.IncrementNotifyDropped()
		d.logger.WarnContext(ctx, "notification queue full, dropping",
			"subject", event.Subject,
			"category", event.Category,
			"sequence", event.Sequence,
		)
	}
}

// Close stops accepting notifications and waits for queued ones to finish.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	close(d.inbox)
	d.mu.Unlock()
	d.wg.Wait()
}

func (d *Dispatcher) dispatch(base context.Context, event models.RecordAppended) {
	ctx, cancel := context.WithTimeout(base, d.handleTimeout)
	defer cancel()

	if err := d.handle(ctx, event); err != nil {
		d.metrics.IncrementNotifyOutcome("error")
		d.logger.ErrorContext(ctx, "record notification handler failed",
			"subject", event.Subject,
			"category", event.Category,
			"error", err,
		)
		return
	}
	d.metrics.IncrementNotifyOutcome("ok")
}
