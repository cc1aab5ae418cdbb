// Package sweeper periodically re-evaluates every LOCKED certificate. Time
// conditions have no event that triggers them, and append notifications may
// be dropped under load; the sweep covers both.
package sweeper

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// Reevaluator is the release state machine's bulk pass.
type Reevaluator interface {
	ReevaluateLocked(ctx context.Context) (visited, unlocked int, err error)
}

// Sweeper runs the pass on a cron schedule. Overlapping runs are skipped.
type Sweeper struct {
	reevaluator Reevaluator
	schedule    string
	cron        *cron.Cron
	logger      *slog.Logger

	mu      sync.Mutex
	running bool
}

type Option func(*Sweeper)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Sweeper) {
		s.logger = logger
	}
}

// New builds a sweeper. schedule accepts standard cron expressions and
// descriptors such as "@every 1m".
func New(reevaluator Reevaluator, schedule string, opts ...Option) *Sweeper {
	s := &Sweeper{
		reevaluator: reevaluator,
		schedule:    schedule,
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With("component", "certificate.sweeper")
	s.cron = cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))
	return s
}

// Start schedules the sweep and stops it when ctx is done. An empty schedule
// disables sweeping.
func (s *Sweeper) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.schedule == "" {
		s.logger.Info("sweep schedule not configured, skipping")
		return nil
	}
	if _, err := cron.ParseStandard(s.schedule); err != nil {
		return fmt.Errorf("invalid sweep schedule %q: %w", s.schedule, err)
	}
	if _, err := s.cron.AddFunc(s.schedule, func() { s.RunOnce(ctx) }); err != nil {
		return fmt.Errorf("schedule sweep: %w", err)
	}
	s.cron.Start()
	s.running = true
	s.logger.Info("certificate sweeper started", "schedule", s.schedule)

	go func() {
		<-ctx.Done()
		s.Stop()
	}()
	return nil
}

// RunOnce performs one pass and logs its outcome.
func (s *Sweeper) RunOnce(ctx context.Context) {
	start := time.Now()
	visited, unlocked, err := s.reevaluator.ReevaluateLocked(ctx)
	if err != nil {
		s.logger.ErrorContext(ctx, "certificate sweep failed",
			"visited", visited,
			"error", err,
		)
		return
	}
	if unlocked > 0 {
		s.logger.InfoContext(ctx, "certificate sweep completed",
			"visited", visited,
			"unlocked", unlocked,
			"duration_ms", time.Since(start).Milliseconds(),
		)
		return
	}
	s.logger.DebugContext(ctx, "certificate sweep completed", "visited", visited)
}

// Stop halts scheduling and waits for a running pass to finish.
func (s *Sweeper) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return
	}
	<-s.cron.Stop().Done()
	s.running = false
	s.logger.Info("certificate sweeper stopped")
}

func (s *Sweeper) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// NextRun reports when the next pass is due, or nil when not scheduled.
func (s *Sweeper) NextRun() *time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	entries := s.cron.Entries()
	if len(entries) == 0 {
		return nil
	}
	next := entries[0].Next
	return &next
}
