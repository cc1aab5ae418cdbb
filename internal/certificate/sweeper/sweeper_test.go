package sweeper

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingReevaluator struct {
	calls atomic.Int32
	err   error
}

func (c *countingReevaluator) ReevaluateLocked(context.Context) (int, int, error) {
	c.calls.Add(1)
	return 3, 1, c.err
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestSweeper_Start(t *testing.T) {
	t.Run("empty schedule disables sweeping", func(t *testing.T) {
		s := New(&countingReevaluator{}, "", WithLogger(quietLogger()))
		require.NoError(t, s.Start(context.Background()))
		assert.False(t, s.IsRunning())
		assert.Nil(t, s.NextRun())
	})

	t.Run("invalid schedule", func(t *testing.T) {
		s := New(&countingReevaluator{}, "every now and then", WithLogger(quietLogger()))
		err := s.Start(context.Background())
		assert.ErrorContains(t, err, "invalid sweep schedule")
	})

	t.Run("runs on schedule and stops with the context", func(t *testing.T) {
		r := &countingReevaluator{}
		s := New(r, "@every 1s", WithLogger(quietLogger()))
		ctx, cancel := context.WithCancel(context.Background())

		require.NoError(t, s.Start(ctx))
		assert.True(t, s.IsRunning())
		require.NotNil(t, s.NextRun())

		assert.Eventually(t, func() bool { return r.calls.Load() >= 1 }, 3*time.Second, 50*time.Millisecond)
		cancel()
		assert.Eventually(t, func() bool { return !s.IsRunning() }, time.Second, 10*time.Millisecond)
	})
}

func TestSweeper_RunOnce(t *testing.T) {
	r := &countingReevaluator{err: errors.New("db down")}
	s := New(r, "@every 1m", WithLogger(quietLogger()))
	s.RunOnce(context.Background())
	assert.Equal(t, int32(1), r.calls.Load())
}
