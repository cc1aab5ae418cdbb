package inprocess

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trustcert/internal/ledger/models"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestDispatcher_DeliversAll(t *testing.T) {
	var mu sync.Mutex
	seen := map[string]int{}
	d := New(func(_ context.Context, ev models.RecordAppended) error {
		mu.Lock()
		defer mu.Unlock()
		seen[ev.Subject]++
		return nil
	}, WithWorkers(3), WithLogger(quietLogger()))
	d.Start(context.Background())

	for i := range 30 {
		subject := "alice"
		if i%2 == 0 {
			subject = "bob"
		}
		d.RecordAppended(context.Background(), models.RecordAppended{Subject: subject, Sequence: int64(i)})
	}
	d.Close()

	assert.Equal(t, 15, seen["alice"])
	assert.Equal(t, 15, seen["bob"])
}

func TestDispatcher_DropsWhenFull(t *testing.T) {
	release := make(chan struct{})
	var handled atomic.Int32
	d := New(func(_ context.Context, _ models.RecordAppended) error {
		<-release
		handled.Add(1)
		return nil
	}, WithWorkers(1), WithBuffer(1), WithLogger(quietLogger()))

	// Not started: the single buffer slot fills and the rest are dropped.
	for range 5 {
		d.RecordAppended(context.Background(), models.RecordAppended{Subject: "alice"})
	}
	d.Start(context.Background())
	close(release)
	d.Close()

	assert.Equal(t, int32(1), handled.Load())
}

func TestDispatcher_HandlerErrorsDoNotStopWorkers(t *testing.T) {
	var calls atomic.Int32
	d := New(func(_ context.Context, _ models.RecordAppended) error {
		calls.Add(1)
		return errors.New("store unavailable")
	}, WithWorkers(1), WithLogger(quietLogger()))
	d.Start(context.Background())

	d.RecordAppended(context.Background(), models.RecordAppended{Subject: "a"})
	d.RecordAppended(context.Background(), models.RecordAppended{Subject: "b"})
	d.Close()

	require.Equal(t, int32(2), calls.Load())
}

func TestDispatcher_IgnoresAfterClose(t *testing.T) {
	d := New(func(context.Context, models.RecordAppended) error { return nil }, WithLogger(quietLogger()))
	d.Start(context.Background())
	d.Close()
	d.Close()

	assert.NotPanics(t, func() {
		d.RecordAppended(context.Background(), models.RecordAppended{Subject: "late"})
	})
}
