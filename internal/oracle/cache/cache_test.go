package cache

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubSource struct {
	unlocked bool
	err      error
	calls    int
}

func (s *stubSource) IsUnlocked(context.Context, uint64) (bool, error) {
	s.calls++
	return s.unlocked, s.err
}

type fakeRedis struct {
	values  map[string]string
	ttls    map[string]time.Duration
	readErr error
	sets    int
}

func newFakeRedis() *fakeRedis {
	return &fakeRedis{values: map[string]string{}, ttls: map[string]time.Duration{}}
}

func (f *fakeRedis) Get(ctx context.Context, key string) *redis.StringCmd {
	if f.readErr != nil {
		return redis.NewStringResult("", f.readErr)
	}
	v, ok := f.values[key]
	if !ok {
		return redis.NewStringResult("", redis.Nil)
	}
	return redis.NewStringResult(v, nil)
}

func (f *fakeRedis) Set(ctx context.Context, key string, value any, expiration time.Duration) *redis.StatusCmd {
	f.sets++
	f.values[key] = value.(string)
	f.ttls[key] = expiration
	return redis.NewStatusResult("OK", nil)
}

func TestCache_IsUnlocked(t *testing.T) {
	ctx := context.Background()

	t.Run("positive answers are cached", func(t *testing.T) {
		src := &stubSource{unlocked: true}
		rdb := newFakeRedis()
		c := New(src, rdb, time.Minute)

		for range 3 {
			ok, err := c.IsUnlocked(ctx, 7)
			require.NoError(t, err)
			assert.True(t, ok)
		}
		assert.Equal(t, 1, src.calls)
		assert.Equal(t, time.Minute, rdb.ttls[cacheKey(7)])
	})

	t.Run("negative answers are not cached", func(t *testing.T) {
		src := &stubSource{unlocked: false}
		rdb := newFakeRedis()
		c := New(src, rdb, time.Minute)

		for range 2 {
			ok, err := c.IsUnlocked(ctx, 7)
			require.NoError(t, err)
			assert.False(t, ok)
		}
		assert.Equal(t, 2, src.calls)
		assert.Zero(t, rdb.sets)
	})

	t.Run("source errors pass through uncached", func(t *testing.T) {
		src := &stubSource{err: errors.New("node down")}
		rdb := newFakeRedis()
		_, err := New(src, rdb, time.Minute).IsUnlocked(ctx, 7)
		assert.EqualError(t, err, "node down")
		assert.Zero(t, rdb.sets)
	})

	t.Run("redis failure degrades to a direct read", func(t *testing.T) {
		src := &stubSource{unlocked: true}
		rdb := newFakeRedis()
		rdb.readErr = errors.New("connection refused")
		ok, err := New(src, rdb, time.Minute).IsUnlocked(ctx, 7)
		require.NoError(t, err)
		assert.True(t, ok)
		assert.Equal(t, 1, src.calls)
	})
}
