// Package shardlock hashes keys onto a fixed set of one-slot semaphores.
// Unlike sync.Mutex, acquiring a shard gives up when the context ends.
package shardlock

import "context"

// Set is a fixed array of shard locks. Keys that share a shard serialize
// with each other.
type Set struct {
	shards []chan struct{}
}

func New(n int) *Set {
	if n < 1 {
		n = 1
	}
	s := &Set{shards: make([]chan struct{}, n)}
	for i := range s.shards {
		s.shards[i] = make(chan struct{}, 1)
	}
	return s
}

// Lock takes the shard for hash and returns its release func. It returns
// ctx.Err() if the context ends first.
func (s *Set) Lock(ctx context.Context, hash uint32) (func(), error) {
	shard := s.shards[hash%uint32(len(s.shards))]
	select {
	case shard <- struct{}{}:
		return func() { <-shard }, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
