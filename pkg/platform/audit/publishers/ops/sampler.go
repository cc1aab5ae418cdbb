package ops

import (
	"math/rand/v2"
	"sync"
)

// Sampler keeps a fraction of events per action. Rates are clamped to [0, 1].
type Sampler struct {
	mu       sync.RWMutex
	fallback float64
	rates    map[string]float64
}

func NewSampler(defaultRate float64) *Sampler {
	return &Sampler{fallback: clamp(defaultRate), rates: make(map[string]float64)}
}

// Keep reports whether an event with this action should be recorded.
func (s *Sampler) Keep(action string) bool {
	rate := s.rate(action)
	switch {
	case rate >= 1:
		return true
	case rate <= 0:
		return false
	}
	return rand.Float64() < rate //nolint:gosec // sampling only
}

func (s *Sampler) SetRate(action string, rate float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rates[action] = clamp(rate)
}

func (s *Sampler) rate(action string) float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if r, ok := s.rates[action]; ok {
		return r
	}
	return s.fallback
}

func clamp(rate float64) float64 {
	return min(max(rate, 0), 1)
}
