package source

import (
	"sync"
	"time"
)

// Wrap values for counter rollover.
const (
	Wrap32 = uint64(^uint32(0))
	Wrap64 = ^uint64(0)
)

// CounterState tracks the previous value of monotonically increasing
// counters so that per-interval deltas can be computed. Safe for concurrent
// use.
type CounterState struct {
	mu      sync.Mutex
	entries map[string]counterEntry
}

type counterEntry struct {
	value  uint64
	seenAt time.Time
}

// DeltaResult is the outcome of one Delta call.
type DeltaResult struct {
	Delta   uint64
	Elapsed time.Duration

	// Valid is false on the first observation of a key and when time did not
	// advance.
	Valid bool
}

// NewCounterState returns an empty CounterState.
func NewCounterState() *CounterState {
	return &CounterState{entries: make(map[string]counterEntry)}
}

// Delta records current for key and returns the difference from the previous
// observation. A value lower than the previous one is treated as a single
// rollover at wrap.
func (s *CounterState) Delta(key string, current uint64, now time.Time, wrap uint64) DeltaResult {
	s.mu.Lock()
	defer s.mu.Unlock()

	prev, ok := s.entries[key]
	s.entries[key] = counterEntry{value: current, seenAt: now}
	if !ok {
		return DeltaResult{}
	}

	elapsed := now.Sub(prev.seenAt)
	if elapsed <= 0 {
		return DeltaResult{}
	}

	var d uint64
	if current >= prev.value {
		d = current - prev.value
	} else {
		d = (wrap - prev.value) + current + 1
	}
	return DeltaResult{Delta: d, Elapsed: elapsed, Valid: true}
}

// Rate is Delta per second, or 0 when the delta is not valid.
func (r DeltaResult) Rate() float64 {
	if !r.Valid {
		return 0
	}
	return float64(r.Delta) / r.Elapsed.Seconds()
}
