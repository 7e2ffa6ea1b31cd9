// Package stream implements the bounded per-module line buffer that feeds SSE
// subscribers.
//
// A Stream is a ring of formatted lines with a fixed capacity. Publishing
// never blocks: when the ring is full the oldest line is evicted. Readers do
// not consume lines; each subscriber holds its own Cursor, so any number of
// browser connections observe the same ordered sequence.
package stream

import (
	"context"
	"sync"
	"time"
)

// DefaultCapacity is used when New is given a non-positive capacity.
const DefaultCapacity = 100

// Stream is a bounded, drop-oldest, multi-reader line buffer. It is safe for
// concurrent use.
type Stream struct {
	mu   sync.Mutex
	buf  []string
	head int    // index of the oldest retained line
	size int    // number of retained lines
	next uint64 // sequence number of the next published line

	dropped uint64

	// wake is closed and replaced on every publish.
	wake chan struct{}
}

// New returns an empty Stream holding at most capacity lines.
func New(capacity int) *Stream {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Stream{
		buf:  make([]string, capacity),
		wake: make(chan struct{}),
	}
}

// Publish appends line. When the stream is full the oldest line is evicted
// and Publish reports true.
func (s *Stream) Publish(line string) (evicted bool) {
	s.mu.Lock()
	c := len(s.buf)
	if s.size == c {
		s.buf[s.head] = line
		s.head = (s.head + 1) % c
		s.dropped++
		evicted = true
	} else {
		s.buf[(s.head+s.size)%c] = line
		s.size++
	}
	s.next++
	close(s.wake)
	s.wake = make(chan struct{})
	s.mu.Unlock()
	return evicted
}

// Snapshot returns the retained lines, oldest first.
func (s *Stream) Snapshot() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, s.size)
	for i := range s.size {
		out[i] = s.buf[(s.head+i)%len(s.buf)]
	}
	return out
}

// Len is the number of retained lines.
func (s *Stream) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.size
}

// Cap is the fixed capacity.
func (s *Stream) Cap() int { return len(s.buf) }

// Published is the total number of lines ever published.
func (s *Stream) Published() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.next
}

// Dropped is the number of lines evicted by overflow.
func (s *Stream) Dropped() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dropped
}

// Subscribe returns a cursor positioned at the oldest retained line.
func (s *Stream) Subscribe() *Cursor {
	s.mu.Lock()
	defer s.mu.Unlock()
	return &Cursor{s: s, pos: s.next - uint64(s.size)}
}

// SubscribeLatest returns a cursor that only sees lines published after the
// call.
func (s *Stream) SubscribeLatest() *Cursor {
	s.mu.Lock()
	defer s.mu.Unlock()
	return &Cursor{s: s, pos: s.next}
}

// ─────────────────────────────────────────────────────────────────────────────
// Cursor
// ─────────────────────────────────────────────────────────────────────────────

// Cursor is one subscriber's read position. A Cursor must not be shared
// between goroutines.
type Cursor struct {
	s      *Stream
	pos    uint64
	missed uint64
}

// TryNext returns the next line without waiting.
func (c *Cursor) TryNext() (string, bool) {
	line, ok, _ := c.take()
	return line, ok
}

// Next returns the next line, waiting up to wait for one to be published.
// ok is false when wait elapsed with nothing new. err is non-nil only when
// ctx is done.
func (c *Cursor) Next(ctx context.Context, wait time.Duration) (line string, ok bool, err error) {
	line, ok, wake := c.take()
	if ok {
		return line, true, nil
	}

	timer := time.NewTimer(wait)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return "", false, ctx.Err()
		case <-timer.C:
			return "", false, nil
		case <-wake:
		}
		line, ok, wake = c.take()
		if ok {
			return line, true, nil
		}
	}
}

// Missed is the number of lines this cursor skipped because it fell further
// behind than the stream's capacity.
func (c *Cursor) Missed() uint64 { return c.missed }

// take reads the line at the cursor if one is available. When none is, it
// returns the channel that the next Publish closes.
func (c *Cursor) take() (string, bool, <-chan struct{}) {
	s := c.s
	s.mu.Lock()
	defer s.mu.Unlock()

	oldest := s.next - uint64(s.size)
	if c.pos < oldest {
		c.missed += oldest - c.pos
		c.pos = oldest
	}
	if c.pos >= s.next {
		return "", false, s.wake
	}
	line := s.buf[(s.head+int(c.pos-oldest))%len(s.buf)]
	c.pos++
	return line, true, nil
}
