// Package scheduler drives every module's collector on its own interval.
//
// Each module gets a dedicated loop: run a cycle, wait the interval, repeat.
// Cycles of one module never overlap, and a slow or failing module never
// delays another. Loops can be restarted individually.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// DefaultMinInterval is the floor applied to every interval when
// Config.MinInterval is zero.
const DefaultMinInterval = time.Second

// ErrUnknownCycler is returned by Restart for an id with no loop.
var ErrUnknownCycler = errors.New("scheduler: unknown cycler")

// Cycler is one periodically polled unit, normally a collector.
type Cycler interface {
	ID() string
	Interval() time.Duration
	Cycle(ctx context.Context) error
}

// Config adjusts catalog intervals globally.
type Config struct {
	// IntervalScale multiplies every interval. Zero means 1.
	IntervalScale float64

	// MinInterval is the shortest interval a loop may run at.
	MinInterval time.Duration
}

// entry is one module's loop.
type entry struct {
	c        Cycler
	interval time.Duration
	restart  chan struct{}
}

// Scheduler runs one loop per Cycler.
type Scheduler struct {
	logger  *slog.Logger
	entries []*entry
	byID    map[string]*entry

	mu      sync.Mutex
	started bool
	cancel  context.CancelFunc
	done    chan struct{}
}

// New creates a Scheduler. It does not start automatically; call Start.
func New(cyclers []Cycler, cfg Config, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(noopWriter{}, nil))
	}
	if cfg.IntervalScale <= 0 {
		cfg.IntervalScale = 1
	}
	if cfg.MinInterval <= 0 {
		cfg.MinInterval = DefaultMinInterval
	}

	s := &Scheduler{
		logger: logger,
		byID:   make(map[string]*entry, len(cyclers)),
		done:   make(chan struct{}),
	}
	for _, c := range cyclers {
		iv := time.Duration(float64(c.Interval()) * cfg.IntervalScale)
		if iv < cfg.MinInterval {
			iv = cfg.MinInterval
		}
		e := &entry{c: c, interval: iv, restart: make(chan struct{}, 1)}
		s.entries = append(s.entries, e)
		s.byID[c.ID()] = e
	}
	return s
}

// Start launches every loop and blocks until ctx is cancelled or Stop is
// called, and all loops have returned.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return
	}
	s.started = true
	ctx, s.cancel = context.WithCancel(ctx)
	s.mu.Unlock()
	defer close(s.done)

	s.logger.Info("scheduler: starting", "loops", len(s.entries))

	var g errgroup.Group
	for _, e := range s.entries {
		g.Go(func() error {
			s.supervise(ctx, e)
			return nil
		})
	}
	_ = g.Wait()
	s.logger.Info("scheduler: stopped")
}

// Stop cancels every loop and waits for them to return. It is a no-op when
// Start was never called.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	started, cancel := s.started, s.cancel
	s.mu.Unlock()
	if !started {
		return
	}
	cancel()
	<-s.done
}

// Entries returns the number of loops.
func (s *Scheduler) Entries() int { return len(s.entries) }

// Interval returns the effective interval of id after scaling.
func (s *Scheduler) Interval(id string) (time.Duration, bool) {
	e, ok := s.byID[id]
	if !ok {
		return 0, false
	}
	return e.interval, true
}

// Restart cancels id's in-flight cycle, if any, and starts its loop over with
// an immediate cycle.
func (s *Scheduler) Restart(id string) error {
	e, ok := s.byID[id]
	if !ok {
		return fmt.Errorf("%w %q", ErrUnknownCycler, id)
	}
	select {
	case e.restart <- struct{}{}:
	default:
		// A restart is already pending.
	}
	return nil
}

// ─────────────────────────────────────────────────────────────────────────────
// Loops
// ─────────────────────────────────────────────────────────────────────────────

// supervise runs e's loop until ctx is done, relaunching it on each restart
// request.
func (s *Scheduler) supervise(ctx context.Context, e *entry) {
	for {
		runCtx, cancel := context.WithCancel(ctx)
		done := make(chan struct{})
		go func() {
			defer close(done)
			s.run(runCtx, e)
		}()

		select {
		case <-ctx.Done():
			cancel()
			<-done
			return
		case <-e.restart:
			cancel()
			<-done
			s.logger.Info("scheduler: loop restarted", "module", e.c.ID())
		}
	}
}

func (s *Scheduler) run(ctx context.Context, e *entry) {
	timer := time.NewTimer(0)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}
		s.cycle(ctx, e)
		timer.Reset(e.interval)
	}
}

func (s *Scheduler) cycle(ctx context.Context, e *entry) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("scheduler: cycle panicked", "module", e.c.ID(), "panic", r)
		}
	}()
	if err := e.c.Cycle(ctx); err != nil && ctx.Err() == nil {
		s.logger.Warn("scheduler: cycle failed", "module", e.c.ID(), "error", err.Error())
	}
}

type noopWriter struct{}

func (noopWriter) Write(p []byte) (int, error) { return len(p), nil }
