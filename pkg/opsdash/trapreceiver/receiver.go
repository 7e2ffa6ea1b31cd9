// Package trapreceiver turns SNMP traps into dashboard trigger events.
//
// It listens on UDP with gosnmp's TrapListener. Every accepted trap is
// rendered as "SNMP Trap: <trapOID> from <source> [...]" and dispatched the
// same way an HTTP trigger is, so it lands on the dashboard's sink module
// unless a module's trigger substring claims it first.
package trapreceiver

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/gosnmp/gosnmp"

	"github.com/vpbank/opsdash/pkg/opsdash/trigger"
)

// Dispatcher delivers an event. *trigger.Dispatcher implements it.
type Dispatcher interface {
	Dispatch(dashboard, module, event, origin string) (string, error)
}

// ─────────────────────────────────────────────────────────────────────────────
// Configuration
// ─────────────────────────────────────────────────────────────────────────────

// Config controls the TrapReceiver behaviour.
type Config struct {
	// ListenAddr is the UDP address to bind to (default "0.0.0.0:162").
	ListenAddr string

	// Community is required on v1/v2c traps. If empty, all communities are
	// accepted.
	Community string

	// SNMPVersion is the version the listener decodes (default v2c).
	SNMPVersion gosnmp.SnmpVersion

	// CloseTimeout bounds the socket close (default 3 s).
	CloseTimeout time.Duration

	// Dashboard receives the events (default "advanced_features").
	Dashboard string

	// MaxVarbinds caps the varbinds quoted in an event (default 3).
	MaxVarbinds int

	// ParseFunc replaces Parse. Used in tests.
	ParseFunc ParseFunc
}

func (c *Config) withDefaults() Config {
	out := *c
	if out.ListenAddr == "" {
		out.ListenAddr = "0.0.0.0:162"
	}
	if out.SNMPVersion == 0 {
		out.SNMPVersion = gosnmp.Version2c
	}
	if out.CloseTimeout == 0 {
		out.CloseTimeout = 3 * time.Second
	}
	if out.Dashboard == "" {
		out.Dashboard = "advanced_features"
	}
	if out.MaxVarbinds <= 0 {
		out.MaxVarbinds = 3
	}
	if out.ParseFunc == nil {
		out.ParseFunc = Parse
	}
	return out
}

// ─────────────────────────────────────────────────────────────────────────────
// TrapReceiver
// ─────────────────────────────────────────────────────────────────────────────

// TrapReceiver listens for traps and informs and dispatches them.
type TrapReceiver struct {
	cfg    Config
	disp   Dispatcher
	logger *slog.Logger

	listener *gosnmp.TrapListener

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	doneCh  chan struct{}
}

// New creates a TrapReceiver delivering to d.
func New(cfg Config, d Dispatcher, logger *slog.Logger) *TrapReceiver {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(noopWriter{}, nil))
	}
	return &TrapReceiver{
		cfg:    cfg.withDefaults(),
		disp:   d,
		logger: logger,
		stopCh: make(chan struct{}),
		doneCh: make(chan struct{}),
	}
}

// ListenAddr returns the configured UDP address.
func (r *TrapReceiver) ListenAddr() string {
	return r.cfg.ListenAddr
}

// Start binds the listener and returns once it is ready. Traps are handled
// on the listener goroutine until Stop is called or ctx ends. A receiver is
// started at most once.
func (r *TrapReceiver) Start(ctx context.Context) error {
	r.mu.Lock()
	if r.running {
		r.mu.Unlock()
		return fmt.Errorf("trapreceiver: already running")
	}
	r.running = true
	r.mu.Unlock()

	tl := gosnmp.NewTrapListener()
	tl.Params = &gosnmp.GoSNMP{
		Version:   r.cfg.SNMPVersion,
		Community: r.cfg.Community,
		Logger:    gosnmp.NewLogger(slogAdapter{r.logger}),
	}
	tl.CloseTimeout = r.cfg.CloseTimeout
	tl.OnNewTrap = r.handleTrap
	r.listener = tl

	errCh := make(chan error, 1)
	go func() {
		defer close(r.doneCh)
		errCh <- tl.Listen(r.cfg.ListenAddr)
	}()

	select {
	case <-tl.Listening():
		r.logger.Info("trapreceiver: listening", "addr", r.cfg.ListenAddr, "dashboard", r.cfg.Dashboard)
	case err := <-errCh:
		r.mu.Lock()
		r.running = false
		r.mu.Unlock()
		return fmt.Errorf("trapreceiver: listen %s: %w", r.cfg.ListenAddr, err)
	case <-ctx.Done():
		tl.Close()
		r.mu.Lock()
		r.running = false
		r.mu.Unlock()
		return ctx.Err()
	}

	go func() {
		select {
		case <-ctx.Done():
			r.Stop()
		case <-r.stopCh:
		}
	}()
	return nil
}

// Stop closes the listener and waits for its goroutine. It is safe to call
// Stop multiple times, and before Start.
func (r *TrapReceiver) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.running {
		return
	}
	r.running = false

	r.listener.Close()
	close(r.stopCh)
	<-r.doneCh

	r.logger.Info("trapreceiver: stopped")
}

// handleTrap runs on the listener goroutine.
func (r *TrapReceiver) handleTrap(pkt *gosnmp.SnmpPacket, addr *net.UDPAddr) {
	if r.cfg.Community != "" && pkt.Version != gosnmp.Version3 && pkt.Community != r.cfg.Community {
		r.logger.Warn("trapreceiver: community mismatch, trap dropped", "remote", addr)
		return
	}
	t, err := r.cfg.ParseFunc(pkt, addr)
	if err != nil {
		r.logger.Warn("trapreceiver: parse error", "remote", addr, "error", err)
		return
	}

	event := t.Event(r.cfg.MaxVarbinds)
	id, err := r.disp.Dispatch(r.cfg.Dashboard, "", event, trigger.OriginTrap)
	if err != nil {
		r.logger.Warn("trapreceiver: trap not delivered", "remote", addr, "trap_oid", t.TrapOID, "error", err)
		return
	}
	r.logger.Debug("trapreceiver: trap delivered", "module", id, "trap_oid", t.TrapOID)
}

// ─────────────────────────────────────────────────────────────────────────────
// Utilities
// ─────────────────────────────────────────────────────────────────────────────

type noopWriter struct{}

func (noopWriter) Write(b []byte) (int, error) { return len(b), nil }

// slogAdapter bridges slog.Logger to gosnmp's Logger interface (Printf-style).
type slogAdapter struct{ l *slog.Logger }

func (a slogAdapter) Print(v ...interface{}) {
	a.l.Debug(fmt.Sprint(v...))
}

func (a slogAdapter) Printf(format string, v ...interface{}) {
	a.l.Debug(fmt.Sprintf(format, v...))
}
