// Package file persists dashboard journals.
//
// A Journal formats records with format/line and hands them to a Transport.
// The stock Transport is a WriterTransport over a RotatingFile, so each
// dashboard's "<name>.log" is capped in size with numbered backups.
package file

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
)

// ─────────────────────────────────────────────────────────────────────────────
// Transport interface
// ─────────────────────────────────────────────────────────────────────────────

// Transport delivers one pre-formatted record. Close flushes and releases
// resources.
type Transport interface {
	Send(data []byte) error
	Close() error
}

// ─────────────────────────────────────────────────────────────────────────────
// Config
// ─────────────────────────────────────────────────────────────────────────────

// Config controls WriterTransport behaviour.
type Config struct {
	// Writer is the destination. nil defaults to os.Stderr.
	Writer io.Writer

	// Newline appended after each record. Default "\n".
	Newline string
}

// ─────────────────────────────────────────────────────────────────────────────
// WriterTransport
// ─────────────────────────────────────────────────────────────────────────────

// WriterTransport writes each record followed by a newline. Records from
// concurrent callers never interleave.
type WriterTransport struct {
	mu     sync.Mutex
	w      io.Writer
	nl     []byte
	logger *slog.Logger
}

// New constructs a WriterTransport.
func New(cfg Config, logger *slog.Logger) *WriterTransport {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(noopWriter{}, nil))
	}
	w := cfg.Writer
	if w == nil {
		w = os.Stderr
	}
	nl := cfg.Newline
	if nl == "" {
		nl = "\n"
	}
	return &WriterTransport{w: w, nl: []byte(nl), logger: logger}
}

// Send writes data and the newline in one Write call.
func (t *WriterTransport) Send(data []byte) error {
	rec := make([]byte, 0, len(data)+len(t.nl))
	rec = append(rec, data...)
	rec = append(rec, t.nl...)

	t.mu.Lock()
	defer t.mu.Unlock()
	if _, err := t.w.Write(rec); err != nil {
		t.logger.Error("transport/file: write failed", "error", err.Error(), "bytes", len(rec))
		return fmt.Errorf("transport/file: write: %w", err)
	}
	return nil
}

// Close closes the writer when it is an io.Closer other than the standard
// streams.
func (t *WriterTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.w == os.Stdout || t.w == os.Stderr {
		return nil
	}
	if c, ok := t.w.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

type noopWriter struct{}

func (noopWriter) Write(p []byte) (int, error) { return len(p), nil }
