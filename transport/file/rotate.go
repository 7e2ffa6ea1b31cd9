package file

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
)

// Rotation defaults for journals.
const (
	DefaultMaxBytes   = 10 << 20
	DefaultMaxBackups = 3
)

// RotateConfig controls size-based rotation.
type RotateConfig struct {
	// FilePath is the active file (required).
	FilePath string

	// MaxBytes triggers rotation before a write would exceed it. Zero
	// disables rotation.
	MaxBytes int64

	// MaxBackups is how many rotated files (.1 newest) are kept. Zero keeps
	// every backup.
	MaxBackups int
}

// RotatingFile is an io.WriteCloser that renames the active file to
// "<path>.1" when it fills up, shifting older backups along. It is safe for
// concurrent use.
type RotatingFile struct {
	mu     sync.Mutex
	cfg    RotateConfig
	file   *os.File
	size   int64
	logger *slog.Logger
}

// NewRotatingFile opens cfg.FilePath for appending, creating parent
// directories as needed.
func NewRotatingFile(cfg RotateConfig, logger *slog.Logger) (*RotatingFile, error) {
	if cfg.FilePath == "" {
		return nil, fmt.Errorf("transport/file: rotate: FilePath is required")
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(noopWriter{}, nil))
	}
	dir := filepath.Dir(cfg.FilePath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("transport/file: rotate: mkdir %s: %w", dir, err)
	}

	rf := &RotatingFile{cfg: cfg, logger: logger}
	if err := rf.open(); err != nil {
		return nil, err
	}
	return rf, nil
}

// Write implements io.Writer. A failed rotation keeps writing to the current
// file.
func (rf *RotatingFile) Write(p []byte) (int, error) {
	rf.mu.Lock()
	defer rf.mu.Unlock()

	if rf.file == nil {
		return 0, os.ErrClosed
	}
	if rf.cfg.MaxBytes > 0 && rf.size > 0 && rf.size+int64(len(p)) > rf.cfg.MaxBytes {
		if err := rf.rotate(); err != nil {
			rf.logger.Error("transport/file: rotate failed", "file", rf.cfg.FilePath, "error", err.Error())
		}
	}

	n, err := rf.file.Write(p)
	rf.size += int64(n)
	return n, err
}

// Close closes the active file. Further writes fail with os.ErrClosed.
func (rf *RotatingFile) Close() error {
	rf.mu.Lock()
	defer rf.mu.Unlock()
	if rf.file == nil {
		return nil
	}
	err := rf.file.Close()
	rf.file = nil
	return err
}

func (rf *RotatingFile) open() error {
	f, err := os.OpenFile(rf.cfg.FilePath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("transport/file: rotate: open %s: %w", rf.cfg.FilePath, err)
	}
	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return fmt.Errorf("transport/file: rotate: stat %s: %w", rf.cfg.FilePath, err)
	}
	rf.file = f
	rf.size = info.Size()
	return nil
}

func backupName(base string, i int) string { return fmt.Sprintf("%s.%d", base, i) }

// rotate shifts path.N-1 → path.N … path → path.1 and reopens path. With
// MaxBackups set, path.MaxBackups is dropped first.
func (rf *RotatingFile) rotate() error {
	if err := rf.file.Close(); err != nil {
		rf.logger.Warn("transport/file: rotate: close error", "error", err.Error())
	}
	rf.file = nil

	base := rf.cfg.FilePath
	top := rf.cfg.MaxBackups
	if top > 0 {
		_ = os.Remove(backupName(base, top))
	} else {
		for top = 0; ; top++ {
			if _, err := os.Stat(backupName(base, top+1)); err != nil {
				break
			}
		}
	}
	for i := top; i >= 1; i-- {
		_ = os.Rename(backupName(base, i), backupName(base, i+1))
	}
	if err := os.Rename(base, backupName(base, 1)); err != nil && !os.IsNotExist(err) {
		rf.logger.Warn("transport/file: rotate: rename error", "error", err.Error())
	}
	if rf.cfg.MaxBackups > 0 {
		// Leftovers from a run with a larger MaxBackups.
		for i := rf.cfg.MaxBackups + 1; os.Remove(backupName(base, i)) == nil; i++ {
			rf.logger.Debug("transport/file: pruned old backup", "file", backupName(base, i))
		}
	}

	rf.logger.Info("transport/file: rotated", "file", base)
	return rf.open()
}
