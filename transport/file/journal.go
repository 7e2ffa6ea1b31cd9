package file

import (
	"log/slog"
	"path/filepath"
	"time"

	"github.com/vpbank/opsdash/format/line"
)

// JournalConfig locates one dashboard journal.
type JournalConfig struct {
	// Dir holds the journal. Empty means the working directory.
	Dir string

	// Name is the file name, e.g. "advanced_features.log".
	Name string

	MaxBytes   int64
	MaxBackups int
}

// Journal appends human-readable records to a dashboard's log file. A nil
// *Journal discards everything, which is how a disabled journal is
// represented.
type Journal struct {
	t   Transport
	fmt *line.Formatter
	now func() time.Time
}

// OpenJournal opens a rotating journal file. Zero MaxBytes and MaxBackups
// take the package defaults.
func OpenJournal(cfg JournalConfig, f *line.Formatter, logger *slog.Logger) (*Journal, error) {
	if cfg.MaxBytes == 0 {
		cfg.MaxBytes = DefaultMaxBytes
	}
	if cfg.MaxBackups == 0 {
		cfg.MaxBackups = DefaultMaxBackups
	}
	rf, err := NewRotatingFile(RotateConfig{
		FilePath:   filepath.Join(cfg.Dir, cfg.Name),
		MaxBytes:   cfg.MaxBytes,
		MaxBackups: cfg.MaxBackups,
	}, logger)
	if err != nil {
		return nil, err
	}
	return NewJournal(New(Config{Writer: rf}, logger), f), nil
}

// NewJournal writes records to t.
func NewJournal(t Transport, f *line.Formatter) *Journal {
	if f == nil {
		f = line.New(line.Config{})
	}
	return &Journal{t: t, fmt: f, now: time.Now}
}

// Info appends an INFO record.
func (j *Journal) Info(msg string) { j.write(line.LevelInfo, msg) }

// Warn appends a WARNING record.
func (j *Journal) Warn(msg string) { j.write(line.LevelWarning, msg) }

func (j *Journal) write(level, msg string) {
	if j == nil {
		return
	}
	// The transport logs its own failures; a journal write never fails a
	// caller.
	_ = j.t.Send(j.fmt.Journal(j.now(), level, msg))
}

// Close closes the underlying transport.
func (j *Journal) Close() error {
	if j == nil {
		return nil
	}
	return j.t.Close()
}
