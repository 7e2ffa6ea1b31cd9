// Package line renders the text lines opsdash publishes to module streams and
// writes to dashboard journals.
//
// Stream lines are what browsers receive verbatim as SSE data frames:
//
//	[2026-03-04 05:06:07] High - Load: 91.0% - AI: High - Monitor
//	[2026-03-04 05:06:07] Trigger: Container restarted
//
// Journal lines follow the classic "asctime - level - message" layout with
// millisecond precision:
//
//	2026-03-04 05:06:07,123 - INFO - CPU Usage: High - Load: 91.0%
package line

import (
	"strings"
	"time"

	"github.com/vpbank/opsdash/models"
)

// JournalLayout is the timestamp layout of journal lines.
const JournalLayout = "2006-01-02 15:04:05,000"

// Journal levels.
const (
	LevelInfo    = "INFO"
	LevelWarning = "WARNING"
	LevelError   = "ERROR"
)

// Config controls a Formatter.
type Config struct {
	// Location is the zone timestamps are rendered in. nil means time.Local.
	Location *time.Location
}

// Formatter renders stream and journal lines. It is immutable and safe for
// concurrent use.
type Formatter struct {
	loc *time.Location
}

// New constructs a Formatter.
func New(cfg Config) *Formatter {
	loc := cfg.Location
	if loc == nil {
		loc = time.Local
	}
	return &Formatter{loc: loc}
}

// Stamp renders t with models.TimeLayout.
func (f *Formatter) Stamp(t time.Time) string {
	return t.In(f.loc).Format(models.TimeLayout)
}

// Status renders "[ts] status - details - insight".
func (f *Formatter) Status(u models.Update) string {
	var b strings.Builder
	b.Grow(len(u.Status) + len(u.Details) + len(u.Insight) + 32)
	b.WriteByte('[')
	b.WriteString(f.Stamp(u.At))
	b.WriteString("] ")
	b.WriteString(u.Status)
	b.WriteString(" - ")
	b.WriteString(u.Details)
	b.WriteString(" - ")
	b.WriteString(u.Insight)
	return b.String()
}

// Event renders "[ts] text".
func (f *Formatter) Event(at time.Time, text string) string {
	return "[" + f.Stamp(at) + "] " + text
}

// Trigger renders "[ts] Trigger: event".
func (f *Formatter) Trigger(ev models.TriggerEvent) string {
	return f.Event(ev.At, "Trigger: "+ev.Event)
}

// StatusJournal is the journal message for a status update:
// "Title: status - details".
func (f *Formatter) StatusJournal(u models.Update) string {
	return u.Title + ": " + u.Status + " - " + u.Details
}

// Heartbeat renders a module's idle text. The first %s in tmpl receives the
// timestamp; other verbs are left untouched.
func (f *Formatter) Heartbeat(tmpl string, at time.Time) string {
	return strings.Replace(tmpl, "%s", f.Stamp(at), 1)
}

// Journal renders one journal record without the trailing newline.
func (f *Formatter) Journal(at time.Time, level, msg string) []byte {
	ts := at.In(f.loc).Format(JournalLayout)
	out := make([]byte, 0, len(ts)+len(level)+len(msg)+6)
	out = append(out, ts...)
	out = append(out, " - "...)
	out = append(out, level...)
	out = append(out, " - "...)
	out = append(out, msg...)
	return out
}
