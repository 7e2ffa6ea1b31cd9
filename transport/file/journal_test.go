package file_test

import (
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"testing"

	"github.com/vpbank/opsdash/format/line"
	"github.com/vpbank/opsdash/transport/file"
)

var journalLine = regexp.MustCompile(`^\d{4}-\d{2}-\d{2} \d{2}:\d{2}:\d{2},\d{3} - (INFO|WARNING) - .+$`)

func TestJournal_WritesFormattedRecords(t *testing.T) {
	dir := t.TempDir()
	j, err := file.OpenJournal(file.JournalConfig{Dir: dir, Name: "self_healing.log"}, line.New(line.Config{}), nil)
	if err != nil {
		t.Fatalf("OpenJournal: %v", err)
	}

	j.Info("Trigger Event Received: [2026-03-04 05:06:07] Trigger: Disk cleanup")
	j.Warn("docker unavailable")
	if err := j.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	content, err := os.ReadFile(filepath.Join(dir, "self_healing.log"))
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	lines := strings.Split(strings.TrimRight(string(content), "\n"), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected 2 lines, got %q", content)
	}
	for _, l := range lines {
		if !journalLine.MatchString(l) {
			t.Errorf("malformed journal line %q", l)
		}
	}
	if !strings.HasSuffix(lines[0], " - INFO - Trigger Event Received: [2026-03-04 05:06:07] Trigger: Disk cleanup") {
		t.Errorf("line[0] = %q", lines[0])
	}
	if !strings.Contains(lines[1], " - WARNING - docker unavailable") {
		t.Errorf("line[1] = %q", lines[1])
	}
}

func TestJournal_NilDiscards(t *testing.T) {
	var j *file.Journal
	j.Info("ignored")
	if err := j.Close(); err != nil {
		t.Errorf("Close on nil journal: %v", err)
	}
}
