package logging

import (
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/coreos/go-systemd/v22/journal"
)

type sentEntry struct {
	message  string
	priority journal.Priority
	fields   map[string]string
}

func captureJournal(level slog.Leveler) (*JournalHandler, *[]sentEntry) {
	var sent []sentEntry
	h := NewJournalHandler(level)
	h.send = func(message string, priority journal.Priority, fields map[string]string) error {
		sent = append(sent, sentEntry{message, priority, fields})
		return nil
	}
	return h, &sent
}

func TestJournalSchedulerFields(t *testing.T) {
	h, sent := captureJournal(slog.LevelDebug)
	logger := slog.New(h).With("module", "scaler").With("channel", "vic0")

	logger.Warn("Engine refused job",
		"job", "vic0/42",
		"code", "HARDWARE_ERROR",
		"error", errors.New("refused"),
		"buffers_released", 3,
		"flush_timeout", 20*time.Millisecond)

	if len(*sent) != 1 {
		t.Fatalf("sent %d entries", len(*sent))
	}
	e := (*sent)[0]
	if e.message != "Engine refused job" || e.priority != journal.PriWarning {
		t.Errorf("entry = %+v", e)
	}

	want := map[string]string{
		"SYSLOG_IDENTIFIER": "memscaler",
		"MODULE":            "scaler",
		"CHANNEL":           "vic0",
		"JOB":               "vic0/42",
		"ERROR_CODE":        "HARDWARE_ERROR",
		"ERROR":             "refused",
		"BUFFERS_RELEASED":  "3",
		"FLUSH_TIMEOUT":     "20ms",
	}
	for k, v := range want {
		if e.fields[k] != v {
			t.Errorf("%s = %q, want %q", k, e.fields[k], v)
		}
	}
	if _, ok := e.fields["PRIORITY"]; ok {
		t.Error("PRIORITY duplicated in fields")
	}
}

func TestJournalGroupsAndKeys(t *testing.T) {
	h, sent := captureJournal(slog.LevelInfo)
	logger := slog.New(h).WithGroup("pool")

	logger.Info("stats", "free-frames", 2, "channel", "vic1", slog.Group("luma", "free", 1))
	logger.Debug("below level")

	if len(*sent) != 1 {
		t.Fatalf("sent %d entries, want 1", len(*sent))
	}
	fields := (*sent)[0].fields
	for k, v := range map[string]string{
		"POOL_FREE_FRAMES": "2",
		"POOL_CHANNEL":     "vic1",
		"POOL_LUMA_FREE":   "1",
	} {
		if fields[k] != v {
			t.Errorf("%s = %q, want %q (fields %v)", k, fields[k], v, fields)
		}
	}
	if _, ok := fields["CHANNEL"]; ok {
		t.Error("grouped channel attr mapped to CHANNEL")
	}
}

func TestJournalKey(t *testing.T) {
	tests := []struct {
		path []string
		want string
	}{
		{[]string{"flush_timeout"}, "FLUSH_TIMEOUT"},
		{[]string{"stats", "free.luma"}, "STATS_FREE_LUMA"},
		{[]string{"_private"}, "PRIVATE"},
		{[]string{"2nd"}, "ATTR_2ND"},
		{[]string{"__"}, ""},
	}
	for _, tt := range tests {
		if got := journalKey(tt.path); got != tt.want {
			t.Errorf("journalKey(%v) = %q, want %q", tt.path, got, tt.want)
		}
	}
}

func TestJournalPriority(t *testing.T) {
	tests := []struct {
		level slog.Level
		want  journal.Priority
	}{
		{slog.LevelDebug, journal.PriDebug},
		{slog.LevelInfo, journal.PriInfo},
		{slog.LevelWarn, journal.PriWarning},
		{slog.LevelError, journal.PriErr},
		{slog.LevelError + 4, journal.PriErr},
	}
	for _, tt := range tests {
		if got := journalPriority(tt.level); got != tt.want {
			t.Errorf("journalPriority(%v) = %v, want %v", tt.level, got, tt.want)
		}
	}
}

func TestJournalAttrsKeepTheirGroup(t *testing.T) {
	h, sent := captureJournal(slog.LevelInfo)
	logger := slog.New(h).With("module", "metrics", "channel", "vic2").WithGroup("engine")

	logger.Info("sample", "interrupts", 5)

	fields := (*sent)[0].fields
	if fields["MODULE"] != "metrics" || fields["CHANNEL"] != "vic2" || fields["ENGINE_INTERRUPTS"] != "5" {
		t.Errorf("fields = %v", fields)
	}

	// A child handler does not leak fields into its parent.
	slog.New(h).Info("parent")
	if _, ok := (*sent)[1].fields["MODULE"]; ok {
		t.Error("parent handler picked up child attrs")
	}
}
