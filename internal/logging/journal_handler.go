package logging

import (
	"context"
	"log/slog"
	"maps"
	"strconv"
	"strings"
	"time"

	"github.com/coreos/go-systemd/v22/journal"
)

const journalIdentifier = "memscaler"

// Scheduler attributes that get a fixed journal field, so
// `journalctl CHANNEL=vic0` or `journalctl JOB=vic0/42` select one channel or job.
var journalFieldNames = map[string]string{
	"module":  "MODULE",
	"channel": "CHANNEL",
	"job":     "JOB",
	"frame":   "FRAME",
	"state":   "SCALER_STATE",
	"code":    "ERROR_CODE",
	"error":   "ERROR",
}

// JournalHandler writes records to the systemd journal with the scheduler's
// attributes as structured fields.
type JournalHandler struct {
	level slog.Leveler
	// base holds the fields of attributes added by WithAttrs, keyed under
	// the groups open at that time.
	base   map[string]string
	groups []string
	send   func(message string, priority journal.Priority, fields map[string]string) error
}

// NewJournalHandler creates a journal handler.
func NewJournalHandler(level slog.Leveler) *JournalHandler {
	return &JournalHandler{
		level: level,
		base:  map[string]string{"SYSLOG_IDENTIFIER": journalIdentifier},
		send:  journal.Send,
	}
}

// Enabled implements slog.Handler.
func (h *JournalHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level.Level()
}

// Handle implements slog.Handler.
func (h *JournalHandler) Handle(_ context.Context, r slog.Record) error {
	return h.send(r.Message, journalPriority(r.Level), h.fields(r))
}

// fields builds the journal fields of r; journal.Send adds MESSAGE and
// PRIORITY itself. Record attributes win over handler attributes with the
// same key.
func (h *JournalHandler) fields(r slog.Record) map[string]string {
	fields := maps.Clone(h.base)
	r.Attrs(func(a slog.Attr) bool {
		addJournalField(fields, h.groups, a)
		return true
	})
	return fields
}

// WithAttrs implements slog.Handler.
func (h *JournalHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	clone := *h
	clone.base = maps.Clone(h.base)
	for _, a := range attrs {
		addJournalField(clone.base, h.groups, a)
	}
	return &clone
}

// WithGroup implements slog.Handler.
func (h *JournalHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	clone := *h
	clone.groups = append(append([]string(nil), h.groups...), name)
	return &clone
}

func journalPriority(level slog.Level) journal.Priority {
	switch {
	case level >= slog.LevelError:
		return journal.PriErr
	case level >= slog.LevelWarn:
		return journal.PriWarning
	case level >= slog.LevelInfo:
		return journal.PriInfo
	default:
		return journal.PriDebug
	}
}

func addJournalField(fields map[string]string, groups []string, a slog.Attr) {
	a.Value = a.Value.Resolve()
	if a.Equal(slog.Attr{}) {
		return
	}

	if a.Value.Kind() == slog.KindGroup {
		sub := groups
		if a.Key != "" {
			sub = append(append([]string(nil), groups...), a.Key)
		}
		for _, ga := range a.Value.Group() {
			addJournalField(fields, sub, ga)
		}
		return
	}

	key, ok := "", false
	if len(groups) == 0 {
		key, ok = journalFieldNames[a.Key]
	}
	if !ok {
		key = journalKey(append(append([]string(nil), groups...), a.Key))
	}
	if key == "" {
		return
	}
	fields[key] = journalValue(a.Value)
}

// journalKey joins path into a valid journal field name: upper case letters,
// digits and underscores, not starting with an underscore or a digit.
func journalKey(path []string) string {
	var sb strings.Builder
	for _, r := range strings.ToUpper(strings.Join(path, "_")) {
		switch {
		case r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			sb.WriteRune(r)
		default:
			sb.WriteByte('_')
		}
	}
	key := strings.TrimLeft(sb.String(), "_")
	if key != "" && key[0] >= '0' && key[0] <= '9' {
		key = "ATTR_" + key
	}
	return key
}

func journalValue(v slog.Value) string {
	switch v.Kind() {
	case slog.KindInt64:
		return strconv.FormatInt(v.Int64(), 10)
	case slog.KindUint64:
		return strconv.FormatUint(v.Uint64(), 10)
	case slog.KindFloat64:
		return strconv.FormatFloat(v.Float64(), 'g', -1, 64)
	case slog.KindBool:
		return strconv.FormatBool(v.Bool())
	case slog.KindTime:
		return v.Time().Format(time.RFC3339Nano)
	case slog.KindAny:
		if err, ok := v.Any().(error); ok {
			return err.Error()
		}
	}
	return v.String()
}

// IsJournalAvailable reports whether the systemd journal socket is reachable.
func IsJournalAvailable() bool {
	return journal.Enabled()
}
