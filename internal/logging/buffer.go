package logging

import (
	"sync"
	"time"
)

// LogEntry is one record kept in the ring buffer.
type LogEntry struct {
	Seq       uint64    `json:"seq"`
	Timestamp time.Time `json:"timestamp"`
	Level     string    `json:"level"`
	Module    string    `json:"module"`
	// Channel is the scaling channel the record was logged for, if any.
	Channel    string         `json:"channel,omitempty"`
	Message    string         `json:"message"`
	Attributes map[string]any `json:"attributes,omitempty"`
}

// LogQuery selects entries from a RingBuffer. Zero fields match everything.
type LogQuery struct {
	After   uint64
	Module  string
	Channel string
	// Limit keeps only the newest matches.
	Limit int
}

func (q LogQuery) matches(e LogEntry) bool {
	return (q.Module == "" || e.Module == q.Module) && (q.Channel == "" || e.Channel == q.Channel)
}

// RingBuffer keeps the newest log entries. Entry seq lives at slot
// (seq-1) % size, so lookups by sequence number need no scan.
type RingBuffer struct {
	mu      sync.RWMutex
	entries []LogEntry
	last    uint64
}

// NewRingBuffer creates a buffer holding up to size entries.
func NewRingBuffer(size int) *RingBuffer {
	if size <= 0 {
		size = defaultBufferSize
	}
	return &RingBuffer{entries: make([]LogEntry, size)}
}

// Write stores entry, evicting the oldest one when full, and returns it with
// its sequence number assigned.
func (rb *RingBuffer) Write(entry LogEntry) LogEntry {
	rb.mu.Lock()
	defer rb.mu.Unlock()

	rb.last++
	entry.Seq = rb.last
	rb.entries[rb.slot(rb.last)] = entry
	return entry
}

// Query returns the retained entries matching q, oldest first.
func (rb *RingBuffer) Query(q LogQuery) []LogEntry {
	rb.mu.RLock()
	defer rb.mu.RUnlock()

	var out []LogEntry
	for seq := max(q.After+1, rb.oldest()); seq <= rb.last; seq++ {
		if e := rb.entries[rb.slot(seq)]; q.matches(e) {
			out = append(out, e)
		}
	}
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[len(out)-q.Limit:]
	}
	return out
}

// ReadSince returns every retained entry newer than after, oldest first.
func (rb *RingBuffer) ReadSince(after uint64) []LogEntry {
	return rb.Query(LogQuery{After: after})
}

func (rb *RingBuffer) slot(seq uint64) uint64 {
	return (seq - 1) % uint64(len(rb.entries))
}

// oldest returns the sequence number of the oldest retained entry.
func (rb *RingBuffer) oldest() uint64 {
	if size := uint64(len(rb.entries)); rb.last > size {
		return rb.last - size + 1
	}
	return 1
}
