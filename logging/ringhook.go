package logging

import (
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// Entry is one captured log record, as exposed by the admin API's
// /debug/logs endpoint.
type Entry struct {
	Time    time.Time
	Level   string
	Message string
	Fields  map[string]interface{}
}

// RingHook is a logrus.Hook that keeps the last N Error-level-or-above
// entries in memory, modeled on coordinator/loghook.go's LogrusHook —
// minus the network forwarding, since here the ring buffer itself is the
// transport: the admin API reads it directly rather than shipping entries
// onward.
type RingHook struct {
	mu       sync.Mutex
	capacity int
	entries  []Entry
}

// NewRingHook creates a hook retaining up to capacity entries.
func NewRingHook(capacity int) *RingHook {
	if capacity <= 0 {
		capacity = 256
	}
	return &RingHook{capacity: capacity}
}

// Levels restricts this hook to Error, Fatal, and Panic entries.
func (h *RingHook) Levels() []logrus.Level {
	return []logrus.Level{logrus.PanicLevel, logrus.FatalLevel, logrus.ErrorLevel}
}

// Fire appends entry to the ring buffer, evicting the oldest entry once at
// capacity.
func (h *RingHook) Fire(e *logrus.Entry) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	fields := make(map[string]interface{}, len(e.Data))
	for k, v := range e.Data {
		fields[k] = v
	}
	h.entries = append(h.entries, Entry{Time: e.Time, Level: e.Level.String(), Message: e.Message, Fields: fields})
	if len(h.entries) > h.capacity {
		h.entries = h.entries[len(h.entries)-h.capacity:]
	}
	return nil
}

// Recent returns a copy of the currently buffered entries, oldest first.
func (h *RingHook) Recent() []Entry {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]Entry, len(h.entries))
	copy(out, h.entries)
	return out
}
