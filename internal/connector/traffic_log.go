package connector

// Direction labels a diagnostic log entry.
type Direction string

const (
	DirSent         Direction = "sent"
	DirReceived     Direction = "received"
	DirSystem       Direction = "system"
	DirError        Direction = "error"
	DirSelfPresence Direction = "self_presence"
	DirDebug        Direction = "debug"
)

const (
	defaultLogCapacity = 500
	logEvictBatch      = 100
)

// LogEntry is one line of protocol traffic or session narration.
type LogEntry struct {
	Direction Direction `json:"direction"`
	Data      string    `json:"data"`
	Timestamp int64     `json:"timestamp"`
}

// TrafficLog is an append-only log that drops its oldest 100 entries once
// it grows past capacity. Not safe for concurrent use.
type TrafficLog struct {
	capacity int
	entries  []LogEntry
}

// NewTrafficLog creates a log holding at most capacity entries. Capacities
// not above the eviction batch fall back to the default.
func NewTrafficLog(capacity int) *TrafficLog {
	if capacity <= logEvictBatch {
		capacity = defaultLogCapacity
	}
	return &TrafficLog{capacity: capacity}
}

// Append adds an entry, evicting the oldest batch when over capacity.
func (l *TrafficLog) Append(e LogEntry) {
	l.entries = append(l.entries, e)
	if len(l.entries) > l.capacity {
		l.entries = append(l.entries[:0:0], l.entries[logEvictBatch:]...)
	}
}

// Entries returns a copy of the log in insertion order.
func (l *TrafficLog) Entries() []LogEntry {
	out := make([]LogEntry, len(l.entries))
	copy(out, l.entries)
	return out
}

// Tail returns a copy of the last n entries.
func (l *TrafficLog) Tail(n int) []LogEntry {
	if n <= 0 || n >= len(l.entries) {
		return l.Entries()
	}
	out := make([]LogEntry, n)
	copy(out, l.entries[len(l.entries)-n:])
	return out
}

func (l *TrafficLog) Len() int { return len(l.entries) }

func (l *TrafficLog) Reset() { l.entries = nil }
