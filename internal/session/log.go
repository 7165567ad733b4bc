package session

import (
	"time"

	"github.com/google/uuid"
)

// MaxLogEntries caps the processing log feed.
const MaxLogEntries = 15

// LogLevel classifies a processing log entry.
type LogLevel string

const (
	LogInfo    LogLevel = "info"
	LogLoading LogLevel = "loading"
	LogSuccess LogLevel = "success"
	LogError   LogLevel = "error"
)

// LogEntry is one line of the user-facing processing feed.
type LogEntry struct {
	ID        string    `json:"id"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
	Level     LogLevel  `json:"level"`
}

// logFeed keeps the newest MaxLogEntries entries, newest first. Not safe for
// concurrent use; the Controller guards it.
type logFeed struct {
	entries []LogEntry
}

func (f *logFeed) add(level LogLevel, message string, now time.Time) {
	entry := LogEntry{
		ID:        uuid.NewString(),
		Message:   message,
		Timestamp: now,
		Level:     level,
	}
	f.entries = append([]LogEntry{entry}, f.entries...)
	if len(f.entries) > MaxLogEntries {
		f.entries = f.entries[:MaxLogEntries]
	}
}

func (f *logFeed) clear() {
	f.entries = nil
}

func (f *logFeed) snapshot() []LogEntry {
	out := make([]LogEntry, len(f.entries))
	copy(out, f.entries)
	return out
}
