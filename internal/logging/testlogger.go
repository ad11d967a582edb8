package logging

import (
	"fmt"
	"strings"
	"sync"
)

// TestEntry is one recorded log call.
type TestEntry struct {
	Level   string
	Message string
	Fields  []Field
}

// TestLogger records every log call for later assertion. Warn and Error are
// echoed to stdout so failing tests show what went wrong; verbose echoes the
// rest too. Child loggers from With share the recording.
type TestLogger struct {
	verbose bool

	mu      sync.Mutex
	entries []TestEntry
}

// NewTestLogger creates a recording logger for tests.
func NewTestLogger(verbose bool) *TestLogger {
	return &TestLogger{verbose: verbose}
}

func (tl *TestLogger) log(level, msg string, fields []Field) {
	tl.mu.Lock()
	tl.entries = append(tl.entries, TestEntry{Level: level, Message: msg, Fields: fields})
	tl.mu.Unlock()

	if tl.verbose || level == "WARN" || level == "ERROR" {
		fmt.Printf("[%s] %s %v\n", level, msg, fields)
	}
}

func (tl *TestLogger) Debug(msg string, fields ...Field) { tl.log("DEBUG", msg, fields) }
func (tl *TestLogger) Info(msg string, fields ...Field)  { tl.log("INFO", msg, fields) }
func (tl *TestLogger) Warn(msg string, fields ...Field)  { tl.log("WARN", msg, fields) }
func (tl *TestLogger) Error(msg string, fields ...Field) { tl.log("ERROR", msg, fields) }

func (tl *TestLogger) With(fields ...Field) Logger {
	return tl
}

// Entries returns a snapshot of everything logged so far.
func (tl *TestLogger) Entries() []TestEntry {
	tl.mu.Lock()
	defer tl.mu.Unlock()
	out := make([]TestEntry, len(tl.entries))
	copy(out, tl.entries)
	return out
}

// Contains reports whether any recorded message contains the substring.
func (tl *TestLogger) Contains(substr string) bool {
	tl.mu.Lock()
	defer tl.mu.Unlock()
	for _, e := range tl.entries {
		if strings.Contains(e.Message, substr) {
			return true
		}
	}
	return false
}
