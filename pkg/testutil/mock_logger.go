package testutil

import (
	"context"
	"sync"

	"github.com/nimburion/configdata/pkg/observability/logger"
)

// LogEntry is one captured log call.
type LogEntry struct {
	Level  string
	Msg    string
	Fields map[string]any
}

// MockLogger captures log entries for assertions. Loggers derived with With
// share the capture buffer and prepend their fields. Safe for concurrent use.
type MockLogger struct {
	shared *capture
	fields []any
}

type capture struct {
	mu   sync.Mutex
	logs []LogEntry
}

// NewMockLogger returns an empty capturing logger.
func NewMockLogger() *MockLogger {
	return &MockLogger{shared: &capture{}}
}

func (m *MockLogger) Debug(msg string, args ...any) { m.record("debug", msg, args) }
func (m *MockLogger) Info(msg string, args ...any)  { m.record("info", msg, args) }
func (m *MockLogger) Warn(msg string, args ...any)  { m.record("warn", msg, args) }
func (m *MockLogger) Error(msg string, args ...any) { m.record("error", msg, args) }

func (m *MockLogger) With(args ...any) logger.Logger {
	fields := make([]any, 0, len(m.fields)+len(args))
	fields = append(fields, m.fields...)
	fields = append(fields, args...)
	return &MockLogger{shared: m.shared, fields: fields}
}

func (m *MockLogger) WithContext(ctx context.Context) logger.Logger {
	return m.With(logger.FieldsFromContext(ctx)...)
}

// Entries returns a copy of the captured entries.
func (m *MockLogger) Entries() []LogEntry {
	m.shared.mu.Lock()
	defer m.shared.mu.Unlock()
	out := make([]LogEntry, len(m.shared.logs))
	copy(out, m.shared.logs)
	return out
}

// HasMessage reports whether an entry with level and msg was captured.
func (m *MockLogger) HasMessage(level, msg string) bool {
	for _, entry := range m.Entries() {
		if entry.Level == level && entry.Msg == msg {
			return true
		}
	}
	return false
}

func (m *MockLogger) record(level, msg string, args []any) {
	fields := argsToMap(m.fields)
	for key, value := range argsToMap(args) {
		fields[key] = value
	}
	m.shared.mu.Lock()
	defer m.shared.mu.Unlock()
	m.shared.logs = append(m.shared.logs, LogEntry{Level: level, Msg: msg, Fields: fields})
}

func argsToMap(args []any) map[string]any {
	fields := make(map[string]any)
	for i := 0; i < len(args)-1; i += 2 {
		if key, ok := args[i].(string); ok {
			fields[key] = args[i+1]
		}
	}
	return fields
}
