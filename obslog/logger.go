// Package obslog provides the structured JSON-lines logger used
// throughout the bridge. Grounded in the teacher's Logger interface
// shape (backend/unsafe/unsafe.go, backend/remote/remote.go: Info/Warn/
// Error(msg string, args ...any), no context parameter), with the
// JSON-entry construction and field redaction adapted from
// jonwraymond-toolops/observe/logger.go's structuredLogger.
package obslog

import (
	"encoding/json"
	"io"
	"os"
	"sync"
	"time"
)

// Logger matches the teacher's minimal logging interface so this
// package's Logger can be passed anywhere the teacher's backends
// expected one.
type Logger interface {
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// redactedKeys are field names never written verbatim, since they
// routinely carry operator-controlled hostnames and usernames.
var redactedKeys = map[string]bool{
	"host":       true,
	"user":       true,
	"password":   true,
	"secret":     true,
	"token":      true,
	"api_key":    true,
	"credential": true,
}

// jsonLogger writes one JSON object per line to an io.Writer.
type jsonLogger struct {
	mu      sync.Mutex
	w       io.Writer
	enabled bool
}

// New returns a Logger that writes to os.Stderr. When enabled is
// false, every call is a no-op, letting callers gate all logging on
// Policy.ObservabilityEnabled without branching at each call site.
func New(enabled bool) Logger {
	return NewWithWriter(os.Stderr, enabled)
}

// NewWithWriter returns a Logger writing to w.
func NewWithWriter(w io.Writer, enabled bool) Logger {
	return &jsonLogger{w: w, enabled: enabled}
}

func (l *jsonLogger) Info(msg string, args ...any)  { l.log("info", msg, args) }
func (l *jsonLogger) Warn(msg string, args ...any)  { l.log("warn", msg, args) }
func (l *jsonLogger) Error(msg string, args ...any) { l.log("error", msg, args) }

// log serializes one entry. args is treated as alternating key/value
// pairs, matching slog-style variadic logging calls; an odd trailing
// key with no value is recorded with a nil value rather than dropped.
func (l *jsonLogger) log(level, msg string, args []any) {
	if !l.enabled {
		return
	}

	entry := make(map[string]any, len(args)/2+3)
	entry["ts"] = time.Now().UTC().Format(time.RFC3339Nano)
	entry["level"] = level
	entry["msg"] = msg

	for i := 0; i < len(args); i += 2 {
		key, ok := args[i].(string)
		if !ok {
			continue
		}
		var val any
		if i+1 < len(args) {
			val = args[i+1]
		}
		if redactedKeys[key] {
			val = "[REDACTED]"
		}
		entry[key] = val
	}

	data, err := json.Marshal(entry)
	if err != nil {
		return
	}
	data = append(data, '\n')

	l.mu.Lock()
	defer l.mu.Unlock()
	_, _ = l.w.Write(data)
}

// Noop is a Logger that discards everything, used where a non-nil
// logger is required but observability is disabled structurally
// (e.g. in unit tests that do not want log noise).
var Noop Logger = NewWithWriter(io.Discard, false)
