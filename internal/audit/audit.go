// Copyright 2025 Joseph Cumines
//
// Audit logging for dispatched element actions

package audit

import (
	"encoding/json"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"
)

// Redacted replaces argument values that must not be written to the log.
const Redacted = "[REDACTED]"

// maxTextLen is the number of characters of a text argument kept in the log.
const maxTextLen = 50

// Logger writes one JSON line per action dispatch. A Logger created without
// a destination, and a nil *Logger, are disabled and write nothing.
type Logger struct {
	logger  *slog.Logger
	closer  io.Closer
	enabled bool
	mu      sync.RWMutex
}

// Entry is one action dispatch.
type Entry struct {
	Arguments map[string]any
	Timestamp time.Time
	Action    string
	Role      string
	Name      string
	Status    string
	Duration  time.Duration
	// Protected marks a password-style target; its text arguments are
	// redacted entirely.
	Protected bool
}

// sensitiveKeys are argument keys always redacted regardless of target.
var sensitiveKeys = []string{
	"password",
	"secret",
	"token",
	"api_key",
	"apikey",
	"credential",
	"private_key",
	"passphrase",
}

// New opens path for appending. An empty path returns a disabled logger.
func New(path string) (*Logger, error) {
	if path == "" {
		return &Logger{}, nil
	}
	file, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, err
	}
	l := NewWriter(file)
	l.closer = file
	return l, nil
}

// NewWriter returns an enabled logger writing to w.
func NewWriter(w io.Writer) *Logger {
	handler := slog.NewJSONHandler(w, &slog.HandlerOptions{Level: slog.LevelInfo})
	return &Logger{logger: slog.New(handler), enabled: true}
}

// Close closes the destination file, if any. Safe to call more than once.
func (a *Logger) Close() error {
	if a == nil {
		return nil
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.enabled = false
	if a.closer == nil {
		return nil
	}
	err := a.closer.Close()
	a.closer = nil
	return err
}

// IsEnabled reports whether entries are written.
func (a *Logger) IsEnabled() bool {
	if a == nil {
		return false
	}
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.enabled
}

// LogAction writes e with its arguments redacted.
func (a *Logger) LogAction(e Entry) {
	if !a.IsEnabled() {
		return
	}
	a.mu.RLock()
	logger := a.logger
	a.mu.RUnlock()

	ts := e.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	logger.Info("element_action",
		slog.String("action", e.Action),
		slog.String("element_role", e.Role),
		slog.String("element_name", truncate(e.Name)),
		slog.String("arguments", RedactArguments(e.Arguments, e.Protected)),
		slog.String("status", e.Status),
		slog.Float64("duration_seconds", e.Duration.Seconds()),
		slog.Time("timestamp", ts.UTC()),
	)
}

// RedactArguments renders args as JSON. String values are truncated to 50
// characters, sensitive keys are redacted, and when protected every string
// value is redacted.
func RedactArguments(args map[string]any, protected bool) string {
	if len(args) == 0 {
		return "{}"
	}
	out := make(map[string]any, len(args))
	for k, v := range args {
		out[k] = redactValue(k, v, protected)
	}
	data, err := json.Marshal(out)
	if err != nil {
		return "[error]"
	}
	return string(data)
}

func redactValue(key string, v any, protected bool) any {
	lower := strings.ToLower(key)
	for _, s := range sensitiveKeys {
		if strings.Contains(lower, s) {
			return Redacted
		}
	}
	switch v := v.(type) {
	case string:
		if protected {
			return Redacted
		}
		return truncate(v)
	case map[string]any:
		nested := make(map[string]any, len(v))
		for k, item := range v {
			nested[k] = redactValue(k, item, protected)
		}
		return nested
	default:
		return v
	}
}

func truncate(s string) string {
	r := []rune(s)
	if len(r) <= maxTextLen {
		return s
	}
	return string(r[:maxTextLen]) + "..."
}
