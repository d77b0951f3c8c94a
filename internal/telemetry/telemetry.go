// Package telemetry appends one JSON object per line to the run's
// diagnostic artifact (log/reporter_sync.json).
package telemetry

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"
)

// Log is an append-only JSON-lines sink bound to a single file.
type Log struct {
	mu   sync.Mutex
	path string
}

// Open binds a Log to path. The file is created on first Append.
func Open(path string) *Log { return &Log{path: path} }

// Event is a single telemetry record. Extra carries event-specific fields.
type Event struct {
	Timestamp time.Time      `json:"ts"`
	Kind      string         `json:"event"`
	Mode      string         `json:"mode,omitempty"`
	Fn        string         `json:"fn,omitempty"`
	Message   string         `json:"message,omitempty"`
	Extra     map[string]any `json:"extra,omitempty"`
}

// Append writes ev as one JSON line, fsync-ing so the record is durable
// before the caller proceeds.
func (l *Log) Append(ev Event) error {
	if l == nil {
		return nil
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}
	b, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("telemetry: marshal event: %w", err)
	}
	b = append(b, '\n')

	l.mu.Lock()
	defer l.mu.Unlock()
	f, err := os.OpenFile(l.path, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("telemetry: open %s: %w", l.path, err)
	}
	defer f.Close()
	if _, err := f.Write(b); err != nil {
		return fmt.Errorf("telemetry: write %s: %w", l.path, err)
	}
	return f.Sync()
}

// Duration appends a phase_duration event with a named phase's wall-clock
// duration in milliseconds to the Log's own file.
func (l *Log) Duration(phase string, d time.Duration) error {
	return l.Append(Event{Kind: "phase_duration", Message: phase, Extra: map[string]any{
		"duration_ms": d.Milliseconds(),
	}})
}
