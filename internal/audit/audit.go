// Package audit provides the append-only trail of sync-relevant events.
//
// Events are written as one JSON object per line, synchronously flushed
// before the triggering call returns, and mirrored to the structured
// logger. There is no rotation or retention; operators manage the file.
package audit

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"sync"
	"time"
)

// Event is one recorded occurrence.
type Event struct {
	Event     string         `json:"event"`
	Timestamp time.Time      `json:"ts"`
	Payload   map[string]any `json:"payload,omitempty"`
}

// Trail appends events to a JSONL file.
type Trail struct {
	mu     sync.Mutex
	f      *os.File
	enc    *json.Encoder
	logger *log.Logger
}

// Open opens (or creates) the audit file at path in append mode.
// If logger is nil, a default logger writing to stderr is used.
//
// The caller MUST call Close() when done.
func Open(path string, logger *log.Logger) (*Trail, error) {
	// #nosec G304 - controlled path from configuration
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open audit file: %w", err)
	}

	if logger == nil {
		logger = log.New(os.Stderr, "[audit] ", log.LstdFlags)
	}

	return &Trail{f: f, enc: json.NewEncoder(f), logger: logger}, nil
}

// Record appends one event and syncs the file before returning. The
// event is also mirrored to the logger.
func (t *Trail) Record(event string, payload map[string]any) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	e := Event{Event: event, Timestamp: time.Now().UTC(), Payload: payload}

	if err := t.enc.Encode(&e); err != nil {
		return fmt.Errorf("failed to append audit event %s: %w", event, err)
	}
	if err := t.f.Sync(); err != nil {
		return fmt.Errorf("failed to sync audit file: %w", err)
	}

	t.logger.Printf("%s %s", event, renderPayload(payload))
	return nil
}

// Close closes the underlying file.
func (t *Trail) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.f == nil {
		return nil
	}
	err := t.f.Close()
	t.f = nil
	return err
}

// renderPayload flattens a payload for the mirrored log line.
func renderPayload(payload map[string]any) string {
	if len(payload) == 0 {
		return ""
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Sprintf("%v", payload)
	}
	return string(data)
}
