// Package ledger provides the append-only release ledger: one JSON line per
// approval, rejection, ship, denial, or reclaim event. Entries are never
// rewritten or deleted; the ledger is derived audit state, not a source of
// truth for task status.
package ledger

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Event types recorded in the ledger.
const (
	EventCompleteTaskDeny = "COMPLETE_TASK_DENY"
	EventWorkApproved     = "WORK_APPROVED"
	EventWorkRejected     = "WORK_REJECTED"
	EventWorkFailed       = "WORK_FAILED"
	EventTaskReaped       = "TASK_REAPED"
	EventRoleUnresolved   = "ROLE_UNRESOLVED"
)

// Entry is a single immutable ledger record.
type Entry struct {
	Timestamp time.Time `json:"timestamp"`
	EventType string    `json:"event_type"`
	TaskID    string    `json:"task_id,omitempty"`
	WorkerID  string    `json:"worker_id,omitempty"`
	LeaseID   string    `json:"lease_id,omitempty"`
	Detail    string    `json:"detail,omitempty"`
}

// Ledger appends entries to a JSONL file opened with O_APPEND. Writes are
// serialized by a mutex and synced so a crash mid-run loses at most the
// entry being written.
type Ledger struct {
	mu   sync.Mutex
	file *os.File
	path string
}

// Open opens (creating if necessary) the ledger file at path in append-only
// mode.
func Open(path string) (*Ledger, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create ledger directory: %w", err)
		}
	}
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to open ledger %s: %w", path, err)
	}
	return &Ledger{file: file, path: path}, nil
}

// Close closes the underlying file. Implements io.Closer.
func (l *Ledger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.file.Close()
}

// Append writes one entry as a single JSON line. The timestamp is stamped
// here if the caller left it zero.
func (l *Ledger) Append(e Entry) error {
	if e.EventType == "" {
		return fmt.Errorf("ledger entry requires an event type")
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}

	line, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("failed to marshal ledger entry: %w", err)
	}
	line = append(line, '\n')

	l.mu.Lock()
	defer l.mu.Unlock()
	if _, err := l.file.Write(line); err != nil {
		return fmt.Errorf("failed to append to ledger %s: %w", l.path, err)
	}
	return l.file.Sync()
}

// Read returns every entry currently in the ledger, oldest first. Intended
// for operator tooling and tests; the file is re-read on each call.
func (l *Ledger) Read() ([]Entry, error) {
	data, err := os.ReadFile(l.path)
	if err != nil {
		return nil, fmt.Errorf("failed to read ledger %s: %w", l.path, err)
	}

	var entries []Entry
	start := 0
	for i := 0; i <= len(data); i++ {
		if i == len(data) || data[i] == '\n' {
			if i > start {
				var e Entry
				if err := json.Unmarshal(data[start:i], &e); err != nil {
					return nil, fmt.Errorf("corrupt ledger line in %s: %w", l.path, err)
				}
				entries = append(entries, e)
			}
			start = i + 1
		}
	}
	return entries, nil
}
