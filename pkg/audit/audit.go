// Package audit appends execution-trail records as JSON lines. Every
// executor transition lands here so an operator can reconstruct what a
// playbook did and when.
package audit

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Auditor serialises appends to a single JSONL file. A nil Auditor is
// valid and drops records, which keeps tests and dry runs quiet.
type Auditor struct {
	path string
	mu   sync.Mutex
}

// New creates an auditor writing to path. The parent directory is created
// on first emit.
func New(path string) *Auditor {
	return &Auditor{path: path}
}

// Emit appends one record: {"ts": ..., "event": ..., <fields>}. Emit never
// fails the caller; audit-trail write errors are logged and swallowed
// because losing an audit line must not abort a response action.
func (a *Auditor) Emit(event string, fields map[string]any) {
	if a == nil {
		return
	}
	rec := make(map[string]any, len(fields)+2)
	for k, v := range fields {
		rec[k] = v
	}
	rec["ts"] = time.Now().UTC().Format(time.RFC3339Nano)
	rec["event"] = event

	line, err := json.Marshal(rec)
	if err != nil {
		slog.Error("Audit record not serialisable", "event", event, "error", err)
		return
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if err := a.append(line); err != nil {
		slog.Error("Audit write failed", "event", event, "error", err)
	}
}

func (a *Auditor) append(line []byte) error {
	if err := os.MkdirAll(filepath.Dir(a.path), 0o755); err != nil {
		return fmt.Errorf("create audit dir: %w", err)
	}
	f, err := os.OpenFile(a.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open audit log: %w", err)
	}
	defer f.Close()
	if _, err := f.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("append audit record: %w", err)
	}
	return nil
}
