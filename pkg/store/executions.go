package store

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/sentinelops/backplane/pkg/models"
)

// ExecutionLog writes one JSON file per playbook execution. With persistence
// disabled it keeps results in memory for the life of the process instead.
type ExecutionLog struct {
	dir     string
	persist bool

	mu    sync.RWMutex
	inmem map[string]models.ExecutionResult
}

// NewExecutionLog creates the log. dir is created lazily on first save.
func NewExecutionLog(dir string, persist bool) *ExecutionLog {
	return &ExecutionLog{
		dir:     dir,
		persist: persist,
		inmem:   make(map[string]models.ExecutionResult),
	}
}

// Save records a finished execution.
func (l *ExecutionLog) Save(res models.ExecutionResult) error {
	if !l.persist {
		l.mu.Lock()
		l.inmem[res.ID] = res
		l.mu.Unlock()
		return nil
	}
	if err := os.MkdirAll(l.dir, 0o755); err != nil {
		return fmt.Errorf("create executions dir: %w", err)
	}
	body, err := json.MarshalIndent(res, "", "  ")
	if err != nil {
		return fmt.Errorf("encode execution %s: %w", res.ID, err)
	}
	path := filepath.Join(l.dir, res.ID+".json")
	if err := os.WriteFile(path, body, 0o644); err != nil {
		return fmt.Errorf("write execution %s: %w", res.ID, err)
	}
	return nil
}

// Get loads an execution by id. Returns (nil, nil) when unknown.
func (l *ExecutionLog) Get(id string) (*models.ExecutionResult, error) {
	if !l.persist {
		l.mu.RLock()
		res, ok := l.inmem[id]
		l.mu.RUnlock()
		if !ok {
			return nil, nil
		}
		return &res, nil
	}
	// The id forms the filename; refuse anything that could traverse.
	if strings.ContainsAny(id, `/\`) || id == "" {
		return nil, fmt.Errorf("invalid execution id %q", id)
	}
	body, err := os.ReadFile(filepath.Join(l.dir, id+".json"))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read execution %s: %w", id, err)
	}
	var res models.ExecutionResult
	if err := json.Unmarshal(body, &res); err != nil {
		return nil, fmt.Errorf("decode execution %s: %w", id, err)
	}
	return &res, nil
}
