package models

// StepStatus is the outcome of a single playbook step or rollback step.
type StepStatus string

// Step outcomes.
const (
	StepOK      StepStatus = "ok"
	StepError   StepStatus = "error"
	StepSkipped StepStatus = "skipped"
)

// StepResult records the outcome of one step. Rollback entries carry
// Rollback=true so a reader can tell the forward pass from the unwind.
type StepResult struct {
	Step     string         `json:"step"`
	Action   string         `json:"action"`
	Status   StepStatus     `json:"status"`
	Output   map[string]any `json:"output,omitempty"`
	Error    string         `json:"error,omitempty"`
	Reason   string         `json:"reason,omitempty"`
	Rollback bool           `json:"rollback,omitempty"`
}

// ExecutionResult is the durable record of one playbook execution.
type ExecutionResult struct {
	ID         string       `json:"id"`
	PlaybookID string       `json:"playbook_id"`
	Success    bool         `json:"success"`
	Steps      []StepResult `json:"steps"`
	RolledBack bool         `json:"rolled_back"`
}
