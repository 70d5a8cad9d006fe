package models

import "time"

// RunStatus is the lifecycle state of a workflow run.
type RunStatus string

const (
	RunStatusPending   RunStatus = "pending"
	RunStatusRunning   RunStatus = "running"
	RunStatusWaiting   RunStatus = "waiting"
	RunStatusCompleted RunStatus = "completed"
	RunStatusFailed    RunStatus = "failed"
	RunStatusCancelled RunStatus = "cancelled"
)

// IsTerminal reports whether no further transition is possible from s.
func (s RunStatus) IsTerminal() bool {
	return s == RunStatusCompleted || s == RunStatusFailed || s == RunStatusCancelled
}

// ActiveRunStatuses are the statuses of runs that may still produce side effects.
var ActiveRunStatuses = []RunStatus{RunStatusPending, RunStatusRunning, RunStatusWaiting}

// WorkflowRun is one execution of a workflow against one contact.
type WorkflowRun struct {
	ID              string     `json:"id"`
	WorkflowID      string     `json:"workflow_id"`
	ContactID       string     `json:"contact_id"`
	OrganizationID  string     `json:"organization_id"`
	TriggeringEvent Event      `json:"triggering_event"`
	DedupKey        string     `json:"dedup_key"`
	Status          RunStatus  `json:"status"`
	CurrentStepID   string     `json:"current_step_id,omitempty"`
	ResumeAt        *time.Time `json:"resume_at,omitempty"`
	ErrorMessage    string     `json:"error_message,omitempty"`
	StartedAt       time.Time  `json:"started_at"`
	CompletedAt     *time.Time `json:"completed_at,omitempty"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

// Finish moves the run into a terminal status.
func (r *WorkflowRun) Finish(status RunStatus, at time.Time, errorMessage string) {
	r.Status = status
	r.ErrorMessage = errorMessage
	r.ResumeAt = nil
	r.CompletedAt = &at
	r.UpdatedAt = at
}

// StepLogStatus is the state of a single step attempt.
type StepLogStatus string

const (
	StepLogPending   StepLogStatus = "pending"
	StepLogRunning   StepLogStatus = "running"
	StepLogWaiting   StepLogStatus = "waiting"
	StepLogCompleted StepLogStatus = "completed"
	StepLogFailed    StepLogStatus = "failed"
)

// StepLog records one attempt of one step within a run. Logs are append-only;
// the latest log for a step is the authoritative one.
type StepLog struct {
	ID          string         `json:"id"`
	RunID       string         `json:"run_id"`
	StepID      string         `json:"step_id"`
	StepType    StepType       `json:"step_type"`
	Status      StepLogStatus  `json:"status"`
	StartedAt   time.Time      `json:"started_at"`
	CompletedAt *time.Time     `json:"completed_at,omitempty"`
	ResumeAt    *time.Time     `json:"resume_at,omitempty"`
	Result      map[string]any `json:"result,omitempty"`
	Error       string         `json:"error,omitempty"`
	RetryCount  int            `json:"retry_count"`
}
