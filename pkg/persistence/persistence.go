// Package persistence provides the storage abstraction for workflows, runs and step logs.
package persistence

import (
	"context"
	"time"

	"github.com/pipeflow/automation/pkg/models"
)

type Persistence interface {
	WorkflowRepository() WorkflowRepository
	RunRepository() RunRepository
	StepLogRepository() StepLogRepository

	HealthCheck(ctx context.Context) error
	Close(ctx context.Context) error
}

// ListWorkflowsOptions filters workflow listings. Empty fields do not filter.
type ListWorkflowsOptions struct {
	OrganizationID string
	PipelineID     string
	Active         *bool
	Limit          int
	Offset         int
}

type WorkflowRepository interface {
	List(ctx context.Context, opts ListWorkflowsOptions) ([]*models.Workflow, error)
	GetByID(ctx context.Context, id string) (*models.Workflow, error)
	Save(ctx context.Context, workflow *models.Workflow) error
	Delete(ctx context.Context, id string) error
	// FindActiveByTrigger returns the active workflows of a pipeline listening to a trigger type.
	FindActiveByTrigger(ctx context.Context, organizationID, pipelineID string, triggerType models.TriggerType) ([]*models.Workflow, error)
}

// ListRunsOptions filters run listings. Empty fields do not filter.
type ListRunsOptions struct {
	WorkflowID string
	ContactID  string
	Statuses   []models.RunStatus
	Limit      int
	Offset     int
}

type RunRepository interface {
	// CreateIfAbsent inserts the run unless one already exists for the same
	// workflow, contact and dedup key. It returns the stored run and whether
	// it was created by this call.
	CreateIfAbsent(ctx context.Context, run *models.WorkflowRun) (*models.WorkflowRun, bool, error)
	GetByID(ctx context.Context, id string) (*models.WorkflowRun, error)
	// CompareAndSwap stores run only if the persisted status still equals
	// expected. It reports whether the write happened.
	CompareAndSwap(ctx context.Context, run *models.WorkflowRun, expected models.RunStatus) (bool, error)
	List(ctx context.Context, opts ListRunsOptions) ([]*models.WorkflowRun, error)
	// DueWaiting returns waiting runs whose resume time is at or before now, oldest first.
	DueWaiting(ctx context.Context, now time.Time, limit int) ([]*models.WorkflowRun, error)
}

type StepLogRepository interface {
	Append(ctx context.Context, log *models.StepLog) error
	Update(ctx context.Context, log *models.StepLog) error
	// ListByRun returns the logs of a run in the order they were appended.
	ListByRun(ctx context.Context, runID string) ([]*models.StepLog, error)
	// Latest returns the most recently appended log of a step within a run.
	Latest(ctx context.Context, runID, stepID string) (*models.StepLog, error)
}

const (
	DefaultListLimit = 50
	MaxListLimit     = 500
)

// NormalizeLimit clamps a requested page size.
func NormalizeLimit(limit int) int {
	if limit <= 0 {
		return DefaultListLimit
	}

	if limit > MaxListLimit {
		return MaxListLimit
	}

	return limit
}
