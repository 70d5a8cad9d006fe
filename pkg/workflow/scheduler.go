package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/pipeflow/automation/pkg/dedup"
	"github.com/pipeflow/automation/pkg/models"
	"github.com/pipeflow/automation/pkg/persistence"
	"k8s.io/utils/clock"
)

// ErrWorkflowHasNoSteps is returned when scheduling a workflow without an entry step.
var ErrWorkflowHasNoSteps = errors.New("workflow has no steps")

// RunStarter executes a freshly created run.
type RunStarter interface {
	Start(ctx context.Context, runID string) error
}

// Scheduler creates at most one run per workflow, contact and originating operation.
type Scheduler struct {
	runs    persistence.RunRepository
	guard   dedup.Guard
	starter RunStarter
	clock   clock.PassiveClock
	logger  *slog.Logger
}

func NewScheduler(
	runs persistence.RunRepository,
	guard dedup.Guard,
	starter RunStarter,
	clk clock.PassiveClock,
	logger *slog.Logger,
) *Scheduler {
	if guard == nil {
		guard = dedup.Nop{}
	}

	return &Scheduler{
		runs:    runs,
		guard:   guard,
		starter: starter,
		clock:   clk,
		logger:  logger.With("module", "scheduler"),
	}
}

// Schedule creates the run of workflow for event and executes it. A
// redelivered event returns the id of the run created the first time. That
// run is only started again when it is still pending, which happens when the
// first start failed before claiming it.
func (s *Scheduler) Schedule(ctx context.Context, workflow *models.Workflow, event *models.Event) (string, error) {
	first := workflow.FirstStep()
	if first == nil {
		return "", fmt.Errorf("%w: %s", ErrWorkflowHasNoSteps, workflow.ID)
	}

	dedupKey := event.DedupKey()
	guardKey := dedup.Key(workflow.ID, event.ContactID, dedupKey)

	logger := s.logger.With("workflow_id", workflow.ID, "contact_id", event.ContactID, "dedup_key", dedupKey)

	if runID, ok := s.guard.Lookup(ctx, guardKey); ok {
		existing, err := s.runs.GetByID(ctx, runID)
		if err == nil {
			logger.DebugContext(ctx, "Duplicate event caught by dedup guard", "run_id", runID)

			return s.startIfPending(ctx, existing)
		}

		logger.WarnContext(ctx, "Dedup guard points to an unreadable run, checking repository", "run_id", runID, "error", err)
	}

	now := s.clock.Now().UTC()

	run, created, err := s.runs.CreateIfAbsent(ctx, &models.WorkflowRun{
		ID:              uuid.NewString(),
		WorkflowID:      workflow.ID,
		ContactID:       event.ContactID,
		OrganizationID:  workflow.OrganizationID,
		TriggeringEvent: *event,
		DedupKey:        dedupKey,
		Status:          models.RunStatusPending,
		CurrentStepID:   first.ID,
		StartedAt:       now,
		UpdatedAt:       now,
	})
	if err != nil {
		return "", fmt.Errorf("failed to create run: %w", err)
	}

	s.guard.Remember(ctx, guardKey, run.ID)

	if !created {
		logger.InfoContext(ctx, "Duplicate event, run already exists", "run_id", run.ID, "status", run.Status)

		return s.startIfPending(ctx, run)
	}

	logger.InfoContext(ctx, "Run scheduled", "run_id", run.ID, "first_step_id", first.ID)

	return s.start(ctx, run.ID)
}

// startIfPending starts an existing run nobody claimed yet. Start claims with
// a pending to running swap, so concurrent redeliveries execute it once.
func (s *Scheduler) startIfPending(ctx context.Context, run *models.WorkflowRun) (string, error) {
	if run.Status != models.RunStatusPending {
		return run.ID, nil
	}

	s.logger.InfoContext(ctx, "Starting unclaimed run", "run_id", run.ID, "workflow_id", run.WorkflowID)

	return s.start(ctx, run.ID)
}

func (s *Scheduler) start(ctx context.Context, runID string) (string, error) {
	err := s.starter.Start(ctx, runID)
	if err != nil {
		return runID, fmt.Errorf("failed to execute run %s: %w", runID, err)
	}

	return runID, nil
}
