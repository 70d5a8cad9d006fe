package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/pipeflow/automation/pkg/eventbus"
	"github.com/pipeflow/automation/pkg/events"
	"github.com/pipeflow/automation/pkg/models"
	"github.com/pipeflow/automation/pkg/persistence"
	"k8s.io/utils/clock"
)

// maxCancelAttempts bounds how often Cancel retries after losing a status race.
const maxCancelAttempts = 5

// Runs exposes execution history and run cancellation.
type Runs struct {
	persistence persistence.Persistence
	publisher   eventbus.EventPublisher
	clock       clock.PassiveClock
	logger      *slog.Logger
}

// NewRuns creates the run service. publisher may be nil.
func NewRuns(p persistence.Persistence, publisher eventbus.EventPublisher, clk clock.PassiveClock, logger *slog.Logger) *Runs {
	return &Runs{
		persistence: p,
		publisher:   publisher,
		clock:       clk,
		logger:      logger.With("module", "run_service"),
	}
}

// ListRunsRequest contains options for listing the runs of a workflow.
type ListRunsRequest struct {
	Statuses []models.RunStatus
	Limit    int
	Offset   int
}

// ListByWorkflow returns the runs of one workflow, newest first.
func (r *Runs) ListByWorkflow(ctx context.Context, organizationID, workflowID string, req ListRunsRequest) ([]*models.WorkflowRun, error) {
	_, err := getWorkflow(ctx, r.persistence, organizationID, workflowID)
	if err != nil {
		return nil, err
	}

	for _, status := range req.Statuses {
		if !isRunStatus(status) {
			return nil, NewValidationError("ListByWorkflow", "INVALID_STATUS", fmt.Sprintf("invalid run status '%s'", status), ErrInvalidRequest)
		}
	}

	if req.Offset < 0 {
		req.Offset = 0
	}

	runs, err := r.persistence.RunRepository().List(ctx, persistence.ListRunsOptions{
		WorkflowID: workflowID,
		Statuses:   req.Statuses,
		Limit:      persistence.NormalizeLimit(req.Limit),
		Offset:     req.Offset,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}

	return runs, nil
}

// Get returns a run of the organization.
func (r *Runs) Get(ctx context.Context, organizationID, runID string) (*models.WorkflowRun, error) {
	if organizationID == "" {
		return nil, ErrOrganizationID
	}

	run, err := r.persistence.RunRepository().GetByID(ctx, runID)
	if err != nil {
		if persistence.IsRunNotFound(err) || errors.Is(err, persistence.ErrInvalidID) {
			return nil, ErrRunNotFound
		}

		return nil, fmt.Errorf("failed to get run: %w", err)
	}

	if run.OrganizationID != organizationID {
		return nil, ErrRunNotFound
	}

	return run, nil
}

// Logs returns the step log timeline of a run.
func (r *Runs) Logs(ctx context.Context, organizationID, runID string) ([]*models.StepLog, error) {
	run, err := r.Get(ctx, organizationID, runID)
	if err != nil {
		return nil, err
	}

	logs, err := r.persistence.StepLogRepository().ListByRun(ctx, run.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to list step logs: %w", err)
	}

	return logs, nil
}

// Cancel stops a run that has not finished yet. An executor working on the
// run notices at its next transition and performs no further steps.
func (r *Runs) Cancel(ctx context.Context, organizationID, runID, reason string) (*models.WorkflowRun, error) {
	run, err := r.Get(ctx, organizationID, runID)
	if err != nil {
		return nil, err
	}

	cancelled, err := r.cancel(ctx, run, reason)
	if err != nil {
		return nil, err
	}

	if !cancelled {
		return nil, ErrRunNotCancellable
	}

	return run, nil
}

// CancelWorkflowRuns cancels every unfinished run of a workflow and returns how many were cancelled.
func (r *Runs) CancelWorkflowRuns(ctx context.Context, workflowID, reason string) (int, error) {
	return r.cancelMatching(ctx, persistence.ListRunsOptions{WorkflowID: workflowID}, "", reason)
}

// ContactDeleted cancels every unfinished run of a deleted contact.
func (r *Runs) ContactDeleted(ctx context.Context, organizationID, contactID string) (int, error) {
	if organizationID == "" {
		return 0, ErrOrganizationID
	}

	return r.cancelMatching(ctx, persistence.ListRunsOptions{ContactID: contactID}, organizationID, "contact deleted")
}

func (r *Runs) cancelMatching(ctx context.Context, opts persistence.ListRunsOptions, organizationID, reason string) (int, error) {
	opts.Statuses = models.ActiveRunStatuses
	opts.Limit = persistence.MaxListLimit

	count := 0

	for {
		runs, err := r.persistence.RunRepository().List(ctx, opts)
		if err != nil {
			return count, fmt.Errorf("failed to list active runs: %w", err)
		}

		progressed := false

		for _, run := range runs {
			if organizationID != "" && run.OrganizationID != organizationID {
				continue
			}

			cancelled, err := r.cancel(ctx, run, reason)
			if err != nil {
				return count, err
			}

			if cancelled {
				count++
				progressed = true
			}
		}

		if len(runs) < opts.Limit || !progressed {
			return count, nil
		}
	}
}

// cancel moves run to cancelled unless it already finished, retrying when
// the executor changes its status concurrently.
func (r *Runs) cancel(ctx context.Context, run *models.WorkflowRun, reason string) (bool, error) {
	for range maxCancelAttempts {
		if run.Status.IsTerminal() {
			return false, nil
		}

		expected := run.Status
		run.Finish(models.RunStatusCancelled, r.clock.Now().UTC(), reason)

		swapped, err := r.persistence.RunRepository().CompareAndSwap(ctx, run, expected)
		if err != nil {
			return false, fmt.Errorf("failed to cancel run %s: %w", run.ID, err)
		}

		if swapped {
			r.logger.InfoContext(ctx, "Run cancelled", "run_id", run.ID, "workflow_id", run.WorkflowID, "reason", reason)
			r.publish(ctx, run)

			return true, nil
		}

		current, err := r.persistence.RunRepository().GetByID(ctx, run.ID)
		if err != nil {
			return false, fmt.Errorf("failed to reload run %s: %w", run.ID, err)
		}

		*run = *current
	}

	return false, fmt.Errorf("failed to cancel run %s: status kept changing", run.ID)
}

func (r *Runs) publish(ctx context.Context, run *models.WorkflowRun) {
	if r.publisher == nil {
		return
	}

	event := events.RunCancelled{RunEvent: events.NewRunEvent(events.RunCancelledEvent, run)}

	err := r.publisher.Publish(ctx, run.ID, event)
	if err != nil {
		r.logger.ErrorContext(ctx, "Failed to publish run cancelled event", "run_id", run.ID, "error", err)
	}
}

func isRunStatus(status models.RunStatus) bool {
	switch status {
	case models.RunStatusPending, models.RunStatusRunning, models.RunStatusWaiting,
		models.RunStatusCompleted, models.RunStatusFailed, models.RunStatusCancelled:
		return true
	default:
		return false
	}
}
