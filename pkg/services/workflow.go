package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/pipeflow/automation/pkg/models"
	"github.com/pipeflow/automation/pkg/persistence"
	"k8s.io/utils/clock"
)

type Workflow struct {
	persistence persistence.Persistence
	runs        *Runs
	validate    *validator.Validate
	clock       clock.PassiveClock
	logger      *slog.Logger
}

// NewWorkflow creates a new workflow service.
func NewWorkflow(p persistence.Persistence, runs *Runs, clk clock.PassiveClock, logger *slog.Logger) *Workflow {
	return &Workflow{
		persistence: p,
		runs:        runs,
		validate:    validator.New(validator.WithRequiredStructEnabled()),
		clock:       clk,
		logger:      logger.With("module", "workflow_service"),
	}
}

// HealthCheck checks the health of the persistence layer.
func (w *Workflow) HealthCheck(ctx context.Context) (string, bool) {
	if w.persistence == nil {
		return "Persistence layer not initialized", false
	}

	err := w.persistence.HealthCheck(ctx)
	if err != nil {
		return "Persistence layer is unhealthy: " + err.Error(), false
	}

	return "Persistence layer is healthy", true
}

// ListWorkflowsRequest contains options for listing workflows.
type ListWorkflowsRequest struct {
	OrganizationID string
	PipelineID     string
	Active         *bool
	Limit          int
	Offset         int
}

// List retrieves the workflows of an organization.
func (w *Workflow) List(ctx context.Context, req ListWorkflowsRequest) ([]*models.Workflow, error) {
	if strings.TrimSpace(req.OrganizationID) == "" {
		return nil, ErrOrganizationID
	}

	if req.Offset < 0 {
		req.Offset = 0
	}

	workflows, err := w.persistence.WorkflowRepository().List(ctx, persistence.ListWorkflowsOptions{
		OrganizationID: req.OrganizationID,
		PipelineID:     req.PipelineID,
		Active:         req.Active,
		Limit:          persistence.NormalizeLimit(req.Limit),
		Offset:         req.Offset,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list workflows: %w", err)
	}

	return workflows, nil
}

// FetchByID retrieves a workflow of the organization by its ID.
func (w *Workflow) FetchByID(ctx context.Context, organizationID, id string) (*models.Workflow, error) {
	return getWorkflow(ctx, w.persistence, organizationID, id)
}

// Create validates and stores a new workflow.
func (w *Workflow) Create(ctx context.Context, organizationID string, workflow *models.Workflow) (*models.Workflow, error) {
	if organizationID == "" {
		return nil, ErrOrganizationID
	}

	now := w.clock.Now().UTC()
	workflow.ID = uuid.NewString()
	workflow.OrganizationID = organizationID
	workflow.CreatedAt = now
	workflow.UpdatedAt = now

	err := w.Validate(workflow)
	if err != nil {
		return nil, err
	}

	err = w.persistence.WorkflowRepository().Save(ctx, workflow)
	if err != nil {
		return nil, fmt.Errorf("failed to create workflow: %w", err)
	}

	w.logger.InfoContext(ctx, "Workflow created", "workflow_id", workflow.ID, "organization_id", organizationID)

	return workflow, nil
}

// Update replaces the definition of an existing workflow. Runs in progress
// continue on the new definition from their current step. The active flag is
// kept; Activate and Deactivate own it.
func (w *Workflow) Update(ctx context.Context, organizationID, workflowID string, workflow *models.Workflow) (*models.Workflow, error) {
	existing, err := getWorkflow(ctx, w.persistence, organizationID, workflowID)
	if err != nil {
		return nil, err
	}

	workflow.ID = workflowID
	workflow.OrganizationID = organizationID
	workflow.CreatedAt = existing.CreatedAt
	workflow.CreatedBy = existing.CreatedBy
	workflow.IsActive = existing.IsActive
	workflow.UpdatedAt = w.clock.Now().UTC()

	err = w.Validate(workflow)
	if err != nil {
		return nil, err
	}

	err = w.persistence.WorkflowRepository().Save(ctx, workflow)
	if err != nil {
		return nil, fmt.Errorf("failed to update workflow: %w", err)
	}

	return workflow, nil
}

// Delete removes a workflow that has no unfinished runs.
func (w *Workflow) Delete(ctx context.Context, organizationID, workflowID string) error {
	_, err := getWorkflow(ctx, w.persistence, organizationID, workflowID)
	if err != nil {
		return err
	}

	active, err := w.persistence.RunRepository().List(ctx, persistence.ListRunsOptions{
		WorkflowID: workflowID,
		Statuses:   models.ActiveRunStatuses,
		Limit:      1,
	})
	if err != nil {
		return fmt.Errorf("failed to check workflow runs: %w", err)
	}

	if len(active) > 0 {
		return ErrWorkflowHasActiveRuns
	}

	err = w.persistence.WorkflowRepository().Delete(ctx, workflowID)
	if err != nil {
		return fmt.Errorf("failed to delete workflow: %w", err)
	}

	return nil
}

// Activate starts matching events against the workflow.
func (w *Workflow) Activate(ctx context.Context, organizationID, workflowID string) (*models.Workflow, error) {
	return w.setActive(ctx, organizationID, workflowID, true)
}

// Deactivate stops matching events and cancels the workflow's unfinished runs.
func (w *Workflow) Deactivate(ctx context.Context, organizationID, workflowID string) (*models.Workflow, error) {
	workflow, err := w.setActive(ctx, organizationID, workflowID, false)
	if err != nil {
		return nil, err
	}

	cancelled, err := w.runs.CancelWorkflowRuns(ctx, workflowID, "workflow deactivated")
	if err != nil {
		return nil, err
	}

	w.logger.InfoContext(ctx, "Workflow deactivated", "workflow_id", workflowID, "cancelled_runs", cancelled)

	return workflow, nil
}

func (w *Workflow) setActive(ctx context.Context, organizationID, workflowID string, active bool) (*models.Workflow, error) {
	workflow, err := getWorkflow(ctx, w.persistence, organizationID, workflowID)
	if err != nil {
		return nil, err
	}

	if workflow.IsActive == active {
		return workflow, nil
	}

	workflow.IsActive = active
	workflow.UpdatedAt = w.clock.Now().UTC()

	err = w.persistence.WorkflowRepository().Save(ctx, workflow)
	if err != nil {
		return nil, fmt.Errorf("failed to update workflow: %w", err)
	}

	return workflow, nil
}

// Validate checks the fields, trigger filter, step configs and step graph of a workflow.
func (w *Workflow) Validate(workflow *models.Workflow) error {
	if workflow == nil {
		return NewValidationError("Validate", "WORKFLOW_NIL", "workflow cannot be nil", ErrInvalidRequest)
	}

	if !workflow.TriggerType.IsValid() {
		return NewValidationError("Validate", "INVALID_TRIGGER",
			fmt.Sprintf("invalid trigger type '%s'", workflow.TriggerType), ErrInvalidTrigger)
	}

	err := w.validate.Struct(workflow)
	if err != nil {
		var validationErrs validator.ValidationErrors
		if errors.As(err, &validationErrs) {
			return NewValidationError("Validate", "INVALID_WORKFLOW", validationErrs.Error(), ErrInvalidRequest)
		}

		return fmt.Errorf("%w: %w", ErrInvalidRequest, err)
	}

	err = validateFilter(workflow.TriggerFilter)
	if err != nil {
		return err
	}

	for _, step := range workflow.Steps {
		step.WorkflowID = workflow.ID

		err = validateStepConfig(step)
		if err != nil {
			return err
		}
	}

	return validateStepGraph(workflow)
}

func validateFilter(filter *models.TriggerFilter) error {
	if filter == nil {
		return nil
	}

	for _, condition := range filter.Conditions {
		switch condition.Operator {
		case models.FilterIn, models.FilterNotIn:
			if _, ok := condition.Value.([]any); !ok {
				return fmt.Errorf("%w: operator %s on %q needs a list value", ErrInvalidFilter, condition.Operator, condition.Field)
			}
		case models.FilterExists:
		default:
			if condition.Value == nil {
				return fmt.Errorf("%w: operator %s on %q needs a value", ErrInvalidFilter, condition.Operator, condition.Field)
			}
		}
	}

	return nil
}

// getWorkflow loads a workflow and hides workflows of other organizations.
func getWorkflow(ctx context.Context, p persistence.Persistence, organizationID, id string) (*models.Workflow, error) {
	if organizationID == "" {
		return nil, ErrOrganizationID
	}

	workflow, err := p.WorkflowRepository().GetByID(ctx, id)
	if err != nil {
		if persistence.IsWorkflowNotFound(err) || errors.Is(err, persistence.ErrInvalidID) {
			return nil, ErrWorkflowNotFound
		}

		return nil, fmt.Errorf("failed to get workflow: %w", err)
	}

	if workflow.OrganizationID != organizationID {
		return nil, ErrWorkflowNotFound
	}

	return workflow, nil
}
