package file

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/pipeflow/automation/pkg/models"
	"github.com/pipeflow/automation/pkg/persistence"
)

const workflowsCollection = "workflows"

// WorkflowRepository stores one JSON document per workflow, steps included.
type WorkflowRepository struct {
	store *store
}

func (wr *WorkflowRepository) List(_ context.Context, opts persistence.ListWorkflowsOptions) ([]*models.Workflow, error) {
	wr.store.mu.Lock()
	defer wr.store.mu.Unlock()

	all, err := wr.loadAll()
	if err != nil {
		return nil, err
	}

	filtered := make([]*models.Workflow, 0, len(all))

	for _, workflow := range all {
		if opts.OrganizationID != "" && workflow.OrganizationID != opts.OrganizationID {
			continue
		}

		if opts.PipelineID != "" && workflow.PipelineID != opts.PipelineID {
			continue
		}

		if opts.Active != nil && workflow.IsActive != *opts.Active {
			continue
		}

		filtered = append(filtered, workflow)
	}

	sort.Slice(filtered, func(i, j int) bool {
		return filtered[i].CreatedAt.After(filtered[j].CreatedAt)
	})

	return page(filtered, opts.Limit, opts.Offset), nil
}

func (wr *WorkflowRepository) GetByID(_ context.Context, id string) (*models.Workflow, error) {
	wr.store.mu.Lock()
	defer wr.store.mu.Unlock()

	return wr.get(id)
}

func (wr *WorkflowRepository) get(id string) (*models.Workflow, error) {
	var workflow models.Workflow

	err := wr.store.read(workflowsCollection, id, &workflow)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) || errors.Is(err, persistence.ErrInvalidID) {
			return nil, persistence.NewWorkflowError("GetByID", id, persistence.ErrWorkflowNotFound)
		}

		return nil, persistence.NewWorkflowError("GetByID", id, err)
	}

	return &workflow, nil
}

func (wr *WorkflowRepository) Save(_ context.Context, workflow *models.Workflow) error {
	wr.store.mu.Lock()
	defer wr.store.mu.Unlock()

	now := time.Now().UTC()

	if workflow.ID == "" {
		workflow.ID = uuid.NewString()
	}

	if workflow.CreatedAt.IsZero() {
		workflow.CreatedAt = now
	}

	workflow.UpdatedAt = now

	for _, step := range workflow.Steps {
		step.WorkflowID = workflow.ID
	}

	err := wr.store.write(workflowsCollection, workflow.ID, workflow)
	if err != nil {
		return persistence.NewWorkflowError("Save", workflow.ID, err)
	}

	return nil
}

func (wr *WorkflowRepository) Delete(_ context.Context, id string) error {
	wr.store.mu.Lock()
	defer wr.store.mu.Unlock()

	err := wr.store.remove(workflowsCollection, id)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) || errors.Is(err, persistence.ErrInvalidID) {
			return persistence.NewWorkflowError("Delete", id, persistence.ErrWorkflowNotFound)
		}

		return persistence.NewWorkflowError("Delete", id, err)
	}

	return nil
}

func (wr *WorkflowRepository) FindActiveByTrigger(_ context.Context, organizationID, pipelineID string, triggerType models.TriggerType) ([]*models.Workflow, error) {
	wr.store.mu.Lock()
	defer wr.store.mu.Unlock()

	all, err := wr.loadAll()
	if err != nil {
		return nil, err
	}

	var matches []*models.Workflow

	for _, workflow := range all {
		if workflow.IsActive &&
			workflow.OrganizationID == organizationID &&
			workflow.PipelineID == pipelineID &&
			workflow.TriggerType == triggerType {
			matches = append(matches, workflow)
		}
	}

	sort.Slice(matches, func(i, j int) bool {
		return matches[i].CreatedAt.Before(matches[j].CreatedAt)
	})

	return matches, nil
}

func (wr *WorkflowRepository) loadAll() ([]*models.Workflow, error) {
	ids, err := wr.store.list(workflowsCollection)
	if err != nil {
		return nil, err
	}

	workflows := make([]*models.Workflow, 0, len(ids))

	for _, id := range ids {
		workflow, err := wr.get(id)
		if err != nil {
			return nil, fmt.Errorf("failed to load workflow %s: %w", id, err)
		}

		workflows = append(workflows, workflow)
	}

	return workflows, nil
}
