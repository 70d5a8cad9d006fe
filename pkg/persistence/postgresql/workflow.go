package postgresql

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/pipeflow/automation/pkg/models"
	"github.com/pipeflow/automation/pkg/persistence"
)

const workflowColumns = `
			id
		  , organization_id
		  , pipeline_id
		  , name
		  , description
		  , trigger_type
		  , trigger_filter
		  , is_active
		  , created_by
		  , created_at
		  , updated_at`

// WorkflowRepository handles workflow-related database operations.
type WorkflowRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewWorkflowRepository creates a new workflow repository.
func NewWorkflowRepository(db *sql.DB, logger *slog.Logger) *WorkflowRepository {
	return &WorkflowRepository{db: db, logger: logger}
}

func (r *WorkflowRepository) List(ctx context.Context, opts persistence.ListWorkflowsOptions) ([]*models.Workflow, error) {
	query := `
		SELECT` + workflowColumns + `
		FROM workflows
		WHERE ($1 = '' OR organization_id = $1)
		  AND ($2 = '' OR pipeline_id = $2)
		  AND ($3::boolean IS NULL OR is_active = $3)
		ORDER BY created_at DESC
		LIMIT $4 OFFSET $5
	`

	return r.query(ctx, query,
		opts.OrganizationID,
		opts.PipelineID,
		opts.Active,
		persistence.NormalizeLimit(opts.Limit),
		max(opts.Offset, 0),
	)
}

func (r *WorkflowRepository) FindActiveByTrigger(ctx context.Context, organizationID, pipelineID string, triggerType models.TriggerType) ([]*models.Workflow, error) {
	query := `
		SELECT` + workflowColumns + `
		FROM workflows
		WHERE is_active
		  AND organization_id = $1
		  AND pipeline_id = $2
		  AND trigger_type = $3
		ORDER BY created_at ASC
	`

	return r.query(ctx, query, organizationID, pipelineID, string(triggerType))
}

func (r *WorkflowRepository) GetByID(ctx context.Context, id string) (*models.Workflow, error) {
	if uuid.Validate(id) != nil {
		return nil, persistence.NewWorkflowError("GetByID", id, persistence.ErrWorkflowNotFound)
	}

	query := `
		SELECT` + workflowColumns + `
		FROM workflows
		WHERE id = $1
	`

	workflow, err := r.scanWorkflow(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.NewWorkflowError("GetByID", id, persistence.ErrWorkflowNotFound)
		}

		return nil, persistence.NewWorkflowError("GetByID", id, err)
	}

	err = r.loadSteps(ctx, []*models.Workflow{workflow})
	if err != nil {
		return nil, persistence.NewWorkflowError("GetByID", id, err)
	}

	return workflow, nil
}

// Save upserts the workflow and replaces its steps in one transaction.
func (r *WorkflowRepository) Save(ctx context.Context, workflow *models.Workflow) (err error) {
	now := time.Now().UTC()

	if workflow.ID == "" {
		workflow.ID = uuid.NewString()
	}

	if workflow.CreatedAt.IsZero() {
		workflow.CreatedAt = now
	}

	workflow.UpdatedAt = now

	filterJSON, err := json.Marshal(workflow.TriggerFilter)
	if err != nil {
		return fmt.Errorf("failed to marshal trigger filter: %w", err)
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO workflows (id, organization_id, pipeline_id, name, description, trigger_type,
			trigger_filter, is_active, created_by, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (id) DO UPDATE SET
			pipeline_id = EXCLUDED.pipeline_id,
			name = EXCLUDED.name,
			description = EXCLUDED.description,
			trigger_type = EXCLUDED.trigger_type,
			trigger_filter = EXCLUDED.trigger_filter,
			is_active = EXCLUDED.is_active,
			updated_at = EXCLUDED.updated_at
	`,
		workflow.ID,
		workflow.OrganizationID,
		workflow.PipelineID,
		workflow.Name,
		workflow.Description,
		string(workflow.TriggerType),
		filterJSON,
		workflow.IsActive,
		workflow.CreatedBy,
		workflow.CreatedAt,
		workflow.UpdatedAt,
	)
	if err != nil {
		return persistence.NewWorkflowError("Save", workflow.ID, err)
	}

	_, err = tx.ExecContext(ctx, "DELETE FROM workflow_steps WHERE workflow_id = $1", workflow.ID)
	if err != nil {
		return persistence.NewWorkflowError("Save", workflow.ID, fmt.Errorf("failed to delete existing steps: %w", err))
	}

	for _, step := range workflow.Steps {
		step.WorkflowID = workflow.ID

		configJSON, marshalErr := json.Marshal(step.Config)
		if marshalErr != nil {
			err = fmt.Errorf("failed to marshal config of step %s: %w", step.ID, marshalErr)

			return err
		}

		_, err = tx.ExecContext(ctx, `
			INSERT INTO workflow_steps (workflow_id, id, name, step_type, config, position,
				next_step_id, true_step_id, false_step_id)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		`,
			workflow.ID,
			step.ID,
			step.Name,
			string(step.Type),
			configJSON,
			step.Position,
			step.NextStepID,
			step.TrueStepID,
			step.FalseStepID,
		)
		if err != nil {
			return persistence.NewWorkflowError("Save", workflow.ID, fmt.Errorf("failed to save step %s: %w", step.ID, err))
		}
	}

	err = tx.Commit()
	if err != nil {
		return persistence.NewWorkflowError("Save", workflow.ID, fmt.Errorf("failed to commit transaction: %w", err))
	}

	return nil
}

func (r *WorkflowRepository) Delete(ctx context.Context, id string) error {
	if uuid.Validate(id) != nil {
		return persistence.NewWorkflowError("Delete", id, persistence.ErrWorkflowNotFound)
	}

	result, err := r.db.ExecContext(ctx, "DELETE FROM workflows WHERE id = $1", id)
	if err != nil {
		return persistence.NewWorkflowError("Delete", id, err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return persistence.NewWorkflowError("Delete", id, err)
	}

	if affected == 0 {
		return persistence.NewWorkflowError("Delete", id, persistence.ErrWorkflowNotFound)
	}

	return nil
}

func (r *WorkflowRepository) query(ctx context.Context, query string, args ...any) ([]*models.Workflow, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query workflows: %w", err)
	}

	defer closeRows(ctx, r.logger, rows)

	workflows := make([]*models.Workflow, 0)

	for rows.Next() {
		workflow, err := r.scanWorkflow(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan workflow: %w", err)
		}

		workflows = append(workflows, workflow)
	}

	err = rows.Err()
	if err != nil {
		return nil, fmt.Errorf("error iterating workflows: %w", err)
	}

	err = r.loadSteps(ctx, workflows)
	if err != nil {
		return nil, err
	}

	return workflows, nil
}

func (r *WorkflowRepository) scanWorkflow(row scanner) (*models.Workflow, error) {
	var (
		workflow    models.Workflow
		triggerType string
		filterJSON  []byte
	)

	err := row.Scan(
		&workflow.ID,
		&workflow.OrganizationID,
		&workflow.PipelineID,
		&workflow.Name,
		&workflow.Description,
		&triggerType,
		&filterJSON,
		&workflow.IsActive,
		&workflow.CreatedBy,
		&workflow.CreatedAt,
		&workflow.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	workflow.TriggerType = models.TriggerType(triggerType)

	if len(filterJSON) > 0 && string(filterJSON) != "null" {
		var filter models.TriggerFilter

		err = json.Unmarshal(filterJSON, &filter)
		if err != nil {
			return nil, fmt.Errorf("failed to unmarshal trigger filter: %w", err)
		}

		workflow.TriggerFilter = &filter
	}

	workflow.Steps = make([]*models.Step, 0)

	return &workflow, nil
}

// loadSteps attaches steps to the given workflows with a single query.
func (r *WorkflowRepository) loadSteps(ctx context.Context, workflows []*models.Workflow) error {
	if len(workflows) == 0 {
		return nil
	}

	byID := make(map[string]*models.Workflow, len(workflows))
	ids := make([]string, 0, len(workflows))

	for _, workflow := range workflows {
		byID[workflow.ID] = workflow
		ids = append(ids, workflow.ID)
	}

	rows, err := r.db.QueryContext(ctx, `
		SELECT
			workflow_id
		  , id
		  , name
		  , step_type
		  , config
		  , position
		  , next_step_id
		  , true_step_id
		  , false_step_id
		FROM workflow_steps
		WHERE workflow_id = ANY($1::uuid[])
		ORDER BY workflow_id, position
	`, pq.Array(ids))
	if err != nil {
		return fmt.Errorf("failed to query workflow steps: %w", err)
	}

	defer closeRows(ctx, r.logger, rows)

	for rows.Next() {
		var (
			step       models.Step
			stepType   string
			configJSON []byte
		)

		err := rows.Scan(
			&step.WorkflowID,
			&step.ID,
			&step.Name,
			&stepType,
			&configJSON,
			&step.Position,
			&step.NextStepID,
			&step.TrueStepID,
			&step.FalseStepID,
		)
		if err != nil {
			return fmt.Errorf("failed to scan workflow step: %w", err)
		}

		step.Type = models.StepType(stepType)

		err = json.Unmarshal(configJSON, &step.Config)
		if err != nil {
			return fmt.Errorf("failed to unmarshal config of step %s: %w", step.ID, err)
		}

		if workflow, ok := byID[step.WorkflowID]; ok {
			workflow.Steps = append(workflow.Steps, &step)
		}
	}

	err = rows.Err()
	if err != nil {
		return fmt.Errorf("error iterating workflow steps: %w", err)
	}

	return nil
}
