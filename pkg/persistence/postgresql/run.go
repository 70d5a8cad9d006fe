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

const runColumns = `
			id
		  , workflow_id
		  , contact_id
		  , organization_id
		  , triggering_event
		  , dedup_key
		  , status
		  , current_step_id
		  , resume_at
		  , error_message
		  , started_at
		  , completed_at
		  , updated_at`

// RunRepository handles workflow run database operations.
type RunRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewRunRepository creates a new run repository.
func NewRunRepository(db *sql.DB, logger *slog.Logger) *RunRepository {
	return &RunRepository{db: db, logger: logger}
}

// CreateIfAbsent relies on the unique (workflow_id, contact_id, dedup_key)
// index so concurrent deliveries of one event create a single run.
func (r *RunRepository) CreateIfAbsent(ctx context.Context, run *models.WorkflowRun) (*models.WorkflowRun, bool, error) {
	if run.ID == "" {
		run.ID = uuid.NewString()
	}

	if run.UpdatedAt.IsZero() {
		run.UpdatedAt = run.StartedAt
	}

	eventJSON, err := json.Marshal(run.TriggeringEvent)
	if err != nil {
		return nil, false, fmt.Errorf("failed to marshal triggering event: %w", err)
	}

	result, err := r.db.ExecContext(ctx, `
		INSERT INTO workflow_runs (id, workflow_id, contact_id, organization_id, triggering_event, dedup_key,
			status, current_step_id, resume_at, error_message, started_at, completed_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		ON CONFLICT (workflow_id, contact_id, dedup_key) DO NOTHING
	`,
		run.ID,
		run.WorkflowID,
		run.ContactID,
		run.OrganizationID,
		eventJSON,
		run.DedupKey,
		string(run.Status),
		run.CurrentStepID,
		run.ResumeAt,
		run.ErrorMessage,
		run.StartedAt,
		run.CompletedAt,
		run.UpdatedAt,
	)
	if err != nil {
		return nil, false, persistence.NewRunError("CreateIfAbsent", run.ID, err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return nil, false, persistence.NewRunError("CreateIfAbsent", run.ID, err)
	}

	if affected == 1 {
		stored := *run

		return &stored, true, nil
	}

	existing, err := r.scanRun(r.db.QueryRowContext(ctx, `
		SELECT`+runColumns+`
		FROM workflow_runs
		WHERE workflow_id = $1 AND contact_id = $2 AND dedup_key = $3
	`, run.WorkflowID, run.ContactID, run.DedupKey))
	if err != nil {
		return nil, false, persistence.NewRunError("CreateIfAbsent", run.ID, fmt.Errorf("failed to load existing run: %w", err))
	}

	return existing, false, nil
}

func (r *RunRepository) GetByID(ctx context.Context, id string) (*models.WorkflowRun, error) {
	if uuid.Validate(id) != nil {
		return nil, persistence.NewRunError("GetByID", id, persistence.ErrRunNotFound)
	}

	run, err := r.scanRun(r.db.QueryRowContext(ctx, `
		SELECT`+runColumns+`
		FROM workflow_runs
		WHERE id = $1
	`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.NewRunError("GetByID", id, persistence.ErrRunNotFound)
		}

		return nil, persistence.NewRunError("GetByID", id, err)
	}

	return run, nil
}

// CompareAndSwap writes the mutable run fields guarded by the stored status.
func (r *RunRepository) CompareAndSwap(ctx context.Context, run *models.WorkflowRun, expected models.RunStatus) (bool, error) {
	result, err := r.db.ExecContext(ctx, `
		UPDATE workflow_runs SET
			status = $2,
			current_step_id = $3,
			resume_at = $4,
			error_message = $5,
			completed_at = $6,
			updated_at = $7
		WHERE id = $1 AND status = $8
	`,
		run.ID,
		string(run.Status),
		run.CurrentStepID,
		run.ResumeAt,
		run.ErrorMessage,
		run.CompletedAt,
		run.UpdatedAt,
		string(expected),
	)
	if err != nil {
		return false, persistence.NewRunError("CompareAndSwap", run.ID, err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return false, persistence.NewRunError("CompareAndSwap", run.ID, err)
	}

	if affected == 1 {
		return true, nil
	}

	var exists bool

	err = r.db.QueryRowContext(ctx, "SELECT EXISTS(SELECT 1 FROM workflow_runs WHERE id = $1)", run.ID).Scan(&exists)
	if err != nil {
		return false, persistence.NewRunError("CompareAndSwap", run.ID, err)
	}

	if !exists {
		return false, persistence.NewRunError("CompareAndSwap", run.ID, persistence.ErrRunNotFound)
	}

	return false, nil
}

func (r *RunRepository) List(ctx context.Context, opts persistence.ListRunsOptions) ([]*models.WorkflowRun, error) {
	statuses := make([]string, 0, len(opts.Statuses))
	for _, status := range opts.Statuses {
		statuses = append(statuses, string(status))
	}

	return r.query(ctx, `
		SELECT`+runColumns+`
		FROM workflow_runs
		WHERE ($1 = '' OR workflow_id::text = $1)
		  AND ($2 = '' OR contact_id = $2)
		  AND (cardinality($3::text[]) = 0 OR status = ANY($3::text[]))
		ORDER BY started_at DESC
		LIMIT $4 OFFSET $5
	`,
		opts.WorkflowID,
		opts.ContactID,
		pq.Array(statuses),
		persistence.NormalizeLimit(opts.Limit),
		max(opts.Offset, 0),
	)
}

func (r *RunRepository) DueWaiting(ctx context.Context, now time.Time, limit int) ([]*models.WorkflowRun, error) {
	return r.query(ctx, `
		SELECT`+runColumns+`
		FROM workflow_runs
		WHERE status = 'waiting' AND resume_at <= $1
		ORDER BY resume_at ASC
		LIMIT $2
	`, now, persistence.NormalizeLimit(limit))
}

func (r *RunRepository) query(ctx context.Context, query string, args ...any) ([]*models.WorkflowRun, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query workflow runs: %w", err)
	}

	defer closeRows(ctx, r.logger, rows)

	runs := make([]*models.WorkflowRun, 0)

	for rows.Next() {
		run, err := r.scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan workflow run: %w", err)
		}

		runs = append(runs, run)
	}

	err = rows.Err()
	if err != nil {
		return nil, fmt.Errorf("error iterating workflow runs: %w", err)
	}

	return runs, nil
}

func (r *RunRepository) scanRun(row scanner) (*models.WorkflowRun, error) {
	var (
		run         models.WorkflowRun
		eventJSON   []byte
		status      string
		resumeAt    sql.NullTime
		completedAt sql.NullTime
	)

	err := row.Scan(
		&run.ID,
		&run.WorkflowID,
		&run.ContactID,
		&run.OrganizationID,
		&eventJSON,
		&run.DedupKey,
		&status,
		&run.CurrentStepID,
		&resumeAt,
		&run.ErrorMessage,
		&run.StartedAt,
		&completedAt,
		&run.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	err = json.Unmarshal(eventJSON, &run.TriggeringEvent)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal triggering event: %w", err)
	}

	run.Status = models.RunStatus(status)
	run.ResumeAt = nullTime(resumeAt)
	run.CompletedAt = nullTime(completedAt)

	return &run, nil
}

func nullTime(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}

	value := t.Time

	return &value
}
