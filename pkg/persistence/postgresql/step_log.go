package postgresql

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/pipeflow/automation/pkg/models"
	"github.com/pipeflow/automation/pkg/persistence"
)

const stepLogColumns = `
			id
		  , run_id
		  , step_id
		  , step_type
		  , status
		  , started_at
		  , completed_at
		  , resume_at
		  , result
		  , error
		  , retry_count`

// StepLogRepository handles step log database operations.
type StepLogRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewStepLogRepository creates a new step log repository.
func NewStepLogRepository(db *sql.DB, logger *slog.Logger) *StepLogRepository {
	return &StepLogRepository{db: db, logger: logger}
}

func (r *StepLogRepository) Append(ctx context.Context, log *models.StepLog) error {
	if log.ID == "" {
		log.ID = uuid.NewString()
	}

	resultJSON, err := marshalResult(log.Result)
	if err != nil {
		return err
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO step_logs (id, run_id, step_id, step_type, status, started_at, completed_at,
			resume_at, result, error, retry_count)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`,
		log.ID,
		log.RunID,
		log.StepID,
		string(log.StepType),
		string(log.Status),
		log.StartedAt,
		log.CompletedAt,
		log.ResumeAt,
		resultJSON,
		log.Error,
		log.RetryCount,
	)
	if err != nil {
		return persistence.NewRunError("AppendStepLog", log.RunID, err)
	}

	return nil
}

func (r *StepLogRepository) Update(ctx context.Context, log *models.StepLog) error {
	resultJSON, err := marshalResult(log.Result)
	if err != nil {
		return err
	}

	result, err := r.db.ExecContext(ctx, `
		UPDATE step_logs SET
			status = $2,
			completed_at = $3,
			resume_at = $4,
			result = $5,
			error = $6,
			retry_count = $7
		WHERE id = $1
	`,
		log.ID,
		string(log.Status),
		log.CompletedAt,
		log.ResumeAt,
		resultJSON,
		log.Error,
		log.RetryCount,
	)
	if err != nil {
		return persistence.NewRunError("UpdateStepLog", log.RunID, err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return persistence.NewRunError("UpdateStepLog", log.RunID, err)
	}

	if affected == 0 {
		return persistence.NewRunError("UpdateStepLog", log.RunID, persistence.ErrStepLogNotFound)
	}

	return nil
}

func (r *StepLogRepository) ListByRun(ctx context.Context, runID string) ([]*models.StepLog, error) {
	if uuid.Validate(runID) != nil {
		return []*models.StepLog{}, nil
	}

	rows, err := r.db.QueryContext(ctx, `
		SELECT`+stepLogColumns+`
		FROM step_logs
		WHERE run_id = $1
		ORDER BY seq ASC
	`, runID)
	if err != nil {
		return nil, persistence.NewRunError("ListStepLogs", runID, err)
	}

	defer closeRows(ctx, r.logger, rows)

	logs := make([]*models.StepLog, 0)

	for rows.Next() {
		log, err := r.scanStepLog(rows)
		if err != nil {
			return nil, persistence.NewRunError("ListStepLogs", runID, err)
		}

		logs = append(logs, log)
	}

	err = rows.Err()
	if err != nil {
		return nil, persistence.NewRunError("ListStepLogs", runID, err)
	}

	return logs, nil
}

func (r *StepLogRepository) Latest(ctx context.Context, runID, stepID string) (*models.StepLog, error) {
	if uuid.Validate(runID) != nil {
		return nil, persistence.NewRunError("LatestStepLog", runID, persistence.ErrStepLogNotFound)
	}

	log, err := r.scanStepLog(r.db.QueryRowContext(ctx, `
		SELECT`+stepLogColumns+`
		FROM step_logs
		WHERE run_id = $1 AND step_id = $2
		ORDER BY seq DESC
		LIMIT 1
	`, runID, stepID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.NewRunError("LatestStepLog", runID, persistence.ErrStepLogNotFound)
		}

		return nil, persistence.NewRunError("LatestStepLog", runID, err)
	}

	return log, nil
}

func (r *StepLogRepository) scanStepLog(row scanner) (*models.StepLog, error) {
	var (
		log         models.StepLog
		stepType    string
		status      string
		completedAt sql.NullTime
		resumeAt    sql.NullTime
		resultJSON  []byte
	)

	err := row.Scan(
		&log.ID,
		&log.RunID,
		&log.StepID,
		&stepType,
		&status,
		&log.StartedAt,
		&completedAt,
		&resumeAt,
		&resultJSON,
		&log.Error,
		&log.RetryCount,
	)
	if err != nil {
		return nil, err
	}

	log.StepType = models.StepType(stepType)
	log.Status = models.StepLogStatus(status)
	log.CompletedAt = nullTime(completedAt)
	log.ResumeAt = nullTime(resumeAt)

	if len(resultJSON) > 0 {
		err = json.Unmarshal(resultJSON, &log.Result)
		if err != nil {
			return nil, fmt.Errorf("failed to unmarshal step result: %w", err)
		}
	}

	return &log, nil
}

func marshalResult(result map[string]any) ([]byte, error) {
	if result == nil {
		return nil, nil
	}

	data, err := json.Marshal(result)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal step result: %w", err)
	}

	return data, nil
}
