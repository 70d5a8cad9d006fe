package file

import (
	"context"
	"errors"
	"os"

	"github.com/google/uuid"
	"github.com/pipeflow/automation/pkg/models"
	"github.com/pipeflow/automation/pkg/persistence"
)

const stepLogsCollection = "step_logs"

// StepLogRepository keeps the ordered log list of each run in one document.
type StepLogRepository struct {
	store *store
}

func (sr *StepLogRepository) load(runID string) ([]*models.StepLog, error) {
	var logs []*models.StepLog

	err := sr.store.read(stepLogsCollection, runID, &logs)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return []*models.StepLog{}, nil
		}

		return nil, persistence.NewRunError("ListStepLogs", runID, err)
	}

	return logs, nil
}

func (sr *StepLogRepository) Append(_ context.Context, log *models.StepLog) error {
	sr.store.mu.Lock()
	defer sr.store.mu.Unlock()

	logs, err := sr.load(log.RunID)
	if err != nil {
		return err
	}

	if log.ID == "" {
		log.ID = uuid.NewString()
	}

	stored := *log
	logs = append(logs, &stored)

	err = sr.store.write(stepLogsCollection, log.RunID, logs)
	if err != nil {
		return persistence.NewRunError("AppendStepLog", log.RunID, err)
	}

	return nil
}

func (sr *StepLogRepository) Update(_ context.Context, log *models.StepLog) error {
	sr.store.mu.Lock()
	defer sr.store.mu.Unlock()

	logs, err := sr.load(log.RunID)
	if err != nil {
		return err
	}

	for i, existing := range logs {
		if existing.ID == log.ID {
			stored := *log
			logs[i] = &stored

			err = sr.store.write(stepLogsCollection, log.RunID, logs)
			if err != nil {
				return persistence.NewRunError("UpdateStepLog", log.RunID, err)
			}

			return nil
		}
	}

	return persistence.NewRunError("UpdateStepLog", log.RunID, persistence.ErrStepLogNotFound)
}

func (sr *StepLogRepository) ListByRun(_ context.Context, runID string) ([]*models.StepLog, error) {
	sr.store.mu.Lock()
	defer sr.store.mu.Unlock()

	return sr.load(runID)
}

func (sr *StepLogRepository) Latest(_ context.Context, runID, stepID string) (*models.StepLog, error) {
	sr.store.mu.Lock()
	defer sr.store.mu.Unlock()

	logs, err := sr.load(runID)
	if err != nil {
		return nil, err
	}

	for i := len(logs) - 1; i >= 0; i-- {
		if logs[i].StepID == stepID {
			return logs[i], nil
		}
	}

	return nil, persistence.NewRunError("LatestStepLog", runID, persistence.ErrStepLogNotFound)
}
