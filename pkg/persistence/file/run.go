package file

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"slices"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/pipeflow/automation/pkg/models"
	"github.com/pipeflow/automation/pkg/persistence"
)

const (
	runsCollection    = "runs"
	runKeysCollection = "run_keys"
)

// RunRepository stores one JSON document per run plus a key index enforcing
// one run per workflow, contact and dedup key.
type RunRepository struct {
	store *store
}

type runKey struct {
	RunID string `json:"run_id"`
}

func dedupIndexID(run *models.WorkflowRun) string {
	sum := sha256.Sum256([]byte(run.WorkflowID + "\x00" + run.ContactID + "\x00" + run.DedupKey))

	return hex.EncodeToString(sum[:])
}

func (rr *RunRepository) CreateIfAbsent(_ context.Context, run *models.WorkflowRun) (*models.WorkflowRun, bool, error) {
	rr.store.mu.Lock()
	defer rr.store.mu.Unlock()

	keyID := dedupIndexID(run)

	var existing runKey

	err := rr.store.read(runKeysCollection, keyID, &existing)
	if err == nil {
		stored, err := rr.get(existing.RunID)
		if err != nil {
			return nil, false, err
		}

		return stored, false, nil
	}

	if !errors.Is(err, os.ErrNotExist) {
		return nil, false, persistence.NewRunError("CreateIfAbsent", run.ID, err)
	}

	if run.ID == "" {
		run.ID = uuid.NewString()
	}

	if run.UpdatedAt.IsZero() {
		run.UpdatedAt = run.StartedAt
	}

	err = rr.store.write(runsCollection, run.ID, run)
	if err != nil {
		return nil, false, persistence.NewRunError("CreateIfAbsent", run.ID, err)
	}

	err = rr.store.write(runKeysCollection, keyID, runKey{RunID: run.ID})
	if err != nil {
		return nil, false, persistence.NewRunError("CreateIfAbsent", run.ID, err)
	}

	stored := *run

	return &stored, true, nil
}

func (rr *RunRepository) GetByID(_ context.Context, id string) (*models.WorkflowRun, error) {
	rr.store.mu.Lock()
	defer rr.store.mu.Unlock()

	return rr.get(id)
}

func (rr *RunRepository) get(id string) (*models.WorkflowRun, error) {
	var run models.WorkflowRun

	err := rr.store.read(runsCollection, id, &run)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) || errors.Is(err, persistence.ErrInvalidID) {
			return nil, persistence.NewRunError("GetByID", id, persistence.ErrRunNotFound)
		}

		return nil, persistence.NewRunError("GetByID", id, err)
	}

	return &run, nil
}

func (rr *RunRepository) CompareAndSwap(_ context.Context, run *models.WorkflowRun, expected models.RunStatus) (bool, error) {
	rr.store.mu.Lock()
	defer rr.store.mu.Unlock()

	current, err := rr.get(run.ID)
	if err != nil {
		return false, err
	}

	if current.Status != expected {
		return false, nil
	}

	err = rr.store.write(runsCollection, run.ID, run)
	if err != nil {
		return false, persistence.NewRunError("CompareAndSwap", run.ID, err)
	}

	return true, nil
}

func (rr *RunRepository) List(_ context.Context, opts persistence.ListRunsOptions) ([]*models.WorkflowRun, error) {
	rr.store.mu.Lock()
	defer rr.store.mu.Unlock()

	all, err := rr.loadAll()
	if err != nil {
		return nil, err
	}

	filtered := make([]*models.WorkflowRun, 0, len(all))

	for _, run := range all {
		if opts.WorkflowID != "" && run.WorkflowID != opts.WorkflowID {
			continue
		}

		if opts.ContactID != "" && run.ContactID != opts.ContactID {
			continue
		}

		if len(opts.Statuses) > 0 && !slices.Contains(opts.Statuses, run.Status) {
			continue
		}

		filtered = append(filtered, run)
	}

	sort.Slice(filtered, func(i, j int) bool {
		return filtered[i].StartedAt.After(filtered[j].StartedAt)
	})

	return page(filtered, opts.Limit, opts.Offset), nil
}

func (rr *RunRepository) DueWaiting(_ context.Context, now time.Time, limit int) ([]*models.WorkflowRun, error) {
	rr.store.mu.Lock()
	defer rr.store.mu.Unlock()

	all, err := rr.loadAll()
	if err != nil {
		return nil, err
	}

	var due []*models.WorkflowRun

	for _, run := range all {
		if run.Status == models.RunStatusWaiting && run.ResumeAt != nil && !run.ResumeAt.After(now) {
			due = append(due, run)
		}
	}

	sort.Slice(due, func(i, j int) bool {
		return due[i].ResumeAt.Before(*due[j].ResumeAt)
	})

	return page(due, limit, 0), nil
}

func (rr *RunRepository) loadAll() ([]*models.WorkflowRun, error) {
	ids, err := rr.store.list(runsCollection)
	if err != nil {
		return nil, err
	}

	runs := make([]*models.WorkflowRun, 0, len(ids))

	for _, id := range ids {
		run, err := rr.get(id)
		if err != nil {
			return nil, fmt.Errorf("failed to load run %s: %w", id, err)
		}

		runs = append(runs, run)
	}

	return runs, nil
}
