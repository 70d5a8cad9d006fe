package file

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/pipeflow/automation/pkg/models"
	"github.com/pipeflow/automation/pkg/persistence"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newWorkflow(org string, trigger models.TriggerType, active bool) *models.Workflow {
	return &models.Workflow{
		OrganizationID: org,
		PipelineID:     "pipe-1",
		Name:           "Welcome",
		TriggerType:    trigger,
		IsActive:       active,
		Steps: []*models.Step{
			{ID: "tag", Type: models.StepAddTag, Config: map[string]any{"tag": "welcomed"}},
		},
	}
}

func newRun(workflowID, contactID, sourceID string) *models.WorkflowRun {
	return &models.WorkflowRun{
		WorkflowID:     workflowID,
		ContactID:      contactID,
		OrganizationID: "org-1",
		DedupKey:       "tag_added:" + sourceID,
		Status:         models.RunStatusPending,
		CurrentStepID:  "tag",
		StartedAt:      time.Now().UTC(),
	}
}

func TestWorkflowRepository_CRUD(t *testing.T) {
	p := NewPersistence("file://" + t.TempDir())
	repo := p.WorkflowRepository()
	ctx := t.Context()

	workflow := newWorkflow("org-1", models.TriggerTagAdded, true)
	require.NoError(t, repo.Save(ctx, workflow))
	require.NotEmpty(t, workflow.ID)
	assert.False(t, workflow.CreatedAt.IsZero())
	assert.Equal(t, workflow.ID, workflow.Steps[0].WorkflowID)

	loaded, err := repo.GetByID(ctx, workflow.ID)
	require.NoError(t, err)
	assert.Equal(t, "Welcome", loaded.Name)
	assert.Equal(t, models.StepAddTag, loaded.Steps[0].Type)

	loaded.IsActive = false
	require.NoError(t, repo.Save(ctx, loaded))

	active := true
	list, err := repo.List(ctx, persistence.ListWorkflowsOptions{OrganizationID: "org-1", Active: &active})
	require.NoError(t, err)
	assert.Empty(t, list)

	require.NoError(t, repo.Delete(ctx, workflow.ID))

	_, err = repo.GetByID(ctx, workflow.ID)
	assert.True(t, persistence.IsWorkflowNotFound(err))

	err = repo.Delete(ctx, workflow.ID)
	assert.True(t, persistence.IsWorkflowNotFound(err))
}

func TestWorkflowRepository_RejectsPathTraversal(t *testing.T) {
	p := NewPersistence(t.TempDir())

	_, err := p.WorkflowRepository().GetByID(t.Context(), "../etc/passwd")
	assert.True(t, persistence.IsWorkflowNotFound(err))
}

func TestWorkflowRepository_FindActiveByTrigger(t *testing.T) {
	p := NewPersistence(t.TempDir())
	repo := p.WorkflowRepository()
	ctx := t.Context()

	matching := newWorkflow("org-1", models.TriggerTagAdded, true)
	inactive := newWorkflow("org-1", models.TriggerTagAdded, false)
	otherTrigger := newWorkflow("org-1", models.TriggerStageChanged, true)
	otherOrg := newWorkflow("org-2", models.TriggerTagAdded, true)

	for _, workflow := range []*models.Workflow{matching, inactive, otherTrigger, otherOrg} {
		require.NoError(t, repo.Save(ctx, workflow))
	}

	found, err := repo.FindActiveByTrigger(ctx, "org-1", "pipe-1", models.TriggerTagAdded)
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, matching.ID, found[0].ID)
}

func TestRunRepository_CreateIfAbsent(t *testing.T) {
	p := NewPersistence(t.TempDir())
	repo := p.RunRepository()
	ctx := t.Context()

	first, created, err := repo.CreateIfAbsent(ctx, newRun("wf-1", "c-1", "op-1"))
	require.NoError(t, err)
	assert.True(t, created)

	again, created, err := repo.CreateIfAbsent(ctx, newRun("wf-1", "c-1", "op-1"))
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, first.ID, again.ID)

	other, created, err := repo.CreateIfAbsent(ctx, newRun("wf-1", "c-1", "op-2"))
	require.NoError(t, err)
	assert.True(t, created)
	assert.NotEqual(t, first.ID, other.ID)
}

func TestRunRepository_CreateIfAbsent_Concurrent(t *testing.T) {
	p := NewPersistence(t.TempDir())
	repo := p.RunRepository()
	ctx := t.Context()

	var (
		wg      sync.WaitGroup
		created atomic.Int32
	)

	for range 8 {
		wg.Add(1)

		go func() {
			defer wg.Done()

			_, ok, err := repo.CreateIfAbsent(ctx, newRun("wf-1", "c-1", "op-1"))
			assert.NoError(t, err)

			if ok {
				created.Add(1)
			}
		}()
	}

	wg.Wait()
	assert.Equal(t, int32(1), created.Load())
}

func TestRunRepository_CompareAndSwap(t *testing.T) {
	p := NewPersistence(t.TempDir())
	repo := p.RunRepository()
	ctx := t.Context()

	run, _, err := repo.CreateIfAbsent(ctx, newRun("wf-1", "c-1", "op-1"))
	require.NoError(t, err)

	run.Status = models.RunStatusRunning
	ok, err := repo.CompareAndSwap(ctx, run, models.RunStatusPending)
	require.NoError(t, err)
	assert.True(t, ok)

	stale := *run
	stale.Status = models.RunStatusCompleted
	ok, err = repo.CompareAndSwap(ctx, &stale, models.RunStatusPending)
	require.NoError(t, err)
	assert.False(t, ok)

	stored, err := repo.GetByID(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RunStatusRunning, stored.Status)

	missing := newRun("wf-1", "c-1", "op-9")
	missing.ID = "does-not-exist"
	_, err = repo.CompareAndSwap(ctx, missing, models.RunStatusPending)
	assert.True(t, persistence.IsRunNotFound(err))
}

func TestRunRepository_DueWaitingAndList(t *testing.T) {
	p := NewPersistence(t.TempDir())
	repo := p.RunRepository()
	ctx := t.Context()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	for i, offset := range []time.Duration{-2 * time.Hour, -time.Minute, time.Hour} {
		run, _, err := repo.CreateIfAbsent(ctx, newRun("wf-1", "c-1", string(rune('a'+i))))
		require.NoError(t, err)

		resumeAt := now.Add(offset)
		run.Status = models.RunStatusWaiting
		run.ResumeAt = &resumeAt

		ok, err := repo.CompareAndSwap(ctx, run, models.RunStatusPending)
		require.NoError(t, err)
		require.True(t, ok)
	}

	due, err := repo.DueWaiting(ctx, now, 10)
	require.NoError(t, err)
	require.Len(t, due, 2)
	assert.True(t, due[0].ResumeAt.Before(*due[1].ResumeAt))

	waiting, err := repo.List(ctx, persistence.ListRunsOptions{WorkflowID: "wf-1", Statuses: []models.RunStatus{models.RunStatusWaiting}})
	require.NoError(t, err)
	assert.Len(t, waiting, 3)

	none, err := repo.List(ctx, persistence.ListRunsOptions{ContactID: "c-2"})
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestStepLogRepository(t *testing.T) {
	p := NewPersistence(t.TempDir())
	repo := p.StepLogRepository()
	ctx := t.Context()
	started := time.Now().UTC()

	first := &models.StepLog{RunID: "run-1", StepID: "hook", Status: models.StepLogRunning, StartedAt: started}
	require.NoError(t, repo.Append(ctx, first))
	require.NotEmpty(t, first.ID)

	first.Status = models.StepLogFailed
	require.NoError(t, repo.Update(ctx, first))

	second := &models.StepLog{RunID: "run-1", StepID: "hook", Status: models.StepLogRunning, StartedAt: started, RetryCount: 1}
	require.NoError(t, repo.Append(ctx, second))

	logs, err := repo.ListByRun(ctx, "run-1")
	require.NoError(t, err)
	require.Len(t, logs, 2)
	assert.Equal(t, models.StepLogFailed, logs[0].Status)

	latest, err := repo.Latest(ctx, "run-1", "hook")
	require.NoError(t, err)
	assert.Equal(t, 1, latest.RetryCount)

	_, err = repo.Latest(ctx, "run-1", "other")
	assert.True(t, persistence.IsStepLogNotFound(err))

	empty, err := repo.ListByRun(ctx, "run-2")
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestPersistence_HealthCheck(t *testing.T) {
	p := NewPersistence(t.TempDir() + "/nested")

	require.NoError(t, p.HealthCheck(t.Context()))
	require.NoError(t, p.Close(t.Context()))
}
