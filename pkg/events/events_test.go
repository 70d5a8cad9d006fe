package events

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/pipeflow/automation/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestForRunStatus(t *testing.T) {
	resumeAt := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	run := &models.WorkflowRun{
		ID:             "run-1",
		WorkflowID:     "wf-1",
		ContactID:      "c-1",
		OrganizationID: "org-1",
		CurrentStepID:  "delay",
		ResumeAt:       &resumeAt,
	}

	tests := []struct {
		status models.RunStatus
		want   EventType
	}{
		{models.RunStatusRunning, RunStartedEvent},
		{models.RunStatusWaiting, RunWaitingEvent},
		{models.RunStatusCompleted, RunCompletedEvent},
		{models.RunStatusFailed, RunFailedEvent},
		{models.RunStatusCancelled, RunCancelledEvent},
	}

	for _, tt := range tests {
		t.Run(string(tt.status), func(t *testing.T) {
			run.Status = tt.status

			event := ForRunStatus(run)
			require.NotNil(t, event)
			assert.Equal(t, tt.want, event.GetType())
		})
	}

	run.Status = models.RunStatusPending
	assert.Nil(t, ForRunStatus(run))
}

func TestRunWaiting_JSON(t *testing.T) {
	resumeAt := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	event := RunWaiting{RunEvent: NewRunEvent(RunWaitingEvent, &models.WorkflowRun{
		ID:             "run-1",
		WorkflowID:     "wf-1",
		OrganizationID: "org-1",
		CurrentStepID:  "delay",
		ResumeAt:       &resumeAt,
	})}

	payload, err := json.Marshal(event)
	require.NoError(t, err)

	var decoded RunWaiting
	require.NoError(t, json.Unmarshal(payload, &decoded))

	assert.Equal(t, "run-1", decoded.RunID)
	assert.Equal(t, "org-1", decoded.OrganizationID)
	assert.Equal(t, RunWaitingEvent, decoded.Type)
	require.NotNil(t, decoded.ResumeAt)
	assert.True(t, resumeAt.Equal(*decoded.ResumeAt))
}
