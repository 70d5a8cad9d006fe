package workflow

import (
	"net/http"
	"testing"
	"time"

	"github.com/pipeflow/automation/pkg/eventbus"
	"github.com/pipeflow/automation/pkg/events"
	"github.com/pipeflow/automation/pkg/mocks"
	"github.com/pipeflow/automation/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func TestEngine_OneRunPerMatchingWorkflowAndNoneOnRedelivery(t *testing.T) {
	h := newHarness(t)
	wf := h.save(t, newWorkflow("wf-tag", models.TriggerTagAdded, nil, tagStep("tag", "nurtured", "")))

	event := newEvent(models.TriggerTagAdded, "op-1", map[string]any{"tag": "vip"})

	first := h.engine.HandleEvent(t.Context(), event)
	require.Len(t, first, 1)

	second := h.engine.HandleEvent(t.Context(), event)
	require.Len(t, second, 1)
	assert.Equal(t, first[0], second[0])

	runs := h.runs(t, wf.ID)
	require.Len(t, runs, 1)
	assert.Equal(t, models.RunStatusCompleted, runs[0].Status)
	assert.Len(t, h.logs(t, runs[0].ID), 1)
	assert.Equal(t, []string{"nurtured"}, h.contact(t).Tags)

	other := newEvent(models.TriggerTagAdded, "op-2", map[string]any{"tag": "vip"})
	h.engine.HandleEvent(t.Context(), other)
	assert.Len(t, h.runs(t, wf.ID), 2)
}

func TestEngine_EventsOfOtherTenantsOrPipelinesDoNotMatch(t *testing.T) {
	h := newHarness(t)
	h.save(t, newWorkflow("wf-tag", models.TriggerTagAdded, nil, tagStep("tag", "x", "")))

	event := newEvent(models.TriggerTagAdded, "op-1", nil)
	event.OrganizationID = "org-2"
	assert.Empty(t, h.engine.HandleEvent(t.Context(), event))

	event = newEvent(models.TriggerTagAdded, "op-1", nil)
	event.PipelineID = "pipe-2"
	assert.Empty(t, h.engine.HandleEvent(t.Context(), event))

	assert.Empty(t, h.engine.HandleEvent(t.Context(), newEvent(models.TriggerTagRemoved, "op-1", nil)))
}

func TestEngine_VIPTagScenario(t *testing.T) {
	h := newHarness(t)
	w2 := h.save(t, newWorkflow("w2", models.TriggerTagAdded, eqFilter("data.tag", "vip"),
		tagStep("mark", "priority", ""),
	))

	h.engine.HandleEvent(t.Context(), newEvent(models.TriggerTagAdded, "op-other", map[string]any{"tag": "other"}))
	assert.Empty(t, h.runs(t, w2.ID))

	runIDs := h.engine.HandleEvent(t.Context(), newEvent(models.TriggerTagAdded, "op-vip", map[string]any{"tag": "vip"}))
	require.Len(t, runIDs, 1)
	assert.Equal(t, models.RunStatusCompleted, h.run(t, runIDs[0]).Status)
	assert.Contains(t, h.contact(t).Tags, "priority")
}

func TestEngine_ApprovedStageScenario(t *testing.T) {
	h := newHarness(t)
	hook := newHookServer(t, http.StatusOK)

	w1 := h.save(t, newWorkflow("w1", models.TriggerStageChanged, eqFilter("data.new_stage_id", "approved"),
		&models.Step{ID: "email", Type: models.StepSendEmail, NextStepID: "wait", Config: map[string]any{
			"subject": "Welcome aboard {{ .contact.first_name }}",
			"body":    "<p>Stage: {{ .event.data.new_stage_id }}</p>",
		}},
		&models.Step{ID: "wait", Type: models.StepDelay, NextStepID: "notify", Config: map[string]any{"duration": "24h"}},
		&models.Step{ID: "notify", Type: models.StepWebhook, Config: map[string]any{"url": hook.URL}},
	))

	runIDs := h.engine.HandleEvent(t.Context(), newEvent(models.TriggerStageChanged, "op-1", map[string]any{"new_stage_id": "approved"}))
	require.Len(t, runIDs, 1)

	run := h.run(t, runIDs[0])
	assert.Equal(t, w1.ID, run.WorkflowID)
	assert.Equal(t, models.RunStatusWaiting, run.Status)
	assert.Equal(t, "wait", run.CurrentStepID)
	require.NotNil(t, run.ResumeAt)
	assert.True(t, run.ResumeAt.Equal(epoch.Add(24*time.Hour)))
	assert.Equal(t, 1, h.notifier.count())
	assert.Zero(t, hook.count())

	h.clock.Step(24 * time.Hour)

	claimed, err := h.sweeper.SweepOnce(t.Context())
	require.NoError(t, err)
	assert.Equal(t, 1, claimed)

	run = h.run(t, runIDs[0])
	assert.Equal(t, models.RunStatusCompleted, run.Status)
	assert.Nil(t, run.ResumeAt)
	require.NotNil(t, run.CompletedAt)
	assert.Equal(t, 1, hook.count())
	assert.Equal(t, 1, h.notifier.count())

	logs := h.logs(t, run.ID)
	require.Len(t, logs, 3)

	for i, stepID := range []string{"email", "wait", "notify"} {
		assert.Equal(t, stepID, logs[i].StepID)
		assert.Equal(t, models.StepLogCompleted, logs[i].Status, stepID)
	}

	assert.Equal(t, []events.EventType{
		events.RunStartedEvent,
		events.RunWaitingEvent,
		events.RunCompletedEvent,
	}, h.publisher.types())

	claimed, err = h.sweeper.SweepOnce(t.Context())
	require.NoError(t, err)
	assert.Zero(t, claimed)
}

func TestEngine_ConcurrentRunsForOneEvent(t *testing.T) {
	h := newHarness(t)

	for _, id := range []string{"wf-a", "wf-b", "wf-c"} {
		h.save(t, newWorkflow(id, models.TriggerContactCreated, nil, tagStep("tag", id, "")))
	}

	runIDs := h.engine.HandleEvent(t.Context(), newEvent(models.TriggerContactCreated, "op-1", nil))
	require.Len(t, runIDs, 3)

	for _, runID := range runIDs {
		assert.Equal(t, models.RunStatusCompleted, h.run(t, runID).Status)
	}

	assert.ElementsMatch(t, []string{"wf-a", "wf-b", "wf-c"}, h.contact(t).Tags)
}

func TestEngine_RegisterHandlesPipelineEvents(t *testing.T) {
	h := newHarness(t)
	h.save(t, newWorkflow("wf-tag", models.TriggerTagAdded, nil, tagStep("tag", "nurtured", "")))

	bus := &mocks.MockEventBus{}

	var handler eventbus.EventHandler

	bus.On("Handle", events.PipelineEventOccurredEvent, mock.Anything).
		Run(func(args mock.Arguments) {
			handler = args.Get(1).(eventbus.EventHandler)
		}).
		Return(nil).Once()

	require.NoError(t, h.engine.Register(bus))
	require.NotNil(t, handler)

	occurred := &events.PipelineEventOccurred{Event: *newEvent(models.TriggerTagAdded, "op-1", nil)}
	require.NoError(t, handler(t.Context(), occurred))
	require.NoError(t, handler(t.Context(), "not an event"))

	assert.Len(t, h.runs(t, "wf-tag"), 1)
	bus.AssertExpectations(t)
}
