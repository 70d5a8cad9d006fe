package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func stageChangedEvent(stageID string) *Event {
	return &Event{
		Type:           TriggerStageChanged,
		OrganizationID: "org-1",
		PipelineID:     "pipe-1",
		ContactID:      "contact-1",
		SourceID:       "op-1",
		Data:           map[string]any{"new_stage_id": stageID, "old_stage_id": "lead"},
	}
}

func TestWorkflow_Matches(t *testing.T) {
	approved := &TriggerFilter{Conditions: []FilterCondition{
		{Field: "data.new_stage_id", Operator: FilterEq, Value: "approved"},
	}}

	tests := []struct {
		name     string
		workflow Workflow
		event    *Event
		want     bool
	}{
		{
			name:     "matching stage",
			workflow: Workflow{OrganizationID: "org-1", PipelineID: "pipe-1", TriggerType: TriggerStageChanged, TriggerFilter: approved, IsActive: true},
			event:    stageChangedEvent("approved"),
			want:     true,
		},
		{
			name:     "other stage",
			workflow: Workflow{OrganizationID: "org-1", PipelineID: "pipe-1", TriggerType: TriggerStageChanged, TriggerFilter: approved, IsActive: true},
			event:    stageChangedEvent("lost"),
			want:     false,
		},
		{
			name:     "inactive workflow",
			workflow: Workflow{OrganizationID: "org-1", PipelineID: "pipe-1", TriggerType: TriggerStageChanged, IsActive: false},
			event:    stageChangedEvent("approved"),
			want:     false,
		},
		{
			name:     "other organization",
			workflow: Workflow{OrganizationID: "org-2", PipelineID: "pipe-1", TriggerType: TriggerStageChanged, IsActive: true},
			event:    stageChangedEvent("approved"),
			want:     false,
		},
		{
			name:     "other trigger type",
			workflow: Workflow{OrganizationID: "org-1", PipelineID: "pipe-1", TriggerType: TriggerTagAdded, IsActive: true},
			event:    stageChangedEvent("approved"),
			want:     false,
		},
		{
			name:     "nil filter matches everything",
			workflow: Workflow{OrganizationID: "org-1", PipelineID: "pipe-1", TriggerType: TriggerStageChanged, IsActive: true},
			event:    stageChangedEvent("anything"),
			want:     true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.workflow.Matches(tt.event))
		})
	}
}

func TestTriggerFilter_Operators(t *testing.T) {
	event := &Event{
		Type:        TriggerFormSubmitted,
		PerformedBy: "user-7",
		Data: map[string]any{
			"form_id": "f-1",
			"score":   float64(42),
			"answers": map[string]any{"budget": "large"},
			"labels":  []any{"hot", "inbound"},
		},
	}

	tests := []struct {
		name      string
		condition FilterCondition
		want      bool
	}{
		{"eq string", FilterCondition{Field: "data.form_id", Operator: FilterEq, Value: "f-1"}, true},
		{"eq number across types", FilterCondition{Field: "data.score", Operator: FilterEq, Value: 42}, true},
		{"neq", FilterCondition{Field: "data.form_id", Operator: FilterNeq, Value: "f-2"}, true},
		{"neq on missing field", FilterCondition{Field: "data.missing", Operator: FilterNeq, Value: "x"}, true},
		{"in", FilterCondition{Field: "data.form_id", Operator: FilterIn, Value: []any{"f-0", "f-1"}}, true},
		{"not in", FilterCondition{Field: "data.form_id", Operator: FilterNotIn, Value: []any{"f-1"}}, false},
		{"contains in list", FilterCondition{Field: "data.labels", Operator: FilterContains, Value: "hot"}, true},
		{"contains substring", FilterCondition{Field: "data.answers.budget", Operator: FilterContains, Value: "arg"}, true},
		{"exists", FilterCondition{Field: "performed_by", Operator: FilterExists}, true},
		{"exists missing", FilterCondition{Field: "data.nope", Operator: FilterExists}, false},
		{"bare field resolves in data", FilterCondition{Field: "form_id", Operator: FilterEq, Value: "f-1"}, true},
		{"unknown operator", FilterCondition{Field: "data.form_id", Operator: "like", Value: "f-1"}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.condition.Matches(event))
		})
	}
}

func TestTriggerFilter_MatchAny(t *testing.T) {
	filter := &TriggerFilter{
		Match: FilterMatchAny,
		Conditions: []FilterCondition{
			{Field: "data.tag", Operator: FilterEq, Value: "vip"},
			{Field: "data.tag", Operator: FilterEq, Value: "partner"},
		},
	}

	assert.True(t, filter.Matches(&Event{Data: map[string]any{"tag": "partner"}}))
	assert.False(t, filter.Matches(&Event{Data: map[string]any{"tag": "other"}}))
}

func TestWorkflow_FirstStepAndLookup(t *testing.T) {
	workflow := &Workflow{Steps: []*Step{
		{ID: "b", Position: 2},
		{ID: "a", Position: 1},
		{ID: "c", Position: 3},
	}}

	require.NotNil(t, workflow.FirstStep())
	assert.Equal(t, "a", workflow.FirstStep().ID)
	assert.Equal(t, "c", workflow.StepByID("c").ID)
	assert.Nil(t, workflow.StepByID("missing"))
	assert.Nil(t, (&Workflow{}).FirstStep())
}

func TestStep_Successors(t *testing.T) {
	condition := &Step{ID: "c", Type: StepCondition, TrueStepID: "yes", FalseStepID: "no"}
	assert.Equal(t, []string{"yes", "no"}, condition.Successors())

	last := &Step{ID: "l", Type: StepAddTag}
	assert.Empty(t, last.Successors())
}

func TestEvaluateCondition(t *testing.T) {
	tests := []struct {
		name    string
		value   any
		want    bool
		wantErr bool
	}{
		{"nil is false", nil, false, false},
		{"bool true", true, true, false},
		{"string false", "false", false, false},
		{"string one", "1", true, false},
		{"empty string", "", false, false},
		{"missing template value", "<no value>", false, false},
		{"non-zero number", float64(3), true, false},
		{"zero int", 0, false, false},
		{"garbage string", "maybe", false, true},
		{"map", map[string]any{}, false, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := EvaluateCondition(tt.value)
			if tt.wantErr {
				require.Error(t, err)

				return
			}

			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestRunStatus_IsTerminal(t *testing.T) {
	assert.True(t, RunStatusCompleted.IsTerminal())
	assert.True(t, RunStatusFailed.IsTerminal())
	assert.True(t, RunStatusCancelled.IsTerminal())
	assert.False(t, RunStatusWaiting.IsTerminal())
	assert.False(t, RunStatusPending.IsTerminal())
}

func TestEvent_DedupKey(t *testing.T) {
	first := stageChangedEvent("approved")
	again := stageChangedEvent("approved")

	assert.Equal(t, first.DedupKey(), again.DedupKey())

	again.SourceID = "op-2"
	assert.NotEqual(t, first.DedupKey(), again.DedupKey())
}
