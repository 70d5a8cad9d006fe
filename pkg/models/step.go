package models

import "slices"

// StepType is the closed set of actions a workflow step can perform.
type StepType string

const (
	StepSendEmail StepType = "send_email"
	StepMoveStage StepType = "move_stage"
	StepAddTag    StepType = "add_tag"
	StepRemoveTag StepType = "remove_tag"
	StepWebhook   StepType = "webhook"
	StepDelay     StepType = "delay"
	StepCondition StepType = "condition"
)

// StepTypes lists every supported step type.
var StepTypes = []StepType{
	StepSendEmail,
	StepMoveStage,
	StepAddTag,
	StepRemoveTag,
	StepWebhook,
	StepDelay,
	StepCondition,
}

// IsValid reports whether t is one of the supported step types.
func (t StepType) IsValid() bool {
	return slices.Contains(StepTypes, t)
}

// Step is one node of a workflow's step graph.
//
// Linear steps continue at NextStepID; condition steps continue at
// TrueStepID or FalseStepID. An empty successor ends the run.
type Step struct {
	ID          string         `json:"id"                      validate:"required"`
	WorkflowID  string         `json:"workflow_id,omitempty"`
	Name        string         `json:"name,omitempty"`
	Type        StepType       `json:"step_type"               validate:"required,oneof=send_email move_stage add_tag remove_tag webhook delay condition"`
	Config      map[string]any `json:"config"`
	Position    int            `json:"position"                validate:"min=0"`
	NextStepID  string         `json:"next_step_id,omitempty"`
	TrueStepID  string         `json:"true_step_id,omitempty"`
	FalseStepID string         `json:"false_step_id,omitempty"`
}

// Successors returns the ids of every step this step can continue to.
func (s *Step) Successors() []string {
	var ids []string

	for _, id := range []string{s.NextStepID, s.TrueStepID, s.FalseStepID} {
		if id != "" {
			ids = append(ids, id)
		}
	}

	return ids
}
