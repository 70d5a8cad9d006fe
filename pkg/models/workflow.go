// Package models defines the core domain models for pipeline automation workflows.
package models

import (
	"slices"
	"time"
)

// TriggerType is the kind of pipeline event a workflow reacts to.
type TriggerType string

const (
	TriggerContactCreated TriggerType = "contact_created"
	TriggerStageChanged   TriggerType = "stage_changed"
	TriggerTagAdded       TriggerType = "tag_added"
	TriggerTagRemoved     TriggerType = "tag_removed"
	TriggerFormSubmitted  TriggerType = "form_submitted"
)

// TriggerTypes lists every supported trigger type.
var TriggerTypes = []TriggerType{
	TriggerContactCreated,
	TriggerStageChanged,
	TriggerTagAdded,
	TriggerTagRemoved,
	TriggerFormSubmitted,
}

// IsValid reports whether t is one of the supported trigger types.
func (t TriggerType) IsValid() bool {
	return slices.Contains(TriggerTypes, t)
}

// Workflow is an organization-scoped automation rule bound to one pipeline.
type Workflow struct {
	ID             string         `json:"id"`
	OrganizationID string         `json:"organization_id" validate:"required"`
	PipelineID     string         `json:"pipeline_id"     validate:"required"`
	Name           string         `json:"name"            validate:"required,min=3"`
	Description    string         `json:"description"`
	TriggerType    TriggerType    `json:"trigger_type"    validate:"required,oneof=contact_created stage_changed tag_added tag_removed form_submitted"`
	TriggerFilter  *TriggerFilter `json:"trigger_filter,omitempty"`
	IsActive       bool           `json:"is_active"`
	Steps          []*Step        `json:"steps"           validate:"required,min=1,dive"`
	CreatedBy      string         `json:"created_by,omitempty"`
	CreatedAt      time.Time      `json:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at"`
}

// FirstStep returns the entry step, the one with the lowest position.
func (w *Workflow) FirstStep() *Step {
	var first *Step

	for _, step := range w.Steps {
		if first == nil || step.Position < first.Position {
			first = step
		}
	}

	return first
}

// StepByID returns the step with the given id, or nil.
func (w *Workflow) StepByID(id string) *Step {
	for _, step := range w.Steps {
		if step.ID == id {
			return step
		}
	}

	return nil
}

// Matches reports whether the workflow should react to the event.
func (w *Workflow) Matches(event *Event) bool {
	if !w.IsActive {
		return false
	}

	if w.OrganizationID != event.OrganizationID || w.PipelineID != event.PipelineID {
		return false
	}

	if w.TriggerType != event.Type {
		return false
	}

	return w.TriggerFilter.Matches(event)
}
