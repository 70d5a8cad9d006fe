// Package web provides HTTP request and response types for the automation API.
package web

import (
	"time"

	"github.com/pipeflow/automation/pkg/models"
	"github.com/pipeflow/automation/pkg/webhook"
)

// OrganizationHeader scopes workflow and run requests to one tenant.
const OrganizationHeader = "X-Organization-ID"

// WorkflowRequest is the body of workflow create and replace calls.
type WorkflowRequest struct {
	PipelineID    string                `json:"pipeline_id"              validate:"required"`
	Name          string                `json:"name"                     validate:"required,min=3"`
	Description   string                `json:"description"`
	TriggerType   models.TriggerType    `json:"trigger_type"             validate:"required"`
	TriggerFilter *models.TriggerFilter `json:"trigger_filter,omitempty"`
	IsActive      *bool                 `json:"is_active,omitempty"`
	Steps         []*models.Step        `json:"steps"                    validate:"required,min=1"`
	CreatedBy     string                `json:"created_by,omitempty"`
}

func (r *WorkflowRequest) toModel() *models.Workflow {
	active := true
	if r.IsActive != nil {
		active = *r.IsActive
	}

	return &models.Workflow{
		PipelineID:    r.PipelineID,
		Name:          r.Name,
		Description:   r.Description,
		TriggerType:   r.TriggerType,
		TriggerFilter: r.TriggerFilter,
		IsActive:      active,
		Steps:         r.Steps,
		CreatedBy:     r.CreatedBy,
	}
}

// EventRequest is the pipeline event contract posted by the CRUD layer.
type EventRequest struct {
	Type           models.TriggerType `json:"type"`
	ContactID      string             `json:"contactId"`
	OrganizationID string             `json:"organizationId"`
	PipelineID     string             `json:"pipelineId"`
	PerformedBy    string             `json:"performedBy,omitempty"`
	SourceID       string             `json:"sourceId,omitempty"`
	Data           map[string]any     `json:"data,omitempty"`
}

func (r *EventRequest) toModel() models.Event {
	return models.Event{
		Type:           r.Type,
		OrganizationID: r.OrganizationID,
		PipelineID:     r.PipelineID,
		ContactID:      r.ContactID,
		PerformedBy:    r.PerformedBy,
		SourceID:       r.SourceID,
		Data:           r.Data,
	}
}

// WebhookTestRequest describes a one-off call to a webhook endpoint.
type WebhookTestRequest struct {
	URL            string            `json:"url"                       validate:"required"`
	Method         string            `json:"method,omitempty"`
	Headers        map[string]string `json:"headers,omitempty"`
	Payload        any               `json:"payload,omitempty"`
	TimeoutSeconds int               `json:"timeout_seconds,omitempty" validate:"omitempty,min=1,max=30"`
}

func (r *WebhookTestRequest) toRequest() webhook.Request {
	return webhook.Request{
		URL:     r.URL,
		Method:  r.Method,
		Headers: r.Headers,
		Payload: r.Payload,
		Timeout: time.Duration(r.TimeoutSeconds) * time.Second,
	}
}

// RunDetail is a run together with its step log timeline.
type RunDetail struct {
	*models.WorkflowRun

	Logs []*models.StepLog `json:"logs,omitempty"`
}
