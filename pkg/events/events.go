// Package events defines the messages exchanged on the automation event bus.
package events

import (
	"time"

	"github.com/google/uuid"
	"github.com/pipeflow/automation/pkg/models"
)

type EventType string

// Topic carries every automation message.
const Topic = "pipeflow.automation.events"

const EventMetadataKey = "key"
const EventTypeMetadataKey = "event_type"

const (
	// Ingress.
	PipelineEventOccurredEvent EventType = "pipeline.event.occurred"

	// Run lifecycle.
	RunStartedEvent   EventType = "run.started"
	RunWaitingEvent   EventType = "run.waiting"
	RunCompletedEvent EventType = "run.completed"
	RunFailedEvent    EventType = "run.failed"
	RunCancelledEvent EventType = "run.cancelled"
)

type BaseEvent struct {
	ID             string         `json:"id"`
	Type           EventType      `json:"type"`
	Timestamp      time.Time      `json:"timestamp"`
	OrganizationID string         `json:"organization_id"`
	WorkerID       string         `json:"worker_id,omitempty"`
	Metadata       map[string]any `json:"metadata,omitempty"`
}

func NewBaseEvent(eventType EventType, organizationID string) BaseEvent {
	return BaseEvent{
		ID:             uuid.New().String(),
		Type:           eventType,
		Timestamp:      time.Now().UTC(),
		OrganizationID: organizationID,
	}
}

// PipelineEventOccurred carries a normalized pipeline event from ingress to the engine.
type PipelineEventOccurred struct {
	BaseEvent

	Event models.Event `json:"event"`
}

func (e PipelineEventOccurred) GetType() EventType {
	return PipelineEventOccurredEvent
}

// RunEvent is the shared payload of run lifecycle notifications.
type RunEvent struct {
	BaseEvent

	RunID      string     `json:"run_id"`
	WorkflowID string     `json:"workflow_id"`
	ContactID  string     `json:"contact_id"`
	StepID     string     `json:"step_id,omitempty"`
	ResumeAt   *time.Time `json:"resume_at,omitempty"`
	Error      string     `json:"error,omitempty"`
}

func NewRunEvent(eventType EventType, run *models.WorkflowRun) RunEvent {
	return RunEvent{
		BaseEvent:  NewBaseEvent(eventType, run.OrganizationID),
		RunID:      run.ID,
		WorkflowID: run.WorkflowID,
		ContactID:  run.ContactID,
		StepID:     run.CurrentStepID,
		ResumeAt:   run.ResumeAt,
		Error:      run.ErrorMessage,
	}
}

type RunStarted struct {
	RunEvent
}

func (e RunStarted) GetType() EventType {
	return RunStartedEvent
}

type RunWaiting struct {
	RunEvent
}

func (e RunWaiting) GetType() EventType {
	return RunWaitingEvent
}

type RunCompleted struct {
	RunEvent
}

func (e RunCompleted) GetType() EventType {
	return RunCompletedEvent
}

type RunFailed struct {
	RunEvent
}

func (e RunFailed) GetType() EventType {
	return RunFailedEvent
}

type RunCancelled struct {
	RunEvent
}

func (e RunCancelled) GetType() EventType {
	return RunCancelledEvent
}

// ForRunStatus builds the lifecycle event matching a run's status, or nil
// when the status has no notification.
func ForRunStatus(run *models.WorkflowRun) interface{ GetType() EventType } {
	switch run.Status {
	case models.RunStatusRunning:
		return RunStarted{RunEvent: NewRunEvent(RunStartedEvent, run)}
	case models.RunStatusWaiting:
		return RunWaiting{RunEvent: NewRunEvent(RunWaitingEvent, run)}
	case models.RunStatusCompleted:
		return RunCompleted{RunEvent: NewRunEvent(RunCompletedEvent, run)}
	case models.RunStatusFailed:
		return RunFailed{RunEvent: NewRunEvent(RunFailedEvent, run)}
	case models.RunStatusCancelled:
		return RunCancelled{RunEvent: NewRunEvent(RunCancelledEvent, run)}
	default:
		return nil
	}
}
