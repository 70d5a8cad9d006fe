// Package steps implements one handler per step kind. Handlers never return
// errors; every result, including failure, is expressed as an Outcome.
package steps

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/pipeflow/automation/pkg/crm"
	"github.com/pipeflow/automation/pkg/models"
	"github.com/pipeflow/automation/pkg/notify"
	"github.com/pipeflow/automation/pkg/webhook"
	"k8s.io/utils/clock"
)

type OutcomeKind int

const (
	OutcomeAdvance OutcomeKind = iota + 1
	OutcomeWait
	OutcomeFail
)

func (k OutcomeKind) String() string {
	switch k {
	case OutcomeAdvance:
		return "advance"
	case OutcomeWait:
		return "wait"
	case OutcomeFail:
		return "fail"
	default:
		return "unknown"
	}
}

// Outcome is the result of one step attempt. Exactly one of the variants is
// set, chosen by Kind.
type Outcome struct {
	Kind OutcomeKind

	// Advance: the step to continue at; empty ends the run.
	NextStepID string

	// Wait: the earliest time the run may resume.
	ResumeAt time.Time

	// Fail
	Err       error
	Retryable bool

	// Result is recorded on the step log for every variant.
	Result map[string]any
}

func Advance(nextStepID string, result map[string]any) Outcome {
	return Outcome{Kind: OutcomeAdvance, NextStepID: nextStepID, Result: result}
}

func Wait(resumeAt time.Time, result map[string]any) Outcome {
	return Outcome{Kind: OutcomeWait, ResumeAt: resumeAt, Result: result}
}

func Fail(err error, retryable bool) Outcome {
	return Outcome{Kind: OutcomeFail, Err: err, Retryable: retryable}
}

// Input is everything a handler may look at.
type Input struct {
	Workflow *models.Workflow
	Run      *models.WorkflowRun
	Step     *models.Step
	Contact  *models.Contact
}

// TemplateData is the data step templates are rendered against.
func (in Input) TemplateData() map[string]any {
	data := map[string]any{
		"workflow": map[string]any{
			"id":          in.Workflow.ID,
			"name":        in.Workflow.Name,
			"pipeline_id": in.Workflow.PipelineID,
		},
		"run": map[string]any{
			"id":         in.Run.ID,
			"started_at": in.Run.StartedAt,
		},
		"event": in.Run.TriggeringEvent.TemplateData(),
	}

	if in.Contact != nil {
		data["contact"] = in.Contact.TemplateData()
	}

	return data
}

type Handler interface {
	Execute(ctx context.Context, in Input) Outcome
}

// HandlerFunc adapts a function to the Handler interface.
type HandlerFunc func(ctx context.Context, in Input) Outcome

func (f HandlerFunc) Execute(ctx context.Context, in Input) Outcome {
	return f(ctx, in)
}

// Handlers holds one handler per step kind.
type Handlers struct {
	SendEmail Handler
	MoveStage Handler
	AddTag    Handler
	RemoveTag Handler
	Webhook   Handler
	Delay     Handler
	Condition Handler
}

// For returns the handler of a step kind. Every models.StepType must have a case.
func (h *Handlers) For(stepType models.StepType) (Handler, error) {
	var handler Handler

	switch stepType {
	case models.StepSendEmail:
		handler = h.SendEmail
	case models.StepMoveStage:
		handler = h.MoveStage
	case models.StepAddTag:
		handler = h.AddTag
	case models.StepRemoveTag:
		handler = h.RemoveTag
	case models.StepWebhook:
		handler = h.Webhook
	case models.StepDelay:
		handler = h.Delay
	case models.StepCondition:
		handler = h.Condition
	default:
		return nil, fmt.Errorf("unknown step type %q", stepType)
	}

	if handler == nil {
		return nil, fmt.Errorf("no handler registered for step type %q", stepType)
	}

	return handler, nil
}

// Deliverer performs webhook calls.
type Deliverer interface {
	Deliver(ctx context.Context, req webhook.Request) (*webhook.Response, error)
}

type Dependencies struct {
	CRM       crm.Client
	Notifier  notify.Notifier
	Webhooks  Deliverer
	Clock     clock.PassiveClock
	EmailFrom string
}

// NewHandlers wires the built-in handler of every step kind.
func NewHandlers(deps Dependencies) *Handlers {
	if deps.Clock == nil {
		deps.Clock = clock.RealClock{}
	}

	cfg := &configDecoder{validate: validator.New(validator.WithRequiredStructEnabled())}

	return &Handlers{
		SendEmail: &sendEmail{configDecoder: cfg, notifier: deps.Notifier, templates: deps.CRM, from: deps.EmailFrom},
		MoveStage: &moveStage{configDecoder: cfg, crm: deps.CRM},
		AddTag:    &tagMutation{configDecoder: cfg, crm: deps.CRM, add: true},
		RemoveTag: &tagMutation{configDecoder: cfg, crm: deps.CRM},
		Webhook:   &callWebhook{configDecoder: cfg, dispatcher: deps.Webhooks, clock: deps.Clock},
		Delay:     &delay{configDecoder: cfg, clock: deps.Clock},
		Condition: &condition{configDecoder: cfg},
	}
}

type configDecoder struct {
	validate *validator.Validate
}

// decode converts a step's loosely typed config into a validated struct.
func (d *configDecoder) decode(config map[string]any, out any) error {
	data, err := json.Marshal(config)
	if err != nil {
		return fmt.Errorf("invalid step config: %w", err)
	}

	err = json.Unmarshal(data, out)
	if err != nil {
		return fmt.Errorf("invalid step config: %w", err)
	}

	err = d.validate.Struct(out)
	if err != nil {
		return fmt.Errorf("invalid step config: %w", err)
	}

	return nil
}
