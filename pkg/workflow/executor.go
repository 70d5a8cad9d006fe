package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/pipeflow/automation/pkg/crm"
	"github.com/pipeflow/automation/pkg/eventbus"
	"github.com/pipeflow/automation/pkg/events"
	"github.com/pipeflow/automation/pkg/models"
	"github.com/pipeflow/automation/pkg/otelhelper"
	"github.com/pipeflow/automation/pkg/persistence"
	"github.com/pipeflow/automation/pkg/steps"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"k8s.io/utils/clock"
)

const (
	// MaxRetries is how many times a retryable step failure is re-attempted.
	MaxRetries = 3

	// DefaultMaxStepsPerPass bounds how many steps one pass may execute
	// without reaching a wait, which stops delay-free loops.
	DefaultMaxStepsPerPass = 100
)

// ErrRunNotResumable is returned by Resume when the run was not claimed for resumption.
var ErrRunNotResumable = errors.New("run is not resumable")

// Executor drives runs through their step graph.
type Executor struct {
	workflows persistence.WorkflowRepository
	runs      persistence.RunRepository
	stepLogs  persistence.StepLogRepository
	contacts  crm.Client
	handlers  *steps.Handlers
	clock     clock.Clock
	logger    *slog.Logger

	publisher  eventbus.EventPublisher
	tracer     trace.Tracer
	newBackOff func() backoff.BackOff
	maxSteps   int
}

type ExecutorOption func(*Executor)

// WithPublisher publishes run lifecycle events.
func WithPublisher(publisher eventbus.EventPublisher) ExecutorOption {
	return func(e *Executor) {
		e.publisher = publisher
	}
}

func WithTracer(tracer trace.Tracer) ExecutorOption {
	return func(e *Executor) {
		e.tracer = tracer
	}
}

// WithBackOff sets the policy used between retries of a failing step.
func WithBackOff(newBackOff func() backoff.BackOff) ExecutorOption {
	return func(e *Executor) {
		e.newBackOff = newBackOff
	}
}

func WithMaxStepsPerPass(limit int) ExecutorOption {
	return func(e *Executor) {
		if limit > 0 {
			e.maxSteps = limit
		}
	}
}

func NewExecutor(
	p persistence.Persistence,
	contacts crm.Client,
	handlers *steps.Handlers,
	clk clock.Clock,
	logger *slog.Logger,
	opts ...ExecutorOption,
) *Executor {
	e := &Executor{
		workflows:  p.WorkflowRepository(),
		runs:       p.RunRepository(),
		stepLogs:   p.StepLogRepository(),
		contacts:   contacts,
		handlers:   handlers,
		clock:      clk,
		logger:     logger.With("module", "executor"),
		tracer:     noop.NewTracerProvider().Tracer("pipeflow"),
		newBackOff: defaultBackOff,
		maxSteps:   DefaultMaxStepsPerPass,
	}

	for _, opt := range opts {
		opt(e)
	}

	return e
}

func defaultBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = time.Second
	b.MaxInterval = 30 * time.Second
	b.MaxElapsedTime = 0

	return b
}

// Start claims a pending run and executes it until it waits or ends.
// A run already claimed elsewhere is left alone.
func (e *Executor) Start(ctx context.Context, runID string) error {
	run, err := e.runs.GetByID(ctx, runID)
	if err != nil {
		return fmt.Errorf("failed to load run: %w", err)
	}

	if run.Status != models.RunStatusPending {
		e.logger.DebugContext(ctx, "Run already claimed", "run_id", runID, "status", run.Status)

		return nil
	}

	run.Status = models.RunStatusRunning
	run.UpdatedAt = e.now()

	swapped, err := e.runs.CompareAndSwap(ctx, run, models.RunStatusPending)
	if err != nil {
		return fmt.Errorf("failed to claim run: %w", err)
	}

	if !swapped {
		e.logger.DebugContext(ctx, "Lost race to claim run", "run_id", runID)

		return nil
	}

	e.publish(ctx, run)

	return e.execute(ctx, run)
}

// Resume continues a run whose delay elapsed, or a run handed back to the
// sweeper after an interrupted resume. The caller must already have moved
// the run from waiting to running.
func (e *Executor) Resume(ctx context.Context, runID string) error {
	run, err := e.runs.GetByID(ctx, runID)
	if err != nil {
		return fmt.Errorf("failed to load run: %w", err)
	}

	if run.Status != models.RunStatusRunning {
		return fmt.Errorf("%w: run %s is %s", ErrRunNotResumable, runID, run.Status)
	}

	logger := e.runLogger(run)

	workflow, err := e.workflows.GetByID(ctx, run.WorkflowID)
	if err != nil {
		if persistence.IsWorkflowNotFound(err) {
			return e.finish(ctx, run, models.RunStatusCancelled, "workflow deleted")
		}

		return fmt.Errorf("failed to load workflow: %w", err)
	}

	step := workflow.StepByID(run.CurrentStepID)
	if step == nil {
		return e.finish(ctx, run, models.RunStatusFailed, fmt.Sprintf("step %q not found in workflow", run.CurrentStepID))
	}

	latest, err := e.stepLogs.Latest(ctx, run.ID, step.ID)
	if err != nil && !persistence.IsStepLogNotFound(err) {
		return fmt.Errorf("failed to load waiting step log: %w", err)
	}

	parked := err != nil || latest.Status == models.StepLogWaiting || latest.Status == models.StepLogCompleted
	if step.Type != models.StepDelay || !parked {
		// An earlier resume was interrupted before the cursor settled on a
		// parked delay; carry on from the cursor.
		logger.InfoContext(ctx, "Resuming interrupted run", "step_id", step.ID)

		run.ResumeAt = nil

		return e.execute(ctx, run)
	}

	if err == nil && latest.Status == models.StepLogWaiting {
		completedAt := e.now()
		latest.Status = models.StepLogCompleted
		latest.CompletedAt = &completedAt

		err = e.stepLogs.Update(ctx, latest)
		if err != nil {
			return fmt.Errorf("failed to complete waiting step log: %w", err)
		}
	}

	logger.InfoContext(ctx, "Resuming run", "step_id", step.ID)

	run.ResumeAt = nil

	if step.NextStepID == "" {
		return e.finish(ctx, run, models.RunStatusCompleted, "")
	}

	advanced, err := e.advance(ctx, run, step.NextStepID)
	if err != nil || !advanced {
		return err
	}

	return e.execute(ctx, run)
}

// execute runs steps from the cursor of a running run.
func (e *Executor) execute(ctx context.Context, run *models.WorkflowRun) error {
	logger := e.runLogger(run)

	for executed := 0; ; executed++ {
		if executed >= e.maxSteps {
			return e.finish(ctx, run, models.RunStatusFailed,
				fmt.Sprintf("exceeded %d steps without waiting", e.maxSteps))
		}

		outcome, stop, err := e.executeStep(ctx, run)
		if err != nil || stop {
			return err
		}

		switch outcome.Kind {
		case steps.OutcomeAdvance:
			if outcome.NextStepID == "" {
				return e.finish(ctx, run, models.RunStatusCompleted, "")
			}

			advanced, err := e.advance(ctx, run, outcome.NextStepID)
			if err != nil || !advanced {
				return err
			}
		case steps.OutcomeWait:
			resumeAt := outcome.ResumeAt
			run.Status = models.RunStatusWaiting
			run.ResumeAt = &resumeAt
			run.UpdatedAt = e.now()

			swapped, err := e.runs.CompareAndSwap(ctx, run, models.RunStatusRunning)
			if err != nil {
				return fmt.Errorf("failed to park run: %w", err)
			}

			if swapped {
				logger.InfoContext(ctx, "Run waiting", "step_id", run.CurrentStepID, "resume_at", resumeAt)
				e.publish(ctx, run)
			}

			return nil
		case steps.OutcomeFail:
			return e.finish(ctx, run, models.RunStatusFailed,
				fmt.Sprintf("step %s failed: %v", run.CurrentStepID, outcome.Err))
		}
	}
}

// executeStep performs the step under the cursor, retrying retryable
// failures. stop is set when the run was ended while checking preconditions.
func (e *Executor) executeStep(ctx context.Context, run *models.WorkflowRun) (steps.Outcome, bool, error) {
	bo := e.newBackOff()

	for attempt := 0; ; attempt++ {
		running, err := e.stillRunning(ctx, run)
		if err != nil || !running {
			return steps.Outcome{}, true, err
		}

		in, reason, err := e.checkpoint(ctx, run)
		if err != nil {
			return steps.Outcome{}, true, err
		}

		if reason != "" {
			return steps.Outcome{}, true, e.finish(ctx, run, models.RunStatusCancelled, reason)
		}

		if in.Step == nil {
			return steps.Fail(fmt.Errorf("step %q not found in workflow", run.CurrentStepID), false), false, nil
		}

		outcome, err := e.attempt(ctx, in, attempt)
		if err != nil {
			return steps.Outcome{}, true, err
		}

		if outcome.Kind != steps.OutcomeFail || !outcome.Retryable || attempt >= MaxRetries {
			return outcome, false, nil
		}

		wait := bo.NextBackOff()
		if wait == backoff.Stop {
			return outcome, false, nil
		}

		e.runLogger(run).WarnContext(ctx, "Retrying step",
			"step_id", in.Step.ID,
			"attempt", attempt+1,
			"backoff", wait,
			"error", outcome.Err,
		)

		err = e.sleep(ctx, wait)
		if err != nil {
			return steps.Outcome{}, true, err
		}
	}
}

// stillRunning re-reads the run so an attempt never starts after the run was
// ended elsewhere, for example by a user cancellation during retries.
func (e *Executor) stillRunning(ctx context.Context, run *models.WorkflowRun) (bool, error) {
	current, err := e.runs.GetByID(ctx, run.ID)
	if err != nil {
		return false, fmt.Errorf("failed to reload run: %w", err)
	}

	if current.Status != models.RunStatusRunning {
		e.runLogger(run).InfoContext(ctx, "Run ended concurrently, stopping", "status", current.Status)

		return false, nil
	}

	return true, nil
}

// stepInput is a handler input plus the error hit while loading the contact.
type stepInput struct {
	steps.Input

	contactErr error
}

// checkpoint reloads the workflow and the contact before a step attempt.
// A non-empty reason means the run must be cancelled.
func (e *Executor) checkpoint(ctx context.Context, run *models.WorkflowRun) (stepInput, string, error) {
	workflow, err := e.workflows.GetByID(ctx, run.WorkflowID)
	if err != nil {
		if persistence.IsWorkflowNotFound(err) {
			return stepInput{}, "workflow deleted", nil
		}

		return stepInput{}, "", fmt.Errorf("failed to load workflow: %w", err)
	}

	if !workflow.IsActive {
		return stepInput{}, "workflow deactivated", nil
	}

	in := stepInput{Input: steps.Input{Workflow: workflow, Run: run, Step: workflow.StepByID(run.CurrentStepID)}}

	contact, err := e.contacts.GetContact(ctx, run.OrganizationID, run.ContactID)

	switch {
	case errors.Is(err, crm.ErrNotFound):
		return stepInput{}, "contact not found", nil
	case err != nil:
		in.contactErr = err
	case contact.Deleted:
		return stepInput{}, "contact deleted", nil
	default:
		in.Contact = contact
	}

	return in, "", nil
}

// attempt records and performs one try of a step.
func (e *Executor) attempt(ctx context.Context, in stepInput, retryCount int) (steps.Outcome, error) {
	step := in.Step

	stepLog := &models.StepLog{
		ID:         uuid.NewString(),
		RunID:      in.Run.ID,
		StepID:     step.ID,
		StepType:   step.Type,
		Status:     models.StepLogRunning,
		StartedAt:  e.now(),
		RetryCount: retryCount,
	}

	err := e.stepLogs.Append(ctx, stepLog)
	if err != nil {
		return steps.Outcome{}, fmt.Errorf("failed to append step log: %w", err)
	}

	ctx, span := otelhelper.StartSpan(ctx, e.tracer, "step."+string(step.Type),
		attribute.String(otelhelper.WorkflowIDKey, in.Workflow.ID),
		attribute.String(otelhelper.RunIDKey, in.Run.ID),
		attribute.String(otelhelper.StepIDKey, step.ID),
		attribute.String(otelhelper.StepTypeKey, string(step.Type)),
		attribute.String(otelhelper.ContactIDKey, in.Run.ContactID),
		attribute.Int(otelhelper.RetryCountKey, retryCount),
	)
	defer span.End()

	outcome := e.dispatch(ctx, in)

	now := e.now()
	stepLog.Result = outcome.Result

	switch outcome.Kind {
	case steps.OutcomeAdvance:
		stepLog.Status = models.StepLogCompleted
		stepLog.CompletedAt = &now
	case steps.OutcomeWait:
		resumeAt := outcome.ResumeAt
		stepLog.Status = models.StepLogWaiting
		stepLog.ResumeAt = &resumeAt
	case steps.OutcomeFail:
		stepLog.Status = models.StepLogFailed
		stepLog.CompletedAt = &now
		stepLog.Error = outcome.Err.Error()

		otelhelper.SetStepFailure(span, outcome.Err, outcome.Retryable)
	}

	err = e.stepLogs.Update(ctx, stepLog)
	if err != nil {
		return steps.Outcome{}, fmt.Errorf("failed to update step log: %w", err)
	}

	return outcome, nil
}

func (e *Executor) dispatch(ctx context.Context, in stepInput) steps.Outcome {
	if in.contactErr != nil {
		return steps.Fail(fmt.Errorf("failed to load contact: %w", in.contactErr), crm.IsRetryable(in.contactErr))
	}

	handler, err := e.handlers.For(in.Step.Type)
	if err != nil {
		return steps.Fail(err, false)
	}

	outcome := handler.Execute(ctx, in.Input)
	if outcome.Kind == steps.OutcomeFail && outcome.Err == nil {
		outcome.Err = errors.New("step failed")
	}

	return outcome
}

// advance moves the cursor. It reports false when the run was ended concurrently.
func (e *Executor) advance(ctx context.Context, run *models.WorkflowRun, nextStepID string) (bool, error) {
	run.CurrentStepID = nextStepID
	run.UpdatedAt = e.now()

	swapped, err := e.runs.CompareAndSwap(ctx, run, models.RunStatusRunning)
	if err != nil {
		return false, fmt.Errorf("failed to advance run: %w", err)
	}

	if !swapped {
		e.runLogger(run).InfoContext(ctx, "Run ended concurrently, stopping")
	}

	return swapped, nil
}

// finish moves a running run into a terminal status.
func (e *Executor) finish(ctx context.Context, run *models.WorkflowRun, status models.RunStatus, message string) error {
	run.Finish(status, e.now(), message)

	swapped, err := e.runs.CompareAndSwap(ctx, run, models.RunStatusRunning)
	if err != nil {
		return fmt.Errorf("failed to finish run: %w", err)
	}

	if !swapped {
		return nil
	}

	logger := e.runLogger(run)

	switch status {
	case models.RunStatusFailed:
		logger.WarnContext(ctx, "Run failed", "error", message)
	case models.RunStatusCancelled:
		logger.InfoContext(ctx, "Run cancelled", "reason", message)
	default:
		logger.InfoContext(ctx, "Run completed")
	}

	e.publish(ctx, run)

	return nil
}

func (e *Executor) publish(ctx context.Context, run *models.WorkflowRun) {
	if e.publisher == nil {
		return
	}

	event := events.ForRunStatus(run)
	if event == nil {
		return
	}

	err := e.publisher.Publish(ctx, run.ID, event)
	if err != nil {
		e.runLogger(run).ErrorContext(ctx, "Failed to publish run event", "event_type", event.GetType(), "error", err)
	}
}

func (e *Executor) sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}

	timer := e.clock.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C():
		return nil
	}
}

func (e *Executor) now() time.Time {
	return e.clock.Now().UTC()
}

func (e *Executor) runLogger(run *models.WorkflowRun) *slog.Logger {
	return e.logger.With("run_id", run.ID, "workflow_id", run.WorkflowID, "contact_id", run.ContactID)
}
