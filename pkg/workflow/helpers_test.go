package workflow

import (
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/pipeflow/automation/pkg/crm"
	"github.com/pipeflow/automation/pkg/dedup"
	"github.com/pipeflow/automation/pkg/eventbus"
	"github.com/pipeflow/automation/pkg/events"
	"github.com/pipeflow/automation/pkg/models"
	"github.com/pipeflow/automation/pkg/notify"
	"github.com/pipeflow/automation/pkg/persistence"
	"github.com/pipeflow/automation/pkg/persistence/file"
	"github.com/pipeflow/automation/pkg/steps"
	"github.com/pipeflow/automation/pkg/webhook"
	"github.com/stretchr/testify/require"
	clocktesting "k8s.io/utils/clock/testing"
)

var epoch = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

const sweepInterval = time.Minute

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
}

type recordingNotifier struct {
	mu       sync.Mutex
	messages []*notify.Message
}

func (n *recordingNotifier) Send(_ context.Context, msg *notify.Message) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	n.messages = append(n.messages, msg)

	return nil
}

func (n *recordingNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()

	return len(n.messages)
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []eventbus.Event
	err    error
}

func (p *recordingPublisher) Publish(_ context.Context, _ string, event eventbus.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.err != nil {
		return p.err
	}

	p.events = append(p.events, event)

	return nil
}

func (p *recordingPublisher) types() []events.EventType {
	p.mu.Lock()
	defer p.mu.Unlock()

	types := make([]events.EventType, 0, len(p.events))
	for _, event := range p.events {
		types = append(types, event.GetType())
	}

	return types
}

// harness wires the engine against file persistence, an in-memory CRM and a fake clock.
type harness struct {
	persistence *file.Persistence
	crm         *crm.MemoryClient
	clock       *clocktesting.FakeClock
	notifier    *recordingNotifier
	publisher   *recordingPublisher

	executor  *Executor
	scheduler *Scheduler
	matcher   *Matcher
	sweeper   *Sweeper
	engine    *Engine
}

func newHarness(t *testing.T, opts ...ExecutorOption) *harness {
	t.Helper()

	h := &harness{
		persistence: file.NewPersistence(t.TempDir()),
		crm:         crm.NewMemoryClient(),
		clock:       clocktesting.NewFakeClock(epoch),
		notifier:    &recordingNotifier{},
		publisher:   &recordingPublisher{},
	}

	h.crm.Put(&models.Contact{
		ID:             "c-1",
		OrganizationID: "org-1",
		PipelineID:     "pipe-1",
		StageID:        "lead",
		Email:          "ada@example.com",
		FirstName:      "Ada",
		Fields:         map[string]any{"score": 80},
	})

	handlers := steps.NewHandlers(steps.Dependencies{
		CRM:       h.crm,
		Notifier:  h.notifier,
		Webhooks:  webhook.NewDispatcher(testLogger()),
		Clock:     h.clock,
		EmailFrom: "sales@example.com",
	})

	opts = append([]ExecutorOption{
		WithPublisher(h.publisher),
		WithBackOff(func() backoff.BackOff { return &backoff.ZeroBackOff{} }),
	}, opts...)

	h.executor = NewExecutor(h.persistence, h.crm, handlers, h.clock, testLogger(), opts...)
	h.scheduler = NewScheduler(h.persistence.RunRepository(), dedup.Nop{}, h.executor, h.clock, testLogger())
	h.matcher = NewMatcher(h.persistence.WorkflowRepository(), testLogger())
	h.sweeper = NewSweeper(h.persistence.RunRepository(), h.executor, h.clock, testLogger(), WithSweepInterval(sweepInterval))
	h.engine = NewEngine(h.matcher, h.scheduler, testLogger(), 4)

	return h
}

func (h *harness) save(t *testing.T, workflow *models.Workflow) *models.Workflow {
	t.Helper()

	require.NoError(t, h.persistence.WorkflowRepository().Save(t.Context(), workflow))

	return workflow
}

func (h *harness) runs(t *testing.T, workflowID string) []*models.WorkflowRun {
	t.Helper()

	runs, err := h.persistence.RunRepository().List(t.Context(), persistence.ListRunsOptions{WorkflowID: workflowID})
	require.NoError(t, err)

	return runs
}

func (h *harness) run(t *testing.T, runID string) *models.WorkflowRun {
	t.Helper()

	run, err := h.persistence.RunRepository().GetByID(t.Context(), runID)
	require.NoError(t, err)

	return run
}

func (h *harness) logs(t *testing.T, runID string) []*models.StepLog {
	t.Helper()

	logs, err := h.persistence.StepLogRepository().ListByRun(t.Context(), runID)
	require.NoError(t, err)

	return logs
}

func (h *harness) contact(t *testing.T) *models.Contact {
	t.Helper()

	contact, err := h.crm.GetContact(t.Context(), "org-1", "c-1")
	require.NoError(t, err)

	return contact
}

func newWorkflow(id string, trigger models.TriggerType, filter *models.TriggerFilter, workflowSteps ...*models.Step) *models.Workflow {
	for i, step := range workflowSteps {
		step.Position = i
	}

	return &models.Workflow{
		ID:             id,
		OrganizationID: "org-1",
		PipelineID:     "pipe-1",
		Name:           id,
		TriggerType:    trigger,
		TriggerFilter:  filter,
		IsActive:       true,
		Steps:          workflowSteps,
	}
}

func eqFilter(field string, value any) *models.TriggerFilter {
	return &models.TriggerFilter{Conditions: []models.FilterCondition{{Field: field, Operator: models.FilterEq, Value: value}}}
}

func tagStep(id, tag, next string) *models.Step {
	return &models.Step{ID: id, Type: models.StepAddTag, Config: map[string]any{"tag": tag}, NextStepID: next}
}

func newEvent(trigger models.TriggerType, sourceID string, data map[string]any) *models.Event {
	return &models.Event{
		ID:             "evt-" + sourceID,
		Type:           trigger,
		OrganizationID: "org-1",
		PipelineID:     "pipe-1",
		ContactID:      "c-1",
		SourceID:       sourceID,
		Data:           data,
		OccurredAt:     epoch,
	}
}

// hookServer answers with the queued statuses, then with status, and
// counts the calls.
type hookServer struct {
	*httptest.Server

	mu       sync.Mutex
	calls    int
	status   int
	statuses []int
	onCall   func()
}

func newHookServer(t *testing.T, status int) *hookServer {
	t.Helper()

	s := &hookServer{status: status}
	s.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		s.mu.Lock()
		s.calls++
		onCall := s.onCall

		status := s.status
		if len(s.statuses) > 0 {
			status, s.statuses = s.statuses[0], s.statuses[1:]
		}
		s.mu.Unlock()

		if onCall != nil {
			onCall()
		}

		w.WriteHeader(status)
	}))
	t.Cleanup(s.Close)

	return s
}

func (s *hookServer) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.calls
}

func (s *hookServer) queue(statuses ...int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.statuses = append(s.statuses, statuses...)
}

func (s *hookServer) setOnCall(onCall func()) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.onCall = onCall
}
