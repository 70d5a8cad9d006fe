package workflow

import (
	"context"
	"log/slog"

	"github.com/pipeflow/automation/pkg/eventbus"
	"github.com/pipeflow/automation/pkg/events"
	"github.com/pipeflow/automation/pkg/models"
	"golang.org/x/sync/errgroup"
)

const DefaultMaxConcurrentRuns = 16

// Engine consumes pipeline events from the bus and starts the runs they trigger.
type Engine struct {
	matcher   *Matcher
	scheduler *Scheduler
	logger    *slog.Logger

	maxConcurrentRuns int
}

func NewEngine(matcher *Matcher, scheduler *Scheduler, logger *slog.Logger, maxConcurrentRuns int) *Engine {
	if maxConcurrentRuns <= 0 {
		maxConcurrentRuns = DefaultMaxConcurrentRuns
	}

	return &Engine{
		matcher:           matcher,
		scheduler:         scheduler,
		logger:            logger.With("module", "engine"),
		maxConcurrentRuns: maxConcurrentRuns,
	}
}

// Register subscribes the engine to pipeline events on the bus.
func (e *Engine) Register(bus eventbus.EventSubscriber) error {
	return bus.Handle(events.PipelineEventOccurredEvent, e.handlePipelineEvent)
}

func (e *Engine) handlePipelineEvent(ctx context.Context, event any) error {
	occurred, ok := event.(*events.PipelineEventOccurred)
	if !ok {
		e.logger.ErrorContext(ctx, "Invalid event type for PipelineEventOccurred")

		return nil
	}

	e.HandleEvent(ctx, &occurred.Event)

	return nil
}

// HandleEvent schedules one run per matching workflow. Matched runs execute
// concurrently and independently; failures are logged.
func (e *Engine) HandleEvent(ctx context.Context, event *models.Event) []string {
	workflows := e.matcher.Match(ctx, event)
	if len(workflows) == 0 {
		return nil
	}

	runIDs := make([]string, len(workflows))

	g := new(errgroup.Group)
	g.SetLimit(e.maxConcurrentRuns)

	for i, workflow := range workflows {
		g.Go(func() error {
			runID, err := e.scheduler.Schedule(ctx, workflow, event)
			if err != nil {
				e.logger.ErrorContext(ctx, "Failed to run workflow",
					"workflow_id", workflow.ID,
					"event_id", event.ID,
					"error", err,
				)
			}

			runIDs[i] = runID

			return nil
		})
	}

	_ = g.Wait()

	return runIDs
}
