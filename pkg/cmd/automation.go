package cmd

import (
	"context"
	"log/slog"
	"time"

	"github.com/pipeflow/automation/pkg/crm"
	"github.com/pipeflow/automation/pkg/dedup"
	"github.com/pipeflow/automation/pkg/eventbus"
	"github.com/pipeflow/automation/pkg/notify"
	"github.com/pipeflow/automation/pkg/persistence"
	"github.com/pipeflow/automation/pkg/steps"
	"github.com/pipeflow/automation/pkg/webhook"
	"github.com/pipeflow/automation/pkg/workflow"
	"go.opentelemetry.io/otel/trace"
	"k8s.io/utils/clock"
)

type AutomationConfig struct {
	Persistence persistence.Persistence
	Bus         eventbus.EventBus
	Guard       dedup.Guard
	CRM         crm.Client
	Notifier    notify.Notifier
	Tracer      trace.Tracer
	Clock       clock.Clock

	EmailFrom         string
	WebhookTimeout    time.Duration
	SweepInterval     time.Duration
	MaxConcurrentRuns int
}

// Automation is the worker side of the engine: matcher, scheduler, executor
// and sweeper bound to one bus.
type Automation struct {
	Engine   *workflow.Engine
	Executor *workflow.Executor
	Sweeper  *workflow.Sweeper

	bus    eventbus.EventBus
	logger *slog.Logger
}

func NewAutomation(logger *slog.Logger, config AutomationConfig) *Automation {
	if config.Clock == nil {
		config.Clock = clock.RealClock{}
	}

	dispatcher := webhook.NewDispatcher(logger, webhook.WithDefaultTimeout(config.WebhookTimeout))

	handlers := steps.NewHandlers(steps.Dependencies{
		CRM:       config.CRM,
		Notifier:  config.Notifier,
		Webhooks:  dispatcher,
		Clock:     config.Clock,
		EmailFrom: config.EmailFrom,
	})

	opts := []workflow.ExecutorOption{workflow.WithPublisher(config.Bus)}
	if config.Tracer != nil {
		opts = append(opts, workflow.WithTracer(config.Tracer))
	}

	executor := workflow.NewExecutor(config.Persistence, config.CRM, handlers, config.Clock, logger, opts...)
	scheduler := workflow.NewScheduler(config.Persistence.RunRepository(), config.Guard, executor, config.Clock, logger)
	matcher := workflow.NewMatcher(config.Persistence.WorkflowRepository(), logger)

	var sweeperOpts []workflow.SweeperOption
	if config.SweepInterval > 0 {
		sweeperOpts = append(sweeperOpts, workflow.WithSweepInterval(config.SweepInterval))
	}

	return &Automation{
		Engine:   workflow.NewEngine(matcher, scheduler, logger, config.MaxConcurrentRuns),
		Executor: executor,
		Sweeper:  workflow.NewSweeper(config.Persistence.RunRepository(), executor, config.Clock, logger, sweeperOpts...),
		bus:      config.Bus,
		logger:   logger.With("module", "automation"),
	}
}

// Start subscribes the engine to the bus and starts the sweeper.
func (a *Automation) Start(ctx context.Context) error {
	err := a.Engine.Register(a.bus)
	if err != nil {
		return err
	}

	err = a.bus.Subscribe(ctx)
	if err != nil {
		return err
	}

	err = a.Sweeper.Start(ctx)
	if err != nil {
		return err
	}

	a.logger.InfoContext(ctx, "Automation engine started")

	return nil
}

func (a *Automation) Stop(ctx context.Context) {
	a.Sweeper.Stop()
	a.logger.InfoContext(ctx, "Automation engine stopped")
}
