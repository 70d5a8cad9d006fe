package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/pipeflow/automation/pkg/eventbus"
	"github.com/pipeflow/automation/pkg/log"
	"github.com/pipeflow/automation/pkg/notify"
	"github.com/pipeflow/automation/pkg/otelhelper"
	"github.com/pipeflow/automation/pkg/persistence"
	cli "github.com/urfave/cli/v3"
	"go.opentelemetry.io/otel/trace"
	"k8s.io/utils/clock"
)

// Runtime holds the process-wide dependencies built from CommonFlags.
type Runtime struct {
	Logger      *slog.Logger
	Persistence persistence.Persistence
	Bus         eventbus.EventBus
	Tracer      trace.Tracer

	shutdownTracer otelhelper.ShutdownFunc
}

// NewRuntime sets up logging and opens persistence, the bus and the tracer.
func NewRuntime(ctx context.Context, command *cli.Command, serviceName string) (*Runtime, error) {
	log.Setup(command.String("log-level"), command.String("log-format"))

	logger := log.WithModule(serviceName)

	tracer, shutdown, err := otelhelper.NewTracer(ctx, serviceName, command.Bool("otel-enabled"))
	if err != nil {
		return nil, fmt.Errorf("failed to initialize tracer: %w", err)
	}

	p, err := NewPersistence(ctx, logger, command.String("database-url"))
	if err != nil {
		_ = shutdown(ctx)

		return nil, err
	}

	bus, err := NewEventBus(command.String("event-bus"), command.String("kafka-brokers"), serviceName, logger)
	if err != nil {
		_ = p.Close(ctx)
		_ = shutdown(ctx)

		return nil, err
	}

	return &Runtime{
		Logger:         logger,
		Persistence:    p,
		Bus:            bus,
		Tracer:         tracer,
		shutdownTracer: shutdown,
	}, nil
}

// NewAutomationFromFlags builds the engine from AutomationFlags.
func (r *Runtime) NewAutomationFromFlags(ctx context.Context, command *cli.Command) (*Automation, func() error, error) {
	guard, err := NewDedupGuard(ctx, r.Logger, command.String("redis-url"), command.Duration("dedup-ttl"))
	if err != nil {
		return nil, nil, err
	}

	notifier, err := NewNotifier(r.Logger, NotifierConfig{
		Provider: command.String("email-provider"),
		SMTP: notify.SMTPConfig{
			Host:          command.String("smtp-host"),
			Port:          command.Int("smtp-port"),
			User:          command.String("smtp-user"),
			Password:      command.String("smtp-password"),
			SkipTLSVerify: command.Bool("smtp-skip-tls-verify"),
		},
		PostmarkServerToken:  command.String("postmark-server-token"),
		PostmarkAccountToken: command.String("postmark-account-token"),
		From:                 command.String("email-from"),
	})
	if err != nil {
		_ = guard.Close()

		return nil, nil, err
	}

	automation := NewAutomation(r.Logger, AutomationConfig{
		Persistence:       r.Persistence,
		Bus:               r.Bus,
		Guard:             guard,
		CRM:               NewCRM(ctx, r.Logger, command.String("crm-url"), command.String("crm-token")),
		Notifier:          notifier,
		Tracer:            r.Tracer,
		Clock:             clock.RealClock{},
		EmailFrom:         command.String("email-from"),
		WebhookTimeout:    command.Duration("webhook-timeout"),
		SweepInterval:     command.Duration("sweep-interval"),
		MaxConcurrentRuns: command.Int("max-concurrent-runs"),
	})

	return automation, guard.Close, nil
}

// Close releases everything NewRuntime opened.
func (r *Runtime) Close(ctx context.Context) error {
	return errors.Join(
		r.Bus.Close(),
		r.Persistence.Close(ctx),
		r.shutdownTracer(ctx),
	)
}
