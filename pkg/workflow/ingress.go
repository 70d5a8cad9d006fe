package workflow

import (
	"context"
	"log/slog"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/pipeflow/automation/pkg/eventbus"
	"github.com/pipeflow/automation/pkg/events"
	"github.com/pipeflow/automation/pkg/models"
	"k8s.io/utils/clock"
)

// Ingress accepts pipeline events from the CRUD layer and hands them to the
// bus. It never blocks the caller on automation and never fails it.
type Ingress struct {
	publisher eventbus.EventPublisher
	validate  *validator.Validate
	clock     clock.PassiveClock
	logger    *slog.Logger
}

func NewIngress(publisher eventbus.EventPublisher, clk clock.PassiveClock, logger *slog.Logger) *Ingress {
	return &Ingress{
		publisher: publisher,
		validate:  validator.New(validator.WithRequiredStructEnabled()),
		clock:     clk,
		logger:    logger.With("module", "ingress"),
	}
}

// Emit normalizes and publishes the event and returns its id. Invalid
// events and publish failures are logged and dropped.
func (i *Ingress) Emit(ctx context.Context, event models.Event) string {
	if event.ID == "" {
		event.ID = uuid.NewString()
	}

	if event.SourceID == "" {
		event.SourceID = event.ID
	}

	if event.OccurredAt.IsZero() {
		event.OccurredAt = i.clock.Now().UTC()
	}

	logger := i.logger.With("event_id", event.ID, "event_type", event.Type, "contact_id", event.ContactID)

	err := i.validate.Struct(event)
	if err != nil {
		logger.WarnContext(ctx, "Dropping invalid pipeline event", "error", err)

		return event.ID
	}

	occurred := events.PipelineEventOccurred{
		BaseEvent: events.NewBaseEvent(events.PipelineEventOccurredEvent, event.OrganizationID),
		Event:     event,
	}

	err = i.publisher.Publish(ctx, event.ContactID, occurred)
	if err != nil {
		logger.ErrorContext(ctx, "Failed to publish pipeline event", "error", err)

		return event.ID
	}

	logger.DebugContext(ctx, "Pipeline event published")

	return event.ID
}
