// Package eventbus provides the in-process and brokered publish/subscribe bus
// that connects event ingress, the automation engine and lifecycle consumers.
package eventbus

import (
	"context"

	"github.com/pipeflow/automation/pkg/events"
)

// Event is anything published on the bus. The type selects the handler on
// the consuming side.
type Event interface {
	GetType() events.EventType
}

type EventPublisher interface {
	// Publish sends event keyed by key. Events sharing a key keep their order
	// on partitioned transports; ingress keys by contact id.
	Publish(ctx context.Context, key string, event Event) error
}

// EventSubscriber dispatches consumed events to at most one handler per type.
// Messages without a registered handler are acknowledged and dropped.
type EventSubscriber interface {
	Handle(eventType events.EventType, handler EventHandler) error
	Subscribe(ctx context.Context) error
}

// EventHandler receives a pointer to the decoded event. A non-nil error
// requests redelivery.
type EventHandler func(ctx context.Context, event any) error

type EventBus interface {
	EventPublisher
	EventSubscriber
	Close() error
	GenerateID() string
}
