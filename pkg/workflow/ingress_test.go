package workflow

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/pipeflow/automation/pkg/channels/gochannel"
	"github.com/pipeflow/automation/pkg/eventbus"
	"github.com/pipeflow/automation/pkg/events"
	"github.com/pipeflow/automation/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	clocktesting "k8s.io/utils/clock/testing"
)

func TestIngress_NormalizesAndPublishes(t *testing.T) {
	publisher := &recordingPublisher{}
	ingress := NewIngress(publisher, clocktesting.NewFakeClock(epoch), testLogger())

	id := ingress.Emit(t.Context(), models.Event{
		Type:           models.TriggerFormSubmitted,
		OrganizationID: "org-1",
		PipelineID:     "pipe-1",
		ContactID:      "c-1",
		Data:           map[string]any{"form_id": "f-1"},
	})
	require.NotEmpty(t, id)
	require.Len(t, publisher.events, 1)

	occurred, ok := publisher.events[0].(events.PipelineEventOccurred)
	require.True(t, ok)
	assert.Equal(t, id, occurred.Event.ID)
	assert.Equal(t, id, occurred.Event.SourceID)
	assert.Equal(t, epoch, occurred.Event.OccurredAt)
	assert.Equal(t, "org-1", occurred.OrganizationID)
}

func TestIngress_DropsInvalidEventsAndSwallowsPublishErrors(t *testing.T) {
	publisher := &recordingPublisher{}
	ingress := NewIngress(publisher, clocktesting.NewFakeClock(epoch), testLogger())

	ingress.Emit(t.Context(), models.Event{Type: "deal_won", OrganizationID: "org-1", PipelineID: "pipe-1", ContactID: "c-1"})
	ingress.Emit(t.Context(), models.Event{Type: models.TriggerTagAdded, OrganizationID: "org-1"})
	assert.Empty(t, publisher.events)

	publisher.err = errors.New("broker down")

	assert.NotPanics(t, func() {
		ingress.Emit(t.Context(), *newEvent(models.TriggerTagAdded, "op-1", nil))
	})
}

func TestEngine_ConsumesEventsFromTheBus(t *testing.T) {
	h := newHarness(t)
	wf := h.save(t, newWorkflow("wf-vip", models.TriggerTagAdded, eqFilter("data.tag", "vip"), tagStep("tag", "priority", "")))

	pub, sub, err := gochannel.CreateChannel(watermill.NopLogger{})
	require.NoError(t, err)

	bus := eventbus.NewWatermillEventBus(pub, sub, testLogger())
	t.Cleanup(func() {
		_ = bus.Close()
	})

	require.NoError(t, h.engine.Register(bus))

	ctx, cancel := context.WithCancel(t.Context())
	defer cancel()

	require.NoError(t, bus.Subscribe(ctx))

	ingress := NewIngress(bus, h.clock, testLogger())
	ingress.Emit(ctx, *newEvent(models.TriggerTagAdded, "op-1", map[string]any{"tag": "vip"}))
	ingress.Emit(ctx, *newEvent(models.TriggerTagAdded, "op-1", map[string]any{"tag": "vip"}))

	require.Eventually(t, func() bool {
		contact, err := h.crm.GetContact(context.Background(), "org-1", "c-1")

		return err == nil && contact.HasTag("priority")
	}, 5*time.Second, 20*time.Millisecond)

	time.Sleep(100 * time.Millisecond)
	assert.Len(t, h.runs(t, wf.ID), 1)
}
