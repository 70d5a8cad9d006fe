package cmd

import (
	"log/slog"
	"os"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/pipeflow/automation/pkg/crm"
	"github.com/pipeflow/automation/pkg/dedup"
	"github.com/pipeflow/automation/pkg/models"
	"github.com/pipeflow/automation/pkg/notify"
	"github.com/pipeflow/automation/pkg/persistence"
	"github.com/pipeflow/automation/pkg/persistence/file"
	"github.com/pipeflow/automation/pkg/workflow"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"k8s.io/utils/clock"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
}

func TestNewPersistence(t *testing.T) {
	p, err := NewPersistence(t.Context(), testLogger(), "file://"+t.TempDir())
	require.NoError(t, err)
	assert.IsType(t, &file.Persistence{}, p)

	_, err = NewPersistence(t.Context(), testLogger(), "mysql://localhost/db")
	require.Error(t, err)

	_, err = NewPersistence(t.Context(), testLogger(), "no-scheme")
	require.Error(t, err)
}

func TestParsePersistenceProvider(t *testing.T) {
	assert.Equal(t, "postgres", parsePersistenceProvider("postgres://u:p@localhost/db"))
	assert.Equal(t, "postgres", parsePersistenceProvider("postgresql://localhost/db"))
	assert.Equal(t, "file", parsePersistenceProvider("file:///tmp/data"))
	assert.Empty(t, parsePersistenceProvider("redis://localhost"))
}

func TestNewEventBus(t *testing.T) {
	bus, err := NewEventBus(EventBusGoChannel, "", "pipeflow-test", testLogger())
	require.NoError(t, err)
	require.NoError(t, bus.Close())

	_, err = NewEventBus(EventBusKafka, "", "pipeflow-test", testLogger())
	require.Error(t, err)

	_, err = NewEventBus("nats", "", "pipeflow-test", testLogger())
	require.Error(t, err)
}

func TestNewNotifier(t *testing.T) {
	tests := []struct {
		name    string
		config  NotifierConfig
		want    any
		wantErr bool
	}{
		{"default logs", NotifierConfig{}, &notify.LogNotifier{}, false},
		{"smtp", NotifierConfig{Provider: "smtp", SMTP: notify.SMTPConfig{Host: "localhost", Port: 1025}, From: "bot@example.com"}, &notify.SMTPNotifier{}, false},
		{"smtp without host", NotifierConfig{Provider: "smtp"}, nil, true},
		{"postmark", NotifierConfig{Provider: "postmark", PostmarkServerToken: "token", From: "bot@example.com"}, &notify.PostmarkNotifier{}, false},
		{"postmark without token", NotifierConfig{Provider: "postmark"}, nil, true},
		{"unknown", NotifierConfig{Provider: "carrier-pigeon"}, nil, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			notifier, err := NewNotifier(testLogger(), tt.config)
			if tt.wantErr {
				require.Error(t, err)

				return
			}

			require.NoError(t, err)
			assert.IsType(t, tt.want, notifier)
		})
	}
}

func TestNewDedupGuard(t *testing.T) {
	guard, err := NewDedupGuard(t.Context(), testLogger(), "", time.Hour)
	require.NoError(t, err)
	assert.Equal(t, dedup.Nop{}, guard)

	s := miniredis.RunT(t)

	guard, err = NewDedupGuard(t.Context(), testLogger(), "redis://"+s.Addr(), time.Hour)
	require.NoError(t, err)

	defer guard.Close()

	assert.IsType(t, &dedup.RedisGuard{}, guard)
}

func TestNewCRM(t *testing.T) {
	assert.IsType(t, &crm.MemoryClient{}, NewCRM(t.Context(), testLogger(), "", ""))
	assert.IsType(t, &crm.HTTPClient{}, NewCRM(t.Context(), testLogger(), "http://crm.local", "token"))
}

func TestAutomation_RunsWorkflowsFromTheBus(t *testing.T) {
	logger := testLogger()
	p := file.NewPersistence(t.TempDir())

	bus, err := NewEventBus(EventBusGoChannel, "", "pipeflow-test", logger)
	require.NoError(t, err)

	defer bus.Close()

	contacts := crm.NewMemoryClient()
	contacts.Put(&models.Contact{ID: "c-1", OrganizationID: "org-1", PipelineID: "pipe-1", Email: "ada@example.com"})

	require.NoError(t, p.WorkflowRepository().Save(t.Context(), &models.Workflow{
		ID:             "wf-1",
		OrganizationID: "org-1",
		PipelineID:     "pipe-1",
		Name:           "Tag new contacts",
		TriggerType:    models.TriggerContactCreated,
		IsActive:       true,
		Steps: []*models.Step{
			{ID: "tag", Type: models.StepAddTag, Position: 0, Config: map[string]any{"tag": "new"}},
		},
	}))

	automation := NewAutomation(logger, AutomationConfig{
		Persistence: p,
		Bus:         bus,
		CRM:         contacts,
		Notifier:    notify.NewLogNotifier(logger),
		Clock:       clock.RealClock{},
	})
	require.NoError(t, automation.Start(t.Context()))

	defer automation.Stop(t.Context())

	ingress := workflow.NewIngress(bus, clock.RealClock{}, logger)
	ingress.Emit(t.Context(), models.Event{
		Type:           models.TriggerContactCreated,
		OrganizationID: "org-1",
		PipelineID:     "pipe-1",
		ContactID:      "c-1",
	})

	assert.Eventually(t, func() bool {
		runs, err := p.RunRepository().List(t.Context(), persistence.ListRunsOptions{WorkflowID: "wf-1"})

		return err == nil && len(runs) == 1 && runs[0].Status == models.RunStatusCompleted
	}, 5*time.Second, 20*time.Millisecond)

	contact, err := contacts.GetContact(t.Context(), "org-1", "c-1")
	require.NoError(t, err)
	assert.True(t, contact.HasTag("new"))
}
