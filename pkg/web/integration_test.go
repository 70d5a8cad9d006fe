//go:build integration

package web

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"testing"
	"time"

	_ "github.com/lib/pq"
	"github.com/pipeflow/automation/pkg/models"
	"github.com/pipeflow/automation/pkg/persistence/postgresql"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
	clocktesting "k8s.io/utils/clock/testing"
)

func setupTestDB(t *testing.T) string {
	t.Helper()

	ctx := context.Background()

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "postgres:16-alpine",
			ExposedPorts: []string{"5432/tcp"},
			Env: map[string]string{
				"POSTGRES_DB":       "pipeflow_test",
				"POSTGRES_USER":     "pipeflow",
				"POSTGRES_PASSWORD": "pipeflow",
			},
			WaitingFor: wait.ForLog("database system is ready to accept connections").WithOccurrence(2),
		},
		Started: true,
	})
	require.NoError(t, err)

	t.Cleanup(func() {
		_ = container.Terminate(ctx)
	})

	host, err := container.Host(ctx)
	require.NoError(t, err)

	port, err := container.MappedPort(ctx, "5432")
	require.NoError(t, err)

	return fmt.Sprintf("postgres://pipeflow:pipeflow@%s:%s/pipeflow_test?sslmode=disable", host, port.Port())
}

func TestIntegration_WorkflowAndRunsOnPostgres(t *testing.T) {
	dbURL := setupTestDB(t)
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))

	p, err := postgresql.NewPersistence(t.Context(), logger, dbURL)
	require.NoError(t, err)

	defer func() {
		_ = p.Close(context.Background())
	}()

	a := newTestApp(p, clocktesting.NewFakeClock(time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)), logger)
	workflow := createWorkflow(t, a, "org-1")

	resp, body := a.do(t, http.MethodGet, "/workflows/"+workflow.ID, "org-1", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))

	var fetched models.Workflow
	require.NoError(t, json.Unmarshal(body, &fetched))
	assert.Equal(t, workflow.Name, fetched.Name)
	require.Len(t, fetched.Steps, 1)
	assert.Equal(t, "https://example.com/hooks/vip", fetched.Steps[0].Config["url"])

	resp, _ = a.do(t, http.MethodGet, "/workflows/"+workflow.ID, "org-2", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	_, _, err = p.RunRepository().CreateIfAbsent(t.Context(), &models.WorkflowRun{
		ID:             "7d1c3a3e-4b0a-4a49-9d0a-0b5e7f1d2c3b",
		WorkflowID:     workflow.ID,
		OrganizationID: "org-1",
		ContactID:      "c-1",
		DedupKey:       "tag_added:op-1",
		Status:         models.RunStatusWaiting,
		CurrentStepID:  "notify",
		StartedAt:      time.Now().UTC(),
	})
	require.NoError(t, err)

	resp, _ = a.do(t, http.MethodDelete, "/workflows/"+workflow.ID, "org-1", nil)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	resp, body = a.do(t, http.MethodPost, "/workflows/"+workflow.ID+"/deactivate", "org-1", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))

	resp, body = a.do(t, http.MethodGet, "/workflows/"+workflow.ID+"/runs", "org-1", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), `"status":"cancelled"`)

	resp, _ = a.do(t, http.MethodDelete, "/workflows/"+workflow.ID, "org-1", nil)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
}
