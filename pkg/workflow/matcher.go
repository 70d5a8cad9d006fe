// Package workflow is the automation engine: it matches pipeline events to
// workflows, schedules runs and drives them through their steps.
package workflow

import (
	"context"
	"log/slog"

	"github.com/pipeflow/automation/pkg/models"
	"github.com/pipeflow/automation/pkg/persistence"
)

// Matcher finds the active workflows an event triggers.
type Matcher struct {
	workflows persistence.WorkflowRepository
	logger    *slog.Logger
}

func NewMatcher(workflows persistence.WorkflowRepository, logger *slog.Logger) *Matcher {
	return &Matcher{
		workflows: workflows,
		logger:    logger.With("module", "matcher"),
	}
}

// Match returns the workflows whose trigger and filter accept the event.
// Lookup failures are logged and yield no matches.
func (m *Matcher) Match(ctx context.Context, event *models.Event) []*models.Workflow {
	candidates, err := m.workflows.FindActiveByTrigger(ctx, event.OrganizationID, event.PipelineID, event.Type)
	if err != nil {
		m.logger.ErrorContext(ctx, "Failed to load candidate workflows",
			"event_id", event.ID,
			"event_type", event.Type,
			"error", err,
		)

		return nil
	}

	matched := make([]*models.Workflow, 0, len(candidates))

	for _, workflow := range candidates {
		if workflow.Matches(event) {
			matched = append(matched, workflow)
		}
	}

	m.logger.DebugContext(ctx, "Matched event",
		"event_id", event.ID,
		"event_type", event.Type,
		"candidates", len(candidates),
		"matched", len(matched),
	)

	return matched
}
