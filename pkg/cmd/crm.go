package cmd

import (
	"context"
	"log/slog"

	"github.com/pipeflow/automation/pkg/crm"
)

// NewCRM returns the HTTP client of the CRUD layer, or an in-memory store
// when no endpoint is configured.
func NewCRM(ctx context.Context, logger *slog.Logger, baseURL, token string) crm.Client {
	if baseURL == "" {
		logger.WarnContext(ctx, "No CRM endpoint configured, using in-memory contacts")

		return crm.NewMemoryClient()
	}

	return crm.NewHTTPClient(logger, baseURL, token)
}
