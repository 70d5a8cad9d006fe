package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/pipeflow/automation/pkg/persistence"
	"github.com/pipeflow/automation/pkg/persistence/file"
	"github.com/pipeflow/automation/pkg/persistence/postgresql"
)

// NewPersistence picks the store from the scheme of databaseURL:
// postgres:// or postgresql:// for PostgreSQL, file:// for JSON files.
func NewPersistence(ctx context.Context, logger *slog.Logger, databaseURL string) (persistence.Persistence, error) {
	switch parsePersistenceProvider(databaseURL) {
	case "postgres":
		p, err := postgresql.NewPersistence(ctx, logger, databaseURL)
		if err != nil {
			return nil, fmt.Errorf("failed to open postgres persistence: %w", err)
		}

		return p, nil
	case "file":
		return file.NewPersistence(strings.TrimPrefix(databaseURL, "file://")), nil
	default:
		return nil, fmt.Errorf("unsupported database url %q", databaseURL)
	}
}

func parsePersistenceProvider(databaseURL string) string {
	scheme, _, found := strings.Cut(databaseURL, "://")
	if !found {
		return ""
	}

	switch scheme {
	case "postgres", "postgresql":
		return "postgres"
	case "file":
		return "file"
	default:
		return ""
	}
}
