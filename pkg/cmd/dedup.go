package cmd

import (
	"context"
	"log/slog"
	"time"

	"github.com/pipeflow/automation/pkg/dedup"
)

// NewDedupGuard connects the Redis guard when redisURL is set.
func NewDedupGuard(ctx context.Context, logger *slog.Logger, redisURL string, ttl time.Duration) (dedup.Guard, error) {
	if redisURL == "" {
		logger.InfoContext(ctx, "No Redis configured, run deduplication relies on the repository only")

		return dedup.Nop{}, nil
	}

	return dedup.NewRedisGuard(ctx, logger, redisURL, ttl)
}
