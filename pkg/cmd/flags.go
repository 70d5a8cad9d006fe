package cmd

import (
	"github.com/pipeflow/automation/pkg/dedup"
	"github.com/pipeflow/automation/pkg/webhook"
	"github.com/pipeflow/automation/pkg/workflow"
	cli "github.com/urfave/cli/v3"
)

// CommonFlags are read by every binary.
func CommonFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:     "database-url",
			Usage:    "Database connection URL for persistence (file://path or postgres://...)",
			Required: true,
			Sources:  cli.EnvVars("DATABASE_URL"),
		},
		&cli.StringFlag{
			Name:    "event-bus",
			Usage:   "Event bus type (gochannel, kafka)",
			Value:   EventBusGoChannel,
			Sources: cli.EnvVars("EVENT_BUS_TYPE"),
		},
		&cli.StringFlag{
			Name:    "kafka-brokers",
			Usage:   "Comma separated Kafka brokers",
			Value:   "localhost:9092",
			Sources: cli.EnvVars("KAFKA_BROKERS"),
		},
		&cli.StringFlag{
			Name:    "log-level",
			Usage:   "Log level (debug, info, warn, error)",
			Value:   "info",
			Sources: cli.EnvVars("LOG_LEVEL"),
		},
		&cli.StringFlag{
			Name:    "log-format",
			Usage:   "Log format (text, json, tint)",
			Value:   "text",
			Sources: cli.EnvVars("LOG_FORMAT"),
		},
		&cli.BoolFlag{
			Name:    "otel-enabled",
			Usage:   "Export traces over OTLP/HTTP",
			Sources: cli.EnvVars("OTEL_ENABLED"),
		},
	}
}

// AutomationFlags configure the engine side: CRM, email, webhooks and sweeping.
func AutomationFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:    "redis-url",
			Usage:   "Redis URL of the run deduplication guard (optional)",
			Sources: cli.EnvVars("REDIS_URL"),
		},
		&cli.DurationFlag{
			Name:    "dedup-ttl",
			Usage:   "How long scheduled run keys are remembered in Redis",
			Value:   dedup.DefaultTTL,
			Sources: cli.EnvVars("DEDUP_TTL"),
		},
		&cli.StringFlag{
			Name:    "crm-url",
			Usage:   "Base URL of the CRM API (in-memory contacts when empty)",
			Sources: cli.EnvVars("CRM_API_URL"),
		},
		&cli.StringFlag{
			Name:    "crm-token",
			Usage:   "Bearer token for the CRM API",
			Sources: cli.EnvVars("CRM_API_TOKEN"),
		},
		&cli.StringFlag{
			Name:    "email-provider",
			Usage:   "Email provider (smtp, postmark, log)",
			Value:   "log",
			Sources: cli.EnvVars("EMAIL_PROVIDER"),
		},
		&cli.StringFlag{
			Name:    "email-from",
			Usage:   "Sender address of automated emails",
			Sources: cli.EnvVars("EMAIL_FROM"),
		},
		&cli.StringFlag{
			Name:    "smtp-host",
			Sources: cli.EnvVars("SMTP_HOST"),
		},
		&cli.IntFlag{
			Name:    "smtp-port",
			Value:   587,
			Sources: cli.EnvVars("SMTP_PORT"),
		},
		&cli.StringFlag{
			Name:    "smtp-user",
			Sources: cli.EnvVars("SMTP_USER"),
		},
		&cli.StringFlag{
			Name:    "smtp-password",
			Sources: cli.EnvVars("SMTP_PASSWORD"),
		},
		&cli.BoolFlag{
			Name:    "smtp-skip-tls-verify",
			Sources: cli.EnvVars("SMTP_SKIP_TLS_VERIFY"),
		},
		&cli.StringFlag{
			Name:    "postmark-server-token",
			Sources: cli.EnvVars("POSTMARK_SERVER_TOKEN"),
		},
		&cli.StringFlag{
			Name:    "postmark-account-token",
			Sources: cli.EnvVars("POSTMARK_ACCOUNT_TOKEN"),
		},
		&cli.DurationFlag{
			Name:    "sweep-interval",
			Usage:   "How often waiting runs are checked for resumption",
			Value:   workflow.DefaultSweepInterval,
			Sources: cli.EnvVars("SWEEP_INTERVAL"),
		},
		&cli.IntFlag{
			Name:    "max-concurrent-runs",
			Usage:   "Runs executed concurrently per event",
			Value:   workflow.DefaultMaxConcurrentRuns,
			Sources: cli.EnvVars("MAX_CONCURRENT_RUNS"),
		},
		&cli.DurationFlag{
			Name:    "webhook-timeout",
			Usage:   "Default timeout of webhook calls (capped at 30s)",
			Value:   webhook.DefaultTimeout,
			Sources: cli.EnvVars("WEBHOOK_TIMEOUT"),
		},
	}
}

// Flags concatenates flag groups.
func Flags(groups ...[]cli.Flag) []cli.Flag {
	var flags []cli.Flag
	for _, group := range groups {
		flags = append(flags, group...)
	}

	return flags
}

