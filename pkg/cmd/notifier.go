package cmd

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/pipeflow/automation/pkg/notify"
)

type NotifierConfig struct {
	Provider string

	SMTP notify.SMTPConfig

	PostmarkServerToken  string
	PostmarkAccountToken string

	From string
}

// NewNotifier returns the email provider named by config.Provider. An empty
// provider only logs messages.
func NewNotifier(logger *slog.Logger, config NotifierConfig) (notify.Notifier, error) {
	switch config.Provider {
	case "smtp":
		if config.SMTP.Host == "" {
			return nil, errors.New("smtp provider requires a host")
		}

		if config.SMTP.From == "" {
			config.SMTP.From = config.From
		}

		return notify.NewSMTPNotifier(logger, config.SMTP), nil
	case "postmark":
		if config.PostmarkServerToken == "" {
			return nil, errors.New("postmark provider requires a server token")
		}

		return notify.NewPostmarkNotifier(logger, config.PostmarkServerToken, config.PostmarkAccountToken, config.From), nil
	case "log", "":
		return notify.NewLogNotifier(logger), nil
	default:
		return nil, fmt.Errorf("unsupported email provider %q", config.Provider)
	}
}
