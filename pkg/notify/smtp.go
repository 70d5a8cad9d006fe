package notify

import (
	"context"
	"crypto/tls"
	"errors"
	"log/slog"
	"net/textproto"

	"gopkg.in/gomail.v2"
)

type SMTPConfig struct {
	Host          string
	Port          int
	User          string
	Password      string
	From          string
	SkipTLSVerify bool
}

// SMTPNotifier sends through an SMTP relay.
type SMTPNotifier struct {
	config SMTPConfig
	dialer *gomail.Dialer
	logger *slog.Logger
}

func NewSMTPNotifier(logger *slog.Logger, config SMTPConfig) *SMTPNotifier {
	dialer := gomail.NewDialer(config.Host, config.Port, config.User, config.Password)
	if config.SkipTLSVerify {
		dialer.TLSConfig = &tls.Config{InsecureSkipVerify: true} //nolint:gosec
	}

	return &SMTPNotifier{
		config: config,
		dialer: dialer,
		logger: logger.With("module", "notify", "provider", "smtp"),
	}
}

func (n *SMTPNotifier) Send(ctx context.Context, msg *Message) error {
	if msg.From == "" {
		msg.From = n.config.From
	}

	err := msg.validate("smtp")
	if err != nil {
		return err
	}

	m := gomail.NewMessage()
	m.SetHeader("From", msg.From)
	m.SetHeader("To", msg.To)
	m.SetHeader("Subject", msg.Subject)

	if msg.Tag != "" {
		m.SetHeader("X-Pipeflow-Tag", msg.Tag)
	}

	m.SetBody("text/html", msg.HTMLBody)

	err = n.dialer.DialAndSend(m)
	if err != nil {
		n.logger.WarnContext(ctx, "smtp delivery failed", "to", msg.To, "error", err)

		return classifySMTPError(err)
	}

	n.logger.InfoContext(ctx, "email sent", "to", msg.To, "subject", msg.Subject)

	return nil
}

// classifySMTPError treats 5xx replies as permanent and everything else,
// including 4xx replies and network errors, as transient.
func classifySMTPError(err error) error {
	var protoErr *textproto.Error
	if errors.As(err, &protoErr) && protoErr.Code >= 500 {
		return permanent("smtp", err)
	}

	return transient("smtp", err)
}
