// Package notify delivers the emails sent by send_email steps.
package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/mail"
)

var (
	// ErrTransient marks delivery failures worth retrying.
	ErrTransient = errors.New("transient delivery failure")

	// ErrPermanent marks delivery failures that will not succeed on retry.
	ErrPermanent = errors.New("permanent delivery failure")
)

// DeliveryError carries the provider error together with its classification.
type DeliveryError struct {
	Provider string
	Err      error

	kind error
}

func (e *DeliveryError) Error() string {
	return fmt.Sprintf("%s: %v", e.Provider, e.Err)
}

func (e *DeliveryError) Unwrap() []error {
	return []error{e.kind, e.Err}
}

func transient(provider string, err error) error {
	return &DeliveryError{Provider: provider, Err: err, kind: ErrTransient}
}

func permanent(provider string, err error) error {
	return &DeliveryError{Provider: provider, Err: err, kind: ErrPermanent}
}

// Message is a rendered email.
type Message struct {
	From     string
	To       string
	Subject  string
	HTMLBody string
	// Tag groups messages in provider dashboards, usually the workflow id.
	Tag string
}

func (m *Message) validate(provider string) error {
	if m.From == "" {
		return permanent(provider, errors.New("sender address not supplied"))
	}

	_, err := mail.ParseAddress(m.To)
	if err != nil {
		return permanent(provider, fmt.Errorf("invalid recipient %q: %w", m.To, err))
	}

	if m.Subject == "" {
		return permanent(provider, errors.New("subject not supplied"))
	}

	return nil
}

type Notifier interface {
	Send(ctx context.Context, msg *Message) error
}

// LogNotifier only logs messages. Used in development and when no provider
// is configured.
type LogNotifier struct {
	logger *slog.Logger
}

func NewLogNotifier(logger *slog.Logger) *LogNotifier {
	return &LogNotifier{logger: logger.With("module", "notify", "provider", "log")}
}

func (n *LogNotifier) Send(ctx context.Context, msg *Message) error {
	err := msg.validate("log")
	if err != nil {
		return err
	}

	n.logger.InfoContext(ctx, "email sent", "to", msg.To, "subject", msg.Subject, "tag", msg.Tag)

	return nil
}
