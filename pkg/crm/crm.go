// Package crm is the engine's view of the CRUD layer that owns contacts,
// stages, tags and email templates. Mutations go through the CRUD layer's own write path.
package crm

import (
	"context"
	"errors"
	"fmt"

	"github.com/pipeflow/automation/pkg/models"
)

var (
	// ErrNotFound means the contact, stage, tag or template no longer exists.
	ErrNotFound = errors.New("crm: not found")

	// ErrConstraint means the CRUD layer refused the mutation.
	ErrConstraint = errors.New("crm: constraint violation")

	// ErrUnavailable means the CRUD layer could not be reached; worth retrying.
	ErrUnavailable = errors.New("crm: unavailable")
)

// Error wraps a CRM failure with the operation that caused it.
type Error struct {
	Op        string
	ContactID string
	Err       error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s failed for contact %s: %v", e.Op, e.ContactID, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// IsRetryable reports whether the failure was a CRM outage.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrUnavailable)
}

// TemplateSource resolves email templates of an organization.
type TemplateSource interface {
	GetEmailTemplate(ctx context.Context, organizationID, templateID string) (*models.EmailTemplate, error)
}

type Client interface {
	TemplateSource

	GetContact(ctx context.Context, organizationID, contactID string) (*models.Contact, error)
	MoveStage(ctx context.Context, organizationID, contactID, stageID string) error
	AddTag(ctx context.Context, organizationID, contactID, tag string) error
	RemoveTag(ctx context.Context, organizationID, contactID, tag string) error
}
