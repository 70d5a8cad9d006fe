package steps

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/pipeflow/automation/pkg/crm"
	"github.com/pipeflow/automation/pkg/notify"
	"github.com/pipeflow/automation/pkg/template"
)

// SendEmailConfig names a stored template, inline content, or both. Inline
// subject and body override the template's.
type SendEmailConfig struct {
	TemplateID string `json:"template_id,omitempty"`
	Subject    string `json:"subject,omitempty"     validate:"required_without=TemplateID"`
	Body       string `json:"body,omitempty"        validate:"required_without=TemplateID"`
	To         string `json:"to,omitempty"`
	From       string `json:"from,omitempty"`
}

type sendEmail struct {
	*configDecoder
	notifier  notify.Notifier
	templates crm.TemplateSource
	from      string
}

// resolve fills subject and body from the configured template.
func (h *sendEmail) resolve(ctx context.Context, organizationID string, config *SendEmailConfig) (bool, error) {
	if config.TemplateID == "" || (config.Subject != "" && config.Body != "") {
		return false, nil
	}

	if h.templates == nil {
		return false, fmt.Errorf("email template %s requested but no template source is configured", config.TemplateID)
	}

	tmpl, err := h.templates.GetEmailTemplate(ctx, organizationID, config.TemplateID)
	if err != nil {
		return crm.IsRetryable(err), err
	}

	if config.Subject == "" {
		config.Subject = tmpl.Subject
	}

	if config.Body == "" {
		config.Body = tmpl.Body
	}

	if config.Subject == "" || config.Body == "" {
		return false, fmt.Errorf("email template %s has no subject or body", config.TemplateID)
	}

	return false, nil
}

func (h *sendEmail) Execute(ctx context.Context, in Input) Outcome {
	var config SendEmailConfig

	err := h.decode(in.Step.Config, &config)
	if err != nil {
		return Fail(err, false)
	}

	retryable, err := h.resolve(ctx, in.Run.OrganizationID, &config)
	if err != nil {
		return Fail(err, retryable)
	}

	data := in.TemplateData()

	to := in.Contact.Email
	if config.To != "" {
		to, err = template.RenderString(config.To, data)
		if err != nil {
			return Fail(fmt.Errorf("failed to render recipient: %w", err), false)
		}
	}

	to = strings.TrimSpace(to)
	if to == "" {
		return Fail(errors.New("contact has no email address"), false)
	}

	subject, err := template.RenderString(config.Subject, data)
	if err != nil {
		return Fail(fmt.Errorf("failed to render subject: %w", err), false)
	}

	body, err := template.RenderHTML(config.Body, data)
	if err != nil {
		return Fail(fmt.Errorf("failed to render body: %w", err), false)
	}

	from := config.From
	if from == "" {
		from = h.from
	}

	tag := config.TemplateID
	if tag == "" {
		tag = in.Workflow.ID
	}

	err = h.notifier.Send(ctx, &notify.Message{
		From:     from,
		To:       to,
		Subject:  subject,
		HTMLBody: body,
		Tag:      tag,
	})
	if err != nil {
		return Fail(err, errors.Is(err, notify.ErrTransient))
	}

	return Advance(in.Step.NextStepID, map[string]any{
		"to":      to,
		"subject": subject,
	})
}
