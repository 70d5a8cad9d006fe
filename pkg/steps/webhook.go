package steps

import (
	"context"
	"fmt"
	"time"

	"github.com/pipeflow/automation/pkg/template"
	"github.com/pipeflow/automation/pkg/webhook"
	"k8s.io/utils/clock"
)

const maxRecordedBody = 2048

type WebhookConfig struct {
	URL            string            `json:"url"                       validate:"required"`
	Method         string            `json:"method,omitempty"          validate:"omitempty,oneof=GET POST PUT PATCH DELETE get post put patch delete"`
	Headers        map[string]string `json:"headers,omitempty"`
	Body           string            `json:"body,omitempty"`
	TimeoutSeconds int               `json:"timeout_seconds,omitempty" validate:"omitempty,min=1,max=30"`
}

type callWebhook struct {
	*configDecoder
	dispatcher Deliverer
	clock      clock.PassiveClock
}

func (h *callWebhook) Execute(ctx context.Context, in Input) Outcome {
	var config WebhookConfig

	err := h.decode(in.Step.Config, &config)
	if err != nil {
		return Fail(err, false)
	}

	data := in.TemplateData()

	url, err := template.RenderString(config.URL, data)
	if err != nil {
		return Fail(fmt.Errorf("failed to render url: %w", err), false)
	}

	headers := make(map[string]string, len(config.Headers))

	for key, value := range config.Headers {
		rendered, err := template.RenderString(value, data)
		if err != nil {
			return Fail(fmt.Errorf("failed to render header %s: %w", key, err), false)
		}

		headers[key] = rendered
	}

	var payload any

	if config.Body != "" {
		payload, err = template.RenderString(config.Body, data)
		if err != nil {
			return Fail(fmt.Errorf("failed to render body: %w", err), false)
		}
	} else {
		payload = map[string]any{
			"event":     data["event"],
			"contact":   data["contact"],
			"workflow":  data["workflow"],
			"timestamp": h.clock.Now().UTC().Format(time.RFC3339),
		}
	}

	resp, err := h.dispatcher.Deliver(ctx, webhook.Request{
		URL:     url,
		Method:  config.Method,
		Headers: headers,
		Payload: payload,
		Timeout: time.Duration(config.TimeoutSeconds) * time.Second,
	})
	if err != nil {
		return Fail(err, webhook.IsRetryable(err))
	}

	body := resp.Body
	if len(body) > maxRecordedBody {
		body = body[:maxRecordedBody]
	}

	return Advance(in.Step.NextStepID, map[string]any{
		"status_code": resp.StatusCode,
		"body":        body,
	})
}
