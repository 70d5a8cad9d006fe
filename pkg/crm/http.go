package crm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/pipeflow/automation/pkg/models"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

const defaultTimeout = 10 * time.Second

// HTTPClient talks to the CRUD layer's REST API.
type HTTPClient struct {
	baseURL string
	token   string
	client  *http.Client
	logger  *slog.Logger
}

func NewHTTPClient(logger *slog.Logger, baseURL, token string) *HTTPClient {
	return &HTTPClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		client: &http.Client{
			Timeout:   defaultTimeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		logger: logger.With("module", "crm"),
	}
}

func (c *HTTPClient) contactPath(organizationID, contactID string, parts ...string) string {
	segments := append([]string{
		"organizations", url.PathEscape(organizationID),
		"contacts", url.PathEscape(contactID),
	}, parts...)

	return c.baseURL + "/" + strings.Join(segments, "/")
}

func (c *HTTPClient) GetEmailTemplate(ctx context.Context, organizationID, templateID string) (*models.EmailTemplate, error) {
	endpoint := c.baseURL + "/organizations/" + url.PathEscape(organizationID) + "/email-templates/" + url.PathEscape(templateID)

	var tmpl models.EmailTemplate

	err := c.do(ctx, http.MethodGet, endpoint, nil, &tmpl)
	if err != nil {
		return nil, fmt.Errorf("failed to get email template %s: %w", templateID, err)
	}

	return &tmpl, nil
}

func (c *HTTPClient) GetContact(ctx context.Context, organizationID, contactID string) (*models.Contact, error) {
	var contact models.Contact

	err := c.do(ctx, http.MethodGet, c.contactPath(organizationID, contactID), nil, &contact)
	if err != nil {
		return nil, &Error{Op: "GetContact", ContactID: contactID, Err: err}
	}

	return &contact, nil
}

func (c *HTTPClient) MoveStage(ctx context.Context, organizationID, contactID, stageID string) error {
	err := c.do(ctx, http.MethodPut, c.contactPath(organizationID, contactID, "stage"), map[string]string{"stage_id": stageID}, nil)
	if err != nil {
		return &Error{Op: "MoveStage", ContactID: contactID, Err: err}
	}

	return nil
}

func (c *HTTPClient) AddTag(ctx context.Context, organizationID, contactID, tag string) error {
	err := c.do(ctx, http.MethodPost, c.contactPath(organizationID, contactID, "tags"), map[string]string{"tag": tag}, nil)
	if err != nil {
		return &Error{Op: "AddTag", ContactID: contactID, Err: err}
	}

	return nil
}

func (c *HTTPClient) RemoveTag(ctx context.Context, organizationID, contactID, tag string) error {
	err := c.do(ctx, http.MethodDelete, c.contactPath(organizationID, contactID, "tags", url.PathEscape(tag)), nil, nil)
	if err != nil {
		return &Error{Op: "RemoveTag", ContactID: contactID, Err: err}
	}

	return nil
}

func (c *HTTPClient) do(ctx context.Context, method, endpoint string, body any, out any) error {
	var reader io.Reader

	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}

		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Accept", "application/json")

	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		c.logger.WarnContext(ctx, "crm request failed", "method", method, "url", endpoint, "error", err)

		return fmt.Errorf("%w: %w", ErrUnavailable, err)
	}

	defer func() {
		_ = resp.Body.Close()
	}()

	payload, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("%w: failed to read response: %w", ErrUnavailable, err)
	}

	switch {
	case resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusGone:
		return fmt.Errorf("%w: %s", ErrNotFound, strings.TrimSpace(string(payload)))
	case resp.StatusCode == http.StatusConflict || resp.StatusCode == http.StatusUnprocessableEntity:
		return fmt.Errorf("%w: %s", ErrConstraint, strings.TrimSpace(string(payload)))
	case resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests:
		return fmt.Errorf("%w: status %d", ErrUnavailable, resp.StatusCode)
	case resp.StatusCode >= 400:
		return fmt.Errorf("%w: status %d: %s", ErrConstraint, resp.StatusCode, strings.TrimSpace(string(payload)))
	}

	if out != nil && len(payload) > 0 {
		err = json.Unmarshal(payload, out)
		if err != nil {
			return fmt.Errorf("failed to decode response: %w", err)
		}
	}

	return nil
}
