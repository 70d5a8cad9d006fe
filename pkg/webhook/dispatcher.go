// Package webhook performs outbound HTTP deliveries for webhook steps and for
// the endpoint test action. Deliveries are single-shot; retry policy belongs
// to the caller.
package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"slices"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

const (
	DefaultTimeout = 10 * time.Second
	MaxTimeout     = 30 * time.Second

	maxResponseBody = 64 << 10
	userAgent       = "pipeflow-webhooks/1.0"
)

var allowedMethods = []string{
	http.MethodGet,
	http.MethodPost,
	http.MethodPut,
	http.MethodPatch,
	http.MethodDelete,
}

// Request is one outbound call. Payload is sent as is when it is a string or
// a byte slice and JSON-encoded otherwise.
type Request struct {
	URL     string            `json:"url"               validate:"required,url"`
	Method  string            `json:"method,omitempty"`
	Headers map[string]string `json:"headers,omitempty"`
	Payload any               `json:"payload,omitempty"`
	Timeout time.Duration     `json:"-"`
}

// Response is what the endpoint answered.
type Response struct {
	StatusCode int         `json:"status_code"`
	Body       string      `json:"body"`
	Headers    http.Header `json:"headers,omitempty"`
}

// TestResult is the outcome of the endpoint test action.
type TestResult struct {
	Success    bool   `json:"success"`
	StatusCode int    `json:"statusCode,omitempty"`
	Error      string `json:"error,omitempty"`
}

type Dispatcher struct {
	client         *http.Client
	defaultTimeout time.Duration
	logger         *slog.Logger
}

type Option func(*Dispatcher)

// WithHTTPClient replaces the instrumented default client.
func WithHTTPClient(client *http.Client) Option {
	return func(d *Dispatcher) {
		d.client = client
	}
}

// WithDefaultTimeout sets the timeout used when a request carries none.
func WithDefaultTimeout(timeout time.Duration) Option {
	return func(d *Dispatcher) {
		if timeout > 0 {
			d.defaultTimeout = min(timeout, MaxTimeout)
		}
	}
}

func NewDispatcher(logger *slog.Logger, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		client:         &http.Client{Transport: otelhttp.NewTransport(http.DefaultTransport)},
		defaultTimeout: DefaultTimeout,
		logger:         logger.With("module", "webhook"),
	}

	for _, opt := range opts {
		opt(d)
	}

	return d
}

// Deliver performs the call. On a non-2xx answer both the response and a
// *DeliveryError are returned.
func (d *Dispatcher) Deliver(ctx context.Context, req Request) (*Response, error) {
	method := strings.ToUpper(strings.TrimSpace(req.Method))
	if method == "" {
		method = http.MethodPost
	}

	if !slices.Contains(allowedMethods, method) {
		return nil, permanent(req.URL, 0, "", fmt.Errorf("unsupported method %q", req.Method))
	}

	err := validateURL(req.URL)
	if err != nil {
		return nil, permanent(req.URL, 0, "", err)
	}

	body, err := encodePayload(req.Payload)
	if err != nil {
		return nil, permanent(req.URL, 0, "", err)
	}

	timeout := req.Timeout
	if timeout <= 0 {
		timeout = d.defaultTimeout
	}

	timeout = min(timeout, MaxTimeout)

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, req.URL, reader)
	if err != nil {
		return nil, permanent(req.URL, 0, "", fmt.Errorf("failed to create request: %w", err))
	}

	httpReq.Header.Set("User-Agent", userAgent)

	for key, value := range req.Headers {
		httpReq.Header.Set(key, value)
	}

	if body != nil && httpReq.Header.Get("Content-Type") == "" {
		httpReq.Header.Set("Content-Type", "application/json")
	}

	started := time.Now()

	httpResp, err := d.client.Do(httpReq)
	if err != nil {
		d.logger.WarnContext(ctx, "webhook delivery failed", "url", req.URL, "method", method, "error", err)

		return nil, transient(req.URL, 0, "", fmt.Errorf("request failed: %w", err))
	}

	defer func() {
		_ = httpResp.Body.Close()
	}()

	respBody, err := io.ReadAll(io.LimitReader(httpResp.Body, maxResponseBody))
	if err != nil {
		return nil, transient(req.URL, 0, "", fmt.Errorf("failed to read response: %w", err))
	}

	resp := &Response{
		StatusCode: httpResp.StatusCode,
		Body:       string(respBody),
		Headers:    httpResp.Header,
	}

	d.logger.DebugContext(ctx, "webhook delivered",
		"url", req.URL,
		"method", method,
		"status", resp.StatusCode,
		"duration", time.Since(started),
	)

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return resp, nil
	case resp.StatusCode >= 500,
		resp.StatusCode == http.StatusTooManyRequests,
		resp.StatusCode == http.StatusRequestTimeout:
		return resp, transient(req.URL, resp.StatusCode, resp.Body, nil)
	default:
		return resp, permanent(req.URL, resp.StatusCode, resp.Body, nil)
	}
}

// Test performs a single delivery and summarizes it for the caller.
func (d *Dispatcher) Test(ctx context.Context, req Request) TestResult {
	resp, err := d.Deliver(ctx, req)
	if err != nil {
		result := TestResult{Success: false, Error: err.Error()}

		var deliveryErr *DeliveryError
		if errors.As(err, &deliveryErr) {
			result.StatusCode = deliveryErr.StatusCode
		}

		return result
	}

	return TestResult{Success: true, StatusCode: resp.StatusCode}
}

func validateURL(raw string) error {
	parsed, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid url: %w", err)
	}

	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return fmt.Errorf("unsupported url scheme %q", parsed.Scheme)
	}

	if parsed.Host == "" {
		return errors.New("url has no host")
	}

	return nil
}

func encodePayload(payload any) ([]byte, error) {
	switch value := payload.(type) {
	case nil:
		return nil, nil
	case string:
		return []byte(value), nil
	case []byte:
		return value, nil
	default:
		data, err := json.Marshal(value)
		if err != nil {
			return nil, fmt.Errorf("failed to encode payload: %w", err)
		}

		return data, nil
	}
}
