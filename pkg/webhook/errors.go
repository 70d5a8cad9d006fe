package webhook

import (
	"errors"
	"fmt"
	"strings"
)

// maxErrorBody caps the response excerpt carried in error messages, which
// end up on runs and step logs.
const maxErrorBody = 512

var (
	// ErrTransient marks failures worth retrying: network errors, timeouts, 5xx and 429.
	ErrTransient = errors.New("transient webhook failure")

	// ErrPermanent marks failures that will not succeed on retry: 4xx and invalid requests.
	ErrPermanent = errors.New("permanent webhook failure")
)

// DeliveryError describes a failed delivery.
type DeliveryError struct {
	URL        string
	StatusCode int
	Body       string
	Err        error

	kind error
}

func (e *DeliveryError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("webhook %s answered %d: %s", e.URL, e.StatusCode, excerpt(e.Body))
	}

	return fmt.Sprintf("webhook %s: %v", e.URL, e.Err)
}

func (e *DeliveryError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.kind}
	}

	return []error{e.kind, e.Err}
}

func excerpt(body string) string {
	body = strings.TrimSpace(body)
	if len(body) <= maxErrorBody {
		return body
	}

	return strings.ToValidUTF8(body[:maxErrorBody], "") + "... (truncated)"
}

func transient(url string, statusCode int, body string, err error) *DeliveryError {
	return &DeliveryError{URL: url, StatusCode: statusCode, Body: body, Err: err, kind: ErrTransient}
}

func permanent(url string, statusCode int, body string, err error) *DeliveryError {
	return &DeliveryError{URL: url, StatusCode: statusCode, Body: body, Err: err, kind: ErrPermanent}
}

// IsRetryable reports whether err is a transient delivery failure.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrTransient)
}
