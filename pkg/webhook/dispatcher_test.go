package webhook

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
}

func TestDeliver_PostsJSONPayload(t *testing.T) {
	var (
		gotMethod string
		gotHeader string
		gotType   string
		gotBody   map[string]any
	)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod = r.Method
		gotHeader = r.Header.Get("X-Signature")
		gotType = r.Header.Get("Content-Type")

		data, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(data, &gotBody)

		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	defer server.Close()

	dispatcher := NewDispatcher(testLogger())

	resp, err := dispatcher.Deliver(t.Context(), Request{
		URL:     server.URL,
		Headers: map[string]string{"X-Signature": "abc"},
		Payload: map[string]any{"event": "stage_changed"},
	})
	require.NoError(t, err)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `{"ok":true}`, resp.Body)
	assert.Equal(t, http.MethodPost, gotMethod)
	assert.Equal(t, "abc", gotHeader)
	assert.Equal(t, "application/json", gotType)
	assert.Equal(t, "stage_changed", gotBody["event"])
}

func TestDeliver_ClassifiesStatusCodes(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		retryable bool
	}{
		{"server error", http.StatusInternalServerError, true},
		{"bad gateway", http.StatusBadGateway, true},
		{"rate limited", http.StatusTooManyRequests, true},
		{"bad request", http.StatusBadRequest, false},
		{"not found", http.StatusNotFound, false},
		{"unauthorized", http.StatusUnauthorized, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tt.status)
			}))
			defer server.Close()

			resp, err := NewDispatcher(testLogger()).Deliver(t.Context(), Request{URL: server.URL, Method: "put"})
			require.Error(t, err)
			require.NotNil(t, resp)
			assert.Equal(t, tt.status, resp.StatusCode)
			assert.Equal(t, tt.retryable, IsRetryable(err))
			assert.Equal(t, !tt.retryable, errors.Is(err, ErrPermanent))
		})
	}
}

func TestDeliver_ErrorKeepsOnlyABodyExcerpt(t *testing.T) {
	large := strings.Repeat("x", maxResponseBody)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		_, _ = w.Write([]byte(large))
	}))
	defer server.Close()

	resp, err := NewDispatcher(testLogger()).Deliver(t.Context(), Request{URL: server.URL})
	require.Error(t, err)
	assert.Len(t, resp.Body, maxResponseBody)

	var deliveryErr *DeliveryError
	require.ErrorAs(t, err, &deliveryErr)
	assert.Len(t, deliveryErr.Body, maxResponseBody)

	assert.Less(t, len(err.Error()), maxErrorBody+200)
	assert.Contains(t, err.Error(), "answered 502")
	assert.True(t, strings.HasSuffix(err.Error(), "(truncated)"))
}

func TestDeliver_TimeoutIsTransient(t *testing.T) {
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))

	defer server.Close()
	defer close(release)

	_, err := NewDispatcher(testLogger()).Deliver(t.Context(), Request{URL: server.URL, Timeout: 50 * time.Millisecond})
	require.Error(t, err)
	assert.True(t, IsRetryable(err))
}

func TestDeliver_RejectsInvalidRequests(t *testing.T) {
	dispatcher := NewDispatcher(testLogger())

	for _, req := range []Request{
		{URL: "ftp://example.com/hook"},
		{URL: "not a url"},
		{URL: "https://"},
		{URL: "https://example.com", Method: "TRACE"},
	} {
		_, err := dispatcher.Deliver(t.Context(), req)
		require.Error(t, err, req.URL)
		assert.True(t, errors.Is(err, ErrPermanent), req.URL)
	}
}

func TestDeliver_TimeoutIsCapped(t *testing.T) {
	dispatcher := NewDispatcher(testLogger(), WithDefaultTimeout(time.Hour))
	assert.Equal(t, MaxTimeout, dispatcher.defaultTimeout)
}

func TestTest_ReportsOutcome(t *testing.T) {
	ok := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusAccepted)
	}))
	defer ok.Close()

	failing := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer failing.Close()

	dispatcher := NewDispatcher(testLogger())

	assert.Equal(t, TestResult{Success: true, StatusCode: http.StatusAccepted}, dispatcher.Test(t.Context(), Request{URL: ok.URL}))

	result := dispatcher.Test(t.Context(), Request{URL: failing.URL})
	assert.False(t, result.Success)
	assert.Equal(t, http.StatusNotFound, result.StatusCode)
	assert.NotEmpty(t, result.Error)

	result = dispatcher.Test(t.Context(), Request{URL: "http://127.0.0.1:1"})
	assert.False(t, result.Success)
	assert.Zero(t, result.StatusCode)
	assert.NotEmpty(t, result.Error)
}
