package otelhelper

import (
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// RetryableKey flags whether a failed step will be attempted again.
const RetryableKey = "pipeflow.step.retryable"

// SetStepFailure marks span as failed and records a step_failed event that
// carries the retry decision alongside attrs.
func SetStepFailure(span trace.Span, err error, retryable bool, attrs ...attribute.KeyValue) {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	span.SetAttributes(attribute.Bool(RetryableKey, retryable))
	span.AddEvent("step_failed", trace.WithAttributes(attrs...))
}
