package otelhelper

import (
	"errors"

	"github.com/dukex/actiond/pkg/protocol"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// SetError records err on span. Cancelled and declined executions only add
// an event and leave the span status unset.
func SetError(span trace.Span, err error, attrs ...attribute.KeyValue) {
	var transient *protocol.TransientError

	switch {
	case errors.Is(err, protocol.ErrActionCancelled):
		span.AddEvent("action_cancelled", trace.WithAttributes(attrs...))
	case errors.As(err, &transient):
		span.AddEvent("action_declined", trace.WithAttributes(append(attrs, attribute.String("reason", err.Error()))...))
	default:
		span.RecordError(err, trace.WithAttributes(attrs...))
		span.SetStatus(codes.Error, err.Error())
	}
}
