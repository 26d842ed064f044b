// Package context carries tracing and operator identity through injector operations
package context

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Defaults returned when a value is absent from the context
const (
	UnknownRequest     = "unknown-request"
	UnknownCorrelation = "unknown-correlation"
	UnknownOperation   = "unknown-operation"
	Anonymous          = "anonymous"
)

type ctxKey int

const (
	requestIDKey ctxKey = iota
	correlationIDKey
	operatorKey
	operationKey
	startTimeKey
)

// WithRequestID adds a request ID to the context
func WithRequestID(parent context.Context, requestID string) context.Context {
	if requestID == "" {
		requestID = GenerateRequestID()
	}
	return context.WithValue(parent, requestIDKey, requestID)
}

// GetRequestID retrieves the request ID from context
func GetRequestID(ctx context.Context) string {
	return stringValue(ctx, requestIDKey, UnknownRequest)
}

// WithCorrelationID adds a correlation ID, used to tie a patch session's
// operations together across resolve, plan, build and complete.
func WithCorrelationID(parent context.Context, correlationID string) context.Context {
	if correlationID == "" {
		correlationID = GenerateCorrelationID()
	}
	return context.WithValue(parent, correlationIDKey, correlationID)
}

// GetCorrelationID retrieves the correlation ID from context
func GetCorrelationID(ctx context.Context) string {
	return stringValue(ctx, correlationIDKey, UnknownCorrelation)
}

// WithOperator records the human operator driving the session
func WithOperator(parent context.Context, operator string) context.Context {
	return context.WithValue(parent, operatorKey, operator)
}

// GetOperator retrieves the operator name from context
func GetOperator(ctx context.Context) string {
	return stringValue(ctx, operatorKey, Anonymous)
}

// WithOperation adds an operation name to the context
func WithOperation(parent context.Context, operation string) context.Context {
	return context.WithValue(parent, operationKey, operation)
}

// GetOperation retrieves the operation name from context
func GetOperation(ctx context.Context) string {
	return stringValue(ctx, operationKey, UnknownOperation)
}

// WithStartTime adds the operation start time to the context
func WithStartTime(parent context.Context, startTime time.Time) context.Context {
	return context.WithValue(parent, startTimeKey, startTime)
}

// HasStartTime reports whether a start time was recorded
func HasStartTime(ctx context.Context) bool {
	_, ok := ctx.Value(startTimeKey).(time.Time)
	return ok
}

// GetDuration returns the time elapsed since the recorded start time, or zero
func GetDuration(ctx context.Context) time.Duration {
	if t, ok := ctx.Value(startTimeKey).(time.Time); ok {
		return time.Since(t)
	}
	return 0
}

// GenerateRequestID creates a new unique request ID
func GenerateRequestID() string {
	return "req_" + uuid.New().String()
}

// GenerateCorrelationID creates a new unique correlation ID
func GenerateCorrelationID() string {
	return "cor_" + uuid.New().String()
}

// StartOperation enriches ctx for a named operator action: it makes sure a
// request and correlation id exist and stamps the start time.
func StartOperation(parent context.Context, operation string) context.Context {
	ctx := parent
	if GetRequestID(ctx) == UnknownRequest {
		ctx = WithRequestID(ctx, "")
	}
	if GetCorrelationID(ctx) == UnknownCorrelation {
		ctx = WithCorrelationID(ctx, "")
	}
	ctx = WithOperation(ctx, operation)
	return WithStartTime(ctx, time.Now())
}

func stringValue(ctx context.Context, key ctxKey, fallback string) string {
	if ctx == nil {
		return fallback
	}
	if v, ok := ctx.Value(key).(string); ok && v != "" {
		return v
	}
	return fallback
}
