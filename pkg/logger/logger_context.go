package logger

import (
	"context"

	icontext "github.com/injector/injector/pkg/context"
)

// ContextFields returns the tracing fields carried by ctx
func ContextFields(ctx context.Context) []Field {
	if ctx == nil {
		return nil
	}

	var fields []Field
	if id := icontext.GetRequestID(ctx); id != icontext.UnknownRequest {
		fields = append(fields, WithField("request_id", id))
	}
	if id := icontext.GetCorrelationID(ctx); id != icontext.UnknownCorrelation {
		fields = append(fields, WithField("correlation_id", id))
	}
	if op := icontext.GetOperation(ctx); op != icontext.UnknownOperation {
		fields = append(fields, WithField("operation", op))
	}
	if operator := icontext.GetOperator(ctx); operator != icontext.Anonymous {
		fields = append(fields, WithField("operator", operator))
	}
	if icontext.HasStartTime(ctx) {
		fields = append(fields, WithField("duration_ms", icontext.GetDuration(ctx).Milliseconds()))
	}
	return fields
}

func withContextFields(ctx context.Context, fields []Field) []Field {
	ctxFields := ContextFields(ctx)
	if len(ctxFields) == 0 {
		return fields
	}
	return append(ctxFields, fields...)
}

// WithContext binds ctx to a logger so every call carries its tracing fields
func WithContext(ctx context.Context, log Logger) Logger {
	if ctx == nil || log == nil {
		return log
	}
	return &contextualLogger{ctx: ctx, logger: log}
}

type contextualLogger struct {
	ctx    context.Context
	logger Logger
}

func (cl *contextualLogger) Info(message string, fields ...Field) {
	cl.logger.Info(message, withContextFields(cl.ctx, fields)...)
}

func (cl *contextualLogger) Error(message string, fields ...Field) {
	cl.logger.Error(message, withContextFields(cl.ctx, fields)...)
}

func (cl *contextualLogger) Warn(message string, fields ...Field) {
	cl.logger.Warn(message, withContextFields(cl.ctx, fields)...)
}

func (cl *contextualLogger) Debug(message string, fields ...Field) {
	cl.logger.Debug(message, withContextFields(cl.ctx, fields)...)
}

func (cl *contextualLogger) Success(message string, fields ...Field) {
	cl.logger.Success(message, withContextFields(cl.ctx, fields)...)
}

func (cl *contextualLogger) WithPatch(patchID string) Logger {
	return &contextualLogger{ctx: cl.ctx, logger: cl.logger.WithPatch(patchID)}
}
