package logger_test

import (
	"bytes"
	"context"
	"strings"
	"testing"

	icontext "github.com/injector/injector/pkg/context"
	"github.com/injector/injector/pkg/logger"
)

func TestCreateLogger(t *testing.T) {
	log := logger.CreateLogger("", "info")
	if log == nil {
		t.Fatal("expected logger to be created")
	}
}

func TestLogger_WithPatch(t *testing.T) {
	var buf bytes.Buffer
	log := logger.CreateLoggerWithOutput("", "info", &buf)

	log.WithPatch("patch-42").Info("resolving sources")

	output := buf.String()
	if !strings.Contains(output, "[patch-42]") {
		t.Errorf("expected patch prefix in log output, got %q", output)
	}
}

func TestLogger_FieldsAreSorted(t *testing.T) {
	var buf bytes.Buffer
	log := logger.CreateLoggerWithOutput("", "info", &buf)

	log.Info("dispatch",
		logger.WithField("platform", "aix64"),
		logger.WithField("commands", 3),
	)

	output := buf.String()
	if !strings.Contains(output, "{commands=3, platform=aix64}") {
		t.Errorf("expected sorted fields, got %q", output)
	}
}

func TestLogger_Success(t *testing.T) {
	var buf bytes.Buffer
	log := logger.CreateLoggerWithOutput("", "info", &buf)

	log.Success("build complete")

	if !strings.Contains(buf.String(), "✅ build complete") {
		t.Errorf("expected success marker, got %q", buf.String())
	}
}

func TestLogger_ErrorLevel(t *testing.T) {
	var buf bytes.Buffer
	log := logger.CreateLoggerWithOutput("", "error", &buf)

	log.Debug("should not appear")
	log.Info("should not appear")
	log.Warn("should not appear")
	log.Error("should appear")

	output := buf.String()
	if strings.Contains(output, "should not appear") {
		t.Error("lower level logs should not appear with error level")
	}
	if !strings.Contains(output, "should appear") {
		t.Error("error level log should appear")
	}
}

func TestLogger_NilOutputDiscards(t *testing.T) {
	log := logger.CreateLoggerWithOutput("", "debug", nil)
	log.Info("nowhere")
}

func TestWithContext_AddsTracingFields(t *testing.T) {
	var buf bytes.Buffer
	base := logger.CreateLoggerWithOutput("", "info", &buf)

	ctx := icontext.WithRequestID(context.Background(), "req_1")
	ctx = icontext.WithOperator(ctx, "alice")
	ctx = icontext.WithOperation(ctx, "plan")

	logger.WithContext(ctx, base).WithPatch("p1").Info("planning")

	output := buf.String()
	for _, want := range []string{"request_id=req_1", "operator=alice", "operation=plan", "[p1]"} {
		if !strings.Contains(output, want) {
			t.Errorf("expected %q in output %q", want, output)
		}
	}
	if strings.Contains(output, "correlation_id") {
		t.Error("absent correlation id must not be logged")
	}
}

func TestConsoleLogger(t *testing.T) {
	var out, errOut bytes.Buffer
	c := logger.NewConsoleLogger(&out, &errOut)

	c.Info("hello")
	c.Error("boom")

	if !strings.Contains(out.String(), "hello") {
		t.Errorf("expected info on stdout, got %q", out.String())
	}
	if !strings.Contains(errOut.String(), "boom") {
		t.Errorf("expected error on stderr, got %q", errOut.String())
	}
}
