package observability

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/zap/zapcore"
)

func TestNewLogger(t *testing.T) {
	tests := []struct {
		name    string
		level   string
		profile string
		wantErr bool
	}{
		{"structured info", "info", "STRUCTURED", false},
		{"console debug", "debug", "console", false},
		{"default profile", "warn", "", false},
		{"bad level", "loud", "STRUCTURED", true},
		{"bad profile", "info", "pretty", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logger, err := NewLogger(tt.level, tt.profile)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.NotNil(t, logger)
		})
	}
}

func TestInitLoggersReplaceNop(t *testing.T) {
	origCLI, origServer := CLILogger, ServerLogger
	defer func() { CLILogger, ServerLogger = origCLI, origServer }()

	require.NoError(t, InitCLILogger("batchlens", "debug", "CONSOLE"))
	require.NoError(t, InitServerLogger("batchlens", "info", "STRUCTURED"))
	assert.True(t, CLILogger.Core().Enabled(zapcore.DebugLevel), "debug enabled")
	assert.False(t, ServerLogger.Core().Enabled(zapcore.DebugLevel), "debug disabled at info")

	require.Error(t, InitCLILogger("batchlens", "nope", "CONSOLE"))
}

func TestNewTracerProvider_None(t *testing.T) {
	tp, shutdown, err := NewTracerProvider("none", "batchlens", nil)
	require.NoError(t, err)
	_, span := tp.Tracer("t").Start(context.Background(), "noop")
	assert.False(t, span.SpanContext().IsValid())
	span.End()
	require.NoError(t, shutdown(context.Background()))
}

func TestNewTracerProvider_Stdout(t *testing.T) {
	var buf bytes.Buffer
	tp, shutdown, err := NewTracerProvider("stdout", "batchlens-test", &buf)
	require.NoError(t, err)
	require.IsType(t, &sdktrace.TracerProvider{}, tp)

	_, span := tp.Tracer("t").Start(context.Background(), "tracker.list_jobs")
	span.SetAttributes(attribute.Int("jobs", 3))
	span.End()

	require.NoError(t, shutdown(context.Background()))
	assert.Contains(t, buf.String(), "tracker.list_jobs")
	assert.Contains(t, buf.String(), "batchlens-test")
}

func TestNewTracerProvider_Unsupported(t *testing.T) {
	_, _, err := NewTracerProvider("jaeger", "batchlens", nil)
	require.Error(t, err)
}
