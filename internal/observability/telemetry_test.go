package observability

import (
	"context"
	"testing"

	"github.com/annel0/terrainforge/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace/noop"
)

func TestInitTelemetry_Disabled(t *testing.T) {
	before := otel.GetTracerProvider()
	shutdown, err := InitTelemetry(context.Background(), config.TelemetryConfig{})
	require.NoError(t, err)
	assert.NoError(t, shutdown(context.Background()))
	assert.Equal(t, before, otel.GetTracerProvider())
}

func TestInitTelemetry_Enabled(t *testing.T) {
	t.Cleanup(func() { otel.SetTracerProvider(noop.NewTracerProvider()) })

	shutdown, err := InitTelemetry(context.Background(), config.TelemetryConfig{Enabled: true})
	require.NoError(t, err)

	_, span := otel.Tracer("test").Start(context.Background(), "noop")
	assert.True(t, span.SpanContext().IsValid())
	// Незавершённый спан не экспортируется, поэтому shutdown не ходит в сеть.
	require.NoError(t, shutdown(context.Background()))
}
