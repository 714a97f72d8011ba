package observability

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"

	"github.com/mesh-intelligence/journal/internal/logging"
)

func TestInitTracingOff(t *testing.T) {
	for _, mode := range []string{"", "off", " OFF "} {
		shutdown, err := InitTracing(context.Background(), logging.NewNop(), TracingConfig{Mode: mode})
		require.NoError(t, err, mode)
		assert.NoError(t, shutdown(context.Background()))
	}
}

func TestInitTracingUnknownMode(t *testing.T) {
	_, err := InitTracing(context.Background(), nil, TracingConfig{Mode: "jaeger"})
	assert.Error(t, err)
}

func TestInitTracingStdout(t *testing.T) {
	prev := otel.GetTracerProvider()
	t.Cleanup(func() { otel.SetTracerProvider(prev) })

	var buf bytes.Buffer
	shutdown, err := InitTracing(context.Background(), logging.NewNop(), TracingConfig{
		Mode:    TracingStdout,
		Version: "test",
		Writer:  &buf,
	})
	require.NoError(t, err)

	_, span := otel.Tracer("test").Start(context.Background(), "syncqueue.Drain")
	span.End()
	require.NoError(t, shutdown(context.Background()))

	assert.Contains(t, buf.String(), "syncqueue.Drain")
	assert.Contains(t, buf.String(), "journal")
}
