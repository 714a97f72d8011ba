// Package observability configures OpenTelemetry tracing for the journal.
package observability

import (
	"context"
	"fmt"
	"io"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/mesh-intelligence/journal/internal/logging"
)

// Tracing modes.
const (
	TracingOff    = "off"
	TracingStdout = "stdout"
)

// TracingConfig selects the exporter.
type TracingConfig struct {
	Mode        string
	ServiceName string
	Version     string
	// Writer receives stdout spans; nil means os.Stdout.
	Writer io.Writer
}

// InitTracing installs a global tracer provider and returns its shutdown
// function. With tracing off the global no-op provider stays in place and
// shutdown does nothing.
func InitTracing(ctx context.Context, log *logging.Logger, cfg TracingConfig) (func(context.Context) error, error) {
	noop := func(context.Context) error { return nil }
	mode := strings.ToLower(strings.TrimSpace(cfg.Mode))
	switch mode {
	case "", TracingOff:
		return noop, nil
	case TracingStdout:
	default:
		return noop, fmt.Errorf("unknown tracing mode %q", cfg.Mode)
	}

	opts := []stdouttrace.Option{stdouttrace.WithPrettyPrint()}
	if cfg.Writer != nil {
		opts = append(opts, stdouttrace.WithWriter(cfg.Writer))
	}
	exporter, err := stdouttrace.New(opts...)
	if err != nil {
		return noop, fmt.Errorf("creating stdout exporter: %w", err)
	}

	name := cfg.ServiceName
	if name == "" {
		name = "journal"
	}
	res := resource.NewSchemaless(
		attribute.String("service.name", name),
		attribute.String("service.version", cfg.Version),
	)
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithSyncer(exporter),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tp)
	if log != nil {
		log.Info("tracing initialized", "mode", mode, "service", name)
	}
	return tp.Shutdown, nil
}
