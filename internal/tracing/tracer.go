// Package tracing wires optional OpenTelemetry span emission around the hub
// server's HTTP requests and the watcher's idle-detector triggers, so a user
// who enables it can see, per session, exactly when and why jigai decided an
// assistant had gone idle.
package tracing

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

// Config configures the tracing subsystem. The zero value (Enabled: false)
// is a valid, fully disabled configuration.
type Config struct {
	// Enabled controls whether tracing is active. When false, NewProvider
	// returns a no-op tracer and every other field is ignored.
	Enabled bool `yaml:"enabled"`

	// Exporter selects the export backend: "none", "file", "stdout", "otlp".
	Exporter string `yaml:"exporter"`

	// FilePath is the output file for the "file" exporter, e.g.
	// ~/.jigai/traces/traces.jsonl.
	FilePath string `yaml:"file_path"`

	// OTLPEndpoint is the OTLP collector endpoint for the "otlp" exporter.
	// Default: "localhost:4317".
	OTLPEndpoint string `yaml:"otlp_endpoint"`

	// SampleRate controls the fraction of traces kept: 1.0 samples
	// everything, 0.1 samples one in ten. Default: 1.0.
	SampleRate float64 `yaml:"sample_rate"`

	// ServiceName identifies this process in exported traces.
	// Default: "jigai".
	ServiceName string `yaml:"service_name"`
}

// Provider manages the OpenTelemetry tracer provider. It wraps the
// underlying TracerProvider and provides convenient methods for getting
// tracers and shutting down cleanly.
type Provider struct {
	provider *sdktrace.TracerProvider
	tracer   trace.Tracer
	enabled  bool
}

// exporterFactory builds one SpanExporter from Config. Keyed by the
// config's "exporter" string so adding a new backend means adding one map
// entry rather than another switch case.
type exporterFactory func(Config) (sdktrace.SpanExporter, error)

var exporterFactories = map[string]exporterFactory{
	"file": func(cfg Config) (sdktrace.SpanExporter, error) {
		if cfg.FilePath == "" {
			return nil, fmt.Errorf("file_path required for file exporter")
		}
		return NewFileExporter(cfg.FilePath)
	},
	"stdout": func(cfg Config) (sdktrace.SpanExporter, error) {
		return stdouttrace.New(stdouttrace.WithPrettyPrint())
	},
	"otlp": func(cfg Config) (sdktrace.SpanExporter, error) {
		endpoint := cfg.OTLPEndpoint
		if endpoint == "" {
			endpoint = "localhost:4317"
		}
		return otlptracegrpc.New(
			context.Background(),
			otlptracegrpc.WithEndpoint(endpoint),
			otlptracegrpc.WithInsecure(),
		)
	},
}

// buildExporter resolves cfg.Exporter to a SpanExporter. "none" and ""
// both mean "tracing enabled, spans kept only for context propagation, not
// exported anywhere."
func buildExporter(cfg Config) (sdktrace.SpanExporter, error) {
	if cfg.Exporter == "" || cfg.Exporter == "none" {
		return nil, nil
	}
	factory, ok := exporterFactories[cfg.Exporter]
	if !ok {
		return nil, fmt.Errorf("unsupported exporter type: %s", cfg.Exporter)
	}
	exporter, err := factory(cfg)
	if err != nil {
		return nil, fmt.Errorf("create %s exporter: %w", cfg.Exporter, err)
	}
	return exporter, nil
}

// NewProvider creates and configures the trace provider. If tracing is
// disabled in the config, a no-op provider is returned that has zero
// overhead.
func NewProvider(cfg Config) (*Provider, error) {
	if !cfg.Enabled {
		noopProvider := noop.NewTracerProvider()
		return &Provider{
			tracer:  noopProvider.Tracer("noop"),
			enabled: false,
		}, nil
	}

	exporter, err := buildExporter(cfg)
	if err != nil {
		return nil, err
	}

	serviceName := cfg.ServiceName
	if serviceName == "" {
		serviceName = "jigai"
	}

	// resource.NewSchemaless avoids schema-version conflicts with
	// resource.Default().
	res := resource.NewSchemaless(
		attribute.String("service.name", serviceName),
	)

	sampleRate := cfg.SampleRate
	if sampleRate <= 0 {
		sampleRate = 1.0
	}
	sampler := sdktrace.ParentBased(
		sdktrace.TraceIDRatioBased(sampleRate),
	)

	opts := []sdktrace.TracerProviderOption{
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sampler),
	}
	if exporter != nil {
		opts = append(opts, sdktrace.WithBatcher(exporter))
	}

	provider := sdktrace.NewTracerProvider(opts...)
	otel.SetTracerProvider(provider)

	return &Provider{
		provider: provider,
		tracer:   provider.Tracer(serviceName),
		enabled:  true,
	}, nil
}

// Tracer returns the configured tracer for creating spans. The returned
// tracer is safe to use even if tracing is disabled (it will be a no-op
// tracer in that case).
func (p *Provider) Tracer() trace.Tracer {
	return p.tracer
}

// Enabled returns whether tracing is enabled.
func (p *Provider) Enabled() bool {
	return p.enabled
}

// Shutdown flushes pending spans and shuts down the provider. It should be
// called when the application is shutting down to ensure all spans are
// exported before exit.
func (p *Provider) Shutdown(ctx context.Context) error {
	if p.provider != nil {
		return p.provider.Shutdown(ctx)
	}
	return nil
}
