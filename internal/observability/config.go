// Package observability wires OpenTelemetry tracing and metrics and the
// Server-Timing response header into the OData service.
package observability

import (
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel/metric"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
)

const (
	// DefaultServiceName is reported when no service name is configured.
	DefaultServiceName = "odata-content-service"

	instrumentationName = "github.com/nlstn/go-odata-content"
)

// Config holds the observability settings of a service. A nil *Config is
// valid and disables everything.
type Config struct {
	tracerProvider trace.TracerProvider
	meterProvider  metric.MeterProvider
	serviceName    string
	serviceVersion string
	logger         *slog.Logger

	detailedDBTracing  bool
	queryOptionTracing bool
	serverTiming       bool

	tracer  *Tracer
	metrics *Metrics
}

// Option configures a Config.
type Option func(*Config)

// WithTracerProvider sets the tracer provider.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(c *Config) { c.tracerProvider = tp }
}

// WithMeterProvider sets the meter provider.
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(c *Config) { c.meterProvider = mp }
}

// WithServiceName sets the service name reported on spans.
func WithServiceName(name string) Option {
	return func(c *Config) { c.serviceName = name }
}

// WithServiceVersion sets the service version reported on spans.
func WithServiceVersion(version string) Option {
	return func(c *Config) { c.serviceVersion = version }
}

// WithLogger sets the logger used for instrumentation failures.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Config) { c.logger = logger }
}

// WithDetailedDBTracing enables one span per repository database statement.
func WithDetailedDBTracing() Option {
	return func(c *Config) { c.detailedDBTracing = true }
}

// WithQueryOptionTracing records parsed query options as span attributes.
func WithQueryOptionTracing() Option {
	return func(c *Config) { c.queryOptionTracing = true }
}

// WithServerTiming enables the Server-Timing response header.
func WithServerTiming() Option {
	return func(c *Config) { c.serverTiming = true }
}

// NewConfig creates a Config. Call Initialize before use.
func NewConfig(opts ...Option) *Config {
	c := &Config{serviceName: DefaultServiceName}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Initialize creates the tracer and the metric instruments. Missing providers
// fall back to no-op implementations.
func (c *Config) Initialize() error {
	if c.tracerProvider == nil {
		c.tracerProvider = tracenoop.NewTracerProvider()
	}
	if c.meterProvider == nil {
		c.meterProvider = metricnoop.NewMeterProvider()
	}
	if c.logger == nil {
		c.logger = slog.Default()
	}

	c.tracer = newTracer(c.tracerProvider.Tracer(instrumentationName,
		trace.WithInstrumentationVersion(c.serviceVersion)), c.serviceName, c.queryOptionTracing)

	m, err := newMetrics(c.meterProvider.Meter(instrumentationName,
		metric.WithInstrumentationVersion(c.serviceVersion)))
	if err != nil {
		return fmt.Errorf("create metric instruments: %w", err)
	}
	c.metrics = m
	return nil
}

// Tracer returns the span helper. It is never nil, even on a nil Config.
func (c *Config) Tracer() *Tracer {
	if c == nil || c.tracer == nil {
		return disabledTracer
	}
	return c.tracer
}

// Metrics returns the metric helper. It is never nil, even on a nil Config.
func (c *Config) Metrics() *Metrics {
	if c == nil || c.metrics == nil {
		return disabledMetrics
	}
	return c.metrics
}

// Logger returns the configured logger.
func (c *Config) Logger() *slog.Logger {
	if c == nil || c.logger == nil {
		return slog.Default()
	}
	return c.logger
}

// ServiceName returns the reported service name.
func (c *Config) ServiceName() string {
	if c == nil {
		return DefaultServiceName
	}
	return c.serviceName
}

// ServerTimingEnabled reports whether the Server-Timing header is emitted.
func (c *Config) ServerTimingEnabled() bool {
	return c != nil && c.serverTiming
}

// DetailedDBTracingEnabled reports whether database statements get their own spans.
func (c *Config) DetailedDBTracingEnabled() bool {
	return c != nil && c.detailedDBTracing
}
