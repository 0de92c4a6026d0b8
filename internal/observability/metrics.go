package observability

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
)

var disabledMetrics = mustMetrics(metricnoop.NewMeterProvider().Meter(instrumentationName))

// Metrics holds the service's metric instruments. All metrics use the
// "odata_" prefix.
type Metrics struct {
	// RequestsTotal counts requests by method, mode and status.
	RequestsTotal metric.Int64Counter
	// RequestDuration records request duration in seconds.
	RequestDuration metric.Float64Histogram
	// ActiveRequests tracks requests in flight.
	ActiveRequests metric.Int64UpDownCounter

	// ProjectedEntities counts rendered entities by projector.
	ProjectedEntities metric.Int64Counter
	// ProjectionDuration records projection duration in seconds.
	ProjectionDuration metric.Float64Histogram
	// SwallowedDenials counts reference reads converted to null.
	SwallowedDenials metric.Int64Counter

	// OperationsTotal counts operation invocations by name and outcome.
	OperationsTotal metric.Int64Counter
	// OperationDuration records operation duration in seconds.
	OperationDuration metric.Float64Histogram

	// ErrorsTotal counts error responses by code.
	ErrorsTotal metric.Int64Counter
	// MaskedDenials counts visitor denials reported as not found.
	MaskedDenials metric.Int64Counter
}

func newMetrics(meter metric.Meter) (*Metrics, error) {
	m := &Metrics{}
	var err error

	if m.RequestsTotal, err = meter.Int64Counter("odata_requests_total",
		metric.WithDescription("Total OData requests"),
		metric.WithUnit("{request}")); err != nil {
		return nil, fmt.Errorf("create odata_requests_total: %w", err)
	}
	if m.RequestDuration, err = meter.Float64Histogram("odata_request_duration_seconds",
		metric.WithDescription("OData request duration in seconds"),
		metric.WithUnit("s")); err != nil {
		return nil, fmt.Errorf("create odata_request_duration_seconds: %w", err)
	}
	if m.ActiveRequests, err = meter.Int64UpDownCounter("odata_active_requests",
		metric.WithDescription("OData requests in flight"),
		metric.WithUnit("{request}")); err != nil {
		return nil, fmt.Errorf("create odata_active_requests: %w", err)
	}
	if m.ProjectedEntities, err = meter.Int64Counter("odata_projected_entities_total",
		metric.WithDescription("Entities rendered by the projector"),
		metric.WithUnit("{entity}")); err != nil {
		return nil, fmt.Errorf("create odata_projected_entities_total: %w", err)
	}
	if m.ProjectionDuration, err = meter.Float64Histogram("odata_projection_duration_seconds",
		metric.WithDescription("Projection duration in seconds"),
		metric.WithUnit("s")); err != nil {
		return nil, fmt.Errorf("create odata_projection_duration_seconds: %w", err)
	}
	if m.SwallowedDenials, err = meter.Int64Counter("odata_projection_denied_total",
		metric.WithDescription("Field reads denied during projection and rendered as null"),
		metric.WithUnit("{field}")); err != nil {
		return nil, fmt.Errorf("create odata_projection_denied_total: %w", err)
	}
	if m.OperationsTotal, err = meter.Int64Counter("odata_operations_total",
		metric.WithDescription("Operation invocations"),
		metric.WithUnit("{call}")); err != nil {
		return nil, fmt.Errorf("create odata_operations_total: %w", err)
	}
	if m.OperationDuration, err = meter.Float64Histogram("odata_operation_duration_seconds",
		metric.WithDescription("Operation duration in seconds"),
		metric.WithUnit("s")); err != nil {
		return nil, fmt.Errorf("create odata_operation_duration_seconds: %w", err)
	}
	if m.ErrorsTotal, err = meter.Int64Counter("odata_errors_total",
		metric.WithDescription("Error responses by code"),
		metric.WithUnit("{error}")); err != nil {
		return nil, fmt.Errorf("create odata_errors_total: %w", err)
	}
	if m.MaskedDenials, err = meter.Int64Counter("odata_masked_denials_total",
		metric.WithDescription("Visitor denials reported as not found"),
		metric.WithUnit("{error}")); err != nil {
		return nil, fmt.Errorf("create odata_masked_denials_total: %w", err)
	}
	return m, nil
}

func mustMetrics(meter metric.Meter) *Metrics {
	m, err := newMetrics(meter)
	if err != nil {
		panic(err)
	}
	return m
}

// RequestStarted increments the in-flight gauge.
func (m *Metrics) RequestStarted(ctx context.Context) {
	m.ActiveRequests.Add(ctx, 1)
}

// RecordRequest records a finished request.
func (m *Metrics) RecordRequest(ctx context.Context, method, mode string, status int, elapsed time.Duration) {
	m.ActiveRequests.Add(ctx, -1)
	attrs := metric.WithAttributes(
		attribute.String("method", method),
		attribute.String("mode", mode),
		attribute.Int("status", status),
	)
	m.RequestsTotal.Add(ctx, 1, attrs)
	m.RequestDuration.Record(ctx, elapsed.Seconds(), attrs)
}

// RecordProjection records one projection pass.
func (m *Metrics) RecordProjection(ctx context.Context, strategy string, entities int, elapsed time.Duration) {
	attrs := metric.WithAttributes(attribute.String("projector", strategy))
	m.ProjectedEntities.Add(ctx, int64(entities), attrs)
	m.ProjectionDuration.Record(ctx, elapsed.Seconds(), attrs)
}

// RecordSwallowedDenial counts a field rendered as null after an access denial.
func (m *Metrics) RecordSwallowedDenial(ctx context.Context, field string) {
	m.SwallowedDenials.Add(ctx, 1, metric.WithAttributes(attribute.String("field", field)))
}

// RecordOperation records an operation call. outcome is "ok" or an error code.
func (m *Metrics) RecordOperation(ctx context.Context, name, outcome string, elapsed time.Duration) {
	attrs := metric.WithAttributes(
		attribute.String("operation", name),
		attribute.String("outcome", outcome),
		attribute.Bool("success", outcome == "ok"),
	)
	m.OperationsTotal.Add(ctx, 1, attrs)
	m.OperationDuration.Record(ctx, elapsed.Seconds(), attrs)
}

// RecordError counts an error response.
func (m *Metrics) RecordError(ctx context.Context, code string, status int) {
	m.ErrorsTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("code", code),
		attribute.Int("status", status),
	))
}

// RecordMaskedDenial counts a visitor denial turned into not found.
func (m *Metrics) RecordMaskedDenial(ctx context.Context) {
	m.MaskedDenials.Add(ctx, 1)
}
