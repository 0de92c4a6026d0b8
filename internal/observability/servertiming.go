package observability

import (
	"context"
	"net/http"

	servertiming "github.com/mitchellh/go-server-timing"
)

// Server-Timing metric names used by the request pipeline.
const (
	TimingParse   = "parse"
	TimingLoad    = "load"
	TimingQuery   = "query"
	TimingProject = "project"
	TimingInvoke  = "invoke"
	TimingDB      = "db"
)

// ServerTimingMetric measures one phase of a request for the Server-Timing
// header. The zero value is a no-op.
type ServerTimingMetric struct {
	metric *servertiming.Metric
}

// Stop ends the measurement. Safe to call on a no-op metric.
func (m *ServerTimingMetric) Stop() {
	if m == nil || m.metric == nil {
		return
	}
	m.metric.Stop()
}

// StartServerTiming starts a metric when ctx carries a Server-Timing header.
func StartServerTiming(ctx context.Context, name string) *ServerTimingMetric {
	h := servertiming.FromContext(ctx)
	if h == nil {
		return &ServerTimingMetric{}
	}
	return &ServerTimingMetric{metric: h.NewMetric(name).Start()}
}

// StartServerTimingWithDesc starts a metric with a human readable description.
func StartServerTimingWithDesc(ctx context.Context, name, description string) *ServerTimingMetric {
	h := servertiming.FromContext(ctx)
	if h == nil {
		return &ServerTimingMetric{}
	}
	return &ServerTimingMetric{metric: h.NewMetric(name).WithDesc(description).Start()}
}

// ServerTimingMiddleware wraps next so that metrics started during the
// request are written to the Server-Timing header. It returns next unchanged
// when server timing is disabled.
func (c *Config) ServerTimingMiddleware(next http.Handler) http.Handler {
	if !c.ServerTimingEnabled() {
		return next
	}
	return servertiming.Middleware(next, nil)
}
