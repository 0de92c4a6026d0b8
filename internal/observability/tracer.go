package observability

import (
	"context"
	"sort"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
)

// Span attribute keys.
const (
	AttrServiceName   = attribute.Key("odata.service")
	AttrHTTPMethod    = attribute.Key("http.request.method")
	AttrHTTPStatus    = attribute.Key("http.response.status_code")
	AttrPath          = attribute.Key("odata.content.path")
	AttrMode          = attribute.Key("odata.request.mode")
	AttrCollection    = attribute.Key("odata.collection")
	AttrStrategy      = attribute.Key("odata.projector")
	AttrOperation     = attribute.Key("odata.operation")
	AttrRepositoryOp  = attribute.Key("odata.repository.op")
	AttrResultCount   = attribute.Key("odata.result.count")
	AttrErrorCode     = attribute.Key("odata.error.code")
	AttrDBStatement   = attribute.Key("db.statement")
	AttrDBTable       = attribute.Key("db.table")
	AttrDBRows        = attribute.Key("db.rows_affected")
	attrQueryOptionNS = "odata.query."
)

var disabledTracer = newTracer(tracenoop.NewTracerProvider().Tracer(instrumentationName), DefaultServiceName, false)

// Tracer starts the spans of the request pipeline.
type Tracer struct {
	tracer       trace.Tracer
	service      string
	queryOptions bool
}

func newTracer(t trace.Tracer, service string, queryOptions bool) *Tracer {
	return &Tracer{tracer: t, service: service, queryOptions: queryOptions}
}

func (t *Tracer) start(ctx context.Context, name string, kind trace.SpanKind, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	attrs = append(attrs, AttrServiceName.String(t.service))
	return t.tracer.Start(ctx, name, trace.WithSpanKind(kind), trace.WithAttributes(attrs...))
}

// StartRequest starts the server span of an inbound request.
func (t *Tracer) StartRequest(ctx context.Context, method, path string) (context.Context, trace.Span) {
	return t.start(ctx, "odata.request", trace.SpanKindServer, AttrHTTPMethod.String(method), AttrPath.String(path))
}

// StartEntityRead starts a span for loading a content or a collection.
func (t *Tracer) StartEntityRead(ctx context.Context, path string, collection bool) (context.Context, trace.Span) {
	name := "odata.read.entity"
	if collection {
		name = "odata.read.collection"
	}
	return t.start(ctx, name, trace.SpanKindInternal, AttrPath.String(path), AttrCollection.Bool(collection))
}

// StartEntityWrite starts a span for create, update and delete.
func (t *Tracer) StartEntityWrite(ctx context.Context, op, path string) (context.Context, trace.Span) {
	return t.start(ctx, "odata.write."+op, trace.SpanKindInternal, AttrPath.String(path))
}

// StartProjection starts a span around rendering one response document.
func (t *Tracer) StartProjection(ctx context.Context, strategy, path string) (context.Context, trace.Span) {
	return t.start(ctx, "odata.project", trace.SpanKindInternal, AttrStrategy.String(strategy), AttrPath.String(path))
}

// StartOperation starts a span around resolving and invoking an operation.
func (t *Tracer) StartOperation(ctx context.Context, name, path string) (context.Context, trace.Span) {
	return t.start(ctx, "odata.operation", trace.SpanKindInternal, AttrOperation.String(name), AttrPath.String(path))
}

// StartRepository starts a client span for a repository call.
func (t *Tracer) StartRepository(ctx context.Context, op string) (context.Context, trace.Span) {
	return t.start(ctx, "odata.repository."+op, trace.SpanKindClient, AttrRepositoryOp.String(op))
}

// SetQueryOptions records the raw query options on span when query option
// tracing is enabled.
func (t *Tracer) SetQueryOptions(span trace.Span, options map[string]string) {
	if !t.queryOptions || len(options) == 0 {
		return
	}
	keys := make([]string, 0, len(options))
	for k := range options {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	attrs := make([]attribute.KeyValue, 0, len(keys))
	for _, k := range keys {
		attrs = append(attrs, attribute.String(attrQueryOptionNS+k, options[k]))
	}
	span.SetAttributes(attrs...)
}

// RecordError marks span as failed.
func RecordError(span trace.Span, err error, code string) {
	if err == nil {
		return
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	if code != "" {
		span.SetAttributes(AttrErrorCode.String(code))
	}
}

// ResultCountAttr annotates the number of entities written.
func ResultCountAttr(n int) attribute.KeyValue {
	return AttrResultCount.Int(n)
}
