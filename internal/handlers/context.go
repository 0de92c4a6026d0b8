package handlers

import (
	"context"

	"github.com/nlstn/go-odata-content/internal/query"
)

// Context keys for request-scoped values
type contextKey string

const (
	odataRequestKey contextKey = "odata_request"
	requestIDKey    contextKey = "odata_request_id"
)

// WithODataRequest adds the parsed request to the context
func WithODataRequest(ctx context.Context, req *query.Request) context.Context {
	return context.WithValue(ctx, odataRequestKey, req)
}

// ODataRequestFromContext retrieves the parsed request from the context.
// Returns nil if none is present
func ODataRequestFromContext(ctx context.Context) *query.Request {
	if ctx == nil {
		return nil
	}
	if req, ok := ctx.Value(odataRequestKey).(*query.Request); ok {
		return req
	}
	return nil
}

// withRequestID attaches the id used to correlate log lines of one request.
func withRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey, id)
}

// RequestIDFromContext returns the request id, or "" outside a request.
func RequestIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	id, _ := ctx.Value(requestIDKey).(string)
	return id
}
