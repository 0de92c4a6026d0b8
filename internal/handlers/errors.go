package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/nlstn/go-odata-content/internal/auth"
	"github.com/nlstn/go-odata-content/internal/content"
	"github.com/nlstn/go-odata-content/internal/observability"
	"github.com/nlstn/go-odata-content/internal/odataerrors"
	"github.com/nlstn/go-odata-content/internal/query"
	"github.com/nlstn/go-odata-content/internal/response"
	"go.opentelemetry.io/otel/trace"
)

// errRequestHandled is used to signal that the request has already been handled
// and no further processing should occur.
var errRequestHandled = errors.New("request already handled")

// translate turns any error raised while serving req into a protocol error.
func (d *Dispatcher) translate(ctx context.Context, r *http.Request, err error) *odataerrors.Error {
	if e, ok := odataerrors.As(err); ok {
		return e
	}
	switch {
	case errors.Is(err, content.ErrAccessDenied):
		return odataerrors.Wrap(odataerrors.SecurityDenied, err, "Access denied")
	case errors.Is(err, content.ErrNotFound):
		return odataerrors.Wrap(odataerrors.ResourceNotFound, err, "Content not found")
	case errors.Is(err, content.ErrAlreadyExists):
		return odataerrors.Wrap(odataerrors.ContentAlreadyExists, err, "Content already exists")
	case errors.Is(err, content.ErrTypeNotAllowed):
		return odataerrors.Wrap(odataerrors.InvalidContentAction, err, "Content type is not allowed here")
	case errors.Is(err, content.ErrInvalidValue):
		return odataerrors.Wrap(odataerrors.InvalidBody, err, err.Error())
	}
	d.logger.Error("Unexpected error serving request",
		"method", r.Method,
		"path", r.URL.Path,
		"request_id", RequestIDFromContext(ctx),
		"error", err)
	return odataerrors.Wrap(odataerrors.NotSpecified, err, ErrMsgInternalError)
}

// writeError is the single translation point of the dispatcher. A visitor
// that cannot open the addressed content gets not found instead of a
// security error.
func (d *Dispatcher) writeError(w http.ResponseWriter, r *http.Request, req *query.Request, err error) {
	if errors.Is(err, errRequestHandled) {
		return
	}
	ctx := r.Context()
	e := d.translate(ctx, r, err)
	if e.Code == odataerrors.SecurityDenied && req != nil && d.masksDenial(ctx, req.RepositoryPath) {
		d.obs.Metrics().RecordMaskedDenial(ctx)
		e = odataerrors.NotFound(req.RepositoryPath)
	}

	status := e.StatusCode()
	d.obs.Metrics().RecordError(ctx, string(e.Code), status)
	observability.RecordError(trace.SpanFromContext(ctx), err, string(e.Code))
	d.logger.Debug("Request failed",
		"method", r.Method,
		"path", r.URL.Path,
		"code", string(e.Code),
		"status", status,
		"request_id", RequestIDFromContext(ctx))

	if writeErr := response.WriteODataError(w, r, e, d.debug); writeErr != nil {
		d.logger.Error("Error writing error response", "error", writeErr)
	}
}

// masksDenial reports whether a denial on path must look like a missing
// content to the caller.
func (d *Dispatcher) masksDenial(ctx context.Context, path string) bool {
	caller := auth.FromContext(ctx)
	if !caller.IsVisitor() {
		return false
	}
	if path == "" {
		return true
	}
	ok, err := d.repo.HasPermission(ctx, path, content.PermissionOpen)
	if err != nil {
		d.logger.Warn("Permission check failed while masking denial", "path", path, "error", err)
		return true
	}
	return !ok
}
