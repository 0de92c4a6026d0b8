// Package handlers dispatches OData requests by verb and mode and translates
// failures into protocol errors.
package handlers

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"runtime/debug"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/nlstn/go-odata-content/internal/content"
	"github.com/nlstn/go-odata-content/internal/metadata"
	"github.com/nlstn/go-odata-content/internal/observability"
	"github.com/nlstn/go-odata-content/internal/odataerrors"
	"github.com/nlstn/go-odata-content/internal/operations"
	"github.com/nlstn/go-odata-content/internal/projector"
	"github.com/nlstn/go-odata-content/internal/query"
)

// Error messages used in responses
const (
	ErrMsgMethodNotAllowed = "Method not allowed"
	ErrMsgInternalError    = "Internal error"
	ErrMsgInvalidBody      = "Invalid request body"
	ErrMsgHookRejected     = "Request rejected"
)

// DefaultMaxBodySize caps request bodies when Config.MaxBodySize is zero.
const DefaultMaxBodySize = 10 << 20

// PreRequestHook runs before a request is parsed. It may return a derived
// context, typically carrying the caller's identity.
type PreRequestHook func(r *http.Request) (context.Context, error)

// Config configures a Dispatcher.
type Config struct {
	Repository content.Repository
	Schema     *content.Schema
	Center     *operations.Center
	// ServiceRoot is the URL prefix of the service.
	ServiceRoot    string
	ExpansionLimit int
	MaxExpandDepth int
	MaxBodySize    int64
	// DebugErrors adds the cause chain to error payloads.
	DebugErrors    bool
	PreRequestHook PreRequestHook
	FieldNames     *projector.FieldNameCache
	Logger         *slog.Logger
	Observability  *observability.Config
}

// Dispatcher serves OData requests against a content repository.
type Dispatcher struct {
	repo        content.Repository
	schema      *content.Schema
	center      *operations.Center
	serviceRoot string
	maxBody     int64
	debug       bool
	preRequest  PreRequestHook
	env         projector.Environment
	logger      *slog.Logger
	obs         *observability.Config

	sealOnce sync.Once

	metadataOnce sync.Once
	metadataDoc  *metadata.Document
}

// NewDispatcher creates a Dispatcher. Repository and Center are required.
func NewDispatcher(cfg Config) (*Dispatcher, error) {
	if cfg.Repository == nil {
		return nil, fmt.Errorf("handlers: repository is required")
	}
	if cfg.Center == nil {
		return nil, fmt.Errorf("handlers: operation center is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	root := strings.TrimRight(cfg.ServiceRoot, "/")
	if root == "" {
		root = projector.DefaultServiceRoot
	}
	maxBody := cfg.MaxBodySize
	if maxBody <= 0 {
		maxBody = DefaultMaxBodySize
	}
	schema := cfg.Schema
	if schema == nil {
		schema = content.NewSchema()
	}
	fieldNames := cfg.FieldNames
	if fieldNames == nil {
		fieldNames = projector.NewFieldNameCache()
	}
	return &Dispatcher{
		repo:        cfg.Repository,
		schema:      schema,
		center:      cfg.Center,
		serviceRoot: root,
		maxBody:     maxBody,
		debug:       cfg.DebugErrors,
		preRequest:  cfg.PreRequestHook,
		logger:      logger,
		obs:         cfg.Observability,
		env: projector.Environment{
			Repository:     cfg.Repository,
			Actions:        cfg.Center,
			ServiceRoot:    root,
			ExpansionLimit: cfg.ExpansionLimit,
			MaxExpandDepth: cfg.MaxExpandDepth,
			FieldNames:     fieldNames,
			Logger:         logger,
			Observability:  cfg.Observability,
		},
	}, nil
}

// ServiceRoot returns the URL prefix the dispatcher answers under.
func (d *Dispatcher) ServiceRoot() string {
	return d.serviceRoot
}

// ServeHTTP implements http.Handler.
func (d *Dispatcher) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	d.obs.ServerTimingMiddleware(http.HandlerFunc(d.serve)).ServeHTTP(w, r)
}

func (d *Dispatcher) serve(w http.ResponseWriter, r *http.Request) {
	// Registration is closed once requests are served.
	d.sealOnce.Do(func() {
		d.center.Registry().Seal()
		d.logger.Debug("Operation registry sealed", "operations", len(d.center.Registry().Operations()))
	})

	ctx, span := d.obs.Tracer().StartRequest(r.Context(), r.Method, r.URL.Path)
	defer span.End()
	ctx = withRequestID(ctx, uuid.NewString())
	metrics := d.obs.Metrics()
	metrics.RequestStarted(ctx)
	start := time.Now()

	sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
	r = r.WithContext(ctx)
	mode := "unknown"
	defer func() {
		metrics.RecordRequest(ctx, r.Method, mode, sw.status, time.Since(start))
	}()
	defer func() {
		if rec := recover(); rec != nil {
			d.logger.Error("Request handler panicked",
				"method", r.Method,
				"path", r.URL.Path,
				"panic", rec,
				"stack", string(debug.Stack()))
			if !sw.written {
				d.writeError(sw, r, nil, fmt.Errorf("request handler panicked: %v", rec))
			}
		}
	}()

	if d.preRequest != nil {
		hookCtx, err := d.preRequest(r)
		if err != nil {
			d.logger.Debug("Pre-request hook rejected request", "path", r.URL.Path, "error", err)
			d.writeError(sw, r, nil, odataerrors.Wrap(odataerrors.SecurityDenied, err, ErrMsgHookRejected))
			return
		}
		if hookCtx != nil {
			r = r.WithContext(hookCtx)
		}
	}

	timing := observability.StartServerTiming(r.Context(), observability.TimingParse)
	req := query.Parse(r.Context(), r.URL.Path, r.URL.Query(), query.ParseOptions{
		ServiceRoot: d.serviceRoot,
		ResolveID:   d.resolveID,
	})
	timing.Stop()
	mode = req.Mode().String()
	d.obs.Tracer().SetQueryOptions(span, flattenQuery(r))
	r = r.WithContext(WithODataRequest(r.Context(), req))

	if err := d.dispatch(sw, r, req); err != nil {
		d.writeError(sw, r, req, err)
	}
}

// dispatch validates the request and routes it by verb.
func (d *Dispatcher) dispatch(w http.ResponseWriter, r *http.Request, req *query.Request) error {
	if req.Err != nil {
		return req.Err
	}
	if req.IsMetadataRequest {
		if r.Method != http.MethodGet && r.Method != http.MethodHead {
			return methodNotAllowed(r.Method, "$metadata")
		}
		return d.serveMetadata(w, r, req)
	}
	if req.IsServiceDocumentRequest {
		if r.Method != http.MethodGet && r.Method != http.MethodHead {
			return methodNotAllowed(r.Method, "the service document")
		}
		return d.serveServiceDocument(w, r, req)
	}

	switch r.Method {
	case http.MethodGet, http.MethodHead:
		return d.handleGet(w, r, req)
	case http.MethodPost:
		if req.IsMemberRequest {
			return d.handleInvoke(w, r, req)
		}
		return d.handleCreate(w, r, req)
	case http.MethodPut:
		return d.handleUpdate(w, r, req, true)
	case http.MethodPatch, "MERGE":
		return d.handleUpdate(w, r, req, false)
	case http.MethodDelete:
		return d.handleDelete(w, r, req)
	default:
		return methodNotAllowed(r.Method, req.RepositoryPath)
	}
}

func methodNotAllowed(method, target string) error {
	return odataerrors.New(odataerrors.MethodNotAllowed, "Method %s is not allowed for %s", method, target)
}

// resolveID maps content(<id>) addresses to paths.
func (d *Dispatcher) resolveID(ctx context.Context, id int) (string, error) {
	if pr, ok := d.repo.(interface {
		PathByID(ctx context.Context, id int) (string, error)
	}); ok {
		return pr.PathByID(ctx, id)
	}
	c, err := d.repo.LoadContentByID(ctx, id)
	if err != nil || c == nil {
		return "", err
	}
	return c.Path, nil
}

func flattenQuery(r *http.Request) map[string]string {
	values := r.URL.Query()
	if len(values) == 0 {
		return nil
	}
	out := make(map[string]string, len(values))
	for k, v := range values {
		out[k] = strings.Join(v, ",")
	}
	return out
}

// statusWriter records the status code written for metrics.
type statusWriter struct {
	http.ResponseWriter
	status  int
	written bool
}

func (w *statusWriter) WriteHeader(status int) {
	if !w.written {
		w.status = status
		w.written = true
	}
	w.ResponseWriter.WriteHeader(status)
}

func (w *statusWriter) Write(b []byte) (int, error) {
	w.written = true
	return w.ResponseWriter.Write(b)
}

func (w *statusWriter) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}
