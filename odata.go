// Package odata exposes a hierarchical content repository through the OData
// v2 verbose JSON protocol.
//
// Every content is addressed by its repository path. A path without a
// trailing entity segment addresses the children of a content:
//
//	GET /odata.svc/Root/Docs                 children of /Root/Docs
//	GET /odata.svc/Root('Docs')              the content /Root/Docs
//	GET /odata.svc/Root/Docs('a.txt')/Size   one member of /Root/Docs/a.txt
//	POST /odata.svc/Root/Docs('a.txt')/Rename
//
// A member that is not a field names an operation. Operations are plain Go
// functions registered with RegisterOperation; their first parameter is the
// target content and the remaining ones are bound from the query string and
// the JSON body:
//
//	err := service.RegisterOperation(odata.Operation{
//	    Name:   "Rename",
//	    Func:   func(c *odata.Content, newName string) error { ... },
//	    Params: []odata.Param{{Name: "newName"}},
//	    Auth:   odata.OperationAuth{Permissions: []odata.Permission{odata.PermissionSave}},
//	    CausesStateChange: true,
//	})
//
// Overloads of one name are resolved by binding the supplied parameters,
// first with exact types and then with string coercion.
//
// The caller's identity travels on the request context. Install it with
// SetPreRequestHook; requests without one are served as the Visitor.
package odata

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/nlstn/go-odata-content/internal/auth"
	"github.com/nlstn/go-odata-content/internal/content"
	"github.com/nlstn/go-odata-content/internal/handlers"
	"github.com/nlstn/go-odata-content/internal/metadata"
	"github.com/nlstn/go-odata-content/internal/observability"
	"github.com/nlstn/go-odata-content/internal/operations"
	"github.com/nlstn/go-odata-content/internal/projector"
	"github.com/nlstn/go-odata-content/internal/storage"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"
)

// Public names of the content model.
type (
	Content       = content.Content
	ContentType   = content.ContentType
	FieldSetting  = content.FieldSetting
	FieldKind     = content.Kind
	Field         = content.Field
	FieldVisitor  = content.Visitor
	Scalar        = content.Scalar
	Reference     = content.Reference
	Binary        = content.Binary
	Choice        = content.Choice
	ChildTypes    = content.ChildTypes
	RichTextValue = content.RichTextValue
	CreateRequest = content.CreateRequest
	Schema        = content.Schema
	Repository    = content.Repository
	Permission    = content.Permission
	AuthContext   = auth.AuthContext
)

// Field kinds.
const (
	KindScalar     = content.KindScalar
	KindReference  = content.KindReference
	KindBinary     = content.KindBinary
	KindChoice     = content.KindChoice
	KindChildTypes = content.KindChildTypes
)

// Public names of the operation model.
type (
	Operation       = operations.Definition
	OperationInfo   = operations.OperationInfo
	Param           = operations.Param
	OperationAuth   = operations.Auth
	OperationConfig = operations.Config
	OperationResult = operations.Result
	Policy          = operations.Policy
	PolicyFunc      = operations.PolicyFunc
	PolicyResult    = operations.PolicyResult
)

// Policy results, from least to most restrictive.
const (
	PolicyEnabled   = operations.PolicyEnabled
	PolicyDisabled  = operations.PolicyDisabled
	PolicyInvisible = operations.PolicyInvisible
)

// Permissions understood by the built-in repository.
const (
	PermissionSee    = content.PermissionSee
	PermissionOpen   = content.PermissionOpen
	PermissionSave   = content.PermissionSave
	PermissionAddNew = content.PermissionAddNew
	PermissionDelete = content.PermissionDelete
)

// Role names with built-in meaning.
const (
	RoleEveryone       = auth.RoleEveryone
	RoleVisitor        = auth.RoleVisitor
	RoleAdministrators = auth.RoleAdministrators
)

// PreRequestHook runs before each request is parsed. It returns the context
// the request continues with, typically carrying the caller's identity via
// WithUser. A nil context keeps the original one. An error aborts the request
// with 403 Forbidden.
type PreRequestHook = handlers.PreRequestHook

// WithUser attaches a principal and its roles to ctx.
func WithUser(ctx context.Context, principal string, roles ...string) context.Context {
	return auth.WithUser(ctx, principal, roles...)
}

// WithSystem marks ctx as running with system privileges.
func WithSystem(ctx context.Context) context.Context {
	return auth.WithSystem(ctx)
}

// CallerFromContext returns the identity attached to ctx.
func CallerFromContext(ctx context.Context) AuthContext {
	return auth.FromContext(ctx)
}

// ServiceConfig controls optional service behaviours. Zero values select the
// Default* constants.
type ServiceConfig struct {
	// ServiceRoot is the URL prefix the service answers under.
	ServiceRoot string

	// ExpansionLimit caps how many referenced contents one expanded field renders.
	ExpansionLimit int

	// MaxExpandDepth limits the nesting of $expand to prevent runaway expansion.
	MaxExpandDepth int

	// MaxBodySize caps request bodies in bytes.
	MaxBodySize int64

	// InvocationTimeout bounds each operation call including awaited
	// asynchronous results. Zero means no deadline.
	InvocationTimeout time.Duration

	// DebugErrors adds the cause chain of failures to error payloads.
	DebugErrors bool

	// RootType is the content type of /Root created by the built-in repository.
	RootType string

	// BlobURL opens the bucket binary fields are stored in, for example
	// mem:// or file:///var/lib/content.
	BlobURL string

	// Settings is handed to operations that declare an OperationConfig parameter.
	Settings map[string]string
}

const (
	// DefaultServiceRoot is the URL prefix used when none is configured.
	DefaultServiceRoot = projector.DefaultServiceRoot

	// DefaultExpansionLimit is the default number of referenced contents an
	// expanded field renders.
	DefaultExpansionLimit = projector.DefaultExpansionLimit

	// DefaultMaxExpandDepth is the default maximum depth of nested $expand.
	DefaultMaxExpandDepth = projector.DefaultMaxExpandDepth

	// DefaultMaxBodySize is the default request body limit.
	DefaultMaxBodySize = handlers.DefaultMaxBodySize

	// DefaultInvocationTimeout disables the operation deadline.
	DefaultInvocationTimeout time.Duration = 0

	// DefaultRootType is the type of the repository root.
	DefaultRootType = content.GenericContentTypeName

	// DefaultBlobURL keeps binaries in memory.
	DefaultBlobURL = "mem://"
)

func (c ServiceConfig) withDefaults() ServiceConfig {
	if c.ServiceRoot == "" {
		c.ServiceRoot = DefaultServiceRoot
	}
	if c.ExpansionLimit <= 0 {
		c.ExpansionLimit = DefaultExpansionLimit
	}
	if c.MaxExpandDepth <= 0 {
		c.MaxExpandDepth = DefaultMaxExpandDepth
	}
	if c.MaxBodySize <= 0 {
		c.MaxBodySize = DefaultMaxBodySize
	}
	if c.InvocationTimeout < 0 {
		c.InvocationTimeout = DefaultInvocationTimeout
	}
	if c.RootType == "" {
		c.RootType = DefaultRootType
	}
	if c.BlobURL == "" {
		c.BlobURL = DefaultBlobURL
	}
	return c
}

// Service is an OData endpoint over one content repository.
type Service struct {
	cfg    ServiceConfig
	repo   content.Repository
	schema *content.Schema
	// store is set when the service owns the built-in repository.
	store  *storage.Repository
	gormDB *gorm.DB

	registry   *operations.Registry
	fieldNames *projector.FieldNameCache

	mu             sync.RWMutex
	logger         *slog.Logger
	observability  *observability.Config
	preRequestHook PreRequestHook
	dispatcher     *handlers.Dispatcher
}

// NewService creates a service storing contents in db. The content table is
// migrated and the repository root is created when missing.
func NewService(db *gorm.DB) (*Service, error) {
	return NewServiceWithConfig(db, ServiceConfig{})
}

// NewServiceWithConfig creates a service storing contents in db with
// additional configuration.
func NewServiceWithConfig(db *gorm.DB, cfg ServiceConfig) (*Service, error) {
	if db == nil {
		return nil, fmt.Errorf("odata: database handle is required")
	}
	cfg = cfg.withDefaults()
	ctx := auth.WithSystem(context.Background())

	bucket, err := storage.OpenBlobBucket(ctx, cfg.BlobURL)
	if err != nil {
		return nil, fmt.Errorf("odata: %w", err)
	}
	schema := content.NewSchema()
	logger := slog.Default()
	store, err := storage.New(ctx, db, schema,
		storage.WithBucket(bucket),
		storage.WithLogger(logger),
		storage.WithRootType(cfg.RootType))
	if err != nil {
		_ = bucket.Close()
		return nil, fmt.Errorf("odata: %w", err)
	}
	if err := store.Migrate(ctx); err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("odata: %w", err)
	}

	s := newService(store, schema, cfg, logger)
	s.store = store
	s.gormDB = db
	if err := s.rebuild(); err != nil {
		return nil, err
	}
	return s, nil
}

// NewServiceWithRepository creates a service over a host supplied repository.
// schema describes the content types the repository returns and may be nil.
func NewServiceWithRepository(repo Repository, schema *Schema, cfg ServiceConfig) (*Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("odata: repository is required")
	}
	if schema == nil {
		schema = content.NewSchema()
	}
	s := newService(repo, schema, cfg.withDefaults(), slog.Default())
	if err := s.rebuild(); err != nil {
		return nil, err
	}
	return s, nil
}

func newService(repo content.Repository, schema *content.Schema, cfg ServiceConfig, logger *slog.Logger) *Service {
	return &Service{
		cfg:        cfg,
		repo:       repo,
		schema:     schema,
		registry:   operations.NewRegistry(logger),
		fieldNames: projector.NewFieldNameCache(),
		logger:     logger,
	}
}

// rebuild assembles the dispatcher from the current settings. The caller
// holds s.mu or owns s exclusively.
func (s *Service) rebuild() error {
	center := operations.NewCenter(s.registry, s.repo,
		operations.WithLogger(s.logger),
		operations.WithObservability(s.observability),
		operations.WithInvocationTimeout(s.cfg.InvocationTimeout),
		operations.WithConfig(operations.Config{
			ServiceRoot: s.cfg.ServiceRoot,
			Settings:    s.cfg.Settings,
		}))
	d, err := handlers.NewDispatcher(handlers.Config{
		Repository:     s.repo,
		Schema:         s.schema,
		Center:         center,
		ServiceRoot:    s.cfg.ServiceRoot,
		ExpansionLimit: s.cfg.ExpansionLimit,
		MaxExpandDepth: s.cfg.MaxExpandDepth,
		MaxBodySize:    s.cfg.MaxBodySize,
		DebugErrors:    s.cfg.DebugErrors,
		PreRequestHook: s.preRequestHook,
		FieldNames:     s.fieldNames,
		Logger:         s.logger,
		Observability:  s.observability,
	})
	if err != nil {
		return fmt.Errorf("odata: %w", err)
	}
	s.dispatcher = d
	return nil
}

// ServeHTTP implements http.Handler.
func (s *Service) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mu.RLock()
	d := s.dispatcher
	s.mu.RUnlock()
	d.ServeHTTP(w, r)
}

// Repository returns the repository the service reads from.
func (s *Service) Repository() Repository {
	return s.repo
}

// Schema returns the content type registry.
func (s *Service) Schema() *Schema {
	return s.schema
}

// RegisterContentType declares a content type from an annotated struct. See
// the metadata package for the `odata:"..."` tag syntax. Parent types must be
// registered first.
//
// Example:
//
//	type Document struct {
//	    Body  string `odata:"richtext"`
//	    Owner int    `odata:"reference,allowedtypes=User"`
//	}
//
//	err := service.RegisterContentType(Document{})
func (s *Service) RegisterContentType(entity interface{}) error {
	ct, err := metadata.AnalyzeContentType(entity, s.schema)
	if err != nil {
		return fmt.Errorf("odata: %w", err)
	}
	return s.RegisterType(ct)
}

// RegisterType adds a content type built by hand.
func (s *Service) RegisterType(ct *ContentType) error {
	if err := s.schema.Register(ct); err != nil {
		return fmt.Errorf("odata: %w", err)
	}
	s.fieldNames.Reset()
	s.logger.Debug("Registered content type", "name", ct.Name, "fields", len(ct.Fields))
	return nil
}

// RegisterOperation adds an operation overload. Registration must finish
// before the first request is served.
func (s *Service) RegisterOperation(op Operation) error {
	info, err := s.registry.Register(op)
	if err != nil {
		return fmt.Errorf("odata: register operation %s: %w", op.Name, err)
	}
	s.logger.Debug("Registered operation",
		"name", info.Key,
		"signature", info.Signature(),
		"overloads", len(s.registry.Candidates(info.Key)))
	return nil
}

// RegisterPolicy makes a policy available to operations naming it in
// OperationAuth.Policies. Operations naming an unknown policy are invisible.
func (s *Service) RegisterPolicy(name string, p Policy) error {
	if err := s.registry.RegisterPolicy(name, p); err != nil {
		return fmt.Errorf("odata: register policy %s: %w", name, err)
	}
	return nil
}

// Operations lists the registered operation overloads.
func (s *Service) Operations() []*OperationInfo {
	return s.registry.Operations()
}

// SetLogger sets a custom logger for the service.
// If logger is nil, slog.Default() is used.
//
// # Example
//
//	if err := service.SetLogger(slog.New(slog.NewJSONHandler(os.Stdout, nil))); err != nil {
//	    log.Fatal(err)
//	}
func (s *Service) SetLogger(logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.logger = logger
	s.registry.SetLogger(logger)
	return s.rebuild()
}

// ObservabilityConfig configures observability features (tracing, metrics) for the service.
// All providers are optional; when nil, the corresponding feature is disabled with zero overhead.
type ObservabilityConfig struct {
	// TracerProvider provides the OpenTelemetry tracer for distributed tracing.
	// If nil, tracing is disabled.
	TracerProvider trace.TracerProvider

	// MeterProvider provides the OpenTelemetry meter for metrics collection.
	// If nil, metrics collection is disabled.
	MeterProvider metric.MeterProvider

	// ServiceName identifies this service in telemetry data.
	// Defaults to "odata-content" if not specified.
	ServiceName string

	// ServiceVersion is reported in telemetry attributes.
	ServiceVersion string

	// EnableDetailedDBTracing enables per-statement database spans. It needs
	// the built-in repository.
	EnableDetailedDBTracing bool

	// EnableQueryOptionTracing records the raw query options on request spans.
	EnableQueryOptionTracing bool

	// EnableServerTiming enables the Server-Timing HTTP response header.
	EnableServerTiming bool
}

// SetObservability configures OpenTelemetry-based observability for the service.
//
// When observability is configured:
//   - HTTP requests are instrumented with traces and metrics
//   - Reads, writes, projections and operation calls create spans
//   - Database statements can be traced (EnableDetailedDBTracing)
//   - Errors are recorded on spans and counted in metrics
//
// Example:
//
//	tp := sdktrace.NewTracerProvider(sdktrace.WithBatcher(exporter))
//	defer tp.Shutdown(ctx)
//	service.SetObservability(odata.ObservabilityConfig{
//	    TracerProvider: tp,
//	    ServiceName:    "content-api",
//	})
func (s *Service) SetObservability(cfg ObservabilityConfig) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	opts := []observability.Option{observability.WithLogger(s.logger)}
	if cfg.TracerProvider != nil {
		opts = append(opts, observability.WithTracerProvider(cfg.TracerProvider))
	}
	if cfg.MeterProvider != nil {
		opts = append(opts, observability.WithMeterProvider(cfg.MeterProvider))
	}
	if cfg.ServiceName != "" {
		opts = append(opts, observability.WithServiceName(cfg.ServiceName))
	}
	if cfg.ServiceVersion != "" {
		opts = append(opts, observability.WithServiceVersion(cfg.ServiceVersion))
	}
	if cfg.EnableDetailedDBTracing {
		opts = append(opts, observability.WithDetailedDBTracing())
	}
	if cfg.EnableQueryOptionTracing {
		opts = append(opts, observability.WithQueryOptionTracing())
	}
	if cfg.EnableServerTiming {
		opts = append(opts, observability.WithServerTiming())
	}

	obsCfg := observability.NewConfig(opts...)
	if err := obsCfg.Initialize(); err != nil {
		return fmt.Errorf("failed to initialize observability: %w", err)
	}

	if s.gormDB != nil {
		if cfg.EnableDetailedDBTracing {
			if err := observability.RegisterGORMCallbacks(s.gormDB, obsCfg); err != nil {
				return fmt.Errorf("failed to register GORM callbacks: %w", err)
			}
		}
		if cfg.EnableServerTiming {
			if err := observability.RegisterServerTimingCallbacks(s.gormDB); err != nil {
				return fmt.Errorf("failed to register server timing callbacks: %w", err)
			}
		}
	} else if cfg.EnableDetailedDBTracing {
		s.logger.Warn("Detailed database tracing needs the built-in repository")
	}

	s.observability = obsCfg
	if err := s.rebuild(); err != nil {
		return err
	}

	s.logger.Info("Observability configured",
		"tracing_enabled", cfg.TracerProvider != nil,
		"metrics_enabled", cfg.MeterProvider != nil,
		"server_timing_enabled", cfg.EnableServerTiming,
		"service_name", obsCfg.ServiceName(),
	)
	return nil
}

// Observability returns the current observability configuration.
// Returns nil if observability is not configured.
func (s *Service) Observability() *observability.Config {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.observability
}

// ServerTimingMetric tracks the duration of one phase for the Server-Timing
// response header.
type ServerTimingMetric = observability.ServerTimingMetric

// StartServerTiming starts a Server-Timing metric with the given name. It is a
// no-op unless EnableServerTiming is set. Operations can use it to time their
// own phases:
//
//	metric := odata.StartServerTiming(ctx, "thumbnail")
//	defer metric.Stop()
func StartServerTiming(ctx context.Context, name string) *ServerTimingMetric {
	return observability.StartServerTiming(ctx, name)
}

// StartServerTimingWithDesc starts a Server-Timing metric with a name and description.
func StartServerTimingWithDesc(ctx context.Context, name, description string) *ServerTimingMetric {
	return observability.StartServerTimingWithDesc(ctx, name, description)
}

// SetPreRequestHook registers a hook that is called before each request is
// processed. Pass nil to clear the hook.
//
// The hook can return:
//   - (nil, nil): Request proceeds with the original context
//   - (ctx, nil): Request proceeds with the returned context
//   - (_, err): Request is aborted with HTTP 403 Forbidden
//
// # Example - Loading the caller from a token
//
//	err := service.SetPreRequestHook(func(r *http.Request) (context.Context, error) {
//	    token := r.Header.Get("Authorization")
//	    if token == "" {
//	        return nil, nil // Visitor
//	    }
//	    user, err := validateAndParseToken(token)
//	    if err != nil {
//	        return nil, fmt.Errorf("authentication failed: %w", err)
//	    }
//	    return odata.WithUser(r.Context(), user.Name, user.Roles...), nil
//	})
func (s *Service) SetPreRequestHook(hook PreRequestHook) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.preRequestHook = hook
	return s.rebuild()
}

// SetServiceRoot sets the URL prefix the service answers under and that
// generated URLs carry.
//
// Example:
//
//	if err := service.SetServiceRoot("/api/content"); err != nil {
//	    log.Fatal(err)
//	}
//	mux.Handle("/api/content/", service)
func (s *Service) SetServiceRoot(root string) error {
	trimmed := strings.TrimSpace(root)
	if trimmed == "" {
		trimmed = DefaultServiceRoot
	}
	if !strings.HasPrefix(trimmed, "/") {
		return fmt.Errorf("service root must start with '/': got %q", trimmed)
	}
	if len(trimmed) > 1 && strings.HasSuffix(trimmed, "/") {
		return fmt.Errorf("service root must not end with '/': got %q", trimmed)
	}
	if strings.Contains(trimmed, "..") {
		return fmt.Errorf("service root cannot contain '..': got %q", trimmed)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.cfg.ServiceRoot = trimmed
	if err := s.rebuild(); err != nil {
		return err
	}
	s.logger.Debug("Service root configured", "service_root", trimmed)
	return nil
}

// ServiceRoot returns the configured URL prefix.
func (s *Service) ServiceRoot() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.dispatcher.ServiceRoot()
}

// Close releases the built-in repository. It is safe to call multiple times.
func (s *Service) Close() error {
	if s == nil || s.store == nil {
		return nil
	}
	err := s.store.Close()
	s.store = nil
	return err
}
