// Package projector renders contents into OData documents according to the
// $select and $expand trees of a request.
package projector

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/nlstn/go-odata-content/internal/content"
	"github.com/nlstn/go-odata-content/internal/observability"
	"github.com/nlstn/go-odata-content/internal/odataerrors"
	"github.com/nlstn/go-odata-content/internal/query"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Defaults applied to a zero Environment.
const (
	DefaultExpansionLimit = 1000
	DefaultMaxExpandDepth = 10
	DefaultServiceRoot    = "/odata.svc"
)

// Strategy names reported by Projector.Name.
const (
	StrategySimple         = "simple"
	StrategySimpleExpander = "simple-expander"
	StrategyExpander       = "expander"
	StrategyExport         = "export"
)

// ActionLister lists the actions applicable to a content.
type ActionLister interface {
	ListActions(ctx context.Context, c *content.Content, scenario string) ([]content.ActionDescriptor, error)
}

// Environment carries the collaborators shared by every projection.
type Environment struct {
	Repository content.Repository
	// Actions feeds the Actions pseudo-field and full metadata. Optional.
	Actions ActionLister
	// ServiceRoot prefixes every generated URL.
	ServiceRoot string
	// ExpansionLimit caps how many referenced contents one expanded field renders.
	ExpansionLimit int
	// MaxExpandDepth caps the nesting of $expand.
	MaxExpandDepth int
	// FieldNames caches natural field sets across requests. Optional.
	FieldNames    *FieldNameCache
	Logger        *slog.Logger
	Observability *observability.Config
}

func (env Environment) withDefaults() *Environment {
	if env.ExpansionLimit <= 0 {
		env.ExpansionLimit = DefaultExpansionLimit
	}
	if env.MaxExpandDepth <= 0 {
		env.MaxExpandDepth = DefaultMaxExpandDepth
	}
	if env.ServiceRoot == "" {
		env.ServiceRoot = DefaultServiceRoot
	}
	if env.Logger == nil {
		env.Logger = slog.Default()
	}
	if env.FieldNames == nil {
		env.FieldNames = NewFieldNameCache()
	}
	return &env
}

// Projector renders contents for one request.
type Projector interface {
	// Name identifies the strategy.
	Name() string
	// Project renders a single content.
	Project(ctx context.Context, c *content.Content) (*Document, error)
	// ProjectCollection renders a page of contents as {"__count", "results"}.
	ProjectCollection(ctx context.Context, contents []*content.Content, count int) (*Document, error)
	// ProjectMultiRefContents renders referenced contents as a collection,
	// applying the request's $filter, $orderby, $skip, $top and $inlinecount.
	ProjectMultiRefContents(ctx context.Context, refs []*content.Content) (*Document, error)
}

// New picks the strategy for req. It fails when the select or expand trees
// are malformed.
func New(req *query.Request, env Environment) (Projector, error) {
	e := &engine{env: env.withDefaults(), req: req}

	if req.IsExport() {
		p := &ExportProjector{engine: e}
		e.name = StrategyExport
		e.render = p.project
		return p, nil
	}

	exp, err := ParseTree(req.Expand, odataerrors.InvalidExpandParameter)
	if err != nil {
		return nil, err
	}
	if err := validateExpand(exp, e.env.MaxExpandDepth); err != nil {
		return nil, err
	}
	sel, err := ParseTree(req.Select, odataerrors.InvalidSelectParameter)
	if err != nil {
		return nil, err
	}
	if err := validateSelect(sel, exp); err != nil {
		return nil, err
	}

	switch {
	case len(req.Expand) > 0 && len(req.Select) > 0:
		e.name = StrategyExpander
		e.root = scope{sel: sel, exp: exp}
		e.render = e.projectScoped
		return &ExpanderProjector{engine: e}, nil
	case len(req.Expand) > 0:
		e.name = StrategySimpleExpander
		e.root = scope{exp: exp}
		e.render = e.projectScoped
		return &SimpleExpanderProjector{engine: e}, nil
	default:
		e.name = StrategySimple
		if len(req.Select) > 0 {
			e.root = scope{sel: sel}
		}
		e.render = e.projectScoped
		return &SimpleProjector{engine: e}, nil
	}
}

// SimpleProjector renders the selected fields, or the natural field set when
// nothing is selected, without expanding references.
type SimpleProjector struct{ *engine }

// SimpleExpanderProjector renders every field and expands the ones named in
// $expand.
type SimpleExpanderProjector struct{ *engine }

// ExpanderProjector renders a merged select and expand tree.
type ExpanderProjector struct{ *engine }

// lineage is the chain of content ids on the current expansion path.
type lineage struct {
	id     int
	parent *lineage
}

func (l *lineage) contains(id int) bool {
	for cur := l; cur != nil; cur = cur.parent {
		if cur.id == id {
			return true
		}
	}
	return false
}

// scope is the select and expand subtree in effect for one content.
type scope struct {
	// sel is nil when every natural field is rendered.
	sel *Property
	// exp is nil when nothing below is expanded.
	exp   *Property
	depth int
	path  *lineage
}

func (sc scope) selectDriven() bool {
	return sc.sel != nil
}

func (sc scope) expanded(name string) bool {
	return sc.exp.Child(name) != nil
}

// descend returns the scope of a referenced content reached through name.
// A selected field without sub-selections renders its target in full.
func (sc scope) descend(name string, from int) scope {
	next := scope{depth: sc.depth + 1, path: &lineage{id: from, parent: sc.path}}
	if node := sc.sel.Child(name); node != nil && !node.IsLeaf() {
		next.sel = node
	}
	next.exp = sc.exp.Child(name)
	return next
}

type candidate struct {
	name     string
	explicit bool
}

type engine struct {
	env    *Environment
	req    *query.Request
	name   string
	root   scope
	render func(ctx context.Context, c *content.Content, sc scope) (*Document, error)
}

func (e *engine) Name() string {
	return e.name
}

// Project renders c using the request's top-level scope.
func (e *engine) Project(ctx context.Context, c *content.Content) (*Document, error) {
	ctx, span := e.env.Observability.Tracer().StartProjection(ctx, e.name, c.Path)
	defer span.End()
	timing := observability.StartServerTiming(ctx, observability.TimingProject)
	defer timing.Stop()

	start := time.Now()
	doc, err := e.render(ctx, c, e.root)
	if err != nil {
		observability.RecordError(span, err, "")
		return nil, err
	}
	e.env.Observability.Metrics().RecordProjection(ctx, e.name, 1, time.Since(start))
	return doc, nil
}

// ProjectCollection renders contents in order.
func (e *engine) ProjectCollection(ctx context.Context, contents []*content.Content, count int) (*Document, error) {
	ctx, span := e.env.Observability.Tracer().StartProjection(ctx, e.name, e.req.RepositoryPath)
	defer span.End()
	timing := observability.StartServerTiming(ctx, observability.TimingProject)
	defer timing.Stop()

	start := time.Now()
	results := make([]interface{}, 0, len(contents))
	for _, c := range contents {
		doc, err := e.render(ctx, c, e.root)
		if err != nil {
			observability.RecordError(span, err, "")
			return nil, err
		}
		results = append(results, doc)
	}
	span.SetAttributes(observability.ResultCountAttr(len(results)))
	e.env.Observability.Metrics().RecordProjection(ctx, e.name, len(results), time.Since(start))
	return CollectionDocument(count, results), nil
}

// ProjectMultiRefContents filters, sorts and pages refs before rendering them.
func (e *engine) ProjectMultiRefContents(ctx context.Context, refs []*content.Content) (*Document, error) {
	matched := make([]*content.Content, 0, len(refs))
	for _, c := range refs {
		ok, err := query.Matches(e.req.Filter, content.AsRecord(ctx, c))
		if err != nil {
			return nil, odataerrors.Wrap(odataerrors.InvalidFilterParameter, err, "Filter cannot be evaluated")
		}
		if ok {
			matched = append(matched, c)
		}
	}
	content.SortContents(ctx, matched, e.req.Sort)

	total := len(matched)
	start := e.req.Skip
	if start > total {
		start = total
	}
	end := total
	if e.req.HasTop() && e.req.Top < end-start {
		end = start + e.req.Top
	}
	page := matched[start:end]

	count := len(page)
	if e.req.InlineCount == query.InlineCountAllPages {
		count = total
	}
	return e.ProjectCollection(ctx, page, count)
}

// projectScoped is the select and expand driven renderer shared by the
// interactive strategies.
func (e *engine) projectScoped(ctx context.Context, c *content.Content, sc scope) (*Document, error) {
	doc := NewDocument()
	if e.req.EntityMetadata != query.MetadataNone {
		meta, err := e.metadataEntry(ctx, c)
		if err != nil {
			return nil, err
		}
		doc.Set(MetadataKey, meta)
	}
	for _, cand := range e.candidates(c, sc) {
		if doc.Has(cand.name) {
			continue
		}
		value, emit, err := e.renderField(ctx, c, cand, sc)
		if err != nil {
			return nil, err
		}
		if emit {
			doc.Set(cand.name, value)
		}
	}
	return doc, nil
}

// candidates lists the field names to render for c, in output order.
func (e *engine) candidates(c *content.Content, sc scope) []candidate {
	natural := e.env.FieldNames.Names(c)
	if !sc.selectDriven() {
		out := make([]candidate, 0, len(natural))
		for _, name := range natural {
			out = append(out, candidate{name: name})
		}
		return out
	}

	seen := make(map[string]bool)
	var out []candidate
	add := func(name string, explicit bool) {
		if seen[name] {
			return
		}
		seen[name] = true
		out = append(out, candidate{name: name, explicit: explicit})
	}
	for _, node := range sc.sel.Children {
		if !node.IsJoker() {
			add(node.Name, true)
		}
	}
	if sc.sel.HasJoker() {
		for _, name := range natural {
			add(name, false)
		}
	}
	if sc.exp != nil {
		for _, node := range sc.exp.Children {
			if _, ok := c.Field(node.Name); ok || content.IsPseudoField(node.Name) {
				add(node.Name, false)
			}
		}
	}
	return out
}

// renderField returns the value of one field and whether it produces a key.
func (e *engine) renderField(ctx context.Context, c *content.Content, cand candidate, sc scope) (interface{}, bool, error) {
	name := cand.name
	if content.IsDisabledField(name) {
		return nil, cand.explicit, nil
	}

	f, ok := c.Field(name)
	if !ok {
		if content.IsPseudoField(name) {
			v, err := e.renderPseudo(ctx, c, name, sc)
			return v, true, err
		}
		return nil, cand.explicit, nil
	}
	if !e.env.Repository.IsAllowedField(ctx, c, name) {
		return nil, true, nil
	}

	expand := sc.expanded(name) && sc.depth < e.env.MaxExpandDepth
	if content.IsDeferredField(f.Setting) && !expand {
		return Deferred(EntityURL(e.env.ServiceRoot, c.Path) + "/" + name), true, nil
	}

	v, err := f.Visit(ctx, &fieldRenderer{
		ctx:    ctx,
		e:      e,
		owner:  c,
		expand: expand,
		scope:  sc.descend(name, c.ID),
	})
	if errors.Is(err, content.ErrAccessDenied) {
		e.swallowDenied(ctx, c, name)
		return nil, true, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("render field %s of %s: %w", name, c.Path, err)
	}
	return v, true, nil
}

func (e *engine) swallowDenied(ctx context.Context, c *content.Content, field string) {
	e.env.Logger.Debug("Field access denied during projection", "path", c.Path, "field", field)
	trace.SpanFromContext(ctx).AddEvent("field access denied", trace.WithAttributes(
		attribute.String("odata.content.path", c.Path),
		attribute.String("odata.field", field),
	))
	e.env.Observability.Metrics().RecordSwallowedDenial(ctx, field)
}

func (e *engine) renderPseudo(ctx context.Context, c *content.Content, name string, sc scope) (interface{}, error) {
	self := EntityURL(e.env.ServiceRoot, c.Path)
	expand := sc.expanded(name) && sc.depth < e.env.MaxExpandDepth
	switch name {
	case content.IconFieldName:
		if c.Type == nil {
			return nil, nil
		}
		return c.Type.EffectiveIcon(), nil
	case content.IsFileFieldName:
		return c.HasBinary(), nil
	case content.ActionsFieldName:
		if !expand {
			return Deferred(self + "/" + name), nil
		}
		actions, err := e.listActions(ctx, c)
		if err != nil {
			return nil, err
		}
		out := make([]interface{}, 0, len(actions))
		for _, a := range actions {
			out = append(out, ActionDocument(a))
		}
		return out, nil
	case content.ChildrenFieldName:
		if !expand {
			return Deferred(self + "/" + name), nil
		}
		return e.expandChildren(ctx, c, sc.descend(name, c.ID))
	}
	return nil, nil
}

// expandChildren renders the children of c as a nested collection. Autofilters
// and the lifespan filter are off unless the request switches them on.
func (e *engine) expandChildren(ctx context.Context, c *content.Content, sc scope) (interface{}, error) {
	res, err := e.env.Repository.Query(ctx, content.QuerySpec{
		Parent:        c.Path,
		Top:           e.env.ExpansionLimit,
		Autofilters:   e.req.Autofilters.Resolve(false),
		Lifespan:      e.req.LifespanFilter.Resolve(false),
		ExecutionMode: e.req.ExecutionMode,
	})
	if err != nil {
		return nil, fmt.Errorf("query children of %s: %w", c.Path, err)
	}
	results := make([]interface{}, 0, len(res.IDs))
	for _, id := range res.IDs {
		child, err := e.env.Repository.LoadContentByID(ctx, id)
		if errors.Is(err, content.ErrAccessDenied) || (err == nil && child == nil) {
			continue
		}
		if err != nil {
			return nil, err
		}
		doc, err := e.render(ctx, child, sc)
		if err != nil {
			return nil, err
		}
		results = append(results, doc)
	}
	return Envelope(CollectionDocument(res.TotalCount, results)), nil
}

func (e *engine) listActions(ctx context.Context, c *content.Content) ([]content.ActionDescriptor, error) {
	if e.env.Actions == nil {
		return nil, nil
	}
	actions, err := e.env.Actions.ListActions(ctx, c, e.req.Scenario)
	if err != nil {
		return nil, fmt.Errorf("list actions of %s: %w", c.Path, err)
	}
	return actions, nil
}

// metadataEntry builds __metadata. Dynamic types have no self link and no
// operations.
func (e *engine) metadataEntry(ctx context.Context, c *content.Content) (*Document, error) {
	meta := NewDocument()
	dynamic := c.Type != nil && c.Type.Dynamic
	if !dynamic {
		meta.Set("uri", EntityURL(e.env.ServiceRoot, c.Path))
	}
	meta.Set("type", c.TypeName())
	if e.req.EntityMetadata != query.MetadataFull {
		return meta, nil
	}
	if dynamic {
		meta.Set("actions", []interface{}{})
		meta.Set("functions", []interface{}{})
		return meta, nil
	}
	descriptors, err := e.listActions(ctx, c)
	if err != nil {
		return nil, err
	}
	actions, functions := operationEntries(descriptors)
	meta.Set("actions", actions)
	meta.Set("functions", functions)
	return meta, nil
}
