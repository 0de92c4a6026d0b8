package operations

import (
	"context"
	"fmt"
	"log/slog"
	"reflect"
	"strings"
	"time"

	"github.com/nlstn/go-odata-content/internal/auth"
	"github.com/nlstn/go-odata-content/internal/content"
	"github.com/nlstn/go-odata-content/internal/observability"
	"github.com/nlstn/go-odata-content/internal/odataerrors"
)

// Center resolves and invokes operations registered in a Registry.
type Center struct {
	registry *Registry
	perms    content.PermissionChecker
	actions  content.ActionProvider
	logger   *slog.Logger
	obs      *observability.Config
	config   Config
	timeout  time.Duration
}

// Option configures a Center.
type Option func(*Center)

// WithLogger sets the logger. A nil logger uses slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(c *Center) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithObservability records spans and metrics for invocations.
func WithObservability(cfg *observability.Config) Option {
	return func(c *Center) { c.obs = cfg }
}

// WithConfig sets the value passed to operations declaring a Config parameter.
func WithConfig(cfg Config) Option {
	return func(c *Center) { c.config = cfg }
}

// WithInvocationTimeout bounds each invocation. Zero means no deadline.
func WithInvocationTimeout(d time.Duration) Option {
	return func(c *Center) { c.timeout = d }
}

// NewCenter creates a Center. perms answers permission checks for the
// caller; when it also implements content.ActionProvider its descriptors are
// merged into action lists.
func NewCenter(registry *Registry, perms content.PermissionChecker, opts ...Option) *Center {
	c := &Center{registry: registry, perms: perms, logger: slog.Default()}
	if provider, ok := perms.(content.ActionProvider); ok {
		c.actions = provider
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Registry returns the registry the center reads from.
func (c *Center) Registry() *Registry {
	return c.registry
}

// CallingContext is one resolved invocation.
type CallingContext struct {
	Content   *content.Content
	Operation *OperationInfo
	// Parameters holds the bound value of every declared parameter.
	Parameters map[string]interface{}
	// Mode records which binding pass succeeded.
	Mode Mode

	args map[*ParamInfo]reflect.Value
}

type bound struct {
	call      *CallingContext
	unused    int
	defaulted int
}

// Resolve picks the single overload of name that accepts target and params.
func (c *Center) Resolve(ctx context.Context, name string, target *content.Content, params *ParameterCollection) (*CallingContext, error) {
	candidates := c.registry.Candidates(name)
	if len(candidates) == 0 {
		return nil, odataerrors.New(odataerrors.OperationNotFound, "Operation not found: %s", name)
	}

	candidates = filter(candidates, func(op *OperationInfo) bool {
		for _, p := range op.Required {
			if !params.Has(p.Name) {
				return false
			}
		}
		return true
	})
	if len(candidates) == 0 {
		return nil, odataerrors.New(odataerrors.OperationNotFound, "Operation not found: %s", name)
	}

	candidates = filter(candidates, func(op *OperationInfo) bool { return op.AppliesTo(target) })
	if len(candidates) == 0 {
		return nil, odataerrors.New(odataerrors.OperationNotFound, "Operation not found: %s", name)
	}

	var authorized []*OperationInfo
	for _, op := range candidates {
		ok, err := c.authorized(ctx, target, op)
		if err != nil {
			return nil, err
		}
		if ok {
			authorized = append(authorized, op)
		}
	}
	if len(authorized) == 0 {
		return nil, odataerrors.Denied("Access denied to operation %s", name)
	}

	for _, mode := range []Mode{Strict, Coercive} {
		var binds []bound
		for _, op := range authorized {
			if b, ok := c.bindCandidate(target, op, params, mode); ok {
				binds = append(binds, b)
			}
		}
		if len(binds) == 0 {
			continue
		}
		return pick(name, binds)
	}
	return nil, odataerrors.New(odataerrors.OperationNotFound, "Operation not found: %s", name)
}

// pick prefers the bind that leaves the fewest supplied parameters unused,
// then the one that fills the fewest optional parameters from defaults.
func pick(name string, binds []bound) (*CallingContext, error) {
	best := []bound{binds[0]}
	for _, b := range binds[1:] {
		switch cmp := compareBinds(b, best[0]); {
		case cmp < 0:
			best = []bound{b}
		case cmp == 0:
			best = append(best, b)
		}
	}
	if len(best) == 1 {
		return best[0].call, nil
	}
	signatures := make([]string, len(best))
	for i, b := range best {
		signatures[i] = b.call.Operation.Signature()
	}
	err := odataerrors.New(odataerrors.AmbiguousMatch, "Ambiguous call of %s: %s", name, strings.Join(signatures, "; "))
	err.Candidates = signatures
	return nil, err
}

func compareBinds(a, b bound) int {
	switch {
	case a.unused != b.unused:
		return a.unused - b.unused
	default:
		return a.defaulted - b.defaulted
	}
}

func (c *Center) bindCandidate(target *content.Content, op *OperationInfo, params *ParameterCollection, mode Mode) (bound, bool) {
	call := &CallingContext{
		Content:    target,
		Operation:  op,
		Parameters: make(map[string]interface{}),
		Mode:       mode,
		args:       make(map[*ParamInfo]reflect.Value),
	}
	used := make(map[string]bool)
	defaulted := 0
	for _, p := range op.Params() {
		pv, ok := params.Get(p.Name)
		if !ok {
			if !p.Optional {
				return bound{}, false
			}
			call.args[p] = p.Default
			call.Parameters[p.Name] = p.Default.Interface()
			defaulted++
			continue
		}
		v, err := pv.Bind(p.Type, mode)
		if err != nil {
			c.logger.Debug("Parameter does not bind", "operation", op.Signature(), "parameter", p.Name, "mode", mode.String(), "error", err)
			return bound{}, false
		}
		used[strings.ToLower(pv.Name)] = true
		call.args[p] = v
		call.Parameters[p.Name] = v.Interface()
	}
	unused := 0
	for _, name := range params.Names() {
		if !used[strings.ToLower(name)] {
			unused++
		}
	}
	return bound{call: call, unused: unused, defaulted: defaulted}, true
}

// authorized applies the declared roles and permissions. It does not apply
// the closed default for undeclared operations; Invoke does.
func (c *Center) authorized(ctx context.Context, target *content.Content, op *OperationInfo) (bool, error) {
	caller := auth.FromContext(ctx)
	if caller.System {
		return true, nil
	}
	if len(op.Auth.Roles) > 0 && !caller.HasAnyRole(op.Auth.Roles) {
		return false, nil
	}
	if len(op.Auth.Permissions) > 0 {
		if target == nil || c.perms == nil {
			return false, nil
		}
		ok, err := c.perms.HasPermission(ctx, target.Path, op.Auth.Permissions...)
		if err != nil {
			return false, fmt.Errorf("check permissions of %s on %s: %w", op.Key, target.Path, err)
		}
		return ok, nil
	}
	return true, nil
}

func filter(ops []*OperationInfo, keep func(*OperationInfo) bool) []*OperationInfo {
	out := ops[:0]
	for _, op := range ops {
		if keep(op) {
			out = append(out, op)
		}
	}
	return out
}
