// Package operations registers invocable content operations, resolves an
// incoming call against overloaded candidates and invokes the winner.
package operations

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"

	"github.com/nlstn/go-odata-content/internal/content"
)

// CaseInsensitiveNames folds operation names before lookup.
const CaseInsensitiveNames = true

// ErrSealed is returned when registering after the registry was sealed.
var ErrSealed = errors.New("operations: registry is sealed")

// Param names one client supplied parameter of an operation function. Params
// are matched positionally against the function's non-system parameters.
type Param struct {
	Name string
	// Optional parameters take Default when the caller omits them. A nil
	// Default means the zero value of the parameter type.
	Optional bool
	Default  interface{}
}

// Auth declares who may invoke an operation. An operation with no roles, no
// permissions and no policies can only be invoked by system callers.
type Auth struct {
	// Roles grants access to callers in any of the roles.
	Roles []string
	// Permissions must all be held on the target content.
	Permissions []content.Permission
	// Policies are evaluated in order; the most restrictive result wins.
	Policies []string
}

// IsEmpty reports whether nothing was declared.
func (a Auth) IsEmpty() bool {
	return len(a.Roles) == 0 && len(a.Permissions) == 0 && len(a.Policies) == 0
}

// Definition describes an operation overload at registration time.
//
// Func must be a function whose first parameter is *content.Content (the
// target). Parameters of type context.Context, *http.Request,
// http.ResponseWriter, *query.Request and Config are supplied by the service.
// Every other parameter is described by the matching entry of Params.
//
// Func may return nothing, error, a value, or a value and an error. A value of
// type <-chan Result or <-chan error is awaited before the call completes.
type Definition struct {
	Name string
	// Controller namespaces the operation as "Controller.Name".
	Controller  string
	DisplayName string
	Description string
	Icon        string
	Func        interface{}
	Params      []Param
	// ContentTypes limits the operation to instances of these types. Empty
	// means any type.
	ContentTypes []string
	// Scenarios limits where the operation is listed. Empty means everywhere.
	Scenarios         []string
	Auth              Auth
	CausesStateChange bool
}

// CanonicalName builds the registry key of an operation.
func CanonicalName(controller, name string) string {
	key := name
	if controller != "" {
		key = controller + "." + name
	}
	if CaseInsensitiveNames {
		key = strings.ToLower(key)
	}
	return key
}

// Registry holds operations and policies. It is written during startup and
// read concurrently once sealed.
type Registry struct {
	mu         sync.RWMutex
	operations map[string][]*OperationInfo
	order      []string
	policies   map[string]Policy
	sealed     bool
	logger     *slog.Logger
}

// NewRegistry creates an empty registry. A nil logger uses slog.Default().
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		operations: make(map[string][]*OperationInfo),
		policies:   make(map[string]Policy),
		logger:     logger,
	}
}

// SetLogger replaces the logger used for registration messages.
func (r *Registry) SetLogger(logger *slog.Logger) {
	if logger == nil {
		logger = slog.Default()
	}
	r.mu.Lock()
	r.logger = logger
	r.mu.Unlock()
}

// Register analyzes def and adds it as an overload of its name.
func (r *Registry) Register(def Definition) (*OperationInfo, error) {
	if strings.TrimSpace(def.Name) == "" {
		return nil, fmt.Errorf("operations: operation name cannot be empty")
	}
	info, err := analyze(def)
	if err != nil {
		return nil, fmt.Errorf("operations: invalid operation %q: %w", def.Name, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.sealed {
		return nil, ErrSealed
	}
	if _, ok := r.operations[info.Key]; !ok {
		r.order = append(r.order, info.Key)
	}
	r.operations[info.Key] = append(r.operations[info.Key], info)
	r.logger.Debug("Registered operation",
		"name", info.Key,
		"overloads", len(r.operations[info.Key]),
		"required", len(info.Required),
		"optional", len(info.Optional),
		"stateChange", info.CausesStateChange)
	return info, nil
}

// RegisterPolicy adds a named policy. Names are case-insensitive.
func (r *Registry) RegisterPolicy(name string, p Policy) error {
	if strings.TrimSpace(name) == "" {
		return fmt.Errorf("operations: policy name cannot be empty")
	}
	if p == nil {
		return fmt.Errorf("operations: policy %q cannot be nil", name)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.sealed {
		return ErrSealed
	}
	key := strings.ToLower(name)
	if _, exists := r.policies[key]; exists {
		return fmt.Errorf("operations: policy %q is already registered", name)
	}
	r.policies[key] = p
	r.logger.Debug("Registered policy", "name", name)
	return nil
}

// Seal stops further registration. It is safe to call more than once.
func (r *Registry) Seal() {
	r.mu.Lock()
	if !r.sealed {
		r.sealed = true
		r.logger.Debug("Operation registry sealed", "operations", len(r.order), "policies", len(r.policies))
	}
	r.mu.Unlock()
}

// Sealed reports whether Seal was called.
func (r *Registry) Sealed() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.sealed
}

// Candidates returns the overloads registered under name.
func (r *Registry) Candidates(name string) []*OperationInfo {
	key := name
	if CaseInsensitiveNames {
		key = strings.ToLower(name)
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	found := r.operations[key]
	out := make([]*OperationInfo, len(found))
	copy(out, found)
	return out
}

// Has reports whether any overload is registered under name.
func (r *Registry) Has(name string) bool {
	return len(r.Candidates(name)) > 0
}

// Operations returns every overload ordered by name, then registration order.
func (r *Registry) Operations() []*OperationInfo {
	r.mu.RLock()
	keys := make([]string, len(r.order))
	copy(keys, r.order)
	var out []*OperationInfo
	sort.Strings(keys)
	for _, k := range keys {
		out = append(out, r.operations[k]...)
	}
	r.mu.RUnlock()
	return out
}

// Policy looks up a policy by name.
func (r *Registry) Policy(name string) (Policy, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.policies[strings.ToLower(name)]
	return p, ok
}
