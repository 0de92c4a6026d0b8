// Package auth carries the caller identity through request contexts.
package auth

import (
	"context"
	"strings"
)

type contextKey string

const (
	// PrincipalContextKey holds the authenticated principal. A missing or empty
	// principal means the caller is a visitor.
	PrincipalContextKey contextKey = "odata_principal"
	// RolesContextKey holds the caller's roles as []string.
	RolesContextKey contextKey = "odata_roles"
	// SystemContextKey marks an elevated system caller when set to true.
	SystemContextKey contextKey = "odata_system"
	// ClaimsContextKey holds arbitrary claims as map[string]interface{}.
	ClaimsContextKey contextKey = "odata_claims"
)

// Well-known role names.
const (
	RoleEveryone       = "Everyone"
	RoleVisitor        = "Visitor"
	RoleAdministrators = "Administrators"
)

// VisitorPrincipal is the name reported for anonymous callers.
const VisitorPrincipal = "Visitor"

// AuthContext describes who is calling.
type AuthContext struct {
	Principal string
	Roles     []string
	Claims    map[string]interface{}
	System    bool
}

// IsVisitor reports whether the caller is anonymous.
func (a AuthContext) IsVisitor() bool {
	return !a.System && (a.Principal == "" || a.Principal == VisitorPrincipal)
}

// HasRole reports whether the caller belongs to role. Everyone matches every
// caller; Visitor matches anonymous callers only.
func (a AuthContext) HasRole(role string) bool {
	if a.System {
		return true
	}
	switch {
	case strings.EqualFold(role, RoleEveryone):
		return true
	case strings.EqualFold(role, RoleVisitor):
		return a.IsVisitor()
	}
	for _, r := range a.Roles {
		if strings.EqualFold(r, role) {
			return true
		}
	}
	return false
}

// HasAnyRole reports whether the caller belongs to at least one of roles.
func (a AuthContext) HasAnyRole(roles []string) bool {
	for _, role := range roles {
		if a.HasRole(role) {
			return true
		}
	}
	return false
}

// Name returns the principal or the visitor name.
func (a AuthContext) Name() string {
	if a.Principal == "" {
		return VisitorPrincipal
	}
	return a.Principal
}

// FromContext extracts the caller identity. Values of the wrong type are ignored.
func FromContext(ctx context.Context) AuthContext {
	var a AuthContext
	if ctx == nil {
		return a
	}
	if principal, ok := ctx.Value(PrincipalContextKey).(string); ok {
		a.Principal = principal
	}
	if roles, ok := ctx.Value(RolesContextKey).([]string); ok {
		a.Roles = roles
	}
	if claims, ok := ctx.Value(ClaimsContextKey).(map[string]interface{}); ok {
		a.Claims = claims
	}
	if system, ok := ctx.Value(SystemContextKey).(bool); ok {
		a.System = system
	}
	return a
}

// WithUser attaches a principal and roles to ctx.
func WithUser(ctx context.Context, principal string, roles ...string) context.Context {
	ctx = context.WithValue(ctx, PrincipalContextKey, principal)
	return context.WithValue(ctx, RolesContextKey, roles)
}

// WithSystem marks ctx as running with system privileges.
func WithSystem(ctx context.Context) context.Context {
	return context.WithValue(ctx, SystemContextKey, true)
}
