package auth

import (
	"context"
	"testing"
)

func TestFromContext(t *testing.T) {
	if a := FromContext(context.Background()); !a.IsVisitor() || a.Name() != VisitorPrincipal {
		t.Errorf("Empty context should be a visitor, got %+v", a)
	}

	ctx := WithUser(context.Background(), "alice", "Editors")
	a := FromContext(ctx)
	if a.IsVisitor() || a.Name() != "alice" {
		t.Errorf("Unexpected identity %+v", a)
	}
	if !a.HasRole("editors") || !a.HasRole(RoleEveryone) || a.HasRole(RoleVisitor) || a.HasRole(RoleAdministrators) {
		t.Error("Unexpected role results for alice")
	}

	sys := FromContext(WithSystem(context.Background()))
	if sys.IsVisitor() || !sys.HasRole(RoleAdministrators) {
		t.Error("System caller should hold every role")
	}

	wrong := context.WithValue(context.Background(), RolesContextKey, "Editors")
	if FromContext(wrong).HasRole("Editors") {
		t.Error("Roles of the wrong type should be ignored")
	}
}

func TestHasAnyRole(t *testing.T) {
	visitor := AuthContext{}
	tests := []struct {
		roles []string
		want  bool
	}{
		{nil, false},
		{[]string{"Editors"}, false},
		{[]string{"Editors", RoleVisitor}, true},
		{[]string{RoleEveryone}, true},
	}
	for _, tt := range tests {
		if got := visitor.HasAnyRole(tt.roles); got != tt.want {
			t.Errorf("HasAnyRole(%v) = %v, want %v", tt.roles, got, tt.want)
		}
	}
}
