package operations

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"github.com/nlstn/go-odata-content/internal/content"
	"github.com/nlstn/go-odata-content/internal/query"
)

func TestRegisterAnalyzesSignature(t *testing.T) {
	r := NewRegistry(nil)
	info, err := r.Register(Definition{
		Name: "Rename",
		Func: func(c *content.Content, ctx context.Context, newName string, req *query.Request, force bool, w http.ResponseWriter) error {
			return nil
		},
		Params: []Param{{Name: "newName"}, {Name: "force", Optional: true, Default: true}},
		Auth:   Auth{Roles: []string{"Everyone"}},
	})
	if err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	if info.Key != "rename" {
		t.Errorf("Key = %s, want rename", info.Key)
	}
	if len(info.Required) != 1 || info.Required[0].Name != "newName" {
		t.Errorf("Required = %v", info.Required)
	}
	if len(info.Optional) != 1 || info.Optional[0].Default.Interface() != true {
		t.Errorf("Optional = %v", info.Optional)
	}
	if len(info.slots) != 5 {
		t.Errorf("slots = %d, want 5", len(info.slots))
	}
	if got := info.Signature(); got != "Rename(newName string, [force bool])" {
		t.Errorf("Signature() = %s", got)
	}
}

func TestRegisterRejectsInvalidDefinitions(t *testing.T) {
	tests := []struct {
		name string
		def  Definition
	}{
		{"empty name", Definition{Func: func(c *content.Content) {}}},
		{"nil func", Definition{Name: "Op"}},
		{"not a func", Definition{Name: "Op", Func: 42}},
		{"no target", Definition{Name: "Op", Func: func(s string) {}, Params: []Param{{Name: "s"}}}},
		{"missing param entry", Definition{Name: "Op", Func: func(c *content.Content, s string) {}}},
		{"extra param entry", Definition{Name: "Op", Func: func(c *content.Content) {}, Params: []Param{{Name: "s"}}}},
		{"duplicate param", Definition{Name: "Op", Func: func(c *content.Content, a, b string) {}, Params: []Param{{Name: "a"}, {Name: "A"}}}},
		{"bad default", Definition{Name: "Op", Func: func(c *content.Content, n int) {}, Params: []Param{{Name: "n", Optional: true, Default: "x"}}}},
		{"bad results", Definition{Name: "Op", Func: func(c *content.Content) (int, int) { return 0, 0 }}},
		{"variadic", Definition{Name: "Op", Func: func(c *content.Content, s ...string) {}, Params: []Param{{Name: "s"}}}},
		{"unsupported type", Definition{Name: "Op", Func: func(c *content.Content, ch chan int) {}, Params: []Param{{Name: "ch"}}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := NewRegistry(nil).Register(tt.def); err == nil {
				t.Fatal("expected an error")
			}
		})
	}
}

func TestRegistryOverloadsAndNames(t *testing.T) {
	r := NewRegistry(nil)
	mustRegister(t, r, Definition{Name: "Rename", Func: func(c *content.Content, s string) {}, Params: []Param{{Name: "newName"}}})
	mustRegister(t, r, Definition{Name: "rename", Func: func(c *content.Content, s string, f bool) {}, Params: []Param{{Name: "newName"}, {Name: "force"}}})
	mustRegister(t, r, Definition{Name: "Approve", Controller: "Workflow", Func: func(c *content.Content) {}})

	if n := len(r.Candidates("RENAME")); n != 2 {
		t.Errorf("Candidates(RENAME) = %d, want 2", n)
	}
	if !r.Has("workflow.approve") {
		t.Error("controller scoped name not found")
	}
	if r.Has("Approve") {
		t.Error("controller scoped operation found without its controller")
	}
	ops := r.Operations()
	if len(ops) != 3 || ops[0].Key != "rename" || ops[2].Key != "workflow.approve" {
		keys := make([]string, len(ops))
		for i, op := range ops {
			keys[i] = op.Key
		}
		t.Errorf("Operations() = %v", keys)
	}
}

func TestRegistrySeal(t *testing.T) {
	r := NewRegistry(nil)
	r.Seal()
	r.Seal()
	if !r.Sealed() {
		t.Fatal("Sealed() = false")
	}
	_, err := r.Register(Definition{Name: "Op", Func: func(c *content.Content) {}})
	if !errors.Is(err, ErrSealed) {
		t.Errorf("Register error = %v, want ErrSealed", err)
	}
	if err := r.RegisterPolicy("p", PolicyFunc(func(context.Context, *content.Content, *OperationInfo) PolicyResult { return PolicyEnabled })); !errors.Is(err, ErrSealed) {
		t.Errorf("RegisterPolicy error = %v, want ErrSealed", err)
	}
}

func TestRegisterPolicy(t *testing.T) {
	r := NewRegistry(nil)
	p := PolicyFunc(func(context.Context, *content.Content, *OperationInfo) PolicyResult { return PolicyDisabled })
	if err := r.RegisterPolicy("Locked", p); err != nil {
		t.Fatalf("RegisterPolicy failed: %v", err)
	}
	if err := r.RegisterPolicy("locked", p); err == nil {
		t.Error("duplicate policy accepted")
	}
	if err := r.RegisterPolicy("", p); err == nil {
		t.Error("empty policy name accepted")
	}
	if err := r.RegisterPolicy("nil", nil); err == nil {
		t.Error("nil policy accepted")
	}
	if _, ok := r.Policy("LOCKED"); !ok {
		t.Error("policy lookup is case-sensitive")
	}
}

func mustRegister(t *testing.T, r *Registry, def Definition) *OperationInfo {
	t.Helper()
	info, err := r.Register(def)
	if err != nil {
		t.Fatalf("Register(%s) failed: %v", def.Name, err)
	}
	return info
}
