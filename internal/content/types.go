package content

import (
	"fmt"
	"sort"
	"strings"
	"sync"
)

// ContentType describes a kind of content and its fields. Types form a single
// inheritance chain through Parent.
type ContentType struct {
	Name        string
	Parent      *ContentType
	Description string
	Icon        string
	// Fields holds the fields declared by this type, not the inherited ones.
	Fields []*FieldSetting
	// AllowedChildTypes restricts the types that can be created below instances.
	// Empty means any type.
	AllowedChildTypes []string
	// Dynamic types exist only at runtime and have no addressable self link.
	Dynamic bool
}

// IsInstanceOf reports whether t is name or inherits from it.
func (t *ContentType) IsInstanceOf(name string) bool {
	for cur := t; cur != nil; cur = cur.Parent {
		if strings.EqualFold(cur.Name, name) {
			return true
		}
	}
	return false
}

// FieldSettings returns inherited fields first, then own fields. A field
// redeclared by a descendant replaces the inherited setting in place.
func (t *ContentType) FieldSettings() []*FieldSetting {
	if t == nil {
		return nil
	}
	var chain []*ContentType
	for cur := t; cur != nil; cur = cur.Parent {
		chain = append(chain, cur)
	}
	var out []*FieldSetting
	index := make(map[string]int)
	for i := len(chain) - 1; i >= 0; i-- {
		for _, fs := range chain[i].Fields {
			if pos, ok := index[fs.Name]; ok {
				out[pos] = fs
				continue
			}
			index[fs.Name] = len(out)
			out = append(out, fs)
		}
	}
	return out
}

// FieldSetting finds a field setting by name, including inherited ones.
func (t *ContentType) FieldSetting(name string) (*FieldSetting, bool) {
	for cur := t; cur != nil; cur = cur.Parent {
		for _, fs := range cur.Fields {
			if fs.Name == name {
				return fs, true
			}
		}
	}
	return nil, false
}

// EffectiveIcon returns the type's icon or the nearest inherited one.
func (t *ContentType) EffectiveIcon() string {
	for cur := t; cur != nil; cur = cur.Parent {
		if cur.Icon != "" {
			return cur.Icon
		}
	}
	return ""
}

// AllowsChild reports whether a child of typeName may be created below instances of t.
func (t *ContentType) AllowsChild(typeName string) bool {
	if len(t.AllowedChildTypes) == 0 {
		return true
	}
	for _, name := range t.AllowedChildTypes {
		if strings.EqualFold(name, typeName) {
			return true
		}
	}
	return false
}

// Schema is a registry of content types keyed by name.
type Schema struct {
	mu    sync.RWMutex
	types map[string]*ContentType
}

// NewSchema creates a schema containing the GenericContent base type.
func NewSchema() *Schema {
	s := &Schema{types: make(map[string]*ContentType)}
	s.types[strings.ToLower(GenericContentTypeName)] = GenericContent()
	return s
}

// Register adds a content type. A type without a parent inherits GenericContent.
func (s *Schema) Register(ct *ContentType) error {
	if ct == nil || ct.Name == "" {
		return fmt.Errorf("content type name is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	key := strings.ToLower(ct.Name)
	if _, exists := s.types[key]; exists {
		return fmt.Errorf("content type %q is already registered", ct.Name)
	}
	if ct.Parent == nil && key != strings.ToLower(GenericContentTypeName) {
		ct.Parent = s.types[strings.ToLower(GenericContentTypeName)]
	}
	seen := make(map[string]bool, len(ct.Fields))
	for _, fs := range ct.Fields {
		if seen[fs.Name] {
			return fmt.Errorf("content type %q declares field %q twice", ct.Name, fs.Name)
		}
		seen[fs.Name] = true
	}
	s.types[key] = ct
	return nil
}

// Lookup returns the type registered under name.
func (s *Schema) Lookup(name string) (*ContentType, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ct, ok := s.types[strings.ToLower(name)]
	return ct, ok
}

// Types returns all registered types sorted by name.
func (s *Schema) Types() []*ContentType {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*ContentType, 0, len(s.types))
	for _, ct := range s.types {
		out = append(out, ct)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// GenericContentTypeName is the root of every type chain.
const GenericContentTypeName = "GenericContent"

// GenericContent returns the base type carrying the fields every content has.
func GenericContent() *ContentType {
	return &ContentType{
		Name: GenericContentTypeName,
		Icon: "content",
		Fields: []*FieldSetting{
			{Name: "Id", Kind: KindScalar, Type: "Int"},
			{Name: "ParentId", Kind: KindScalar, Type: "Int"},
			{Name: "Name", Kind: KindScalar, Type: "String"},
			{Name: "DisplayName", Kind: KindScalar, Type: "String"},
			{Name: "Path", Kind: KindScalar, Type: "String"},
			{Name: "Type", Kind: KindScalar, Type: "String"},
			{Name: "Index", Kind: KindScalar, Type: "Int"},
			{Name: "Description", Kind: KindScalar, Type: "String", RichText: true},
			{Name: "CreationDate", Kind: KindScalar, Type: "DateTime"},
			{Name: "ModificationDate", Kind: KindScalar, Type: "DateTime"},
			{Name: "CreatedBy", Kind: KindReference},
			{Name: "ModifiedBy", Kind: KindReference},
			{Name: "Version", Kind: KindScalar, Type: "String"},
			{Name: "AllowedChildTypes", Kind: KindChildTypes, AllowMultiple: true},
			{Name: "EffectiveAllowedChildTypes", Kind: KindChildTypes, AllowMultiple: true},
		},
	}
}
