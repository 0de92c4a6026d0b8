// Package content defines the repository content model consumed by the OData
// layer and the interfaces a repository has to provide.
package content

import (
	"path"
	"strings"
)

// Content is a repository entity with a type and an ordered field set.
type Content struct {
	ID   int
	Path string
	Name string
	Type *ContentType

	fields []*Field
	byName map[string]*Field
}

// New creates a content with the given fields. Later fields with a duplicate
// name replace earlier ones in place, keeping names unique.
func New(id int, contentPath string, ct *ContentType, fields []*Field) *Content {
	c := &Content{
		ID:     id,
		Path:   contentPath,
		Name:   path.Base(contentPath),
		Type:   ct,
		byName: make(map[string]*Field, len(fields)),
	}
	for _, f := range fields {
		c.SetField(f)
	}
	return c
}

// SetField adds or replaces a field.
func (c *Content) SetField(f *Field) {
	if existing, ok := c.byName[f.Name()]; ok {
		for i, cur := range c.fields {
			if cur == existing {
				c.fields[i] = f
				break
			}
		}
	} else {
		c.fields = append(c.fields, f)
	}
	c.byName[f.Name()] = f
}

// Fields returns the fields in type order.
func (c *Content) Fields() []*Field {
	return c.fields
}

// Field looks up a field by exact name.
func (c *Content) Field(name string) (*Field, bool) {
	f, ok := c.byName[name]
	return f, ok
}

// FieldNames returns the field names in order.
func (c *Content) FieldNames() []string {
	names := make([]string, 0, len(c.fields))
	for _, f := range c.fields {
		names = append(names, f.Name())
	}
	return names
}

// ParentPath returns the path of the containing content, or "" for the root.
func (c *Content) ParentPath() string {
	return ParentOf(c.Path)
}

// TypeName returns the content type name.
func (c *Content) TypeName() string {
	if c.Type == nil {
		return ""
	}
	return c.Type.Name
}

// HasBinary reports whether any field of the content is a binary field.
func (c *Content) HasBinary() bool {
	for _, f := range c.fields {
		if f.Setting.Kind == KindBinary {
			return true
		}
	}
	return false
}

// ParentOf returns the parent path of p.
func ParentOf(p string) string {
	p = strings.TrimRight(p, "/")
	idx := strings.LastIndex(p, "/")
	if idx <= 0 {
		return ""
	}
	return p[:idx]
}

// Join builds a child path.
func Join(parent, name string) string {
	return strings.TrimRight(parent, "/") + "/" + name
}
