package projector

import (
	"strings"

	"github.com/nlstn/go-odata-content/internal/odataerrors"
)

// Joker is the wildcard select item meaning all remaining fields.
const Joker = "*"

// Property is a node of a select or expand tree. The root has an empty name.
type Property struct {
	Name     string
	Children []*Property

	index map[string]*Property
}

// ParseTree builds a tree from slash separated paths such as
// "CreatedBy/Manager". Malformed paths are reported with code.
func ParseTree(paths []string, code odataerrors.Code) (*Property, error) {
	root := &Property{}
	for _, p := range paths {
		node := root
		for _, seg := range strings.Split(p, "/") {
			seg = strings.TrimSpace(seg)
			if seg == "" {
				return nil, odataerrors.New(code, "Empty segment in %q", p)
			}
			node = node.add(seg)
		}
	}
	return root, nil
}

func (p *Property) add(name string) *Property {
	if child, ok := p.index[name]; ok {
		return child
	}
	if p.index == nil {
		p.index = make(map[string]*Property)
	}
	child := &Property{Name: name}
	p.index[name] = child
	p.Children = append(p.Children, child)
	return child
}

// Child returns the named child or nil. It is safe on a nil receiver.
func (p *Property) Child(name string) *Property {
	if p == nil {
		return nil
	}
	return p.index[name]
}

// IsJoker reports whether the node is the wildcard.
func (p *Property) IsJoker() bool {
	return p != nil && p.Name == Joker
}

// HasJoker reports whether a direct child is the wildcard.
func (p *Property) HasJoker() bool {
	return p.Child(Joker) != nil
}

// IsLeaf reports whether the node has no children.
func (p *Property) IsLeaf() bool {
	return p == nil || len(p.Children) == 0
}

// Depth returns the number of levels below p.
func (p *Property) Depth() int {
	if p == nil {
		return 0
	}
	max := 0
	for _, c := range p.Children {
		if d := c.Depth(); d > max {
			max = d
		}
	}
	if p.Name == "" {
		return max
	}
	return max + 1
}

// validateExpand rejects wildcards and trees deeper than maxDepth.
func validateExpand(exp *Property, maxDepth int) error {
	if exp == nil {
		return nil
	}
	if d := exp.Depth(); d > maxDepth {
		return odataerrors.New(odataerrors.InvalidExpandParameter, "$expand depth %d exceeds the maximum of %d", d, maxDepth)
	}
	var walk func(p *Property) error
	walk = func(p *Property) error {
		for _, c := range p.Children {
			if c.IsJoker() {
				return odataerrors.New(odataerrors.InvalidExpandParameter, "Wildcard is not allowed in $expand")
			}
			if err := walk(c); err != nil {
				return err
			}
		}
		return nil
	}
	return walk(exp)
}

// validateSelect checks that every nested select path runs through expanded
// fields and that wildcards only appear as leaves.
func validateSelect(sel, exp *Property) error {
	for _, c := range sel.Children {
		if c.IsJoker() {
			if !c.IsLeaf() {
				return odataerrors.New(odataerrors.InvalidSelectParameter, "Wildcard cannot have sub-selections")
			}
			continue
		}
		if c.IsLeaf() {
			continue
		}
		next := exp.Child(c.Name)
		if next == nil {
			return odataerrors.New(odataerrors.InvalidSelectParameter, "Field %s must be expanded to select its members", c.Name)
		}
		if err := validateSelect(c, next); err != nil {
			return err
		}
	}
	return nil
}
