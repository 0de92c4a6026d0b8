package content

import (
	"context"
	"sort"

	"github.com/nlstn/go-odata-content/internal/query"
)

// AsRecord exposes c to the filter evaluator. Fields the caller cannot read
// evaluate as missing.
func AsRecord(ctx context.Context, c *Content) query.Record {
	return record{ctx: ctx, c: c}
}

type record struct {
	ctx context.Context
	c   *Content
}

func (r record) Value(name string) (interface{}, bool) {
	f, ok := r.c.Field(name)
	if !ok {
		return nil, false
	}
	v, err := f.Data(r.ctx)
	if err != nil {
		return nil, false
	}
	return ComparableValue(v), true
}

func (r record) IsOf(typeName string) bool {
	return r.c.Type != nil && r.c.Type.IsInstanceOf(typeName)
}

// ComparableValue reduces a field value to something query.Compare understands.
func ComparableValue(v Value) interface{} {
	switch t := v.(type) {
	case Scalar:
		if rt, ok := t.Data.(RichTextValue); ok {
			return rt.Text
		}
		return t.Data
	case Reference:
		if len(t.IDs) == 0 {
			return nil
		}
		return t.IDs[0]
	case Choice:
		if len(t.Selected) == 0 {
			return nil
		}
		return t.Selected[0]
	case Binary:
		if t.FileName == "" {
			return nil
		}
		return t.FileName
	case ChildTypes:
		if len(t.Names) == 0 {
			return nil
		}
		return t.Names[0]
	}
	return nil
}

// SortContents orders contents in place by sorts. Nil values sort first and
// ties fall through to the next key.
func SortContents(ctx context.Context, contents []*Content, sorts []query.SortInfo) {
	if len(sorts) == 0 {
		return
	}
	sort.SliceStable(contents, func(i, j int) bool {
		return less(AsRecord(ctx, contents[i]), AsRecord(ctx, contents[j]), sorts)
	})
}

func less(a, b query.Record, sorts []query.SortInfo) bool {
	for _, s := range sorts {
		va, _ := a.Value(s.FieldName)
		vb, _ := b.Value(s.FieldName)
		var cmp int
		switch {
		case va == nil && vb == nil:
			cmp = 0
		case va == nil:
			cmp = -1
		case vb == nil:
			cmp = 1
		default:
			c, err := query.Compare(va, vb)
			if err != nil {
				continue
			}
			cmp = c
		}
		if cmp == 0 {
			continue
		}
		if s.Descending {
			return cmp > 0
		}
		return cmp < 0
	}
	return false
}
