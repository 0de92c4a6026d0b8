package projector

import (
	"context"
	"errors"
	"fmt"

	"github.com/nlstn/go-odata-content/internal/content"
)

// ExportProjector renders every visible field in its natural form for
// migration and backup. It ignores $select, $expand and metadata.
type ExportProjector struct{ *engine }

func (p *ExportProjector) project(ctx context.Context, c *content.Content, _ scope) (*Document, error) {
	doc := NewDocument()
	for _, f := range c.Fields() {
		name := f.Name()
		if content.IsDisabledField(name) || !p.env.Repository.IsAllowedField(ctx, c, name) {
			continue
		}
		v, err := f.Visit(ctx, &exportRenderer{ctx: ctx, repo: p.env.Repository})
		if errors.Is(err, content.ErrAccessDenied) {
			p.swallowDenied(ctx, c, name)
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("export field %s of %s: %w", name, c.Path, err)
		}
		doc.Set(name, v)
	}
	return doc, nil
}

// exportRenderer uses paths for references and names for type lists.
type exportRenderer struct {
	ctx  context.Context
	repo content.Loader
}

func (r *exportRenderer) Scalar(f *content.Field, v content.Scalar) (interface{}, error) {
	return v.Data, nil
}

func (r *exportRenderer) Reference(f *content.Field, v content.Reference) (interface{}, error) {
	paths := make([]string, 0, len(v.IDs))
	for _, id := range v.IDs {
		target, err := r.repo.LoadContentByID(r.ctx, id)
		if errors.Is(err, content.ErrAccessDenied) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("load referenced content %d: %w", id, err)
		}
		if target != nil {
			paths = append(paths, target.Path)
		}
	}
	if f.Setting.AllowMultiple {
		return paths, nil
	}
	if len(paths) == 0 {
		return nil, nil
	}
	return paths[0], nil
}

func (r *exportRenderer) Binary(f *content.Field, v content.Binary) (interface{}, error) {
	if v.Key == "" {
		return nil, nil
	}
	d := NewDocument()
	d.Set("FileName", v.FileName)
	d.Set("ContentType", v.ContentType)
	d.Set("Size", v.Size)
	d.Set("Hash", v.Hash)
	return d, nil
}

func (r *exportRenderer) Choice(f *content.Field, v content.Choice) (interface{}, error) {
	if v.Selected == nil {
		return []string{}, nil
	}
	return v.Selected, nil
}

func (r *exportRenderer) ChildTypes(f *content.Field, v content.ChildTypes) (interface{}, error) {
	if v.Names == nil {
		return []string{}, nil
	}
	return v.Names, nil
}
