package projector

import (
	"context"
	"errors"
	"fmt"

	"github.com/nlstn/go-odata-content/internal/content"
)

// fieldRenderer renders one field value for the interactive strategies.
type fieldRenderer struct {
	ctx    context.Context
	e      *engine
	owner  *content.Content
	expand bool
	// scope applies to referenced contents.
	scope scope
}

func (r *fieldRenderer) self(f *content.Field) string {
	return EntityURL(r.e.env.ServiceRoot, r.owner.Path) + "/" + f.Name()
}

func (r *fieldRenderer) Scalar(f *content.Field, v content.Scalar) (interface{}, error) {
	switch data := v.Data.(type) {
	case content.RichTextValue:
		if r.e.req.RichTextRequested(f.Name()) {
			return data, nil
		}
		return data.Text, nil
	case string:
		if f.Setting.RichText && r.e.req.RichTextRequested(f.Name()) {
			return content.RichTextValue{Text: data}, nil
		}
	}
	return v.Data, nil
}

func (r *fieldRenderer) Reference(f *content.Field, v content.Reference) (interface{}, error) {
	if !r.expand {
		return Deferred(r.self(f)), nil
	}
	for _, id := range v.IDs {
		if r.scope.path.contains(id) {
			return Deferred(r.self(f)), nil
		}
	}
	if f.Setting.AllowMultiple {
		return r.expandMany(v.IDs)
	}
	if len(v.IDs) == 0 {
		return nil, nil
	}
	target, err := r.load(v.IDs[0])
	if err != nil || target == nil {
		return nil, err
	}
	doc, err := r.e.render(r.ctx, target, r.scope)
	if err != nil {
		return nil, err
	}
	return Envelope(doc), nil
}

// expandMany renders at most ExpansionLimit referenced contents. Missing and
// inaccessible targets are left out of the results and the count.
func (r *fieldRenderer) expandMany(ids []int) (interface{}, error) {
	limit := r.e.env.ExpansionLimit
	results := make([]interface{}, 0, min(len(ids), limit))
	skipped := 0
	for i, id := range ids {
		if i >= limit {
			break
		}
		target, err := r.load(id)
		if err != nil {
			return nil, err
		}
		if target == nil {
			skipped++
			continue
		}
		doc, err := r.e.render(r.ctx, target, r.scope)
		if err != nil {
			return nil, err
		}
		results = append(results, doc)
	}
	return Envelope(CollectionDocument(len(ids)-skipped, results)), nil
}

// load returns nil for targets that are missing or that the caller cannot open.
func (r *fieldRenderer) load(id int) (*content.Content, error) {
	target, err := r.e.env.Repository.LoadContentByID(r.ctx, id)
	if errors.Is(err, content.ErrAccessDenied) {
		r.e.swallowDenied(r.ctx, r.owner, fmt.Sprintf("content(%d)", id))
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load referenced content %d: %w", id, err)
	}
	return target, nil
}

func (r *fieldRenderer) Binary(f *content.Field, v content.Binary) (interface{}, error) {
	return MediaResource(EntityURL(r.e.env.ServiceRoot, r.owner.Path), f.Name(), v), nil
}

func (r *fieldRenderer) Choice(f *content.Field, v content.Choice) (interface{}, error) {
	if v.Selected == nil {
		return []string{}, nil
	}
	return v.Selected, nil
}

func (r *fieldRenderer) ChildTypes(f *content.Field, v content.ChildTypes) (interface{}, error) {
	if v.Names == nil {
		return []string{}, nil
	}
	return v.Names, nil
}
