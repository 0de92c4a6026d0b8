package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/nlstn/go-odata-content/internal/content"
	"github.com/nlstn/go-odata-content/internal/etag"
	"github.com/nlstn/go-odata-content/internal/metadata"
	"github.com/nlstn/go-odata-content/internal/observability"
	"github.com/nlstn/go-odata-content/internal/odataerrors"
	"github.com/nlstn/go-odata-content/internal/projector"
	"github.com/nlstn/go-odata-content/internal/query"
	"github.com/nlstn/go-odata-content/internal/response"
)

// handleGet serves GET and HEAD for collections, single contents and members.
func (d *Dispatcher) handleGet(w http.ResponseWriter, r *http.Request, req *query.Request) error {
	if req.IsCollection {
		return d.serveCollection(w, r, req)
	}

	target, err := d.loadTarget(r.Context(), req, true)
	if err != nil {
		return err
	}
	if req.IsMemberRequest {
		return d.serveMember(w, r, req, target)
	}
	if req.CountOnly {
		return odataerrors.New(odataerrors.ResourceNotFound, "$count is only supported on collections")
	}
	if req.IsRawValueRequest {
		return d.serveBinary(w, r, target, "Binary")
	}

	p, err := projector.New(req, d.env)
	if err != nil {
		return err
	}
	doc, err := p.Project(r.Context(), target)
	if err != nil {
		return err
	}
	return response.WriteEntity(w, r, http.StatusOK, doc)
}

// loadTarget loads the content addressed by req. With virtual set, a missing
// path is resolved through its parent when the repository supports it.
func (d *Dispatcher) loadTarget(ctx context.Context, req *query.Request, virtual bool) (*content.Content, error) {
	ctx, span := d.obs.Tracer().StartEntityRead(ctx, req.RepositoryPath, false)
	defer span.End()
	timing := observability.StartServerTiming(ctx, observability.TimingLoad)
	defer timing.Stop()

	c, err := d.loadContent(ctx, req.RepositoryPath, req.Version)
	if err != nil {
		observability.RecordError(span, err, "")
		return nil, err
	}
	if c == nil && virtual {
		if vp, ok := d.repo.(content.VirtualChildProvider); ok {
			parent := content.ParentOf(req.RepositoryPath)
			name := req.RepositoryPath[len(parent):]
			if len(name) > 0 && name[0] == '/' {
				name = name[1:]
			}
			c, err = vp.LoadVirtualChild(ctx, parent, name)
			if err != nil {
				return nil, err
			}
		}
	}
	if c == nil {
		return nil, odataerrors.NotFound(req.RepositoryPath)
	}
	return c, nil
}

func (d *Dispatcher) loadContent(ctx context.Context, path, version string) (*content.Content, error) {
	if version != "" {
		if vl, ok := d.repo.(content.VersionLoader); ok {
			return vl.LoadContentVersion(ctx, path, version)
		}
	}
	return d.repo.LoadContentByPath(ctx, path)
}

// serveCollection lists the children of the addressed content.
func (d *Dispatcher) serveCollection(w http.ResponseWriter, r *http.Request, req *query.Request) error {
	ctx, span := d.obs.Tracer().StartEntityRead(r.Context(), req.RepositoryPath, true)
	defer span.End()
	r = r.WithContext(ctx)

	var p projector.Projector
	return d.executeCollectionQuery(ctx, &collectionExecutionContext{
		Request: req,
		BeforeRead: func(req *query.Request) error {
			parent, err := d.repo.LoadContentByPath(ctx, req.RepositoryPath)
			if err != nil {
				return err
			}
			if parent == nil {
				return odataerrors.NotFound(req.RepositoryPath)
			}
			if req.CountOnly {
				return nil
			}
			p, err = projector.New(req, d.env)
			return err
		},
		WriteResponse: func(req *query.Request, contents []*content.Content, total int) error {
			if req.CountOnly {
				return response.WriteCount(w, r, total)
			}
			count := len(contents)
			if req.InlineCount == query.InlineCountAllPages {
				count = total
			}
			span.SetAttributes(observability.ResultCountAttr(len(contents)))
			doc, err := p.ProjectCollection(ctx, contents, count)
			if err != nil {
				return err
			}
			return response.WriteCollection(w, r, doc)
		},
	})
}

// serveMember answers GET on /content/Member. A name that is not a field is
// tried as a function-style operation call.
func (d *Dispatcher) serveMember(w http.ResponseWriter, r *http.Request, req *query.Request, target *content.Content) error {
	name := req.PropertyName
	f, ok := target.Field(name)
	if !ok || content.IsDisabledField(name) {
		return d.invoke(w, r, req, target)
	}
	if !d.repo.IsAllowedField(r.Context(), target, name) {
		return odataerrors.Denied("Access denied to field %s", name)
	}
	if req.CountOnly {
		return odataerrors.New(odataerrors.ResourceNotFound, "$count is only supported on collections")
	}
	mr := &memberRenderer{d: d, w: w, r: r, req: req, owner: target}
	_, err := f.Visit(r.Context(), mr)
	return err
}

// memberRenderer writes the response for one member of a content.
type memberRenderer struct {
	d     *Dispatcher
	w     http.ResponseWriter
	r     *http.Request
	req   *query.Request
	owner *content.Content
}

func (m *memberRenderer) property(f *content.Field, v interface{}) (interface{}, error) {
	if m.req.IsRawValueRequest {
		return nil, response.WriteRaw(m.w, m.r, v)
	}
	doc := projector.NewDocument()
	doc.Set(f.Name(), v)
	return nil, response.WriteEntity(m.w, m.r, http.StatusOK, doc)
}

func (m *memberRenderer) Scalar(f *content.Field, v content.Scalar) (interface{}, error) {
	data := v.Data
	if rt, ok := data.(content.RichTextValue); ok && !m.req.RichTextRequested(f.Name()) {
		data = rt.Text
	}
	return m.property(f, data)
}

func (m *memberRenderer) Reference(f *content.Field, v content.Reference) (interface{}, error) {
	ctx := m.r.Context()
	p, err := projector.New(m.req, m.d.env)
	if err != nil {
		return nil, err
	}
	refs, err := m.d.loadReferences(ctx, v.IDs)
	if err != nil {
		return nil, err
	}
	if f.Setting.AllowMultiple {
		doc, err := p.ProjectMultiRefContents(ctx, refs)
		if err != nil {
			return nil, err
		}
		return nil, response.WriteCollection(m.w, m.r, doc)
	}
	if len(refs) == 0 {
		return nil, response.WriteValue(m.w, m.r, nil)
	}
	doc, err := p.Project(ctx, refs[0])
	if err != nil {
		return nil, err
	}
	return nil, response.WriteEntity(m.w, m.r, http.StatusOK, doc)
}

func (m *memberRenderer) Binary(f *content.Field, v content.Binary) (interface{}, error) {
	if m.req.IsRawValueRequest {
		return nil, m.d.serveBinary(m.w, m.r, m.owner, f.Name())
	}
	url := projector.EntityURL(m.d.serviceRoot, m.owner.Path)
	return m.property(f, projector.MediaResource(url, f.Name(), v))
}

func (m *memberRenderer) Choice(f *content.Field, v content.Choice) (interface{}, error) {
	selected := v.Selected
	if selected == nil {
		selected = []string{}
	}
	return m.property(f, selected)
}

func (m *memberRenderer) ChildTypes(f *content.Field, v content.ChildTypes) (interface{}, error) {
	names := v.Names
	if names == nil {
		names = []string{}
	}
	return m.property(f, names)
}

// loadReferences loads ids in order. Missing and inaccessible contents are
// left out.
func (d *Dispatcher) loadReferences(ctx context.Context, ids []int) ([]*content.Content, error) {
	out := make([]*content.Content, 0, len(ids))
	for _, id := range ids {
		c, err := d.repo.LoadContentByID(ctx, id)
		if errors.Is(err, content.ErrAccessDenied) {
			d.logger.Debug("Skipping inaccessible reference", "id", id)
			continue
		}
		if err != nil {
			return nil, err
		}
		if c != nil {
			out = append(out, c)
		}
	}
	return out, nil
}

// serveBinary streams a binary field of c.
func (d *Dispatcher) serveBinary(w http.ResponseWriter, r *http.Request, c *content.Content, field string) error {
	br, ok := d.repo.(content.BinaryReader)
	if !ok {
		return odataerrors.New(odataerrors.ResourceNotFound, "Binary streams are not supported")
	}
	if _, exists := c.Field(field); !exists {
		return odataerrors.NotFound(c.Path + "/" + field)
	}
	if !d.repo.IsAllowedField(r.Context(), c, field) {
		return odataerrors.Denied("Access denied to field %s", field)
	}
	body, b, err := br.OpenBinary(r.Context(), c, field)
	if err != nil {
		return err
	}
	if body == nil {
		response.WriteNoContent(w)
		return nil
	}
	defer body.Close()
	return response.WriteStream(w, r, b.ContentType, etag.Media(b.Hash), b.Size, body)
}

// serveMetadata writes $metadata as XML, or JSON with $format=json.
func (d *Dispatcher) serveMetadata(w http.ResponseWriter, r *http.Request, req *query.Request) error {
	d.metadataOnce.Do(func() {
		d.metadataDoc = metadata.Build(d.schema)
	})
	if req.Format == query.FormatXML {
		response.SetODataHeaders(w, response.ContentTypeXML)
		w.WriteHeader(http.StatusOK)
		if r.Method == http.MethodHead {
			return nil
		}
		if err := d.metadataDoc.WriteXML(w); err != nil {
			d.logger.Error("Error writing metadata", "error", err)
		}
		return nil
	}
	response.SetODataHeaders(w, response.ContentTypeJSON)
	w.WriteHeader(http.StatusOK)
	if r.Method == http.MethodHead {
		return nil
	}
	if err := d.metadataDoc.WriteJSON(w); err != nil {
		d.logger.Error("Error writing metadata", "error", err)
	}
	return nil
}

// serveServiceDocument lists the root children the caller may open.
func (d *Dispatcher) serveServiceDocument(w http.ResponseWriter, r *http.Request, req *query.Request) error {
	ctx := r.Context()
	result, err := d.repo.Query(ctx, content.QuerySpec{
		Parent:      query.RootPath,
		Autofilters: true,
	})
	if err != nil {
		return err
	}
	names := make([]string, 0, len(result.IDs))
	for _, id := range result.IDs {
		c, err := d.repo.LoadContentByID(ctx, id)
		if errors.Is(err, content.ErrAccessDenied) {
			continue
		}
		if err != nil {
			return err
		}
		if c != nil {
			names = append(names, c.Name)
		}
	}
	doc := projector.NewDocument()
	doc.Set("EntitySets", names)
	return response.WriteEntity(w, r, http.StatusOK, doc)
}
