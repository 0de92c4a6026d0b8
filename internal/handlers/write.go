package handlers

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/nlstn/go-odata-content/internal/content"
	"github.com/nlstn/go-odata-content/internal/odataerrors"
	"github.com/nlstn/go-odata-content/internal/projector"
	"github.com/nlstn/go-odata-content/internal/query"
	"github.com/nlstn/go-odata-content/internal/response"
)

// Reserved body members of a create request.
const (
	BodyContentType = "__ContentType"
	BodyName        = "Name"
)

// handleCreate creates a child of the addressed content from the JSON body.
func (d *Dispatcher) handleCreate(w http.ResponseWriter, r *http.Request, req *query.Request) error {
	if !req.IsCollection {
		return methodNotAllowed(r.Method, req.RepositoryPath)
	}
	ctx, span := d.obs.Tracer().StartEntityWrite(r.Context(), "create", req.RepositoryPath)
	defer span.End()

	parent, err := d.repo.LoadContentByPath(ctx, req.RepositoryPath)
	if err != nil {
		return err
	}
	if parent == nil {
		return odataerrors.NotFound(req.RepositoryPath)
	}

	body, err := d.readBody(w, r)
	if err != nil {
		return err
	}
	typeName, _ := body[BodyContentType].(string)
	if typeName == "" {
		typeName = defaultChildType(parent)
	}
	name, _ := body[BodyName].(string)
	if strings.TrimSpace(name) == "" {
		name = uuid.NewString()
	}

	created, err := d.repo.CreateContent(ctx, parent.Path, content.CreateRequest{
		Type:          typeName,
		Name:          name,
		Fields:        writableFields(body, BodyContentType, BodyName),
		MultistepSave: req.MultistepSave,
	})
	if err != nil {
		return err
	}
	d.env.FieldNames.Reset()
	d.logger.Debug("Created content", "path", created.Path, "type", typeName)

	p, err := projector.New(req, d.env)
	if err != nil {
		return err
	}
	doc, err := p.Project(ctx, created)
	if err != nil {
		return err
	}
	w.Header().Set("Location", projector.EntityURL(d.serviceRoot, created.Path))
	return response.WriteEntity(w, r, http.StatusCreated, doc)
}

// defaultChildType picks the type of a create request that names none.
func defaultChildType(parent *content.Content) string {
	if parent.Type != nil && len(parent.Type.AllowedChildTypes) > 0 {
		return parent.Type.AllowedChildTypes[0]
	}
	return content.GenericContentTypeName
}

// handleUpdate applies the body to the addressed content. reset selects the
// PUT semantics: unnamed fields return to their defaults first.
func (d *Dispatcher) handleUpdate(w http.ResponseWriter, r *http.Request, req *query.Request, reset bool) error {
	if req.IsCollection || req.IsMemberRequest {
		return methodNotAllowed(r.Method, req.RepositoryPath)
	}
	ctx, span := d.obs.Tracer().StartEntityWrite(r.Context(), "update", req.RepositoryPath)
	defer span.End()

	target, err := d.loadTarget(ctx, req, false)
	if err != nil {
		return err
	}
	body, err := d.readBody(w, r)
	if err != nil {
		return err
	}
	if err := d.repo.SaveContent(ctx, target, writableFields(body), reset); err != nil {
		return err
	}
	d.env.FieldNames.Reset()

	saved, err := d.repo.LoadContentByPath(ctx, target.Path)
	if err != nil {
		return err
	}
	if saved == nil {
		return odataerrors.NotFound(target.Path)
	}
	p, err := projector.New(req, d.env)
	if err != nil {
		return err
	}
	doc, err := p.Project(ctx, saved)
	if err != nil {
		return err
	}
	return response.WriteEntity(w, r, http.StatusOK, doc)
}

// handleDelete deletes the addressed content. permanent=true bypasses the trash.
func (d *Dispatcher) handleDelete(w http.ResponseWriter, r *http.Request, req *query.Request) error {
	if req.IsCollection || req.IsMemberRequest {
		return methodNotAllowed(r.Method, req.RepositoryPath)
	}
	ctx, span := d.obs.Tracer().StartEntityWrite(r.Context(), "delete", req.RepositoryPath)
	defer span.End()

	target, err := d.loadTarget(ctx, req, true)
	if err != nil {
		return err
	}
	permanent, _ := strconv.ParseBool(r.URL.Query().Get("permanent"))
	if err := d.repo.DeleteContent(ctx, target, permanent); err != nil {
		return err
	}
	d.env.FieldNames.Reset()
	d.logger.Debug("Deleted content", "path", target.Path, "permanent", permanent)
	response.WriteNoContent(w)
	return nil
}

// readBody decodes a JSON object body. An empty body yields an empty map.
func (d *Dispatcher) readBody(w http.ResponseWriter, r *http.Request) (map[string]interface{}, error) {
	data, err := d.bodyBytes(w, r)
	if err != nil {
		return nil, err
	}
	out := make(map[string]interface{})
	if len(bytes.TrimSpace(data)) == 0 {
		return out, nil
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(&out); err != nil {
		return nil, odataerrors.Wrap(odataerrors.InvalidBody, err, ErrMsgInvalidBody)
	}
	return out, nil
}

// bodyBytes reads the request body up to the configured limit.
func (d *Dispatcher) bodyBytes(w http.ResponseWriter, r *http.Request) ([]byte, error) {
	if r.Body == nil {
		return nil, nil
	}
	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, d.maxBody))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return nil, odataerrors.Wrap(odataerrors.InvalidBody, err, "Request body too large")
		}
		return nil, odataerrors.Wrap(odataerrors.InvalidBody, err, ErrMsgInvalidBody)
	}
	return data, nil
}

// writableFields drops protocol members and pseudo fields from a body.
func writableFields(body map[string]interface{}, skip ...string) map[string]interface{} {
	out := make(map[string]interface{}, len(body))
	for name, value := range body {
		if strings.HasPrefix(name, "__") || content.IsPseudoField(name) {
			continue
		}
		skipped := false
		for _, s := range skip {
			if name == s {
				skipped = true
				break
			}
		}
		if !skipped {
			out[name] = value
		}
	}
	return out
}
