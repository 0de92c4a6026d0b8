package handlers

import (
	"bytes"
	"net/http"

	"github.com/nlstn/go-odata-content/internal/content"
	"github.com/nlstn/go-odata-content/internal/operations"
	"github.com/nlstn/go-odata-content/internal/projector"
	"github.com/nlstn/go-odata-content/internal/query"
	"github.com/nlstn/go-odata-content/internal/response"
)

// handleInvoke serves POST on a member path: the member names an operation.
func (d *Dispatcher) handleInvoke(w http.ResponseWriter, r *http.Request, req *query.Request) error {
	target, err := d.loadTarget(r.Context(), req, true)
	if err != nil {
		return err
	}
	return d.invoke(w, r, req, target)
}

// invoke resolves req.PropertyName against target and writes the result.
func (d *Dispatcher) invoke(w http.ResponseWriter, r *http.Request, req *query.Request, target *content.Content) error {
	ctx := r.Context()
	var body []byte
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		data, err := d.bodyBytes(w, r)
		if err != nil {
			return err
		}
		body = data
	}
	params, err := operations.NewParameterCollection(r.URL.Query(), bytes.NewReader(body))
	if err != nil {
		return err
	}

	call, err := d.center.Resolve(ctx, req.PropertyName, target, params)
	if err != nil {
		return err
	}
	d.logger.Debug("Invoking operation",
		"operation", call.Operation.Signature(),
		"path", target.Path,
		"binding", call.Mode.String())

	result, err := d.center.Invoke(ctx, call, operations.Invocation{
		Method:         r.Method,
		HTTPRequest:    r,
		ResponseWriter: w,
		Request:        req,
	})
	if sw, ok := w.(*statusWriter); ok && sw.written {
		// The operation wrote its own response.
		if err != nil {
			d.logger.Error("Operation failed after writing its response",
				"operation", call.Operation.Signature(),
				"path", target.Path,
				"status", sw.status,
				"error", err)
		}
		return nil
	}
	if err != nil {
		return err
	}
	return d.writeResult(w, r, req, result)
}

// writeResult renders an operation result. Contents are projected with the
// request's select and expand options.
func (d *Dispatcher) writeResult(w http.ResponseWriter, r *http.Request, req *query.Request, result interface{}) error {
	ctx := r.Context()
	switch v := result.(type) {
	case nil:
		response.WriteNoContent(w)
		return nil
	case *content.Content:
		p, err := projector.New(req, d.env)
		if err != nil {
			return err
		}
		doc, err := p.Project(ctx, v)
		if err != nil {
			return err
		}
		return response.WriteEntity(w, r, http.StatusOK, doc)
	case []*content.Content:
		p, err := projector.New(req, d.env)
		if err != nil {
			return err
		}
		doc, err := p.ProjectCollection(ctx, v, len(v))
		if err != nil {
			return err
		}
		return response.WriteCollection(w, r, doc)
	default:
		return response.WriteValue(w, r, v)
	}
}
