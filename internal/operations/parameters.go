package operations

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/url"
	"reflect"
	"sort"
	"strings"

	"github.com/nlstn/go-odata-content/internal/odataerrors"
	"github.com/nlstn/go-odata-content/internal/query"
)

// ParameterValue is one supplied parameter. Conversions to a declared type
// happen on demand and are remembered.
type ParameterValue struct {
	Name string
	// FromBody is set when the value came from the JSON body.
	FromBody bool

	raw   interface{}
	cache map[bindKey]bindResult
}

type bindKey struct {
	t    reflect.Type
	mode Mode
}

type bindResult struct {
	v   reflect.Value
	err error
}

// NewParameterValue wraps a decoded JSON value or a query string.
func NewParameterValue(name string, raw interface{}) *ParameterValue {
	return &ParameterValue{Name: name, raw: raw}
}

// Raw returns the value as supplied.
func (p *ParameterValue) Raw() interface{} {
	return p.raw
}

// Kind returns the natural JSON type of the value.
func (p *ParameterValue) Kind() JSONKind {
	return kindOf(p.raw)
}

// Bind converts the value to t.
func (p *ParameterValue) Bind(t reflect.Type, mode Mode) (reflect.Value, error) {
	key := bindKey{t: t, mode: mode}
	if r, ok := p.cache[key]; ok {
		return r.v, r.err
	}
	v, err := bind(p.raw, t, mode)
	if p.cache == nil {
		p.cache = make(map[bindKey]bindResult)
	}
	p.cache[key] = bindResult{v: v, err: err}
	return v, err
}

// As binds coercively into the type of target, which must be a pointer.
func (p *ParameterValue) As(target interface{}) error {
	ptr := reflect.ValueOf(target)
	if ptr.Kind() != reflect.Pointer || ptr.IsNil() {
		return fmt.Errorf("target must be a non-nil pointer")
	}
	v, err := p.Bind(ptr.Elem().Type(), Coercive)
	if err != nil {
		return err
	}
	ptr.Elem().Set(v)
	return nil
}

// ParameterCollection merges query string and JSON body parameters. Names are
// matched case-insensitively. Body values win over query values of the same
// name; two names from the same source that differ only by case are rejected.
type ParameterCollection struct {
	values map[string]*ParameterValue
}

// NewParameterCollection reads parameters from params and body. System query
// options are skipped. An empty body is allowed; anything else must be a JSON
// object.
func NewParameterCollection(params url.Values, body io.Reader) (*ParameterCollection, error) {
	pc := &ParameterCollection{values: make(map[string]*ParameterValue)}
	fromQuery := make([]*ParameterValue, 0, len(params))
	for name, vals := range params {
		if query.IsSystemOption(name) || len(vals) == 0 {
			continue
		}
		if len(vals) == 1 {
			fromQuery = append(fromQuery, NewParameterValue(name, vals[0]))
			continue
		}
		items := make([]interface{}, len(vals))
		for i, v := range vals {
			items[i] = v
		}
		fromQuery = append(fromQuery, NewParameterValue(name, items))
	}
	if err := pc.merge(fromQuery); err != nil {
		return nil, err
	}

	if body == nil {
		return pc, nil
	}
	data, err := io.ReadAll(body)
	if err != nil {
		return nil, odataerrors.Wrap(odataerrors.InvalidBody, err, "Request body cannot be read")
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return pc, nil
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var fields map[string]interface{}
	if err := dec.Decode(&fields); err != nil {
		return nil, odataerrors.Wrap(odataerrors.InvalidBody, err, "Request body must be a JSON object")
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return nil, odataerrors.New(odataerrors.InvalidBody, "Request body must contain a single JSON object")
	}
	fromBody := make([]*ParameterValue, 0, len(fields))
	for name, v := range fields {
		pv := NewParameterValue(name, v)
		pv.FromBody = true
		fromBody = append(fromBody, pv)
	}
	if err := pc.merge(fromBody); err != nil {
		return nil, err
	}
	return pc, nil
}

// merge sets the values of one source. Names within a source must be unique
// after folding.
func (pc *ParameterCollection) merge(values []*ParameterValue) error {
	seen := make(map[string]string, len(values))
	for _, v := range values {
		key := foldName(v.Name)
		if other, ok := seen[key]; ok {
			first, second := other, v.Name
			if second < first {
				first, second = second, first
			}
			return odataerrors.New(odataerrors.InvalidBody, "Parameters %q and %q differ only by case", first, second)
		}
		seen[key] = v.Name
	}
	for _, v := range values {
		pc.Set(v)
	}
	return nil
}

func foldName(name string) string {
	return strings.ToLower(name)
}

// Set adds or replaces a parameter. A value replaces any parameter whose name
// differs only by case.
func (pc *ParameterCollection) Set(v *ParameterValue) {
	if pc.values == nil {
		pc.values = make(map[string]*ParameterValue)
	}
	pc.values[foldName(v.Name)] = v
}

// Get finds a parameter by name, ignoring case.
func (pc *ParameterCollection) Get(name string) (*ParameterValue, bool) {
	if pc == nil {
		return nil, false
	}
	v, ok := pc.values[foldName(name)]
	return v, ok
}

// Has reports whether name was supplied.
func (pc *ParameterCollection) Has(name string) bool {
	_, ok := pc.Get(name)
	return ok
}

// Names returns the supplied names in sorted order.
func (pc *ParameterCollection) Names() []string {
	if pc == nil {
		return nil
	}
	names := make([]string, 0, len(pc.values))
	for _, v := range pc.values {
		names = append(names, v.Name)
	}
	sort.Strings(names)
	return names
}

// Len returns the number of supplied parameters.
func (pc *ParameterCollection) Len() int {
	if pc == nil {
		return 0
	}
	return len(pc.values)
}
