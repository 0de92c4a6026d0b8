package operations

import (
	"context"
	"fmt"
	"net/http"
	"reflect"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/nlstn/go-odata-content/internal/content"
	"github.com/nlstn/go-odata-content/internal/query"
	"github.com/shopspring/decimal"
)

// Config is handed to operations that declare a parameter of this type.
type Config struct {
	ServiceRoot string
	// Settings carries host supplied values such as feature switches.
	Settings map[string]string
}

// Result is the element type of an asynchronous operation's result channel.
type Result struct {
	Value interface{}
	Err   error
}

var (
	contentPtrType     = reflect.TypeOf((*content.Content)(nil))
	contextType        = reflect.TypeOf((*context.Context)(nil)).Elem()
	httpRequestType    = reflect.TypeOf((*http.Request)(nil))
	responseWriterType = reflect.TypeOf((*http.ResponseWriter)(nil)).Elem()
	queryRequestType   = reflect.TypeOf((*query.Request)(nil))
	configType         = reflect.TypeOf(Config{})
	errorType          = reflect.TypeOf((*error)(nil)).Elem()
	resultChanType     = reflect.TypeOf((<-chan Result)(nil))
	errorChanType      = reflect.TypeOf((<-chan error)(nil))
)

type slotKind int

const (
	slotParam slotKind = iota
	slotContext
	slotHTTPRequest
	slotResponseWriter
	slotQueryRequest
	slotConfig
)

func systemSlot(t reflect.Type) (slotKind, bool) {
	switch t {
	case contextType:
		return slotContext, true
	case httpRequestType:
		return slotHTTPRequest, true
	case responseWriterType:
		return slotResponseWriter, true
	case queryRequestType:
		return slotQueryRequest, true
	case configType:
		return slotConfig, true
	}
	return slotParam, false
}

type slot struct {
	kind  slotKind
	param *ParamInfo
}

type resultShape int

const (
	resultNone resultShape = iota
	resultError
	resultValue
	resultValueError
)

// ParamInfo is a client supplied parameter after analysis.
type ParamInfo struct {
	Name     string
	Type     reflect.Type
	Optional bool
	// Default holds the value used when an optional parameter is absent.
	Default reflect.Value
}

// OperationInfo is an analyzed, immutable operation overload.
type OperationInfo struct {
	// Key is the canonical registry name.
	Key               string
	Name              string
	Controller        string
	DisplayName       string
	Description       string
	Icon              string
	Required          []*ParamInfo
	Optional          []*ParamInfo
	ContentTypes      []string
	Scenarios         []string
	Auth              Auth
	CausesStateChange bool

	fn      reflect.Value
	slots   []slot
	results resultShape
	async   reflect.Type
}

// Params returns required then optional parameters.
func (o *OperationInfo) Params() []*ParamInfo {
	out := make([]*ParamInfo, 0, len(o.Required)+len(o.Optional))
	out = append(out, o.Required...)
	return append(out, o.Optional...)
}

// AppliesTo reports whether the operation accepts c as its target.
func (o *OperationInfo) AppliesTo(c *content.Content) bool {
	if len(o.ContentTypes) == 0 {
		return true
	}
	if c == nil || c.Type == nil {
		return false
	}
	for _, name := range o.ContentTypes {
		if c.Type.IsInstanceOf(name) {
			return true
		}
	}
	return false
}

// ListedIn reports whether the operation is listed for scenario.
func (o *OperationInfo) ListedIn(scenario string) bool {
	if scenario == "" || len(o.Scenarios) == 0 {
		return true
	}
	for _, s := range o.Scenarios {
		if strings.EqualFold(s, scenario) {
			return true
		}
	}
	return false
}

// Signature renders the overload for diagnostics, e.g.
// "Rename(newName string, [force bool])".
func (o *OperationInfo) Signature() string {
	parts := make([]string, 0, len(o.Required)+len(o.Optional))
	for _, p := range o.Required {
		parts = append(parts, p.Name+" "+TypeName(p.Type))
	}
	for _, p := range o.Optional {
		parts = append(parts, "["+p.Name+" "+TypeName(p.Type)+"]")
	}
	name := o.Name
	if o.Controller != "" {
		name = o.Controller + "." + o.Name
	}
	sig := name + "(" + strings.Join(parts, ", ") + ")"
	if len(o.ContentTypes) > 0 {
		sig += " on " + strings.Join(o.ContentTypes, "|")
	}
	return sig
}

func analyze(def Definition) (*OperationInfo, error) {
	if def.Func == nil {
		return nil, fmt.Errorf("function cannot be nil")
	}
	fn := reflect.ValueOf(def.Func)
	ft := fn.Type()
	if ft.Kind() != reflect.Func {
		return nil, fmt.Errorf("expected a function, got %s", ft)
	}
	if ft.IsVariadic() {
		return nil, fmt.Errorf("variadic functions are not supported")
	}
	if ft.NumIn() == 0 || ft.In(0) != contentPtrType {
		return nil, fmt.Errorf("first parameter must be *content.Content")
	}

	info := &OperationInfo{
		Key:               CanonicalName(def.Controller, def.Name),
		Name:              def.Name,
		Controller:        def.Controller,
		DisplayName:       def.DisplayName,
		Description:       def.Description,
		Icon:              def.Icon,
		ContentTypes:      append([]string(nil), def.ContentTypes...),
		Scenarios:         append([]string(nil), def.Scenarios...),
		Auth:              def.Auth,
		CausesStateChange: def.CausesStateChange,
		fn:                fn,
	}
	if info.DisplayName == "" {
		info.DisplayName = def.Name
	}

	seen := make(map[string]bool)
	next := 0
	for i := 1; i < ft.NumIn(); i++ {
		t := ft.In(i)
		if kind, ok := systemSlot(t); ok {
			info.slots = append(info.slots, slot{kind: kind})
			continue
		}
		if next >= len(def.Params) {
			return nil, fmt.Errorf("parameter %d of type %s has no Param entry", i, t)
		}
		p := def.Params[next]
		next++
		if p.Name == "" {
			return nil, fmt.Errorf("parameter %d has no name", i)
		}
		if seen[strings.ToLower(p.Name)] {
			return nil, fmt.Errorf("duplicate parameter %q", p.Name)
		}
		seen[strings.ToLower(p.Name)] = true
		if category(t) == catUnsupported {
			return nil, fmt.Errorf("parameter %q has unsupported type %s", p.Name, t)
		}

		pi := &ParamInfo{Name: p.Name, Type: t, Optional: p.Optional}
		if p.Optional {
			dv, err := defaultValue(t, p.Default)
			if err != nil {
				return nil, fmt.Errorf("parameter %q: %w", p.Name, err)
			}
			pi.Default = dv
			info.Optional = append(info.Optional, pi)
		} else {
			info.Required = append(info.Required, pi)
		}
		info.slots = append(info.slots, slot{kind: slotParam, param: pi})
	}
	if next != len(def.Params) {
		return nil, fmt.Errorf("%d Param entries for %d parameters", len(def.Params), next)
	}

	shape, async, err := analyzeResults(ft)
	if err != nil {
		return nil, err
	}
	info.results = shape
	info.async = async
	return info, nil
}

func defaultValue(t reflect.Type, v interface{}) (reflect.Value, error) {
	if v == nil {
		return reflect.Zero(t), nil
	}
	rv := reflect.ValueOf(v)
	switch {
	case rv.Type().AssignableTo(t):
		out := reflect.New(t).Elem()
		out.Set(rv)
		return out, nil
	case rv.Type().ConvertibleTo(t) && (t.Kind() != reflect.String || rv.Kind() == reflect.String):
		return rv.Convert(t), nil
	}
	return reflect.Value{}, fmt.Errorf("default %v (%T) is not assignable to %s", v, v, t)
}

func analyzeResults(ft reflect.Type) (resultShape, reflect.Type, error) {
	asyncOf := func(t reflect.Type) reflect.Type {
		if t == resultChanType || t == errorChanType {
			return t
		}
		return nil
	}
	switch ft.NumOut() {
	case 0:
		return resultNone, nil, nil
	case 1:
		if ft.Out(0) == errorType {
			return resultError, nil, nil
		}
		return resultValue, asyncOf(ft.Out(0)), nil
	case 2:
		if ft.Out(1) != errorType {
			return 0, nil, fmt.Errorf("second result must be error")
		}
		return resultValueError, asyncOf(ft.Out(0)), nil
	}
	return 0, nil, fmt.Errorf("at most two results are supported")
}

var (
	decimalType = reflect.TypeOf(decimal.Decimal{})
	uuidType    = reflect.TypeOf(uuid.UUID{})
	timeType    = reflect.TypeOf(time.Time{})
)

// TypeName returns the client facing name of a parameter type.
func TypeName(t reflect.Type) string {
	switch t {
	case decimalType:
		return "decimal"
	case uuidType:
		return "guid"
	case timeType:
		return "datetime"
	}
	switch category(t) {
	case catString, catEnum, catText:
		return "string"
	case catInt, catUint:
		return "int"
	case catFloat:
		return "number"
	case catBool:
		return "bool"
	case catSlice:
		return "[]" + TypeName(t.Elem())
	case catPointer:
		return TypeName(t.Elem())
	case catMap, catStruct:
		return "object"
	case catAny:
		return "any"
	}
	return t.String()
}
