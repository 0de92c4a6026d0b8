package operations

import (
	"encoding"
	"encoding/json"
	"fmt"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Category groups declared parameter types for binding.
type Category int

const (
	catUnsupported Category = iota
	catAny
	catString
	catInt
	catUint
	catFloat
	catBool
	catDecimal
	catUUID
	catTime
	catEnum
	catText
	catSlice
	catMap
	catStruct
	catPointer
)

// JSONKind is the natural JSON type of a supplied value.
type JSONKind int

const (
	KindNull JSONKind = iota
	KindString
	KindNumber
	KindBool
	KindArray
	KindObject
)

func (k JSONKind) String() string {
	switch k {
	case KindString:
		return "string"
	case KindNumber:
		return "number"
	case KindBool:
		return "boolean"
	case KindArray:
		return "array"
	case KindObject:
		return "object"
	default:
		return "null"
	}
}

// Enum is implemented by string based types with a closed value set. Values
// bind case-insensitively by name or by index.
type Enum interface {
	EnumValues() []string
}

var (
	enumType            = reflect.TypeOf((*Enum)(nil)).Elem()
	textUnmarshalerType = reflect.TypeOf((*encoding.TextUnmarshaler)(nil)).Elem()
	jsonUnmarshalerType = reflect.TypeOf((*json.Unmarshaler)(nil)).Elem()
)

func category(t reflect.Type) Category {
	switch t {
	case decimalType:
		return catDecimal
	case uuidType:
		return catUUID
	case timeType:
		return catTime
	}
	if t.Kind() == reflect.String && t.Implements(enumType) {
		return catEnum
	}
	if t.Kind() != reflect.Pointer && reflect.PointerTo(t).Implements(textUnmarshalerType) && t.Kind() != reflect.Struct {
		return catText
	}
	switch t.Kind() {
	case reflect.Interface:
		if t.NumMethod() == 0 {
			return catAny
		}
	case reflect.String:
		return catString
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return catInt
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return catUint
	case reflect.Float32, reflect.Float64:
		return catFloat
	case reflect.Bool:
		return catBool
	case reflect.Slice, reflect.Array:
		return catSlice
	case reflect.Map:
		if t.Key().Kind() == reflect.String {
			return catMap
		}
	case reflect.Struct:
		return catStruct
	case reflect.Pointer:
		if category(t.Elem()) != catUnsupported {
			return catPointer
		}
	}
	return catUnsupported
}

func kindOf(v interface{}) JSONKind {
	switch v.(type) {
	case nil:
		return KindNull
	case string:
		return KindString
	case json.Number, float64, int, int64:
		return KindNumber
	case bool:
		return KindBool
	case []interface{}:
		return KindArray
	case map[string]interface{}:
		return KindObject
	}
	return KindNull
}

// Mode selects how supplied values are matched against declared types.
type Mode int

const (
	// Strict only accepts values whose JSON type maps directly onto the
	// declared type.
	Strict Mode = iota
	// Coercive additionally parses strings, wraps scalars into arrays and
	// converts arrays and objects into declared composite types.
	Coercive
)

func (m Mode) String() string {
	if m == Coercive {
		return "coercive"
	}
	return "strict"
}

type converter func(raw interface{}, t reflect.Type) (reflect.Value, error)

type coercionKey struct {
	cat  Category
	kind JSONKind
}

// coercions is consulted in Coercive mode after strict binding failed.
var coercions map[coercionKey]converter

func init() {
	coercions = map[coercionKey]converter{
		{catString, KindString}: convertString,
		{catString, KindNumber}: func(raw interface{}, t reflect.Type) (reflect.Value, error) {
			return reflect.ValueOf(numberText(raw)).Convert(t), nil
		},
		{catString, KindBool}: func(raw interface{}, t reflect.Type) (reflect.Value, error) {
			return reflect.ValueOf(strconv.FormatBool(raw.(bool))).Convert(t), nil
		},
		{catInt, KindString}:  parseAs(parseInt),
		{catUint, KindString}: parseAs(parseUint),
		{catFloat, KindString}: parseAs(func(s string, t reflect.Type) (reflect.Value, error) {
			f, err := strconv.ParseFloat(strings.TrimSpace(s), t.Bits())
			if err != nil {
				return reflect.Value{}, err
			}
			return reflect.ValueOf(f).Convert(t), nil
		}),
		{catInt, KindNumber}: func(raw interface{}, t reflect.Type) (reflect.Value, error) {
			d, err := decimal.NewFromString(numberText(raw))
			if err != nil || !d.Equal(d.Truncate(0)) {
				return reflect.Value{}, fmt.Errorf("%s is not an integer", numberText(raw))
			}
			return parseInt(d.String(), t)
		},
		{catBool, KindString}: parseAs(func(s string, t reflect.Type) (reflect.Value, error) {
			b, err := strconv.ParseBool(strings.TrimSpace(s))
			if err != nil {
				return reflect.Value{}, err
			}
			return reflect.ValueOf(b).Convert(t), nil
		}),
		{catBool, KindNumber}: func(raw interface{}, t reflect.Type) (reflect.Value, error) {
			switch numberText(raw) {
			case "0":
				return reflect.ValueOf(false).Convert(t), nil
			case "1":
				return reflect.ValueOf(true).Convert(t), nil
			}
			return reflect.Value{}, fmt.Errorf("%s is not a boolean", numberText(raw))
		},
		{catDecimal, KindString}: parseAs(func(s string, t reflect.Type) (reflect.Value, error) {
			d, err := decimal.NewFromString(strings.TrimSpace(s))
			return reflect.ValueOf(d), err
		}),
		{catDecimal, KindNumber}: func(raw interface{}, t reflect.Type) (reflect.Value, error) {
			d, err := decimal.NewFromString(numberText(raw))
			return reflect.ValueOf(d), err
		},
		{catUUID, KindString}: parseAs(func(s string, t reflect.Type) (reflect.Value, error) {
			id, err := uuid.Parse(strings.TrimSpace(s))
			return reflect.ValueOf(id), err
		}),
		{catTime, KindString}: parseAs(func(s string, t reflect.Type) (reflect.Value, error) {
			ts, err := parseTime(s)
			return reflect.ValueOf(ts), err
		}),
		{catEnum, KindString}: parseAs(parseEnum),
		{catEnum, KindNumber}: func(raw interface{}, t reflect.Type) (reflect.Value, error) {
			values := reflect.Zero(t).Interface().(Enum).EnumValues()
			i, err := strconv.Atoi(numberText(raw))
			if err != nil || i < 0 || i >= len(values) {
				return reflect.Value{}, fmt.Errorf("%s is not a valid %s index", numberText(raw), t)
			}
			return reflect.ValueOf(values[i]).Convert(t), nil
		},
		{catText, KindString}: parseAs(func(s string, t reflect.Type) (reflect.Value, error) {
			ptr := reflect.New(t)
			if err := ptr.Interface().(encoding.TextUnmarshaler).UnmarshalText([]byte(s)); err != nil {
				return reflect.Value{}, err
			}
			return ptr.Elem(), nil
		}),
		{catSlice, KindArray}:   convertArray,
		{catSlice, KindString}:  wrapScalar,
		{catSlice, KindNumber}:  wrapScalar,
		{catSlice, KindBool}:    wrapScalar,
		{catSlice, KindObject}:  wrapScalar,
		{catMap, KindObject}:    convertJSON,
		{catStruct, KindObject}: convertJSON,
		{catStruct, KindArray}:  convertArrayWrapper,
	}
}

// bind converts raw into a value of type t.
func bind(raw interface{}, t reflect.Type, mode Mode) (reflect.Value, error) {
	cat := category(t)
	kind := kindOf(raw)

	if cat == catPointer {
		if kind == KindNull {
			return reflect.Zero(t), nil
		}
		elem, err := bind(raw, t.Elem(), mode)
		if err != nil {
			return reflect.Value{}, err
		}
		ptr := reflect.New(t.Elem())
		ptr.Elem().Set(elem)
		return ptr, nil
	}

	if v, ok := bindStrict(raw, kind, t, cat); ok {
		return v, nil
	}
	if mode == Strict {
		return reflect.Value{}, fmt.Errorf("%s value does not bind strictly to %s", kind, t)
	}
	conv, ok := coercions[coercionKey{cat, kind}]
	if !ok {
		return reflect.Value{}, fmt.Errorf("cannot convert %s value to %s", kind, t)
	}
	v, err := conv(raw, t)
	if err != nil {
		return reflect.Value{}, fmt.Errorf("convert %s value to %s: %w", kind, t, err)
	}
	return v, nil
}

// bindStrict accepts only values whose natural type maps onto t without parsing.
func bindStrict(raw interface{}, kind JSONKind, t reflect.Type, cat Category) (reflect.Value, bool) {
	switch {
	case cat == catAny:
		if raw == nil {
			return reflect.Zero(t), true
		}
		return reflect.ValueOf(natural(raw)), true
	case kind == KindNull:
		switch cat {
		case catSlice, catMap:
			if t.Kind() != reflect.Array {
				return reflect.Zero(t), true
			}
		}
		return reflect.Value{}, false
	case cat == catString && kind == KindString && t == reflect.TypeOf(""):
		return reflect.ValueOf(raw.(string)), true
	case cat == catBool && kind == KindBool:
		return reflect.ValueOf(raw.(bool)).Convert(t), true
	case cat == catInt && kind == KindNumber:
		v, err := parseInt(numberText(raw), t)
		return v, err == nil
	case cat == catUint && kind == KindNumber:
		v, err := parseUint(numberText(raw), t)
		return v, err == nil
	case cat == catFloat && kind == KindNumber:
		f, err := strconv.ParseFloat(numberText(raw), t.Bits())
		if err != nil {
			return reflect.Value{}, false
		}
		return reflect.ValueOf(f).Convert(t), true
	case cat == catSlice && kind == KindArray && t.Kind() == reflect.Slice:
		items := raw.([]interface{})
		out := reflect.MakeSlice(t, len(items), len(items))
		elemCat := category(t.Elem())
		for i, item := range items {
			v, ok := bindStrict(item, kindOf(item), t.Elem(), elemCat)
			if !ok {
				return reflect.Value{}, false
			}
			out.Index(i).Set(v)
		}
		return out, true
	case cat == catMap && kind == KindObject && t.Elem().Kind() == reflect.Interface && t.Elem().NumMethod() == 0:
		out := reflect.MakeMapWithSize(t, len(raw.(map[string]interface{})))
		for k, item := range raw.(map[string]interface{}) {
			out.SetMapIndex(reflect.ValueOf(k).Convert(t.Key()), reflect.ValueOf(natural(item)))
		}
		return out, true
	}
	return reflect.Value{}, false
}

// natural replaces json.Number with int64 or float64 throughout v.
func natural(v interface{}) interface{} {
	switch t := v.(type) {
	case json.Number:
		if i, err := t.Int64(); err == nil {
			return i
		}
		f, _ := t.Float64()
		return f
	case []interface{}:
		out := make([]interface{}, len(t))
		for i, item := range t {
			out[i] = natural(item)
		}
		return out
	case map[string]interface{}:
		out := make(map[string]interface{}, len(t))
		for k, item := range t {
			out[k] = natural(item)
		}
		return out
	}
	return v
}

func numberText(raw interface{}) string {
	switch n := raw.(type) {
	case json.Number:
		return n.String()
	case float64:
		return strconv.FormatFloat(n, 'f', -1, 64)
	case int:
		return strconv.Itoa(n)
	case int64:
		return strconv.FormatInt(n, 10)
	}
	return fmt.Sprint(raw)
}

func parseAs(parse func(s string, t reflect.Type) (reflect.Value, error)) converter {
	return func(raw interface{}, t reflect.Type) (reflect.Value, error) {
		return parse(raw.(string), t)
	}
}

func convertString(raw interface{}, t reflect.Type) (reflect.Value, error) {
	return reflect.ValueOf(raw.(string)).Convert(t), nil
}

func parseInt(s string, t reflect.Type) (reflect.Value, error) {
	i, err := strconv.ParseInt(strings.TrimSpace(s), 10, t.Bits())
	if err != nil {
		return reflect.Value{}, err
	}
	return reflect.ValueOf(i).Convert(t), nil
}

func parseUint(s string, t reflect.Type) (reflect.Value, error) {
	u, err := strconv.ParseUint(strings.TrimSpace(s), 10, t.Bits())
	if err != nil {
		return reflect.Value{}, err
	}
	return reflect.ValueOf(u).Convert(t), nil
}

var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

func parseTime(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range timeLayouts {
		if ts, err := time.Parse(layout, s); err == nil {
			return ts, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized date %q", s)
}

func parseEnum(s string, t reflect.Type) (reflect.Value, error) {
	values := reflect.Zero(t).Interface().(Enum).EnumValues()
	for _, v := range values {
		if strings.EqualFold(v, strings.TrimSpace(s)) {
			return reflect.ValueOf(v).Convert(t), nil
		}
	}
	if i, err := strconv.Atoi(strings.TrimSpace(s)); err == nil && i >= 0 && i < len(values) {
		return reflect.ValueOf(values[i]).Convert(t), nil
	}
	return reflect.Value{}, fmt.Errorf("%q is not one of %s", s, strings.Join(values, ", "))
}

func convertArray(raw interface{}, t reflect.Type) (reflect.Value, error) {
	items := raw.([]interface{})
	var out reflect.Value
	if t.Kind() == reflect.Array {
		if len(items) != t.Len() {
			return reflect.Value{}, fmt.Errorf("expected %d items, got %d", t.Len(), len(items))
		}
		out = reflect.New(t).Elem()
	} else {
		out = reflect.MakeSlice(t, len(items), len(items))
	}
	for i, item := range items {
		v, err := bind(item, t.Elem(), Coercive)
		if err != nil {
			return reflect.Value{}, fmt.Errorf("item %d: %w", i, err)
		}
		out.Index(i).Set(v)
	}
	return out, nil
}

func wrapScalar(raw interface{}, t reflect.Type) (reflect.Value, error) {
	if t.Kind() == reflect.Array && t.Len() != 1 {
		return reflect.Value{}, fmt.Errorf("cannot wrap a scalar into %s", t)
	}
	return convertArray([]interface{}{raw}, t)
}

// convertJSON round trips raw through encoding/json into t.
func convertJSON(raw interface{}, t reflect.Type) (reflect.Value, error) {
	data, err := json.Marshal(raw)
	if err != nil {
		return reflect.Value{}, err
	}
	ptr := reflect.New(t)
	if err := json.Unmarshal(data, ptr.Interface()); err != nil {
		return reflect.Value{}, err
	}
	return ptr.Elem(), nil
}

// convertArrayWrapper fills struct types that decode themselves from a JSON array.
func convertArrayWrapper(raw interface{}, t reflect.Type) (reflect.Value, error) {
	if !reflect.PointerTo(t).Implements(jsonUnmarshalerType) {
		return reflect.Value{}, fmt.Errorf("%s does not accept arrays", t)
	}
	return convertJSON(raw, t)
}
