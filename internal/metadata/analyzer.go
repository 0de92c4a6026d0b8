// Package metadata declares content types from annotated Go structs and
// renders the $metadata document of a schema.
package metadata

import (
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/nlstn/go-odata-content/internal/content"
	"github.com/shopspring/decimal"
)

var (
	timeType     = reflect.TypeOf(time.Time{})
	decimalType  = reflect.TypeOf(decimal.Decimal{})
	richTextType = reflect.TypeOf(content.RichTextValue{})
	binaryType   = reflect.TypeOf(content.Binary{})
)

// TypeNamer lets a struct choose its content type name. Without it the Go
// type name is used.
type TypeNamer interface {
	ODataTypeName() string
}

// AnalyzeContentType builds a content type from a struct. Exported fields
// become field settings, configured with the `odata:"..."` tag:
//
//	odata:"-"                      skip the field
//	odata:"name=DisplayTitle"      field name override
//	odata:"reference,multiple"     reference field (multiple for multi-reference)
//	odata:"allowedtypes=User|Group" restrict reference targets
//	odata:"binary"                 binary field
//	odata:"choice=Red|Green"       choice field with options
//	odata:"childtypes"             list of content type names
//	odata:"richtext"               rich-text scalar
//	odata:"deferred"               render as a deferred link unless expanded
//	odata:"readroles=Editors|Administrators"
//	odata:"default=42"
//	odata:"type=Decimal"           scalar type override
//
// An embedded struct names the parent type, which must already be registered
// in schema. Optional methods ODataTypeName, ODataIcon, ODataDescription and
// ODataAllowedChildTypes provide type level settings.
func AnalyzeContentType(entity interface{}, schema *content.Schema) (*content.ContentType, error) {
	entityType := reflect.TypeOf(entity)
	if entityType == nil {
		return nil, fmt.Errorf("content type must be a struct, got nil")
	}
	entityType = dereferenceType(entityType)
	if entityType.Kind() != reflect.Struct {
		return nil, fmt.Errorf("content type must be a struct, got %s", entityType.Kind())
	}

	ct := &content.ContentType{Name: typeName(entityType)}
	applyTypeMethods(ct, entityType)

	for i := 0; i < entityType.NumField(); i++ {
		field := entityType.Field(i)

		if field.Anonymous {
			parent, err := resolveParent(field, schema)
			if err != nil {
				return nil, fmt.Errorf("content type %s: %w", ct.Name, err)
			}
			ct.Parent = parent
			continue
		}

		// Skip unexported fields
		if !field.IsExported() {
			continue
		}
		if field.Tag.Get("odata") == "-" {
			continue
		}

		setting, err := analyzeField(field)
		if err != nil {
			return nil, fmt.Errorf("error analyzing field %s.%s: %w", ct.Name, field.Name, err)
		}
		ct.Fields = append(ct.Fields, setting)
	}
	return ct, nil
}

// RegisterContentTypes analyzes and registers entities in order. Parents
// must precede their children.
func RegisterContentTypes(schema *content.Schema, entities ...interface{}) error {
	for _, entity := range entities {
		ct, err := AnalyzeContentType(entity, schema)
		if err != nil {
			return err
		}
		if err := schema.Register(ct); err != nil {
			return err
		}
	}
	return nil
}

func resolveParent(field reflect.StructField, schema *content.Schema) (*content.ContentType, error) {
	name := typeName(dereferenceType(field.Type))
	if schema == nil {
		return nil, fmt.Errorf("parent type %s cannot be resolved without a schema", name)
	}
	parent, ok := schema.Lookup(name)
	if !ok {
		return nil, fmt.Errorf("parent type %s must be registered first", name)
	}
	return parent, nil
}

func typeName(t reflect.Type) string {
	if namer, ok := reflect.New(t).Interface().(TypeNamer); ok {
		if name := namer.ODataTypeName(); name != "" {
			return name
		}
	}
	return t.Name()
}

func applyTypeMethods(ct *content.ContentType, t reflect.Type) {
	v := reflect.New(t).Interface()
	if m, ok := v.(interface{ ODataIcon() string }); ok {
		ct.Icon = m.ODataIcon()
	}
	if m, ok := v.(interface{ ODataDescription() string }); ok {
		ct.Description = m.ODataDescription()
	}
	if m, ok := v.(interface{ ODataAllowedChildTypes() []string }); ok {
		ct.AllowedChildTypes = m.ODataAllowedChildTypes()
	}
}

// analyzeField maps one struct field to a field setting.
func analyzeField(field reflect.StructField) (*content.FieldSetting, error) {
	setting := &content.FieldSetting{Name: field.Name}
	fieldType := dereferenceType(field.Type)

	if tag := field.Tag.Get("odata"); tag != "" {
		for _, part := range strings.Split(tag, ",") {
			if err := processODataTagPart(setting, strings.TrimSpace(part)); err != nil {
				return nil, err
			}
		}
	}

	if setting.Kind == 0 {
		setting.Kind = detectKind(fieldType)
	}
	switch setting.Kind {
	case content.KindScalar:
		if setting.Type == "" {
			scalar, err := scalarTypeName(fieldType)
			if err != nil {
				return nil, err
			}
			setting.Type = scalar
		}
		if fieldType == richTextType {
			setting.RichText = true
			setting.Type = "String"
		}
	case content.KindReference:
		if fieldType.Kind() == reflect.Slice && !setting.AllowMultiple {
			setting.AllowMultiple = true
		}
	case content.KindChoice:
		if len(setting.Options) == 0 {
			return nil, fmt.Errorf("choice field %s declares no options", setting.Name)
		}
		if fieldType.Kind() == reflect.Slice {
			setting.AllowMultiple = true
		}
	case content.KindChildTypes:
		setting.AllowMultiple = true
	}
	if setting.Default != nil && setting.Kind == content.KindScalar {
		v, err := parseDefault(setting.Type, setting.Default.(string))
		if err != nil {
			return nil, fmt.Errorf("invalid default for %s: %w", setting.Name, err)
		}
		setting.Default = v
	}
	return setting, nil
}

// processODataTagPart processes a single OData tag part
func processODataTagPart(setting *content.FieldSetting, part string) error {
	switch {
	case part == "":
	case strings.HasPrefix(part, "name="):
		setting.Name = strings.TrimPrefix(part, "name=")
	case part == "reference":
		setting.Kind = content.KindReference
	case part == "multiple":
		setting.AllowMultiple = true
	case strings.HasPrefix(part, "allowedtypes="):
		setting.AllowedTypes = splitList(strings.TrimPrefix(part, "allowedtypes="))
	case part == "binary":
		setting.Kind = content.KindBinary
	case strings.HasPrefix(part, "choice="):
		setting.Kind = content.KindChoice
		setting.Options = splitList(strings.TrimPrefix(part, "choice="))
	case part == "childtypes":
		setting.Kind = content.KindChildTypes
	case part == "richtext":
		setting.RichText = true
	case part == "deferred":
		setting.Deferred = true
	case strings.HasPrefix(part, "readroles="):
		setting.ReadRoles = splitList(strings.TrimPrefix(part, "readroles="))
	case strings.HasPrefix(part, "default="):
		setting.Default = strings.TrimPrefix(part, "default=")
	case strings.HasPrefix(part, "type="):
		setting.Type = strings.TrimPrefix(part, "type=")
		if !knownScalarType(setting.Type) {
			return fmt.Errorf("unknown scalar type %q", setting.Type)
		}
	default:
		return fmt.Errorf("unknown odata tag %q", part)
	}
	return nil
}

func detectKind(t reflect.Type) content.Kind {
	switch {
	case t == binaryType:
		return content.KindBinary
	case t.Kind() == reflect.Slice && isIntKind(t.Elem().Kind()):
		return content.KindReference
	default:
		return content.KindScalar
	}
}

func scalarTypeName(t reflect.Type) (string, error) {
	switch {
	case t == timeType:
		return "DateTime", nil
	case t == decimalType:
		return "Decimal", nil
	case t == richTextType:
		return "String", nil
	case isIntKind(t.Kind()):
		return "Int", nil
	}
	switch t.Kind() {
	case reflect.String:
		return "String", nil
	case reflect.Float32, reflect.Float64:
		return "Number", nil
	case reflect.Bool:
		return "Boolean", nil
	}
	return "", fmt.Errorf("unsupported field type %s", t)
}

var scalarTypes = []string{"String", "Int", "Number", "Decimal", "Boolean", "DateTime"}

func knownScalarType(name string) bool {
	for _, s := range scalarTypes {
		if s == name {
			return true
		}
	}
	return false
}

func parseDefault(scalar, raw string) (interface{}, error) {
	switch scalar {
	case "Int":
		return parseInt(raw)
	case "Number":
		return parseFloat(raw)
	case "Decimal":
		return decimal.NewFromString(raw)
	case "Boolean":
		switch strings.ToLower(raw) {
		case "true":
			return true, nil
		case "false":
			return false, nil
		}
		return nil, fmt.Errorf("not a boolean: %q", raw)
	case "DateTime":
		return time.Parse(time.RFC3339, raw)
	}
	return raw, nil
}

func isIntKind(k reflect.Kind) bool {
	switch k {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return true
	}
	return false
}

func splitList(s string) []string {
	var out []string
	for _, item := range strings.Split(s, "|") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

func parseInt(s string) (int64, error) {
	var v int64
	_, err := fmt.Sscanf(s, "%d", &v)
	return v, err
}

func parseFloat(s string) (float64, error) {
	var v float64
	_, err := fmt.Sscanf(s, "%g", &v)
	return v, err
}

// dereferenceType returns the element type of pointers.
func dereferenceType(t reflect.Type) reflect.Type {
	for t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	return t
}
