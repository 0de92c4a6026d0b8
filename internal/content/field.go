package content

import (
	"context"
	"sync"
)

// Kind is the closed set of field kinds a content field can have.
type Kind int

const (
	KindScalar Kind = iota + 1
	KindReference
	KindBinary
	KindChoice
	KindChildTypes
)

func (k Kind) String() string {
	switch k {
	case KindScalar:
		return "Scalar"
	case KindReference:
		return "Reference"
	case KindBinary:
		return "Binary"
	case KindChoice:
		return "Choice"
	case KindChildTypes:
		return "ChildTypes"
	default:
		return "Unknown"
	}
}

// FieldSetting describes one field of a content type.
type FieldSetting struct {
	Name string
	Kind Kind
	// Type is the scalar's value type name (String, Int, Number, Boolean, DateTime, Decimal).
	Type string
	// AllowMultiple marks multi-reference and multi-select choice fields.
	AllowMultiple bool
	// Deferred fields render as a deferred link unless expanded.
	Deferred bool
	// RichText scalars hold a RichTextValue.
	RichText bool
	// ReadRoles restricts who may see the field. Empty means everyone who can open the content.
	ReadRoles []string
	// Options lists the allowed values of a choice field.
	Options []string
	// Default is the value a field is reset to by a full update.
	Default interface{}
	// AllowedTypes narrows the content types a reference may point to.
	AllowedTypes []string
}

// Value is a field's data. The set of implementations is closed; use Visit to
// dispatch on it.
type Value interface {
	Kind() Kind
	accept(f *Field, v Visitor) (interface{}, error)
}

// Scalar holds a primitive value.
type Scalar struct {
	Data interface{}
}

// Reference holds the ids of the referenced contents in field order.
type Reference struct {
	IDs []int
}

// Binary describes a stored blob.
type Binary struct {
	FileName    string
	ContentType string
	Size        int64
	// Hash is the content hash used for etags and download keys.
	Hash string
	// Key locates the blob in the binary store.
	Key string
}

// Choice holds the selected option values.
type Choice struct {
	Selected []string
}

// ChildTypes lists content type names allowed below a content.
type ChildTypes struct {
	Names []string
}

// RichTextValue is the data of a rich-text scalar field.
type RichTextValue struct {
	Text   string `json:"text"`
	Editor string `json:"editor"`
}

func (Scalar) Kind() Kind     { return KindScalar }
func (Reference) Kind() Kind  { return KindReference }
func (Binary) Kind() Kind     { return KindBinary }
func (Choice) Kind() Kind     { return KindChoice }
func (ChildTypes) Kind() Kind { return KindChildTypes }

func (s Scalar) accept(f *Field, v Visitor) (interface{}, error)     { return v.Scalar(f, s) }
func (r Reference) accept(f *Field, v Visitor) (interface{}, error)  { return v.Reference(f, r) }
func (b Binary) accept(f *Field, v Visitor) (interface{}, error)     { return v.Binary(f, b) }
func (c Choice) accept(f *Field, v Visitor) (interface{}, error)     { return v.Choice(f, c) }
func (c ChildTypes) accept(f *Field, v Visitor) (interface{}, error) { return v.ChildTypes(f, c) }

// Visitor renders a field value. Adding a kind adds a method here, so every
// renderer has to handle it.
type Visitor interface {
	Scalar(f *Field, v Scalar) (interface{}, error)
	Reference(f *Field, v Reference) (interface{}, error)
	Binary(f *Field, v Binary) (interface{}, error)
	Choice(f *Field, v Choice) (interface{}, error)
	ChildTypes(f *Field, v ChildTypes) (interface{}, error)
}

// Zero returns the empty value for a kind.
func Zero(kind Kind) Value {
	switch kind {
	case KindReference:
		return Reference{}
	case KindBinary:
		return Binary{}
	case KindChoice:
		return Choice{}
	case KindChildTypes:
		return ChildTypes{}
	default:
		return Scalar{}
	}
}

// ValueLoader fetches a field value lazily. It may return ErrAccessDenied when the
// value depends on content the caller cannot open.
type ValueLoader func(ctx context.Context) (Value, error)

// Field is a named, typed unit of content data.
type Field struct {
	Setting *FieldSetting

	once  sync.Once
	value Value
	err   error
	load  ValueLoader
}

// NewField creates a field holding value.
func NewField(setting *FieldSetting, value Value) *Field {
	if value == nil {
		value = Zero(setting.Kind)
	}
	return &Field{Setting: setting, value: value}
}

// NewLazyField creates a field whose value is produced by load on first access.
func NewLazyField(setting *FieldSetting, load ValueLoader) *Field {
	return &Field{Setting: setting, load: load}
}

// Name returns the field name.
func (f *Field) Name() string {
	return f.Setting.Name
}

// Data returns the field value, running the lazy loader once.
func (f *Field) Data(ctx context.Context) (Value, error) {
	if f.load == nil {
		return f.value, nil
	}
	f.once.Do(func() {
		f.value, f.err = f.load(ctx)
		if f.value == nil && f.err == nil {
			f.value = Zero(f.Setting.Kind)
		}
	})
	return f.value, f.err
}

// Visit loads the value and dispatches it to v.
func (f *Field) Visit(ctx context.Context, v Visitor) (interface{}, error) {
	data, err := f.Data(ctx)
	if err != nil {
		return nil, err
	}
	return data.accept(f, v)
}
