package content

import (
	"context"
	"errors"
	"testing"
)

func TestContentTypeInheritance(t *testing.T) {
	schema := NewSchema()
	file := &ContentType{
		Name: "File",
		Fields: []*FieldSetting{
			{Name: "Binary", Kind: KindBinary},
			{Name: "Description", Kind: KindScalar, Type: "String"},
		},
	}
	if err := schema.Register(file); err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	image := &ContentType{Name: "Image", Parent: file, Icon: "image"}
	if err := schema.Register(image); err != nil {
		t.Fatalf("Register failed: %v", err)
	}

	if !image.IsInstanceOf("file") || !image.IsInstanceOf("GenericContent") || image.IsInstanceOf("Folder") {
		t.Error("Unexpected IsInstanceOf results")
	}
	if file.EffectiveIcon() != "content" || image.EffectiveIcon() != "image" {
		t.Errorf("Icons = %q %q", file.EffectiveIcon(), image.EffectiveIcon())
	}

	settings := image.FieldSettings()
	index := make(map[string]int)
	for i, s := range settings {
		if _, dup := index[s.Name]; dup {
			t.Fatalf("Field %s appears twice", s.Name)
		}
		index[s.Name] = i
	}
	if index["Id"] != 0 {
		t.Errorf("Inherited fields should come first, Id at %d", index["Id"])
	}
	desc, _ := image.FieldSetting("Description")
	if desc.RichText {
		t.Error("Redeclared Description should replace the inherited rich-text setting")
	}
	if index["Binary"] < index["Description"] {
		t.Error("Own fields should follow inherited fields")
	}

	if err := schema.Register(&ContentType{Name: "image"}); err == nil {
		t.Error("Expected a duplicate type error")
	}
	if err := schema.Register(&ContentType{Name: "Bad", Fields: []*FieldSetting{{Name: "A"}, {Name: "A"}}}); err == nil {
		t.Error("Expected a duplicate field error")
	}
	if _, ok := schema.Lookup("IMAGE"); !ok {
		t.Error("Lookup should be case-insensitive")
	}
}

func TestAllowsChild(t *testing.T) {
	open := &ContentType{Name: "Folder"}
	lib := &ContentType{Name: "Library", AllowedChildTypes: []string{"File"}}
	if !open.AllowsChild("Anything") {
		t.Error("Folder without restrictions should allow any child")
	}
	if !lib.AllowsChild("file") || lib.AllowsChild("Folder") {
		t.Error("Library should only allow File")
	}
}

func TestContentFieldsStayUnique(t *testing.T) {
	name := &FieldSetting{Name: "Name", Kind: KindScalar}
	c := New(1, "/Root/a", nil, []*Field{
		NewField(name, Scalar{Data: "first"}),
		NewField(&FieldSetting{Name: "Size", Kind: KindScalar}, Scalar{Data: 1}),
		NewField(name, Scalar{Data: "second"}),
	})
	if got := c.FieldNames(); len(got) != 2 || got[0] != "Name" || got[1] != "Size" {
		t.Fatalf("FieldNames = %v", got)
	}
	f, _ := c.Field("Name")
	v, _ := f.Data(context.Background())
	if v.(Scalar).Data != "second" {
		t.Errorf("Replacement should keep the later value, got %v", v)
	}
	if c.Name != "a" || c.ParentPath() != "/Root" {
		t.Errorf("Name/ParentPath = %q %q", c.Name, c.ParentPath())
	}
}

func TestLazyFieldLoadsOnce(t *testing.T) {
	calls := 0
	f := NewLazyField(&FieldSetting{Name: "Owner", Kind: KindReference}, func(ctx context.Context) (Value, error) {
		calls++
		return Reference{IDs: []int{7}}, nil
	})
	for i := 0; i < 3; i++ {
		v, err := f.Data(context.Background())
		if err != nil {
			t.Fatalf("Data failed: %v", err)
		}
		if ids := v.(Reference).IDs; len(ids) != 1 || ids[0] != 7 {
			t.Errorf("IDs = %v", ids)
		}
	}
	if calls != 1 {
		t.Errorf("Loader ran %d times", calls)
	}

	denied := NewLazyField(&FieldSetting{Name: "Secret", Kind: KindReference}, func(ctx context.Context) (Value, error) {
		return nil, ErrAccessDenied
	})
	if _, err := denied.Data(context.Background()); !errors.Is(err, ErrAccessDenied) {
		t.Errorf("Data error = %v, want access denied", err)
	}
}

type kindRecorder struct{}

func (kindRecorder) Scalar(f *Field, v Scalar) (interface{}, error)       { return "scalar", nil }
func (kindRecorder) Reference(f *Field, v Reference) (interface{}, error) { return "reference", nil }
func (kindRecorder) Binary(f *Field, v Binary) (interface{}, error)       { return "binary", nil }
func (kindRecorder) Choice(f *Field, v Choice) (interface{}, error)       { return "choice", nil }
func (kindRecorder) ChildTypes(f *Field, v ChildTypes) (interface{}, error) {
	return "childtypes", nil
}

func TestVisitDispatchesOnKind(t *testing.T) {
	for _, kind := range []Kind{KindScalar, KindReference, KindBinary, KindChoice, KindChildTypes} {
		f := NewField(&FieldSetting{Name: "F", Kind: kind}, nil)
		got, err := f.Visit(context.Background(), kindRecorder{})
		if err != nil {
			t.Fatalf("Visit failed: %v", err)
		}
		want := map[Kind]string{
			KindScalar:     "scalar",
			KindReference:  "reference",
			KindBinary:     "binary",
			KindChoice:     "choice",
			KindChildTypes: "childtypes",
		}[kind]
		if got != want {
			t.Errorf("Visit(%s) = %v, want %s", kind, got, want)
		}
	}
}

func TestFieldNameSets(t *testing.T) {
	if !IsDisabledField("Password") || IsDisabledField("Name") {
		t.Error("Unexpected disabled field result")
	}
	if !IsDeferredField(&FieldSetting{Name: "AllowedChildTypes"}) || !IsDeferredField(&FieldSetting{Name: "X", Deferred: true}) {
		t.Error("Unexpected deferred field result")
	}
	if !IsProtectedField("Path") || IsProtectedField("Description") {
		t.Error("Unexpected protected field result")
	}
	for _, name := range PseudoFieldNames {
		if !IsPseudoField(name) {
			t.Errorf("%s should be a pseudo-field", name)
		}
	}
	if ParentOf("/Root") != "" || Join("/Root/", "a") != "/Root/a" {
		t.Error("Unexpected path helpers")
	}
}
