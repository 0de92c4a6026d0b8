package metadata

import (
	"encoding/json"
	"encoding/xml"
	"fmt"
	"io"

	"github.com/nlstn/go-odata-content/internal/content"
)

// Namespace is the schema namespace of every content type.
const Namespace = "ContentRepository"

// RootEntitySet is the entity set exposing the repository tree.
const RootEntitySet = "Root"

// Document is the $metadata description of a schema.
type Document struct {
	XMLName      xml.Name     `xml:"edmx:Edmx" json:"-"`
	XMLNS        string       `xml:"xmlns:edmx,attr" json:"-"`
	Version      string       `xml:"Version,attr" json:"version"`
	DataServices DataServices `xml:"edmx:DataServices" json:"dataServices"`
}

// DataServices wraps the schema element.
type DataServices struct {
	Schema Schema `xml:"Schema" json:"schema"`
}

// Schema lists the entity types and the container.
type Schema struct {
	XMLNS     string       `xml:"xmlns,attr" json:"-"`
	Namespace string       `xml:"Namespace,attr" json:"namespace"`
	Types     []EntityType `xml:"EntityType" json:"entityTypes"`
	Container Container    `xml:"EntityContainer" json:"entityContainer"`
}

// EntityType describes one content type with its own (not inherited) fields.
type EntityType struct {
	Name       string               `xml:"Name,attr" json:"name"`
	BaseType   string               `xml:"BaseType,attr,omitempty" json:"baseType,omitempty"`
	HasStream  bool                 `xml:"HasStream,attr,omitempty" json:"hasStream,omitempty"`
	Icon       string               `xml:"-" json:"icon,omitempty"`
	Key        *Key                 `xml:"Key,omitempty" json:"key,omitempty"`
	Properties []Property           `xml:"Property" json:"properties,omitempty"`
	Navigation []NavigationProperty `xml:"NavigationProperty" json:"navigationProperties,omitempty"`
}

// Key names the key property.
type Key struct {
	PropertyRef PropertyRef `xml:"PropertyRef" json:"propertyRef"`
}

// PropertyRef references a property by name.
type PropertyRef struct {
	Name string `xml:"Name,attr" json:"name"`
}

// Property is a structural field.
type Property struct {
	Name     string `xml:"Name,attr" json:"name"`
	Type     string `xml:"Type,attr" json:"type"`
	Nullable bool   `xml:"Nullable,attr" json:"nullable"`
}

// NavigationProperty is a reference field.
type NavigationProperty struct {
	Name     string `xml:"Name,attr" json:"name"`
	Type     string `xml:"Type,attr" json:"type"`
	Multiple bool   `xml:"-" json:"multiple"`
}

// Container lists the entity sets.
type Container struct {
	Name string      `xml:"Name,attr" json:"name"`
	Sets []EntitySet `xml:"EntitySet" json:"entitySets"`
}

// EntitySet exposes entities of a type.
type EntitySet struct {
	Name       string `xml:"Name,attr" json:"name"`
	EntityType string `xml:"EntityType,attr" json:"entityType"`
}

var edmTypes = map[string]string{
	"String":   "Edm.String",
	"Int":      "Edm.Int64",
	"Number":   "Edm.Double",
	"Decimal":  "Edm.Decimal",
	"Boolean":  "Edm.Boolean",
	"DateTime": "Edm.DateTime",
}

// Build describes every type registered in schema.
func Build(schema *content.Schema) *Document {
	doc := &Document{
		XMLNS:   "http://schemas.microsoft.com/ado/2007/06/edmx",
		Version: "1.0",
		DataServices: DataServices{Schema: Schema{
			XMLNS:     "http://schemas.microsoft.com/ado/2008/09/edm",
			Namespace: Namespace,
			Container: Container{
				Name: "Container",
				Sets: []EntitySet{{Name: RootEntitySet, EntityType: qualified(content.GenericContentTypeName)}},
			},
		}},
	}
	for _, ct := range schema.Types() {
		doc.DataServices.Schema.Types = append(doc.DataServices.Schema.Types, describeType(ct))
	}
	return doc
}

func describeType(ct *content.ContentType) EntityType {
	et := EntityType{Name: ct.Name, Icon: ct.Icon}
	if ct.Parent != nil {
		et.BaseType = qualified(ct.Parent.Name)
	} else {
		et.Key = &Key{PropertyRef: PropertyRef{Name: "Id"}}
	}
	for _, fs := range ct.Fields {
		if content.IsDisabledField(fs.Name) {
			continue
		}
		switch fs.Kind {
		case content.KindReference:
			target := content.GenericContentTypeName
			if len(fs.AllowedTypes) == 1 {
				target = fs.AllowedTypes[0]
			}
			typ := qualified(target)
			if fs.AllowMultiple {
				typ = "Collection(" + typ + ")"
			}
			et.Navigation = append(et.Navigation, NavigationProperty{Name: fs.Name, Type: typ, Multiple: fs.AllowMultiple})
		case content.KindBinary:
			et.HasStream = true
			et.Properties = append(et.Properties, Property{Name: fs.Name, Type: "Edm.Stream", Nullable: true})
		case content.KindChoice, content.KindChildTypes:
			typ := "Edm.String"
			if fs.AllowMultiple {
				typ = "Collection(Edm.String)"
			}
			et.Properties = append(et.Properties, Property{Name: fs.Name, Type: typ, Nullable: true})
		default:
			typ, ok := edmTypes[fs.Type]
			if !ok {
				typ = "Edm.String"
			}
			et.Properties = append(et.Properties, Property{Name: fs.Name, Type: typ, Nullable: fs.Name != "Id"})
		}
	}
	return et
}

func qualified(name string) string {
	return Namespace + "." + name
}

// WriteXML writes the document as EDMX.
func (d *Document) WriteXML(w io.Writer) error {
	if _, err := io.WriteString(w, xml.Header); err != nil {
		return err
	}
	enc := xml.NewEncoder(w)
	if err := enc.Encode(d); err != nil {
		return fmt.Errorf("encode metadata: %w", err)
	}
	return enc.Flush()
}

// WriteJSON writes the document as JSON.
func (d *Document) WriteJSON(w io.Writer) error {
	if err := json.NewEncoder(w).Encode(d); err != nil {
		return fmt.Errorf("encode metadata: %w", err)
	}
	return nil
}
