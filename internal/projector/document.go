package projector

import (
	"bytes"
	"encoding/json"
)

// Reserved keys of projected documents.
const (
	DataKey          = "d"
	CountKey         = "__count"
	ResultsKey       = "results"
	MetadataKey      = "__metadata"
	DeferredKey      = "__deferred"
	MediaResourceKey = "__mediaresource"
)

// Document is a JSON object that keeps its keys in insertion order.
type Document struct {
	keys   []string
	values map[string]interface{}
}

// NewDocument creates an empty document.
func NewDocument() *Document {
	return &Document{values: make(map[string]interface{})}
}

// Set stores value under key. An existing key keeps its position.
func (d *Document) Set(key string, value interface{}) {
	if _, ok := d.values[key]; !ok {
		d.keys = append(d.keys, key)
	}
	d.values[key] = value
}

// Get returns the value stored under key.
func (d *Document) Get(key string) (interface{}, bool) {
	v, ok := d.values[key]
	return v, ok
}

// Has reports whether key is present.
func (d *Document) Has(key string) bool {
	_, ok := d.values[key]
	return ok
}

// Keys returns the keys in insertion order.
func (d *Document) Keys() []string {
	return d.keys
}

// Len returns the number of keys.
func (d *Document) Len() int {
	return len(d.keys)
}

// MarshalJSON writes the keys in insertion order.
func (d *Document) MarshalJSON() ([]byte, error) {
	if d == nil {
		return []byte("null"), nil
	}
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, k := range d.keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(k)
		if err != nil {
			return nil, err
		}
		buf.Write(key)
		buf.WriteByte(':')
		val, err := json.Marshal(d.values[k])
		if err != nil {
			return nil, err
		}
		buf.Write(val)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// Envelope wraps v as {"d": v}.
func Envelope(v interface{}) *Document {
	d := NewDocument()
	d.Set(DataKey, v)
	return d
}

// CollectionDocument builds {"__count": count, "results": results}.
func CollectionDocument(count int, results []interface{}) *Document {
	if results == nil {
		results = []interface{}{}
	}
	d := NewDocument()
	d.Set(CountKey, count)
	d.Set(ResultsKey, results)
	return d
}
