package projector

import (
	"sort"
	"strings"

	"github.com/nlstn/go-odata-content/internal/content"
	"github.com/nlstn/go-odata-content/internal/etag"
)

// EntityURL returns the OData address of the content at contentPath, e.g.
// "/odata.svc/Root/Docs('a.txt')".
func EntityURL(serviceRoot, contentPath string) string {
	root := strings.TrimRight(serviceRoot, "/")
	parent := content.ParentOf(contentPath)
	name := strings.ReplaceAll(strings.TrimPrefix(contentPath[len(parent):], "/"), "'", "''")
	if parent == "" {
		return root + "/('" + name + "')"
	}
	return root + parent + "('" + name + "')"
}

// Deferred builds {"__deferred": {"uri": uri}}.
func Deferred(uri string) *Document {
	inner := NewDocument()
	inner.Set("uri", uri)
	d := NewDocument()
	d.Set(DeferredKey, inner)
	return d
}

// MediaResource builds the placeholder of a binary field. The download URL
// carries the content hash so that changed binaries get a new address.
func MediaResource(entityURL, fieldName string, b content.Binary) *Document {
	edit := entityURL + "/" + fieldName + "/$value"
	inner := NewDocument()
	inner.Set("edit_media", edit)
	if b.Hash != "" {
		inner.Set("media_src", edit+"?hash="+b.Hash)
	} else {
		inner.Set("media_src", edit)
	}
	if b.ContentType != "" {
		inner.Set("content_type", b.ContentType)
	} else {
		inner.Set("content_type", nil)
	}
	if tag := etag.Media(b.Hash); tag != "" {
		inner.Set("media_etag", tag)
	} else {
		inner.Set("media_etag", nil)
	}
	d := NewDocument()
	d.Set(MediaResourceKey, inner)
	return d
}

// ActionDocument renders an action descriptor for the Actions pseudo-field.
func ActionDocument(a content.ActionDescriptor) *Document {
	d := NewDocument()
	d.Set("Name", a.Name)
	d.Set("DisplayName", a.DisplayName)
	d.Set("Index", a.Index)
	d.Set("Icon", a.Icon)
	d.Set("Url", a.URL)
	d.Set("Scenario", a.Scenario)
	d.Set("Forbidden", a.Forbidden)
	d.Set("IsODataAction", a.IsODataAction)
	names := make([]string, 0, len(a.Parameters))
	for _, p := range a.Parameters {
		names = append(names, p.Name)
	}
	d.Set("ActionParameters", names)
	return d
}

// operationEntries splits OData-invocable descriptors into actions (state
// changing) and functions, each sorted by title.
func operationEntries(descriptors []content.ActionDescriptor) (actions, functions []interface{}) {
	sorted := make([]content.ActionDescriptor, 0, len(descriptors))
	for _, a := range descriptors {
		if a.IsODataAction {
			sorted = append(sorted, a)
		}
	}
	sort.SliceStable(sorted, func(i, j int) bool {
		return title(sorted[i]) < title(sorted[j])
	})
	actions, functions = []interface{}{}, []interface{}{}
	for _, a := range sorted {
		entry := NewDocument()
		entry.Set("title", title(a))
		entry.Set("name", a.Name)
		entry.Set("forbidden", a.Forbidden)
		params := make([]content.ActionParameter, len(a.Parameters))
		copy(params, a.Parameters)
		entry.Set("parameters", params)
		if a.CausesStateChange {
			actions = append(actions, entry)
		} else {
			functions = append(functions, entry)
		}
	}
	return actions, functions
}

func title(a content.ActionDescriptor) string {
	if a.DisplayName != "" {
		return a.DisplayName
	}
	return a.Name
}
