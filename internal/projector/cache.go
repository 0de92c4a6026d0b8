package projector

import (
	"sync"

	"github.com/nlstn/go-odata-content/internal/content"
	"golang.org/x/sync/singleflight"
)

// FieldNameCache remembers the natural field set of contents by parent path
// and type. Concurrent misses for the same key compute the set once.
type FieldNameCache struct {
	mu    sync.RWMutex
	names map[string][]string
	group singleflight.Group
}

// NewFieldNameCache creates an empty cache.
func NewFieldNameCache() *FieldNameCache {
	return &FieldNameCache{names: make(map[string][]string)}
}

// Names returns the natural field set of c: its real fields in type order,
// then Actions, Children, Icon when the type has no Icon field, and IsFile.
func (fc *FieldNameCache) Names(c *content.Content) []string {
	if fc == nil || c.Type == nil || c.Type.Dynamic {
		return naturalFieldNames(c)
	}
	key := c.ParentPath() + "\x00" + c.Type.Name

	fc.mu.RLock()
	names, ok := fc.names[key]
	fc.mu.RUnlock()
	if ok {
		return names
	}

	v, _, _ := fc.group.Do(key, func() (interface{}, error) {
		names := naturalFieldNames(c)
		fc.mu.Lock()
		fc.names[key] = names
		fc.mu.Unlock()
		return names, nil
	})
	return v.([]string)
}

// Reset drops every cached entry.
func (fc *FieldNameCache) Reset() {
	fc.mu.Lock()
	fc.names = make(map[string][]string)
	fc.mu.Unlock()
}

// Len returns the number of cached entries.
func (fc *FieldNameCache) Len() int {
	fc.mu.RLock()
	defer fc.mu.RUnlock()
	return len(fc.names)
}

func naturalFieldNames(c *content.Content) []string {
	names := c.FieldNames()
	out := make([]string, 0, len(names)+len(content.PseudoFieldNames))
	out = append(out, names...)
	for _, pseudo := range content.PseudoFieldNames {
		if _, exists := c.Field(pseudo); exists {
			continue
		}
		out = append(out, pseudo)
	}
	return out
}
