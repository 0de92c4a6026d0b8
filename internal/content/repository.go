package content

import (
	"context"
	"errors"
	"io"

	"github.com/nlstn/go-odata-content/internal/query"
)

// Repository signals.
var (
	// ErrAccessDenied is returned when the caller may not open a content or read a value.
	ErrAccessDenied = errors.New("access denied")
	// ErrNotFound is returned by writes addressing a missing content.
	ErrNotFound = errors.New("content not found")
	// ErrAlreadyExists is returned when a create would overwrite an existing path.
	ErrAlreadyExists = errors.New("content already exists")
	// ErrTypeNotAllowed is returned when the parent does not accept the child type.
	ErrTypeNotAllowed = errors.New("content type not allowed here")
	// ErrInvalidValue is wrapped by errors about field values a client supplied.
	ErrInvalidValue = errors.New("invalid field value")
)

// Permission names checked against contents.
type Permission string

const (
	PermissionSee    Permission = "See"
	PermissionOpen   Permission = "Open"
	PermissionSave   Permission = "Save"
	PermissionAddNew Permission = "AddNew"
	PermissionDelete Permission = "Delete"
)

// Loader loads contents. Missing contents yield (nil, nil); contents the
// caller cannot open yield ErrAccessDenied.
type Loader interface {
	LoadContentByPath(ctx context.Context, path string) (*Content, error)
	LoadContentByID(ctx context.Context, id int) (*Content, error)
	Exists(ctx context.Context, path string) (bool, error)
}

// PermissionChecker answers field and content level permission questions for
// the caller found in ctx.
type PermissionChecker interface {
	IsAllowedField(ctx context.Context, c *Content, fieldName string) bool
	HasPermission(ctx context.Context, path string, perms ...Permission) (bool, error)
}

// QuerySpec describes a children query.
type QuerySpec struct {
	// Parent is the path whose direct children are queried.
	Parent string
	Filter *query.FilterExpression
	Sort   []query.SortInfo
	Top    int
	Skip   int
	// Text is a free-text content query matched against names.
	Text string
	// Autofilters hides system contents.
	Autofilters bool
	// Lifespan hides contents outside their validity window.
	Lifespan      bool
	ExecutionMode query.ExecutionMode
}

// QueryResult holds the ids of one page and the total match count.
type QueryResult struct {
	IDs        []int
	TotalCount int
}

// Querier executes children queries.
type Querier interface {
	Query(ctx context.Context, spec QuerySpec) (QueryResult, error)
}

// CreateRequest describes a content to create.
type CreateRequest struct {
	Type   string
	Name   string
	Fields map[string]interface{}
	// MultistepSave leaves the content in the in-progress saving state.
	MultistepSave bool
}

// Writer persists changes.
type Writer interface {
	CreateContent(ctx context.Context, parentPath string, req CreateRequest) (*Content, error)
	// SaveContent applies changes. With reset set, every unprotected field not
	// named in changes returns to its default first.
	SaveContent(ctx context.Context, c *Content, changes map[string]interface{}, reset bool) error
	DeleteContent(ctx context.Context, c *Content, permanent bool) error
}

// Repository is everything the OData layer needs from storage.
type Repository interface {
	Loader
	PermissionChecker
	Querier
	Writer
}

// ActionParameter describes a parameter in an action descriptor.
type ActionParameter struct {
	Name     string `json:"name"`
	Type     string `json:"type"`
	Required bool   `json:"required"`
}

// ActionDescriptor is a UI-facing description of an action on a content.
type ActionDescriptor struct {
	Name              string
	DisplayName       string
	Icon              string
	URL               string
	Index             int
	Scenario          string
	Forbidden         bool
	IsODataAction     bool
	CausesStateChange bool
	Parameters        []ActionParameter
}

// ActionProvider lists repository-defined actions for a content.
type ActionProvider interface {
	Actions(ctx context.Context, c *Content, scenario string) ([]ActionDescriptor, error)
}

// VirtualChildProvider resolves children that have no stored node of their own.
type VirtualChildProvider interface {
	LoadVirtualChild(ctx context.Context, parentPath, name string) (*Content, error)
}

// VersionLoader loads a specific version of a content.
type VersionLoader interface {
	LoadContentVersion(ctx context.Context, path, version string) (*Content, error)
}

// BinaryReader opens the stream behind a binary field.
type BinaryReader interface {
	OpenBinary(ctx context.Context, c *Content, fieldName string) (io.ReadCloser, Binary, error)
}
