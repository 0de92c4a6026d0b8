package query

import (
	"context"
	"net/url"
	"regexp"
	"strconv"
	"strings"

	"github.com/nlstn/go-odata-content/internal/odataerrors"
)

// Control segments recognized in request paths.
const (
	SegmentMetadata = "$metadata"
	SegmentValue    = "$value"
	SegmentCount    = "$count"
)

// Output formats accepted by $format.
const (
	FormatJSON        = "json"
	FormatVerboseJSON = "verbosejson"
	FormatXML         = "xml"
	FormatExport      = "export"
)

// RootPath is the path of the repository root.
const RootPath = "/Root"

// Mode is the resolved intent of a request.
type Mode int

const (
	ModeSingleContent Mode = iota
	ModeServiceDocument
	ModeMetadata
	ModeCollection
	ModeMember
)

func (m Mode) String() string {
	switch m {
	case ModeServiceDocument:
		return "ServiceDocument"
	case ModeMetadata:
		return "Metadata"
	case ModeCollection:
		return "Collection"
	case ModeMember:
		return "Member"
	default:
		return "SingleContent"
	}
}

// InlineCount controls whether collection responses carry __count.
type InlineCount int

const (
	InlineCountNone InlineCount = iota
	InlineCountAllPages
)

// MetadataFormat controls the __metadata entry of projected entities.
type MetadataFormat int

const (
	MetadataFull MetadataFormat = iota
	MetadataMinimal
	MetadataNone
)

// FilterStatus is a tri-state switch for repository side filters.
type FilterStatus int

const (
	FilterDefault FilterStatus = iota
	FilterEnabled
	FilterDisabled
)

// Resolve returns the effective switch value given a default.
func (s FilterStatus) Resolve(def bool) bool {
	switch s {
	case FilterEnabled:
		return true
	case FilterDisabled:
		return false
	default:
		return def
	}
}

// ExecutionMode selects how strictly the repository executes content queries.
type ExecutionMode int

const (
	ExecutionDefault ExecutionMode = iota
	ExecutionQuick
	ExecutionStrict
)

// SortInfo is one $orderby key.
type SortInfo struct {
	FieldName  string
	Descending bool
}

// Request is the parsed form of one OData request. It is not modified after
// Parse except for Format, which the formatter may normalize.
type Request struct {
	// RepositoryPath addresses the content or collection parent.
	RepositoryPath string
	// ContentID is set when the request used the content(<id>) form.
	ContentID int

	IsServiceDocumentRequest bool
	IsMetadataRequest        bool
	IsCollection             bool
	IsMemberRequest          bool
	IsRawValueRequest        bool
	CountOnly                bool

	// PropertyName is the first member segment after the addressed content.
	PropertyName string

	Top         int
	Skip        int
	InlineCount InlineCount
	Select      []string
	Expand      []string
	Filter      *FilterExpression
	FilterText  string
	Sort        []SortInfo
	Format      string

	EntityMetadata MetadataFormat
	MultistepSave  bool
	Scenario       string
	ContentQuery   string
	Autofilters    FilterStatus
	LifespanFilter FilterStatus
	ExecutionMode  ExecutionMode
	RichTextEditor []string
	Version        string

	// Err holds the first problem found while parsing. Parse never fails.
	Err error
}

// Mode returns the request's resolved mode.
func (r *Request) Mode() Mode {
	switch {
	case r.IsServiceDocumentRequest:
		return ModeServiceDocument
	case r.IsMetadataRequest:
		return ModeMetadata
	case r.IsCollection:
		return ModeCollection
	case r.IsMemberRequest:
		return ModeMember
	default:
		return ModeSingleContent
	}
}

// IsExport reports whether the export projection was requested.
func (r *Request) IsExport() bool {
	return strings.EqualFold(r.Format, FormatExport)
}

// HasTop reports whether $top was supplied.
func (r *Request) HasTop() bool {
	return r.Top > 0
}

// RichTextRequested reports whether the rich-text object form was requested for field.
func (r *Request) RichTextRequested(field string) bool {
	for _, name := range r.RichTextEditor {
		if strings.EqualFold(name, "all") || name == field {
			return true
		}
	}
	return false
}

func (r *Request) fail(err error) {
	if r.Err == nil {
		r.Err = err
	}
}

// IDResolver maps a numeric content id to its path. It returns "" when the id
// is unknown.
type IDResolver func(ctx context.Context, id int) (string, error)

// ParseOptions configure Parse.
type ParseOptions struct {
	// ServiceRoot is stripped from the front of the request path.
	ServiceRoot string
	// ResolveID handles the content(<id>) addressing form.
	ResolveID IDResolver
}

var (
	contentIDPattern  = regexp.MustCompile(`(?i)^content\((.*)\)$`)
	quotedNamePattern = regexp.MustCompile(`^([^(]*)\('((?:[^']|'')*)'\)$`)
)

// Parse builds a Request from a path and query parameters. Problems are
// recorded in Request.Err.
func Parse(ctx context.Context, requestPath string, params url.Values, opts ParseOptions) *Request {
	req := &Request{}
	parsePath(ctx, req, requestPath, opts)
	parseOptions(req, params)
	return req
}

func parsePath(ctx context.Context, req *Request, requestPath string, opts ParseOptions) {
	p := requestPath
	if opts.ServiceRoot != "" {
		root := strings.TrimRight(opts.ServiceRoot, "/")
		if len(p) >= len(root) && strings.EqualFold(p[:len(root)], root) {
			p = p[len(root):]
		}
	}

	var (
		resource []string
		entity   bool
		resolved string
	)
	segments := strings.Split(strings.Trim(p, "/"), "/")
	for i, seg := range segments {
		if seg == "" {
			continue
		}
		switch strings.ToLower(seg) {
		case SegmentMetadata:
			req.IsMetadataRequest = true
		case SegmentValue:
			req.IsRawValueRequest = true
		case SegmentCount:
			req.CountOnly = true
		}
		if req.IsMetadataRequest || req.IsRawValueRequest || req.CountOnly {
			break
		}

		if i == 0 {
			if m := contentIDPattern.FindStringSubmatch(seg); m != nil {
				entity = true
				resolved = resolveContentID(ctx, req, m[1], opts.ResolveID)
				continue
			}
		}

		if !entity {
			if m := quotedNamePattern.FindStringSubmatch(seg); m != nil {
				if m[1] != "" {
					resource = append(resource, m[1])
				}
				resource = append(resource, strings.ReplaceAll(m[2], "''", "'"))
				entity = true
				continue
			}
			resource = append(resource, seg)
			continue
		}

		if req.PropertyName != "" {
			req.fail(odataerrors.New(odataerrors.ResourceNotFound, "Unsupported member path segment: %s", seg))
			break
		}
		req.PropertyName = seg
		req.IsMemberRequest = true
	}

	switch {
	case req.ContentID != 0 || resolved != "":
		req.RepositoryPath = resolved
	case len(resource) > 0:
		req.RepositoryPath = "/" + strings.Join(resource, "/")
	}

	if req.IsMetadataRequest {
		req.IsMemberRequest = false
		req.PropertyName = ""
		return
	}
	if len(resource) == 0 && !entity {
		req.IsServiceDocumentRequest = true
		req.RepositoryPath = RootPath
		return
	}
	req.IsCollection = !entity
}

func resolveContentID(ctx context.Context, req *Request, raw string, resolve IDResolver) string {
	id, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil || id <= 0 {
		req.fail(odataerrors.New(odataerrors.InvalidID, "Invalid content id: %q", raw))
		return ""
	}
	req.ContentID = id
	if resolve == nil {
		req.fail(odataerrors.NotFound("content(" + raw + ")"))
		return ""
	}
	resolved, err := resolve(ctx, id)
	if err != nil {
		req.fail(err)
		return ""
	}
	if resolved == "" {
		req.fail(odataerrors.NotFound("content(" + raw + ")"))
	}
	return resolved
}
