package query

import (
	"context"
	"errors"
	"net/url"
	"testing"

	"github.com/nlstn/go-odata-content/internal/odataerrors"
)

func testResolver(paths map[int]string) IDResolver {
	return func(ctx context.Context, id int) (string, error) {
		return paths[id], nil
	}
}

func parseURL(t *testing.T, raw string) *Request {
	t.Helper()
	u, err := url.Parse(raw)
	if err != nil {
		t.Fatalf("Invalid test URL %q: %v", raw, err)
	}
	return Parse(context.Background(), u.Path, u.Query(), ParseOptions{
		ServiceRoot: "/odata.svc",
		ResolveID:   testResolver(map[int]string{42: "/Root/Docs/a.txt"}),
	})
}

func TestParsePath(t *testing.T) {
	tests := []struct {
		name     string
		url      string
		mode     Mode
		path     string
		property string
		raw      bool
		count    bool
	}{
		{name: "service root", url: "/odata.svc", mode: ModeServiceDocument, path: RootPath},
		{name: "service root with slash", url: "/odata.svc/", mode: ModeServiceDocument, path: RootPath},
		{name: "root case-insensitive", url: "/ODATA.SVC/Root", mode: ModeCollection, path: "/Root"},
		{name: "collection", url: "/odata.svc/Root/Docs", mode: ModeCollection, path: "/Root/Docs"},
		{name: "entity", url: "/odata.svc/Root/Docs('a.txt')", mode: ModeSingleContent, path: "/Root/Docs/a.txt"},
		{name: "escaped quote", url: "/odata.svc/Root('it''s')", mode: ModeSingleContent, path: "/Root/it's"},
		{name: "member", url: "/odata.svc/Root/Docs('a.txt')/CreatedBy", mode: ModeMember, path: "/Root/Docs/a.txt", property: "CreatedBy"},
		{name: "raw value", url: "/odata.svc/Root/Docs('a.txt')/Name/$value", mode: ModeMember, path: "/Root/Docs/a.txt", property: "Name", raw: true},
		{name: "count", url: "/odata.svc/Root/Docs/$count", mode: ModeCollection, path: "/Root/Docs", count: true},
		{name: "metadata", url: "/odata.svc/$metadata", mode: ModeMetadata},
		{name: "metadata clears member", url: "/odata.svc/Root('Docs')/Name/$metadata", mode: ModeMetadata, path: "/Root/Docs"},
		{name: "content id", url: "/odata.svc/content(42)", mode: ModeSingleContent, path: "/Root/Docs/a.txt"},
		{name: "content id member", url: "/odata.svc/Content(42)/Rename", mode: ModeMember, path: "/Root/Docs/a.txt", property: "Rename"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := parseURL(t, tt.url)
			if req.Err != nil {
				t.Fatalf("Unexpected parse error: %v", req.Err)
			}
			if req.Mode() != tt.mode {
				t.Errorf("Mode = %s, want %s", req.Mode(), tt.mode)
			}
			if req.RepositoryPath != tt.path {
				t.Errorf("RepositoryPath = %q, want %q", req.RepositoryPath, tt.path)
			}
			if req.PropertyName != tt.property {
				t.Errorf("PropertyName = %q, want %q", req.PropertyName, tt.property)
			}
			if req.IsRawValueRequest != tt.raw {
				t.Errorf("IsRawValueRequest = %v, want %v", req.IsRawValueRequest, tt.raw)
			}
			if req.CountOnly != tt.count {
				t.Errorf("CountOnly = %v, want %v", req.CountOnly, tt.count)
			}
		})
	}
}

func TestParsePathErrors(t *testing.T) {
	tests := []struct {
		name string
		url  string
		code odataerrors.Code
	}{
		{name: "invalid id", url: "/odata.svc/content(abc)", code: odataerrors.InvalidID},
		{name: "unknown id", url: "/odata.svc/content(7)", code: odataerrors.ResourceNotFound},
		{name: "nested member", url: "/odata.svc/Root('a')/CreatedBy/Name", code: odataerrors.ResourceNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := parseURL(t, tt.url)
			if !odataerrors.HasCode(req.Err, tt.code) {
				t.Errorf("Err = %v, want code %s", req.Err, tt.code)
			}
		})
	}
}

func TestParseResolverErrorIsRecorded(t *testing.T) {
	boom := errors.New("db down")
	req := Parse(context.Background(), "/odata.svc/content(1)", url.Values{}, ParseOptions{
		ServiceRoot: "/odata.svc",
		ResolveID: func(ctx context.Context, id int) (string, error) {
			return "", boom
		},
	})
	if !errors.Is(req.Err, boom) {
		t.Errorf("Err = %v, want resolver error", req.Err)
	}
}

func TestParseOptions(t *testing.T) {
	req := parseURL(t, "/odata.svc/Root/Docs?$top=10&$skip=5&$select=Name,%20Size&$expand=CreatedBy&$orderby=Name%20desc,Index&$inlinecount=allpages&metadata=minimal&enableautofilters=false&enablelifespanfilter=true&queryexecutionmode=strict&multistepsave=true&richtexteditor=Description&version=V1.0&scenario=ListItem&query=hello")
	if req.Err != nil {
		t.Fatalf("Unexpected parse error: %v", req.Err)
	}
	if req.Top != 10 || req.Skip != 5 {
		t.Errorf("Top/Skip = %d/%d", req.Top, req.Skip)
	}
	if len(req.Select) != 2 || req.Select[1] != "Size" {
		t.Errorf("Select = %v", req.Select)
	}
	if len(req.Expand) != 1 || req.Expand[0] != "CreatedBy" {
		t.Errorf("Expand = %v", req.Expand)
	}
	if len(req.Sort) != 2 || !req.Sort[0].Descending || req.Sort[1].Descending || req.Sort[1].FieldName != "Index" {
		t.Errorf("Sort = %+v", req.Sort)
	}
	if req.InlineCount != InlineCountAllPages {
		t.Errorf("InlineCount = %v", req.InlineCount)
	}
	if req.EntityMetadata != MetadataMinimal {
		t.Errorf("EntityMetadata = %v", req.EntityMetadata)
	}
	if req.Autofilters.Resolve(true) || !req.LifespanFilter.Resolve(false) {
		t.Errorf("Filter switches = %v %v", req.Autofilters, req.LifespanFilter)
	}
	if req.ExecutionMode != ExecutionStrict || !req.MultistepSave {
		t.Errorf("ExecutionMode/MultistepSave = %v %v", req.ExecutionMode, req.MultistepSave)
	}
	if !req.RichTextRequested("Description") || req.RichTextRequested("Body") {
		t.Errorf("RichTextEditor = %v", req.RichTextEditor)
	}
	if req.Version != "V1.0" || req.Scenario != "ListItem" || req.ContentQuery != "hello" {
		t.Errorf("Version/Scenario/Query = %q %q %q", req.Version, req.Scenario, req.ContentQuery)
	}
	if req.Format != FormatJSON {
		t.Errorf("Format = %q, want json", req.Format)
	}
}

func TestParseOptionDefaults(t *testing.T) {
	req := parseURL(t, "/odata.svc/Root/Docs?$select=*")
	if req.Select != nil {
		t.Errorf("Lone * should mean no restriction, got %v", req.Select)
	}
	if req.Autofilters != FilterDefault || !req.Autofilters.Resolve(true) {
		t.Errorf("Autofilters should default, got %v", req.Autofilters)
	}
	if req.EntityMetadata != MetadataFull {
		t.Errorf("EntityMetadata = %v, want full", req.EntityMetadata)
	}

	meta := parseURL(t, "/odata.svc/$metadata")
	if meta.Format != FormatXML {
		t.Errorf("Metadata format = %q, want xml", meta.Format)
	}
}

func TestParseOptionErrors(t *testing.T) {
	tests := []struct {
		name  string
		query string
		code  odataerrors.Code
	}{
		{"top not a number", "$top=abc", odataerrors.InvalidTopParameter},
		{"negative top", "$top=-1", odataerrors.NegativeTopParameter},
		{"skip not a number", "$skip=x", odataerrors.InvalidSkipParameter},
		{"negative skip", "$skip=-3", odataerrors.NegativeSkipParameter},
		{"orderby direction", "$orderby=Name%20up", odataerrors.InvalidOrderByDirectionParameter},
		{"orderby shape", "$orderby=Name%20asc%20extra", odataerrors.InvalidOrderByParameter},
		{"inlinecount", "$inlinecount=some", odataerrors.InvalidInlineCountParameter},
		{"format", "$format=atom", odataerrors.InvalidFormatParameter},
		{"xml outside metadata", "$format=xml", odataerrors.InvalidFormatParameter},
		{"filter", "$filter=Name%20eq", odataerrors.InvalidFilterParameter},
		{"metadata", "metadata=lots", odataerrors.InvalidMetadataParameter},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := parseURL(t, "/odata.svc/Root/Docs?"+tt.query)
			if !odataerrors.HasCode(req.Err, tt.code) {
				t.Errorf("Err = %v, want code %s", req.Err, tt.code)
			}
		})
	}
}

func TestParseKeepsFirstError(t *testing.T) {
	req := parseURL(t, "/odata.svc/Root/Docs?$top=-1&$skip=abc")
	if !odataerrors.HasCode(req.Err, odataerrors.NegativeTopParameter) {
		t.Errorf("Err = %v, want the $top error", req.Err)
	}
}

func TestModeIsExclusive(t *testing.T) {
	urls := []string{
		"/odata.svc",
		"/odata.svc/$metadata",
		"/odata.svc/Root/Docs",
		"/odata.svc/Root('Docs')",
		"/odata.svc/Root('Docs')/Name",
	}
	seen := make(map[Mode]bool)
	for _, u := range urls {
		req := parseURL(t, u)
		flags := 0
		for _, b := range []bool{req.IsServiceDocumentRequest, req.IsMetadataRequest, req.IsCollection, req.IsMemberRequest} {
			if b {
				flags++
			}
		}
		if flags > 1 {
			t.Errorf("%s sets %d mode flags", u, flags)
		}
		seen[req.Mode()] = true
	}
	if len(seen) != len(urls) {
		t.Errorf("Expected %d distinct modes, got %v", len(urls), seen)
	}
}
