package projector

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"strings"
	"testing"

	"github.com/nlstn/go-odata-content/internal/content"
	"github.com/nlstn/go-odata-content/internal/odataerrors"
	"github.com/nlstn/go-odata-content/internal/query"
)

// fakeRepository serves contents from memory.
type fakeRepository struct {
	byID     map[int]*content.Content
	denied   map[int]bool
	hidden   map[string]bool
	children map[string][]int
	loads    int
}

func newFakeRepository(contents ...*content.Content) *fakeRepository {
	r := &fakeRepository{
		byID:     make(map[int]*content.Content),
		denied:   make(map[int]bool),
		hidden:   make(map[string]bool),
		children: make(map[string][]int),
	}
	for _, c := range contents {
		r.byID[c.ID] = c
		parent := c.ParentPath()
		r.children[parent] = append(r.children[parent], c.ID)
	}
	return r
}

func (r *fakeRepository) LoadContentByPath(ctx context.Context, path string) (*content.Content, error) {
	for _, c := range r.byID {
		if c.Path == path {
			return r.LoadContentByID(ctx, c.ID)
		}
	}
	return nil, nil
}

func (r *fakeRepository) LoadContentByID(ctx context.Context, id int) (*content.Content, error) {
	r.loads++
	if r.denied[id] {
		return nil, content.ErrAccessDenied
	}
	return r.byID[id], nil
}

func (r *fakeRepository) Exists(ctx context.Context, path string) (bool, error) {
	c, _ := r.LoadContentByPath(ctx, path)
	return c != nil, nil
}

func (r *fakeRepository) IsAllowedField(ctx context.Context, c *content.Content, fieldName string) bool {
	return !r.hidden[fieldName]
}

func (r *fakeRepository) HasPermission(ctx context.Context, path string, perms ...content.Permission) (bool, error) {
	return true, nil
}

func (r *fakeRepository) Query(ctx context.Context, spec content.QuerySpec) (content.QueryResult, error) {
	ids := r.children[spec.Parent]
	total := len(ids)
	if spec.Top > 0 && spec.Top < len(ids) {
		ids = ids[:spec.Top]
	}
	return content.QueryResult{IDs: ids, TotalCount: total}, nil
}

func (r *fakeRepository) CreateContent(ctx context.Context, parentPath string, req content.CreateRequest) (*content.Content, error) {
	return nil, errors.New("not supported")
}

func (r *fakeRepository) SaveContent(ctx context.Context, c *content.Content, changes map[string]interface{}, reset bool) error {
	return errors.New("not supported")
}

func (r *fakeRepository) DeleteContent(ctx context.Context, c *content.Content, permanent bool) error {
	return errors.New("not supported")
}

type fakeActions []content.ActionDescriptor

func (a fakeActions) ListActions(ctx context.Context, c *content.Content, scenario string) ([]content.ActionDescriptor, error) {
	return a, nil
}

var (
	nameSetting     = &content.FieldSetting{Name: "Name", Kind: content.KindScalar, Type: "String"}
	sizeSetting     = &content.FieldSetting{Name: "Size", Kind: content.KindScalar, Type: "Int"}
	managerSetting  = &content.FieldSetting{Name: "Manager", Kind: content.KindReference}
	passwordSetting = &content.FieldSetting{Name: "Password", Kind: content.KindScalar, Type: "String"}
	createdSetting  = &content.FieldSetting{Name: "CreatedBy", Kind: content.KindReference}
	relatedSetting  = &content.FieldSetting{Name: "Related", Kind: content.KindReference, AllowMultiple: true}
	bodySetting     = &content.FieldSetting{Name: "Body", Kind: content.KindScalar, Type: "String", RichText: true}
	binarySetting   = &content.FieldSetting{Name: "Binary", Kind: content.KindBinary}
	statusSetting   = &content.FieldSetting{Name: "Status", Kind: content.KindChoice, Options: []string{"draft", "final"}}
	versionsSetting = &content.FieldSetting{Name: "Versions", Kind: content.KindReference, AllowMultiple: true}
	childSetting    = &content.FieldSetting{Name: "AllowedChildTypes", Kind: content.KindChildTypes}

	userType = &content.ContentType{Name: "User", Icon: "user",
		Fields: []*content.FieldSetting{nameSetting, managerSetting, passwordSetting}}
	fileType = &content.ContentType{Name: "File", Icon: "file",
		Fields: []*content.FieldSetting{nameSetting, sizeSetting, createdSetting, relatedSetting, bodySetting, binarySetting, statusSetting, versionsSetting, childSetting}}
	folderType = &content.ContentType{Name: "Folder", Icon: "folder",
		Fields: []*content.FieldSetting{nameSetting}}
)

func newUser(id int, name string, manager int) *content.Content {
	ref := content.Reference{}
	if manager != 0 {
		ref.IDs = []int{manager}
	}
	return content.New(id, "/Root/IMS/"+name, userType, []*content.Field{
		content.NewField(nameSetting, content.Scalar{Data: name}),
		content.NewField(managerSetting, ref),
		content.NewField(passwordSetting, content.Scalar{Data: "secret"}),
	})
}

func newFile(id int, name string, size int, createdBy int, related ...int) *content.Content {
	return content.New(id, "/Root/Folder1/"+name, fileType, []*content.Field{
		content.NewField(nameSetting, content.Scalar{Data: name}),
		content.NewField(sizeSetting, content.Scalar{Data: size}),
		content.NewField(createdSetting, content.Reference{IDs: []int{createdBy}}),
		content.NewField(relatedSetting, content.Reference{IDs: related}),
		content.NewField(bodySetting, content.Scalar{Data: content.RichTextValue{Text: "<p>hi</p>", Editor: "{}"}}),
		content.NewField(binarySetting, content.Binary{FileName: name, ContentType: "text/plain", Size: int64(size), Hash: "abc", Key: "k"}),
		content.NewField(statusSetting, content.Choice{Selected: []string{"draft"}}),
		content.NewField(versionsSetting, content.Reference{}),
		content.NewField(childSetting, content.ChildTypes{Names: []string{"File"}}),
	})
}

func fixture() (*fakeRepository, *content.Content) {
	admin := newUser(1, "admin", 1)
	alice := newUser(2, "alice", 1)
	file := newFile(10, "file.txt", 1024, 2, 11, 12)
	other := newFile(11, "other.txt", 10, 1)
	third := newFile(12, "third.txt", 20, 1)
	return newFakeRepository(admin, alice, file, other, third), file
}

func project(t *testing.T, req *query.Request, env Environment, c *content.Content) map[string]interface{} {
	t.Helper()
	p, err := New(req, env)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	doc, err := p.Project(context.Background(), c)
	if err != nil {
		t.Fatalf("Project failed: %v", err)
	}
	return decode(t, doc)
}

func decode(t *testing.T, doc *Document) map[string]interface{} {
	t.Helper()
	raw, err := json.Marshal(doc)
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}
	var out map[string]interface{}
	if err := json.Unmarshal(raw, &out); err != nil {
		t.Fatalf("unmarshal failed: %v", err)
	}
	return out
}

func keysOf(t *testing.T, doc *Document) string {
	t.Helper()
	return strings.Join(doc.Keys(), ",")
}

func TestNewPicksStrategy(t *testing.T) {
	repo, _ := fixture()
	tests := []struct {
		name string
		req  *query.Request
		want string
	}{
		{"nothing", &query.Request{}, StrategySimple},
		{"select only", &query.Request{Select: []string{"Name"}}, StrategySimple},
		{"expand only", &query.Request{Expand: []string{"CreatedBy"}}, StrategySimpleExpander},
		{"select and expand", &query.Request{Select: []string{"Name"}, Expand: []string{"CreatedBy"}}, StrategyExpander},
		{"export", &query.Request{Format: "Export", Expand: []string{"CreatedBy"}}, StrategyExport},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := New(tt.req, Environment{Repository: repo})
			if err != nil {
				t.Fatalf("New failed: %v", err)
			}
			if p.Name() != tt.want {
				t.Errorf("Name() = %s, want %s", p.Name(), tt.want)
			}
		})
	}
}

func TestNewRejectsMalformedTrees(t *testing.T) {
	repo, _ := fixture()
	tests := []struct {
		name string
		req  *query.Request
		code odataerrors.Code
	}{
		{"select below unexpanded", &query.Request{Select: []string{"CreatedBy/Name"}}, odataerrors.InvalidSelectParameter},
		{"joker with children", &query.Request{Select: []string{"*/Name"}}, odataerrors.InvalidSelectParameter},
		{"empty select segment", &query.Request{Select: []string{"Name//Size"}}, odataerrors.InvalidSelectParameter},
		{"wildcard expand", &query.Request{Expand: []string{"*"}}, odataerrors.InvalidExpandParameter},
		{"too deep", &query.Request{Expand: []string{"A/B/C"}}, odataerrors.InvalidExpandParameter},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.req, Environment{Repository: repo, MaxExpandDepth: 2})
			if !odataerrors.HasCode(err, tt.code) {
				t.Fatalf("error = %v, want code %s", err, tt.code)
			}
		})
	}
}

func TestSelectWithExpandedReference(t *testing.T) {
	repo, file := fixture()
	req := &query.Request{
		Select:         []string{"Name", "Size"},
		Expand:         []string{"CreatedBy"},
		EntityMetadata: query.MetadataNone,
	}
	p, err := New(req, Environment{Repository: repo})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	doc, err := p.Project(context.Background(), file)
	if err != nil {
		t.Fatalf("Project failed: %v", err)
	}
	if got := keysOf(t, doc); got != "Name,Size,CreatedBy" {
		t.Errorf("keys = %s, want Name,Size,CreatedBy", got)
	}

	out := decode(t, doc)
	if out["Name"] != "file.txt" || out["Size"] != float64(1024) {
		t.Errorf("unexpected scalars: %v", out)
	}
	created, ok := out["CreatedBy"].(map[string]interface{})["d"].(map[string]interface{})
	if !ok {
		t.Fatalf("CreatedBy is not an expanded entity: %v", out["CreatedBy"])
	}
	if created["Name"] != "alice" {
		t.Errorf("CreatedBy.Name = %v, want alice", created["Name"])
	}
	if _, ok := created["Password"]; ok {
		t.Error("disabled field surfaced on expanded user")
	}
	if _, ok := created["Manager"].(map[string]interface{})["__deferred"]; !ok {
		t.Errorf("Manager not deferred: %v", created["Manager"])
	}
}

func TestNaturalFieldSet(t *testing.T) {
	repo, file := fixture()
	p, err := New(&query.Request{EntityMetadata: query.MetadataNone}, Environment{Repository: repo})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	doc, err := p.Project(context.Background(), file)
	if err != nil {
		t.Fatalf("Project failed: %v", err)
	}
	want := "Name,Size,CreatedBy,Related,Body,Binary,Status,Versions,AllowedChildTypes,Actions,Children,Icon,IsFile"
	if got := keysOf(t, doc); got != want {
		t.Errorf("keys = %s\nwant %s", got, want)
	}

	out := decode(t, doc)
	if out["Body"] != "<p>hi</p>" {
		t.Errorf("Body = %v, want plain text", out["Body"])
	}
	if out["Icon"] != "file" || out["IsFile"] != true {
		t.Errorf("Icon = %v, IsFile = %v", out["Icon"], out["IsFile"])
	}
	for _, name := range []string{"Versions", "AllowedChildTypes", "Actions", "Children", "CreatedBy"} {
		if _, ok := out[name].(map[string]interface{})["__deferred"]; !ok {
			t.Errorf("%s not deferred: %v", name, out[name])
		}
	}
	media := out["Binary"].(map[string]interface{})["__mediaresource"].(map[string]interface{})
	if media["edit_media"] != "/odata.svc/Root/Folder1('file.txt')/Binary/$value" {
		t.Errorf("edit_media = %v", media["edit_media"])
	}
	if media["media_etag"] != `"abc"` {
		t.Errorf("media_etag = %v", media["media_etag"])
	}
	if status, _ := out["Status"].([]interface{}); len(status) != 1 || status[0] != "draft" {
		t.Errorf("Status = %v", out["Status"])
	}
}

func TestSelectJoker(t *testing.T) {
	repo, file := fixture()
	doc := mustProjectDoc(t, &query.Request{
		Select:         []string{"Size", "*"},
		EntityMetadata: query.MetadataNone,
	}, Environment{Repository: repo}, file)
	keys := doc.Keys()
	if len(keys) == 0 || keys[0] != "Size" {
		t.Fatalf("keys = %v, want Size first", keys)
	}
	if keys[1] != "Name" {
		t.Errorf("joker did not continue with natural order: %v", keys)
	}
	seen := map[string]int{}
	for _, k := range keys {
		seen[k]++
	}
	if seen["Size"] != 1 || seen["IsFile"] != 1 {
		t.Errorf("duplicate or missing keys: %v", keys)
	}
}

func TestDisabledAndUnknownFields(t *testing.T) {
	repo, _ := fixture()
	alice := repo.byID[2]

	out := project(t, &query.Request{
		Select:         []string{"Name", "Password", "Missing"},
		EntityMetadata: query.MetadataNone,
	}, Environment{Repository: repo}, alice)
	for _, name := range []string{"Password", "Missing"} {
		v, ok := out[name]
		if !ok || v != nil {
			t.Errorf("explicit %s = %v (present %v), want null", name, v, ok)
		}
	}

	out = project(t, &query.Request{EntityMetadata: query.MetadataNone}, Environment{Repository: repo}, alice)
	if _, ok := out["Password"]; ok {
		t.Error("disabled field emitted without selection")
	}
}

func TestDisallowedFieldIsNull(t *testing.T) {
	repo, file := fixture()
	repo.hidden["Size"] = true
	out := project(t, &query.Request{Select: []string{"Name", "Size"}, EntityMetadata: query.MetadataNone}, Environment{Repository: repo}, file)
	v, ok := out["Size"]
	if !ok || v != nil {
		t.Errorf("Size = %v (present %v), want null", v, ok)
	}
}

func TestDeniedFieldValueIsSwallowed(t *testing.T) {
	repo, _ := fixture()
	secret := &content.FieldSetting{Name: "Secret", Kind: content.KindScalar}
	c := content.New(50, "/Root/Secret", folderType, []*content.Field{
		content.NewField(nameSetting, content.Scalar{Data: "Secret"}),
		content.NewLazyField(secret, func(ctx context.Context) (content.Value, error) {
			return nil, content.ErrAccessDenied
		}),
	})
	out := project(t, &query.Request{Select: []string{"Name", "Secret"}, EntityMetadata: query.MetadataNone}, Environment{Repository: repo}, c)
	if v, ok := out["Secret"]; !ok || v != nil {
		t.Errorf("Secret = %v (present %v), want null", v, ok)
	}
	if out["Name"] != "Secret" {
		t.Errorf("Name = %v", out["Name"])
	}
}

func TestExpandCycleIsDeferred(t *testing.T) {
	repo, _ := fixture()
	admin := repo.byID[1]
	out := project(t, &query.Request{Expand: []string{"Manager"}, EntityMetadata: query.MetadataNone}, Environment{Repository: repo}, admin)
	if _, ok := out["Manager"].(map[string]interface{})["__deferred"]; !ok {
		t.Errorf("self reference expanded: %v", out["Manager"])
	}

	alice := repo.byID[2]
	out = project(t, &query.Request{Expand: []string{"Manager/Manager"}, EntityMetadata: query.MetadataNone}, Environment{Repository: repo}, alice)
	manager := out["Manager"].(map[string]interface{})["d"].(map[string]interface{})
	if manager["Name"] != "admin" {
		t.Fatalf("Manager = %v", manager)
	}
	if _, ok := manager["Manager"].(map[string]interface{})["__deferred"]; !ok {
		t.Errorf("cycle through admin expanded: %v", manager["Manager"])
	}
}

func TestExpandMultiReference(t *testing.T) {
	repo, file := fixture()
	repo.denied[12] = true
	out := project(t, &query.Request{
		Select:         []string{"Name", "Related/Name"},
		Expand:         []string{"Related"},
		EntityMetadata: query.MetadataNone,
	}, Environment{Repository: repo}, file)

	related := out["Related"].(map[string]interface{})["d"].(map[string]interface{})
	if related["__count"] != float64(1) {
		t.Errorf("__count = %v, want 1", related["__count"])
	}
	results := related["results"].([]interface{})
	if len(results) != 1 {
		t.Fatalf("results = %v", results)
	}
	first := results[0].(map[string]interface{})
	if first["Name"] != "other.txt" || len(first) != 1 {
		t.Errorf("nested selection not applied: %v", first)
	}
}

func TestExpansionLimit(t *testing.T) {
	repo, file := fixture()
	out := project(t, &query.Request{Expand: []string{"Related"}, EntityMetadata: query.MetadataNone}, Environment{Repository: repo, ExpansionLimit: 1}, file)
	related := out["Related"].(map[string]interface{})["d"].(map[string]interface{})
	if n := len(related["results"].([]interface{})); n != 1 {
		t.Errorf("results = %d, want 1", n)
	}
}

func TestExpandPseudoFields(t *testing.T) {
	repo, _ := fixture()
	folder := content.New(20, "/Root/Folder1", folderType, []*content.Field{
		content.NewField(nameSetting, content.Scalar{Data: "Folder1"}),
	})
	actions := fakeActions{{Name: "Rename", DisplayName: "Rename", IsODataAction: true, CausesStateChange: true}}
	out := project(t, &query.Request{
		Expand:         []string{"Children", "Actions"},
		EntityMetadata: query.MetadataNone,
	}, Environment{Repository: repo, Actions: actions}, folder)

	children := out["Children"].(map[string]interface{})["d"].(map[string]interface{})
	if children["__count"] != float64(3) {
		t.Errorf("children __count = %v, want 3", children["__count"])
	}
	list := out["Actions"].([]interface{})
	if len(list) != 1 || list[0].(map[string]interface{})["Name"] != "Rename" {
		t.Errorf("Actions = %v", list)
	}
	if out["IsFile"] != false {
		t.Errorf("IsFile = %v", out["IsFile"])
	}
}

func TestMetadataEntry(t *testing.T) {
	repo, file := fixture()
	actions := fakeActions{
		{Name: "Rename", IsODataAction: true, CausesStateChange: true, Parameters: []content.ActionParameter{{Name: "newName", Type: "string", Required: true}}},
		{Name: "GetSize", IsODataAction: true},
		{Name: "Browse"},
	}
	env := Environment{Repository: repo, Actions: actions}

	out := project(t, &query.Request{Select: []string{"Name"}, EntityMetadata: query.MetadataMinimal}, env, file)
	meta := out["__metadata"].(map[string]interface{})
	if meta["uri"] != "/odata.svc/Root/Folder1('file.txt')" || meta["type"] != "File" {
		t.Errorf("minimal metadata = %v", meta)
	}
	if _, ok := meta["actions"]; ok {
		t.Error("minimal metadata lists actions")
	}

	out = project(t, &query.Request{Select: []string{"Name"}}, env, file)
	meta = out["__metadata"].(map[string]interface{})
	if n := len(meta["actions"].([]interface{})); n != 1 {
		t.Errorf("actions = %d, want 1", n)
	}
	if n := len(meta["functions"].([]interface{})); n != 1 {
		t.Errorf("functions = %d, want 1", n)
	}

	dynamic := content.New(30, "/Root/Dyn", &content.ContentType{Name: "Runtime", Dynamic: true}, nil)
	out = project(t, &query.Request{}, env, dynamic)
	meta = out["__metadata"].(map[string]interface{})
	if _, ok := meta["uri"]; ok {
		t.Error("dynamic content has a uri")
	}
	if n := len(meta["actions"].([]interface{})); n != 0 {
		t.Errorf("dynamic actions = %d, want 0", n)
	}
}

func TestRichTextRequested(t *testing.T) {
	repo, file := fixture()
	out := project(t, &query.Request{Select: []string{"Body"}, RichTextEditor: []string{"Body"}, EntityMetadata: query.MetadataNone}, Environment{Repository: repo}, file)
	body, ok := out["Body"].(map[string]interface{})
	if !ok || body["text"] != "<p>hi</p>" || body["editor"] != "{}" {
		t.Errorf("Body = %v", out["Body"])
	}
}

func TestProjectMultiRefContents(t *testing.T) {
	repo, _ := fixture()
	refs := []*content.Content{repo.byID[10], repo.byID[11], repo.byID[12]}
	filter, err := query.ParseFilter("Size gt 15")
	if err != nil {
		t.Fatalf("ParseFilter failed: %v", err)
	}

	tests := []struct {
		name      string
		req       *query.Request
		wantNames []string
		wantCount float64
	}{
		{"sorted", &query.Request{Sort: []query.SortInfo{{FieldName: "Size"}}}, []string{"other.txt", "third.txt", "file.txt"}, 3},
		{"filtered", &query.Request{Filter: filter, Sort: []query.SortInfo{{FieldName: "Size", Descending: true}}}, []string{"file.txt", "third.txt"}, 2},
		{"paged", &query.Request{Top: 1, Skip: 1, Sort: []query.SortInfo{{FieldName: "Name"}}}, []string{"other.txt"}, 1},
		{"paged all pages", &query.Request{Top: 1, InlineCount: query.InlineCountAllPages, Sort: []query.SortInfo{{FieldName: "Name"}}}, []string{"file.txt"}, 3},
		{"skip past end", &query.Request{Skip: 9}, nil, 0},
		{"top at int limit", &query.Request{Top: math.MaxInt, Skip: 1, Sort: []query.SortInfo{{FieldName: "Name"}}}, []string{"other.txt", "third.txt"}, 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.req.Select = []string{"Name"}
			tt.req.EntityMetadata = query.MetadataNone
			p, err := New(tt.req, Environment{Repository: repo})
			if err != nil {
				t.Fatalf("New failed: %v", err)
			}
			doc, err := p.ProjectMultiRefContents(context.Background(), refs)
			if err != nil {
				t.Fatalf("ProjectMultiRefContents failed: %v", err)
			}
			out := decode(t, doc)
			if out["__count"] != tt.wantCount {
				t.Errorf("__count = %v, want %v", out["__count"], tt.wantCount)
			}
			results := out["results"].([]interface{})
			if len(results) != len(tt.wantNames) {
				t.Fatalf("results = %v, want %v", results, tt.wantNames)
			}
			for i, r := range results {
				if name := r.(map[string]interface{})["Name"]; name != tt.wantNames[i] {
					t.Errorf("results[%d] = %v, want %s", i, name, tt.wantNames[i])
				}
			}
		})
	}
}

func TestExportProjector(t *testing.T) {
	repo, file := fixture()
	repo.hidden["Status"] = true
	repo.denied[12] = true
	out := project(t, &query.Request{Format: query.FormatExport, Select: []string{"Name"}}, Environment{Repository: repo}, file)

	if _, ok := out["__metadata"]; ok {
		t.Error("export emitted metadata")
	}
	if _, ok := out["Status"]; ok {
		t.Error("export emitted a disallowed field")
	}
	if out["CreatedBy"] != "/Root/IMS/alice" {
		t.Errorf("CreatedBy = %v, want path", out["CreatedBy"])
	}
	related := out["Related"].([]interface{})
	if len(related) != 1 || related[0] != "/Root/Folder1/other.txt" {
		t.Errorf("Related = %v", related)
	}
	if types := out["AllowedChildTypes"].([]interface{}); len(types) != 1 || types[0] != "File" {
		t.Errorf("AllowedChildTypes = %v", types)
	}
	if body := out["Body"].(map[string]interface{}); body["text"] != "<p>hi</p>" {
		t.Errorf("Body = %v", body)
	}
	if bin := out["Binary"].(map[string]interface{}); bin["Hash"] != "abc" || bin["Size"] != float64(1024) {
		t.Errorf("Binary = %v", bin)
	}
	if _, ok := out["Actions"]; ok {
		t.Error("export emitted a pseudo field")
	}
}

func TestProjectCollection(t *testing.T) {
	repo, _ := fixture()
	p, err := New(&query.Request{Select: []string{"Name"}, EntityMetadata: query.MetadataNone}, Environment{Repository: repo})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	doc, err := p.ProjectCollection(context.Background(), []*content.Content{repo.byID[1], repo.byID[2]}, 25)
	if err != nil {
		t.Fatalf("ProjectCollection failed: %v", err)
	}
	if got := keysOf(t, doc); got != "__count,results" {
		t.Errorf("keys = %s", got)
	}
	out := decode(t, doc)
	if out["__count"] != float64(25) || len(out["results"].([]interface{})) != 2 {
		t.Errorf("collection = %v", out)
	}
}

func TestFieldNameCache(t *testing.T) {
	repo, file := fixture()
	cache := NewFieldNameCache()
	first := cache.Names(file)
	second := cache.Names(repo.byID[11])
	if strings.Join(first, ",") != strings.Join(second, ",") {
		t.Errorf("siblings of the same type differ: %v vs %v", first, second)
	}
	if cache.Len() != 1 {
		t.Errorf("Len() = %d, want 1", cache.Len())
	}
	cache.Names(repo.byID[1])
	if cache.Len() != 2 {
		t.Errorf("Len() = %d, want 2", cache.Len())
	}
	cache.Reset()
	if cache.Len() != 0 {
		t.Errorf("Len() after Reset = %d", cache.Len())
	}

	iconType := &content.ContentType{Name: "Iconic", Fields: []*content.FieldSetting{{Name: "Icon", Kind: content.KindScalar}}}
	iconic := content.New(40, "/Root/Iconic", iconType, []*content.Field{
		content.NewField(iconType.Fields[0], content.Scalar{Data: "custom"}),
	})
	if got := strings.Join(cache.Names(iconic), ","); got != "Icon,Actions,Children,IsFile" {
		t.Errorf("Names = %s", got)
	}
}

func TestEntityURL(t *testing.T) {
	tests := []struct {
		path string
		want string
	}{
		{"/Root", "/odata.svc/('Root')"},
		{"/Root/Docs/a.txt", "/odata.svc/Root/Docs('a.txt')"},
		{"/Root/Docs/it's", "/odata.svc/Root/Docs('it''s')"},
	}
	for _, tt := range tests {
		if got := EntityURL("/odata.svc/", tt.path); got != tt.want {
			t.Errorf("EntityURL(%q) = %s, want %s", tt.path, got, tt.want)
		}
	}
}

func mustProjectDoc(t *testing.T, req *query.Request, env Environment, c *content.Content) *Document {
	t.Helper()
	p, err := New(req, env)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	doc, err := p.Project(context.Background(), c)
	if err != nil {
		t.Fatalf("Project failed: %v", err)
	}
	return doc
}
