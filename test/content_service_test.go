package odata_test

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	odata "github.com/nlstn/go-odata-content"
	"github.com/nlstn/go-odata-content/internal/storage"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

type renamer interface {
	Rename(ctx context.Context, id int, newName string) error
}

func setupService(t *testing.T) (*odata.Service, context.Context) {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	if err != nil {
		t.Fatalf("Failed to connect to database: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("Failed to get database handle: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)

	service, err := odata.NewServiceWithConfig(db, odata.ServiceConfig{RootType: "Folder"})
	if err != nil {
		t.Fatalf("NewServiceWithConfig failed: %v", err)
	}
	t.Cleanup(func() { _ = service.Close() })

	types := []*odata.ContentType{
		{Name: "Folder", Icon: "folder"},
		{Name: "User", Icon: "user"},
		{
			Name: "File",
			Icon: "file",
			Fields: []*odata.FieldSetting{
				{Name: "Size", Kind: odata.KindScalar, Type: "Int"},
			},
		},
	}
	for _, ct := range types {
		if err := service.RegisterType(ct); err != nil {
			t.Fatalf("RegisterType(%s) failed: %v", ct.Name, err)
		}
	}

	err = service.SetPreRequestHook(func(r *http.Request) (context.Context, error) {
		user := r.Header.Get("X-User")
		if user == "" {
			return nil, nil
		}
		var roles []string
		if raw := r.Header.Get("X-Roles"); raw != "" {
			roles = strings.Split(raw, ",")
		}
		return odata.WithUser(r.Context(), user, roles...), nil
	})
	if err != nil {
		t.Fatalf("SetPreRequestHook failed: %v", err)
	}
	return service, odata.WithSystem(context.Background())
}

func mustCreate(t *testing.T, service *odata.Service, ctx context.Context, parent, typeName, name string, fields map[string]interface{}) *odata.Content {
	t.Helper()
	c, err := service.Repository().CreateContent(ctx, parent, odata.CreateRequest{Type: typeName, Name: name, Fields: fields})
	if err != nil {
		t.Fatalf("CreateContent(%s/%s) failed: %v", parent, name, err)
	}
	return c
}

func serve(t *testing.T, service *odata.Service, method, target, body string, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, reader)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	service.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var out map[string]interface{}
	if err := json.Unmarshal(w.Body.Bytes(), &out); err != nil {
		t.Fatalf("Failed to decode %q: %v", w.Body.String(), err)
	}
	return out
}

func TestSelectAndExpandCreator(t *testing.T) {
	service, ctx := setupService(t)
	mustCreate(t, service, ctx, "/Root", "Folder", "Users", nil)
	mustCreate(t, service, ctx, "/Root/Users", "User", "alice", nil)
	mustCreate(t, service, ctx, "/Root", "Folder", "Folder1", nil)

	alice := map[string]string{"X-User": "alice"}
	w := serve(t, service, http.MethodPost, "/odata.svc/Root/Folder1",
		`{"__ContentType":"File","Name":"file.txt","Size":1024}`, alice)
	if w.Code != http.StatusCreated {
		t.Fatalf("create status = %d, body %s", w.Code, w.Body.String())
	}

	w = serve(t, service, http.MethodGet, "/odata.svc/Root/Folder1('file.txt')?$select=Name,Size&$expand=CreatedBy", "", alice)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
	}
	d := decode(t, w)["d"].(map[string]interface{})
	if d["Name"] != "file.txt" || d["Size"] != float64(1024) {
		t.Errorf("Unexpected entity %v", d)
	}
	creator, ok := d["CreatedBy"].(map[string]interface{})["d"].(map[string]interface{})
	if !ok {
		t.Fatalf("CreatedBy not expanded: %v", d["CreatedBy"])
	}
	if creator["Name"] != "alice" || creator["Path"] != "/Root/Users/alice" {
		t.Errorf("CreatedBy = %v", creator)
	}
	if _, ok := creator["Actions"]; !ok {
		t.Error("Expanded creator is not fully projected")
	}

	raw := w.Body.String()
	if strings.Index(raw, `"Name"`) > strings.Index(raw, `"Size"`) || strings.Index(raw, `"Size"`) > strings.Index(raw, `"CreatedBy"`) {
		t.Errorf("Fields are not in select order: %s", raw)
	}
}

func TestTopWithInlineCount(t *testing.T) {
	service, ctx := setupService(t)
	mustCreate(t, service, ctx, "/Root", "Folder", "Many", nil)
	for i := 0; i < 25; i++ {
		mustCreate(t, service, ctx, "/Root/Many", "File", fmt.Sprintf("f%02d.txt", i), map[string]interface{}{"Size": i})
	}

	w := serve(t, service, http.MethodGet, "/odata.svc/Root/Many?$top=10&$inlinecount=allpages", "", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
	}
	d := decode(t, w)["d"].(map[string]interface{})
	if d["__count"] != float64(25) {
		t.Errorf("__count = %v, want 25", d["__count"])
	}
	if results := d["results"].([]interface{}); len(results) != 10 {
		t.Errorf("len(results) = %d, want 10", len(results))
	}

	w = serve(t, service, http.MethodGet, "/odata.svc/Root/Many?$filter=Size%20ge%2020&$orderby=Size%20desc", "", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("filter status = %d, body %s", w.Code, w.Body.String())
	}
	results := decode(t, w)["d"].(map[string]interface{})["results"].([]interface{})
	if len(results) != 5 || results[0].(map[string]interface{})["Name"] != "f24.txt" {
		t.Errorf("filtered results = %v", results)
	}
}

func TestRenameOverloadsResolveWithoutAmbiguity(t *testing.T) {
	service, ctx := setupService(t)
	mustCreate(t, service, ctx, "/Root", "Folder", "Docs", nil)
	mustCreate(t, service, ctx, "/Root/Docs", "File", "old.txt", nil)
	repo := service.Repository()

	rename := func(c *odata.Content, ctx context.Context, newName string) (*odata.Content, error) {
		r, ok := repo.(renamer)
		if !ok {
			return nil, fmt.Errorf("repository cannot rename")
		}
		if err := r.Rename(ctx, c.ID, newName); err != nil {
			return nil, err
		}
		return repo.LoadContentByID(ctx, c.ID)
	}
	everyone := odata.OperationAuth{Roles: []string{odata.RoleEveryone}, Permissions: []odata.Permission{odata.PermissionSave}}
	ops := []odata.Operation{
		{Name: "Rename", Func: rename, Params: []odata.Param{{Name: "newName"}}, Auth: everyone, CausesStateChange: true},
		{
			Name: "Rename",
			Func: func(c *odata.Content, newName string, force bool) (string, error) {
				return "", fmt.Errorf("forced rename must not be chosen")
			},
			Params:            []odata.Param{{Name: "newName"}, {Name: "force", Optional: true}},
			Auth:              everyone,
			CausesStateChange: true,
		},
	}
	for _, op := range ops {
		if err := service.RegisterOperation(op); err != nil {
			t.Fatalf("RegisterOperation failed: %v", err)
		}
	}

	w := serve(t, service, http.MethodPost, "/odata.svc/Root/Docs('old.txt')/Rename", `{"newName":"x"}`, map[string]string{"X-User": "alice"})
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
	}
	d := decode(t, w)["d"].(map[string]interface{})
	if d["Name"] != "x" || d["Path"] != "/Root/Docs/x" {
		t.Errorf("renamed content = %v", d)
	}

	if err := service.RegisterOperation(ops[0]); err == nil {
		t.Error("Registration after the first request succeeded")
	}
}

func TestDeniedOperationVisibility(t *testing.T) {
	service, ctx := setupService(t)
	mustCreate(t, service, ctx, "/Root", "Folder", "Shared", nil)
	mustCreate(t, service, ctx, "/Root/Shared", "File", "doc", nil)
	mustCreate(t, service, ctx, "/Root", "Folder", "Restricted", nil)
	mustCreate(t, service, ctx, "/Root/Restricted", "File", "doc", nil)

	store, ok := service.Repository().(*storage.Repository)
	if !ok {
		t.Fatalf("Repository is %T", service.Repository())
	}
	if err := store.SetAccess(ctx, "/Root/Shared/doc", storage.Access{WriteRoles: []string{"Editors"}}); err != nil {
		t.Fatalf("SetAccess failed: %v", err)
	}
	if err := store.SetAccess(ctx, "/Root/Restricted", storage.Access{OpenRoles: []string{"Editors"}}); err != nil {
		t.Fatalf("SetAccess failed: %v", err)
	}
	if err := store.SetAccess(ctx, "/Root/Restricted/doc", storage.Access{OpenRoles: []string{"Editors"}}); err != nil {
		t.Fatalf("SetAccess failed: %v", err)
	}

	err := service.RegisterOperation(odata.Operation{
		Name:              "Publish",
		Func:              func(c *odata.Content) string { return "published" },
		Auth:              odata.OperationAuth{Permissions: []odata.Permission{odata.PermissionSave}},
		CausesStateChange: true,
	})
	if err != nil {
		t.Fatalf("RegisterOperation failed: %v", err)
	}

	type errorPayload struct {
		Error struct {
			Code       string `json:"code"`
			InnerError *struct {
				Candidates []string `json:"candidates"`
			} `json:"innererror"`
		} `json:"error"`
	}
	call := func(target string, headers map[string]string) (int, errorPayload) {
		w := serve(t, service, http.MethodPost, target, `{}`, headers)
		var out errorPayload
		if w.Code >= 400 {
			if err := json.Unmarshal(w.Body.Bytes(), &out); err != nil {
				t.Fatalf("Failed to decode %q: %v", w.Body.String(), err)
			}
		}
		return w.Code, out
	}

	bob := map[string]string{"X-User": "bob"}
	status, payload := call("/odata.svc/Root/Shared('doc')/Publish", bob)
	if status != http.StatusForbidden || payload.Error.Code != "SecurityDenied" {
		t.Errorf("user without Save: status %d code %s", status, payload.Error.Code)
	}
	if payload.Error.InnerError != nil && len(payload.Error.InnerError.Candidates) > 0 {
		t.Errorf("denial lists candidates: %v", payload.Error.InnerError.Candidates)
	}

	status, payload = call("/odata.svc/Root/Shared('doc')/Publish", nil)
	if status != http.StatusForbidden {
		t.Errorf("visitor with Open: status %d code %s", status, payload.Error.Code)
	}

	maskedStatus, masked := call("/odata.svc/Root/Restricted('doc')/Publish", nil)
	missingStatus, missing := call("/odata.svc/Root/Restricted('nothing')/Publish", nil)
	if maskedStatus != http.StatusNotFound || maskedStatus != missingStatus || masked.Error.Code != missing.Error.Code {
		t.Errorf("visitor without Open: %d %s, missing content: %d %s",
			maskedStatus, masked.Error.Code, missingStatus, missing.Error.Code)
	}

	status, _ = call("/odata.svc/Root/Restricted('doc')/Publish", map[string]string{"X-User": "carol", "X-Roles": "Editors"})
	if status != http.StatusOK {
		t.Errorf("editor: status %d", status)
	}
}
