package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	odata "github.com/nlstn/go-odata-content"
	"github.com/shopspring/decimal"
)

// renamer is implemented by the built-in repository.
type renamer interface {
	Rename(ctx context.Context, id int, newName string) error
}

// identityHook reads "user;role1,role2" from X-User. Requests without the
// header are served as the Visitor.
func identityHook(r *http.Request) (context.Context, error) {
	raw := r.Header.Get("X-User")
	if raw == "" {
		return nil, nil
	}
	user, roles, _ := strings.Cut(raw, ";")
	if user == "" {
		return nil, errors.New("empty principal")
	}
	var roleList []string
	if roles != "" {
		roleList = strings.Split(roles, ",")
	}
	return odata.WithUser(r.Context(), user, roleList...), nil
}

func registerSchema(service *odata.Service) error {
	types := []*odata.ContentType{
		{Name: "Folder", Icon: "folder"},
		{Name: "User", Icon: "user"},
		{
			Name: "File",
			Icon: "file",
			Fields: []*odata.FieldSetting{
				{Name: "Binary", Kind: odata.KindBinary},
				{Name: "Size", Kind: odata.KindScalar, Type: "Int"},
			},
		},
		{
			Name: "Article",
			Icon: "document",
			Fields: []*odata.FieldSetting{
				{Name: "Body", Kind: odata.KindScalar, Type: "String", RichText: true},
				{Name: "Price", Kind: odata.KindScalar, Type: "Decimal"},
				{Name: "Status", Kind: odata.KindChoice, Options: []string{"draft", "review", "published"}, Default: "draft"},
				{Name: "Related", Kind: odata.KindReference, AllowMultiple: true, Deferred: true},
			},
		},
	}
	for _, ct := range types {
		if err := service.RegisterType(ct); err != nil {
			return err
		}
	}
	return nil
}

func registerOperations(service *odata.Service) error {
	repo := service.Repository()
	signedIn := odata.OperationAuth{Roles: []string{odata.RoleEveryone}, Permissions: []odata.Permission{odata.PermissionSave}}

	ops := []odata.Operation{
		{
			Name:        "Rename",
			DisplayName: "Rename",
			Icon:        "rename",
			Func: func(c *odata.Content, ctx context.Context, newName string) (*odata.Content, error) {
				r, ok := repo.(renamer)
				if !ok {
					return nil, errors.New("repository does not support renaming")
				}
				if err := r.Rename(ctx, c.ID, newName); err != nil {
					return nil, err
				}
				return repo.LoadContentByID(ctx, c.ID)
			},
			Params:            []odata.Param{{Name: "newName"}},
			Auth:              signedIn,
			CausesStateChange: true,
		},
		{
			Name:        "Rename",
			DisplayName: "Rename (replace existing)",
			Icon:        "rename",
			Func: func(c *odata.Content, ctx context.Context, newName string, force bool) (*odata.Content, error) {
				r, ok := repo.(renamer)
				if !ok {
					return nil, errors.New("repository does not support renaming")
				}
				if force {
					existing, err := repo.LoadContentByPath(ctx, c.ParentPath()+"/"+newName)
					if err != nil {
						return nil, err
					}
					if existing != nil && existing.ID != c.ID {
						if err := repo.DeleteContent(ctx, existing, true); err != nil {
							return nil, err
						}
					}
				}
				if err := r.Rename(ctx, c.ID, newName); err != nil {
					return nil, err
				}
				return repo.LoadContentByID(ctx, c.ID)
			},
			Params:            []odata.Param{{Name: "newName"}, {Name: "force"}},
			Auth:              signedIn,
			CausesStateChange: true,
		},
		{
			Name:         "SetPrice",
			ContentTypes: []string{"Article"},
			Func: func(c *odata.Content, ctx context.Context, price decimal.Decimal) error {
				if price.IsNegative() {
					return fmt.Errorf("price must not be negative: %s", price)
				}
				return repo.SaveContent(ctx, c, map[string]interface{}{"Price": price.StringFixed(2)}, false)
			},
			Params:            []odata.Param{{Name: "price"}},
			Auth:              signedIn,
			CausesStateChange: true,
		},
		{
			Name:         "WordCount",
			ContentTypes: []string{"Article"},
			Func: func(c *odata.Content, ctx context.Context) <-chan odata.OperationResult {
				out := make(chan odata.OperationResult, 1)
				go func() {
					defer close(out)
					f, ok := c.Field("Body")
					if !ok {
						out <- odata.OperationResult{Value: 0}
						return
					}
					v, err := f.Visit(ctx, bodyText{})
					if err != nil {
						out <- odata.OperationResult{Err: err}
						return
					}
					out <- odata.OperationResult{Value: len(strings.Fields(v.(string)))}
				}()
				return out
			},
			Auth: odata.OperationAuth{Roles: []string{odata.RoleEveryone}},
		},
		{
			Name: "Settings",
			Func: func(c *odata.Content, cfg odata.OperationConfig) map[string]string {
				return cfg.Settings
			},
			Auth: odata.OperationAuth{Roles: []string{odata.RoleAdministrators}},
		},
	}
	for _, op := range ops {
		if err := service.RegisterOperation(op); err != nil {
			return err
		}
	}
	return nil
}

// seed creates a small tree when the repository is empty.
func seed(ctx context.Context, service *odata.Service) error {
	repo := service.Repository()
	exists, err := repo.Exists(ctx, "/Root/Users")
	if err != nil || exists {
		return err
	}

	create := func(parent, typeName, name string, fields map[string]interface{}) error {
		_, err := repo.CreateContent(ctx, parent, odata.CreateRequest{Type: typeName, Name: name, Fields: fields})
		return err
	}
	steps := []struct {
		parent, typeName, name string
		fields                 map[string]interface{}
	}{
		{"/Root", "Folder", "Users", nil},
		{"/Root/Users", "User", "admin", map[string]interface{}{"DisplayName": "Administrator"}},
		{"/Root/Users", "User", "alice", map[string]interface{}{"DisplayName": "Alice"}},
		{"/Root", "Folder", "Articles", map[string]interface{}{"AllowedChildTypes": []string{"Article"}}},
		{"/Root/Articles", "Article", "welcome", map[string]interface{}{"Body": "<p>Welcome to the content service</p>", "Price": "0.00"}},
		{"/Root/Articles", "Article", "pricing", map[string]interface{}{"Body": "<p>Plans and prices</p>", "Price": "19.90", "Related": []interface{}{"/Root/Articles/welcome"}}},
		{"/Root", "Folder", "Files", nil},
	}
	for _, s := range steps {
		if err := create(s.parent, s.typeName, s.name, s.fields); err != nil {
			return fmt.Errorf("create %s/%s: %w", s.parent, s.name, err)
		}
	}
	for i := 1; i <= 25; i++ {
		name := fmt.Sprintf("report-%02d.txt", i)
		if err := create("/Root/Files", "File", name, map[string]interface{}{"Size": i * 1024}); err != nil {
			return fmt.Errorf("create %s: %w", name, err)
		}
	}
	return nil
}

// bodyText extracts the plain text of a scalar or rich text field.
type bodyText struct{}

func (bodyText) Scalar(f *odata.Field, v odata.Scalar) (interface{}, error) {
	switch d := v.Data.(type) {
	case nil:
		return "", nil
	case odata.RichTextValue:
		return d.Text, nil
	case *odata.RichTextValue:
		return d.Text, nil
	}
	return fmt.Sprint(v.Data), nil
}

func (bodyText) Reference(f *odata.Field, v odata.Reference) (interface{}, error) {
	return "", nil
}

func (bodyText) Binary(f *odata.Field, v odata.Binary) (interface{}, error) {
	return "", nil
}

func (bodyText) Choice(f *odata.Field, v odata.Choice) (interface{}, error) {
	return strings.Join(v.Selected, " "), nil
}

func (bodyText) ChildTypes(f *odata.Field, v odata.ChildTypes) (interface{}, error) {
	return "", nil
}
