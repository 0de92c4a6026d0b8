//go:build example

// Package main demonstrates authorization patterns for content operations.
//
// This example shows how to:
// 1. Populate the caller identity from request data with a PreRequestHook
// 2. Declare who may invoke an operation with roles and permissions
// 3. Implement policies that disable or hide operations per content
// 4. Combine declarative rules with checks inside the operation
//
// Note: This is a standalone example file that demonstrates authorization concepts.
// It cannot be run directly with other example files due to package conflicts.
package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"

	odata "github.com/nlstn/go-odata-content"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

// Example 1: Identity from a header
// =================================

// headerIdentity reads "user;role1,role2" from X-User. Requests without the
// header are served as the Visitor. In production, validate a token instead.
func headerIdentity(r *http.Request) (context.Context, error) {
	raw := r.Header.Get("X-User")
	if raw == "" {
		return nil, nil
	}
	user, roles, _ := strings.Cut(raw, ";")
	if user == "" {
		return nil, fmt.Errorf("empty principal")
	}
	var roleList []string
	if roles != "" {
		roleList = strings.Split(roles, ",")
	}
	return odata.WithUser(r.Context(), user, roleList...), nil
}

// Example 2: Office hours policy
// ==============================

// officeHours disables state changing operations outside 8:00-18:00. Disabled
// operations stay in the Actions list with forbidden set.
var officeHours = odata.PolicyFunc(func(ctx context.Context, c *odata.Content, op *odata.OperationInfo) odata.PolicyResult {
	if !op.CausesStateChange {
		return odata.PolicyEnabled
	}
	if h := time.Now().Hour(); h < 8 || h >= 18 {
		return odata.PolicyDisabled
	}
	return odata.PolicyEnabled
})

// Example 3: Ownership policy
// ===========================

// ownerOnly hides an operation from everyone except administrators and the
// user whose home folder holds the content. Hidden operations are not listed
// and cannot be invoked.
var ownerOnly = odata.PolicyFunc(func(ctx context.Context, c *odata.Content, op *odata.OperationInfo) odata.PolicyResult {
	caller := odata.CallerFromContext(ctx)
	if caller.HasRole(odata.RoleAdministrators) {
		return odata.PolicyEnabled
	}
	if caller.IsVisitor() {
		return odata.PolicyInvisible
	}
	if strings.HasPrefix(c.Path, "/Root/Users/"+caller.Name()+"/") {
		return odata.PolicyEnabled
	}
	return odata.PolicyInvisible
})

// Example 4: Registering operations
// =================================

func registerOperations(service *odata.Service) error {
	repo := service.Repository()

	// Anyone who can save the content may approve it, during office hours.
	if err := service.RegisterOperation(odata.Operation{
		Name: "Approve",
		Func: func(c *odata.Content, ctx context.Context, comment string) error {
			return repo.SaveContent(ctx, c, map[string]interface{}{"Description": comment}, false)
		},
		Params:            []odata.Param{{Name: "comment", Optional: true, Default: "approved"}},
		Auth:              odata.OperationAuth{Permissions: []odata.Permission{odata.PermissionSave}, Policies: []string{"OfficeHours"}},
		CausesStateChange: true,
	}); err != nil {
		return err
	}

	// Only editors see the audit trail, and only for their own contents.
	if err := service.RegisterOperation(odata.Operation{
		Name: "AuditTrail",
		Func: func(c *odata.Content) []string {
			return []string{"created " + c.Path}
		},
		Auth: odata.OperationAuth{Roles: []string{"Editors"}, Policies: []string{"OwnerOnly"}},
	}); err != nil {
		return err
	}

	// An operation with an empty Auth can only be called by system callers,
	// for example from a background job using odata.WithSystem.
	return service.RegisterOperation(odata.Operation{
		Name: "Reindex",
		Func: func(c *odata.Content) string { return "queued " + c.Path },
	})
}

// Example 5: Setup
// ================

func main() {
	db, err := gorm.Open(sqlite.Open("file:content.db"), &gorm.Config{})
	if err != nil {
		log.Fatal(err)
	}

	service, err := odata.NewServiceWithConfig(db, odata.ServiceConfig{RootType: "Folder"})
	if err != nil {
		log.Fatal(err)
	}
	defer service.Close()

	if err := service.RegisterType(&odata.ContentType{Name: "Folder", Icon: "folder"}); err != nil {
		log.Fatal(err)
	}
	if err := service.RegisterPolicy("OfficeHours", officeHours); err != nil {
		log.Fatal(err)
	}
	if err := service.RegisterPolicy("OwnerOnly", ownerOnly); err != nil {
		log.Fatal(err)
	}
	if err := registerOperations(service); err != nil {
		log.Fatal(err)
	}
	if err := service.SetPreRequestHook(headerIdentity); err != nil {
		log.Fatal(err)
	}

	log.Println("Content service with authorization running on :8080")
	log.Fatal(http.ListenAndServe(":8080", service))
}

// Key Takeaways:
// ==============
//
// 1. Identity Travels on the Context
//    - The PreRequestHook attaches principal and roles with odata.WithUser
//    - Requests without identity are served as the Visitor
//
// 2. Declarative Operation Auth
//    - Roles: any listed role grants access
//    - Permissions: all must be held on the target content
//    - Policies: evaluated in order, the most restrictive result wins
//    - Empty Auth: system callers only
//
// 3. Denials Seen by Visitors Look Like Missing Contents
//    - Authenticated callers get 403 SecurityDenied
//    - Visitors who cannot open the content get 404
