// Package storage implements the content repository on top of gorm and a
// gocloud blob bucket. It is the repository the service uses when no other
// implementation is injected.
package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/nlstn/go-odata-content/internal/auth"
	"github.com/nlstn/go-odata-content/internal/content"
	"github.com/nlstn/go-odata-content/internal/query"
	"gocloud.dev/blob"
	"gorm.io/gorm"
)

// TrashPath is where non-permanent deletes move contents when it exists.
const TrashPath = query.RootPath + "/Trash"

// UserTypeName is the content type whose names are matched against principals
// to fill CreatedBy and ModifiedBy.
const UserTypeName = "User"

// Repository stores contents in a single table and binaries in a bucket.
type Repository struct {
	db       *gorm.DB
	sqlDB    *sql.DB
	dialect  string
	schema   *content.Schema
	bucket   *blob.Bucket
	logger   *slog.Logger
	now      func() time.Time
	rootType string
}

// Option configures a Repository.
type Option func(*Repository)

// WithBucket sets the binary store. The default is an in-memory bucket.
func WithBucket(b *blob.Bucket) Option {
	return func(r *Repository) {
		r.bucket = b
	}
}

// WithLogger sets the logger used for query and write diagnostics.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Repository) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithClock overrides the time source used for lifespan filtering and stamps.
func WithClock(now func() time.Time) Option {
	return func(r *Repository) {
		if now != nil {
			r.now = now
		}
	}
}

// WithRootType sets the content type of the /Root content created by Migrate.
func WithRootType(name string) Option {
	return func(r *Repository) {
		r.rootType = name
	}
}

// New creates a repository over db. Types referenced by stored contents must be
// registered in schema.
func New(ctx context.Context, db *gorm.DB, schema *content.Schema, opts ...Option) (*Repository, error) {
	if db == nil {
		return nil, fmt.Errorf("storage: db is required")
	}
	if schema == nil {
		return nil, fmt.Errorf("storage: schema is required")
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("storage: failed to get database handle: %w", err)
	}
	r := &Repository{
		db:       db,
		sqlDB:    sqlDB,
		dialect:  db.Dialector.Name(),
		schema:   schema,
		logger:   slog.Default(),
		now:      time.Now,
		rootType: content.GenericContentTypeName,
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.bucket == nil {
		bucket, err := blob.OpenBucket(ctx, "mem://")
		if err != nil {
			return nil, fmt.Errorf("storage: failed to open default bucket: %w", err)
		}
		r.bucket = bucket
	}
	return r, nil
}

// Schema returns the content type registry.
func (r *Repository) Schema() *content.Schema {
	return r.schema
}

// Close releases the binary store.
func (r *Repository) Close() error {
	return r.bucket.Close()
}

// Migrate creates the tables and the /Root content.
func (r *Repository) Migrate(ctx context.Context) error {
	if err := r.db.WithContext(ctx).AutoMigrate(&contentRecord{}, &versionRecord{}); err != nil {
		return fmt.Errorf("storage: migrate: %w", err)
	}
	root, err := r.findByPath(ctx, r.db, query.RootPath)
	if err != nil {
		return err
	}
	if root != nil {
		return nil
	}
	now := r.now().UTC()
	rec := &contentRecord{
		Path:      query.RootPath,
		Name:      strings.TrimPrefix(query.RootPath, "/"),
		TypeName:  r.rootType,
		IsSystem:  true,
		Version:   initialVersion,
		FieldData: "{}",
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := r.db.WithContext(ctx).Create(rec).Error; err != nil {
		return fmt.Errorf("storage: create root: %w", err)
	}
	r.logger.Debug("Created repository root", "path", rec.Path, "type", rec.TypeName)
	return nil
}

func (r *Repository) findByPath(ctx context.Context, db *gorm.DB, p string) (*contentRecord, error) {
	var rec contentRecord
	err := db.WithContext(ctx).Where("LOWER(path) = LOWER(?)", p).Take(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("storage: load %s: %w", p, err)
	}
	return &rec, nil
}

func (r *Repository) findByID(ctx context.Context, db *gorm.DB, id int) (*contentRecord, error) {
	var rec contentRecord
	err := db.WithContext(ctx).Where("id = ?", id).Take(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("storage: load content(%d): %w", id, err)
	}
	return &rec, nil
}

func (r *Repository) canOpen(ctx context.Context, rec *contentRecord) bool {
	roles := rec.openRoles()
	if len(roles) == 0 {
		return true
	}
	return auth.FromContext(ctx).HasAnyRole(roles)
}

func (r *Repository) canWrite(ctx context.Context, rec *contentRecord) bool {
	a := auth.FromContext(ctx)
	if a.System {
		return true
	}
	roles := rec.writeRoles()
	if len(roles) == 0 {
		return !a.IsVisitor()
	}
	return a.HasAnyRole(roles)
}

// LoadContentByPath loads a content the caller can open.
func (r *Repository) LoadContentByPath(ctx context.Context, p string) (*content.Content, error) {
	rec, err := r.findByPath(ctx, r.db, p)
	if err != nil || rec == nil {
		return nil, err
	}
	if !r.canOpen(ctx, rec) {
		return nil, content.ErrAccessDenied
	}
	return r.buildContent(rec)
}

// LoadContentByID loads a content the caller can open.
func (r *Repository) LoadContentByID(ctx context.Context, id int) (*content.Content, error) {
	rec, err := r.findByID(ctx, r.db, id)
	if err != nil || rec == nil {
		return nil, err
	}
	if !r.canOpen(ctx, rec) {
		return nil, content.ErrAccessDenied
	}
	return r.buildContent(rec)
}

// Exists reports whether a content is stored at path regardless of permissions.
func (r *Repository) Exists(ctx context.Context, p string) (bool, error) {
	rec, err := r.findByPath(ctx, r.db, p)
	return rec != nil, err
}

// PathByID returns the path stored for id, or "" when there is none.
func (r *Repository) PathByID(ctx context.Context, id int) (string, error) {
	rec, err := r.findByID(ctx, r.db, id)
	if err != nil || rec == nil {
		return "", err
	}
	return rec.Path, nil
}

// IsAllowedField reports whether the caller may read the named field of c.
func (r *Repository) IsAllowedField(ctx context.Context, c *content.Content, fieldName string) bool {
	if c == nil || c.Type == nil {
		return false
	}
	setting, ok := c.Type.FieldSetting(fieldName)
	if !ok || len(setting.ReadRoles) == 0 {
		return true
	}
	return auth.FromContext(ctx).HasAnyRole(setting.ReadRoles)
}

// HasPermission reports whether the caller holds every permission on path.
func (r *Repository) HasPermission(ctx context.Context, p string, perms ...content.Permission) (bool, error) {
	rec, err := r.findByPath(ctx, r.db, p)
	if err != nil || rec == nil {
		return false, err
	}
	for _, perm := range perms {
		switch perm {
		case content.PermissionSee, content.PermissionOpen:
			if !r.canOpen(ctx, rec) {
				return false, nil
			}
		default:
			if !r.canOpen(ctx, rec) || !r.canWrite(ctx, rec) {
				return false, nil
			}
		}
	}
	return true, nil
}

// buildContent turns a record into a content of its registered type.
func (r *Repository) buildContent(rec *contentRecord) (*content.Content, error) {
	ct, ok := r.schema.Lookup(rec.TypeName)
	if !ok {
		r.logger.Warn("Unknown content type, falling back to base type", "path", rec.Path, "type", rec.TypeName)
		ct, _ = r.schema.Lookup(content.GenericContentTypeName)
	}
	data, err := decodeFieldData(rec.FieldData)
	if err != nil {
		return nil, fmt.Errorf("storage: %s: %w", rec.Path, err)
	}

	settings := ct.FieldSettings()
	fields := make([]*content.Field, 0, len(settings))
	for _, setting := range settings {
		f, err := r.buildField(rec, ct, setting, data)
		if err != nil {
			return nil, fmt.Errorf("storage: %s.%s: %w", rec.Path, setting.Name, err)
		}
		fields = append(fields, f)
	}
	c := content.New(rec.ID, rec.Path, ct, fields)
	c.Name = rec.Name
	return c, nil
}

func (r *Repository) buildField(rec *contentRecord, ct *content.ContentType, setting *content.FieldSetting, data map[string]json.RawMessage) (*content.Field, error) {
	scalar := func(v interface{}) *content.Field {
		return content.NewField(setting, content.Scalar{Data: v})
	}
	switch setting.Name {
	case "Id":
		return scalar(rec.ID), nil
	case "Name":
		return scalar(rec.Name), nil
	case "Path":
		return scalar(rec.Path), nil
	case "Type":
		return scalar(ct.Name), nil
	case "Index":
		return scalar(rec.SortIndex), nil
	case "CreationDate":
		return scalar(rec.CreatedAt.UTC()), nil
	case "ModificationDate":
		return scalar(rec.UpdatedAt.UTC()), nil
	case "Version":
		return scalar(rec.Version), nil
	case "DisplayName":
		if raw, ok := data[setting.Name]; ok {
			v, err := valueFromRaw(setting, raw)
			if err != nil {
				return nil, err
			}
			if s, ok := v.(content.Scalar); ok && s.Data != nil && s.Data != "" {
				return content.NewField(setting, v), nil
			}
		}
		return scalar(rec.Name), nil
	case "ParentId":
		parentPath := rec.ParentPath
		return content.NewLazyField(setting, func(ctx context.Context) (content.Value, error) {
			if parentPath == "" {
				return content.Scalar{}, nil
			}
			parent, err := r.findByPath(ctx, r.db, parentPath)
			if err != nil || parent == nil {
				return content.Scalar{}, err
			}
			return content.Scalar{Data: parent.ID}, nil
		}), nil
	case "CreatedBy":
		return r.referenceField(setting, optionalID(rec.CreatedByID)), nil
	case "ModifiedBy":
		return r.referenceField(setting, optionalID(rec.ModifiedByID)), nil
	case "AllowedChildTypes", "EffectiveAllowedChildTypes":
		if raw, ok := data[setting.Name]; ok {
			v, err := valueFromRaw(setting, raw)
			if err != nil {
				return nil, err
			}
			return content.NewField(setting, v), nil
		}
		return content.NewField(setting, content.ChildTypes{Names: ct.AllowedChildTypes}), nil
	}

	raw, ok := data[setting.Name]
	if !ok {
		if setting.Default != nil && setting.Kind == content.KindScalar {
			return scalar(setting.Default), nil
		}
		return content.NewField(setting, nil), nil
	}
	v, err := valueFromRaw(setting, raw)
	if err != nil {
		return nil, err
	}
	if ref, ok := v.(content.Reference); ok {
		return r.referenceField(setting, ref.IDs), nil
	}
	return content.NewField(setting, v), nil
}

func optionalID(id *int) []int {
	if id == nil {
		return nil
	}
	return []int{*id}
}

// referenceField creates a lazy reference whose ids are narrowed to what the
// caller can open. A single reference to a closed content yields ErrAccessDenied.
func (r *Repository) referenceField(setting *content.FieldSetting, ids []int) *content.Field {
	return content.NewLazyField(setting, func(ctx context.Context) (content.Value, error) {
		if len(ids) == 0 {
			return content.Reference{}, nil
		}
		var recs []contentRecord
		if err := r.db.WithContext(ctx).Where("id IN ?", ids).Find(&recs).Error; err != nil {
			return nil, fmt.Errorf("storage: load references: %w", err)
		}
		byID := make(map[int]*contentRecord, len(recs))
		for i := range recs {
			byID[recs[i].ID] = &recs[i]
		}
		if !setting.AllowMultiple {
			target, ok := byID[ids[0]]
			if !ok {
				return content.Reference{}, nil
			}
			if !r.canOpen(ctx, target) {
				return nil, content.ErrAccessDenied
			}
			return content.Reference{IDs: []int{target.ID}}, nil
		}
		visible := make([]int, 0, len(ids))
		for _, id := range ids {
			if target, ok := byID[id]; ok && r.canOpen(ctx, target) {
				visible = append(visible, id)
			}
		}
		return content.Reference{IDs: visible}, nil
	})
}
