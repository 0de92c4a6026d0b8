package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/nlstn/go-odata-content/internal/auth"
	"github.com/nlstn/go-odata-content/internal/content"
	"gorm.io/gorm"
)

const initialVersion = "V1.0"

// versionRecord keeps the field data a content had before a save.
type versionRecord struct {
	ID        int    `gorm:"primaryKey;autoIncrement"`
	ContentID int    `gorm:"index;not null"`
	Version   string `gorm:"size:20;not null"`
	Name      string `gorm:"size:255"`
	FieldData string `gorm:"type:text"`
	CreatedAt time.Time
}

func (versionRecord) TableName() string {
	return "content_versions"
}

// nextVersion increments the minor part of a "V<major>.<minor>" version.
func nextVersion(v string) string {
	trimmed := strings.TrimPrefix(strings.ToUpper(v), "V")
	parts := strings.SplitN(trimmed, ".", 2)
	if len(parts) != 2 {
		return initialVersion
	}
	major, err1 := strconv.Atoi(parts[0])
	minor, err2 := strconv.Atoi(strings.SplitN(parts[1], ".", 2)[0])
	if err1 != nil || err2 != nil {
		return initialVersion
	}
	return fmt.Sprintf("V%d.%d", major, minor+1)
}

func validName(name string) bool {
	return name != "" && !strings.ContainsAny(name, "/\\'") && name != "." && name != ".."
}

// CreateContent creates a content of req.Type below parentPath.
func (r *Repository) CreateContent(ctx context.Context, parentPath string, req content.CreateRequest) (*content.Content, error) {
	ct, ok := r.schema.Lookup(req.Type)
	if !ok {
		return nil, fmt.Errorf("%w: unknown content type %q", ErrInvalidField, req.Type)
	}
	name := req.Name
	if name == "" {
		name = uuid.NewString()
	}
	if !validName(name) {
		return nil, fmt.Errorf("%w: invalid content name %q", ErrInvalidField, name)
	}

	var created *contentRecord
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		parent, err := r.findByPath(ctx, tx, parentPath)
		if err != nil {
			return err
		}
		if parent == nil {
			return content.ErrNotFound
		}
		if !r.canOpen(ctx, parent) || !r.canWrite(ctx, parent) {
			return content.ErrAccessDenied
		}
		if err := r.checkChildType(parent, ct); err != nil {
			return err
		}
		p := content.Join(parent.Path, name)
		existing, err := r.findByPath(ctx, tx, p)
		if err != nil {
			return err
		}
		if existing != nil {
			return content.ErrAlreadyExists
		}

		now := r.now().UTC()
		rec := &contentRecord{
			Path:       p,
			ParentPath: parent.Path,
			Name:       name,
			TypeName:   ct.Name,
			Saving:     req.MultistepSave,
			Version:    initialVersion,
			FieldData:  "{}",
			CreatedAt:  now,
			UpdatedAt:  now,
		}
		if userID := r.principalID(ctx, tx); userID != nil {
			rec.CreatedByID = userID
			rec.ModifiedByID = userID
		}
		if err := r.applyFields(ctx, tx, rec, ct, req.Fields, false); err != nil {
			return err
		}
		if err := tx.Create(rec).Error; err != nil {
			return fmt.Errorf("storage: create %s: %w", p, err)
		}
		created = rec
		return nil
	})
	if err != nil {
		return nil, err
	}
	r.logger.Debug("Created content", "path", created.Path, "type", created.TypeName, "id", created.ID)
	return r.buildContent(created)
}

func (r *Repository) checkChildType(parent *contentRecord, ct *content.ContentType) error {
	parentType, ok := r.schema.Lookup(parent.TypeName)
	if !ok {
		return nil
	}
	allowed := parentType.AllowedChildTypes
	if data, err := decodeFieldData(parent.FieldData); err == nil {
		if raw, ok := data["AllowedChildTypes"]; ok {
			var names []string
			if json.Unmarshal(raw, &names) == nil && len(names) > 0 {
				allowed = names
			}
		}
	}
	if len(allowed) == 0 {
		return nil
	}
	for _, name := range allowed {
		if ct.IsInstanceOf(name) {
			return nil
		}
	}
	return fmt.Errorf("%w: %s below %s", content.ErrTypeNotAllowed, ct.Name, parent.Path)
}

// principalID finds the user content matching the caller's principal.
func (r *Repository) principalID(ctx context.Context, tx *gorm.DB) *int {
	a := auth.FromContext(ctx)
	if a.IsVisitor() || a.Principal == "" {
		return nil
	}
	var rec contentRecord
	err := tx.WithContext(ctx).
		Where("type_name = ? AND LOWER(name) = LOWER(?)", UserTypeName, a.Principal).
		Take(&rec).Error
	if err != nil {
		return nil
	}
	return &rec.ID
}

// applyFields merges changes into rec. Built-in columns are written directly;
// everything else goes to the field data document.
func (r *Repository) applyFields(ctx context.Context, tx *gorm.DB, rec *contentRecord, ct *content.ContentType, changes map[string]interface{}, reset bool) error {
	data, err := decodeFieldData(rec.FieldData)
	if err != nil {
		return err
	}
	if reset {
		for _, setting := range ct.FieldSettings() {
			if content.IsProtectedField(setting.Name) || setting.Kind == content.KindBinary {
				continue
			}
			if _, changed := changes[setting.Name]; changed {
				continue
			}
			if setting.Name == "Index" {
				rec.SortIndex = 0
				continue
			}
			if setting.Default == nil {
				delete(data, setting.Name)
				continue
			}
			raw, err := encodeValue(setting, setting.Default, r.pathResolver(ctx, tx))
			if err != nil {
				return err
			}
			data[setting.Name] = raw
		}
	}

	for name, value := range changes {
		setting, ok := ct.FieldSetting(name)
		if !ok {
			return fmt.Errorf("%w: %s has no field %q", ErrInvalidField, ct.Name, name)
		}
		switch {
		case name == "Index":
			idx, err := convertScalar(setting, value)
			if err != nil {
				return fmt.Errorf("%w: Index: %v", ErrInvalidField, err)
			}
			if n, ok := idx.(int64); ok {
				rec.SortIndex = int(n)
			}
			continue
		case content.IsProtectedField(name):
			r.logger.Debug("Ignoring write to protected field", "path", rec.Path, "field", name)
			continue
		case setting.Kind == content.KindBinary:
			b, err := r.storeUpload(ctx, setting, value)
			if err != nil {
				return err
			}
			value = b
		}
		raw, err := encodeValue(setting, value, r.pathResolver(ctx, tx))
		if err != nil {
			return err
		}
		data[name] = raw
	}

	encoded, err := encodeFieldData(data)
	if err != nil {
		return err
	}
	rec.FieldData = encoded
	return nil
}

func (r *Repository) pathResolver(ctx context.Context, tx *gorm.DB) func(string) (int, error) {
	return func(p string) (int, error) {
		rec, err := r.findByPath(ctx, tx, p)
		if err != nil {
			return 0, err
		}
		if rec == nil {
			return 0, fmt.Errorf("reference target %s not found", p)
		}
		return rec.ID, nil
	}
}

// SaveContent applies changes to a stored content and bumps its version. A
// Name change renames the content and moves its subtree.
func (r *Repository) SaveContent(ctx context.Context, c *content.Content, changes map[string]interface{}, reset bool) error {
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		rec, err := r.findByID(ctx, tx, c.ID)
		if err != nil {
			return err
		}
		if rec == nil {
			return content.ErrNotFound
		}
		if !r.canOpen(ctx, rec) || !r.canWrite(ctx, rec) {
			return content.ErrAccessDenied
		}
		ct, ok := r.schema.Lookup(rec.TypeName)
		if !ok {
			return fmt.Errorf("storage: unknown content type %q", rec.TypeName)
		}

		snapshot := versionRecord{ContentID: rec.ID, Version: rec.Version, Name: rec.Name, FieldData: rec.FieldData, CreatedAt: r.now().UTC()}
		if err := tx.Create(&snapshot).Error; err != nil {
			return fmt.Errorf("storage: snapshot %s: %w", rec.Path, err)
		}

		if raw, ok := changes["Name"]; ok {
			newName, _ := raw.(string)
			if newName != "" && newName != rec.Name {
				if err := r.rename(ctx, tx, rec, newName); err != nil {
					return err
				}
			}
		}
		if err := r.applyFields(ctx, tx, rec, ct, changes, reset); err != nil {
			return err
		}
		rec.Version = nextVersion(rec.Version)
		rec.Saving = false
		rec.UpdatedAt = r.now().UTC()
		if userID := r.principalID(ctx, tx); userID != nil {
			rec.ModifiedByID = userID
		}
		if err := tx.Save(rec).Error; err != nil {
			return fmt.Errorf("storage: save %s: %w", rec.Path, err)
		}
		return nil
	})
	if err != nil {
		return err
	}
	r.logger.Debug("Saved content", "id", c.ID, "reset", reset, "fields", len(changes))
	return nil
}

// Rename changes the name of a content and moves its subtree.
func (r *Repository) Rename(ctx context.Context, id int, newName string) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		rec, err := r.findByID(ctx, tx, id)
		if err != nil {
			return err
		}
		if rec == nil {
			return content.ErrNotFound
		}
		if !r.canOpen(ctx, rec) || !r.canWrite(ctx, rec) {
			return content.ErrAccessDenied
		}
		if err := r.rename(ctx, tx, rec, newName); err != nil {
			return err
		}
		rec.UpdatedAt = r.now().UTC()
		return tx.Save(rec).Error
	})
}

func (r *Repository) rename(ctx context.Context, tx *gorm.DB, rec *contentRecord, newName string) error {
	if !validName(newName) {
		return fmt.Errorf("%w: invalid content name %q", ErrInvalidField, newName)
	}
	newPath := content.Join(rec.ParentPath, newName)
	if !strings.EqualFold(newPath, rec.Path) {
		existing, err := r.findByPath(ctx, tx, newPath)
		if err != nil {
			return err
		}
		if existing != nil {
			return content.ErrAlreadyExists
		}
	}
	if err := r.moveSubtree(ctx, tx, rec.Path, newPath); err != nil {
		return err
	}
	rec.Name = newName
	rec.Path = newPath
	return nil
}

// moveSubtree rewrites the paths of every descendant of oldPath.
func (r *Repository) moveSubtree(ctx context.Context, tx *gorm.DB, oldPath, newPath string) error {
	var descendants []contentRecord
	if err := tx.WithContext(ctx).Where("path LIKE ?", oldPath+"/%").Find(&descendants).Error; err != nil {
		return fmt.Errorf("storage: load subtree of %s: %w", oldPath, err)
	}
	for i := range descendants {
		d := &descendants[i]
		d.Path = newPath + d.Path[len(oldPath):]
		d.ParentPath = newPath + d.ParentPath[len(oldPath):]
		if err := tx.Model(d).Updates(map[string]interface{}{"path": d.Path, "parent_path": d.ParentPath}).Error; err != nil {
			return fmt.Errorf("storage: move %s: %w", d.Path, err)
		}
	}
	return nil
}

// DeleteContent removes a content and its subtree. Without permanent it moves
// the subtree to the trash when a trash content exists.
func (r *Repository) DeleteContent(ctx context.Context, c *content.Content, permanent bool) error {
	var keys []string
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		rec, err := r.findByID(ctx, tx, c.ID)
		if err != nil {
			return err
		}
		if rec == nil {
			return content.ErrNotFound
		}
		if !r.canOpen(ctx, rec) || !r.canWrite(ctx, rec) {
			return content.ErrAccessDenied
		}

		if !permanent && !strings.HasPrefix(strings.ToLower(rec.Path), strings.ToLower(TrashPath)) {
			trash, err := r.findByPath(ctx, tx, TrashPath)
			if err != nil {
				return err
			}
			if trash != nil {
				return r.moveToTrash(ctx, tx, rec, trash)
			}
		}

		var subtree []contentRecord
		if err := tx.Where("id = ? OR path LIKE ?", rec.ID, rec.Path+"/%").Find(&subtree).Error; err != nil {
			return fmt.Errorf("storage: load subtree of %s: %w", rec.Path, err)
		}
		ids := make([]int, 0, len(subtree))
		for i := range subtree {
			ids = append(ids, subtree[i].ID)
			keys = append(keys, binaryKeys(&subtree[i])...)
		}
		if err := tx.Where("content_id IN ?", ids).Delete(&versionRecord{}).Error; err != nil {
			return fmt.Errorf("storage: delete versions of %s: %w", rec.Path, err)
		}
		if err := tx.Where("id IN ?", ids).Delete(&contentRecord{}).Error; err != nil {
			return fmt.Errorf("storage: delete %s: %w", rec.Path, err)
		}
		return nil
	})
	if err != nil {
		return err
	}
	r.releaseBlobs(ctx, keys)
	r.logger.Debug("Deleted content", "id", c.ID, "path", c.Path, "permanent", permanent)
	return nil
}

func (r *Repository) moveToTrash(ctx context.Context, tx *gorm.DB, rec, trash *contentRecord) error {
	name := rec.Name
	if existing, err := r.findByPath(ctx, tx, content.Join(trash.Path, name)); err != nil {
		return err
	} else if existing != nil {
		name = rec.Name + "-" + uuid.NewString()[:8]
	}
	newPath := content.Join(trash.Path, name)
	if err := r.moveSubtree(ctx, tx, rec.Path, newPath); err != nil {
		return err
	}
	rec.Path = newPath
	rec.ParentPath = trash.Path
	rec.Name = name
	rec.UpdatedAt = r.now().UTC()
	if err := tx.Save(rec).Error; err != nil {
		return fmt.Errorf("storage: trash %s: %w", rec.Path, err)
	}
	return nil
}

// LoadContentVersion loads the current content when version names it (or is
// lastmajor/lastminor), otherwise the stored snapshot with that version.
func (r *Repository) LoadContentVersion(ctx context.Context, p, version string) (*content.Content, error) {
	rec, err := r.findByPath(ctx, r.db, p)
	if err != nil || rec == nil {
		return nil, err
	}
	if !r.canOpen(ctx, rec) {
		return nil, content.ErrAccessDenied
	}
	switch strings.ToLower(version) {
	case "", "lastmajor", "lastminor", strings.ToLower(rec.Version):
		return r.buildContent(rec)
	}
	var snapshot versionRecord
	err = r.db.WithContext(ctx).
		Where("content_id = ? AND LOWER(version) = LOWER(?)", rec.ID, version).
		Order("id DESC").
		Take(&snapshot).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("storage: load version %s of %s: %w", version, p, err)
	}
	old := *rec
	old.Version = snapshot.Version
	old.FieldData = snapshot.FieldData
	return r.buildContent(&old)
}

// Access holds the visibility settings of a content.
type Access struct {
	// OpenRoles restricts who can see and open the content. Empty means everyone.
	OpenRoles []string
	// WriteRoles restricts who can change the content. Empty means every signed-in user.
	WriteRoles []string
	// System contents are hidden by autofilters.
	System    bool
	ValidFrom *time.Time
	ValidTill *time.Time
}

// SetAccess replaces the visibility settings of the content at path. It
// requires a system caller.
func (r *Repository) SetAccess(ctx context.Context, p string, access Access) error {
	if !auth.FromContext(ctx).System {
		return content.ErrAccessDenied
	}
	rec, err := r.findByPath(ctx, r.db, p)
	if err != nil {
		return err
	}
	if rec == nil {
		return content.ErrNotFound
	}
	updates := map[string]interface{}{
		"open_roles":  strings.Join(access.OpenRoles, ","),
		"write_roles": strings.Join(access.WriteRoles, ","),
		"is_system":   access.System,
		"valid_from":  access.ValidFrom,
		"valid_till":  access.ValidTill,
	}
	if err := r.db.WithContext(ctx).Model(rec).Updates(updates).Error; err != nil {
		return fmt.Errorf("storage: set access of %s: %w", p, err)
	}
	return nil
}
