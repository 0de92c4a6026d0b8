package storage

import (
	"strings"
	"time"
)

// contentRecord is one row of the content table.
type contentRecord struct {
	ID           int    `gorm:"primaryKey;autoIncrement"`
	Path         string `gorm:"uniqueIndex;size:450;not null"`
	ParentPath   string `gorm:"index;size:450"`
	Name         string `gorm:"size:255;not null"`
	TypeName     string `gorm:"size:100;not null"`
	SortIndex    int
	IsSystem     bool `gorm:"index"`
	ValidFrom    *time.Time
	ValidTill    *time.Time
	OpenRoles    string `gorm:"size:1000"`
	WriteRoles   string `gorm:"size:1000"`
	Saving       bool
	Version      string `gorm:"size:20"`
	CreatedByID  *int
	ModifiedByID *int
	FieldData    string `gorm:"type:text"`
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

func (contentRecord) TableName() string {
	return "contents"
}

func (rec *contentRecord) openRoles() []string {
	return splitRoles(rec.OpenRoles)
}

func (rec *contentRecord) writeRoles() []string {
	return splitRoles(rec.WriteRoles)
}

func splitRoles(raw string) []string {
	var out []string
	for _, r := range strings.Split(raw, ",") {
		if r = strings.TrimSpace(r); r != "" {
			out = append(out, r)
		}
	}
	return out
}

// sortColumns maps sortable built-in fields to columns so that paging can run in SQL.
var sortColumns = map[string]string{
	"Id":               "id",
	"Name":             "name",
	"Path":             "path",
	"Type":             "type_name",
	"Index":            "sort_index",
	"CreationDate":     "created_at",
	"ModificationDate": "updated_at",
}
