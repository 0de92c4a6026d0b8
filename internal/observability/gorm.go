package observability

import (
	"errors"
	"fmt"

	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"
)

const (
	gormSpanKey   = "odata:span"
	gormTimingKey = "odata:server_timing"
)

// registerAround installs a before and an after callback around every gorm
// statement kind.
func registerAround(db *gorm.DB, prefix string, before, after func(op string) func(*gorm.DB)) error {
	cb := db.Callback()
	err := errors.Join(
		cb.Create().Before("gorm:create").Register(prefix+"before_create", before("create")),
		cb.Create().After("gorm:create").Register(prefix+"after_create", after("create")),
		cb.Query().Before("gorm:query").Register(prefix+"before_query", before("query")),
		cb.Query().After("gorm:query").Register(prefix+"after_query", after("query")),
		cb.Update().Before("gorm:update").Register(prefix+"before_update", before("update")),
		cb.Update().After("gorm:update").Register(prefix+"after_update", after("update")),
		cb.Delete().Before("gorm:delete").Register(prefix+"before_delete", before("delete")),
		cb.Delete().After("gorm:delete").Register(prefix+"after_delete", after("delete")),
		cb.Row().Before("gorm:row").Register(prefix+"before_row", before("row")),
		cb.Row().After("gorm:row").Register(prefix+"after_row", after("row")),
		cb.Raw().Before("gorm:raw").Register(prefix+"before_raw", before("raw")),
		cb.Raw().After("gorm:raw").Register(prefix+"after_raw", after("raw")),
	)
	if err != nil {
		return fmt.Errorf("register gorm callbacks: %w", err)
	}
	return nil
}

// RegisterGORMCallbacks adds one client span per database statement issued
// through db.
func RegisterGORMCallbacks(db *gorm.DB, cfg *Config) error {
	if db == nil {
		return fmt.Errorf("gorm handle is required")
	}
	tracer := cfg.Tracer()
	return registerAround(db, "odata:trace_", func(op string) func(*gorm.DB) {
		return func(tx *gorm.DB) {
			ctx, span := tracer.StartRepository(tx.Statement.Context, "db."+op)
			tx.Statement.Context = ctx
			tx.InstanceSet(gormSpanKey, span)
		}
	}, func(string) func(*gorm.DB) {
		return endGORMSpan
	})
}

func endGORMSpan(tx *gorm.DB) {
	v, ok := tx.InstanceGet(gormSpanKey)
	if !ok {
		return
	}
	span, ok := v.(trace.Span)
	if !ok {
		return
	}
	span.SetAttributes(
		AttrDBTable.String(tx.Statement.Table),
		AttrDBStatement.String(tx.Statement.SQL.String()),
		AttrDBRows.Int64(tx.Statement.RowsAffected),
	)
	if tx.Error != nil && !errors.Is(tx.Error, gorm.ErrRecordNotFound) {
		RecordError(span, tx.Error, "")
	}
	span.End()
}

// RegisterServerTimingCallbacks adds a "db" Server-Timing metric per statement
// issued through db.
func RegisterServerTimingCallbacks(db *gorm.DB) error {
	if db == nil {
		return fmt.Errorf("gorm handle is required")
	}
	return registerAround(db, "odata:timing_", func(op string) func(*gorm.DB) {
		return func(tx *gorm.DB) {
			tx.InstanceSet(gormTimingKey, StartServerTimingWithDesc(tx.Statement.Context, TimingDB, op))
		}
	}, func(string) func(*gorm.DB) {
		return func(tx *gorm.DB) {
			if v, ok := tx.InstanceGet(gormTimingKey); ok {
				if m, ok := v.(*ServerTimingMetric); ok {
					m.Stop()
				}
			}
		}
	})
}
