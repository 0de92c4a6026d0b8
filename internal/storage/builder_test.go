package storage

import (
	"context"
	"database/sql"
	"testing"

	"github.com/nlstn/go-odata-content/internal/scope"

	_ "github.com/mattn/go-sqlite3" // SQLite driver for testing
)

func setupQueryBuilderTestDB(t *testing.T) (*sql.DB, string) {
	db, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		t.Fatalf("Failed to open database: %v", err)
	}

	_, err = db.Exec(`
		CREATE TABLE contents (
			id INTEGER PRIMARY KEY,
			path TEXT NOT NULL,
			parent_path TEXT,
			name TEXT NOT NULL,
			sort_index INTEGER,
			is_system BOOLEAN,
			field_data TEXT
		)
	`)
	if err != nil {
		t.Fatalf("Failed to create table: %v", err)
	}

	_, err = db.Exec(`
		INSERT INTO contents (id, path, parent_path, name, sort_index, is_system, field_data) VALUES
		(1, '/Root/Docs', '/Root', 'Docs', 0, 0, '{}'),
		(2, '/Root/Docs/a.txt', '/Root/Docs', 'a.txt', 2, 0, '{"Description":"alpha"}'),
		(3, '/Root/Docs/b.txt', '/Root/Docs', 'b.txt', 1, 0, '{}'),
		(4, '/Root/Docs/(settings)', '/Root/Docs', '(settings)', 3, 1, '{}')
	`)
	if err != nil {
		t.Fatalf("Failed to insert test data: %v", err)
	}

	return db, "sqlite"
}

func TestQueryBuilder_BasicSelect(t *testing.T) {
	db, dialect := setupQueryBuilderTestDB(t)
	defer db.Close()

	qb := newQueryBuilder(db, dialect).WithTable("contents")

	sql, args := qb.ToSQL()
	expectedSQL := "SELECT * FROM \"contents\""
	if sql != expectedSQL {
		t.Errorf("Expected SQL %q, got %q", expectedSQL, sql)
	}
	if len(args) != 0 {
		t.Errorf("Expected no args, got %v", args)
	}
}

func TestQueryBuilder_WhereWrapsEveryClause(t *testing.T) {
	db, dialect := setupQueryBuilderTestDB(t)
	defer db.Close()

	qb := newQueryBuilder(db, dialect).
		WithTable("contents").
		Select("id").
		Where("a = ? OR b = ?", 1, 2).
		Where("c = ?", 3)

	sql, args := qb.ToSQL()
	expectedSQL := "SELECT id FROM \"contents\" WHERE (a = ? OR b = ?) AND (c = ?)"
	if sql != expectedSQL {
		t.Errorf("Expected SQL %q, got %q", expectedSQL, sql)
	}
	if len(args) != 3 {
		t.Errorf("Expected 3 args, got %v", args)
	}
}

func TestQueryBuilder_WithScopes(t *testing.T) {
	db, dialect := setupQueryBuilderTestDB(t)
	defer db.Close()

	qb := newQueryBuilder(db, dialect).
		WithTable("contents").
		WithScopes(scope.Parent("/Root/Docs"), scope.QueryScope{}, scope.Autofilter())

	ids, err := qb.OrderBy("sort_index ASC").QueryIDs(context.Background())
	if err != nil {
		t.Fatalf("QueryIDs failed: %v", err)
	}
	if len(ids) != 2 || ids[0] != 3 || ids[1] != 2 {
		t.Errorf("Expected [3 2], got %v", ids)
	}
}

func TestQueryBuilder_TextScope(t *testing.T) {
	db, dialect := setupQueryBuilderTestDB(t)
	defer db.Close()

	qb := newQueryBuilder(db, dialect).
		WithTable("contents").
		WithScopes(scope.Parent("/Root/Docs"), scope.Text("ALPHA"))

	ids, err := qb.QueryIDs(context.Background())
	if err != nil {
		t.Fatalf("QueryIDs failed: %v", err)
	}
	if len(ids) != 1 || ids[0] != 2 {
		t.Errorf("Expected [2], got %v", ids)
	}
}

func TestQueryBuilder_LimitOffset(t *testing.T) {
	db, dialect := setupQueryBuilderTestDB(t)
	defer db.Close()

	qb := newQueryBuilder(db, dialect).WithTable("contents").Limit(10).Offset(5)

	sql, _ := qb.ToSQL()
	expectedSQL := "SELECT * FROM \"contents\" LIMIT 10 OFFSET 5"
	if sql != expectedSQL {
		t.Errorf("Expected SQL %q, got %q", expectedSQL, sql)
	}
}

func TestQueryBuilder_MySQLOffsetRequiresLimit(t *testing.T) {
	qb := newQueryBuilder(nil, "mysql").WithTable("contents").Offset(5)

	sql, _ := qb.ToSQL()
	expectedSQL := "SELECT * FROM `contents` LIMIT 2147483647 OFFSET 5"
	if sql != expectedSQL {
		t.Errorf("Expected SQL %q, got %q", expectedSQL, sql)
	}
}

func TestQueryBuilder_CountContext(t *testing.T) {
	db, dialect := setupQueryBuilderTestDB(t)
	defer db.Close()

	qb := newQueryBuilder(db, dialect).
		WithTable("contents").
		WithScopes(scope.Parent("/Root/Docs")).
		Limit(1)

	count, err := qb.CountContext(context.Background())
	if err != nil {
		t.Fatalf("CountContext failed: %v", err)
	}
	if count != 3 {
		t.Errorf("Expected count 3 ignoring the limit, got %d", count)
	}
}

func TestQueryBuilder_Clone(t *testing.T) {
	db, dialect := setupQueryBuilderTestDB(t)
	defer db.Close()

	original := newQueryBuilder(db, dialect).WithTable("contents").Where("id > ?", 1).Limit(2)
	clone := original.Clone()
	clone.Where("id < ?", 4).Limit(1)

	origSQL, origArgs := original.ToSQL()
	if origSQL != "SELECT * FROM \"contents\" WHERE (id > ?) LIMIT 2" {
		t.Errorf("Original builder changed: %q", origSQL)
	}
	if len(origArgs) != 1 {
		t.Errorf("Original args changed: %v", origArgs)
	}
	cloneSQL, _ := clone.ToSQL()
	if cloneSQL != "SELECT * FROM \"contents\" WHERE (id > ?) AND (id < ?) LIMIT 1" {
		t.Errorf("Unexpected clone SQL: %q", cloneSQL)
	}
}

func TestQueryBuilder_PostgreSQLPlaceholders(t *testing.T) {
	qb := newQueryBuilder(nil, "postgres").
		WithTable("contents").
		Where("parent_path = ?", "/Root").
		Where("is_system = ?", false)

	sql, _ := qb.ToSQL()
	expectedSQL := "SELECT * FROM \"contents\" WHERE (parent_path = $1) AND (is_system = $2)"
	if sql != expectedSQL {
		t.Errorf("Expected SQL %q, got %q", expectedSQL, sql)
	}
}
