package storage

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"

	"github.com/nlstn/go-odata-content/internal/scope"
)

// queryBuilder accumulates SQL clauses for SELECT queries over the content
// table. It runs on the *sql.DB behind the gorm connection so that paging and
// counting stay in SQL when no in-memory filtering is needed.
type queryBuilder struct {
	db       *sql.DB
	dialect  string
	table    string
	wheres   []whereClause
	selects  []string
	orderBys []string
	limit    *int
	offset   int
	logger   *slog.Logger
}

// whereClause represents a SQL condition with parameterized arguments
type whereClause struct {
	sql  string
	args []interface{}
}

// newQueryBuilder creates a new query builder for the given database and dialect
func newQueryBuilder(db *sql.DB, dialect string) *queryBuilder {
	return &queryBuilder{
		db:      db,
		dialect: dialect,
		logger:  slog.Default(),
	}
}

// WithTable sets the target table for the query
func (qb *queryBuilder) WithTable(table string) *queryBuilder {
	qb.table = table
	return qb
}

// Where adds a WHERE condition to the query
func (qb *queryBuilder) Where(sql string, args ...interface{}) *queryBuilder {
	qb.wheres = append(qb.wheres, whereClause{sql: sql, args: args})
	return qb
}

// WithScopes adds every scope as a WHERE condition
func (qb *queryBuilder) WithScopes(scopes ...scope.QueryScope) *queryBuilder {
	for _, s := range scopes {
		if s.Condition == "" {
			continue
		}
		qb.Where(s.Condition, s.Args...)
	}
	return qb
}

// Select sets the SELECT columns for the query
func (qb *queryBuilder) Select(cols ...string) *queryBuilder {
	qb.selects = append(qb.selects, cols...)
	return qb
}

// OrderBy adds an ORDER BY clause to the query
func (qb *queryBuilder) OrderBy(order string) *queryBuilder {
	qb.orderBys = append(qb.orderBys, order)
	return qb
}

// Limit sets the LIMIT for the query
func (qb *queryBuilder) Limit(n int) *queryBuilder {
	qb.limit = &n
	return qb
}

// Offset sets the OFFSET for the query
func (qb *queryBuilder) Offset(n int) *queryBuilder {
	qb.offset = n
	return qb
}

// WithLogger sets the logger for the query builder
func (qb *queryBuilder) WithLogger(logger *slog.Logger) *queryBuilder {
	if logger != nil {
		qb.logger = logger
	}
	return qb
}

// Clone creates a copy that can be refined without touching the original
func (qb *queryBuilder) Clone() *queryBuilder {
	clone := &queryBuilder{
		db:       qb.db,
		dialect:  qb.dialect,
		table:    qb.table,
		wheres:   append([]whereClause{}, qb.wheres...),
		selects:  append([]string{}, qb.selects...),
		orderBys: append([]string{}, qb.orderBys...),
		offset:   qb.offset,
		logger:   qb.logger,
	}
	if qb.limit != nil {
		limitCopy := *qb.limit
		clone.limit = &limitCopy
	}
	return clone
}

func (qb *queryBuilder) writeFromWhere(b *strings.Builder) []interface{} {
	var args []interface{}
	if qb.table != "" {
		b.WriteString(" FROM ")
		b.WriteString(quoteIdent(qb.dialect, qb.table))
	}
	if len(qb.wheres) > 0 {
		b.WriteString(" WHERE ")
		clauses := make([]string, 0, len(qb.wheres))
		for _, w := range qb.wheres {
			clauses = append(clauses, "("+w.sql+")")
			args = append(args, w.args...)
		}
		b.WriteString(strings.Join(clauses, " AND "))
	}
	return args
}

// ToSQL builds the final SELECT SQL statement with parameterized arguments
func (qb *queryBuilder) ToSQL() (string, []interface{}) {
	var b strings.Builder
	b.WriteString("SELECT ")
	if len(qb.selects) > 0 {
		b.WriteString(strings.Join(qb.selects, ", "))
	} else {
		b.WriteString("*")
	}
	args := qb.writeFromWhere(&b)

	if len(qb.orderBys) > 0 {
		b.WriteString(" ORDER BY ")
		b.WriteString(strings.Join(qb.orderBys, ", "))
	}
	if qb.limit != nil {
		fmt.Fprintf(&b, " LIMIT %d", *qb.limit)
	} else if qb.offset > 0 && qb.dialect == "mysql" {
		// MySQL requires LIMIT when OFFSET is used
		b.WriteString(" LIMIT 2147483647")
	}
	if qb.offset > 0 {
		fmt.Fprintf(&b, " OFFSET %d", qb.offset)
	}
	return qb.placeholders(b.String()), args
}

// ToCountSQL builds a COUNT(*) query with the same conditions
func (qb *queryBuilder) ToCountSQL() (string, []interface{}) {
	var b strings.Builder
	b.WriteString("SELECT COUNT(*)")
	args := qb.writeFromWhere(&b)
	return qb.placeholders(b.String()), args
}

func (qb *queryBuilder) placeholders(query string) string {
	if qb.dialect == "postgres" || qb.dialect == "postgresql" {
		return convertToPostgresPlaceholders(query)
	}
	return query
}

// QueryIDs executes the query selecting the id column
func (qb *queryBuilder) QueryIDs(ctx context.Context) ([]int, error) {
	q := qb.Clone()
	q.selects = []string{"id"}
	query, args := q.ToSQL()
	qb.logger.Debug("Executing query", "sql", query, "args", args)

	rows, err := qb.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []int
	for rows.Next() {
		var id int
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// CountContext executes the count query and returns the count
func (qb *queryBuilder) CountContext(ctx context.Context) (int64, error) {
	query, args := qb.ToCountSQL()
	qb.logger.Debug("Executing count query", "sql", query, "args", args)

	var count int64
	if err := qb.db.QueryRowContext(ctx, query, args...).Scan(&count); err != nil {
		return 0, err
	}
	return count, nil
}

// quoteIdent quotes a table or column name for the dialect
func quoteIdent(dialect, name string) string {
	if dialect == "mysql" {
		return "`" + strings.ReplaceAll(name, "`", "``") + "`"
	}
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

// convertToPostgresPlaceholders converts ? placeholders to $1, $2, ... for PostgreSQL
func convertToPostgresPlaceholders(query string) string {
	var result strings.Builder
	placeholderNum := 1

	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			fmt.Fprintf(&result, "$%d", placeholderNum)
			placeholderNum++
		} else {
			result.WriteByte(query[i])
		}
	}

	return result.String()
}
