// Package scope holds SQL predicates that repositories append to content
// queries before any OData option is applied.
package scope

import "time"

// QueryScope represents a SQL condition that can be added to a query.
// It carries a raw SQL predicate and its arguments for safe parameter binding.
type QueryScope struct {
	// Condition is the SQL WHERE clause condition (e.g., "is_system = ?")
	Condition string
	// Args contains the parameter values for placeholders in Condition
	Args []interface{}
}

// Autofilter hides system contents.
func Autofilter() QueryScope {
	return QueryScope{Condition: "is_system = ?", Args: []interface{}{false}}
}

// Lifespan hides contents whose validity window does not contain now.
func Lifespan(now time.Time) QueryScope {
	return QueryScope{
		Condition: "(valid_from IS NULL OR valid_from <= ?) AND (valid_till IS NULL OR valid_till >= ?)",
		Args:      []interface{}{now, now},
	}
}

// Parent restricts a query to the direct children of a path.
func Parent(path string) QueryScope {
	return QueryScope{Condition: "parent_path = ?", Args: []interface{}{path}}
}

// Text matches a free-text query against name and stored field data.
func Text(text string) QueryScope {
	pattern := "%" + text + "%"
	return QueryScope{
		Condition: "LOWER(name) LIKE LOWER(?) OR LOWER(field_data) LIKE LOWER(?)",
		Args:      []interface{}{pattern, pattern},
	}
}
