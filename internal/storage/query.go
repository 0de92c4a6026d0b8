package storage

import (
	"context"
	"fmt"

	"github.com/nlstn/go-odata-content/internal/auth"
	"github.com/nlstn/go-odata-content/internal/content"
	"github.com/nlstn/go-odata-content/internal/query"
	"github.com/nlstn/go-odata-content/internal/scope"
)

const contentTable = "contents"

// Query returns one page of the children of spec.Parent and the total match
// count. Paging runs in SQL when the result needs neither a filter, a
// non-column sort, nor per-row permission checks.
func (r *Repository) Query(ctx context.Context, spec content.QuerySpec) (content.QueryResult, error) {
	qb := newQueryBuilder(r.sqlDB, r.dialect).
		WithTable(contentTable).
		WithLogger(r.logger).
		WithScopes(r.scopes(spec)...)

	pushdown, err := r.canPushDown(ctx, qb, spec)
	if err != nil {
		return content.QueryResult{}, err
	}
	if pushdown {
		return r.queryInSQL(ctx, qb, spec)
	}
	return r.queryInMemory(ctx, qb, spec)
}

func (r *Repository) scopes(spec content.QuerySpec) []scope.QueryScope {
	scopes := []scope.QueryScope{scope.Parent(spec.Parent)}
	if spec.Autofilters {
		scopes = append(scopes, scope.Autofilter())
	}
	if spec.Lifespan {
		scopes = append(scopes, scope.Lifespan(r.now().UTC()))
	}
	if spec.Text != "" {
		scopes = append(scopes, scope.Text(spec.Text))
	}
	return scopes
}

func (r *Repository) canPushDown(ctx context.Context, qb *queryBuilder, spec content.QuerySpec) (bool, error) {
	if spec.ExecutionMode == query.ExecutionStrict || spec.Filter != nil {
		return false, nil
	}
	for _, s := range spec.Sort {
		if _, ok := sortColumns[s.FieldName]; !ok {
			return false, nil
		}
	}
	if auth.FromContext(ctx).System {
		return true, nil
	}
	restricted, err := qb.Clone().Where("open_roles <> ?", "").CountContext(ctx)
	if err != nil {
		return false, fmt.Errorf("storage: count restricted children: %w", err)
	}
	return restricted == 0, nil
}

func orderClauses(sorts []query.SortInfo) []string {
	clauses := make([]string, 0, len(sorts)+2)
	for _, s := range sorts {
		dir := "ASC"
		if s.Descending {
			dir = "DESC"
		}
		clauses = append(clauses, sortColumns[s.FieldName]+" "+dir)
	}
	return append(clauses, "sort_index ASC", "id ASC")
}

func (r *Repository) queryInSQL(ctx context.Context, qb *queryBuilder, spec content.QuerySpec) (content.QueryResult, error) {
	total, err := qb.CountContext(ctx)
	if err != nil {
		return content.QueryResult{}, fmt.Errorf("storage: count children of %s: %w", spec.Parent, err)
	}
	page := qb.Clone()
	for _, clause := range orderClauses(spec.Sort) {
		page.OrderBy(clause)
	}
	if spec.Top > 0 {
		page.Limit(spec.Top)
	}
	if spec.Skip > 0 {
		page.Offset(spec.Skip)
	}
	ids, err := page.QueryIDs(ctx)
	if err != nil {
		return content.QueryResult{}, fmt.Errorf("storage: query children of %s: %w", spec.Parent, err)
	}
	return content.QueryResult{IDs: ids, TotalCount: int(total)}, nil
}

func (r *Repository) queryInMemory(ctx context.Context, qb *queryBuilder, spec content.QuerySpec) (content.QueryResult, error) {
	ordered := qb.Clone().OrderBy("sort_index ASC").OrderBy("id ASC")
	ids, err := ordered.QueryIDs(ctx)
	if err != nil {
		return content.QueryResult{}, fmt.Errorf("storage: query children of %s: %w", spec.Parent, err)
	}
	if len(ids) == 0 {
		return content.QueryResult{IDs: []int{}}, nil
	}

	var recs []contentRecord
	if err := r.db.WithContext(ctx).Where("id IN ?", ids).Find(&recs).Error; err != nil {
		return content.QueryResult{}, fmt.Errorf("storage: load children of %s: %w", spec.Parent, err)
	}
	byID := make(map[int]*contentRecord, len(recs))
	for i := range recs {
		byID[recs[i].ID] = &recs[i]
	}

	matched := make([]*content.Content, 0, len(ids))
	for _, id := range ids {
		rec, ok := byID[id]
		if !ok || !r.canOpen(ctx, rec) {
			continue
		}
		c, err := r.buildContent(rec)
		if err != nil {
			return content.QueryResult{}, err
		}
		ok, err = query.Matches(spec.Filter, content.AsRecord(ctx, c))
		if err != nil {
			return content.QueryResult{}, fmt.Errorf("storage: evaluate filter: %w", err)
		}
		if ok {
			matched = append(matched, c)
		}
	}

	content.SortContents(ctx, matched, spec.Sort)

	total := len(matched)
	start := spec.Skip
	if start > total {
		start = total
	}
	end := total
	if spec.Top > 0 && spec.Top < end-start {
		end = start + spec.Top
	}
	result := make([]int, 0, end-start)
	for _, c := range matched[start:end] {
		result = append(result, c.ID)
	}
	return content.QueryResult{IDs: result, TotalCount: total}, nil
}
