package handlers

import (
	"context"
	"errors"
	"fmt"

	"github.com/nlstn/go-odata-content/internal/content"
	"github.com/nlstn/go-odata-content/internal/observability"
	"github.com/nlstn/go-odata-content/internal/query"
)

// collectionExecutionContext provides the hooks required to execute a collection
// query pipeline. Callers customize the phases around the shared query and
// load steps: BeforeRead validates the parent, BuildSpec may adjust the
// repository query, AfterRead may replace the loaded page and WriteResponse
// renders it.
type collectionExecutionContext struct {
	Request *query.Request

	BeforeRead    func(*query.Request) error
	BuildSpec     func(*query.Request) (content.QuerySpec, error)
	AfterRead     func(*query.Request, []*content.Content) ([]*content.Content, error)
	WriteResponse func(req *query.Request, contents []*content.Content, total int) error
}

func (d *Dispatcher) executeCollectionQuery(ctx context.Context, ec *collectionExecutionContext) error {
	if ec == nil || ec.Request == nil || ec.WriteResponse == nil {
		return fmt.Errorf("executeCollectionQuery requires a request and a WriteResponse callback")
	}
	req := ec.Request

	if ec.BeforeRead != nil {
		if err := ec.BeforeRead(req); err != nil {
			return err
		}
	}

	build := ec.BuildSpec
	if build == nil {
		build = querySpecFor
	}
	spec, err := build(req)
	if err != nil {
		return err
	}

	timing := observability.StartServerTiming(ctx, observability.TimingQuery)
	result, err := d.repo.Query(ctx, spec)
	timing.Stop()
	if err != nil {
		return err
	}
	if req.CountOnly {
		return ec.WriteResponse(req, nil, result.TotalCount)
	}

	contents, err := d.loadPage(ctx, result.IDs)
	if err != nil {
		return err
	}

	if ec.AfterRead != nil {
		if contents, err = ec.AfterRead(req, contents); err != nil {
			return err
		}
	}
	return ec.WriteResponse(req, contents, result.TotalCount)
}

// querySpecFor maps the request options onto a children query of the
// addressed content. Autofilters default to on, lifespan filtering to off.
func querySpecFor(req *query.Request) (content.QuerySpec, error) {
	spec := content.QuerySpec{
		Parent:        req.RepositoryPath,
		Filter:        req.Filter,
		Sort:          req.Sort,
		Top:           req.Top,
		Skip:          req.Skip,
		Text:          req.ContentQuery,
		Autofilters:   req.Autofilters.Resolve(true),
		Lifespan:      req.LifespanFilter.Resolve(false),
		ExecutionMode: req.ExecutionMode,
	}
	if req.CountOnly {
		spec.Top, spec.Skip = 0, 0
	}
	return spec, nil
}

// loadPage loads the contents of one result page. Contents removed or hidden
// since the query ran are skipped.
func (d *Dispatcher) loadPage(ctx context.Context, ids []int) ([]*content.Content, error) {
	timing := observability.StartServerTiming(ctx, observability.TimingLoad)
	defer timing.Stop()

	out := make([]*content.Content, 0, len(ids))
	for _, id := range ids {
		c, err := d.repo.LoadContentByID(ctx, id)
		if errors.Is(err, content.ErrAccessDenied) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("load content(%d): %w", id, err)
		}
		if c != nil {
			out = append(out, c)
		}
	}
	return out, nil
}
