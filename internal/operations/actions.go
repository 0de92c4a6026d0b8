package operations

import (
	"context"
	"fmt"

	"github.com/nlstn/go-odata-content/internal/auth"
	"github.com/nlstn/go-odata-content/internal/content"
	"github.com/nlstn/go-odata-content/internal/projector"
)

var _ projector.ActionLister = (*Center)(nil)

// ListActions describes the operations available on c. Operations hidden by
// a policy are left out; those the caller cannot execute are marked
// Forbidden. Repository provided descriptors follow, minus names already
// listed.
func (c *Center) ListActions(ctx context.Context, target *content.Content, scenario string) ([]content.ActionDescriptor, error) {
	var out []content.ActionDescriptor
	listed := make(map[string]bool)
	system := auth.FromContext(ctx).System

	for _, op := range c.registry.Operations() {
		if !op.AppliesTo(target) || !op.ListedIn(scenario) || listed[op.Key] {
			continue
		}
		forbidden := false
		if !system {
			policy := c.evaluatePolicies(ctx, target, op)
			if policy == PolicyInvisible {
				continue
			}
			ok, err := c.authorized(ctx, target, op)
			if err != nil {
				return nil, err
			}
			forbidden = !ok || op.Auth.IsEmpty() || policy == PolicyDisabled
		}
		listed[op.Key] = true
		out = append(out, c.descriptor(target, op, len(out), scenario, forbidden))
	}

	if c.actions == nil {
		return out, nil
	}
	provided, err := c.actions.Actions(ctx, target, scenario)
	if err != nil {
		return nil, fmt.Errorf("list repository actions of %s: %w", target.Path, err)
	}
	for _, a := range provided {
		if listed[CanonicalName("", a.Name)] {
			continue
		}
		a.Index = len(out)
		out = append(out, a)
	}
	return out, nil
}

func (c *Center) descriptor(target *content.Content, op *OperationInfo, index int, scenario string, forbidden bool) content.ActionDescriptor {
	name := op.Name
	if op.Controller != "" {
		name = op.Controller + "." + op.Name
	}
	params := make([]content.ActionParameter, 0, len(op.Required)+len(op.Optional))
	for _, p := range op.Params() {
		params = append(params, content.ActionParameter{
			Name:     p.Name,
			Type:     TypeName(p.Type),
			Required: !p.Optional,
		})
	}
	return content.ActionDescriptor{
		Name:              name,
		DisplayName:       op.DisplayName,
		Icon:              op.Icon,
		URL:               projector.EntityURL(c.serviceRoot(), target.Path) + "/" + name,
		Index:             index,
		Scenario:          scenario,
		Forbidden:         forbidden,
		IsODataAction:     true,
		CausesStateChange: op.CausesStateChange,
		Parameters:        params,
	}
}

func (c *Center) serviceRoot() string {
	if c.config.ServiceRoot == "" {
		return projector.DefaultServiceRoot
	}
	return c.config.ServiceRoot
}
