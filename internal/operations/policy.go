package operations

import (
	"context"

	"github.com/nlstn/go-odata-content/internal/content"
)

// PolicyResult orders from least to most restrictive.
type PolicyResult int

const (
	// PolicyEnabled allows listing and execution.
	PolicyEnabled PolicyResult = iota
	// PolicyDisabled lists the operation as forbidden and blocks execution.
	PolicyDisabled
	// PolicyInvisible hides the operation and blocks execution.
	PolicyInvisible
)

func (r PolicyResult) String() string {
	switch r {
	case PolicyDisabled:
		return "Disabled"
	case PolicyInvisible:
		return "Invisible"
	default:
		return "Enabled"
	}
}

// Policy decides whether an operation is available on a content for the
// caller found in ctx.
type Policy interface {
	Evaluate(ctx context.Context, c *content.Content, op *OperationInfo) PolicyResult
}

// PolicyFunc adapts a function to Policy.
type PolicyFunc func(ctx context.Context, c *content.Content, op *OperationInfo) PolicyResult

// Evaluate calls f.
func (f PolicyFunc) Evaluate(ctx context.Context, c *content.Content, op *OperationInfo) PolicyResult {
	return f(ctx, c, op)
}

// evaluatePolicies returns the most restrictive result of op's policies. It
// stops at the first Invisible. Unknown policy names evaluate as Invisible.
func (c *Center) evaluatePolicies(ctx context.Context, target *content.Content, op *OperationInfo) PolicyResult {
	result := PolicyEnabled
	for _, name := range op.Auth.Policies {
		p, ok := c.registry.Policy(name)
		if !ok {
			c.logger.Warn("Unknown operation policy", "operation", op.Key, "policy", name)
			return PolicyInvisible
		}
		r := p.Evaluate(ctx, target, op)
		if r > result {
			result = r
		}
		if result == PolicyInvisible {
			return result
		}
	}
	return result
}
