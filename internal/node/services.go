package node

import (
	"context"

	"hostagent/internal/check"
	"hostagent/internal/services"
)

// ServicesNode reports OS services. It is deferred: walking the tree past
// it never enumerates services.
type ServicesNode struct {
	*Lazy
	provider services.Provider
}

// NewServicesNode returns a services node backed by provider.
func NewServicesNode(provider services.Provider) *ServicesNode {
	n := &ServicesNode{provider: provider}
	n.Lazy = NewDeferred("services", func(ctx context.Context, q Query) (any, error) {
		return n.records(ctx, q)
	})
	return n
}

func (n *ServicesNode) records(ctx context.Context, q Query) (map[string]services.Status, error) {
	all, err := n.provider.Enumerate(ctx)
	if err != nil {
		return nil, err
	}
	return services.Filter(all, q.Names, q.Statuses), nil
}

// Check evaluates the requested services against the requested statuses.
func (n *ServicesNode) Check(ctx context.Context, q Query) check.Result {
	records, err := n.records(ctx, q)
	if err != nil {
		return check.Criticalf("%v", err)
	}
	return check.EvaluateServices(q.Names, q.Statuses, records)
}
