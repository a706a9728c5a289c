// Package node implements the resource tree served by the API.
//
// A tree is built once from three kinds of nodes: Static nodes hold a
// constant, Lazy nodes compute their value on each walk and Composite nodes
// group children. The set of children never changes after construction;
// only leaf values are recomputed per query.
package node

import (
	"context"
	"net/url"
	"strings"

	"hostagent/internal/check"
)

// Query carries the request parameters down a walk.
type Query struct {
	Names    []string // requested names, empty means all
	Statuses []string // requested statuses, empty means any
	// Direct is true only for the node the request path resolves to.
	Direct bool
}

// QueryFromParams builds a query from request parameters. Both "service"
// and "name" select names.
func QueryFromParams(params url.Values) Query {
	var names []string
	names = append(names, params["service"]...)
	names = append(names, params["name"]...)
	return Query{
		Names:    names,
		Statuses: params["status"],
	}
}

// Node is an entry of the resource tree.
type Node interface {
	Name() string
	Parent() Node
	// Walk returns {Name(): value}.
	Walk(ctx context.Context, q Query) (map[string]any, error)

	attach(parent Node)
}

// Checker is implemented by nodes that can evaluate a check.
type Checker interface {
	Check(ctx context.Context, q Query) check.Result
}

type base struct {
	name   string
	parent Node
}

func (b *base) Name() string       { return b.name }
func (b *base) Parent() Node       { return b.parent }
func (b *base) attach(parent Node) { b.parent = parent }

// Path returns the slash separated path of n below the root.
func Path(n Node) string {
	var segments []string
	for cur := n; cur != nil && cur.Parent() != nil; cur = cur.Parent() {
		segments = append(segments, cur.Name())
	}
	for i, j := 0, len(segments)-1; i < j; i, j = i+1, j-1 {
		segments[i], segments[j] = segments[j], segments[i]
	}
	return strings.Join(segments, "/")
}

// Static is a node with a constant value.
type Static struct {
	base
	value any
}

// NewStatic returns a node always walking to value.
func NewStatic(name string, value any) *Static {
	return &Static{base: base{name: name}, value: value}
}

func (s *Static) Walk(ctx context.Context, q Query) (map[string]any, error) {
	return map[string]any{s.name: s.value}, nil
}

// ComputeFunc produces the value of a lazy node.
type ComputeFunc func(ctx context.Context, q Query) (any, error)

// Lazy is a node computed on demand.
type Lazy struct {
	base
	compute  ComputeFunc
	deferred bool
}

// NewLazy returns a node computed on every walk.
func NewLazy(name string, compute ComputeFunc) *Lazy {
	return &Lazy{base: base{name: name}, compute: compute}
}

// NewDeferred returns a lazy node that is only computed when it is the
// direct target of a query. Walked incidentally it yields an empty list.
func NewDeferred(name string, compute ComputeFunc) *Lazy {
	return &Lazy{base: base{name: name}, compute: compute, deferred: true}
}

func (l *Lazy) Walk(ctx context.Context, q Query) (map[string]any, error) {
	if l.deferred && !q.Direct {
		return map[string]any{l.name: []any{}}, nil
	}
	v, err := l.compute(ctx, q)
	if err != nil {
		return nil, err
	}
	return map[string]any{l.name: v}, nil
}

// Composite is a node grouping children.
type Composite struct {
	base
	children []Node
	index    map[string]Node
}

// NewComposite returns a node owning children. Later children with a
// duplicate name replace earlier ones.
func NewComposite(name string, children ...Node) *Composite {
	c := &Composite{
		base:  base{name: name},
		index: make(map[string]Node, len(children)),
	}
	for _, child := range children {
		child.attach(c)
		if _, dup := c.index[child.Name()]; !dup {
			c.children = append(c.children, child)
		} else {
			for i, existing := range c.children {
				if existing.Name() == child.Name() {
					c.children[i] = child
				}
			}
		}
		c.index[child.Name()] = child
	}
	return c
}

// Child returns the direct child called name.
func (c *Composite) Child(name string) (Node, bool) {
	n, ok := c.index[name]
	return n, ok
}

// Children returns the children in construction order.
func (c *Composite) Children() []Node {
	out := make([]Node, len(c.children))
	copy(out, c.children)
	return out
}

func (c *Composite) Walk(ctx context.Context, q Query) (map[string]any, error) {
	incidental := q
	incidental.Direct = false

	merged := make(map[string]any, len(c.children))
	for _, child := range c.children {
		v, err := child.Walk(ctx, incidental)
		if err != nil {
			return nil, err
		}
		for k, val := range v {
			merged[k] = val
		}
	}
	return map[string]any{c.name: merged}, nil
}
