package node

import (
	"context"
	"errors"
	"strings"

	"hostagent/internal/check"
)

// Tree is a resource tree rooted at a composite node.
type Tree struct {
	root *Composite
}

// NewTree returns a tree over root.
func NewTree(root *Composite) *Tree {
	return &Tree{root: root}
}

// Root returns the root node.
func (t *Tree) Root() *Composite {
	return t.root
}

// Find returns the node at path. An empty path is the root.
func (t *Tree) Find(path []string) (Node, error) {
	var cur Node = t.root
	for _, seg := range path {
		comp, ok := cur.(*Composite)
		if !ok {
			return nil, &NotFoundError{Path: strings.Join(path, "/")}
		}
		child, ok := comp.Child(seg)
		if !ok {
			return nil, &NotFoundError{Path: strings.Join(path, "/")}
		}
		cur = child
	}
	return cur, nil
}

// Resolve walks the node at path with q marked as direct.
func (t *Tree) Resolve(ctx context.Context, path []string, q Query) (map[string]any, error) {
	n, err := t.Find(path)
	if err != nil {
		return nil, err
	}
	q.Direct = true
	return n.Walk(ctx, q)
}

// Check evaluates the node at path. Failures are reported as CRITICAL
// results, never as errors.
func (t *Tree) Check(ctx context.Context, path []string, q Query) check.Result {
	n, err := t.Find(path)
	if err != nil {
		var nf *NotFoundError
		if errors.As(err, &nf) {
			return check.Criticalf("Node %s was not found", nf.Path)
		}
		return check.Criticalf("%v", err)
	}

	checker, ok := n.(Checker)
	if !ok {
		return check.Criticalf("Node %s does not support checks", n.Name())
	}
	q.Direct = true
	return checker.Check(ctx, q)
}

// SplitPath turns "a/b//c/" into ["a" "b" "c"].
func SplitPath(p string) []string {
	var out []string
	for _, seg := range strings.Split(p, "/") {
		if seg != "" {
			out = append(out, seg)
		}
	}
	return out
}
