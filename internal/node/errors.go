package node

import "fmt"

// NotFoundError reports a path with no matching node.
type NotFoundError struct {
	Path string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("node %s was not found", e.Path)
}
