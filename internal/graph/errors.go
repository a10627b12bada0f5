package graph

import (
	"fmt"
	"strings"
)

// CyclicGraphError reports a dependency loop. Cycle lists the nodes along the
// loop with the first node repeated at the end.
type CyclicGraphError struct {
	Cycle []string
}

func (e *CyclicGraphError) Error() string {
	return fmt.Sprintf("dependency cycle detected: %s", strings.Join(e.Cycle, " -> "))
}

type DuplicateNodeError struct {
	Name string
}

func (e *DuplicateNodeError) Error() string {
	return fmt.Sprintf("node %q already exists", e.Name)
}

// MissingNodeError is returned when an edge references an unknown node.
// Missing names the side of the edge that could not be resolved.
type MissingNodeError struct {
	Node       string
	Dependency string
	Missing    string
}

func (e *MissingNodeError) Error() string {
	if e.Missing == e.Node && e.Node != e.Dependency {
		return fmt.Sprintf("node %q does not exist", e.Node)
	}
	return fmt.Sprintf("%s requires missing dependency %q", e.Node, e.Dependency)
}
