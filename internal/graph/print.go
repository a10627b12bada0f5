// File: internal/graph/print.go
// Brief: Graph printing for plan debugging.

package graph

import (
	"fmt"
	"io"
	"strings"
)

// WriteDOT renders the graph as graphviz. Edges point from dependency to
// dependent (execution direction).
func (g *Graph) WriteDOT(w io.Writer) error {
	var b strings.Builder
	b.WriteString("digraph stackctl {\n")
	b.WriteString("  rankdir=LR;\n")
	b.WriteString("  node [shape=box];\n")
	for _, name := range g.Names() {
		fmt.Fprintf(&b, "  %q;\n", name)
	}
	for _, e := range g.Edges() {
		fmt.Fprintf(&b, "  %q -> %q;\n", e[1], e[0])
	}
	b.WriteString("}\n")
	_, err := io.WriteString(w, b.String())
	return err
}

func (g *Graph) WriteMermaid(w io.Writer) error {
	var b strings.Builder
	b.WriteString("graph TD\n")
	for _, name := range g.Names() {
		fmt.Fprintf(&b, "  %s[\"%s\"]\n", safeID(name), name)
	}
	for _, e := range g.Edges() {
		fmt.Fprintf(&b, "  %s --> %s\n", safeID(e[1]), safeID(e[0]))
	}
	_, err := io.WriteString(w, b.String())
	return err
}

func safeID(s string) string {
	out := strings.Builder{}
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			out.WriteRune(r)
		default:
			out.WriteRune('_')
		}
	}
	return out.String()
}
