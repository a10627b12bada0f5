// File: internal/graph/ops.go
// Brief: Derived graphs (closures, transpose, filter, reduction, merge).

package graph

import "sort"

// TransitiveDependencies returns every node name reachable from name through
// requires edges, sorted. name itself is not included.
func (g *Graph) TransitiveDependencies(name string) []string {
	return g.closure(name, func(n *Node) map[string]struct{} { return n.Requires })
}

// TransitiveDependents returns every node that (directly or not) requires name.
func (g *Graph) TransitiveDependents(name string) []string {
	return g.closure(name, func(n *Node) map[string]struct{} { return n.RequiredBy })
}

func (g *Graph) closure(name string, next func(*Node) map[string]struct{}) []string {
	start, ok := g.nodes[name]
	if !ok {
		return nil
	}
	seen := map[string]struct{}{}
	queue := []*Node{start}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for k := range next(cur) {
			if _, ok := seen[k]; ok || k == name {
				continue
			}
			n, ok := g.nodes[k]
			if !ok {
				continue
			}
			seen[k] = struct{}{}
			queue = append(queue, n)
		}
	}
	return sortedKeys(seen)
}

// Transposed returns a copy with every edge reversed: a node now "requires"
// what used to require it. Destroy runs walk the transposed graph.
func (g *Graph) Transposed() *Graph {
	out := New()
	for name, n := range g.nodes {
		c := newNode(name)
		c.Meta = n.Meta
		out.nodes[name] = c
	}
	for name, n := range g.nodes {
		for dep := range n.Requires {
			if d, ok := out.nodes[dep]; ok {
				d.Requires[name] = struct{}{}
			}
		}
	}
	out.relink()
	return out
}

// Filtered keeps names plus all of their transitive dependencies. Unknown
// names are ignored.
func (g *Graph) Filtered(names []string) *Graph {
	keep := map[string]struct{}{}
	for _, name := range names {
		if _, ok := g.nodes[name]; !ok {
			continue
		}
		keep[name] = struct{}{}
		for _, dep := range g.TransitiveDependencies(name) {
			keep[dep] = struct{}{}
		}
	}
	out := New()
	for name := range keep {
		src := g.nodes[name]
		c := newNode(name)
		c.Meta = src.Meta
		for dep := range src.Requires {
			if _, ok := keep[dep]; ok {
				c.Requires[dep] = struct{}{}
			}
		}
		out.nodes[name] = c
	}
	out.relink()
	return out
}

// TransitiveReduction drops every edge a -> c that is also implied by a
// longer path a -> b -> ... -> c. Reachability is unchanged.
func (g *Graph) TransitiveReduction() *Graph {
	out := g.Clone()
	for _, name := range out.Names() {
		n := out.nodes[name]
		direct := sortedKeys(n.Requires)
		for _, dep := range direct {
			for _, other := range direct {
				if other == dep {
					continue
				}
				if containsSorted(g.TransitiveDependencies(other), dep) {
					delete(n.Requires, dep)
					break
				}
			}
		}
	}
	out.relink()
	return out
}

// Merge returns the union of g and other. For names present in both graphs
// other's edges and metadata win. Edges pointing at nodes missing from the
// union are dropped.
func (g *Graph) Merge(other *Graph) *Graph {
	out := g.Clone()
	if other == nil {
		return out
	}
	for name, n := range other.nodes {
		c := newNode(name)
		c.Meta = n.Meta
		for dep := range n.Requires {
			c.Requires[dep] = struct{}{}
		}
		out.nodes[name] = c
	}
	for _, n := range out.nodes {
		for dep := range n.Requires {
			if _, ok := out.nodes[dep]; !ok {
				delete(n.Requires, dep)
			}
		}
	}
	out.relink()
	return out
}

func containsSorted(list []string, v string) bool {
	i := sort.SearchStrings(list, v)
	return i < len(list) && list[i] == v
}
