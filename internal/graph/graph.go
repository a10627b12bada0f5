// File: internal/graph/graph.go
// Brief: Directed stack dependency graph (requires / required_by edges).

package graph

import (
	"encoding/json"
	"sort"
)

// Node is a single stack (or target) in the graph. Requires holds the names
// this node depends on; RequiredBy is the transpose and is maintained by the
// graph itself.
type Node struct {
	Name       string
	Requires   map[string]struct{}
	RequiredBy map[string]struct{}

	// Meta is opaque to the graph (stack definition, locked/enabled flags, ...).
	Meta any
}

// Graph maps node name -> node. Names are case-sensitive and unique.
//
// A Graph is not safe for concurrent mutation; readers may share it freely
// while nobody mutates it.
type Graph struct {
	nodes map[string]*Node
}

func New() *Graph {
	return &Graph{nodes: map[string]*Node{}}
}

func newNode(name string) *Node {
	return &Node{
		Name:       name,
		Requires:   map[string]struct{}{},
		RequiredBy: map[string]struct{}{},
	}
}

// AddNode adds a node with the given dependencies. Dependencies are recorded
// as declared and validated lazily (Validate / Levels), which keeps batch
// construction order-independent.
func (g *Graph) AddNode(name string, requires ...string) error {
	if _, ok := g.nodes[name]; ok {
		return &DuplicateNodeError{Name: name}
	}
	n := newNode(name)
	g.nodes[name] = n
	for _, dep := range requires {
		n.Requires[dep] = struct{}{}
	}
	g.relink()
	return nil
}

// AddNodeIfNotExists is AddNode that tolerates an existing node. Dependencies
// that do not exist yet or that would introduce a cycle are dropped.
func (g *Graph) AddNodeIfNotExists(name string, requires ...string) {
	if _, ok := g.nodes[name]; ok {
		return
	}
	g.nodes[name] = newNode(name)
	for _, dep := range requires {
		_ = g.Connect(name, dep)
	}
}

// SetMeta attaches opaque metadata to an existing node.
func (g *Graph) SetMeta(name string, meta any) {
	if n, ok := g.nodes[name]; ok {
		n.Meta = meta
	}
}

// Meta returns the metadata for name, or nil.
func (g *Graph) Meta(name string) any {
	if n, ok := g.nodes[name]; ok {
		return n.Meta
	}
	return nil
}

// Connect adds the edge "node requires dep". Both nodes must exist and the
// edge must not close a cycle.
func (g *Graph) Connect(node, dep string) error {
	n, ok := g.nodes[node]
	if !ok {
		return &MissingNodeError{Node: node, Dependency: dep, Missing: node}
	}
	d, ok := g.nodes[dep]
	if !ok {
		return &MissingNodeError{Node: node, Dependency: dep, Missing: dep}
	}
	if _, ok := n.Requires[dep]; ok {
		return nil
	}
	if node == dep {
		return &CyclicGraphError{Cycle: []string{node, node}}
	}
	// dep reaching node through requires edges means node -> dep closes a loop.
	if path := g.requiresPath(dep, node); path != nil {
		cycle := append([]string{node}, path...)
		return &CyclicGraphError{Cycle: cycle}
	}
	n.Requires[dep] = struct{}{}
	d.RequiredBy[node] = struct{}{}
	return nil
}

// requiresPath returns the requires-path from -> ... -> to, or nil.
func (g *Graph) requiresPath(from, to string) []string {
	seen := map[string]bool{}
	var path []string
	var dfs func(string) bool
	dfs = func(cur string) bool {
		path = append(path, cur)
		if cur == to {
			return true
		}
		seen[cur] = true
		if n, ok := g.nodes[cur]; ok {
			for _, next := range sortedKeys(n.Requires) {
				if seen[next] {
					continue
				}
				if dfs(next) {
					return true
				}
			}
		}
		path = path[:len(path)-1]
		return false
	}
	if dfs(from) {
		return path
	}
	return nil
}

// RemoveNode deletes name and every edge that touches it.
func (g *Graph) RemoveNode(name string) {
	n, ok := g.nodes[name]
	if !ok {
		return
	}
	for dep := range n.Requires {
		if d, ok := g.nodes[dep]; ok {
			delete(d.RequiredBy, name)
		}
	}
	for parent := range n.RequiredBy {
		if p, ok := g.nodes[parent]; ok {
			delete(p.Requires, name)
		}
	}
	delete(g.nodes, name)
}

// relink recomputes RequiredBy from Requires for every resolvable edge.
func (g *Graph) relink() {
	for _, n := range g.nodes {
		n.RequiredBy = map[string]struct{}{}
	}
	for name, n := range g.nodes {
		for dep := range n.Requires {
			if d, ok := g.nodes[dep]; ok {
				d.RequiredBy[name] = struct{}{}
			}
		}
	}
}

func (g *Graph) Len() int { return len(g.nodes) }

func (g *Graph) Has(name string) bool {
	_, ok := g.nodes[name]
	return ok
}

// Names returns every node name, sorted.
func (g *Graph) Names() []string {
	out := make([]string, 0, len(g.nodes))
	for name := range g.nodes {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Requires returns the direct dependencies of name, sorted.
func (g *Graph) Requires(name string) []string {
	if n, ok := g.nodes[name]; ok {
		return sortedKeys(n.Requires)
	}
	return nil
}

// RequiredBy returns the direct dependents of name, sorted.
func (g *Graph) RequiredBy(name string) []string {
	if n, ok := g.nodes[name]; ok {
		return sortedKeys(n.RequiredBy)
	}
	return nil
}

// Edges returns every (node, dependency) pair, sorted.
func (g *Graph) Edges() [][2]string {
	var edges [][2]string
	for _, name := range g.Names() {
		for _, dep := range sortedKeys(g.nodes[name].Requires) {
			edges = append(edges, [2]string{name, dep})
		}
	}
	return edges
}

// Validate checks that every edge resolves and the graph is acyclic.
func (g *Graph) Validate() error {
	for _, name := range g.Names() {
		for _, dep := range sortedKeys(g.nodes[name].Requires) {
			if _, ok := g.nodes[dep]; !ok {
				return &MissingNodeError{Node: name, Dependency: dep, Missing: dep}
			}
		}
	}
	_, err := g.Levels()
	return err
}

// ToDict returns name -> sorted requires. Empty graphs yield an empty map.
func (g *Graph) ToDict() map[string][]string {
	out := make(map[string][]string, len(g.nodes))
	for name, n := range g.nodes {
		reqs := sortedKeys(n.Requires)
		if reqs == nil {
			reqs = []string{}
		}
		out[name] = reqs
	}
	return out
}

// FromDict builds a graph from a name -> requires mapping. Dependencies that
// are not themselves keys are reported as MissingNodeError.
func FromDict(m map[string][]string) (*Graph, error) {
	g := New()
	names := make([]string, 0, len(m))
	for name := range m {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		g.nodes[name] = newNode(name)
	}
	for _, name := range names {
		for _, dep := range m[name] {
			g.nodes[name].Requires[dep] = struct{}{}
		}
	}
	g.relink()
	if err := g.Validate(); err != nil {
		return nil, err
	}
	return g, nil
}

// MarshalJSON writes the dict form; encoding/json sorts map keys so the
// output is stable for storage diffing.
func (g *Graph) MarshalJSON() ([]byte, error) {
	return json.Marshal(g.ToDict())
}

func (g *Graph) UnmarshalJSON(b []byte) error {
	var m map[string][]string
	if err := json.Unmarshal(b, &m); err != nil {
		return err
	}
	parsed, err := FromDict(m)
	if err != nil {
		return err
	}
	*g = *parsed
	return nil
}

// Clone returns a structural copy. Meta values are shared.
func (g *Graph) Clone() *Graph {
	out := New()
	for name, n := range g.nodes {
		c := newNode(name)
		c.Meta = n.Meta
		for dep := range n.Requires {
			c.Requires[dep] = struct{}{}
		}
		out.nodes[name] = c
	}
	out.relink()
	return out
}

func sortedKeys(m map[string]struct{}) []string {
	if len(m) == 0 {
		return nil
	}
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
