// File: internal/graph/dag.go
// Brief: Kahn levels, topological order and cycle extraction.

package graph

import (
	"sort"
)

// Levels partitions the graph into waves: level 0 holds nodes without
// dependencies, level N holds nodes whose dependencies all live in levels < N.
// Each level is sorted by name. A cyclic graph yields a CyclicGraphError and no
// partial order.
func (g *Graph) Levels() ([][]string, error) {
	inDegree := make(map[string]int, len(g.nodes))
	for name, n := range g.nodes {
		count := 0
		for dep := range n.Requires {
			if _, ok := g.nodes[dep]; !ok {
				return nil, &MissingNodeError{Node: name, Dependency: dep, Missing: dep}
			}
			count++
		}
		inDegree[name] = count
	}

	var ready []string
	for name, deg := range inDegree {
		if deg == 0 {
			ready = append(ready, name)
		}
	}
	sort.Strings(ready)

	var levels [][]string
	assigned := 0
	for len(ready) > 0 {
		wave := append([]string(nil), ready...)
		ready = ready[:0]
		levels = append(levels, wave)
		assigned += len(wave)
		for _, name := range wave {
			for parent := range g.nodes[name].RequiredBy {
				inDegree[parent]--
				if inDegree[parent] == 0 {
					ready = append(ready, parent)
				}
			}
		}
		sort.Strings(ready)
	}
	if assigned != len(g.nodes) {
		var stuck []string
		for name, deg := range inDegree {
			if deg > 0 {
				stuck = append(stuck, name)
			}
		}
		sort.Strings(stuck)
		return nil, &CyclicGraphError{Cycle: g.findCyclePath(stuck)}
	}
	return levels, nil
}

// TopologicalOrder flattens Levels: dependencies always precede dependents.
func (g *Graph) TopologicalOrder() ([]string, error) {
	levels, err := g.Levels()
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(g.nodes))
	for _, lvl := range levels {
		out = append(out, lvl...)
	}
	return out, nil
}

// findCyclePath walks requires edges among stuck nodes until it revisits a
// node on the current path. The returned slice closes on itself
// (first == last).
func (g *Graph) findCyclePath(stuck []string) []string {
	stuckSet := map[string]struct{}{}
	for _, name := range stuck {
		stuckSet[name] = struct{}{}
	}
	vis := map[string]bool{}
	onStack := map[string]bool{}
	var stack []string
	var cycle []string
	var dfs func(string) bool
	dfs = func(name string) bool {
		vis[name] = true
		onStack[name] = true
		stack = append(stack, name)
		for _, dep := range sortedKeys(g.nodes[name].Requires) {
			if _, ok := stuckSet[dep]; !ok {
				continue
			}
			if !vis[dep] {
				if dfs(dep) {
					return true
				}
				continue
			}
			if onStack[dep] {
				for i := range stack {
					if stack[i] == dep {
						cycle = append([]string(nil), stack[i:]...)
						break
					}
				}
				cycle = append(cycle, dep)
				return true
			}
		}
		onStack[name] = false
		stack = stack[:len(stack)-1]
		return false
	}
	for _, name := range stuck {
		if vis[name] {
			continue
		}
		if dfs(name) {
			return cycle
		}
	}
	// Stuck nodes that only depend on a cycle without being part of it are
	// not reported; fall back to the stuck set.
	return stuck
}
