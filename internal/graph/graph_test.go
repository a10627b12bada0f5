package graph

import (
	"encoding/json"
	"errors"
	"reflect"
	"strings"
	"testing"
)

func mustGraph(t *testing.T, m map[string][]string) *Graph {
	t.Helper()
	g, err := FromDict(m)
	if err != nil {
		t.Fatalf("from dict: %v", err)
	}
	return g
}

func TestLevels_DependenciesPrecedeDependents(t *testing.T) {
	g := mustGraph(t, map[string][]string{
		"vpc":     {},
		"bastion": {"vpc"},
		"db":      {"vpc"},
		"app":     {"db", "bastion"},
		"dns":     {},
	})
	levels, err := g.Levels()
	if err != nil {
		t.Fatalf("levels: %v", err)
	}
	want := [][]string{{"dns", "vpc"}, {"bastion", "db"}, {"app"}}
	if !reflect.DeepEqual(levels, want) {
		t.Fatalf("levels=%v want=%v", levels, want)
	}

	levelOf := map[string]int{}
	for i, lvl := range levels {
		for _, name := range lvl {
			levelOf[name] = i
		}
	}
	for _, e := range g.Edges() {
		if levelOf[e[1]] >= levelOf[e[0]] {
			t.Fatalf("edge %s requires %s but levels are %d >= %d", e[0], e[1], levelOf[e[1]], levelOf[e[0]])
		}
	}
}

func TestLevels_CycleFailsWithoutPartialOrder(t *testing.T) {
	g := New()
	if err := g.AddNode("a", "b"); err != nil {
		t.Fatalf("add a: %v", err)
	}
	if err := g.AddNode("b", "c"); err != nil {
		t.Fatalf("add b: %v", err)
	}
	if err := g.AddNode("c", "a"); err != nil {
		t.Fatalf("add c: %v", err)
	}
	if err := g.AddNode("free"); err != nil {
		t.Fatalf("add free: %v", err)
	}
	levels, err := g.Levels()
	if levels != nil {
		t.Fatalf("expected no levels, got %v", levels)
	}
	var cyc *CyclicGraphError
	if !errors.As(err, &cyc) {
		t.Fatalf("expected CyclicGraphError, got %v", err)
	}
	if len(cyc.Cycle) != 4 || cyc.Cycle[0] != cyc.Cycle[len(cyc.Cycle)-1] {
		t.Fatalf("unexpected cycle path %v", cyc.Cycle)
	}
	if !strings.Contains(err.Error(), "->") {
		t.Fatalf("expected arrows in error: %v", err)
	}
	if _, err := g.TopologicalOrder(); err == nil {
		t.Fatalf("expected topological order to fail")
	}
}

func TestAddNode_Duplicate(t *testing.T) {
	g := New()
	if err := g.AddNode("a"); err != nil {
		t.Fatalf("add: %v", err)
	}
	var dup *DuplicateNodeError
	if err := g.AddNode("a"); !errors.As(err, &dup) || dup.Name != "a" {
		t.Fatalf("expected duplicate error, got %v", err)
	}
	g.AddNodeIfNotExists("a", "missing")
	if got := g.Requires("a"); len(got) != 0 {
		t.Fatalf("existing node mutated: %v", got)
	}
}

func TestConnect(t *testing.T) {
	g := New()
	_ = g.AddNode("a")
	_ = g.AddNode("b")
	if err := g.Connect("b", "a"); err != nil {
		t.Fatalf("connect: %v", err)
	}
	var missing *MissingNodeError
	if err := g.Connect("b", "zzz"); !errors.As(err, &missing) || missing.Dependency != "zzz" {
		t.Fatalf("expected missing node error, got %v", err)
	}
	var cyc *CyclicGraphError
	if err := g.Connect("a", "b"); !errors.As(err, &cyc) {
		t.Fatalf("expected cycle error, got %v", err)
	}
	if err := g.Connect("a", "a"); !errors.As(err, &cyc) {
		t.Fatalf("expected self-cycle error, got %v", err)
	}
	if got := g.RequiredBy("a"); !reflect.DeepEqual(got, []string{"b"}) {
		t.Fatalf("required_by(a)=%v", got)
	}
}

func TestValidate_MissingDependency(t *testing.T) {
	g := New()
	_ = g.AddNode("app", "db")
	var missing *MissingNodeError
	if err := g.Validate(); !errors.As(err, &missing) || missing.Node != "app" || missing.Dependency != "db" {
		t.Fatalf("expected missing db, got %v", err)
	}
	if _, err := FromDict(map[string][]string{"app": {"db"}}); !errors.As(err, &missing) {
		t.Fatalf("expected FromDict to fail, got %v", err)
	}
}

func TestRemoveNode(t *testing.T) {
	g := mustGraph(t, map[string][]string{"a": {}, "b": {"a"}, "c": {"b"}})
	g.RemoveNode("b")
	if g.Has("b") {
		t.Fatalf("b still present")
	}
	if got := g.Requires("c"); len(got) != 0 {
		t.Fatalf("dangling edge on c: %v", got)
	}
	if got := g.RequiredBy("a"); len(got) != 0 {
		t.Fatalf("dangling edge on a: %v", got)
	}
	g.RemoveNode("nope")
}

func TestDictRoundTrip(t *testing.T) {
	in := map[string][]string{
		"stack1": {},
		"stack2": {"stack1"},
		"stack3": {"stack1", "stack2"},
	}
	g := mustGraph(t, in)
	if got := g.ToDict(); !reflect.DeepEqual(got, in) {
		t.Fatalf("to_dict=%v want=%v", got, in)
	}

	raw, err := json.Marshal(g)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	want := `{"stack1":[],"stack2":["stack1"],"stack3":["stack1","stack2"]}`
	if string(raw) != want {
		t.Fatalf("json=%s want=%s", raw, want)
	}
	var back Graph
	if err := json.Unmarshal(raw, &back); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if !reflect.DeepEqual(back.ToDict(), in) {
		t.Fatalf("round trip mismatch: %v", back.ToDict())
	}

	empty, err := json.Marshal(New())
	if err != nil || string(empty) != "{}" {
		t.Fatalf("empty graph json=%s err=%v", empty, err)
	}
}

func TestTransitiveClosures(t *testing.T) {
	g := mustGraph(t, map[string][]string{"a": {}, "b": {"a"}, "c": {"b"}, "d": {}})
	if got := g.TransitiveDependencies("c"); !reflect.DeepEqual(got, []string{"a", "b"}) {
		t.Fatalf("deps(c)=%v", got)
	}
	if got := g.TransitiveDependents("a"); !reflect.DeepEqual(got, []string{"b", "c"}) {
		t.Fatalf("dependents(a)=%v", got)
	}
	if got := g.TransitiveDependencies("d"); len(got) != 0 {
		t.Fatalf("deps(d)=%v", got)
	}
}

func TestTransposed(t *testing.T) {
	g := mustGraph(t, map[string][]string{"stack1": {}, "stack2": {"stack1"}})
	order, err := g.Transposed().TopologicalOrder()
	if err != nil {
		t.Fatalf("order: %v", err)
	}
	if !reflect.DeepEqual(order, []string{"stack2", "stack1"}) {
		t.Fatalf("transposed order=%v", order)
	}
	if got := g.Requires("stack2"); !reflect.DeepEqual(got, []string{"stack1"}) {
		t.Fatalf("original mutated: %v", got)
	}
}

func TestFiltered(t *testing.T) {
	g := mustGraph(t, map[string][]string{"a": {}, "b": {"a"}, "c": {"b"}, "d": {"a"}})
	f := g.Filtered([]string{"b", "unknown"})
	if got := f.Names(); !reflect.DeepEqual(got, []string{"a", "b"}) {
		t.Fatalf("filtered names=%v", got)
	}
	if got := f.RequiredBy("a"); !reflect.DeepEqual(got, []string{"b"}) {
		t.Fatalf("filtered required_by(a)=%v", got)
	}
}

func TestTransitiveReduction(t *testing.T) {
	g := mustGraph(t, map[string][]string{"a": {}, "b": {"a"}, "c": {"a", "b"}})
	r := g.TransitiveReduction()
	if got := r.Requires("c"); !reflect.DeepEqual(got, []string{"b"}) {
		t.Fatalf("reduced requires(c)=%v", got)
	}
	if got := r.TransitiveDependencies("c"); !reflect.DeepEqual(got, []string{"a", "b"}) {
		t.Fatalf("reachability changed: %v", got)
	}
}

func TestMerge_OtherWins(t *testing.T) {
	a := mustGraph(t, map[string][]string{"x": {}, "y": {"x"}})
	b := mustGraph(t, map[string][]string{"y": {}, "z": {"y"}})
	m := a.Merge(b)
	want := map[string][]string{"x": {}, "y": {}, "z": {"y"}}
	if got := m.ToDict(); !reflect.DeepEqual(got, want) {
		t.Fatalf("merged=%v want=%v", got, want)
	}
}

func TestWriteDOTAndMermaid(t *testing.T) {
	g := mustGraph(t, map[string][]string{"vpc": {}, "app-1": {"vpc"}})
	var dot strings.Builder
	if err := g.WriteDOT(&dot); err != nil {
		t.Fatalf("dot: %v", err)
	}
	if !strings.Contains(dot.String(), `"vpc" -> "app-1"`) {
		t.Fatalf("dot output missing edge:\n%s", dot.String())
	}
	var mm strings.Builder
	if err := g.WriteMermaid(&mm); err != nil {
		t.Fatalf("mermaid: %v", err)
	}
	if !strings.Contains(mm.String(), "vpc --> app_1") {
		t.Fatalf("mermaid output missing edge:\n%s", mm.String())
	}
}
