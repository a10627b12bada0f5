package stackcontext

import (
	"context"
	"errors"
	"reflect"
	"testing"

	"github.com/go-logr/logr"

	"github.com/example/stackctl/internal/config"
	"github.com/example/stackctl/internal/graph"
	"github.com/example/stackctl/internal/lookup"
	"github.com/example/stackctl/internal/persistgraph"
)

func mustConfig(t *testing.T, raw string) *config.Config {
	t.Helper()
	cfg, err := config.Parse([]byte(raw))
	if err != nil {
		t.Fatalf("parse config: %v", err)
	}
	return cfg
}

const baseConfig = `
namespace: My.Team
persistent_graph_key: test
stacks:
  - name: vpc
  - name: db
    parameters:
      VpcId: ${output vpc::VpcId}
  - name: app
    requires: [db]
  - name: dns
    required_by: [app]
targets:
  - name: all
    requires: [app]
`

func TestFQNAndBucket(t *testing.T) {
	c, err := New(mustConfig(t, baseConfig), Options{ObjectStore: persistgraph.NewMemoryStore(), Logger: logr.Discard()})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if got := c.FQN("vpc"); got != "my-team-vpc" {
		t.Fatalf("fqn=%q", got)
	}
	if got := c.FQN("my-team-vpc"); got != "my-team-vpc" {
		t.Fatalf("already qualified fqn=%q", got)
	}
	if got := c.BucketName(); got != "stacker-my-team" {
		t.Fatalf("bucket=%q", got)
	}
	loc, ok := c.PersistentGraphLocation()
	if !ok || loc.Bucket != "stacker-my-team" || loc.Key != "persistent_graphs/My.Team/test.json" {
		t.Fatalf("location=%+v ok=%v", loc, ok)
	}
	s, _ := c.Stack("vpc")
	if s.FQN != "my-team-vpc" {
		t.Fatalf("stack fqn=%q", s.FQN)
	}
}

func TestBucketDisabled(t *testing.T) {
	c, err := New(mustConfig(t, "namespace: ns\ncfngin_bucket: \"\"\npersistent_graph_key: test\nstacks:\n  - name: a\n"), Options{ObjectStore: persistgraph.NewMemoryStore(), Logger: logr.Discard()})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if c.BucketName() != "" || c.PersistentGraphEnabled() {
		t.Fatalf("expected uploads disabled")
	}
	if !c.Warnings.Seen("persistent-graph-no-bucket") {
		t.Fatalf("expected a warning about the disabled persistent graph")
	}
	g, err := c.PersistentGraph(context.Background())
	if g != nil || err != nil {
		t.Fatalf("expected nil graph, got %v %v", g, err)
	}
	if err := c.LockPersistentGraph(context.Background(), "x"); err != nil {
		t.Fatalf("lock should be a no-op: %v", err)
	}
}

func TestGraph(t *testing.T) {
	c, err := New(mustConfig(t, baseConfig), Options{Logger: logr.Discard()})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	g, err := c.Graph()
	if err != nil {
		t.Fatalf("graph: %v", err)
	}
	want := map[string][]string{
		"all": {"app"},
		"app": {"db", "dns"},
		"db":  {"vpc"},
		"dns": {},
		"vpc": {},
	}
	if got := g.ToDict(); !reflect.DeepEqual(got, want) {
		t.Fatalf("graph=%v", got)
	}
	if _, ok := g.Meta("vpc").(*Stack); !ok {
		t.Fatalf("expected stack metadata on vpc")
	}
}

func TestGraph_UnknownDependency(t *testing.T) {
	c, err := New(mustConfig(t, "namespace: ns\nstacks:\n  - name: a\n    requires: [ghost]\n"), Options{Logger: logr.Discard()})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	var missing *graph.MissingNodeError
	if _, err := c.Graph(); !errors.As(err, &missing) || missing.Dependency != "ghost" {
		t.Fatalf("expected missing node error, got %v", err)
	}
}

func TestPersistentGraphSession(t *testing.T) {
	ctx := context.Background()
	objects := persistgraph.NewMemoryStore()
	c, err := New(mustConfig(t, baseConfig), Options{ObjectStore: objects, Logger: logr.Discard()})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	pg, err := c.PersistentGraph(ctx)
	if err != nil || pg.Len() != 0 {
		t.Fatalf("initial graph=%v err=%v", pg, err)
	}
	if err := c.LockPersistentGraph(ctx, "code"); err != nil {
		t.Fatalf("lock: %v", err)
	}
	if err := pg.AddNode("vpc"); err != nil {
		t.Fatalf("add: %v", err)
	}
	if err := c.PutPersistentGraph(ctx, "code"); err != nil {
		t.Fatalf("put: %v", err)
	}
	if err := c.UnlockPersistentGraph(ctx, "code"); err != nil {
		t.Fatalf("unlock: %v", err)
	}

	again, err := New(mustConfig(t, baseConfig), Options{ObjectStore: objects, Logger: logr.Discard()})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	got, err := again.PersistentGraph(ctx)
	if err != nil || !got.Has("vpc") {
		t.Fatalf("reloaded graph=%v err=%v", got, err)
	}
}

func TestWarnOnce(t *testing.T) {
	w := NewWarnings(logr.Discard())
	if !w.Warn("k", "first") || w.Warn("k", "second") {
		t.Fatalf("expected exactly one warning for key")
	}
}

func TestResolverHandlers(t *testing.T) {
	extra := lookup.ResolverFunc(func(_ context.Context, q string) (string, error) { return "x-" + q, nil })
	c, err := New(mustConfig(t, baseConfig), Options{
		Environment: map[string]string{"Size": "small"},
		Lookups:     map[string]lookup.Resolver{"static": extra},
		Logger:      logr.Discard(),
	})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	r := c.Resolver(nil)
	if got := r.Handlers(); !reflect.DeepEqual(got, []string{"env", "hook_data", "static"}) {
		t.Fatalf("handlers=%v", got)
	}
	got, err := r.Resolve(context.Background(), "${env Size}/${static y}")
	if err != nil || got != "small/x-y" {
		t.Fatalf("got %q err=%v", got, err)
	}

	if _, err := r.Resolve(context.Background(), "${hook_data lambda::Key}"); err == nil {
		t.Fatalf("expected error before any hook stored data")
	}
	c.SetHookData("lambda", map[string]any{"Key": "code/app.zip", "Size": float64(42)})
	got, err = c.Resolver(nil).Resolve(context.Background(), "s3://bucket/${hook_data lambda::Key}?${hook_data lambda::Size}")
	if err != nil || got != "s3://bucket/code/app.zip?42" {
		t.Fatalf("hook data got %q err=%v", got, err)
	}
}
