package action

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"slices"
	"strings"
	"testing"

	"github.com/go-logr/logr"

	"github.com/example/stackctl/internal/config"
	"github.com/example/stackctl/internal/graph"
	"github.com/example/stackctl/internal/hooks"
	"github.com/example/stackctl/internal/persistgraph"
	"github.com/example/stackctl/internal/plan"
	"github.com/example/stackctl/internal/stackcontext"
)

const testConfig = `
namespace: test
persistent_graph_key: graph
stacks:
  - name: vpc
    parameters:
      Cidr: 10.0.0.0/16
  - name: app
    parameters:
      VpcId: ${output vpc::VpcId}
`

var testLocation = persistgraph.Location{Bucket: "stacker-test", Key: "persistent_graphs/test/graph.json"}

func newContext(t *testing.T, raw string, objects persistgraph.ObjectStore, mutate ...func(*stackcontext.Options)) *stackcontext.Context {
	t.Helper()
	cfg, err := config.Parse([]byte(raw))
	if err != nil {
		t.Fatalf("parse config: %v", err)
	}
	opts := stackcontext.Options{ObjectStore: objects, Logger: logr.Discard()}
	for _, m := range mutate {
		m(&opts)
	}
	sc, err := stackcontext.New(cfg, opts)
	if err != nil {
		t.Fatalf("new context: %v", err)
	}
	return sc
}

func testOptions(p *fakeProvider, out *bytes.Buffer) Options {
	return Options{Provider: p, Logger: logr.Discard(), Out: out}
}

func persisted(t *testing.T, objects persistgraph.ObjectStore) *persistgraph.Store {
	t.Helper()
	return persistgraph.New(objects, testLocation, logr.Discard())
}

func seedGraph(t *testing.T, objects persistgraph.ObjectStore, dict map[string][]string) {
	t.Helper()
	ctx := context.Background()
	g, err := graph.FromDict(dict)
	if err != nil {
		t.Fatalf("seed graph: %v", err)
	}
	store := persisted(t, objects)
	if err := store.Ensure(ctx); err != nil {
		t.Fatalf("ensure: %v", err)
	}
	if err := store.Lock(ctx, "seed"); err != nil {
		t.Fatalf("lock: %v", err)
	}
	if err := store.Put(ctx, g, "seed"); err != nil {
		t.Fatalf("put: %v", err)
	}
	if err := store.Unlock(ctx, "seed"); err != nil {
		t.Fatalf("unlock: %v", err)
	}
}

func indexOf(list []string, v string) int { return slices.Index(list, v) }

func TestBuild_CreatesInOrderAndRecordsGraph(t *testing.T) {
	ctx := context.Background()
	objects := persistgraph.NewMemoryStore()
	p := newFakeProvider()
	p.outputs["test-vpc"] = map[string]string{"VpcId": "vpc-123"}

	summary, err := Build(ctx, newContext(t, testConfig, objects), testOptions(p, &bytes.Buffer{}))
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if summary.Totals.Complete != 2 {
		t.Fatalf("totals=%+v", summary.Totals)
	}
	if got := p.callList(); !reflect.DeepEqual(got, []string{"create:test-vpc", "create:test-app"}) {
		t.Fatalf("calls=%v", got)
	}
	if got := p.stacks["test-app"].Parameters["VpcId"]; got != "vpc-123" {
		t.Fatalf("app VpcId=%q", got)
	}

	store := persisted(t, objects)
	g, err := store.Fetch(ctx)
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if want := map[string][]string{"app": {"vpc"}, "vpc": {}}; !reflect.DeepEqual(g.ToDict(), want) {
		t.Fatalf("persistent graph=%v", g.ToDict())
	}
	if locked, err := store.Locked(ctx); err != nil || locked {
		t.Fatalf("expected graph unlocked after build, locked=%v err=%v", locked, err)
	}

	// A second run changes nothing.
	summary, err = Build(ctx, newContext(t, testConfig, objects), testOptions(p, &bytes.Buffer{}))
	if err != nil {
		t.Fatalf("rebuild: %v", err)
	}
	if summary.Nodes["vpc"].Reason != plan.ReasonNoChange || summary.Nodes["app"].Reason != plan.ReasonNoChange {
		t.Fatalf("nodes=%+v", summary.Nodes)
	}
	if len(p.callList()) != 2 {
		t.Fatalf("unexpected provider calls: %v", p.callList())
	}
}

func TestBuild_FailureSkipsDependentAndUnlocks(t *testing.T) {
	ctx := context.Background()
	objects := persistgraph.NewMemoryStore()
	p := newFakeProvider()
	p.failCreate["test-vpc"] = errors.New("boom")

	summary, err := Build(ctx, newContext(t, testConfig, objects), testOptions(p, &bytes.Buffer{}))
	var fe *plan.FailedError
	if !errors.As(err, &fe) {
		t.Fatalf("expected FailedError, got %v", err)
	}
	if len(fe.Failed) != 1 || fe.Failed[0].Name != "vpc" || len(fe.Skipped) != 1 || fe.Skipped[0].Name != "app" {
		t.Fatalf("failed=%+v skipped=%+v", fe.Failed, fe.Skipped)
	}
	if summary.Nodes["app"].Reason != plan.ReasonDependencyFailed {
		t.Fatalf("app=%+v", summary.Nodes["app"])
	}
	if locked, err := persisted(t, objects).Locked(ctx); err != nil || locked {
		t.Fatalf("expected graph unlocked after failure, locked=%v err=%v", locked, err)
	}
}

func TestBuild_LockedStacks(t *testing.T) {
	ctx := context.Background()
	raw := "namespace: test\nstacks:\n  - name: app\n    locked: true\n    parameters:\n      Size: large\n"
	p := newFakeProvider()
	p.deploy("test-app", "CREATE_COMPLETE", map[string]string{"Size": "small"})

	summary, err := Build(ctx, newContext(t, raw, nil), testOptions(p, &bytes.Buffer{}))
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if summary.Nodes["app"].Reason != plan.ReasonLocked || len(p.callList()) != 0 {
		t.Fatalf("node=%+v calls=%v", summary.Nodes["app"], p.callList())
	}

	forced := newContext(t, raw, nil, func(o *stackcontext.Options) { o.ForceStacks = []string{"app"} })
	summary, err = Build(ctx, forced, testOptions(p, &bytes.Buffer{}))
	if err != nil {
		t.Fatalf("forced build: %v", err)
	}
	if summary.Nodes["app"].Status != "complete" || !reflect.DeepEqual(p.callList(), []string{"update:test-app"}) {
		t.Fatalf("node=%+v calls=%v", summary.Nodes["app"], p.callList())
	}
}

func TestBuild_DisabledStackIsSkipped(t *testing.T) {
	raw := "namespace: test\nstacks:\n  - name: app\n    enabled: false\n"
	p := newFakeProvider()
	summary, err := Build(context.Background(), newContext(t, raw, nil), testOptions(p, &bytes.Buffer{}))
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if summary.Nodes["app"].Reason != plan.ReasonDisabled || len(p.callList()) != 0 {
		t.Fatalf("node=%+v calls=%v", summary.Nodes["app"], p.callList())
	}
}

func TestBuild_WaitsForInProgressStack(t *testing.T) {
	raw := "namespace: test\nstacks:\n  - name: vpc\n    in_progress_behavior: wait\n    parameters:\n      Cidr: 10.0.0.0/16\n"
	p := newFakeProvider()
	p.deploy("test-vpc", "UPDATE_COMPLETE", map[string]string{"Cidr": "10.1.0.0/16"})
	p.script["test-vpc"] = []string{"UPDATE_IN_PROGRESS", "UPDATE_IN_PROGRESS"}

	summary, err := Build(context.Background(), newContext(t, raw, nil), testOptions(p, &bytes.Buffer{}))
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	node := summary.Nodes["vpc"]
	if node.Status != "complete" || node.Reason != reasonUpdating || node.Attempts != 4 {
		t.Fatalf("node=%+v", node)
	}

	noWait := "namespace: test\nstacks:\n  - name: vpc\n    parameters:\n      Cidr: 10.2.0.0/16\n"
	p.script["test-vpc"] = []string{"UPDATE_IN_PROGRESS"}
	_, err = Build(context.Background(), newContext(t, noWait, nil), testOptions(p, &bytes.Buffer{}))
	var fe *plan.FailedError
	if !errors.As(err, &fe) || !strings.Contains(fe.Failed[0].Reason, "UPDATE_IN_PROGRESS") {
		t.Fatalf("expected in-progress failure, got %v", err)
	}
}

func TestBuild_RollbackFails(t *testing.T) {
	raw := "namespace: test\nstacks:\n  - name: vpc\n"
	p := newFakeProvider()
	p.script["test-vpc"] = []string{"ROLLBACK_IN_PROGRESS", "ROLLBACK_COMPLETE"}

	summary, err := Build(context.Background(), newContext(t, raw, nil), testOptions(p, &bytes.Buffer{}))
	var fe *plan.FailedError
	if !errors.As(err, &fe) {
		t.Fatalf("expected FailedError, got %v", err)
	}
	if got := summary.Nodes["vpc"].Reason; got != "rolled back new stack" {
		t.Fatalf("reason=%q", got)
	}
}

func TestBuild_DestroysStacksRemovedFromConfig(t *testing.T) {
	ctx := context.Background()
	objects := persistgraph.NewMemoryStore()
	seedGraph(t, objects, map[string][]string{
		"vpc":     {},
		"legacy":  {"vpc"},
		"legacy2": {"legacy"},
	})
	p := newFakeProvider()
	p.outputs["test-vpc"] = map[string]string{"VpcId": "vpc-123"}
	p.deploy("test-legacy", "CREATE_COMPLETE", nil)
	p.deploy("test-legacy2", "CREATE_COMPLETE", nil)

	if _, err := Build(ctx, newContext(t, testConfig, objects), testOptions(p, &bytes.Buffer{})); err != nil {
		t.Fatalf("build: %v", err)
	}
	calls := p.callList()
	i2, i1 := indexOf(calls, "destroy:test-legacy2"), indexOf(calls, "destroy:test-legacy")
	if i2 < 0 || i1 < 0 || i2 > i1 {
		t.Fatalf("expected legacy2 destroyed before legacy, calls=%v", calls)
	}
	g, err := persisted(t, objects).Fetch(ctx)
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if want := map[string][]string{"app": {"vpc"}, "vpc": {}}; !reflect.DeepEqual(g.ToDict(), want) {
		t.Fatalf("persistent graph=%v", g.ToDict())
	}
}

func TestBuild_RefusesLockedPersistentGraph(t *testing.T) {
	ctx := context.Background()
	objects := persistgraph.NewMemoryStore()
	store := persisted(t, objects)
	if err := store.Ensure(ctx); err != nil {
		t.Fatalf("ensure: %v", err)
	}
	if err := store.Lock(ctx, "someone-else"); err != nil {
		t.Fatalf("lock: %v", err)
	}
	p := newFakeProvider()
	_, err := Build(ctx, newContext(t, testConfig, objects), testOptions(p, &bytes.Buffer{}))
	if !errors.Is(err, persistgraph.ErrLocked) {
		t.Fatalf("expected ErrLocked, got %v", err)
	}
	if len(p.callList()) != 0 {
		t.Fatalf("provider called despite lock: %v", p.callList())
	}
	if code, _, _ := store.LockCode(ctx); code != "someone-else" {
		t.Fatalf("foreign lock was released: %q", code)
	}
}

func TestDestroy_OutlineWithoutForceThenReverseOrder(t *testing.T) {
	ctx := context.Background()
	objects := persistgraph.NewMemoryStore()
	p := newFakeProvider()
	p.outputs["test-vpc"] = map[string]string{"VpcId": "vpc-123"}
	if _, err := Build(ctx, newContext(t, testConfig, objects), testOptions(p, &bytes.Buffer{})); err != nil {
		t.Fatalf("build: %v", err)
	}
	before := len(p.callList())

	var out bytes.Buffer
	summary, err := Destroy(ctx, newContext(t, testConfig, objects), testOptions(p, &out))
	if err != nil || summary != nil {
		t.Fatalf("outline destroy: summary=%v err=%v", summary, err)
	}
	want := "plan \"Destroy stacks\":\n" +
		"  - step: 1: target: \"app\", action: \"destroy\"\n" +
		"  - step: 2: target: \"vpc\", action: \"destroy\"\n" +
		destroyWarning + "\n"
	if out.String() != want {
		t.Fatalf("outline=\n%s", out.String())
	}
	if len(p.callList()) != before {
		t.Fatalf("outline must not call the provider: %v", p.callList())
	}

	opts := testOptions(p, &bytes.Buffer{})
	opts.Force = true
	summary, err = Destroy(ctx, newContext(t, testConfig, objects), opts)
	if err != nil {
		t.Fatalf("destroy: %v", err)
	}
	if got := p.callList()[before:]; !reflect.DeepEqual(got, []string{"destroy:test-app", "destroy:test-vpc"}) {
		t.Fatalf("destroy calls=%v", got)
	}
	if summary.Nodes["vpc"].Reason != reasonDestroyed {
		t.Fatalf("vpc=%+v", summary.Nodes["vpc"])
	}
	if _, err := objects.GetObject(ctx, testLocation); !errors.Is(err, persistgraph.ErrNotFound) {
		t.Fatalf("expected persistent graph deleted once empty, got %v", err)
	}
}

func TestDestroy_MissingStacksAreSkipped(t *testing.T) {
	opts := testOptions(newFakeProvider(), &bytes.Buffer{})
	opts.Force = true
	summary, err := Destroy(context.Background(), newContext(t, testConfig, nil), opts)
	if err != nil {
		t.Fatalf("destroy: %v", err)
	}
	for _, name := range []string{"app", "vpc"} {
		if summary.Nodes[name].Reason != plan.ReasonDoesNotExist {
			t.Fatalf("%s=%+v", name, summary.Nodes[name])
		}
	}
}

func TestDestroy_TerminationProtection(t *testing.T) {
	ctx := context.Background()
	objects := persistgraph.NewMemoryStore()
	seedGraph(t, objects, map[string][]string{"guarded": {}})
	p := newFakeProvider()
	p.outputs["test-vpc"] = map[string]string{"VpcId": "vpc-123"}
	p.deploy("test-guarded", "CREATE_COMPLETE", nil)
	p.stacks["test-guarded"].TerminationProtection = true

	_, err := Build(ctx, newContext(t, testConfig, objects), testOptions(p, &bytes.Buffer{}))
	var fe *plan.FailedError
	if !errors.As(err, &fe) || fe.Failed[0].Name != "guarded" || !strings.Contains(fe.Failed[0].Reason, "termination protection") {
		t.Fatalf("expected termination protection failure, got %v", err)
	}
	if _, ok := p.stacks["test-guarded"]; !ok {
		t.Fatalf("protected stack was destroyed")
	}
}

func TestDiff_PrintsChangesWithoutMutating(t *testing.T) {
	ctx := context.Background()
	objects := persistgraph.NewMemoryStore()
	p := newFakeProvider()
	p.outputs["test-vpc"] = map[string]string{"VpcId": "vpc-123"}
	p.deploy("test-vpc", "CREATE_COMPLETE", map[string]string{"Cidr": "10.1.0.0/16"})

	var out bytes.Buffer
	summary, err := Diff(ctx, newContext(t, testConfig, objects), testOptions(p, &out))
	if err != nil {
		t.Fatalf("diff: %v", err)
	}
	text := out.String()
	for _, want := range []string{"-Cidr = 10.1.0.0/16", "+Cidr = 10.0.0.0/16", "test-app: new stack", "+VpcId = vpc-123"} {
		if !strings.Contains(text, want) {
			t.Fatalf("diff output missing %q:\n%s", want, text)
		}
	}
	if summary.Nodes["app"].Reason != reasonNewStack {
		t.Fatalf("app=%+v", summary.Nodes["app"])
	}
	if len(p.callList()) != 0 {
		t.Fatalf("diff mutated stacks: %v", p.callList())
	}
	if _, err := objects.GetObject(ctx, testLocation); !errors.Is(err, persistgraph.ErrNotFound) {
		t.Fatalf("diff touched the persistent graph: %v", err)
	}
}

func TestDiffParameters(t *testing.T) {
	if DiffParameters(map[string]string{"a": "1"}, map[string]string{"a": "1"}) != nil {
		t.Fatalf("expected no changes")
	}
	changes := DiffParameters(map[string]string{"a": "1", "b": "2", "c": "3"}, map[string]string{"a": "1", "b": "20", "d": "4"})
	var kinds []ChangeKind
	var lines []string
	for _, c := range changes {
		kinds = append(kinds, c.Kind)
		lines = append(lines, c.Lines()...)
	}
	if !reflect.DeepEqual(kinds, []ChangeKind{Unmodified, Modified, Removed, Added}) {
		t.Fatalf("kinds=%v", kinds)
	}
	want := []string{" a = 1", "-b = 2", "+b = 20", "-c = 3", "+d = 4"}
	if !reflect.DeepEqual(lines, want) {
		t.Fatalf("lines=%v", lines)
	}
}

func TestStackStateClassification(t *testing.T) {
	cases := []struct {
		status                                              string
		inProgress, rollingBack, failed, complete, recreate bool
	}{
		{"CREATE_IN_PROGRESS", true, false, false, false, false},
		{"UPDATE_ROLLBACK_IN_PROGRESS", false, true, false, false, false},
		{"UPDATE_ROLLBACK_COMPLETE", false, false, true, true, false},
		{"ROLLBACK_COMPLETE", false, false, true, false, true},
		{"UPDATE_COMPLETE", false, false, false, true, false},
		{"REVIEW_IN_PROGRESS", false, false, false, false, true},
	}
	for _, tc := range cases {
		s := &StackState{Status: tc.status}
		if s.InProgress() != tc.inProgress || s.RollingBack() != tc.rollingBack || s.Failed() != tc.failed ||
			s.Completed() != tc.complete || s.Recreatable() != tc.recreate {
			t.Fatalf("%s: classification mismatch", tc.status)
		}
	}
	if !(&StackState{Status: "DELETE_IN_PROGRESS"}).BeingDestroyed() || !(&StackState{Status: "DELETE_COMPLETE"}).Destroyed() {
		t.Fatalf("delete statuses misclassified")
	}
}

const hookConfig = `
namespace: test
pre_build:
  - name: package
    command: sh -c 'echo "{\"Key\":\"app-v2.zip\"}"'
    data_key: artifact
post_build:
  - name: announce
    command: sh -c 'echo "$VPC" > announced'
    args:
      VPC: ${output vpc::VpcId}
stacks:
  - name: vpc
  - name: app
    requires: [vpc]
    parameters:
      CodeKey: ${hook_data artifact::Key}
`

func hookOptions(t *testing.T, p *fakeProvider) Options {
	t.Helper()
	opts := testOptions(p, &bytes.Buffer{})
	opts.TemplateRoot = t.TempDir()
	opts.HookEnv = []string{"PATH=" + os.Getenv("PATH")}
	return opts
}

func TestBuild_RunsHooksAroundPlan(t *testing.T) {
	p := newFakeProvider()
	p.outputs["test-vpc"] = map[string]string{"VpcId": "vpc-9"}
	opts := hookOptions(t, p)

	if _, err := Build(context.Background(), newContext(t, hookConfig, nil), opts); err != nil {
		t.Fatalf("build: %v", err)
	}
	if got := p.stacks["test-app"].Parameters["CodeKey"]; got != "app-v2.zip" {
		t.Fatalf("pre_build data not visible to stacks: CodeKey=%q", got)
	}
	raw, err := os.ReadFile(filepath.Join(opts.TemplateRoot, "announced"))
	if err != nil || strings.TrimSpace(string(raw)) != "vpc-9" {
		t.Fatalf("post_build hook did not run with resolved args: %q %v", raw, err)
	}
}

func TestBuild_RequiredPreBuildHookStopsBuild(t *testing.T) {
	raw := strings.Replace(hookConfig, `sh -c 'echo "{\"Key\":\"app-v2.zip\"}"'`, `sh -c 'exit 4'`, 1)
	p := newFakeProvider()
	_, err := Build(context.Background(), newContext(t, raw, nil), hookOptions(t, p))
	var he *hooks.HookError
	if !errors.As(err, &he) || he.Stage != hooks.PreBuild {
		t.Fatalf("expected pre_build hook error, got %v", err)
	}
	if calls := p.callList(); len(calls) != 0 {
		t.Fatalf("stacks launched after failed hook: %v", calls)
	}
}

func TestBuild_OutlineSkipsHooks(t *testing.T) {
	p := newFakeProvider()
	opts := hookOptions(t, p)
	opts.Outline = true
	if _, err := Build(context.Background(), newContext(t, hookConfig, nil), opts); err != nil {
		t.Fatalf("outline: %v", err)
	}
	if _, err := os.Stat(filepath.Join(opts.TemplateRoot, "announced")); !os.IsNotExist(err) {
		t.Fatalf("outline ran post_build hooks")
	}
}

func TestInfo(t *testing.T) {
	p := newFakeProvider()
	p.outputs["test-vpc"] = map[string]string{"VpcId": "vpc-1", "Cidr": "10.0.0.0/16"}
	p.deploy("test-vpc", "UPDATE_COMPLETE", nil)
	sc := newContext(t, testConfig, nil)

	infos, err := Info(context.Background(), sc, testOptions(p, &bytes.Buffer{}))
	if err != nil {
		t.Fatalf("info: %v", err)
	}
	if len(infos) != 2 || !infos[0].Exists || infos[1].Exists {
		t.Fatalf("infos=%+v", infos)
	}
	if infos[0].Status != "UPDATE_COMPLETE" || infos[0].Outputs["VpcId"] != "vpc-1" {
		t.Fatalf("vpc info=%+v", infos[0])
	}

	var out bytes.Buffer
	if err := PrintInfo(&out, infos); err != nil {
		t.Fatalf("print: %v", err)
	}
	text := out.String()
	if !strings.Contains(text, "app:") || !strings.Contains(text, "NOT DEPLOYED") {
		t.Fatalf("missing stack not reported:\n%s", text)
	}
	if strings.Index(text, "Cidr:") > strings.Index(text, "VpcId:") {
		t.Fatalf("outputs not sorted:\n%s", text)
	}

	filtered := newContext(t, testConfig, nil, func(o *stackcontext.Options) { o.StackNames = []string{"app"} })
	infos, err = Info(context.Background(), filtered, testOptions(p, &bytes.Buffer{}))
	if err != nil || len(infos) != 1 || infos[0].Name != "app" {
		t.Fatalf("filtered infos=%+v err=%v", infos, err)
	}
	unknown := newContext(t, testConfig, nil, func(o *stackcontext.Options) { o.StackNames = []string{"nope"} })
	if _, err := Info(context.Background(), unknown, testOptions(p, &bytes.Buffer{})); err == nil {
		t.Fatalf("expected unknown stack error")
	}
}
