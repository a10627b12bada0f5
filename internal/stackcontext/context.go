// File: internal/stackcontext/context.go
// Brief: Run context: stack definitions, dependency graph and the persistent graph session.

package stackcontext

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/go-logr/logr"

	"github.com/example/stackctl/internal/config"
	"github.com/example/stackctl/internal/graph"
	"github.com/example/stackctl/internal/lookup"
	"github.com/example/stackctl/internal/persistgraph"
)

type Options struct {
	// StackNames limits actions to these stacks (and what they require).
	StackNames []string
	// ForceStacks lists locked stacks that build may update anyway.
	ForceStacks []string
	Region      string
	Environment map[string]string
	// Lookups adds resolvers beyond the built-in env and output handlers.
	Lookups map[string]lookup.Resolver

	// ObjectStore backs the persistent graph. Nil disables it.
	ObjectStore persistgraph.ObjectStore
	Logger      logr.Logger
}

// Stack is a configured stack resolved against the namespace.
type Stack struct {
	Name string
	FQN  string
	Def  config.StackDef

	// Requires merges explicit requires with stacks referenced by output
	// lookups in parameters.
	Requires []string
	Force    bool
}

func (s *Stack) Enabled() bool { return s.Def.IsEnabled() }
func (s *Stack) Locked() bool  { return s.Def.Locked }

// Target groups dependencies without deploying anything.
type Target struct {
	Name     string
	Requires []string
}

type Context struct {
	cfg  *config.Config
	opts Options
	log  logr.Logger

	stacks  []*Stack
	byName  map[string]*Stack
	targets []*Target

	store *persistgraph.Store

	pgMu sync.Mutex
	pg   *graph.Graph

	hookMu   sync.Mutex
	hookData map[string]map[string]any

	Warnings *Warnings
}

func New(cfg *config.Config, opts Options) (*Context, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	c := &Context{
		cfg:      cfg,
		opts:     opts,
		log:      opts.Logger,
		byName:   map[string]*Stack{},
		Warnings: NewWarnings(opts.Logger),
	}
	force := map[string]struct{}{}
	for _, name := range opts.ForceStacks {
		force[name] = struct{}{}
	}
	for _, def := range cfg.Stacks {
		_, forced := force[def.Name]
		s := &Stack{
			Name:     def.Name,
			FQN:      c.FQN(firstNonEmpty(def.StackName, def.Name)),
			Def:      def,
			Requires: stackRequires(def),
			Force:    forced,
		}
		c.stacks = append(c.stacks, s)
		c.byName[s.Name] = s
	}
	for _, def := range cfg.Targets {
		c.targets = append(c.targets, &Target{Name: def.Name, Requires: append([]string(nil), def.Requires...)})
	}

	if loc, ok := c.PersistentGraphLocation(); ok {
		if opts.ObjectStore == nil {
			c.Warnings.Warn("persistent-graph-no-store", "persistent_graph_key is set but no object store is configured; persistent graph disabled")
		} else {
			c.store = persistgraph.New(opts.ObjectStore, loc, c.log.WithName("persistent-graph"))
		}
	} else if cfg.PersistentGraphKey != "" {
		c.Warnings.Warn("persistent-graph-no-bucket", "persistent_graph_key is set but uploads are disabled (empty cfngin_bucket or namespace); persistent graph disabled")
	}
	return c, nil
}

func stackRequires(def config.StackDef) []string {
	set := map[string]struct{}{}
	for _, r := range def.Requires {
		set[r] = struct{}{}
	}
	values := make([]string, 0, len(def.Parameters))
	for _, v := range def.Parameters {
		values = append(values, v)
	}
	for _, r := range lookup.Dependencies(values...) {
		if r != def.Name {
			set[r] = struct{}{}
		}
	}
	out := make([]string, 0, len(set))
	for r := range set {
		out = append(out, r)
	}
	sort.Strings(out)
	return out
}

func (c *Context) Config() *config.Config { return c.cfg }
func (c *Context) Logger() logr.Logger    { return c.log }
func (c *Context) Region() string         { return c.opts.Region }

func (c *Context) Namespace() string { return c.cfg.Namespace }

// BaseFQN is the namespace made safe for bucket names.
func (c *Context) BaseFQN() string {
	return strings.ToLower(strings.ReplaceAll(c.cfg.Namespace, ".", "-"))
}

// FQN returns the fully qualified name for name. Names that already carry
// the namespace prefix are returned unchanged.
func (c *Context) FQN(name string) string {
	base := c.BaseFQN()
	delim := c.cfg.Delimiter()
	if name != "" && base != "" && strings.HasPrefix(name, base+delim) {
		return name
	}
	var parts []string
	for _, p := range []string{base, name} {
		if p != "" {
			parts = append(parts, p)
		}
	}
	return strings.Join(parts, delim)
}

func (c *Context) Stacks() []*Stack { return append([]*Stack(nil), c.stacks...) }

func (c *Context) Stack(name string) (*Stack, bool) {
	s, ok := c.byName[name]
	return s, ok
}

func (c *Context) Targets() []*Target { return append([]*Target(nil), c.targets...) }

// StackNames returns the names actions were limited to.
func (c *Context) StackNames() []string { return append([]string(nil), c.opts.StackNames...) }

// Environment is the env-file map used by ${env ...} lookups.
func (c *Context) Environment() map[string]string { return c.opts.Environment }

// Resolver builds a lookup registry with env, output and any extra handlers.
func (c *Context) Resolver(outputs lookup.OutputFetcher) *lookup.Registry {
	r := lookup.NewRegistry()
	r.Register(lookup.EnvHandler, lookup.EnvResolver(c.opts.Environment))
	for name, res := range c.opts.Lookups {
		r.Register(name, res)
	}
	r.Register(lookup.HookDataHandler, lookup.HookDataResolver{Fetch: c.HookData})
	if outputs != nil {
		r.Register(lookup.OutputHandler, lookup.OutputResolver{Fetch: outputs})
	}
	return r
}

// SetHookData stores a hook result under key for ${hook_data ...}.
func (c *Context) SetHookData(key string, data map[string]any) {
	c.hookMu.Lock()
	defer c.hookMu.Unlock()
	if c.hookData == nil {
		c.hookData = map[string]map[string]any{}
	}
	c.hookData[key] = data
}

func (c *Context) HookData(key string) (map[string]any, bool) {
	c.hookMu.Lock()
	defer c.hookMu.Unlock()
	data, ok := c.hookData[key]
	return data, ok
}

// Graph builds the dependency graph of stacks and targets. required_by
// entries become requires on the named node.
func (c *Context) Graph() (*graph.Graph, error) {
	requires := map[string]map[string]struct{}{}
	add := func(node string, deps ...string) {
		if requires[node] == nil {
			requires[node] = map[string]struct{}{}
		}
		for _, d := range deps {
			requires[node][d] = struct{}{}
		}
	}
	for _, s := range c.stacks {
		add(s.Name, s.Requires...)
	}
	for _, t := range c.cfg.Targets {
		add(t.Name, t.Requires...)
	}
	for _, s := range c.cfg.Stacks {
		for _, parent := range s.RequiredBy {
			if _, ok := requires[parent]; !ok {
				return nil, &graph.MissingNodeError{Node: s.Name, Dependency: parent, Missing: parent}
			}
			add(parent, s.Name)
		}
	}
	for _, t := range c.cfg.Targets {
		for _, parent := range t.RequiredBy {
			if _, ok := requires[parent]; !ok {
				return nil, &graph.MissingNodeError{Node: t.Name, Dependency: parent, Missing: parent}
			}
			add(parent, t.Name)
		}
	}

	g := graph.New()
	names := make([]string, 0, len(requires))
	for name := range requires {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		deps := make([]string, 0, len(requires[name]))
		for d := range requires[name] {
			deps = append(deps, d)
		}
		sort.Strings(deps)
		if err := g.AddNode(name, deps...); err != nil {
			return nil, err
		}
		if s, ok := c.byName[name]; ok {
			g.SetMeta(name, s)
		}
	}
	if err := g.Validate(); err != nil {
		return nil, err
	}
	return g, nil
}

// UploadToS3 reports whether the bucket (and so the persistent graph) is in
// use. An explicit empty cfngin_bucket disables it, as does a config with
// neither namespace nor bucket.
func (c *Context) UploadToS3() bool {
	if c.cfg.CfnginBucket != nil && *c.cfg.CfnginBucket == "" {
		return false
	}
	if c.cfg.Namespace == "" && c.cfg.CfnginBucket == nil {
		return false
	}
	return true
}

// BucketName is cfngin_bucket or stacker-<base fqn>; empty when uploads are
// disabled.
func (c *Context) BucketName() string {
	if !c.UploadToS3() {
		return ""
	}
	if c.cfg.CfnginBucket != nil && *c.cfg.CfnginBucket != "" {
		return *c.cfg.CfnginBucket
	}
	return "stacker-" + c.FQN("")
}

func (c *Context) BucketRegion() string {
	if c.cfg.CfnginBucketRegion != "" {
		return c.cfg.CfnginBucketRegion
	}
	return c.opts.Region
}

func (c *Context) PersistentGraphLocation() (persistgraph.Location, bool) {
	if !c.UploadToS3() || c.cfg.PersistentGraphKey == "" {
		return persistgraph.Location{}, false
	}
	return persistgraph.Location{
		Bucket: c.BucketName(),
		Key:    persistgraph.KeyFor(c.cfg.Namespace, c.cfg.PersistentGraphKey),
	}, true
}

// PersistentGraphEnabled reports whether a persistent graph store is wired.
func (c *Context) PersistentGraphEnabled() bool { return c.store != nil }

func (c *Context) PersistentGraphStore() *persistgraph.Store { return c.store }

// PersistentGraph fetches the persistent graph once per run. A missing
// object is created as an empty placeholder so it can be locked. Returns nil
// when disabled.
func (c *Context) PersistentGraph(ctx context.Context) (*graph.Graph, error) {
	if c.store == nil {
		return nil, nil
	}
	c.pgMu.Lock()
	defer c.pgMu.Unlock()
	if c.pg != nil {
		return c.pg, nil
	}
	if err := c.store.Ensure(ctx); err != nil {
		return nil, err
	}
	g, err := c.store.Fetch(ctx)
	if err != nil {
		return nil, err
	}
	c.pg = g
	return g, nil
}

func (c *Context) LockPersistentGraph(ctx context.Context, code string) error {
	if c.store == nil {
		return nil
	}
	if err := c.store.Lock(ctx, code); err != nil {
		return err
	}
	c.log.Info("locked persistent graph", "location", c.store.Location().String())
	return nil
}

func (c *Context) UnlockPersistentGraph(ctx context.Context, code string) error {
	if c.store == nil {
		return nil
	}
	if err := c.store.Unlock(ctx, code); err != nil {
		return err
	}
	c.log.Info("unlocked persistent graph", "location", c.store.Location().String())
	return nil
}

// PutPersistentGraph writes the cached graph with code.
func (c *Context) PutPersistentGraph(ctx context.Context, code string) error {
	if c.store == nil {
		return nil
	}
	c.pgMu.Lock()
	g := c.pg
	c.pgMu.Unlock()
	if g == nil {
		return nil
	}
	return c.store.Put(ctx, g, code)
}

// Put implements plan.GraphWriter over the store. It is a no-op when the
// persistent graph is disabled.
func (c *Context) Put(ctx context.Context, g *graph.Graph, code string) error {
	if c.store == nil {
		return nil
	}
	return c.store.Put(ctx, g, code)
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
