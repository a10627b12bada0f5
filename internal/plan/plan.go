// File: internal/plan/plan.go
// Brief: Level-by-level plan walk with failure propagation and persistent graph updates.

package plan

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/go-logr/logr"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/example/stackctl/internal/graph"
)

// GraphWriter persists the canonical graph under a lock code.
type GraphWriter interface {
	Put(ctx context.Context, g *graph.Graph, code string) error
}

type Options struct {
	Description string
	Steps       []*Step

	// Graph holds the dependency edges. When nil it is derived from
	// Step.Requires.
	Graph *graph.Graph

	// Reverse walks dependents before dependencies (destroy).
	Reverse bool

	// Targets limits the plan to these names plus their dependencies.
	Targets []string

	// Concurrency bounds parallel steps within a level. 0 runs a whole level
	// at once.
	Concurrency  int
	DryRun       bool
	PollInterval time.Duration

	Logger   logr.Logger
	Observer Observer

	// Persistent is mutated in place as steps complete and written through
	// Store with LockCode. Both nil disables tracking.
	Persistent *graph.Graph
	Store      GraphWriter
	LockCode   string
}

type Plan struct {
	opts   Options
	steps  map[string]*Step
	source *graph.Graph // dependency direction, used for persistent graph edges
	walk   *graph.Graph // walk direction
	levels [][]string

	persistMu  sync.Mutex
	persistErr error

	startMu sync.Mutex
	started map[string]time.Time

	blockMu   sync.Mutex
	blockedBy map[string]string
}

func New(opts Options) (*Plan, error) {
	if opts.LockCode == "" {
		opts.LockCode = uuid.NewString()
	}
	if opts.PollInterval < 0 {
		opts.PollInterval = 0
	}
	p := &Plan{
		opts:      opts,
		steps:     map[string]*Step{},
		started:   map[string]time.Time{},
		blockedBy: map[string]string{},
	}
	for _, s := range opts.Steps {
		if s == nil {
			continue
		}
		if _, ok := p.steps[s.Name]; ok {
			return nil, &graph.DuplicateNodeError{Name: s.Name}
		}
		p.steps[s.Name] = s
	}

	g := opts.Graph
	if g == nil {
		g = graph.New()
		for _, s := range opts.Steps {
			if s == nil {
				continue
			}
			if err := g.AddNode(s.Name, s.Requires...); err != nil {
				return nil, err
			}
		}
	}
	if err := g.Validate(); err != nil {
		return nil, err
	}
	for _, name := range g.Names() {
		if _, ok := p.steps[name]; !ok {
			return nil, fmt.Errorf("plan %q: node %q has no step", opts.Description, name)
		}
	}
	for name := range p.steps {
		if !g.Has(name) {
			return nil, fmt.Errorf("plan %q: step %q is not in the graph", opts.Description, name)
		}
	}

	walk := g
	if opts.Reverse {
		walk = g.Transposed()
	}
	// Targets are filtered in walk direction: a destroy target pulls in the
	// stacks that depend on it.
	if len(opts.Targets) > 0 {
		walk = walk.Filtered(opts.Targets)
		for name := range p.steps {
			if !walk.Has(name) {
				delete(p.steps, name)
			}
		}
	}
	p.walk = walk
	p.source = walk
	if opts.Reverse {
		p.source = walk.Transposed()
	}
	levels, err := p.walk.Levels()
	if err != nil {
		return nil, err
	}
	p.levels = levels

	for name, s := range p.steps {
		s.Logger = opts.Logger.WithValues("stack", name)
		s.onChange = p.stepChanged
	}
	return p, nil
}

func (p *Plan) Description() string { return p.opts.Description }

// LockCode is the code used for persistent graph writes.
func (p *Plan) LockCode() string { return p.opts.LockCode }

// Levels returns the walk levels.
func (p *Plan) Levels() [][]string {
	out := make([][]string, len(p.levels))
	for i, l := range p.levels {
		out[i] = append([]string(nil), l...)
	}
	return out
}

// Order returns step names in walk order.
func (p *Plan) Order() []string {
	var out []string
	for _, l := range p.levels {
		out = append(out, l...)
	}
	return out
}

func (p *Plan) Step(name string) (*Step, bool) {
	s, ok := p.steps[name]
	return s, ok
}

// Steps returns steps in walk order.
func (p *Plan) Steps() []*Step {
	order := p.Order()
	out := make([]*Step, 0, len(order))
	for _, name := range order {
		out = append(out, p.steps[name])
	}
	return out
}

func (p *Plan) Graph() *graph.Graph { return p.walk }

// Outline writes the order of steps the plan will take.
func (p *Plan) Outline(w io.Writer, message string) error {
	if _, err := fmt.Fprintf(w, "plan %q:\n", p.opts.Description); err != nil {
		return err
	}
	for i, s := range p.Steps() {
		if _, err := fmt.Fprintf(w, "  - step: %d: target: %q, action: %q\n", i+1, s.Name, s.Action); err != nil {
			return err
		}
	}
	if message != "" {
		_, err := fmt.Fprintln(w, message)
		return err
	}
	return nil
}

// Execute walks every level in order. Steps whose dependencies failed are
// skipped without being submitted. Cancellation is honoured between levels;
// steps already running are allowed to finish.
func (p *Plan) Execute(ctx context.Context) (*Summary, error) {
	start := time.Now()
	log := p.opts.Logger.WithValues("plan", p.opts.Description)
	p.emit(Event{Type: RunStarted, Message: fmt.Sprintf("planned=%d levels=%d", len(p.steps), len(p.levels))})
	log.V(1).Info("executing plan", "steps", len(p.steps), "levels", len(p.levels), "lockCode", p.opts.LockCode)

	stepCtx := context.WithoutCancel(ctx)
	canceled := false
	for i, level := range p.levels {
		if ctx.Err() != nil {
			canceled = true
			p.cancelRemaining()
			break
		}
		p.emit(Event{Type: LevelStarted, Level: i, Message: fmt.Sprintf("%d step(s)", len(level))})

		var runnable []*Step
		for _, name := range level {
			s := p.steps[name]
			if s.Status().Done() {
				continue
			}
			if dep, ok := p.blockingDependency(name); ok {
				cause := p.rootCause(dep)
				log.Info("skipping step, dependency has failed", "stack", name, "dependency", dep, "cause", cause)
				p.block(s, cause)
				p.poison(name, cause)
				continue
			}
			runnable = append(runnable, s)
		}

		var eg errgroup.Group
		limit := p.opts.Concurrency
		if limit <= 0 {
			limit = len(runnable)
		}
		if limit > 0 {
			eg.SetLimit(limit)
		}
		for _, s := range runnable {
			eg.Go(func() error {
				st := s.run(stepCtx, p.opts.PollInterval)
				if st.Code == Failed {
					p.poison(s.Name, s.Name)
				}
				p.updatePersistentGraph(stepCtx, s)
				return nil
			})
		}
		_ = eg.Wait()
	}

	summary := p.Summary(start)
	if canceled {
		summary.Status = "canceled"
	}
	p.emit(Event{Type: RunCompleted, Message: summary.Status, Duration: time.Since(start)})

	if canceled {
		return summary, ctx.Err()
	}
	if fe := p.failure(); fe != nil {
		return summary, fe
	}
	p.persistMu.Lock()
	perr := p.persistErr
	p.persistMu.Unlock()
	if perr != nil {
		return summary, perr
	}
	return summary, nil
}

// blockingDependency returns the first dependency (walk direction) that
// failed or was skipped because something below it failed. Dependencies
// skipped for any other reason (no change, disabled, declined) do not block.
func (p *Plan) blockingDependency(name string) (string, bool) {
	for _, dep := range p.walk.Requires(name) {
		st := p.steps[dep].Status()
		if st.Code == Failed || (st.Code == Skipped && st.Reason == ReasonDependencyFailed) {
			return dep, true
		}
	}
	return "", false
}

// poison skips every transitive dependent of name that has not started,
// recording cause as the failed step that blocked it.
func (p *Plan) poison(name, cause string) {
	for _, dep := range p.walk.TransitiveDependents(name) {
		s := p.steps[dep]
		if s.Status().Code == Pending {
			p.block(s, cause)
		}
	}
}

func (p *Plan) block(s *Step, cause string) {
	p.blockMu.Lock()
	if _, ok := p.blockedBy[s.Name]; !ok {
		p.blockedBy[s.Name] = cause
	}
	p.blockMu.Unlock()
	s.SetStatus(DependencyFail)
}

// BlockedBy names the failed step that caused name to be skipped.
func (p *Plan) BlockedBy(name string) string {
	p.blockMu.Lock()
	defer p.blockMu.Unlock()
	return p.blockedBy[name]
}

// rootCause follows a dependency-failed skip back to the step that failed.
func (p *Plan) rootCause(dep string) string {
	if cause := p.BlockedBy(dep); cause != "" {
		return cause
	}
	return dep
}

func (p *Plan) cancelRemaining() {
	for _, name := range p.Order() {
		s := p.steps[name]
		if s.Status().Code == Pending {
			s.SetStatus(SkippedStatus(ReasonCanceled))
		}
	}
}

func (p *Plan) updatePersistentGraph(ctx context.Context, s *Step) {
	if p.opts.Persistent == nil || p.opts.Store == nil || p.opts.DryRun {
		return
	}
	st := s.Status()
	if !(st.Code == Complete || (st.Code == Skipped && st.Reason == ReasonDoesNotExist)) {
		return
	}

	p.persistMu.Lock()
	defer p.persistMu.Unlock()
	pg := p.opts.Persistent
	switch s.Action {
	case ActionDestroy:
		pg.RemoveNode(s.Name)
		s.Logger.V(1).Info("removed step from the persistent graph")
	case ActionBuild:
		pg.AddNodeIfNotExists(s.Name, p.source.Requires(s.Name)...)
		for _, parent := range p.source.RequiredBy(s.Name) {
			if pg.Has(parent) {
				_ = pg.Connect(parent, s.Name)
			}
		}
		s.Logger.V(1).Info("added step to the persistent graph")
	default:
		return
	}
	if err := p.opts.Store.Put(ctx, pg, p.opts.LockCode); err != nil {
		s.Logger.Error(err, "failed to update persistent graph")
		if p.persistErr == nil {
			p.persistErr = fmt.Errorf("update persistent graph after %s: %w", s.Name, err)
		}
		return
	}
	p.emit(Event{Type: GraphUpdated, Step: s.Name, Action: s.Action, Message: fmt.Sprintf("nodes=%d", pg.Len())})
}

func (p *Plan) failure() *FailedError {
	fe := &FailedError{Description: p.opts.Description}
	for _, s := range p.Steps() {
		st := s.Status()
		switch {
		case st.Code == Failed:
			fe.Failed = append(fe.Failed, StepResult{Name: s.Name, Reason: st.Reason})
		case st.Code == Skipped && (st.Reason == ReasonDependencyFailed || st.Reason == ReasonCanceled):
			fe.Skipped = append(fe.Skipped, StepResult{Name: s.Name, Reason: st.Reason, BlockedBy: p.BlockedBy(s.Name)})
		}
	}
	if len(fe.Failed) == 0 {
		return nil
	}
	return fe
}

func (p *Plan) stepChanged(s *Step, st Status) {
	ev := Event{Type: StepChanged, Step: s.Name, Action: s.Action, Status: st, Level: p.levelOf(s.Name)}
	p.startMu.Lock()
	if st.Code == Submitted {
		if _, ok := p.started[s.Name]; !ok {
			p.started[s.Name] = time.Now()
		}
	}
	if st.Done() {
		if t, ok := p.started[s.Name]; ok {
			ev.Duration = time.Since(t)
		}
	}
	p.startMu.Unlock()
	p.emit(ev)
}

func (p *Plan) levelOf(name string) int {
	for i, l := range p.levels {
		for _, n := range l {
			if n == name {
				return i
			}
		}
	}
	return -1
}

func (p *Plan) emit(ev Event) {
	if p.opts.Observer == nil {
		return
	}
	if ev.Time.IsZero() {
		ev.Time = time.Now()
	}
	ev.Description = p.opts.Description
	p.opts.Observer.ObserveEvent(ev)
}
