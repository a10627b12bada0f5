// File: internal/action/build.go
// Brief: Create or update stacks in dependency order.

package action

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/example/stackctl/internal/config"
	"github.com/example/stackctl/internal/graph"
	"github.com/example/stackctl/internal/hooks"
	"github.com/example/stackctl/internal/plan"
	"github.com/example/stackctl/internal/stackcontext"
)

// Build launches every configured stack after its dependencies. Stacks
// recorded in the persistent graph but gone from the config are destroyed
// first, dependents before dependencies. pre_build hooks run before the plan
// and post_build hooks after it succeeds; neither runs for an outline.
func Build(ctx context.Context, sc *stackcontext.Context, opts Options) (*plan.Summary, error) {
	r, err := newRunner(sc, opts)
	if err != nil {
		return nil, err
	}
	if err := r.runHooks(ctx, hooks.PreBuild, sc.Config().PreBuild); err != nil {
		return nil, err
	}
	p, err := r.buildPlan(ctx)
	if err != nil {
		return nil, err
	}
	summary, err := r.execute(ctx, p, true, "")
	if err != nil {
		return summary, err
	}
	return summary, r.runHooks(ctx, hooks.PostBuild, sc.Config().PostBuild)
}

func (r *runner) runHooks(ctx context.Context, stage string, defs []config.HookDef) error {
	if r.opts.Outline {
		if len(defs) > 0 {
			r.log.Info("outline only; not running hooks", "stage", stage, "hooks", len(defs))
		}
		return nil
	}
	return hooks.Run(ctx, stage, defs, hooks.Options{
		Dir:      r.opts.TemplateRoot,
		Resolver: r.sc.Resolver(r.outputs),
		Data:     r.sc,
		Logger:   r.log.WithName("hooks"),
		Out:      r.opts.Out,
		Env:      r.opts.HookEnv,
	})
}

// BuildPlan returns the build plan without running it.
func BuildPlan(ctx context.Context, sc *stackcontext.Context, opts Options) (*plan.Plan, error) {
	r, err := newRunner(sc, opts)
	if err != nil {
		return nil, err
	}
	return r.buildPlan(ctx)
}

func (r *runner) buildPlan(ctx context.Context) (*plan.Plan, error) {
	g, err := r.sc.Graph()
	if err != nil {
		return nil, err
	}
	pg, err := r.sc.PersistentGraph(ctx)
	if err != nil {
		return nil, err
	}

	var steps []*plan.Step
	for _, st := range r.sc.Stacks() {
		steps = append(steps, plan.NewStep(st.Name, plan.ActionBuild, r.launch(st), st, g.Requires(st.Name)...))
	}
	for _, t := range r.sc.Targets() {
		steps = append(steps, targetStep(t))
	}

	if pg != nil {
		removed := map[string]struct{}{}
		for _, name := range pg.Names() {
			if !g.Has(name) {
				removed[name] = struct{}{}
			}
		}
		for _, name := range sortedSet(removed) {
			// Destroy dependents first: a removed stack waits on removed
			// stacks that required it.
			var deps []string
			for _, dependent := range pg.RequiredBy(name) {
				if _, ok := removed[dependent]; ok {
					deps = append(deps, dependent)
				}
			}
			if err := g.AddNode(name, deps...); err != nil {
				return nil, err
			}
			steps = append(steps, plan.NewStep(name, plan.ActionDestroy, r.destroy(r.sc.FQN(name), false), nil, deps...))
		}
		if len(removed) > 0 {
			r.log.Info("stacks removed from config will be destroyed", "stacks", sortedSet(removed))
		}
	}

	return plan.New(plan.Options{
		Description:  "Create/Update stacks",
		Steps:        steps,
		Graph:        g,
		Targets:      r.sc.StackNames(),
		Concurrency:  r.opts.Concurrency,
		PollInterval: r.opts.PollInterval,
		Logger:       r.log,
		Observer:     r.opts.Observer,
		Persistent:   pg,
		Store:        persistentWriter(r.sc, pg),
	})
}

func persistentWriter(sc *stackcontext.Context, pg *graph.Graph) plan.GraphWriter {
	if pg == nil {
		return nil
	}
	return sc
}

// launch creates or updates st. It is called repeatedly while it reports
// Submitted and uses the previous status to tell polling from submission.
func (r *runner) launch(st *stackcontext.Stack) plan.StepFunc {
	return func(ctx context.Context, s *plan.Step) (plan.Status, error) {
		if !st.Enabled() {
			s.Logger.V(1).Info("skipped; stack is not enabled")
			return plan.NotSubmitted, nil
		}
		old := s.Status()
		state, err := r.describe(ctx, st.FQN)
		if err != nil {
			return plan.Status{}, err
		}
		if state != nil && st.Locked() && !st.Force {
			s.Logger.V(1).Info("locked and not in --force list; refusing to update")
			return plan.NotUpdated, nil
		}
		r.tail(s, state)

		recreate := false
		if state != nil && old.Code == plan.Submitted && !(old.Reason == reasonWaiting && !state.InProgress()) {
			switch {
			case state.RollingBack():
				if strings.Contains(old.Reason, "rolling back") {
					return old, nil
				}
				s.Logger.V(1).Info("entered roll back")
				if strings.Contains(old.Reason, "updating") {
					return plan.SubmittedStatus("rolling back update"), nil
				}
				return plan.SubmittedStatus("rolling back new stack"), nil
			case state.InProgress():
				return old, nil
			case state.Destroyed():
				s.Logger.V(1).Info("finished deleting")
				recreate = true
			// Failure before completion: a finished rollback is both.
			case state.Failed():
				reason := strings.Replace(old.Reason, "rolling", "rolled", 1)
				s.Logger.Info("roll back reason", "reason", state.Reason)
				return plan.FailedStatus(reason), nil
			case state.Completed():
				return plan.CompleteStatus(old.Reason), nil
			default:
				return old, nil
			}
		}

		in, err := r.stackInput(ctx, st)
		if err != nil {
			return plan.Status{}, err
		}
		if recreate {
			s.Logger.V(1).Info("re-creating stack")
			if err := r.opts.Provider.CreateStack(ctx, in); err != nil {
				return plan.Status{}, err
			}
			return plan.SubmittedStatus(reasonRecreating), nil
		}
		if state == nil {
			s.Logger.V(1).Info("creating new stack")
			if err := r.opts.Provider.CreateStack(ctx, in); err != nil {
				return plan.Status{}, err
			}
			return plan.SubmittedStatus(reasonCreating), nil
		}

		if state.InProgress() && !state.InReview() {
			if st.Def.InProgressBehavior == config.InProgressWait {
				return plan.SubmittedStatus(reasonWaiting), nil
			}
			return plan.FailedStatus(fmt.Sprintf("stack is %s; set in_progress_behavior: wait to wait for it", state.Status)), nil
		}
		if state.Recreatable() {
			s.Logger.Info("stack cannot be updated in its current state; destroying for re-creation", "status", state.Status)
			if err := r.opts.Provider.DestroyStack(ctx, st.FQN, false); err != nil {
				return plan.Status{}, err
			}
			return plan.SubmittedStatus(reasonRecreateWait), nil
		}
		if st.Def.Protected {
			ok, err := r.approve(ctx, st, state, in)
			if err != nil {
				return plan.Status{}, err
			}
			if !ok {
				return plan.Status{}, plan.ErrCancelExecution
			}
		}
		err = r.opts.Provider.UpdateStack(ctx, in)
		if errors.Is(err, ErrNoChange) {
			return plan.DidNotChange, nil
		}
		if err != nil {
			return plan.Status{}, err
		}
		s.Logger.V(1).Info("updating existing stack")
		return plan.SubmittedStatus(reasonUpdating), nil
	}
}

// approve asks before changing a protected stack. Without an approver the
// change is refused.
func (r *runner) approve(ctx context.Context, st *stackcontext.Stack, state *StackState, in *StackInput) (bool, error) {
	changes := DiffParameters(state.Parameters, in.Parameters)
	if r.opts.Approve == nil {
		r.log.Info("stack is protected and no approver is available; skipping", "stack", st.Name)
		return false, nil
	}
	return r.opts.Approve(ctx, st.Name, changes)
}

func sortedSet(m map[string]struct{}) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
