// File: internal/action/destroy.go
// Brief: Destroy stacks, dependents before their dependencies.

package action

import (
	"context"

	"github.com/example/stackctl/internal/config"
	"github.com/example/stackctl/internal/plan"
	"github.com/example/stackctl/internal/stackcontext"
)

const destroyWarning = "WARNING: This will result in the destruction of the stacks above; re-run with --force to proceed."

// Destroy tears down configured stacks plus any recorded in the persistent
// graph. Without Force the plan is only outlined.
func Destroy(ctx context.Context, sc *stackcontext.Context, opts Options) (*plan.Summary, error) {
	r, err := newRunner(sc, opts)
	if err != nil {
		return nil, err
	}
	p, err := r.destroyPlan(ctx)
	if err != nil {
		return nil, err
	}
	if !r.opts.Force {
		r.opts.Outline = true
	}
	return r.execute(ctx, p, true, destroyWarning)
}

// DestroyPlan returns the destroy plan without running it.
func DestroyPlan(ctx context.Context, sc *stackcontext.Context, opts Options) (*plan.Plan, error) {
	r, err := newRunner(sc, opts)
	if err != nil {
		return nil, err
	}
	return r.destroyPlan(ctx)
}

func (r *runner) destroyPlan(ctx context.Context) (*plan.Plan, error) {
	g, err := r.sc.Graph()
	if err != nil {
		return nil, err
	}
	pg, err := r.sc.PersistentGraph(ctx)
	if err != nil {
		return nil, err
	}
	merged := g
	if pg != nil && pg.Len() > 0 {
		merged = pg.Merge(g)
	}
	targets := map[string]*stackcontext.Target{}
	for _, t := range r.sc.Targets() {
		targets[t.Name] = t
	}

	var steps []*plan.Step
	for _, name := range merged.Names() {
		if t, ok := targets[name]; ok {
			steps = append(steps, targetStep(t))
			continue
		}
		fqn := r.sc.FQN(name)
		wait := false
		var payload any
		if st, ok := r.sc.Stack(name); ok {
			fqn = st.FQN
			wait = st.Def.InProgressBehavior == config.InProgressWait
			payload = st
		}
		steps = append(steps, plan.NewStep(name, plan.ActionDestroy, r.destroy(fqn, wait), payload, merged.Requires(name)...))
	}

	return plan.New(plan.Options{
		Description:  "Destroy stacks",
		Steps:        steps,
		Graph:        merged,
		Reverse:      true,
		Targets:      r.sc.StackNames(),
		Concurrency:  r.opts.Concurrency,
		PollInterval: r.opts.PollInterval,
		Logger:       r.log,
		Observer:     r.opts.Observer,
		Persistent:   pg,
		Store:        persistentWriter(r.sc, pg),
	})
}

// destroy deletes fqn and polls until it is gone.
func (r *runner) destroy(fqn string, wait bool) plan.StepFunc {
	return func(ctx context.Context, s *plan.Step) (plan.Status, error) {
		old := s.Status()
		state, err := r.describe(ctx, fqn)
		if err != nil {
			return plan.Status{}, err
		}
		if state == nil {
			s.Logger.V(1).Info("stack does not exist")
			if old.Code == plan.Submitted {
				return plan.CompleteStatus(reasonDestroyed), nil
			}
			return plan.DoesNotExist, nil
		}
		r.tail(s, state)
		switch {
		case state.BeingDestroyed():
			return plan.SubmittedStatus(reasonDestroying), nil
		case state.Destroyed():
			return plan.CompleteStatus(reasonDestroyed), nil
		case old.Code == plan.Submitted && old.Reason == reasonDestroying && state.Failed():
			return plan.FailedStatus("stack destruction failed: " + state.Reason), nil
		case wait && state.InProgress():
			return plan.SubmittedStatus(reasonWaiting), nil
		}
		if state.TerminationProtection && !r.opts.Force {
			return plan.FailedStatus("termination protection is enabled; re-run with --force"), nil
		}
		s.Logger.V(1).Info("destroying stack", "fqn", fqn)
		if err := r.opts.Provider.DestroyStack(ctx, fqn, r.opts.Force); err != nil {
			return plan.Status{}, err
		}
		return plan.SubmittedStatus(reasonDestroying), nil
	}
}
