// File: internal/action/action.go
// Brief: Shared plumbing for the build, destroy and diff actions.

package action

import (
	"context"
	"errors"
	"fmt"
	"io"
	"maps"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/go-logr/logr"

	"github.com/example/stackctl/internal/plan"
	"github.com/example/stackctl/internal/stackcontext"
)

// Step reasons reported by the actions.
const (
	reasonCreating     = "creating new stack"
	reasonRecreating   = "re-creating stack"
	reasonUpdating     = "updating existing stack"
	reasonRecreateWait = "destroying stack for re-creation"
	reasonWaiting      = "waiting"
	reasonDestroying   = "submitted for destruction"
	reasonDestroyed    = "stack destroyed"
	reasonNewStack     = "new stack"
)

// ApproveFunc confirms changes to a protected stack.
type ApproveFunc func(ctx context.Context, stack string, changes []ParamChange) (bool, error)

type Options struct {
	Provider    Provider
	Concurrency int

	// Force confirms a destroy run and overrides termination protection.
	// Locked stacks are forced per stack through the context.
	Force bool
	// Outline prints the plan instead of executing it.
	Outline bool
	Tail    bool

	PollInterval time.Duration
	// TemplateRoot resolves relative template paths and is the working
	// directory of build hooks.
	TemplateRoot string
	// HookEnv replaces the environment build hooks inherit when set.
	HookEnv []string
	Approve ApproveFunc

	Logger   logr.Logger
	Observer plan.Observer
	Out      io.Writer
}

type runner struct {
	sc   *stackcontext.Context
	opts Options
	log  logr.Logger

	outMu sync.Mutex
}

func newRunner(sc *stackcontext.Context, opts Options) (*runner, error) {
	if sc == nil {
		return nil, errors.New("stack context is required")
	}
	if opts.Provider == nil {
		return nil, errors.New("provider is required")
	}
	if opts.Out == nil {
		opts.Out = io.Discard
	}
	return &runner{sc: sc, opts: opts, log: opts.Logger}, nil
}

func (r *runner) printf(format string, args ...any) {
	r.outMu.Lock()
	defer r.outMu.Unlock()
	fmt.Fprintf(r.opts.Out, format, args...)
}

// execute outlines or runs p. Mutating runs hold the persistent graph lock
// for the whole walk and always release it.
func (r *runner) execute(ctx context.Context, p *plan.Plan, lock bool, outlineMessage string) (summary *plan.Summary, err error) {
	if len(p.Order()) == 0 {
		r.log.Info("no stacks detected (error in config?)")
	}
	if r.opts.Outline {
		return nil, p.Outline(r.opts.Out, outlineMessage)
	}
	if lock {
		if err := r.sc.LockPersistentGraph(ctx, p.LockCode()); err != nil {
			return nil, err
		}
		defer func() {
			uerr := r.sc.UnlockPersistentGraph(context.WithoutCancel(ctx), p.LockCode())
			if uerr == nil {
				return
			}
			r.log.Error(uerr, "failed to unlock persistent graph")
			if err == nil {
				err = uerr
			}
		}()
	}
	r.log.V(1).Info("launching stacks", "order", p.Order())
	return p.Execute(ctx)
}

// describe returns nil when the stack does not exist.
func (r *runner) describe(ctx context.Context, fqn string) (*StackState, error) {
	st, err := r.opts.Provider.DescribeStack(ctx, fqn)
	if errors.Is(err, ErrStackNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("describe %s: %w", fqn, err)
	}
	return st, nil
}

// outputs resolves ${output stack::Name} against the deployed stack.
func (r *runner) outputs(ctx context.Context, name string) (map[string]string, error) {
	fqn := r.sc.FQN(name)
	if s, ok := r.sc.Stack(name); ok {
		fqn = s.FQN
	}
	return r.opts.Provider.Outputs(ctx, fqn)
}

// stackInput resolves parameters, tags and template for st.
func (r *runner) stackInput(ctx context.Context, st *stackcontext.Stack) (*StackInput, error) {
	params, err := r.sc.Resolver(r.outputs).ResolveMap(ctx, st.Def.Parameters)
	if err != nil {
		return nil, fmt.Errorf("resolve parameters for %s: %w", st.Name, err)
	}
	tags := map[string]string{}
	maps.Copy(tags, r.sc.Config().Tags)
	maps.Copy(tags, st.Def.Tags)
	in := &StackInput{
		FQN:                   st.FQN,
		Parameters:            params,
		Tags:                  tags,
		TerminationProtection: st.Def.TerminationProtection,
	}
	if st.Def.TemplatePath != "" {
		path := st.Def.TemplatePath
		if !filepath.IsAbs(path) && r.opts.TemplateRoot != "" {
			path = filepath.Join(r.opts.TemplateRoot, path)
		}
		body, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read template for %s: %w", st.Name, err)
		}
		in.TemplateBody = string(body)
	}
	return in, nil
}

func (r *runner) tail(s *plan.Step, state *StackState) {
	if !r.opts.Tail || state == nil {
		return
	}
	s.Logger.Info("provider status", "status", state.Status, "reason", state.Reason)
}

// targetStep completes immediately; targets only group dependencies.
func targetStep(t *stackcontext.Target) *plan.Step {
	return plan.NewStep(t.Name, plan.ActionNoop, func(context.Context, *plan.Step) (plan.Status, error) {
		return plan.CompleteStatus(""), nil
	}, t, t.Requires...)
}
