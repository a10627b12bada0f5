// File: internal/action/diff.go
// Brief: Read-only comparison of desired and deployed stack parameters.

package action

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/pmezard/go-difflib/difflib"

	"github.com/example/stackctl/internal/plan"
	"github.com/example/stackctl/internal/stackcontext"
)

type ChangeKind string

const (
	Added      ChangeKind = "ADDED"
	Removed    ChangeKind = "REMOVED"
	Modified   ChangeKind = "MODIFIED"
	Unmodified ChangeKind = "UNMODIFIED"
)

// ParamChange describes one parameter key across deployed and desired values.
type ParamChange struct {
	Key  string
	Old  *string
	New  *string
	Kind ChangeKind
}

// Lines renders the change as "+key = value" style lines.
func (c ParamChange) Lines() []string {
	switch c.Kind {
	case Added:
		return []string{fmt.Sprintf("+%s = %s", c.Key, *c.New)}
	case Removed:
		return []string{fmt.Sprintf("-%s = %s", c.Key, *c.Old)}
	case Modified:
		return []string{fmt.Sprintf("-%s = %s", c.Key, *c.Old), fmt.Sprintf("+%s = %s", c.Key, *c.New)}
	default:
		return []string{fmt.Sprintf(" %s = %s", c.Key, *c.Old)}
	}
}

// DiffParameters compares deployed and desired parameters. It returns nil
// when nothing changed, otherwise every key sorted, unmodified keys included.
func DiffParameters(deployed, desired map[string]string) []ParamChange {
	keys := map[string]struct{}{}
	for k := range deployed {
		keys[k] = struct{}{}
	}
	for k := range desired {
		keys[k] = struct{}{}
	}
	names := make([]string, 0, len(keys))
	for k := range keys {
		names = append(names, k)
	}
	sort.Strings(names)

	changed := 0
	out := make([]ParamChange, 0, len(names))
	for _, k := range names {
		c := ParamChange{Key: k}
		if v, ok := deployed[k]; ok {
			c.Old = &v
		}
		if v, ok := desired[k]; ok {
			c.New = &v
		}
		switch {
		case c.Old == nil:
			c.Kind = Added
		case c.New == nil:
			c.Kind = Removed
		case *c.Old != *c.New:
			c.Kind = Modified
		default:
			c.Kind = Unmodified
		}
		if c.Kind != Unmodified {
			changed++
		}
		out = append(out, c)
	}
	if changed == 0 {
		return nil
	}
	return out
}

// UnifiedParamsDiff renders deployed and desired parameters as a unified diff.
func UnifiedParamsDiff(name string, deployed, desired map[string]string) (string, error) {
	return difflib.GetUnifiedDiffString(difflib.UnifiedDiff{
		A:        paramLines(deployed),
		B:        paramLines(desired),
		FromFile: name + " (deployed)",
		ToFile:   name + " (desired)",
		Context:  3,
	})
}

func paramLines(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		out = append(out, fmt.Sprintf("%s = %s\n", k, m[k]))
	}
	return out
}

// Diff prints the parameter changes each stack would receive. It never
// mutates remote state and never takes the persistent graph lock.
func Diff(ctx context.Context, sc *stackcontext.Context, opts Options) (*plan.Summary, error) {
	r, err := newRunner(sc, opts)
	if err != nil {
		return nil, err
	}
	g, err := sc.Graph()
	if err != nil {
		return nil, err
	}
	var steps []*plan.Step
	for _, st := range sc.Stacks() {
		steps = append(steps, plan.NewStep(st.Name, plan.ActionDiff, r.diff(st), st, g.Requires(st.Name)...))
	}
	for _, t := range sc.Targets() {
		steps = append(steps, targetStep(t))
	}
	p, err := plan.New(plan.Options{
		Description:  "Diff stacks",
		Steps:        steps,
		Graph:        g,
		Targets:      sc.StackNames(),
		Concurrency:  opts.Concurrency,
		DryRun:       true,
		PollInterval: opts.PollInterval,
		Logger:       r.log,
		Observer:     opts.Observer,
	})
	if err != nil {
		return nil, err
	}
	return r.execute(ctx, p, false, "")
}

func (r *runner) diff(st *stackcontext.Stack) plan.StepFunc {
	return func(ctx context.Context, s *plan.Step) (plan.Status, error) {
		if !st.Enabled() {
			return plan.NotSubmitted, nil
		}
		if st.Locked() && !st.Force {
			return plan.NotUpdated, nil
		}
		in, err := r.stackInput(ctx, st)
		if err != nil {
			return plan.Status{}, err
		}
		state, err := r.describe(ctx, st.FQN)
		if err != nil {
			return plan.Status{}, err
		}
		if state == nil {
			var b strings.Builder
			fmt.Fprintf(&b, "%s: %s\n", st.FQN, reasonNewStack)
			for _, line := range paramLines(in.Parameters) {
				b.WriteString("+" + line)
			}
			r.printf("%s", b.String())
			return plan.CompleteStatus(reasonNewStack), nil
		}
		if DiffParameters(state.Parameters, in.Parameters) == nil {
			s.Logger.Info("no changes")
			return plan.DidNotChange, nil
		}
		text, err := UnifiedParamsDiff(st.FQN, state.Parameters, in.Parameters)
		if err != nil {
			return plan.Status{}, err
		}
		r.printf("%s\n", text)
		return plan.CompleteStatus(""), nil
	}
}
