// File: internal/action/info.go
// Brief: Deployed status and outputs of configured stacks.

package action

import (
	"context"
	"fmt"
	"io"
	"sort"
	"strings"
	"text/tabwriter"

	"github.com/example/stackctl/internal/stackcontext"
)

// StackInfo is the deployed view of one configured stack.
type StackInfo struct {
	Name    string            `json:"name"`
	FQN     string            `json:"fqn"`
	Region  string            `json:"region,omitempty"`
	Exists  bool              `json:"exists"`
	Status  string            `json:"status,omitempty"`
	Outputs map[string]string `json:"outputs,omitempty"`
}

// Info describes every configured stack, or only the stacks named in the
// context when any are. Stacks that are not deployed are reported with
// Exists false.
func Info(ctx context.Context, sc *stackcontext.Context, opts Options) ([]StackInfo, error) {
	r, err := newRunner(sc, opts)
	if err != nil {
		return nil, err
	}
	only := map[string]struct{}{}
	for _, name := range sc.StackNames() {
		if _, ok := sc.Stack(name); !ok {
			return nil, fmt.Errorf("stack %q is not defined in the config", name)
		}
		only[name] = struct{}{}
	}

	var out []StackInfo
	for _, st := range sc.Stacks() {
		if _, ok := only[st.Name]; len(only) > 0 && !ok {
			continue
		}
		info := StackInfo{Name: st.Name, FQN: st.FQN, Region: sc.Region()}
		state, err := r.describe(ctx, st.FQN)
		if err != nil {
			return nil, err
		}
		if state == nil {
			r.log.Info("stack does not exist", "stack", st.Name, "fqn", st.FQN)
			out = append(out, info)
			continue
		}
		info.Exists = true
		info.Status = state.Status
		info.Outputs = state.Outputs
		if info.Outputs == nil {
			outputs, err := r.opts.Provider.Outputs(ctx, st.FQN)
			if err != nil {
				return nil, fmt.Errorf("outputs of %s: %w", st.FQN, err)
			}
			info.Outputs = outputs
		}
		out = append(out, info)
	}
	return out, nil
}

// PrintInfo writes one block per stack with its outputs sorted by key.
func PrintInfo(w io.Writer, infos []StackInfo) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	for _, info := range infos {
		status := info.Status
		if !info.Exists {
			status = "NOT DEPLOYED"
		}
		fmt.Fprintf(tw, "%s:\t%s\n", info.Name, status)
		fmt.Fprintf(tw, "  fqn:\t%s\n", info.FQN)
		if info.Region != "" {
			fmt.Fprintf(tw, "  region:\t%s\n", info.Region)
		}
		if len(info.Outputs) == 0 {
			continue
		}
		fmt.Fprintln(tw, "  outputs:")
		keys := make([]string, 0, len(info.Outputs))
		for k := range info.Outputs {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Fprintf(tw, "    %s:\t%s\n", k, strings.TrimSpace(info.Outputs[k]))
		}
	}
	return tw.Flush()
}
