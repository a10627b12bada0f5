// File: cmd/stackctl/commands.go
// Brief: build, destroy, diff, outline, info and graph subcommands.

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/spf13/cobra"
	"sigs.k8s.io/yaml"

	"github.com/example/stackctl/internal/action"
	"github.com/example/stackctl/internal/config"
	"github.com/example/stackctl/internal/graph"
	"github.com/example/stackctl/internal/regions"
)

// withSession opens a session for the command and closes it afterwards.
func withSession(cmd *cobra.Command, opts *config.Options, logLevel *string, fn func(*session) error) (err error) {
	s, err := openSession(cmd, opts, *logLevel)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := s.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()
	return fn(s)
}

func newBuildCommand(opts *config.Options, logLevel *string) *cobra.Command {
	var forceStacks []string
	cmd := &cobra.Command{
		Use:   "build",
		Short: "Create or update stacks in dependency order",
		Long:  "build creates missing stacks and updates existing ones level by level. Stacks recorded in the persistent graph but removed from the config are destroyed first.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd, opts, logLevel, func(s *session) error {
				s.forceStacks = splitList(forceStacks)
				interactive := isTerminalReader(cmd.InOrStdin()) && isTerminalWriter(cmd.ErrOrStderr())
				approve := newApprover(cmd.InOrStdin(), s.errOut, approvedFromEnv(), interactive)
				return s.runAction(cmd.Context(), action.Build, func(o *action.Options) {
					o.Approve = approve
				})
			})
		},
	}
	cmd.Flags().StringSliceVar(&forceStacks, "force-stacks", nil, "Update these locked stacks anyway (comma-separated)")
	return cmd
}

func newDestroyCommand(opts *config.Options, logLevel *string) *cobra.Command {
	return &cobra.Command{
		Use:   "destroy",
		Short: "Destroy stacks in reverse dependency order",
		Long:  "destroy removes configured stacks and any recorded in the persistent graph, dependents first. Without --force it only prints what would be destroyed.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd, opts, logLevel, func(s *session) error {
				return s.runAction(cmd.Context(), action.Destroy, nil)
			})
		},
	}
}

func newDiffCommand(opts *config.Options, logLevel *string) *cobra.Command {
	return &cobra.Command{
		Use:   "diff",
		Short: "Show parameter changes build would make",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd, opts, logLevel, func(s *session) error {
				return s.runAction(cmd.Context(), action.Diff, nil)
			})
		},
	}
}

func newOutlineCommand(opts *config.Options, logLevel *string) *cobra.Command {
	return &cobra.Command{
		Use:   "outline",
		Short: "Print the build plan without executing it",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd, opts, logLevel, func(s *session) error {
				return s.runAction(cmd.Context(), action.Build, func(o *action.Options) {
					o.Outline = true
				})
			})
		},
	}
}

func newInfoCommand(opts *config.Options, logLevel *string) *cobra.Command {
	return &cobra.Command{
		Use:   "info",
		Short: "Show deployed status and outputs of configured stacks",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd, opts, logLevel, func(s *session) error {
				return s.runInfo(cmd.Context())
			})
		},
	}
}

// runInfo never touches the persistent graph lock, so regions run at once.
func (s *session) runInfo(ctx context.Context) error {
	var mu sync.Mutex
	byRegion := map[string][]action.StackInfo{}
	results, err := regions.Run(ctx, s.opts.TargetRegions(), 0, func(ctx context.Context, region string) error {
		sc, err := s.regionContext(region)
		if err != nil {
			return err
		}
		aopts, err := s.actionOptions(ctx, region)
		if err != nil {
			return err
		}
		infos, err := action.Info(ctx, sc, aopts)
		if err != nil {
			return err
		}
		mu.Lock()
		byRegion[region] = infos
		mu.Unlock()
		return nil
	})
	for _, r := range results {
		infos, ok := byRegion[r.Region]
		if !ok {
			continue
		}
		if perr := s.printInfo(r.Region, infos); perr != nil && err == nil {
			err = perr
		}
	}
	return err
}

func (s *session) printInfo(region string, infos []action.StackInfo) error {
	if s.opts.Output == "json" {
		enc := json.NewEncoder(s.out)
		enc.SetIndent("", "  ")
		return enc.Encode(infos)
	}
	if region != "" {
		fmt.Fprintf(s.out, "[%s]\n", region)
	}
	return action.PrintInfo(s.out, infos)
}

func newGraphCommand(opts *config.Options, logLevel *string) *cobra.Command {
	var format string
	var reduce bool
	cmd := &cobra.Command{
		Use:   "graph",
		Short: "Render the stack dependency graph",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd, opts, logLevel, func(s *session) error {
				sc, err := s.regionContext(opts.Region)
				if err != nil {
					return err
				}
				g, err := sc.Graph()
				if err != nil {
					return err
				}
				if names := sc.StackNames(); len(names) > 0 {
					g = g.Filtered(withDependencies(g, names))
				}
				return writeGraph(s.out, g, format, reduce)
			})
		},
	}
	cmd.Flags().StringVar(&format, "format", "json", "Output format: json|yaml|dot|mermaid")
	cmd.Flags().BoolVar(&reduce, "reduce", false, "Apply transitive reduction before rendering")
	return cmd
}

func withDependencies(g *graph.Graph, names []string) []string {
	seen := map[string]struct{}{}
	var out []string
	for _, n := range names {
		for _, m := range append([]string{n}, g.TransitiveDependencies(n)...) {
			if _, ok := seen[m]; ok {
				continue
			}
			seen[m] = struct{}{}
			out = append(out, m)
		}
	}
	return out
}

func writeGraph(w io.Writer, g *graph.Graph, format string, reduce bool) error {
	if reduce {
		g = g.TransitiveReduction()
	}
	switch strings.ToLower(format) {
	case "json":
		b, err := g.MarshalJSON()
		if err != nil {
			return err
		}
		_, err = fmt.Fprintf(w, "%s\n", b)
		return err
	case "yaml":
		b, err := yaml.Marshal(g)
		if err != nil {
			return err
		}
		_, err = w.Write(b)
		return err
	case "dot":
		return g.WriteDOT(w)
	case "mermaid":
		return g.WriteMermaid(w)
	default:
		return fmt.Errorf("--format must be json|yaml|dot|mermaid (got %q)", format)
	}
}

func splitList(in []string) []string {
	var out []string
	for _, item := range in {
		for _, part := range strings.Split(item, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}
