// main.go bootstraps stackctl: it builds the root Cobra command, binds flags to STACKCTL_* env vars and executes with signal-aware contexts.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/example/stackctl/internal/action"
	"github.com/example/stackctl/internal/config"
	"github.com/example/stackctl/internal/graph"
	"github.com/example/stackctl/internal/persistgraph"
	"github.com/example/stackctl/internal/plan"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	rootCmd := newRootCommand()
	err := rootCmd.ExecuteContext(ctx)
	handleError(err)
	if err != nil {
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	opts := config.NewOptions()
	logLevel := "info"
	cmd := &cobra.Command{
		Use:           "stackctl",
		Short:         "Dependency-ordered CloudFormation stack orchestration",
		Long:          "stackctl builds, destroys and diffs CloudFormation stacks in dependency order, tracking what it deployed in a locked persistent graph.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().StringVar(&logLevel, "log-level", logLevel, "Log level (debug, info, warn, error)")
	opts.BindFlags(cmd.PersistentFlags())

	commands := []*cobra.Command{
		newBuildCommand(opts, &logLevel),
		newDestroyCommand(opts, &logLevel),
		newDiffCommand(opts, &logLevel),
		newOutlineCommand(opts, &logLevel),
		newInfoCommand(opts, &logLevel),
		newGraphCommand(opts, &logLevel),
		newLockCommand(opts, &logLevel),
		newUnlockCommand(opts, &logLevel),
		newPersistentGraphCommand(opts, &logLevel),
	}
	cmd.AddCommand(commands...)
	cmd.Example = `  # Build every stack in dependency order
  stackctl build -c stackctl.yaml --region us-east-1

  # Show what destroy would remove, then run it
  stackctl destroy -c stackctl.yaml
  stackctl destroy -c stackctl.yaml --force

  # Render the dependency graph
  stackctl graph --format mermaid --reduce`
	bindViper(append([]*cobra.Command{cmd}, commands...)...)
	return cmd
}

func bindViper(commands ...*cobra.Command) {
	if len(commands) == 0 {
		return
	}
	v := viper.New()
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.SetEnvPrefix("STACKCTL")
	v.AutomaticEnv()
	configFile := os.Getenv("STACKCTL_SETTINGS")
	configureConfigFile(v, configFile)

	cobra.OnInitialize(func() {
		for _, cmd := range commands {
			if err := v.BindPFlags(cmd.Flags()); err != nil {
				cobra.CheckErr(err)
			}
			if err := v.BindPFlags(cmd.PersistentFlags()); err != nil {
				cobra.CheckErr(err)
			}
		}
		if err := readConfigFile(v, configFile != ""); err != nil {
			cobra.CheckErr(err)
		}
		for _, cmd := range commands {
			applyViper(v, cmd.Flags(), cmd.PersistentFlags())
		}
	})
}

// applyViper copies env or settings-file values onto flags the user did not
// set on the command line.
func applyViper(v *viper.Viper, sets ...*pflag.FlagSet) {
	for _, fs := range sets {
		fs.VisitAll(func(f *pflag.Flag) {
			if f.Changed || !v.IsSet(f.Name) {
				return
			}
			val := fmt.Sprintf("%v", v.Get(f.Name))
			if f.Value.Type() == "stringSlice" {
				val = strings.Trim(val, "[]")
				val = strings.Join(strings.Fields(val), ",")
			}
			if val != "" {
				_ = f.Value.Set(val)
			}
		})
	}
}

func configureConfigFile(v *viper.Viper, explicitPath string) {
	if explicitPath != "" {
		v.SetConfigFile(explicitPath)
		return
	}
	v.SetConfigName("settings")
	v.SetConfigType("yaml")
	if dir, err := os.UserConfigDir(); err == nil {
		v.AddConfigPath(filepath.Join(dir, "stackctl"))
	}
	v.AddConfigPath(".")
}

func readConfigFile(v *viper.Viper, strict bool) error {
	if err := v.ReadInConfig(); err != nil {
		var cfgErr viper.ConfigFileNotFoundError
		if errors.As(err, &cfgErr) && !strict {
			return nil
		}
		return err
	}
	return nil
}

func handleError(err error) {
	if err == nil || errors.Is(err, pflag.ErrHelp) {
		return
	}
	fmt.Fprintf(os.Stderr, "Error: %s\n", errorMessage(err))
}

func errorMessage(err error) string {
	var cycle *graph.CyclicGraphError
	var failed *plan.FailedError
	switch {
	case errors.Is(err, persistgraph.ErrLocked):
		return fmt.Sprintf("%s\nHint: another run holds the persistent graph lock. If it is gone, run 'stackctl unlock --force'.", err)
	case errors.Is(err, persistgraph.ErrLockCodeMismatch):
		return fmt.Sprintf("%s\nHint: the lock is held by a different run. Run 'stackctl unlock --force' only if that run has stopped.", err)
	case errors.As(err, &cycle):
		return fmt.Sprintf("%s\nHint: check the requires and required_by entries of the stacks listed.", err)
	case errors.Is(err, action.ErrStackNotFound):
		return fmt.Sprintf("%s\nHint: confirm --region and the namespace match the deployed stacks.", err)
	case errors.As(err, &failed):
		return fmt.Sprintf("%s\nHint: rerun with --log-level debug to see every status transition.", err)
	case errors.Is(err, context.Canceled):
		return "interrupted"
	case errors.Is(err, context.DeadlineExceeded):
		return fmt.Sprintf("%s\nHint: raise --poll-interval or verify network connectivity to AWS.", err)
	}
	return err.Error()
}
