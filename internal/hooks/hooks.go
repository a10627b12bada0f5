// File: internal/hooks/hooks.go
// Brief: pre_build and post_build command hooks.

// Package hooks runs the commands configured around a build. Each hook is a
// single process started without a shell; its args are resolved through the
// lookup registry and exported as environment variables.
package hooks

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"

	"github.com/go-logr/logr"

	"github.com/example/stackctl/internal/config"
)

// Stages.
const (
	PreBuild  = "pre_build"
	PostBuild = "post_build"
)

// Resolver expands ${...} lookups in hook args.
type Resolver interface {
	ResolveMap(ctx context.Context, m map[string]string) (map[string]string, error)
}

// DataSink receives the JSON object printed by hooks with a data_key.
type DataSink interface {
	SetHookData(key string, data map[string]any)
}

type Options struct {
	// Dir is the working directory for hooks without one, and the base for
	// relative hook dirs.
	Dir      string
	Resolver Resolver
	Data     DataSink
	Logger   logr.Logger
	// Out receives hook output lines. Nil discards them.
	Out io.Writer
	// Env is the base environment. Nil uses the current process environment.
	Env []string
}

// HookError reports a required hook that did not succeed.
type HookError struct {
	Stage string
	Hook  string
	Err   error
}

func (e *HookError) Error() string {
	return fmt.Sprintf("%s hook %q: %v", e.Stage, e.Hook, e.Err)
}

func (e *HookError) Unwrap() error { return e.Err }

// Run executes hooks in order. Disabled hooks are skipped. A failing
// required hook stops the run; other failures are logged and the next hook
// runs.
func Run(ctx context.Context, stage string, defs []config.HookDef, opts Options) error {
	log := opts.Logger.WithValues("stage", stage)
	if len(defs) == 0 {
		log.V(1).Info("no hooks defined")
		return nil
	}
	if opts.Out == nil {
		opts.Out = io.Discard
	}
	for _, def := range defs {
		label := def.Label()
		if !def.IsEnabled() {
			log.V(1).Info("hook is disabled; skipping", "hook", label)
			continue
		}
		log.Info("executing hook", "hook", label)
		err := runOne(ctx, stage, def, opts)
		if err == nil {
			continue
		}
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) || ctx.Err() != nil {
			return &HookError{Stage: stage, Hook: label, Err: err}
		}
		if def.IsRequired() {
			log.Error(err, "required hook failed", "hook", label)
			return &HookError{Stage: stage, Hook: label, Err: err}
		}
		log.Info("non-required hook failed", "hook", label, "error", err.Error())
	}
	return nil
}

func runOne(ctx context.Context, stage string, def config.HookDef, opts Options) error {
	argv, err := def.Argv()
	if err != nil {
		return err
	}
	args := def.Args
	if len(args) > 0 && opts.Resolver != nil {
		args, err = opts.Resolver.ResolveMap(ctx, def.Args)
		if err != nil {
			if stage == PreBuild {
				opts.Logger.Info("output lookups in pre_build hooks need the stack to exist already", "hook", def.Label())
			}
			return fmt.Errorf("resolve args: %w", err)
		}
	}

	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	cmd.Dir = workDir(opts.Dir, def.Dir)
	cmd.Env = hookEnv(opts.Env, stage, args)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	runErr := cmd.Run()
	emitOutput(opts.Out, def.Label(), stderr.Bytes())
	if def.DataKey == "" {
		emitOutput(opts.Out, def.Label(), stdout.Bytes())
	}
	if runErr != nil {
		return fmt.Errorf("%s: %w", strings.Join(argv, " "), runErr)
	}

	if def.DataKey == "" {
		return nil
	}
	data := map[string]any{}
	if raw := bytes.TrimSpace(stdout.Bytes()); len(raw) > 0 {
		if err := json.Unmarshal(raw, &data); err != nil {
			return fmt.Errorf("data_key %q: hook output is not a JSON object: %w", def.DataKey, err)
		}
	}
	if opts.Data != nil {
		opts.Data.SetHookData(def.DataKey, data)
		opts.Logger.V(1).Info("stored hook data", "hook", def.Label(), "dataKey", def.DataKey, "fields", len(data))
	}
	return nil
}

func workDir(base, dir string) string {
	dir = strings.TrimSpace(dir)
	switch {
	case dir == "":
		return base
	case filepath.IsAbs(dir) || base == "":
		return dir
	default:
		return filepath.Join(base, dir)
	}
}

func hookEnv(base []string, stage string, args map[string]string) []string {
	if base == nil {
		base = os.Environ()
	}
	env := append([]string(nil), base...)
	env = append(env, "STACKCTL_HOOK_STAGE="+stage)
	keys := make([]string, 0, len(args))
	for k := range args {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		env = append(env, k+"="+args[k])
	}
	return env
}

func emitOutput(w io.Writer, label string, output []byte) {
	if len(output) == 0 {
		return
	}
	text := strings.ReplaceAll(string(output), "\r\n", "\n")
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimRight(line, " \t\r")
		if strings.TrimSpace(line) == "" {
			continue
		}
		fmt.Fprintf(w, "hook-output %s: %s\n", label, line)
	}
}
