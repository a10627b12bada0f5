// File: cmd/stackctl/run.go
// Brief: Per-invocation wiring: config, object store, provider and region fan-out.

package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fatih/color"
	"github.com/go-logr/logr"
	"github.com/spf13/cobra"

	"github.com/example/stackctl/internal/action"
	"github.com/example/stackctl/internal/config"
	"github.com/example/stackctl/internal/logging"
	"github.com/example/stackctl/internal/lookup"
	"github.com/example/stackctl/internal/metrics"
	"github.com/example/stackctl/internal/persistgraph"
	"github.com/example/stackctl/internal/plan"
	"github.com/example/stackctl/internal/provider/cfn"
	"github.com/example/stackctl/internal/regions"
	"github.com/example/stackctl/internal/stackcontext"
)

// session holds what every command needs, independent of region.
type session struct {
	opts    *config.Options
	cfg     *config.Config
	log     logr.Logger
	objects persistgraph.ObjectStore
	metrics *metrics.Metrics
	out     io.Writer
	errOut  io.Writer
	color   bool

	// forceStacks lists locked stacks build may update anyway.
	forceStacks []string
	lookups     map[string]lookup.Resolver

	closers []func() error
}

func openSession(cmd *cobra.Command, opts *config.Options, logLevel string) (*session, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	log, err := logging.New(logLevel)
	if err != nil {
		return nil, err
	}
	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return nil, err
	}
	out := cmd.OutOrStdout()
	useColor := !opts.NoColor && isTerminalWriter(out)
	if !useColor {
		color.NoColor = true
	}
	s := &session{
		opts:    opts,
		cfg:     cfg,
		log:     log,
		metrics: metrics.New(),
		out:     out,
		errOut:  cmd.ErrOrStderr(),
		color:   useColor,
	}
	objects, closer, err := openObjectStore(cmd.Context(), opts, cfg)
	if err != nil {
		return nil, err
	}
	s.objects = objects
	if closer != nil {
		s.closers = append(s.closers, closer)
	}
	if os.Getenv("VAULT_ADDR") != "" {
		v, err := lookup.NewVaultResolver(lookup.VaultConfig{Mount: opts.VaultMount})
		if err != nil {
			return nil, errors.Join(err, s.Close())
		}
		s.lookups = map[string]lookup.Resolver{lookup.VaultHandler: v}
	}
	return s, nil
}

func (s *session) Close() error {
	var errs []error
	for _, c := range s.closers {
		errs = append(errs, c())
	}
	return errors.Join(errs...)
}

// openObjectStore picks the persistent graph backend. auto uses S3 when the
// config sets persistent_graph_key and nothing otherwise.
func openObjectStore(ctx context.Context, opts *config.Options, cfg *config.Config) (persistgraph.ObjectStore, func() error, error) {
	backend := opts.StateBackend
	if backend == config.StateBackendAuto {
		if cfg.PersistentGraphKey == "" {
			return nil, nil, nil
		}
		backend = config.StateBackendS3
	}
	switch backend {
	case config.StateBackendMemory:
		return persistgraph.NewMemoryStore(), nil, nil
	case config.StateBackendSQLite:
		store, err := persistgraph.OpenSQLiteStore(opts.StateDir)
		if err != nil {
			return nil, nil, err
		}
		return store, store.Close, nil
	case config.StateBackendS3:
		region := cfg.CfnginBucketRegion
		if region == "" {
			region = opts.Region
		}
		store, err := persistgraph.NewS3Store(ctx, persistgraph.S3Config{Region: region, Endpoint: opts.S3Endpoint})
		if err != nil {
			return nil, nil, err
		}
		return store, nil, nil
	default:
		return nil, nil, fmt.Errorf("unknown state backend %q", backend)
	}
}

// regionContext builds the run context for one region, loading the matching
// environment file.
func (s *session) regionContext(region string) (*stackcontext.Context, error) {
	env := map[string]string{}
	if s.opts.EnvFile != "" {
		loaded, err := config.LoadEnvironment(s.opts.EnvFile)
		if err != nil {
			return nil, err
		}
		env = loaded
	} else {
		name := strings.TrimSuffix(filepath.Base(s.opts.ConfigPath), filepath.Ext(s.opts.ConfigPath))
		loaded, path, err := config.FindEnvironment(s.opts.ConfigPath, name, region)
		if err != nil {
			return nil, err
		}
		if path != "" {
			s.log.V(1).Info("loaded environment file", "path", path)
			env = loaded
		}
	}
	log := s.log
	if region != "" {
		log = log.WithValues("region", region)
	}
	return stackcontext.New(s.cfg, stackcontext.Options{
		StackNames:  s.opts.Stacks,
		ForceStacks: s.forceStacks,
		Region:      region,
		Environment: env,
		Lookups:     s.lookups,
		ObjectStore: s.objects,
		Logger:      log,
	})
}

func (s *session) actionOptions(ctx context.Context, region string) (action.Options, error) {
	provider, err := cfn.New(ctx, cfn.Config{
		Region:   region,
		Attempts: s.opts.ProviderRetries,
		Logger:   s.log.WithName("cfn"),
	})
	if err != nil {
		return action.Options{}, err
	}
	return action.Options{
		Provider:     provider,
		Concurrency:  s.opts.Concurrency,
		Force:        s.opts.Force,
		Tail:         s.opts.Tail,
		PollInterval: s.opts.PollInterval,
		TemplateRoot: filepath.Dir(s.opts.ConfigPath),
		Logger:       s.log,
		Observer:     s.metrics,
		Out:          s.out,
	}, nil
}

type actionFunc func(ctx context.Context, sc *stackcontext.Context, opts action.Options) (*plan.Summary, error)

// runAction executes fn once per target region and reports every summary.
// Regions run one at a time when a persistent graph is configured since
// they share its lock.
func (s *session) runAction(ctx context.Context, fn actionFunc, tune func(*action.Options)) error {
	targets := s.opts.TargetRegions()
	limit := 0
	if s.cfg.PersistentGraphKey != "" {
		limit = 1
	}
	var mu sync.Mutex
	summaries := map[string]*plan.Summary{}
	results, err := regions.Run(ctx, targets, limit, func(ctx context.Context, region string) error {
		sc, err := s.regionContext(region)
		if err != nil {
			return err
		}
		opts, err := s.actionOptions(ctx, region)
		if err != nil {
			return err
		}
		if tune != nil {
			tune(&opts)
		}
		summary, err := fn(ctx, sc, opts)
		if summary != nil {
			mu.Lock()
			summaries[region] = summary
			mu.Unlock()
		}
		return err
	})
	for _, r := range results {
		if summary := summaries[r.Region]; summary != nil {
			if perr := s.printSummary(r.Region, summary); perr != nil && err == nil {
				err = perr
			}
		}
	}
	if s.opts.MetricsFile != "" {
		if merr := s.metrics.WriteTextfile(s.opts.MetricsFile); merr != nil {
			s.log.Error(merr, "write metrics textfile", "path", s.opts.MetricsFile)
		}
	}
	if failed := regions.Failed(results); len(failed) > 0 && len(targets) > 1 {
		s.log.Info("regions failed", "regions", failed)
	}
	return err
}

func (s *session) printSummary(region string, summary *plan.Summary) error {
	if s.opts.Output == "json" {
		enc := json.NewEncoder(s.out)
		enc.SetIndent("", "  ")
		if region == "" {
			return enc.Encode(summary)
		}
		return enc.Encode(struct {
			Region string `json:"region"`
			*plan.Summary
		}{region, summary})
	}
	if region != "" {
		fmt.Fprintf(s.out, "\n[%s]\n", region)
	}
	return plan.PrintSummaryTable(s.out, summary, s.color)
}
