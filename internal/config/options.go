// File: internal/config/options.go
// Brief: CLI options shared by the build, destroy and diff commands.

package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/mitchellh/go-homedir"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

const (
	StateBackendAuto   = "auto"
	StateBackendS3     = "s3"
	StateBackendSQLite = "sqlite"
	StateBackendMemory = "memory"
)

// Options holds CLI configuration for an action run.
type Options struct {
	ConfigPath   string
	EnvFile      string
	Region       string
	Regions      []string
	Stacks       []string
	Concurrency  int
	Force        bool
	Tail         bool
	PollInterval time.Duration
	Output       string
	MetricsFile  string
	NoColor      bool

	StateBackend string
	StateDir     string
	S3Endpoint   string
	VaultMount   string

	ProviderRetries int
}

func NewOptions() *Options {
	return &Options{
		ConfigPath:      "stackctl.yaml",
		Concurrency:     0,
		PollInterval:    5 * time.Second,
		Output:          "table",
		StateBackend:    StateBackendAuto,
		StateDir:        ".",
		ProviderRetries: 3,
		VaultMount:      "secret",
	}
}

func (o *Options) AddFlags(cmd *cobra.Command) {
	o.BindFlags(cmd.Flags())
}

// BindFlags attaches action flags to a FlagSet and returns the flag names.
func (o *Options) BindFlags(fs *pflag.FlagSet) []string {
	var names []string
	fs.StringVarP(&o.ConfigPath, "config", "c", o.ConfigPath, "Stack configuration file")
	names = append(names, "config")
	fs.StringVarP(&o.EnvFile, "env-file", "e", o.EnvFile, "Environment file for ${env ...} lookups (defaults to <config>-<region>.env next to the config)")
	names = append(names, "env-file")
	fs.StringVarP(&o.Region, "region", "r", o.Region, "AWS region (defaults to the SDK credential chain)")
	names = append(names, "region")
	fs.StringSliceVar(&o.Regions, "regions", o.Regions, "Run the action once per region (comma-separated); overrides --region")
	names = append(names, "regions")
	fs.StringSliceVar(&o.Stacks, "stacks", o.Stacks, "Only act on these stacks and their dependencies (comma-separated)")
	names = append(names, "stacks")
	fs.IntVarP(&o.Concurrency, "concurrency", "j", o.Concurrency, "Maximum stacks acted on in parallel within a level (0 = unlimited)")
	names = append(names, "concurrency")
	fs.BoolVarP(&o.Force, "force", "f", o.Force, "destroy: act instead of outlining; lift termination protection on stacks being destroyed, including stacks build removes from the config; unlock: drop the lock whoever holds it")
	names = append(names, "force")
	fs.BoolVarP(&o.Tail, "tail", "t", o.Tail, "Tail stack events while waiting")
	names = append(names, "tail")
	fs.DurationVar(&o.PollInterval, "poll-interval", o.PollInterval, "Delay between stack status polls")
	names = append(names, "poll-interval")
	fs.StringVarP(&o.Output, "output", "o", o.Output, "Summary output: table|json")
	names = append(names, "output")
	fs.StringVar(&o.MetricsFile, "metrics-file", o.MetricsFile, "Write Prometheus textfile metrics here after the run")
	names = append(names, "metrics-file")
	fs.BoolVar(&o.NoColor, "no-color", o.NoColor, "Disable coloured output")
	names = append(names, "no-color")
	fs.StringVar(&o.StateBackend, "state-backend", o.StateBackend, "Persistent graph backend: auto|s3|sqlite|memory")
	names = append(names, "state-backend")
	fs.StringVar(&o.StateDir, "state-dir", o.StateDir, "Directory holding .stackctl/state.sqlite for the sqlite backend")
	names = append(names, "state-dir")
	fs.StringVar(&o.S3Endpoint, "s3-endpoint", o.S3Endpoint, "Custom S3 endpoint (MinIO, localstack)")
	names = append(names, "s3-endpoint")
	fs.StringVar(&o.VaultMount, "vault-mount", o.VaultMount, "KV v2 mount for ${vault path::key} lookups (enabled when VAULT_ADDR is set)")
	names = append(names, "vault-mount")
	fs.IntVar(&o.ProviderRetries, "provider-retries", o.ProviderRetries, "Attempts for throttled or transient provider calls")
	names = append(names, "provider-retries")
	return names
}

// Validate normalizes and checks option values.
func (o *Options) Validate() error {
	o.Output = strings.ToLower(strings.TrimSpace(o.Output))
	switch o.Output {
	case "table", "json":
	default:
		return fmt.Errorf("--output must be table|json (got %q)", o.Output)
	}
	o.StateBackend = strings.ToLower(strings.TrimSpace(o.StateBackend))
	switch o.StateBackend {
	case StateBackendAuto, StateBackendS3, StateBackendSQLite, StateBackendMemory:
	default:
		return fmt.Errorf("--state-backend must be auto|s3|sqlite|memory (got %q)", o.StateBackend)
	}
	if o.Concurrency < 0 {
		return fmt.Errorf("--concurrency must be >= 0")
	}
	if o.ProviderRetries < 1 {
		o.ProviderRetries = 1
	}
	o.Stacks = splitCSV(o.Stacks)
	o.Regions = splitCSV(o.Regions)
	for _, p := range []*string{&o.ConfigPath, &o.EnvFile, &o.StateDir, &o.MetricsFile} {
		if *p == "" {
			continue
		}
		expanded, err := homedir.Expand(*p)
		if err != nil {
			return err
		}
		*p = expanded
	}
	return nil
}

func splitCSV(in []string) []string {
	var out []string
	for _, item := range in {
		for _, part := range strings.Split(item, ",") {
			part = strings.TrimSpace(part)
			if part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}

// TargetRegions returns --regions, or --region alone. A single empty entry
// means the SDK default region.
func (o *Options) TargetRegions() []string {
	if len(o.Regions) > 0 {
		return o.Regions
	}
	return []string{o.Region}
}
