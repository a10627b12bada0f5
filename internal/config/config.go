// File: internal/config/config.go
// Brief: Typed stack configuration (YAML, strict keys).

// Package config defines the stack configuration file format and the CLI
// options shared by stackctl's commands.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/mattn/go-shellwords"
	"github.com/mitchellh/go-homedir"
	"gopkg.in/yaml.v3"
)

const (
	DefaultNamespaceDelimiter = "-"
	DefaultPersistentGraphKey = ""
	InProgressWait            = "wait"
)

// Config is the top-level stack configuration file.
type Config struct {
	Namespace string `yaml:"namespace"`
	// NamespaceDelimiter defaults to "-"; an explicit empty string joins
	// namespace and stack name directly.
	NamespaceDelimiter *string `yaml:"namespace_delimiter,omitempty"`
	// CfnginBucket overrides the derived bucket name. An explicit empty
	// string disables remote state.
	CfnginBucket       *string           `yaml:"cfngin_bucket,omitempty"`
	CfnginBucketRegion string            `yaml:"cfngin_bucket_region,omitempty"`
	PersistentGraphKey string            `yaml:"persistent_graph_key,omitempty"`
	Tags               map[string]string `yaml:"tags,omitempty"`
	Stacks             []StackDef        `yaml:"stacks"`
	Targets            []TargetDef       `yaml:"targets,omitempty"`
	// PreBuild and PostBuild run around the build plan, in order.
	PreBuild  []HookDef `yaml:"pre_build,omitempty"`
	PostBuild []HookDef `yaml:"post_build,omitempty"`
}

type StackDef struct {
	Name                  string            `yaml:"name"`
	StackName             string            `yaml:"stack_name,omitempty"`
	Description           string            `yaml:"description,omitempty"`
	Requires              []string          `yaml:"requires,omitempty"`
	RequiredBy            []string          `yaml:"required_by,omitempty"`
	Enabled               *bool             `yaml:"enabled,omitempty"`
	Locked                bool              `yaml:"locked,omitempty"`
	Protected             bool              `yaml:"protected,omitempty"`
	TerminationProtection bool              `yaml:"termination_protection,omitempty"`
	InProgressBehavior    string            `yaml:"in_progress_behavior,omitempty"`
	TemplatePath          string            `yaml:"template_path,omitempty"`
	Parameters            map[string]string `yaml:"parameters,omitempty"`
	Tags                  map[string]string `yaml:"tags,omitempty"`
	Region                string            `yaml:"region,omitempty"`
}

// IsEnabled defaults to true when unset.
func (s StackDef) IsEnabled() bool {
	return s.Enabled == nil || *s.Enabled
}

// TargetDef groups stacks without deploying anything itself.
type TargetDef struct {
	Name       string   `yaml:"name"`
	Requires   []string `yaml:"requires,omitempty"`
	RequiredBy []string `yaml:"required_by,omitempty"`
}

// HookDef is a command run before or after a build. Args values may use
// lookups and are exported to the command's environment.
type HookDef struct {
	Name    string            `yaml:"name,omitempty"`
	Command string            `yaml:"command"`
	Args    map[string]string `yaml:"args,omitempty"`
	Dir     string            `yaml:"dir,omitempty"`

	// DataKey stores the command's JSON object output for ${hook_data ...}.
	DataKey  string `yaml:"data_key,omitempty"`
	Enabled  *bool  `yaml:"enabled,omitempty"`
	Required *bool  `yaml:"required,omitempty"`
}

func (h HookDef) IsEnabled() bool { return h.Enabled == nil || *h.Enabled }

// IsRequired defaults to true: a failing hook stops the build.
func (h HookDef) IsRequired() bool { return h.Required == nil || *h.Required }

// Label names the hook in logs.
func (h HookDef) Label() string {
	if name := strings.TrimSpace(h.Name); name != "" {
		return name
	}
	return strings.TrimSpace(h.Command)
}

// Argv splits Command with shell quoting rules. No shell is involved.
func (h HookDef) Argv() ([]string, error) {
	args, err := shellwords.Parse(h.Command)
	if err != nil {
		return nil, fmt.Errorf("parse hook command %q: %w", h.Command, err)
	}
	if len(args) == 0 {
		return nil, errors.New("hook command is required")
	}
	return args, nil
}

// Delimiter returns the namespace delimiter, defaulting to "-".
func (c *Config) Delimiter() string {
	if c.NamespaceDelimiter == nil {
		return DefaultNamespaceDelimiter
	}
	return *c.NamespaceDelimiter
}

// Load reads and validates a config file. "~" is expanded.
func Load(path string) (*Config, error) {
	expanded, err := homedir.Expand(strings.TrimSpace(path))
	if err != nil {
		return nil, fmt.Errorf("expand %s: %w", path, err)
	}
	raw, err := os.ReadFile(expanded)
	if err != nil {
		return nil, err
	}
	cfg, err := Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", expanded, err)
	}
	return cfg, nil
}

// Parse decodes raw YAML. Unknown keys are rejected.
func Parse(raw []byte) (*Config, error) {
	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)
	var cfg Config
	if err := dec.Decode(&cfg); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, errors.New("config is empty")
		}
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	if strings.TrimSpace(c.Namespace) == "" {
		return errors.New("namespace is required")
	}
	seen := map[string]string{}
	for i, s := range c.Stacks {
		if strings.TrimSpace(s.Name) == "" {
			return fmt.Errorf("stacks[%d].name is required", i)
		}
		if prev, ok := seen[s.Name]; ok {
			return fmt.Errorf("duplicate name %q (stacks[%d] and %s)", s.Name, i, prev)
		}
		seen[s.Name] = fmt.Sprintf("stacks[%d]", i)
		switch s.InProgressBehavior {
		case "", InProgressWait:
		default:
			return fmt.Errorf("stacks[%d].in_progress_behavior must be empty or %q (got %q)", i, InProgressWait, s.InProgressBehavior)
		}
	}
	for i, t := range c.Targets {
		if strings.TrimSpace(t.Name) == "" {
			return fmt.Errorf("targets[%d].name is required", i)
		}
		if prev, ok := seen[t.Name]; ok {
			return fmt.Errorf("duplicate name %q (targets[%d] and %s)", t.Name, i, prev)
		}
		seen[t.Name] = fmt.Sprintf("targets[%d]", i)
	}
	for i, h := range c.PreBuild {
		if _, err := h.Argv(); err != nil {
			return fmt.Errorf("pre_build[%d]: %w", i, err)
		}
	}
	for i, h := range c.PostBuild {
		if _, err := h.Argv(); err != nil {
			return fmt.Errorf("post_build[%d]: %w", i, err)
		}
	}
	return nil
}

// Stack returns the stack definition by name.
func (c *Config) Stack(name string) (StackDef, bool) {
	for _, s := range c.Stacks {
		if s.Name == name {
			return s, true
		}
	}
	return StackDef{}, false
}
