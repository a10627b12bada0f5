package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/mitchellh/go-homedir"
	"gopkg.in/yaml.v3"
)

// LoadEnvironment reads a flat "KEY: value" YAML file used by the env
// lookup. Non-string scalars are kept in their YAML text form.
func LoadEnvironment(path string) (map[string]string, error) {
	expanded, err := homedir.Expand(strings.TrimSpace(path))
	if err != nil {
		return nil, err
	}
	raw, err := os.ReadFile(expanded)
	if err != nil {
		return nil, err
	}
	var node yaml.Node
	if err := yaml.Unmarshal(raw, &node); err != nil {
		return nil, fmt.Errorf("parse %s: %w", expanded, err)
	}
	out := map[string]string{}
	if len(node.Content) == 0 {
		return out, nil
	}
	doc := node.Content[0]
	if doc.Kind != yaml.MappingNode {
		return nil, fmt.Errorf("%s: expected a mapping of KEY: value", expanded)
	}
	for i := 0; i+1 < len(doc.Content); i += 2 {
		k, v := doc.Content[i], doc.Content[i+1]
		if v.Kind != yaml.ScalarNode {
			return nil, fmt.Errorf("%s: %s must be a scalar", expanded, k.Value)
		}
		out[k.Value] = v.Value
	}
	return out, nil
}

// EnvironmentCandidates lists the environment files tried for a config file,
// most specific first: <name>-<region>.env then <name>.env in the config's
// directory.
func EnvironmentCandidates(configPath, name, region string) []string {
	dir := filepath.Dir(configPath)
	var out []string
	if name != "" && region != "" {
		out = append(out, filepath.Join(dir, name+"-"+region+".env"))
	}
	if name != "" {
		out = append(out, filepath.Join(dir, name+".env"))
	}
	return out
}

// FindEnvironment loads the first existing candidate. A nil map with a nil
// error means none exist.
func FindEnvironment(configPath, name, region string) (map[string]string, string, error) {
	for _, p := range EnvironmentCandidates(configPath, name, region) {
		if _, err := os.Stat(p); err != nil {
			continue
		}
		env, err := LoadEnvironment(p)
		return env, p, err
	}
	return nil, "", nil
}
