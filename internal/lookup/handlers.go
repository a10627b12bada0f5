package lookup

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
)

const (
	EnvHandler      = "env"
	OutputHandler   = "output"
	HookDataHandler = "hook_data"
)

// EnvResolver reads keys from an environment file map.
type EnvResolver map[string]string

func (e EnvResolver) Resolve(_ context.Context, query string) (string, error) {
	v, ok := e[query]
	if !ok {
		return "", fmt.Errorf("environment key %q is not defined", query)
	}
	return v, nil
}

// OutputFetcher returns the outputs of a deployed stack by its short name.
type OutputFetcher func(ctx context.Context, stack string) (map[string]string, error)

// OutputResolver resolves "stack::OutputName".
type OutputResolver struct {
	Fetch OutputFetcher
}

func (o OutputResolver) Resolve(ctx context.Context, query string) (string, error) {
	stack, name, err := SplitOutputQuery(query)
	if err != nil {
		return "", err
	}
	outputs, err := o.Fetch(ctx, stack)
	if err != nil {
		return "", err
	}
	v, ok := outputs[name]
	if !ok {
		return "", fmt.Errorf("stack %q has no output %q", stack, name)
	}
	return v, nil
}

// SplitOutputQuery parses "stack::Output".
func SplitOutputQuery(query string) (string, string, error) {
	stack, name, ok := strings.Cut(strings.TrimSpace(query), "::")
	stack = strings.TrimSpace(stack)
	name = strings.TrimSpace(name)
	if !ok || stack == "" || name == "" {
		return "", "", fmt.Errorf("output lookup %q must look like stack::Output", query)
	}
	return stack, name, nil
}

// HookDataResolver resolves "data_key::field" against results stored by
// build hooks.
type HookDataResolver struct {
	Fetch func(key string) (map[string]any, bool)
}

func (h HookDataResolver) Resolve(_ context.Context, query string) (string, error) {
	key, field, ok := strings.Cut(strings.TrimSpace(query), "::")
	key = strings.TrimSpace(key)
	field = strings.TrimSpace(field)
	if !ok || key == "" || field == "" {
		return "", fmt.Errorf("hook_data lookup %q must look like data_key::field", query)
	}
	data, ok := h.Fetch(key)
	if !ok {
		return "", fmt.Errorf("no hook stored data under %q", key)
	}
	raw, ok := data[field]
	if !ok {
		return "", fmt.Errorf("hook data %q has no field %q", key, field)
	}
	switch v := raw.(type) {
	case string:
		return v, nil
	case nil:
		return "", nil
	case map[string]any, []any:
		b, err := json.Marshal(v)
		if err != nil {
			return "", err
		}
		return string(b), nil
	default:
		return fmt.Sprint(v), nil
	}
}
