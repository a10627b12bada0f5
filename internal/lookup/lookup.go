// File: internal/lookup/lookup.go
// Brief: ${handler query} variable resolution and dependency inference.

package lookup

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"sync"
)

var lookupPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\s+([^}]+)\}`)

// ErrUnknownHandler is returned for ${name ...} with no registered resolver.
var ErrUnknownHandler = errors.New("unknown lookup handler")

// Resolver turns a lookup query into a value.
type Resolver interface {
	Resolve(ctx context.Context, query string) (string, error)
}

type ResolverFunc func(ctx context.Context, query string) (string, error)

func (f ResolverFunc) Resolve(ctx context.Context, query string) (string, error) {
	return f(ctx, query)
}

// Lookup is one ${handler query} occurrence.
type Lookup struct {
	Handler string
	Query   string
	Raw     string
}

// Parse returns every lookup in value, in order of appearance.
func Parse(value string) []Lookup {
	var out []Lookup
	for _, m := range lookupPattern.FindAllStringSubmatch(value, -1) {
		out = append(out, Lookup{Handler: m[1], Query: strings.TrimSpace(m[2]), Raw: m[0]})
	}
	return out
}

type Registry struct {
	mu       sync.RWMutex
	handlers map[string]Resolver
}

func NewRegistry() *Registry {
	return &Registry{handlers: map[string]Resolver{}}
}

func (r *Registry) Register(name string, res Resolver) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[name] = res
}

func (r *Registry) Handlers() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.handlers))
	for k := range r.handlers {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Resolve substitutes every lookup in value.
func (r *Registry) Resolve(ctx context.Context, value string) (string, error) {
	lookups := Parse(value)
	if len(lookups) == 0 {
		return value, nil
	}
	out := value
	for _, l := range lookups {
		r.mu.RLock()
		h, ok := r.handlers[l.Handler]
		r.mu.RUnlock()
		if !ok {
			return "", fmt.Errorf("%w %q in %q", ErrUnknownHandler, l.Handler, l.Raw)
		}
		v, err := h.Resolve(ctx, l.Query)
		if err != nil {
			return "", fmt.Errorf("resolve %s: %w", l.Raw, err)
		}
		out = strings.Replace(out, l.Raw, v, 1)
	}
	return out, nil
}

// ResolveMap resolves every value of m into a new map.
func (r *Registry) ResolveMap(ctx context.Context, m map[string]string) (map[string]string, error) {
	out := make(map[string]string, len(m))
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		v, err := r.Resolve(ctx, m[k])
		if err != nil {
			return nil, fmt.Errorf("%s: %w", k, err)
		}
		out[k] = v
	}
	return out, nil
}

// Dependencies returns the stack names referenced by output lookups in
// values, sorted and de-duplicated.
func Dependencies(values ...string) []string {
	set := map[string]struct{}{}
	for _, v := range values {
		for _, l := range Parse(v) {
			if l.Handler != OutputHandler {
				continue
			}
			stack, _, err := SplitOutputQuery(l.Query)
			if err != nil {
				continue
			}
			set[stack] = struct{}{}
		}
	}
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
