// Package tools holds the tool registry and the built-in wallet tools
// exposed to the model.
package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/VeChain-AI-Terminal/terminal-core/internal/domain"
	"github.com/VeChain-AI-Terminal/terminal-core/internal/domain/tool"
)

// Registry is the closed set of tools the model may call. It is built
// once at startup and never mutated afterwards, so lookups need no lock.
type Registry struct {
	specs   map[string]tool.Spec
	timeout time.Duration
}

// NewRegistry validates and indexes the given specs. A malformed spec or
// a duplicate name fails construction; nothing is registered lazily.
func NewRegistry(timeout time.Duration, specs ...tool.Spec) (*Registry, error) {
	r := &Registry{
		specs:   make(map[string]tool.Spec, len(specs)),
		timeout: timeout,
	}
	for i := range specs {
		s := specs[i]
		if err := s.Validate(); err != nil {
			return nil, err
		}
		if _, exists := r.specs[s.Name]; exists {
			return nil, fmt.Errorf("tool %s: registered twice", s.Name)
		}
		r.specs[s.Name] = s
	}
	return r, nil
}

// Lookup returns the spec for name or domain.ErrNotFound.
func (r *Registry) Lookup(name string) (tool.Spec, error) {
	s, ok := r.specs[name]
	if !ok {
		return tool.Spec{}, fmt.Errorf("tool %s: %w", name, domain.ErrNotFound)
	}
	return s, nil
}

// Filter returns the specs visible under the given profile, sorted by
// name. Filtering never mutates the registry.
func (r *Registry) Filter(profile tool.Profile) []tool.Spec {
	if profile == tool.ProfileNone {
		return nil
	}
	out := make([]tool.Spec, 0, len(r.specs))
	for _, s := range r.specs {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Invoke runs one tool call: decode arguments, check them against the
// schema, then run the invoker under the registry's timeout. Every
// failure comes back as a *tool.Error so the orchestrator can record it
// and keep the loop alive.
func (r *Registry) Invoke(ctx context.Context, name string, rawInput json.RawMessage) (json.RawMessage, error) {
	spec, err := r.Lookup(name)
	if err != nil {
		return nil, &tool.Error{Name: name, Err: err}
	}

	input := map[string]any{}
	if len(rawInput) > 0 {
		if err := json.Unmarshal(rawInput, &input); err != nil {
			return nil, &tool.Error{Name: name, Err: fmt.Errorf("arguments are not a JSON object: %w", err)}
		}
	}
	if err := spec.CheckInput(input); err != nil {
		return nil, &tool.Error{Name: name, Err: err}
	}

	callCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	out, err := spec.Invoke(callCtx, input)
	if err != nil {
		return nil, &tool.Error{Name: name, Err: err}
	}
	return out, nil
}
