package provider

import (
	"sort"
	"strings"

	"render-credit-platform/internal/domain/ports/adapter"
)

var _ adapter.ProviderRegistry = (*Registry)(nil)

// Registry resolves render providers by their lower-cased name.
type Registry struct {
	byName map[string]adapter.RenderProvider
}

func NewRegistry(providers ...adapter.RenderProvider) *Registry {
	r := &Registry{byName: make(map[string]adapter.RenderProvider, len(providers))}
	for _, p := range providers {
		r.Register(p)
	}
	return r
}

// Register adds p, replacing any provider with the same name. Not safe after startup.
func (r *Registry) Register(p adapter.RenderProvider) {
	if p == nil {
		return
	}
	r.byName[strings.ToLower(p.Name())] = p
}

func (r *Registry) Get(name string) (adapter.RenderProvider, bool) {
	p, ok := r.byName[strings.ToLower(strings.TrimSpace(name))]
	return p, ok
}

func (r *Registry) Names() []string {
	out := make([]string, 0, len(r.byName))
	for n := range r.byName {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}
