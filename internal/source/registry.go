package source

import (
	"fmt"
	"sort"
)

// Registry holds every configured adapter by provider name.
type Registry struct {
	adapters map[string]Adapter
	defaults []string
}

// NewRegistry creates a registry whose Select falls back to defaults.
func NewRegistry(defaults []string) *Registry {
	return &Registry{
		adapters: make(map[string]Adapter),
		defaults: defaults,
	}
}

// Register adds an adapter under its Name(). A later registration replaces
// an earlier one with the same name.
func (r *Registry) Register(a Adapter) {
	r.adapters[a.Name()] = a
}

// Names returns the registered provider names, sorted.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.adapters))
	for name := range r.adapters {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Set is the adapter selection for one niche job.
type Set struct {
	Product  ProductSource
	Catalog  CatalogSource
	Keywords []KeywordSource
	Bids     BidSource
	Analysis AnalysisSource
	Reviews  ReviewSource
}

// Select resolves provider names into a Set. An empty list means the
// registry defaults. Unknown names are an error, and so is a selection
// without a product source.
func (r *Registry) Select(names []string) (*Set, error) {
	if len(names) == 0 {
		names = r.defaults
	}

	set := &Set{}
	for _, name := range names {
		a, ok := r.adapters[name]
		if !ok {
			return nil, fmt.Errorf("unknown source %q", name)
		}
		if p, ok := a.(ProductSource); ok && set.Product == nil {
			set.Product = p
		}
		if c, ok := a.(CatalogSource); ok && set.Catalog == nil {
			set.Catalog = c
		}
		if k, ok := a.(KeywordSource); ok {
			set.Keywords = append(set.Keywords, k)
		}
		if b, ok := a.(BidSource); ok && set.Bids == nil {
			set.Bids = b
		}
		if an, ok := a.(AnalysisSource); ok && set.Analysis == nil {
			set.Analysis = an
		}
		if rv, ok := a.(ReviewSource); ok && set.Reviews == nil {
			set.Reviews = rv
		}
	}

	if set.Product == nil {
		return nil, fmt.Errorf("no product source among %v", names)
	}
	return set, nil
}

// Validate reports whether every name is registered.
func (r *Registry) Validate(names []string) error {
	for _, name := range names {
		if _, ok := r.adapters[name]; !ok {
			return fmt.Errorf("unknown source %q", name)
		}
	}
	return nil
}
