package cachekey

import (
	"fmt"
	"sort"
	"sync"
)

// Constructor builds the builder of a named cache for the given identifier.
// It may preset anything the cache always carries: TTL, list, contexts, flags.
type Constructor func(id Identifier) *Builder

// Registry maps cache names to constructors. A Factory consults it so that
// builders recreated from stored keys get the same settings as the ones the
// application created.
//
// Registry is safe for concurrent use.
type Registry struct {
	mu           sync.RWMutex
	constructors map[string]Constructor
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		constructors: make(map[string]Constructor),
	}
}

// Register associates a constructor with a cache name, replacing any previous one.
func (r *Registry) Register(name string, c Constructor) error {
	if err := validateName("cache", name); err != nil {
		return err
	}
	if c == nil {
		return fmt.Errorf("constructor for cache %q is nil", name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.constructors[name] = c
	return nil
}

// Build runs the constructor registered under name. The returned builder is
// always addressed to name(id), whatever the constructor did.
func (r *Registry) Build(name string, id Identifier) (*Builder, bool) {
	r.mu.RLock()
	c, ok := r.constructors[name]
	r.mu.RUnlock()

	if !ok {
		return nil, false
	}

	b := c(id)
	if b == nil {
		b = NewBuilder()
	}
	return b.WithIdentifier(name, id), true
}

// Names returns the registered cache names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.constructors))
	for name := range r.constructors {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
