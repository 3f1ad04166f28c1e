package cacher

import (
	"fmt"
	"slices"
	"sort"
	"strings"
	"sync"
)

// Graph is the dependency configuration of the cascade: for every cache name,
// the names of the caches that embed it as a list member. With
// {"post": ["user"]}, invalidating post(42) purges every user list that
// contains post 42.
//
// Graph is safe for concurrent use.
type Graph struct {
	mu         sync.RWMutex
	dependents map[string][]string
}

// NewGraph builds a graph from an adjacency map. Duplicate and empty
// dependent names are dropped.
func NewGraph(adjacency map[string][]string) *Graph {
	g := &Graph{dependents: make(map[string][]string, len(adjacency))}
	for name, deps := range adjacency {
		g.Add(name, deps...)
	}
	return g
}

// Add appends dependents to name.
func (g *Graph) Add(name string, dependents ...string) {
	g.mu.Lock()
	defer g.mu.Unlock()

	existing := g.dependents[name]
	for _, dep := range dependents {
		if dep == "" || slices.Contains(existing, dep) {
			continue
		}
		existing = append(existing, dep)
	}
	g.dependents[name] = existing
}

// Dependents returns a copy of the caches depending on name, in insertion order.
// A nil graph has no dependents.
func (g *Graph) Dependents(name string) []string {
	if g == nil {
		return nil
	}

	g.mu.RLock()
	defer g.mu.RUnlock()

	deps := g.dependents[name]
	if len(deps) == 0 {
		return nil
	}
	out := make([]string, len(deps))
	copy(out, deps)
	return out
}

// Names returns every cache name that has dependents, sorted.
func (g *Graph) Names() []string {
	g.mu.RLock()
	defer g.mu.RUnlock()

	names := make([]string, 0, len(g.dependents))
	for name, deps := range g.dependents {
		if len(deps) > 0 {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

// Validate reports the first dependency cycle found, e.g. "post -> user -> post".
// Cycles are tolerated by the cascade; Validate exists so a service can warn at startup.
func (g *Graph) Validate() error {
	g.mu.RLock()
	defer g.mu.RUnlock()

	const (
		unvisited = iota
		inProgress
		done
	)
	state := make(map[string]int, len(g.dependents))
	var path []string

	var visit func(name string) error
	visit = func(name string) error {
		switch state[name] {
		case inProgress:
			start := 0
			for i, n := range path {
				if n == name {
					start = i
					break
				}
			}
			cycle := append(append([]string{}, path[start:]...), name)
			return fmt.Errorf("dependency cycle: %s", strings.Join(cycle, " -> "))
		case done:
			return nil
		}

		state[name] = inProgress
		path = append(path, name)
		for _, dep := range g.dependents[name] {
			if err := visit(dep); err != nil {
				return err
			}
		}
		path = path[:len(path)-1]
		state[name] = done
		return nil
	}

	names := make([]string, 0, len(g.dependents))
	for name := range g.dependents {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		if err := visit(name); err != nil {
			return err
		}
	}
	return nil
}
