package cachekey

import (
	"sort"
)

// Contexts is the set of orthogonal qualifiers (locale, tenant, viewer...)
// that partition an entity's cache into variants. Names are unique: adding a
// name that is already present replaces its identifier in place.
//
// Contexts keeps insertion order; rendering always sorts by name.
type Contexts struct {
	items []CacheIdentifier
}

// NewContexts returns a context set holding the given identifiers.
func NewContexts(ids ...CacheIdentifier) Contexts {
	var c Contexts
	for _, id := range ids {
		c.Add(id.Name, id.ID)
	}
	return c
}

// Add inserts or replaces the context with the given name.
func (c *Contexts) Add(name string, id Identifier) {
	for i := range c.items {
		if c.items[i].Name == name {
			c.items[i].ID = id
			return
		}
	}
	c.items = append(c.items, CacheIdentifier{Name: name, ID: id})
}

// Get returns the identifier stored under name.
func (c Contexts) Get(name string) (Identifier, bool) {
	for _, item := range c.items {
		if item.Name == name {
			return item.ID, true
		}
	}
	return None(), false
}

// Len returns the number of contexts.
func (c Contexts) Len() int {
	return len(c.items)
}

// Items returns a copy of the contexts in insertion order.
func (c Contexts) Items() []CacheIdentifier {
	out := make([]CacheIdentifier, len(c.items))
	copy(out, c.items)
	return out
}

// Sorted returns a copy of the contexts ordered by name.
func (c Contexts) Sorted() []CacheIdentifier {
	out := c.Items()
	sort.Slice(out, func(i, j int) bool {
		return out[i].Name < out[j].Name
	})
	return out
}

// Clone returns an independent copy of the set.
func (c Contexts) Clone() Contexts {
	return Contexts{items: c.Items()}
}

func (c Contexts) validate() error {
	for _, item := range c.items {
		if err := item.validate("context"); err != nil {
			return err
		}
	}
	return nil
}
