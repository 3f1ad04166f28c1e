package cachekey

import (
	"fmt"
	"strings"

	"github.com/carlonicora/minimalism-service-cacher/pkg/errors"
)

// Factory creates builders, either from a name and identifier or by parsing a
// key found in the store.
type Factory struct {
	registry *Registry
}

// NewFactory creates a factory. A nil registry means every cache gets a plain builder.
func NewFactory(registry *Registry) *Factory {
	return &Factory{registry: registry}
}

// Create returns a builder for the entity name(id). When a constructor is
// registered under name it is used.
func (f *Factory) Create(name string, id Identifier) *Builder {
	if f != nil && f.registry != nil {
		if b, ok := f.registry.Build(name, id); ok {
			return b
		}
	}
	return NewBuilder().WithIdentifier(name, id)
}

// CreateList returns a builder for the list listName owned by the entity name(id).
func (f *Factory) CreateList(listName, name string, id Identifier, saveGranular bool) *Builder {
	return f.Create(name, id).
		WithList(listName).
		WithGranularSaveOfChildren(saveGranular)
}

// CreateListGranular is CreateList with granular saving of list items enabled.
func (f *Factory) CreateListGranular(listName, name string, id Identifier) *Builder {
	return f.CreateList(listName, name, id, true)
}

// CreateFromKey rebuilds the builder that renders key. Keys that do not follow
// the minimalism:TYPE:LIST:ENTITY[:CONTEXT] grammar are rejected with an
// InvalidInputError.
func (f *Factory) CreateFromKey(key string) (*Builder, error) {
	parts := strings.Split(key, ":")
	if len(parts) != 4 && len(parts) != 5 {
		return nil, malformedKey(key, fmt.Sprintf("expected 4 or 5 segments, got %d", len(parts)))
	}
	if parts[0] != KeyPrefix {
		return nil, malformedKey(key, "missing "+KeyPrefix+" prefix")
	}

	typ, err := parseTypeSegment(parts[1])
	if err != nil {
		return nil, malformedKey(key, err.Error())
	}

	var list *CacheIdentifier
	if parts[2] != "null" {
		l, err := parseIdentifierSegment(parts[2])
		if err != nil {
			return nil, malformedKey(key, "list: "+err.Error())
		}
		list = &l
	}

	entity, err := parseIdentifierSegment(parts[3])
	if err != nil {
		return nil, malformedKey(key, "entity: "+err.Error())
	}

	var contexts Contexts
	if len(parts) == 5 {
		contexts, err = parseContextSegment(parts[4])
		if err != nil {
			return nil, malformedKey(key, "context: "+err.Error())
		}
	}

	b := f.Create(entity.Name, entity.ID)
	b.typ = typ
	b.list = list
	b.contexts = contexts
	return b, nil
}

func malformedKey(key, reason string) error {
	return errors.NewInvalidInput("key", fmt.Sprintf("malformed cache key %q: %s", key, reason))
}

// parseTypeSegment is case-sensitive so that the parsed builder renders the
// exact key it was read from.
func parseTypeSegment(s string) (Type, error) {
	switch s {
	case "DATA", "JSON", "*":
		return ParseType(s), nil
	default:
		return All, fmt.Errorf("unknown type %q", s)
	}
}

// parseIdentifierSegment decodes "name" or "name(identifier)".
func parseIdentifierSegment(s string) (CacheIdentifier, error) {
	open := strings.IndexByte(s, '(')
	if open < 0 {
		if err := validateName("segment", s); err != nil {
			return CacheIdentifier{}, err
		}
		return CacheIdentifier{Name: s}, nil
	}

	if !strings.HasSuffix(s, ")") || open >= len(s)-2 {
		return CacheIdentifier{}, fmt.Errorf("unbalanced parentheses in %q", s)
	}

	id := CacheIdentifier{
		Name: s[:open],
		ID:   ParseIdentifier(s[open+1 : len(s)-1]),
	}
	if err := id.validate("segment"); err != nil {
		return CacheIdentifier{}, err
	}
	return id, nil
}

// parseContextSegment decodes "a(1)-b(x-y)". Values may contain dashes, so
// the segment is scanned rather than split.
func parseContextSegment(s string) (Contexts, error) {
	var c Contexts
	if s == "" {
		return c, fmt.Errorf("empty context segment")
	}

	for len(s) > 0 {
		open := strings.IndexByte(s, '(')
		if open < 0 {
			return Contexts{}, fmt.Errorf("context %q has no value", s)
		}
		closing := strings.IndexByte(s[open:], ')')
		if closing < 0 {
			return Contexts{}, fmt.Errorf("unbalanced parentheses in %q", s)
		}
		closing += open

		item, err := parseIdentifierSegment(s[:closing+1])
		if err != nil {
			return Contexts{}, err
		}
		if _, dup := c.Get(item.Name); dup {
			return Contexts{}, fmt.Errorf("duplicate context %q", item.Name)
		}
		c.Add(item.Name, item.ID)

		s = s[closing+1:]
		if s == "" {
			break
		}
		if s[0] != '-' || len(s) == 1 {
			return Contexts{}, fmt.Errorf("unexpected %q after context", s)
		}
		s = s[1:]
	}

	return c, nil
}
