package cachekey

import (
	"time"

	"github.com/carlonicora/minimalism-service-cacher/pkg/errors"
)

// Builder describes one logical cache entry: which entity it is, which list
// it belongs to, which contexts qualify it and how it is saved and invalidated.
//
// A Builder is a request-scoped, mutable descriptor. The cacher mutates it
// (type, contexts) while it works, so it is not safe for concurrent use.
type Builder struct {
	typ        Type
	identifier *CacheIdentifier
	list       *CacheIdentifier
	contexts   Contexts
	ttl        time.Duration

	saveGranular           bool
	invalidateAllChildren  bool
	forceContextOnChildren bool
}

// NewBuilder returns an unaddressed builder of type Data that saves list
// items granularly. Use the Factory to get an addressed one.
func NewBuilder() *Builder {
	return &Builder{
		typ:          Data,
		saveGranular: true,
	}
}

// WithIdentifier addresses the builder to the entity name(id).
func (b *Builder) WithIdentifier(name string, id Identifier) *Builder {
	b.identifier = &CacheIdentifier{Name: name, ID: id}
	return b
}

// WithTTL sets the expiry used when the entry is saved. Zero means no expiry.
func (b *Builder) WithTTL(ttl time.Duration) *Builder {
	b.ttl = ttl
	return b
}

// WithList marks the builder as a list cache whose items carry their
// identifier in the field called name.
func (b *Builder) WithList(name string) *Builder {
	b.list = &CacheIdentifier{Name: name}
	return b
}

// WithListIdentifier sets the list segment verbatim, identifier included.
// Keys parsed from membership markers carry one.
func (b *Builder) WithListIdentifier(list CacheIdentifier) *Builder {
	b.list = &list
	return b
}

// WithType sets the representation the builder addresses.
func (b *Builder) WithType(t Type) *Builder {
	b.typ = t
	return b
}

// WithGranularSaveOfChildren controls whether saving a list also saves each item standalone.
func (b *Builder) WithGranularSaveOfChildren(saveGranular bool) *Builder {
	b.saveGranular = saveGranular
	return b
}

// WithContexts replaces the context set.
func (b *Builder) WithContexts(c Contexts) *Builder {
	b.contexts = c.Clone()
	return b
}

// AddContext adds or replaces one context qualifier.
func (b *Builder) AddContext(name string, id Identifier) *Builder {
	b.contexts.Add(name, id)
	return b
}

// ClearContexts removes every context qualifier.
func (b *Builder) ClearContexts() {
	b.contexts = Contexts{}
}

// ForcingContextsOnGranularChildren makes granular item keys inherit this builder's contexts.
func (b *Builder) ForcingContextsOnGranularChildren() *Builder {
	b.forceContextOnChildren = true
	return b
}

// InvalidateOnlyChildren switches invalidation to the "everything nested under
// this entity" sweep instead of the dependency-driven cascade.
func (b *Builder) InvalidateOnlyChildren() {
	b.invalidateAllChildren = true
}

// SetType sets the type without chaining; the cacher uses it while saving and reading.
func (b *Builder) SetType(t Type) {
	b.typ = t
}

// Type returns the addressed representation.
func (b *Builder) Type() Type { return b.typ }

// TTL returns the expiry, zero when unset.
func (b *Builder) TTL() time.Duration { return b.ttl }

// IsList reports whether the builder addresses a list cache.
func (b *Builder) IsList() bool { return b.list != nil }

// SaveGranular reports whether list items are also saved standalone.
func (b *Builder) SaveGranular() bool { return b.saveGranular }

// ShouldInvalidateAllChildren reports whether InvalidateOnlyChildren was called.
func (b *Builder) ShouldInvalidateAllChildren() bool { return b.invalidateAllChildren }

// ForcesContextOnChildren reports whether granular keys inherit contexts.
func (b *Builder) ForcesContextOnChildren() bool { return b.forceContextOnChildren }

// Contexts returns a copy of the context set.
func (b *Builder) Contexts() Contexts { return b.contexts.Clone() }

// Identifier returns the addressed entity, nil when unaddressed.
func (b *Builder) Identifier() *CacheIdentifier {
	if b.identifier == nil {
		return nil
	}
	id := *b.identifier
	return &id
}

// List returns the list segment, nil when the builder is not a list.
func (b *Builder) List() *CacheIdentifier {
	if b.list == nil {
		return nil
	}
	l := *b.list
	return &l
}

// Clone returns an independent copy of the builder.
func (b *Builder) Clone() *Builder {
	c := *b
	c.identifier = b.Identifier()
	c.list = b.List()
	c.contexts = b.contexts.Clone()
	return &c
}

// Key renders the concrete key of the entry.
// It fails with a ConfigurationError when the builder was never addressed.
func (b *Builder) Key() (string, error) {
	if err := b.validate(); err != nil {
		return "", err
	}

	return KeyPrefix +
		TypePart(b.typ) +
		ListPart(b.list) +
		IdentifierPart(*b.identifier) +
		ContextPart(b.contexts), nil
}

// KeyPattern renders a pattern matching every representation of the entity,
// whatever its type, list membership or contexts.
func (b *Builder) KeyPattern() (string, error) {
	if err := b.validate(); err != nil {
		return "", err
	}

	return KeyPrefix +
		AllTypesPart() +
		AllListsPart() +
		IdentifierPart(*b.identifier) +
		AllContextsPart(), nil
}

// ListItemKey renders the membership marker proving the item identified by
// id belongs to this list.
func (b *Builder) ListItemKey(id Identifier) (string, error) {
	if err := b.validateList("list item key", id); err != nil {
		return "", err
	}

	return KeyPrefix +
		TypePart(b.typ) +
		IdentifierPartFor(*b.list, id) +
		IdentifierPart(*b.identifier) +
		ContextPart(b.contexts), nil
}

// GranularKey renders the key under which the full payload of list item id is
// stored standalone. Contexts are inherited only when forced.
func (b *Builder) GranularKey(id Identifier) (string, error) {
	if err := b.validateList("granular key", id); err != nil {
		return "", err
	}

	contexts := ""
	if b.forceContextOnChildren {
		contexts = ContextPart(b.contexts)
	}

	return KeyPrefix +
		TypePart(b.typ) +
		ListPart(nil) +
		IdentifierPartFor(*b.list, id) +
		contexts, nil
}

// ChildKeysPattern renders a pattern matching every list cache of the
// dependent cache childCacheName that has this entity as a member.
func (b *Builder) ChildKeysPattern(childCacheName string) (string, error) {
	if err := b.validate(); err != nil {
		return "", err
	}
	if err := validateName("dependent cache", childCacheName); err != nil {
		return "", err
	}

	return KeyPrefix +
		AllTypesPart() +
		IdentifierPart(*b.identifier) +
		AllIdentifiersPart(childCacheName) +
		AllContextsPart(), nil
}

// ChildrenKeysPattern renders a pattern matching every key of this entity
// with the builder's type, any list and any context.
func (b *Builder) ChildrenKeysPattern() (string, error) {
	if err := b.validate(); err != nil {
		return "", err
	}

	return KeyPrefix +
		TypePart(b.typ) +
		AllListsPart() +
		IdentifierPart(*b.identifier) +
		AllContextsPart(), nil
}

// ListKeysPattern renders a pattern matching the list cache itself. Without
// contexts it matches every context variant of the list.
func (b *Builder) ListKeysPattern() (string, error) {
	if err := b.validateList("list keys pattern", None()); err != nil {
		return "", err
	}

	return KeyPrefix +
		TypePart(b.typ) +
		IdentifierPart(CacheIdentifier{Name: b.list.Name}) +
		IdentifierPart(*b.identifier) +
		b.contextSuffix(), nil
}

// ListItemKeysPattern renders a pattern matching every membership marker of the list.
func (b *Builder) ListItemKeysPattern() (string, error) {
	if err := b.validateList("list item keys pattern", None()); err != nil {
		return "", err
	}

	return KeyPrefix +
		TypePart(b.typ) +
		AllIdentifiersPart(b.list.Name) +
		IdentifierPart(*b.identifier) +
		b.contextSuffix(), nil
}

func (b *Builder) contextSuffix() string {
	if b.contexts.Len() == 0 {
		return AllContextsPart()
	}
	return ContextPart(b.contexts)
}

func (b *Builder) validate() error {
	if b.identifier == nil {
		return errors.NewConfiguration("cache builder has no identifier", nil)
	}
	if err := b.identifier.validate("cache"); err != nil {
		return err
	}
	if b.list != nil {
		if err := b.list.validate("list"); err != nil {
			return err
		}
	}
	return b.contexts.validate()
}

func (b *Builder) validateList(operation string, id Identifier) error {
	if b.list == nil {
		return errors.NewConfiguration(operation+" requires a list builder", nil)
	}
	if err := b.validate(); err != nil {
		return err
	}
	if id.IsNone() {
		return errors.NewConfiguration(operation+" requires a list item identifier", nil)
	}
	return validateIdentifier("list item", id)
}
