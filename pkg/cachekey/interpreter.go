package cachekey

import (
	"strings"
)

// The functions below render single key segments. Each segment carries its
// own leading colon except AllContextsPart, which is appended directly after
// the entity segment so a pattern matches keys with and without contexts.

// TypePart renders the type segment: ":DATA", ":JSON" or ":*".
func TypePart(t Type) string {
	return ":" + t.String()
}

// AllTypesPart renders the wildcard type segment.
func AllTypesPart() string {
	return ":*"
}

// AllListsPart renders the wildcard list segment.
func AllListsPart() string {
	return ":*"
}

// ListPart renders the list segment, ":null" when there is no list.
func ListPart(list *CacheIdentifier) string {
	if list == nil {
		return ":null"
	}
	return IdentifierPart(*list)
}

// IdentifierPart renders ":name" or ":name(identifier)".
func IdentifierPart(id CacheIdentifier) string {
	if id.ID.IsNone() {
		return ":" + id.Name
	}
	return ":" + id.Name + "(" + id.ID.String() + ")"
}

// IdentifierPartFor renders id's name with alt as identifier, ignoring id's own identifier.
func IdentifierPartFor(id CacheIdentifier, alt Identifier) string {
	return ":" + id.Name + "(" + alt.String() + ")"
}

// AllIdentifiersPart renders ":name(*)", matching every identifier of name.
func AllIdentifiersPart(name string) string {
	return ":" + name + "(*)"
}

// ContextPart renders the context segment: empty when there are no contexts,
// otherwise ":a(1)-b(2)" sorted by name with None rendered as 0.
func ContextPart(c Contexts) string {
	if c.Len() == 0 {
		return ""
	}

	sorted := c.Sorted()
	parts := make([]string, 0, len(sorted))
	for _, item := range sorted {
		value := item.ID.String()
		if item.ID.IsNone() {
			value = "0"
		}
		parts = append(parts, item.Name+"("+value+")")
	}

	return ":" + strings.Join(parts, "-")
}

// AllContextsPart renders the trailing wildcard matching any context suffix.
func AllContextsPart() string {
	return "*"
}
