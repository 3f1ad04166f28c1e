// Package cachekey renders and parses the structured keys the cacher stores
// entries under, and describes one logical cache entry through a Builder.
//
// Every key has the shape
//
//	minimalism:TYPE:LIST:ENTITY[:CONTEXT]
//
// where TYPE is DATA, JSON or the wildcard *, LIST is "null" or the list the
// entry belongs to, ENTITY is name or name(identifier) and CONTEXT is a
// name-sorted, dash-joined sequence of name(value) qualifiers.
//
// Example usage:
//
//	f := cachekey.NewFactory(nil)
//
//	b := f.Create("user", cachekey.Int(42)).
//	    AddContext("locale", cachekey.Text("en"))
//	key, err := b.Key() // "minimalism:DATA:null:user(42):locale(en)"
//
//	// A key found in the store can be turned back into a builder.
//	parsed, err := f.CreateFromKey(key)
package cachekey

// KeyPrefix is the first segment of every key the cacher owns.
const KeyPrefix = "minimalism"

// Type selects which representation of an entity a key addresses.
type Type int

const (
	// All is the wildcard type. It only appears in patterns.
	All Type = iota
	// Data is the raw representation, usually a JSON-encoded record or list.
	Data
	// JSON is the rendered API representation of an entity.
	JSON
)

// String returns the key segment for the type.
func (t Type) String() string {
	switch t {
	case Data:
		return "DATA"
	case JSON:
		return "JSON"
	default:
		return "*"
	}
}

// ParseType decodes a type segment. Matching is case-sensitive: anything other
// than DATA or JSON, including the wildcard itself, decodes to All.
func ParseType(segment string) Type {
	switch segment {
	case "DATA":
		return Data
	case "JSON":
		return JSON
	default:
		return All
	}
}
