package cachekey

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/carlonicora/minimalism-service-cacher/pkg/errors"
)

// Kind tells which variant an Identifier holds.
type Kind uint8

const (
	KindNone Kind = iota
	KindInt
	KindText
)

// Identifier is the value half of an addressing pair: an integer, a string or nothing.
// The zero value is None.
type Identifier struct {
	kind Kind
	i    int64
	s    string
}

// None returns the empty identifier.
func None() Identifier {
	return Identifier{}
}

// Int returns an integer identifier.
func Int(v int64) Identifier {
	return Identifier{kind: KindInt, i: v}
}

// Text returns a string identifier. The empty string is None, so that every
// rendered key parses back.
func Text(v string) Identifier {
	if v == "" {
		return None()
	}
	return Identifier{kind: KindText, s: v}
}

// ParseIdentifier decodes an identifier read back from a key. Canonical
// base-10 integers become Int, everything else Text. The empty string is None.
func ParseIdentifier(s string) Identifier {
	if s == "" {
		return None()
	}
	if v, err := strconv.ParseInt(s, 10, 64); err == nil && strconv.FormatInt(v, 10) == s {
		return Int(v)
	}
	return Text(s)
}

// IdentifierOf converts a decoded JSON value into an identifier. It accepts
// strings, json.Number, integral float64 values and Go integer types.
func IdentifierOf(v any) (Identifier, error) {
	switch t := v.(type) {
	case nil:
		return None(), nil
	case Identifier:
		return t, nil
	case string:
		if t == "" {
			return None(), nil
		}
		return Text(t), nil
	case json.Number:
		if i, err := t.Int64(); err == nil {
			return Int(i), nil
		}
		return Text(t.String()), nil
	case float64:
		if t != math.Trunc(t) || math.IsInf(t, 0) || math.IsNaN(t) {
			return None(), errors.NewInvalidInput("identifier", fmt.Sprintf("non-integral number %v", t))
		}
		return Int(int64(t)), nil
	case int:
		return Int(int64(t)), nil
	case int32:
		return Int(int64(t)), nil
	case int64:
		return Int(t), nil
	case uint32:
		return Int(int64(t)), nil
	default:
		return None(), errors.NewInvalidInput("identifier", fmt.Sprintf("unsupported type %T", v))
	}
}

// Kind returns the variant held by the identifier.
func (id Identifier) Kind() Kind {
	return id.kind
}

// IsNone reports whether the identifier is empty.
func (id Identifier) IsNone() bool {
	return id.kind == KindNone
}

// Int returns the integer value and whether the identifier is an integer.
func (id Identifier) Int() (int64, bool) {
	return id.i, id.kind == KindInt
}

// Text returns the string value and whether the identifier is a string.
func (id Identifier) Text() (string, bool) {
	return id.s, id.kind == KindText
}

// String renders the identifier the way it appears inside a key. None renders empty.
func (id Identifier) String() string {
	switch id.kind {
	case KindInt:
		return strconv.FormatInt(id.i, 10)
	case KindText:
		return id.s
	default:
		return ""
	}
}

// CacheIdentifier is the atomic addressing unit: a name with an optional identifier.
type CacheIdentifier struct {
	Name string
	ID   Identifier
}

// NewCacheIdentifier returns a CacheIdentifier for the given name and identifier.
func NewCacheIdentifier(name string, id Identifier) CacheIdentifier {
	return CacheIdentifier{Name: name, ID: id}
}

// reservedNameChars cannot appear in names: they delimit segments or act as glob operators.
const reservedNameChars = ":()-*?[]\\"

// reservedValueChars cannot appear in identifier values.
const reservedValueChars = ":()*?[]\\"

func validateName(field, name string) error {
	if name == "" {
		return errors.NewConfiguration(field+" name is empty", nil)
	}
	if strings.ContainsAny(name, reservedNameChars) {
		return errors.NewConfiguration(fmt.Sprintf("%s name %q contains a reserved character", field, name), nil)
	}
	return nil
}

func validateIdentifier(field string, id Identifier) error {
	if id.kind == KindText && strings.ContainsAny(id.s, reservedValueChars) {
		return errors.NewConfiguration(fmt.Sprintf("%s identifier %q contains a reserved character", field, id.s), nil)
	}
	return nil
}

func (c CacheIdentifier) validate(field string) error {
	if err := validateName(field, c.Name); err != nil {
		return err
	}
	return validateIdentifier(field, c.ID)
}
