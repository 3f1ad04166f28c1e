package cachekey

import (
	"testing"
	"time"

	"github.com/carlonicora/minimalism-service-cacher/pkg/errors"
)

func TestCreateFromKeyRoundTrip(t *testing.T) {
	f := NewFactory(nil)

	builders := []*Builder{
		f.Create("user", Int(42)),
		f.Create("user", Int(-3)).WithType(JSON),
		f.Create("settings", None()),
		f.Create("article", Text("hello-world")),
		f.Create("user", Text("")),
		f.CreateListGranular("post", "user", Text("")).AddContext("tenant", Text("")),
		f.Create("user", Int(42)).WithType(All),
		f.CreateListGranular("post", "user", Int(42)),
		f.Create("user", Int(42)).AddContext("tenant", Int(3)).AddContext("locale", Text("en-GB")),
		f.CreateListGranular("comment", "post", Text("007")).AddContext("viewer", Int(0)),
	}

	for _, b := range builders {
		key, err := b.Key()
		if err != nil {
			t.Fatalf("Key() error = %v", err)
		}

		t.Run(key, func(t *testing.T) {
			parsed, err := f.CreateFromKey(key)
			if err != nil {
				t.Fatalf("CreateFromKey() error = %v", err)
			}

			got, err := parsed.Key()
			if err != nil {
				t.Fatalf("Key() error = %v", err)
			}
			if got != key {
				t.Errorf("round trip = %q, want %q", got, key)
			}
		})
	}
}

func TestCreateFromKeyFields(t *testing.T) {
	f := NewFactory(nil)

	b, err := f.CreateFromKey("minimalism:JSON:post(7):user(42):locale(en-GB)-tenant(3)")
	if err != nil {
		t.Fatalf("CreateFromKey() error = %v", err)
	}

	if b.Type() != JSON {
		t.Errorf("Type() = %v, want JSON", b.Type())
	}

	id := b.Identifier()
	if id == nil || id.Name != "user" {
		t.Fatalf("Identifier() = %+v, want user", id)
	}
	if v, ok := id.ID.Int(); !ok || v != 42 {
		t.Errorf("entity identifier = %v, want Int(42)", id.ID)
	}

	list := b.List()
	if list == nil || list.Name != "post" {
		t.Fatalf("List() = %+v, want post", list)
	}
	if v, ok := list.ID.Int(); !ok || v != 7 {
		t.Errorf("list identifier = %v, want Int(7)", list.ID)
	}

	ctx := b.Contexts()
	if ctx.Len() != 2 {
		t.Fatalf("contexts = %d, want 2", ctx.Len())
	}
	if v, _ := ctx.Get("locale"); v.String() != "en-GB" {
		t.Errorf("locale = %q, want en-GB", v.String())
	}
	if v, _ := ctx.Get("tenant"); v.String() != "3" {
		t.Errorf("tenant = %q, want 3", v.String())
	}
}

func TestCreateFromKeyIdentifierKinds(t *testing.T) {
	f := NewFactory(nil)

	tests := []struct {
		key  string
		kind Kind
	}{
		{"minimalism:DATA:null:user(42)", KindInt},
		{"minimalism:DATA:null:user(042)", KindText},
		{"minimalism:DATA:null:user(abc)", KindText},
		{"minimalism:DATA:null:user", KindNone},
	}

	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			b, err := f.CreateFromKey(tt.key)
			if err != nil {
				t.Fatalf("CreateFromKey() error = %v", err)
			}
			if got := b.Identifier().ID.Kind(); got != tt.kind {
				t.Errorf("Kind() = %v, want %v", got, tt.kind)
			}
		})
	}
}

func TestCreateFromKeyMalformed(t *testing.T) {
	f := NewFactory(nil)

	keys := []string{
		"",
		"user(42)",
		"minimalism:DATA:null",
		"other:DATA:null:user(42)",
		"minimalism:TEXT:null:user(42)",
		"minimalism:data:null:user(42)",
		"minimalism:Json:null:user(42)",
		"minimalism:DATA:null:user(42",
		"minimalism:DATA:null:user()",
		"minimalism:DATA:null:user(42):",
		"minimalism:DATA:null:user(42):locale",
		"minimalism:DATA:null:user(42):locale(en)-",
		"minimalism:DATA:null:user(42):locale(en)x",
		"minimalism:DATA:null:user(42):locale(en)-locale(it)",
		"minimalism:DATA:null:user(42):a(1):b(2)",
		"minimalism:DATA:po(st:user(42)",
		"minimalism:DATA:null:user(*)",
	}

	for _, key := range keys {
		t.Run(key, func(t *testing.T) {
			_, err := f.CreateFromKey(key)
			if err == nil {
				t.Fatal("expected error, got nil")
			}
			if !errors.IsInvalidInput(err) {
				t.Errorf("expected invalid input error, got %v", err)
			}
		})
	}
}

func TestFactoryUsesRegistry(t *testing.T) {
	registry := NewRegistry()
	err := registry.Register("user", func(id Identifier) *Builder {
		return NewBuilder().
			WithTTL(time.Hour).
			AddContext("locale", Text("en"))
	})
	if err != nil {
		t.Fatalf("Register() error = %v", err)
	}

	f := NewFactory(registry)

	t.Run("create", func(t *testing.T) {
		b := f.Create("user", Int(1))
		if b.TTL() != time.Hour {
			t.Errorf("TTL() = %v, want 1h", b.TTL())
		}
		key, err := b.Key()
		if err != nil {
			t.Fatalf("Key() error = %v", err)
		}
		if want := "minimalism:DATA:null:user(1):locale(en)"; key != want {
			t.Errorf("Key() = %q, want %q", key, want)
		}
	})

	t.Run("create from key keeps key contexts", func(t *testing.T) {
		b, err := f.CreateFromKey("minimalism:JSON:null:user(1)")
		if err != nil {
			t.Fatalf("CreateFromKey() error = %v", err)
		}
		if b.TTL() != time.Hour {
			t.Errorf("TTL() = %v, want 1h", b.TTL())
		}
		key, err := b.Key()
		if err != nil {
			t.Fatalf("Key() error = %v", err)
		}
		if want := "minimalism:JSON:null:user(1)"; key != want {
			t.Errorf("Key() = %q, want %q", key, want)
		}
	})

	t.Run("unregistered name", func(t *testing.T) {
		b := f.Create("post", Int(1))
		if b.TTL() != 0 {
			t.Errorf("TTL() = %v, want 0", b.TTL())
		}
	})
}
