package tool

import (
	"testing"
)

func TestRegistry_RegisterAndGet(t *testing.T) {
	reg := NewRegistry(testLogger())
	ft := &fakeTool{name: "get_weather"}
	reg.Register(ft)

	if got := reg.Get("get_weather"); got != ft {
		t.Fatal("Get returned a different tool")
	}
	if got := reg.Get("missing"); got != nil {
		t.Fatal("Get for unregistered name should be nil")
	}
}

func TestRegistry_DefinitionsSortedByName(t *testing.T) {
	reg := NewRegistry(testLogger())
	reg.Register(&fakeTool{name: "zeta"})
	reg.Register(&fakeTool{name: "alpha"})
	reg.Register(&fakeTool{name: "mid"})

	defs := reg.Definitions()
	if len(defs) != 3 {
		t.Fatalf("got %d definitions", len(defs))
	}
	want := []string{"alpha", "mid", "zeta"}
	for i, w := range want {
		if defs[i].Name != w {
			t.Fatalf("definition %d = %s, want %s", i, defs[i].Name, w)
		}
	}
	if defs[0].Parameters == nil {
		t.Fatal("definitions must carry the parameter schema")
	}
}

func TestRegistry_ReRegisterReplaces(t *testing.T) {
	reg := NewRegistry(testLogger())
	first := &fakeTool{name: "get_weather"}
	second := &fakeTool{name: "get_weather"}
	reg.Register(first)
	reg.Register(second)

	if got := reg.Get("get_weather"); got != second {
		t.Fatal("re-registration should replace the tool")
	}
	if n := len(reg.Names()); n != 1 {
		t.Fatalf("expected 1 name, got %d", n)
	}
}
