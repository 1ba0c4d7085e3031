package backend

import (
	"testing"

	"github.com/dot-do/functions-sub012/internal/model"
)

func TestRegistryResolve(t *testing.T) {
	r := NewRegistry()
	script := NewScriptBackend(nil)
	r.Register(model.FlavorScript, script)

	b, err := r.Resolve(model.FlavorScript)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if b != Backend(script) {
		t.Errorf("Resolve returned a different backend")
	}

	if _, err := r.Resolve(model.FlavorModel); err == nil {
		t.Errorf("Resolve of unregistered flavor succeeded")
	}
}

func TestRegistryReplace(t *testing.T) {
	r := NewRegistry()
	r.Register(model.FlavorScript, NewScriptBackend(nil))

	second := NewScriptBackend(nil)
	r.Register(model.FlavorScript, second)

	b, err := r.Resolve(model.FlavorScript)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if b != Backend(second) {
		t.Errorf("Register did not replace the previous backend")
	}
}

func TestRegistryListSorted(t *testing.T) {
	r := NewRegistry()
	r.Register(model.FlavorScript, NewScriptBackend(nil))
	r.Register(model.FlavorAssembly, NewAssemblyBackend(nil))
	r.Register(model.FlavorHuman, NewHumanBackend())

	infos := r.List()
	if len(infos) != 3 {
		t.Fatalf("List returned %d backends, want 3", len(infos))
	}
	want := []string{model.FlavorAssembly, model.FlavorHuman, model.FlavorScript}
	for i, w := range want {
		if infos[i].Flavor != w {
			t.Errorf("List[%d].Flavor = %q, want %q", i, infos[i].Flavor, w)
		}
		if infos[i].Capabilities.Flavor != w {
			t.Errorf("List[%d].Capabilities.Flavor = %q, want %q", i, infos[i].Capabilities.Flavor, w)
		}
	}
}
