package backend

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/dot-do/functions-sub012/internal/model"
)

// assemblyDefaultTimeout is the flavor default for emulated assembly calls.
const assemblyDefaultTimeout = 10 * time.Second

// LoaderFunc materializes an assembly for a key. Loading is expensive, so the
// backend guarantees at most one load in flight per key.
type LoaderFunc func(ctx context.Context, key string) (Assembly, error)

// Assembly is a loaded managed-runtime unit that can be invoked repeatedly.
type Assembly interface {
	Invoke(ctx context.Context, payload []byte) ([]byte, error)
}

// AssemblyBackend emulates managed-runtime assembly execution. Loaded
// assemblies are kept in an in-memory table keyed by the request Profile;
// concurrent requests for an unloaded key share a single load via
// singleflight.
type AssemblyBackend struct {
	load LoaderFunc

	mu     sync.RWMutex
	loaded map[string]Assembly
	flight singleflight.Group
}

// NewAssemblyBackend wraps an assembly loader. A nil loader gets a trivial
// echo assembly, enough for local development.
func NewAssemblyBackend(load LoaderFunc) *AssemblyBackend {
	if load == nil {
		load = func(_ context.Context, _ string) (Assembly, error) {
			return echoAssembly{}, nil
		}
	}
	return &AssemblyBackend{
		load:   load,
		loaded: make(map[string]Assembly),
	}
}

// Execute resolves (loading if necessary) the assembly named by the request
// Profile and invokes it.
func (a *AssemblyBackend) Execute(ctx context.Context, req *model.Request) (*Response, error) {
	asm, err := a.resolve(ctx, req.Profile)
	if err != nil {
		return nil, err
	}

	out, err := asm.Invoke(ctx, req.Payload)
	if err != nil {
		return nil, err
	}
	return &Response{Output: out}, nil
}

func (a *AssemblyBackend) resolve(ctx context.Context, key string) (Assembly, error) {
	a.mu.RLock()
	asm, ok := a.loaded[key]
	a.mu.RUnlock()
	if ok {
		return asm, nil
	}

	v, err, _ := a.flight.Do(key, func() (any, error) {
		asm, err := a.load(ctx, key)
		if err != nil {
			return nil, err
		}
		a.mu.Lock()
		a.loaded[key] = asm
		a.mu.Unlock()
		return asm, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(Assembly), nil
}

// Unload drops an assembly from the table. The next execution reloads it.
func (a *AssemblyBackend) Unload(key string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.loaded, key)
}

// LoadedKeys returns the keys of currently loaded assemblies.
func (a *AssemblyBackend) LoadedKeys() []string {
	a.mu.RLock()
	defer a.mu.RUnlock()

	keys := make([]string, 0, len(a.loaded))
	for k := range a.loaded {
		keys = append(keys, k)
	}
	return keys
}

// Capabilities reports the assembly flavor defaults.
func (a *AssemblyBackend) Capabilities() Capabilities {
	return Capabilities{
		Flavor:         model.FlavorAssembly,
		DefaultTimeout: assemblyDefaultTimeout,
		Description:    "emulated managed-runtime assembly",
	}
}

type echoAssembly struct{}

func (echoAssembly) Invoke(_ context.Context, payload []byte) ([]byte, error) {
	return payload, nil
}
