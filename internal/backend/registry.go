package backend

import (
	"fmt"
	"sort"
	"sync"
)

// Info pairs a backend flavor with its capabilities.
type Info struct {
	Flavor       string       `json:"flavor"`
	Capabilities Capabilities `json:"capabilities"`
}

// Registry holds registered backends keyed by flavor.
type Registry struct {
	mu       sync.RWMutex
	backends map[string]Backend
}

// NewRegistry creates an empty backend registry.
func NewRegistry() *Registry {
	return &Registry{
		backends: make(map[string]Backend),
	}
}

// Register adds a backend for the given flavor, replacing any previous one.
func (r *Registry) Register(flavor string, b Backend) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.backends[flavor] = b
}

// Resolve returns the backend serving the given flavor.
func (r *Registry) Resolve(flavor string) (Backend, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	b, ok := r.backends[flavor]
	if !ok {
		return nil, fmt.Errorf("no backend registered for flavor %q", flavor)
	}
	return b, nil
}

// List returns information about all registered backends, sorted by flavor
// for a stable API response.
func (r *Registry) List() []Info {
	r.mu.RLock()
	defer r.mu.RUnlock()

	infos := make([]Info, 0, len(r.backends))
	for flavor, b := range r.backends {
		infos = append(infos, Info{
			Flavor:       flavor,
			Capabilities: b.Capabilities(),
		})
	}
	sort.Slice(infos, func(i, j int) bool {
		return infos[i].Flavor < infos[j].Flavor
	})
	return infos
}
