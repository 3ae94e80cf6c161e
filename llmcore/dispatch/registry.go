// Package dispatch implements the provider registry, selection
// strategies, guarded execution, fallback-chain traversal (§4.7) and
// periodic prober (§4.8) that together make up the dispatcher.
//
// Grounded on the teacher's llm/registry.go (ProviderRegistry shape)
// and llm/router.go (strategy-switch and ticker/cancel idioms).
package dispatch

import (
	"sort"
	"sync"

	"github.com/paxoscn/llmdispatch/llmcore"
)

// Registry is a thread-safe name→Provider map, the dispatcher's source
// of truth for which handles exist.
type Registry struct {
	mu        sync.RWMutex
	providers map[string]llmcore.Provider
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{providers: make(map[string]llmcore.Provider)}
}

// Register adds or replaces the handle registered under name.
func (r *Registry) Register(name string, p llmcore.Provider) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.providers[name] = p
}

// Unregister removes name from the registry, if present.
func (r *Registry) Unregister(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.providers, name)
}

// Get returns the handle registered under name.
func (r *Registry) Get(name string) (llmcore.Provider, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.providers[name]
	return p, ok
}

// Names returns the sorted names of every registered handle.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.providers))
	for name := range r.providers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Len returns the number of registered handles.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.providers)
}
