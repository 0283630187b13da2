package circuit

import "sync"

// Registry is a process-wide collection of breakers, one per dependency
// name, shared by every stage and run so multiple stages share a
// single breaker per dependency. Tests should construct their own
// isolated Registry rather than share one across cases.
type Registry struct {
	mu       sync.Mutex
	breakers map[string]*Breaker
	defaults Params
}

// NewRegistry creates an empty registry. defaults is used for any
// dependency name not given explicit params via Configure.
func NewRegistry(defaults Params) *Registry {
	return &Registry{breakers: make(map[string]*Breaker), defaults: defaults}
}

// Configure sets explicit params for name by installing a fresh, closed
// breaker under that name. Call before first use: an existing breaker
// for name is replaced, so its state and failure count are discarded.
func (r *Registry) Configure(name string, params Params) *Breaker {
	r.mu.Lock()
	defer r.mu.Unlock()
	b := New(name, params)
	r.breakers[name] = b
	return b
}

// Get returns the named breaker, creating one with the registry's
// default params on first reference.
func (r *Registry) Get(name string) *Breaker {
	r.mu.Lock()
	defer r.mu.Unlock()
	if b, ok := r.breakers[name]; ok {
		return b
	}
	b := New(name, r.defaults)
	r.breakers[name] = b
	return b
}

// Names returns every dependency name with a registered breaker.
func (r *Registry) Names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	names := make([]string, 0, len(r.breakers))
	for name := range r.breakers {
		names = append(names, name)
	}
	return names
}
