package backend

import "sync"

// Registry maps DSN schemes to caller-supplied factories. Registered
// factories take precedence over the built-in schemes.
type Registry[F any] struct {
	mu        sync.RWMutex
	factories map[string]F
}

func (r *Registry[F]) Register(scheme string, factory F) {
	scheme = NormalizeScheme(scheme)
	if scheme == "" {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.factories == nil {
		r.factories = map[string]F{}
	}
	r.factories[scheme] = factory
}

func (r *Registry[F]) Lookup(scheme string) (F, bool) {
	scheme = NormalizeScheme(scheme)
	r.mu.RLock()
	defer r.mu.RUnlock()
	factory, ok := r.factories[scheme]
	return factory, ok
}
