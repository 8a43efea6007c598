package persona

import (
	"sync/atomic"
)

// Registry serves the active persona set. Swap replaces it without blocking
// readers; a message already in flight keeps the persona it started with.
type Registry struct {
	current atomic.Pointer[Set]
}

func NewRegistry(set *Set) *Registry {
	r := &Registry{}
	r.current.Store(set)
	return r
}

func (r *Registry) Get(id string) (*Persona, bool) {
	return r.current.Load().Get(id)
}

func (r *Registry) IDs() []string {
	return r.current.Load().IDs()
}

// Swap installs set and returns the previous one.
func (r *Registry) Swap(set *Set) *Set {
	return r.current.Swap(set)
}

// Reload builds a new set with load and installs it. On error the active set
// is left untouched.
func (r *Registry) Reload(load func() (*Set, error)) error {
	set, err := load()
	if err != nil {
		return err
	}
	r.Swap(set)
	return nil
}
