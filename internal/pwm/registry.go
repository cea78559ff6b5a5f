package pwm

import (
	"fmt"
	"sync"
)

// Registry is a fixed-size table of outputs keyed by id. The set of ids is
// established by NewRegistry and never changes afterwards.
//
// Safe for concurrent use.
type Registry struct {
	mu      sync.RWMutex
	order   []string
	entries map[string]Output
}

func NewRegistry(outputs []Output) *Registry {
	r := &Registry{entries: make(map[string]Output, len(outputs))}
	for _, o := range outputs {
		if _, dup := r.entries[o.ID]; !dup {
			r.order = append(r.order, o.ID)
		}
		r.entries[o.ID] = o
	}
	return r
}

// List returns a snapshot of all outputs in configuration order.
func (r *Registry) List() []Output {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Output, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.entries[id])
	}
	return out
}

func (r *Registry) Get(id string) (Output, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	o, ok := r.entries[id]
	return o, ok
}

// Put replaces the entry for id. It fails with *ValidationError for values
// outside 0..1 and with *UnknownIDError for ids the registry was not created
// with.
func (r *Registry) Put(id string, o Output) error {
	if o.ID != id {
		return fmt.Errorf("pwm: output %q stored under id %q", o.ID, id)
	}
	if !validValue(o.Value) {
		return &ValidationError{Value: o.Value}
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.entries[id]; !ok {
		return &UnknownIDError{ID: id}
	}
	r.entries[id] = o
	return nil
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.order)
}
