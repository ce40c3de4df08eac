package extension

import (
	"fmt"
	"strings"
	"sync"

	"github.com/anvil-platform/topology/internal/semver"
)

// Registry holds the extensions known to the engine. Extensions are added
// through explicit Register calls; there is no discovery.
type Registry struct {
	engine semver.Version

	mu        sync.RWMutex
	byID      map[string]Descriptor
	listeners map[int]func(Descriptor)
	nextID    int
}

func NewRegistry(engine semver.Version) *Registry {
	return &Registry{
		engine:    engine,
		byID:      map[string]Descriptor{},
		listeners: map[int]func(Descriptor){},
	}
}

// Register adds d and notifies listeners. Listeners run synchronously on the
// caller's goroutine.
func (r *Registry) Register(d Descriptor) error {
	d.ID = strings.TrimSpace(d.ID)
	if d.ID == "" {
		return ErrInvalidID
	}
	if err := semver.Check(r.engine, d.EngineConstraint); err != nil {
		return fmt.Errorf("register extension %q: %w", d.ID, err)
	}

	r.mu.Lock()
	if _, ok := r.byID[d.ID]; ok {
		r.mu.Unlock()
		return fmt.Errorf("register extension %q: %w", d.ID, ErrDuplicateID)
	}
	r.byID[d.ID] = d
	listeners := make([]func(Descriptor), 0, len(r.listeners))
	for _, fn := range r.listeners {
		listeners = append(listeners, fn)
	}
	r.mu.Unlock()

	for _, fn := range listeners {
		fn(d)
	}
	return nil
}

// Descriptors returns every registered extension in priority order.
func (r *Registry) Descriptors() []Descriptor {
	r.mu.RLock()
	out := make([]Descriptor, 0, len(r.byID))
	for _, d := range r.byID {
		out = append(out, d)
	}
	r.mu.RUnlock()

	SortByPriority(out, func(d Descriptor) (int, string) { return d.Priority, d.ID })
	return out
}

// OnRegister calls fn for every extension registered after this call.
func (r *Registry) OnRegister(fn func(Descriptor)) (cancel func()) {
	r.mu.Lock()
	defer r.mu.Unlock()
	id := r.nextID
	r.nextID++
	r.listeners[id] = fn
	return func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		delete(r.listeners, id)
	}
}
