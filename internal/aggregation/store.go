package aggregation

import (
	"maps"
	"sync"

	"k8s.io/apimachinery/pkg/util/sets"

	"github.com/anvil-platform/topology/internal/watch"
)

// DefaultMinExtensions is the number of bound extensions required before a
// model is composed when Options.MinExtensions is unset. Hosts usually run one
// base extension next to the plugin-provided ones.
const DefaultMinExtensions = 2

type Options struct {
	// BaseResources are always watched. They win over extension specs with the same name.
	BaseResources    watch.Specs
	BaseWorkloadKeys []string
	MinExtensions    int
}

// Store owns the aggregation state of the active namespace scope.
//
// State is only changed through Dispatch. Every accepted action produces a new
// State with a higher Version; subscribers receive the latest version only.
type Store struct {
	opts Options

	mu        sync.RWMutex
	state     State
	lastScope Scope
	subs      map[int]chan State
	nextSub   int
}

func NewStore(namespace string, opts Options) *Store {
	if opts.MinExtensions <= 0 {
		opts.MinExtensions = DefaultMinExtensions
	}
	s := &Store{opts: opts, subs: map[int]chan State{}}
	s.lastScope = 1
	s.state = s.initial(namespace, s.lastScope)
	return s
}

func (s *Store) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// Dispatch applies a and reports whether the state changed. Actions aimed at
// a scope other than the current one are dropped.
func (s *Store) Dispatch(a Action) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	next, ok := s.reduce(s.state, a)
	if !ok {
		return false
	}
	next.Version = s.state.Version + 1
	s.state = next
	for _, ch := range s.subs {
		select {
		case <-ch:
		default:
		}
		ch <- next
	}
	return true
}

// Subscribe returns a channel that always holds the most recent state not yet
// received. The current state is delivered immediately.
func (s *Store) Subscribe() (<-chan State, func()) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ch := make(chan State, 1)
	ch <- s.state
	id := s.nextSub
	s.nextSub++
	s.subs[id] = ch
	return ch, func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.subs, id)
	}
}

func (s *Store) initial(namespace string, scope Scope) State {
	st := State{
		Scope:      scope,
		Namespace:  namespace,
		Extensions: map[string]ExtensionContext{},
	}
	s.derive(&st)
	return st
}

func (s *Store) reduce(st State, a Action) (State, bool) {
	switch a := a.(type) {
	case ScopeReset:
		s.lastScope++
		next := s.initial(a.Namespace, s.lastScope)
		return next, true

	case ExtensionObserved:
		if a.Scope != st.Scope || a.ID == "" {
			return st, false
		}
		if _, ok := st.Extensions[a.ID]; ok {
			return st, false
		}
		exts := maps.Clone(st.Extensions)
		exts[a.ID] = ExtensionContext{
			ID:           a.ID,
			Priority:     a.Priority,
			WorkloadKeys: append([]string(nil), a.WorkloadKeys...),
		}
		st.Extensions = exts
		st.ExtensionsVersion++
		s.derive(&st)
		return st, true

	case ResourcesResolved:
		return s.updateExtension(st, a.Scope, a.ID, func(c *ExtensionContext) {
			c.Resources = a.Resources
			c.ResourcesResolved = true
		})

	case ModelBuilderResolved:
		return s.updateExtension(st, a.Scope, a.ID, func(c *ExtensionContext) { c.ModelBuilder = a.ModelBuilder })

	case DepicterResolved:
		return s.updateExtension(st, a.Scope, a.ID, func(c *ExtensionContext) { c.Depicter = a.Depicter })

	case ReconcilerResolved:
		return s.updateExtension(st, a.Scope, a.ID, func(c *ExtensionContext) { c.Reconciler = a.Reconciler })

	case ResultComputed:
		if a.Scope != st.Scope {
			return st, false
		}
		st.LoadError = a.LoadError
		if a.Loaded {
			st.Model = a.Model
			st.Loaded = true
		}
		setModelCondition(&st)
		return st, true

	case ModelCleared:
		if a.Scope != st.Scope {
			return st, false
		}
		st.Model = nil
		st.Loaded = false
		setModelCondition(&st)
		return st, true
	}
	return st, false
}

func (s *Store) updateExtension(st State, scope Scope, id string, fn func(*ExtensionContext)) (State, bool) {
	if scope != st.Scope {
		return st, false
	}
	c, ok := st.Extensions[id]
	if !ok {
		return st, false
	}
	fn(&c)
	exts := maps.Clone(st.Extensions)
	exts[id] = c
	st.Extensions = exts
	st.ExtensionsVersion++
	s.derive(&st)
	return st, true
}

// derive recomputes every field that depends on Extensions.
func (s *Store) derive(st *State) {
	ordered := st.OrderedExtensions()

	watched := make(watch.Specs, len(s.opts.BaseResources))
	add := func(specs watch.Specs) {
		for _, key := range specs.Keys() {
			if _, exists := watched[key]; exists {
				continue
			}
			spec := specs[key]
			if spec.Namespace == "" {
				spec.Namespace = st.Namespace
			}
			watched[key] = spec
		}
	}
	add(s.opts.BaseResources)
	for _, c := range ordered {
		add(c.Resources)
	}
	st.WatchedResources = watched

	keys := sets.New(s.opts.BaseWorkloadKeys...)
	for _, c := range ordered {
		keys.Insert(c.WorkloadKeys...)
	}
	st.WorkloadKeys = sets.List(keys)

	loaded := len(ordered) >= s.opts.MinExtensions
	resolved := 0
	for _, c := range ordered {
		if c.Resolved() {
			resolved++
		} else {
			loaded = false
		}
	}
	st.ExtensionsLoaded = loaded
	setExtensionsCondition(st, resolved, len(ordered))
	setModelCondition(st)
}
