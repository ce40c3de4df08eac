package aggregation

import (
	"github.com/anvil-platform/topology/internal/extension"
	"github.com/anvil-platform/topology/internal/graph"
	"github.com/anvil-platform/topology/internal/watch"
)

// Action is a state transition submitted to a Store.
type Action interface {
	action()
}

// ExtensionObserved creates the context for an extension the first time it is seen.
type ExtensionObserved struct {
	Scope        Scope
	ID           string
	Priority     int
	WorkloadKeys []string
}

type ResourcesResolved struct {
	Scope     Scope
	ID        string
	Resources watch.Specs
}

type ModelBuilderResolved struct {
	Scope        Scope
	ID           string
	ModelBuilder extension.ModelBuilder
}

type DepicterResolved struct {
	Scope    Scope
	ID       string
	Depicter extension.Depicter
}

type ReconcilerResolved struct {
	Scope      Scope
	ID         string
	Reconciler extension.Reconciler
}

// ResultComputed publishes the outcome of a composition pass.
type ResultComputed struct {
	Scope     Scope
	Loaded    bool
	LoadError error
	Model     *graph.Model
}

// ModelCleared drops the current model without touching extensions.
type ModelCleared struct {
	Scope Scope
}

// ScopeReset discards the whole state and starts a new scope for Namespace.
type ScopeReset struct {
	Namespace string
}

func (ExtensionObserved) action()    {}
func (ResourcesResolved) action()    {}
func (ModelBuilderResolved) action() {}
func (DepicterResolved) action()     {}
func (ReconcilerResolved) action()   {}
func (ResultComputed) action()       {}
func (ModelCleared) action()         {}
func (ScopeReset) action()           {}
