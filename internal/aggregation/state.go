package aggregation

import (
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"

	"github.com/anvil-platform/topology/internal/extension"
	"github.com/anvil-platform/topology/internal/graph"
	"github.com/anvil-platform/topology/internal/watch"
)

// Scope identifies one namespace scope. A new Scope is allocated every time
// the namespace changes; results tagged with an older Scope are dropped.
type Scope uint64

// ExtensionContext is what the engine knows about one bound extension.
// Capabilities are nil until their factory has resolved.
type ExtensionContext struct {
	ID                string
	Priority          int
	WorkloadKeys      []string
	Resources         watch.Specs
	ResourcesResolved bool

	ModelBuilder extension.ModelBuilder
	Depicter     extension.Depicter
	Reconciler   extension.Reconciler
}

// Resolved reports whether all three capabilities are populated.
func (c ExtensionContext) Resolved() bool {
	return c.ModelBuilder != nil && c.Depicter != nil && c.Reconciler != nil
}

// State is an immutable snapshot of the aggregation state for one scope.
// Maps and slices are shared between versions and must not be modified.
type State struct {
	Version   uint64
	Scope     Scope
	Namespace string

	Extensions map[string]ExtensionContext
	// ExtensionsVersion increases whenever Extensions changes within the scope.
	ExtensionsVersion uint64

	// Derived from Extensions on every change.
	WatchedResources watch.Specs
	WorkloadKeys     []string
	ExtensionsLoaded bool

	Model     *graph.Model
	Loaded    bool
	LoadError error

	Conditions []metav1.Condition
}

// OrderedExtensions returns the bound extensions by ascending priority, ties by id.
func (s State) OrderedExtensions() []ExtensionContext {
	out := make([]ExtensionContext, 0, len(s.Extensions))
	for _, c := range s.Extensions {
		out = append(out, c)
	}
	extension.SortByPriority(out, func(c ExtensionContext) (int, string) { return c.Priority, c.ID })
	return out
}

// Depicters returns the resolved depicters in priority order.
func (s State) Depicters() []extension.Depicter {
	var out []extension.Depicter
	for _, c := range s.OrderedExtensions() {
		if c.Depicter != nil {
			out = append(out, c.Depicter)
		}
	}
	return out
}
