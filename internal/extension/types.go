package extension

import (
	"context"

	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"

	"github.com/anvil-platform/topology/internal/graph"
	"github.com/anvil-platform/topology/internal/watch"
)

// Factory resolves a capability asynchronously. It is invoked at most once
// per extension and namespace scope.
type Factory[T any] func(ctx context.Context) (T, error)

// ResourceProvider contributes the collections an extension wants watched.
type ResourceProvider interface {
	Resources(ctx context.Context, namespace string) (watch.Specs, error)
}

// StaticResources is a ResourceProvider backed by a fixed mapping.
type StaticResources watch.Specs

func (s StaticResources) Resources(context.Context, string) (watch.Specs, error) {
	return watch.Specs(s), nil
}

// ResourceFunc adapts a function to ResourceProvider.
type ResourceFunc func(ctx context.Context, namespace string) (watch.Specs, error)

func (f ResourceFunc) Resources(ctx context.Context, namespace string) (watch.Specs, error) {
	return f(ctx, namespace)
}

// ModelBuilder produces an extension's fragment of the topology.
type ModelBuilder interface {
	BuildModel(ctx context.Context, namespace string, resources watch.Snapshot, workloads []*unstructured.Unstructured) (*graph.Model, error)
}

type ModelBuilderFunc func(ctx context.Context, namespace string, resources watch.Snapshot, workloads []*unstructured.Unstructured) (*graph.Model, error)

func (f ModelBuilderFunc) BuildModel(ctx context.Context, namespace string, resources watch.Snapshot, workloads []*unstructured.Unstructured) (*graph.Model, error) {
	return f(ctx, namespace, resources, workloads)
}

// Depicter reports whether resource is already represented in model.
type Depicter interface {
	IsResourceDepicted(resource *unstructured.Unstructured, model *graph.Model) bool
}

type DepicterFunc func(resource *unstructured.Unstructured, model *graph.Model) bool

func (f DepicterFunc) IsResourceDepicted(resource *unstructured.Unstructured, model *graph.Model) bool {
	return f(resource, model)
}

// Reconciler adjusts the merged model after composition. It may modify model in place.
type Reconciler interface {
	Reconcile(model *graph.Model, resources watch.Snapshot) error
}

type ReconcilerFunc func(model *graph.Model, resources watch.Snapshot) error

func (f ReconcilerFunc) Reconcile(model *graph.Model, resources watch.Snapshot) error {
	return f(model, resources)
}

// Descriptor is the registration record of one extension.
//
// Nil factories are replaced by the package defaults. A nil Resources
// provider contributes no watched resources.
type Descriptor struct {
	ID       string
	Priority int
	// WorkloadKeys are extra logical names whose objects count as workloads.
	WorkloadKeys []string

	Resources    ResourceProvider
	ModelBuilder Factory[ModelBuilder]
	Depicter     Factory[Depicter]
	Reconciler   Factory[Reconciler]

	// EngineConstraint is a semver constraint on the engine version. Empty accepts any.
	EngineConstraint string
}
