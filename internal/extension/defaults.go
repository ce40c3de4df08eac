package extension

import (
	"context"

	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"

	"github.com/anvil-platform/topology/internal/graph"
	"github.com/anvil-platform/topology/internal/watch"
)

// Defaults stored when a factory is absent or fails.
var (
	EmptyModelBuilder ModelBuilder = ModelBuilderFunc(func(context.Context, string, watch.Snapshot, []*unstructured.Unstructured) (*graph.Model, error) {
		return &graph.Model{}, nil
	})
	NeverDepicted  Depicter   = DepicterFunc(func(*unstructured.Unstructured, *graph.Model) bool { return false })
	NoopReconciler Reconciler = ReconcilerFunc(func(*graph.Model, watch.Snapshot) error { return nil })
)

// Provide returns a Factory that resolves to v immediately.
func Provide[T any](v T) Factory[T] {
	return func(context.Context) (T, error) { return v, nil }
}
