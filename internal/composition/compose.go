package composition

import (
	"context"

	"golang.org/x/sync/errgroup"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	"k8s.io/apimachinery/pkg/util/sets"

	"github.com/anvil-platform/topology/internal/aggregation"
	"github.com/anvil-platform/topology/internal/diagnostics"
	"github.com/anvil-platform/topology/internal/extension"
	"github.com/anvil-platform/topology/internal/graph"
	"github.com/anvil-platform/topology/internal/watch"
)

type namedDepicter struct {
	id       string
	depicter extension.Depicter
	// failed is set after the first error; the depicter is skipped for the rest of the pass.
	failed bool
}

// Compose runs every model builder concurrently and folds the fragments in
// the order of exts. When groupDisplay is set, a node is skipped if any
// depicter reports its resource as already shown in the accumulated model.
// Edges are always kept.
func Compose(
	ctx context.Context,
	namespace string,
	resources watch.Snapshot,
	workloads []*unstructured.Unstructured,
	exts []aggregation.ExtensionContext,
	groupDisplay bool,
	sink diagnostics.Sink,
) *graph.Model {
	fragments := make([]*graph.Model, len(exts))

	var g errgroup.Group
	for i, c := range exts {
		if c.ModelBuilder == nil {
			continue
		}
		g.Go(func() error {
			m, err := build(ctx, c.ModelBuilder, namespace, resources, workloads)
			if err != nil {
				sink.Report(diagnostics.Diagnostic{Extension: c.ID, Phase: diagnostics.PhaseBuild, Err: err})
				return nil
			}
			fragments[i] = m
			return nil
		})
	}
	_ = g.Wait()

	var depicters []namedDepicter
	if groupDisplay {
		for _, c := range exts {
			if c.Depicter != nil {
				depicters = append(depicters, namedDepicter{id: c.ID, depicter: c.Depicter})
			}
		}
	}

	out := &graph.Model{}
	for _, fragment := range fragments {
		if fragment == nil {
			continue
		}
		for _, n := range fragment.Nodes {
			if n.Resource != nil && depicted(depicters, n.Resource, out, sink) {
				continue
			}
			out.Nodes = append(out.Nodes, n)
		}
		out.Edges = append(out.Edges, fragment.Edges...)
	}
	return out
}

// Reconcile runs each reconciler in order against model. A failing reconciler
// is reported and skipped; whatever it changed before failing stays.
func Reconcile(model *graph.Model, resources watch.Snapshot, exts []aggregation.ExtensionContext, sink diagnostics.Sink) {
	for _, c := range exts {
		if c.Reconciler == nil {
			continue
		}
		if err := reconcile(c.Reconciler, model, resources); err != nil {
			sink.Report(diagnostics.Diagnostic{Extension: c.ID, Phase: diagnostics.PhaseReconcile, Err: err})
		}
	}
}

// WorkloadResources collects the objects of every workload key, without duplicates.
func WorkloadResources(resources watch.Snapshot, keys []string) []*unstructured.Unstructured {
	seen := sets.New[string]()
	var out []*unstructured.Unstructured
	for _, key := range keys {
		for _, obj := range resources[key].Data {
			id := graph.ResourceID(obj)
			if seen.Has(id) {
				continue
			}
			seen.Insert(id)
			out = append(out, obj)
		}
	}
	return out
}

func depicted(depicters []namedDepicter, obj *unstructured.Unstructured, acc *graph.Model, sink diagnostics.Sink) bool {
	for i := range depicters {
		d := &depicters[i]
		if d.failed {
			continue
		}
		ok, err := isDepicted(d.depicter, obj, acc)
		if err != nil {
			d.failed = true
			sink.Report(diagnostics.Diagnostic{Extension: d.id, Phase: diagnostics.PhaseDepicter, Err: err})
			continue
		}
		if ok {
			return true
		}
	}
	return false
}

func build(ctx context.Context, b extension.ModelBuilder, namespace string, resources watch.Snapshot, workloads []*unstructured.Unstructured) (m *graph.Model, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = diagnostics.Recovered(r)
		}
	}()
	return b.BuildModel(ctx, namespace, resources, workloads)
}

func isDepicted(d extension.Depicter, obj *unstructured.Unstructured, acc *graph.Model) (ok bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = diagnostics.Recovered(r)
		}
	}()
	return d.IsResourceDepicted(obj, acc), nil
}

func reconcile(r extension.Reconciler, model *graph.Model, resources watch.Snapshot) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = diagnostics.Recovered(rec)
		}
	}()
	return r.Reconcile(model, resources)
}
