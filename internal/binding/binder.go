// Package binding resolves extension descriptors into the aggregation store.
package binding

import (
	"context"
	"errors"
	"sync"

	"github.com/go-logr/logr"

	"github.com/anvil-platform/topology/internal/aggregation"
	"github.com/anvil-platform/topology/internal/diagnostics"
	"github.com/anvil-platform/topology/internal/extension"
	"github.com/anvil-platform/topology/internal/watch"
)

var errNilCapability = errors.New("factory resolved to nil")

// Binder binds extensions to the current scope of a Store.
//
// Each capability of an extension resolves on its own goroutine and is
// published as soon as it is available. A failing factory is replaced by the
// matching default and reported to the diagnostic sink.
type Binder struct {
	store *aggregation.Store
	sink  diagnostics.Sink
	log   logr.Logger

	wg sync.WaitGroup
}

func NewBinder(store *aggregation.Store, sink diagnostics.Sink, log logr.Logger) *Binder {
	if sink == nil {
		sink = diagnostics.Discard
	}
	return &Binder{store: store, sink: sink, log: log.WithName("binder")}
}

// Bind starts resolving d for scope. It returns false without doing anything
// when d is already bound in scope or scope is no longer current.
func (b *Binder) Bind(ctx context.Context, scope aggregation.Scope, d extension.Descriptor) bool {
	st := b.store.State()
	if st.Scope != scope {
		return false
	}
	if !b.store.Dispatch(aggregation.ExtensionObserved{
		Scope:        scope,
		ID:           d.ID,
		Priority:     d.Priority,
		WorkloadKeys: d.WorkloadKeys,
	}) {
		return false
	}
	log := b.log.WithValues("extension", d.ID, "scope", uint64(scope), "namespace", st.Namespace)
	log.V(1).Info("binding extension")

	var resources extension.Factory[watch.Specs]
	if d.Resources != nil {
		provider, namespace := d.Resources, st.Namespace
		resources = func(ctx context.Context) (watch.Specs, error) {
			return provider.Resources(ctx, namespace)
		}
	}
	resolve(ctx, b, log, d.ID, diagnostics.PhaseResources, resources, nil, func(v watch.Specs) aggregation.Action {
		return aggregation.ResourcesResolved{Scope: scope, ID: d.ID, Resources: v}
	})
	resolve(ctx, b, log, d.ID, diagnostics.PhaseModel, d.ModelBuilder, extension.EmptyModelBuilder, func(v extension.ModelBuilder) aggregation.Action {
		return aggregation.ModelBuilderResolved{Scope: scope, ID: d.ID, ModelBuilder: v}
	})
	resolve(ctx, b, log, d.ID, diagnostics.PhaseDepicter, d.Depicter, extension.NeverDepicted, func(v extension.Depicter) aggregation.Action {
		return aggregation.DepicterResolved{Scope: scope, ID: d.ID, Depicter: v}
	})
	resolve(ctx, b, log, d.ID, diagnostics.PhaseReconciler, d.Reconciler, extension.NoopReconciler, func(v extension.Reconciler) aggregation.Action {
		return aggregation.ReconcilerResolved{Scope: scope, ID: d.ID, Reconciler: v}
	})
	return true
}

// Wait blocks until every started resolution has been published or dropped.
func (b *Binder) Wait() {
	b.wg.Wait()
}

// resolve publishes fallback right away when factory is nil, otherwise it
// runs factory in the background.
func resolve[T any](
	ctx context.Context,
	b *Binder,
	log logr.Logger,
	id string,
	phase diagnostics.Phase,
	factory extension.Factory[T],
	fallback T,
	action func(T) aggregation.Action,
) {
	if factory == nil {
		b.store.Dispatch(action(fallback))
		return
	}

	b.wg.Add(1)
	go func() {
		defer b.wg.Done()

		v, err := call(ctx, factory)
		if err == nil && isNil(v) {
			err = errNilCapability
		}
		if err != nil {
			b.sink.Report(diagnostics.Diagnostic{Extension: id, Phase: phase, Err: err})
			v = fallback
		}
		if !b.store.Dispatch(action(v)) {
			log.V(1).Info("dropped stale resolution", "phase", string(phase))
		}
	}()
}

func call[T any](ctx context.Context, factory extension.Factory[T]) (v T, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = diagnostics.Recovered(r)
		}
	}()
	return factory(ctx)
}

func isNil(v any) bool {
	return v == nil
}
