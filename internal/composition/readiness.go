// Package composition turns a resource snapshot and the bound extensions
// into a topology model.
package composition

import (
	"context"

	"github.com/anvil-platform/topology/internal/aggregation"
	"github.com/anvil-platform/topology/internal/diagnostics"
	"github.com/anvil-platform/topology/internal/graph"
	"github.com/anvil-platform/topology/internal/watch"
)

// Phase is where a pass stopped.
type Phase string

const (
	PhaseWaitingForExtensions Phase = "WaitingForExtensions"
	PhaseWaitingForResources  Phase = "WaitingForResources"
	PhaseWaitingForLoad       Phase = "WaitingForLoad"
	PhaseError                Phase = "Error"
	PhaseReady                Phase = "Ready"
)

// Result is the outcome of one pass. Model is only set when Loaded is true.
type Result struct {
	Phase     Phase
	Loaded    bool
	LoadError error
	Model     *graph.Model
}

type Options struct {
	// GroupDisplay enables depicter based de-duplication.
	GroupDisplay bool
	Sink         diagnostics.Sink
}

// Evaluate gates the snapshot on extension and resource readiness and, once
// everything is ready, composes and reconciles a new model. Extension
// failures are reported to opts.Sink and never escape.
func Evaluate(ctx context.Context, st aggregation.State, snapshot watch.Snapshot, opts Options) Result {
	sink := opts.Sink
	if sink == nil {
		sink = diagnostics.Discard
	}

	if !st.ExtensionsLoaded {
		return Result{Phase: PhaseWaitingForExtensions}
	}
	if snapshot == nil {
		return Result{Phase: PhaseWaitingForResources}
	}

	keys := snapshot.Keys()
	for _, key := range keys {
		r := snapshot[key]
		if r.LoadError != nil && !st.WatchedResources[key].Optional {
			return Result{Phase: PhaseError, LoadError: r.LoadError}
		}
	}

	resources := make(watch.Snapshot, len(snapshot))
	for _, key := range keys {
		r := snapshot[key]
		switch {
		case r.Loaded:
			resources[key] = r
		case r.LoadError != nil && st.WatchedResources[key].Optional:
			// A failed optional collection counts as present and empty.
			resources[key] = watch.Result{Loaded: true}
		default:
			return Result{Phase: PhaseWaitingForLoad}
		}
	}

	exts := st.OrderedExtensions()
	workloads := WorkloadResources(resources, st.WorkloadKeys)
	model := Compose(ctx, st.Namespace, resources, workloads, exts, opts.GroupDisplay, sink)
	Reconcile(model, resources, exts, sink)

	return Result{Phase: PhaseReady, Loaded: true, Model: model}
}
