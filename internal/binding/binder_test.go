package binding

import (
	"context"
	"errors"
	"reflect"
	"testing"
	"time"

	"github.com/go-logr/logr"
	"k8s.io/apimachinery/pkg/util/wait"

	"github.com/anvil-platform/topology/internal/aggregation"
	"github.com/anvil-platform/topology/internal/composition"
	"github.com/anvil-platform/topology/internal/diagnostics"
	"github.com/anvil-platform/topology/internal/extension"
	"github.com/anvil-platform/topology/internal/graph"
	"github.com/anvil-platform/topology/internal/watch"
)

func newBinder(opts aggregation.Options) (*aggregation.Store, *Binder, *diagnostics.Recorder) {
	store := aggregation.NewStore("ns", opts)
	rec := &diagnostics.Recorder{}
	return store, NewBinder(store, rec, logr.Discard()), rec
}

func TestBind_AbsentFactoriesUseDefaultsImmediately(t *testing.T) {
	store, b, _ := newBinder(aggregation.Options{MinExtensions: 1})

	if !b.Bind(context.Background(), store.State().Scope, extension.Descriptor{ID: "bare"}) {
		t.Fatalf("expected bind to start")
	}

	st := store.State()
	c := st.Extensions["bare"]
	if c.ModelBuilder == nil || c.Depicter == nil || c.Reconciler == nil || !c.ResourcesResolved {
		t.Fatalf("expected defaults to be stored synchronously, got %+v", c)
	}
	if !st.ExtensionsLoaded {
		t.Fatalf("expected extensions to be loaded")
	}
}

func TestBind_IsIdempotent(t *testing.T) {
	store, b, _ := newBinder(aggregation.Options{})
	scope := store.State().Scope
	calls := 0
	d := extension.Descriptor{
		ID: "x",
		ModelBuilder: func(context.Context) (extension.ModelBuilder, error) {
			calls++
			return extension.EmptyModelBuilder, nil
		},
	}

	if !b.Bind(context.Background(), scope, d) {
		t.Fatalf("expected first bind to start")
	}
	b.Wait()
	if b.Bind(context.Background(), scope, d) {
		t.Fatalf("expected second bind to be a no-op")
	}
	b.Wait()
	if calls != 1 {
		t.Fatalf("expected factory to run once, ran %d times", calls)
	}
}

func TestBind_FailingFactoriesFallBackToDefaults(t *testing.T) {
	store, b, rec := newBinder(aggregation.Options{MinExtensions: 1})
	d := extension.Descriptor{
		ID: "broken",
		Resources: extension.ResourceFunc(func(context.Context, string) (watch.Specs, error) {
			return nil, errors.New("no resources")
		}),
		ModelBuilder: func(context.Context) (extension.ModelBuilder, error) {
			return nil, errors.New("no builder")
		},
		Depicter: func(context.Context) (extension.Depicter, error) {
			panic("no depicter")
		},
		Reconciler: func(context.Context) (extension.Reconciler, error) {
			return nil, nil
		},
	}

	b.Bind(context.Background(), store.State().Scope, d)
	b.Wait()

	st := store.State()
	c := st.Extensions["broken"]
	if !c.Resolved() || !c.ResourcesResolved {
		t.Fatalf("expected all capabilities to fall back to defaults, got %+v", c)
	}
	if len(c.Resources) != 0 {
		t.Fatalf("expected no resources contributed, got %v", c.Resources)
	}
	if c.Depicter.IsResourceDepicted(nil, nil) {
		t.Fatalf("expected default depicter to return false")
	}
	m, err := c.ModelBuilder.BuildModel(context.Background(), "ns", nil, nil)
	if err != nil || m == nil || len(m.Nodes) != 0 {
		t.Fatalf("expected default builder to return an empty model, got %+v %v", m, err)
	}
	if !st.ExtensionsLoaded {
		t.Fatalf("expected failures to not block readiness")
	}

	phases := map[diagnostics.Phase]bool{}
	for _, d := range rec.Diagnostics() {
		phases[d.Phase] = true
	}
	for _, p := range []diagnostics.Phase{diagnostics.PhaseResources, diagnostics.PhaseModel, diagnostics.PhaseDepicter, diagnostics.PhaseReconciler} {
		if !phases[p] {
			t.Fatalf("expected a diagnostic for phase %s, got %+v", p, rec.Diagnostics())
		}
	}
}

func TestBind_ResourcesUseScopeNamespace(t *testing.T) {
	store, b, _ := newBinder(aggregation.Options{})
	var gotNamespace string
	d := extension.Descriptor{
		ID: "svc",
		Resources: extension.ResourceFunc(func(_ context.Context, ns string) (watch.Specs, error) {
			gotNamespace = ns
			return watch.Specs{"services": {Kind: "Service", IsList: true}}, nil
		}),
	}
	b.Bind(context.Background(), store.State().Scope, d)
	b.Wait()

	if gotNamespace != "ns" {
		t.Fatalf("expected namespace ns, got %q", gotNamespace)
	}
	if _, ok := store.State().WatchedResources["services"]; !ok {
		t.Fatalf("expected services to be watched")
	}
}

func TestBind_StaleResolutionIsDropped(t *testing.T) {
	store, b, _ := newBinder(aggregation.Options{})
	old := store.State().Scope
	release := make(chan struct{})
	d := extension.Descriptor{
		ID: "slow",
		ModelBuilder: func(context.Context) (extension.ModelBuilder, error) {
			<-release
			return extension.EmptyModelBuilder, nil
		},
	}

	b.Bind(context.Background(), old, d)
	store.Dispatch(aggregation.ScopeReset{Namespace: "other"})
	close(release)
	b.Wait()

	st := store.State()
	if st.Scope == old {
		t.Fatalf("expected a new scope")
	}
	if _, ok := st.Extensions["slow"]; ok {
		t.Fatalf("expected stale extension to not leak into the new scope")
	}
	if b.Bind(context.Background(), old, d) {
		t.Fatalf("expected bind against a stale scope to be refused")
	}
}

func TestBind_ReconcilerOrderFollowsPriorityNotResolutionOrder(t *testing.T) {
	store, b, _ := newBinder(aggregation.Options{MinExtensions: 3})
	scope := store.State().Scope

	var order []string
	releases := map[string]chan struct{}{}
	descriptor := func(id string, priority int) extension.Descriptor {
		release := make(chan struct{})
		releases[id] = release
		return extension.Descriptor{
			ID:       id,
			Priority: priority,
			Reconciler: func(context.Context) (extension.Reconciler, error) {
				<-release
				return extension.ReconcilerFunc(func(*graph.Model, watch.Snapshot) error {
					order = append(order, id)
					return nil
				}), nil
			},
		}
	}

	for _, d := range []extension.Descriptor{descriptor("low", 1), descriptor("mid", 5), descriptor("high", 10)} {
		b.Bind(context.Background(), scope, d)
	}
	// Resolve in reverse priority order.
	for _, id := range []string{"high", "mid", "low"} {
		close(releases[id])
		err := wait.PollUntilContextTimeout(context.Background(), time.Millisecond, 5*time.Second, true, func(context.Context) (bool, error) {
			return store.State().Extensions[id].Reconciler != nil, nil
		})
		if err != nil {
			t.Fatalf("reconciler for %s never resolved: %v", id, err)
		}
	}
	b.Wait()

	st := store.State()
	if !st.ExtensionsLoaded {
		t.Fatalf("expected extensions to be loaded")
	}
	r := composition.Evaluate(context.Background(), st, watch.Snapshot{}, composition.Options{})
	if !r.Loaded {
		t.Fatalf("expected loaded result, got %+v", r)
	}
	if !reflect.DeepEqual(order, []string{"low", "mid", "high"}) {
		t.Fatalf("expected priority order, got %v", order)
	}
}
