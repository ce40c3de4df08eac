package controllers

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/go-logr/logr"
	"k8s.io/apimachinery/pkg/api/equality"
	"k8s.io/utils/clock"
	"sigs.k8s.io/controller-runtime/pkg/log"

	"github.com/anvil-platform/topology/internal/aggregation"
	"github.com/anvil-platform/topology/internal/binding"
	"github.com/anvil-platform/topology/internal/composition"
	"github.com/anvil-platform/topology/internal/diagnostics"
	"github.com/anvil-platform/topology/internal/extension"
	"github.com/anvil-platform/topology/internal/watch"
)

// TopologyController keeps the model of the active namespace scope up to date.
//
// It binds every registered extension, subscribes the multiplexer to the
// aggregated watched resources and runs a composition pass once resource
// snapshots have been quiet for the Debounce window. Results are tagged with
// the scope they were computed for, so a pass that races a namespace change
// is dropped by the store.
type TopologyController struct {
	Store    *aggregation.Store
	Registry *extension.Registry
	Binder   *binding.Binder
	Watcher  watch.Multiplexer

	Clock        clock.Clock
	Debounce     time.Duration
	GroupDisplay bool
	Sink         diagnostics.Sink
	Log          logr.Logger

	mu          sync.Mutex
	runCtx      context.Context
	scopeCtx    context.Context
	cancelScope context.CancelFunc

	// latest is the most recent snapshot of the current watch session.
	latest   *scopedSnapshot
	watchGen uint64
	wake     chan struct{}
}

type scopedSnapshot struct {
	scope    aggregation.Scope
	snapshot watch.Snapshot
}

// NeedLeaderElection reports false; every replica serves its own model.
func (c *TopologyController) NeedLeaderElection() bool { return false }

func (c *TopologyController) setDefaults() {
	if c.Clock == nil {
		c.Clock = clock.RealClock{}
	}
	if c.Sink == nil {
		c.Sink = diagnostics.Multi(diagnostics.LogSink{Log: c.Log}, MetricsSink)
	}
	if c.wake == nil {
		c.wake = make(chan struct{}, 1)
	}
}

// Start runs the orchestration loop until ctx is done.
func (c *TopologyController) Start(ctx context.Context) error {
	if c.Store == nil || c.Registry == nil || c.Binder == nil || c.Watcher == nil {
		return fmt.Errorf("topology controller: store, registry, binder and watcher are required")
	}
	c.mu.Lock()
	c.setDefaults()
	c.runCtx = ctx
	c.scopeCtx, c.cancelScope = context.WithCancel(ctx)
	c.mu.Unlock()

	logger := c.Log.WithValues("namespace", c.Store.State().Namespace)
	logger.Info("Starting topology controller", "debounce", c.Debounce.String())

	cancelRegister := c.Registry.OnRegister(func(d extension.Descriptor) {
		c.bind(d)
	})
	defer cancelRegister()
	c.bindAll()

	states, unsubscribe := c.Store.Subscribe()
	defer unsubscribe()

	var (
		watching   watch.Specs
		watchScope aggregation.Scope
		extScope   aggregation.Scope
		extVersion uint64
		timer      clock.Timer
		timerC     <-chan time.Time
	)
	stopWatch := context.CancelFunc(func() {})
	evaluateSoon := func() {
		if c.Debounce <= 0 {
			c.pass(ctx)
			return
		}
		if timer != nil {
			timer.Stop()
		}
		timer = c.Clock.NewTimer(c.Debounce)
		timerC = timer.C()
	}
	defer func() {
		stopWatch()
		if timer != nil {
			timer.Stop()
		}
		c.mu.Lock()
		c.cancelScope()
		c.mu.Unlock()
	}()

	for {
		select {
		case <-ctx.Done():
			logger.Info("Stopping topology controller")
			return nil

		case st := <-states:
			topologyBoundExtensions.Set(float64(len(st.Extensions)))
			if st.Scope != watchScope || !equality.Semantic.DeepEqual(st.WatchedResources, watching) {
				stopWatch()
				watchCtx, cancel := context.WithCancel(ctx)
				stopWatch = cancel
				watching = st.WatchedResources
				watchScope = st.Scope
				c.rewatch(watchCtx, st)
			}
			if st.Scope != extScope || st.ExtensionsVersion != extVersion {
				extScope = st.Scope
				extVersion = st.ExtensionsVersion
				evaluateSoon()
			}

		case <-c.wake:
			evaluateSoon()

		case <-timerC:
			timer, timerC = nil, nil
			c.pass(ctx)
		}
	}
}

// SetNamespace moves the engine to namespace ns. The current model is cleared
// before the old scope is discarded so consumers never see the previous
// namespace's model under the new one. Every registered extension is bound
// again for the new scope.
//
// The hosting process owns this call; the controller never changes scope on
// its own. cmd/topology-dump uses it to walk several namespaces in one run.
func (c *TopologyController) SetNamespace(ns string) {
	st := c.Store.State()
	if st.Namespace == ns {
		return
	}
	c.Log.Info("Switching namespace", "from", st.Namespace, "to", ns)
	c.Store.Dispatch(aggregation.ModelCleared{Scope: st.Scope})

	c.mu.Lock()
	if c.cancelScope != nil {
		c.cancelScope()
		c.scopeCtx, c.cancelScope = context.WithCancel(c.runCtx)
	}
	c.Store.Dispatch(aggregation.ScopeReset{Namespace: ns})
	c.mu.Unlock()

	c.bindAll()
}

// ExtensionsReady is a healthz.Checker that passes once the extensions of the
// current scope are resolved.
func (c *TopologyController) ExtensionsReady(_ *http.Request) error {
	st := c.Store.State()
	if !st.ExtensionsLoaded {
		return fmt.Errorf("extensions not loaded: %d bound", len(st.Extensions))
	}
	return nil
}

func (c *TopologyController) bindAll() {
	for _, d := range c.Registry.Descriptors() {
		c.bind(d)
	}
}

func (c *TopologyController) bind(d extension.Descriptor) {
	c.mu.Lock()
	ctx := c.scopeCtx
	scope := c.Store.State().Scope
	c.mu.Unlock()
	if ctx == nil {
		return
	}
	if c.Binder.Bind(ctx, scope, d) {
		c.Log.V(1).Info("Extension bound", "extension", d.ID, "scope", uint64(scope))
	}
}

func (c *TopologyController) rewatch(ctx context.Context, st aggregation.State) {
	c.mu.Lock()
	c.watchGen++
	gen := c.watchGen
	c.latest = nil
	c.mu.Unlock()

	scope := st.Scope
	err := c.Watcher.Watch(ctx, st.WatchedResources, func(s watch.Snapshot) {
		c.offer(gen, scopedSnapshot{scope: scope, snapshot: s})
	})
	if err != nil {
		c.Log.Error(err, "unable to watch resources", "resources", len(st.WatchedResources))
		return
	}
	c.Log.V(1).Info("Watching resources", "resources", st.WatchedResources.Keys(), "scope", uint64(scope))
}

// offer records s as the latest snapshot and wakes the loop. Snapshots from a
// replaced watch session are ignored.
func (c *TopologyController) offer(gen uint64, s scopedSnapshot) {
	c.mu.Lock()
	if gen != c.watchGen {
		c.mu.Unlock()
		return
	}
	c.latest = &s
	c.mu.Unlock()

	select {
	case c.wake <- struct{}{}:
	default:
	}
}

// pass runs one composition pass against the latest snapshot.
func (c *TopologyController) pass(ctx context.Context) {
	start := c.Clock.Now()
	st := c.Store.State()

	c.mu.Lock()
	var snapshot watch.Snapshot
	if c.latest != nil && c.latest.scope == st.Scope {
		snapshot = c.latest.snapshot
	}
	c.mu.Unlock()

	res := composition.Evaluate(log.IntoContext(ctx, c.Log), st, snapshot, composition.Options{
		GroupDisplay: c.GroupDisplay,
		Sink:         c.Sink,
	})
	topologyCompositionPassesTotal.WithLabelValues(string(res.Phase)).Inc()
	topologyCompositionPassDuration.Observe(c.Clock.Since(start).Seconds())

	applied := c.Store.Dispatch(aggregation.ResultComputed{
		Scope:     st.Scope,
		Loaded:    res.Loaded,
		LoadError: res.LoadError,
		Model:     res.Model,
	})
	if !applied {
		c.Log.V(1).Info("Dropping result for stale scope", "scope", uint64(st.Scope))
		return
	}
	if res.LoadError != nil {
		c.Log.Info("Resource load failed", "error", res.LoadError.Error())
	}
	if res.Loaded {
		topologyModelNodes.Set(float64(len(res.Model.Nodes)))
		topologyModelEdges.Set(float64(len(res.Model.Edges)))
		c.Log.V(1).Info("Model composed", "nodes", len(res.Model.Nodes), "edges", len(res.Model.Edges))
	}
}
