package watch

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/go-logr/logr"
	"k8s.io/apimachinery/pkg/api/meta"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	"k8s.io/apimachinery/pkg/labels"
	"k8s.io/apimachinery/pkg/runtime"
	"k8s.io/apimachinery/pkg/runtime/schema"
	apiwatch "k8s.io/apimachinery/pkg/watch"
	"k8s.io/client-go/dynamic"
	"k8s.io/client-go/tools/cache"
)

// DynamicMultiplexer implements Multiplexer on top of shared informers backed
// by the dynamic client. Each Watch call owns its informers; they stop when the
// Watch context is done. A watch error stays on the collection until the next
// successful list.
type DynamicMultiplexer struct {
	client dynamic.Interface
	mapper meta.RESTMapper
	resync time.Duration
	log    logr.Logger
}

func NewDynamicMultiplexer(client dynamic.Interface, mapper meta.RESTMapper, resync time.Duration, log logr.Logger) *DynamicMultiplexer {
	return &DynamicMultiplexer{
		client: client,
		mapper: mapper,
		resync: resync,
		log:    log.WithName("watch"),
	}
}

type informerKey struct {
	namespace string
	gvr       schema.GroupVersionResource
}

// informerEntry is shared by every logical name that resolves to the same GVR and namespace.
type informerEntry struct {
	informer cache.SharedIndexInformer
	keys     []string
	err      error
}

type collection struct {
	spec     Spec
	selector labels.Selector
	entry    *informerEntry
	setupErr error
}

type session struct {
	ctx    context.Context
	notify func(Snapshot)
	log    logr.Logger

	mu          sync.Mutex
	collections map[string]*collection

	// publishMu keeps snapshots delivered in the order they were built.
	publishMu sync.Mutex
}

func (m *DynamicMultiplexer) Watch(ctx context.Context, specs Specs, notify func(Snapshot)) error {
	if notify == nil {
		return fmt.Errorf("watch: notify func is required")
	}
	s := &session{
		ctx:         ctx,
		notify:      notify,
		log:         m.log,
		collections: make(map[string]*collection, len(specs)),
	}

	entries := map[informerKey]*informerEntry{}

	for _, key := range specs.Keys() {
		spec := specs[key]
		c := &collection{spec: spec}
		s.collections[key] = c

		if spec.Selector != nil {
			sel, err := metav1.LabelSelectorAsSelector(spec.Selector)
			if err != nil {
				c.setupErr = fmt.Errorf("invalid selector for %q: %w", key, err)
				continue
			}
			c.selector = sel
		}

		gvk := spec.GroupVersionKind()
		mapping, err := m.mapper.RESTMapping(gvk.GroupKind(), gvk.Version)
		if err != nil {
			c.setupErr = fmt.Errorf("no resource mapping for %s: %w", gvk.String(), err)
			continue
		}

		namespace := spec.Namespace
		if mapping.Scope.Name() != meta.RESTScopeNameNamespace {
			namespace = metav1.NamespaceAll
		}
		ik := informerKey{namespace: namespace, gvr: mapping.Resource}
		entry, ok := entries[ik]
		if !ok {
			entry = &informerEntry{}
			entry.informer = cache.NewSharedIndexInformer(
				s.listWatch(m.client, ik, entry),
				&unstructured.Unstructured{},
				m.resync,
				cache.Indexers{cache.NamespaceIndex: cache.MetaNamespaceIndexFunc},
			)
			entries[ik] = entry
			s.attach(entry, mapping.Resource)
		}
		entry.keys = append(entry.keys, key)
		c.entry = entry
	}

	for _, entry := range entries {
		go entry.informer.Run(ctx.Done())
	}
	for ik, entry := range entries {
		go func(ik informerKey, entry *informerEntry) {
			if !cache.WaitForCacheSync(ctx.Done(), entry.informer.HasSynced) {
				return
			}
			s.log.V(1).Info("informer synced", "gvr", ik.gvr.String(), "namespace", ik.namespace)
			s.setError(entry, nil)
			s.publish()
		}(ik, entry)
	}

	s.publish()
	return nil
}

func (s *session) listWatch(client dynamic.Interface, ik informerKey, entry *informerEntry) *cache.ListWatch {
	var resource dynamic.ResourceInterface = client.Resource(ik.gvr)
	if ik.namespace != metav1.NamespaceAll {
		resource = client.Resource(ik.gvr).Namespace(ik.namespace)
	}
	return &cache.ListWatch{
		ListFunc: func(options metav1.ListOptions) (runtime.Object, error) {
			list, err := resource.List(s.ctx, options)
			if err != nil {
				return nil, err
			}
			s.recovered(entry)
			return list, nil
		},
		WatchFunc: func(options metav1.ListOptions) (apiwatch.Interface, error) {
			return resource.Watch(s.ctx, options)
		},
	}
}

// recovered clears the watch error of entry after a successful relist. The
// event handlers stay quiet when the relisted collection is unchanged, so the
// cleared state is published here.
func (s *session) recovered(entry *informerEntry) {
	s.mu.Lock()
	stale := entry.err != nil
	entry.err = nil
	s.mu.Unlock()
	if stale {
		s.publish()
	}
}

func (s *session) attach(entry *informerEntry, gvr schema.GroupVersionResource) {
	if err := entry.informer.SetWatchErrorHandler(func(_ *cache.Reflector, err error) {
		s.log.V(1).Info("watch error", "gvr", gvr.String(), "error", err.Error())
		s.setError(entry, err)
		s.publish()
	}); err != nil {
		s.log.Error(err, "failed to set watch error handler", "gvr", gvr.String())
	}

	onChange := func() {
		s.setError(entry, nil)
		s.publish()
	}
	if _, err := entry.informer.AddEventHandler(cache.ResourceEventHandlerFuncs{
		AddFunc:    func(interface{}) { onChange() },
		UpdateFunc: func(interface{}, interface{}) { onChange() },
		DeleteFunc: func(interface{}) { onChange() },
	}); err != nil {
		s.log.Error(err, "failed to add event handler", "gvr", gvr.String())
	}
}

func (s *session) setError(entry *informerEntry, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry.err = err
}

func (s *session) publish() {
	s.publishMu.Lock()
	defer s.publishMu.Unlock()
	if s.ctx.Err() != nil {
		return
	}
	s.notify(s.snapshot())
}

func (s *session) snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := make(Snapshot, len(s.collections))
	for key, c := range s.collections {
		if c.setupErr != nil {
			snap[key] = Result{LoadError: c.setupErr}
			continue
		}
		snap[key] = Result{
			Data:      c.items(),
			Loaded:    c.entry.informer.HasSynced(),
			LoadError: c.entry.err,
		}
	}
	return snap
}

func (c *collection) items() []*unstructured.Unstructured {
	var out []*unstructured.Unstructured
	for _, item := range c.entry.informer.GetStore().List() {
		u, ok := item.(*unstructured.Unstructured)
		if !ok {
			continue
		}
		if c.spec.Name != "" && u.GetName() != c.spec.Name {
			continue
		}
		if c.selector != nil && !c.selector.Matches(labels.Set(u.GetLabels())) {
			continue
		}
		out = append(out, u)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].GetNamespace() != out[j].GetNamespace() {
			return out[i].GetNamespace() < out[j].GetNamespace()
		}
		return out[i].GetName() < out[j].GetName()
	})
	if !c.spec.IsList && len(out) > 1 {
		out = out[:1]
	}
	return out
}
