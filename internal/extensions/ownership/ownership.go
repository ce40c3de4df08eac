// Package ownership links nodes whose resources are related through
// ownerReferences, including ownership that passes through objects that are
// not drawn themselves (a Deployment owning Pods through a ReplicaSet).
package ownership

import (
	"fmt"

	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	"k8s.io/apimachinery/pkg/types"

	"github.com/anvil-platform/topology/internal/extension"
	"github.com/anvil-platform/topology/internal/graph"
	"github.com/anvil-platform/topology/internal/watch"
)

const (
	ID = "ownership"

	EdgeTypeOwns = "owns"

	// maxDepth bounds the walk up an owner chain.
	maxDepth = 8
)

// Descriptor runs after every other built-in so all nodes exist when edges are drawn.
func Descriptor() extension.Descriptor {
	return extension.Descriptor{
		ID:         ID,
		Priority:   1000,
		Reconciler: extension.Provide[extension.Reconciler](extension.ReconcilerFunc(Reconcile)),
	}
}

// Reconcile adds an edge from the nearest drawn owner to every drawn resource.
// Edges already present are not duplicated.
func Reconcile(m *graph.Model, resources watch.Snapshot) error {
	if m == nil {
		return nil
	}
	index := indexByUID(resources, m)
	drawn := make(map[string]bool, len(m.Nodes))
	for _, n := range m.Nodes {
		drawn[n.ID] = true
	}
	existing := make(map[string]bool, len(m.Edges))
	for _, e := range m.Edges {
		existing[e.ID] = true
	}

	for _, n := range m.Nodes {
		if n.Resource == nil {
			continue
		}
		owner := nearestDrawnOwner(n.Resource, index, drawn)
		if owner == "" || owner == n.ID {
			continue
		}
		id := fmt.Sprintf("%s:%s:%s", EdgeTypeOwns, owner, n.ID)
		if existing[id] {
			continue
		}
		existing[id] = true
		m.Edges = append(m.Edges, graph.Edge{ID: id, Type: EdgeTypeOwns, Source: owner, Target: n.ID})
	}
	return nil
}

func indexByUID(resources watch.Snapshot, m *graph.Model) map[types.UID]*unstructured.Unstructured {
	index := map[types.UID]*unstructured.Unstructured{}
	for _, key := range resources.Keys() {
		for _, obj := range resources[key].Data {
			if uid := obj.GetUID(); uid != "" {
				index[uid] = obj
			}
		}
	}
	for _, n := range m.Nodes {
		if n.Resource != nil && n.Resource.GetUID() != "" {
			index[n.Resource.GetUID()] = n.Resource
		}
	}
	return index
}

func nearestDrawnOwner(obj *unstructured.Unstructured, index map[types.UID]*unstructured.Unstructured, drawn map[string]bool) string {
	seen := map[types.UID]bool{obj.GetUID(): true}
	cur := obj
	for depth := 0; depth < maxDepth; depth++ {
		uid, ok := ownerUID(cur)
		if !ok || seen[uid] {
			return ""
		}
		if drawn[string(uid)] {
			return string(uid)
		}
		seen[uid] = true
		next, ok := index[uid]
		if !ok {
			return ""
		}
		cur = next
	}
	return ""
}

// ownerUID prefers the controller reference and falls back to the first owner.
func ownerUID(obj *unstructured.Unstructured) (types.UID, bool) {
	refs := obj.GetOwnerReferences()
	if len(refs) == 0 {
		return "", false
	}
	for _, ref := range refs {
		if ref.Controller != nil && *ref.Controller {
			return ref.UID, true
		}
	}
	return refs[0].UID, true
}
