package ownership

import (
	"testing"

	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	"k8s.io/apimachinery/pkg/types"
	"k8s.io/utils/ptr"

	"github.com/anvil-platform/topology/internal/graph"
	"github.com/anvil-platform/topology/internal/watch"
)

func object(kind, name, uid string, owner string) *unstructured.Unstructured {
	u := &unstructured.Unstructured{}
	u.SetAPIVersion("v1")
	u.SetKind(kind)
	u.SetNamespace("ns")
	u.SetName(name)
	u.SetUID(types.UID(uid))
	if owner != "" {
		u.SetOwnerReferences([]metav1.OwnerReference{{UID: types.UID(owner), Controller: ptr.To(true)}})
	}
	return u
}

func TestReconcile_LinksThroughUndrawnIntermediates(t *testing.T) {
	dep := object("Deployment", "web", "dep", "")
	rs := object("ReplicaSet", "web-1", "rs", "dep")
	pod := object("Pod", "web-1-a", "pod", "rs")

	m := &graph.Model{Nodes: []graph.Node{
		graph.NewResourceNode(dep, "workload"),
		graph.NewResourceNode(pod, "pod"),
	}}
	resources := watch.Snapshot{
		"replicasets": {Loaded: true, Data: []*unstructured.Unstructured{rs}},
	}

	if err := Reconcile(m, resources); err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	if len(m.Edges) != 1 {
		t.Fatalf("expected 1 edge, got %+v", m.Edges)
	}
	e := m.Edges[0]
	if e.Source != "dep" || e.Target != "pod" || e.Type != EdgeTypeOwns {
		t.Fatalf("unexpected edge %+v", e)
	}

	if err := Reconcile(m, resources); err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	if len(m.Edges) != 1 {
		t.Fatalf("expected edges to not be duplicated, got %d", len(m.Edges))
	}
}

func TestReconcile_IgnoresCyclesAndMissingOwners(t *testing.T) {
	a := object("ConfigMap", "a", "a", "b")
	b := object("ConfigMap", "b", "b", "a")
	orphan := object("Job", "orphan", "orphan", "gone")

	m := &graph.Model{Nodes: []graph.Node{graph.NewResourceNode(orphan, "workload")}}
	resources := watch.Snapshot{"cms": {Loaded: true, Data: []*unstructured.Unstructured{a, b}}}
	if err := Reconcile(m, resources); err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	if len(m.Edges) != 0 {
		t.Fatalf("expected no edges, got %+v", m.Edges)
	}

	m = &graph.Model{Nodes: []graph.Node{graph.NewResourceNode(a, "cm")}}
	if err := Reconcile(m, resources); err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	if len(m.Edges) != 0 {
		t.Fatalf("expected cycle to yield no self edge, got %+v", m.Edges)
	}
}

func TestReconcile_NilModel(t *testing.T) {
	if err := Reconcile(nil, nil); err != nil {
		t.Fatalf("expected nil model to be ignored, got %v", err)
	}
}
