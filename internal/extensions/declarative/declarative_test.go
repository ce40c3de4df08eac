package declarative

import (
	"context"
	"testing"

	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	"k8s.io/apimachinery/pkg/types"

	"github.com/anvil-platform/topology/internal/graph"
	"github.com/anvil-platform/topology/internal/watch"
)

func obj(kind, name, uid string) *unstructured.Unstructured {
	u := &unstructured.Unstructured{}
	u.SetKind(kind)
	u.SetNamespace("ns")
	u.SetName(name)
	u.SetUID(types.UID(uid))
	return u
}

func servicesConfig() Config {
	return Config{
		ID:       "services",
		Priority: 5,
		Resources: watch.Specs{
			"services": {Kind: "Service", IsList: true},
		},
	}
}

func TestValidate(t *testing.T) {
	if err := servicesConfig().Validate(); err != nil {
		t.Fatalf("expected valid config, got %v", err)
	}
	if err := (Config{}).Validate(); err == nil {
		t.Fatalf("expected missing id to fail")
	}
	bad := servicesConfig()
	bad.Resources["broken"] = watch.Spec{}
	if err := bad.Validate(); err == nil {
		t.Fatalf("expected missing kind to fail")
	}
}

func TestDescriptor_BuildsOneNodePerObject(t *testing.T) {
	d := Descriptor(servicesConfig())
	if d.ID != "services" || d.Priority != 5 {
		t.Fatalf("unexpected descriptor %+v", d)
	}
	specs, err := d.Resources.Resources(context.Background(), "ns")
	if err != nil || len(specs) != 1 {
		t.Fatalf("expected static resources, got %v %v", specs, err)
	}

	mb, err := d.ModelBuilder(context.Background())
	if err != nil {
		t.Fatalf("ModelBuilder: %v", err)
	}
	svc := obj("Service", "web", "svc-web")
	m, err := mb.BuildModel(context.Background(), "ns", watch.Snapshot{
		"services": {Loaded: true, Data: []*unstructured.Unstructured{svc, svc}},
	}, nil)
	if err != nil {
		t.Fatalf("BuildModel: %v", err)
	}
	if len(m.Nodes) != 1 {
		t.Fatalf("expected duplicate objects to collapse into one node, got %d", len(m.Nodes))
	}
	if m.Nodes[0].Type != "service" || m.Nodes[0].Data["source"] != "services" {
		t.Fatalf("unexpected node %+v", m.Nodes[0])
	}
}

func TestDescriptor_SkipsWorkloadsUnlessAsked(t *testing.T) {
	cfg := Config{ID: "deps", NodeType: "app", Resources: watch.Specs{"deployments": {APIVersion: "apps/v1", Kind: "Deployment", IsList: true}}}
	dep := obj("Deployment", "web", "dep")
	snap := watch.Snapshot{"deployments": {Loaded: true, Data: []*unstructured.Unstructured{dep}}}
	workloads := []*unstructured.Unstructured{dep}

	b := &builder{cfg: cfg}
	m, _ := b.BuildModel(context.Background(), "ns", snap, workloads)
	if len(m.Nodes) != 0 {
		t.Fatalf("expected workloads to be skipped, got %d nodes", len(m.Nodes))
	}

	cfg.Workloads = true
	b = &builder{cfg: cfg}
	m, _ = b.BuildModel(context.Background(), "ns", snap, workloads)
	if len(m.Nodes) != 1 || m.Nodes[0].Type != "app" {
		t.Fatalf("expected one app node, got %+v", m.Nodes)
	}
}

func TestIsResourceDepicted_OnlyOwnKinds(t *testing.T) {
	b := &builder{cfg: servicesConfig()}
	svc := obj("Service", "web", "svc")
	cm := obj("ConfigMap", "cfg", "cm")
	m := &graph.Model{Nodes: []graph.Node{
		graph.NewResourceNode(svc, "service"),
		graph.NewResourceNode(cm, "configmap"),
	}}
	if !b.IsResourceDepicted(svc, m) {
		t.Fatalf("expected service to be depicted")
	}
	if b.IsResourceDepicted(cm, m) {
		t.Fatalf("expected other kinds to be left to other extensions")
	}
}
