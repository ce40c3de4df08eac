// Package declarative turns extension entries from the engine configuration
// into registered extensions. A declarative extension watches a fixed set of
// collections and draws one node per object it finds in them.
package declarative

import (
	"context"
	"fmt"
	"strings"

	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"

	"github.com/anvil-platform/topology/internal/extension"
	"github.com/anvil-platform/topology/internal/graph"
	"github.com/anvil-platform/topology/internal/watch"
)

// Config is one extension entry in the engine configuration file.
type Config struct {
	ID       string `json:"id"`
	Priority int    `json:"priority,omitempty"`
	// NodeType is the node type given to drawn objects. Defaults to the lowercased kind.
	NodeType     string      `json:"nodeType,omitempty"`
	Resources    watch.Specs `json:"resources"`
	WorkloadKeys []string    `json:"workloadKeys,omitempty"`
	// Workloads draws workload objects too. By default they are left to
	// the workloads extension.
	Workloads bool `json:"workloads,omitempty"`

	EngineConstraint string `json:"engineConstraint,omitempty"`
}

func (c Config) Validate() error {
	if c.ID == "" {
		return fmt.Errorf("declarative extension: id is required")
	}
	for _, key := range c.Resources.Keys() {
		if c.Resources[key].Kind == "" {
			return fmt.Errorf("declarative extension %q: resource %q has no kind", c.ID, key)
		}
	}
	return nil
}

func Descriptor(c Config) extension.Descriptor {
	b := &builder{cfg: c}
	return extension.Descriptor{
		ID:               c.ID,
		Priority:         c.Priority,
		WorkloadKeys:     c.WorkloadKeys,
		Resources:        extension.StaticResources(c.Resources),
		ModelBuilder:     extension.Provide[extension.ModelBuilder](b),
		Depicter:         extension.Provide[extension.Depicter](b),
		EngineConstraint: c.EngineConstraint,
	}
}

type builder struct {
	cfg Config
}

func (b *builder) BuildModel(_ context.Context, _ string, resources watch.Snapshot, workloads []*unstructured.Unstructured) (*graph.Model, error) {
	skip := map[string]bool{}
	if !b.cfg.Workloads {
		for _, w := range workloads {
			skip[graph.ResourceID(w)] = true
		}
	}

	m := &graph.Model{}
	seen := map[string]bool{}
	for _, key := range b.cfg.Resources.Keys() {
		for _, obj := range resources[key].Data {
			id := graph.ResourceID(obj)
			if skip[id] || seen[id] {
				continue
			}
			seen[id] = true
			n := graph.NewResourceNode(obj, b.nodeType(obj))
			n.Data = map[string]any{"kind": obj.GetKind(), "source": key}
			m.Nodes = append(m.Nodes, n)
		}
	}
	return m, nil
}

// IsResourceDepicted claims objects of the kinds this extension watches once
// they are present in the model.
func (b *builder) IsResourceDepicted(obj *unstructured.Unstructured, m *graph.Model) bool {
	if obj == nil || !b.watchesKind(obj.GetKind()) {
		return false
	}
	return m.HasResource(obj)
}

func (b *builder) watchesKind(kind string) bool {
	for _, spec := range b.cfg.Resources {
		if spec.Kind == kind {
			return true
		}
	}
	return false
}

func (b *builder) nodeType(obj *unstructured.Unstructured) string {
	if b.cfg.NodeType != "" {
		return b.cfg.NodeType
	}
	return strings.ToLower(obj.GetKind())
}

