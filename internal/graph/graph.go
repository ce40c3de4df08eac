// Package graph contains the topology model produced by a composition pass.
//
// A Model is built fresh on every pass and handed to the rendering layer as a
// whole; callers must treat a published Model as read-only.
package graph

import (
	"fmt"
	"maps"

	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
)

// Node is a single vertex in the topology.
type Node struct {
	ID    string `json:"id"`
	Type  string `json:"type"`
	Label string `json:"label,omitempty"`
	// Resource is the originating cluster object. Synthetic nodes leave it nil.
	Resource *unstructured.Unstructured `json:"resource,omitempty"`
	Data     map[string]any             `json:"data,omitempty"`
	Group    bool                       `json:"group,omitempty"`
	Children []string                   `json:"children,omitempty"`
}

type Edge struct {
	ID     string `json:"id"`
	Type   string `json:"type"`
	Source string `json:"source"`
	Target string `json:"target"`
}

type Model struct {
	Nodes []Node `json:"nodes"`
	Edges []Edge `json:"edges"`
}

// NewResourceNode builds a node that points back at obj.
func NewResourceNode(obj *unstructured.Unstructured, nodeType string) Node {
	return Node{
		ID:       ResourceID(obj),
		Type:     nodeType,
		Label:    obj.GetName(),
		Resource: obj,
	}
}

// ResourceID returns a stable id for obj: its UID when set, otherwise kind/namespace/name.
func ResourceID(obj *unstructured.Unstructured) string {
	if obj == nil {
		return ""
	}
	if uid := obj.GetUID(); uid != "" {
		return string(uid)
	}
	return fmt.Sprintf("%s/%s/%s", obj.GetKind(), obj.GetNamespace(), obj.GetName())
}

// Clone returns a copy that can be modified without touching m.
// Resources are shared; they are owned by the watch layer and never mutated.
func (m *Model) Clone() *Model {
	if m == nil {
		return nil
	}
	out := &Model{
		Nodes: make([]Node, len(m.Nodes)),
		Edges: make([]Edge, len(m.Edges)),
	}
	for i, n := range m.Nodes {
		n.Data = maps.Clone(n.Data)
		n.Children = append([]string(nil), n.Children...)
		out.Nodes[i] = n
	}
	copy(out.Edges, m.Edges)
	return out
}

// NodeByID returns the node with the given id.
func (m *Model) NodeByID(id string) (*Node, bool) {
	if m == nil {
		return nil, false
	}
	for i := range m.Nodes {
		if m.Nodes[i].ID == id {
			return &m.Nodes[i], true
		}
	}
	return nil, false
}

// HasResource reports whether any node already references obj.
func (m *Model) HasResource(obj *unstructured.Unstructured) bool {
	if m == nil || obj == nil {
		return false
	}
	for _, n := range m.Nodes {
		if n.Resource != nil && sameResource(n.Resource, obj) {
			return true
		}
	}
	return false
}

func sameResource(a, b *unstructured.Unstructured) bool {
	if a.GetUID() != "" || b.GetUID() != "" {
		return a.GetUID() == b.GetUID()
	}
	return a.GetKind() == b.GetKind() &&
		a.GetNamespace() == b.GetNamespace() &&
		a.GetName() == b.GetName()
}
