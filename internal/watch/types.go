package watch

import (
	"context"
	"sort"

	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	"k8s.io/apimachinery/pkg/runtime/schema"
)

// Spec describes one watched collection of cluster objects.
type Spec struct {
	APIVersion string                `json:"apiVersion,omitempty"`
	Kind       string                `json:"kind"`
	Namespace  string                `json:"namespace,omitempty"`
	Name       string                `json:"name,omitempty"`
	Selector   *metav1.LabelSelector `json:"selector,omitempty"`
	IsList     bool                  `json:"isList,omitempty"`
	// Optional resources that fail to load are treated as loaded and empty.
	Optional bool `json:"optional,omitempty"`
}

func (s Spec) GroupVersionKind() schema.GroupVersionKind {
	apiVersion := s.APIVersion
	if apiVersion == "" {
		apiVersion = "v1"
	}
	return schema.FromAPIVersionAndKind(apiVersion, s.Kind)
}

// Specs maps a logical resource name to its watch spec.
type Specs map[string]Spec

// Keys returns the logical names in ascending order.
func (s Specs) Keys() []string {
	keys := make([]string, 0, len(s))
	for k := range s {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Result is the live state of one watched collection.
type Result struct {
	Data      []*unstructured.Unstructured
	Loaded    bool
	LoadError error
}

// Snapshot maps a logical resource name to its current Result.
// Snapshots are read-only once handed out by a Multiplexer.
type Snapshot map[string]Result

// Keys returns the logical names in ascending order. This is the stable
// iteration order used whenever a snapshot is scanned for errors.
func (s Snapshot) Keys() []string {
	keys := make([]string, 0, len(s))
	for k := range s {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Multiplexer streams live snapshots for a set of named watch specs.
//
// Watch must not block: it starts streaming and returns. Every call to
// notify carries a complete snapshot covering each key of specs. Streaming
// stops once ctx is done.
type Multiplexer interface {
	Watch(ctx context.Context, specs Specs, notify func(Snapshot)) error
}
