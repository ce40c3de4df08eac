// Package workloads is the base extension every engine runs. It watches the
// core workload kinds and draws one node per workload.
package workloads

import (
	"context"

	appsv1 "k8s.io/api/apps/v1"
	batchv1 "k8s.io/api/batch/v1"
	corev1 "k8s.io/api/core/v1"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	"k8s.io/apimachinery/pkg/runtime"
	"sigs.k8s.io/controller-runtime/pkg/log"

	"github.com/anvil-platform/topology/internal/extension"
	"github.com/anvil-platform/topology/internal/graph"
	"github.com/anvil-platform/topology/internal/watch"
)

const (
	ID = "workloads"

	NodeTypeWorkload = "workload"
)

// BaseResources is the fixed set of collections watched in every scope.
func BaseResources() watch.Specs {
	apps := appsv1.SchemeGroupVersion.String()
	batch := batchv1.SchemeGroupVersion.String()
	core := corev1.SchemeGroupVersion.String()
	return watch.Specs{
		"deployments":  {APIVersion: apps, Kind: "Deployment", IsList: true},
		"statefulsets": {APIVersion: apps, Kind: "StatefulSet", IsList: true},
		"daemonsets":   {APIVersion: apps, Kind: "DaemonSet", IsList: true},
		"replicasets":  {APIVersion: apps, Kind: "ReplicaSet", IsList: true},
		"pods":         {APIVersion: core, Kind: "Pod", IsList: true},
		"jobs":         {APIVersion: batch, Kind: "Job", IsList: true, Optional: true},
		"cronjobs":     {APIVersion: batch, Kind: "CronJob", IsList: true, Optional: true},
	}
}

// WorkloadKeys are the base collections whose objects are workloads.
func WorkloadKeys() []string {
	return []string{"deployments", "statefulsets", "daemonsets", "jobs", "cronjobs"}
}

func Descriptor() extension.Descriptor {
	return extension.Descriptor{
		ID:           ID,
		Priority:     0,
		ModelBuilder: extension.Provide[extension.ModelBuilder](extension.ModelBuilderFunc(buildModel)),
		Depicter:     extension.Provide[extension.Depicter](extension.DepicterFunc(isDepicted)),
	}
}

// buildModel draws one node per workload. Objects that cannot be read as
// their typed kind are logged and left out; the rest of the fragment stays.
func buildModel(ctx context.Context, _ string, _ watch.Snapshot, workloads []*unstructured.Unstructured) (*graph.Model, error) {
	logger := log.FromContext(ctx)
	m := &graph.Model{}
	for _, obj := range workloads {
		data, err := workloadData(obj)
		if err != nil {
			logger.Error(err, "Skipping unreadable workload", "kind", obj.GetKind(), "namespace", obj.GetNamespace(), "name", obj.GetName())
			continue
		}
		n := graph.NewResourceNode(obj, NodeTypeWorkload)
		n.Data = data
		m.Nodes = append(m.Nodes, n)
	}
	return m, nil
}

func isDepicted(obj *unstructured.Unstructured, m *graph.Model) bool {
	return m.HasResource(obj)
}

func workloadData(obj *unstructured.Unstructured) (map[string]any, error) {
	data := map[string]any{"kind": obj.GetKind()}
	var replicas *int32
	switch obj.GetKind() {
	case "Deployment":
		var d appsv1.Deployment
		if err := runtime.DefaultUnstructuredConverter.FromUnstructured(obj.Object, &d); err != nil {
			return nil, err
		}
		replicas = d.Spec.Replicas
		data["readyReplicas"] = d.Status.ReadyReplicas
	case "StatefulSet":
		var s appsv1.StatefulSet
		if err := runtime.DefaultUnstructuredConverter.FromUnstructured(obj.Object, &s); err != nil {
			return nil, err
		}
		replicas = s.Spec.Replicas
		data["readyReplicas"] = s.Status.ReadyReplicas
	case "DaemonSet":
		var ds appsv1.DaemonSet
		if err := runtime.DefaultUnstructuredConverter.FromUnstructured(obj.Object, &ds); err != nil {
			return nil, err
		}
		data["readyReplicas"] = ds.Status.NumberReady
	}
	if replicas != nil {
		data["replicas"] = *replicas
	}
	return data, nil
}
