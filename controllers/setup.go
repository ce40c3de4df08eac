package controllers

import (
	"fmt"

	"github.com/go-logr/logr"

	"github.com/anvil-platform/topology/internal/aggregation"
	"github.com/anvil-platform/topology/internal/binding"
	"github.com/anvil-platform/topology/internal/config"
	"github.com/anvil-platform/topology/internal/diagnostics"
	"github.com/anvil-platform/topology/internal/extension"
	"github.com/anvil-platform/topology/internal/extensions/declarative"
	"github.com/anvil-platform/topology/internal/extensions/ownership"
	"github.com/anvil-platform/topology/internal/extensions/workloads"
	"github.com/anvil-platform/topology/internal/semver"
	"github.com/anvil-platform/topology/internal/watch"
)

// NewTopologyController assembles a controller from cfg: the built-in
// extensions and the declarative ones are registered before it is returned.
func NewTopologyController(cfg config.Config, watcher watch.Multiplexer, log logr.Logger) (*TopologyController, error) {
	engine, err := semver.ParseVersion(cfg.EngineVersion)
	if err != nil {
		return nil, fmt.Errorf("engine version: %w", err)
	}

	registry := extension.NewRegistry(engine)
	descriptors := []extension.Descriptor{workloads.Descriptor(), ownership.Descriptor()}
	for _, ext := range cfg.Extensions {
		descriptors = append(descriptors, declarative.Descriptor(ext))
	}
	for _, d := range descriptors {
		if err := registry.Register(d); err != nil {
			return nil, err
		}
	}

	store := aggregation.NewStore(cfg.Namespace, aggregation.Options{
		BaseResources:    workloads.BaseResources(),
		BaseWorkloadKeys: workloads.WorkloadKeys(),
		MinExtensions:    cfg.MinExtensions,
	})
	log = log.WithName("topology")
	sink := diagnostics.Multi(diagnostics.LogSink{Log: log}, MetricsSink)

	return &TopologyController{
		Store:        store,
		Registry:     registry,
		Binder:       binding.NewBinder(store, sink, log),
		Watcher:      watcher,
		Debounce:     cfg.Debounce.Duration,
		GroupDisplay: cfg.GroupDisplayEnabled(),
		Sink:         sink,
		Log:          log,
	}, nil
}
