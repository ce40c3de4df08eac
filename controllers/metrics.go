package controllers

import (
	"github.com/prometheus/client_golang/prometheus"
	"sigs.k8s.io/controller-runtime/pkg/metrics"

	"github.com/anvil-platform/topology/internal/diagnostics"
)

var (
	topologyCompositionPassesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "topology_composition_passes_total",
			Help: "Number of composition passes by the phase they ended in.",
		},
		[]string{"phase"},
	)

	topologyCompositionPassDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "topology_composition_pass_duration_seconds",
			Help:    "Time taken by one composition pass.",
			Buckets: prometheus.DefBuckets,
		},
	)

	topologyExtensionFailuresTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "topology_extension_failures_total",
			Help: "Number of recovered extension failures by extension and phase.",
		},
		[]string{"extension", "phase"},
	)

	topologyBoundExtensions = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "topology_bound_extensions",
			Help: "Number of extensions bound in the current namespace scope.",
		},
	)

	topologyModelNodes = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "topology_model_nodes",
			Help: "Number of nodes in the last composed model.",
		},
	)
	topologyModelEdges = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "topology_model_edges",
			Help: "Number of edges in the last composed model.",
		},
	)
)

func init() {
	metrics.Registry.MustRegister(
		topologyCompositionPassesTotal,
		topologyCompositionPassDuration,
		topologyExtensionFailuresTotal,
		topologyBoundExtensions,
		topologyModelNodes,
		topologyModelEdges,
	)
}

// MetricsSink counts diagnostics per extension and phase.
var MetricsSink diagnostics.Sink = diagnostics.SinkFunc(func(d diagnostics.Diagnostic) {
	topologyExtensionFailuresTotal.WithLabelValues(d.Extension, string(d.Phase)).Inc()
})
