// Package health exposes engine readiness through the gRPC health protocol.
package health

import (
	"context"

	"github.com/go-logr/logr"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/anvil-platform/topology/internal/aggregation"
)

// Service is the health service name reported for the topology model.
const Service = "topology.Model"

// Reporter mirrors store state into a gRPC health server. The model service is
// SERVING while the current scope has a loaded model, NOT_SERVING otherwise.
type Reporter struct {
	Server *health.Server
	Store  *aggregation.Store
	Log    logr.Logger
}

func NewReporter(store *aggregation.Store, log logr.Logger) *Reporter {
	srv := health.NewServer()
	srv.SetServingStatus(Service, healthpb.HealthCheckResponse_NOT_SERVING)
	return &Reporter{Server: srv, Store: store, Log: log.WithName("health")}
}

// Start follows the store until ctx is done. It satisfies manager.Runnable.
func (r *Reporter) Start(ctx context.Context) error {
	states, cancel := r.Store.Subscribe()
	defer cancel()

	last := healthpb.HealthCheckResponse_UNKNOWN
	for {
		select {
		case <-ctx.Done():
			r.Server.Shutdown()
			return nil
		case st := <-states:
			status := StatusFor(st)
			if status == last {
				continue
			}
			r.Log.V(1).Info("model health changed", "status", status.String(), "namespace", st.Namespace)
			r.Server.SetServingStatus(Service, status)
			last = status
		}
	}
}

func StatusFor(st aggregation.State) healthpb.HealthCheckResponse_ServingStatus {
	if st.Loaded && st.Model != nil {
		return healthpb.HealthCheckResponse_SERVING
	}
	return healthpb.HealthCheckResponse_NOT_SERVING
}
