package health

import (
	"context"
	"testing"
	"time"

	"github.com/go-logr/logr"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"k8s.io/apimachinery/pkg/util/wait"

	"github.com/anvil-platform/topology/internal/aggregation"
	"github.com/anvil-platform/topology/internal/graph"
)

func status(t *testing.T, r *Reporter) healthpb.HealthCheckResponse_ServingStatus {
	t.Helper()
	resp, err := r.Server.Check(context.Background(), &healthpb.HealthCheckRequest{Service: Service})
	if err != nil {
		t.Fatalf("Check: %v", err)
	}
	return resp.GetStatus()
}

func TestReporter_FollowsModel(t *testing.T) {
	store := aggregation.NewStore("ns", aggregation.Options{})
	r := NewReporter(store, logr.Discard())
	if got := status(t, r); got != healthpb.HealthCheckResponse_NOT_SERVING {
		t.Fatalf("expected NOT_SERVING before start, got %v", got)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Start(ctx) }()

	waitFor := func(want healthpb.HealthCheckResponse_ServingStatus) {
		t.Helper()
		err := wait.PollUntilContextTimeout(context.Background(), time.Millisecond, 5*time.Second, true, func(context.Context) (bool, error) {
			return status(t, r) == want, nil
		})
		if err != nil {
			t.Fatalf("status never became %v", want)
		}
	}

	scope := store.State().Scope
	store.Dispatch(aggregation.ResultComputed{Scope: scope, Loaded: true, Model: &graph.Model{}})
	waitFor(healthpb.HealthCheckResponse_SERVING)

	store.Dispatch(aggregation.ModelCleared{Scope: scope})
	waitFor(healthpb.HealthCheckResponse_NOT_SERVING)

	cancel()
	if err := <-done; err != nil {
		t.Fatalf("Start: %v", err)
	}
}

func TestStatusFor(t *testing.T) {
	if StatusFor(aggregation.State{Loaded: true}) != healthpb.HealthCheckResponse_NOT_SERVING {
		t.Fatalf("expected a loaded state without model to not be serving")
	}
	if StatusFor(aggregation.State{Loaded: true, Model: &graph.Model{}}) != healthpb.HealthCheckResponse_SERVING {
		t.Fatalf("expected a loaded model to be serving")
	}
}
