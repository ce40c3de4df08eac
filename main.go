package main

import (
	"context"
	"flag"
	"net"
	"os"
	"time"

	"google.golang.org/grpc"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"k8s.io/apimachinery/pkg/runtime"
	utilruntime "k8s.io/apimachinery/pkg/util/runtime"
	"k8s.io/client-go/dynamic"
	clientgoscheme "k8s.io/client-go/kubernetes/scheme"
	ctrl "sigs.k8s.io/controller-runtime"
	"sigs.k8s.io/controller-runtime/pkg/healthz"
	"sigs.k8s.io/controller-runtime/pkg/log/zap"
	"sigs.k8s.io/controller-runtime/pkg/manager"
	metricsserver "sigs.k8s.io/controller-runtime/pkg/metrics/server"

	"github.com/anvil-platform/topology/controllers"
	"github.com/anvil-platform/topology/internal/config"
	"github.com/anvil-platform/topology/internal/health"
	"github.com/anvil-platform/topology/internal/watch"
)

var (
	scheme   = runtime.NewScheme()
	setupLog = ctrl.Log.WithName("setup")
)

func init() {
	utilruntime.Must(clientgoscheme.AddToScheme(scheme))
}

func main() {
	var metricsAddr string
	var probeAddr string
	var grpcHealthAddr string
	var configPath string
	var namespace string
	var resync time.Duration

	flag.StringVar(&metricsAddr, "metrics-bind-address", ":8080", "The address the metric endpoint binds to.")
	flag.StringVar(&probeAddr, "health-probe-bind-address", ":8081", "The address the probe endpoint binds to.")
	flag.StringVar(&grpcHealthAddr, "grpc-health-bind-address", ":9090", "The address the gRPC health service binds to. Empty disables it.")
	flag.StringVar(&configPath, "config", "", "Path to the topology configuration file.")
	flag.StringVar(&namespace, "namespace", "", "Namespace to build the topology for. Overrides the config file.")
	flag.DurationVar(&resync, "resync-period", 0, "Informer resync period. Zero disables resync.")

	opts := zap.Options{Development: true}
	opts.BindFlags(flag.CommandLine)
	flag.Parse()

	ctrl.SetLogger(zap.New(zap.UseFlagOptions(&opts)))

	cfg, err := config.Load(configPath)
	if err != nil {
		setupLog.Error(err, "unable to load config", "path", configPath)
		os.Exit(1)
	}
	if namespace != "" {
		cfg.Namespace = namespace
	}

	mgr, err := ctrl.NewManager(ctrl.GetConfigOrDie(), ctrl.Options{
		Scheme:                 scheme,
		Metrics:                metricsserver.Options{BindAddress: metricsAddr},
		HealthProbeBindAddress: probeAddr,
	})
	if err != nil {
		setupLog.Error(err, "unable to start manager")
		os.Exit(1)
	}

	dynamicClient, err := dynamic.NewForConfig(mgr.GetConfig())
	if err != nil {
		setupLog.Error(err, "unable to create dynamic client")
		os.Exit(1)
	}
	watcher := watch.NewDynamicMultiplexer(dynamicClient, mgr.GetRESTMapper(), resync, ctrl.Log)

	topology, err := controllers.NewTopologyController(cfg, watcher, ctrl.Log)
	if err != nil {
		setupLog.Error(err, "unable to create controller", "controller", "Topology")
		os.Exit(1)
	}
	if err := mgr.Add(topology); err != nil {
		setupLog.Error(err, "unable to add controller", "controller", "Topology")
		os.Exit(1)
	}

	reporter := health.NewReporter(topology.Store, ctrl.Log)
	if err := mgr.Add(reporter); err != nil {
		setupLog.Error(err, "unable to add health reporter")
		os.Exit(1)
	}
	if grpcHealthAddr != "" {
		if err := mgr.Add(grpcHealthServer(grpcHealthAddr, reporter)); err != nil {
			setupLog.Error(err, "unable to add gRPC health server")
			os.Exit(1)
		}
	}

	if err := mgr.AddHealthzCheck("healthz", healthz.Ping); err != nil {
		setupLog.Error(err, "unable to set up health check")
		os.Exit(1)
	}
	if err := mgr.AddReadyzCheck("readyz", topology.ExtensionsReady); err != nil {
		setupLog.Error(err, "unable to set up ready check")
		os.Exit(1)
	}

	setupLog.Info("starting manager", "namespace", cfg.Namespace, "extensions", len(topology.Registry.Descriptors()))
	if err := mgr.Start(ctrl.SetupSignalHandler()); err != nil {
		setupLog.Error(err, "problem running manager")
		os.Exit(1)
	}
}

func grpcHealthServer(addr string, reporter *health.Reporter) manager.Runnable {
	return manager.RunnableFunc(func(ctx context.Context) error {
		lis, err := net.Listen("tcp", addr)
		if err != nil {
			return err
		}
		srv := grpc.NewServer()
		healthpb.RegisterHealthServer(srv, reporter.Server)

		errCh := make(chan error, 1)
		go func() { errCh <- srv.Serve(lis) }()
		setupLog.Info("serving gRPC health", "address", addr)

		select {
		case <-ctx.Done():
			srv.GracefulStop()
			return nil
		case err := <-errCh:
			return err
		}
	})
}
