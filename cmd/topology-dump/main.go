package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-logr/logr"
	"k8s.io/client-go/discovery"
	"k8s.io/client-go/discovery/cached/memory"
	"k8s.io/client-go/dynamic"
	"k8s.io/client-go/restmapper"
	"k8s.io/client-go/tools/clientcmd"
	"k8s.io/client-go/util/homedir"
	"sigs.k8s.io/controller-runtime/pkg/log/zap"
	"sigs.k8s.io/yaml"

	"github.com/anvil-platform/topology/controllers"
	"github.com/anvil-platform/topology/internal/aggregation"
	"github.com/anvil-platform/topology/internal/config"
	"github.com/anvil-platform/topology/internal/graph"
	"github.com/anvil-platform/topology/internal/watch"
)

func main() {
	var kubeconfig string
	if home := homedir.HomeDir(); home != "" {
		kubeconfig = filepath.Join(home, ".kube", "config")
	} else {
		kubeconfig = os.Getenv("KUBECONFIG")
	}
	flag.StringVar(&kubeconfig, "kubeconfig", kubeconfig, "absolute path to the kubeconfig file")

	var configPath string
	var namespace string
	var timeout time.Duration
	var verbose bool

	flag.StringVar(&configPath, "config", "", "Path to the topology configuration file")
	flag.StringVar(&namespace, "namespace", "", "Comma separated namespaces to dump, in order. Overrides the config file")
	flag.DurationVar(&timeout, "timeout", 2*time.Minute, "How long to wait for the first model")
	flag.BoolVar(&verbose, "v", false, "Log engine activity to stderr")
	flag.Parse()

	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatalf("Error loading config: %v", err)
	}
	namespaces := splitNamespaces(namespace)
	if len(namespaces) == 0 {
		namespaces = []string{cfg.Namespace}
	}
	cfg.Namespace = namespaces[0]

	restConfig, err := clientcmd.BuildConfigFromFlags("", kubeconfig)
	if err != nil {
		log.Fatalf("Error building kubeconfig: %v", err)
	}
	dynamicClient, err := dynamic.NewForConfig(restConfig)
	if err != nil {
		log.Fatalf("Error creating dynamic client: %v", err)
	}
	discoveryClient, err := discovery.NewDiscoveryClientForConfig(restConfig)
	if err != nil {
		log.Fatalf("Error creating discovery client: %v", err)
	}
	mapper := restmapper.NewDeferredDiscoveryRESTMapper(memory.NewMemCacheClient(discoveryClient))

	logger := logr.Discard()
	if verbose {
		logger = zap.New(zap.UseDevMode(true), zap.WriteTo(os.Stderr))
	}

	watcher := watch.NewDynamicMultiplexer(dynamicClient, mapper, 0, logger)
	topology, err := controllers.NewTopologyController(cfg, watcher, logger)
	if err != nil {
		log.Fatalf("Error creating engine: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	states, unsubscribe := topology.Store.Subscribe()
	defer unsubscribe()

	errCh := make(chan error, 1)
	go func() { errCh <- topology.Start(ctx) }()

	dumps, err := dumpNamespaces(ctx, topology, states, namespaces)
	if err != nil {
		log.Fatalf("Error waiting for model: %v", err)
	}
	for i, d := range dumps {
		out, err := yaml.Marshal(d)
		if err != nil {
			log.Fatalf("Error encoding model: %v", err)
		}
		if i > 0 {
			fmt.Println("---")
		}
		fmt.Print(string(out))
	}

	cancel()
	if err := <-errCh; err != nil {
		log.Fatalf("Error stopping engine: %v", err)
	}
}

func splitNamespaces(raw string) []string {
	var out []string
	for _, ns := range strings.Split(raw, ",") {
		if ns = strings.TrimSpace(ns); ns != "" {
			out = append(out, ns)
		}
	}
	return out
}

// dumpNamespaces waits for the first model of each namespace in turn. The
// controller starts in namespaces[0]; every later namespace is entered through
// SetNamespace, reusing the bound extensions and the watch layer.
func dumpNamespaces(ctx context.Context, topology *controllers.TopologyController, states <-chan aggregation.State, namespaces []string) ([]modelDump, error) {
	var out []modelDump
	for i, ns := range namespaces {
		if i > 0 {
			topology.SetNamespace(ns)
		}
		st, err := firstModel(ctx, states, ns)
		if err != nil {
			return out, fmt.Errorf("namespace %s: %w", ns, err)
		}
		out = append(out, dump(st))
	}
	return out, nil
}

// firstModel returns the first state for namespace ns that carries a model
// or a load error. States of other namespaces are skipped.
func firstModel(ctx context.Context, states <-chan aggregation.State, ns string) (aggregation.State, error) {
	for {
		select {
		case <-ctx.Done():
			return aggregation.State{}, ctx.Err()
		case st := <-states:
			if st.Namespace != ns {
				continue
			}
			if st.LoadError != nil {
				return st, st.LoadError
			}
			if st.Loaded && st.Model != nil {
				return st, nil
			}
		}
	}
}

type nodeDump struct {
	ID       string         `json:"id"`
	Type     string         `json:"type"`
	Label    string         `json:"label,omitempty"`
	Resource string         `json:"resource,omitempty"`
	Group    bool           `json:"group,omitempty"`
	Children []string       `json:"children,omitempty"`
	Data     map[string]any `json:"data,omitempty"`
}

type modelDump struct {
	Namespace string       `json:"namespace"`
	Nodes     []nodeDump   `json:"nodes"`
	Edges     []graph.Edge `json:"edges"`
}

func dump(st aggregation.State) modelDump {
	out := modelDump{Namespace: st.Namespace, Edges: st.Model.Edges}
	for _, n := range st.Model.Nodes {
		d := nodeDump{ID: n.ID, Type: n.Type, Label: n.Label, Group: n.Group, Children: n.Children, Data: n.Data}
		if n.Resource != nil {
			d.Resource = fmt.Sprintf("%s/%s", n.Resource.GetKind(), n.Resource.GetName())
		}
		out.Nodes = append(out.Nodes, d)
	}
	return out
}
