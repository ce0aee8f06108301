/*
Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/go-logr/zapr"
	"go.uber.org/zap"
	corev1 "k8s.io/api/core/v1"
	"k8s.io/apimachinery/pkg/runtime"
	clientgoscheme "k8s.io/client-go/kubernetes/scheme"
	"k8s.io/klog/v2"
	ctrl "sigs.k8s.io/controller-runtime"
	"sigs.k8s.io/controller-runtime/pkg/client"
	"sigs.k8s.io/controller-runtime/pkg/manager"
	crmetrics "sigs.k8s.io/controller-runtime/pkg/metrics"
	metricsserver "sigs.k8s.io/controller-runtime/pkg/metrics/server"

	"github.com/oracle/weblogic-kernel/pkg/config"
	"github.com/oracle/weblogic-kernel/pkg/fiber"
	"github.com/oracle/weblogic-kernel/pkg/gate"
	"github.com/oracle/weblogic-kernel/pkg/podmodel"
	"github.com/oracle/weblogic-kernel/pkg/processor"
	"github.com/oracle/weblogic-kernel/pkg/watcher"
)

var scheme = runtime.NewScheme()

func init() {
	if err := clientgoscheme.AddToScheme(scheme); err != nil {
		panic(err)
	}
}

// Options are this binary's command-line flags, in the teacher's
// cmd/controller/main.go style, with sane defaults for local runs. Only
// --namespace takes its default from an env var (KERNEL_NAMESPACE); the
// timing knobs are read separately by config.NewTuningFromEnv.
type Options struct {
	Namespace            string
	MetricsPort          int
	HealthProbePort      int
	EnableLeaderElection bool
	EnableVerboseLogging bool
}

func main() {
	opts := Options{}
	flag.StringVar(&opts.Namespace, "namespace", envOr("KERNEL_NAMESPACE", "default"), "Namespace this kernel instance reconciles Domains within")
	flag.IntVar(&opts.MetricsPort, "metrics-port", 8080, "Port the Prometheus metrics endpoint binds to")
	flag.IntVar(&opts.HealthProbePort, "health-probe-port", 8081, "Port the health probe endpoint binds to")
	flag.BoolVar(&opts.EnableLeaderElection, "enable-leader-election", true, "Enable leader election so only one kernel instance reconciles at a time")
	flag.BoolVar(&opts.EnableVerboseLogging, "verbose", false, "Enable debug-level logging")
	flag.Parse()

	zapLogger := newZapLogger(opts.EnableVerboseLogging)
	defer func() { _ = zapLogger.Sync() }()
	logrLogger := zapr.NewLogger(zapLogger)
	ctrl.SetLogger(logrLogger)
	klog.SetLogger(logrLogger)
	log := logrLogger.WithName("setup")

	tuning, err := config.NewTuningFromEnv()
	if err != nil {
		log.Error(err, "invalid tuning configuration")
		os.Exit(1)
	}

	mgr, err := ctrl.NewManager(ctrl.GetConfigOrDie(), ctrl.Options{
		Scheme:                 scheme,
		Metrics:                metricsserver.Options{BindAddress: fmt.Sprintf(":%d", opts.MetricsPort)},
		HealthProbeBindAddress: fmt.Sprintf(":%d", opts.HealthProbePort),
		LeaderElection:         opts.EnableLeaderElection,
		LeaderElectionID:       "weblogic-kernel-leader-election",
	})
	if err != nil {
		log.Error(err, "unable to start manager")
		os.Exit(1)
	}

	k8sClient, err := client.New(mgr.GetConfig(), client.Options{Scheme: scheme})
	if err != nil {
		log.Error(err, "unable to build kubernetes client")
		os.Exit(1)
	}
	watchClient, err := client.NewWithWatch(mgr.GetConfig(), client.Options{Scheme: scheme})
	if err != nil {
		log.Error(err, "unable to build watch-capable kubernetes client")
		os.Exit(1)
	}

	engine := fiber.NewEngine(context.Background(), tuning.EngineWorkers)
	crmetrics.Registry.MustRegister(engine.Collector())

	podWatcher := watcher.New(watchClient, opts.Namespace, tuning.ResyncWindow)

	// builder is the seam spec.md §1 hands to the operator layer above the
	// kernel: translating WebLogic topology into a desired Pod is out of
	// the kernel's scope. noopBuilder is a placeholder so this binary links
	// and runs standalone; a real deployment wires in the operator's actual
	// topology-to-pod translator here.
	builder := noopBuilder{}

	chainBuilder := processor.NewDefaultChainBuilder(opts.Namespace, builder, podWatcher, tuning)
	proc := processor.New(engine, gate.New(), k8sClient, chainBuilder)
	_ = proc // exposed for the operator layer's Domain controller to call Submit/Snapshot/Shutdown on.

	if err := mgr.Add(engine); err != nil {
		log.Error(err, "unable to register engine with manager")
		os.Exit(1)
	}
	if err := mgr.Add(manager.RunnableFunc(func(ctx context.Context) error {
		podWatcher.Start(ctx)
		return nil
	})); err != nil {
		log.Error(err, "unable to register pod watcher with manager")
		os.Exit(1)
	}

	log.Info("starting manager", "namespace", opts.Namespace)
	if err := mgr.Start(ctrl.SetupSignalHandler()); err != nil {
		log.Error(err, "problem running manager")
		os.Exit(1)
	}
}

func newZapLogger(verbose bool) *zap.Logger {
	if verbose {
		logger, err := zap.NewDevelopment()
		if err != nil {
			panic(err)
		}
		return logger
	}
	logger, err := zap.NewProduction()
	if err != nil {
		panic(err)
	}
	return logger
}

func envOr(key, def string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return def
}

// noopBuilder stands in for the operator layer's WebLogic-topology-to-Pod
// translator (out of kernel scope, spec.md §1): it yields an empty pod
// shell so the binary is runnable end-to-end without that external
// collaborator.
type noopBuilder struct{}

func (noopBuilder) Build(id podmodel.Identity) (podmodel.Desired, error) {
	return podmodel.Desired{
		Pod: &corev1.Pod{},
	}, nil
}
