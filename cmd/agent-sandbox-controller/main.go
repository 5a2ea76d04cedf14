// Copyright 2025 The Bizmatters Platform Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package main

import (
	"flag"
	"net/http"
	"net/http/pprof"
	"os"

	"github.com/felixge/fgprof"
	kedav1alpha1 "github.com/kedacore/keda/v2/apis/keda/v1alpha1"

	// Import all Kubernetes client auth plugins (e.g. Azure, GCP, OIDC, etc.)
	// to ensure that exec-entrypoint and run can make use of them.
	_ "k8s.io/client-go/plugin/pkg/client/auth"

	"k8s.io/apimachinery/pkg/runtime"
	utilruntime "k8s.io/apimachinery/pkg/util/runtime"
	clientgoscheme "k8s.io/client-go/kubernetes/scheme"
	ctrl "sigs.k8s.io/controller-runtime"
	"sigs.k8s.io/controller-runtime/pkg/healthz"
	"sigs.k8s.io/controller-runtime/pkg/log/zap"
	metricsserver "sigs.k8s.io/controller-runtime/pkg/metrics/server"

	platformv1alpha1 "github.com/bizmatters/agent-sandbox-operator/api/v1alpha1"
	"github.com/bizmatters/agent-sandbox-operator/controllers"
	extensionsv1alpha1 "github.com/bizmatters/agent-sandbox-operator/extensions/api/v1alpha1"
	extensionscontrollers "github.com/bizmatters/agent-sandbox-operator/extensions/controllers"
	"github.com/bizmatters/agent-sandbox-operator/internal/composition"
	"github.com/bizmatters/agent-sandbox-operator/internal/config"
	"github.com/bizmatters/agent-sandbox-operator/internal/hibernation"
	"github.com/bizmatters/agent-sandbox-operator/internal/metrics"
	//+kubebuilder:scaffold:imports
)

var (
	scheme   = runtime.NewScheme()
	setupLog = ctrl.Log.WithName("setup")
)

func init() {
	utilruntime.Must(clientgoscheme.AddToScheme(scheme))
	utilruntime.Must(platformv1alpha1.AddToScheme(scheme))
	utilruntime.Must(extensionsv1alpha1.AddToScheme(scheme))
	utilruntime.Must(kedav1alpha1.AddToScheme(scheme))
	//+kubebuilder:scaffold:scheme
}

func main() {
	var metricsAddr string
	var enableLeaderElection bool
	var probeAddr string
	var configPath string
	var enablePprof bool
	flag.StringVar(&metricsAddr, "metrics-bind-address", ":8080", "The address the metric endpoint binds to.")
	flag.StringVar(&probeAddr, "health-probe-bind-address", ":8081", "The address the probe endpoint binds to.")
	flag.BoolVar(&enableLeaderElection, "leader-elect", false,
		"Enable leader election for controller manager. "+
			"Enabling this will ensure there is only one active controller manager.")
	flag.StringVar(&configPath, "config", "", "Path to the operator config file. Empty uses defaults plus environment overrides.")
	flag.BoolVar(&enablePprof, "enable-pprof", false,
		"Enable profiling endpoints (/debug/pprof/profile and /debug/fgprof) on the metrics server.")
	opts := zap.Options{
		Development: true,
	}
	opts.BindFlags(flag.CommandLine)
	flag.Parse()

	ctrl.SetLogger(zap.New(zap.UseFlagOptions(&opts)))

	// Importing net/http/pprof registers handlers on the global DefaultServeMux.
	// Reset it to avoid accidentally exposing pprof via any server that uses the default mux.
	http.DefaultServeMux = http.NewServeMux()

	cfg, err := config.Load(configPath)
	if err != nil {
		setupLog.Error(err, "unable to load config")
		os.Exit(1)
	}

	metricsOpts := metricsserver.Options{
		BindAddress: metricsAddr,
	}
	if enablePprof {
		setupLog.Info("profiling endpoints enabled")
		metricsOpts.ExtraHandlers = map[string]http.Handler{
			"/debug/pprof/profile": http.HandlerFunc(pprof.Profile),
			"/debug/fgprof":        fgprof.Handler(),
		}
	}

	mgr, err := ctrl.NewManager(ctrl.GetConfigOrDie(), ctrl.Options{
		Scheme:                 scheme,
		Metrics:                metricsOpts,
		HealthProbeBindAddress: probeAddr,
		LeaderElection:         enableLeaderElection,
		LeaderElectionID:       "agent-sandbox-operator.bizmatters.io",
	})
	if err != nil {
		setupLog.Error(err, "unable to start manager")
		os.Exit(1)
	}

	ctx := ctrl.SetupSignalHandler()

	instrumenter := metrics.NewNoOp()
	if cfg.Tracing.Enabled {
		otelInstrumenter, shutdown, err := metrics.SetupOTel(ctx, "agent-sandbox-operator")
		if err != nil {
			setupLog.Error(err, "unable to set up tracing")
			os.Exit(1)
		}
		defer shutdown()
		instrumenter = otelInstrumenter
	}

	composer := &composition.Composer{
		Sizes:          composition.DefaultSizes(),
		SyncImage:      cfg.Workspace.SyncImage,
		BackupInterval: cfg.Workspace.BackupInterval,
		Storage: composition.StorageConfig{
			Endpoint: cfg.Storage.Endpoint,
			Bucket:   cfg.Storage.Bucket,
			UseSSL:   cfg.Storage.UseSSL,
		},
		PVCPolicy: composition.DeletionPolicy(cfg.Workspace.PVCPolicy),
	}

	if err = (&controllers.AgentSandboxServiceReconciler{
		Client:       mgr.GetClient(),
		Scheme:       mgr.GetScheme(),
		Composer:     composer,
		Instrumenter: instrumenter,
	}).SetupWithManager(mgr); err != nil {
		setupLog.Error(err, "unable to create controller", "controller", "AgentSandboxService")
		os.Exit(1)
	}

	if err = (&extensionscontrollers.SandboxWarmPoolReconciler{
		Client: mgr.GetClient(),
	}).SetupWithManager(mgr); err != nil {
		setupLog.Error(err, "unable to create controller", "controller", "SandboxWarmPool")
		os.Exit(1)
	}

	if err = mgr.Add(&hibernation.Sweeper{
		Client:            mgr.GetClient(),
		SoftTTL:           cfg.Hibernation.SoftTTL,
		HardTTL:           cfg.Hibernation.HardTTL,
		SweepInterval:     cfg.Hibernation.SweepInterval,
		TransitionTimeout: cfg.Hibernation.TransitionTimeout,
		PVCPolicy:         composition.DeletionPolicy(cfg.Workspace.PVCPolicy),
		Instrumenter:      instrumenter,
	}); err != nil {
		setupLog.Error(err, "unable to add hibernation sweeper")
		os.Exit(1)
	}

	//+kubebuilder:scaffold:builder

	if err := mgr.AddHealthzCheck("healthz", healthz.Ping); err != nil {
		setupLog.Error(err, "unable to set up health check")
		os.Exit(1)
	}
	if err := mgr.AddReadyzCheck("readyz", healthz.Ping); err != nil {
		setupLog.Error(err, "unable to set up ready check")
		os.Exit(1)
	}

	setupLog.Info("starting manager")
	if err := mgr.Start(ctx); err != nil {
		setupLog.Error(err, "problem running manager")
		os.Exit(1)
	}
}
