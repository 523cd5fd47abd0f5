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
	"errors"
	"flag"
	"net/http"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/pflag"
	"go.uber.org/zap/zapcore"
	"golang.org/x/sync/errgroup"
	"k8s.io/utils/clock"
	"k8s.io/utils/cpuset"
	ctrl "sigs.k8s.io/controller-runtime"
	"sigs.k8s.io/controller-runtime/pkg/log/zap"
	ctrlMetrics "sigs.k8s.io/controller-runtime/pkg/metrics"

	"github.com/AMDEPYC/cluster-dvfs/internal/config"
	"github.com/AMDEPYC/cluster-dvfs/internal/dvfs"
	"github.com/AMDEPYC/cluster-dvfs/internal/hotplug"
	"github.com/AMDEPYC/cluster-dvfs/internal/metrics"
	"github.com/AMDEPYC/cluster-dvfs/internal/monitoring"
	"github.com/AMDEPYC/cluster-dvfs/internal/platform/sim"
	"github.com/AMDEPYC/cluster-dvfs/internal/policy"
	"github.com/AMDEPYC/cluster-dvfs/internal/scaling"
)

var (
	setupLog = ctrl.Log.WithName("setup")
)

func main() {
	logOpts := zap.Options{}
	logOpts.BindFlags(flag.CommandLine)
	config.BindAgentFlags(pflag.CommandLine)
	pflag.CommandLine.AddGoFlagSet(flag.CommandLine)
	pflag.Parse()

	ctrl.SetLogger(zap.New(
		zap.UseDevMode(true),
		func(o *zap.Options) {
			o.TimeEncoder = zapcore.ISO8601TimeEncoder
		},
		zap.UseFlagOptions(&logOpts),
	),
	)

	agentCfg, err := config.LoadAgentConfig(pflag.CommandLine)
	if err != nil {
		setupLog.Error(err, "invalid agent configuration")
		os.Exit(1)
	}

	spec, err := config.LoadPlatform(agentCfg.PlatformFile)
	if err != nil {
		setupLog.Error(err, "unable to load platform", "file", agentCfg.PlatformFile)
		os.Exit(1)
	}
	engineCfg, err := config.BuildEngineConfig(spec)
	if err != nil {
		setupLog.Error(err, "unable to build engine configuration")
		os.Exit(1)
	}
	clusterCPUs, err := config.ClusterCPUs(spec)
	if err != nil {
		setupLog.Error(err, "unable to read cluster cpus")
		os.Exit(1)
	}

	online := cpuset.New()
	for _, c := range engineCfg.Clusters {
		if !c.Offline {
			online = online.Union(clusterCPUs[c.ID])
		}
	}

	platform, err := sim.New(engineCfg,
		sim.WithReferenceClock(agentCfg.ReferenceClockKHz),
		sim.WithLogger(ctrl.Log.WithName("sim")),
	)
	if err != nil {
		setupLog.Error(err, "unable to create simulated platform")
		os.Exit(1)
	}

	clusters := make([]dvfs.ClusterID, 0, len(engineCfg.Clusters))
	for _, c := range engineCfg.Clusters {
		clusters = append(clusters, c.ID)
	}
	stats := metrics.NewTransitionStats(ctrl.Log.WithName("metrics").WithName("transitions"), clusters)

	engine, err := dvfs.NewEngine(engineCfg, platform, platform, dvfs.WithObserver(stats))
	if err != nil {
		setupLog.Error(err, "unable to create dvfs engine")
		os.Exit(1)
	}
	if err := engine.Sync(); err != nil {
		setupLog.Error(err, "unable to synchronise engine with hardware")
		os.Exit(1)
	}
	for _, status := range engine.Snapshot() {
		setupLog.Info("cluster status", "cluster", status.ID, "role", status.Role.String(),
			"frequencyKHz", status.FrequencyKHz, "index", status.Index, "available", status.Available)
	}

	engineClient := metrics.NewEngineClient(ctrl.Log.WithName("metrics").WithName("engine"),
		engine, clusters, agentCfg.SampleInterval)
	defer engineClient.Close()
	engineClient.Sample()

	if err := monitoring.RegisterEngineCollectors(ctrlMetrics.Registry, engineClient, stats, clusters,
		ctrl.Log.WithName(monitoring.LogTopName)); err != nil {
		setupLog.Error(err, "unable to register collectors")
		os.Exit(1)
	}

	tracker := hotplug.NewTracker(engine, clusterCPUs, online, ctrl.Log.WithName("hotplug"))
	limiter := policy.NewLimiter(engine, ctrl.Log.WithName("policy"))

	scalingMgr := scaling.NewClusterScalingManager(engine, sim.NewLoadGenerator(clock.RealClock{}, config.LoadProfiles(spec)))

	ctx := ctrl.SetupSignalHandler()
	group, ctx := errgroup.WithContext(ctx)

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(ctrlMetrics.Registry, promhttp.HandlerOpts{}))
	server := &http.Server{Addr: agentCfg.MetricsAddr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	group.Go(func() error {
		setupLog.Info("serving metrics", "address", agentCfg.MetricsAddr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	group.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	if agentCfg.ScenarioFile != "" {
		scenario, err := config.LoadScenario(agentCfg.ScenarioFile)
		if err != nil {
			setupLog.Error(err, "unable to load scenario", "file", agentCfg.ScenarioFile)
			os.Exit(1)
		}
		r := &replayer{
			engine:  engine,
			tracker: tracker,
			limiter: limiter,
			clock:   clock.RealClock{},
			logger:  ctrl.Log.WithName("scenario"),
		}
		group.Go(func() error {
			return r.Run(ctx, scenario)
		})
	}

	if agentCfg.EnableScaling {
		scalingMgr.UpdateConfig(config.ScalingOpts(spec, engineCfg))
		group.Go(func() error {
			return scalingMgr.Start(ctx)
		})
	}

	setupLog.Info("starting dvfs agent", "platform", spec.Name)
	if err := group.Wait(); err != nil {
		setupLog.Error(err, "problem running dvfs agent")
		os.Exit(1)
	}
}
