package monitoring

import (
	"github.com/AMDEPYC/cluster-dvfs/internal/dvfs"
	"github.com/AMDEPYC/cluster-dvfs/internal/metrics"

	"github.com/go-logr/logr"
	prom "github.com/prometheus/client_golang/prometheus"
)

// RegisterEngineCollectors registers operating point gauges sampled by client and transition counters
// accumulated by stats. The agent passes the controller-runtime metrics registry.
func RegisterEngineCollectors(registry prom.Registerer, client *metrics.EngineClient,
	stats *metrics.TransitionStats, clusters []dvfs.ClusterID, logger logr.Logger,
) error {
	clusterLog := logger.WithName(clusterSubsystem)
	transitionLog := logger.WithName(transitionSubsystem)

	collectors := []prom.Collector{
		newPerClusterCollector(
			prom.BuildFQName(promNamespace, clusterSubsystem, "frequency_khz"),
			"Gauge of the cluster clock frequency in kHz",
			prom.GaugeValue,
			clusters,
			client.GetFrequencyKHz,
			clusterLog.WithValues(logNameKey, "frequency_khz"),
		),
		newPerClusterCollector(
			prom.BuildFQName(promNamespace, clusterSubsystem, "voltage_units"),
			"Gauge of the voltage required by the cluster operating point in 10 microvolt units",
			prom.GaugeValue,
			clusters,
			client.GetVoltageUnits,
			clusterLog.WithValues(logNameKey, "voltage_units"),
		),
		newPerClusterCollector(
			prom.BuildFQName(promNamespace, clusterSubsystem, "operating_point_index"),
			"Gauge of the cluster operating point index, 0 being the fastest",
			prom.GaugeValue,
			clusters,
			client.GetOperatingPointIndex,
			clusterLog.WithValues(logNameKey, "operating_point_index"),
		),
		newPerClusterCollector(
			prom.BuildFQName(promNamespace, clusterSubsystem, "available"),
			"Gauge set to 1 while at least one CPU of the cluster is online",
			prom.GaugeValue,
			clusters,
			client.GetAvailable,
			clusterLog.WithValues(logNameKey, "available"),
		),
		newSingleCollector(
			prom.BuildFQName(promNamespace, railSubsystem, "companion_voltage_units"),
			"Gauge of the voltage requested by the companion cluster in 10 microvolt units",
			prom.GaugeValue,
			client.GetCompanionVoltageUnits,
			clusterLog.WithValues(logNameKey, "companion_voltage_units"),
		),
		newPerClusterCollector(
			prom.BuildFQName(promNamespace, transitionSubsystem, "total"),
			"Counter of operating point transitions that changed cluster state",
			prom.CounterValue,
			clusters,
			stats.GetTransitionsTotal,
			transitionLog.WithValues(logNameKey, "total"),
		),
		newPerClusterCollector(
			prom.BuildFQName(promNamespace, transitionSubsystem, "failures_total"),
			"Counter of operating point transitions that returned an error",
			prom.CounterValue,
			clusters,
			stats.GetFailuresTotal,
			transitionLog.WithValues(logNameKey, "failures_total"),
		),
		newPerClusterCollector(
			prom.BuildFQName(promNamespace, railSubsystem, "steps_total"),
			"Counter of rail steps issued on behalf of the cluster",
			prom.CounterValue,
			clusters,
			stats.GetRailStepsTotal,
			transitionLog.WithValues(logNameKey, "rail_steps_total"),
		),
		newPerClusterCollector(
			prom.BuildFQName(promNamespace, railSubsystem, "settle_seconds_total"),
			"Counter of time spent waiting for rails to settle",
			prom.CounterValue,
			clusters,
			stats.GetSettleSecondsTotal,
			transitionLog.WithValues(logNameKey, "settle_seconds_total"),
		),
	}

	for _, c := range collectors {
		if err := registry.Register(c); err != nil {
			return err
		}
	}
	return nil
}
