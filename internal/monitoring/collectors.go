package monitoring

import (
	"errors"
	"fmt"

	"golang.org/x/exp/constraints"

	"github.com/AMDEPYC/cluster-dvfs/internal/dvfs"
	"github.com/AMDEPYC/cluster-dvfs/internal/metrics"

	"github.com/go-logr/logr"
	prom "github.com/prometheus/client_golang/prometheus"
)

// Helper constants for prom Collectors
const (
	promNamespace string = "dvfs"

	LogTopName          string = "monitoring"
	clusterSubsystem    string = "cluster"
	transitionSubsystem string = "transition"
	railSubsystem       string = "rail"

	logNameKey    string = "name"
	logClusterKey string = "cluster"
)

type collectorImpl struct {
	collectFunc  func(ch chan<- prom.Metric)
	describeFunc func(ch chan<- *prom.Desc)
}

func (c collectorImpl) Collect(ch chan<- prom.Metric) {
	c.collectFunc(ch)
}

func (c collectorImpl) Describe(ch chan<- *prom.Desc) {
	c.describeFunc(ch)
}

type number interface {
	constraints.Integer | constraints.Float
}

// newPerClusterCollector is generic factory of prometheus Collectors for metrics that are cluster bound.
// readFunc is generic function which signature corresponds to methods of the engine telemetry clients.
// Clusters the client reports as missing at construction are not collected.
func newPerClusterCollector[T number](metricName, metricDesc string, metricType prom.ValueType,
	clusters []dvfs.ClusterID, readFunc func(dvfs.ClusterID) (T, error), log logr.Logger,
) prom.Collector {
	desc := prom.NewDesc(
		metricName,
		metricDesc,
		[]string{logClusterKey},
		nil,
	)

	collectorFuncs := make([]func(ch chan<- prom.Metric), 0, len(clusters))
	for _, id := range clusters {
		if _, err := readFunc(id); errors.Is(err, metrics.ErrMetricMissing) {
			log.Info("Not registering collection, client will not be able to read this metric",
				"error", err.Error(), logClusterKey, id)
			continue
		}
		collectorFuncs = append(collectorFuncs, func(ch chan<- prom.Metric) {
			log.V(5).Info("Collecting metrics for prometheus", logClusterKey, id)
			if val, err := readFunc(id); err == nil {
				ch <- prom.MustNewConstMetric(desc, metricType, float64(val), string(id))
			} else {
				log.V(5).Info(fmt.Sprintf("error reading metric value, err: %v", err), logClusterKey, id)
			}
		})
	}
	log.V(4).Info("New perCluster prometheus Collector created")

	return collectorImpl{
		describeFunc: func(ch chan<- *prom.Desc) {
			ch <- desc
		},
		collectFunc: func(ch chan<- prom.Metric) {
			for _, collectFunc := range collectorFuncs {
				collectFunc(ch)
			}
		},
	}
}

// newSingleCollector is generic factory of prometheus Collectors for unlabelled metrics.
func newSingleCollector[T number](metricName, metricDesc string, metricType prom.ValueType,
	readFunc func() (T, error), log logr.Logger,
) prom.Collector {
	desc := prom.NewDesc(metricName, metricDesc, nil, nil)

	return collectorImpl{
		describeFunc: func(ch chan<- *prom.Desc) {
			ch <- desc
		},
		collectFunc: func(ch chan<- prom.Metric) {
			if val, err := readFunc(); err == nil {
				ch <- prom.MustNewConstMetric(desc, metricType, float64(val))
			} else {
				log.V(5).Info(fmt.Sprintf("error reading metric value, err: %v", err))
			}
		},
	}
}
