package metrics

import "errors"

// ErrMetricMissing is returned when a cluster is unknown to the client and the metric
// won't be available during process lifetime.
var ErrMetricMissing error = errors.New("metric is missing")

// ErrNotYetSampled is returned before the first engine sample for a cluster was taken.
var ErrNotYetSampled error = errors.New("cluster state not yet sampled")

// Internal helper constants for logging
const (
	clusterLogKey = "cluster"
	causeLogKey   = "cause"
)
