package metrics

import (
	"sync"
	"sync/atomic"

	"github.com/go-logr/logr"

	"github.com/AMDEPYC/cluster-dvfs/internal/dvfs"
)

// TransitionStats counts engine transitions per cluster. It is registered on the engine as an observer.
type TransitionStats struct {
	log      logr.Logger
	counters sync.Map
}

type clusterCounters struct {
	transitions  atomic.Uint64
	failures     atomic.Uint64
	railSteps    atomic.Uint64
	settleMicros atomic.Uint64
}

var _ dvfs.Observer = &TransitionStats{}

func NewTransitionStats(log logr.Logger, clusters []dvfs.ClusterID) *TransitionStats {
	stats := &TransitionStats{log: log}
	for _, id := range clusters {
		stats.counters.Store(id, &clusterCounters{})
	}
	return stats
}

// OnTransition records a transition. Requests that changed nothing are not counted.
func (s *TransitionStats) OnTransition(rec dvfs.TransitionRecord) {
	value, ok := s.counters.Load(rec.Cluster)
	if !ok {
		s.log.V(5).Info("transition for untracked cluster", clusterLogKey, rec.Cluster)
		return
	}
	c := value.(*clusterCounters)

	c.railSteps.Add(uint64(rec.RailSteps))
	c.settleMicros.Add(uint64(rec.SettleMicros))

	if rec.Err != nil {
		c.failures.Add(1)
		s.log.V(5).Info("failed transition recorded", clusterLogKey, rec.Cluster, causeLogKey, rec.Cause)
		return
	}
	if rec.FromIndex != rec.ToIndex || rec.FromKHz != rec.ToKHz || rec.RailSteps > 0 {
		c.transitions.Add(1)
	}
}

func (s *TransitionStats) load(id dvfs.ClusterID) (*clusterCounters, error) {
	value, ok := s.counters.Load(id)
	if !ok {
		return nil, ErrMetricMissing
	}
	return value.(*clusterCounters), nil
}

func (s *TransitionStats) GetTransitionsTotal(id dvfs.ClusterID) (uint64, error) {
	c, err := s.load(id)
	if err != nil {
		return 0, err
	}
	return c.transitions.Load(), nil
}

func (s *TransitionStats) GetFailuresTotal(id dvfs.ClusterID) (uint64, error) {
	c, err := s.load(id)
	if err != nil {
		return 0, err
	}
	return c.failures.Load(), nil
}

func (s *TransitionStats) GetRailStepsTotal(id dvfs.ClusterID) (uint64, error) {
	c, err := s.load(id)
	if err != nil {
		return 0, err
	}
	return c.railSteps.Load(), nil
}

// GetSettleSecondsTotal returns the accumulated rail settle wait in seconds.
func (s *TransitionStats) GetSettleSecondsTotal(id dvfs.ClusterID) (float64, error) {
	c, err := s.load(id)
	if err != nil {
		return 0, err
	}
	return float64(c.settleMicros.Load()) / 1e6, nil
}
