package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/go-logr/logr"
	"k8s.io/utils/clock"
	"k8s.io/utils/cpuset"

	dvfsv1 "github.com/AMDEPYC/cluster-dvfs/api/v1"
	"github.com/AMDEPYC/cluster-dvfs/internal/config"
	"github.com/AMDEPYC/cluster-dvfs/internal/dvfs"
)

type requester interface {
	Request(id dvfs.ClusterID, targetKHz uint32, rel dvfs.Relation) (dvfs.AppliedOpPoint, error)
}

type cpuTracker interface {
	CPUsOnline(cpus cpuset.CPUSet) error
	CPUsOffline(cpus cpuset.CPUSet) error
}

type limitApplier interface {
	Apply(limits []dvfsv1.ClusterLimit) error
}

// replayer feeds scenario events to the engine, the hot-plug tracker and the policy limiter.
type replayer struct {
	engine  requester
	tracker cpuTracker
	limiter limitApplier
	clock   clock.Clock
	logger  logr.Logger
}

// Run replays every event. Rejected events are logged and skipped; a faulted engine ends the replay.
func (r *replayer) Run(ctx context.Context, scenario *dvfsv1.ScenarioSpec) error {
	for i, ev := range scenario.Events {
		if ev.After.Duration > 0 {
			select {
			case <-ctx.Done():
				return nil
			case <-r.clock.After(ev.After.Duration):
			}
		}

		err := r.apply(ev)
		if err == nil {
			continue
		}
		if errors.Is(err, dvfs.ErrEngineFaulted) {
			return fmt.Errorf("scenario event %d: %w", i, err)
		}
		r.logger.Error(err, "scenario event failed", "event", i)
	}
	r.logger.Info("scenario complete", "events", len(scenario.Events))
	return nil
}

func (r *replayer) apply(ev dvfsv1.ScenarioEvent) error {
	switch {
	case ev.Request != nil:
		rel, err := config.ParseRelation(ev.Request.Relation)
		if err != nil {
			return err
		}
		applied, err := r.engine.Request(dvfs.ClusterID(ev.Request.Cluster), ev.Request.FrequencyKHz, rel)
		if err != nil {
			return err
		}
		r.logger.V(4).Info("request applied", "cluster", applied.Cluster, "index", applied.Index,
			"frequencyKHz", applied.FrequencyKHz, "companionKHz", applied.Companion.FrequencyKHz)
		return nil
	case ev.CPUsOnline != "":
		cpus, err := cpuset.Parse(ev.CPUsOnline)
		if err != nil {
			return err
		}
		return r.tracker.CPUsOnline(cpus)
	case ev.CPUsOffline != "":
		cpus, err := cpuset.Parse(ev.CPUsOffline)
		if err != nil {
			return err
		}
		return r.tracker.CPUsOffline(cpus)
	case len(ev.Limits) > 0:
		return r.limiter.Apply(ev.Limits)
	}
	return fmt.Errorf("event carries no action")
}
