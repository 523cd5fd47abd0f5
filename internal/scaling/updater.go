package scaling

import (
	"errors"
	"time"

	"github.com/go-logr/logr"
	"k8s.io/utils/clock"

	"github.com/AMDEPYC/cluster-dvfs/internal/dvfs"
)

type ClusterScalingUpdater interface {
	Update(opts *ClusterScalingOpts)
}

type clusterScalingUpdaterImpl struct {
	engine     Requester
	load       LoadSource
	clock      clock.PassiveClock
	logger     logr.Logger
	lastUpdate time.Time
}

func NewClusterScalingUpdater(engine Requester, load LoadSource, clk clock.PassiveClock, logger logr.Logger) ClusterScalingUpdater {
	updater := &clusterScalingUpdaterImpl{
		engine: engine,
		load:   load,
		clock:  clk,
		logger: logger,
	}

	return updater
}

// Update moves the cluster towards the frequency that brings its busyness to the target.
// Clusters that are offline or disabled are left alone.
func (u *clusterScalingUpdaterImpl) Update(opts *ClusterScalingOpts) {
	status, err := u.engine.Status(opts.ClusterID)
	if err != nil {
		u.logger.Error(err, "failed to read cluster status", "cluster", opts.ClusterID)
		return
	}
	if !status.Available || !status.Enabled {
		u.logger.V(5).Info("cluster not scalable, skipping", "cluster", opts.ClusterID,
			"available", status.Available, "enabled", status.Enabled)
		return
	}

	now := u.clock.Now()
	if !u.lastUpdate.IsZero() && now.Sub(u.lastUpdate) < opts.CooldownPeriod {
		return
	}

	currentFreq := int(status.FrequencyKHz)
	busyness, err := u.load.Busyness(opts.ClusterID)
	if err != nil {
		if opts.FallbackFreq == FrequencyNotYetSet || opts.FallbackFreq == 0 {
			u.logger.V(5).Info("no load sample and no fallback frequency", "cluster", opts.ClusterID, "error", err.Error())
			return
		}
		u.logger.V(4).Info("no load sample, applying fallback frequency", "cluster", opts.ClusterID,
			"fallback", opts.FallbackFreq, "error", err.Error())
		u.request(opts, currentFreq, opts.FallbackFreq, now)
		return
	}

	if absInt(busyness-opts.TargetBusyness) <= opts.AllowedBusynessDifference {
		return
	}

	nextFreq := scaleFrequency(currentFreq, busyness, opts.TargetBusyness, opts.HWMinFrequency, opts.HWMaxFrequency)
	u.request(opts, currentFreq, nextFreq, now)
}

func (u *clusterScalingUpdaterImpl) request(opts *ClusterScalingOpts, currentFreq, nextFreq int, now time.Time) {
	if absInt(nextFreq-currentFreq) <= opts.AllowedFrequencyDifference {
		return
	}

	applied, err := u.engine.Request(opts.ClusterID, uint32(nextFreq), dvfs.Ceiling)
	if err != nil {
		if errors.Is(err, dvfs.ErrPolicyConflict) || errors.Is(err, dvfs.ErrInvalidRequest) {
			u.logger.V(4).Info("frequency request rejected", "cluster", opts.ClusterID, "target", nextFreq, "reason", err.Error())
		} else {
			u.logger.Error(err, "frequency request failed", "cluster", opts.ClusterID, "target", nextFreq)
		}
		return
	}

	u.lastUpdate = now
	u.logger.V(5).Info("cluster frequency scaled", "cluster", opts.ClusterID,
		"from", currentFreq, "target", nextFreq, "applied", applied.FrequencyKHz)
}
