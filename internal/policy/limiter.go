package policy

import (
	"fmt"

	"github.com/go-logr/logr"
	utilerrors "k8s.io/apimachinery/pkg/util/errors"
	"k8s.io/apimachinery/pkg/util/intstr"

	dvfsv1 "github.com/AMDEPYC/cluster-dvfs/api/v1"
	"github.com/AMDEPYC/cluster-dvfs/internal/dvfs"
)

// Engine is the part of the dvfs engine the limiter drives.
type Engine interface {
	Table(id dvfs.ClusterID) (dvfs.OpTable, error)
	SetPolicyLimits(id dvfs.ClusterID, floor, ceiling int) error
	SetPolicyFixed(id dvfs.ClusterID, index int) error
	ClearPolicyLimits(id dvfs.ClusterID) error
	SetTurbo(id dvfs.ClusterID, enabled bool) error
}

// Limiter translates cluster limits into engine policy ranges.
type Limiter struct {
	engine Engine
	logger logr.Logger
}

func NewLimiter(engine Engine, logger logr.Logger) *Limiter {
	return &Limiter{engine: engine, logger: logger}
}

// Apply applies every limit in order. A failing limit does not stop the others.
func (l *Limiter) Apply(limits []dvfsv1.ClusterLimit) error {
	var errs []error
	for _, limit := range limits {
		if err := l.apply(limit); err != nil {
			errs = append(errs, fmt.Errorf("cluster %s: %w", limit.Cluster, err))
		}
	}
	return utilerrors.NewAggregate(errs)
}

func (l *Limiter) apply(limit dvfsv1.ClusterLimit) error {
	id := dvfs.ClusterID(limit.Cluster)
	table, err := l.engine.Table(id)
	if err != nil {
		return err
	}

	if limit.Turbo != nil {
		if err := l.engine.SetTurbo(id, *limit.Turbo); err != nil {
			return err
		}
	}

	if limit.Fixed != nil {
		idx, err := ResolveIndex(*limit.Fixed, table, dvfs.Floor)
		if err != nil {
			return fmt.Errorf("fixed: %w", err)
		}
		l.logger.V(4).Info("pinning cluster", "cluster", id, "index", idx)
		return l.engine.SetPolicyFixed(id, idx)
	}

	if limit.Max == nil && limit.Min == nil {
		l.logger.V(4).Info("clearing cluster limits", "cluster", id)
		return l.engine.ClearPolicyLimits(id)
	}

	// the fastest allowed point is the smallest index
	fastest, slowest := dvfs.NoLimit, dvfs.NoLimit
	if limit.Max != nil {
		if fastest, err = ResolveIndex(*limit.Max, table, dvfs.Floor); err != nil {
			return fmt.Errorf("max: %w", err)
		}
	}
	if limit.Min != nil {
		if slowest, err = ResolveIndex(*limit.Min, table, dvfs.Ceiling); err != nil {
			return fmt.Errorf("min: %w", err)
		}
	}
	l.logger.V(4).Info("limiting cluster", "cluster", id, "fastestIndex", fastest, "slowestIndex", slowest)
	return l.engine.SetPolicyLimits(id, fastest, slowest)
}

// ResolveIndex maps a limit value to a table index. Integers are indices. Percentages select a frequency
// within the table range, matched with rel and falling back to the table edge on the far side.
func ResolveIndex(value intstr.IntOrString, table dvfs.OpTable, rel dvfs.Relation) (int, error) {
	if value.Type == intstr.Int {
		idx := int(value.IntVal)
		if idx < 0 || idx > table.LowestIndex() {
			return 0, fmt.Errorf("index %d outside [0, %d]", idx, table.LowestIndex())
		}
		return idx, nil
	}

	minFreq, maxFreq := int(table.MinFrequency()), int(table.MaxFrequency())
	scaled, err := intstr.GetScaledValueFromIntOrPercent(&value, maxFreq-minFreq, false)
	if err != nil {
		return 0, err
	}
	if scaled < 0 || scaled > maxFreq-minFreq {
		return 0, fmt.Errorf("percentage %s outside [0%%, 100%%]", value.StrVal)
	}

	idx, ok := table.FindIndexFor(uint32(minFreq+scaled), rel)
	if !ok {
		if rel == dvfs.Floor {
			return table.LowestIndex(), nil
		}
		return 0, nil
	}
	return idx, nil
}
