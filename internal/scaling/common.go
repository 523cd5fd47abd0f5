package scaling

import (
	"time"

	"github.com/AMDEPYC/cluster-dvfs/internal/dvfs"
)

const FrequencyNotYetSet int = -1

type ClusterScalingOpts struct {
	ClusterID                  dvfs.ClusterID
	SamplePeriod               time.Duration
	CooldownPeriod             time.Duration
	TargetBusyness             int
	AllowedBusynessDifference  int
	AllowedFrequencyDifference int
	HWMaxFrequency             int
	HWMinFrequency             int
	FallbackFreq               int
}

// Requester is the part of the engine the scaling workers drive.
type Requester interface {
	Request(id dvfs.ClusterID, targetKHz uint32, rel dvfs.Relation) (dvfs.AppliedOpPoint, error)
	Status(id dvfs.ClusterID) (dvfs.ClusterStatus, error)
}

// LoadSource reports how busy a cluster is as a percentage.
type LoadSource interface {
	Busyness(id dvfs.ClusterID) (int, error)
}
