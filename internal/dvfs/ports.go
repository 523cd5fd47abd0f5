package dvfs

// ClusterID names a CPU cluster or the companion interconnect cluster.
type ClusterID string

type RailKind int

const (
	// RailCore supplies the cluster logic.
	RailCore RailKind = iota
	// RailTracking supplies the cluster SRAM and must stay within a bounded margin above RailCore.
	RailTracking
)

func (k RailKind) String() string {
	switch k {
	case RailCore:
		return "core"
	case RailTracking:
		return "tracking"
	}
	return "unknown"
}

type DividerKind int

const (
	PostDivider DividerKind = iota
	ClockDivider
)

func (k DividerKind) String() string {
	if k == PostDivider {
		return "post-divider"
	}
	return "clock-divider"
}

type ClockSource int

const (
	// SourceReference is the fixed bypass clock used while the PLL is reprogrammed.
	SourceReference ClockSource = iota
	SourcePLL
)

func (s ClockSource) String() string {
	if s == SourceReference {
		return "reference"
	}
	return "pll"
}

// RailPort reads and writes the regulator pair feeding a cluster. Voltages are in 10 µV units.
// Clusters sharing a rail domain resolve to the same physical regulators.
type RailPort interface {
	ReadRail(id ClusterID, kind RailKind) (uint32, error)
	WriteRail(id ClusterID, kind RailKind, units uint32) error
}

// ClockPort exposes the clock tree primitives of a cluster.
type ClockPort interface {
	ReadFrequency(id ClusterID) (uint32, error)
	WriteDivider(id ClusterID, kind DividerKind, value uint32) error
	WriteMultiplier(id ClusterID, vcoKHz uint32) error
	SelectClockSource(id ClusterID, src ClockSource) error
	NotifyClockGating(id ClusterID, enable bool) error
}
