package dvfs

import (
	"fmt"
)

// RailPair is the simultaneous state of the core and tracking rails of one cluster.
type RailPair struct {
	CoreUnits     uint32
	TrackingUnits uint32
}

// RailConstraints bound the tracking rail relative to the core rail. All values are in 10 µV units.
type RailConstraints struct {
	// NormalMargin is the steady-state distance of tracking above core.
	NormalMargin uint32
	// MaxDelta is the largest distance of tracking above core the hardware tolerates.
	MaxDelta uint32
	// StepGuard is kept in reserve below MaxDelta on every intermediate step.
	StepGuard   uint32
	MinTracking uint32
	MaxTracking uint32
}

func DefaultRailConstraints() RailConstraints {
	return RailConstraints{
		NormalMargin: 10000,
		MaxDelta:     25000,
		StepGuard:    2500,
		MinTracking:  100000,
		MaxTracking:  120000,
	}
}

func (c RailConstraints) Validate() error {
	if c.MaxDelta <= c.StepGuard+c.NormalMargin {
		return fmt.Errorf("max delta %d leaves no room for step guard %d and normal margin %d",
			c.MaxDelta, c.StepGuard, c.NormalMargin)
	}
	if c.MinTracking > c.MaxTracking {
		return fmt.Errorf("min tracking %d above max tracking %d", c.MinTracking, c.MaxTracking)
	}
	if c.MinTracking < c.stepSize() {
		return fmt.Errorf("min tracking %d below step size %d", c.MinTracking, c.stepSize())
	}
	return nil
}

func (c RailConstraints) stepSize() uint32 {
	return c.MaxDelta - c.StepGuard
}

// MinCore is the lowest core voltage the stepper can reach while keeping the pair legal.
func (c RailConstraints) MinCore() uint32 {
	return c.MinTracking - c.stepSize()
}

func (c RailConstraints) MaxCore() uint32 {
	return c.MaxTracking
}

// TrackingFor is the steady-state tracking voltage for a core voltage.
func (c RailConstraints) TrackingFor(core uint32) uint32 {
	return min(max(core+c.NormalMargin, c.MinTracking), c.MaxTracking)
}

// MaxSteps bounds the stepping iterations needed to move the core rail between two voltages.
func (c RailConstraints) MaxSteps(fromCore, toCore uint32) int {
	delta := absDiff(fromCore, toCore)
	progress := c.stepSize() - c.NormalMargin
	return int((delta+progress-1)/progress) + 1
}

// violation returns a non-empty reason when the pair breaks the constraints.
func (c RailConstraints) violation(p RailPair) string {
	switch {
	case p.TrackingUnits < p.CoreUnits:
		return "tracking below core"
	case p.TrackingUnits-p.CoreUnits > c.MaxDelta:
		return fmt.Sprintf("tracking more than %d above core", c.MaxDelta)
	case p.TrackingUnits < c.MinTracking:
		return fmt.Sprintf("tracking below minimum %d", c.MinTracking)
	case p.TrackingUnits > c.MaxTracking:
		return fmt.Sprintf("tracking above maximum %d", c.MaxTracking)
	}
	return ""
}

// SettleTiming describes how long the regulators take to reach a new pair.
type SettleTiming struct {
	CoreSlewUnitsPerMicro     uint32
	TrackingRiseUnitsPerMicro uint32
	TrackingFallUnitsPerMicro uint32
	CommandDelayMicros        uint32
	MinSettleMicros           uint32
}

func DefaultSettleTiming() SettleTiming {
	return SettleTiming{
		CoreSlewUnitsPerMicro:     10,
		TrackingRiseUnitsPerMicro: 1250,
		TrackingFallUnitsPerMicro: 312,
		CommandDelayMicros:        5,
		MinSettleMicros:           25,
	}
}

func (s SettleTiming) Validate() error {
	if s.CoreSlewUnitsPerMicro == 0 || s.TrackingRiseUnitsPerMicro == 0 || s.TrackingFallUnitsPerMicro == 0 {
		return fmt.Errorf("slew rates must be positive")
	}
	return nil
}

// Micros returns the wait after moving the rails from one pair to another.
func (s SettleTiming) Micros(from, to RailPair) uint32 {
	if from == to {
		return 0
	}

	var edge uint32
	if to.TrackingUnits >= from.TrackingUnits {
		edge = ceilDiv(to.TrackingUnits-from.TrackingUnits, s.TrackingRiseUnitsPerMicro) + s.CommandDelayMicros
	} else {
		edge = (from.TrackingUnits-to.TrackingUnits)/s.TrackingFallUnitsPerMicro + s.CommandDelayMicros
	}
	proportional := ceilDiv(absDiff(from.CoreUnits, to.CoreUnits), s.CoreSlewUnitsPerMicro)

	return max(edge, proportional, s.MinSettleMicros)
}

func absDiff(a, b uint32) uint32 {
	if a > b {
		return a - b
	}
	return b - a
}

func ceilDiv(a, b uint32) uint32 {
	return (a + b - 1) / b
}

// Check returns an error when the pair breaks the constraints.
func (c RailConstraints) Check(p RailPair) error {
	if reason := c.violation(p); reason != "" {
		return fmt.Errorf("core=%d tracking=%d: %s", p.CoreUnits, p.TrackingUnits, reason)
	}
	return nil
}
