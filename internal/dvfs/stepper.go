package dvfs

import (
	"time"

	"github.com/go-logr/logr"
	"k8s.io/utils/clock"
)

// StepResult summarises one rail transition.
type StepResult struct {
	From         RailPair
	To           RailPair
	Steps        int
	SettleMicros uint32
}

func (r *StepResult) add(other StepResult) {
	r.Steps += other.Steps
	r.SettleMicros += other.SettleMicros
}

// RailStepper moves the core rail of a cluster to a target voltage in bounded steps, dragging the tracking
// rail along so that every written pair satisfies the constraints.
type RailStepper struct {
	rails       RailPort
	constraints RailConstraints
	timing      SettleTiming
	clock       clock.Clock
	logger      logr.Logger
}

func NewRailStepper(rails RailPort, constraints RailConstraints, timing SettleTiming, clk clock.Clock, logger logr.Logger) *RailStepper {
	return &RailStepper{
		rails:       rails,
		constraints: constraints,
		timing:      timing,
		clock:       clk,
		logger:      logger,
	}
}

func (s *RailStepper) ReadPair(id ClusterID) (RailPair, error) {
	core, err := s.rails.ReadRail(id, RailCore)
	if err != nil {
		return RailPair{}, portError(id, "read core rail", err)
	}
	tracking, err := s.rails.ReadRail(id, RailTracking)
	if err != nil {
		return RailPair{}, portError(id, "read tracking rail", err)
	}
	return RailPair{CoreUnits: core, TrackingUnits: tracking}, nil
}

// Raise steps the core rail up to targetCore. It does nothing when the rail is already at or above it.
func (s *RailStepper) Raise(id ClusterID, targetCore uint32) (StepResult, error) {
	return s.step(id, targetCore, func(cur RailPair) bool { return cur.CoreUnits >= targetCore })
}

// Lower steps the core rail down to targetCore. It does nothing when the rail is already at or below it.
func (s *RailStepper) Lower(id ClusterID, targetCore uint32) (StepResult, error) {
	return s.step(id, targetCore, func(cur RailPair) bool { return cur.CoreUnits <= targetCore })
}

// Step moves the core rail to targetCore in whichever direction is needed.
func (s *RailStepper) Step(id ClusterID, targetCore uint32) (StepResult, error) {
	return s.step(id, targetCore, func(cur RailPair) bool { return cur.CoreUnits == targetCore })
}

func (s *RailStepper) step(id ClusterID, targetCore uint32, done func(RailPair) bool) (StepResult, error) {
	cur, err := s.ReadPair(id)
	if err != nil {
		return StepResult{}, err
	}
	result := StepResult{From: cur, To: cur}

	if reason := s.constraints.violation(cur); reason != "" {
		return result, &InvariantViolation{Cluster: id, Pair: cur, Reason: "rails read back " + reason}
	}
	if done(cur) {
		return result, nil
	}
	if targetCore < s.constraints.MinCore() || targetCore > s.constraints.MaxCore() {
		return result, &InvariantViolation{
			Cluster: id,
			Pair:    RailPair{CoreUnits: targetCore, TrackingUnits: s.constraints.TrackingFor(targetCore)},
			Reason:  "target core voltage outside the steppable range",
		}
	}

	limit := s.constraints.MaxSteps(cur.CoreUnits, targetCore)
	log := s.logger.WithValues("cluster", id, "targetCore", targetCore)

	for cur.CoreUnits != targetCore {
		if result.Steps >= limit {
			return result, &InvariantViolation{Cluster: id, Pair: cur, Reason: "rail stepping did not converge"}
		}

		var next RailPair
		if targetCore > cur.CoreUnits {
			next, err = s.raiseOnce(id, cur, targetCore)
		} else {
			next, err = s.lowerOnce(id, cur, targetCore)
		}
		if err != nil {
			result.To = next
			return result, err
		}

		settle := s.timing.Micros(cur, next)
		log.V(5).Info("rail step", "core", next.CoreUnits, "tracking", next.TrackingUnits, "settleMicros", settle)
		s.clock.Sleep(time.Duration(settle) * time.Microsecond)

		result.Steps++
		result.SettleMicros += settle
		result.To = next
		cur = next
	}

	return result, nil
}

// raiseOnce lifts tracking first, then core, each by at most one step.
func (s *RailStepper) raiseOnce(id ClusterID, cur RailPair, targetCore uint32) (RailPair, error) {
	c := s.constraints

	nextTracking := min(cur.CoreUnits+c.stepSize(), targetCore+c.NormalMargin)
	core := nextTracking - c.NormalMargin
	if nextTracking > c.MaxTracking {
		core = targetCore
	}
	tracking := min(max(nextTracking, c.MinTracking), c.MaxTracking)

	pending := RailPair{CoreUnits: cur.CoreUnits, TrackingUnits: tracking}
	if err := s.write(id, RailTracking, cur, pending); err != nil {
		return cur, err
	}
	next := RailPair{CoreUnits: core, TrackingUnits: tracking}
	if err := s.write(id, RailCore, pending, next); err != nil {
		return pending, err
	}
	return next, nil
}

// lowerOnce drops core first, then lets tracking follow.
func (s *RailStepper) lowerOnce(id ClusterID, cur RailPair, targetCore uint32) (RailPair, error) {
	c := s.constraints

	// tracking left high above core has to come down before core can move
	if cur.TrackingUnits >= cur.CoreUnits+c.stepSize() {
		pending := RailPair{CoreUnits: cur.CoreUnits, TrackingUnits: c.TrackingFor(cur.CoreUnits)}
		if err := s.write(id, RailTracking, cur, pending); err != nil {
			return cur, err
		}
		cur = pending
	}

	core := max(cur.TrackingUnits-c.stepSize(), targetCore)
	pending := RailPair{CoreUnits: core, TrackingUnits: cur.TrackingUnits}
	if err := s.write(id, RailCore, cur, pending); err != nil {
		return cur, err
	}
	next := RailPair{CoreUnits: core, TrackingUnits: c.TrackingFor(core)}
	if err := s.write(id, RailTracking, pending, next); err != nil {
		return pending, err
	}
	return next, nil
}

// write checks the pair that results from the write and only then touches the hardware.
func (s *RailStepper) write(id ClusterID, kind RailKind, from, to RailPair) error {
	if reason := s.constraints.violation(to); reason != "" {
		return &InvariantViolation{Cluster: id, Pair: to, Reason: reason}
	}

	value := to.CoreUnits
	if kind == RailTracking {
		value = to.TrackingUnits
	}
	if kind == RailTracking && from.TrackingUnits == value || kind == RailCore && from.CoreUnits == value {
		return nil
	}

	if err := s.rails.WriteRail(id, kind, value); err != nil {
		return portError(id, "write "+kind.String()+" rail", err)
	}
	return nil
}
