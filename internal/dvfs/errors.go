package dvfs

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidRequest error = errors.New("invalid dvfs request")
	ErrPolicyConflict error = errors.New("dvfs disabled for cluster")
	ErrPortIO         error = errors.New("hardware port failure")
	ErrEngineFaulted  error = errors.New("dvfs engine halted after rail invariant violation")
)

// PortError wraps a failure reported by a RailPort or ClockPort.
type PortError struct {
	Cluster ClusterID
	Op      string
	Err     error
}

func (e *PortError) Error() string {
	return fmt.Sprintf("%s on cluster %s: %v", e.Op, e.Cluster, e.Err)
}

func (e *PortError) Unwrap() []error {
	return []error{ErrPortIO, e.Err}
}

func portError(id ClusterID, op string, err error) error {
	if err == nil {
		return nil
	}
	return &PortError{Cluster: id, Op: op, Err: err}
}

// InvariantViolation reports a rail pair that breaks the tracking constraints. The pair is never written.
type InvariantViolation struct {
	Cluster ClusterID
	Pair    RailPair
	Reason  string
}

func (v *InvariantViolation) Error() string {
	return fmt.Sprintf("rail invariant violated on cluster %s (core=%d tracking=%d): %s",
		v.Cluster, v.Pair.CoreUnits, v.Pair.TrackingUnits, v.Reason)
}

func invalidRequest(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidRequest, fmt.Sprintf(format, args...))
}
