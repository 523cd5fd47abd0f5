package dvfs

import (
	"fmt"

	utilerrors "k8s.io/apimachinery/pkg/util/errors"
	"k8s.io/apimachinery/pkg/util/sets"
)

// SearchFallback decides what a request does when no table entry satisfies the relation.
type SearchFallback int

const (
	FallbackKeepCurrent SearchFallback = iota
	FallbackNearest
	FallbackReject
)

func ParseSearchFallback(s string) (SearchFallback, error) {
	switch s {
	case "", "keep-current":
		return FallbackKeepCurrent, nil
	case "nearest":
		return FallbackNearest, nil
	case "reject":
		return FallbackReject, nil
	}
	return FallbackKeepCurrent, fmt.Errorf("unknown search fallback %q", s)
}

type ClusterConfig struct {
	ID      ClusterID
	Role    Role
	Feeders []ClusterID
	// RailDomain groups clusters sharing one regulator pair. Empty means a private rail.
	RailDomain string
	Table      OpTable
	// NormalMaxIndex is the fastest index usable with turbo disabled.
	NormalMaxIndex int
	Turbo          bool
	// OfflineIndex is where a companion is parked while it is unavailable.
	OfflineIndex int
	Offline      bool
	Disabled     bool
}

type Config struct {
	Clusters         []ClusterConfig
	Rails            RailConstraints
	Settle           SettleTiming
	Clock            ClockTiming
	CompanionStepKHz uint32
	SearchFallback   SearchFallback
}

func (c Config) Validate() error {
	var errs []error

	if err := c.Rails.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("rails: %w", err))
	}
	if err := c.Settle.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("settle: %w", err))
	}
	if c.CompanionStepKHz == 0 {
		errs = append(errs, fmt.Errorf("companion step must be positive"))
	}

	ids := sets.New[ClusterID]()
	independent := sets.New[ClusterID]()
	companions := 0
	for _, cl := range c.Clusters {
		if ids.Has(cl.ID) {
			errs = append(errs, fmt.Errorf("cluster %s declared twice", cl.ID))
		}
		ids.Insert(cl.ID)
		if cl.Role == RoleCompanion {
			companions++
		} else {
			independent.Insert(cl.ID)
		}
	}
	if companions != 1 {
		errs = append(errs, fmt.Errorf("exactly one companion cluster required, found %d", companions))
	}

	for _, cl := range c.Clusters {
		errs = append(errs, c.validateCluster(cl, independent)...)
	}

	return utilerrors.NewAggregate(errs)
}

func (c Config) validateCluster(cl ClusterConfig, independent sets.Set[ClusterID]) []error {
	var errs []error
	wrap := func(err error) error { return fmt.Errorf("cluster %s: %w", cl.ID, err) }

	if err := cl.Table.Validate(); err != nil {
		return []error{wrap(err)}
	}
	for i, p := range cl.Table {
		if p.VoltageUnits < c.Rails.MinCore() || p.VoltageUnits > c.Rails.MaxCore() {
			errs = append(errs, wrap(fmt.Errorf("operating point %d voltage %d outside [%d, %d]",
				i, p.VoltageUnits, c.Rails.MinCore(), c.Rails.MaxCore())))
		}
	}
	if cl.NormalMaxIndex < 0 || cl.NormalMaxIndex >= len(cl.Table) {
		errs = append(errs, wrap(fmt.Errorf("normal max index %d out of range", cl.NormalMaxIndex)))
	}

	if cl.Role == RoleCompanion {
		if len(cl.Feeders) == 0 {
			errs = append(errs, wrap(fmt.Errorf("companion has no feeders")))
		}
		for _, f := range cl.Feeders {
			if !independent.Has(f) {
				errs = append(errs, wrap(fmt.Errorf("feeder %s is not an independent cluster", f)))
			}
		}
		if cl.OfflineIndex < 0 || cl.OfflineIndex >= len(cl.Table) {
			errs = append(errs, wrap(fmt.Errorf("offline index %d out of range", cl.OfflineIndex)))
		}
	} else if len(cl.Feeders) > 0 {
		errs = append(errs, wrap(fmt.Errorf("only the companion may list feeders")))
	}

	return errs
}
