package config

import (
	"fmt"
	"os"
	"time"

	utilerrors "k8s.io/apimachinery/pkg/util/errors"
	"k8s.io/apimachinery/pkg/util/sets"
	"k8s.io/utils/cpuset"
	"sigs.k8s.io/yaml"

	dvfsv1 "github.com/AMDEPYC/cluster-dvfs/api/v1"
	"github.com/AMDEPYC/cluster-dvfs/internal/dvfs"
	"github.com/AMDEPYC/cluster-dvfs/internal/platform/sim"
	"github.com/AMDEPYC/cluster-dvfs/internal/scaling"
)

const (
	roleIndependent = "independent"
	roleCompanion   = "companion"

	minSamplePeriod = 10 * time.Millisecond
	maxSamplePeriod = 1 * time.Second
)

// LoadPlatform reads a platform description in YAML or JSON.
func LoadPlatform(path string) (*dvfsv1.PlatformSpec, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading platform file: %w", err)
	}
	return ParsePlatform(data)
}

func ParsePlatform(data []byte) (*dvfsv1.PlatformSpec, error) {
	spec := &dvfsv1.PlatformSpec{}
	if err := yaml.UnmarshalStrict(data, spec); err != nil {
		return nil, fmt.Errorf("decoding platform: %w", err)
	}
	if err := ValidatePlatform(spec); err != nil {
		return nil, err
	}
	return spec, nil
}

// ValidatePlatform checks what the engine configuration cannot: names, roles, cpusets and scaling items.
// Table and rail checks happen when the engine configuration is built.
func ValidatePlatform(spec *dvfsv1.PlatformSpec) error {
	var errs []error

	if len(spec.Clusters) == 0 {
		errs = append(errs, fmt.Errorf("platform has no clusters"))
	}
	if _, err := dvfs.ParseSearchFallback(spec.SearchFallback); err != nil {
		errs = append(errs, err)
	}

	names := sets.New[string]()
	cpus := cpuset.New()
	for _, c := range spec.Clusters {
		if c.ID == "" {
			errs = append(errs, fmt.Errorf("cluster without id"))
			continue
		}
		if names.Has(c.ID) {
			errs = append(errs, fmt.Errorf("duplicate cluster %s", c.ID))
		}
		names.Insert(c.ID)

		if _, err := parseRole(c.Role); err != nil {
			errs = append(errs, fmt.Errorf("cluster %s: %w", c.ID, err))
		}
		set, err := cpuset.Parse(c.CPUs)
		if err != nil {
			errs = append(errs, fmt.Errorf("cluster %s: cpus %q: %w", c.ID, c.CPUs, err))
			continue
		}
		if overlap := cpus.Intersection(set); !overlap.IsEmpty() {
			errs = append(errs, fmt.Errorf("cluster %s: cpus %s already assigned", c.ID, overlap))
		}
		cpus = cpus.Union(set)
	}

	scaled := sets.New[string]()
	for _, item := range spec.Scaling {
		if !names.Has(item.Cluster) {
			errs = append(errs, fmt.Errorf("scaling item for unknown cluster %s", item.Cluster))
		}
		if scaled.Has(item.Cluster) {
			errs = append(errs, fmt.Errorf("cluster %s scaled twice", item.Cluster))
		}
		scaled.Insert(item.Cluster)
		if p := item.SamplePeriod.Duration; p < minSamplePeriod {
			errs = append(errs, fmt.Errorf("scaling %s: sample period %s is below minimum limit %s", item.Cluster, p, minSamplePeriod))
		} else if p > maxSamplePeriod {
			errs = append(errs, fmt.Errorf("scaling %s: sample period %s is above maximum limit %s", item.Cluster, p, maxSamplePeriod))
		}
		if item.TargetBusyness < 0 || item.TargetBusyness > 100 {
			errs = append(errs, fmt.Errorf("scaling %s: target busyness %d outside [0, 100]", item.Cluster, item.TargetBusyness))
		}
		if item.FallbackFreqPercent < 0 || item.FallbackFreqPercent > 100 {
			errs = append(errs, fmt.Errorf("scaling %s: fallback percent %d outside [0, 100]", item.Cluster, item.FallbackFreqPercent))
		}
	}

	return utilerrors.NewAggregate(errs)
}

func parseRole(s string) (dvfs.Role, error) {
	switch s {
	case "", roleIndependent:
		return dvfs.RoleIndependent, nil
	case roleCompanion:
		return dvfs.RoleCompanion, nil
	}
	return dvfs.RoleIndependent, fmt.Errorf("unknown role %q", s)
}

// BuildEngineConfig converts a platform description into a validated engine configuration.
// Zero rail, settle and clock fields take the engine defaults.
func BuildEngineConfig(spec *dvfsv1.PlatformSpec) (dvfs.Config, error) {
	fallback, err := dvfs.ParseSearchFallback(spec.SearchFallback)
	if err != nil {
		return dvfs.Config{}, err
	}

	cfg := dvfs.Config{
		Rails:            railConstraints(spec.Rails),
		Settle:           settleTiming(spec.Settle),
		Clock:            clockTiming(spec.Clock),
		CompanionStepKHz: spec.CompanionStepKHz,
		SearchFallback:   fallback,
	}

	for _, c := range spec.Clusters {
		role, err := parseRole(c.Role)
		if err != nil {
			return dvfs.Config{}, fmt.Errorf("cluster %s: %w", c.ID, err)
		}
		cc := dvfs.ClusterConfig{
			ID:             dvfs.ClusterID(c.ID),
			Role:           role,
			RailDomain:     c.RailDomain,
			NormalMaxIndex: c.NormalMaxIndex,
			Turbo:          c.Turbo,
			OfflineIndex:   c.OfflineIndex,
			Offline:        c.Offline,
			Disabled:       c.Disabled,
		}
		for _, f := range c.Feeders {
			cc.Feeders = append(cc.Feeders, dvfs.ClusterID(f))
		}
		for _, p := range c.OperatingPoints {
			cc.Table = append(cc.Table, dvfs.OperatingPoint{
				FrequencyKHz:        p.FrequencyKHz,
				VoltageUnits:        p.VoltageUnits,
				DefaultVoltageUnits: p.VoltageUnits,
				Dividers: dvfs.DividerState{
					PostDivider:  max(p.PostDivider, 1),
					ClockDivider: max(p.ClockDivider, 1),
				},
			})
		}
		cfg.Clusters = append(cfg.Clusters, cc)
	}

	if err := cfg.Validate(); err != nil {
		return dvfs.Config{}, fmt.Errorf("invalid platform %s: %w", spec.Name, err)
	}
	return cfg, nil
}

func orDefault(v, def uint32) uint32 {
	if v == 0 {
		return def
	}
	return v
}

func railConstraints(s dvfsv1.RailConstraintsSpec) dvfs.RailConstraints {
	def := dvfs.DefaultRailConstraints()
	return dvfs.RailConstraints{
		NormalMargin: orDefault(s.NormalMargin, def.NormalMargin),
		MaxDelta:     orDefault(s.MaxDelta, def.MaxDelta),
		StepGuard:    orDefault(s.StepGuard, def.StepGuard),
		MinTracking:  orDefault(s.MinTracking, def.MinTracking),
		MaxTracking:  orDefault(s.MaxTracking, def.MaxTracking),
	}
}

func settleTiming(s dvfsv1.SettleTimingSpec) dvfs.SettleTiming {
	def := dvfs.DefaultSettleTiming()
	return dvfs.SettleTiming{
		CoreSlewUnitsPerMicro:     orDefault(s.CoreSlewUnitsPerMicro, def.CoreSlewUnitsPerMicro),
		TrackingRiseUnitsPerMicro: orDefault(s.TrackingRiseUnitsPerMicro, def.TrackingRiseUnitsPerMicro),
		TrackingFallUnitsPerMicro: orDefault(s.TrackingFallUnitsPerMicro, def.TrackingFallUnitsPerMicro),
		CommandDelayMicros:        orDefault(s.CommandDelayMicros, def.CommandDelayMicros),
		MinSettleMicros:           orDefault(s.MinSettleMicros, def.MinSettleMicros),
	}
}

func clockTiming(s dvfsv1.ClockTimingSpec) dvfs.ClockTiming {
	def := dvfs.DefaultClockTiming()
	durationOr := func(d, fallback time.Duration) time.Duration {
		if d <= 0 {
			return fallback
		}
		return d
	}
	return dvfs.ClockTiming{
		PLLSettle:     durationOr(s.PLLSettle.Duration, def.PLLSettle),
		DividerSettle: durationOr(s.DividerSettle.Duration, def.DividerSettle),
	}
}

// ClusterCPUs maps each cluster to its CPUs. Clusters without CPUs are left out.
func ClusterCPUs(spec *dvfsv1.PlatformSpec) (map[dvfs.ClusterID]cpuset.CPUSet, error) {
	out := make(map[dvfs.ClusterID]cpuset.CPUSet, len(spec.Clusters))
	for _, c := range spec.Clusters {
		set, err := cpuset.Parse(c.CPUs)
		if err != nil {
			return nil, fmt.Errorf("cluster %s: %w", c.ID, err)
		}
		if !set.IsEmpty() {
			out[dvfs.ClusterID(c.ID)] = set
		}
	}
	return out, nil
}

// ScalingOpts builds worker options for every scaling item. Hardware bounds come from the cluster table.
func ScalingOpts(spec *dvfsv1.PlatformSpec, cfg dvfs.Config) []scaling.ClusterScalingOpts {
	tables := make(map[dvfs.ClusterID]dvfs.OpTable, len(cfg.Clusters))
	for _, c := range cfg.Clusters {
		tables[c.ID] = c.Table
	}

	opts := make([]scaling.ClusterScalingOpts, 0, len(spec.Scaling))
	for _, item := range spec.Scaling {
		table, ok := tables[dvfs.ClusterID(item.Cluster)]
		if !ok {
			continue
		}
		minFreq, maxFreq := int(table.MinFrequency()), int(table.MaxFrequency())
		opts = append(opts, scaling.ClusterScalingOpts{
			ClusterID:                  dvfs.ClusterID(item.Cluster),
			SamplePeriod:               item.SamplePeriod.Duration,
			CooldownPeriod:             item.CooldownPeriod.Duration,
			TargetBusyness:             item.TargetBusyness,
			AllowedBusynessDifference:  item.AllowedBusynessDifference,
			AllowedFrequencyDifference: item.AllowedFrequencyDifference,
			HWMaxFrequency:             maxFreq,
			HWMinFrequency:             minFreq,
			FallbackFreq:               scaling.GetFrequencyFromPercent(minFreq, maxFreq, item.FallbackFreqPercent),
		})
	}
	return opts
}

// LoadProfiles returns the simulated load of every scaled cluster.
func LoadProfiles(spec *dvfsv1.PlatformSpec) map[dvfs.ClusterID]sim.LoadProfile {
	out := make(map[dvfs.ClusterID]sim.LoadProfile, len(spec.Scaling))
	for _, item := range spec.Scaling {
		out[dvfs.ClusterID(item.Cluster)] = sim.LoadProfile{
			Base:      item.Load.Base,
			Amplitude: item.Load.Amplitude,
			Period:    item.Load.Period.Duration,
			Phase:     item.Load.Phase.Duration,
		}
	}
	return out
}
