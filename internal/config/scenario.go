package config

import (
	"fmt"
	"os"

	utilerrors "k8s.io/apimachinery/pkg/util/errors"
	"k8s.io/utils/cpuset"
	"sigs.k8s.io/yaml"

	dvfsv1 "github.com/AMDEPYC/cluster-dvfs/api/v1"
	"github.com/AMDEPYC/cluster-dvfs/internal/dvfs"
)

func LoadScenario(path string) (*dvfsv1.ScenarioSpec, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading scenario file: %w", err)
	}
	return ParseScenario(data)
}

func ParseScenario(data []byte) (*dvfsv1.ScenarioSpec, error) {
	spec := &dvfsv1.ScenarioSpec{}
	if err := yaml.UnmarshalStrict(data, spec); err != nil {
		return nil, fmt.Errorf("decoding scenario: %w", err)
	}
	if err := ValidateScenario(spec); err != nil {
		return nil, err
	}
	return spec, nil
}

// ValidateScenario checks that every event carries exactly one well formed action.
func ValidateScenario(spec *dvfsv1.ScenarioSpec) error {
	var errs []error
	for i, ev := range spec.Events {
		actions := 0
		if ev.Request != nil {
			actions++
			if _, err := ParseRelation(ev.Request.Relation); err != nil {
				errs = append(errs, fmt.Errorf("event %d: %w", i, err))
			}
		}
		if ev.CPUsOnline != "" {
			actions++
			if _, err := cpuset.Parse(ev.CPUsOnline); err != nil {
				errs = append(errs, fmt.Errorf("event %d: cpusOnline: %w", i, err))
			}
		}
		if ev.CPUsOffline != "" {
			actions++
			if _, err := cpuset.Parse(ev.CPUsOffline); err != nil {
				errs = append(errs, fmt.Errorf("event %d: cpusOffline: %w", i, err))
			}
		}
		if len(ev.Limits) > 0 {
			actions++
		}
		if actions != 1 {
			errs = append(errs, fmt.Errorf("event %d has %d actions, expected exactly one", i, actions))
		}
		if ev.After.Duration < 0 {
			errs = append(errs, fmt.Errorf("event %d: negative delay", i))
		}
	}
	return utilerrors.NewAggregate(errs)
}

// ParseRelation maps "floor" and "ceiling" to a search relation. Empty selects ceiling.
func ParseRelation(s string) (dvfs.Relation, error) {
	switch s {
	case "", "ceiling":
		return dvfs.Ceiling, nil
	case "floor":
		return dvfs.Floor, nil
	}
	return dvfs.Ceiling, fmt.Errorf("unknown relation %q", s)
}
