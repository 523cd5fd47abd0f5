package testutils

import (
	"github.com/stretchr/testify/mock"

	"github.com/AMDEPYC/cluster-dvfs/internal/dvfs"
)

type MockRailPort struct {
	mock.Mock
}

func (m *MockRailPort) ReadRail(id dvfs.ClusterID, kind dvfs.RailKind) (uint32, error) {
	args := m.Called(id, kind)
	return args.Get(0).(uint32), args.Error(1)
}

func (m *MockRailPort) WriteRail(id dvfs.ClusterID, kind dvfs.RailKind, units uint32) error {
	return m.Called(id, kind, units).Error(0)
}

type MockClockPort struct {
	mock.Mock
}

func (m *MockClockPort) ReadFrequency(id dvfs.ClusterID) (uint32, error) {
	args := m.Called(id)
	return args.Get(0).(uint32), args.Error(1)
}

func (m *MockClockPort) WriteDivider(id dvfs.ClusterID, kind dvfs.DividerKind, value uint32) error {
	return m.Called(id, kind, value).Error(0)
}

func (m *MockClockPort) WriteMultiplier(id dvfs.ClusterID, vcoKHz uint32) error {
	return m.Called(id, vcoKHz).Error(0)
}

func (m *MockClockPort) SelectClockSource(id dvfs.ClusterID, src dvfs.ClockSource) error {
	return m.Called(id, src).Error(0)
}

func (m *MockClockPort) NotifyClockGating(id dvfs.ClusterID, enable bool) error {
	return m.Called(id, enable).Error(0)
}

// MockEngine stands in for *dvfs.Engine in packages that drive it.
type MockEngine struct {
	mock.Mock
}

func (m *MockEngine) Request(id dvfs.ClusterID, targetKHz uint32, rel dvfs.Relation) (dvfs.AppliedOpPoint, error) {
	args := m.Called(id, targetKHz, rel)
	return args.Get(0).(dvfs.AppliedOpPoint), args.Error(1)
}

func (m *MockEngine) Status(id dvfs.ClusterID) (dvfs.ClusterStatus, error) {
	args := m.Called(id)
	return args.Get(0).(dvfs.ClusterStatus), args.Error(1)
}

func (m *MockEngine) Snapshot() []dvfs.ClusterStatus {
	ret := m.Called().Get(0)
	if ret == nil {
		return nil
	}
	return ret.([]dvfs.ClusterStatus)
}

func (m *MockEngine) Table(id dvfs.ClusterID) (dvfs.OpTable, error) {
	args := m.Called(id)
	ret := args.Get(0)
	if ret == nil {
		return nil, args.Error(1)
	}
	return ret.(dvfs.OpTable), args.Error(1)
}

func (m *MockEngine) OnClusterOnline(id dvfs.ClusterID) error {
	return m.Called(id).Error(0)
}

func (m *MockEngine) OnClusterOffline(id dvfs.ClusterID) error {
	return m.Called(id).Error(0)
}

func (m *MockEngine) SetPolicyLimits(id dvfs.ClusterID, floor, ceiling int) error {
	return m.Called(id, floor, ceiling).Error(0)
}

func (m *MockEngine) SetPolicyFixed(id dvfs.ClusterID, index int) error {
	return m.Called(id, index).Error(0)
}

func (m *MockEngine) ClearPolicyLimits(id dvfs.ClusterID) error {
	return m.Called(id).Error(0)
}

func (m *MockEngine) SetTurbo(id dvfs.ClusterID, enabled bool) error {
	return m.Called(id, enabled).Error(0)
}

type MockLoadSource struct {
	mock.Mock
}

func (m *MockLoadSource) Busyness(id dvfs.ClusterID) (int, error) {
	args := m.Called(id)
	return args.Int(0), args.Error(1)
}

const (
	ClusterLL  dvfs.ClusterID = "LL"
	ClusterL   dvfs.ClusterID = "L"
	ClusterB   dvfs.ClusterID = "B"
	ClusterCCI dvfs.ClusterID = "CCI"
)

func point(khz, volt, post, div uint32) dvfs.OperatingPoint {
	return dvfs.OperatingPoint{
		FrequencyKHz:        khz,
		VoltageUnits:        volt,
		DefaultVoltageUnits: volt,
		Dividers:            dvfs.DividerState{PostDivider: post, ClockDivider: div},
	}
}

// ExampleConfig describes a three cluster SoC with an interconnect companion. LL shares its rails with CCI.
func ExampleConfig() dvfs.Config {
	return dvfs.Config{
		Rails:            dvfs.DefaultRailConstraints(),
		Settle:           dvfs.DefaultSettleTiming(),
		Clock:            dvfs.DefaultClockTiming(),
		CompanionStepKHz: 13000,
		SearchFallback:   dvfs.FallbackKeepCurrent,
		Clusters: []dvfs.ClusterConfig{
			{
				ID:         ClusterLL,
				Role:       dvfs.RoleIndependent,
				RailDomain: "little",
				Table: dvfs.OpTable{
					point(1000000, 100000, 1, 1),
					point(800000, 92500, 1, 1),
					point(600000, 85000, 2, 1),
					point(400000, 78000, 2, 2),
				},
				Turbo: true,
			},
			{
				ID:   ClusterL,
				Role: dvfs.RoleIndependent,
				Table: dvfs.OpTable{
					point(1500000, 112000, 1, 1),
					point(1200000, 100000, 1, 1),
					point(800000, 87500, 1, 1),
					point(500000, 80000, 2, 2),
				},
				Turbo: true,
			},
			{
				ID:   ClusterB,
				Role: dvfs.RoleIndependent,
				Table: dvfs.OpTable{
					point(2000000, 120000, 1, 1),
					point(1800000, 115000, 1, 1),
					point(1400000, 110000, 1, 1),
					point(1000000, 95000, 1, 1),
					point(600000, 80000, 2, 1),
				},
				NormalMaxIndex: 1,
			},
			{
				ID:         ClusterCCI,
				Role:       dvfs.RoleCompanion,
				Feeders:    []dvfs.ClusterID{ClusterLL, ClusterL, ClusterB},
				RailDomain: "little",
				Table: dvfs.OpTable{
					point(800000, 110000, 1, 1),
					point(600000, 100000, 1, 1),
					point(400000, 90000, 2, 1),
					point(200000, 80000, 2, 2),
				},
				OfflineIndex: 1,
				Turbo:        true,
			},
		},
	}
}

// ThreePointConfig is a single cluster with points at 1.4 GHz, 1.0 GHz and 600 MHz plus its companion.
func ThreePointConfig() dvfs.Config {
	return dvfs.Config{
		Rails:            dvfs.DefaultRailConstraints(),
		Settle:           dvfs.DefaultSettleTiming(),
		Clock:            dvfs.DefaultClockTiming(),
		CompanionStepKHz: 13000,
		Clusters: []dvfs.ClusterConfig{
			{
				ID:   ClusterB,
				Role: dvfs.RoleIndependent,
				Table: dvfs.OpTable{
					point(1400000, 110000, 1, 1),
					point(1000000, 95000, 1, 1),
					point(600000, 80000, 2, 1),
				},
				Turbo: true,
			},
			{
				ID:      ClusterCCI,
				Role:    dvfs.RoleCompanion,
				Feeders: []dvfs.ClusterID{ClusterB},
				Table: dvfs.OpTable{
					point(700000, 110000, 1, 1),
					point(500000, 95000, 1, 1),
					point(300000, 80000, 2, 1),
				},
				Turbo: true,
			},
		},
	}
}
