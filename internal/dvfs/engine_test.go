package dvfs_test

import (
	"errors"
	"math/rand"
	"testing"
	"time"

	"github.com/go-logr/logr"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	testingclock "k8s.io/utils/clock/testing"

	"github.com/AMDEPYC/cluster-dvfs/internal/dvfs"
	"github.com/AMDEPYC/cluster-dvfs/internal/platform/sim"
	"github.com/AMDEPYC/cluster-dvfs/pkg/testutils"
)

type recordingObserver struct {
	records []dvfs.TransitionRecord
}

func (o *recordingObserver) OnTransition(rec dvfs.TransitionRecord) {
	o.records = append(o.records, rec)
}

type testEnv struct {
	engine   *dvfs.Engine
	platform *sim.Platform
	clock    *testingclock.FakeClock
	observer *recordingObserver
}

func newTestEnv(t *testing.T, cfg dvfs.Config, simOpts ...sim.Option) *testEnv {
	t.Helper()

	platform, err := sim.New(cfg, append(simOpts, sim.WithLogger(logr.Discard()))...)
	require.NoError(t, err)

	env := &testEnv{
		platform: platform,
		clock:    testingclock.NewFakeClock(time.Unix(0, 0)),
		observer: &recordingObserver{},
	}
	env.engine, err = dvfs.NewEngine(cfg, platform, platform,
		dvfs.WithClock(env.clock),
		dvfs.WithLogger(logr.Discard()),
		dvfs.WithObserver(env.observer),
	)
	require.NoError(t, err)
	require.NoError(t, env.engine.Sync())
	platform.ResetTrace()

	return env
}

func lastIndexOf(trace []sim.Op, match func(sim.Op) bool) int {
	idx := -1
	for i, op := range trace {
		if match(op) {
			idx = i
		}
	}
	return idx
}

func firstIndexOf(trace []sim.Op, match func(sim.Op) bool) int {
	for i, op := range trace {
		if match(op) {
			return i
		}
	}
	return -1
}

func TestEngine_LowerFrequencyBeforeRail(t *testing.T) {
	env := newTestEnv(t, testutils.ThreePointConfig(),
		sim.WithBootIndex(testutils.ClusterB, 0), sim.WithBootIndex(testutils.ClusterCCI, 0))

	applied, err := env.engine.Request(testutils.ClusterB, 600000, dvfs.Floor)
	require.NoError(t, err)

	assert.Equal(t, 2, applied.Index)
	assert.Equal(t, uint32(600000), applied.FrequencyKHz)
	assert.Equal(t, uint32(600000), env.platform.Frequency(testutils.ClusterB))
	assert.Equal(t, dvfs.RailPair{CoreUnits: 80000, TrackingUnits: 100000}, env.platform.Rails(testutils.ClusterB))
	assert.Empty(t, env.platform.Violations())

	trace := env.platform.Trace()
	isB := func(kind sim.OpKind) func(sim.Op) bool {
		return func(op sim.Op) bool { return op.Cluster == testutils.ClusterB && op.Kind == kind }
	}
	multiplier := lastIndexOf(trace, isB(sim.OpWriteMultiplier))
	firstRail := firstIndexOf(trace, isB(sim.OpWriteRail))
	require.NotEqual(t, -1, multiplier)
	require.NotEqual(t, -1, firstRail)
	assert.Greater(t, firstRail, multiplier, "rail lowered before the frequency change")
	assert.Less(t, firstIndexOf(trace, isB(sim.OpClockGating)), multiplier, "gating must engage first")
	assert.Positive(t, env.clock.Since(time.Unix(0, 0)))
}

func TestEngine_RaiseRailBeforeFrequency(t *testing.T) {
	env := newTestEnv(t, testutils.ThreePointConfig())

	_, err := env.engine.Request(testutils.ClusterB, 1400000, dvfs.Ceiling)
	require.NoError(t, err)

	assert.Equal(t, uint32(1400000), env.platform.Frequency(testutils.ClusterB))
	assert.Equal(t, dvfs.RailPair{CoreUnits: 110000, TrackingUnits: 120000}, env.platform.Rails(testutils.ClusterB))
	assert.Empty(t, env.platform.Violations())

	trace := env.platform.Trace()
	lastRail := lastIndexOf(trace, func(op sim.Op) bool {
		return op.Cluster == testutils.ClusterB && op.Kind == sim.OpWriteRail
	})
	multiplier := firstIndexOf(trace, func(op sim.Op) bool {
		return op.Cluster == testutils.ClusterB && op.Kind == sim.OpWriteMultiplier
	})
	assert.Less(t, lastRail, multiplier, "frequency raised before the rail")

	status, err := env.engine.Status(testutils.ClusterCCI)
	require.NoError(t, err)
	assert.Equal(t, 0, status.Index)
}

func TestEngine_RequestIsIdempotent(t *testing.T) {
	env := newTestEnv(t, testutils.ExampleConfig())

	first, err := env.engine.Request(testutils.ClusterL, 1200000, dvfs.Floor)
	require.NoError(t, err)
	env.platform.ResetTrace()

	second, err := env.engine.Request(testutils.ClusterL, 1200000, dvfs.Floor)
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Empty(t, env.platform.Writes())
}

func TestEngine_RejectsBeforeTouchingHardware(t *testing.T) {
	tcases := []struct {
		testCase string
		prepare  func(*testEnv)
		cluster  dvfs.ClusterID
		expErr   error
	}{
		{
			testCase: "offline cluster",
			prepare: func(env *testEnv) {
				require.NoError(t, env.engine.OnClusterOffline(testutils.ClusterB))
			},
			cluster: testutils.ClusterB,
			expErr:  dvfs.ErrInvalidRequest,
		},
		{
			testCase: "disabled cluster",
			prepare: func(env *testEnv) {
				require.NoError(t, env.engine.SetEnabled(testutils.ClusterL, false))
			},
			cluster: testutils.ClusterL,
			expErr:  dvfs.ErrPolicyConflict,
		},
		{
			testCase: "companion targeted directly",
			prepare:  func(env *testEnv) {},
			cluster:  testutils.ClusterCCI,
			expErr:   dvfs.ErrInvalidRequest,
		},
		{
			testCase: "unknown cluster",
			prepare:  func(env *testEnv) {},
			cluster:  "GPU",
			expErr:   dvfs.ErrInvalidRequest,
		},
	}

	for _, tc := range tcases {
		t.Run(tc.testCase, func(t *testing.T) {
			env := newTestEnv(t, testutils.ExampleConfig())
			tc.prepare(env)
			env.platform.ResetTrace()

			_, err := env.engine.Request(tc.cluster, 800000, dvfs.Floor)

			assert.ErrorIs(t, err, tc.expErr)
			assert.Empty(t, env.platform.Trace())
		})
	}
}

func TestEngine_SearchFallback(t *testing.T) {
	tcases := []struct {
		testCase string
		fallback dvfs.SearchFallback
		expIdx   int
		expErr   error
	}{
		{"keep current", dvfs.FallbackKeepCurrent, 1, nil},
		{"nearest", dvfs.FallbackNearest, 3, nil},
		{"reject", dvfs.FallbackReject, 1, dvfs.ErrInvalidRequest},
	}

	for _, tc := range tcases {
		t.Run(tc.testCase, func(t *testing.T) {
			cfg := testutils.ExampleConfig()
			cfg.SearchFallback = tc.fallback
			env := newTestEnv(t, cfg)
			_, err := env.engine.Request(testutils.ClusterL, 1200000, dvfs.Floor)
			require.NoError(t, err)

			// nothing in L runs at or below 100 MHz
			_, err = env.engine.Request(testutils.ClusterL, 100000, dvfs.Floor)
			if tc.expErr != nil {
				assert.ErrorIs(t, err, tc.expErr)
			} else {
				assert.NoError(t, err)
			}

			status, err := env.engine.Status(testutils.ClusterL)
			require.NoError(t, err)
			assert.Equal(t, tc.expIdx, status.Index)
		})
	}
}

func TestEngine_CompanionConsistency(t *testing.T) {
	env := newTestEnv(t, testutils.ExampleConfig())
	rng := rand.New(rand.NewSource(7))
	feeders := []dvfs.ClusterID{testutils.ClusterLL, testutils.ClusterL, testutils.ClusterB}

	for i := 0; i < 300; i++ {
		id := feeders[rng.Intn(len(feeders))]
		target := uint32(300000 + rng.Intn(1900000))
		rel := dvfs.Relation(rng.Intn(2))

		_, err := env.engine.Request(id, target, rel)
		require.NoError(t, err)
		require.Empty(t, env.platform.Violations())

		companionVolt := env.engine.CompanionVoltage()
		for _, status := range env.engine.Snapshot() {
			assert.Equal(t, status.FrequencyKHz, env.platform.Frequency(status.ID), "cluster %s", status.ID)
			if status.Role == dvfs.RoleIndependent && status.Available {
				assert.GreaterOrEqual(t, companionVolt, status.VoltageUnits, "cluster %s", status.ID)
			}
			assert.GreaterOrEqual(t, env.platform.Rails(status.ID).CoreUnits, status.VoltageUnits,
				"rail of %s below its operating point", status.ID)
		}
		assert.GreaterOrEqual(t, env.platform.Rails(testutils.ClusterCCI).CoreUnits, companionVolt)
	}
}

func TestEngine_Turbo(t *testing.T) {
	env := newTestEnv(t, testutils.ExampleConfig())

	applied, err := env.engine.Request(testutils.ClusterB, 2000000, dvfs.Floor)
	require.NoError(t, err)
	assert.Equal(t, 1, applied.Index, "turbo point reachable without turbo")

	require.NoError(t, env.engine.SetTurbo(testutils.ClusterB, true))
	applied, err = env.engine.Request(testutils.ClusterB, 2000000, dvfs.Floor)
	require.NoError(t, err)
	assert.Equal(t, 0, applied.Index)

	require.NoError(t, env.engine.SetTurbo(testutils.ClusterB, false))
	status, err := env.engine.Status(testutils.ClusterB)
	require.NoError(t, err)
	assert.Equal(t, 1, status.Index)
	assert.Equal(t, uint32(1800000), env.platform.Frequency(testutils.ClusterB))
	assert.Empty(t, env.platform.Violations())
}

func TestEngine_PortFailure(t *testing.T) {
	env := newTestEnv(t, testutils.ExampleConfig())
	env.platform.InjectFault(sim.Fault{
		Kind:    sim.OpWriteMultiplier,
		Cluster: testutils.ClusterL,
		Err:     errors.New("pll did not lock"),
	})

	_, err := env.engine.Request(testutils.ClusterL, 1500000, dvfs.Floor)
	assert.ErrorIs(t, err, dvfs.ErrPortIO)

	status, err := env.engine.Status(testutils.ClusterL)
	require.NoError(t, err)
	assert.Equal(t, 3, status.Index, "index committed despite failure")

	// the fault was one-shot, the engine keeps serving
	applied, err := env.engine.Request(testutils.ClusterL, 1500000, dvfs.Floor)
	require.NoError(t, err)
	assert.Equal(t, 0, applied.Index)

	last := env.observer.records[len(env.observer.records)-1]
	assert.NoError(t, last.Err)
	assert.Equal(t, "request", last.Cause)
	failed := env.observer.records[len(env.observer.records)-2]
	assert.ErrorIs(t, failed.Err, dvfs.ErrPortIO)
}

func TestEngine_InvariantViolationHalts(t *testing.T) {
	var fatal error
	t.Cleanup(dvfs.SetFatalFunc(func(err error) { fatal = err }))

	env := newTestEnv(t, testutils.ExampleConfig())
	env.platform.SetRails(testutils.ClusterB, dvfs.RailPair{CoreUnits: 80000, TrackingUnits: 115000})
	env.platform.ResetTrace()

	_, err := env.engine.Request(testutils.ClusterB, 1400000, dvfs.Floor)

	var violation *dvfs.InvariantViolation
	require.ErrorAs(t, err, &violation)
	assert.Equal(t, violation, fatal)
	assert.Empty(t, env.platform.Writes())

	_, err = env.engine.Request(testutils.ClusterL, 800000, dvfs.Floor)
	assert.ErrorIs(t, err, dvfs.ErrEngineFaulted)
	assert.ErrorIs(t, env.engine.OnClusterOffline(testutils.ClusterL), dvfs.ErrEngineFaulted)
}

func TestEngine_InvariantViolationPanicsByDefault(t *testing.T) {
	env := newTestEnv(t, testutils.ExampleConfig())
	env.platform.SetRails(testutils.ClusterB, dvfs.RailPair{CoreUnits: 80000, TrackingUnits: 115000})

	assert.Panics(t, func() {
		_, _ = env.engine.Request(testutils.ClusterB, 1400000, dvfs.Floor)
	})
}

func TestEngine_Sync(t *testing.T) {
	cfg := testutils.ThreePointConfig()
	rails := &testutils.MockRailPort{}
	clocks := &testutils.MockClockPort{}
	clocks.On("ReadFrequency", testutils.ClusterB).Return(uint32(1300000), nil)
	clocks.On("ReadFrequency", testutils.ClusterCCI).Return(uint32(900000), nil)

	engine, err := dvfs.NewEngine(cfg, rails, clocks, dvfs.WithLogger(logr.Discard()))
	require.NoError(t, err)
	require.NoError(t, engine.Sync())

	got := engine.Snapshot()
	want := []dvfs.ClusterStatus{
		{
			ID: testutils.ClusterB, Role: dvfs.RoleIndependent, RailDomain: "B", Index: 0,
			FrequencyKHz: 1400000, VoltageUnits: 110000, Available: true, Enabled: true, Turbo: true,
			Floor: dvfs.NoLimit, Ceiling: dvfs.NoLimit, TableSize: 3,
		},
		{
			// above every point, parked at the lowest
			ID: testutils.ClusterCCI, Role: dvfs.RoleCompanion, RailDomain: "CCI", Index: 2,
			FrequencyKHz: 300000, VoltageUnits: 80000, Available: true, Enabled: true, Turbo: true,
			Floor: dvfs.NoLimit, Ceiling: dvfs.NoLimit, TableSize: 3,
		},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("snapshot mismatch (-want +got):\n%s", diff)
	}
	rails.AssertNotCalled(t, "WriteRail", mock.Anything, mock.Anything, mock.Anything)
}

func TestEngine_SyncPortFailure(t *testing.T) {
	clocks := &testutils.MockClockPort{}
	clocks.On("ReadFrequency", testutils.ClusterB).Return(uint32(0), errors.New("bus error"))

	engine, err := dvfs.NewEngine(testutils.ThreePointConfig(), &testutils.MockRailPort{}, clocks,
		dvfs.WithLogger(logr.Discard()))
	require.NoError(t, err)

	assert.ErrorIs(t, engine.Sync(), dvfs.ErrPortIO)
}

func TestNewEngine_InvalidConfig(t *testing.T) {
	cfg := testutils.ExampleConfig()
	cfg.Clusters[3].Feeders = append(cfg.Clusters[3].Feeders, "GPU")
	cfg.Clusters[2].Table[0].VoltageUnits = 130000
	cfg.CompanionStepKHz = 0

	_, err := dvfs.NewEngine(cfg, &testutils.MockRailPort{}, &testutils.MockClockPort{})

	require.Error(t, err)
	assert.ErrorContains(t, err, "feeder GPU")
	assert.ErrorContains(t, err, "outside")
	assert.ErrorContains(t, err, "companion step")
}
