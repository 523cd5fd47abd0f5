package scaling

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/go-logr/logr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	testingclock "k8s.io/utils/clock/testing"

	"github.com/AMDEPYC/cluster-dvfs/internal/dvfs"
	"github.com/AMDEPYC/cluster-dvfs/pkg/testutils"
)

type updaterMock struct {
	mock.Mock
}

func (u *updaterMock) Update(opts *ClusterScalingOpts) {
	u.Called(opts)
}

func testOpts() *ClusterScalingOpts {
	return &ClusterScalingOpts{
		ClusterID:                  testutils.ClusterB,
		SamplePeriod:               10 * time.Millisecond,
		CooldownPeriod:             30 * time.Millisecond,
		TargetBusyness:             60,
		AllowedBusynessDifference:  5,
		AllowedFrequencyDifference: 50000,
		HWMaxFrequency:             2000000,
		HWMinFrequency:             600000,
		FallbackFreq:               FrequencyNotYetSet,
	}
}

func onlineStatus(khz uint32) dvfs.ClusterStatus {
	return dvfs.ClusterStatus{ID: testutils.ClusterB, FrequencyKHz: khz, Available: true, Enabled: true}
}

func TestClusterScalingUpdater_Update(t *testing.T) {
	tcases := []struct {
		testCase     string
		status       dvfs.ClusterStatus
		statusErr    error
		busyness     int
		busynessErr  error
		fallback     int
		expectedFreq uint32
	}{
		{
			testCase:     "Test Case 1 - busy cluster is sped up",
			status:       onlineStatus(1000000),
			busyness:     90,
			expectedFreq: 1500000,
		},
		{
			testCase:     "Test Case 2 - idle cluster is slowed down",
			status:       onlineStatus(1400000),
			busyness:     30,
			expectedFreq: 700000,
		},
		{
			testCase: "Test Case 3 - busyness within allowed difference",
			status:   onlineStatus(1400000),
			busyness: 63,
		},
		{
			testCase: "Test Case 4 - already at hardware minimum",
			status:   onlineStatus(600000),
			busyness: 20,
		},
		{
			testCase: "Test Case 5 - offline cluster is skipped",
			status:   dvfs.ClusterStatus{ID: testutils.ClusterB, FrequencyKHz: 1000000, Enabled: true},
			busyness: 100,
		},
		{
			testCase: "Test Case 6 - disabled cluster is skipped",
			status:   dvfs.ClusterStatus{ID: testutils.ClusterB, FrequencyKHz: 1000000, Available: true},
			busyness: 100,
		},
		{
			testCase:  "Test Case 7 - status error",
			statusErr: dvfs.ErrEngineFaulted,
		},
		{
			testCase:    "Test Case 8 - missing load without fallback",
			status:      onlineStatus(1000000),
			busynessErr: errors.New("no sample"),
			fallback:    FrequencyNotYetSet,
		},
		{
			testCase:     "Test Case 9 - missing load with fallback",
			status:       onlineStatus(1000000),
			busynessErr:  errors.New("no sample"),
			fallback:     1800000,
			expectedFreq: 1800000,
		},
	}

	for _, tc := range tcases {
		t.Run(tc.testCase, func(t *testing.T) {
			engine := &testutils.MockEngine{}
			load := &testutils.MockLoadSource{}
			engine.On("Status", testutils.ClusterB).Return(tc.status, tc.statusErr)
			load.On("Busyness", testutils.ClusterB).Return(tc.busyness, tc.busynessErr)
			if tc.expectedFreq != 0 {
				engine.On("Request", testutils.ClusterB, tc.expectedFreq, dvfs.Ceiling).
					Return(dvfs.AppliedOpPoint{Cluster: testutils.ClusterB, FrequencyKHz: tc.expectedFreq}, nil)
			}

			opts := testOpts()
			if tc.fallback != 0 {
				opts.FallbackFreq = tc.fallback
			}
			upd := NewClusterScalingUpdater(engine, load, testingclock.NewFakePassiveClock(time.Now()), logr.Discard())
			upd.Update(opts)

			if tc.expectedFreq != 0 {
				engine.AssertCalled(t, "Request", testutils.ClusterB, tc.expectedFreq, dvfs.Ceiling)
			} else {
				engine.AssertNotCalled(t, "Request", mock.Anything, mock.Anything, mock.Anything)
			}
		})
	}
}

func TestClusterScalingUpdater_Cooldown(t *testing.T) {
	clk := testingclock.NewFakePassiveClock(time.Now())
	engine := &testutils.MockEngine{}
	load := &testutils.MockLoadSource{}
	engine.On("Status", testutils.ClusterB).Return(onlineStatus(1000000), nil)
	load.On("Busyness", testutils.ClusterB).Return(90, nil)
	engine.On("Request", testutils.ClusterB, uint32(1500000), dvfs.Ceiling).Return(dvfs.AppliedOpPoint{}, nil)

	opts := testOpts()
	upd := NewClusterScalingUpdater(engine, load, clk, logr.Discard())

	upd.Update(opts)
	engine.AssertNumberOfCalls(t, "Request", 1)

	clk.SetTime(clk.Now().Add(opts.CooldownPeriod / 2))
	upd.Update(opts)
	engine.AssertNumberOfCalls(t, "Request", 1)

	clk.SetTime(clk.Now().Add(opts.CooldownPeriod))
	upd.Update(opts)
	engine.AssertNumberOfCalls(t, "Request", 2)
}

func TestClusterScalingUpdater_RejectedRequestKeepsNoCooldown(t *testing.T) {
	engine := &testutils.MockEngine{}
	load := &testutils.MockLoadSource{}
	engine.On("Status", testutils.ClusterB).Return(onlineStatus(1000000), nil)
	load.On("Busyness", testutils.ClusterB).Return(90, nil)
	engine.On("Request", testutils.ClusterB, uint32(1500000), dvfs.Ceiling).
		Return(dvfs.AppliedOpPoint{}, fmt.Errorf("cluster B is disabled: %w", dvfs.ErrPolicyConflict))

	upd := NewClusterScalingUpdater(engine, load, testingclock.NewFakePassiveClock(time.Now()), logr.Discard())
	upd.Update(testOpts())
	upd.Update(testOpts())

	engine.AssertNumberOfCalls(t, "Request", 2)
}

func TestClusterScalingManager_DrivesEngine(t *testing.T) {
	engine := &testutils.MockEngine{}
	load := &testutils.MockLoadSource{}
	engine.On("Status", testutils.ClusterB).Return(onlineStatus(1000000), nil)
	load.On("Busyness", testutils.ClusterB).Return(90, nil)
	requested := make(chan struct{}, 10)
	engine.On("Request", testutils.ClusterB, uint32(1500000), dvfs.Ceiling).
		Run(func(mock.Arguments) {
			select {
			case requested <- struct{}{}:
			default:
			}
		}).
		Return(dvfs.AppliedOpPoint{}, nil)

	mgr := NewClusterScalingManager(engine, load)
	mgr.UpdateConfig([]ClusterScalingOpts{*testOpts()})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error)
	go func() { done <- mgr.Start(ctx) }()

	select {
	case <-requested:
	case <-time.After(time.Second):
		t.Fatal("worker did not issue a frequency request")
	}

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("manager did not stop")
	}
	assert.Empty(t, mgr.(*clusterScalingManagerImpl).getManagedClusterIDs())
}
