package sim

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	testingclock "k8s.io/utils/clock/testing"

	"github.com/AMDEPYC/cluster-dvfs/internal/dvfs"
	"github.com/AMDEPYC/cluster-dvfs/pkg/testutils"
)

func TestLoadGenerator_Busyness(t *testing.T) {
	start := time.Unix(1000, 0)
	clk := testingclock.NewFakePassiveClock(start)
	gen := NewLoadGenerator(clk, map[dvfs.ClusterID]LoadProfile{
		testutils.ClusterB:  {Base: 50, Amplitude: 20, Period: 4 * time.Second},
		testutils.ClusterL:  {Base: 90, Amplitude: 30, Period: 4 * time.Second},
		testutils.ClusterLL: {Base: 40},
	})

	tcases := []struct {
		testCase string
		elapsed  time.Duration
		cluster  dvfs.ClusterID
		expected int
	}{
		{testCase: "start of period", elapsed: 0, cluster: testutils.ClusterB, expected: 50},
		{testCase: "peak", elapsed: time.Second, cluster: testutils.ClusterB, expected: 70},
		{testCase: "trough", elapsed: 3 * time.Second, cluster: testutils.ClusterB, expected: 30},
		{testCase: "next period", elapsed: 5 * time.Second, cluster: testutils.ClusterB, expected: 70},
		{testCase: "clamped to 100", elapsed: time.Second, cluster: testutils.ClusterL, expected: 100},
		{testCase: "flat profile", elapsed: 3 * time.Second, cluster: testutils.ClusterLL, expected: 40},
	}

	for _, tc := range tcases {
		t.Run(tc.testCase, func(t *testing.T) {
			clk.SetTime(start.Add(tc.elapsed))
			busyness, err := gen.Busyness(tc.cluster)
			require.NoError(t, err)
			assert.Equal(t, tc.expected, busyness)
		})
	}
}

func TestLoadGenerator_Profiles(t *testing.T) {
	gen := NewLoadGenerator(testingclock.NewFakePassiveClock(time.Now()), map[dvfs.ClusterID]LoadProfile{})

	_, err := gen.Busyness(testutils.ClusterB)
	assert.ErrorContains(t, err, "no load profile for cluster B")

	gen.SetProfile(testutils.ClusterB, LoadProfile{Base: 120})
	busyness, err := gen.Busyness(testutils.ClusterB)
	require.NoError(t, err)
	assert.Equal(t, 100, busyness)
}
