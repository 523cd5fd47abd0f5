package hotplug

import (
	"errors"
	"time"

	"github.com/go-logr/logr"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	testingclock "k8s.io/utils/clock/testing"
	"k8s.io/utils/cpuset"
	ctrl "sigs.k8s.io/controller-runtime"

	"github.com/AMDEPYC/cluster-dvfs/internal/dvfs"
	"github.com/AMDEPYC/cluster-dvfs/internal/platform/sim"
	"github.com/AMDEPYC/cluster-dvfs/pkg/testutils"
)

func exampleCPUs() map[dvfs.ClusterID]cpuset.CPUSet {
	return map[dvfs.ClusterID]cpuset.CPUSet{
		testutils.ClusterLL: cpuset.New(0, 1, 2, 3),
		testutils.ClusterL:  cpuset.New(4, 5, 6, 7),
		testutils.ClusterB:  cpuset.New(8, 9),
	}
}

var _ = Describe("Tracker", func() {
	var (
		engine  *testutils.MockEngine
		tracker *Tracker
	)

	BeforeEach(func() {
		engine = &testutils.MockEngine{}
		tracker = NewTracker(engine, exampleCPUs(), cpuset.New(0, 1, 2, 3, 4, 5, 6, 7, 8, 9), ctrl.Log.WithName("testing"))
	})

	It("does not notify while a cluster keeps an online cpu", func() {
		Expect(tracker.CPUsOffline(cpuset.New(0, 1, 2))).To(Succeed())
		Expect(tracker.ClusterOnline(testutils.ClusterLL)).To(BeTrue())
		Expect(engine.Calls).To(BeEmpty())
	})

	It("takes a cluster offline with its last cpu", func() {
		engine.On("OnClusterOffline", testutils.ClusterB).Return(nil)

		Expect(tracker.CPUsOffline(cpuset.New(8))).To(Succeed())
		Expect(tracker.CPUsOffline(cpuset.New(9))).To(Succeed())

		engine.AssertNumberOfCalls(GinkgoT(), "OnClusterOffline", 1)
		Expect(tracker.ClusterOnline(testutils.ClusterB)).To(BeFalse())
		Expect(tracker.Online().Equals(cpuset.New(0, 1, 2, 3, 4, 5, 6, 7))).To(BeTrue())
	})

	It("brings a cluster online with its first cpu", func() {
		engine.On("OnClusterOffline", testutils.ClusterB).Return(nil)
		engine.On("OnClusterOnline", testutils.ClusterB).Return(nil)

		Expect(tracker.CPUsOffline(cpuset.New(8, 9))).To(Succeed())
		Expect(tracker.CPUsOnline(cpuset.New(9))).To(Succeed())
		Expect(tracker.CPUsOnline(cpuset.New(8))).To(Succeed())

		engine.AssertNumberOfCalls(GinkgoT(), "OnClusterOnline", 1)
		Expect(tracker.ClusterOnline(testutils.ClusterB)).To(BeTrue())
	})

	It("notifies every affected cluster of one event in a stable order", func() {
		engine.On("OnClusterOffline", testutils.ClusterL).Return(nil)
		engine.On("OnClusterOffline", testutils.ClusterB).Return(nil)

		Expect(tracker.CPUsOffline(cpuset.New(4, 5, 6, 7, 8, 9))).To(Succeed())

		Expect(engine.Calls).To(HaveLen(2))
		Expect(engine.Calls[0].Arguments.Get(0)).To(Equal(testutils.ClusterB))
		Expect(engine.Calls[1].Arguments.Get(0)).To(Equal(testutils.ClusterL))
	})

	It("ignores cpus outside every cluster", func() {
		Expect(tracker.CPUsOffline(cpuset.New(42))).To(Succeed())
		Expect(tracker.CPUsOnline(cpuset.New(42))).To(Succeed())
		Expect(engine.Calls).To(BeEmpty())
	})

	It("reports engine failures but still records the cpu state", func() {
		engine.On("OnClusterOffline", testutils.ClusterB).Return(dvfs.ErrPortIO)

		err := tracker.CPUsOffline(cpuset.New(8, 9))
		Expect(err).To(HaveOccurred())
		Expect(err.Error()).To(ContainSubstring("taking cluster B offline"))
		Expect(errors.Is(err, dvfs.ErrPortIO)).To(BeTrue())
		Expect(tracker.ClusterOnline(testutils.ClusterB)).To(BeFalse())
	})
})

var _ = Describe("OfflineClusters", func() {
	It("lists clusters without online cpus", func() {
		Expect(OfflineClusters(exampleCPUs(), cpuset.New(0, 9))).To(Equal([]dvfs.ClusterID{testutils.ClusterL}))
		Expect(OfflineClusters(exampleCPUs(), cpuset.New())).To(HaveLen(3))
	})
})

var _ = Describe("Tracker driving the engine", func() {
	var (
		engine   *dvfs.Engine
		platform *sim.Platform
		tracker  *Tracker
	)

	BeforeEach(func() {
		cfg := testutils.ExampleConfig()
		var err error
		platform, err = sim.New(cfg, sim.WithLogger(logr.Discard()))
		Expect(err).NotTo(HaveOccurred())
		engine, err = dvfs.NewEngine(cfg, platform, platform,
			dvfs.WithClock(testingclock.NewFakeClock(time.Unix(0, 0))),
			dvfs.WithLogger(logr.Discard()),
		)
		Expect(err).NotTo(HaveOccurred())
		Expect(engine.Sync()).To(Succeed())

		tracker = NewTracker(engine, exampleCPUs(), cpuset.New(0, 1, 2, 3, 4, 5, 6, 7, 8, 9), ctrl.Log.WithName("testing"))
	})

	It("parks an offline cluster at its slowest point and restores it", func() {
		_, err := engine.Request(testutils.ClusterL, 1200000, dvfs.Floor)
		Expect(err).NotTo(HaveOccurred())

		Expect(tracker.CPUsOffline(cpuset.New(4, 5, 6, 7))).To(Succeed())
		status, err := engine.Status(testutils.ClusterL)
		Expect(err).NotTo(HaveOccurred())
		Expect(status.Available).To(BeFalse())
		Expect(status.FrequencyKHz).To(Equal(uint32(500000)))
		Expect(platform.Frequency(testutils.ClusterL)).To(Equal(uint32(500000)))

		_, err = engine.Request(testutils.ClusterL, 1200000, dvfs.Floor)
		Expect(errors.Is(err, dvfs.ErrInvalidRequest)).To(BeTrue())

		Expect(tracker.CPUsOnline(cpuset.New(5))).To(Succeed())
		status, err = engine.Status(testutils.ClusterL)
		Expect(err).NotTo(HaveOccurred())
		Expect(status.Available).To(BeTrue())
		Expect(platform.Violations()).To(BeEmpty())
	})
})
