package hotplug

import (
	"fmt"
	"slices"
	"sync"

	"github.com/go-logr/logr"
	utilerrors "k8s.io/apimachinery/pkg/util/errors"
	"k8s.io/utils/cpuset"

	"github.com/AMDEPYC/cluster-dvfs/internal/dvfs"
)

// Notifier receives cluster level hot-plug transitions.
type Notifier interface {
	OnClusterOnline(id dvfs.ClusterID) error
	OnClusterOffline(id dvfs.ClusterID) error
}

// Tracker turns CPU hot-plug events into cluster events. A cluster comes online with its first CPU and goes
// offline with its last one.
type Tracker struct {
	mu       sync.Mutex
	notifier Notifier
	clusters map[dvfs.ClusterID]cpuset.CPUSet
	order    []dvfs.ClusterID
	online   cpuset.CPUSet
	logger   logr.Logger
}

func NewTracker(notifier Notifier, clusters map[dvfs.ClusterID]cpuset.CPUSet, online cpuset.CPUSet, logger logr.Logger) *Tracker {
	order := make([]dvfs.ClusterID, 0, len(clusters))
	for id := range clusters {
		order = append(order, id)
	}
	slices.Sort(order)

	return &Tracker{
		notifier: notifier,
		clusters: clusters,
		order:    order,
		online:   online,
		logger:   logger,
	}
}

// OfflineClusters lists the clusters without any CPU in online. The agent marks them offline in the engine
// configuration before the engine starts.
func OfflineClusters(clusters map[dvfs.ClusterID]cpuset.CPUSet, online cpuset.CPUSet) []dvfs.ClusterID {
	var out []dvfs.ClusterID
	for id, cpus := range clusters {
		if cpus.Intersection(online).IsEmpty() {
			out = append(out, id)
		}
	}
	slices.Sort(out)
	return out
}

// CPUsOnline marks cpus online and notifies every cluster that gained its first online CPU.
func (t *Tracker) CPUsOnline(cpus cpuset.CPUSet) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.warnUnknown(cpus)
	return t.apply(t.online.Union(cpus))
}

// CPUsOffline marks cpus offline and notifies every cluster that lost its last online CPU.
func (t *Tracker) CPUsOffline(cpus cpuset.CPUSet) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.warnUnknown(cpus)
	return t.apply(t.online.Difference(cpus))
}

func (t *Tracker) apply(next cpuset.CPUSet) error {
	var errs []error
	for _, id := range t.order {
		cpus := t.clusters[id]
		wasOnline := !cpus.Intersection(t.online).IsEmpty()
		isOnline := !cpus.Intersection(next).IsEmpty()

		switch {
		case !wasOnline && isOnline:
			t.logger.V(4).Info("first cpu online", "cluster", id, "cpus", cpus.Intersection(next).String())
			if err := t.notifier.OnClusterOnline(id); err != nil {
				errs = append(errs, fmt.Errorf("bringing cluster %s online: %w", id, err))
			}
		case wasOnline && !isOnline:
			t.logger.V(4).Info("last cpu offline", "cluster", id)
			if err := t.notifier.OnClusterOffline(id); err != nil {
				errs = append(errs, fmt.Errorf("taking cluster %s offline: %w", id, err))
			}
		}
	}
	t.online = next
	return utilerrors.NewAggregate(errs)
}

func (t *Tracker) warnUnknown(cpus cpuset.CPUSet) {
	known := cpuset.New()
	for _, c := range t.clusters {
		known = known.Union(c)
	}
	if unknown := cpus.Difference(known); !unknown.IsEmpty() {
		t.logger.Info("cpus do not belong to any cluster", "cpus", unknown.String())
	}
}

func (t *Tracker) Online() cpuset.CPUSet {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.online.Clone()
}

// ClusterOnline reports whether any CPU of the cluster is online.
func (t *Tracker) ClusterOnline(id dvfs.ClusterID) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return !t.clusters[id].Intersection(t.online).IsEmpty()
}
