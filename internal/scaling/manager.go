package scaling

import (
	"context"
	"sync"

	"github.com/go-logr/logr"
	ctrl "sigs.k8s.io/controller-runtime"
	"sigs.k8s.io/controller-runtime/pkg/manager"

	"github.com/AMDEPYC/cluster-dvfs/internal/dvfs"
)

// Func definitions for unit testing
var (
	newClusterScalingWorkerFunc = NewClusterScalingWorker
)

type ClusterScalingManager interface {
	manager.Runnable
	UpdateConfig(optList []ClusterScalingOpts)
}

type clusterScalingManagerImpl struct {
	engine  Requester
	load    LoadSource
	workers sync.Map
	logger  logr.Logger
}

func NewClusterScalingManager(engine Requester, load LoadSource) ClusterScalingManager {
	mgr := &clusterScalingManagerImpl{
		engine: engine,
		load:   load,
		logger: ctrl.Log.WithName("ClusterScalingManager"),
	}

	return mgr
}

func (s *clusterScalingManagerImpl) Start(ctx context.Context) error {
	<-ctx.Done()
	s.stop()
	return nil
}

func (s *clusterScalingManagerImpl) stop() {
	s.logger.V(5).Info("stopping all workers")

	for _, clusterID := range s.getManagedClusterIDs() {
		worker, found := s.workers.LoadAndDelete(clusterID)
		if found {
			worker := worker.(ClusterScalingWorker)
			worker.Stop()
			s.logger.V(5).Info("worker stopped successfully", "cluster", clusterID)
		}
	}

	s.logger.V(5).Info("successfully stopped all")
}

func (s *clusterScalingManagerImpl) UpdateConfig(optsList []ClusterScalingOpts) {
	incomingClusters := map[dvfs.ClusterID]struct{}{}
	currentClusters := s.getManagedClusterIDs()

	// create or update workers as per new config
	for _, opts := range optsList {
		incomingClusters[opts.ClusterID] = struct{}{}

		worker, found := s.getClusterScalingWorker(opts.ClusterID)
		if !found {
			s.logger.V(5).Info("creating worker", "cluster", opts.ClusterID)

			s.workers.Store(
				opts.ClusterID,
				newClusterScalingWorkerFunc(
					opts.ClusterID,
					s.engine,
					s.load,
					&opts,
					s.logger,
				),
			)
		} else {
			worker.UpdateOpts(&opts)
		}
	}

	// stop workers on clusters that are no longer managed
	for _, clusterID := range currentClusters {
		if _, contains := incomingClusters[clusterID]; !contains {
			s.logger.V(5).Info("stopping worker", "cluster", clusterID)

			worker, found := s.workers.LoadAndDelete(clusterID)
			if !found {
				s.logger.V(5).Info("worker already stopped", "cluster", clusterID)
			} else {
				worker := worker.(ClusterScalingWorker)
				worker.Stop()
				s.logger.V(5).Info("worker stopped successfully", "cluster", clusterID)
			}
		}
	}
}

func (s *clusterScalingManagerImpl) getManagedClusterIDs() []dvfs.ClusterID {
	managed := make([]dvfs.ClusterID, 0)
	s.workers.Range(func(key, value any) bool {
		managed = append(managed, key.(dvfs.ClusterID))
		return true
	})

	return managed
}

func (s *clusterScalingManagerImpl) getClusterScalingWorker(clusterID dvfs.ClusterID) (ClusterScalingWorker, bool) {
	if value, found := s.workers.Load(clusterID); found {
		return value.(ClusterScalingWorker), true
	}

	return nil, false
}
