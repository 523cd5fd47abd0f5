package scaling

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-logr/logr"
	"k8s.io/utils/clock"

	"github.com/AMDEPYC/cluster-dvfs/internal/dvfs"
)

var (
	testHookStopLoop func() bool
)

type ClusterScalingWorker interface {
	UpdateOpts(opts *ClusterScalingOpts)
	Stop()
}

type clusterScalingWorkerImpl struct {
	clusterID  dvfs.ClusterID
	opts       atomic.Pointer[ClusterScalingOpts]
	cancelFunc func()
	waitGroup  sync.WaitGroup
	updater    ClusterScalingUpdater
}

func NewClusterScalingWorker(
	clusterID dvfs.ClusterID,
	engine Requester,
	load LoadSource,
	opts *ClusterScalingOpts,
	logger logr.Logger,
) ClusterScalingWorker {
	ctx, cancelFunc := context.WithCancel(context.Background())

	worker := &clusterScalingWorkerImpl{
		clusterID:  clusterID,
		cancelFunc: cancelFunc,
		waitGroup:  sync.WaitGroup{},
	}

	worker.opts.Store(opts)
	worker.updater = NewClusterScalingUpdater(engine, load, clock.RealClock{}, logger.WithValues("cluster", clusterID))
	worker.waitGroup.Add(1)

	go worker.runLoop(ctx)

	return worker
}

func (w *clusterScalingWorkerImpl) UpdateOpts(opts *ClusterScalingOpts) {
	w.opts.Store(opts)
}

func (w *clusterScalingWorkerImpl) Stop() {
	w.cancelFunc()
	w.waitGroup.Wait()
}

func (w *clusterScalingWorkerImpl) runLoop(ctx context.Context) {
	defer w.waitGroup.Done()

	for {
		if testHookStopLoop != nil {
			if testHookStopLoop() {
				return
			}
		}

		opts := w.opts.Load()
		select {
		case <-ctx.Done():
			return
		case <-time.After(opts.SamplePeriod):
			w.updater.Update(opts)
		}
	}
}
