package metrics

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-logr/logr"

	"github.com/AMDEPYC/cluster-dvfs/internal/dvfs"
)

const (
	defaultSampleInterval time.Duration = 1 * time.Second
)

// statusSource is the part of the engine the client samples.
type statusSource interface {
	Snapshot() []dvfs.ClusterStatus
	CompanionVoltage() uint32
}

// EngineClient is a thread safe cache of engine cluster state. Transitions hold the engine lock for the
// duration of rail settling, so collectors read the cached samples instead of querying the engine.
// Single instance should be created using constructor and passed as a pointer.
type EngineClient struct {
	source   statusSource
	interval time.Duration
	log      logr.Logger

	workerCancel    context.CancelFunc
	workerWaitGroup sync.WaitGroup
	samples         sync.Map
	companionVolt   sync.Map
}

type sampleResult struct {
	status dvfs.ClusterStatus
	err    error
}

// NewEngineClient starts a worker goroutine that samples the engine every interval.
// A non-positive interval selects the default of one second.
func NewEngineClient(log logr.Logger, source statusSource, clusters []dvfs.ClusterID, interval time.Duration) *EngineClient {
	if interval <= 0 {
		interval = defaultSampleInterval
	}
	ctx, cancel := context.WithCancel(context.Background())
	client := &EngineClient{
		source:       source,
		interval:     interval,
		log:          log,
		workerCancel: cancel,
	}

	for _, id := range clusters {
		client.samples.Store(id, sampleResult{err: ErrNotYetSampled})
	}

	client.workerWaitGroup.Add(1)
	go client.sampleWorker(ctx)
	client.log.V(4).Info("New EngineClient created", "interval", interval)

	return client
}

func (c *EngineClient) Close() {
	c.log.V(4).Info("Closing engine sampling worker goroutine")
	c.workerCancel()
	c.workerWaitGroup.Wait()
}

// Sample takes an engine snapshot immediately.
func (c *EngineClient) Sample() {
	seen := map[dvfs.ClusterID]struct{}{}
	for _, status := range c.source.Snapshot() {
		c.samples.Store(status.ID, sampleResult{status: status})
		seen[status.ID] = struct{}{}
	}
	c.companionVolt.Store(struct{}{}, c.source.CompanionVoltage())

	c.samples.Range(func(key, value any) bool {
		if _, ok := seen[key.(dvfs.ClusterID)]; !ok {
			c.samples.Store(key, sampleResult{err: ErrMetricMissing})
		}
		return true
	})
}

func (c *EngineClient) sampleWorker(ctx context.Context) {
	defer c.workerWaitGroup.Done()
	logger := c.log.WithValues("worker", "engine sampling")

	for {
		select {
		case <-ctx.Done():
			logger.V(5).Info("cancellation signal received, exiting work")
			return
		case <-time.After(c.interval):
			c.Sample()
		}
	}
}

func (c *EngineClient) load(id dvfs.ClusterID) (dvfs.ClusterStatus, error) {
	result, ok := c.samples.Load(id)
	if !ok {
		c.log.V(5).Info(fmt.Sprintf("no samples for cluster, err: %v", ErrMetricMissing), clusterLogKey, id)
		return dvfs.ClusterStatus{}, ErrMetricMissing
	}
	r := result.(sampleResult)
	return r.status, r.err
}

func (c *EngineClient) GetFrequencyKHz(id dvfs.ClusterID) (uint32, error) {
	status, err := c.load(id)
	return status.FrequencyKHz, err
}

func (c *EngineClient) GetVoltageUnits(id dvfs.ClusterID) (uint32, error) {
	status, err := c.load(id)
	return status.VoltageUnits, err
}

func (c *EngineClient) GetOperatingPointIndex(id dvfs.ClusterID) (int, error) {
	status, err := c.load(id)
	return status.Index, err
}

// GetAvailable returns 1 for an online cluster and 0 otherwise.
func (c *EngineClient) GetAvailable(id dvfs.ClusterID) (uint8, error) {
	status, err := c.load(id)
	if err != nil || !status.Available {
		return 0, err
	}
	return 1, nil
}

func (c *EngineClient) GetCompanionVoltageUnits() (uint32, error) {
	v, ok := c.companionVolt.Load(struct{}{})
	if !ok {
		return 0, ErrNotYetSampled
	}
	return v.(uint32), nil
}
