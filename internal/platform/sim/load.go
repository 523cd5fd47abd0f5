package sim

import (
	"fmt"
	"math"
	"sync"
	"time"

	"k8s.io/utils/clock"

	"github.com/AMDEPYC/cluster-dvfs/internal/dvfs"
)

// LoadProfile is a periodic busyness pattern for one cluster.
type LoadProfile struct {
	// Base and Amplitude are busyness percentages.
	Base      int
	Amplitude int
	Period    time.Duration
	Phase     time.Duration
}

// LoadGenerator reports synthetic cluster busyness that follows a sine around each profile's base.
type LoadGenerator struct {
	mu       sync.RWMutex
	clock    clock.PassiveClock
	start    time.Time
	profiles map[dvfs.ClusterID]LoadProfile
}

func NewLoadGenerator(clk clock.PassiveClock, profiles map[dvfs.ClusterID]LoadProfile) *LoadGenerator {
	return &LoadGenerator{
		clock:    clk,
		start:    clk.Now(),
		profiles: profiles,
	}
}

func (g *LoadGenerator) SetProfile(id dvfs.ClusterID, profile LoadProfile) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.profiles[id] = profile
}

// Busyness returns the busyness percentage of a cluster, clamped to [0, 100].
func (g *LoadGenerator) Busyness(id dvfs.ClusterID) (int, error) {
	g.mu.RLock()
	profile, ok := g.profiles[id]
	g.mu.RUnlock()
	if !ok {
		return 0, fmt.Errorf("no load profile for cluster %s", id)
	}

	value := float64(profile.Base)
	if profile.Period > 0 {
		elapsed := g.clock.Since(g.start) + profile.Phase
		angle := 2 * math.Pi * float64(elapsed%profile.Period) / float64(profile.Period)
		value += float64(profile.Amplitude) * math.Sin(angle)
	}

	return min(max(int(math.Round(value)), 0), 100), nil
}
