// Package sim provides an in-memory DVFS platform: regulators shared per rail domain, a PLL with dividers
// per cluster and a recorded trace of every port call.
package sim

import (
	"fmt"
	"slices"
	"sync"

	"github.com/go-logr/logr"
	ctrl "sigs.k8s.io/controller-runtime"

	"github.com/AMDEPYC/cluster-dvfs/internal/dvfs"
)

type OpKind string

const (
	OpReadRail        OpKind = "read-rail"
	OpWriteRail       OpKind = "write-rail"
	OpReadFrequency   OpKind = "read-frequency"
	OpWriteDivider    OpKind = "write-divider"
	OpWriteMultiplier OpKind = "write-multiplier"
	OpSelectSource    OpKind = "select-source"
	OpClockGating     OpKind = "clock-gating"
)

// Op is one recorded port call.
type Op struct {
	Kind    OpKind
	Cluster dvfs.ClusterID
	Rail    dvfs.RailKind
	Divider dvfs.DividerKind
	Source  dvfs.ClockSource
	Enable  bool
	Value   uint32
}

func (o Op) IsWrite() bool {
	return o.Kind != OpReadRail && o.Kind != OpReadFrequency
}

// Fault fails the Skip+1-th port call matching Kind and Cluster with Err.
type Fault struct {
	Kind    OpKind
	Cluster dvfs.ClusterID
	Skip    int
	Err     error
}

// Violation is a rail pair written to the simulated regulators that breaks the constraints.
type Violation struct {
	Domain string
	Pair   dvfs.RailPair
	Err    error
}

type clockState struct {
	source       dvfs.ClockSource
	vcoKHz       uint32
	post         uint32
	div          uint32
	gated        bool
	referenceKHz uint32
}

func (c *clockState) frequency() uint32 {
	if c.source == dvfs.SourceReference {
		return c.referenceKHz
	}
	return c.vcoKHz / max(c.post, 1) / max(c.div, 1)
}

type Option func(*Platform)

// WithBootIndex starts a cluster at the given table index instead of its lowest point.
func WithBootIndex(id dvfs.ClusterID, idx int) Option {
	return func(p *Platform) { p.bootIndex[id] = idx }
}

// WithReferenceClock sets the frequency reported while a cluster runs from the reference clock.
func WithReferenceClock(khz uint32) Option {
	return func(p *Platform) { p.referenceKHz = khz }
}

func WithLogger(logger logr.Logger) Option {
	return func(p *Platform) { p.logger = logger }
}

type Platform struct {
	mu sync.Mutex

	constraints dvfs.RailConstraints
	rails       map[string]*dvfs.RailPair
	domainOf    map[dvfs.ClusterID]string
	clocks      map[dvfs.ClusterID]*clockState

	bootIndex    map[dvfs.ClusterID]int
	referenceKHz uint32

	trace      []Op
	faults     []Fault
	violations []Violation
	logger     logr.Logger
}

var _ dvfs.RailPort = &Platform{}
var _ dvfs.ClockPort = &Platform{}

// New builds a platform matching the engine configuration. Every rail domain boots at the highest voltage
// its members need at their boot points.
func New(cfg dvfs.Config, opts ...Option) (*Platform, error) {
	p := &Platform{
		constraints:  cfg.Rails,
		rails:        map[string]*dvfs.RailPair{},
		domainOf:     map[dvfs.ClusterID]string{},
		clocks:       map[dvfs.ClusterID]*clockState{},
		bootIndex:    map[dvfs.ClusterID]int{},
		referenceKHz: 26000,
		logger:       ctrl.Log.WithName("sim-platform"),
	}
	for _, opt := range opts {
		opt(p)
	}

	for _, cl := range cfg.Clusters {
		if len(cl.Table) == 0 {
			return nil, fmt.Errorf("cluster %s has no operating points", cl.ID)
		}
		idx, ok := p.bootIndex[cl.ID]
		if !ok {
			idx = cl.Table.LowestIndex()
		}
		if idx < 0 || idx >= len(cl.Table) {
			return nil, fmt.Errorf("boot index %d out of range for cluster %s", idx, cl.ID)
		}
		point := cl.Table[idx]

		domain := cl.RailDomain
		if domain == "" {
			domain = string(cl.ID)
		}
		p.domainOf[cl.ID] = domain

		rail, ok := p.rails[domain]
		if !ok {
			rail = &dvfs.RailPair{}
			p.rails[domain] = rail
		}
		rail.CoreUnits = max(rail.CoreUnits, point.VoltageUnits)
		rail.TrackingUnits = cfg.Rails.TrackingFor(rail.CoreUnits)

		p.clocks[cl.ID] = &clockState{
			source:       dvfs.SourcePLL,
			vcoKHz:       point.MultiplierKHz(),
			post:         point.Dividers.PostDivider,
			div:          point.Dividers.ClockDivider,
			referenceKHz: p.referenceKHz,
		}
	}

	return p, nil
}

func (p *Platform) ReadRail(id dvfs.ClusterID, kind dvfs.RailKind) (uint32, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	rail, err := p.rail(id)
	if err != nil {
		return 0, err
	}
	if err := p.record(Op{Kind: OpReadRail, Cluster: id, Rail: kind}); err != nil {
		return 0, err
	}
	if kind == dvfs.RailTracking {
		return rail.TrackingUnits, nil
	}
	return rail.CoreUnits, nil
}

func (p *Platform) WriteRail(id dvfs.ClusterID, kind dvfs.RailKind, units uint32) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	rail, err := p.rail(id)
	if err != nil {
		return err
	}
	if err := p.record(Op{Kind: OpWriteRail, Cluster: id, Rail: kind, Value: units}); err != nil {
		return err
	}

	if kind == dvfs.RailTracking {
		rail.TrackingUnits = units
	} else {
		rail.CoreUnits = units
	}

	if err := p.constraints.Check(*rail); err != nil {
		p.logger.Error(err, "rail invariant broken", "cluster", id, "domain", p.domainOf[id])
		p.violations = append(p.violations, Violation{Domain: p.domainOf[id], Pair: *rail, Err: err})
	}
	return nil
}

func (p *Platform) ReadFrequency(id dvfs.ClusterID) (uint32, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	clk, err := p.clock(id)
	if err != nil {
		return 0, err
	}
	if err := p.record(Op{Kind: OpReadFrequency, Cluster: id}); err != nil {
		return 0, err
	}
	return clk.frequency(), nil
}

func (p *Platform) WriteDivider(id dvfs.ClusterID, kind dvfs.DividerKind, value uint32) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	clk, err := p.clock(id)
	if err != nil {
		return err
	}
	if value == 0 {
		return fmt.Errorf("zero %s for cluster %s", kind, id)
	}
	if err := p.record(Op{Kind: OpWriteDivider, Cluster: id, Divider: kind, Value: value}); err != nil {
		return err
	}
	if kind == dvfs.PostDivider {
		clk.post = value
	} else {
		clk.div = value
	}
	return nil
}

func (p *Platform) WriteMultiplier(id dvfs.ClusterID, vcoKHz uint32) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	clk, err := p.clock(id)
	if err != nil {
		return err
	}
	if err := p.record(Op{Kind: OpWriteMultiplier, Cluster: id, Value: vcoKHz}); err != nil {
		return err
	}
	clk.vcoKHz = vcoKHz
	return nil
}

func (p *Platform) SelectClockSource(id dvfs.ClusterID, src dvfs.ClockSource) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	clk, err := p.clock(id)
	if err != nil {
		return err
	}
	if err := p.record(Op{Kind: OpSelectSource, Cluster: id, Source: src}); err != nil {
		return err
	}
	clk.source = src
	return nil
}

func (p *Platform) NotifyClockGating(id dvfs.ClusterID, enable bool) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	clk, err := p.clock(id)
	if err != nil {
		return err
	}
	if err := p.record(Op{Kind: OpClockGating, Cluster: id, Enable: enable}); err != nil {
		return err
	}
	clk.gated = enable
	return nil
}

func (p *Platform) rail(id dvfs.ClusterID) (*dvfs.RailPair, error) {
	domain, ok := p.domainOf[id]
	if !ok {
		return nil, fmt.Errorf("unknown cluster %s", id)
	}
	return p.rails[domain], nil
}

func (p *Platform) clock(id dvfs.ClusterID) (*clockState, error) {
	clk, ok := p.clocks[id]
	if !ok {
		return nil, fmt.Errorf("unknown cluster %s", id)
	}
	return clk, nil
}

// record appends the op to the trace unless a fault is armed for it.
func (p *Platform) record(op Op) error {
	for i := range p.faults {
		f := &p.faults[i]
		if f.Kind != op.Kind || f.Cluster != op.Cluster {
			continue
		}
		if f.Skip > 0 {
			f.Skip--
			continue
		}
		err := f.Err
		p.faults = slices.Delete(p.faults, i, i+1)
		return err
	}
	p.trace = append(p.trace, op)
	return nil
}

// InjectFault arms a one-shot failure.
func (p *Platform) InjectFault(f Fault) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.faults = append(p.faults, f)
}

func (p *Platform) Trace() []Op {
	p.mu.Lock()
	defer p.mu.Unlock()
	return slices.Clone(p.trace)
}

// Writes returns the recorded ops that changed hardware state.
func (p *Platform) Writes() []Op {
	p.mu.Lock()
	defer p.mu.Unlock()

	var out []Op
	for _, op := range p.trace {
		if op.IsWrite() {
			out = append(out, op)
		}
	}
	return out
}

func (p *Platform) ResetTrace() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.trace = nil
}

func (p *Platform) Violations() []Violation {
	p.mu.Lock()
	defer p.mu.Unlock()
	return slices.Clone(p.violations)
}

// Rails returns the current regulator pair feeding a cluster.
func (p *Platform) Rails(id dvfs.ClusterID) dvfs.RailPair {
	p.mu.Lock()
	defer p.mu.Unlock()

	rail, err := p.rail(id)
	if err != nil {
		return dvfs.RailPair{}
	}
	return *rail
}

// Frequency returns the clock a cluster runs at without recording a port call.
func (p *Platform) Frequency(id dvfs.ClusterID) uint32 {
	p.mu.Lock()
	defer p.mu.Unlock()

	clk, err := p.clock(id)
	if err != nil {
		return 0
	}
	return clk.frequency()
}

// SetRails overrides a rail domain, bypassing the invariant monitor.
func (p *Platform) SetRails(id dvfs.ClusterID, pair dvfs.RailPair) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if rail, err := p.rail(id); err == nil {
		*rail = pair
	}
}
