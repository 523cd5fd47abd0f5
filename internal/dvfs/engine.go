package dvfs

import (
	"errors"
	"fmt"
	"sync"

	"github.com/go-logr/logr"
	"k8s.io/utils/clock"
	ctrl "sigs.k8s.io/controller-runtime"
)

// Func definitions for unit testing
var (
	fatalFunc = func(err error) { panic(err) }
)

// TransitionRecord describes one completed or failed cluster transition.
type TransitionRecord struct {
	Cluster      ClusterID
	Cause        string
	FromIndex    int
	ToIndex      int
	FromKHz      uint32
	ToKHz        uint32
	RailSteps    int
	SettleMicros uint32
	Err          error
}

type Observer interface {
	OnTransition(rec TransitionRecord)
}

// AppliedOpPoint is the result of a request: the committed point of the cluster and of the companion.
type AppliedOpPoint struct {
	Cluster      ClusterID
	Index        int
	FrequencyKHz uint32
	VoltageUnits uint32
	Companion    CompanionTarget
}

type Option func(*Engine)

func WithClock(clk clock.Clock) Option {
	return func(e *Engine) { e.clock = clk }
}

func WithLogger(logger logr.Logger) Option {
	return func(e *Engine) { e.logger = logger }
}

func WithObserver(o Observer) Option {
	return func(e *Engine) { e.observers = append(e.observers, o) }
}

// Engine owns every cluster and serialises all hardware transitions under one lock.
type Engine struct {
	mu sync.Mutex

	clusters  map[ClusterID]*cluster
	order     []ClusterID
	companion *cluster
	// companionVolt is the voltage the companion currently demands from its rail domain.
	companionVolt uint32
	domains       map[string][]*cluster

	clocks       ClockPort
	stepper      *RailStepper
	transitioner *FrequencyTransitioner
	stepKHz      uint32
	fallback     SearchFallback

	clock     clock.Clock
	logger    logr.Logger
	observers []Observer

	faulted error
}

func NewEngine(cfg Config, rails RailPort, clocks ClockPort, opts ...Option) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid engine configuration: %w", err)
	}

	e := &Engine{
		clusters: make(map[ClusterID]*cluster, len(cfg.Clusters)),
		domains:  map[string][]*cluster{},
		clocks:   clocks,
		stepKHz:  cfg.CompanionStepKHz,
		fallback: cfg.SearchFallback,
		clock:    clock.RealClock{},
		logger:   ctrl.Log.WithName("dvfs-engine"),
	}
	for _, opt := range opts {
		opt(e)
	}

	for _, cc := range cfg.Clusters {
		c := newCluster(cc)
		e.clusters[c.id] = c
		e.order = append(e.order, c.id)
		e.domains[c.railDomain] = append(e.domains[c.railDomain], c)
		if c.role == RoleCompanion {
			e.companion = c
			e.companionVolt = c.point().VoltageUnits
		}
	}

	e.stepper = NewRailStepper(rails, cfg.Rails, cfg.Settle, e.clock, e.logger.WithName("rail-stepper"))
	e.transitioner = NewFrequencyTransitioner(clocks, cfg.Clock, e.clock, e.logger.WithName("transitioner"))

	return e, nil
}

// Sync aligns every cluster index with the frequency the hardware currently runs at.
func (e *Engine) Sync() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	for _, id := range e.order {
		c := e.clusters[id]
		khz, err := e.clocks.ReadFrequency(id)
		if err != nil {
			return portError(id, "read frequency", err)
		}
		idx, ok := c.table.FindIndexFor(khz, Ceiling)
		if !ok {
			e.logger.Info("physical frequency above every operating point, assuming the lowest",
				"cluster", id, "frequencyKHz", khz)
			idx = c.table.LowestIndex()
		}
		c.current = idx
		e.logger.V(4).Info("cluster synchronised", "cluster", id, "index", idx, "frequencyKHz", khz)
	}
	e.companionVolt = e.companion.point().VoltageUnits

	return nil
}

// Request moves a cluster to the operating point matching targetKHz under the relation.
func (e *Engine) Request(id ClusterID, targetKHz uint32, rel Relation) (AppliedOpPoint, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	c, err := e.lookup(id)
	if err != nil {
		return AppliedOpPoint{}, err
	}
	if c.role == RoleCompanion {
		return AppliedOpPoint{}, invalidRequest("companion cluster %s cannot be targeted directly", id)
	}
	if !c.enabled {
		return AppliedOpPoint{}, fmt.Errorf("cluster %s: %w", id, ErrPolicyConflict)
	}
	if !c.available {
		return AppliedOpPoint{}, invalidRequest("cluster %s is offline", id)
	}

	idx, ok := c.table.FindIndexFor(targetKHz, rel)
	if !ok {
		switch e.fallback {
		case FallbackReject:
			return AppliedOpPoint{}, invalidRequest("no operating point of cluster %s is %s %d kHz", id, rel, targetKHz)
		case FallbackNearest:
			idx = c.table.NearestIndex(targetKHz)
		default:
			idx = c.current
		}
	}

	return e.setIndex(c, c.clamp(idx), "request")
}

func (e *Engine) lookup(id ClusterID) (*cluster, error) {
	if e.faulted != nil {
		return nil, fmt.Errorf("%w: %v", ErrEngineFaulted, e.faulted)
	}
	c, ok := e.clusters[id]
	if !ok {
		return nil, invalidRequest("unknown cluster %s", id)
	}
	return c, nil
}

// setIndex runs a full transition of an independent cluster and the companion. Must hold e.mu.
func (e *Engine) setIndex(c *cluster, idx int, cause string) (AppliedOpPoint, error) {
	comp := e.resolveCompanion(c.id, idx)
	rec := e.newRecord(c, idx, cause)

	err := e.applyCluster(c, idx, comp, &rec)
	e.finish(rec, err)
	if err != nil {
		return AppliedOpPoint{}, err
	}

	target := c.table[idx]
	return AppliedOpPoint{
		Cluster:      c.id,
		Index:        idx,
		FrequencyKHz: target.FrequencyKHz,
		VoltageUnits: target.VoltageUnits,
		Companion:    comp,
	}, nil
}

// applyCluster raises the rail, changes the frequency, applies the companion and then lowers the rail.
func (e *Engine) applyCluster(c *cluster, idx int, comp CompanionTarget, rec *TransitionRecord) error {
	target := c.table[idx]

	curKHz, err := e.clocks.ReadFrequency(c.id)
	if err != nil {
		return portError(c.id, "read frequency", err)
	}
	rec.FromKHz = curKHz

	volt := e.railTarget(c, idx, comp.VoltageUnits)

	res, err := e.stepper.Raise(c.id, volt)
	addStep(rec, res)
	if err != nil {
		return err
	}

	if curKHz != target.FrequencyKHz {
		if err := e.transitioner.Transition(c.id, c.point(), target, curKHz); err != nil {
			return err
		}
	}
	c.current = idx

	if err := e.applyCompanion(comp, rec); err != nil {
		return err
	}

	// the companion may have moved the shared rail, recompute before lowering
	res, err = e.stepper.Lower(c.id, e.railTarget(c, idx, e.companionVolt))
	addStep(rec, res)
	return err
}

// applyCompanion drives the companion to the resolved target. Must hold e.mu.
func (e *Engine) applyCompanion(comp CompanionTarget, rec *TransitionRecord) error {
	if e.companionPinned() {
		return nil
	}
	return e.moveCompanion(comp, rec)
}

func (e *Engine) moveCompanion(comp CompanionTarget, rec *TransitionRecord) error {
	k := e.companion
	curKHz, err := e.clocks.ReadFrequency(k.id)
	if err != nil {
		return portError(k.id, "read frequency", err)
	}

	volt := e.railTarget(k, comp.Index, comp.VoltageUnits)
	res, err := e.stepper.Raise(k.id, volt)
	addStep(rec, res)
	if err != nil {
		return err
	}

	if curKHz != comp.FrequencyKHz {
		if err := e.transitioner.Transition(k.id, k.point(), k.table[comp.Index], curKHz); err != nil {
			return err
		}
	}
	if k.current != comp.Index {
		e.logger.V(4).Info("companion moved", "cluster", k.id, "from", k.current, "to", comp.Index)
	}
	k.current = comp.Index
	e.companionVolt = comp.VoltageUnits

	res, err = e.stepper.Lower(k.id, volt)
	addStep(rec, res)
	return err
}

func (e *Engine) companionPinned() bool {
	return !e.companion.available || !e.companion.enabled
}

// resolveCompanion computes the companion target assuming cluster hyp runs at hypIdx.
func (e *Engine) resolveCompanion(hyp ClusterID, hypIdx int) CompanionTarget {
	k := e.companion
	if e.companionPinned() {
		return CompanionTarget{Index: k.current, FrequencyKHz: k.point().FrequencyKHz, VoltageUnits: e.companionVolt}
	}

	feeders := make([]FeederState, 0, len(k.feeders))
	for _, id := range k.feeders {
		f := e.clusters[id]
		idx := f.current
		if id == hyp {
			idx = hypIdx
		}
		feeders = append(feeders, FeederState{ID: id, Available: f.available, Table: f.table, Index: idx})
	}
	return ResolveCompanion(k.table, e.stepKHz, feeders)
}

// railTarget is the core voltage the rail of c must carry with c at idx. A shared rail carries the highest
// demand of every member at its current point, offline members included; the companion demands compVolt.
func (e *Engine) railTarget(c *cluster, idx int, compVolt uint32) uint32 {
	var volt uint32
	for _, m := range e.domains[c.railDomain] {
		mIdx := m.current
		if m == c {
			mIdx = idx
		}
		volt = max(volt, m.table[mIdx].VoltageUnits)
		if m.role == RoleCompanion {
			volt = max(volt, compVolt)
		}
	}
	return volt
}

func addStep(rec *TransitionRecord, res StepResult) {
	rec.RailSteps += res.Steps
	rec.SettleMicros += res.SettleMicros
}

// finish publishes the record and latches the engine on an invariant violation.
func (e *Engine) finish(rec TransitionRecord, err error) {
	rec.Err = err
	for _, o := range e.observers {
		o.OnTransition(rec)
	}

	if err == nil {
		e.logger.V(4).Info("transition complete", "cluster", rec.Cluster, "cause", rec.Cause,
			"index", rec.ToIndex, "railSteps", rec.RailSteps, "settleMicros", rec.SettleMicros)
		return
	}

	var violation *InvariantViolation
	if errors.As(err, &violation) {
		e.faulted = violation
		e.logger.Error(err, "rail invariant violated, halting dvfs", "cluster", rec.Cluster)
		fatalFunc(violation)
		return
	}
	e.logger.Error(err, "transition failed", "cluster", rec.Cluster, "cause", rec.Cause)
}

// Snapshot returns the state of every cluster in configuration order.
func (e *Engine) Snapshot() []ClusterStatus {
	e.mu.Lock()
	defer e.mu.Unlock()

	out := make([]ClusterStatus, 0, len(e.order))
	for _, id := range e.order {
		out = append(out, e.clusters[id].status())
	}
	return out
}

func (e *Engine) Status(id ClusterID) (ClusterStatus, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	c, ok := e.clusters[id]
	if !ok {
		return ClusterStatus{}, invalidRequest("unknown cluster %s", id)
	}
	return c.status(), nil
}

// Table returns a copy of the operating points of a cluster.
func (e *Engine) Table(id ClusterID) (OpTable, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	c, ok := e.clusters[id]
	if !ok {
		return nil, invalidRequest("unknown cluster %s", id)
	}
	return c.table.clone(), nil
}

// Clusters returns the cluster IDs in configuration order.
func (e *Engine) Clusters() []ClusterID {
	return append([]ClusterID(nil), e.order...)
}

// CompanionVoltage is the voltage the companion currently holds its rail domain at.
func (e *Engine) CompanionVoltage() uint32 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.companionVolt
}
