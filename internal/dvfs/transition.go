package dvfs

import (
	"fmt"
	"time"

	"github.com/go-logr/logr"
	"k8s.io/utils/clock"
)

type ClockTiming struct {
	// PLLSettle is the lock time after the multiplier is rewritten.
	PLLSettle time.Duration
	// DividerSettle is waited after every divider write.
	DividerSettle time.Duration
}

func DefaultClockTiming() ClockTiming {
	return ClockTiming{
		PLLSettle:     20 * time.Microsecond,
		DividerSettle: 2 * time.Microsecond,
	}
}

// FrequencyTransitioner reprograms the clock of one cluster from one operating point to another.
type FrequencyTransitioner struct {
	clocks ClockPort
	timing ClockTiming
	clock  clock.Clock
	logger logr.Logger
}

func NewFrequencyTransitioner(clocks ClockPort, timing ClockTiming, clk clock.Clock, logger logr.Logger) *FrequencyTransitioner {
	return &FrequencyTransitioner{
		clocks: clocks,
		timing: timing,
		clock:  clk,
		logger: logger,
	}
}

// Transition moves the cluster clock from the point it is programmed with to the target point.
// currentKHz is the frequency the hardware reports and decides which side of the change clock gating goes.
func (t *FrequencyTransitioner) Transition(id ClusterID, from, to OperatingPoint, currentKHz uint32) error {
	lowering := to.FrequencyKHz < currentKHz
	log := t.logger.WithValues("cluster", id, "fromKHz", currentKHz, "toKHz", to.FrequencyKHz)
	log.V(5).Info("changing frequency")

	if lowering {
		if err := t.clocks.NotifyClockGating(id, true); err != nil {
			return portError(id, "engage clock gating", err)
		}
	}

	if to.Dividers.PostDivider > from.Dividers.PostDivider {
		if err := t.setPostDivider(id, to.Dividers.PostDivider); err != nil {
			return err
		}
	}
	if to.Dividers.ClockDivider > from.Dividers.ClockDivider {
		if err := t.setClockDivider(id, to.Dividers.ClockDivider); err != nil {
			return err
		}
	}

	if err := t.reprogram(id, to.MultiplierKHz()); err != nil {
		return err
	}

	if to.Dividers.ClockDivider < from.Dividers.ClockDivider {
		if err := t.setClockDivider(id, to.Dividers.ClockDivider); err != nil {
			return err
		}
	}
	if to.Dividers.PostDivider < from.Dividers.PostDivider {
		if err := t.setPostDivider(id, to.Dividers.PostDivider); err != nil {
			return err
		}
	}

	if !lowering {
		if err := t.clocks.NotifyClockGating(id, false); err != nil {
			return portError(id, "relax clock gating", err)
		}
	}

	return nil
}

// reprogram parks the cluster on the reference clock while the PLL relocks.
func (t *FrequencyTransitioner) reprogram(id ClusterID, vcoKHz uint32) error {
	return t.onReferenceClock(id, func() error {
		if err := t.clocks.WriteMultiplier(id, vcoKHz); err != nil {
			return portError(id, "write pll multiplier", err)
		}
		t.clock.Sleep(t.timing.PLLSettle)
		return nil
	})
}

func (t *FrequencyTransitioner) setPostDivider(id ClusterID, value uint32) error {
	return t.onReferenceClock(id, func() error {
		if err := t.clocks.WriteDivider(id, PostDivider, value); err != nil {
			return portError(id, fmt.Sprintf("write %s", PostDivider), err)
		}
		t.clock.Sleep(t.timing.DividerSettle)
		return nil
	})
}

func (t *FrequencyTransitioner) setClockDivider(id ClusterID, value uint32) error {
	if err := t.clocks.WriteDivider(id, ClockDivider, value); err != nil {
		return portError(id, fmt.Sprintf("write %s", ClockDivider), err)
	}
	t.clock.Sleep(t.timing.DividerSettle)
	return nil
}

func (t *FrequencyTransitioner) onReferenceClock(id ClusterID, fn func() error) error {
	if err := t.clocks.SelectClockSource(id, SourceReference); err != nil {
		return portError(id, "select reference clock", err)
	}
	if err := fn(); err != nil {
		return err
	}
	if err := t.clocks.SelectClockSource(id, SourcePLL); err != nil {
		return portError(id, "select pll clock", err)
	}
	return nil
}
