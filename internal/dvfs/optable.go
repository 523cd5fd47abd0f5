package dvfs

import (
	"fmt"
)

type Relation int

const (
	// Floor selects the fastest point not above the target frequency.
	Floor Relation = iota
	// Ceiling selects the slowest point not below the target frequency.
	Ceiling
)

func (r Relation) String() string {
	if r == Floor {
		return "floor"
	}
	return "ceiling"
}

type DividerState struct {
	PostDivider  uint32
	ClockDivider uint32
}

// OperatingPoint is one frequency/voltage pair of a cluster. Voltages are in 10 µV units.
type OperatingPoint struct {
	FrequencyKHz        uint32
	VoltageUnits        uint32
	DefaultVoltageUnits uint32
	Dividers            DividerState
}

// MultiplierKHz is the PLL output required to produce the point's frequency after both dividers.
func (p OperatingPoint) MultiplierKHz() uint32 {
	return p.FrequencyKHz * max(p.Dividers.PostDivider, 1) * max(p.Dividers.ClockDivider, 1)
}

// OpTable is ordered by strictly descending frequency; index 0 is the fastest point.
type OpTable []OperatingPoint

func (t OpTable) Validate() error {
	if len(t) == 0 {
		return fmt.Errorf("operating point table is empty")
	}
	for i, p := range t {
		if p.FrequencyKHz == 0 {
			return fmt.Errorf("operating point %d has zero frequency", i)
		}
		if p.Dividers.PostDivider == 0 || p.Dividers.ClockDivider == 0 {
			return fmt.Errorf("operating point %d has a zero divider", i)
		}
		if i > 0 && p.FrequencyKHz >= t[i-1].FrequencyKHz {
			return fmt.Errorf("operating point %d (%d kHz) is not below point %d (%d kHz)",
				i, p.FrequencyKHz, i-1, t[i-1].FrequencyKHz)
		}
		if i > 0 && p.VoltageUnits > t[i-1].VoltageUnits {
			return fmt.Errorf("operating point %d needs more voltage than the faster point %d", i, i-1)
		}
	}
	return nil
}

func (t OpTable) LowestIndex() int {
	return len(t) - 1
}

func (t OpTable) MaxFrequency() uint32 {
	return t[0].FrequencyKHz
}

func (t OpTable) MinFrequency() uint32 {
	return t[len(t)-1].FrequencyKHz
}

// FindIndexFor maps a target frequency to a table index. ok is false when no entry satisfies the relation.
func (t OpTable) FindIndexFor(targetKHz uint32, rel Relation) (int, bool) {
	if rel == Floor {
		for i := range t {
			if t[i].FrequencyKHz <= targetKHz {
				return i, true
			}
		}
		return 0, false
	}

	for i := len(t) - 1; i >= 0; i-- {
		if t[i].FrequencyKHz >= targetKHz {
			return i, true
		}
	}
	return 0, false
}

// NearestIndex returns the table edge closest to an out-of-range target.
func (t OpTable) NearestIndex(targetKHz uint32) int {
	if targetKHz >= t.MaxFrequency() {
		return 0
	}
	if targetKHz <= t.MinFrequency() {
		return t.LowestIndex()
	}
	idx, _ := t.FindIndexFor(targetKHz, Floor)
	return idx
}

// IndexUnderVoltage returns the fastest point whose voltage does not exceed the ceiling.
func (t OpTable) IndexUnderVoltage(ceiling uint32) (int, bool) {
	found := false
	idx := 0
	for i := len(t) - 1; i >= 0; i-- {
		if t[i].VoltageUnits > ceiling {
			break
		}
		idx = i
		found = true
	}
	return idx, found
}

// FindIndexUnderVoltage is IndexUnderVoltage falling back to index 0 when every point exceeds the ceiling.
func (t OpTable) FindIndexUnderVoltage(ceiling uint32) int {
	idx, _ := t.IndexUnderVoltage(ceiling)
	return idx
}

// VoltageFor returns the voltage of the slowest point running at least targetKHz.
func (t OpTable) VoltageFor(targetKHz uint32) uint32 {
	idx, ok := t.FindIndexFor(targetKHz, Ceiling)
	if !ok {
		idx = 0
	}
	return t[idx].VoltageUnits
}

func (t OpTable) clone() OpTable {
	out := make(OpTable, len(t))
	copy(out, t)
	return out
}
