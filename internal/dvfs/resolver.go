package dvfs

// FeederState is the view of one feeding cluster the companion resolver needs.
type FeederState struct {
	ID        ClusterID
	Available bool
	Table     OpTable
	Index     int
}

// CompanionTarget is the point the companion cluster must run at. VoltageUnits may exceed the table
// voltage of Index because the companion rail is held at or above every feeder.
type CompanionTarget struct {
	Index        int
	FrequencyKHz uint32
	VoltageUnits uint32
}

// ResolveCompanion computes the companion point from its feeders. The companion runs at half the fastest
// feeder frequency rounded down to the PLL step, at a voltage that dominates every available feeder.
func ResolveCompanion(companion OpTable, stepKHz uint32, feeders []FeederState) CompanionTarget {
	stepKHz = max(stepKHz, 1)

	var maxFeederKHz, maxFeederVolt uint32
	for _, f := range feeders {
		if !f.Available {
			continue
		}
		p := f.Table[f.Index]
		maxFeederKHz = max(maxFeederKHz, p.FrequencyKHz)
		maxFeederVolt = max(maxFeederVolt, p.VoltageUnits)
	}

	targetKHz := min((maxFeederKHz/2)/stepKHz*stepKHz, companion.MaxFrequency())
	volt := max(companion.VoltageFor(targetKHz), maxFeederVolt)
	idx := companion.FindIndexUnderVoltage(volt)

	return CompanionTarget{
		Index:        idx,
		FrequencyKHz: companion[idx].FrequencyKHz,
		VoltageUnits: max(volt, companion[idx].VoltageUnits),
	}
}
