package dvfs

// OnClusterOffline handles the last core of a cluster going down.
func (e *Engine) OnClusterOffline(id ClusterID) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	c, err := e.lookup(id)
	if err != nil {
		return err
	}
	if !c.available {
		return nil
	}
	c.available = false
	e.logger.V(4).Info("cluster going offline", "cluster", id)

	if c.role == RoleCompanion {
		target := c.table[c.offlineIndex]
		rec := e.newRecord(c, c.offlineIndex, "offline")
		err := e.moveCompanion(CompanionTarget{
			Index:        c.offlineIndex,
			FrequencyKHz: target.FrequencyKHz,
			VoltageUnits: target.VoltageUnits,
		}, &rec)
		e.finish(rec, err)
		return err
	}

	lowest := c.table.LowestIndex()
	rec := e.newRecord(c, lowest, "offline")
	err = e.parkCluster(c, lowest, &rec)
	e.finish(rec, err)
	return err
}

// parkCluster changes only the frequency of an offline cluster, then lets the companion follow.
func (e *Engine) parkCluster(c *cluster, idx int, rec *TransitionRecord) error {
	curKHz, err := e.clocks.ReadFrequency(c.id)
	if err != nil {
		return portError(c.id, "read frequency", err)
	}
	rec.FromKHz = curKHz

	target := c.table[idx]
	if curKHz != target.FrequencyKHz {
		if err := e.transitioner.Transition(c.id, c.point(), target, curKHz); err != nil {
			return err
		}
	}
	c.current = idx

	return e.applyCompanion(e.resolveCompanion(c.id, idx), rec)
}

// OnClusterOnline handles the first core of a cluster coming up.
func (e *Engine) OnClusterOnline(id ClusterID) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	c, err := e.lookup(id)
	if err != nil {
		return err
	}
	if c.available {
		return nil
	}
	c.available = true
	e.logger.V(4).Info("cluster coming online", "cluster", id)

	if c.role == RoleCompanion {
		comp := e.resolveCompanion("", 0)
		rec := e.newRecord(c, comp.Index, "online")
		err := e.applyCompanion(comp, &rec)
		e.finish(rec, err)
		return err
	}

	pair, err := e.stepper.ReadPair(id)
	if err != nil {
		return err
	}
	// start at the fastest point the rail already supports, never faster than policy allows
	idx, ok := c.table.IndexUnderVoltage(pair.CoreUnits)
	if !ok {
		idx = c.table.LowestIndex()
	}
	idx = max(idx, c.clamp(idx))

	rec := e.newRecord(c, idx, "online")
	err = e.applyCluster(c, idx, e.resolveCompanion(id, idx), &rec)
	e.finish(rec, err)
	return err
}

func (e *Engine) newRecord(c *cluster, idx int, cause string) TransitionRecord {
	return TransitionRecord{
		Cluster:   c.id,
		Cause:     cause,
		FromIndex: c.current,
		ToIndex:   idx,
		FromKHz:   c.point().FrequencyKHz,
		ToKHz:     c.table[idx].FrequencyKHz,
	}
}
