package dvfs

// UpdateVoltages replaces the voltage column of a cluster table with calibrated values.
// The rail of a running cluster is moved to the new voltage of its current point.
func (e *Engine) UpdateVoltages(id ClusterID, volts []uint32) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	c, err := e.lookup(id)
	if err != nil {
		return err
	}
	return e.applyVoltages(c, volts, "calibrate")
}

// RestoreDefaultVoltages undoes every calibration of a cluster.
func (e *Engine) RestoreDefaultVoltages(id ClusterID) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	c, err := e.lookup(id)
	if err != nil {
		return err
	}
	volts := make([]uint32, len(c.table))
	for i, p := range c.table {
		volts[i] = p.DefaultVoltageUnits
	}
	return e.applyVoltages(c, volts, "restore-voltage")
}

func (e *Engine) applyVoltages(c *cluster, volts []uint32, cause string) error {
	if len(volts) != len(c.table) {
		return invalidRequest("cluster %s: %d voltages for %d operating points", c.id, len(volts), len(c.table))
	}

	updated := c.table.clone()
	for i := range updated {
		updated[i].VoltageUnits = volts[i]
	}
	if err := updated.Validate(); err != nil {
		return invalidRequest("cluster %s: %v", c.id, err)
	}
	lo, hi := e.stepper.constraints.MinCore(), e.stepper.constraints.MaxCore()
	for i, v := range volts {
		if v < lo || v > hi {
			return invalidRequest("cluster %s: voltage %d of point %d outside [%d, %d]", c.id, v, i, lo, hi)
		}
	}

	c.table = updated
	e.logger.V(4).Info("operating point voltages updated", "cluster", c.id, "cause", cause)

	if !c.available {
		return nil
	}

	rec := e.newRecord(c, c.current, cause)
	err := e.reapplyRail(c, &rec)
	e.finish(rec, err)
	return err
}

// reapplyRail brings the rail of c and the companion in line with the current tables. Must hold e.mu.
func (e *Engine) reapplyRail(c *cluster, rec *TransitionRecord) error {
	if c.role == RoleCompanion {
		if e.companionPinned() {
			return nil
		}
		return e.moveCompanion(e.resolveCompanion("", 0), rec)
	}

	comp := e.resolveCompanion(c.id, c.current)
	volt := e.railTarget(c, c.current, comp.VoltageUnits)
	res, err := e.stepper.Raise(c.id, volt)
	addStep(rec, res)
	if err != nil {
		return err
	}
	if err := e.applyCompanion(comp, rec); err != nil {
		return err
	}
	res, err = e.stepper.Lower(c.id, e.railTarget(c, c.current, e.companionVolt))
	addStep(rec, res)
	return err
}
