package dvfs

import "fmt"

// SetPolicyLimits restricts a cluster to indices in [floor, ceiling]. Either bound may be NoLimit.
// A cluster running outside the new range is moved into it immediately.
func (e *Engine) SetPolicyLimits(id ClusterID, floor, ceiling int) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	c, err := e.policyTarget(id)
	if err != nil {
		return err
	}
	if err := validateLimit(c, floor, "floor"); err != nil {
		return err
	}
	if err := validateLimit(c, ceiling, "ceiling"); err != nil {
		return err
	}
	if floor != NoLimit && ceiling != NoLimit && floor > ceiling {
		return invalidRequest("cluster %s: floor %d above ceiling %d", id, floor, ceiling)
	}

	c.floor, c.ceiling = floor, ceiling
	e.logger.V(4).Info("policy limits updated", "cluster", id, "floor", floor, "ceiling", ceiling)

	return e.reclamp(c, "policy")
}

// SetPolicyFixed pins a cluster to a single index.
func (e *Engine) SetPolicyFixed(id ClusterID, index int) error {
	return e.SetPolicyLimits(id, index, index)
}

func (e *Engine) ClearPolicyLimits(id ClusterID) error {
	return e.SetPolicyLimits(id, NoLimit, NoLimit)
}

// SetTurbo allows or forbids the indices faster than the cluster's normal maximum.
func (e *Engine) SetTurbo(id ClusterID, enabled bool) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	c, err := e.policyTarget(id)
	if err != nil {
		return err
	}
	c.turbo = enabled
	return e.reclamp(c, "turbo")
}

// SetEnabled administratively allows or blocks requests for a cluster. A disabled companion stays where it is.
func (e *Engine) SetEnabled(id ClusterID, enabled bool) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	c, err := e.lookup(id)
	if err != nil {
		return err
	}
	c.enabled = enabled
	e.logger.V(4).Info("cluster dvfs toggled", "cluster", id, "enabled", enabled)
	return nil
}

func (e *Engine) policyTarget(id ClusterID) (*cluster, error) {
	c, err := e.lookup(id)
	if err != nil {
		return nil, err
	}
	if c.role == RoleCompanion {
		return nil, invalidRequest("companion cluster %s follows its feeders and takes no policy", id)
	}
	return c, nil
}

func validateLimit(c *cluster, limit int, name string) error {
	if limit == NoLimit {
		return nil
	}
	if limit < 0 || limit > c.table.LowestIndex() {
		return invalidRequest("cluster %s: %s index %d outside [0, %d]", c.id, name, limit, c.table.LowestIndex())
	}
	return nil
}

// reclamp moves a running cluster into its allowed range. Must hold e.mu.
func (e *Engine) reclamp(c *cluster, cause string) error {
	if !c.available || !c.enabled {
		return nil
	}
	idx := c.clamp(c.current)
	if idx == c.current {
		return nil
	}
	if _, err := e.setIndex(c, idx, cause); err != nil {
		return fmt.Errorf("applying %s to cluster %s: %w", cause, c.id, err)
	}
	return nil
}
