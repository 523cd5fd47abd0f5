package dvfs

// NoLimit leaves one side of a policy range open.
const NoLimit int = -1

type Role int

const (
	// RoleIndependent clusters are targeted directly by frequency requests.
	RoleIndependent Role = iota
	// RoleCompanion clusters derive their point from the clusters feeding them.
	RoleCompanion
)

func (r Role) String() string {
	if r == RoleCompanion {
		return "companion"
	}
	return "independent"
}

type cluster struct {
	id         ClusterID
	role       Role
	feeders    []ClusterID
	railDomain string
	table      OpTable

	current   int
	available bool
	enabled   bool

	floor        int
	ceiling      int
	normalMax    int
	turbo        bool
	offlineIndex int
}

func newCluster(cfg ClusterConfig) *cluster {
	domain := cfg.RailDomain
	if domain == "" {
		domain = string(cfg.ID)
	}
	return &cluster{
		id:           cfg.ID,
		role:         cfg.Role,
		feeders:      append([]ClusterID(nil), cfg.Feeders...),
		railDomain:   domain,
		table:        cfg.Table.clone(),
		current:      cfg.Table.LowestIndex(),
		available:    !cfg.Offline,
		enabled:      !cfg.Disabled,
		floor:        NoLimit,
		ceiling:      NoLimit,
		normalMax:    cfg.NormalMaxIndex,
		turbo:        cfg.Turbo,
		offlineIndex: cfg.OfflineIndex,
	}
}

// clamp restricts an index to what turbo and the policy range allow. Policy wins over turbo.
func (c *cluster) clamp(idx int) int {
	if !c.turbo && idx < c.normalMax {
		idx = c.normalMax
	}
	if c.floor != NoLimit && idx < c.floor {
		idx = c.floor
	}
	if c.ceiling != NoLimit && idx > c.ceiling {
		idx = c.ceiling
	}
	return min(max(idx, 0), c.table.LowestIndex())
}

func (c *cluster) point() OperatingPoint {
	return c.table[c.current]
}

func (c *cluster) status() ClusterStatus {
	p := c.point()
	return ClusterStatus{
		ID:           c.id,
		Role:         c.role,
		RailDomain:   c.railDomain,
		Index:        c.current,
		FrequencyKHz: p.FrequencyKHz,
		VoltageUnits: p.VoltageUnits,
		Available:    c.available,
		Enabled:      c.enabled,
		Turbo:        c.turbo,
		Floor:        c.floor,
		Ceiling:      c.ceiling,
		TableSize:    len(c.table),
	}
}

// ClusterStatus is a read-only view of a cluster.
type ClusterStatus struct {
	ID           ClusterID
	Role         Role
	RailDomain   string
	Index        int
	FrequencyKHz uint32
	VoltageUnits uint32
	Available    bool
	Enabled      bool
	Turbo        bool
	Floor        int
	Ceiling      int
	TableSize    int
}
