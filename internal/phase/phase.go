// Package phase holds the construction phase model: the canonical execution
// order, the dependency graph between phases, overlap rules, productivity
// rates and equipment needs. All of it is immutable configuration injected
// into the scheduling passes, never module-level mutable state.
package phase

import "fmt"

// Phase is one of the fixed construction-activity categories.
type Phase string

const (
	SitePreparation   Phase = "site_preparation"
	Demolition        Phase = "demolition"
	Earthworks        Phase = "earthworks"
	Foundations       Phase = "foundations"
	Waterproofing     Phase = "waterproofing"
	Structure         Phase = "structure"
	Roofing           Phase = "roofing"
	ExteriorWalls     Phase = "exterior_walls"
	Facade            Phase = "facade"
	ExteriorJoinery   Phase = "exterior_joinery"
	InteriorWalls     Phase = "interior_walls"
	PlumbingRoughIn   Phase = "plumbing_rough_in"
	ElectricalRoughIn Phase = "electrical_rough_in"
	HVACRoughIn       Phase = "hvac_rough_in"
	GasInstallation   Phase = "gas_installation"
	FireProtection    Phase = "fire_protection"
	Elevators         Phase = "elevators"
	Screeds           Phase = "screeds"
	Plastering        Phase = "plastering"
	Ceilings          Phase = "ceilings"
	Tiling            Phase = "tiling"
	Flooring          Phase = "flooring"
	InteriorJoinery   Phase = "interior_joinery"
	Painting          Phase = "painting"
	PlumbingFixtures  Phase = "plumbing_fixtures"
	ElectricalFinish  Phase = "electrical_finish"
	HVACFinish        Phase = "hvac_finish"
	ExteriorWorks     Phase = "exterior_works"
	Landscaping       Phase = "landscaping"
	Cleanup           Phase = "cleanup"
)

// Relation is a dependency relation between phases or tasks.
type Relation string

const (
	FinishToStart Relation = "FS"
	StartToStart  Relation = "SS"
)

// Dependency says a phase may not start before the date implied by its
// predecessor: FS means predecessor finish + lag, SS means predecessor
// start + lag. Lag is in working days.
type Dependency struct {
	Phase       Phase    `yaml:"phase" json:"phase"`
	Predecessor Phase    `yaml:"predecessor" json:"predecessor"`
	Relation    Relation `yaml:"relation" json:"relation"`
	LagDays     int      `yaml:"lag_days" json:"lag_days"`
}

// OverlapRule restricts two phases from running concurrently. Lookups are
// bidirectional: the rule (A, B) also applies to the pair (B, A).
type OverlapRule struct {
	PhaseA         Phase  `yaml:"phase_a" json:"phase_a"`
	PhaseB         Phase  `yaml:"phase_b" json:"phase_b"`
	CanOverlap     bool   `yaml:"can_overlap" json:"can_overlap"`
	MinimumGapDays int    `yaml:"minimum_gap_days" json:"minimum_gap_days"`
	Reason         string `yaml:"reason" json:"reason"`
}

// Procurement describes a long-lead material order that must complete before
// its phase may start. Lead tasks carry no labor.
type Procurement struct {
	Name     string `yaml:"name" json:"name"`
	LeadDays int    `yaml:"lead_days" json:"lead_days"`
}

// Milestone is inserted right after its phase finishes.
type Milestone struct {
	Name  string `yaml:"name" json:"name"`
	After Phase  `yaml:"after" json:"after"`
}

// Catalog is the full phase model for one schedule computation. Build one
// with Default and override fields as needed; Validate before use.
type Catalog struct {
	Order           []Phase
	Dependencies    []Dependency
	OverlapRules    []OverlapRule
	Productivity    map[string]float64 // WBS code prefix -> labor-hours per unit
	DefaultRate     float64            // fallback when no prefix matches
	PhasePrefixes   map[string]Phase   // WBS code prefix -> phase
	EquipmentNeeds  map[Phase][]string // phase -> equipment types in use
	FloorStaggered  map[Phase]bool     // phases repeated per building floor
	Procurement     map[Phase]Procurement
	Milestones      []Milestone
	StaggerLagDays  int // curing/safety lag between floors (SS)
}

// Position returns the canonical index of p in the execution order, or -1.
func (c Catalog) Position(p Phase) int {
	for i, q := range c.Order {
		if q == p {
			return i
		}
	}
	return -1
}

// DependenciesOf returns all dependency rows whose Phase is p.
func (c Catalog) DependenciesOf(p Phase) []Dependency {
	var out []Dependency
	for _, d := range c.Dependencies {
		if d.Phase == p {
			out = append(out, d)
		}
	}
	return out
}

// Overlap looks up the overlap rule for a pair of phases in either order.
func (c Catalog) Overlap(a, b Phase) (OverlapRule, bool) {
	for _, r := range c.OverlapRules {
		if (r.PhaseA == a && r.PhaseB == b) || (r.PhaseA == b && r.PhaseB == a) {
			return r, true
		}
	}
	return OverlapRule{}, false
}

// PhaseFor maps a WBS article code to its phase via the longest matching
// code prefix. The mapping is deterministic: exactly one phase per code.
func (c Catalog) PhaseFor(code string) (Phase, bool) {
	best := ""
	var found Phase
	for prefix, p := range c.PhasePrefixes {
		if len(prefix) > len(best) && len(code) >= len(prefix) && code[:len(prefix)] == prefix {
			best = prefix
			found = p
		}
	}
	return found, best != ""
}

// RateFor returns labor-hours per unit for a WBS code, via the longest
// matching productivity prefix, falling back to DefaultRate.
func (c Catalog) RateFor(code string) float64 {
	best := ""
	rate := c.DefaultRate
	for prefix, r := range c.Productivity {
		if len(prefix) > len(best) && len(code) >= len(prefix) && code[:len(prefix)] == prefix {
			best = prefix
			rate = r
		}
	}
	return rate
}

// Validate checks the catalog for internal consistency and rejects cyclic
// dependency configurations up front: a cycle would otherwise misorder
// every date downstream.
func (c Catalog) Validate() error {
	if len(c.Order) == 0 {
		return fmt.Errorf("phase order is empty")
	}
	pos := make(map[Phase]int, len(c.Order))
	for i, p := range c.Order {
		if _, dup := pos[p]; dup {
			return fmt.Errorf("phase %s listed twice in order", p)
		}
		pos[p] = i
	}
	for _, d := range c.Dependencies {
		if _, ok := pos[d.Phase]; !ok {
			return fmt.Errorf("dependency references unknown phase %s", d.Phase)
		}
		if _, ok := pos[d.Predecessor]; !ok {
			return fmt.Errorf("dependency of %s references unknown predecessor %s", d.Phase, d.Predecessor)
		}
		if d.Relation != FinishToStart && d.Relation != StartToStart {
			return fmt.Errorf("dependency %s -> %s has invalid relation %q", d.Predecessor, d.Phase, d.Relation)
		}
		if d.LagDays < 0 {
			return fmt.Errorf("dependency %s -> %s has negative lag", d.Predecessor, d.Phase)
		}
	}
	for _, r := range c.OverlapRules {
		if _, ok := pos[r.PhaseA]; !ok {
			return fmt.Errorf("overlap rule references unknown phase %s", r.PhaseA)
		}
		if _, ok := pos[r.PhaseB]; !ok {
			return fmt.Errorf("overlap rule references unknown phase %s", r.PhaseB)
		}
	}
	return c.checkCycles()
}

// checkCycles runs Kahn's algorithm over the dependency graph and fails if
// any phase never reaches in-degree zero.
func (c Catalog) checkCycles() error {
	inDegree := make(map[Phase]int, len(c.Order))
	succ := make(map[Phase][]Phase)
	for _, p := range c.Order {
		inDegree[p] = 0
	}
	for _, d := range c.Dependencies {
		inDegree[d.Phase]++
		succ[d.Predecessor] = append(succ[d.Predecessor], d.Phase)
	}
	var queue []Phase
	for _, p := range c.Order {
		if inDegree[p] == 0 {
			queue = append(queue, p)
		}
	}
	sorted := 0
	for len(queue) > 0 {
		p := queue[0]
		queue = queue[1:]
		sorted++
		for _, s := range succ[p] {
			inDegree[s]--
			if inDegree[s] == 0 {
				queue = append(queue, s)
			}
		}
	}
	if sorted != len(c.Order) {
		var cyclic []Phase
		for _, p := range c.Order {
			if inDegree[p] > 0 {
				cyclic = append(cyclic, p)
			}
		}
		return fmt.Errorf("phase dependency cycle involving %v", cyclic)
	}
	return nil
}
