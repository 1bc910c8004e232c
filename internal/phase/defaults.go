package phase

// defaultOrder is the canonical execution order for a standard building
// project.
var defaultOrder = []Phase{
	SitePreparation,
	Demolition,
	Earthworks,
	Foundations,
	Waterproofing,
	Structure,
	Roofing,
	ExteriorWalls,
	Facade,
	ExteriorJoinery,
	InteriorWalls,
	PlumbingRoughIn,
	ElectricalRoughIn,
	HVACRoughIn,
	GasInstallation,
	FireProtection,
	Elevators,
	Screeds,
	Plastering,
	Ceilings,
	Tiling,
	Flooring,
	InteriorJoinery,
	Painting,
	PlumbingFixtures,
	ElectricalFinish,
	HVACFinish,
	ExteriorWorks,
	Landscaping,
	Cleanup,
}

// Default returns the standard catalog. Callers may copy and adjust it; the
// returned value shares no state with other callers' copies beyond the
// literal tables below, which are never mutated.
func Default() Catalog {
	return Catalog{
		Order: defaultOrder,
		Dependencies: []Dependency{
			{Demolition, SitePreparation, FinishToStart, 0},
			{Earthworks, SitePreparation, FinishToStart, 0},
			{Earthworks, Demolition, FinishToStart, 0},
			{Foundations, Earthworks, FinishToStart, 0},
			{Waterproofing, Foundations, FinishToStart, 2},
			{Structure, Foundations, FinishToStart, 7}, // concrete curing
			{Roofing, Structure, FinishToStart, 0},
			{ExteriorWalls, Structure, StartToStart, 10},
			{Facade, ExteriorWalls, FinishToStart, 0},
			{ExteriorJoinery, ExteriorWalls, FinishToStart, 0},
			{InteriorWalls, Structure, FinishToStart, 0},
			{PlumbingRoughIn, InteriorWalls, StartToStart, 5},
			{ElectricalRoughIn, InteriorWalls, StartToStart, 5},
			{HVACRoughIn, InteriorWalls, StartToStart, 5},
			{GasInstallation, PlumbingRoughIn, FinishToStart, 0},
			{FireProtection, HVACRoughIn, StartToStart, 0},
			{Elevators, Structure, FinishToStart, 0},
			{Screeds, PlumbingRoughIn, FinishToStart, 0},
			{Screeds, ElectricalRoughIn, FinishToStart, 0},
			{Screeds, HVACRoughIn, FinishToStart, 0},
			{Plastering, InteriorWalls, FinishToStart, 0},
			{Plastering, ElectricalRoughIn, FinishToStart, 0},
			{Ceilings, Plastering, FinishToStart, 0},
			{Tiling, Screeds, FinishToStart, 5}, // screed curing
			{Flooring, Screeds, FinishToStart, 5},
			{InteriorJoinery, Plastering, FinishToStart, 0},
			{Painting, Plastering, FinishToStart, 3},
			{Painting, Ceilings, FinishToStart, 0},
			{PlumbingFixtures, Tiling, FinishToStart, 0},
			{ElectricalFinish, Painting, FinishToStart, 0},
			{HVACFinish, Ceilings, FinishToStart, 0},
			{ExteriorWorks, Facade, FinishToStart, 0},
			{Landscaping, ExteriorWorks, FinishToStart, 0},
			{Cleanup, Painting, FinishToStart, 0},
			{Cleanup, Flooring, FinishToStart, 0},
			{Cleanup, ElectricalFinish, FinishToStart, 0},
		},
		OverlapRules: []OverlapRule{
			{Earthworks, Foundations, false, 0, "open excavation must close before footing work"},
			{Structure, Demolition, false, 2, "no erection near active demolition"},
			{Plastering, Painting, false, 3, "plaster must dry before paint"},
			{Screeds, Tiling, false, 5, "screed curing time"},
			{Screeds, Flooring, false, 5, "screed curing time"},
			{Roofing, Facade, false, 0, "falling-object risk on facade crews"},
			{Waterproofing, Structure, true, 0, "independent work fronts"},
			{Painting, Flooring, true, 0, "different rooms possible"},
		},
		Productivity: map[string]float64{
			"01": 0.8,  // site preparation, per m2
			"02": 1.2,  // demolition
			"03": 0.5,  // earthworks, per m3 (machine assisted)
			"04": 1.8,  // foundations, per m3
			"05": 0.9,  // waterproofing, per m2
			"06": 2.5,  // structure, per m3
			"07": 1.4,  // roofing, per m2
			"08": 1.6,  // exterior walls, per m2
			"09": 1.1,  // facade, per m2
			"10": 2.0,  // exterior joinery, per unit
			"11": 1.3,  // interior walls, per m2
			"12": 0.75, // plumbing rough-in, per m
			"13": 0.6,  // electrical rough-in, per m
			"14": 1.0,  // hvac rough-in, per m
			"15": 1.2,  // gas
			"16": 0.9,  // fire protection
			"17": 40.0, // elevators, per unit
			"18": 0.45, // screeds, per m2
			"19": 0.7,  // plastering, per m2
			"20": 0.8,  // ceilings, per m2
			"21": 1.1,  // tiling, per m2
			"22": 0.6,  // flooring, per m2
			"23": 1.5,  // interior joinery, per unit
			"24": 0.35, // painting, per m2
			"25": 1.8,  // plumbing fixtures, per unit
			"26": 1.0,  // electrical finish, per unit
			"27": 2.2,  // hvac finish, per unit
			"28": 0.7,  // exterior works, per m2
			"29": 0.5,  // landscaping, per m2
			"30": 0.2,  // cleanup, per m2
		},
		DefaultRate: 1.0,
		PhasePrefixes: map[string]Phase{
			"01": SitePreparation,
			"02": Demolition,
			"03": Earthworks,
			"04": Foundations,
			"05": Waterproofing,
			"06": Structure,
			"07": Roofing,
			"08": ExteriorWalls,
			"09": Facade,
			"10": ExteriorJoinery,
			"11": InteriorWalls,
			"12": PlumbingRoughIn,
			"13": ElectricalRoughIn,
			"14": HVACRoughIn,
			"15": GasInstallation,
			"16": FireProtection,
			"17": Elevators,
			"18": Screeds,
			"19": Plastering,
			"20": Ceilings,
			"21": Tiling,
			"22": Flooring,
			"23": InteriorJoinery,
			"24": Painting,
			"25": PlumbingFixtures,
			"26": ElectricalFinish,
			"27": HVACFinish,
			"28": ExteriorWorks,
			"29": Landscaping,
			"30": Cleanup,
		},
		EquipmentNeeds: map[Phase][]string{
			Earthworks:  {"excavator"},
			Foundations: {"concrete_pump"},
			Structure:   {"crane", "concrete_pump"},
			Roofing:     {"crane"},
			Facade:      {"scaffolding"},
			Plastering:  {"scaffolding"},
			Elevators:   {"crane"},
		},
		FloorStaggered: map[Phase]bool{
			Structure:     true,
			InteriorWalls: true,
			Screeds:       true,
			Flooring:      true,
			Ceilings:      true,
		},
		Procurement: map[Phase]Procurement{
			Structure:       {Name: "Structural steel order", LeadDays: 20},
			Elevators:       {Name: "Elevator equipment order", LeadDays: 45},
			ExteriorJoinery: {Name: "Window and door order", LeadDays: 15},
		},
		Milestones: []Milestone{
			{Name: "Foundations complete", After: Foundations},
			{Name: "Structure topped out", After: Structure},
			{Name: "Building weathertight", After: ExteriorJoinery},
			{Name: "Handover ready", After: Cleanup},
		},
		StaggerLagDays: 3,
	}
}
