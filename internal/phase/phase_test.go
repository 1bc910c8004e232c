package phase

import "testing"

func TestDefaultCatalogValid(t *testing.T) {
	if err := Default().Validate(); err != nil {
		t.Fatalf("default catalog invalid: %v", err)
	}
}

func TestValidateRejectsCycle(t *testing.T) {
	c := Default()
	c.Dependencies = append(c.Dependencies,
		Dependency{Phase: Foundations, Predecessor: Structure, Relation: FinishToStart},
	)
	err := c.Validate()
	if err == nil {
		t.Fatal("expected cycle error, got nil")
	}
}

func TestValidateRejectsUnknownPhase(t *testing.T) {
	c := Default()
	c.Dependencies = append(c.Dependencies,
		Dependency{Phase: Phase("teleportation"), Predecessor: Structure, Relation: FinishToStart},
	)
	if err := c.Validate(); err == nil {
		t.Fatal("expected unknown phase error")
	}
}

func TestValidateRejectsNegativeLag(t *testing.T) {
	c := Default()
	c.Dependencies = append(c.Dependencies,
		Dependency{Phase: Painting, Predecessor: Plastering, Relation: FinishToStart, LagDays: -1},
	)
	if err := c.Validate(); err == nil {
		t.Fatal("expected negative lag error")
	}
}

func TestOverlapBidirectional(t *testing.T) {
	c := Default()
	r1, ok1 := c.Overlap(Plastering, Painting)
	r2, ok2 := c.Overlap(Painting, Plastering)
	if !ok1 || !ok2 {
		t.Fatal("overlap rule not found in both directions")
	}
	if r1.MinimumGapDays != r2.MinimumGapDays || r1.CanOverlap {
		t.Errorf("unexpected rule: %+v vs %+v", r1, r2)
	}
	if _, ok := c.Overlap(Cleanup, Landscaping); ok {
		t.Error("expected no rule for cleanup/landscaping")
	}
}

func TestPhaseForLongestPrefix(t *testing.T) {
	c := Default()
	p, ok := c.PhaseFor("04.02.010")
	if !ok || p != Foundations {
		t.Errorf("PhaseFor(04.02.010) = %s, %v", p, ok)
	}
	if _, ok := c.PhaseFor("99.01"); ok {
		t.Error("expected no phase for unknown prefix")
	}
}

func TestRateForFallsBack(t *testing.T) {
	c := Default()
	if got := c.RateFor("06.01"); got != 2.5 {
		t.Errorf("RateFor(06.01) = %v, want 2.5", got)
	}
	if got := c.RateFor("zz"); got != c.DefaultRate {
		t.Errorf("RateFor(zz) = %v, want default %v", got, c.DefaultRate)
	}
}

func TestPosition(t *testing.T) {
	c := Default()
	if c.Position(SitePreparation) != 0 {
		t.Error("site preparation should be first")
	}
	if c.Position(Foundations) >= c.Position(Structure) {
		t.Error("foundations must precede structure")
	}
	if c.Position(Phase("nope")) != -1 {
		t.Error("unknown phase should be -1")
	}
}
