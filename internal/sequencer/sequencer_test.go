package sequencer

import (
	"strings"
	"testing"
	"time"

	"buildplan/internal/calendar"
	"buildplan/internal/domain"
	"buildplan/internal/phase"
)

var flatFactors = []float64{1, 1, 1, 1, 1, 1, 1, 1, 1, 1, 1, 1}

// testCatalog is a two-phase model: structure follows foundations
// finish-to-start with no lag.
func testCatalog() phase.Catalog {
	return phase.Catalog{
		Order: []phase.Phase{phase.Foundations, phase.Structure},
		Dependencies: []phase.Dependency{
			{Phase: phase.Structure, Predecessor: phase.Foundations, Relation: phase.FinishToStart, LagDays: 0},
		},
		Productivity:  map[string]float64{"04": 1, "06": 1},
		DefaultRate:   1,
		PhasePrefixes: map[string]phase.Phase{"04": phase.Foundations, "06": phase.Structure},
	}
}

func testOptions(cat phase.Catalog) Options {
	return Options{
		Calendar:        calendar.Calendar{},
		Catalog:         cat,
		StartDate:       calendar.NewDate(2025, time.June, 2), // a Monday
		NumberOfFloors:  1,
		MaxWorkers:      10,
		SeasonalFactors: flatFactors,
	}
}

func summaryOf(t *testing.T, s domain.ProjectSchedule, p phase.Phase) domain.ScheduleTask {
	t.Helper()
	for _, task := range s.Tasks {
		if task.IsSummary && task.Phase == p {
			return task
		}
	}
	t.Fatalf("no summary for phase %s", p)
	return domain.ScheduleTask{}
}

func leavesOf(s domain.ProjectSchedule, p phase.Phase) []domain.ScheduleTask {
	var out []domain.ScheduleTask
	for _, task := range s.Tasks {
		if !task.IsSummary && !task.IsMilestone && task.Phase == p {
			out = append(out, task)
		}
	}
	return out
}

func TestTwoPhaseSchedule(t *testing.T) {
	articles := []domain.WbsArticle{
		{Code: "04.01", Description: "Footings", Unit: "m3", Quantity: 800},
		{Code: "06.01", Description: "Concrete frame", Unit: "m3", Quantity: 1200},
	}
	s, err := Sequence("p1", articles, nil, testOptions(testCatalog()))
	if err != nil {
		t.Fatal(err)
	}

	cal := calendar.Calendar{}
	foundations := summaryOf(t, s, phase.Foundations)
	structure := summaryOf(t, s, phase.Structure)

	// 800 h: 10 workers (capped), ceil(800/80) = 10 days.
	if foundations.DurationDays != 10 {
		t.Errorf("foundations duration = %d, want 10", foundations.DurationDays)
	}
	if got := foundations.Workers(); got != 10 {
		t.Errorf("foundations workers = %v, want 10", got)
	}
	// 1200 h: 10 workers, 15 days.
	if structure.DurationDays != 15 {
		t.Errorf("structure duration = %d, want 15", structure.DurationDays)
	}

	// Finish-to-start with an exclusive finish date: the successor begins on
	// the predecessor's finish date.
	if !structure.StartDate.Equal(foundations.FinishDate.Time) {
		t.Errorf("structure starts %s, want foundations finish %s", structure.StartDate, foundations.FinishDate)
	}

	if s.TotalDurationDays != 25 {
		t.Errorf("total duration = %d, want 25", s.TotalDurationDays)
	}
	want := cal.AddWorkingDays(s.StartDate, 25)
	if !s.FinishDate.Equal(want.Time) {
		t.Errorf("finish = %s, want %s", s.FinishDate, want)
	}
}

func TestDependencyLagAndStartToStart(t *testing.T) {
	cat := testCatalog()
	cat.Dependencies = []phase.Dependency{
		{Phase: phase.Structure, Predecessor: phase.Foundations, Relation: phase.StartToStart, LagDays: 4},
	}
	articles := []domain.WbsArticle{
		{Code: "04.01", Quantity: 800},
		{Code: "06.01", Quantity: 80},
	}
	s, err := Sequence("p1", articles, nil, testOptions(cat))
	if err != nil {
		t.Fatal(err)
	}
	cal := calendar.Calendar{}
	foundations := summaryOf(t, s, phase.Foundations)
	structure := summaryOf(t, s, phase.Structure)
	want := cal.AddWorkingDays(foundations.StartDate, 4)
	if !structure.StartDate.Equal(want.Time) {
		t.Errorf("structure starts %s, want %s", structure.StartDate, want)
	}
}

func TestOverlapRulePushesLaterPhase(t *testing.T) {
	cat := testCatalog()
	cat.Dependencies = nil
	cat.OverlapRules = []phase.OverlapRule{
		{PhaseA: phase.Foundations, PhaseB: phase.Structure, CanOverlap: false, MinimumGapDays: 2},
	}
	articles := []domain.WbsArticle{
		{Code: "04.01", Quantity: 400}, // 5 days
		{Code: "06.01", Quantity: 80},
	}
	s, err := Sequence("p1", articles, nil, testOptions(cat))
	if err != nil {
		t.Fatal(err)
	}
	cal := calendar.Calendar{}
	foundations := summaryOf(t, s, phase.Foundations)
	structure := summaryOf(t, s, phase.Structure)
	want := cal.AddWorkingDays(foundations.FinishDate, 2)
	if !structure.StartDate.Equal(want.Time) {
		t.Errorf("structure starts %s, want gap-enforced %s", structure.StartDate, want)
	}
}

func TestWorkerBudgetBatching(t *testing.T) {
	cat := testCatalog()
	cat.Dependencies = nil
	articles := []domain.WbsArticle{
		{Code: "04.01", Description: "big", Quantity: 400},    // 10 workers, 5 days
		{Code: "04.02", Description: "medium", Quantity: 200}, // 5 workers, 5 days
		{Code: "04.03", Description: "small", Quantity: 120},  // 3 workers, 5 days
	}
	s, err := Sequence("p1", articles, nil, testOptions(cat))
	if err != nil {
		t.Fatal(err)
	}
	cal := calendar.Calendar{}
	leaves := leavesOf(s, phase.Foundations)
	if len(leaves) != 3 {
		t.Fatalf("leaves = %d, want 3", len(leaves))
	}
	byCode := map[string]domain.ScheduleTask{}
	for _, l := range leaves {
		byCode[l.WbsCode] = l
	}
	phaseStart := summaryOf(t, s, phase.Foundations).StartDate

	// The big item fills the 10-worker budget alone; medium and small share
	// the second batch, starting where the first batch ends.
	if !byCode["04.01"].StartDate.Equal(phaseStart.Time) {
		t.Errorf("big starts %s, want %s", byCode["04.01"].StartDate, phaseStart)
	}
	secondBatch := cal.AddWorkingDays(phaseStart, 5)
	for _, code := range []string{"04.02", "04.03"} {
		if !byCode[code].StartDate.Equal(secondBatch.Time) {
			t.Errorf("%s starts %s, want %s", code, byCode[code].StartDate, secondBatch)
		}
	}

	// Start-to-start lag from the summary records the offset.
	if lag := byCode["04.02"].Predecessors[0].LagDays; lag != 5 {
		t.Errorf("lag = %d, want 5", lag)
	}
	if byCode["04.02"].Predecessors[0].Relation != phase.StartToStart {
		t.Errorf("relation = %s, want SS", byCode["04.02"].Predecessors[0].Relation)
	}

	if got := summaryOf(t, s, phase.Foundations).DurationDays; got != 10 {
		t.Errorf("phase duration = %d, want 10", got)
	}
}

func TestFloorStaggering(t *testing.T) {
	cat := testCatalog()
	cat.Dependencies = nil
	cat.FloorStaggered = map[phase.Phase]bool{phase.Structure: true}
	cat.StaggerLagDays = 2
	opts := testOptions(cat)
	opts.NumberOfFloors = 3
	articles := []domain.WbsArticle{
		{Code: "06.01", Description: "Frame", Quantity: 240}, // 6 workers, 5 days
	}
	s, err := Sequence("p1", articles, nil, opts)
	if err != nil {
		t.Fatal(err)
	}
	cal := calendar.Calendar{}
	leaves := leavesOf(s, phase.Structure)
	if len(leaves) != 3 {
		t.Fatalf("leaves = %d, want 3 floors", len(leaves))
	}
	for i, l := range leaves {
		if !strings.Contains(l.Name, "Floor") {
			t.Errorf("leaf %d name %q lacks floor marker", i, l.Name)
		}
		if l.DurationDays != 2 { // ceil(5/3)
			t.Errorf("floor %d duration = %d, want 2", i+1, l.DurationDays)
		}
	}
	// Floor N starts StaggerLagDays after floor N-1.
	for i := 1; i < len(leaves); i++ {
		want := cal.AddWorkingDays(leaves[i-1].StartDate, 2)
		if !leaves[i].StartDate.Equal(want.Time) {
			t.Errorf("floor %d starts %s, want %s", i+1, leaves[i].StartDate, want)
		}
		p := leaves[i].Predecessors[0]
		if p.UID != leaves[i-1].UID || p.Relation != phase.StartToStart || p.LagDays != 2 {
			t.Errorf("floor %d predecessor = %+v", i+1, p)
		}
	}
	// The summary rolls up to the last floor's finish.
	sum := summaryOf(t, s, phase.Structure)
	last := leaves[len(leaves)-1]
	if !sum.FinishDate.Equal(last.FinishDate.Time) {
		t.Errorf("summary finish %s, want %s", sum.FinishDate, last.FinishDate)
	}
}

func TestProcurementLeadTask(t *testing.T) {
	cat := testCatalog()
	cat.Dependencies = nil
	cat.Procurement = map[phase.Phase]phase.Procurement{
		phase.Structure: {Name: "Structural steel order", LeadDays: 20},
	}
	articles := []domain.WbsArticle{
		{Code: "06.01", Quantity: 40}, // 1 worker, 5 days without the lead
	}
	s, err := Sequence("p1", articles, nil, testOptions(cat))
	if err != nil {
		t.Fatal(err)
	}
	cal := calendar.Calendar{}
	var proc *domain.ScheduleTask
	for i := range s.Tasks {
		if s.Tasks[i].Name == "Structural steel order" {
			proc = &s.Tasks[i]
		}
	}
	if proc == nil {
		t.Fatal("procurement task missing")
	}
	if proc.DurationDays != 20 {
		t.Errorf("lead = %d days, want 20", proc.DurationDays)
	}
	if len(proc.Resources) != 0 || proc.Cost != 0 {
		t.Errorf("lead task must carry no labor or cost: %+v", proc)
	}
	sum := summaryOf(t, s, phase.Structure)
	want := cal.AddWorkingDays(s.StartDate, 20)
	if !sum.StartDate.Equal(want.Time) {
		t.Errorf("phase starts %s, want after lead %s", sum.StartDate, want)
	}
	found := false
	for _, p := range sum.Predecessors {
		if p.UID == proc.UID && p.Relation == phase.FinishToStart {
			found = true
		}
	}
	if !found {
		t.Errorf("summary lacks FS predecessor on the lead task: %+v", sum.Predecessors)
	}
}

func TestMilestones(t *testing.T) {
	cat := testCatalog()
	cat.Milestones = []phase.Milestone{{Name: "Foundations complete", After: phase.Foundations}}
	articles := []domain.WbsArticle{{Code: "04.01", Quantity: 80}}
	s, err := Sequence("p1", articles, nil, testOptions(cat))
	if err != nil {
		t.Fatal(err)
	}
	var ms *domain.ScheduleTask
	for i := range s.Tasks {
		if s.Tasks[i].IsMilestone {
			ms = &s.Tasks[i]
		}
	}
	if ms == nil {
		t.Fatal("milestone missing")
	}
	sum := summaryOf(t, s, phase.Foundations)
	if !ms.StartDate.Equal(sum.FinishDate.Time) || ms.DurationDays != 0 {
		t.Errorf("milestone at %s for %d days, want %s for 0", ms.StartDate, ms.DurationDays, sum.FinishDate)
	}
	if ms.Predecessors[0].UID != sum.UID || ms.Predecessors[0].Relation != phase.FinishToStart {
		t.Errorf("milestone predecessor = %+v", ms.Predecessors[0])
	}
}

func TestEmptyPhasesSkipped(t *testing.T) {
	articles := []domain.WbsArticle{{Code: "04.01", Quantity: 80}}
	s, err := Sequence("p1", articles, nil, testOptions(testCatalog()))
	if err != nil {
		t.Fatal(err)
	}
	for _, task := range s.Tasks {
		if task.Phase == phase.Structure {
			t.Errorf("structure task %d scheduled with no articles", task.UID)
		}
	}
	// Unknown codes are dropped entirely.
	s2, err := Sequence("p1", []domain.WbsArticle{{Code: "99.01", Quantity: 80}}, nil, testOptions(testCatalog()))
	if err != nil {
		t.Fatal(err)
	}
	if len(s2.Tasks) != 0 {
		t.Errorf("tasks = %d, want 0 for unmapped codes", len(s2.Tasks))
	}
}

func TestSeasonalInflation(t *testing.T) {
	cat := testCatalog()
	cat.Dependencies = nil
	factors := make([]float64, 12)
	for i := range factors {
		factors[i] = 1
	}
	factors[0] = 0.8 // January

	opts := testOptions(cat)
	opts.StartDate = calendar.NewDate(2025, time.January, 6) // a Monday
	opts.SeasonalFactors = factors

	articles := []domain.WbsArticle{{Code: "04.01", Quantity: 800}} // 10 days at full speed
	s, err := Sequence("p1", articles, nil, opts)
	if err != nil {
		t.Fatal(err)
	}
	sum := summaryOf(t, s, phase.Foundations)
	if sum.DurationDays != 13 { // ceil(10 / 0.8)
		t.Errorf("winter duration = %d, want 13", sum.DurationDays)
	}
}

func TestCostsRollUp(t *testing.T) {
	price := 50.0
	articles := []domain.WbsArticle{
		{Code: "04.01", Quantity: 100, UnitPrice: &price},
		{Code: "06.01", Quantity: 10},
	}
	matches := []domain.PriceMatch{
		{ArticleCode: "06.01", UnitCost: 200, Materials: 120, Labor: 60, Machinery: 20},
	}
	s, err := Sequence("p1", articles, matches, testOptions(testCatalog()))
	if err != nil {
		t.Fatal(err)
	}
	foundations := summaryOf(t, s, phase.Foundations)
	if foundations.Cost != 100*50 {
		t.Errorf("foundations cost = %v, want %v", foundations.Cost, 100*50.0)
	}
	structure := summaryOf(t, s, phase.Structure)
	if structure.Cost != 10*200 {
		t.Errorf("structure cost = %v, want %v", structure.Cost, 10*200.0)
	}
	if structure.MaterialCost != 10*120 {
		t.Errorf("structure materials = %v, want %v", structure.MaterialCost, 10*120.0)
	}
	if s.TotalCost != 100*50+10*200 {
		t.Errorf("total cost = %v", s.TotalCost)
	}
}

func TestSequenceRejectsBadInput(t *testing.T) {
	if _, err := Sequence("p1", nil, nil, Options{Catalog: testCatalog()}); err == nil {
		t.Error("zero start date accepted")
	}
	opts := testOptions(testCatalog())
	opts.SeasonalFactors = []float64{1, 2, 3}
	if _, err := Sequence("p1", nil, nil, opts); err == nil {
		t.Error("short factor table accepted")
	}
	cyclic := testCatalog()
	cyclic.Dependencies = append(cyclic.Dependencies, phase.Dependency{
		Phase: phase.Foundations, Predecessor: phase.Structure, Relation: phase.FinishToStart,
	})
	if _, err := Sequence("p1", nil, nil, testOptions(cyclic)); err == nil {
		t.Error("cyclic catalog accepted")
	}
}
