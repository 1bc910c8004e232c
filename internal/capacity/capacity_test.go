package capacity

import (
	"strings"
	"testing"
	"time"

	"buildplan/internal/calendar"
	"buildplan/internal/domain"
	"buildplan/internal/phase"
)

var (
	cal  = calendar.Calendar{}
	base = calendar.NewDate(2025, time.June, 2) // a Monday
)

func day(n int) calendar.Date {
	return cal.AddWorkingDays(base, n)
}

func crew(units, hours float64) []domain.TaskResource {
	return []domain.TaskResource{{Name: "crew", Kind: domain.ResourceLabor, Units: units, Hours: hours}}
}

func taskByUID(t *testing.T, tasks []domain.ScheduleTask, uid int) domain.ScheduleTask {
	t.Helper()
	for _, task := range tasks {
		if task.UID == uid {
			return task
		}
	}
	t.Fatalf("no task %d", uid)
	return domain.ScheduleTask{}
}

func constraints() Constraints {
	return Constraints{
		Calendar:       cal,
		Catalog:        phase.Catalog{},
		NumberOfFloors: 1,
	}
}

func TestSplitOversizedTask(t *testing.T) {
	s := domain.ProjectSchedule{
		StartDate:  day(0),
		FinishDate: day(15),
		Tasks: []domain.ScheduleTask{
			{UID: 1, IsSummary: true, Phase: phase.Structure, StartDate: day(0), FinishDate: day(10), DurationDays: 10},
			{UID: 2, Phase: phase.Structure, Name: "Frame", StartDate: day(0), FinishDate: day(10),
				DurationDays: 10, DurationHours: 1600, Cost: 2000, Resources: crew(20, 1600),
				Predecessors: []domain.TaskPredecessor{{UID: 1, Relation: phase.StartToStart}}},
			{UID: 3, Phase: phase.Roofing, Name: "Roof", StartDate: day(10), FinishDate: day(15),
				DurationDays: 5, Resources: crew(4, 160),
				Predecessors: []domain.TaskPredecessor{{UID: 2, Relation: phase.FinishToStart}}},
		},
		CriticalPath: []int{1, 2},
	}
	report, err := Optimize(&s, constraints())
	if err != nil {
		t.Fatal(err)
	}

	first := taskByUID(t, report.Tasks, 2)
	second := taskByUID(t, report.Tasks, 4) // max uid 3 + 1
	if first.DurationDays != 5 || second.DurationDays != 5 {
		t.Errorf("halves = %d + %d days, want 5 + 5", first.DurationDays, second.DurationDays)
	}
	if got := first.Workers(); got != 10 {
		t.Errorf("first half workers = %v, want 10", got)
	}
	if got := second.Workers(); got != 10 {
		t.Errorf("second half workers = %v, want 10", got)
	}
	if first.DurationHours+second.DurationHours != 1600 {
		t.Errorf("hours %v + %v, want 1600 total", first.DurationHours, second.DurationHours)
	}
	if first.Cost+second.Cost != 2000 {
		t.Errorf("cost %v + %v, want 2000 total", first.Cost, second.Cost)
	}
	if !second.StartDate.Equal(first.FinishDate.Time) {
		t.Errorf("second half starts %s, want %s", second.StartDate, first.FinishDate)
	}
	p := second.Predecessors[0]
	if p.UID != 2 || p.Relation != phase.FinishToStart {
		t.Errorf("second half predecessor = %+v, want FS on uid 2", p)
	}

	// The dependent waits for the second half now.
	dep := taskByUID(t, report.Tasks, 3)
	if dep.Predecessors[0].UID != 4 {
		t.Errorf("dependent predecessor = %d, want rewired to 4", dep.Predecessors[0].UID)
	}

	// The original task keeps its uid and the split is recorded.
	found := false
	for _, a := range report.Adjustments {
		if a.UID == 2 && strings.Contains(a.Reason, "split") {
			found = true
		}
	}
	if !found {
		t.Errorf("no split adjustment in %+v", report.Adjustments)
	}
}

func TestSplitOddCrewAndShortTasks(t *testing.T) {
	s := domain.ProjectSchedule{
		StartDate:  day(0),
		FinishDate: day(9),
		Tasks: []domain.ScheduleTask{
			{UID: 1, Phase: phase.Structure, Name: "Odd crew", StartDate: day(0), FinishDate: day(9),
				DurationDays: 9, DurationHours: 1512, Resources: crew(21, 1512)},
			// One-day tasks are never split, however large the crew.
			{UID: 2, Phase: phase.Roofing, Name: "Blitz", StartDate: day(0), FinishDate: day(1),
				DurationDays: 1, Resources: crew(15, 120)},
		},
		CriticalPath: []int{1, 2},
	}
	report, err := Optimize(&s, constraints())
	if err != nil {
		t.Fatal(err)
	}
	first := taskByUID(t, report.Tasks, 1)
	second := taskByUID(t, report.Tasks, 3)
	if first.DurationDays != 5 || second.DurationDays != 4 {
		t.Errorf("halves = %d + %d days, want 5 + 4", first.DurationDays, second.DurationDays)
	}
	if first.Workers() != 11 || second.Workers() != 10 {
		t.Errorf("workers = %v + %v, want 11 + 10", first.Workers(), second.Workers())
	}
	blitz := taskByUID(t, report.Tasks, 2)
	if blitz.DurationDays != 1 {
		t.Errorf("one-day task was modified: %+v", blitz)
	}
	if len(report.Tasks) != 3 {
		t.Errorf("tasks = %d, want 3", len(report.Tasks))
	}
}

func TestSplitRewiresAllDependents(t *testing.T) {
	s := domain.ProjectSchedule{
		StartDate:  day(0),
		FinishDate: day(15),
		Tasks: []domain.ScheduleTask{
			{UID: 1, Phase: phase.Structure, Name: "Frame", StartDate: day(0), FinishDate: day(10),
				DurationDays: 10, DurationHours: 1600, Resources: crew(20, 1600)},
			{UID: 2, Phase: phase.Roofing, Name: "Roof", StartDate: day(10), FinishDate: day(15),
				DurationDays: 5, Resources: crew(4, 160),
				Predecessors: []domain.TaskPredecessor{{UID: 1, Relation: phase.FinishToStart}}},
			{UID: 3, Phase: phase.Facade, Name: "Cladding", StartDate: day(10), FinishDate: day(14),
				DurationDays: 4, Resources: crew(3, 96),
				Predecessors: []domain.TaskPredecessor{{UID: 1, Relation: phase.StartToStart, LagDays: 10}}},
		},
		CriticalPath: []int{1},
	}
	report, err := Optimize(&s, constraints())
	if err != nil {
		t.Fatal(err)
	}

	// Every dependent of the split task waits on the second half, whatever
	// the relation.
	secondUID := 4
	roof := taskByUID(t, report.Tasks, 2)
	if p := roof.Predecessors[0]; p.UID != secondUID || p.Relation != phase.FinishToStart {
		t.Errorf("FS dependent predecessor = %+v, want FS on %d", p, secondUID)
	}
	cladding := taskByUID(t, report.Tasks, 3)
	if p := cladding.Predecessors[0]; p.UID != secondUID || p.Relation != phase.StartToStart || p.LagDays != 10 {
		t.Errorf("SS dependent predecessor = %+v, want SS+10 on %d", p, secondUID)
	}
	if len(report.Adjustments) != 1 {
		t.Errorf("adjustments = %+v, want the split only", report.Adjustments)
	}
}

func TestLevelingStaysInsideSummaryWindow(t *testing.T) {
	// Two foundations crews overlap over the 12-worker ceiling. The later
	// crew has room to slide, but only up to the foundations summary finish:
	// structure depends on that window.
	s := domain.ProjectSchedule{
		StartDate:  day(0),
		FinishDate: day(12),
		Tasks: []domain.ScheduleTask{
			{UID: 1, IsSummary: true, Phase: phase.Foundations, StartDate: day(0), FinishDate: day(6), DurationDays: 6},
			{UID: 2, Phase: phase.Foundations, Name: "Footings", StartDate: day(2), FinishDate: day(6),
				DurationDays: 4, Resources: crew(8, 256),
				Predecessors: []domain.TaskPredecessor{{UID: 1, Relation: phase.StartToStart, LagDays: 2}}},
			{UID: 3, Phase: phase.Foundations, Name: "Excavation", StartDate: day(0), FinishDate: day(4),
				DurationDays: 4, Resources: crew(8, 256),
				Predecessors: []domain.TaskPredecessor{{UID: 1, Relation: phase.StartToStart}}},
			{UID: 4, IsSummary: true, Phase: phase.Structure, StartDate: day(6), FinishDate: day(12), DurationDays: 6,
				Predecessors: []domain.TaskPredecessor{{UID: 1, Relation: phase.FinishToStart}}},
			{UID: 5, Phase: phase.Structure, Name: "Frame", StartDate: day(6), FinishDate: day(12),
				DurationDays: 6, Resources: crew(5, 240),
				Predecessors: []domain.TaskPredecessor{{UID: 4, Relation: phase.StartToStart}}},
		},
		CriticalPath: []int{1, 2, 4, 5},
	}
	report, err := Optimize(&s, constraints())
	if err != nil {
		t.Fatal(err)
	}

	summary := taskByUID(t, report.Tasks, 1)
	excavation := taskByUID(t, report.Tasks, 3)
	if excavation.FinishDate.After(summary.FinishDate.Time) {
		t.Errorf("leveled leaf finishes %s, after its summary %s", excavation.FinishDate, summary.FinishDate)
	}
	if !excavation.StartDate.Equal(day(2).Time) || !excavation.FinishDate.Equal(day(6).Time) {
		t.Errorf("excavation = %s to %s, want slid to day 2..6", excavation.StartDate, excavation.FinishDate)
	}
	if len(report.Adjustments) != 2 {
		t.Errorf("adjustments = %d, want 2 one-day moves", len(report.Adjustments))
	}

	// The summary window is rolled up from the moved leaves.
	if !summary.StartDate.Equal(day(2).Time) || !summary.FinishDate.Equal(day(6).Time) || summary.DurationDays != 4 {
		t.Errorf("summary = %s to %s over %d days, want rolled up to day 2..6 over 4",
			summary.StartDate, summary.FinishDate, summary.DurationDays)
	}
	structure := taskByUID(t, report.Tasks, 4)
	if !structure.StartDate.Equal(day(6).Time) || !structure.FinishDate.Equal(day(12).Time) {
		t.Errorf("structure summary moved: %s to %s", structure.StartDate, structure.FinishDate)
	}

	// Both crews still overlap at the cap boundary; the leftover overload is
	// reported.
	hasLabor := false
	for _, b := range report.Bottlenecks {
		if b.Kind == domain.BottleneckLabor {
			hasLabor = true
		}
	}
	if !hasLabor {
		t.Error("residual labor bottleneck not reported")
	}
}

func TestLevelingNeverMovesCriticalTasks(t *testing.T) {
	// Critical task (8 days) and a parallel non-critical one (5 days, 3 days
	// of float) together exceed the 12-worker ceiling.
	s := domain.ProjectSchedule{
		StartDate:  day(0),
		FinishDate: day(8),
		Tasks: []domain.ScheduleTask{
			{UID: 1, Phase: phase.Structure, Name: "Critical", StartDate: day(0), FinishDate: day(8),
				DurationDays: 8, Resources: crew(8, 512)},
			{UID: 2, Phase: phase.Facade, Name: "Floater", StartDate: day(0), FinishDate: day(5),
				DurationDays: 5, Resources: crew(8, 320)},
		},
		CriticalPath: []int{1},
	}
	report, err := Optimize(&s, constraints())
	if err != nil {
		t.Fatal(err)
	}

	critical := taskByUID(t, report.Tasks, 1)
	if !critical.StartDate.Equal(day(0).Time) || !critical.FinishDate.Equal(day(8).Time) {
		t.Errorf("critical task moved: %s to %s", critical.StartDate, critical.FinishDate)
	}

	// The floater is delayed until its float runs out, never past the
	// project finish.
	floater := taskByUID(t, report.Tasks, 2)
	if !floater.StartDate.Equal(day(3).Time) {
		t.Errorf("floater starts %s, want %s", floater.StartDate, day(3))
	}
	if floater.FinishDate.After(day(8).Time) {
		t.Errorf("floater finish %s extends the project", floater.FinishDate)
	}
	if len(report.Adjustments) != 3 {
		t.Errorf("adjustments = %d, want 3 one-day moves", len(report.Adjustments))
	}

	// The overload cannot be fully repaired by leveling alone; it must be
	// reported, not hidden.
	hasLabor := false
	for _, b := range report.Bottlenecks {
		if b.Kind == domain.BottleneckLabor {
			hasLabor = true
		}
	}
	if !hasLabor {
		t.Error("residual labor bottleneck not reported")
	}
	if len(report.Suggestions) == 0 {
		t.Error("no suggestions for residual bottleneck")
	}
}

func TestEquipmentConflictDetected(t *testing.T) {
	c := constraints()
	c.Catalog = phase.Catalog{
		EquipmentNeeds: map[phase.Phase][]string{
			phase.Structure: {"crane"},
			phase.Roofing:   {"crane"},
		},
	}
	s := domain.ProjectSchedule{
		StartDate:  day(0),
		FinishDate: day(5),
		Tasks: []domain.ScheduleTask{
			{UID: 1, Phase: phase.Structure, StartDate: day(0), FinishDate: day(5), DurationDays: 5, Resources: crew(4, 160)},
			{UID: 2, Phase: phase.Roofing, StartDate: day(0), FinishDate: day(5), DurationDays: 5, Resources: crew(4, 160)},
		},
	}
	report, err := Optimize(&s, c)
	if err != nil {
		t.Fatal(err)
	}
	found := false
	for _, b := range report.Bottlenecks {
		if b.Kind == domain.BottleneckEquipment && strings.Contains(b.Detail, "crane") {
			found = true
		}
	}
	if !found {
		t.Errorf("crane contention not reported: %+v", report.Bottlenecks)
	}
}

func TestPhaseConflictSequencing(t *testing.T) {
	c := constraints()
	c.Catalog = phase.Catalog{
		OverlapRules: []phase.OverlapRule{
			{PhaseA: phase.Plastering, PhaseB: phase.Painting, CanOverlap: false, MinimumGapDays: 3, Reason: "plaster must dry before paint"},
		},
	}
	s := domain.ProjectSchedule{
		StartDate:  day(0),
		FinishDate: day(10),
		Tasks: []domain.ScheduleTask{
			{UID: 1, Phase: phase.Plastering, StartDate: day(0), FinishDate: day(5), DurationDays: 5, Resources: crew(4, 160)},
			{UID: 2, Phase: phase.Painting, StartDate: day(6), FinishDate: day(10), DurationDays: 4, Resources: crew(4, 128)},
		},
	}
	report, err := Optimize(&s, c)
	if err != nil {
		t.Fatal(err)
	}
	painting := taskByUID(t, report.Tasks, 2)
	want := cal.AddWorkingDays(day(5), 3)
	if !painting.StartDate.Equal(want.Time) {
		t.Errorf("painting starts %s, want %s after the drying gap", painting.StartDate, want)
	}
	found := false
	for _, a := range report.Adjustments {
		if strings.Contains(a.Reason, "phase conflict") {
			found = true
		}
	}
	if !found {
		t.Errorf("no phase conflict adjustment: %+v", report.Adjustments)
	}
	if len(report.Bottlenecks) != 0 {
		t.Errorf("residual bottlenecks after sequencing: %+v", report.Bottlenecks)
	}
}

func TestCleanScheduleUntouched(t *testing.T) {
	s := domain.ProjectSchedule{
		StartDate:  day(0),
		FinishDate: day(5),
		Tasks: []domain.ScheduleTask{
			{UID: 1, Phase: phase.Foundations, StartDate: day(0), FinishDate: day(5), DurationDays: 5, Resources: crew(6, 240)},
		},
	}
	report, err := Optimize(&s, constraints())
	if err != nil {
		t.Fatal(err)
	}
	if len(report.Adjustments) != 0 || len(report.Bottlenecks) != 0 {
		t.Errorf("clean schedule adjusted: %+v %+v", report.Adjustments, report.Bottlenecks)
	}
	if report.PeakWorkersBefore != 6 || report.PeakWorkersAfter != 6 {
		t.Errorf("peaks = %v/%v, want 6/6", report.PeakWorkersBefore, report.PeakWorkersAfter)
	}
	if report.DurationDeltaDays != 0 {
		t.Errorf("duration delta = %d, want 0", report.DurationDeltaDays)
	}
}
