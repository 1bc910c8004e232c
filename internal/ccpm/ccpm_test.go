package ccpm

import (
	"testing"
	"time"

	"buildplan/internal/calendar"
	"buildplan/internal/domain"
	"buildplan/internal/phase"
	"buildplan/internal/sequencer"
)

func testCatalog() phase.Catalog {
	return phase.Catalog{
		Order: []phase.Phase{phase.Foundations, phase.Structure},
		Dependencies: []phase.Dependency{
			{Phase: phase.Structure, Predecessor: phase.Foundations, Relation: phase.FinishToStart},
		},
		Productivity:  map[string]float64{"04": 1, "06": 1},
		DefaultRate:   1,
		PhasePrefixes: map[string]phase.Phase{"04": phase.Foundations, "06": phase.Structure},
	}
}

func baseline(t *testing.T, articles []domain.WbsArticle) domain.ProjectSchedule {
	t.Helper()
	s, err := sequencer.Sequence("p1", articles, nil, sequencer.Options{
		Calendar:        calendar.Calendar{},
		Catalog:         testCatalog(),
		StartDate:       calendar.NewDate(2025, time.June, 2),
		NumberOfFloors:  1,
		MaxWorkers:      10,
		SeasonalFactors: []float64{1, 1, 1, 1, 1, 1, 1, 1, 1, 1, 1, 1},
	})
	if err != nil {
		t.Fatal(err)
	}
	return s
}

func TestAggressiveDurations(t *testing.T) {
	// Foundations 10 days, structure 15 days.
	s := baseline(t, []domain.WbsArticle{
		{Code: "04.01", Quantity: 800},
		{Code: "06.01", Quantity: 1200},
	})
	data, err := Apply(&s, Options{Calendar: calendar.Calendar{}, Catalog: testCatalog(), SafetyReduction: 0.5})
	if err != nil {
		t.Fatal(err)
	}
	durs := map[phase.Phase]int{}
	for _, task := range data.Tasks {
		durs[task.Phase] = task.DurationDays
	}
	// Half the safety stripped: 10 -> 5, 15 -> 8.
	if durs[phase.Foundations] != 5 {
		t.Errorf("foundations aggressive = %d, want 5", durs[phase.Foundations])
	}
	if durs[phase.Structure] != 8 {
		t.Errorf("structure aggressive = %d, want 8", durs[phase.Structure])
	}
	if data.AggressiveDurationDays != 13 {
		t.Errorf("aggressive total = %d, want 13", data.AggressiveDurationDays)
	}
	// Project buffer: ceil(0.5 * sqrt(5^2 + 7^2)) = 5.
	if data.ProjectBufferDays != 5 {
		t.Errorf("project buffer = %d, want 5", data.ProjectBufferDays)
	}
	if data.CCPMDurationDays != data.AggressiveDurationDays+data.ProjectBufferDays {
		t.Errorf("ccpm duration %d != aggressive %d + buffer %d",
			data.CCPMDurationDays, data.AggressiveDurationDays, data.ProjectBufferDays)
	}
	if data.OriginalDurationDays != 25 {
		t.Errorf("original = %d, want 25", data.OriginalDurationDays)
	}

	cal := calendar.Calendar{}
	want := cal.AddWorkingDays(s.StartDate, data.CCPMDurationDays)
	if !data.FinishDate.Equal(want.Time) {
		t.Errorf("finish = %s, want %s", data.FinishDate, want)
	}

	if len(data.Buffers) == 0 || data.Buffers[0].Type != domain.ProjectBuffer {
		t.Fatalf("buffers = %+v, want project buffer first", data.Buffers)
	}
	pb := data.Buffers[0]
	if pb.DurationDays != 5 || pb.Zone != domain.ZoneGreen || pb.ConsumedPercent != 0 {
		t.Errorf("project buffer = %+v", pb)
	}
}

func TestRescheduleKeepsDependencies(t *testing.T) {
	s := baseline(t, []domain.WbsArticle{
		{Code: "04.01", Quantity: 800},
		{Code: "06.01", Quantity: 1200},
	})
	data, err := Apply(&s, Options{Calendar: calendar.Calendar{}, Catalog: testCatalog(), SafetyReduction: 0.5})
	if err != nil {
		t.Fatal(err)
	}
	byPhase := map[phase.Phase]domain.ScheduleTask{}
	for _, task := range data.Tasks {
		byPhase[task.Phase] = task
	}
	f, st := byPhase[phase.Foundations], byPhase[phase.Structure]
	if !st.StartDate.Equal(f.FinishDate.Time) {
		t.Errorf("aggressive structure starts %s, want foundations finish %s", st.StartDate, f.FinishDate)
	}
}

func TestFeedingBuffers(t *testing.T) {
	// Elevators feeds structure off the critical chain.
	cat := testCatalog()
	cat.Order = []phase.Phase{phase.Foundations, phase.Elevators, phase.Structure}
	cat.Dependencies = []phase.Dependency{
		{Phase: phase.Structure, Predecessor: phase.Foundations, Relation: phase.FinishToStart},
		{Phase: phase.Structure, Predecessor: phase.Elevators, Relation: phase.FinishToStart},
	}
	cat.Productivity["17"] = 1
	cat.PhasePrefixes["17"] = phase.Elevators

	s, err := sequencer.Sequence("p1", []domain.WbsArticle{
		{Code: "04.01", Quantity: 800},  // 10 days
		{Code: "17.01", Quantity: 160},  // 4 workers, 5 days
		{Code: "06.01", Quantity: 1200}, // 15 days
	}, nil, sequencer.Options{
		Calendar:        calendar.Calendar{},
		Catalog:         cat,
		StartDate:       calendar.NewDate(2025, time.June, 2),
		NumberOfFloors:  1,
		MaxWorkers:      10,
		SeasonalFactors: []float64{1, 1, 1, 1, 1, 1, 1, 1, 1, 1, 1, 1},
	})
	if err != nil {
		t.Fatal(err)
	}
	data, err := Apply(&s, Options{Calendar: calendar.Calendar{}, Catalog: cat, SafetyReduction: 0.5})
	if err != nil {
		t.Fatal(err)
	}
	var feeding []domain.CriticalChainBuffer
	for _, b := range data.Buffers {
		if b.Type == domain.FeedingBuffer {
			feeding = append(feeding, b)
		}
	}
	if len(feeding) != 1 {
		t.Fatalf("feeding buffers = %d, want 1", len(feeding))
	}
	fb := feeding[0]
	if fb.ProtectsTaskUID == nil {
		t.Fatal("feeding buffer protects nothing")
	}
	if len(fb.FeedingChainUIDs) != 1 {
		t.Errorf("feeding chain = %v, want the elevators summary only", fb.FeedingChainUIDs)
	}
	// Placed immediately before the merge point.
	cal := calendar.Calendar{}
	if got := cal.WorkingDaysBetween(fb.StartDate, fb.FinishDate); got != fb.DurationDays {
		t.Errorf("buffer spans %d days, want %d", got, fb.DurationDays)
	}
}

func TestRescheduleHonorsProcurementLead(t *testing.T) {
	// Structural steel needs 20 working days of lead time. Foundations
	// shrink to 5 aggressive days, but structure still cannot start before
	// the steel arrives.
	cat := testCatalog()
	cat.Procurement = map[phase.Phase]phase.Procurement{
		phase.Structure: {Name: "Structural steel order", LeadDays: 20},
	}
	s, err := sequencer.Sequence("p1", []domain.WbsArticle{
		{Code: "04.01", Quantity: 800},
		{Code: "06.01", Quantity: 1200},
	}, nil, sequencer.Options{
		Calendar:        calendar.Calendar{},
		Catalog:         cat,
		StartDate:       calendar.NewDate(2025, time.June, 2),
		NumberOfFloors:  1,
		MaxWorkers:      10,
		SeasonalFactors: []float64{1, 1, 1, 1, 1, 1, 1, 1, 1, 1, 1, 1},
	})
	if err != nil {
		t.Fatal(err)
	}
	data, err := Apply(&s, Options{Calendar: calendar.Calendar{}, Catalog: cat, SafetyReduction: 0.5})
	if err != nil {
		t.Fatal(err)
	}
	cal := calendar.Calendar{}
	ready := cal.AddWorkingDays(s.StartDate, 20)
	for _, task := range data.Tasks {
		if task.Phase != phase.Structure {
			continue
		}
		if task.StartDate.Before(ready.Time) {
			t.Errorf("structure starts %s, before steel arrives %s", task.StartDate, ready)
		}
		if !task.StartDate.Equal(ready.Time) {
			t.Errorf("structure starts %s, want %s", task.StartDate, ready)
		}
	}
}

func TestZeroSafetyReductionKeepsDurations(t *testing.T) {
	s := baseline(t, []domain.WbsArticle{
		{Code: "04.01", Quantity: 800},
		{Code: "06.01", Quantity: 1200},
	})
	data, err := Apply(&s, Options{Calendar: calendar.Calendar{}, Catalog: testCatalog(), SafetyReduction: 0})
	if err != nil {
		t.Fatal(err)
	}
	durs := map[phase.Phase]int{}
	for _, task := range data.Tasks {
		durs[task.Phase] = task.DurationDays
	}
	if durs[phase.Foundations] != 10 || durs[phase.Structure] != 15 {
		t.Errorf("durations = %v, want originals 10 and 15", durs)
	}
	if data.AggressiveDurationDays != data.OriginalDurationDays {
		t.Errorf("aggressive = %d, want original %d", data.AggressiveDurationDays, data.OriginalDurationDays)
	}
}

func TestApplyRejectsBadSafetyReduction(t *testing.T) {
	s := baseline(t, []domain.WbsArticle{{Code: "04.01", Quantity: 800}})
	for _, sr := range []float64{-0.1, 1, 1.5} {
		if _, err := Apply(&s, Options{Calendar: calendar.Calendar{}, Catalog: testCatalog(), SafetyReduction: sr}); err == nil {
			t.Errorf("safety reduction %v accepted", sr)
		}
	}
}

func TestTrackBufferZones(t *testing.T) {
	b := domain.CriticalChainBuffer{Type: domain.ProjectBuffer, DurationDays: 10, Zone: domain.ZoneGreen}

	cases := []struct {
		completion float64
		delay      float64
		zone       domain.BufferZone
		consumed   float64
	}{
		{50, 1, domain.ZoneGreen, 10},
		{50, 2, domain.ZoneYellow, 20},
		{50, 4, domain.ZoneRed, 40},
		{50, 20, domain.ZoneRed, 100}, // clamped
		{100, 3, domain.ZoneGreen, 30},
	}
	for _, c := range cases {
		got := TrackBuffer(b, c.completion, c.delay)
		if got.Zone != c.zone || got.ConsumedPercent != c.consumed {
			t.Errorf("completion %v delay %v: got %s/%v, want %s/%v",
				c.completion, c.delay, got.Zone, got.ConsumedPercent, c.zone, c.consumed)
		}
	}
}

func TestTrackBufferMonotonic(t *testing.T) {
	b := domain.CriticalChainBuffer{Type: domain.ProjectBuffer, DurationDays: 10}
	rank := map[domain.BufferZone]int{domain.ZoneGreen: 0, domain.ZoneYellow: 1, domain.ZoneRed: 2}
	prev := -1
	for delay := 0.0; delay <= 12; delay++ {
		got := TrackBuffer(b, 60, delay)
		if r := rank[got.Zone]; r < prev {
			t.Fatalf("zone regressed to %s at delay %v", got.Zone, delay)
		} else {
			prev = r
		}
	}
}
