// Package capacity detects and repairs site capacity violations: daily labor
// demand over the site ceiling, equipment double-booking and phase overlap
// breaches. Repairs run in a fixed order (resource leveling, task
// splitting, then phase-conflict sequencing as a safety net) and whatever
// cannot be repaired is surfaced as bottleneck output, never as an error.
package capacity

import (
	"fmt"
	"math"
	"sort"

	"buildplan/internal/calendar"
	"buildplan/internal/cpath"
	"buildplan/internal/domain"
	"buildplan/internal/phase"
)

const (
	// DefaultWorkersPerFloor is the per-site-floor labor ceiling.
	DefaultWorkersPerFloor = 12
	// DefaultSplitThreshold is the worker count above which a leaf task is
	// split in half.
	DefaultSplitThreshold = 8
	// DefaultLevelingIterations bounds the greedy leveling loop.
	DefaultLevelingIterations = 50
)

// DefaultEquipmentLimits is the simultaneous-use table applied when the
// caller does not override it.
var DefaultEquipmentLimits = map[string]int{
	"crane":         1,
	"concrete_pump": 1,
	"excavator":     2,
	"scaffolding":   2,
}

// Constraints parameterize one optimization pass.
type Constraints struct {
	Calendar           calendar.Calendar
	Catalog            phase.Catalog
	NumberOfFloors     int
	WorkersPerFloorCap int
	EquipmentLimits    map[string]int
	SplitThreshold     int
	LevelingIterations int
}

func (c *Constraints) defaults() {
	if c.WorkersPerFloorCap <= 0 {
		c.WorkersPerFloorCap = DefaultWorkersPerFloor
	}
	if c.EquipmentLimits == nil {
		c.EquipmentLimits = DefaultEquipmentLimits
	}
	if c.SplitThreshold <= 0 {
		c.SplitThreshold = DefaultSplitThreshold
	}
	if c.LevelingIterations <= 0 {
		c.LevelingIterations = DefaultLevelingIterations
	}
	if c.NumberOfFloors < 1 {
		c.NumberOfFloors = 1
	}
}

// siteCap is the total daily labor ceiling for the site.
func (c Constraints) siteCap() float64 {
	return float64(c.WorkersPerFloorCap * c.NumberOfFloors)
}

// Optimize analyzes the schedule and, when violations exist, repairs them.
// The input schedule is not modified; the report carries the adjusted task
// list.
func Optimize(s *domain.ProjectSchedule, c Constraints) (*domain.CapacityReport, error) {
	c.defaults()
	cal := c.Calendar

	tasks := make([]domain.ScheduleTask, len(s.Tasks))
	copy(tasks, s.Tasks)
	for i := range tasks {
		tasks[i].Predecessors = append([]domain.TaskPredecessor(nil), tasks[i].Predecessors...)
		tasks[i].Resources = append([]domain.TaskResource(nil), tasks[i].Resources...)
	}

	before := buildTimeline(tasks, cal, c.Catalog)
	violations := detect(tasks, before, c)

	report := &domain.CapacityReport{
		PeakWorkersBefore: peakWorkers(before),
	}

	if len(violations) > 0 {
		lev := level(tasks, s.CriticalPath, c)
		report.Adjustments = append(report.Adjustments, lev...)

		var split []domain.TaskAdjustment
		tasks, split = splitOversized(tasks, c)
		report.Adjustments = append(report.Adjustments, split...)

		seq := sequencePhaseConflicts(tasks, c)
		report.Adjustments = append(report.Adjustments, seq...)

		rollUpSummaries(tasks, cal)
	}

	after := buildTimeline(tasks, cal, c.Catalog)
	residual := detect(tasks, after, c)

	report.Tasks = tasks
	report.Timeline = after
	report.Bottlenecks = residual
	report.PeakWorkersAfter = peakWorkers(after)
	report.FinishDate = latestFinish(tasks)
	report.DurationDeltaDays = cal.WorkingDaysBetween(s.FinishDate, report.FinishDate)
	report.UtilizationBefore = utilization(before, c.siteCap())
	report.UtilizationAfter = utilization(after, c.siteCap())
	report.Suggestions = suggest(residual, c)
	return report, nil
}

// buildTimeline produces the per-working-day demand histogram: labor units
// over all active leaves, and simultaneous phase counts per equipment type.
func buildTimeline(tasks []domain.ScheduleTask, cal calendar.Calendar, cat phase.Catalog) []domain.CapacityPoint {
	start, finish := span(tasks)
	if start.IsZero() || !finish.After(start.Time) {
		return nil
	}
	var out []domain.CapacityPoint
	for d := cal.NextWorkingDay(start); d.Before(finish.Time); d = cal.AddWorkingDays(d, 1) {
		pt := domain.CapacityPoint{Date: d}
		activePhases := map[phase.Phase]bool{}
		for _, t := range tasks {
			if t.IsSummary || t.IsMilestone || !activeOn(t, d) {
				continue
			}
			pt.Workers += t.Workers()
			if t.Phase != "" {
				activePhases[t.Phase] = true
			}
		}
		for p := range activePhases {
			for _, eq := range cat.EquipmentNeeds[p] {
				if pt.Equipment == nil {
					pt.Equipment = map[string]int{}
				}
				pt.Equipment[eq]++
			}
		}
		out = append(out, pt)
	}
	return out
}

func activeOn(t domain.ScheduleTask, d calendar.Date) bool {
	return !d.Before(t.StartDate.Time) && d.Before(t.FinishDate.Time)
}

func span(tasks []domain.ScheduleTask) (calendar.Date, calendar.Date) {
	var start, finish calendar.Date
	for _, t := range tasks {
		if start.IsZero() || t.StartDate.Before(start.Time) {
			start = t.StartDate
		}
		if t.FinishDate.After(finish.Time) {
			finish = t.FinishDate
		}
	}
	return start, finish
}

func latestFinish(tasks []domain.ScheduleTask) calendar.Date {
	_, f := span(tasks)
	return f
}

// detect flags labor overloads, equipment conflicts and overlap breaches.
func detect(tasks []domain.ScheduleTask, timeline []domain.CapacityPoint, c Constraints) []domain.Bottleneck {
	var out []domain.Bottleneck
	cap := c.siteCap()
	for _, pt := range timeline {
		if pt.Workers > cap {
			out = append(out, domain.Bottleneck{
				Date:     pt.Date,
				Kind:     domain.BottleneckLabor,
				Detail:   fmt.Sprintf("%.0f workers on site, ceiling %.0f", pt.Workers, cap),
				Overload: pt.Workers - cap,
				Severity: laborSeverity(pt.Workers, cap),
			})
		}
		for eq, n := range pt.Equipment {
			limit, ok := c.EquipmentLimits[eq]
			if !ok || n <= limit {
				continue
			}
			sev := domain.SeverityMedium
			if n > limit+1 {
				sev = domain.SeverityHigh
			}
			out = append(out, domain.Bottleneck{
				Date:     pt.Date,
				Kind:     domain.BottleneckEquipment,
				Detail:   fmt.Sprintf("%d phases need %s, limit %d", n, eq, limit),
				Overload: float64(n - limit),
				Severity: sev,
			})
		}
	}
	out = append(out, detectOverlaps(tasks, c)...)
	return out
}

func laborSeverity(workers, cap float64) domain.Severity {
	switch ratio := workers / cap; {
	case ratio > 1.5:
		return domain.SeverityHigh
	case ratio > 1.2:
		return domain.SeverityMedium
	default:
		return domain.SeverityLow
	}
}

// detectOverlaps checks every cannot-overlap rule against the actual phase
// windows.
func detectOverlaps(tasks []domain.ScheduleTask, c Constraints) []domain.Bottleneck {
	windows := phaseWindows(tasks)
	var out []domain.Bottleneck
	for _, r := range c.Catalog.OverlapRules {
		if r.CanOverlap {
			continue
		}
		wa, okA := windows[r.PhaseA]
		wb, okB := windows[r.PhaseB]
		if !okA || !okB {
			continue
		}
		first, second := wa, wb
		firstPhase, secondPhase := r.PhaseA, r.PhaseB
		if wb.start.Before(wa.start.Time) {
			first, second = wb, wa
			firstPhase, secondPhase = r.PhaseB, r.PhaseA
		}
		required := c.Calendar.AddWorkingDays(first.finish, r.MinimumGapDays)
		if second.start.Before(required.Time) {
			out = append(out, domain.Bottleneck{
				Date:     second.start,
				Kind:     domain.BottleneckOverlap,
				Detail:   fmt.Sprintf("%s starts before %s clears (%s)", secondPhase, firstPhase, r.Reason),
				Overload: float64(c.Calendar.WorkingDaysBetween(second.start, required)),
				Severity: domain.SeverityHigh,
			})
		}
	}
	return out
}

type window struct {
	start, finish calendar.Date
}

func phaseWindows(tasks []domain.ScheduleTask) map[phase.Phase]window {
	out := map[phase.Phase]window{}
	for _, t := range tasks {
		if t.Phase == "" || t.IsSummary || t.IsMilestone {
			continue
		}
		w, ok := out[t.Phase]
		if !ok {
			out[t.Phase] = window{t.StartDate, t.FinishDate}
			continue
		}
		if t.StartDate.Before(w.start.Time) {
			w.start = t.StartDate
		}
		if t.FinishDate.After(w.finish.Time) {
			w.finish = t.FinishDate
		}
		out[t.Phase] = w
	}
	return out
}

// level runs the iterative greedy resource leveling: find the single worst
// overloaded day, delay the non-critical active task with the largest
// positive float by one working day, repeat. Critical tasks are never
// moved.
func level(tasks []domain.ScheduleTask, criticalPath []int, c Constraints) []domain.TaskAdjustment {
	cal := c.Calendar
	cap := c.siteCap()
	var adjustments []domain.TaskAdjustment

	for iter := 0; iter < c.LevelingIterations; iter++ {
		timeline := buildTimeline(tasks, cal, c.Catalog)
		worstIdx := -1
		worst := 0.0
		for i, pt := range timeline {
			if excess := pt.Workers - cap; excess > worst {
				worst = excess
				worstIdx = i
			}
		}
		if worstIdx < 0 {
			break
		}
		day := timeline[worstIdx].Date
		floats := cpath.Floats(tasks, cal, criticalPath)

		// Candidates active on the worst day, largest float first; ties by
		// encounter order.
		type cand struct {
			idx   int
			float int
		}
		var cands []cand
		for i, t := range tasks {
			if t.IsSummary || t.IsMilestone || !activeOn(t, day) {
				continue
			}
			f := floats[t.UID]
			if f.IsCritical || f.TotalFloatDays <= 0 {
				continue
			}
			cands = append(cands, cand{idx: i, float: f.TotalFloatDays})
		}
		sort.SliceStable(cands, func(a, b int) bool { return cands[a].float > cands[b].float })

		moved := false
		for _, cd := range cands {
			t := tasks[cd.idx]
			shifted := t
			shifted.StartDate = cal.AddWorkingDays(t.StartDate, 1)
			shifted.FinishDate = cal.AddWorkingDays(t.FinishDate, 1)
			if !moveKeepsSuccessorsSound(tasks, cd.idx, shifted, cal) {
				continue
			}
			adjustments = append(adjustments, domain.TaskAdjustment{
				UID:       t.UID,
				Name:      t.Name,
				OldStart:  t.StartDate,
				OldFinish: t.FinishDate,
				NewStart:  shifted.StartDate,
				NewFinish: shifted.FinishDate,
				Reason:    fmt.Sprintf("resource leveling: %s overloaded by %.0f workers", day, worst),
			})
			tasks[cd.idx] = shifted
			moved = true
			break
		}
		if !moved {
			break
		}
	}
	return adjustments
}

// moveKeepsSuccessorsSound verifies that shifting tasks[idx] to its new
// dates violates no successor's predecessor constraint.
func moveKeepsSuccessorsSound(tasks []domain.ScheduleTask, idx int, shifted domain.ScheduleTask, cal calendar.Calendar) bool {
	uid := tasks[idx].UID
	for _, t := range tasks {
		for _, p := range t.Predecessors {
			if p.UID != uid {
				continue
			}
			var implied calendar.Date
			switch p.Relation {
			case phase.StartToStart:
				implied = cal.AddWorkingDays(shifted.StartDate, p.LagDays)
			default:
				implied = cal.AddWorkingDays(shifted.FinishDate, p.LagDays)
			}
			if t.StartDate.Before(implied.Time) {
				return false
			}
		}
	}
	return true
}

// splitOversized halves any leaf whose crew exceeds the threshold: the first
// half keeps the original uid so incoming references stay valid, the second
// half gets a new uid, an FS dependency on the first, and inherits every
// dependent of the original.
func splitOversized(tasks []domain.ScheduleTask, c Constraints) ([]domain.ScheduleTask, []domain.TaskAdjustment) {
	cal := c.Calendar
	maxUID := 0
	for _, t := range tasks {
		if t.UID > maxUID {
			maxUID = t.UID
		}
	}
	var adjustments []domain.TaskAdjustment
	var added []domain.ScheduleTask
	for i := range tasks {
		t := tasks[i]
		if t.IsSummary || t.IsMilestone || t.DurationDays < 2 {
			continue
		}
		workers := t.Workers()
		if workers <= float64(c.SplitThreshold) {
			continue
		}

		firstDays := (t.DurationDays + 1) / 2
		secondDays := t.DurationDays - firstDays
		mid := cal.AddWorkingDays(t.StartDate, firstDays)
		maxUID++
		secondUID := maxUID

		second := t
		second.UID = secondUID
		second.Name = t.Name + " (2/2)"
		second.StartDate = mid
		second.FinishDate = cal.AddWorkingDays(mid, secondDays)
		second.DurationDays = secondDays
		second.DurationHours = t.DurationHours - t.DurationHours/2
		second.Cost = t.Cost - t.Cost/2
		second.MaterialCost = t.MaterialCost - t.MaterialCost/2
		second.Predecessors = []domain.TaskPredecessor{{UID: t.UID, Relation: phase.FinishToStart}}
		second.Resources = splitResources(t.Resources, math.Floor(workers/2))

		first := t
		first.Name = t.Name + " (1/2)"
		first.FinishDate = mid
		first.DurationDays = firstDays
		first.DurationHours = t.DurationHours / 2
		first.Cost = t.Cost / 2
		first.MaterialCost = t.MaterialCost / 2
		first.Resources = splitResources(t.Resources, math.Ceil(workers/2))

		// Dependents of the original now wait for true completion.
		for j := range tasks {
			if j == i {
				continue
			}
			for k := range tasks[j].Predecessors {
				if tasks[j].Predecessors[k].UID == t.UID {
					tasks[j].Predecessors[k].UID = secondUID
				}
			}
		}

		tasks[i] = first
		added = append(added, second)
		adjustments = append(adjustments, domain.TaskAdjustment{
			UID:       t.UID,
			Name:      t.Name,
			OldStart:  t.StartDate,
			OldFinish: t.FinishDate,
			NewStart:  t.StartDate,
			NewFinish: second.FinishDate,
			Reason:    fmt.Sprintf("split: crew of %.0f exceeds threshold %d", workers, c.SplitThreshold),
		})
	}
	return append(tasks, added...), adjustments
}

// rollUpSummaries recomputes every phase summary window from its leaves
// after the repair passes moved or split them.
func rollUpSummaries(tasks []domain.ScheduleTask, cal calendar.Calendar) {
	windows := phaseWindows(tasks)
	for i := range tasks {
		t := &tasks[i]
		if !t.IsSummary || t.Phase == "" {
			continue
		}
		w, ok := windows[t.Phase]
		if !ok {
			continue
		}
		t.StartDate = w.start
		t.FinishDate = w.finish
		t.DurationDays = cal.WorkingDaysBetween(w.start, w.finish)
	}
}

func splitResources(res []domain.TaskResource, laborUnits float64) []domain.TaskResource {
	out := make([]domain.TaskResource, len(res))
	copy(out, res)
	for i := range out {
		if out[i].Kind == domain.ResourceLabor {
			out[i].Units = laborUnits
			out[i].Hours /= 2
		} else {
			out[i].Units /= 2
		}
	}
	return out
}

// sequencePhaseConflicts is the safety net: any cannot-overlap rule still
// violated shifts the later phase until the required gap holds.
func sequencePhaseConflicts(tasks []domain.ScheduleTask, c Constraints) []domain.TaskAdjustment {
	cal := c.Calendar
	var adjustments []domain.TaskAdjustment
	for _, r := range c.Catalog.OverlapRules {
		if r.CanOverlap {
			continue
		}
		windows := phaseWindows(tasks)
		wa, okA := windows[r.PhaseA]
		wb, okB := windows[r.PhaseB]
		if !okA || !okB {
			continue
		}
		first, second := wa, wb
		laterPhase := r.PhaseB
		if wb.start.Before(wa.start.Time) {
			first, second = wb, wa
			laterPhase = r.PhaseA
		}
		required := cal.AddWorkingDays(first.finish, r.MinimumGapDays)
		if !second.start.Before(required.Time) {
			continue
		}
		shift := cal.WorkingDaysBetween(second.start, required)
		for i := range tasks {
			if tasks[i].Phase != laterPhase {
				continue
			}
			old := tasks[i]
			tasks[i].StartDate = cal.AddWorkingDays(old.StartDate, shift)
			tasks[i].FinishDate = cal.AddWorkingDays(old.FinishDate, shift)
			adjustments = append(adjustments, domain.TaskAdjustment{
				UID:       old.UID,
				Name:      old.Name,
				OldStart:  old.StartDate,
				OldFinish: old.FinishDate,
				NewStart:  tasks[i].StartDate,
				NewFinish: tasks[i].FinishDate,
				Reason:    fmt.Sprintf("phase conflict: %s", r.Reason),
			})
		}
	}
	return adjustments
}

func peakWorkers(timeline []domain.CapacityPoint) float64 {
	peak := 0.0
	for _, pt := range timeline {
		if pt.Workers > peak {
			peak = pt.Workers
		}
	}
	return peak
}

func utilization(timeline []domain.CapacityPoint, cap float64) float64 {
	if len(timeline) == 0 || cap <= 0 {
		return 0
	}
	total := 0.0
	for _, pt := range timeline {
		total += pt.Workers
	}
	return total / (cap * float64(len(timeline)))
}

func suggest(residual []domain.Bottleneck, c Constraints) []string {
	var out []string
	labor, equip, overlap := 0, 0, 0
	for _, b := range residual {
		switch b.Kind {
		case domain.BottleneckLabor:
			labor++
		case domain.BottleneckEquipment:
			equip++
		case domain.BottleneckOverlap:
			overlap++
		}
	}
	if labor > 0 {
		out = append(out, fmt.Sprintf("%d days remain over the %.0f-worker site ceiling; consider raising the cap or subcontracting peak work", labor, c.siteCap()))
	}
	if equip > 0 {
		out = append(out, fmt.Sprintf("%d days of equipment contention remain; consider renting additional units", equip))
	}
	if overlap > 0 {
		out = append(out, fmt.Sprintf("%d phase overlap conflicts remain; review the dependency lags", overlap))
	}
	return out
}
