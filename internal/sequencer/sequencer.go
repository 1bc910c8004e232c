// Package sequencer turns a priced WBS into a baseline, calendar-accurate
// project schedule: phases in canonical order, dependency- and overlap-aware
// start dates, worker-budget batching inside each phase, floor staggering,
// procurement lead tasks and milestones.
package sequencer

import (
	"fmt"
	"math"
	"sort"

	"buildplan/internal/calendar"
	"buildplan/internal/domain"
	"buildplan/internal/phase"
)

const (
	// HoursPerDay is the working hours in one site day.
	HoursPerDay = 8
	// DaysPerWeek is the working days used to derive crew sizes.
	DaysPerWeek = 5
	// DefaultMaxWorkers caps the crew of a single phase.
	DefaultMaxWorkers = 10
)

// DefaultSeasonalFactors is the monthly productivity multiplier table,
// calibrated for a temperate climate: winter months slow the site down.
var DefaultSeasonalFactors = []float64{0.7, 0.8, 0.9, 1, 1, 1, 1, 1, 1, 1, 0.9, 0.75}

// Options parameterize one sequencing run. Calendar and Catalog are
// immutable and may be shared across concurrent runs.
type Options struct {
	Calendar        calendar.Calendar
	Catalog         phase.Catalog
	StartDate       calendar.Date
	NumberOfFloors  int
	MaxWorkers      int
	SeasonalFactors []float64 // 12 monthly multipliers; nil uses the default table
}

// Window is the scheduled date range of one phase. Finish is the first
// working day after the last day of work, so a Finish-to-Start successor
// may begin on the finish date itself.
type Window struct {
	Start  calendar.Date
	Finish calendar.Date
}

// EarliestStart computes the earliest date p may begin: the latest of the
// project start, every dependency's implied date, and every non-overlap
// rule's implied date. Dependencies on inactive (unscheduled) phases are
// ignored.
func EarliestStart(p phase.Phase, windows map[phase.Phase]Window, cat phase.Catalog, cal calendar.Calendar, projectStart calendar.Date) calendar.Date {
	start := cal.NextWorkingDay(projectStart)
	for _, dep := range cat.DependenciesOf(p) {
		w, ok := windows[dep.Predecessor]
		if !ok {
			continue
		}
		var implied calendar.Date
		switch dep.Relation {
		case phase.StartToStart:
			implied = cal.AddWorkingDays(w.Start, dep.LagDays)
		default: // FinishToStart
			implied = cal.AddWorkingDays(w.Finish, dep.LagDays)
		}
		if implied.After(start.Time) {
			start = implied
		}
	}
	for other, w := range windows {
		rule, ok := cat.Overlap(p, other)
		if !ok || rule.CanOverlap {
			continue
		}
		// Only constrain against phases earlier in canonical order; later
		// conflicting phases are pushed by their own pass.
		if cat.Position(other) > cat.Position(p) {
			continue
		}
		implied := cal.AddWorkingDays(w.Finish, rule.MinimumGapDays)
		if implied.After(start.Time) {
			start = implied
		}
	}
	return start
}

// seasonalDuration inflates a working-day count when the phase's date range
// touches low-productivity months. The average factor over the touched
// months is applied once; the extended range is not re-examined.
func seasonalDuration(start calendar.Date, days int, factors []float64, cal calendar.Calendar) int {
	if days < 1 || len(factors) != 12 {
		return days
	}
	finish := cal.AddWorkingDays(start, days)
	sum, n := 0.0, 0
	for d := start; !d.After(finish.Time); d = d.AddDays(daysInStep(d, finish)) {
		sum += factors[d.Month()-1]
		n++
	}
	if n == 0 {
		return days
	}
	avg := sum / float64(n)
	if avg >= 1 || avg <= 0 {
		return days
	}
	return int(math.Ceil(float64(days) / avg))
}

// daysInStep advances month by month without overshooting finish.
func daysInStep(d, finish calendar.Date) int {
	next := calendar.NewDate(d.Year(), d.Month(), 1).AddDays(32)
	next = calendar.NewDate(next.Year(), next.Month(), 1)
	if next.After(finish.Time) {
		return int(finish.Sub(d.Time).Hours()/24) + 1
	}
	return int(next.Sub(d.Time).Hours() / 24)
}

// article is a WBS line annotated with derived labor and cost figures.
type article struct {
	src       domain.WbsArticle
	hours     float64
	cost      float64
	matCost   float64
	laborCost float64
	machCost  float64
	order     int // input position, the documented tie-break
}

// Sequence computes the baseline schedule. Phases with no matched articles
// are silently skipped; every produced task has durationDays >= 1 (except
// zero-duration milestones).
func Sequence(projectID string, articles []domain.WbsArticle, matches []domain.PriceMatch, opts Options) (domain.ProjectSchedule, error) {
	if err := opts.Catalog.Validate(); err != nil {
		return domain.ProjectSchedule{}, fmt.Errorf("phase catalog: %w", err)
	}
	if opts.StartDate.IsZero() {
		return domain.ProjectSchedule{}, fmt.Errorf("start date is required")
	}
	if opts.MaxWorkers <= 0 {
		opts.MaxWorkers = DefaultMaxWorkers
	}
	factors := opts.SeasonalFactors
	if len(factors) == 0 {
		factors = DefaultSeasonalFactors
	}
	if len(factors) != 12 {
		return domain.ProjectSchedule{}, fmt.Errorf("seasonal factors must have 12 entries, got %d", len(factors))
	}
	cal := opts.Calendar
	cat := opts.Catalog
	projectStart := cal.NextWorkingDay(opts.StartDate)

	matchByCode := make(map[string]domain.PriceMatch, len(matches))
	for _, m := range matches {
		matchByCode[m.ArticleCode] = m
	}

	// Group articles by phase; unmatched codes fall back to the default
	// productivity rate, missing prices to a zero-cost placeholder.
	byPhase := make(map[phase.Phase][]article)
	for i, a := range articles {
		p, ok := cat.PhaseFor(a.Code)
		if !ok {
			continue
		}
		rate := cat.RateFor(a.Code)
		art := article{src: a, hours: a.Quantity * rate, order: i}
		if m, ok := matchByCode[a.Code]; ok {
			art.cost = a.Quantity * m.UnitCost
			art.matCost = a.Quantity * m.Materials
			art.laborCost = a.Quantity * m.Labor
			art.machCost = a.Quantity * m.Machinery
		} else if a.UnitPrice != nil {
			art.cost = a.Quantity * *a.UnitPrice
		}
		byPhase[p] = append(byPhase[p], art)
	}

	b := builder{
		cal:     cal,
		cat:     cat,
		opts:    opts,
		factors: factors,
		start:   projectStart,
		windows: make(map[phase.Phase]Window),
		summary: make(map[phase.Phase]int),
		workers: make(map[phase.Phase]int),
	}

	for _, p := range cat.Order {
		arts, ok := byPhase[p]
		if !ok || len(arts) == 0 {
			continue
		}
		b.buildPhase(p, arts)
	}
	b.buildMilestones()

	return b.finish(projectID)
}

type builder struct {
	cal     calendar.Calendar
	cat     phase.Catalog
	opts    Options
	factors []float64
	start   calendar.Date

	nextUID int
	tasks   []domain.ScheduleTask
	windows map[phase.Phase]Window
	summary map[phase.Phase]int // phase -> summary uid
	workers map[phase.Phase]int
}

func (b *builder) uid() int {
	b.nextUID++
	return b.nextUID
}

func (b *builder) buildPhase(p phase.Phase, arts []article) {
	totalHours := 0.0
	for _, a := range arts {
		totalHours += a.hours
	}
	workers := int(math.Ceil(totalHours / (HoursPerDay * DaysPerWeek)))
	if workers < 1 {
		workers = 1
	}
	if workers > b.opts.MaxWorkers {
		workers = b.opts.MaxWorkers
	}
	start := EarliestStart(p, b.windows, b.cat, b.cal, b.start)

	// Long-lead procurement precedes the phase as a hard predecessor. The
	// lead task carries no labor and no cost.
	var procUID int
	if proc, ok := b.cat.Procurement[p]; ok {
		procFinish := b.cal.AddWorkingDays(b.start, proc.LeadDays)
		procUID = b.uid()
		b.tasks = append(b.tasks, domain.ScheduleTask{
			UID:          procUID,
			Name:         proc.Name,
			StartDate:    b.start,
			FinishDate:   procFinish,
			DurationDays: proc.LeadDays,
			OutlineLevel: 1,
		})
		if procFinish.After(start.Time) {
			start = procFinish
		}
	}

	sumUID := b.uid()
	var sumPreds []domain.TaskPredecessor
	for _, dep := range b.cat.DependenciesOf(p) {
		if uid, ok := b.summary[dep.Predecessor]; ok {
			sumPreds = append(sumPreds, domain.TaskPredecessor{UID: uid, Relation: dep.Relation, LagDays: dep.LagDays})
		}
	}
	if procUID != 0 {
		sumPreds = append(sumPreds, domain.TaskPredecessor{UID: procUID, Relation: phase.FinishToStart})
	}

	leaves := b.buildLeaves(p, arts, sumUID, start, workers)

	// The summary rolls up its actual children; batching and staggering may
	// have pushed work past the simple estimate.
	sumStart, sumFinish := leaves[0].StartDate, leaves[0].FinishDate
	sumHours, sumCost, sumMat := 0.0, 0.0, 0.0
	for _, l := range leaves {
		if l.StartDate.Before(sumStart.Time) {
			sumStart = l.StartDate
		}
		if l.FinishDate.After(sumFinish.Time) {
			sumFinish = l.FinishDate
		}
		sumHours += l.DurationHours
		sumCost += l.Cost
		sumMat += l.MaterialCost
	}
	sumDur := b.cal.WorkingDaysBetween(sumStart, sumFinish)
	if sumDur < 1 {
		sumDur = 1
	}
	b.tasks = append(b.tasks, domain.ScheduleTask{
		UID:           sumUID,
		Name:          phaseName(p),
		StartDate:     sumStart,
		FinishDate:    sumFinish,
		DurationDays:  sumDur,
		DurationHours: sumHours,
		IsSummary:     true,
		Phase:         p,
		Predecessors:  sumPreds,
		Resources: []domain.TaskResource{
			{Name: phaseName(p) + " crew", Kind: domain.ResourceLabor, Units: float64(workers), Hours: sumHours},
		},
		Cost:         sumCost,
		MaterialCost: sumMat,
		OutlineLevel: 1,
	})
	b.tasks = append(b.tasks, leaves...)

	b.windows[p] = Window{Start: sumStart, Finish: sumFinish}
	b.summary[p] = sumUID
	b.workers[p] = workers
}

// buildLeaves schedules one leaf per article (more when floor-staggered)
// with the worker-budget greedy batcher: descending labor-hours, ties by
// input order; a new batch starts at the previous batch's latest finish.
// Seasonal inflation applies to each leaf's duration before placement.
func (b *builder) buildLeaves(p phase.Phase, arts []article, sumUID int, phaseStart calendar.Date, phaseWorkers int) []domain.ScheduleTask {
	sorted := make([]article, len(arts))
	copy(sorted, arts)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].hours != sorted[j].hours {
			return sorted[i].hours > sorted[j].hours
		}
		return sorted[i].order < sorted[j].order
	})

	staggered := b.cat.FloorStaggered[p] && b.opts.NumberOfFloors > 1

	var leaves []domain.ScheduleTask
	batchStart := phaseStart
	batchLatest := phaseStart
	running := 0
	for _, a := range sorted {
		w := int(math.Ceil(a.hours / (HoursPerDay * DaysPerWeek)))
		if w < 1 {
			w = 1
		}
		if w > phaseWorkers {
			w = phaseWorkers
		}
		dur := int(math.Ceil(a.hours / (float64(w) * HoursPerDay)))
		if dur < 1 {
			dur = 1
		}
		if running > 0 && running+w > phaseWorkers {
			batchStart = batchLatest
			running = 0
		}
		running += w

		start := batchStart
		dur = seasonalDuration(start, dur, b.factors, b.cal)
		finish := b.cal.AddWorkingDays(start, dur)
		if finish.After(batchLatest.Time) {
			batchLatest = finish
		}

		lag := b.cal.WorkingDaysBetween(phaseStart, start)
		preds := []domain.TaskPredecessor{{UID: sumUID, Relation: phase.StartToStart, LagDays: lag}}

		if staggered {
			leaves = append(leaves, b.staggerFloors(p, a, w, dur, start, preds)...)
			continue
		}
		leaves = append(leaves, domain.ScheduleTask{
			UID:           b.uid(),
			WbsCode:       a.src.Code,
			Name:          a.src.Description,
			StartDate:     start,
			FinishDate:    finish,
			DurationDays:  dur,
			DurationHours: a.hours,
			Phase:         p,
			Predecessors:  preds,
			Resources:     leafResources(p, a, w, a.hours),
			Cost:          a.cost,
			MaterialCost:  a.matCost,
			OutlineLevel:  2,
		})
	}
	return leaves
}

// staggerFloors splits one leaf into per-floor subtasks: floor N starts a
// curing/safety lag after floor N-1 (Start-to-Start).
func (b *builder) staggerFloors(p phase.Phase, a article, workers, totalDur int, start calendar.Date, firstPreds []domain.TaskPredecessor) []domain.ScheduleTask {
	floors := b.opts.NumberOfFloors
	floorDur := int(math.Ceil(float64(totalDur) / float64(floors)))
	if floorDur < 1 {
		floorDur = 1
	}
	lag := b.cat.StaggerLagDays
	if lag < 1 {
		lag = 1
	}
	out := make([]domain.ScheduleTask, 0, floors)
	prevUID := 0
	floorStart := start
	for f := 1; f <= floors; f++ {
		uid := b.uid()
		preds := firstPreds
		if prevUID != 0 {
			preds = []domain.TaskPredecessor{{UID: prevUID, Relation: phase.StartToStart, LagDays: lag}}
		}
		out = append(out, domain.ScheduleTask{
			UID:           uid,
			WbsCode:       a.src.Code,
			Name:          fmt.Sprintf("%s - Floor %d", a.src.Description, f),
			StartDate:     floorStart,
			FinishDate:    b.cal.AddWorkingDays(floorStart, floorDur),
			DurationDays:  floorDur,
			DurationHours: a.hours / float64(floors),
			Phase:         p,
			Predecessors:  preds,
			Resources:     leafResources(p, a, workers, a.hours/float64(floors)),
			Cost:          a.cost / float64(floors),
			MaterialCost:  a.matCost / float64(floors),
			OutlineLevel:  2,
		})
		prevUID = uid
		floorStart = b.cal.AddWorkingDays(floorStart, lag)
	}
	return out
}

func leafResources(p phase.Phase, a article, workers int, hours float64) []domain.TaskResource {
	res := []domain.TaskResource{
		{Name: phaseName(p) + " crew", Kind: domain.ResourceLabor, Units: float64(workers), Hours: hours, Rate: safeRate(a.laborCost, hours)},
	}
	if a.matCost > 0 {
		res = append(res, domain.TaskResource{Name: a.src.Description + " materials", Kind: domain.ResourceMaterial, Units: a.src.Quantity, Rate: safeRate(a.matCost, a.src.Quantity)})
	}
	if a.machCost > 0 {
		res = append(res, domain.TaskResource{Name: phaseName(p) + " machinery", Kind: domain.ResourceMachinery, Units: 1, Rate: a.machCost})
	}
	return res
}

func safeRate(total, qty float64) float64 {
	if qty <= 0 {
		return 0
	}
	return total / qty
}

// buildMilestones inserts zero-duration milestones right after their phase
// finishes (Finish-to-Start from the phase summary).
func (b *builder) buildMilestones() {
	for _, m := range b.cat.Milestones {
		sumUID, ok := b.summary[m.After]
		if !ok {
			continue
		}
		w := b.windows[m.After]
		b.tasks = append(b.tasks, domain.ScheduleTask{
			UID:          b.uid(),
			Name:         m.Name,
			StartDate:    w.Finish,
			FinishDate:   w.Finish,
			IsMilestone:  true,
			Phase:        m.After,
			Predecessors: []domain.TaskPredecessor{{UID: sumUID, Relation: phase.FinishToStart}},
			OutlineLevel: 1,
		})
	}
}

func (b *builder) finish(projectID string) (domain.ProjectSchedule, error) {
	s := domain.ProjectSchedule{
		ProjectID: projectID,
		StartDate: b.start,
		Tasks:     b.tasks,
	}
	if len(b.tasks) == 0 {
		s.FinishDate = b.start
		return s, nil
	}
	finish := b.start
	totalCost := 0.0
	for _, t := range b.tasks {
		if t.IsSummary {
			if t.FinishDate.After(finish.Time) {
				finish = t.FinishDate
			}
			totalCost += t.Cost
		}
	}
	s.FinishDate = finish
	s.TotalDurationDays = b.cal.WorkingDaysBetween(b.start, finish)
	s.TotalCost = totalCost
	s.Resources = aggregateResources(b.tasks)
	s.TeamSummary = b.teamSummary(finish)
	return s, nil
}

func aggregateResources(tasks []domain.ScheduleTask) []domain.ProjectResource {
	idx := make(map[string]int)
	var out []domain.ProjectResource
	for _, t := range tasks {
		if t.IsSummary {
			continue
		}
		for _, r := range t.Resources {
			i, ok := idx[r.Name]
			if !ok {
				idx[r.Name] = len(out)
				out = append(out, domain.ProjectResource{Name: r.Name, Kind: r.Kind})
				i = len(out) - 1
			}
			if r.Units > out[i].MaxUnits {
				out[i].MaxUnits = r.Units
			}
			out[i].TotalHours += r.Hours
			switch r.Kind {
			case domain.ResourceLabor:
				out[i].TotalCost += r.Rate * r.Hours
			default:
				out[i].TotalCost += r.Rate * r.Units
			}
		}
	}
	return out
}

func (b *builder) teamSummary(finish calendar.Date) domain.TeamSummary {
	ts := domain.TeamSummary{PhaseWorkers: make(map[phase.Phase]int, len(b.workers))}
	for p, w := range b.workers {
		ts.PhaseWorkers[p] = w
	}
	// Peak daily demand over non-summary tasks.
	peak := 0.0
	totalHours := 0.0
	for d := b.start; d.Before(finish.Time); d = b.cal.AddWorkingDays(d, 1) {
		day := 0.0
		for _, t := range b.tasks {
			if t.IsSummary || t.IsMilestone {
				continue
			}
			if !d.Before(t.StartDate.Time) && d.Before(t.FinishDate.Time) {
				day += t.Workers()
			}
		}
		if day > peak {
			peak = day
		}
	}
	for _, t := range b.tasks {
		if !t.IsSummary {
			totalHours += t.DurationHours
		}
	}
	ts.PeakWorkers = int(peak)
	days := b.cal.WorkingDaysBetween(b.start, finish)
	if days > 0 {
		ts.AverageWorkers = totalHours / (HoursPerDay * float64(days))
	}
	return ts
}

func phaseName(p phase.Phase) string {
	out := make([]rune, 0, len(p))
	upper := true
	for _, r := range string(p) {
		if r == '_' {
			out = append(out, ' ')
			upper = true
			continue
		}
		if upper && r >= 'a' && r <= 'z' {
			r = r - 'a' + 'A'
			upper = false
		}
		out = append(out, r)
	}
	return string(out)
}
