// Package cpath finds the critical path of a computed schedule and derives
// per-task total float. The path walks summary tasks backward from the
// latest finish and drills into each summary's bottleneck leaf, so the
// result serves both as the chain that determines the end date and as a
// reporting drill-down.
package cpath

import (
	"buildplan/internal/calendar"
	"buildplan/internal/domain"
	"buildplan/internal/phase"
)

// Find returns the ordered uid sequence of the critical path: each summary
// on the longest chain followed immediately by its bottleneck leaf child.
// Ties on finish dates are broken by encounter order.
func Find(tasks []domain.ScheduleTask) []int {
	byUID := make(map[int]domain.ScheduleTask, len(tasks))
	for _, t := range tasks {
		byUID[t.UID] = t
	}

	// Latest-finishing summary is the chain's end.
	var end *domain.ScheduleTask
	for i := range tasks {
		t := &tasks[i]
		if !t.IsSummary {
			continue
		}
		if end == nil || t.FinishDate.After(end.FinishDate.Time) {
			end = t
		}
	}
	if end == nil {
		return nil
	}

	// Walk backward, always taking the latest-finishing summary predecessor.
	var chain []domain.ScheduleTask
	cur := *end
	for {
		chain = append(chain, cur)
		var next *domain.ScheduleTask
		for _, pred := range cur.Predecessors {
			p, ok := byUID[pred.UID]
			if !ok || !p.IsSummary {
				continue
			}
			if next == nil || p.FinishDate.After(next.FinishDate.Time) {
				cp := p
				next = &cp
			}
		}
		if next == nil {
			break
		}
		cur = *next
	}

	// Reverse into start-to-end order, splicing each summary's bottleneck
	// leaf right after it.
	out := make([]int, 0, len(chain)*2)
	for i := len(chain) - 1; i >= 0; i-- {
		s := chain[i]
		out = append(out, s.UID)
		if leaf, ok := bottleneckLeaf(tasks, s); ok {
			out = append(out, leaf)
		}
	}
	return out
}

// bottleneckLeaf picks the latest-finishing leaf belonging to a summary:
// either referencing it as a predecessor or sharing its phase.
func bottleneckLeaf(tasks []domain.ScheduleTask, summary domain.ScheduleTask) (int, bool) {
	var best *domain.ScheduleTask
	for i := range tasks {
		t := &tasks[i]
		if t.IsSummary || t.IsMilestone || t.UID == summary.UID {
			continue
		}
		if !belongsTo(*t, summary) {
			continue
		}
		if best == nil || t.FinishDate.After(best.FinishDate.Time) {
			best = t
		}
	}
	if best == nil {
		return 0, false
	}
	return best.UID, true
}

func belongsTo(t, summary domain.ScheduleTask) bool {
	if summary.Phase != "" && t.Phase == summary.Phase {
		return true
	}
	for _, p := range t.Predecessors {
		if p.UID == summary.UID {
			return true
		}
	}
	return false
}

// Floats derives total float for every task: the minimum slack any
// successor constraint leaves it, or slack against the project finish for
// tasks with no successors. Leaves never float past their phase summary
// finish, since the summary window is what downstream phases depend on. A
// task is critical when its float is zero or it appears on the critical
// path.
func Floats(tasks []domain.ScheduleTask, cal calendar.Calendar, criticalPath []int) map[int]domain.TaskFloat {
	byUID := make(map[int]domain.ScheduleTask, len(tasks))
	projectFinish := calendar.Date{}
	summaryFinish := make(map[phase.Phase]calendar.Date)
	for _, t := range tasks {
		byUID[t.UID] = t
		if t.FinishDate.After(projectFinish.Time) {
			projectFinish = t.FinishDate
		}
		if t.IsSummary && t.Phase != "" {
			summaryFinish[t.Phase] = t.FinishDate
		}
	}
	onPath := make(map[int]bool, len(criticalPath))
	for _, uid := range criticalPath {
		onPath[uid] = true
	}

	// successor constraints indexed by predecessor uid
	type succ struct {
		task domain.ScheduleTask
		rel  phase.Relation
		lag  int
	}
	succs := make(map[int][]succ)
	for _, t := range tasks {
		for _, p := range t.Predecessors {
			succs[p.UID] = append(succs[p.UID], succ{task: t, rel: p.Relation, lag: p.LagDays})
		}
	}

	out := make(map[int]domain.TaskFloat, len(tasks))
	for _, t := range tasks {
		slack := -1
		for _, s := range succs[t.UID] {
			var implied calendar.Date
			switch s.rel {
			case phase.StartToStart:
				implied = cal.AddWorkingDays(t.StartDate, s.lag)
			default:
				implied = cal.AddWorkingDays(t.FinishDate, s.lag)
			}
			d := cal.WorkingDaysBetween(implied, s.task.StartDate)
			if slack < 0 || d < slack {
				slack = d
			}
		}
		if slack < 0 {
			slack = cal.WorkingDaysBetween(t.FinishDate, projectFinish)
		}
		if !t.IsSummary && !t.IsMilestone {
			if sf, ok := summaryFinish[t.Phase]; ok {
				if d := cal.WorkingDaysBetween(t.FinishDate, sf); d < slack {
					slack = d
				}
			}
		}
		out[t.UID] = domain.TaskFloat{
			UID:            t.UID,
			TotalFloatDays: slack,
			IsCritical:     slack == 0 || onPath[t.UID],
		}
	}
	return out
}
