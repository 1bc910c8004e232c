// Package ccpm applies Goldratt's Critical Chain method to a baseline
// schedule: per-phase safety is stripped, the phases are rescheduled with
// aggressive durations, and the removed safety is pooled into a project
// buffer at the end of the chain plus feeding buffers at every merge point.
package ccpm

import (
	"fmt"
	"math"

	"buildplan/internal/calendar"
	"buildplan/internal/cpath"
	"buildplan/internal/domain"
	"buildplan/internal/phase"
	"buildplan/internal/sequencer"
)

const (
	DefaultSafetyReduction    = 0.5
	DefaultProjectBufferRatio = 0.5
	DefaultFeedingBufferRatio = 0.5
)

// Options parameterize the CCPM pass. Zero buffer ratios fall back to the
// 50% defaults; a zero SafetyReduction is honored and keeps the original
// durations.
type Options struct {
	Calendar           calendar.Calendar
	Catalog            phase.Catalog
	SafetyReduction    float64
	ProjectBufferRatio float64
	FeedingBufferRatio float64
}

func (o *Options) defaults() error {
	if o.SafetyReduction < 0 || o.SafetyReduction >= 1 {
		return fmt.Errorf("safety reduction %v out of range [0,1)", o.SafetyReduction)
	}
	if o.ProjectBufferRatio == 0 {
		o.ProjectBufferRatio = DefaultProjectBufferRatio
	}
	if o.FeedingBufferRatio == 0 {
		o.FeedingBufferRatio = DefaultFeedingBufferRatio
	}
	return nil
}

// Apply computes the critical chain data for a baseline schedule. The
// baseline is not modified; the result carries rescheduled phase summaries
// and the planned buffers (consumption starts at zero, green).
func Apply(s *domain.ProjectSchedule, opts Options) (*domain.CriticalChainData, error) {
	if err := opts.defaults(); err != nil {
		return nil, err
	}
	cal := opts.Calendar
	cat := opts.Catalog

	// Phase summaries carry the original durations.
	summaries := make(map[phase.Phase]domain.ScheduleTask)
	for _, t := range s.Tasks {
		if t.IsSummary && t.Phase != "" {
			summaries[t.Phase] = t
		}
	}
	if len(summaries) == 0 {
		return nil, fmt.Errorf("schedule has no phase summaries")
	}

	criticalPath := s.CriticalPath
	if len(criticalPath) == 0 {
		criticalPath = cpath.Find(s.Tasks)
	}
	onChain := make(map[phase.Phase]bool)
	for _, uid := range criticalPath {
		for p, sum := range summaries {
			if sum.UID == uid {
				onChain[p] = true
			}
		}
	}

	aggressive := make(map[phase.Phase]int, len(summaries))
	removed := make(map[phase.Phase]int, len(summaries))
	for p, sum := range summaries {
		agg := int(math.Ceil(float64(sum.DurationDays) * (1 - opts.SafetyReduction)))
		if agg < 1 {
			agg = 1
		}
		aggressive[p] = agg
		removed[p] = sum.DurationDays - agg
	}

	// Reschedule every active phase with its aggressive duration, using the
	// same dependency and overlap logic as the baseline sequencer.
	windows := make(map[phase.Phase]sequencer.Window, len(summaries))
	var tasks []domain.ScheduleTask
	var chainUIDs []int
	aggFinish := s.StartDate
	for _, p := range cat.Order {
		sum, ok := summaries[p]
		if !ok {
			continue
		}
		start := sequencer.EarliestStart(p, windows, cat, cal, s.StartDate)
		// Procurement lead times hold even when safety is stripped.
		if proc, hasProc := cat.Procurement[p]; hasProc && proc.LeadDays > 0 {
			if ready := cal.AddWorkingDays(s.StartDate, proc.LeadDays); start.Before(ready.Time) {
				start = ready
			}
		}
		finish := cal.AddWorkingDays(start, aggressive[p])
		windows[p] = sequencer.Window{Start: start, Finish: finish}
		if finish.After(aggFinish.Time) {
			aggFinish = finish
		}
		t := sum
		t.StartDate = start
		t.FinishDate = finish
		t.DurationDays = aggressive[p]
		tasks = append(tasks, t)
		if onChain[p] {
			chainUIDs = append(chainUIDs, sum.UID)
		}
	}

	// Project buffer: root-sum-of-squares of the safety removed from the
	// chain, scaled. Independent delays rarely all land at once, so this is
	// deliberately smaller than the plain sum.
	var sumSq float64
	for p := range onChain {
		sumSq += float64(removed[p] * removed[p])
	}
	projectBufferDays := int(math.Ceil(opts.ProjectBufferRatio * math.Sqrt(sumSq)))
	if projectBufferDays < 1 {
		projectBufferDays = 1
	}
	ccpmFinish := cal.AddWorkingDays(aggFinish, projectBufferDays)

	data := &domain.CriticalChainData{
		OriginalDurationDays:   s.TotalDurationDays,
		AggressiveDurationDays: cal.WorkingDaysBetween(s.StartDate, aggFinish),
		ProjectBufferDays:      projectBufferDays,
		FinishDate:             ccpmFinish,
		ChainUIDs:              chainUIDs,
		Tasks:                  tasks,
	}
	data.CCPMDurationDays = data.AggressiveDurationDays + projectBufferDays
	data.Buffers = append(data.Buffers, domain.CriticalChainBuffer{
		Type:         domain.ProjectBuffer,
		DurationDays: projectBufferDays,
		StartDate:    aggFinish,
		FinishDate:   ccpmFinish,
		Zone:         domain.ZoneGreen,
	})

	data.Buffers = append(data.Buffers, feedingBuffers(summaries, windows, removed, onChain, cat, cal, opts)...)
	return data, nil
}

// feedingBuffers protects every merge of a non-critical chain into the
// critical chain: the feeding chain is traced backward (latest finish first,
// never revisiting), sized by RSS over its removed safety, and placed just
// before the merge point.
func feedingBuffers(summaries map[phase.Phase]domain.ScheduleTask, windows map[phase.Phase]sequencer.Window, removed map[phase.Phase]int, onChain map[phase.Phase]bool, cat phase.Catalog, cal calendar.Calendar, opts Options) []domain.CriticalChainBuffer {
	var out []domain.CriticalChainBuffer
	for _, p := range cat.Order {
		if !onChain[p] {
			continue
		}
		for _, dep := range cat.DependenciesOf(p) {
			feeder := dep.Predecessor
			if _, active := summaries[feeder]; !active || onChain[feeder] {
				continue
			}
			chain := traceFeedingChain(feeder, summaries, windows, onChain, cat)
			var sumSq float64
			var uids []int
			for _, f := range chain {
				sumSq += float64(removed[f] * removed[f])
				uids = append(uids, summaries[f].UID)
			}
			days := int(math.Ceil(opts.FeedingBufferRatio * math.Sqrt(sumSq)))
			if days < 1 {
				days = 1
			}
			merge := windows[p].Start
			protect := summaries[p].UID
			out = append(out, domain.CriticalChainBuffer{
				Type:             domain.FeedingBuffer,
				DurationDays:     days,
				StartDate:        subWorkingDays(cal, merge, days),
				FinishDate:       merge,
				Zone:             domain.ZoneGreen,
				FeedingChainUIDs: uids,
				ProtectsTaskUID:  &protect,
			})
		}
	}
	return out
}

// traceFeedingChain walks backward from the merge predecessor, always
// choosing the latest-finishing, not-yet-visited, non-critical predecessor.
func traceFeedingChain(from phase.Phase, summaries map[phase.Phase]domain.ScheduleTask, windows map[phase.Phase]sequencer.Window, onChain map[phase.Phase]bool, cat phase.Catalog) []phase.Phase {
	visited := map[phase.Phase]bool{}
	var chain []phase.Phase
	cur := from
	for {
		visited[cur] = true
		chain = append(chain, cur)
		var next phase.Phase
		found := false
		for _, dep := range cat.DependenciesOf(cur) {
			q := dep.Predecessor
			if _, active := summaries[q]; !active || onChain[q] || visited[q] {
				continue
			}
			if !found || windows[q].Finish.After(windows[next].Finish.Time) {
				next = q
				found = true
			}
		}
		if !found {
			return chain
		}
		cur = next
	}
}

func subWorkingDays(cal calendar.Calendar, d calendar.Date, n int) calendar.Date {
	for n > 0 {
		d = d.AddDays(-1)
		if cal.IsWorkingDay(d) {
			n--
		}
	}
	return d
}

// TrackBuffer recomputes buffer consumption from reported chain progress:
// the fever-chart early-warning signal. Latest report wins; the update is a
// pure function of the buffer and the report.
func TrackBuffer(b domain.CriticalChainBuffer, chainCompletionPercent, chainDelayDays float64) domain.CriticalChainBuffer {
	if b.DurationDays > 0 {
		pct := chainDelayDays / float64(b.DurationDays) * 100
		if pct < 0 {
			pct = 0
		}
		if pct > 100 {
			pct = 100
		}
		b.ConsumedPercent = pct
	}
	completion := chainCompletionPercent
	if completion < 1 {
		completion = 1
	}
	ratio := b.ConsumedPercent / completion
	switch {
	case ratio < 1.0/3:
		b.Zone = domain.ZoneGreen
	case ratio < 2.0/3:
		b.Zone = domain.ZoneYellow
	default:
		b.Zone = domain.ZoneRed
	}
	return b
}
