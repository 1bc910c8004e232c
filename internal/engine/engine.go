package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"buildplan/internal/calendar"
	"buildplan/internal/capacity"
	"buildplan/internal/ccpm"
	"buildplan/internal/config"
	"buildplan/internal/cpath"
	"buildplan/internal/domain"
	"buildplan/internal/events"
	"buildplan/internal/repo"
	"buildplan/internal/sequencer"
)

type Engine struct {
	DB     *sql.DB
	Repo   repo.Repo
	Events events.Writer
	Config *config.Config
	Now    func() time.Time
}

func New(db *sql.DB, cfg *config.Config) Engine {
	return Engine{
		DB:     db,
		Repo:   repo.Repo{DB: db},
		Events: events.Writer{DB: db},
		Config: cfg,
		Now:    time.Now,
	}
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

// ProjectCreateOptions are parameters for creating a project.
type ProjectCreateOptions struct {
	ID             string
	Name           string
	StartDate      calendar.Date
	NumberOfFloors int
	ActorID        string
}

func (e Engine) CreateProject(ctx context.Context, opts ProjectCreateOptions) (domain.Project, error) {
	if e.Config == nil {
		return domain.Project{}, errors.New("config not loaded")
	}
	if opts.Name == "" {
		return domain.Project{}, errors.New("name is required")
	}
	if opts.StartDate.IsZero() {
		return domain.Project{}, errors.New("start date is required")
	}
	if opts.NumberOfFloors < 1 {
		opts.NumberOfFloors = 1
	}
	now := e.now().UTC().Format(time.RFC3339)
	id := opts.ID
	if id == "" {
		id = uuid.NewSHA1(uuid.NameSpaceOID, []byte(opts.Name+"|"+now)).String()
	}
	p := domain.Project{
		ID:             id,
		Name:           opts.Name,
		StartDate:      opts.StartDate,
		NumberOfFloors: opts.NumberOfFloors,
		Status:         "active",
		CreatedAt:      now,
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Project{}, err
	}
	defer tx.Rollback()
	if err := e.Repo.InsertProject(ctx, tx, p); err != nil {
		return domain.Project{}, fmt.Errorf("insert project: %w", err)
	}
	if err := e.Events.Append(ctx, tx, events.TypeProjectCreated, p.ID, events.KindProject, p.ID, opts.ActorID, events.EventPayload{"name": p.Name}); err != nil {
		return domain.Project{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Project{}, err
	}
	return p, nil
}

// ImportWBS replaces the project's priced WBS wholesale and returns the
// article count.
func (e Engine) ImportWBS(ctx context.Context, projectID string, doc domain.WbsDocument, actorID string) (int, error) {
	if _, err := e.Repo.GetProject(ctx, projectID); err != nil {
		return 0, err
	}
	seen := make(map[string]bool, len(doc.Articles))
	for _, a := range doc.Articles {
		if a.Code == "" {
			return 0, errors.New("article with empty code")
		}
		if seen[a.Code] {
			return 0, fmt.Errorf("duplicate article code %s", a.Code)
		}
		seen[a.Code] = true
		if a.Quantity < 0 {
			return 0, fmt.Errorf("article %s has negative quantity", a.Code)
		}
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()
	if err := e.Repo.ReplaceWBS(ctx, tx, projectID, doc); err != nil {
		return 0, err
	}
	if err := e.Events.Append(ctx, tx, events.TypeWbsImported, projectID, events.KindWbs, projectID, actorID, events.EventPayload{
		"articles":      len(doc.Articles),
		"price_matches": len(doc.Matches),
	}); err != nil {
		return 0, err
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return len(doc.Articles), nil
}

// ComputeSchedule runs the full pipeline (sequencer, critical path,
// optional critical chain, optional capacity optimization) and persists
// the result as a schedule run.
func (e Engine) ComputeSchedule(ctx context.Context, projectID string, opts domain.ScheduleOptions, actorID string) (domain.ScheduleRun, error) {
	if e.Config == nil {
		return domain.ScheduleRun{}, errors.New("config not loaded")
	}
	project, err := e.Repo.GetProject(ctx, projectID)
	if err != nil {
		return domain.ScheduleRun{}, err
	}
	articles, err := e.Repo.ListArticles(ctx, projectID)
	if err != nil {
		return domain.ScheduleRun{}, err
	}
	matches, err := e.Repo.ListPriceMatches(ctx, projectID)
	if err != nil {
		return domain.ScheduleRun{}, err
	}
	opts = e.fillOptions(opts)
	cal := e.Config.BuildCalendar()
	cat := e.Config.Catalog()

	schedule, err := sequencer.Sequence(projectID, articles, matches, sequencer.Options{
		Calendar:        cal,
		Catalog:         cat,
		StartDate:       project.StartDate,
		NumberOfFloors:  project.NumberOfFloors,
		MaxWorkers:      opts.MaxWorkers,
		SeasonalFactors: opts.SeasonalFactors,
	})
	if err != nil {
		return domain.ScheduleRun{}, fmt.Errorf("sequence: %w", err)
	}
	if err := validateSchedule(schedule); err != nil {
		return domain.ScheduleRun{}, fmt.Errorf("schedule invariant: %w", err)
	}
	schedule.CriticalPath = cpath.Find(schedule.Tasks)

	if opts.ApplyCriticalChain && len(schedule.Tasks) > 0 {
		chain, err := ccpm.Apply(&schedule, ccpm.Options{
			Calendar:           cal,
			Catalog:            cat,
			SafetyReduction:    opts.SafetyReduction,
			ProjectBufferRatio: opts.ProjectBufferRatio,
			FeedingBufferRatio: opts.FeedingBufferRatio,
		})
		if err != nil {
			return domain.ScheduleRun{}, fmt.Errorf("critical chain: %w", err)
		}
		schedule.CriticalChain = chain
		// With buffers present, the protected finish governs the schedule.
		schedule.FinishDate = chain.FinishDate
		schedule.TotalDurationDays = chain.CCPMDurationDays
	}

	run := domain.ScheduleRun{
		ID:        uuid.New().String(),
		ProjectID: projectID,
		CreatedAt: e.now().UTC().Format(time.RFC3339),
		Options:   opts,
		Schedule:  schedule,
	}

	if opts.OptimizeCapacity && len(schedule.Tasks) > 0 {
		report, err := capacity.Optimize(&schedule, capacity.Constraints{
			Calendar:           cal,
			Catalog:            cat,
			NumberOfFloors:     project.NumberOfFloors,
			WorkersPerFloorCap: opts.WorkersPerFloorCap,
			EquipmentLimits:    e.Config.Capacity.EquipmentLimits,
			SplitThreshold:     opts.SplitThreshold,
			LevelingIterations: e.Config.Capacity.LevelingIterations,
		})
		if err != nil {
			return domain.ScheduleRun{}, fmt.Errorf("capacity: %w", err)
		}
		run.Capacity = report
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.ScheduleRun{}, err
	}
	defer tx.Rollback()
	if err := e.Repo.InsertScheduleRun(ctx, tx, run); err != nil {
		return domain.ScheduleRun{}, fmt.Errorf("insert run: %w", err)
	}
	if err := e.Events.Append(ctx, tx, events.TypeScheduleComputed, projectID, events.KindScheduleRun, run.ID, actorID, events.EventPayload{
		"tasks":          len(schedule.Tasks),
		"finish_date":    schedule.FinishDate.String(),
		"critical_chain": opts.ApplyCriticalChain,
		"capacity":       opts.OptimizeCapacity,
	}); err != nil {
		return domain.ScheduleRun{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.ScheduleRun{}, err
	}
	return run, nil
}

// fillOptions resolves zero-valued options from workspace config.
func (e Engine) fillOptions(opts domain.ScheduleOptions) domain.ScheduleOptions {
	s := e.Config.Scheduling
	if opts.MaxWorkers <= 0 {
		opts.MaxWorkers = s.MaxWorkers
	}
	if len(opts.SeasonalFactors) == 0 {
		opts.SeasonalFactors = s.SeasonalFactors
	}
	if opts.SafetyReduction == 0 {
		opts.SafetyReduction = s.SafetyReduction
	}
	if opts.ProjectBufferRatio == 0 {
		opts.ProjectBufferRatio = s.ProjectBufferRatio
	}
	if opts.FeedingBufferRatio == 0 {
		opts.FeedingBufferRatio = s.FeedingBufferRatio
	}
	if opts.SplitThreshold <= 0 {
		opts.SplitThreshold = e.Config.Capacity.SplitThreshold
	}
	if opts.WorkersPerFloorCap <= 0 {
		opts.WorkersPerFloorCap = e.Config.Capacity.WorkersPerFloor
	}
	return opts
}

// validateSchedule enforces the programming invariants the downstream math
// relies on: every predecessor uid exists and no duration is negative.
// Violations signal a defect in an earlier component and are fatal.
func validateSchedule(s domain.ProjectSchedule) error {
	uids := make(map[int]bool, len(s.Tasks))
	for _, t := range s.Tasks {
		if uids[t.UID] {
			return fmt.Errorf("duplicate task uid %d", t.UID)
		}
		uids[t.UID] = true
		if t.DurationDays < 0 {
			return fmt.Errorf("task %d has negative duration", t.UID)
		}
	}
	for _, t := range s.Tasks {
		for _, p := range t.Predecessors {
			if !uids[p.UID] {
				return fmt.Errorf("task %d references unknown predecessor %d", t.UID, p.UID)
			}
		}
	}
	return nil
}

// UpdateBufferProgress applies a fever-chart progress report to one buffer
// of a persisted run. The run document is rewritten wholesale: latest
// report wins.
func (e Engine) UpdateBufferProgress(ctx context.Context, runID string, bufferIndex int, completionPercent, delayDays float64, actorID string) (domain.ScheduleRun, error) {
	run, err := e.Repo.GetScheduleRun(ctx, runID)
	if err != nil {
		return domain.ScheduleRun{}, err
	}
	if run.Schedule.CriticalChain == nil {
		return domain.ScheduleRun{}, errors.New("run has no critical chain data")
	}
	buffers := run.Schedule.CriticalChain.Buffers
	if bufferIndex < 0 || bufferIndex >= len(buffers) {
		return domain.ScheduleRun{}, fmt.Errorf("buffer index %d out of range [0, %d)", bufferIndex, len(buffers))
	}
	buffers[bufferIndex] = ccpm.TrackBuffer(buffers[bufferIndex], completionPercent, delayDays)

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.ScheduleRun{}, err
	}
	defer tx.Rollback()
	if err := e.Repo.UpdateScheduleRun(ctx, tx, run); err != nil {
		return domain.ScheduleRun{}, err
	}
	b := buffers[bufferIndex]
	if err := e.Events.Append(ctx, tx, events.TypeBufferUpdated, run.ProjectID, events.KindScheduleRun, run.ID, actorID, events.EventPayload{
		"buffer_index": bufferIndex,
		"consumed_pct": b.ConsumedPercent,
		"zone":         string(b.Zone),
	}); err != nil {
		return domain.ScheduleRun{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.ScheduleRun{}, err
	}
	return run, nil
}
