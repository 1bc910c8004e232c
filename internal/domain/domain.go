package domain

import (
	"buildplan/internal/calendar"
	"buildplan/internal/phase"
)

type Project struct {
	ID             string        `json:"id"`
	Name           string        `json:"name"`
	StartDate      calendar.Date `json:"start_date"`
	NumberOfFloors int           `json:"number_of_floors"`
	Status         string        `json:"status"`
	CreatedAt      string        `json:"created_at" format:"date-time"`
}

// WbsArticle is one priced line item of the work breakdown structure.
type WbsArticle struct {
	Code        string   `json:"code" yaml:"code"`
	Description string   `json:"description" yaml:"description"`
	Unit        string   `json:"unit" yaml:"unit"`
	Quantity    float64  `json:"quantity" yaml:"quantity"`
	UnitPrice   *float64 `json:"unit_price,omitempty" yaml:"unit_price,omitempty"`
	Chapter     string   `json:"chapter,omitempty" yaml:"chapter,omitempty"`
	SubChapter  string   `json:"sub_chapter,omitempty" yaml:"sub_chapter,omitempty"`
}

// PriceMatch is a reconciliation record keyed by article code, produced by
// an external price-matching collaborator and consumed here as given.
type PriceMatch struct {
	ArticleCode string  `json:"article_code" yaml:"article_code"`
	UnitCost    float64 `json:"unit_cost" yaml:"unit_cost"`
	Materials   float64 `json:"materials" yaml:"materials"`
	Labor       float64 `json:"labor" yaml:"labor"`
	Machinery   float64 `json:"machinery" yaml:"machinery"`
	PriceCode   string  `json:"price_code,omitempty" yaml:"price_code,omitempty"`
	Confidence  float64 `json:"confidence,omitempty" yaml:"confidence,omitempty"`
}

// WbsDocument is the import payload: articles plus their price matches.
type WbsDocument struct {
	Articles []WbsArticle `json:"articles" yaml:"articles"`
	Matches  []PriceMatch `json:"price_matches,omitempty" yaml:"price_matches,omitempty"`
}

type ResourceKind string

const (
	ResourceLabor         ResourceKind = "labor"
	ResourceMaterial      ResourceKind = "material"
	ResourceMachinery     ResourceKind = "machinery"
	ResourceSubcontractor ResourceKind = "subcontractor"
)

type TaskResource struct {
	Name  string       `json:"name"`
	Kind  ResourceKind `json:"kind" enum:"labor,material,machinery,subcontractor"`
	Units float64      `json:"units"`
	Rate  float64      `json:"rate,omitempty"`
	Hours float64      `json:"hours,omitempty"`
}

type TaskPredecessor struct {
	UID      int            `json:"uid"`
	Relation phase.Relation `json:"relation" enum:"FS,SS"`
	LagDays  int            `json:"lag_days,omitempty"`
}

// ScheduleTask is the scheduling unit: a phase summary, a leaf work item, a
// procurement lead task or a milestone.
type ScheduleTask struct {
	UID             int               `json:"uid"`
	WbsCode         string            `json:"wbs_code,omitempty"`
	Name            string            `json:"name"`
	StartDate       calendar.Date     `json:"start_date"`
	FinishDate      calendar.Date     `json:"finish_date"`
	DurationDays    int               `json:"duration_days"`
	DurationHours   float64           `json:"duration_hours,omitempty"`
	IsSummary       bool              `json:"is_summary,omitempty"`
	IsMilestone     bool              `json:"is_milestone,omitempty"`
	Phase           phase.Phase       `json:"phase,omitempty"`
	Predecessors    []TaskPredecessor `json:"predecessors,omitempty"`
	Resources       []TaskResource    `json:"resources,omitempty"`
	Cost            float64           `json:"cost,omitempty"`
	MaterialCost    float64           `json:"material_cost,omitempty"`
	OutlineLevel    int               `json:"outline_level"`
	PercentComplete float64           `json:"percent_complete"`
}

// Workers returns the task's labor units.
func (t ScheduleTask) Workers() float64 {
	var units float64
	for _, r := range t.Resources {
		if r.Kind == ResourceLabor {
			units += r.Units
		}
	}
	return units
}

// ProjectResource aggregates one resource across the whole schedule.
type ProjectResource struct {
	Name       string       `json:"name"`
	Kind       ResourceKind `json:"kind"`
	MaxUnits   float64      `json:"max_units"`
	TotalHours float64      `json:"total_hours"`
	TotalCost  float64      `json:"total_cost"`
}

type TeamSummary struct {
	PeakWorkers    int                 `json:"peak_workers"`
	AverageWorkers float64             `json:"average_workers"`
	PhaseWorkers   map[phase.Phase]int `json:"phase_workers,omitempty"`
}

// ProjectSchedule is the engine's aggregate output.
type ProjectSchedule struct {
	ProjectID         string             `json:"project_id"`
	StartDate         calendar.Date      `json:"start_date"`
	FinishDate        calendar.Date      `json:"finish_date"`
	TotalDurationDays int                `json:"total_duration_days"`
	TotalCost         float64            `json:"total_cost"`
	Tasks             []ScheduleTask     `json:"tasks"`
	Resources         []ProjectResource  `json:"resources,omitempty"`
	CriticalPath      []int              `json:"critical_path,omitempty"`
	TeamSummary       TeamSummary        `json:"team_summary"`
	CriticalChain     *CriticalChainData `json:"critical_chain,omitempty"`
}

// TaskByUID returns a pointer into Tasks, or nil.
func (s *ProjectSchedule) TaskByUID(uid int) *ScheduleTask {
	for i := range s.Tasks {
		if s.Tasks[i].UID == uid {
			return &s.Tasks[i]
		}
	}
	return nil
}

type BufferType string

const (
	ProjectBuffer BufferType = "project"
	FeedingBuffer BufferType = "feeding"
)

type BufferZone string

const (
	ZoneGreen  BufferZone = "green"
	ZoneYellow BufferZone = "yellow"
	ZoneRed    BufferZone = "red"
)

// CriticalChainBuffer is a CCPM time reserve. ConsumedPercent and Zone are
// updated during execution tracking, never at planning time.
type CriticalChainBuffer struct {
	Type             BufferType    `json:"type" enum:"project,feeding"`
	DurationDays     int           `json:"duration_days"`
	StartDate        calendar.Date `json:"start_date"`
	FinishDate       calendar.Date `json:"finish_date"`
	ConsumedPercent  float64       `json:"consumed_percent"`
	Zone             BufferZone    `json:"zone" enum:"green,yellow,red"`
	FeedingChainUIDs []int         `json:"feeding_chain_uids,omitempty"`
	ProtectsTaskUID  *int          `json:"protects_task_uid,omitempty"`
}

// CriticalChainData is the result of the CCPM pass.
type CriticalChainData struct {
	OriginalDurationDays   int                   `json:"original_duration_days"`
	AggressiveDurationDays int                   `json:"aggressive_duration_days"`
	ProjectBufferDays      int                   `json:"project_buffer_days"`
	CCPMDurationDays       int                   `json:"ccpm_duration_days"`
	FinishDate             calendar.Date         `json:"finish_date"`
	ChainUIDs              []int                 `json:"chain_uids"`
	Tasks                  []ScheduleTask        `json:"tasks"`
	Buffers                []CriticalChainBuffer `json:"buffers"`
}

// TaskFloat is derived slack information, never stored on the task itself.
type TaskFloat struct {
	UID            int  `json:"uid"`
	TotalFloatDays int  `json:"total_float_days"`
	IsCritical     bool `json:"is_critical"`
}

// CapacityPoint is a per-working-day demand snapshot.
type CapacityPoint struct {
	Date      calendar.Date  `json:"date"`
	Workers   float64        `json:"workers"`
	Equipment map[string]int `json:"equipment,omitempty"`
}

type BottleneckKind string

const (
	BottleneckLabor     BottleneckKind = "labor"
	BottleneckEquipment BottleneckKind = "equipment"
	BottleneckOverlap   BottleneckKind = "overlap"
)

type Severity string

const (
	SeverityLow    Severity = "low"
	SeverityMedium Severity = "medium"
	SeverityHigh   Severity = "high"
)

// Bottleneck is a detected capacity or sequencing violation. Violations are
// output, not errors: the optimizer repairs what it can and surfaces the
// rest.
type Bottleneck struct {
	Date     calendar.Date  `json:"date"`
	Kind     BottleneckKind `json:"kind" enum:"labor,equipment,overlap"`
	Detail   string         `json:"detail"`
	Overload float64        `json:"overload,omitempty"`
	Severity Severity       `json:"severity" enum:"low,medium,high"`
}

type TaskAdjustment struct {
	UID       int           `json:"uid"`
	Name      string        `json:"name"`
	OldStart  calendar.Date `json:"old_start"`
	OldFinish calendar.Date `json:"old_finish"`
	NewStart  calendar.Date `json:"new_start"`
	NewFinish calendar.Date `json:"new_finish"`
	Reason    string        `json:"reason"`
}

// CapacityReport is the site capacity optimizer's output.
type CapacityReport struct {
	Tasks             []ScheduleTask   `json:"tasks"`
	Adjustments       []TaskAdjustment `json:"adjustments,omitempty"`
	Timeline          []CapacityPoint  `json:"timeline,omitempty"`
	Bottlenecks       []Bottleneck     `json:"bottlenecks,omitempty"`
	Suggestions       []string         `json:"suggestions,omitempty"`
	FinishDate        calendar.Date    `json:"finish_date"`
	DurationDeltaDays int              `json:"duration_delta_days"`
	PeakWorkersBefore float64          `json:"peak_workers_before"`
	PeakWorkersAfter  float64          `json:"peak_workers_after"`
	UtilizationBefore float64          `json:"utilization_before"`
	UtilizationAfter  float64          `json:"utilization_after"`
}

// ScheduleOptions is the caller-facing option set, snapshotted per run.
type ScheduleOptions struct {
	MaxWorkers         int       `json:"max_workers,omitempty" yaml:"max_workers,omitempty"`
	ApplyCriticalChain bool      `json:"apply_critical_chain,omitempty" yaml:"apply_critical_chain,omitempty"`
	SafetyReduction    float64   `json:"safety_reduction,omitempty" yaml:"safety_reduction,omitempty"`
	ProjectBufferRatio float64   `json:"project_buffer_ratio,omitempty" yaml:"project_buffer_ratio,omitempty"`
	FeedingBufferRatio float64   `json:"feeding_buffer_ratio,omitempty" yaml:"feeding_buffer_ratio,omitempty"`
	OptimizeCapacity   bool      `json:"optimize_capacity,omitempty" yaml:"optimize_capacity,omitempty"`
	SeasonalFactors    []float64 `json:"seasonal_factors,omitempty" yaml:"seasonal_factors,omitempty"`
	SplitThreshold     int       `json:"split_threshold,omitempty" yaml:"split_threshold,omitempty"`
	WorkersPerFloorCap int       `json:"workers_per_floor_cap,omitempty" yaml:"workers_per_floor_cap,omitempty"`
}

// ScheduleRun is a persisted schedule computation.
type ScheduleRun struct {
	ID        string          `json:"id"`
	ProjectID string          `json:"project_id"`
	CreatedAt string          `json:"created_at" format:"date-time"`
	Options   ScheduleOptions `json:"options"`
	Schedule  ProjectSchedule `json:"schedule"`
	Capacity  *CapacityReport `json:"capacity,omitempty"`
}

type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts" format:"date-time"`
	Type       string `json:"type"`
	ProjectID  string `json:"project_id,omitempty"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id,omitempty"`
	ActorID    string `json:"actor_id"`
	Payload    string `json:"payload_json"`
}
