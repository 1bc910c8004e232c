package server

import (
	"encoding/json"

	"buildplan/internal/calendar"
	"buildplan/internal/domain"
	"buildplan/internal/repo"
)

// Request payloads

type CreateProjectRequest struct {
	ID             string        `json:"id,omitempty"`
	Name           string        `json:"name"`
	StartDate      calendar.Date `json:"start_date"`
	NumberOfFloors int           `json:"number_of_floors,omitempty"`
}

type ImportWbsRequest struct {
	Articles []domain.WbsArticle `json:"articles"`
	Matches  []domain.PriceMatch `json:"price_matches,omitempty"`
}

type ComputeScheduleRequest struct {
	Options domain.ScheduleOptions `json:"options"`
}

type BufferProgressRequest struct {
	CompletionPercent float64 `json:"completion_percent"`
	DelayDays         float64 `json:"delay_days"`
}

type DevLoginRequest struct {
	ActorID string   `json:"actor_id"`
	Roles   []string `json:"roles,omitempty"`
}

// Response payloads

type ProjectResponse struct {
	ID             string        `json:"id"`
	Name           string        `json:"name"`
	StartDate      calendar.Date `json:"start_date"`
	NumberOfFloors int           `json:"number_of_floors"`
	Status         string        `json:"status"`
	CreatedAt      string        `json:"created_at" format:"date-time"`
}

type ImportWbsResponse struct {
	ProjectID string `json:"project_id"`
	Articles  int    `json:"articles"`
}

type WbsResponse struct {
	ProjectID string              `json:"project_id"`
	Articles  []domain.WbsArticle `json:"articles"`
	Matches   []domain.PriceMatch `json:"price_matches,omitempty"`
}

type RunSummaryResponse struct {
	ID        string                 `json:"id"`
	ProjectID string                 `json:"project_id"`
	CreatedAt string                 `json:"created_at" format:"date-time"`
	Options   domain.ScheduleOptions `json:"options"`
}

type CriticalPathResponse struct {
	RunID        string                `json:"run_id"`
	TaskUIDs     []int                 `json:"task_uids"`
	Tasks        []domain.ScheduleTask `json:"tasks"`
	DurationDays int                   `json:"duration_days"`
}

type DevLoginResponse struct {
	Token string `json:"token"`
}

type EventResponse struct {
	ID         int64          `json:"id"`
	TS         string         `json:"ts" format:"date-time"`
	Type       string         `json:"type"`
	ProjectID  string         `json:"project_id,omitempty"`
	EntityKind string         `json:"entity_kind"`
	EntityID   string         `json:"entity_id,omitempty"`
	ActorID    string         `json:"actor_id"`
	Payload    map[string]any `json:"payload,omitempty" jsonschema:"type=object,additionalProperties=true"`
}

func projectResponse(p domain.Project) ProjectResponse {
	return ProjectResponse{
		ID:             p.ID,
		Name:           p.Name,
		StartDate:      p.StartDate,
		NumberOfFloors: p.NumberOfFloors,
		Status:         p.Status,
		CreatedAt:      p.CreatedAt,
	}
}

func mapProjects(items []domain.Project) []ProjectResponse {
	res := make([]ProjectResponse, 0, len(items))
	for _, p := range items {
		res = append(res, projectResponse(p))
	}
	return res
}

func runSummaryResponse(r repo.RunSummary) RunSummaryResponse {
	return RunSummaryResponse{
		ID:        r.ID,
		ProjectID: r.ProjectID,
		CreatedAt: r.CreatedAt,
		Options:   r.Options,
	}
}

func mapRunSummaries(items []repo.RunSummary) []RunSummaryResponse {
	res := make([]RunSummaryResponse, 0, len(items))
	for _, r := range items {
		res = append(res, runSummaryResponse(r))
	}
	return res
}

func eventResponse(evt domain.Event) EventResponse {
	resp := EventResponse{
		ID:         evt.ID,
		TS:         evt.TS,
		Type:       evt.Type,
		ProjectID:  evt.ProjectID,
		EntityKind: evt.EntityKind,
		EntityID:   evt.EntityID,
		ActorID:    evt.ActorID,
	}
	if evt.Payload != "" {
		var payload map[string]any
		if err := json.Unmarshal([]byte(evt.Payload), &payload); err == nil {
			resp.Payload = payload
		}
	}
	return resp
}
