package buildplansdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client is a minimal Buildplan HTTP API client.
type Client struct {
	BaseURL     string
	ProjectID   string
	BearerToken string
	ActorID     string
	HTTPClient  *http.Client
	Timeout     time.Duration
}

// New creates a client with sane defaults.
func New(baseURL, projectID string) *Client {
	return &Client{
		BaseURL:   baseURL,
		ProjectID: projectID,
		Timeout:   10 * time.Second,
	}
}

// Project represents the API project model.
type Project struct {
	ID             string `json:"id"`
	Name           string `json:"name"`
	StartDate      string `json:"start_date"`
	NumberOfFloors int    `json:"number_of_floors"`
	Status         string `json:"status"`
	CreatedAt      string `json:"created_at"`
}

// WbsArticle is one priced line item.
type WbsArticle struct {
	Code        string   `json:"code"`
	Description string   `json:"description"`
	Unit        string   `json:"unit"`
	Quantity    float64  `json:"quantity"`
	UnitPrice   *float64 `json:"unit_price,omitempty"`
	Chapter     string   `json:"chapter,omitempty"`
	SubChapter  string   `json:"sub_chapter,omitempty"`
}

// PriceMatch carries the cost split for an article.
type PriceMatch struct {
	ArticleCode string  `json:"article_code"`
	UnitCost    float64 `json:"unit_cost"`
	Materials   float64 `json:"materials"`
	Labor       float64 `json:"labor"`
	Machinery   float64 `json:"machinery"`
	PriceCode   string  `json:"price_code,omitempty"`
	Confidence  float64 `json:"confidence,omitempty"`
}

// ScheduleOptions mirror the compute options.
type ScheduleOptions struct {
	MaxWorkers         int       `json:"max_workers,omitempty"`
	ApplyCriticalChain bool      `json:"apply_critical_chain,omitempty"`
	SafetyReduction    float64   `json:"safety_reduction,omitempty"`
	ProjectBufferRatio float64   `json:"project_buffer_ratio,omitempty"`
	FeedingBufferRatio float64   `json:"feeding_buffer_ratio,omitempty"`
	OptimizeCapacity   bool      `json:"optimize_capacity,omitempty"`
	SeasonalFactors    []float64 `json:"seasonal_factors,omitempty"`
}

// ScheduleRun is a computed schedule document. Schedule and Capacity are
// kept raw: callers that need the full tree decode into their own types.
type ScheduleRun struct {
	ID        string          `json:"id"`
	ProjectID string          `json:"project_id"`
	CreatedAt string          `json:"created_at"`
	Options   ScheduleOptions `json:"options"`
	Schedule  json.RawMessage `json:"schedule"`
	Capacity  json.RawMessage `json:"capacity,omitempty"`
}

// RunSummary is a schedule run listing entry.
type RunSummary struct {
	ID        string          `json:"id"`
	ProjectID string          `json:"project_id"`
	CreatedAt string          `json:"created_at"`
	Options   ScheduleOptions `json:"options"`
}

// Event represents a log entry.
type Event struct {
	ID         int64          `json:"id"`
	TS         string         `json:"ts"`
	Type       string         `json:"type"`
	ProjectID  string         `json:"project_id"`
	EntityID   string         `json:"entity_id"`
	EntityKind string         `json:"entity_kind"`
	ActorID    string         `json:"actor_id"`
	Payload    map[string]any `json:"payload"`
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// CreateProject creates a project.
func (c *Client) CreateProject(ctx context.Context, name, startDate string, floors int) (Project, error) {
	body := map[string]any{
		"name":             name,
		"start_date":       startDate,
		"number_of_floors": floors,
	}
	var resp Project
	err := c.do(ctx, http.MethodPost, "v0/projects", body, &resp)
	return resp, err
}

// GetProject fetches the client's project.
func (c *Client) GetProject(ctx context.Context) (Project, error) {
	var resp Project
	err := c.do(ctx, http.MethodGet, c.projectPath(""), nil, &resp)
	return resp, err
}

// ImportWBS replaces the project's priced WBS.
func (c *Client) ImportWBS(ctx context.Context, articles []WbsArticle, matches []PriceMatch) (int, error) {
	body := map[string]any{
		"articles":      articles,
		"price_matches": matches,
	}
	var resp struct {
		Articles int `json:"articles"`
	}
	err := c.do(ctx, http.MethodPut, c.projectPath("wbs"), body, &resp)
	return resp.Articles, err
}

// ComputeSchedule runs the scheduling pipeline and returns the stored run.
func (c *Client) ComputeSchedule(ctx context.Context, opts ScheduleOptions) (ScheduleRun, error) {
	body := map[string]any{"options": opts}
	var resp ScheduleRun
	err := c.do(ctx, http.MethodPost, c.projectPath("schedule"), body, &resp)
	return resp, err
}

// ListScheduleRuns returns the project's run history, newest first.
func (c *Client) ListScheduleRuns(ctx context.Context) ([]RunSummary, error) {
	var resp []RunSummary
	err := c.do(ctx, http.MethodGet, c.projectPath("runs"), nil, &resp)
	return resp, err
}

// GetScheduleRun fetches a run by id.
func (c *Client) GetScheduleRun(ctx context.Context, runID string) (ScheduleRun, error) {
	var resp ScheduleRun
	endpoint := fmt.Sprintf("v0/runs/%s", url.PathEscape(runID))
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// UpdateBufferProgress reports buffer consumption on a run.
func (c *Client) UpdateBufferProgress(ctx context.Context, runID string, bufferIndex int, completionPercent, delayDays float64) (ScheduleRun, error) {
	body := map[string]any{
		"completion_percent": completionPercent,
		"delay_days":         delayDays,
	}
	var resp ScheduleRun
	endpoint := fmt.Sprintf("v0/runs/%s/buffers/%d", url.PathEscape(runID), bufferIndex)
	err := c.do(ctx, http.MethodPost, endpoint, body, &resp)
	return resp, err
}

// Events returns recent events.
func (c *Client) Events(ctx context.Context, limit int) ([]Event, error) {
	endpoint := c.projectPath("events")
	if limit > 0 {
		endpoint = fmt.Sprintf("%s?limit=%d", endpoint, limit)
	}
	var resp []Event
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	url := c.base() + "/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, url, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	switch {
	case c.BearerToken != "":
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	case c.ActorID != "":
		req.Header.Set("X-Actor-Id", c.ActorID)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return &APIError{StatusCode: resp.StatusCode, Body: string(b)}
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (c *Client) projectPath(p string) string {
	project := url.PathEscape(c.ProjectID)
	if p == "" {
		return fmt.Sprintf("v0/projects/%s", project)
	}
	return fmt.Sprintf("v0/projects/%s/%s", project, strings.TrimLeft(p, "/"))
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}
