package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"buildplan/internal/domain"
)

var ErrNotFound = errors.New("not found")

type Repo struct {
	DB *sql.DB
}

// --- projects ---

func (r Repo) InsertProject(ctx context.Context, tx *sql.Tx, p domain.Project) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO projects(id,name,start_date,number_of_floors,status,created_at) VALUES (?,?,?,?,?,?)`,
		p.ID, p.Name, p.StartDate.String(), p.NumberOfFloors, p.Status, p.CreatedAt)
	return err
}

func (r Repo) GetProject(ctx context.Context, id string) (domain.Project, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT id,name,start_date,number_of_floors,status,created_at FROM projects WHERE id = ?`, id)
	return scanProject(row)
}

func (r Repo) ListProjects(ctx context.Context) ([]domain.Project, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,name,start_date,number_of_floors,status,created_at FROM projects ORDER BY created_at, id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []domain.Project
	for rows.Next() {
		p, err := scanProject(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// SingleProject returns the only project, if exactly one exists.
func (r Repo) SingleProject(ctx context.Context) (domain.Project, error) {
	items, err := r.ListProjects(ctx)
	if err != nil {
		return domain.Project{}, err
	}
	if len(items) != 1 {
		return domain.Project{}, fmt.Errorf("expected exactly one project, found %d", len(items))
	}
	return items[0], nil
}

func (r Repo) DeleteProject(ctx context.Context, id string) error {
	res, err := r.DB.ExecContext(ctx, `DELETE FROM projects WHERE id = ?`, id)
	if err != nil {
		return err
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanProject(row rowScanner) (domain.Project, error) {
	var p domain.Project
	var start string
	err := row.Scan(&p.ID, &p.Name, &start, &p.NumberOfFloors, &p.Status, &p.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return p, ErrNotFound
	}
	if err != nil {
		return p, err
	}
	if err := p.StartDate.UnmarshalJSON([]byte(`"` + start + `"`)); err != nil {
		return p, fmt.Errorf("project %s start date: %w", p.ID, err)
	}
	return p, nil
}

// --- WBS ---

// ReplaceWBS swaps the project's articles and price matches wholesale.
func (r Repo) ReplaceWBS(ctx context.Context, tx *sql.Tx, projectID string, doc domain.WbsDocument) error {
	if _, err := tx.ExecContext(ctx, `DELETE FROM wbs_articles WHERE project_id = ?`, projectID); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM price_matches WHERE project_id = ?`, projectID); err != nil {
		return err
	}
	for i, a := range doc.Articles {
		var price any
		if a.UnitPrice != nil {
			price = *a.UnitPrice
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO wbs_articles(project_id,code,description,unit,quantity,unit_price,chapter,sub_chapter,position) VALUES (?,?,?,?,?,?,?,?,?)`,
			projectID, a.Code, a.Description, a.Unit, a.Quantity, price, a.Chapter, a.SubChapter, i); err != nil {
			return fmt.Errorf("insert article %s: %w", a.Code, err)
		}
	}
	for _, m := range doc.Matches {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO price_matches(project_id,article_code,unit_cost,materials,labor,machinery,price_code,confidence) VALUES (?,?,?,?,?,?,?,?)`,
			projectID, m.ArticleCode, m.UnitCost, m.Materials, m.Labor, m.Machinery, m.PriceCode, m.Confidence); err != nil {
			return fmt.Errorf("insert price match %s: %w", m.ArticleCode, err)
		}
	}
	return nil
}

func (r Repo) ListArticles(ctx context.Context, projectID string) ([]domain.WbsArticle, error) {
	rows, err := r.DB.QueryContext(ctx,
		`SELECT code,description,unit,quantity,unit_price,chapter,sub_chapter FROM wbs_articles WHERE project_id = ? ORDER BY position`, projectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []domain.WbsArticle
	for rows.Next() {
		var a domain.WbsArticle
		var price sql.NullFloat64
		if err := rows.Scan(&a.Code, &a.Description, &a.Unit, &a.Quantity, &price, &a.Chapter, &a.SubChapter); err != nil {
			return nil, err
		}
		if price.Valid {
			v := price.Float64
			a.UnitPrice = &v
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (r Repo) ListPriceMatches(ctx context.Context, projectID string) ([]domain.PriceMatch, error) {
	rows, err := r.DB.QueryContext(ctx,
		`SELECT article_code,unit_cost,materials,labor,machinery,price_code,confidence FROM price_matches WHERE project_id = ? ORDER BY article_code`, projectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []domain.PriceMatch
	for rows.Next() {
		var m domain.PriceMatch
		if err := rows.Scan(&m.ArticleCode, &m.UnitCost, &m.Materials, &m.Labor, &m.Machinery, &m.PriceCode, &m.Confidence); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// --- schedule runs ---

func (r Repo) InsertScheduleRun(ctx context.Context, tx *sql.Tx, run domain.ScheduleRun) error {
	opts, err := json.Marshal(run.Options)
	if err != nil {
		return fmt.Errorf("marshal run options: %w", err)
	}
	doc, err := json.Marshal(run)
	if err != nil {
		return fmt.Errorf("marshal run document: %w", err)
	}
	_, err = tx.ExecContext(ctx, `INSERT INTO schedule_runs(id,project_id,created_at,options_json,document_json) VALUES (?,?,?,?,?)`,
		run.ID, run.ProjectID, run.CreatedAt, string(opts), string(doc))
	return err
}

// UpdateScheduleRun rewrites the run document wholesale (latest report
// wins, e.g. buffer consumption updates).
func (r Repo) UpdateScheduleRun(ctx context.Context, tx *sql.Tx, run domain.ScheduleRun) error {
	doc, err := json.Marshal(run)
	if err != nil {
		return fmt.Errorf("marshal run document: %w", err)
	}
	res, err := tx.ExecContext(ctx, `UPDATE schedule_runs SET document_json = ? WHERE id = ?`, string(doc), run.ID)
	if err != nil {
		return err
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) GetScheduleRun(ctx context.Context, id string) (domain.ScheduleRun, error) {
	var doc string
	err := r.DB.QueryRowContext(ctx, `SELECT document_json FROM schedule_runs WHERE id = ?`, id).Scan(&doc)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.ScheduleRun{}, ErrNotFound
	}
	if err != nil {
		return domain.ScheduleRun{}, err
	}
	var run domain.ScheduleRun
	if err := json.Unmarshal([]byte(doc), &run); err != nil {
		return domain.ScheduleRun{}, fmt.Errorf("decode run %s: %w", id, err)
	}
	return run, nil
}

// RunSummary is a listing row without the full document.
type RunSummary struct {
	ID        string                 `json:"id"`
	ProjectID string                 `json:"project_id"`
	CreatedAt string                 `json:"created_at"`
	Options   domain.ScheduleOptions `json:"options"`
}

func (r Repo) ListScheduleRuns(ctx context.Context, projectID string) ([]RunSummary, error) {
	rows, err := r.DB.QueryContext(ctx,
		`SELECT id,project_id,created_at,options_json FROM schedule_runs WHERE project_id = ? ORDER BY created_at DESC, id`, projectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []RunSummary
	for rows.Next() {
		var s RunSummary
		var opts string
		if err := rows.Scan(&s.ID, &s.ProjectID, &s.CreatedAt, &opts); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(opts), &s.Options); err != nil {
			return nil, fmt.Errorf("decode run options %s: %w", s.ID, err)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// --- events ---

func (r Repo) ListEvents(ctx context.Context, projectID string, limit int) ([]domain.Event, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.DB.QueryContext(ctx,
		`SELECT id,ts,type,COALESCE(project_id,''),entity_kind,COALESCE(entity_id,''),actor_id,payload_json
		 FROM events WHERE (? = '' OR project_id = ?) ORDER BY id DESC LIMIT ?`, projectID, projectID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []domain.Event
	for rows.Next() {
		var e domain.Event
		if err := rows.Scan(&e.ID, &e.TS, &e.Type, &e.ProjectID, &e.EntityKind, &e.EntityID, &e.ActorID, &e.Payload); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
