package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"buildplan/internal/calendar"
	"buildplan/internal/config"
	"buildplan/internal/db"
	"buildplan/internal/domain"
	"buildplan/internal/engine"
	"buildplan/internal/migrate"
	"buildplan/internal/repo"
	"buildplan/internal/server"
)

var rootCmd = &cobra.Command{
	Use:   "bp",
	Short: "Buildplan CLI",
	Long: `Buildplan turns a priced work breakdown structure into a construction schedule.
Core concepts:
- Workspace: your .buildplan directory holding the database; scheduling rules live in buildplan.yml.
- Project: a building job with a start date and floor count that owns WBS imports and schedule runs.
- WBS: priced line items (articles) plus price matches; codes map onto construction phases by prefix.
- Schedule run: one computed schedule with phase summaries, work tasks, procurement leads and milestones.
- Critical chain: optional pass that strips safety from task estimates and pools it into buffers.
- Capacity: optional pass that finds site bottlenecks and repairs them by leveling and splitting.
- Event log: diary of changes, view with 'bp log tail'.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		workspace := viper.GetString("workspace")
		if _, err := db.EnsureWorkspace(workspace); err != nil {
			return err
		}
		return nil
	},
}

func main() {
	cobra.OnInitialize(initConfig)
	addPersistentFlags()
	registerCommands()
	if err := rootCmd.Execute(); err != nil {
		fmt.Println("error:", err)
		os.Exit(1)
	}
}

func initConfig() {
	viper.SetEnvPrefix("BUILDPLAN")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().String("actor-id", "local-user", "actor identifier")
	rootCmd.PersistentFlags().String("project", "", "project id (defaults to the only project)")
	_ = viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	_ = viper.BindPFlag("actor-id", rootCmd.PersistentFlags().Lookup("actor-id"))
	_ = viper.BindPFlag("project", rootCmd.PersistentFlags().Lookup("project"))
}

func registerCommands() {
	rootCmd.AddCommand(projectCmd())
	rootCmd.AddCommand(configCmd())
	rootCmd.AddCommand(wbsCmd())
	rootCmd.AddCommand(scheduleCmd())
	rootCmd.AddCommand(bufferCmd())
	rootCmd.AddCommand(logCmd())
	rootCmd.AddCommand(serveCmd())
}

func projectCmd() *cobra.Command {
	prj := &cobra.Command{Use: "project", Short: "Manage projects"}
	prj.AddCommand(projectListCmd())
	prj.AddCommand(projectCreateCmd())
	prj.AddCommand(projectShowCmd())
	prj.AddCommand(projectDeleteCmd())
	return prj
}

func projectListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List projects",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				items, err := r.ListProjects(ctx)
				if err != nil {
					return err
				}
				return printJSONOrTable(items)
			})
		},
	}
	return cmd
}

func projectCreateCmd() *cobra.Command {
	var id, name, start string
	var floors int
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create project",
		RunE: func(cmd *cobra.Command, args []string) error {
			startDate, err := calendar.ParseDate(start)
			if err != nil {
				return fmt.Errorf("--start: %w", err)
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				p, err := e.CreateProject(ctx, engine.ProjectCreateOptions{
					ID:             id,
					Name:           name,
					StartDate:      startDate,
					NumberOfFloors: floors,
					ActorID:        viper.GetString("actor-id"),
				})
				if err != nil {
					return err
				}
				return printJSONOrTable(p)
			})
		},
	}
	cmd.Flags().StringVar(&id, "id", "", "project id (generated when empty)")
	cmd.Flags().StringVar(&name, "name", "", "project name")
	cmd.Flags().StringVar(&start, "start", "", "start date (YYYY-MM-DD)")
	cmd.Flags().IntVar(&floors, "floors", 1, "number of floors")
	_ = cmd.MarkFlagRequired("name")
	_ = cmd.MarkFlagRequired("start")
	return cmd
}

func projectShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Show project",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				p, err := resolveProject(ctx, r)
				if err != nil {
					return err
				}
				return printJSONOrTable(p)
			})
		},
	}
	return cmd
}

func projectDeleteCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "delete",
		Short: "Delete project",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				p, err := resolveProject(ctx, r)
				if err != nil {
					return err
				}
				return r.DeleteProject(ctx, p.ID)
			})
		},
	}
	return cmd
}

func configCmd() *cobra.Command {
	cfg := &cobra.Command{
		Use:   "config",
		Short: "Inspect scheduling config",
		Long:  "Config is the rulebook (buildplan.yml): the working-day calendar, worker limits, seasonal factors, critical chain ratios and site capacity constraints.",
	}
	cfg.AddCommand(configInitCmd())
	cfg.AddCommand(configShowCmd())
	cfg.AddCommand(configValidateCmd())
	return cfg
}

func configInitCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write default buildplan.yml",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := config.Path(viper.GetString("workspace"))
			if _, err := os.Stat(path); err == nil {
				return fmt.Errorf("%s already exists", path)
			}
			if err := os.WriteFile(path, []byte(config.GenerateDefault()), 0o644); err != nil {
				return err
			}
			fmt.Println("wrote", path)
			return nil
		},
	}
	return cmd
}

func configShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Show loaded config",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadOptional(viper.GetString("workspace"))
			if err != nil {
				return err
			}
			return printJSONOrTable(cfg)
		},
	}
	return cmd
}

func configValidateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate config",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadOptional(viper.GetString("workspace"))
			if err == nil {
				err = cfg.Validate()
			}
			if viper.GetBool("json") {
				return printJSON(map[string]any{"ok": err == nil, "error": fmt.Sprint(err)})
			}
			if err != nil {
				return err
			}
			fmt.Println("config OK")
			return nil
		},
	}
	return cmd
}

func wbsCmd() *cobra.Command {
	wbs := &cobra.Command{
		Use:   "wbs",
		Short: "Manage the priced work breakdown structure",
		Long:  "The WBS is the input: priced articles whose codes map onto construction phases by prefix, plus price matches carrying labor/material/machinery splits.",
	}
	wbs.AddCommand(wbsImportCmd())
	wbs.AddCommand(wbsShowCmd())
	return wbs
}

func wbsImportCmd() *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "import",
		Short: "Import WBS from a YAML or JSON file",
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(file)
			if err != nil {
				return err
			}
			var doc domain.WbsDocument
			switch strings.ToLower(filepath.Ext(file)) {
			case ".json":
				if err := json.Unmarshal(data, &doc); err != nil {
					return fmt.Errorf("parse %s: %w", file, err)
				}
			default:
				if err := yaml.Unmarshal(data, &doc); err != nil {
					return fmt.Errorf("parse %s: %w", file, err)
				}
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				p, err := resolveProject(ctx, e.Repo)
				if err != nil {
					return err
				}
				count, err := e.ImportWBS(ctx, p.ID, doc, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(map[string]any{"project_id": p.ID, "articles": count})
			})
		},
	}
	cmd.Flags().StringVar(&file, "file", "", "WBS file (.yml or .json)")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

func wbsShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Show imported WBS",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				p, err := resolveProject(ctx, r)
				if err != nil {
					return err
				}
				articles, err := r.ListArticles(ctx, p.ID)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(articles)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"Code", "Description", "Unit", "Quantity", "Unit price"})
				for _, a := range articles {
					price := ""
					if a.UnitPrice != nil {
						price = fmt.Sprintf("%.2f", *a.UnitPrice)
					}
					tw.AppendRow(table.Row{a.Code, a.Description, a.Unit, a.Quantity, price})
				}
				tw.Render()
				return nil
			})
		},
	}
	return cmd
}

func scheduleCmd() *cobra.Command {
	sch := &cobra.Command{
		Use:   "schedule",
		Short: "Compute and inspect schedule runs",
	}
	sch.AddCommand(scheduleComputeCmd())
	sch.AddCommand(scheduleListCmd())
	sch.AddCommand(scheduleShowCmd())
	sch.AddCommand(scheduleCriticalPathCmd())
	return sch
}

func scheduleComputeCmd() *cobra.Command {
	var opts domain.ScheduleOptions
	cmd := &cobra.Command{
		Use:   "compute",
		Short: "Compute a schedule run",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				p, err := resolveProject(ctx, e.Repo)
				if err != nil {
					return err
				}
				run, err := e.ComputeSchedule(ctx, p.ID, opts, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(run)
				}
				fmt.Printf("run %s: %d tasks, %s to %s (%d working days), total %.2f\n",
					run.ID, len(run.Schedule.Tasks), run.Schedule.StartDate, run.Schedule.FinishDate,
					run.Schedule.TotalDurationDays, run.Schedule.TotalCost)
				renderTasks(run.Schedule.Tasks)
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&opts.MaxWorkers, "max-workers", 0, "per-phase worker cap (0 = config)")
	cmd.Flags().BoolVar(&opts.ApplyCriticalChain, "critical-chain", false, "apply the critical chain pass")
	cmd.Flags().Float64Var(&opts.SafetyReduction, "safety-reduction", 0, "safety fraction stripped from estimates (0 = config)")
	cmd.Flags().BoolVar(&opts.OptimizeCapacity, "optimize", false, "apply the site capacity pass")
	return cmd
}

func scheduleListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List schedule runs",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				p, err := resolveProject(ctx, r)
				if err != nil {
					return err
				}
				items, err := r.ListScheduleRuns(ctx, p.ID)
				if err != nil {
					return err
				}
				return printJSONOrTable(items)
			})
		},
	}
	return cmd
}

func scheduleShowCmd() *cobra.Command {
	var runID string
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Show a schedule run",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				run, err := r.GetScheduleRun(ctx, runID)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(run)
				}
				renderTasks(run.Schedule.Tasks)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&runID, "run", "", "run id")
	_ = cmd.MarkFlagRequired("run")
	return cmd
}

func scheduleCriticalPathCmd() *cobra.Command {
	var runID string
	cmd := &cobra.Command{
		Use:   "critical-path",
		Short: "Show a run's critical path",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				run, err := r.GetScheduleRun(ctx, runID)
				if err != nil {
					return err
				}
				var tasks []domain.ScheduleTask
				for _, uid := range run.Schedule.CriticalPath {
					if t := run.Schedule.TaskByUID(uid); t != nil {
						tasks = append(tasks, *t)
					}
				}
				if viper.GetBool("json") {
					return printJSON(tasks)
				}
				renderTasks(tasks)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&runID, "run", "", "run id")
	_ = cmd.MarkFlagRequired("run")
	return cmd
}

func bufferCmd() *cobra.Command {
	buf := &cobra.Command{
		Use:   "buffer",
		Short: "Track critical chain buffers",
		Long:  "Buffers absorb the safety stripped from task estimates. Report progress as chain completion plus accumulated delay; the fever chart zone tells you whether to watch, plan or act.",
	}
	buf.AddCommand(bufferUpdateCmd())
	buf.AddCommand(bufferReportCmd())
	return buf
}

func bufferUpdateCmd() *cobra.Command {
	var runID string
	var index int
	var completion, delay float64
	cmd := &cobra.Command{
		Use:   "update",
		Short: "Report buffer consumption",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				run, err := e.UpdateBufferProgress(ctx, runID, index, completion, delay, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(run.Schedule.CriticalChain.Buffers)
				}
				renderBuffers(run)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&runID, "run", "", "run id")
	cmd.Flags().IntVar(&index, "index", 0, "buffer index")
	cmd.Flags().Float64Var(&completion, "completion", 0, "chain completion percent")
	cmd.Flags().Float64Var(&delay, "delay", 0, "accumulated delay in working days")
	_ = cmd.MarkFlagRequired("run")
	_ = cmd.MarkFlagRequired("completion")
	return cmd
}

func bufferReportCmd() *cobra.Command {
	var runID string
	cmd := &cobra.Command{
		Use:   "report",
		Short: "Show buffer status",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				run, err := r.GetScheduleRun(ctx, runID)
				if err != nil {
					return err
				}
				if run.Schedule.CriticalChain == nil {
					return fmt.Errorf("run %s has no critical chain data", runID)
				}
				if viper.GetBool("json") {
					return printJSON(run.Schedule.CriticalChain.Buffers)
				}
				renderBuffers(run)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&runID, "run", "", "run id")
	_ = cmd.MarkFlagRequired("run")
	return cmd
}

func logCmd() *cobra.Command {
	log := &cobra.Command{
		Use:   "log",
		Short: "Event log",
		Long:  "The diary of everything that happened: project creation, WBS imports, schedule runs and buffer reports.",
	}
	log.AddCommand(logTailCmd())
	return log
}

func logTailCmd() *cobra.Command {
	var n int
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Tail events",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				p, err := resolveProject(ctx, r)
				if err != nil {
					return err
				}
				events, err := r.ListEvents(ctx, p.ID, n)
				if err != nil {
					return err
				}
				return printJSONOrTable(events)
			})
		},
	}
	cmd.Flags().IntVar(&n, "n", 20, "number of events")
	return cmd
}

func serveCmd() *cobra.Command {
	var addr, basePath string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			if _, err := db.EnsureWorkspace(workspace); err != nil {
				return err
			}
			conn, err := db.Open(db.Config{Workspace: workspace})
			if err != nil {
				return err
			}
			defer conn.Close()
			if err := migrate.Migrate(conn); err != nil {
				return err
			}
			cfg, err := config.LoadOptional(workspace)
			if err != nil {
				return err
			}
			e := engine.New(conn, cfg)
			authCfg := server.AuthConfig{JWTSecret: os.Getenv("BUILDPLAN_JWT_SECRET")}
			if authCfg.JWTSecret == "" {
				return fmt.Errorf("BUILDPLAN_JWT_SECRET is required for bearer auth")
			}
			handler, err := server.New(server.Config{Engine: e, BasePath: basePath, Auth: authCfg})
			if err != nil {
				return err
			}
			srv := &http.Server{Addr: addr, Handler: handler}
			go func() {
				<-cmd.Context().Done()
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				srv.Shutdown(ctx)
			}()
			fmt.Printf("Serving Buildplan API on http://%s%s (OpenAPI at /openapi.json, Swagger UI at /docs)\n", addr, basePath)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8080", "listen address")
	cmd.Flags().StringVar(&basePath, "base-path", "/v0", "API base path")
	return cmd
}

// --- helpers ---

func withEngine(ctx context.Context, fn func(context.Context, engine.Engine) error) error {
	workspace := viper.GetString("workspace")
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return err
	}
	defer conn.Close()
	if err := migrate.Migrate(conn); err != nil {
		return err
	}
	cfg, err := config.LoadOptional(workspace)
	if err != nil {
		return err
	}
	e := engine.New(conn, cfg)
	return fn(ctx, e)
}

func withRepo(ctx context.Context, fn func(context.Context, repo.Repo) error) error {
	workspace := viper.GetString("workspace")
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return err
	}
	defer conn.Close()
	if err := migrate.Migrate(conn); err != nil {
		return err
	}
	r := repo.Repo{DB: conn}
	return fn(ctx, r)
}

// resolveProject honors --project, falling back to the workspace's only
// project.
func resolveProject(ctx context.Context, r repo.Repo) (domain.Project, error) {
	if id := viper.GetString("project"); id != "" {
		return r.GetProject(ctx, id)
	}
	return r.SingleProject(ctx)
}

func renderTasks(tasks []domain.ScheduleTask) {
	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	tw.AppendHeader(table.Row{"UID", "Name", "Start", "Finish", "Days", "Workers"})
	for _, t := range tasks {
		name := t.Name
		if !t.IsSummary && !t.IsMilestone {
			name = "  " + name
		}
		tw.AppendRow(table.Row{t.UID, name, t.StartDate, t.FinishDate, t.DurationDays, t.Workers()})
	}
	tw.Render()
}

func renderBuffers(run domain.ScheduleRun) {
	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	tw.AppendHeader(table.Row{"#", "Type", "Days", "Consumed %", "Zone"})
	for i, b := range run.Schedule.CriticalChain.Buffers {
		tw.AppendRow(table.Row{i, b.Type, b.DurationDays, fmt.Sprintf("%.1f", b.ConsumedPercent), b.Zone})
	}
	tw.Render()
}

func printJSONOrTable(v any) error {
	if viper.GetBool("json") {
		return printJSON(v)
	}
	b, _ := json.MarshalIndent(v, "", "  ")
	fmt.Println(string(b))
	return nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
