package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"rankarena/internal/config"
	"rankarena/internal/db"
	"rankarena/internal/domain"
	"rankarena/internal/engine"
	"rankarena/internal/judge"
	"rankarena/internal/migrate"
	"rankarena/internal/server"
)

var rootCmd = &cobra.Command{
	Use:   "ra",
	Short: "Rankarena CLI",
	Long: `Rankarena ranks candidates with an LLM judge.
- rank: one judgment for one task description.
- batch run: fan a candidate set across many adversarial scenarios and
  aggregate win counts and win rates.
- scenarios generate: produce test scenarios for a candidate set.
- serve: start the HTTP API with async tasks, webhooks, and live progress.
State lives in a .rankarena workspace directory (sqlite).`,
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
	viper.SetEnvPrefix("RANKARENA")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	_ = viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
}

func registerCommands() {
	rootCmd.AddCommand(initCmd())
	rootCmd.AddCommand(rankCmd())
	rootCmd.AddCommand(scenariosCmd())
	rootCmd.AddCommand(batchCmd())
	rootCmd.AddCommand(taskCmd())
	rootCmd.AddCommand(logCmd())
	rootCmd.AddCommand(serveCmd())
}

func initCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a default config file into the workspace",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			path := config.Path(workspace)
			if _, err := os.Stat(path); err == nil {
				return fmt.Errorf("%s already exists", path)
			}
			if err := os.WriteFile(path, []byte(config.GenerateDefault()), 0o644); err != nil {
				return err
			}
			fmt.Printf("Wrote %s\n", path)
			return nil
		},
	}
	return cmd
}

func rankCmd() *cobra.Command {
	var task, candidatesFile string
	var urls []string
	cmd := &cobra.Command{
		Use:   "rank",
		Short: "Rank candidates for one task description",
		RunE: func(cmd *cobra.Command, args []string) error {
			if task == "" {
				return fmt.Errorf("--task required")
			}
			return withJudgeEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				var res domain.RankResult
				var err error
				if len(urls) > 0 {
					res, err = e.RankURLs(ctx, engine.URLRankRequest{TaskDescription: task, URLs: urls})
				} else {
					candidates, cerr := readCandidates(candidatesFile)
					if cerr != nil {
						return cerr
					}
					res, err = e.RankOnce(ctx, engine.RankRequest{TaskDescription: task, Candidates: candidates})
				}
				if err != nil {
					return err
				}
				return printJSONOrTable(res)
			})
		},
	}
	cmd.Flags().StringVar(&task, "task", "", "task description")
	cmd.Flags().StringVar(&candidatesFile, "candidates", "", "path to candidates JSON")
	cmd.Flags().StringSliceVar(&urls, "url", nil, "candidate URL (repeatable, 2-10)")
	return cmd
}

func scenariosCmd() *cobra.Command {
	gen := &cobra.Command{Use: "scenarios", Short: "Work with test scenarios"}
	gen.AddCommand(scenariosGenerateCmd())
	return gen
}

func scenariosGenerateCmd() *cobra.Command {
	var candidatesFile, query string
	var count int
	cmd := &cobra.Command{
		Use:   "generate",
		Short: "Generate adversarial test scenarios",
		RunE: func(cmd *cobra.Command, args []string) error {
			candidates, err := readCandidates(candidatesFile)
			if err != nil {
				return err
			}
			return withJudgeEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				scenarios, err := e.GenerateScenarios(ctx, candidates, count, query)
				if err != nil {
					return err
				}
				return printJSONOrTable(scenarios)
			})
		},
	}
	cmd.Flags().StringVar(&candidatesFile, "candidates", "", "path to candidates JSON")
	cmd.Flags().IntVar(&count, "count", 0, "number of scenarios (default from config)")
	cmd.Flags().StringVar(&query, "query", "", "steer scenario generation")
	return cmd
}

func batchCmd() *cobra.Command {
	batch := &cobra.Command{Use: "batch", Short: "Run batch comparisons"}
	batch.AddCommand(batchRunCmd())
	return batch
}

func batchRunCmd() *cobra.Command {
	var candidatesFile, scenariosFile, query string
	var count int
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run a batch of scenarios and aggregate win rates",
		RunE: func(cmd *cobra.Command, args []string) error {
			candidates, err := readCandidates(candidatesFile)
			if err != nil {
				return err
			}
			var scenarios []domain.Scenario
			if scenariosFile != "" {
				data, err := os.ReadFile(scenariosFile)
				if err != nil {
					return err
				}
				if err := json.Unmarshal(data, &scenarios); err != nil {
					return fmt.Errorf("parse scenarios: %w", err)
				}
			}
			return withJudgeEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				sessionID := uuid.NewString()
				updates, cancel := e.Progress.Subscribe(sessionID)
				defer cancel()
				done := make(chan struct{})
				go func() {
					defer close(done)
					for u := range updates {
						fmt.Fprintf(os.Stderr, "progress: %d/%d (%d%%)\n", u.Current, u.Total, u.Percentage)
					}
				}()
				result, err := e.RunBatch(ctx, engine.BatchRunRequest{
					Candidates:   candidates,
					Scenarios:    scenarios,
					NumScenarios: count,
					CustomQuery:  query,
					SessionID:    sessionID,
				})
				<-done
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(result)
				}
				printBatchResult(result)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&candidatesFile, "candidates", "", "path to candidates JSON")
	cmd.Flags().StringVar(&scenariosFile, "scenarios", "", "path to scenarios JSON (generated when omitted)")
	cmd.Flags().IntVar(&count, "count", 0, "number of scenarios to generate")
	cmd.Flags().StringVar(&query, "query", "", "steer scenario generation")
	return cmd
}

func taskCmd() *cobra.Command {
	task := &cobra.Command{Use: "task", Short: "Inspect async tasks"}
	task.AddCommand(taskListCmd())
	task.AddCommand(taskShowCmd())
	task.AddCommand(taskResultCmd())
	return task
}

func taskListCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List tasks",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				tasks, err := e.Repo.ListTasks(ctx, limit)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(tasks)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Type", "Status", "Started", "Closed"})
				for _, t := range tasks {
					closed := ""
					if t.CloseTime != nil {
						closed = *t.CloseTime
					}
					tw.AppendRow(table.Row{t.ID, t.Type, t.Status, t.StartTime, closed})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 50, "max tasks")
	return cmd
}

func taskShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <task-id>",
		Short: "Show one task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				t, err := e.PollTask(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(t)
			})
		},
	}
	return cmd
}

func taskResultCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "result <task-id>",
		Short: "Print a completed task's result",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				result, err := e.FetchResult(ctx, args[0])
				if errors.Is(err, engine.ErrStillProcessing) {
					fmt.Println("still processing")
					return nil
				}
				if err != nil {
					return err
				}
				fmt.Println(result)
				return nil
			})
		},
		Args: cobra.ExactArgs(1),
	}
	return cmd
}

func logCmd() *cobra.Command {
	log := &cobra.Command{Use: "log", Short: "Inspect the event log"}
	log.AddCommand(logTailCmd())
	return log
}

func logTailCmd() *cobra.Command {
	var n int
	var taskID string
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Tail task lifecycle events",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				events, err := e.Repo.ListEvents(ctx, n, taskID)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(events)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"TS", "Type", "Task", "Payload"})
				for _, ev := range events {
					tw.AppendRow(table.Row{ev.TS, ev.Type, ev.TaskID, ev.Payload})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&n, "n", 20, "number of events")
	cmd.Flags().StringVar(&taskID, "task", "", "task id filter")
	return cmd
}

func serveCmd() *cobra.Command {
	var addr, basePath string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withJudgeEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				handler, err := server.New(server.Config{Engine: e, BasePath: basePath})
				if err != nil {
					return err
				}
				srv := &http.Server{Addr: addr, Handler: handler}
				go func() {
					<-ctx.Done()
					sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
					defer cancel()
					srv.Shutdown(sctx)
				}()
				fmt.Printf("Serving Rankarena API on http://%s%s (OpenAPI at %s/openapi.json, Swagger UI at /docs)\n", addr, basePath, basePath)
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					return err
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8080", "listen address")
	cmd.Flags().StringVar(&basePath, "base-path", "/v1", "API base path")
	return cmd
}

// --- helpers ---

func withEngine(ctx context.Context, fn func(context.Context, engine.Engine) error) error {
	return openEngine(ctx, nil, nil, fn)
}

func withJudgeEngine(ctx context.Context, fn func(context.Context, engine.Engine) error) error {
	workspace := viper.GetString("workspace")
	cfg, err := config.LoadOptional(workspace)
	if err != nil {
		return err
	}
	j, err := judge.NewOpenAI(ctx, cfg.Judge.Model, cfg.Judge.MaxCandidateChars)
	if err != nil {
		return err
	}
	return openEngine(ctx, j, j, fn)
}

func openEngine(ctx context.Context, j judge.Judge, c judge.Completer, fn func(context.Context, engine.Engine) error) error {
	workspace := viper.GetString("workspace")
	cfg, err := config.LoadOptional(workspace)
	if err != nil {
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
	return fn(ctx, engine.New(conn, cfg, j, c))
}

func readCandidates(path string) ([]domain.Candidate, error) {
	if path == "" {
		return nil, fmt.Errorf("--candidates required")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var candidates []domain.Candidate
	if err := json.Unmarshal(data, &candidates); err != nil {
		return nil, fmt.Errorf("parse candidates: %w", err)
	}
	return candidates, nil
}

func printBatchResult(r domain.BatchResult) {
	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	tw.AppendHeader(table.Row{"Candidate", "Wins", "Win rate"})
	for id, wins := range r.Results {
		tw.AppendRow(table.Row{id, wins, fmt.Sprintf("%.2f", r.WinRate[id])})
	}
	tw.Render()
	fmt.Printf("Total tests: %d\n", r.TotalTests)
	failed := 0
	for _, d := range r.ScenarioDetails {
		if d.Failed() {
			failed++
		}
	}
	if failed > 0 {
		fmt.Printf("Failed scenarios: %d\n", failed)
	}
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
