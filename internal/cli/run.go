package cli

import (
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/shaiso/Conveyor/internal/config"
	"github.com/shaiso/Conveyor/internal/domain"
	"github.com/shaiso/Conveyor/internal/extract"
	"github.com/shaiso/Conveyor/internal/integrity"
	"github.com/shaiso/Conveyor/internal/orchestrator"
	"github.com/shaiso/Conveyor/internal/statestore"
)

// NewRunCmd создаёт команду запуска pipeline.
func NewRunCmd(app *App) *cobra.Command {
	var runID string
	var windowStart string
	var windowHours int

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the extraction pipeline",
		Long: `Run the extraction pipeline for a time window.

Re-running with the same --run-id resumes the existing pipeline:
completed tables with intact artifacts are not re-extracted.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			out := app.Output()

			cfg, err := app.Config()
			if err != nil {
				return err
			}

			window, err := parseWindow(windowStart, windowHours)
			if err != nil {
				return err
			}

			specs, err := config.LoadTasks(cfg.TasksFile)
			if err != nil {
				return err
			}

			store, closeStore, err := app.OpenStore(ctx, cfg)
			if err != nil {
				return err
			}
			defer closeStore()

			if cfg.SourceDatabaseURL == "" {
				return fmt.Errorf("source_database_url is required to run extractions")
			}
			pool, err := statestore.NewPool(ctx, cfg.SourceDatabaseURL)
			if err != nil {
				return fmt.Errorf("connect source db: %w", err)
			}
			defer pool.Close()

			registry := extract.NewRegistry()
			pgExecutor := extract.NewPostgresExecutor(pool, cfg.OutputDir, app.Logger)
			for _, spec := range specs {
				registry.Register(spec.SourceName, pgExecutor)
			}

			o := orchestrator.New(orchestrator.Config{
				Store:              store,
				Checker:            integrity.NewChecker(app.Logger),
				Executor:           registry,
				MaxWorkers:         cfg.MaxWorkers,
				MaxRetryAttempts:   cfg.MaxRetryAttempts,
				CheckpointInterval: cfg.CheckpointInterval(),
				AutoFullRefresh:    cfg.AutoFullRefresh,
				Logger:             app.Logger,
			})

			pipeline, err := o.StartPipeline(ctx, runID, window, specs)
			if err != nil {
				return err
			}
			out.Success(fmt.Sprintf("Pipeline started: run_id=%s window=%s",
				pipeline.RunID, pipeline.Window.Start.Format("2006-01-02 15:04")))

			if err := o.Run(ctx); err != nil {
				return err
			}

			summary, err := o.GetExtractionSummary()
			if err != nil {
				return err
			}

			printSummary(out, summary)
			if summary.Status != domain.PipelineStatusCompleted {
				return fmt.Errorf("pipeline finished with status %s", summary.Status)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&runID, "run-id", "", "Run ID (resume if it exists; generated if empty)")
	cmd.Flags().StringVar(&windowStart, "window-start", "", "Window start, YYYY-MM-DD or RFC3339 (default: previous day)")
	cmd.Flags().IntVar(&windowHours, "window-hours", domain.DefaultWindowHours, "Window length in hours")

	return cmd
}

// parseWindow строит окно из флагов. Пустой window-start — окно по
// умолчанию выбирает оркестратор.
func parseWindow(start string, hours int) (domain.Window, error) {
	if start == "" {
		return domain.Window{}, nil
	}

	t, err := time.Parse("2006-01-02", start)
	if err != nil {
		t, err = time.Parse(time.RFC3339, start)
		if err != nil {
			return domain.Window{}, fmt.Errorf("invalid window start %q: expected YYYY-MM-DD or RFC3339", start)
		}
	}

	if hours <= 0 {
		hours = domain.DefaultWindowHours
	}
	return domain.Window{Start: t.UTC(), Hours: hours}, nil
}

// printSummary печатает итоги запуска.
func printSummary(out *Output, summary orchestrator.ExtractionSummary) {
	headers := []string{"RUN_ID", "STATUS", "COMPLETED", "FAILED", "RECORDS", "BYTES", "DURATION"}
	rows := [][]string{{
		summary.RunID,
		string(summary.Status),
		strconv.Itoa(len(summary.CompletedTables)),
		strconv.Itoa(len(summary.FailedTables)),
		strconv.FormatInt(summary.TotalRecords, 10),
		strconv.FormatInt(summary.TotalBytes, 10),
		summary.Duration.Truncate(time.Millisecond).String(),
	}}
	out.Print(headers, rows, summary)

	for _, rec := range summary.Recommendations {
		out.Success("hint: " + rec)
	}
}
