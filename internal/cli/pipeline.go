package cli

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/shaiso/Conveyor/internal/domain"
	"github.com/shaiso/Conveyor/internal/statestore"
)

// NewPipelineCmd создаёт группу команд для инспекции pipeline'ов.
func NewPipelineCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "pipeline",
		Short: "Inspect and maintain pipeline snapshots",
	}

	cmd.AddCommand(
		newPipelineListCmd(app),
		newPipelineShowCmd(app),
		newPipelinePruneCmd(app),
	)

	return cmd
}

func newPipelineListCmd(app *App) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List recent pipelines",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			out := app.Output()

			store, closeStore, err := openStore(app, ctx)
			if err != nil {
				return err
			}
			defer closeStore()

			infos, err := store.ListSnapshots(ctx)
			if err != nil {
				return err
			}
			if limit > 0 && len(infos) > limit {
				infos = infos[:limit]
			}

			type row struct {
				RunID        string                `json:"run_id"`
				Status       domain.PipelineStatus `json:"status"`
				WindowStart  time.Time             `json:"window_start"`
				Completion   float64               `json:"completion_rate"`
				RestartCount int                   `json:"restart_count"`
				SavedAt      time.Time             `json:"saved_at"`
			}

			var data []row
			var rows [][]string
			for _, info := range infos {
				pipeline, _, err := store.Load(ctx, info.PipelineID)
				if err != nil {
					continue
				}
				data = append(data, row{
					RunID:        pipeline.RunID,
					Status:       pipeline.Status,
					WindowStart:  pipeline.Window.Start,
					Completion:   pipeline.CompletionRate(),
					RestartCount: pipeline.RestartCount,
					SavedAt:      info.SavedAt,
				})
				rows = append(rows, []string{
					pipeline.RunID,
					string(pipeline.Status),
					pipeline.Window.Start.Format("2006-01-02"),
					fmt.Sprintf("%.0f%%", pipeline.CompletionRate()),
					strconv.Itoa(pipeline.RestartCount),
					info.SavedAt.Format(time.RFC3339),
				})
			}

			out.Print([]string{"RUN_ID", "STATUS", "WINDOW", "DONE", "RESTARTS", "SAVED"}, rows, data)
			return nil
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 10, "Maximum number of pipelines to show")
	return cmd
}

func newPipelineShowCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "show RUN_ID",
		Short: "Show pipeline details and per-table state",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			out := app.Output()

			store, closeStore, err := openStore(app, ctx)
			if err != nil {
				return err
			}
			defer closeStore()

			pipeline, tasks, err := store.FindByRunID(ctx, args[0])
			if err != nil {
				return err
			}

			out.Success(fmt.Sprintf("Pipeline %s: %s, window %s, %d/%d tasks, %d restart(s)",
				pipeline.RunID,
				pipeline.Status,
				pipeline.Window.Start.Format("2006-01-02 15:04"),
				pipeline.CompletedTasks,
				pipeline.TotalTasks,
				pipeline.RestartCount,
			))

			headers := []string{"TABLE", "STATUS", "RECORDS", "RETRIES", "ARTIFACT", "ERROR"}
			var rows [][]string
			for _, key := range sortedTaskKeys(tasks) {
				task := tasks[key]
				rows = append(rows, []string{
					key,
					string(task.Status),
					strconv.FormatInt(task.RecordCount, 10),
					strconv.Itoa(task.RetryCount),
					task.ArtifactPath,
					task.ErrorMessage,
				})
			}

			out.Print(headers, rows, statestore.Snapshot{Pipeline: pipeline, Tasks: tasks})
			return nil
		},
	}
}

func newPipelinePruneCmd(app *App) *cobra.Command {
	var retentionDays int

	cmd := &cobra.Command{
		Use:   "prune",
		Short: "Delete snapshots older than the retention period",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			out := app.Output()

			cfg, err := app.Config()
			if err != nil {
				return err
			}
			if retentionDays <= 0 {
				retentionDays = cfg.RetentionDays
			}

			store, closeStore, err := app.OpenStore(ctx, cfg)
			if err != nil {
				return err
			}
			defer closeStore()

			cutoff := time.Now().Add(-time.Duration(retentionDays) * 24 * time.Hour)
			pruned, err := store.Prune(ctx, cutoff)
			if err != nil {
				return err
			}

			out.Success(fmt.Sprintf("Pruned %d snapshot(s) older than %d day(s)", pruned, retentionDays))
			return nil
		},
	}

	cmd.Flags().IntVar(&retentionDays, "retention-days", 0, "Retention in days (default: from config)")
	return cmd
}

// openStore — общий шаг команд: конфигурация + statestore.
func openStore(app *App, ctx context.Context) (statestore.Store, func(), error) {
	cfg, err := app.Config()
	if err != nil {
		return nil, nil, err
	}
	return app.OpenStore(ctx, cfg)
}
