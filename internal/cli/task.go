package cli

import (
	"context"
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"github.com/shaiso/Conveyor/internal/config"
	"github.com/shaiso/Conveyor/internal/domain"
	"github.com/shaiso/Conveyor/internal/integrity"
)

// NewTaskCmd создаёт группу операторских команд для задач.
func NewTaskCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "task",
		Short: "Operator overrides for extraction tasks",
	}

	cmd.AddCommand(
		newTaskPendingCmd(app),
		newTaskForceCmd(app),
		newTaskResetFailedCmd(app),
	)

	return cmd
}

func newTaskPendingCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "pending RUN_ID",
		Short: "List tables that still need extraction",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			out := app.Output()

			cfg, err := app.Config()
			if err != nil {
				return err
			}
			store, closeStore, err := app.OpenStore(ctx, cfg)
			if err != nil {
				return err
			}
			defer closeStore()

			pipeline, tasks, err := store.FindByRunID(ctx, args[0])
			if err != nil {
				return err
			}

			checker := integrity.NewChecker(app.Logger)
			type pendingRow struct {
				Key    string `json:"key"`
				Reason string `json:"reason"`
			}

			var data []pendingRow
			for _, key := range sortedTaskKeys(tasks) {
				task := tasks[key]
				reason := pendingReason(pipeline, task, checker, cfg.MaxRetryAttempts)
				if reason != "" {
					data = append(data, pendingRow{Key: key, Reason: reason})
				}
			}

			rows := make([][]string, len(data))
			for i, d := range data {
				rows[i] = []string{d.Key, d.Reason}
			}
			out.Print([]string{"TABLE", "REASON"}, rows, data)
			return nil
		},
	}
}

// pendingReason повторяет лестницу решений идемпотентного движка в
// read-only виде: почему таблице нужно извлечение.
func pendingReason(pipeline *domain.PipelineState, task *domain.TaskState, checker *integrity.Checker, maxRetry int) string {
	switch task.Status {
	case domain.TaskStatusPending:
		return "not extracted yet"
	case domain.TaskStatusRunning, domain.TaskStatusRetrying:
		return "in flight (or interrupted by a crash)"
	case domain.TaskStatusFailed:
		if task.RetryCount < maxRetry {
			return fmt.Sprintf("failed, %d of %d attempts used", task.RetryCount, maxRetry)
		}
		return ""
	case domain.TaskStatusCompleted:
		if !pipeline.Window.Contains(task.Window.Start) {
			return "window mismatch"
		}
		if !checker.IsArtifactValid(task) {
			return "artifact failed integrity check"
		}
		return ""
	default:
		return ""
	}
}

func newTaskForceCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "force RUN_ID TABLE",
		Short: "Force a table to be re-extracted on the next run",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			out := app.Output()

			return mutateRun(app, ctx, args[0], func(cfg config.Config, pipeline *domain.PipelineState, tasks map[string]*domain.TaskState) error {
				task, ok := tasks[args[1]]
				if !ok {
					return fmt.Errorf("table %q not found in run %s", args[1], args[0])
				}
				task.Reset()
				out.Success(fmt.Sprintf("Table %s queued for re-extraction", args[1]))
				return nil
			})
		},
	}
}

func newTaskResetFailedCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "reset-failed RUN_ID",
		Short: "Requeue failed tables that still have retry budget",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			out := app.Output()

			return mutateRun(app, ctx, args[0], func(cfg config.Config, pipeline *domain.PipelineState, tasks map[string]*domain.TaskState) error {
				// RetryCount сохраняется: сброс не выдаёт новый бюджет.
				// Исчерпавшие бюджет SKIPPED-таблицы требуют явного force.
				reset := 0
				for _, task := range tasks {
					if task.Status == domain.TaskStatusFailed && task.RetryCount < cfg.MaxRetryAttempts {
						task.ResetPending()
						reset++
					}
				}
				out.Success(fmt.Sprintf("Reset %d table(s)", reset))
				return nil
			})
		},
	}
}

// mutateRun загружает снапшот запуска, применяет мутацию и сохраняет
// его обратно с пересчитанными счётчиками.
func mutateRun(app *App, ctx context.Context, runID string, fn func(config.Config, *domain.PipelineState, map[string]*domain.TaskState) error) error {
	cfg, err := app.Config()
	if err != nil {
		return err
	}
	store, closeStore, err := app.OpenStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeStore()

	pipeline, tasks, err := store.FindByRunID(ctx, runID)
	if err != nil {
		return err
	}

	if err := fn(cfg, pipeline, tasks); err != nil {
		return err
	}

	recountTasks(pipeline, tasks)
	return store.Save(ctx, pipeline, tasks)
}

// recountTasks пересчитывает агрегатные счётчики pipeline.
func recountTasks(pipeline *domain.PipelineState, tasks map[string]*domain.TaskState) {
	pipeline.TotalTasks = len(tasks)
	pipeline.CompletedTasks = 0
	pipeline.FailedTasks = 0
	pipeline.SkippedTasks = 0
	for _, task := range tasks {
		switch task.Status {
		case domain.TaskStatusCompleted:
			pipeline.CompletedTasks++
		case domain.TaskStatusFailed:
			pipeline.FailedTasks++
		case domain.TaskStatusSkipped:
			pipeline.SkippedTasks++
		}
	}
}

// sortedTaskKeys возвращает ключи задач по алфавиту.
func sortedTaskKeys(tasks map[string]*domain.TaskState) []string {
	keys := make([]string, 0, len(tasks))
	for key := range tasks {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}
