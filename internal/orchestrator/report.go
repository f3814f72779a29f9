package orchestrator

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/shaiso/Conveyor/internal/domain"
)

// Progress — моментальный снимок хода выполнения pipeline.
type Progress struct {
	RunID          string                `json:"run_id"`
	Status         domain.PipelineStatus `json:"status"`
	TotalTasks     int                   `json:"total_tasks"`
	CompletedTasks int                   `json:"completed_tasks"`
	FailedTasks    int                   `json:"failed_tasks"`
	SkippedTasks   int                   `json:"skipped_tasks"`
	PendingTasks   int                   `json:"pending_tasks"`
	RunningTasks   int                   `json:"running_tasks"`
	CompletionRate float64               `json:"completion_rate"`
	RestartCount   int                   `json:"restart_count"`
	LastCheckpoint *time.Time            `json:"last_checkpoint,omitempty"`
}

// ExtractionSummary — сводка по завершённому или текущему pipeline.
type ExtractionSummary struct {
	RunID           string                    `json:"run_id"`
	Window          domain.Window             `json:"window"`
	Status          domain.PipelineStatus     `json:"status"`
	ByStatus        map[domain.TaskStatus]int `json:"by_status"`
	CompletedTables []string                  `json:"completed_tables"`
	FailedTables    []string                  `json:"failed_tables"`
	TotalRecords    int64                     `json:"total_records"`
	TotalBytes      int64                     `json:"total_bytes"`
	Duration        time.Duration             `json:"duration"`
	Recommendations []string                  `json:"recommendations,omitempty"`
}

// WindowMismatch — задача, чьё окно не входит в окно pipeline.
type WindowMismatch struct {
	Key           string    `json:"key"`
	RecordedStart time.Time `json:"recorded_start"`
}

// WindowValidationReport — результат проверки согласованности окон.
type WindowValidationReport struct {
	Consistent    bool             `json:"consistent"`
	ExpectedStart time.Time        `json:"expected_start"`
	ExpectedEnd   time.Time        `json:"expected_end"`
	Mismatched    []WindowMismatch `json:"mismatched,omitempty"`
}

// PipelineSummary — строка списка недавних pipeline'ов.
type PipelineSummary struct {
	PipelineID     uuid.UUID             `json:"pipeline_id"`
	RunID          string                `json:"run_id"`
	Status         domain.PipelineStatus `json:"status"`
	WindowStart    time.Time             `json:"window_start"`
	CompletionRate float64               `json:"completion_rate"`
	RestartCount   int                   `json:"restart_count"`
	SavedAt        time.Time             `json:"saved_at"`
}

// GetPipelineProgress возвращает текущий прогресс pipeline.
func (o *Orchestrator) GetPipelineProgress() (Progress, error) {
	o.mu.RLock()
	defer o.mu.RUnlock()

	if o.pipeline == nil {
		return Progress{}, ErrNoPipeline
	}

	pending, running := 0, 0
	for _, task := range o.tasks {
		switch task.Status {
		case domain.TaskStatusPending:
			pending++
		case domain.TaskStatusRunning, domain.TaskStatusRetrying:
			running++
		}
	}

	return Progress{
		RunID:          o.pipeline.RunID,
		Status:         o.pipeline.Status,
		TotalTasks:     o.pipeline.TotalTasks,
		CompletedTasks: o.pipeline.CompletedTasks,
		FailedTasks:    o.pipeline.FailedTasks,
		SkippedTasks:   o.pipeline.SkippedTasks,
		PendingTasks:   pending,
		RunningTasks:   running,
		CompletionRate: o.pipeline.CompletionRate(),
		RestartCount:   o.pipeline.RestartCount,
		LastCheckpoint: o.pipeline.LastCheckpoint,
	}, nil
}

// GetExtractionSummary строит сводку по текущему pipeline, включая
// рекомендации оператору.
func (o *Orchestrator) GetExtractionSummary() (ExtractionSummary, error) {
	o.mu.RLock()
	defer o.mu.RUnlock()

	if o.pipeline == nil {
		return ExtractionSummary{}, ErrNoPipeline
	}

	summary := ExtractionSummary{
		RunID:    o.pipeline.RunID,
		Window:   o.pipeline.Window,
		Status:   o.pipeline.Status,
		ByStatus: make(map[domain.TaskStatus]int),
		Duration: o.pipeline.Duration(),
	}

	for key, task := range o.tasks {
		summary.ByStatus[task.Status]++
		switch task.Status {
		case domain.TaskStatusCompleted:
			summary.CompletedTables = append(summary.CompletedTables, key)
			summary.TotalRecords += task.RecordCount
			summary.TotalBytes += task.ArtifactSize
		case domain.TaskStatusFailed, domain.TaskStatusSkipped:
			summary.FailedTables = append(summary.FailedTables, key)
		}
	}
	sort.Strings(summary.CompletedTables)
	sort.Strings(summary.FailedTables)

	summary.Recommendations = o.recommendations(summary)
	return summary, nil
}

// recommendations формирует подсказки оператору по итогам запуска.
// Вызывается под mu.
func (o *Orchestrator) recommendations(summary ExtractionSummary) []string {
	var recs []string

	if n := summary.ByStatus[domain.TaskStatusSkipped]; n > 0 {
		recs = append(recs, fmt.Sprintf(
			"%d task(s) exhausted the retry budget; inspect error messages and force re-extraction per table", n))
	}
	if n := summary.ByStatus[domain.TaskStatusFailed]; n > 0 {
		recs = append(recs, fmt.Sprintf(
			"%d task(s) are failing; re-run with the same run_id to retry within the budget", n))
	}
	if o.pipeline.RestartCount > 2 {
		recs = append(recs, fmt.Sprintf(
			"pipeline restarted %d times; check process stability before the next window", o.pipeline.RestartCount))
	}
	for key, task := range o.tasks {
		if task.Status == domain.TaskStatusCompleted && task.RecordCount == 0 {
			recs = append(recs, fmt.Sprintf(
				"table %s extracted 0 records; verify the watermark column and window", key))
		}
	}

	sort.Strings(recs)
	return recs
}

// ValidateWindowConsistency проверяет, что окна всех завершённых задач
// входят в окно pipeline. Сравнение — вхождение начала окна задачи в
// полуоткрытый интервал [start, end) pipeline'а.
func (o *Orchestrator) ValidateWindowConsistency() (WindowValidationReport, error) {
	o.mu.RLock()
	defer o.mu.RUnlock()

	if o.pipeline == nil {
		return WindowValidationReport{}, ErrNoPipeline
	}

	report := WindowValidationReport{
		Consistent:    true,
		ExpectedStart: o.pipeline.Window.Start,
		ExpectedEnd:   o.pipeline.Window.End(),
	}

	for key, task := range o.tasks {
		if task.Status != domain.TaskStatusCompleted {
			continue
		}
		if !o.pipeline.Window.Contains(task.Window.Start) {
			report.Consistent = false
			report.Mismatched = append(report.Mismatched, WindowMismatch{
				Key:           key,
				RecordedStart: task.Window.Start,
			})
		}
	}

	sort.Slice(report.Mismatched, func(i, j int) bool {
		return report.Mismatched[i].Key < report.Mismatched[j].Key
	})
	return report, nil
}

// ListRecentPipelines возвращает сводки последних pipeline'ов из
// statestore, новые первыми. limit <= 0 — без ограничения.
func (o *Orchestrator) ListRecentPipelines(ctx context.Context, limit int) ([]PipelineSummary, error) {
	infos, err := o.store.ListSnapshots(ctx)
	if err != nil {
		return nil, fmt.Errorf("list snapshots: %w", err)
	}
	if limit > 0 && len(infos) > limit {
		infos = infos[:limit]
	}

	summaries := make([]PipelineSummary, 0, len(infos))
	for _, info := range infos {
		pipeline, _, err := o.store.Load(ctx, info.PipelineID)
		if err != nil {
			o.logger.Warn("skipping unreadable snapshot", "pipeline_id", info.PipelineID, "error", err)
			continue
		}
		summaries = append(summaries, PipelineSummary{
			PipelineID:     pipeline.ID,
			RunID:          pipeline.RunID,
			Status:         pipeline.Status,
			WindowStart:    pipeline.Window.Start,
			CompletionRate: pipeline.CompletionRate(),
			RestartCount:   pipeline.RestartCount,
			SavedAt:        info.SavedAt,
		})
	}
	return summaries, nil
}

// PruneOldSnapshots удаляет снапшоты старше retention. Возвращает
// количество удалённых.
func (o *Orchestrator) PruneOldSnapshots(ctx context.Context, retention time.Duration) (int, error) {
	cutoff := time.Now().Add(-retention)
	pruned, err := o.store.Prune(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("prune snapshots: %w", err)
	}
	if pruned > 0 {
		o.logger.Info("pruned old snapshots", "count", pruned, "cutoff", cutoff)
	}
	return pruned, nil
}
