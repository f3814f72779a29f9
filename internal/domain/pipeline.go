package domain

import (
	"time"

	"github.com/google/uuid"
)

// PipelineState — состояние одного запуска pipeline.
//
// PipelineState владеет набором TaskState (ключ task → состояние).
// Resume сопоставляется по RunID, а не по ID: повторный запуск с тем же
// RunID продолжает существующий pipeline и инкрементирует RestartCount.
type PipelineState struct {
	// ID — уникальный идентификатор pipeline.
	ID uuid.UUID `json:"id"`

	// RunID — идентификатор запуска. Задаётся caller'ом или генерируется.
	RunID string `json:"run_id"`

	// Window — временное окно, покрываемое запуском.
	Window Window `json:"window"`

	// Status — текущий статус pipeline.
	Status PipelineStatus `json:"status"`

	// StartedAt — время начала выполнения.
	StartedAt *time.Time `json:"started_at,omitempty"`

	// FinishedAt — время завершения.
	FinishedAt *time.Time `json:"finished_at,omitempty"`

	// Агрегатные счётчики по tasks.
	TotalTasks     int `json:"total_tasks"`
	CompletedTasks int `json:"completed_tasks"`
	FailedTasks    int `json:"failed_tasks"`
	SkippedTasks   int `json:"skipped_tasks"`

	// MaxWorkers — ширина worker pool этого запуска.
	MaxWorkers int `json:"max_workers"`

	// RestartCount — сколько раз pipeline возобновлялся.
	RestartCount int `json:"restart_count"`

	// LastCheckpoint — время последнего снапшота Checkpointer'а.
	LastCheckpoint *time.Time `json:"last_checkpoint,omitempty"`

	// CreatedAt — время создания pipeline.
	CreatedAt time.Time `json:"created_at"`
}

// RunIDFormat — формат генерируемого RunID (UTC).
const RunIDFormat = "20060102_150405"

// NewRunID генерирует RunID из текущего времени.
func NewRunID(now time.Time) string {
	return now.UTC().Format(RunIDFormat)
}

// NewPipelineState создаёт pipeline в статусе IDLE.
func NewPipelineState(runID string, window Window) *PipelineState {
	return &PipelineState{
		ID:        uuid.New(),
		RunID:     runID,
		Window:    window,
		Status:    PipelineStatusIdle,
		CreatedAt: time.Now().UTC(),
	}
}

// Duration возвращает длительность выполнения, 0 если не завершён.
func (p *PipelineState) Duration() time.Duration {
	if p.StartedAt == nil || p.FinishedAt == nil {
		return 0
	}
	return p.FinishedAt.Sub(*p.StartedAt)
}

// CompletionRate возвращает долю завершённых tasks в процентах.
func (p *PipelineState) CompletionRate() float64 {
	if p.TotalTasks == 0 {
		return 0
	}
	return float64(p.CompletedTasks+p.SkippedTasks) / float64(p.TotalTasks) * 100
}

// IsFinished возвращает true, если pipeline завершён.
func (p *PipelineState) IsFinished() bool {
	return p.Status.IsTerminal()
}

// MarkRunning переводит pipeline в RUNNING.
func (p *PipelineState) MarkRunning() {
	now := time.Now().UTC()
	p.Status = PipelineStatusRunning
	if p.StartedAt == nil {
		p.StartedAt = &now
	}
	p.FinishedAt = nil
}

// MarkCompleted переводит pipeline в COMPLETED.
func (p *PipelineState) MarkCompleted() {
	now := time.Now().UTC()
	p.Status = PipelineStatusCompleted
	p.FinishedAt = &now
}

// MarkFailed переводит pipeline в FAILED.
func (p *PipelineState) MarkFailed() {
	now := time.Now().UTC()
	p.Status = PipelineStatusFailed
	p.FinishedAt = &now
}

// MarkCancelled переводит pipeline в CANCELLED.
func (p *PipelineState) MarkCancelled() {
	now := time.Now().UTC()
	p.Status = PipelineStatusCancelled
	p.FinishedAt = &now
}
