package domain

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrMissingTaskKey — в спецификации task нет обязательных полей ключа.
var ErrMissingTaskKey = errors.New("task spec missing source or entity name")

// TaskSpec — описание одной единицы извлечения из конфигурации caller'а.
//
// Из TaskSpec при старте pipeline создаётся TaskState. Семантику Selector
// ядро не интерпретирует — строка передаётся executor'у как есть.
type TaskSpec struct {
	// SourceName — имя источника данных.
	SourceName string `json:"source_name"`

	// EntityName — имя извлекаемой сущности (таблицы).
	EntityName string `json:"entity_name"`

	// SchemaName — схема внутри источника (опционально).
	SchemaName string `json:"schema_name,omitempty"`

	// WatermarkColumn — колонка для инкрементального извлечения.
	WatermarkColumn string `json:"watermark_column,omitempty"`

	// FullRefresh — полное извлечение вместо инкрементального.
	FullRefresh bool `json:"full_refresh,omitempty"`

	// Selector — произвольный селектор (например, custom query),
	// прозрачный для ядра.
	Selector string `json:"selector,omitempty"`
}

// Validate проверяет обязательные поля.
func (s TaskSpec) Validate() error {
	if strings.TrimSpace(s.SourceName) == "" || strings.TrimSpace(s.EntityName) == "" {
		return fmt.Errorf("%w: source=%q entity=%q", ErrMissingTaskKey, s.SourceName, s.EntityName)
	}
	return nil
}

// Key возвращает стабильный составной ключ task:
// source.schema.entity либо source.entity без схемы.
func (s TaskSpec) Key() string {
	if s.SchemaName != "" {
		return s.SourceName + "." + s.SchemaName + "." + s.EntityName
	}
	return s.SourceName + "." + s.EntityName
}

// TaskState — состояние одной extraction task.
//
// Ключ task уникален в рамках запуска. Переходы статусов монотонные и
// валидируются в Mark*-мутаторах; исключение — операторские override
// (Reset), возвращающие task в PENDING.
type TaskState struct {
	// Spec — идентичность и конфигурация извлечения.
	Spec TaskSpec `json:"spec"`

	// Status — текущий статус.
	Status TaskStatus `json:"status"`

	// RunID — идентификатор запуска, в котором task создан.
	RunID string `json:"run_id"`

	// Window — окно, за которое извлекались данные.
	Window Window `json:"window"`

	// StartedAt — время начала последней попытки.
	StartedAt *time.Time `json:"started_at,omitempty"`

	// FinishedAt — время завершения последней попытки.
	FinishedAt *time.Time `json:"finished_at,omitempty"`

	// RecordCount — количество извлечённых записей.
	RecordCount int64 `json:"record_count"`

	// ArtifactPath — путь к артефакту. Слабая ссылка: ядро не владеет
	// хранилищем артефактов и не удаляет их.
	ArtifactPath string `json:"artifact_path,omitempty"`

	// ArtifactSize — размер артефакта в байтах на момент записи.
	ArtifactSize int64 `json:"artifact_size"`

	// Checksum — контрольная сумма артефакта (hex).
	Checksum string `json:"checksum,omitempty"`

	// ErrorMessage — текст последней ошибки.
	ErrorMessage string `json:"error_message,omitempty"`

	// RetryCount — количество неудачных попыток.
	RetryCount int `json:"retry_count"`

	// Owner — имя воркера, выполнявшего task. Только для диагностики.
	Owner string `json:"owner,omitempty"`
}

// NewTaskState создаёт TaskState в статусе PENDING.
func NewTaskState(spec TaskSpec, runID string, window Window) *TaskState {
	return &TaskState{
		Spec:   spec,
		Status: TaskStatusPending,
		RunID:  runID,
		Window: window,
	}
}

// Key возвращает стабильный ключ task.
func (t *TaskState) Key() string {
	return t.Spec.Key()
}

// Duration возвращает длительность последней попытки.
func (t *TaskState) Duration() time.Duration {
	if t.StartedAt == nil || t.FinishedAt == nil {
		return 0
	}
	return t.FinishedAt.Sub(*t.StartedAt)
}

// MarkRunning переводит task в RUNNING (или RETRYING после неудачи).
func (t *TaskState) MarkRunning(owner string) error {
	next := TaskStatusRunning
	if t.Status == TaskStatusFailed {
		next = TaskStatusRetrying
	}
	status, err := t.Status.transition(next)
	if err != nil {
		return err
	}
	now := time.Now().UTC()
	t.Status = status
	t.StartedAt = &now
	t.FinishedAt = nil
	t.Owner = owner
	return nil
}

// MarkCompleted фиксирует успешный результат извлечения.
func (t *TaskState) MarkCompleted(recordCount int64, artifactPath string, artifactSize int64, checksum string) error {
	status, err := t.Status.transition(TaskStatusCompleted)
	if err != nil {
		return err
	}
	now := time.Now().UTC()
	t.Status = status
	t.FinishedAt = &now
	t.RecordCount = recordCount
	t.ArtifactPath = artifactPath
	t.ArtifactSize = artifactSize
	t.Checksum = checksum
	t.ErrorMessage = ""
	return nil
}

// MarkFailed фиксирует неудачную попытку и инкрементирует RetryCount.
func (t *TaskState) MarkFailed(errMsg string) error {
	status, err := t.Status.transition(TaskStatusFailed)
	if err != nil {
		return err
	}
	now := time.Now().UTC()
	t.Status = status
	t.FinishedAt = &now
	t.ErrorMessage = errMsg
	t.RetryCount++
	return nil
}

// MarkSkipped выводит task из работы после исчерпания retry.
func (t *TaskState) MarkSkipped() error {
	status, err := t.Status.transition(TaskStatusSkipped)
	if err != nil {
		return err
	}
	t.Status = status
	return nil
}

// Reset — операторский override: возврат в PENDING для повторного
// извлечения. Сбрасывает счётчик retry и результат последней попытки.
func (t *TaskState) Reset() {
	t.Status = TaskStatusPending
	t.RetryCount = 0
	t.ErrorMessage = ""
	t.StartedAt = nil
	t.FinishedAt = nil
	t.Owner = ""
}

// ResetPending возвращает task в PENDING, сохраняя счётчик retry.
// Используется self-healing'ом (артефакт пропал, окно устарело) и
// resume'ом после падения процесса.
func (t *TaskState) ResetPending() {
	t.Status = TaskStatusPending
	t.StartedAt = nil
	t.FinishedAt = nil
}
