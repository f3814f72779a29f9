package domain

import (
	"errors"
	"fmt"
)

// ErrInvalidTransition — недопустимый переход статуса.
var ErrInvalidTransition = errors.New("invalid status transition")

// TaskStatus — статус выполнения extraction task.
//
// Жизненный цикл:
//
//	PENDING → RUNNING → COMPLETED
//	                  ↘ FAILED → RETRYING → COMPLETED/FAILED
//	                           ↘ SKIPPED (retry исчерпаны)
//
// Операторские override (force-reprocess, reset-failed) сбрасывают
// статус обратно в PENDING.
type TaskStatus string

const (
	// TaskStatusPending — task создан, ожидает выполнения.
	TaskStatusPending TaskStatus = "PENDING"

	// TaskStatusRunning — task выполняется воркером.
	TaskStatusRunning TaskStatus = "RUNNING"

	// TaskStatusRetrying — повторная попытка после неудачи.
	TaskStatusRetrying TaskStatus = "RETRYING"

	// TaskStatusCompleted — артефакт успешно извлечён.
	TaskStatusCompleted TaskStatus = "COMPLETED"

	// TaskStatusFailed — попытка завершилась с ошибкой
	// (возможен retry на следующем проходе).
	TaskStatusFailed TaskStatus = "FAILED"

	// TaskStatusSkipped — retry исчерпаны, task выведен из работы.
	TaskStatusSkipped TaskStatus = "SKIPPED"
)

// IsTerminal возвращает true, если статус финальный.
func (s TaskStatus) IsTerminal() bool {
	switch s {
	case TaskStatusCompleted, TaskStatusFailed, TaskStatusSkipped:
		return true
	default:
		return false
	}
}

// taskTransitions — допустимые переходы статусов task.
//
// Переход в PENDING из терминальных статусов — операторский override
// либо self-healing (артефакт пропал, окно устарело).
// RUNNING → PENDING происходит при resume после падения процесса.
var taskTransitions = map[TaskStatus][]TaskStatus{
	TaskStatusPending:   {TaskStatusRunning},
	TaskStatusRunning:   {TaskStatusCompleted, TaskStatusFailed, TaskStatusPending},
	TaskStatusRetrying:  {TaskStatusCompleted, TaskStatusFailed, TaskStatusPending},
	TaskStatusFailed:    {TaskStatusRetrying, TaskStatusSkipped, TaskStatusPending},
	TaskStatusCompleted: {TaskStatusPending},
	TaskStatusSkipped:   {TaskStatusPending},
}

// CanTransition проверяет, допустим ли переход в статус next.
func (s TaskStatus) CanTransition(next TaskStatus) bool {
	for _, allowed := range taskTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// transition валидирует переход и возвращает новый статус.
func (s TaskStatus) transition(next TaskStatus) (TaskStatus, error) {
	if !s.CanTransition(next) {
		return s, fmt.Errorf("%w: %s → %s", ErrInvalidTransition, s, next)
	}
	return next, nil
}

// PipelineStatus — статус pipeline в целом.
//
// Жизненный цикл:
//
//	IDLE → RUNNING → COMPLETED
//	               ↘ FAILED
//	               ↘ CANCELLED
//	       (PAUSED — операторская приостановка, возврат в RUNNING)
type PipelineStatus string

const (
	// PipelineStatusIdle — pipeline создан, но не запущен.
	PipelineStatusIdle PipelineStatus = "IDLE"

	// PipelineStatusRunning — pipeline выполняется.
	PipelineStatusRunning PipelineStatus = "RUNNING"

	// PipelineStatusCompleted — все tasks завершены успешно.
	PipelineStatusCompleted PipelineStatus = "COMPLETED"

	// PipelineStatusFailed — остались упавшие или незавершённые tasks.
	PipelineStatusFailed PipelineStatus = "FAILED"

	// PipelineStatusPaused — выполнение приостановлено оператором.
	PipelineStatusPaused PipelineStatus = "PAUSED"

	// PipelineStatusCancelled — выполнение отменено.
	PipelineStatusCancelled PipelineStatus = "CANCELLED"
)

// IsTerminal возвращает true, если pipeline завершён.
func (s PipelineStatus) IsTerminal() bool {
	switch s {
	case PipelineStatusCompleted, PipelineStatusFailed, PipelineStatusCancelled:
		return true
	default:
		return false
	}
}

// TaskStatuses возвращает все статусы task в каноническом порядке.
// Используется для построения сводок по статусам.
func TaskStatuses() []TaskStatus {
	return []TaskStatus{
		TaskStatusPending,
		TaskStatusRunning,
		TaskStatusRetrying,
		TaskStatusCompleted,
		TaskStatusFailed,
		TaskStatusSkipped,
	}
}
