package orchestrator

import (
	"context"
	"fmt"

	"github.com/shaiso/Conveyor/internal/domain"
)

// Идемпотентный движок: решает, требуется ли задаче извлечение.
//
// Лестница решений для каждой задачи:
//  1. PENDING — извлечение нужно (нового или сброшенного состояния нет)
//  2. RUNNING/RETRYING — уже в работе, не трогаем
//  3. COMPLETED — переизвлекаем, только если окно задачи не входит в
//     окно pipeline или артефакт не прошёл проверку целостности
//  4. FAILED — повторяем, пока не исчерпан бюджет повторов, затем SKIPPED
//  5. SKIPPED — не трогаем до явного сброса оператором

// plan возвращает ключи задач, требующих извлечения, в
// детерминированном порядке, попутно применяя решения движка:
// устаревшие COMPLETED-задачи сбрасываются в PENDING, FAILED-задачи с
// исчерпанным бюджетом переводятся в SKIPPED.
func (o *Orchestrator) plan() []string {
	o.mu.Lock()
	defer o.mu.Unlock()

	var keys []string
	for key, task := range o.tasks {
		switch task.Status {
		case domain.TaskStatusPending:
			keys = append(keys, key)

		case domain.TaskStatusFailed:
			if task.RetryCount < o.maxRetryAttempts {
				keys = append(keys, key)
				continue
			}
			task.MarkSkipped()
			o.logger.Warn("retry budget exhausted, skipping task",
				"task", key,
				"retry_count", task.RetryCount,
			)

		case domain.TaskStatusCompleted:
			if reason := o.staleReason(task); reason != "" {
				task.ResetPending()
				task.Window = o.pipeline.Window
				keys = append(keys, key)
				o.logger.Info("re-extracting completed task", "task", key, "reason", reason)
			}
		}
	}

	return sortedKeys(keys)
}

// staleReason объясняет, почему завершённая задача требует
// переизвлечения. Пустая строка — артефакт годен, переизвлечение не
// нужно. Вызывается под mu.
func (o *Orchestrator) staleReason(task *domain.TaskState) string {
	// Сравнение окон через вхождение в полуоткрытый интервал, а не
	// через равенство календарных дат: окна могут начинаться не в
	// полночь и длиться не сутки.
	if !o.pipeline.Window.Contains(task.Window.Start) {
		return "window mismatch"
	}
	if !o.checker.IsArtifactValid(task) {
		return "artifact failed integrity check"
	}
	return ""
}

// GetPendingExtractions возвращает ключи задач, которым по решению
// идемпотентного движка требуется извлечение. Не меняет состояние.
func (o *Orchestrator) GetPendingExtractions() []string {
	o.mu.RLock()
	defer o.mu.RUnlock()

	if o.pipeline == nil {
		return nil
	}

	var keys []string
	for key, task := range o.tasks {
		switch task.Status {
		case domain.TaskStatusPending:
			keys = append(keys, key)
		case domain.TaskStatusFailed:
			if task.RetryCount < o.maxRetryAttempts {
				keys = append(keys, key)
			}
		case domain.TaskStatusCompleted:
			if o.staleReason(task) != "" {
				keys = append(keys, key)
			}
		}
	}

	return sortedKeys(keys)
}

// ForceReprocessTable сбрасывает задачу в PENDING независимо от её
// статуса и сохраняет состояние. Операторский обход идемпотентности.
func (o *Orchestrator) ForceReprocessTable(ctx context.Context, key string) error {
	o.mu.Lock()
	if o.pipeline == nil {
		o.mu.Unlock()
		return ErrNoPipeline
	}
	task, ok := o.tasks[key]
	if !ok {
		o.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrTaskNotFound, key)
	}
	task.Reset()
	o.refreshCounters()
	o.mu.Unlock()

	o.logger.Info("task forced for reprocessing", "task", key)
	return o.persist(ctx)
}

// ResetFailedExtractions возвращает в PENDING задачи в статусе FAILED,
// у которых ещё не исчерпан бюджет повторов. RetryCount сохраняется:
// сброс не выдаёт задаче новый бюджет. Задачи, уже переведённые в
// SKIPPED, не трогаются — для них есть ForceReprocessTable.
// Возвращает количество сброшенных задач.
func (o *Orchestrator) ResetFailedExtractions(ctx context.Context) (int, error) {
	o.mu.Lock()
	if o.pipeline == nil {
		o.mu.Unlock()
		return 0, ErrNoPipeline
	}

	reset := 0
	for key, task := range o.tasks {
		if task.Status == domain.TaskStatusFailed && task.RetryCount < o.maxRetryAttempts {
			task.ResetPending()
			reset++
			o.logger.Info("failed task reset", "task", key, "retry_count", task.RetryCount)
		}
	}
	o.refreshCounters()
	o.mu.Unlock()

	if reset == 0 {
		return 0, nil
	}
	return reset, o.persist(ctx)
}
