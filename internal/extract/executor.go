// Package extract выполняет извлечение данных для отдельных задач.
//
// Оркестратор не знает, как устроено извлечение: он работает через
// интерфейс Executor, а Registry выбирает реализацию по типу источника.
package extract

import (
	"context"
	"fmt"

	"github.com/shaiso/Conveyor/internal/domain"
)

// Executor — интерфейс для выполнения извлечения одной задачи.
//
// Реализации: PostgresExecutor. Логические сбои извлечения (пустое
// окно, отказ источника) возвращаются в Result.ErrorMessage;
// инфраструктурные ошибки — через error.
type Executor interface {
	Execute(ctx context.Context, task *domain.TaskState) (*Result, error)
}

// Result — результат извлечения одной задачи.
type Result struct {
	// Success — извлечение завершилось успешно.
	Success bool

	// RecordCount — количество извлечённых записей.
	RecordCount int64

	// ArtifactPath — путь к записанному артефакту.
	ArtifactPath string

	// ArtifactSize — размер артефакта в байтах.
	ArtifactSize int64

	// Checksum — контрольная сумма артефакта (hex).
	Checksum string

	// ErrorMessage — сообщение о логической ошибке извлечения.
	ErrorMessage string
}

// Registry — реестр executor'ов по типу источника.
type Registry struct {
	executors map[string]Executor
}

// NewRegistry создаёт пустой реестр.
func NewRegistry() *Registry {
	return &Registry{executors: make(map[string]Executor)}
}

// Register добавляет executor для типа источника.
func (r *Registry) Register(sourceType string, executor Executor) {
	r.executors[sourceType] = executor
}

// Get возвращает executor для типа источника.
func (r *Registry) Get(sourceType string) (Executor, error) {
	executor, ok := r.executors[sourceType]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownSourceType, sourceType)
	}
	return executor, nil
}

// Execute находит executor по SourceName задачи и выполняет извлечение.
// Registry сам является Executor'ом, что позволяет отдать его
// оркестратору как единую точку выполнения.
func (r *Registry) Execute(ctx context.Context, task *domain.TaskState) (*Result, error) {
	executor, err := r.Get(task.Spec.SourceName)
	if err != nil {
		return nil, err
	}
	return executor.Execute(ctx, task)
}
