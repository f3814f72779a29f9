package orchestrator

import "errors"

// Ошибки пакета orchestrator.
var (
	// ErrPipelineActive — попытка запустить pipeline, пока предыдущий
	// ещё выполняется.
	ErrPipelineActive = errors.New("pipeline is already active")

	// ErrNoPipeline — операция требует загруженного pipeline.
	ErrNoPipeline = errors.New("no pipeline loaded")

	// ErrTaskNotFound — задача с указанным ключом не зарегистрирована.
	ErrTaskNotFound = errors.New("task not found")
)
