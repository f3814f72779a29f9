package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/shaiso/Conveyor/internal/domain"
	"github.com/shaiso/Conveyor/internal/extract"
	"github.com/shaiso/Conveyor/internal/statestore"
	"github.com/shaiso/Conveyor/internal/telemetry"
)

// Default configuration values.
const (
	defaultMaxWorkers         = 4
	defaultMaxRetryAttempts   = 3
	defaultCheckpointInterval = 30 * time.Second
)

// ArtifactChecker проверяет целостность артефакта завершённой задачи.
type ArtifactChecker interface {
	IsArtifactValid(task *domain.TaskState) bool
}

// EventPublisher публикует события жизненного цикла pipeline.
// Реализация — mq.Publisher; nil означает "без событий".
type EventPublisher interface {
	PublishTaskCompleted(ctx context.Context, task *domain.TaskState) error
	PublishPipelineFinished(ctx context.Context, pipeline *domain.PipelineState) error
}

// Orchestrator управляет выполнением одного pipeline извлечения.
//
// Orchestrator — центральный компонент системы, который:
//   - Загружает или создаёт состояние pipeline в statestore
//   - Решает для каждой задачи, нужно ли извлечение (идемпотентность)
//   - Диспетчеризует задачи в ограниченный пул воркеров
//   - Сохраняет состояние после каждого завершения задачи
//   - Финализирует pipeline (COMPLETED/FAILED)
type Orchestrator struct {
	store     statestore.Store
	checker   ArtifactChecker
	executor  extract.Executor
	publisher EventPublisher
	metrics   *telemetry.Metrics

	// Configuration
	maxWorkers         int
	maxRetryAttempts   int
	checkpointInterval time.Duration
	autoFullRefresh    bool

	// Состояние текущего pipeline (под mu)
	mu       sync.RWMutex
	pipeline *domain.PipelineState
	tasks    map[string]*domain.TaskState

	// Lifecycle
	checkpointer *Checkpointer
	logger       *slog.Logger
	owner        string
}

// Config — конфигурация Orchestrator.
type Config struct {
	// Store — хранилище снапшотов состояния (обязательно).
	Store statestore.Store

	// Checker — проверка целостности артефактов (обязательно).
	Checker ArtifactChecker

	// Executor — выполнение извлечений (обязательно).
	Executor extract.Executor

	// Publisher — события жизненного цикла (опционально).
	Publisher EventPublisher

	// Metrics — метрики Prometheus (опционально).
	Metrics *telemetry.Metrics

	// MaxWorkers — размер пула воркеров (default: 4).
	MaxWorkers int

	// MaxRetryAttempts — бюджет повторов на задачу (default: 3).
	MaxRetryAttempts int

	// CheckpointInterval — период фонового чекпоинта (default: 30s).
	CheckpointInterval time.Duration

	// AutoFullRefresh — выполнять full refresh для задач, у которых нет
	// завершённого состояния в последнем известном снапшоте.
	AutoFullRefresh bool

	// Logger
	Logger *slog.Logger
}

// New создаёт новый Orchestrator.
func New(cfg Config) *Orchestrator {
	maxWorkers := cfg.MaxWorkers
	if maxWorkers <= 0 {
		maxWorkers = defaultMaxWorkers
	}

	maxRetry := cfg.MaxRetryAttempts
	if maxRetry <= 0 {
		maxRetry = defaultMaxRetryAttempts
	}

	interval := cfg.CheckpointInterval
	if interval <= 0 {
		interval = defaultCheckpointInterval
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	hostname, _ := os.Hostname()
	owner := fmt.Sprintf("%s-%d", hostname, os.Getpid())

	return &Orchestrator{
		store:              cfg.Store,
		checker:            cfg.Checker,
		executor:           cfg.Executor,
		publisher:          cfg.Publisher,
		metrics:            cfg.Metrics,
		maxWorkers:         maxWorkers,
		maxRetryAttempts:   maxRetry,
		checkpointInterval: interval,
		autoFullRefresh:    cfg.AutoFullRefresh,
		tasks:              make(map[string]*domain.TaskState),
		logger:             logger,
		owner:              owner,
	}
}

// StartPipeline загружает или создаёт pipeline для указанного run_id.
//
// Если снапшот с таким run_id уже существует — это возобновление:
// счётчик рестартов увеличивается, задачи, оставшиеся в RUNNING или
// RETRYING после сбоя, возвращаются в PENDING, окно берётся из
// снапшота. Иначе создаётся новый pipeline с указанным окном.
//
// Невалидные спецификации отбрасываются с предупреждением и не
// попадают в TotalTasks.
func (o *Orchestrator) StartPipeline(ctx context.Context, runID string, window domain.Window, specs []domain.TaskSpec) (*domain.PipelineState, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.pipeline != nil && o.pipeline.Status == domain.PipelineStatusRunning {
		return nil, ErrPipelineActive
	}

	now := time.Now().UTC()
	if runID == "" {
		runID = domain.NewRunID(now)
	}
	if window.IsZero() {
		window = domain.PreviousDayWindow(now)
	}
	window = window.Normalized()

	valid := make([]domain.TaskSpec, 0, len(specs))
	for _, spec := range specs {
		if err := spec.Validate(); err != nil {
			o.logger.Warn("rejecting invalid task spec",
				"source", spec.SourceName,
				"entity", spec.EntityName,
				"error", err,
			)
			continue
		}
		valid = append(valid, spec)
	}

	pipeline, tasks, err := o.store.FindByRunID(ctx, runID)
	switch {
	case err == nil:
		o.resumePipeline(pipeline, tasks, valid)
	case errors.Is(err, statestore.ErrSnapshotNotFound):
		pipeline, tasks = o.newPipeline(ctx, runID, window, valid)
	default:
		return nil, fmt.Errorf("find snapshot for run %s: %w", runID, err)
	}

	o.pipeline = pipeline
	o.tasks = tasks
	o.refreshCounters()

	if err := o.persistLocked(ctx); err != nil {
		return nil, fmt.Errorf("persist initial state: %w", err)
	}

	o.checkpointer = NewCheckpointer(CheckpointerConfig{
		Store:    o.store,
		Snapshot: o.snapshot,
		Interval: o.checkpointInterval,
		Metrics:  o.metrics,
		Logger:   o.logger,
	})
	o.checkpointer.Start(ctx)

	o.logger.Info("pipeline started",
		"run_id", pipeline.RunID,
		"pipeline_id", pipeline.ID,
		"window_start", pipeline.Window.Start,
		"total_tasks", pipeline.TotalTasks,
		"restart_count", pipeline.RestartCount,
	)

	result := *pipeline
	return &result, nil
}

// resumePipeline готовит загруженный снапшот к продолжению выполнения.
func (o *Orchestrator) resumePipeline(pipeline *domain.PipelineState, tasks map[string]*domain.TaskState, specs []domain.TaskSpec) {
	pipeline.RestartCount++
	pipeline.Window = pipeline.Window.Normalized()
	pipeline.MarkRunning()

	// Задачи, застрявшие в нетерминальных статусах после сбоя,
	// возвращаются в очередь. RetryCount сохраняется.
	for key, task := range tasks {
		if task.Status == domain.TaskStatusRunning || task.Status == domain.TaskStatusRetrying {
			task.ResetPending()
			o.logger.Info("requeued interrupted task", "task", key, "run_id", pipeline.RunID)
		}
	}

	// Спецификации, добавленные после первого запуска, становятся
	// новыми задачами в окне pipeline.
	for _, spec := range specs {
		if _, exists := tasks[spec.Key()]; !exists {
			tasks[spec.Key()] = domain.NewTaskState(spec, pipeline.RunID, pipeline.Window)
		}
	}
}

// newPipeline создаёт состояние нового pipeline.
func (o *Orchestrator) newPipeline(ctx context.Context, runID string, window domain.Window, specs []domain.TaskSpec) (*domain.PipelineState, map[string]*domain.TaskState) {
	pipeline := domain.NewPipelineState(runID, window)
	pipeline.MaxWorkers = o.maxWorkers
	pipeline.MarkRunning()

	var known map[string]*domain.TaskState
	if o.autoFullRefresh {
		known = o.lastKnownTasks(ctx)
	}

	tasks := make(map[string]*domain.TaskState, len(specs))
	for _, spec := range specs {
		if o.autoFullRefresh && !spec.FullRefresh && spec.WatermarkColumn != "" {
			if prior, ok := known[spec.Key()]; !ok || prior.Status != domain.TaskStatusCompleted {
				spec.FullRefresh = true
				o.logger.Info("first run for entity, forcing full refresh", "task", spec.Key())
			}
		}
		tasks[spec.Key()] = domain.NewTaskState(spec, runID, window)
	}

	return pipeline, tasks
}

// lastKnownTasks возвращает задачи из самого свежего снапшота.
func (o *Orchestrator) lastKnownTasks(ctx context.Context) map[string]*domain.TaskState {
	infos, err := o.store.ListSnapshots(ctx)
	if err != nil || len(infos) == 0 {
		return nil
	}
	_, tasks, err := o.store.Load(ctx, infos[0].PipelineID)
	if err != nil {
		o.logger.Warn("failed to load previous snapshot", "error", err)
		return nil
	}
	return tasks
}

// Run выполняет pipeline до завершения: повторяет проходы
// планирования и диспетчеризации, пока идемпотентный движок находит
// задачи, требующие извлечения, затем финализирует pipeline.
//
// При отмене контекста состояние остаётся сохранённым, pipeline
// можно возобновить тем же run_id.
func (o *Orchestrator) Run(ctx context.Context) error {
	o.mu.RLock()
	if o.pipeline == nil {
		o.mu.RUnlock()
		return ErrNoPipeline
	}
	o.mu.RUnlock()

	for {
		if err := ctx.Err(); err != nil {
			o.persist(context.WithoutCancel(ctx))
			return err
		}

		keys := o.plan()
		if len(keys) == 0 {
			break
		}

		o.logger.Info("dispatching extraction pass", "tasks", len(keys))

		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(o.maxWorkers)

		for _, key := range keys {
			if !o.dispatch(key) {
				continue
			}
			g.Go(func() error {
				return o.executeTask(gctx, key)
			})
		}

		if err := g.Wait(); err != nil {
			o.persist(context.WithoutCancel(ctx))
			return err
		}
	}

	return o.FinishPipeline(ctx, true)
}

// dispatch переводит задачу в выполнение. Возвращает false, если
// задача уже выполняется или исчезла — защита от двойной
// диспетчеризации.
func (o *Orchestrator) dispatch(key string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()

	task, ok := o.tasks[key]
	if !ok {
		return false
	}
	if err := task.MarkRunning(o.owner); err != nil {
		o.logger.Warn("skipping dispatch", "task", key, "status", task.Status, "error", err)
		return false
	}
	return true
}

// executeTask выполняет одну задачу и синхронно сохраняет состояние.
// Извлечение выполняется вне мьютекса.
func (o *Orchestrator) executeTask(ctx context.Context, key string) error {
	o.mu.RLock()
	task := o.tasks[key]
	o.mu.RUnlock()
	if task == nil {
		return nil
	}

	o.metrics.TaskStarted()
	defer o.metrics.TaskFinished()

	logger := telemetry.WithTaskKey(o.logger, key)
	logger.Info("extraction started", "attempt", task.RetryCount+1)

	result, err := o.executor.Execute(ctx, task)

	o.mu.Lock()
	switch {
	case err != nil:
		task.MarkFailed(err.Error())
		o.metrics.ObserveExtraction("failed")
		logger.Error("extraction failed", "error", err, "retry_count", task.RetryCount)
	case !result.Success:
		task.MarkFailed(result.ErrorMessage)
		o.metrics.ObserveExtraction("failed")
		logger.Error("extraction failed", "error", result.ErrorMessage, "retry_count", task.RetryCount)
	default:
		task.MarkCompleted(result.RecordCount, result.ArtifactPath, result.ArtifactSize, result.Checksum)
		o.metrics.ObserveExtraction("completed")
		o.metrics.AddRecords(result.RecordCount)
		logger.Info("extraction completed", "records", result.RecordCount, "bytes", result.ArtifactSize)
	}
	o.refreshCounters()
	o.mu.Unlock()

	o.persist(context.WithoutCancel(ctx))

	if o.publisher != nil && task.Status == domain.TaskStatusCompleted {
		if err := o.publisher.PublishTaskCompleted(ctx, task); err != nil {
			logger.Warn("failed to publish task event", "error", err)
		}
	}

	return ctx.Err()
}

// FinishPipeline финализирует pipeline: вычисляет терминальный статус,
// останавливает checkpointer и делает финальное сохранение.
//
// success=false принудительно переводит pipeline в FAILED независимо
// от счётчиков. Иначе статус выводится из состояния задач: COMPLETED,
// если нет FAILED и PENDING задач. SKIPPED-задачи не блокируют
// завершение — они отражаются в сводке и рекомендациях.
func (o *Orchestrator) FinishPipeline(ctx context.Context, success bool) error {
	o.mu.Lock()
	if o.pipeline == nil {
		o.mu.Unlock()
		return ErrNoPipeline
	}
	o.refreshCounters()
	pending := 0
	for _, task := range o.tasks {
		if task.Status == domain.TaskStatusPending {
			pending++
		}
	}
	if !success || o.pipeline.FailedTasks > 0 || pending > 0 {
		o.pipeline.MarkFailed()
	} else {
		o.pipeline.MarkCompleted()
	}
	pipeline := *o.pipeline
	o.mu.Unlock()

	if o.checkpointer != nil {
		o.checkpointer.Stop()
		o.checkpointer = nil
	}

	if err := o.persist(context.WithoutCancel(ctx)); err != nil {
		return err
	}

	if o.publisher != nil {
		if err := o.publisher.PublishPipelineFinished(ctx, &pipeline); err != nil {
			o.logger.Warn("failed to publish pipeline event", "error", err)
		}
	}

	o.logger.Info("pipeline finished",
		"run_id", pipeline.RunID,
		"status", pipeline.Status,
		"completed", pipeline.CompletedTasks,
		"failed", pipeline.FailedTasks,
		"skipped", pipeline.SkippedTasks,
		"duration", pipeline.Duration(),
	)
	return nil
}

// CancelPipeline переводит pipeline в CANCELLED и сохраняет состояние.
func (o *Orchestrator) CancelPipeline(ctx context.Context) error {
	o.mu.Lock()
	if o.pipeline == nil {
		o.mu.Unlock()
		return ErrNoPipeline
	}
	o.pipeline.MarkCancelled()
	o.mu.Unlock()

	if o.checkpointer != nil {
		o.checkpointer.Stop()
		o.checkpointer = nil
	}

	return o.persist(context.WithoutCancel(ctx))
}

// Stop останавливает фоновые горутины и делает финальное сохранение.
func (o *Orchestrator) Stop() {
	o.logger.Info("stopping orchestrator...")

	if o.checkpointer != nil {
		o.checkpointer.Stop()
		o.checkpointer = nil
	}

	o.mu.RLock()
	hasPipeline := o.pipeline != nil
	o.mu.RUnlock()
	if hasPipeline {
		if err := o.persist(context.Background()); err != nil {
			o.logger.Error("final state save failed", "error", err)
		}
	}

	o.logger.Info("orchestrator stopped")
}

// --- Helpers ---

// refreshCounters пересчитывает счётчики pipeline по статусам задач.
// Вызывается под mu.
func (o *Orchestrator) refreshCounters() {
	o.pipeline.TotalTasks = len(o.tasks)
	o.pipeline.CompletedTasks = 0
	o.pipeline.FailedTasks = 0
	o.pipeline.SkippedTasks = 0
	for _, task := range o.tasks {
		switch task.Status {
		case domain.TaskStatusCompleted:
			o.pipeline.CompletedTasks++
		case domain.TaskStatusFailed:
			o.pipeline.FailedTasks++
		case domain.TaskStatusSkipped:
			o.pipeline.SkippedTasks++
		}
	}
}

// snapshot возвращает копию состояния для сохранения вне мьютекса.
func (o *Orchestrator) snapshot() (*domain.PipelineState, map[string]*domain.TaskState) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.pipeline == nil {
		return nil, nil
	}

	now := time.Now().UTC()
	o.pipeline.LastCheckpoint = &now
	pipeline := *o.pipeline

	tasks := make(map[string]*domain.TaskState, len(o.tasks))
	for key, task := range o.tasks {
		copied := *task
		tasks[key] = &copied
	}

	return &pipeline, tasks
}

// persist синхронно сохраняет снапшот состояния.
func (o *Orchestrator) persist(ctx context.Context) error {
	pipeline, tasks := o.snapshot()
	if pipeline == nil {
		return nil
	}
	if err := o.store.Save(ctx, pipeline, tasks); err != nil {
		o.logger.Error("state save failed", "run_id", pipeline.RunID, "error", err)
		return err
	}
	return nil
}

// persistLocked сохраняет состояние, когда mu уже взят.
func (o *Orchestrator) persistLocked(ctx context.Context) error {
	now := time.Now().UTC()
	o.pipeline.LastCheckpoint = &now
	pipeline := *o.pipeline
	tasks := make(map[string]*domain.TaskState, len(o.tasks))
	for key, task := range o.tasks {
		copied := *task
		tasks[key] = &copied
	}
	return o.store.Save(ctx, &pipeline, tasks)
}

// sortedKeys возвращает ключи задач в детерминированном порядке.
func sortedKeys(keys []string) []string {
	sort.Strings(keys)
	return keys
}
