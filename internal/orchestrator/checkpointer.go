package orchestrator

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/shaiso/Conveyor/internal/domain"
	"github.com/shaiso/Conveyor/internal/statestore"
	"github.com/shaiso/Conveyor/internal/telemetry"
)

// defaultSaveTimeout ограничивает длительность одного сохранения.
const defaultSaveTimeout = 10 * time.Second

// SnapshotFunc возвращает копию состояния pipeline для сохранения.
// Копия делается под мьютексом владельца, сохранение — вне его.
type SnapshotFunc func() (*domain.PipelineState, map[string]*domain.TaskState)

// Checkpointer периодически сохраняет снапшот состояния в фоне.
//
// Ошибки сохранения логируются и учитываются в метриках, но не
// останавливают pipeline: следующий тик попробует снова, а синхронные
// сохранения после каждой задачи ограничивают объём потерь.
type Checkpointer struct {
	store    statestore.Store
	snapshot SnapshotFunc
	interval time.Duration
	metrics  *telemetry.Metrics
	logger   *slog.Logger

	cancelFunc context.CancelFunc
	wg         sync.WaitGroup
}

// CheckpointerConfig — конфигурация Checkpointer.
type CheckpointerConfig struct {
	Store    statestore.Store
	Snapshot SnapshotFunc
	Interval time.Duration // default: 30s
	Metrics  *telemetry.Metrics
	Logger   *slog.Logger
}

// NewCheckpointer создаёт Checkpointer.
func NewCheckpointer(cfg CheckpointerConfig) *Checkpointer {
	interval := cfg.Interval
	if interval <= 0 {
		interval = defaultCheckpointInterval
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Checkpointer{
		store:    cfg.Store,
		snapshot: cfg.Snapshot,
		interval: interval,
		metrics:  cfg.Metrics,
		logger:   logger,
	}
}

// Start запускает фоновую горутину чекпоинтов.
func (c *Checkpointer) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	c.cancelFunc = cancel

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		c.loop(ctx)
	}()

	c.logger.Debug("checkpointer started", "interval", c.interval)
}

// Stop останавливает горутину и дожидается её завершения.
// Финальное сохранение — обязанность владельца, не Checkpointer'а.
func (c *Checkpointer) Stop() {
	if c.cancelFunc != nil {
		c.cancelFunc()
	}
	c.wg.Wait()
	c.logger.Debug("checkpointer stopped")
}

func (c *Checkpointer) loop(ctx context.Context) {
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.checkpoint(ctx)
		}
	}
}

// checkpoint сохраняет один снапшот.
func (c *Checkpointer) checkpoint(ctx context.Context) {
	pipeline, tasks := c.snapshot()
	if pipeline == nil {
		return
	}

	saveCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), defaultSaveTimeout)
	defer cancel()

	err := c.store.Save(saveCtx, pipeline, tasks)
	c.metrics.ObserveCheckpoint(err)
	if err != nil {
		c.logger.Error("checkpoint save failed", "run_id", pipeline.RunID, "error", err)
		return
	}

	c.logger.Debug("checkpoint saved", "run_id", pipeline.RunID)
}
