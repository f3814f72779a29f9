// Conveyor Pipeline — долгоживущий демон извлечения данных.
//
// Демон:
//   - Запускает pipeline'ы по расписанию (cron или интервал)
//   - Принимает триггеры запуска из RabbitMQ
//   - Публикует события завершения задач и pipeline'ов
//   - Периодически удаляет устаревшие снапшоты
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/shaiso/Conveyor/internal/config"
	"github.com/shaiso/Conveyor/internal/domain"
	"github.com/shaiso/Conveyor/internal/extract"
	"github.com/shaiso/Conveyor/internal/integrity"
	"github.com/shaiso/Conveyor/internal/mq"
	"github.com/shaiso/Conveyor/internal/orchestrator"
	"github.com/shaiso/Conveyor/internal/schedule"
	"github.com/shaiso/Conveyor/internal/statestore"
	"github.com/shaiso/Conveyor/internal/telemetry"
)

func main() {
	// Инициализируем structured logging
	logger := telemetry.SetupLogger()
	logger.Info("starting conveyor-pipeline")

	// graceful shutdown
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	cfg, err := config.Load(os.Getenv("CONVEYOR_CONFIG"))
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	specs, err := config.LoadTasks(cfg.TasksFile)
	if err != nil {
		logger.Error("failed to load task specs", "error", err)
		os.Exit(1)
	}

	// Statestore
	store, closeStore, err := openStore(ctx, cfg, logger)
	if err != nil {
		logger.Error("failed to open state store", "error", err)
		os.Exit(1)
	}
	defer closeStore()
	logger.Info("state store ready", "backend", cfg.StateBackend)

	// Источник данных
	if cfg.SourceDatabaseURL == "" {
		logger.Error("source_database_url is required")
		os.Exit(1)
	}
	sourcePool, err := statestore.NewPool(ctx, cfg.SourceDatabaseURL)
	if err != nil {
		logger.Error("failed to connect to source database", "error", err)
		os.Exit(1)
	}
	defer sourcePool.Close()
	logger.Info("source database connected")

	registry := extract.NewRegistry()
	pgExecutor := extract.NewPostgresExecutor(sourcePool, cfg.OutputDir, logger)
	for _, spec := range specs {
		registry.Register(spec.SourceName, pgExecutor)
	}

	// RabbitMQ: события и триггеры. Демон работает и без брокера —
	// тогда запуски только по расписанию.
	var publisher *mq.Publisher
	var mqConn *mq.Connection

	mqURL := cfg.AMQPURL
	if mqURL == "" {
		mqURL = mq.DefaultURL()
	}

	mqConn, err = mq.NewConnection(mqURL, logger)
	if err != nil {
		logger.Warn("RabbitMQ not available, running in schedule-only mode", "error", err)
		mqConn = nil
	} else {
		defer mqConn.Close()
		logger.Info("RabbitMQ connected")

		if err := mq.SetupTopology(ctx, mqConn); err != nil {
			logger.Warn("failed to setup topology", "error", err)
		}

		publisher = mq.NewPublisher(mqConn, logger)
	}

	// Метрики
	metrics := telemetry.NewMetrics(prometheus.DefaultRegisterer)

	orchCfg := orchestrator.Config{
		Store:              store,
		Checker:            integrity.NewChecker(logger),
		Executor:           registry,
		Metrics:            metrics,
		MaxWorkers:         cfg.MaxWorkers,
		MaxRetryAttempts:   cfg.MaxRetryAttempts,
		CheckpointInterval: cfg.CheckpointInterval(),
		AutoFullRefresh:    cfg.AutoFullRefresh,
		Logger:             logger,
	}
	if publisher != nil {
		orchCfg.Publisher = publisher
	}
	orch := orchestrator.New(orchCfg)

	// Запуски сериализуются: оркестратор ведёт один pipeline за раз.
	var runMu sync.Mutex
	runPipeline := func(ctx context.Context, runID string, window domain.Window) error {
		runMu.Lock()
		defer runMu.Unlock()

		pipeline, err := orch.StartPipeline(ctx, runID, window, specs)
		if err != nil {
			return err
		}
		logger.Info("pipeline started",
			"run_id", pipeline.RunID,
			"window_start", pipeline.Window.Start,
			"restart_count", pipeline.RestartCount,
		)
		return orch.Run(ctx)
	}

	// Триггеры из RabbitMQ
	var consumer *mq.Consumer
	if mqConn != nil {
		consumer = mq.NewConsumer(mqConn, logger, mq.ConsumerConfig{
			Queue: string(mq.QueuePipelinesTrigger),
			Types: []mq.MessageType{mq.MessageTypePipelineTrigger},
			Handler: func(ctx context.Context, msg *mq.Delivery) error {
				payload, err := mq.ParsePayload[mq.PipelineTriggerPayload](&msg.Message)
				if err != nil {
					return err
				}

				window := domain.Window{Start: payload.WindowStart, Hours: payload.WindowHours}
				if err := runPipeline(ctx, payload.RunID, window); err != nil {
					logger.Error("triggered pipeline failed", "run_id", payload.RunID, "error", err)
					return err
				}
				return nil
			},
		})
		if err := consumer.Start(ctx); err != nil {
			logger.Warn("failed to start trigger consumer", "error", err)
		} else {
			defer consumer.Stop()
			logger.Info("trigger consumer started", "queue", mq.QueuePipelinesTrigger)
		}
	}

	// Расписание
	var sched *schedule.Scheduler
	if cfg.Schedule.IsCron() || cfg.Schedule.IsInterval() {
		sched, err = schedule.New(schedule.Config{
			Schedule: cfg.Schedule,
			Trigger:  runPipeline,
			Logger:   logger,
		})
		if err != nil {
			logger.Error("invalid schedule", "error", err)
			os.Exit(1)
		}
		sched.Start(ctx)
		defer sched.Stop()
		logger.Info("scheduler started",
			"cron", cfg.Schedule.CronExpr,
			"interval_sec", cfg.Schedule.IntervalSec,
		)
	} else {
		logger.Info("no schedule configured, waiting for triggers")
	}

	// Периодическая чистка старых снапшотов
	go pruneLoop(ctx, orch, cfg.Retention(), logger)

	// HTTP mux: /healthz + /metrics
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	mux.Handle("/metrics", promhttp.Handler())

	go func() {
		logger.Info("listening", "addr", cfg.MetricsAddr)
		if err := http.ListenAndServe(cfg.MetricsAddr, mux); err != nil {
			logger.Error("http server error", "error", err)
			cancel()
		}
	}()

	// Ожидаем сигнал завершения
	<-ctx.Done()

	orch.Stop()
	logger.Info("conveyor-pipeline stopped")
}

// pruneLoop раз в сутки удаляет снапшоты старше retention.
func pruneLoop(ctx context.Context, orch *orchestrator.Orchestrator, retention time.Duration, logger *slog.Logger) {
	ticker := time.NewTicker(24 * time.Hour)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			pruned, err := orch.PruneOldSnapshots(ctx, retention)
			if err != nil {
				logger.Warn("snapshot prune failed", "error", err)
				continue
			}
			if pruned > 0 {
				logger.Info("old snapshots pruned", "count", pruned)
			}
		}
	}
}

// openStore открывает statestore по конфигурации.
func openStore(ctx context.Context, cfg config.Config, logger *slog.Logger) (statestore.Store, func(), error) {
	switch cfg.StateBackend {
	case config.BackendFile:
		store, err := statestore.NewFileStore(cfg.StateDir, logger)
		if err != nil {
			return nil, nil, err
		}
		return store, func() {}, nil

	case config.BackendPostgres:
		pool, err := statestore.NewPool(ctx, cfg.StateDatabaseURL)
		if err != nil {
			return nil, nil, err
		}
		store := statestore.NewPostgresStore(pool)
		if err := store.EnsureSchema(ctx); err != nil {
			pool.Close()
			return nil, nil, err
		}
		return store, pool.Close, nil

	default:
		return nil, nil, fmt.Errorf("unknown state_backend %q", cfg.StateBackend)
	}
}
