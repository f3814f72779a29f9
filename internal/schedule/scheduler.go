package schedule

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/shaiso/Conveyor/internal/domain"
)

// TriggerFunc запускает pipeline для тика расписания.
type TriggerFunc func(ctx context.Context, runID string, window domain.Window) error

// Scheduler ждёт тиков расписания и запускает pipeline.
//
// Run_id тика детерминирован (производный от времени тика), поэтому
// рестарт daemon'а между тиком и завершением pipeline'а приводит к
// возобновлению того же запуска, а не к дубликату.
type Scheduler struct {
	schedule Schedule
	trigger  TriggerFunc
	logger   *slog.Logger

	cancelFunc context.CancelFunc
	wg         sync.WaitGroup
}

// Config — конфигурация Scheduler.
type Config struct {
	Schedule Schedule
	Trigger  TriggerFunc
	Logger   *slog.Logger
}

// New создаёт новый Scheduler.
func New(cfg Config) (*Scheduler, error) {
	if err := cfg.Schedule.Validate(); err != nil {
		return nil, err
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Scheduler{
		schedule: cfg.Schedule,
		trigger:  cfg.Trigger,
		logger:   logger,
	}, nil
}

// Start запускает цикл расписания.
func (s *Scheduler) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	s.cancelFunc = cancel

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.loop(ctx)
	}()

	s.logger.Info("scheduler started",
		"cron", s.schedule.CronExpr,
		"interval_sec", s.schedule.IntervalSec,
	)
}

// Stop останавливает цикл и дожидается его завершения.
func (s *Scheduler) Stop() {
	if s.cancelFunc != nil {
		s.cancelFunc()
	}
	s.wg.Wait()
	s.logger.Info("scheduler stopped")
}

func (s *Scheduler) loop(ctx context.Context) {
	for {
		next, err := s.schedule.Next(time.Now())
		if err != nil {
			// Validate в New не пропускает такие расписания
			s.logger.Error("failed to compute next run", "error", err)
			return
		}

		s.logger.Info("next scheduled run", "at", next)

		timer := time.NewTimer(time.Until(next))
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}

		s.tick(ctx, next)
	}
}

// tick запускает pipeline для одного тика расписания.
func (s *Scheduler) tick(ctx context.Context, at time.Time) {
	runID := domain.NewRunID(at)
	window := domain.PreviousDayWindow(at)

	s.logger.Info("scheduled run triggered", "run_id", runID, "window_start", window.Start)

	if err := s.trigger(ctx, runID, window); err != nil {
		s.logger.Error("scheduled run failed", "run_id", runID, "error", err)
	}
}
