package schedule

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shaiso/Conveyor/internal/domain"
)

func TestSchedule_Validate(t *testing.T) {
	tests := []struct {
		name     string
		schedule Schedule
		wantErr  bool
	}{
		{"daily cron", Schedule{CronExpr: "0 2 * * *"}, false},
		{"interval", Schedule{IntervalSec: 3600}, false},
		{"bad cron", Schedule{CronExpr: "not a cron"}, true},
		{"empty", Schedule{}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.schedule.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestSchedule_NextCron(t *testing.T) {
	s := Schedule{CronExpr: "0 2 * * *"}

	from := time.Date(2026, 8, 24, 10, 0, 0, 0, time.UTC)
	next, err := s.Next(from)
	if err != nil {
		t.Fatal(err)
	}

	want := time.Date(2026, 8, 25, 2, 0, 0, 0, time.UTC)
	if !next.Equal(want) {
		t.Errorf("next = %v, want %v", next, want)
	}
}

func TestSchedule_NextCronTimezone(t *testing.T) {
	s := Schedule{CronExpr: "0 2 * * *", Timezone: "Europe/Moscow"}

	from := time.Date(2026, 8, 24, 10, 0, 0, 0, time.UTC)
	next, err := s.Next(from)
	if err != nil {
		t.Fatal(err)
	}

	// 02:00 MSK следующего дня = 23:00 UTC текущего дня.
	want := time.Date(2026, 8, 24, 23, 0, 0, 0, time.UTC)
	if !next.Equal(want) {
		t.Errorf("next = %v, want %v", next, want)
	}
}

func TestSchedule_NextInterval(t *testing.T) {
	s := Schedule{IntervalSec: 900}

	from := time.Date(2026, 8, 24, 10, 0, 0, 0, time.UTC)
	next, err := s.Next(from)
	if err != nil {
		t.Fatal(err)
	}

	if !next.Equal(from.Add(15 * time.Minute)) {
		t.Errorf("next = %v", next)
	}
}

func TestScheduler_TriggersTick(t *testing.T) {
	var calls atomic.Int32
	var gotRunID atomic.Value

	s, err := New(Config{
		Schedule: Schedule{IntervalSec: 1},
		Trigger: func(_ context.Context, runID string, window domain.Window) error {
			calls.Add(1)
			gotRunID.Store(runID)
			if window.IsZero() {
				t.Error("trigger should receive a concrete window")
			}
			return nil
		},
	})
	if err != nil {
		t.Fatal(err)
	}

	s.Start(context.Background())
	defer s.Stop()

	deadline := time.After(3 * time.Second)
	for calls.Load() == 0 {
		select {
		case <-deadline:
			t.Fatal("scheduler never ticked")
		case <-time.After(20 * time.Millisecond):
		}
	}

	runID := gotRunID.Load().(string)
	if _, err := time.Parse(domain.RunIDFormat, runID); err != nil {
		t.Errorf("run_id %q should follow the timestamp format: %v", runID, err)
	}
}

func TestScheduler_RejectsInvalidSchedule(t *testing.T) {
	_, err := New(Config{Schedule: Schedule{}})
	if err == nil {
		t.Fatal("New should reject an empty schedule")
	}
}
