package domain

import (
	"errors"
	"testing"
	"time"
)

// --- TaskSpec Tests ---

func TestTaskSpec_Key(t *testing.T) {
	tests := []struct {
		name string
		spec TaskSpec
		want string
	}{
		{
			name: "with schema",
			spec: TaskSpec{SourceName: "oracle", SchemaName: "hr", EntityName: "employees"},
			want: "oracle.hr.employees",
		},
		{
			name: "without schema",
			spec: TaskSpec{SourceName: "oracle", EntityName: "departments"},
			want: "oracle.departments",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.spec.Key(); got != tt.want {
				t.Errorf("Key() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestTaskSpec_Validate(t *testing.T) {
	valid := TaskSpec{SourceName: "pg", EntityName: "orders"}
	if err := valid.Validate(); err != nil {
		t.Errorf("unexpected error: %v", err)
	}

	invalid := TaskSpec{SourceName: "pg"}
	if err := invalid.Validate(); !errors.Is(err, ErrMissingTaskKey) {
		t.Errorf("expected ErrMissingTaskKey, got %v", err)
	}

	blank := TaskSpec{SourceName: "  ", EntityName: "orders"}
	if err := blank.Validate(); !errors.Is(err, ErrMissingTaskKey) {
		t.Errorf("expected ErrMissingTaskKey for blank source, got %v", err)
	}
}

// --- TaskStatus Tests ---

func TestTaskStatus_IsTerminal(t *testing.T) {
	terminal := []TaskStatus{TaskStatusCompleted, TaskStatusFailed, TaskStatusSkipped}
	for _, s := range terminal {
		if !s.IsTerminal() {
			t.Errorf("%s should be terminal", s)
		}
	}

	nonTerminal := []TaskStatus{TaskStatusPending, TaskStatusRunning, TaskStatusRetrying}
	for _, s := range nonTerminal {
		if s.IsTerminal() {
			t.Errorf("%s should not be terminal", s)
		}
	}
}

func TestTaskStatus_CanTransition(t *testing.T) {
	if !TaskStatusPending.CanTransition(TaskStatusRunning) {
		t.Error("PENDING → RUNNING should be allowed")
	}
	if TaskStatusPending.CanTransition(TaskStatusCompleted) {
		t.Error("PENDING → COMPLETED should not be allowed")
	}
	if !TaskStatusFailed.CanTransition(TaskStatusRetrying) {
		t.Error("FAILED → RETRYING should be allowed")
	}
	if !TaskStatusCompleted.CanTransition(TaskStatusPending) {
		t.Error("COMPLETED → PENDING (override) should be allowed")
	}
	if TaskStatusSkipped.CanTransition(TaskStatusRunning) {
		t.Error("SKIPPED → RUNNING should not be allowed")
	}
}

// --- TaskState Tests ---

func TestTaskState_Lifecycle(t *testing.T) {
	spec := TaskSpec{SourceName: "pg", SchemaName: "sales", EntityName: "orders", WatermarkColumn: "updated_at"}
	window := NewDayWindow(time.Date(2026, 8, 24, 10, 0, 0, 0, time.UTC))
	task := NewTaskState(spec, "20260825_000000", window)

	if task.Status != TaskStatusPending {
		t.Fatalf("new task should be PENDING, got %s", task.Status)
	}
	if !task.Window.Start.Equal(window.Start) {
		t.Errorf("window start = %v, want %v", task.Window.Start, window.Start)
	}

	if err := task.MarkRunning("worker-1"); err != nil {
		t.Fatalf("MarkRunning: %v", err)
	}
	if task.Status != TaskStatusRunning {
		t.Errorf("status = %s, want RUNNING", task.Status)
	}
	if task.Owner != "worker-1" {
		t.Errorf("owner = %q, want worker-1", task.Owner)
	}
	if task.StartedAt == nil {
		t.Error("StartedAt should be set")
	}

	if err := task.MarkCompleted(1500, "/data/pg/orders/202608/24/run.csv", 4096, "abc123"); err != nil {
		t.Fatalf("MarkCompleted: %v", err)
	}
	if task.Status != TaskStatusCompleted {
		t.Errorf("status = %s, want COMPLETED", task.Status)
	}
	if task.RecordCount != 1500 {
		t.Errorf("record count = %d, want 1500", task.RecordCount)
	}
	if task.Duration() < 0 {
		t.Error("duration should not be negative")
	}

	// Повторное завершение — недопустимый переход
	if err := task.MarkCompleted(1, "x", 1, "y"); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("expected ErrInvalidTransition, got %v", err)
	}
}

func TestTaskState_FailureAndRetry(t *testing.T) {
	task := NewTaskState(TaskSpec{SourceName: "pg", EntityName: "orders"}, "run1", NewDayWindow(time.Now()))

	if err := task.MarkRunning("w"); err != nil {
		t.Fatal(err)
	}
	if err := task.MarkFailed("connection refused"); err != nil {
		t.Fatal(err)
	}
	if task.RetryCount != 1 {
		t.Errorf("retry count = %d, want 1", task.RetryCount)
	}
	if task.ErrorMessage != "connection refused" {
		t.Errorf("error message = %q", task.ErrorMessage)
	}

	// Повторная попытка переводит FAILED → RETRYING
	if err := task.MarkRunning("w"); err != nil {
		t.Fatal(err)
	}
	if task.Status != TaskStatusRetrying {
		t.Errorf("status = %s, want RETRYING", task.Status)
	}
	if err := task.MarkFailed("timeout"); err != nil {
		t.Fatal(err)
	}
	if task.RetryCount != 2 {
		t.Errorf("retry count = %d, want 2", task.RetryCount)
	}

	if err := task.MarkSkipped(); err != nil {
		t.Fatal(err)
	}
	if task.Status != TaskStatusSkipped {
		t.Errorf("status = %s, want SKIPPED", task.Status)
	}
}

func TestTaskState_Reset(t *testing.T) {
	task := NewTaskState(TaskSpec{SourceName: "pg", EntityName: "orders"}, "run1", NewDayWindow(time.Now()))
	_ = task.MarkRunning("w")
	_ = task.MarkFailed("boom")

	task.Reset()

	if task.Status != TaskStatusPending {
		t.Errorf("status = %s, want PENDING", task.Status)
	}
	if task.RetryCount != 0 {
		t.Errorf("retry count = %d, want 0", task.RetryCount)
	}
	if task.ErrorMessage != "" {
		t.Errorf("error message should be cleared, got %q", task.ErrorMessage)
	}
}

// --- Window Tests ---

func TestWindow_Contains(t *testing.T) {
	w := NewDayWindow(time.Date(2026, 8, 24, 15, 30, 0, 0, time.UTC))

	if !w.Start.Equal(time.Date(2026, 8, 24, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("window start = %v, want midnight", w.Start)
	}
	if !w.End().Equal(time.Date(2026, 8, 25, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("window end = %v, want next midnight", w.End())
	}

	tests := []struct {
		name string
		ts   time.Time
		want bool
	}{
		{"start inclusive", w.Start, true},
		{"middle", w.Start.Add(12 * time.Hour), true},
		{"end exclusive", w.End(), false},
		{"before", w.Start.Add(-time.Second), false},
		{"after", w.End().Add(time.Second), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := w.Contains(tt.ts); got != tt.want {
				t.Errorf("Contains(%v) = %v, want %v", tt.ts, got, tt.want)
			}
		})
	}
}

func TestWindow_Normalized(t *testing.T) {
	start := time.Date(2026, 8, 24, 0, 0, 0, 0, time.UTC)

	w := Window{Start: start}.Normalized()
	if w.Hours != DefaultWindowHours {
		t.Errorf("hours = %d, want %d", w.Hours, DefaultWindowHours)
	}
	if !w.Contains(start) {
		t.Error("normalized window should contain its own start")
	}

	w = Window{Start: start, Hours: 6}.Normalized()
	if w.Hours != 6 {
		t.Errorf("explicit hours overwritten: %d", w.Hours)
	}
}

func TestPreviousDayWindow(t *testing.T) {
	now := time.Date(2026, 8, 25, 3, 0, 0, 0, time.UTC)
	w := PreviousDayWindow(now)

	if !w.Start.Equal(time.Date(2026, 8, 24, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("start = %v", w.Start)
	}
	if w.Hours != DefaultWindowHours {
		t.Errorf("hours = %d, want %d", w.Hours, DefaultWindowHours)
	}
}

// --- PipelineState Tests ---

func TestPipelineState_Lifecycle(t *testing.T) {
	p := NewPipelineState("20260825_000000", PreviousDayWindow(time.Now()))

	if p.Status != PipelineStatusIdle {
		t.Fatalf("new pipeline should be IDLE, got %s", p.Status)
	}
	if p.ID.String() == "" {
		t.Error("ID should be generated")
	}

	p.MarkRunning()
	if p.Status != PipelineStatusRunning {
		t.Errorf("status = %s, want RUNNING", p.Status)
	}
	started := p.StartedAt

	// Повторный MarkRunning (resume) не сбрасывает StartedAt
	p.MarkRunning()
	if p.StartedAt != started {
		t.Error("StartedAt should survive resume")
	}

	p.MarkCompleted()
	if !p.IsFinished() {
		t.Error("pipeline should be finished")
	}
	if p.Duration() < 0 {
		t.Error("duration should not be negative")
	}
}

func TestPipelineState_CompletionRate(t *testing.T) {
	p := NewPipelineState("r", NewDayWindow(time.Now()))
	if p.CompletionRate() != 0 {
		t.Error("empty pipeline should have 0 completion rate")
	}

	p.TotalTasks = 4
	p.CompletedTasks = 2
	p.SkippedTasks = 1
	if got := p.CompletionRate(); got != 75 {
		t.Errorf("completion rate = %v, want 75", got)
	}
}

func TestNewRunID(t *testing.T) {
	id := NewRunID(time.Date(2026, 8, 25, 13, 45, 9, 0, time.UTC))
	if id != "20260825_134509" {
		t.Errorf("run id = %q", id)
	}
}
