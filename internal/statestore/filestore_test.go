package statestore

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/shaiso/Conveyor/internal/domain"
)

func newTestStore(t *testing.T) *FileStore {
	t.Helper()
	store, err := NewFileStore(t.TempDir(), nil)
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}
	return store
}

func testPipeline(runID string) (*domain.PipelineState, map[string]*domain.TaskState) {
	window := domain.NewDayWindow(time.Date(2026, 8, 24, 0, 0, 0, 0, time.UTC))
	pipeline := domain.NewPipelineState(runID, window)
	pipeline.MarkRunning()

	task := domain.NewTaskState(domain.TaskSpec{
		SourceName:      "pg",
		SchemaName:      "sales",
		EntityName:      "orders",
		WatermarkColumn: "updated_at",
	}, runID, window)

	tasks := map[string]*domain.TaskState{task.Key(): task}
	pipeline.TotalTasks = len(tasks)
	return pipeline, tasks
}

// --- Save/Load Tests ---

func TestFileStore_SaveLoadRoundTrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	pipeline, tasks := testPipeline("20260825_000000")
	task := tasks["pg.sales.orders"]
	_ = task.MarkRunning("worker-0")
	_ = task.MarkCompleted(42, "/data/pg/orders.csv", 2048, "deadbeef")

	if err := store.Save(ctx, pipeline, tasks); err != nil {
		t.Fatalf("Save: %v", err)
	}

	loaded, loadedTasks, err := store.Load(ctx, pipeline.ID)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if loaded.RunID != pipeline.RunID {
		t.Errorf("run_id = %q, want %q", loaded.RunID, pipeline.RunID)
	}
	if loaded.Status != domain.PipelineStatusRunning {
		t.Errorf("status = %s, want RUNNING", loaded.Status)
	}
	if !loaded.Window.Start.Equal(pipeline.Window.Start) {
		t.Errorf("window start = %v, want %v", loaded.Window.Start, pipeline.Window.Start)
	}

	got := loadedTasks["pg.sales.orders"]
	if got == nil {
		t.Fatal("task should survive round trip")
	}
	if got.Status != domain.TaskStatusCompleted {
		t.Errorf("task status = %s, want COMPLETED", got.Status)
	}
	if got.RecordCount != 42 {
		t.Errorf("record count = %d, want 42", got.RecordCount)
	}
	if got.Checksum != "deadbeef" {
		t.Errorf("checksum = %q", got.Checksum)
	}
	if got.StartedAt == nil || !got.StartedAt.Equal(*task.StartedAt) {
		t.Errorf("StartedAt should round-trip losslessly")
	}
}

func TestFileStore_SnapshotUsesStringTokens(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	pipeline, tasks := testPipeline("run-tokens")
	if err := store.Save(ctx, pipeline, tasks); err != nil {
		t.Fatalf("Save: %v", err)
	}

	raw, err := os.ReadFile(filepath.Join(store.dir, snapshotPrefix+pipeline.ID.String()+snapshotSuffix))
	if err != nil {
		t.Fatalf("read raw snapshot: %v", err)
	}

	// Статусы — канонические строковые токены, не ординалы.
	if !strings.Contains(string(raw), `"RUNNING"`) {
		t.Error("pipeline status should be serialized as string token")
	}
	if !strings.Contains(string(raw), `"PENDING"`) {
		t.Error("task status should be serialized as string token")
	}

	// Envelope содержит метаданные сохранения.
	var envelope map[string]json.RawMessage
	if err := json.Unmarshal(raw, &envelope); err != nil {
		t.Fatalf("unmarshal envelope: %v", err)
	}
	if _, ok := envelope["metadata"]; !ok {
		t.Error("envelope should contain metadata")
	}
}

func TestFileStore_LoadMissing(t *testing.T) {
	store := newTestStore(t)

	_, _, err := store.Load(context.Background(), uuid.New())
	if !errors.Is(err, ErrSnapshotNotFound) {
		t.Errorf("expected ErrSnapshotNotFound, got %v", err)
	}
}

func TestFileStore_SaveLeavesNoTempFiles(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	pipeline, tasks := testPipeline("run-tmp")
	if err := store.Save(ctx, pipeline, tasks); err != nil {
		t.Fatalf("Save: %v", err)
	}

	entries, err := os.ReadDir(store.dir)
	if err != nil {
		t.Fatal(err)
	}
	for _, e := range entries {
		if strings.HasSuffix(e.Name(), ".tmp") {
			t.Errorf("temp file left behind: %s", e.Name())
		}
	}
}

func TestFileStore_SaveOverwritesPrevious(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	pipeline, tasks := testPipeline("run-overwrite")
	if err := store.Save(ctx, pipeline, tasks); err != nil {
		t.Fatal(err)
	}

	pipeline.CompletedTasks = 1
	pipeline.MarkCompleted()
	if err := store.Save(ctx, pipeline, tasks); err != nil {
		t.Fatal(err)
	}

	loaded, _, err := store.Load(ctx, pipeline.ID)
	if err != nil {
		t.Fatal(err)
	}
	if loaded.Status != domain.PipelineStatusCompleted {
		t.Errorf("status = %s, want COMPLETED", loaded.Status)
	}
	if loaded.CompletedTasks != 1 {
		t.Errorf("completed = %d, want 1", loaded.CompletedTasks)
	}
}

// --- FindByRunID Tests ---

func TestFileStore_FindByRunID(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	first, firstTasks := testPipeline("run-a")
	second, secondTasks := testPipeline("run-b")

	if err := store.Save(ctx, first, firstTasks); err != nil {
		t.Fatal(err)
	}
	if err := store.Save(ctx, second, secondTasks); err != nil {
		t.Fatal(err)
	}

	found, _, err := store.FindByRunID(ctx, "run-a")
	if err != nil {
		t.Fatalf("FindByRunID: %v", err)
	}
	if found.ID != first.ID {
		t.Errorf("found pipeline %s, want %s", found.ID, first.ID)
	}

	_, _, err = store.FindByRunID(ctx, "run-missing")
	if !errors.Is(err, ErrSnapshotNotFound) {
		t.Errorf("expected ErrSnapshotNotFound, got %v", err)
	}
}

// --- ListSnapshots/Prune Tests ---

func TestFileStore_ListSnapshotsOrder(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	old, oldTasks := testPipeline("run-old")
	if err := store.Save(ctx, old, oldTasks); err != nil {
		t.Fatal(err)
	}
	// Состариваем первый снапшот
	oldPath := filepath.Join(store.dir, snapshotPrefix+old.ID.String()+snapshotSuffix)
	past := time.Now().Add(-time.Hour)
	if err := os.Chtimes(oldPath, past, past); err != nil {
		t.Fatal(err)
	}

	fresh, freshTasks := testPipeline("run-fresh")
	if err := store.Save(ctx, fresh, freshTasks); err != nil {
		t.Fatal(err)
	}

	infos, err := store.ListSnapshots(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(infos) != 2 {
		t.Fatalf("got %d snapshots, want 2", len(infos))
	}
	if infos[0].PipelineID != fresh.ID {
		t.Error("fresh snapshot should be listed first")
	}
}

func TestFileStore_Prune(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	old, oldTasks := testPipeline("run-old")
	fresh, freshTasks := testPipeline("run-fresh")
	if err := store.Save(ctx, old, oldTasks); err != nil {
		t.Fatal(err)
	}
	if err := store.Save(ctx, fresh, freshTasks); err != nil {
		t.Fatal(err)
	}

	oldPath := filepath.Join(store.dir, snapshotPrefix+old.ID.String()+snapshotSuffix)
	past := time.Now().Add(-10 * 24 * time.Hour)
	if err := os.Chtimes(oldPath, past, past); err != nil {
		t.Fatal(err)
	}

	pruned, err := store.Prune(ctx, time.Now().Add(-7*24*time.Hour))
	if err != nil {
		t.Fatalf("Prune: %v", err)
	}
	if pruned != 1 {
		t.Errorf("pruned = %d, want 1", pruned)
	}

	if _, _, err := store.Load(ctx, old.ID); !errors.Is(err, ErrSnapshotNotFound) {
		t.Error("old snapshot should be gone")
	}
	if _, _, err := store.Load(ctx, fresh.ID); err != nil {
		t.Errorf("fresh snapshot should survive: %v", err)
	}
}
