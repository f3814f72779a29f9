package extract

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/shaiso/Conveyor/internal/domain"
	"github.com/shaiso/Conveyor/internal/integrity"
)

func testTask(spec domain.TaskSpec) *domain.TaskState {
	window := domain.NewDayWindow(time.Date(2026, 8, 24, 0, 0, 0, 0, time.UTC))
	return domain.NewTaskState(spec, "20260825_000000", window)
}

// --- ArtifactWriter Tests ---

func TestArtifactWriter_WriteAndClose(t *testing.T) {
	path := filepath.Join(t.TempDir(), "run", "pg.sales.orders.csv")

	writer, err := NewArtifactWriter(path)
	if err != nil {
		t.Fatalf("NewArtifactWriter: %v", err)
	}
	if err := writer.WriteHeader([]string{"id", "amount"}); err != nil {
		t.Fatal(err)
	}
	if err := writer.WriteRow([]string{"1", "100"}); err != nil {
		t.Fatal(err)
	}
	if err := writer.WriteRow([]string{"2", "200"}); err != nil {
		t.Fatal(err)
	}

	size, checksum, err := writer.Close()
	if err != nil {
		t.Fatalf("Close: %v", err)
	}

	if writer.Rows() != 2 {
		t.Errorf("rows = %d, want 2", writer.Rows())
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("artifact should exist after Close: %v", err)
	}
	if int64(len(data)) != size {
		t.Errorf("reported size %d, actual %d", size, len(data))
	}
	if !strings.HasPrefix(string(data), "id,amount\n") {
		t.Errorf("artifact should start with header, got %q", data)
	}

	// Сумма, посчитанная на лету, совпадает с суммой готового файла.
	onDisk, err := integrity.PathChecksum(path)
	if err != nil {
		t.Fatal(err)
	}
	if checksum != onDisk {
		t.Errorf("streaming checksum %s != on-disk checksum %s", checksum, onDisk)
	}
}

func TestArtifactWriter_CloseLeavesNoTempFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "orders.csv")

	writer, err := NewArtifactWriter(path)
	if err != nil {
		t.Fatal(err)
	}
	if err := writer.WriteHeader([]string{"id"}); err != nil {
		t.Fatal(err)
	}
	if _, _, err := writer.Close(); err != nil {
		t.Fatal(err)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	for _, e := range entries {
		if strings.HasSuffix(e.Name(), ".tmp") {
			t.Errorf("temp file left behind: %s", e.Name())
		}
	}
}

func TestArtifactWriter_Abort(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "orders.csv")

	writer, err := NewArtifactWriter(path)
	if err != nil {
		t.Fatal(err)
	}
	if err := writer.WriteHeader([]string{"id"}); err != nil {
		t.Fatal(err)
	}
	writer.Abort()

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 0 {
		t.Errorf("aborted artifact should leave nothing, got %d entries", len(entries))
	}
}

func TestArtifactPath(t *testing.T) {
	task := testTask(domain.TaskSpec{SourceName: "pg", SchemaName: "sales", EntityName: "orders"})

	got := ArtifactPath("/data/out", task)
	want := filepath.Join("/data/out", "20260825_000000", "pg.sales.orders.csv")
	if got != want {
		t.Errorf("ArtifactPath = %q, want %q", got, want)
	}
}

// --- Registry Tests ---

type stubExecutor struct {
	result *Result
	err    error
	calls  int
}

func (s *stubExecutor) Execute(_ context.Context, _ *domain.TaskState) (*Result, error) {
	s.calls++
	return s.result, s.err
}

func TestRegistry_Dispatch(t *testing.T) {
	registry := NewRegistry()
	stub := &stubExecutor{result: &Result{Success: true, RecordCount: 5}}
	registry.Register("pg", stub)

	task := testTask(domain.TaskSpec{SourceName: "pg", EntityName: "orders"})
	result, err := registry.Execute(context.Background(), task)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !result.Success || result.RecordCount != 5 {
		t.Errorf("unexpected result: %+v", result)
	}
	if stub.calls != 1 {
		t.Errorf("executor called %d times, want 1", stub.calls)
	}
}

func TestRegistry_UnknownSource(t *testing.T) {
	registry := NewRegistry()

	task := testTask(domain.TaskSpec{SourceName: "kafka", EntityName: "orders"})
	_, err := registry.Execute(context.Background(), task)
	if !errors.Is(err, ErrUnknownSourceType) {
		t.Errorf("expected ErrUnknownSourceType, got %v", err)
	}
}

// --- Query Builder Tests ---

func TestBuildQuery_Incremental(t *testing.T) {
	task := testTask(domain.TaskSpec{
		SourceName:      "pg",
		SchemaName:      "sales",
		EntityName:      "orders",
		WatermarkColumn: "updated_at",
	})

	query, args := buildQuery(task)
	if !strings.Contains(query, `"sales"."orders"`) {
		t.Errorf("query should reference sanitized table: %s", query)
	}
	if !strings.Contains(query, `"updated_at" >= $1 AND "updated_at" < $2`) {
		t.Errorf("query should bound watermark to half-open window: %s", query)
	}
	if len(args) != 2 {
		t.Fatalf("args = %d, want 2", len(args))
	}
	start, end := args[0].(time.Time), args[1].(time.Time)
	if !end.Equal(start.Add(24 * time.Hour)) {
		t.Errorf("window bounds: start %v end %v", start, end)
	}
}

func TestBuildQuery_FullRefresh(t *testing.T) {
	task := testTask(domain.TaskSpec{
		SourceName:      "pg",
		EntityName:      "currencies",
		WatermarkColumn: "updated_at",
		FullRefresh:     true,
	})

	query, args := buildQuery(task)
	if strings.Contains(query, "WHERE") {
		t.Errorf("full refresh should not filter by window: %s", query)
	}
	if len(args) != 0 {
		t.Errorf("full refresh should have no args, got %d", len(args))
	}
}

func TestBuildQuery_Selector(t *testing.T) {
	task := testTask(domain.TaskSpec{
		SourceName:      "pg",
		EntityName:      "orders",
		WatermarkColumn: "updated_at",
		Selector:        "status <> 'draft'",
	})

	query, _ := buildQuery(task)
	if !strings.Contains(query, "AND (status <> 'draft')") {
		t.Errorf("selector should be appended to window filter: %s", query)
	}

	task.Spec.FullRefresh = true
	query, _ = buildQuery(task)
	if !strings.Contains(query, "WHERE status <> 'draft'") {
		t.Errorf("selector should start WHERE clause on full refresh: %s", query)
	}
}
