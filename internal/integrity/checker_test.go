package integrity

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/shaiso/Conveyor/internal/domain"
)

func writeArtifact(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func completedTask(t *testing.T, artifactPath, content string) *domain.TaskState {
	t.Helper()
	window := domain.NewDayWindow(time.Now().UTC())
	task := domain.NewTaskState(domain.TaskSpec{
		SourceName: "pg",
		EntityName: "orders",
	}, "run-1", window)

	checksum, err := PathChecksum(artifactPath)
	if err != nil {
		t.Fatalf("PathChecksum: %v", err)
	}

	if err := task.MarkRunning("test"); err != nil {
		t.Fatal(err)
	}
	if err := task.MarkCompleted(10, artifactPath, int64(len(content)), checksum); err != nil {
		t.Fatal(err)
	}
	return task
}

func TestChecker_ValidFile(t *testing.T) {
	checker := NewChecker(nil)

	path := filepath.Join(t.TempDir(), "orders.csv")
	content := "id,amount\n1,100\n2,200\n"
	writeArtifact(t, path, content)

	task := completedTask(t, path, content)
	if !checker.IsArtifactValid(task) {
		t.Error("intact artifact should be valid")
	}
}

func TestChecker_NoPathRecorded(t *testing.T) {
	checker := NewChecker(nil)

	window := domain.NewDayWindow(time.Now().UTC())
	task := domain.NewTaskState(domain.TaskSpec{SourceName: "pg", EntityName: "orders"}, "run-1", window)

	if checker.IsArtifactValid(task) {
		t.Error("task without artifact path should be invalid")
	}
}

func TestChecker_MissingArtifact(t *testing.T) {
	checker := NewChecker(nil)

	path := filepath.Join(t.TempDir(), "orders.csv")
	writeArtifact(t, path, "id\n1\n")
	task := completedTask(t, path, "id\n1\n")

	if err := os.Remove(path); err != nil {
		t.Fatal(err)
	}

	if checker.IsArtifactValid(task) {
		t.Error("deleted artifact should be invalid")
	}
}

func TestChecker_SizeDrift(t *testing.T) {
	checker := NewChecker(nil)

	path := filepath.Join(t.TempDir(), "orders.csv")
	content := "id,amount\n1,100\n2,200\n3,300\n4,400\n"
	writeArtifact(t, path, content)
	task := completedTask(t, path, content)
	task.Checksum = "" // изолируем проверку размера

	// Усечение больше чем на 5% от записанного размера.
	writeArtifact(t, path, content[:len(content)/2])
	if checker.IsArtifactValid(task) {
		t.Error("truncated artifact should be invalid")
	}
}

func TestChecker_SizeWithinTolerance(t *testing.T) {
	checker := NewChecker(nil)

	path := filepath.Join(t.TempDir(), "orders.csv")
	content := make([]byte, 1000)
	writeArtifact(t, path, string(content))

	task := completedTask(t, path, string(content))
	task.Checksum = ""
	task.ArtifactSize = 1030 // 3% отклонение — в пределах допуска

	if !checker.IsArtifactValid(task) {
		t.Error("3% size drift should be tolerated")
	}

	task.ArtifactSize = 1200 // 17% — за пределами
	if checker.IsArtifactValid(task) {
		t.Error("17% size drift should not be tolerated")
	}
}

func TestChecker_ChecksumMismatch(t *testing.T) {
	checker := NewChecker(nil)

	path := filepath.Join(t.TempDir(), "orders.csv")
	content := "id,amount\n1,100\n"
	writeArtifact(t, path, content)
	task := completedTask(t, path, content)

	// Подмена содержимого при том же размере.
	writeArtifact(t, path, "id,amount\n9,999\n")
	if checker.IsArtifactValid(task) {
		t.Error("artifact with altered content should be invalid")
	}
}

func TestChecker_DirectoryArtifact(t *testing.T) {
	checker := NewChecker(nil)

	dir := filepath.Join(t.TempDir(), "orders")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	writeArtifact(t, filepath.Join(dir, "part-0.csv"), "id\n1\n")
	writeArtifact(t, filepath.Join(dir, "part-1.csv"), "id\n2\n")

	size, err := PathSize(dir)
	if err != nil {
		t.Fatal(err)
	}
	checksum, err := PathChecksum(dir)
	if err != nil {
		t.Fatal(err)
	}

	window := domain.NewDayWindow(time.Now().UTC())
	task := domain.NewTaskState(domain.TaskSpec{SourceName: "pg", EntityName: "orders"}, "run-1", window)
	if err := task.MarkRunning("test"); err != nil {
		t.Fatal(err)
	}
	if err := task.MarkCompleted(2, dir, size, checksum); err != nil {
		t.Fatal(err)
	}

	if !checker.IsArtifactValid(task) {
		t.Error("intact directory artifact should be valid")
	}

	// Каталог без payload-файлов невалиден, даже если существует.
	empty := filepath.Join(t.TempDir(), "empty")
	if err := os.MkdirAll(empty, 0o755); err != nil {
		t.Fatal(err)
	}
	task.ArtifactPath = empty
	task.ArtifactSize = 0
	task.Checksum = ""
	if checker.IsArtifactValid(task) {
		t.Error("directory without payload files should be invalid")
	}
}

func TestPathChecksum_StableForDirectory(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "orders")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	writeArtifact(t, filepath.Join(dir, "b.csv"), "2\n")
	writeArtifact(t, filepath.Join(dir, "a.csv"), "1\n")

	first, err := PathChecksum(dir)
	if err != nil {
		t.Fatal(err)
	}
	second, err := PathChecksum(dir)
	if err != nil {
		t.Fatal(err)
	}
	if first != second {
		t.Errorf("directory checksum should be deterministic: %s != %s", first, second)
	}
}
