package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.StateBackend != BackendFile {
		t.Errorf("backend = %q, want file", cfg.StateBackend)
	}
	if cfg.MaxWorkers != 4 || cfg.MaxRetryAttempts != 3 {
		t.Errorf("defaults: workers=%d retries=%d", cfg.MaxWorkers, cfg.MaxRetryAttempts)
	}
	if !cfg.AutoFullRefresh {
		t.Error("auto_full_refresh should default to true")
	}
}

func TestLoad_YAML(t *testing.T) {
	path := writeFile(t, "conveyor.yaml", `
state_backend: file
state_dir: /var/lib/conveyor
output_dir: /data/extracts
max_workers: 8
retention_days: 7
schedule:
  cron_expr: "0 2 * * *"
  timezone: Europe/Moscow
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.StateDir != "/var/lib/conveyor" {
		t.Errorf("state_dir = %q", cfg.StateDir)
	}
	if cfg.MaxWorkers != 8 {
		t.Errorf("max_workers = %d, want 8", cfg.MaxWorkers)
	}
	if cfg.Retention() != 7*24*time.Hour {
		t.Errorf("retention = %v", cfg.Retention())
	}
	if cfg.Schedule.CronExpr != "0 2 * * *" || cfg.Schedule.Timezone != "Europe/Moscow" {
		t.Errorf("schedule = %+v", cfg.Schedule)
	}
	// Незатронутые YAML'ом поля сохраняют значения по умолчанию.
	if cfg.MaxRetryAttempts != 3 {
		t.Errorf("max_retry_attempts = %d, want default 3", cfg.MaxRetryAttempts)
	}
}

func TestLoad_EnvOverridesYAML(t *testing.T) {
	path := writeFile(t, "conveyor.yaml", "max_workers: 8\n")

	t.Setenv("CONVEYOR_MAX_WORKERS", "16")
	t.Setenv("CONVEYOR_OUTPUT_DIR", "/env/output")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.MaxWorkers != 16 {
		t.Errorf("env should override yaml: max_workers = %d", cfg.MaxWorkers)
	}
	if cfg.OutputDir != "/env/output" {
		t.Errorf("output_dir = %q", cfg.OutputDir)
	}
}

func TestLoad_ValidatesBackend(t *testing.T) {
	path := writeFile(t, "conveyor.yaml", "state_backend: etcd\n")
	if _, err := Load(path); err == nil {
		t.Error("unknown backend should be rejected")
	}

	path = writeFile(t, "conveyor.yaml", "state_backend: postgres\n")
	if _, err := Load(path); err == nil {
		t.Error("postgres backend without DSN should be rejected")
	}
}

func TestLoadTasks(t *testing.T) {
	path := writeFile(t, "tasks.json", `{
  "tasks": [
    {"source_name": "pg", "schema_name": "sales", "entity_name": "orders", "watermark_column": "updated_at"},
    {"source_name": "pg", "entity_name": "currencies", "full_refresh": true}
  ]
}`)

	specs, err := LoadTasks(path)
	if err != nil {
		t.Fatalf("LoadTasks: %v", err)
	}
	if len(specs) != 2 {
		t.Fatalf("got %d specs, want 2", len(specs))
	}
	if specs[0].Key() != "pg.sales.orders" {
		t.Errorf("key = %q", specs[0].Key())
	}
	if !specs[1].FullRefresh {
		t.Error("full_refresh should parse")
	}
}

func TestLoadTasks_Empty(t *testing.T) {
	path := writeFile(t, "tasks.json", `{"tasks": []}`)
	if _, err := LoadTasks(path); err == nil {
		t.Error("empty task list should be an error")
	}
}
