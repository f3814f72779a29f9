// Package config — конфигурация Conveyor.
//
// Источники в порядке возрастания приоритета: значения по умолчанию,
// YAML-файл, переменные окружения CONVEYOR_*.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/shaiso/Conveyor/internal/schedule"
)

// Backend'ы хранения состояния.
const (
	BackendFile     = "file"
	BackendPostgres = "postgres"
)

// Config — конфигурация pipeline'а и daemon'а.
type Config struct {
	// StateBackend — backend statestore: "file" или "postgres".
	StateBackend string `yaml:"state_backend"`

	// StateDir — каталог снапшотов для file-backend'а.
	StateDir string `yaml:"state_dir"`

	// StateDatabaseURL — DSN Postgres для postgres-backend'а.
	StateDatabaseURL string `yaml:"state_database_url"`

	// SourceDatabaseURL — DSN источника данных для извлечения.
	SourceDatabaseURL string `yaml:"source_database_url"`

	// OutputDir — каталог артефактов извлечения.
	OutputDir string `yaml:"output_dir"`

	// TasksFile — путь к JSON-файлу со списком задач.
	TasksFile string `yaml:"tasks_file"`

	// AMQPURL — адрес RabbitMQ. Пустая строка — события отключены.
	AMQPURL string `yaml:"amqp_url"`

	// MetricsAddr — адрес HTTP-сервера метрик (daemon).
	MetricsAddr string `yaml:"metrics_addr"`

	// MaxWorkers — размер пула воркеров.
	MaxWorkers int `yaml:"max_workers"`

	// MaxRetryAttempts — бюджет повторов на задачу.
	MaxRetryAttempts int `yaml:"max_retry_attempts"`

	// CheckpointIntervalSec — период фонового чекпоинта в секундах.
	CheckpointIntervalSec int `yaml:"checkpoint_interval_sec"`

	// RetentionDays — срок хранения снапшотов в днях.
	RetentionDays int `yaml:"retention_days"`

	// AutoFullRefresh — полное извлечение для таблиц без истории.
	AutoFullRefresh bool `yaml:"auto_full_refresh"`

	// Schedule — расписание daemon'а.
	Schedule schedule.Schedule `yaml:"schedule"`
}

// Default возвращает конфигурацию по умолчанию.
func Default() Config {
	return Config{
		StateBackend:          BackendFile,
		StateDir:              "./state",
		OutputDir:             "./output",
		TasksFile:             "./tasks.json",
		MetricsAddr:           ":9090",
		MaxWorkers:            4,
		MaxRetryAttempts:      3,
		CheckpointIntervalSec: 30,
		RetentionDays:         30,
		AutoFullRefresh:       true,
	}
}

// Load собирает конфигурацию: defaults → YAML (если path не пуст) →
// переменные окружения CONVEYOR_*.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	applyEnv(&cfg)

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate проверяет согласованность конфигурации.
func (c Config) Validate() error {
	switch c.StateBackend {
	case BackendFile:
		if c.StateDir == "" {
			return fmt.Errorf("state_dir is required for the file backend")
		}
	case BackendPostgres:
		if c.StateDatabaseURL == "" {
			return fmt.Errorf("state_database_url is required for the postgres backend")
		}
	default:
		return fmt.Errorf("unknown state_backend %q", c.StateBackend)
	}

	if c.MaxWorkers <= 0 {
		return fmt.Errorf("max_workers must be positive")
	}
	if c.MaxRetryAttempts <= 0 {
		return fmt.Errorf("max_retry_attempts must be positive")
	}
	return nil
}

// CheckpointInterval возвращает период чекпоинта как Duration.
func (c Config) CheckpointInterval() time.Duration {
	return time.Duration(c.CheckpointIntervalSec) * time.Second
}

// Retention возвращает срок хранения снапшотов как Duration.
func (c Config) Retention() time.Duration {
	return time.Duration(c.RetentionDays) * 24 * time.Hour
}

// applyEnv накладывает переменные окружения CONVEYOR_* поверх cfg.
func applyEnv(cfg *Config) {
	envString("CONVEYOR_STATE_BACKEND", &cfg.StateBackend)
	envString("CONVEYOR_STATE_DIR", &cfg.StateDir)
	envString("CONVEYOR_STATE_DATABASE_URL", &cfg.StateDatabaseURL)
	envString("CONVEYOR_SOURCE_DATABASE_URL", &cfg.SourceDatabaseURL)
	envString("CONVEYOR_OUTPUT_DIR", &cfg.OutputDir)
	envString("CONVEYOR_TASKS_FILE", &cfg.TasksFile)
	envString("CONVEYOR_AMQP_URL", &cfg.AMQPURL)
	envString("CONVEYOR_METRICS_ADDR", &cfg.MetricsAddr)
	envInt("CONVEYOR_MAX_WORKERS", &cfg.MaxWorkers)
	envInt("CONVEYOR_MAX_RETRY_ATTEMPTS", &cfg.MaxRetryAttempts)
	envInt("CONVEYOR_CHECKPOINT_INTERVAL_SEC", &cfg.CheckpointIntervalSec)
	envInt("CONVEYOR_RETENTION_DAYS", &cfg.RetentionDays)
	envBool("CONVEYOR_AUTO_FULL_REFRESH", &cfg.AutoFullRefresh)
	envString("CONVEYOR_SCHEDULE_CRON", &cfg.Schedule.CronExpr)
	envInt("CONVEYOR_SCHEDULE_INTERVAL_SEC", &cfg.Schedule.IntervalSec)
	envString("CONVEYOR_SCHEDULE_TIMEZONE", &cfg.Schedule.Timezone)
}

func envString(key string, target *string) {
	if v, ok := os.LookupEnv(key); ok {
		*target = v
	}
}

func envInt(key string, target *int) {
	if v, ok := os.LookupEnv(key); ok {
		if parsed, err := strconv.Atoi(v); err == nil {
			*target = parsed
		}
	}
}

func envBool(key string, target *bool) {
	if v, ok := os.LookupEnv(key); ok {
		if parsed, err := strconv.ParseBool(v); err == nil {
			*target = parsed
		}
	}
}
