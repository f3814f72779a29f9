package extract

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/shaiso/Conveyor/internal/domain"
)

// PostgresExecutor извлекает данные из таблиц Postgres в CSV-артефакты.
//
// Инкрементальный режим выбирает строки, чьё значение watermark-колонки
// попадает в полуоткрытое окно [start, end). Full refresh выбирает
// таблицу целиком.
type PostgresExecutor struct {
	pool      *pgxpool.Pool
	outputDir string
	logger    *slog.Logger
}

// NewPostgresExecutor создаёт executor поверх готового пула соединений.
// Пулом владеет вызывающая сторона.
func NewPostgresExecutor(pool *pgxpool.Pool, outputDir string, logger *slog.Logger) *PostgresExecutor {
	if logger == nil {
		logger = slog.Default()
	}
	return &PostgresExecutor{
		pool:      pool,
		outputDir: outputDir,
		logger:    logger,
	}
}

// Execute извлекает данные задачи и пишет их в CSV-артефакт.
func (e *PostgresExecutor) Execute(ctx context.Context, task *domain.TaskState) (*Result, error) {
	started := time.Now()

	query, args := buildQuery(task)

	rows, err := e.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", task.Key(), err)
	}
	defer rows.Close()

	path := ArtifactPath(e.outputDir, task)
	writer, err := NewArtifactWriter(path)
	if err != nil {
		return nil, err
	}

	fields := rows.FieldDescriptions()
	columns := make([]string, len(fields))
	for i, fd := range fields {
		columns[i] = fd.Name
	}
	if err := writer.WriteHeader(columns); err != nil {
		writer.Abort()
		return nil, fmt.Errorf("write header: %w", err)
	}

	record := make([]string, len(fields))
	for rows.Next() {
		values, err := rows.Values()
		if err != nil {
			writer.Abort()
			return nil, fmt.Errorf("read row: %w", err)
		}
		for i, v := range values {
			record[i] = formatValue(v)
		}
		if err := writer.WriteRow(record); err != nil {
			writer.Abort()
			return nil, fmt.Errorf("write row: %w", err)
		}
	}
	if err := rows.Err(); err != nil {
		writer.Abort()
		return nil, fmt.Errorf("iterate rows: %w", err)
	}

	count := writer.Rows()
	size, checksum, err := writer.Close()
	if err != nil {
		return nil, err
	}

	e.logger.Info("extraction finished",
		"task", task.Key(),
		"records", count,
		"bytes", size,
		"duration", time.Since(started),
	)

	return &Result{
		Success:      true,
		RecordCount:  count,
		ArtifactPath: path,
		ArtifactSize: size,
		Checksum:     checksum,
	}, nil
}

// buildQuery строит SQL-запрос извлечения для задачи.
//
// Имена схемы и таблицы экранируются через pgx.Identifier; параметры
// окна передаются плейсхолдерами.
func buildQuery(task *domain.TaskState) (string, []any) {
	var table string
	if task.Spec.SchemaName != "" {
		table = pgx.Identifier{task.Spec.SchemaName, task.Spec.EntityName}.Sanitize()
	} else {
		table = pgx.Identifier{task.Spec.EntityName}.Sanitize()
	}

	query := "SELECT * FROM " + table
	var args []any

	if !task.Spec.FullRefresh && task.Spec.WatermarkColumn != "" {
		watermark := pgx.Identifier{task.Spec.WatermarkColumn}.Sanitize()
		query += fmt.Sprintf(" WHERE %s >= $1 AND %s < $2", watermark, watermark)
		args = append(args, task.Window.Start, task.Window.End())
	}

	if task.Spec.Selector != "" {
		if len(args) > 0 {
			query += " AND (" + task.Spec.Selector + ")"
		} else {
			query += " WHERE " + task.Spec.Selector
		}
	}

	return query, args
}

// formatValue приводит значение колонки к строке для CSV.
func formatValue(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case []byte:
		return string(val)
	case time.Time:
		return val.UTC().Format(time.RFC3339Nano)
	default:
		return fmt.Sprint(val)
	}
}
