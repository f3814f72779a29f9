package statestore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/shaiso/Conveyor/internal/domain"
)

// PostgresStore хранит снапшоты в таблице Postgres (payload — jsonb).
//
// Межпроцессная конкуренция защищена транзакционными advisory-блокировками
// Postgres: эксклюзивной на запись, разделяемой на чтение, по хэшу
// pipeline_id. Атомарность записи даёт сама транзакция.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore создаёт PostgresStore.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// NewPool создаёт pgx pool по DSN (env DB_URL, если dsn пустой).
func NewPool(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse dsn: %w", err)
	}
	cfg.MaxConns = 10
	cfg.HealthCheckPeriod = 30 * time.Second

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("new pool: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping db: %w", err)
	}
	return pool, nil
}

// EnsureSchema создаёт таблицу снапшотов, если её нет.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS pipeline_snapshots (
			pipeline_id UUID PRIMARY KEY,
			run_id      TEXT NOT NULL,
			status      TEXT NOT NULL,
			payload     JSONB NOT NULL,
			saved_at    TIMESTAMPTZ NOT NULL
		)
	`)
	if err != nil {
		return fmt.Errorf("ensure snapshots table: %w", err)
	}
	return nil
}

// Save сохраняет снапшот upsert'ом внутри транзакции под эксклюзивной
// advisory-блокировкой.
func (s *PostgresStore) Save(ctx context.Context, pipeline *domain.PipelineState, tasks map[string]*domain.TaskState) error {
	snap := Snapshot{
		Pipeline: pipeline,
		Tasks:    tasks,
		Metadata: SnapshotMetadata{
			SavedAt:       time.Now().UTC(),
			SchemaVersion: SchemaVersion,
		},
	}

	payload, err := json.Marshal(&snap)
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, pipeline.ID.String()); err != nil {
		return fmt.Errorf("acquire advisory lock: %w", err)
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO pipeline_snapshots (pipeline_id, run_id, status, payload, saved_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (pipeline_id) DO UPDATE
		SET run_id = EXCLUDED.run_id,
		    status = EXCLUDED.status,
		    payload = EXCLUDED.payload,
		    saved_at = EXCLUDED.saved_at
	`, pipeline.ID, pipeline.RunID, pipeline.Status, payload, snap.Metadata.SavedAt)
	if err != nil {
		return fmt.Errorf("upsert snapshot: %w", err)
	}

	return tx.Commit(ctx)
}

// Load читает снапшот под разделяемой advisory-блокировкой.
func (s *PostgresStore) Load(ctx context.Context, pipelineID uuid.UUID) (*domain.PipelineState, map[string]*domain.TaskState, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock_shared(hashtext($1))`, pipelineID.String()); err != nil {
		return nil, nil, fmt.Errorf("acquire shared advisory lock: %w", err)
	}

	var payload []byte
	err = tx.QueryRow(ctx, `
		SELECT payload FROM pipeline_snapshots WHERE pipeline_id = $1
	`, pipelineID).Scan(&payload)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil, ErrSnapshotNotFound
	}
	if err != nil {
		return nil, nil, fmt.Errorf("select snapshot: %w", err)
	}

	return decodeSnapshot(payload)
}

// FindByRunID возвращает последний снапшот с указанным run_id.
func (s *PostgresStore) FindByRunID(ctx context.Context, runID string) (*domain.PipelineState, map[string]*domain.TaskState, error) {
	var payload []byte
	err := s.pool.QueryRow(ctx, `
		SELECT payload FROM pipeline_snapshots
		WHERE run_id = $1
		ORDER BY saved_at DESC
		LIMIT 1
	`, runID).Scan(&payload)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil, ErrSnapshotNotFound
	}
	if err != nil {
		return nil, nil, fmt.Errorf("select snapshot by run_id: %w", err)
	}

	return decodeSnapshot(payload)
}

// ListSnapshots возвращает снапшоты, новые первыми.
func (s *PostgresStore) ListSnapshots(ctx context.Context) ([]SnapshotInfo, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT pipeline_id, saved_at FROM pipeline_snapshots
		ORDER BY saved_at DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("list snapshots: %w", err)
	}
	defer rows.Close()

	var infos []SnapshotInfo
	for rows.Next() {
		var info SnapshotInfo
		if err := rows.Scan(&info.PipelineID, &info.SavedAt); err != nil {
			return nil, fmt.Errorf("scan snapshot info: %w", err)
		}
		infos = append(infos, info)
	}
	return infos, rows.Err()
}

// Prune удаляет снапшоты старше cutoff.
func (s *PostgresStore) Prune(ctx context.Context, cutoff time.Time) (int, error) {
	result, err := s.pool.Exec(ctx, `
		DELETE FROM pipeline_snapshots WHERE saved_at < $1
	`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("prune snapshots: %w", err)
	}
	return int(result.RowsAffected()), nil
}

func decodeSnapshot(payload []byte) (*domain.PipelineState, map[string]*domain.TaskState, error) {
	var snap Snapshot
	if err := json.Unmarshal(payload, &snap); err != nil {
		return nil, nil, fmt.Errorf("unmarshal snapshot: %w", err)
	}
	if snap.Tasks == nil {
		snap.Tasks = make(map[string]*domain.TaskState)
	}
	return snap.Pipeline, snap.Tasks, nil
}
