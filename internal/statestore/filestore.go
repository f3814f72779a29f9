package statestore

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/shaiso/Conveyor/internal/domain"
)

// FileStore хранит снапшоты как JSON-файлы в каталоге состояния.
//
// Формат: один файл pipeline_<id>.json на pipeline. Запись атомарна —
// сначала во временный файл, затем единственный rename. Межпроцессная
// конкуренция защищена flock на sidecar-файле pipeline_<id>.lock.
type FileStore struct {
	dir    string
	logger *slog.Logger

	// newLocker подменяется в тестах.
	newLocker func(path string) Locker
}

// NewFileStore создаёт FileStore, при необходимости создавая каталог.
func NewFileStore(dir string, logger *slog.Logger) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create state dir: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &FileStore{
		dir:       dir,
		logger:    logger,
		newLocker: func(path string) Locker { return NewFlockLocker(path) },
	}, nil
}

const (
	snapshotPrefix = "pipeline_"
	snapshotSuffix = ".json"
)

func (s *FileStore) snapshotPath(pipelineID uuid.UUID) string {
	return filepath.Join(s.dir, snapshotPrefix+pipelineID.String()+snapshotSuffix)
}

func (s *FileStore) lockPath(pipelineID uuid.UUID) string {
	return filepath.Join(s.dir, snapshotPrefix+pipelineID.String()+".lock")
}

// Save атомарно записывает снапшот: temp-файл → rename.
// При ошибке temp-файл удаляется, предыдущий снапшот остаётся целым.
func (s *FileStore) Save(ctx context.Context, pipeline *domain.PipelineState, tasks map[string]*domain.TaskState) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	snap := Snapshot{
		Pipeline: pipeline,
		Tasks:    tasks,
		Metadata: SnapshotMetadata{
			SavedAt:       time.Now().UTC(),
			SchemaVersion: SchemaVersion,
		},
	}

	data, err := json.MarshalIndent(&snap, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}

	release, err := s.newLocker(s.lockPath(pipeline.ID)).Acquire(true)
	if err != nil {
		return fmt.Errorf("acquire write lock: %w", err)
	}
	defer release()

	target := s.snapshotPath(pipeline.ID)
	tmp := target + ".tmp"

	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("write temp snapshot: %w", err)
	}

	if err := os.Rename(tmp, target); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("replace snapshot: %w", err)
	}

	s.logger.Debug("snapshot saved", "pipeline_id", pipeline.ID, "path", target)
	return nil
}

// Load читает снапшот под разделяемой блокировкой.
func (s *FileStore) Load(ctx context.Context, pipelineID uuid.UUID) (*domain.PipelineState, map[string]*domain.TaskState, error) {
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}

	target := s.snapshotPath(pipelineID)
	if _, err := os.Stat(target); os.IsNotExist(err) {
		return nil, nil, ErrSnapshotNotFound
	}

	release, err := s.newLocker(s.lockPath(pipelineID)).Acquire(false)
	if err != nil {
		return nil, nil, fmt.Errorf("acquire read lock: %w", err)
	}
	defer release()

	data, err := os.ReadFile(target)
	if err != nil {
		return nil, nil, fmt.Errorf("read snapshot: %w", err)
	}

	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, nil, fmt.Errorf("unmarshal snapshot %s: %w", target, err)
	}

	if snap.Tasks == nil {
		snap.Tasks = make(map[string]*domain.TaskState)
	}

	return snap.Pipeline, snap.Tasks, nil
}

// FindByRunID перебирает снапшоты (новые первыми) в поисках pipeline
// с указанным run_id.
func (s *FileStore) FindByRunID(ctx context.Context, runID string) (*domain.PipelineState, map[string]*domain.TaskState, error) {
	infos, err := s.ListSnapshots(ctx)
	if err != nil {
		return nil, nil, err
	}

	for _, info := range infos {
		pipeline, tasks, err := s.Load(ctx, info.PipelineID)
		if err != nil {
			// Битый или конкурентно удалённый снапшот не мешает поиску.
			s.logger.Warn("skipping unreadable snapshot", "pipeline_id", info.PipelineID, "error", err)
			continue
		}
		if pipeline != nil && pipeline.RunID == runID {
			return pipeline, tasks, nil
		}
	}

	return nil, nil, ErrSnapshotNotFound
}

// ListSnapshots возвращает снапшоты, отсортированные по mtime (новые
// первыми).
func (s *FileStore) ListSnapshots(ctx context.Context) ([]SnapshotInfo, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("read state dir: %w", err)
	}

	var infos []SnapshotInfo
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasPrefix(name, snapshotPrefix) || !strings.HasSuffix(name, snapshotSuffix) {
			continue
		}

		idStr := strings.TrimSuffix(strings.TrimPrefix(name, snapshotPrefix), snapshotSuffix)
		id, err := uuid.Parse(idStr)
		if err != nil {
			continue
		}

		fi, err := entry.Info()
		if err != nil {
			continue
		}

		infos = append(infos, SnapshotInfo{PipelineID: id, SavedAt: fi.ModTime()})
	}

	sort.Slice(infos, func(i, j int) bool {
		return infos[i].SavedAt.After(infos[j].SavedAt)
	})

	return infos, nil
}

// Prune удаляет файлы снапшотов с mtime старше cutoff.
func (s *FileStore) Prune(ctx context.Context, cutoff time.Time) (int, error) {
	infos, err := s.ListSnapshots(ctx)
	if err != nil {
		return 0, err
	}

	pruned := 0
	for _, info := range infos {
		if !info.SavedAt.Before(cutoff) {
			continue
		}

		if err := os.Remove(s.snapshotPath(info.PipelineID)); err != nil {
			s.logger.Error("failed to prune snapshot", "pipeline_id", info.PipelineID, "error", err)
			continue
		}
		os.Remove(s.lockPath(info.PipelineID))
		pruned++
		s.logger.Debug("pruned snapshot", "pipeline_id", info.PipelineID)
	}

	return pruned, nil
}
