package statestore

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/shaiso/Conveyor/internal/domain"
)

// Ошибки хранилища снапшотов.
var (
	// ErrSnapshotNotFound — снапшот pipeline не найден.
	ErrSnapshotNotFound = errors.New("snapshot not found")
)

// SchemaVersion — версия формата снапшота в envelope.
const SchemaVersion = "1.0"

// Snapshot — сериализуемый envelope снапшота: состояние pipeline,
// состояния tasks по ключу и метаданные сохранения.
type Snapshot struct {
	// Pipeline — состояние pipeline.
	Pipeline *domain.PipelineState `json:"pipeline"`

	// Tasks — состояния tasks (ключ task → состояние).
	Tasks map[string]*domain.TaskState `json:"tasks"`

	// Metadata — метаданные сохранения.
	Metadata SnapshotMetadata `json:"metadata"`
}

// SnapshotMetadata — метаданные envelope.
type SnapshotMetadata struct {
	// SavedAt — время сохранения снапшота.
	SavedAt time.Time `json:"saved_at"`

	// SchemaVersion — версия формата.
	SchemaVersion string `json:"schema_version"`
}

// SnapshotInfo — краткая информация о сохранённом снапшоте.
type SnapshotInfo struct {
	// PipelineID — идентификатор pipeline.
	PipelineID uuid.UUID

	// SavedAt — время последнего сохранения.
	SavedAt time.Time
}

// Store — durable-хранилище снапшотов pipeline.
//
// Контракт:
//   - Save атомарен: читатель никогда не видит частично записанный
//     снапшот; при ошибке записи предыдущий снапшот остаётся целым.
//   - Конкурентный доступ между процессами защищён advisory-блокировкой
//     (эксклюзивной на запись, разделяемой на чтение), областью действия —
//     один снапшот.
//   - Хранилище не владеет артефактами extraction: ArtifactPath в
//     TaskState — слабая ссылка.
type Store interface {
	// Save сохраняет целостный снапшот pipeline + tasks.
	Save(ctx context.Context, pipeline *domain.PipelineState, tasks map[string]*domain.TaskState) error

	// Load загружает снапшот по идентификатору pipeline.
	// Возвращает ErrSnapshotNotFound, если снапшота нет.
	Load(ctx context.Context, pipelineID uuid.UUID) (*domain.PipelineState, map[string]*domain.TaskState, error)

	// FindByRunID ищет снапшот по run_id (для resume).
	// Возвращает ErrSnapshotNotFound, если подходящего снапшота нет.
	FindByRunID(ctx context.Context, runID string) (*domain.PipelineState, map[string]*domain.TaskState, error)

	// ListSnapshots возвращает снапшоты, отсортированные по времени
	// сохранения (новые первыми).
	ListSnapshots(ctx context.Context) ([]SnapshotInfo, error)

	// Prune удаляет снапшоты старше cutoff. Возвращает количество
	// удалённых.
	Prune(ctx context.Context, cutoff time.Time) (int, error)
}
