package config

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/shaiso/Conveyor/internal/domain"
)

// tasksFile — формат JSON-файла со списком задач.
type tasksFile struct {
	Tasks []domain.TaskSpec `json:"tasks"`
}

// LoadTasks читает список задач из JSON-файла.
//
// Спецификации здесь не валидируются: отбрасывать невалидные с
// предупреждением — ответственность оркестратора, чтобы одна битая
// запись не блокировала остальные.
func LoadTasks(path string) ([]domain.TaskSpec, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read tasks file %s: %w", path, err)
	}

	var parsed tasksFile
	if err := json.Unmarshal(data, &parsed); err != nil {
		return nil, fmt.Errorf("parse tasks file %s: %w", path, err)
	}

	if len(parsed.Tasks) == 0 {
		return nil, fmt.Errorf("tasks file %s defines no tasks", path)
	}

	return parsed.Tasks, nil
}
