// Package integrity проверяет сохранность ранее извлечённых артефактов.
//
// Проверка fail-safe: любая ошибка ввода-вывода трактуется как
// невалидный артефакт. Цена ложного "невалиден" — лишнее повторное
// извлечение; цена ложного "валиден" — потерянные данные.
package integrity

import (
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"sort"

	"github.com/shaiso/Conveyor/internal/domain"
)

// DefaultPayloadGlob — шаблон полезных файлов внутри артефакта-каталога.
const DefaultPayloadGlob = "*.csv"

// SizeTolerance — допустимое относительное отклонение размера артефакта.
const SizeTolerance = 0.05

// Checker верифицирует артефакты по записанным в TaskState метаданным.
type Checker struct {
	// PayloadGlob — шаблон, по которому в артефакте-каталоге ищутся
	// полезные файлы. По умолчанию DefaultPayloadGlob.
	PayloadGlob string

	logger *slog.Logger
}

// NewChecker создаёт Checker.
func NewChecker(logger *slog.Logger) *Checker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Checker{
		PayloadGlob: DefaultPayloadGlob,
		logger:      logger,
	}
}

// IsArtifactValid проверяет, что артефакт task существует и соответствует
// записанным размеру и контрольной сумме.
//
// Порядок проверок:
//  1. ArtifactPath записан
//  2. артефакт существует
//  3. артефакт-каталог содержит хотя бы один payload-файл
//  4. размер в пределах SizeTolerance от записанного (если записан)
//  5. контрольная сумма совпадает точно (если записана)
func (c *Checker) IsArtifactValid(task *domain.TaskState) bool {
	if task.ArtifactPath == "" {
		return false
	}

	info, err := os.Stat(task.ArtifactPath)
	if err != nil {
		if !os.IsNotExist(err) {
			c.logger.Warn("artifact stat failed", "path", task.ArtifactPath, "error", err)
		}
		return false
	}

	if info.IsDir() {
		ok, err := c.hasPayload(task.ArtifactPath)
		if err != nil {
			c.logger.Warn("artifact payload scan failed", "path", task.ArtifactPath, "error", err)
			return false
		}
		if !ok {
			c.logger.Warn("artifact directory has no payload files", "path", task.ArtifactPath)
			return false
		}
	}

	if task.ArtifactSize > 0 {
		actual, err := PathSize(task.ArtifactPath)
		if err != nil {
			c.logger.Warn("artifact size check failed", "path", task.ArtifactPath, "error", err)
			return false
		}
		drift := math.Abs(float64(actual-task.ArtifactSize)) / float64(task.ArtifactSize)
		if drift > SizeTolerance {
			c.logger.Warn("artifact size mismatch",
				"path", task.ArtifactPath,
				"expected", task.ArtifactSize,
				"actual", actual,
			)
			return false
		}
	}

	if task.Checksum != "" {
		actual, err := PathChecksum(task.ArtifactPath)
		if err != nil {
			c.logger.Warn("artifact checksum failed", "path", task.ArtifactPath, "error", err)
			return false
		}
		if actual != task.Checksum {
			c.logger.Warn("artifact checksum mismatch", "path", task.ArtifactPath)
			return false
		}
	}

	return true
}

// hasPayload проверяет наличие хотя бы одного payload-файла в каталоге.
func (c *Checker) hasPayload(dir string) (bool, error) {
	glob := c.PayloadGlob
	if glob == "" {
		glob = DefaultPayloadGlob
	}

	found := false
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		match, err := filepath.Match(glob, d.Name())
		if err != nil {
			return err
		}
		if match {
			found = true
			return fs.SkipAll
		}
		return nil
	})
	return found, err
}

// PathSize возвращает суммарный размер файла или каталога в байтах.
func PathSize(path string) (int64, error) {
	info, err := os.Stat(path)
	if err != nil {
		return 0, err
	}
	if !info.IsDir() {
		return info.Size(), nil
	}

	var total int64
	err = filepath.WalkDir(path, func(_ string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		fi, err := d.Info()
		if err != nil {
			return err
		}
		total += fi.Size()
		return nil
	})
	return total, err
}

// PathChecksum вычисляет контрольную сумму файла или каталога (hex).
//
// Для каталога сумма строится по отсортированным относительным путям
// и содержимому файлов, чтобы результат не зависел от порядка обхода.
// MD5 используется как fingerprint артефакта, не как криптографическая
// защита.
func PathChecksum(path string) (string, error) {
	info, err := os.Stat(path)
	if err != nil {
		return "", err
	}

	h := md5.New()

	if !info.IsDir() {
		if err := hashFile(h, path); err != nil {
			return "", err
		}
		return hex.EncodeToString(h.Sum(nil)), nil
	}

	var files []string
	err = filepath.WalkDir(path, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			files = append(files, p)
		}
		return nil
	})
	if err != nil {
		return "", err
	}
	sort.Strings(files)

	for _, f := range files {
		rel, err := filepath.Rel(path, f)
		if err != nil {
			return "", err
		}
		io.WriteString(h, rel)
		if err := hashFile(h, f); err != nil {
			return "", err
		}
	}

	return hex.EncodeToString(h.Sum(nil)), nil
}

func hashFile(h io.Writer, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	if _, err := io.Copy(h, f); err != nil {
		return fmt.Errorf("hash %s: %w", path, err)
	}
	return nil
}
