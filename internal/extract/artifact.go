package extract

import (
	"crypto/md5"
	"encoding/csv"
	"encoding/hex"
	"fmt"
	"hash"
	"io"
	"os"
	"path/filepath"

	"github.com/shaiso/Conveyor/internal/domain"
)

// ArtifactWriter пишет извлечённые строки в CSV-артефакт и попутно
// считает контрольную сумму.
//
// Запись атомарна: данные пишутся во временный файл, затем единственный
// rename. Контрольная сумма считается по тем же байтам, что уходят на
// диск, поэтому после Close она совпадает с суммой готового файла.
type ArtifactWriter struct {
	target string
	tmp    string

	file *os.File
	csv  *csv.Writer
	hash hash.Hash

	rows int64
}

// NewArtifactWriter создаёт writer для артефакта по указанному пути,
// создавая родительские каталоги.
func NewArtifactWriter(path string) (*ArtifactWriter, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create artifact dir: %w", err)
	}

	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return nil, fmt.Errorf("create temp artifact: %w", err)
	}

	h := md5.New()
	return &ArtifactWriter{
		target: path,
		tmp:    tmp,
		file:   f,
		csv:    csv.NewWriter(io.MultiWriter(f, h)),
		hash:   h,
	}, nil
}

// WriteHeader записывает строку заголовка.
func (w *ArtifactWriter) WriteHeader(columns []string) error {
	return w.csv.Write(columns)
}

// WriteRow записывает одну строку данных.
func (w *ArtifactWriter) WriteRow(record []string) error {
	if err := w.csv.Write(record); err != nil {
		return err
	}
	w.rows++
	return nil
}

// Rows возвращает количество записанных строк данных (без заголовка).
func (w *ArtifactWriter) Rows() int64 {
	return w.rows
}

// Close сбрасывает буферы, переименовывает temp-файл в целевой и
// возвращает размер и контрольную сумму готового артефакта.
func (w *ArtifactWriter) Close() (size int64, checksum string, err error) {
	w.csv.Flush()
	if err := w.csv.Error(); err != nil {
		w.abort()
		return 0, "", fmt.Errorf("flush artifact: %w", err)
	}

	info, err := w.file.Stat()
	if err != nil {
		w.abort()
		return 0, "", fmt.Errorf("stat artifact: %w", err)
	}
	size = info.Size()

	if err := w.file.Close(); err != nil {
		os.Remove(w.tmp)
		return 0, "", fmt.Errorf("close artifact: %w", err)
	}

	if err := os.Rename(w.tmp, w.target); err != nil {
		os.Remove(w.tmp)
		return 0, "", fmt.Errorf("finalize artifact: %w", err)
	}

	return size, hex.EncodeToString(w.hash.Sum(nil)), nil
}

// Abort удаляет незавершённый артефакт.
func (w *ArtifactWriter) Abort() {
	w.abort()
}

func (w *ArtifactWriter) abort() {
	w.file.Close()
	os.Remove(w.tmp)
}

// ArtifactPath строит путь артефакта задачи внутри каталога вывода:
// <outputDir>/<run_id>/<task_key>.csv.
func ArtifactPath(outputDir string, task *domain.TaskState) string {
	return filepath.Join(outputDir, task.RunID, task.Key()+".csv")
}
