package statestore

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// Locker — advisory-блокировка, защищающая снапшот между процессами.
//
// Абстракция нужна, чтобы хранилища на разных backend'ах использовали
// родной для backend'а механизм: flock для файлов, advisory lock для
// Postgres. Release обязан вызываться на всех путях выхода.
type Locker interface {
	// Acquire берёт блокировку: эксклюзивную для записи, разделяемую
	// для чтения. Возвращает функцию освобождения.
	Acquire(exclusive bool) (release func() error, err error)
}

// FlockLocker — Locker на основе flock(2) поверх sidecar lock-файла.
type FlockLocker struct {
	path string
}

// NewFlockLocker создаёт Locker для указанного lock-файла.
func NewFlockLocker(path string) *FlockLocker {
	return &FlockLocker{path: path}
}

// Acquire берёт flock на lock-файл. Блокировка снимается закрытием
// дескриптора в release.
func (l *FlockLocker) Acquire(exclusive bool) (func() error, error) {
	f, err := os.OpenFile(l.path, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open lock file: %w", err)
	}

	how := unix.LOCK_SH
	if exclusive {
		how = unix.LOCK_EX
	}

	if err := unix.Flock(int(f.Fd()), how); err != nil {
		f.Close()
		return nil, fmt.Errorf("flock %s: %w", l.path, err)
	}

	return f.Close, nil
}
