package domain

import "time"

// Window — временное окно, которое покрывает один запуск pipeline.
//
// Окно полуоткрытое: [Start, End). Попадание даты extraction проверяется
// строго по интервалу, а не по равенству календарного дня — день может
// совпасть, а окно уже сместиться.
type Window struct {
	// Start — начало окна (включительно).
	Start time.Time `json:"start"`

	// Hours — длина окна в часах.
	Hours int `json:"hours"`
}

// DefaultWindowHours — длина окна по умолчанию (сутки).
const DefaultWindowHours = 24

// NewDayWindow создаёт суточное окно, покрывающее календарный день
// якорной даты в UTC.
func NewDayWindow(anchor time.Time) Window {
	anchor = anchor.UTC()
	start := time.Date(anchor.Year(), anchor.Month(), anchor.Day(), 0, 0, 0, 0, time.UTC)
	return Window{Start: start, Hours: DefaultWindowHours}
}

// PreviousDayWindow возвращает окно за вчерашние сутки относительно now.
// Стандартное окно ежедневного batch-запуска.
func PreviousDayWindow(now time.Time) Window {
	return NewDayWindow(now.UTC().AddDate(0, 0, -1))
}

// End возвращает конец окна (исключительно).
func (w Window) End() time.Time {
	return w.Start.Add(time.Duration(w.Hours) * time.Hour)
}

// Contains проверяет попадание момента t в интервал [Start, End).
func (w Window) Contains(t time.Time) bool {
	return !t.Before(w.Start) && t.Before(w.End())
}

// IsZero возвращает true для незаполненного окна.
func (w Window) IsZero() bool {
	return w.Start.IsZero()
}

// Normalized возвращает окно с длиной по умолчанию вместо
// неположительной. Окно нулевой длины не содержит ни одного момента,
// и каждая завершённая задача в нём выглядела бы устаревшей.
func (w Window) Normalized() Window {
	if w.Hours <= 0 {
		w.Hours = DefaultWindowHours
	}
	return w
}
