// Package schedule запускает pipeline по расписанию.
//
// Расписание задаётся либо cron-выражением, либо интервалом в секундах.
// Каждый тик запускает pipeline за окно предыдущего дня с run_id,
// производным от времени тика: повторный тик на то же время даёт тот
// же run_id, и идемпотентность не позволяет переделать работу.
package schedule

import (
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
)

// cronParser — парсер cron-выражений (5 полей, без секунд).
var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// Schedule — описание расписания запуска pipeline.
type Schedule struct {
	// CronExpr — cron-выражение (например, "0 2 * * *").
	CronExpr string `json:"cron_expr,omitempty" yaml:"cron_expr"`

	// IntervalSec — интервал между запусками в секундах.
	// Используется, если CronExpr пуст.
	IntervalSec int `json:"interval_sec,omitempty" yaml:"interval_sec"`

	// Timezone — таймзона для cron-выражения (default: UTC).
	Timezone string `json:"timezone,omitempty" yaml:"timezone"`
}

// IsCron возвращает true, если расписание задано cron-выражением.
func (s Schedule) IsCron() bool {
	return s.CronExpr != ""
}

// IsInterval возвращает true, если расписание задано интервалом.
func (s Schedule) IsInterval() bool {
	return s.IntervalSec > 0
}

// Validate проверяет, что расписание задано и парсится.
func (s Schedule) Validate() error {
	if s.IsCron() {
		if _, err := cronParser.Parse(s.CronExpr); err != nil {
			return fmt.Errorf("invalid cron expression %q: %w", s.CronExpr, err)
		}
		return nil
	}
	if s.IsInterval() {
		return nil
	}
	return fmt.Errorf("schedule has neither cron_expr nor interval_sec")
}

// Next вычисляет следующее время запуска после from.
// Учитывает timezone расписания; результат — в UTC.
func (s Schedule) Next(from time.Time) (time.Time, error) {
	loc, err := time.LoadLocation(s.Timezone)
	if err != nil {
		// Fallback на UTC если timezone невалидный
		loc = time.UTC
	}

	fromInTz := from.In(loc)

	if s.IsCron() {
		parsed, err := cronParser.Parse(s.CronExpr)
		if err != nil {
			return time.Time{}, fmt.Errorf("parse cron expression %q: %w", s.CronExpr, err)
		}
		return parsed.Next(fromInTz).UTC(), nil
	}

	if s.IsInterval() {
		return fromInTz.Add(time.Duration(s.IntervalSec) * time.Second).UTC(), nil
	}

	return time.Time{}, fmt.Errorf("schedule has neither cron_expr nor interval_sec")
}
