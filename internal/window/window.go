// Package window реализует окна обслуживания: cron-выражение задаёт
// момент открытия окна, длительность — сколько оно остаётся открытым.
//
// Стадия rollout отправляется на устройства только при открытом окне.
package window

import (
	"errors"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/thechetan9/SO-PatchPilot/internal/domain"
)

// ErrUnknownTimezone — timezone окна не найден в базе часовых поясов.
var ErrUnknownTimezone = errors.New("unknown timezone")

// cronParser — парсер cron-выражений (5 полей, плюс дескрипторы вида @daily).
var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// Window — разобранное окно обслуживания.
type Window struct {
	schedule cron.Schedule
	duration time.Duration
	loc      *time.Location
}

// Parse разбирает окно обслуживания.
//
// Пустой timezone трактуется как UTC.
func Parse(w *domain.MaintenanceWindow) (*Window, error) {
	if w == nil {
		return nil, fmt.Errorf("maintenance window is nil")
	}
	if w.DurationMin <= 0 {
		return nil, fmt.Errorf("maintenance window duration must be positive, got %d", w.DurationMin)
	}

	schedule, err := cronParser.Parse(w.Cron)
	if err != nil {
		return nil, fmt.Errorf("parse cron expression %q: %w", w.Cron, err)
	}

	loc := time.UTC
	if w.Timezone != "" {
		l, err := time.LoadLocation(w.Timezone)
		if err != nil {
			return nil, fmt.Errorf("%w %q: %v", ErrUnknownTimezone, w.Timezone, err)
		}
		loc = l
	}

	return &Window{schedule: schedule, duration: w.Duration(), loc: loc}, nil
}

// Validate проверяет окно без построения Window.
func Validate(w *domain.MaintenanceWindow) error {
	_, err := Parse(w)
	return err
}

// IsOpen проверяет, открыто ли окно в момент now.
//
// Окно открыто, если последнее срабатывание cron было не раньше
// now-duration: [start, start+duration).
func (w *Window) IsOpen(now time.Time) bool {
	local := now.In(w.loc)
	start := w.schedule.Next(local.Add(-w.duration))
	return !start.After(local)
}

// NextOpen возвращает момент, когда окно откроется (now, если уже открыто).
func (w *Window) NextOpen(now time.Time) time.Time {
	if w.IsOpen(now) {
		return now
	}
	return w.schedule.Next(now.In(w.loc)).UTC()
}
