package domain

import (
	"time"

	"github.com/google/uuid"
)

// Plan — одобренный план патчинга.
//
// Plan создаётся внешним Plan Source (генератор планов, оператор через API/CLI)
// и никогда не изменяется ядром. Run копирует из него политику выполнения
// при старте (см. RunPolicy).
type Plan struct {
	// ID — уникальный идентификатор плана.
	ID uuid.UUID `json:"id" yaml:"id,omitempty"`

	// ClientID — клиент, для которого составлен план.
	ClientID string `json:"client_id,omitempty" yaml:"client_id,omitempty"`

	// CanarySize — количество устройств в canary-стадии.
	CanarySize int `json:"canary_size" yaml:"canary_size"`

	// BatchSizes — размеры последующих batch-стадий, по порядку.
	BatchSizes []int `json:"batch_sizes" yaml:"batch_sizes"`

	// HealthThresholdPercent — минимальный процент здоровых устройств (0–100),
	// при котором стадия считается успешной. Сравнение включительное.
	// Точность — 0.01 (в БД порог хранится в базисных пунктах).
	HealthThresholdPercent float64 `json:"health_threshold_percent" yaml:"health_threshold_percent"`

	// HealthCheckIntervalSec — интервал между повторными проверками здоровья.
	HealthCheckIntervalSec int `json:"health_check_interval_sec" yaml:"health_check_interval_sec"`

	// PatchIDs — идентификаторы патч-операций, применяемых к устройствам.
	PatchIDs []string `json:"patch_ids,omitempty" yaml:"patch_ids,omitempty"`

	// MaintenanceWindow — окно обслуживания (nil — без ограничений).
	MaintenanceWindow *MaintenanceWindow `json:"maintenance_window,omitempty" yaml:"maintenance_window,omitempty"`

	// EstimatedDurationHours — оценка длительности (информационное поле).
	EstimatedDurationHours float64 `json:"estimated_duration_hours,omitempty" yaml:"estimated_duration_hours,omitempty"`

	// Notes — комментарии к плану.
	Notes string `json:"notes,omitempty" yaml:"notes,omitempty"`

	// CreatedAt — время создания плана.
	CreatedAt time.Time `json:"created_at" yaml:"-"`
}

// HealthCheckInterval возвращает интервал проверок здоровья как time.Duration.
func (p *Plan) HealthCheckInterval() time.Duration {
	if p.HealthCheckIntervalSec <= 0 {
		return 0
	}
	return time.Duration(p.HealthCheckIntervalSec) * time.Second
}

// MaintenanceWindow — повторяющееся окно, в котором разрешено запускать стадии.
//
// Cron задаёт момент открытия окна, DurationMin — сколько минут оно открыто.
type MaintenanceWindow struct {
	Cron        string `json:"cron" yaml:"cron"`
	DurationMin int    `json:"duration_min" yaml:"duration_min"`
	Timezone    string `json:"timezone,omitempty" yaml:"timezone,omitempty"`
}

// Duration возвращает длительность окна.
func (w *MaintenanceWindow) Duration() time.Duration {
	return time.Duration(w.DurationMin) * time.Minute
}
